package main

import (
	"context"
	"log"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/lucaslui/hems/sensor-node/internal/archive"
	"github.com/lucaslui/hems/sensor-node/internal/broker"
	"github.com/lucaslui/hems/sensor-node/internal/config"
	"github.com/lucaslui/hems/sensor-node/internal/database"
	"github.com/lucaslui/hems/sensor-node/internal/handler"
	"github.com/lucaslui/hems/sensor-node/internal/mqtt"
	"github.com/lucaslui/hems/sensor-node/internal/runtime"
)

func main() {
	logger := config.GetLogger()

	cfg, err := config.LoadCollectorConfig()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	logger.Printf("[boot] configuration:%s", cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runtime.SetupGracefulShutdown(cancel, logger)

	if err := broker.EnsureKafkaTopics(ctx, cfg, logger); err != nil {
		logger.Fatalf("kafka ensure topics error: %v", err)
	}

	kafkaClient := broker.NewKafkaClient(cfg)
	defer kafkaClient.Close()

	dispatcher := broker.NewKafkaDispatcher(kafkaClient.Readings, logger,
		cfg.DispatcherCapacity, cfg.DispatcherMaxBatch, time.Duration(cfg.DispatcherTickMs)*time.Millisecond)
	defer dispatcher.Stop()

	h := &handler.Handler{
		Readings: dispatcher,
		DLQ:      kafkaClient,
		Logger:   logger,
		Now:      time.Now,
	}
	if cfg.InfluxEnabled() {
		influx := database.NewInfluxDB(cfg)
		defer influx.Close()
		h.Points = influx
	}

	archiveDone := make(chan struct{})
	if cfg.ArchiveEnabled() {
		parts, err := archive.NewBucketStore(cfg)
		if err != nil {
			logger.Fatalf("archive store: %v", err)
		}
		if err := parts.Prepare(ctx); err != nil {
			logger.Fatalf("archive store: %v", err)
		}
		archiver := archive.NewArchiver(parts, archive.Options{
			MaxRecords:  cfg.ArchiveMaxRecords,
			MaxInterval: cfg.ArchiveMaxInterval,
			Compression: cfg.ParquetCompression,
		}, logger, time.Now)
		h.Archive = archiver
		go func() {
			archiver.Run(ctx, time.Second)
			close(archiveDone)
		}()
	} else {
		close(archiveDone)
	}

	client := mqtt.BuildCollectorClient(cfg, logger, func(_ paho.Client, msg paho.Message) {
		h.HandleMessage(ctx, msg)
	})
	h.Ack = func(topic string, payload []byte) error {
		token := client.Publish(topic, cfg.MQTTQoS, false, payload)
		if !token.WaitTimeout(5 * time.Second) {
			return context.DeadlineExceeded
		}
		return token.Error()
	}

	if err := mqtt.ConnectWithBackoff(ctx, client, logger, 2*time.Second, 30*time.Second); err != nil {
		logger.Printf("[mqtt] gave up connecting: %v", err)
		<-archiveDone
		return
	}
	defer client.Disconnect(250)

	<-ctx.Done()
	<-archiveDone
	logger.Println("collector stopped")
}
