package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/lucaslui/hems/sensor-node/internal/config"
	"github.com/lucaslui/hems/sensor-node/internal/model"
	"github.com/lucaslui/hems/sensor-node/internal/mqtt"
	"github.com/lucaslui/hems/sensor-node/internal/node"
	"github.com/lucaslui/hems/sensor-node/internal/outbox"
	"github.com/lucaslui/hems/sensor-node/internal/remoteconfig"
	"github.com/lucaslui/hems/sensor-node/internal/runtime"
	"github.com/lucaslui/hems/sensor-node/internal/sensor"
	"github.com/lucaslui/hems/sensor-node/internal/store"
)

func main() {
	logger := config.GetLogger()

	cfg, err := config.LoadNodeConfig()
	if err != nil {
		logger.Fatalf("config error: %v", err)
	}
	logger.Printf("[boot] configuration:%s", cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runtime.SetupGracefulShutdown(cancel, logger)

	force := cfg.ForceConnect
	for {
		err := runNode(ctx, cfg, logger, force)
		switch {
		case errors.Is(err, node.ErrRestart):
			logger.Printf("[boot] restarting")
			force = false
		case ctx.Err() != nil:
			logger.Println("sensor node stopped")
			return
		default:
			logger.Fatalf("[boot] %v", err)
		}
	}
}

// runNode builds every component from scratch and runs the state machine
// until it stops.
func runNode(ctx context.Context, cfg *config.NodeConfig, logger *log.Logger, force bool) error {
	medium, err := openMedium(cfg)
	if err != nil {
		return err
	}
	defer medium.Close()

	now := time.Now
	settings, err := model.NewSettings(medium, logger, now)
	if err != nil {
		return err
	}
	thresholds, err := model.NewThresholds(medium, logger, now)
	if err != nil {
		return err
	}
	readings, err := model.NewReadings(medium, logger, now)
	if err != nil {
		return err
	}
	firstBoot := settings.Load() == store.Initialized
	logger.Printf("[boot] records: settings first=%t thresholds=%s readings=%s",
		firstBoot, thresholds.Load(), readings.Load())
	defer func() {
		for _, f := range []func(bool) error{settings.Flush, thresholds.Flush, readings.Flush} {
			if err := f(true); err != nil {
				logger.Printf("[store] final flush: %v", err)
			}
		}
	}()

	if !cfg.SensorSimulated {
		return errors.New("no hardware sensor driver available, set SENSOR_SIMULATED=true")
	}
	sim := sensor.NewSimulated(cfg.SensorSeed, logger)
	poller := sensor.NewPoller(sim, readings, thresholds, logger)

	transport := mqtt.NewTransport(mqtt.TransportOpts{
		BrokerURL: cfg.MQTT.BrokerURL,
		ClientID:  cfg.MQTT.ClientID,
		Username:  cfg.MQTT.Username,
		Password:  cfg.MQTT.Password,
		QoS:       cfg.MQTT.QoS,
		Timeout:   cfg.MQTT.Timeout,
	}, logger)
	defer func() {
		dctx, dcancel := context.WithTimeout(context.Background(), cfg.MQTT.Timeout)
		defer dcancel()
		_ = transport.Disconnect(dctx)
	}()

	docs := remoteconfig.NewRedisStore(remoteconfig.RedisOpts{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		Timeout:  cfg.Redis.Timeout,
	}, logger)
	defer docs.Close()

	keys := remoteconfig.NewKeys(cfg.Redis.Namespace, cfg.ProductID, cfg.DeviceID)
	syncer := remoteconfig.NewSynchronizer(docs, transport, keys,
		remoteconfig.Target{Settings: settings, Thresholds: thresholds}, logger, now,
		remoteconfig.Options{Interval: cfg.ReconcileInterval, Retry: cfg.ReconcileRetry})

	queue, err := outbox.Open(filepath.Join(cfg.DataDir, "outbox.db"), cfg.OutboxLimit, logger)
	if err != nil {
		return err
	}
	defer queue.Close()

	sleeper := node.NewTimerSleeper()
	machine := node.New(node.Deps{
		DeviceID:   cfg.DeviceID,
		Settings:   settings,
		Thresholds: thresholds,
		Readings:   readings,
		Poller:     poller,
		Battery:    sim,
		Transport:  transport,
		Outbox:     queue,
		Sync:       syncer,
		Sleeper:    sleeper,
		Logger:     logger,
		Now:        now,
	}, node.Timing{
		LoopInterval:   cfg.LoopInterval,
		WakeBoundary:   cfg.WakeBoundary,
		StayAwake:      cfg.StayAwake,
		ResponseWait:   cfg.ResponseWait,
		ErrorDwell:     cfg.ErrorDwell,
		ConnectTimeout: cfg.ConnectTimeout,
	}, node.Boot{ForceConnect: force, FirstBoot: firstBoot})

	runCtx, stop := context.WithCancel(ctx)
	defer stop()

	go docs.Listen(runCtx, func(channel string) {
		logger.Printf("[config] update announced on %s", channel)
		machine.NotifyConfigUpdate()
	}, keys.FleetChannel, keys.DeviceChannel)
	go node.WatchMemory(runCtx, cfg.MemoryLimitBytes, time.Second, machine.RaiseFault, logger)
	runtime.OnSignal(runCtx, syscall.SIGUSR1, machine.PressButton)

	return machine.Run(runCtx)
}

func openMedium(cfg *config.NodeConfig) (store.Medium, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, err
	}
	switch cfg.StorageBackend {
	case "file":
		return store.OpenFiles(cfg.DataDir)
	case "bolt":
		return store.OpenBolt(filepath.Join(cfg.DataDir, "records.db"))
	}
	return nil, fmt.Errorf("unknown storage backend %q", cfg.StorageBackend)
}
