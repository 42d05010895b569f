package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/lucaslui/hems/sensor-node/internal/config"
	"github.com/lucaslui/hems/sensor-node/internal/remoteconfig"
)

func main() {
	var (
		kind = flag.String("doc", "", "document to act on: fleet or device")
		id   = flag.String("id", "", "product id (fleet) or device id (device)")
		file = flag.String("file", "", "JSON document to validate and store")
		show = flag.Bool("show", false, "print the stored document")
	)
	flag.Parse()

	logger := config.GetLogger()
	if err := run(logger, *kind, *id, *file, *show); err != nil {
		logger.Fatalf("configctl: %v", err)
	}
}

func run(logger *log.Logger, kind, id, file string, show bool) error {
	if id == "" {
		return fmt.Errorf("-id is required")
	}
	if (file == "") == !show {
		return fmt.Errorf("exactly one of -file or -show is required")
	}

	cfg, err := config.LoadRedisConfig()
	if err != nil {
		return err
	}
	keys := remoteconfig.NewKeys(cfg.Namespace, id, id)
	var key, channel string
	switch kind {
	case "fleet":
		key, channel = keys.Fleet, keys.FleetChannel
	case "device":
		key, channel = keys.Device, keys.DeviceChannel
	default:
		return fmt.Errorf("-doc must be fleet or device, got %q", kind)
	}

	docs := remoteconfig.NewRedisStore(remoteconfig.RedisOpts{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		Timeout:  cfg.Timeout,
	}, logger)
	defer docs.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*cfg.Timeout)
	defer cancel()

	if show {
		doc, err := docs.Fetch(ctx, key)
		if err != nil {
			return err
		}
		out, err := json.MarshalIndent(doc, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	}

	raw, err := os.ReadFile(file)
	if err != nil {
		return err
	}
	doc, err := remoteconfig.ParseDocument(raw)
	if err != nil {
		return err
	}
	unknown, err := remoteconfig.CheckDocument(doc)
	for _, k := range unknown {
		logger.Printf("[config] ignoring unknown key %s", k)
	}
	if err != nil {
		return fmt.Errorf("document rejected:\n%w", err)
	}

	if err := docs.Write(ctx, key, doc); err != nil {
		return err
	}
	if err := docs.Notify(ctx, channel); err != nil {
		return fmt.Errorf("stored %s but notify failed: %w", key, err)
	}
	logger.Printf("[config] stored %s and notified %s", key, channel)
	return nil
}
