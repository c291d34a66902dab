// devicehub-core - driver registry and notification fan-out service
//
// This is the main entry point. It tracks the device drivers currently
// present, fans out their arrival and departure, per-domain configuration
// updates and metadata archive changes to subscribers, and exposes them over
// REST, WebSocket and (optionally) an MQTT bus.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	_ "github.com/nerrad567/devicehub-core/migrations"

	"github.com/nerrad567/devicehub-core/internal/api"
	"github.com/nerrad567/devicehub-core/internal/bridge"
	"github.com/nerrad567/devicehub-core/internal/driver"
	"github.com/nerrad567/devicehub-core/internal/infrastructure/config"
	"github.com/nerrad567/devicehub-core/internal/infrastructure/database"
	"github.com/nerrad567/devicehub-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/devicehub-core/internal/infrastructure/logging"
	"github.com/nerrad567/devicehub-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/devicehub-core/internal/metadata"
	"github.com/nerrad567/devicehub-core/internal/notify"
	"github.com/nerrad567/devicehub-core/internal/update"
)

// Stamped by the release build with -ldflags "-X main.version=...".
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// defaultConfigPath is used unless DEVICEHUB_CONFIG is set.
const defaultConfigPath = "configs/config.yaml"

// archiveDirPermissions is the mode used when creating the archive directory.
const archiveDirPermissions = 0o750

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run wires the hub together and blocks until ctx ends. It returns nil on a
// clean shutdown.
func run(ctx context.Context) error { //nolint:gocognit,gocyclo // linear startup sequence
	log := logging.Default()
	log.Info("starting devicehub-core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version).With("hub", cfg.Service.ID)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	db, err := database.Open(database.ConfigFrom(cfg.Database))
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	// Registry and update hubs
	ids := driver.NewSQLiteIDStore(db.DB)
	registry := driver.NewRegistry(
		driver.WithQueueSize(cfg.Notify.QueueSize),
		driver.WithLogger(log.Component("registry")),
	)
	defer registry.Close()

	hubs := update.NewHubs(
		notify.WithQueueSize(cfg.Notify.QueueSize),
		notify.WithLogger(log.Component("notify")),
	)
	defer hubs.Close()
	dispatcher := update.NewDispatcher(hubs, registry)

	// MQTT (optional)
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT, mqtt.Topics{Prefix: cfg.Discovery.TopicPrefix})
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("closing device bus", "error", closeErr)
			}
		}()
		mqttClient.SetLogger(log.Component("mqtt"))
		mqttClient.SetOnConnect(func() { log.Info("device bus connected") })
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("device bus lost; discovery paused until reconnect", "error", err)
		})
		log.Info("device bus ready",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)
	} else {
		log.Info("device bus disabled; drivers can only be added in-process")
	}

	// Metadata watch (optional)
	coord, err := newCoordinator(ctx, cfg, db, mqttClient, log)
	if err != nil {
		return err
	}
	if coord != nil {
		defer coord.Close()
	}

	// InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("closing telemetry sink", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("telemetry write failed", "error", err)
		})
		log.Info("telemetry sink ready",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("telemetry disabled")
	}

	// MQTT bridge
	var mqttBridge *bridge.Bridge
	if mqttClient != nil {
		mqttBridge, err = bridge.New(bridge.Options{
			MQTT:       mqttClient,
			Topics:     mqttClient.Topics(),
			QoS:        byte(cfg.MQTT.QoS), //nolint:gosec // validated to 0..2
			Registry:   registry,
			IDStore:    ids,
			Hubs:       hubs,
			Dispatcher: dispatcher,
			Metadata:   coord,
			Relay:      cfg.Discovery.Relay,
			Logger:     log.Component("bridge"),
		})
		if err != nil {
			return fmt.Errorf("creating MQTT bridge: %w", err)
		}
		if err := mqttBridge.Start(ctx); err != nil {
			return fmt.Errorf("starting MQTT bridge: %w", err)
		}
		defer mqttBridge.Stop()
		log.Info("MQTT bridge started", "relay", cfg.Discovery.Relay)
	}

	// HTTP API
	apiDeps := api.Deps{
		Config:   cfg.API,
		WS:       cfg.WebSocket,
		Security: cfg.Security,
		Logger:   log.Component("api"),
		Registry: registry,
		Hubs:     hubs,
		Metadata: coord,
		Version:  version,
	}
	if mqttBridge != nil {
		apiDeps.Bridge = mqttBridge
	}
	server, err := api.New(apiDeps)
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("dependencies healthy")

	g, gctx := errgroup.WithContext(ctx)
	if coord != nil {
		g.Go(func() error {
			return runMetadata(gctx, coord, cfg.Metadata.RestartBackoff(), log.Component("metadata"))
		})
	}
	if mqttBridge != nil {
		g.Go(func() error { return mqttBridge.Run(gctx) })
	}
	if influxClient != nil {
		tel := bridge.NewTelemetry(influxClient, registry, hubs, coord,
			bridge.WithTelemetryLogger(log.Component("telemetry")),
		)
		g.Go(func() error { return tel.Run(gctx) })
	}

	log.Info("hub running", "drivers", registry.Count())
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}

	log.Info("shutting down")
	return nil
}

// newCoordinator builds the metadata coordinator for the configured source
// and restores its archive set. It returns nil when the watch is disabled.
func newCoordinator(ctx context.Context, cfg *config.Config, db *database.DB, mqttClient *mqtt.Client, log *logging.Logger) (*metadata.Coordinator, error) {
	var src metadata.Source
	switch cfg.Metadata.Source {
	case "dir":
		if err := os.MkdirAll(cfg.Metadata.ArchiveDir, archiveDirPermissions); err != nil {
			return nil, fmt.Errorf("creating archive directory: %w", err)
		}
		src = metadata.NewDirSource(cfg.Metadata.ArchiveDir, log.Component("metadata"))
	case "mqtt":
		if mqttClient == nil {
			return nil, fmt.Errorf("metadata source mqtt needs an MQTT connection")
		}
		src = metadata.NewMQTTSource(mqttClient, cfg.Metadata.Topic, log.Component("metadata"))
	default:
		log.Info("metadata watch disabled")
		return nil, nil
	}

	coord := metadata.NewCoordinator(src,
		metadata.WithStore(metadata.NewSQLiteStore(db.DB)),
		metadata.WithQueueSize(cfg.Notify.QueueSize),
		metadata.WithLogger(log.Component("metadata")),
	)
	if err := coord.Restore(ctx); err != nil {
		coord.Close()
		return nil, fmt.Errorf("restoring metadata archives: %w", err)
	}
	log.Info("metadata archives restored",
		"source", cfg.Metadata.Source,
		"categories", coord.Snapshot().Categories().String(),
	)
	return coord, nil
}

// runMetadata keeps the metadata watch running, restarting it after delay
// whenever the source fails or ends, until ctx is cancelled.
func runMetadata(ctx context.Context, coord *metadata.Coordinator, delay time.Duration, log *logging.Logger) error {
	for {
		err := coord.Run(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if errors.Is(err, metadata.ErrAlreadyRunning) {
			return err
		}
		log.Warn("metadata watch ended, restarting", "error", err, "delay", delay)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
	}
}

// getConfigPath honours DEVICEHUB_CONFIG.
func getConfigPath() string {
	if path := os.Getenv("DEVICEHUB_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies the infrastructure connections that are enabled.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	return nil
}
