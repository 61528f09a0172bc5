package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/xrmonitor-core/internal/api"
	"github.com/nerrad567/xrmonitor-core/internal/audit"
	"github.com/nerrad567/xrmonitor-core/internal/auth"
	"github.com/nerrad567/xrmonitor-core/internal/infrastructure/config"
	"github.com/nerrad567/xrmonitor-core/internal/infrastructure/database"
	"github.com/nerrad567/xrmonitor-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/xrmonitor-core/internal/infrastructure/logging"
	"github.com/nerrad567/xrmonitor-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/xrmonitor-core/internal/mixer"
	"github.com/nerrad567/xrmonitor-core/internal/names"
	"github.com/nerrad567/xrmonitor-core/internal/relay"
)

// run is the serve command, separated from cobra for testability.
// Returning an error allows main to handle exit codes consistently.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//   - configPath: YAML configuration file
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context, configPath string) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting XR Monitor Core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Open database
	db, err := database.Open(ctx, database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
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

	// Accounts and names
	users := auth.NewUserRepository(db.DB)
	if _, seedErr := auth.SeedAdmin(ctx, users, cfg.Security.AdminPassword, log.Component("auth").Logger); seedErr != nil {
		return fmt.Errorf("seeding admin user: %w", seedErr)
	}

	nameRepo := names.NewRepository(db.DB)
	if cfg.NamesSeed != "" {
		n, syncErr := names.SyncFromFile(ctx, nameRepo, cfg.NamesSeed)
		if syncErr != nil {
			return fmt.Errorf("syncing names seed: %w", syncErr)
		}
		log.Info("names seed synced", "path", cfg.NamesSeed, "names", n)
	}

	// Mixer engine
	engine, err := mixer.NewEngine(mixerOptions(cfg.Mixer, nameRepo, log.Component("mixer")))
	if err != nil {
		return fmt.Errorf("creating mixer engine: %w", err)
	}
	if refreshErr := engine.RefreshNames(ctx); refreshErr != nil {
		log.Warn("loading custom names failed", "error", refreshErr)
	}

	// Connect to MQTT broker (optional)
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			log.Warn("MQTT unavailable, continuing without relay", "error", err)
			mqttClient = nil
		} else {
			defer func() {
				log.Info("disconnecting from MQTT")
				if closeErr := mqttClient.Close(); closeErr != nil {
					log.Error("error closing MQTT", "error", closeErr)
				}
			}()
			mqttClient.SetLogger(log.Component("mqtt"))
			mqttClient.SetOnConnect(func() {
				log.Info("MQTT reconnected")
			})
			mqttClient.SetOnDisconnect(func(err error) {
				log.Warn("MQTT disconnected", "error", err)
			})
			log.Info("MQTT connected",
				"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
				"client_id", cfg.MQTT.Broker.ClientID,
			)
		}
	} else {
		log.Info("MQTT disabled")
	}

	// Connect to InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(ctx, cfg.InfluxDB)
		if err != nil {
			log.Warn("InfluxDB unavailable, continuing without history", "error", err)
			influxClient = nil
		} else {
			defer func() {
				log.Info("closing InfluxDB connection")
				if closeErr := influxClient.Close(); closeErr != nil {
					log.Error("error closing InfluxDB", "error", closeErr)
				}
			}()
			influxClient.SetOnError(func(err error) {
				log.Error("InfluxDB write error", "error", err)
			})
			log.Info("InfluxDB connected",
				"url", cfg.InfluxDB.URL,
				"org", cfg.InfluxDB.Org,
				"bucket", cfg.InfluxDB.Bucket,
			)
		}
	} else {
		log.Info("InfluxDB disabled")
	}

	// API server
	deps := api.Deps{
		Config:         cfg.API,
		WS:             cfg.WebSocket,
		Security:       cfg.Security,
		Logger:         log.Component("api"),
		Mixer:          engine,
		Users:          users,
		Names:          nameRepo,
		Audit:          audit.NewSQLiteRepository(db.DB),
		AuditRetention: time.Duration(cfg.Database.AuditRetentionDays) * 24 * time.Hour,
		Database:       db,
		Version:        version,
	}
	if mqttClient != nil {
		deps.MQTT = mqttClient
	}
	server, err := api.New(deps)
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}

	// Relay: WebSocket, MQTT and InfluxDB sinks behind the engine's
	// single change listener.
	relayOpts := relay.Options{
		Engine:      engine,
		Broadcaster: relay.SinkFunc(server.BroadcastChange),
		Version:     version,
		Logger:      log.Component("relay"),
	}
	if mqttClient != nil {
		relayOpts.MQTT = mqttClient
		relayOpts.Topics = mqttClient.Topics()
		relayOpts.QoS = mqttClient.QoS()
	}
	if influxClient != nil {
		relayOpts.Influx = influxClient
	}
	rel, err := relay.New(relayOpts)
	if err != nil {
		return fmt.Errorf("creating relay: %w", err)
	}
	rel.Start(ctx)

	// Mixer session. Connect returns at once; the engine logs failures and
	// the API reports the mixer as unavailable until it is reachable.
	engine.Connect(ctx)
	defer func() {
		log.Info("disconnecting from mixer")
		if discErr := engine.Disconnect(); discErr != nil {
			log.Error("error disconnecting from mixer", "error", discErr)
		}
	}()
	defer rel.Stop()

	if startErr := server.Start(ctx); startErr != nil {
		return fmt.Errorf("starting API server: %w", startErr)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	if cfg.Mixer.ResetOnConnect {
		g.Go(func() error {
			return resetAfterDelay(gctx, engine, cfg.Mixer.ResetDelay, log)
		})
	}

	log.Info("initialisation complete, waiting for shutdown signal",
		"api", fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port),
		"mixer", fmt.Sprintf("%s:%d", cfg.Mixer.Host, cfg.Mixer.Port),
	)

	// Wait for shutdown signal
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	if waitErr := g.Wait(); waitErr != nil && !errors.Is(waitErr, context.Canceled) {
		log.Warn("background task ended with error", "error", waitErr)
	}

	// Deferred calls run in reverse order: API, relay, mixer, InfluxDB,
	// MQTT, database.
	log.Info("XR Monitor Core stopped")
	return nil
}

// resetter is the part of the engine used for the startup reset.
type resetter interface {
	IsConnected() bool
	ClearAllThrottling()
	ResetAllToMinimum(ctx context.Context) error
}

// resetAfterDelay pulls every send to zero once delay has passed and the
// mixer session is up.
func resetAfterDelay(ctx context.Context, m resetter, delay time.Duration, log *logging.Logger) error {
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return nil
	case <-timer.C:
	}

	if !m.IsConnected() {
		log.Warn("mixer not connected, skipping startup reset")
		return nil
	}

	m.ClearAllThrottling()
	if err := m.ResetAllToMinimum(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return fmt.Errorf("startup reset: %w", err)
	}
	log.Info("all sends reset to minimum")
	return nil
}

// mixerOptions maps configuration onto engine options.
func mixerOptions(cfg config.MixerConfig, store mixer.NameStore, log *logging.Logger) mixer.Options {
	return mixer.Options{
		Host:                cfg.Host,
		Port:                cfg.Port,
		LocalPort:           cfg.LocalPort,
		KeepAliveInterval:   cfg.KeepAliveInterval,
		GeneralPollInterval: cfg.GeneralPollInterval,
		ActivePollInterval:  cfg.ActivePollInterval,
		GraceWindow:         cfg.GraceWindow,
		SnapshotWait:        cfg.SnapshotWait,
		MinWriteInterval:    cfg.MinWriteInterval,
		RequestSpacing:      cfg.RequestSpacing,
		ResetStagger:        cfg.ResetStagger,
		NameStore:           store,
		Logger:              log,
	}
}
