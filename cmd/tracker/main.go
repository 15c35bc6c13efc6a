// GPS tracker daemon.
//
// The tracker joins a Wi-Fi network through wpa_supplicant, opens an MQTT
// session and publishes a telemetry payload every few seconds to
// /egress/<device-id>. Delivery outcomes are journalled in SQLite and,
// optionally, written to InfluxDB. A local HTTP server reports status.
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

	"github.com/aungkhantmaw64/gps-tracker/internal/api"
	"github.com/aungkhantmaw64/gps-tracker/internal/delivery"
	"github.com/aungkhantmaw64/gps-tracker/internal/identity"
	"github.com/aungkhantmaw64/gps-tracker/internal/infrastructure/config"
	"github.com/aungkhantmaw64/gps-tracker/internal/infrastructure/database"
	"github.com/aungkhantmaw64/gps-tracker/internal/infrastructure/influxdb"
	"github.com/aungkhantmaw64/gps-tracker/internal/infrastructure/logging"
	"github.com/aungkhantmaw64/gps-tracker/internal/infrastructure/mqtt"
	"github.com/aungkhantmaw64/gps-tracker/internal/journal"
	"github.com/aungkhantmaw64/gps-tracker/internal/network"
	"github.com/aungkhantmaw64/gps-tracker/internal/network/wpa"
	"github.com/aungkhantmaw64/gps-tracker/internal/payload"
	"github.com/aungkhantmaw64/gps-tracker/internal/uplink"
	"github.com/aungkhantmaw64/gps-tracker/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

const (
	// retentionInterval is how often old journal entries are pruned.
	retentionInterval = time.Hour

	hoursPerDay = 24
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
//
// Startup order: configuration, identity, journal, telemetry, Wi-Fi
// association, broker session and delivery, then the producer, the
// association supervisor and the status API run until ctx is cancelled.
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting gps tracker",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, configPath, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded", "path", configPath)

	deviceID, err := identity.DeviceID(cfg.Device)
	if err != nil {
		return fmt.Errorf("resolving device identity: %w", err)
	}
	log = log.WithDevice(deviceID)
	log.Info("device identity resolved")

	location, err := time.LoadLocation(cfg.Device.Timezone)
	if err != nil {
		return fmt.Errorf("loading timezone: %w", err)
	}

	var recorders []delivery.Recorder

	// Delivery journal (optional)
	var db *database.DB
	var repo journal.Repository
	if cfg.Database.Enabled {
		db, err = openJournal(ctx, cfg.Database)
		if err != nil {
			return fmt.Errorf("opening delivery journal: %w", err)
		}
		defer func() {
			log.Info("closing database")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing database", "error", closeErr)
			}
		}()
		repo = journal.NewSQLiteRepository(db.DB)
		recorders = append(recorders, journal.NewRecorder(repo, log.With("component", "journal")))
		log.Info("delivery journal ready", "path", db.Path())
	} else {
		log.Info("delivery journal disabled")
	}

	// InfluxDB (optional). An unreachable server only costs telemetry.
	var influx *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influx, err = influxdb.Connect(ctx, cfg.InfluxDB, deviceID)
		if err != nil {
			log.Warn("InfluxDB unavailable, telemetry disabled", "error", err)
		} else {
			defer func() {
				log.Info("closing InfluxDB connection")
				if closeErr := influx.Close(); closeErr != nil {
					log.Error("error closing InfluxDB", "error", closeErr)
				}
			}()
			influx.SetOnError(func(err error) {
				log.Error("InfluxDB write error", "error", err)
			})
			recorders = append(recorders, influx)
			log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
		}
	} else {
		log.Info("InfluxDB disabled")
	}

	// Wi-Fi association
	netLog := log.With("component", "network")
	supplicant, err := startSupplicant(ctx, cfg.Network, netLog)
	if err != nil {
		return fmt.Errorf("starting wpa_supplicant: %w", err)
	}
	defer func() {
		if stopErr := supplicant.Stop(); stopErr != nil {
			log.Error("error stopping wpa_supplicant", "error", stopErr)
		}
	}()

	driver, machine, err := newAssociation(cfg, netLog)
	if err != nil {
		return err
	}
	machine.OnTransition(func(t network.Transition) {
		netLog.Info("association transition",
			"from", t.From.String(),
			"to", t.To.String(),
			"event", t.Event.String(),
			"retries", t.Retries,
		)
		if influx != nil {
			influx.WriteTransition(t)
		}
	})
	defer func() {
		if stopErr := driver.Stop(); stopErr != nil {
			log.Error("error stopping station", "error", stopErr)
		}
	}()

	if err := machine.Associate(ctx, cfg.GetAssociateTimeout()); err != nil {
		if !cfg.Network.Restart.Enabled || ctx.Err() != nil {
			return fmt.Errorf("associating with %q: %w", cfg.Network.SSID, err)
		}
		log.Warn("association failed, continuing under supervision", "error", err)
	} else {
		log.Info("associated", "ssid", cfg.Network.SSID, "address", machine.Address())
	}

	// Broker session and delivery
	session := newSession(cfg.MQTT, deviceID, log.With("component", "session"), influx)
	defer func() {
		log.Info("closing broker session")
		if closeErr := session.Close(); closeErr != nil {
			log.Error("error closing broker session", "error", closeErr)
		}
	}()

	up, err := uplink.New(uplink.Options{
		DeviceID: deviceID,
		Session:  session,
		Queue: delivery.QueueConfig{
			Capacity:       cfg.Delivery.QueueCapacity,
			MaxMessageSize: cfg.Delivery.MaxMessageSize,
			MemoryBudget:   int64(cfg.Delivery.MemoryBudget),
			EnqueueTimeout: cfg.GetEnqueueTimeout(),
		},
		Recorders: recorders,
		Logger:    log.With("component", "delivery"),
	})
	if err != nil {
		return fmt.Errorf("creating uplink: %w", err)
	}
	if err := up.Start(ctx); err != nil {
		return fmt.Errorf("starting uplink: %w", err)
	}
	defer up.Stop()
	log.Info("uplink started", "topic", up.Topic())

	// Long-running tasks
	g, gctx := errgroup.WithContext(ctx)

	var producer *payload.Producer
	if cfg.Payload.Enabled {
		producer, err = payload.NewProducer(payload.Options{
			DeviceID: deviceID,
			Interval: cfg.GetPayloadInterval(),
			Location: location,
			Sink:     up,
			Logger:   log.With("component", "payload"),
		})
		if err != nil {
			return fmt.Errorf("creating payload producer: %w", err)
		}
		g.Go(func() error { return producer.Run(gctx) })
	}

	if cfg.Network.Restart.Enabled {
		b := network.NewBackOff(
			time.Duration(cfg.Network.Restart.InitialDelay)*time.Second,
			time.Duration(cfg.Network.Restart.MaxDelay)*time.Second,
		)
		g.Go(func() error { return ignoreCanceled(machine.Supervise(gctx, b)) })
	}

	if repo != nil && cfg.Database.RetentionDays > 0 {
		keep := time.Duration(cfg.Database.RetentionDays) * hoursPerDay * time.Hour
		g.Go(func() error {
			return journal.Retain(gctx, repo, keep, retentionInterval, log.With("component", "journal"))
		})
	}

	if cfg.API.Enabled {
		deps := api.Deps{
			Config:      cfg.API,
			Logger:      log.With("component", "api"),
			DeviceID:    deviceID,
			Version:     version,
			Association: machine,
			Uplink:      up,
			Supplicant:  supplicant,
			DB:          db,
		}
		// Typed nils would defeat the server's nil checks.
		if producer != nil {
			deps.Producer = producer
		}
		if repo != nil {
			deps.Journal = repo
		}
		if influx != nil {
			deps.Telemetry = influx
		}
		server, err := api.New(deps)
		if err != nil {
			return fmt.Errorf("creating API server: %w", err)
		}
		g.Go(func() error { return server.Run(gctx) })
	}

	log.Info("initialisation complete, waiting for shutdown signal")

	err = g.Wait()
	log.Info("shutting down")
	if err != nil {
		return err
	}

	log.Info("gps tracker stopped")
	return nil
}

// loadConfig loads the configuration file. TRACKER_CONFIG names the file
// and must exist when set; without it a missing default file falls back
// to the factory configuration.
func loadConfig() (*config.Config, string, error) {
	if path := os.Getenv("TRACKER_CONFIG"); path != "" {
		cfg, err := config.Load(path)
		return cfg, path, err
	}

	if _, err := os.Stat(defaultConfigPath); errors.Is(err, os.ErrNotExist) {
		cfg, err := config.Default()
		return cfg, "(defaults)", err
	}
	cfg, err := config.Load(defaultConfigPath)
	return cfg, defaultConfigPath, err
}

// openJournal opens the SQLite file and applies the embedded migrations.
func openJournal(ctx context.Context, cfg config.DatabaseConfig) (*database.DB, error) {
	db, err := database.Open(database.ConfigFrom(cfg))
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(ctx, migrations.FS); err != nil {
		db.Close() //nolint:errcheck // Best effort cleanup on error path
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return db, nil
}

// startSupplicant runs or attaches to wpa_supplicant.
func startSupplicant(ctx context.Context, cfg config.NetworkConfig, log *logging.Logger) (*wpa.Supplicant, error) {
	supplicant, err := wpa.NewSupplicant(wpa.DaemonConfig{
		Managed:            cfg.Supplicant.Managed,
		Binary:             cfg.Supplicant.Binary,
		Interface:          cfg.Interface,
		ConfigPath:         cfg.Supplicant.ConfigPath,
		Driver:             cfg.Supplicant.Driver,
		RestartOnFailure:   cfg.Supplicant.RestartOnFailure,
		RestartDelay:       time.Duration(cfg.Supplicant.RestartDelaySeconds) * time.Second,
		MaxRestartAttempts: cfg.Supplicant.MaxRestartAttempts,
	}, wpa.CLI{Binary: cfg.Supplicant.CtlBinary, Interface: cfg.Interface})
	if err != nil {
		return nil, err
	}
	supplicant.SetLogger(log)

	if err := supplicant.Start(ctx); err != nil {
		return nil, err
	}
	return supplicant, nil
}

// newAssociation builds the station driver and the state machine that
// drives it. Station events are routed to the machine.
func newAssociation(cfg *config.Config, log *logging.Logger) (*wpa.Driver, *network.Machine, error) {
	driver, err := wpa.New(wpa.Config{
		Interface:      cfg.Network.Interface,
		SSID:           cfg.Network.SSID,
		Password:       cfg.Network.Password,
		PollInterval:   cfg.GetPollInterval(),
		AttemptTimeout: cfg.GetAttemptTimeout(),
	}, wpa.CLI{Binary: cfg.Network.Supplicant.CtlBinary, Interface: cfg.Network.Interface})
	if err != nil {
		return nil, nil, fmt.Errorf("creating station driver: %w", err)
	}
	driver.SetLogger(log)

	machine, err := network.NewMachine(driver, network.Options{
		MaxRetries: cfg.Network.MaxRetries,
		Logger:     log,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("creating association machine: %w", err)
	}
	driver.SetEventHandler(machine.HandleEvent)
	return driver, machine, nil
}

// newSession creates the broker session. Unacknowledged QoS 1 packets are
// kept in badger when a store path is configured.
func newSession(cfg config.MQTTConfig, deviceID string, log *logging.Logger, influx *influxdb.Client) *mqtt.Client {
	session := mqtt.New(cfg, deviceID)
	session.SetLogger(log)

	if cfg.Store.Path != "" {
		store := mqtt.NewBadgerStore(cfg.Store.Path)
		store.SetLogger(log)
		session.SetStore(store)
	}

	if influx != nil {
		session.SetOnConnect(func() { influx.WriteSession(true, nil) })
		session.SetOnDisconnect(func(err error) { influx.WriteSession(false, err) })
	}
	return session
}

// ignoreCanceled maps context cancellation to a clean exit.
func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
