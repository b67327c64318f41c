// mqtt-sql-forwarder subscribes to an ordered set of MQTT topics and inserts
// every JSON object payload as one row into a SQL table.
//
// Configuration is read from configs/forwarder.yaml (or FORWARDER_CONFIG).
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	_ "github.com/nerrad567/mqtt-sql-forwarder/migrations"

	"github.com/nerrad567/mqtt-sql-forwarder/internal/api"
	"github.com/nerrad567/mqtt-sql-forwarder/internal/destination"
	"github.com/nerrad567/mqtt-sql-forwarder/internal/forwarder"
	"github.com/nerrad567/mqtt-sql-forwarder/internal/infrastructure/config"
	"github.com/nerrad567/mqtt-sql-forwarder/internal/infrastructure/database"
	"github.com/nerrad567/mqtt-sql-forwarder/internal/infrastructure/influxdb"
	"github.com/nerrad567/mqtt-sql-forwarder/internal/infrastructure/logging"
	"github.com/nerrad567/mqtt-sql-forwarder/internal/infrastructure/metrics"
	"github.com/nerrad567/mqtt-sql-forwarder/internal/infrastructure/mqtt"
	"github.com/nerrad567/mqtt-sql-forwarder/internal/infrastructure/mqttv5"
	"github.com/nerrad567/mqtt-sql-forwarder/internal/session"
	"github.com/nerrad567/mqtt-sql-forwarder/internal/translate"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run wires the forwarder together and blocks until ctx is cancelled or the
// forwarding loop fails.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting mqtt-sql-forwarder",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := config.Path()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded",
		"path", configPath,
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Database sink
	db, err := database.Open(ctx, database.Config{
		Driver:      cfg.Database.Driver,
		Path:        cfg.Database.Path,
		DSN:         cfg.Database.DSN,
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
	log.Info("database connected", "driver", db.Driver(), "path", db.Path())

	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	if healthErr := db.HealthCheck(ctx); healthErr != nil {
		return fmt.Errorf("database health check: %w", healthErr)
	}

	// Telemetry
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m, err := metrics.New(reg)
	if err != nil {
		return fmt.Errorf("registering metrics: %w", err)
	}
	recorders := []forwarder.Recorder{m}

	influxClient := connectInflux(ctx, cfg, log)
	if influxClient != nil {
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		recorders = append(recorders, influxClient)
	}

	// Broker session
	sessionCfg, err := sessionConfig(cfg)
	if err != nil {
		return err
	}
	manager, err := session.New(sessionCfg, newBroker(cfg, log), session.Options{
		RetryInterval:  cfg.Broker.Reconnect.RetryInterval,
		NoticeWindow:   cfg.Broker.Reconnect.NoticeWindow,
		ConnectTimeout: cfg.Broker.ConnectTimeout,
		Logger:         log.Component("session"),
		Observer:       m,
	})
	if err != nil {
		return fmt.Errorf("creating session: %w", err)
	}
	defer func() {
		log.Info("disconnecting from broker")
		if closeErr := manager.Close(); closeErr != nil {
			log.Error("error closing broker session", "error", closeErr)
		}
	}()

	// Forwarding loop
	var deadLetters *database.DeadLetters
	if cfg.DeadLetter.Enabled {
		deadLetters = database.NewDeadLetters(db, cfg.DeadLetter.MaxRows)
	}
	fwd, err := newForwarder(cfg, db, manager, recorders, deadLetters, log)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Admin.Enabled {
		srv, srvErr := newAdminServer(cfg, db, manager, fwd, influxClient, deadLetters, reg, sessionCfg, log)
		if srvErr != nil {
			return srvErr
		}
		if startErr := srv.Start(gctx); startErr != nil {
			return fmt.Errorf("starting admin server: %w", startErr)
		}
		g.Go(func() error {
			<-gctx.Done()
			return srv.Close()
		})
	} else {
		log.Info("admin server disabled")
	}

	g.Go(func() error {
		return fwd.Run(gctx)
	})

	log.Info("initialisation complete, forwarding",
		"endpoint", sessionCfg.Endpoint,
		"protocol_version", cfg.Broker.ProtocolVersion,
		"subscriptions", sessionCfg.Registry.Len(),
	)

	if err := g.Wait(); err != nil {
		return fmt.Errorf("forwarding: %w", err)
	}

	stats := fwd.Stats()
	log.Info("mqtt-sql-forwarder stopped",
		"received", stats.Received,
		"forwarded", stats.Forwarded,
		"rejected", stats.Rejected,
	)
	return nil
}

// sessionConfig converts the broker section into the session description.
func sessionConfig(cfg *config.Config) (session.Config, error) {
	reg, err := cfg.Registry()
	if err != nil {
		return session.Config{}, fmt.Errorf("building topic registry: %w", err)
	}

	sc := session.Config{
		Endpoint:      cfg.Broker.URI,
		ClientID:      cfg.Broker.ClientID,
		Username:      cfg.Broker.Auth.Username,
		Password:      cfg.Broker.Auth.Password,
		KeepAlive:     cfg.Broker.KeepAlive,
		CleanStart:    cfg.Broker.CleanStart,
		SessionExpiry: cfg.Broker.SessionExpiry,
		Registry:      reg,
	}
	if w := cfg.Broker.Will; w != nil {
		sc.Will = &session.Will{
			Topic:   w.Topic,
			Payload: []byte(w.Payload),
			QoS:     byte(w.QoS), // #nosec G115 -- validated 0..2
			Retain:  w.Retain,
		}
	}
	return sc, nil
}

// newBroker picks the MQTT client matching the configured protocol version.
func newBroker(cfg *config.Config, log *logging.Logger) session.Broker {
	if cfg.Broker.ProtocolVersion == config.ProtocolV311 {
		return mqtt.New(mqtt.Options{
			BufferSize: cfg.Broker.BufferSize,
			Logger:     log.Component("mqtt"),
		})
	}
	return mqttv5.New(mqttv5.Options{
		BufferSize: cfg.Broker.BufferSize,
		Logger:     log.Component("mqttv5"),
	})
}

// connectInflux returns nil when InfluxDB is disabled or unreachable.
// Telemetry is optional, so a failure is logged and forwarding continues.
func connectInflux(ctx context.Context, cfg *config.Config, log *logging.Logger) *influxdb.Client {
	if !cfg.InfluxDB.Enabled {
		log.Info("InfluxDB disabled")
		return nil
	}

	client, err := influxdb.Connect(ctx, cfg.InfluxDB, cfg.Broker.ClientID)
	if err != nil {
		log.Warn("InfluxDB unavailable, continuing without it", "error", err)
		return nil
	}
	client.SetOnError(func(err error) {
		log.Error("InfluxDB write error", "error", err)
	})
	log.Info("InfluxDB connected",
		"url", cfg.InfluxDB.URL,
		"org", cfg.InfluxDB.Org,
		"bucket", cfg.InfluxDB.Bucket,
	)
	return client
}

// newForwarder builds the translator, destination mapping and loop.
func newForwarder(
	cfg *config.Config,
	db *database.DB,
	manager *session.Manager,
	recorders []forwarder.Recorder,
	deadLetters *database.DeadLetters,
	log *logging.Logger,
) (*forwarder.Forwarder, error) {
	dialect, err := translate.ParseDialect(db.Driver())
	if err != nil {
		return nil, fmt.Errorf("selecting SQL dialect: %w", err)
	}
	numbers, err := translate.ParseNumberPolicy(cfg.Translator.Numbers)
	if err != nil {
		return nil, fmt.Errorf("translator: %w", err)
	}
	destinations, err := destination.New(cfg.Destinations)
	if err != nil {
		return nil, fmt.Errorf("destinations: %w", err)
	}

	opts := forwarder.Options{
		Source:       manager,
		Sink:         db,
		Translator:   translate.New(dialect, numbers),
		Destinations: destinations,
		Logger:       log.Component("forwarder"),
		Recorders:    recorders,
		ExecTimeout:  cfg.Database.ExecTimeout,
	}
	if deadLetters != nil {
		opts.DeadLetters = deadLetterAdapter{store: deadLetters}
	}
	if cfg.Echo.Enabled {
		opts.Publisher = manager
		opts.Echo = forwarder.EchoConfig{
			Enabled: true,
			Topic:   cfg.Echo.Topic,
			QoS:     byte(cfg.Echo.QoS), // #nosec G115 -- validated 0..2
		}
	}

	fwd, err := forwarder.New(opts)
	if err != nil {
		return nil, fmt.Errorf("creating forwarder: %w", err)
	}
	return fwd, nil
}

// newAdminServer assembles the admin HTTP server's dependencies.
func newAdminServer(
	cfg *config.Config,
	db *database.DB,
	manager *session.Manager,
	fwd *forwarder.Forwarder,
	influxClient *influxdb.Client,
	deadLetters *database.DeadLetters,
	gatherer prometheus.Gatherer,
	sessionCfg session.Config,
	log *logging.Logger,
) (*api.Server, error) {
	deps := api.Deps{
		Config:        cfg.Admin,
		Logger:        log.Component("api"),
		Session:       manager,
		Forwarder:     fwd,
		Database:      db,
		Gatherer:      gatherer,
		Endpoint:      sessionCfg.Endpoint,
		Subscriptions: sessionCfg.Registry.Topics(),
		Version:       version,
	}
	// A typed nil would defeat the server's nil checks.
	if influxClient != nil {
		deps.InfluxDB = influxClient
	}
	if deadLetters != nil {
		deps.DeadLetters = deadLetters
	}

	srv, err := api.New(deps)
	if err != nil {
		return nil, fmt.Errorf("creating admin server: %w", err)
	}
	return srv, nil
}

// deadLetterAdapter adapts database.DeadLetters to the forwarder's
// DeadLetterStore interface.
type deadLetterAdapter struct {
	store *database.DeadLetters
}

// Record implements forwarder.DeadLetterStore.
func (a deadLetterAdapter) Record(ctx context.Context, d forwarder.DeadLetter) error {
	return a.store.Record(ctx, database.DeadLetter{
		Topic:      d.Topic,
		Table:      d.Table,
		Reason:     d.Reason,
		Payload:    d.Payload,
		ReceivedAt: d.ReceivedAt,
	})
}
