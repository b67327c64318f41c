package api

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/mqtt-sql-forwarder/internal/forwarder"
	"github.com/nerrad567/mqtt-sql-forwarder/internal/infrastructure/config"
	"github.com/nerrad567/mqtt-sql-forwarder/internal/infrastructure/database"
	"github.com/nerrad567/mqtt-sql-forwarder/internal/session"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Logger is the structured logger used by the server.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// SessionStatus reports the broker session's state.
type SessionStatus interface {
	State() session.State
	NoticeOutstanding() bool
}

// StatsProvider reports forwarding counters.
type StatsProvider interface {
	Stats() forwarder.Stats
}

// Database is the SQL sink as seen by the admin surface.
type Database interface {
	HealthCheck(ctx context.Context) error
	Stats() sql.DBStats
}

// HealthChecker is any optional dependency with a health check.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// DeadLetterReader lists stored dead letters.
type DeadLetterReader interface {
	Count(ctx context.Context) (int, error)
	Recent(ctx context.Context, limit int) ([]database.DeadLetter, error)
}

// Deps holds the dependencies required by the admin server.
type Deps struct {
	Config    config.AdminConfig
	Logger    Logger
	Session   SessionStatus
	Forwarder StatsProvider
	Database  Database

	// Optional.
	InfluxDB    HealthChecker
	DeadLetters DeadLetterReader
	Gatherer    prometheus.Gatherer

	// Endpoint and Subscriptions are echoed in /api/v1/status.
	Endpoint      string
	Subscriptions []string
	Version       string
}

// Server is the admin HTTP server.
type Server struct {
	cfg           config.AdminConfig
	logger        Logger
	session       SessionStatus
	forwarder     StatsProvider
	db            Database
	influx        HealthChecker
	deadLetters   DeadLetterReader
	gatherer      prometheus.Gatherer
	endpoint      string
	subscriptions []string
	version       string
	started       time.Time

	server   *http.Server
	listener net.Listener
}

// New creates a new admin server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if deps.Session == nil {
		return nil, errors.New("session is required")
	}
	if deps.Forwarder == nil {
		return nil, errors.New("forwarder is required")
	}
	if deps.Database == nil {
		return nil, errors.New("database is required")
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}

	return &Server{
		cfg:           deps.Config,
		logger:        deps.Logger,
		session:       deps.Session,
		forwarder:     deps.Forwarder,
		db:            deps.Database,
		influx:        deps.InfluxDB,
		deadLetters:   deps.DeadLetters,
		gatherer:      deps.Gatherer,
		endpoint:      deps.Endpoint,
		subscriptions: deps.Subscriptions,
		version:       deps.Version,
		started:       time.Now(),
	}, nil
}

// Start binds the listener and serves in a background goroutine. Binding
// errors (port in use, etc.) are returned immediately.
func (s *Server) Start(_ context.Context) error {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("admin server listen on %s: %w", addr, err)
	}
	s.listener = ln

	s.server = &http.Server{
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	s.logger.Info("admin server listening", "address", ln.Addr().String())
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("admin server error", "error", err)
		}
	}()
	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Close gracefully shuts down the server, waiting up to 10 seconds for
// in-flight requests.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("admin server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down admin server: %w", err)
	}
	return nil
}
