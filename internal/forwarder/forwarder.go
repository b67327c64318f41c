package forwarder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/nerrad567/mqtt-sql-forwarder/internal/destination"
	"github.com/nerrad567/mqtt-sql-forwarder/internal/session"
	"github.com/nerrad567/mqtt-sql-forwarder/internal/translate"
)

// Forwarder defaults.
const (
	// DefaultExecTimeout bounds a single sink call.
	DefaultExecTimeout = 5 * time.Second

	// excerptLimit caps how much of a rejected payload is logged.
	excerptLimit = 128

	// deadLetterTimeout bounds a single dead-letter write.
	deadLetterTimeout = 2 * time.Second
)

// Source yields inbound messages. *session.Manager satisfies it.
type Source interface {
	Poll(ctx context.Context) (session.Message, error)
}

// Sink executes one parameterised statement. *database.DB satisfies it.
type Sink interface {
	Execute(ctx context.Context, query string, args ...any) error
}

// Publisher sends echo messages. *session.Manager satisfies it.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte, qos byte) error
}

// Recorder observes per-message outcomes.
type Recorder interface {
	MessageReceived(topic string)
	MessageForwarded(topic, table string, took time.Duration)
	MessageRejected(topic, table, reason string)
}

// DeadLetter is a rejected message handed to the DeadLetterStore.
type DeadLetter struct {
	Topic      string
	Table      string
	Reason     string
	Err        error
	Payload    []byte
	ReceivedAt time.Time
}

// DeadLetterStore keeps rejected messages.
type DeadLetterStore interface {
	Record(ctx context.Context, d DeadLetter) error
}

// Logger is the structured logger used by the loop.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// EchoConfig enables republishing forwarded rows.
type EchoConfig struct {
	Enabled bool
	Topic   string
	QoS     byte
}

// Options holds the collaborators for a Forwarder.
type Options struct {
	// Source, Sink, Translator and Destinations are required.
	Source       Source
	Sink         Sink
	Translator   *translate.Translator
	Destinations *destination.Mapping

	// Logger is optional; nil discards log output.
	Logger Logger

	// Recorders are notified of every outcome, in order.
	Recorders []Recorder

	// DeadLetters is optional.
	DeadLetters DeadLetterStore

	// Publisher and Echo enable the echo feature. Publisher is required
	// when Echo.Enabled is set.
	Publisher Publisher
	Echo      EchoConfig

	// ExecTimeout bounds each sink call. Default: 5 seconds.
	ExecTimeout time.Duration
}

// Stats is a snapshot of the loop's counters.
type Stats struct {
	Received  uint64 `json:"received"`
	Forwarded uint64 `json:"forwarded"`
	Rejected  uint64 `json:"rejected"`
	Echoed    uint64 `json:"echoed"`
}

// Forwarder moves messages from a Source into a Sink.
//
// Thread Safety: Run and Handle are for a single goroutine. Stats may be
// called from any goroutine.
type Forwarder struct {
	source       Source
	sink         Sink
	translator   *translate.Translator
	destinations *destination.Mapping
	logger       Logger
	recorders    []Recorder
	deadLetters  DeadLetterStore
	publisher    Publisher
	echo         EchoConfig
	execTimeout  time.Duration
	now          func() time.Time

	received  atomic.Uint64
	forwarded atomic.Uint64
	rejected  atomic.Uint64
	echoed    atomic.Uint64
}

// New creates a Forwarder.
//
// Parameters:
//   - opts: Collaborators and settings
//
// Returns:
//   - *Forwarder: Ready to Run
//   - error: ErrInvalidOptions if a required collaborator is missing
func New(opts Options) (*Forwarder, error) {
	switch {
	case opts.Source == nil:
		return nil, fmt.Errorf("%w: source is required", ErrInvalidOptions)
	case opts.Sink == nil:
		return nil, fmt.Errorf("%w: sink is required", ErrInvalidOptions)
	case opts.Translator == nil:
		return nil, fmt.Errorf("%w: translator is required", ErrInvalidOptions)
	case opts.Echo.Enabled && opts.Publisher == nil:
		return nil, fmt.Errorf("%w: echo requires a publisher", ErrInvalidOptions)
	case opts.Echo.Enabled && opts.Echo.Topic == "":
		return nil, fmt.Errorf("%w: echo requires a topic", ErrInvalidOptions)
	}

	destinations := opts.Destinations
	if destinations == nil {
		destinations = destination.Identity()
	}
	execTimeout := opts.ExecTimeout
	if execTimeout <= 0 {
		execTimeout = DefaultExecTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = nopLogger{}
	}

	return &Forwarder{
		source:       opts.Source,
		sink:         opts.Sink,
		translator:   opts.Translator,
		destinations: destinations,
		logger:       logger,
		recorders:    opts.Recorders,
		deadLetters:  opts.DeadLetters,
		publisher:    opts.Publisher,
		echo:         opts.Echo,
		execTimeout:  execTimeout,
		now:          time.Now,
	}, nil
}

// Run forwards messages until ctx is cancelled, then returns nil. Any other
// Source error is returned as is.
func (f *Forwarder) Run(ctx context.Context) error {
	f.logger.Info("forwarding loop started",
		"dialect", f.translator.Dialect().String(),
		"echo", f.echo.Enabled,
	)

	for {
		msg, err := f.source.Poll(ctx)
		if err != nil {
			if ctx.Err() != nil {
				f.logger.Info("forwarding loop stopped", "forwarded", f.forwarded.Load())
				return nil
			}
			return fmt.Errorf("polling source: %w", err)
		}

		// Per-message errors are already logged and counted.
		_ = f.Handle(ctx, msg) //nolint:errcheck // Loop continues on rejection
	}
}

// Handle forwards a single message. It returns the translation error or a
// wrapped ErrSinkRejected when the message was dropped.
func (f *Forwarder) Handle(ctx context.Context, msg session.Message) error {
	received := f.now()
	table := f.destinations.Resolve(msg.Topic)

	f.received.Add(1)
	for _, r := range f.recorders {
		r.MessageReceived(msg.Topic)
	}

	stmt, err := f.translator.Translate(table, msg.Payload)
	if err != nil {
		f.logger.Warn("dropping message: translation failed",
			"topic", msg.Topic,
			"table", table,
			"error", err,
			"payload", excerpt(msg.Payload),
		)
		f.reject(ctx, msg, table, received, err)
		return err
	}

	execCtx, cancel := context.WithTimeout(ctx, f.execTimeout)
	err = f.sink.Execute(execCtx, stmt.Query(), stmt.Args()...)
	cancel()
	if err != nil {
		err = sinkRejected(err)
		f.logger.Error("dropping message: insert failed",
			"topic", msg.Topic,
			"table", table,
			"error", err,
		)
		f.reject(ctx, msg, table, received, err)
		return err
	}

	took := f.now().Sub(received)
	f.forwarded.Add(1)
	for _, r := range f.recorders {
		r.MessageForwarded(msg.Topic, table, took)
	}
	f.logger.Debug("message forwarded",
		"topic", msg.Topic,
		"table", table,
		"columns", len(stmt.Columns),
		"retained", msg.Retained,
	)

	if f.echo.Enabled {
		f.publishEcho(ctx, msg.Topic, stmt, received)
	}
	return nil
}

// Stats returns a snapshot of the loop's counters.
func (f *Forwarder) Stats() Stats {
	return Stats{
		Received:  f.received.Load(),
		Forwarded: f.forwarded.Load(),
		Rejected:  f.rejected.Load(),
		Echoed:    f.echoed.Load(),
	}
}

func (f *Forwarder) reject(ctx context.Context, msg session.Message, table string, received time.Time, cause error) {
	reason := Reason(cause)

	f.rejected.Add(1)
	for _, r := range f.recorders {
		r.MessageRejected(msg.Topic, table, reason)
	}

	if f.deadLetters == nil {
		return
	}

	dlCtx, cancel := context.WithTimeout(ctx, deadLetterTimeout)
	defer cancel()

	if err := f.deadLetters.Record(dlCtx, DeadLetter{
		Topic:      msg.Topic,
		Table:      table,
		Reason:     reason,
		Err:        cause,
		Payload:    msg.Payload,
		ReceivedAt: received,
	}); err != nil {
		f.logger.Warn("failed to record dead letter",
			"topic", msg.Topic,
			"error", err,
		)
	}
}

// echoMessage is the JSON body republished after a successful insert.
type echoMessage struct {
	Topic     string    `json:"topic"`
	Table     string    `json:"table"`
	Keys      []string  `json:"keys"`
	Values    []any     `json:"values"`
	Timestamp time.Time `json:"timestamp"`
}

func (f *Forwarder) publishEcho(ctx context.Context, topic string, stmt translate.Statement, received time.Time) {
	payload, err := json.Marshal(echoMessage{
		Topic:     topic,
		Table:     stmt.Table,
		Keys:      stmt.Keys(),
		Values:    stmt.Args(),
		Timestamp: received.UTC(),
	})
	if err != nil {
		f.logger.Debug("echo skipped: encoding failed", "error", err)
		return
	}

	if err := f.publisher.Publish(ctx, f.echo.Topic, payload, f.echo.QoS); err != nil {
		reason := "publish failed"
		if errors.Is(err, session.ErrNotReady) {
			reason = "session not ready"
		}
		f.logger.Debug("echo skipped: "+reason, "topic", f.echo.Topic, "error", err)
		return
	}
	f.echoed.Add(1)
}

// excerpt returns a printable prefix of payload for logs.
func excerpt(payload []byte) string {
	if len(payload) <= excerptLimit {
		return string(payload)
	}
	n := excerptLimit
	for n > 0 && !utf8.RuneStart(payload[n]) {
		n--
	}
	return string(payload[:n]) + "..."
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
