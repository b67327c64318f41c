package session

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"
)

// Default timings, matching the reconnect behaviour operators expect.
const (
	DefaultRetryInterval  = 1 * time.Second
	DefaultNoticeWindow   = 2 * time.Second
	DefaultConnectTimeout = 10 * time.Second
)

// Options tunes the manager. Zero values select the defaults.
type Options struct {
	// RetryInterval is the fixed pause between failed connect or subscribe attempts.
	RetryInterval time.Duration

	// NoticeWindow is how long a lost-connection notice stays outstanding.
	NoticeWindow time.Duration

	// ConnectTimeout bounds a single connect or subscribe exchange.
	ConnectTimeout time.Duration

	Logger   Logger
	Observer Observer
}

// Manager keeps one broker session alive and hands out messages via Poll.
//
// Thread Safety: Poll, Publish and Close are for the forwarding goroutine.
// State and NoticeOutstanding are safe from any goroutine.
type Manager struct {
	cfg            Config
	broker         Broker
	retryInterval  time.Duration
	connectTimeout time.Duration
	logger         Logger
	observer       Observer
	notice         *notifier

	state     atomic.Int32
	everReady bool

	// sleep waits between attempts; replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// New validates cfg and builds a manager around broker. No network activity
// happens until the first Poll.
func New(cfg Config, broker Broker, opts Options) (*Manager, error) {
	if broker == nil {
		return nil, fmt.Errorf("%w: broker is required", ErrInvalidConfig)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if opts.RetryInterval <= 0 {
		opts.RetryInterval = DefaultRetryInterval
	}
	if opts.NoticeWindow <= 0 {
		opts.NoticeWindow = DefaultNoticeWindow
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = DefaultConnectTimeout
	}
	if opts.Logger == nil {
		opts.Logger = nopLogger{}
	}
	if opts.Observer == nil {
		opts.Observer = nopObserver{}
	}

	m := &Manager{
		cfg:            cfg,
		broker:         broker,
		retryInterval:  opts.RetryInterval,
		connectTimeout: opts.ConnectTimeout,
		logger:         opts.Logger,
		observer:       opts.Observer,
		sleep:          sleepContext,
	}
	m.notice = newNotifier(opts.NoticeWindow, func() {
		m.logger.Warn("lost connection to broker, reconnecting",
			"endpoint", cfg.Endpoint,
			"client_id", cfg.ClientID,
		)
	})
	return m, nil
}

// Poll returns the next inbound message. It transparently connects,
// subscribes and reconnects as needed, blocking for as long as that takes.
// The only error it returns is ctx's.
func (m *Manager) Poll(ctx context.Context) (Message, error) {
	for {
		if err := ctx.Err(); err != nil {
			return Message{}, err
		}

		if m.State() != Ready || !m.broker.IsConnected() {
			if err := m.establish(ctx); err != nil {
				return Message{}, err
			}
		}

		msg, ok := m.broker.Receive(ctx)
		if ok {
			return msg, nil
		}
		if err := ctx.Err(); err != nil {
			return Message{}, err
		}

		m.logger.Debug("message stream ended", "endpoint", m.cfg.Endpoint)
		m.setState(Reconnecting)
	}
}

// establish loops until the broker is connected and the whole registry is
// subscribed, or ctx ends.
func (m *Manager) establish(ctx context.Context) error {
	reconnecting := m.everReady
	if reconnecting {
		m.setState(Reconnecting)
		m.notice.Raise()
	}

	for attempt := 1; ; attempt++ {
		err := m.attempt(ctx)
		if err == nil {
			break
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		if reconnecting {
			m.setState(Reconnecting)
			m.notice.Raise()
			m.logger.Debug("reconnect attempt failed",
				"attempt", attempt,
				"error", err,
			)
		} else {
			m.setState(Disconnected)
			m.logger.Warn("failed to connect to broker, retrying",
				"endpoint", m.cfg.Endpoint,
				"attempt", attempt,
				"retry_in", m.retryInterval,
				"error", err,
			)
		}

		if err := m.sleep(ctx, m.retryInterval); err != nil {
			return err
		}
	}

	m.setState(Ready)
	if reconnecting {
		m.notice.Resolve()
		m.observer.Reconnected()
		m.logger.Info("reconnected to broker",
			"endpoint", m.cfg.Endpoint,
			"subscriptions", m.cfg.Registry.Len(),
		)
	} else {
		m.logger.Info("connected to broker",
			"endpoint", m.cfg.Endpoint,
			"client_id", m.cfg.ClientID,
			"subscriptions", m.cfg.Registry.Len(),
		)
	}
	m.everReady = true
	return nil
}

// attempt performs one connect followed by one subscribe-many exchange.
func (m *Manager) attempt(ctx context.Context) error {
	m.setState(Connecting)

	connectCtx, cancel := context.WithTimeout(ctx, m.connectTimeout)
	err := m.broker.Connect(connectCtx, m.cfg)
	cancel()
	if err != nil {
		m.observer.ConnectFailed()
		return fmt.Errorf("connect: %w", err)
	}

	m.setState(Subscribing)

	subCtx, cancel := context.WithTimeout(ctx, m.connectTimeout)
	err = m.broker.SubscribeMany(subCtx, m.cfg.Registry.Entries())
	cancel()
	if err != nil {
		m.observer.SubscribeFailed()
		m.logger.Warn("subscribe failed, reconnecting",
			"topics", m.cfg.Registry.Topics(),
			"error", err,
		)
		return fmt.Errorf("subscribe: %w", err)
	}
	return nil
}

// Publish sends a message on the live session. It fails with ErrNotReady
// unless the session is Ready.
func (m *Manager) Publish(ctx context.Context, topic string, payload []byte, qos byte) error {
	if m.State() != Ready {
		return ErrNotReady
	}
	if err := m.broker.Publish(ctx, topic, payload, qos); err != nil {
		return fmt.Errorf("publish %q: %w", topic, err)
	}
	return nil
}

// State returns the current connection state.
func (m *Manager) State() State {
	return State(m.state.Load())
}

// NoticeOutstanding reports whether a lost-connection notice is still within
// its display window.
func (m *Manager) NoticeOutstanding() bool {
	return m.notice.Outstanding()
}

// Close ends any outstanding notice and disconnects the broker.
func (m *Manager) Close() error {
	m.notice.Resolve()
	m.notice.wait()

	err := m.broker.Close()
	m.setState(Disconnected)
	if err != nil {
		return fmt.Errorf("closing broker: %w", err)
	}
	return nil
}

func (m *Manager) setState(to State) {
	from := State(m.state.Swap(int32(to)))
	if from != to {
		m.observer.StateChanged(from, to)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
