package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/mqtt-sql-forwarder/internal/session"
)

const namespace = "forwarder"

// Metrics holds the forwarder's Prometheus collectors.
type Metrics struct {
	MessagesReceived  *prometheus.CounterVec
	MessagesForwarded *prometheus.CounterVec
	MessagesRejected  *prometheus.CounterVec
	InsertDuration    *prometheus.HistogramVec

	SessionState      *prometheus.GaugeVec
	Reconnects        prometheus.Counter
	ConnectFailures   prometheus.Counter
	SubscribeFailures prometheus.Counter
}

// allStates lists every session state so the state gauge is one-hot.
var allStates = []session.State{
	session.Disconnected,
	session.Connecting,
	session.Subscribing,
	session.Ready,
	session.Reconnecting,
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		MessagesReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "messages",
				Name:      "received_total",
				Help:      "Total messages received from the broker.",
			},
			[]string{"topic"},
		),
		MessagesForwarded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "messages",
				Name:      "forwarded_total",
				Help:      "Total messages inserted into the database.",
			},
			[]string{"topic", "table"},
		),
		MessagesRejected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "messages",
				Name:      "rejected_total",
				Help:      "Total messages dropped, by reason.",
			},
			[]string{"topic", "table", "reason"},
		),
		InsertDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "sink",
				Name:      "insert_duration_seconds",
				Help:      "Time from message receipt to completed insert.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"table"},
		),
		SessionState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "session",
				Name:      "state",
				Help:      "Broker session state (1 for the current state, 0 otherwise).",
			},
			[]string{"state"},
		),
		Reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "reconnects_total",
			Help:      "Total successful reconnections after a lost connection.",
		}),
		ConnectFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "connect_failures_total",
			Help:      "Total failed connection attempts.",
		}),
		SubscribeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "subscribe_failures_total",
			Help:      "Total failed or partially refused subscribe exchanges.",
		}),
	}

	for _, c := range []prometheus.Collector{
		m.MessagesReceived,
		m.MessagesForwarded,
		m.MessagesRejected,
		m.InsertDuration,
		m.SessionState,
		m.Reconnects,
		m.ConnectFailures,
		m.SubscribeFailures,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	m.setState(session.Disconnected)
	return m, nil
}

// MessageReceived implements forwarder.Recorder.
func (m *Metrics) MessageReceived(topic string) {
	m.MessagesReceived.WithLabelValues(topic).Inc()
}

// MessageForwarded implements forwarder.Recorder.
func (m *Metrics) MessageForwarded(topic, table string, took time.Duration) {
	m.MessagesForwarded.WithLabelValues(topic, table).Inc()
	m.InsertDuration.WithLabelValues(table).Observe(took.Seconds())
}

// MessageRejected implements forwarder.Recorder.
func (m *Metrics) MessageRejected(topic, table, reason string) {
	m.MessagesRejected.WithLabelValues(topic, table, reason).Inc()
}

// StateChanged implements session.Observer.
func (m *Metrics) StateChanged(_, to session.State) {
	m.setState(to)
}

// ConnectFailed implements session.Observer.
func (m *Metrics) ConnectFailed() { m.ConnectFailures.Inc() }

// SubscribeFailed implements session.Observer.
func (m *Metrics) SubscribeFailed() { m.SubscribeFailures.Inc() }

// Reconnected implements session.Observer.
func (m *Metrics) Reconnected() { m.Reconnects.Inc() }

func (m *Metrics) setState(current session.State) {
	for _, s := range allStates {
		v := 0.0
		if s == current {
			v = 1
		}
		m.SessionState.WithLabelValues(s.String()).Set(v)
	}
}
