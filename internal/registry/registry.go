package registry

import (
	"fmt"
	"strings"
)

// maxQoS is the highest MQTT delivery quality.
const maxQoS = 2

// RetainHandling controls whether retained messages are sent when a
// subscription is (re)established. Values match the MQTT 5 wire encoding.
type RetainHandling byte

// Retain-handling modes.
const (
	// SendRetainedOnSubscribe delivers retained messages on every subscribe.
	SendRetainedOnSubscribe RetainHandling = 0

	// SendRetainedOnNew delivers retained messages only if the subscription
	// did not already exist in the broker session.
	SendRetainedOnNew RetainHandling = 1

	// DontSendRetained never delivers retained messages on subscribe.
	DontSendRetained RetainHandling = 2
)

// ParseRetainHandling converts a configuration code into a RetainHandling.
func ParseRetainHandling(code int) (RetainHandling, error) {
	if code < 0 || code > int(DontSendRetained) {
		return 0, fmt.Errorf("%w: got %d", ErrInvalidRetainHandling, code)
	}
	return RetainHandling(code), nil
}

// Valid reports whether r is one of the three defined modes.
func (r RetainHandling) Valid() bool {
	return r <= DontSendRetained
}

func (r RetainHandling) String() string {
	switch r {
	case SendRetainedOnSubscribe:
		return "send-retained-on-subscribe"
	case SendRetainedOnNew:
		return "send-retained-on-new"
	case DontSendRetained:
		return "dont-send-retained"
	default:
		return fmt.Sprintf("retain-handling(%d)", byte(r))
	}
}

// Options are the MQTT 5 per-subscription options.
type Options struct {
	NoLocal           bool
	RetainAsPublished bool
	RetainHandling    RetainHandling
}

// IsDefault reports whether o equals the zero options, which is also what an
// MQTT 3.1.1 broker applies implicitly.
func (o Options) IsDefault() bool {
	return o == Options{}
}

// Entry is a single subscription request.
type Entry struct {
	Topic   string
	QoS     byte
	Options Options
}

// Registry is an ordered, immutable set of subscription entries.
//
// Thread Safety: read-only after construction; safe for concurrent use.
type Registry struct {
	entries []Entry
}

// New validates entries and builds a registry preserving their order.
func New(entries ...Entry) (*Registry, error) {
	if len(entries) == 0 {
		return nil, ErrEmpty
	}

	seen := make(map[string]bool, len(entries))
	owned := make([]Entry, 0, len(entries))
	for i, e := range entries {
		if err := validateEntry(e); err != nil {
			return nil, fmt.Errorf("subscription %d (%q): %w", i, e.Topic, err)
		}
		if seen[e.Topic] {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateTopic, e.Topic)
		}
		seen[e.Topic] = true
		owned = append(owned, e)
	}

	return &Registry{entries: owned}, nil
}

// FromVectors builds a registry from three positional vectors, the shape the
// broker's subscribe-many exchange uses. All vectors must have equal length.
func FromVectors(topics []string, qos []byte, opts []Options) (*Registry, error) {
	if len(topics) != len(qos) || len(topics) != len(opts) {
		return nil, fmt.Errorf("%w: topics=%d qos=%d options=%d",
			ErrLengthMismatch, len(topics), len(qos), len(opts))
	}

	entries := make([]Entry, len(topics))
	for i := range topics {
		entries[i] = Entry{Topic: topics[i], QoS: qos[i], Options: opts[i]}
	}
	return New(entries...)
}

// Entries returns a copy of the entries in registration order.
func (r *Registry) Entries() []Entry {
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Vectors splits the registry back into positional topic, QoS and option
// vectors. The three slices always have equal length.
func (r *Registry) Vectors() (topics []string, qos []byte, opts []Options) {
	topics = make([]string, len(r.entries))
	qos = make([]byte, len(r.entries))
	opts = make([]Options, len(r.entries))
	for i, e := range r.entries {
		topics[i] = e.Topic
		qos[i] = e.QoS
		opts[i] = e.Options
	}
	return topics, qos, opts
}

// Topics returns the topic filters in registration order.
func (r *Registry) Topics() []string {
	topics, _, _ := r.Vectors()
	return topics
}

// Len returns the number of entries.
func (r *Registry) Len() int {
	return len(r.entries)
}

// HasOptions reports whether any entry carries non-default subscribe options.
func (r *Registry) HasOptions() bool {
	for _, e := range r.entries {
		if !e.Options.IsDefault() {
			return true
		}
	}
	return false
}

// Match returns the first entry whose filter matches topic.
func (r *Registry) Match(topic string) (Entry, bool) {
	for _, e := range r.entries {
		if MatchFilter(e.Topic, topic) {
			return e, true
		}
	}
	return Entry{}, false
}

func validateEntry(e Entry) error {
	if err := ValidateFilter(e.Topic); err != nil {
		return err
	}
	if e.QoS > maxQoS {
		return fmt.Errorf("%w: got %d", ErrInvalidQoS, e.QoS)
	}
	if !e.Options.RetainHandling.Valid() {
		return fmt.Errorf("%w: got %d", ErrInvalidRetainHandling, e.Options.RetainHandling)
	}
	return nil
}

// ValidateFilter checks MQTT topic filter syntax: non-empty, no NUL, '#' only
// as the whole last level, '+' only as a whole level.
func ValidateFilter(filter string) error {
	if filter == "" {
		return fmt.Errorf("%w: empty", ErrInvalidTopic)
	}
	if strings.ContainsRune(filter, 0) {
		return fmt.Errorf("%w: contains NUL", ErrInvalidTopic)
	}

	levels := strings.Split(filter, "/")
	for i, level := range levels {
		if strings.Contains(level, "#") && (level != "#" || i != len(levels)-1) {
			return fmt.Errorf("%w: '#' must be the whole last level in %q", ErrInvalidTopic, filter)
		}
		if strings.Contains(level, "+") && level != "+" {
			return fmt.Errorf("%w: '+' must occupy a whole level in %q", ErrInvalidTopic, filter)
		}
	}
	return nil
}

// MatchFilter reports whether a concrete topic matches filter. '#' matches
// the parent level and everything below it, '+' matches exactly one level,
// and wildcards in the first level never match topics starting with '$'.
// A "$share/<group>/" prefix is ignored.
func MatchFilter(filter, topic string) bool {
	if rest, ok := strings.CutPrefix(filter, "$share/"); ok {
		_, filter, ok = strings.Cut(rest, "/")
		if !ok {
			return false
		}
	}

	fl := strings.Split(filter, "/")
	tl := strings.Split(topic, "/")
	if strings.HasPrefix(topic, "$") && (fl[0] == "+" || fl[0] == "#") {
		return false
	}

	for i, level := range fl {
		if level == "#" {
			return true
		}
		if i >= len(tl) {
			return false
		}
		if level != "+" && level != tl[i] {
			return false
		}
	}
	return len(fl) == len(tl)
}
