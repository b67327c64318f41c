// Package destination maps MQTT topics to SQL table names.
package destination

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidMapping is returned by New for an empty topic or table name.
var ErrInvalidMapping = errors.New("destination: invalid mapping")

// Mapping resolves a message topic to its destination table. Topics without an
// explicit entry map to a table named after the topic itself.
//
// Thread Safety: read-only after construction; safe for concurrent use.
type Mapping struct {
	tables map[string]string
}

// New builds a Mapping from topic → table pairs. Keys are concrete topics as
// they arrive on messages, not subscription filters.
func New(tables map[string]string) (*Mapping, error) {
	owned := make(map[string]string, len(tables))
	for topic, table := range tables {
		if strings.TrimSpace(topic) == "" {
			return nil, fmt.Errorf("%w: empty topic", ErrInvalidMapping)
		}
		if strings.TrimSpace(table) == "" {
			return nil, fmt.Errorf("%w: topic %q has an empty table", ErrInvalidMapping, topic)
		}
		owned[topic] = table
	}
	return &Mapping{tables: owned}, nil
}

// Identity returns a Mapping with no explicit entries.
func Identity() *Mapping {
	return &Mapping{tables: map[string]string{}}
}

// Resolve returns the table for topic.
func (m *Mapping) Resolve(topic string) string {
	if table, ok := m.tables[topic]; ok {
		return table
	}
	return topic
}

// Len returns the number of explicit entries.
func (m *Mapping) Len() int {
	return len(m.tables)
}
