package database

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DefaultDeadLetterMaxRows bounds the dead-letter table when no limit is configured.
const DefaultDeadLetterMaxRows = 10000

// DeadLetter is one rejected message kept for inspection.
type DeadLetter struct {
	ID         string
	Topic      string
	Table      string
	Reason     string
	Payload    []byte
	ReceivedAt time.Time
}

// DeadLetters stores rejected messages in forwarder_dead_letters, keeping at
// most maxRows of the newest rows.
//
// Thread Safety: safe for concurrent use (relies on database/sql).
type DeadLetters struct {
	db      *DB
	maxRows int
}

// NewDeadLetters creates the dead-letter store. The table is created by the
// embedded migrations, so Migrate must have run first.
//
// Parameters:
//   - db: Open, migrated database
//   - maxRows: Upper bound on retained rows (<= 0 selects DefaultDeadLetterMaxRows)
func NewDeadLetters(db *DB, maxRows int) *DeadLetters {
	if maxRows <= 0 {
		maxRows = DefaultDeadLetterMaxRows
	}
	return &DeadLetters{db: db, maxRows: maxRows}
}

// Record inserts d and prunes the oldest rows beyond the limit, in one
// transaction. An empty ID is replaced by a new UUID.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - d: The rejected message
//
// Returns:
//   - error: If the insert or prune fails
func (s *DeadLetters) Record(ctx context.Context, d DeadLetter) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.ReceivedAt.IsZero() {
		d.ReceivedAt = time.Now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck // Rollback is no-op after commit

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO forwarder_dead_letters (id, topic, table_name, reason, payload, received_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		d.ID, d.Topic, d.Table, d.Reason, d.Payload,
		d.ReceivedAt.UTC().Format(time.RFC3339Nano),
	); err != nil {
		return fmt.Errorf("inserting dead letter: %w", err)
	}

	// seq is monotonic, so everything at or below the (maxRows+1)-th newest
	// row is outside the window.
	var cutoff int64
	err = tx.QueryRowContext(ctx,
		"SELECT seq FROM forwarder_dead_letters ORDER BY seq DESC LIMIT 1 OFFSET ?",
		s.maxRows,
	).Scan(&cutoff)
	switch {
	case err == nil:
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM forwarder_dead_letters WHERE seq <= ?", cutoff,
		); err != nil {
			return fmt.Errorf("pruning dead letters: %w", err)
		}
	case isNoRows(err):
	default:
		return fmt.Errorf("finding dead-letter cutoff: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing dead letter: %w", err)
	}
	return nil
}

// Count returns the number of stored dead letters.
func (s *DeadLetters) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM forwarder_dead_letters",
	).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting dead letters: %w", err)
	}
	return n, nil
}

// Recent returns up to limit dead letters, newest first.
func (s *DeadLetters) Recent(ctx context.Context, limit int) ([]DeadLetter, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, topic, table_name, reason, payload, received_at
		FROM forwarder_dead_letters
		ORDER BY seq DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying dead letters: %w", err)
	}
	defer rows.Close()

	var out []DeadLetter
	for rows.Next() {
		var d DeadLetter
		var receivedAt string
		if err := rows.Scan(&d.ID, &d.Topic, &d.Table, &d.Reason, &d.Payload, &receivedAt); err != nil {
			return nil, fmt.Errorf("scanning dead letter: %w", err)
		}
		d.ReceivedAt, _ = time.Parse(time.RFC3339Nano, receivedAt) //nolint:errcheck // Format is controlled
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating dead letters: %w", err)
	}
	return out, nil
}
