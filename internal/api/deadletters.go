package api

import (
	"net/http"
	"strconv"
	"time"
)

// Dead-letter listing limits.
const (
	defaultDeadLetterLimit = 50
	maxDeadLetterLimit     = 500
)

// DeadLetterResponse is one entry in /api/v1/dead-letters.
type DeadLetterResponse struct {
	ID         string `json:"id"`
	Topic      string `json:"topic"`
	Table      string `json:"table"`
	Reason     string `json:"reason"`
	Payload    string `json:"payload"`
	ReceivedAt string `json:"received_at"`
}

// handleDeadLetters lists the newest dead letters. ?limit= caps the count.
func (s *Server) handleDeadLetters(w http.ResponseWriter, r *http.Request) {
	if s.deadLetters == nil {
		writeError(w, r, http.StatusServiceUnavailable, "dead-letter store is disabled")
		return
	}

	limit := defaultDeadLetterLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > maxDeadLetterLimit {
			writeError(w, r, http.StatusBadRequest, "limit must be between 1 and "+strconv.Itoa(maxDeadLetterLimit))
			return
		}
		limit = n
	}

	ctx := r.Context()
	total, err := s.deadLetters.Count(ctx)
	if err != nil {
		s.logger.Error("counting dead letters", "error", err)
		writeError(w, r, http.StatusInternalServerError, "failed to read dead letters")
		return
	}
	recent, err := s.deadLetters.Recent(ctx, limit)
	if err != nil {
		s.logger.Error("listing dead letters", "error", err)
		writeError(w, r, http.StatusInternalServerError, "failed to read dead letters")
		return
	}

	items := make([]DeadLetterResponse, 0, len(recent))
	for _, d := range recent {
		items = append(items, DeadLetterResponse{
			ID:         d.ID,
			Topic:      d.Topic,
			Table:      d.Table,
			Reason:     d.Reason,
			Payload:    string(d.Payload),
			ReceivedAt: d.ReceivedAt.UTC().Format(time.RFC3339Nano),
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"total":        total,
		"dead_letters": items,
	})
}
