package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/nerrad567/mqtt-sql-forwarder/internal/forwarder"
)

// bytesPerMB converts bytes to megabytes.
const bytesPerMB = 1024 * 1024

// StatusResponse is the /api/v1/status payload.
type StatusResponse struct {
	Timestamp     string          `json:"timestamp"`
	Version       string          `json:"version"`
	UptimeSeconds int64           `json:"uptime_seconds"`
	Session       SessionMetrics  `json:"session"`
	Forwarding    forwarder.Stats `json:"forwarding"`
	Runtime       RuntimeMetrics  `json:"runtime"`
	Database      DatabaseMetrics `json:"database"`
}

// SessionMetrics describes the broker session.
type SessionMetrics struct {
	State             string   `json:"state"`
	NoticeOutstanding bool     `json:"notice_outstanding"`
	Endpoint          string   `json:"endpoint"`
	Subscriptions     []string `json:"subscriptions"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// DatabaseMetrics contains database connection pool statistics.
type DatabaseMetrics struct {
	OpenConnections int   `json:"open_connections"`
	InUse           int   `json:"in_use"`
	Idle            int   `json:"idle"`
	WaitCount       int64 `json:"wait_count"`
}

// handleStatus returns the session state, forwarding counters and process stats.
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	dbStats := s.db.Stats()

	writeJSON(w, http.StatusOK, StatusResponse{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.started).Seconds()),
		Session: SessionMetrics{
			State:             s.session.State().String(),
			NoticeOutstanding: s.session.NoticeOutstanding(),
			Endpoint:          s.endpoint,
			Subscriptions:     s.subscriptions,
		},
		Forwarding: s.forwarder.Stats(),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(mem.Alloc) / bytesPerMB,
			MemoryTotalMB: float64(mem.TotalAlloc) / bytesPerMB,
			NumGC:         mem.NumGC,
		},
		Database: DatabaseMetrics{
			OpenConnections: dbStats.OpenConnections,
			InUse:           dbStats.InUse,
			Idle:            dbStats.Idle,
			WaitCount:       dbStats.WaitCount,
		},
	})
}
