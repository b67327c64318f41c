package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/mqtt-sql-forwarder/internal/forwarder"
	"github.com/nerrad567/mqtt-sql-forwarder/internal/infrastructure/config"
	"github.com/nerrad567/mqtt-sql-forwarder/internal/infrastructure/database"
	"github.com/nerrad567/mqtt-sql-forwarder/internal/infrastructure/logging"
	"github.com/nerrad567/mqtt-sql-forwarder/internal/session"
)

// ─── Stubs ─────────────────────────────────────────────────────────

type stubSession struct {
	state  session.State
	notice bool
}

func (s *stubSession) State() session.State    { return s.state }
func (s *stubSession) NoticeOutstanding() bool { return s.notice }

type stubForwarder struct{ stats forwarder.Stats }

func (s *stubForwarder) Stats() forwarder.Stats { return s.stats }

type stubDB struct{ err error }

func (s *stubDB) HealthCheck(context.Context) error { return s.err }
func (s *stubDB) Stats() sql.DBStats                { return sql.DBStats{OpenConnections: 1, Idle: 1} }

type stubChecker struct{ err error }

func (s *stubChecker) HealthCheck(context.Context) error { return s.err }

type stubDeadLetters struct {
	items []database.DeadLetter
	err   error
	limit int
}

func (s *stubDeadLetters) Count(context.Context) (int, error) { return len(s.items), s.err }

func (s *stubDeadLetters) Recent(_ context.Context, limit int) ([]database.DeadLetter, error) {
	s.limit = limit
	return s.items, s.err
}

// testServer creates a Server with a Ready session and a healthy database.
func testServer(t *testing.T, mutate func(*Deps)) *Server {
	t.Helper()

	deps := Deps{
		Config:        config.AdminConfig{Host: "127.0.0.1", Port: 0},
		Logger:        logging.NewWithWriter(config.LoggingConfig{Level: "error"}, "test", io.Discard),
		Session:       &stubSession{state: session.Ready},
		Forwarder:     &stubForwarder{stats: forwarder.Stats{Received: 3, Forwarded: 2, Rejected: 1}},
		Database:      &stubDB{},
		Gatherer:      prometheus.NewRegistry(),
		Endpoint:      "tcp://broker:1883",
		Subscriptions: []string{"sensors/#"},
		Version:       "test",
	}
	if mutate != nil {
		mutate(&deps)
	}

	srv, err := New(deps)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return srv
}

func get(t *testing.T, srv *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	srv.buildRouter().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("unmarshal %q: %v", w.Body.String(), err)
	}
}

// ─── Construction ──────────────────────────────────────────────────

func TestNew_RequiresDependencies(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Deps)
	}{
		{"logger", func(d *Deps) { d.Logger = nil }},
		{"session", func(d *Deps) { d.Session = nil }},
		{"forwarder", func(d *Deps) { d.Forwarder = nil }},
		{"database", func(d *Deps) { d.Database = nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deps := Deps{
				Logger:    logging.NewWithWriter(config.LoggingConfig{}, "test", io.Discard),
				Session:   &stubSession{},
				Forwarder: &stubForwarder{},
				Database:  &stubDB{},
			}
			tt.mutate(&deps)
			if _, err := New(deps); err == nil {
				t.Errorf("New() without %s should fail", tt.name)
			}
		})
	}
}

// ─── Health ────────────────────────────────────────────────────────

func TestHealth(t *testing.T) {
	w := get(t, testServer(t, nil), "/health")

	if w.Code != http.StatusOK {
		t.Errorf("health status = %d, want %d", w.Code, http.StatusOK)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}

	var resp HealthResponse
	decode(t, w, &resp)
	if resp.Status != "ok" || resp.Version != "test" {
		t.Errorf("response = %+v", resp)
	}
	if resp.Checks["broker"] != "ok" || resp.Checks["database"] != "ok" {
		t.Errorf("checks = %v", resp.Checks)
	}
}

func TestHealth_UnavailableUntilReady(t *testing.T) {
	srv := testServer(t, func(d *Deps) { d.Session = &stubSession{state: session.Reconnecting} })

	w := get(t, srv, "/health")

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("health status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
	var resp HealthResponse
	decode(t, w, &resp)
	if resp.Checks["broker"] != "reconnecting" {
		t.Errorf("broker check = %q, want reconnecting", resp.Checks["broker"])
	}
}

func TestHealth_DatabaseDown(t *testing.T) {
	srv := testServer(t, func(d *Deps) { d.Database = &stubDB{err: errors.New("database is locked")} })

	w := get(t, srv, "/health")

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("health status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
}

func TestHealth_InfluxDoesNotFailCheck(t *testing.T) {
	srv := testServer(t, func(d *Deps) { d.InfluxDB = &stubChecker{err: errors.New("timeout")} })

	w := get(t, srv, "/health")

	if w.Code != http.StatusOK {
		t.Errorf("health status = %d, want %d", w.Code, http.StatusOK)
	}
	var resp HealthResponse
	decode(t, w, &resp)
	if resp.Checks["influxdb"] != "timeout" {
		t.Errorf("influxdb check = %q, want timeout", resp.Checks["influxdb"])
	}
}

// ─── Status ────────────────────────────────────────────────────────

func TestStatus(t *testing.T) {
	srv := testServer(t, func(d *Deps) { d.Session = &stubSession{state: session.Reconnecting, notice: true} })

	w := get(t, srv, "/api/v1/status")
	if w.Code != http.StatusOK {
		t.Fatalf("status code = %d, want 200", w.Code)
	}

	var resp StatusResponse
	decode(t, w, &resp)
	if resp.Session.State != "reconnecting" || !resp.Session.NoticeOutstanding {
		t.Errorf("session = %+v", resp.Session)
	}
	if resp.Session.Endpoint != "tcp://broker:1883" || len(resp.Session.Subscriptions) != 1 {
		t.Errorf("session = %+v", resp.Session)
	}
	if resp.Forwarding.Received != 3 || resp.Forwarding.Rejected != 1 {
		t.Errorf("forwarding = %+v", resp.Forwarding)
	}
	if resp.Runtime.Goroutines == 0 {
		t.Error("runtime goroutines = 0")
	}
	if resp.Database.OpenConnections != 1 {
		t.Errorf("database = %+v", resp.Database)
	}
}

// ─── Dead letters ──────────────────────────────────────────────────

func TestDeadLetters(t *testing.T) {
	store := &stubDeadLetters{items: []database.DeadLetter{{
		ID:         "a1",
		Topic:      "sensors/temp",
		Table:      "temp_readings",
		Reason:     "malformed_payload",
		Payload:    []byte(`{"t":`),
		ReceivedAt: time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC),
	}}}
	srv := testServer(t, func(d *Deps) { d.DeadLetters = store })

	w := get(t, srv, "/api/v1/dead-letters?limit=10")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body)
	}

	var resp struct {
		Total       int                  `json:"total"`
		DeadLetters []DeadLetterResponse `json:"dead_letters"`
	}
	decode(t, w, &resp)
	if resp.Total != 1 || len(resp.DeadLetters) != 1 {
		t.Fatalf("response = %+v", resp)
	}
	if got := resp.DeadLetters[0]; got.Payload != `{"t":` || got.ReceivedAt != "2026-10-19T09:00:00Z" {
		t.Errorf("dead letter = %+v", got)
	}
	if store.limit != 10 {
		t.Errorf("limit passed = %d, want 10", store.limit)
	}
}

func TestDeadLetters_BadLimit(t *testing.T) {
	srv := testServer(t, func(d *Deps) { d.DeadLetters = &stubDeadLetters{} })

	for _, q := range []string{"0", "-1", "abc", "501"} {
		if w := get(t, srv, "/api/v1/dead-letters?limit="+q); w.Code != http.StatusBadRequest {
			t.Errorf("limit=%s status = %d, want 400", q, w.Code)
		}
	}
}

func TestDeadLetters_Disabled(t *testing.T) {
	w := get(t, testServer(t, nil), "/api/v1/dead-letters")
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
}

func TestDeadLetters_StoreError(t *testing.T) {
	srv := testServer(t, func(d *Deps) { d.DeadLetters = &stubDeadLetters{err: errors.New("disk I/O error")} })

	if w := get(t, srv, "/api/v1/dead-letters"); w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
}

// ─── Metrics & middleware ──────────────────────────────────────────

func TestMetrics_ExposesRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "forwarder_test_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Inc()

	srv := testServer(t, func(d *Deps) { d.Gatherer = reg })
	w := get(t, srv, "/metrics")

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), "forwarder_test_total 1") {
		t.Errorf("metrics body missing counter:\n%s", w.Body)
	}
}

func TestRequestID_Generated(t *testing.T) {
	w := get(t, testServer(t, nil), "/health")
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header to be set")
	}
}

func TestRequestID_PreservesClient(t *testing.T) {
	srv := testServer(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "client-123")
	w := httptest.NewRecorder()
	srv.buildRouter().ServeHTTP(w, req)

	if got := w.Header().Get("X-Request-ID"); got != "client-123" {
		t.Errorf("X-Request-ID = %q, want %q", got, "client-123")
	}
}

func TestRequestID_ReplacesOversized(t *testing.T) {
	srv := testServer(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", strings.Repeat("x", maxRequestIDLen+1))
	w := httptest.NewRecorder()
	srv.buildRouter().ServeHTTP(w, req)

	if got := w.Header().Get("X-Request-ID"); len(got) > maxRequestIDLen || got == "" {
		t.Errorf("X-Request-ID = %q, want a generated id", got)
	}
}

func TestNotFound(t *testing.T) {
	w := get(t, testServer(t, nil), "/api/v1/nonexistent")
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown route status = %d, want %d", w.Code, http.StatusNotFound)
	}

	var resp ErrorResponse
	decode(t, w, &resp)
	if resp.Code != "not_found" {
		t.Errorf("code = %q, want not_found", resp.Code)
	}
	if resp.RequestID == "" || resp.RequestID != w.Header().Get("X-Request-ID") {
		t.Errorf("request_id = %q, header = %q", resp.RequestID, w.Header().Get("X-Request-ID"))
	}
}

func TestAccessLog_RecoversPanic(t *testing.T) {
	srv := testServer(t, nil)
	h := srv.requestIDMiddleware(srv.accessLogMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	})))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
	var resp ErrorResponse
	decode(t, w, &resp)
	if resp.Code != "internal_error" {
		t.Errorf("code = %q, want internal_error", resp.Code)
	}
}

// ─── Lifecycle ─────────────────────────────────────────────────────

func TestStartAndClose(t *testing.T) {
	srv := testServer(t, nil)
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	resp, err := http.Get("http://" + srv.Addr() + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}

	if err := srv.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestClose_NotStarted(t *testing.T) {
	if err := testServer(t, nil).Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}
