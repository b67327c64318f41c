package api

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
)

type contextKey struct{}

// requestIDHeader carries the request id in both directions.
const requestIDHeader = "X-Request-ID"

// maxRequestIDLen caps client-supplied ids; longer ones are replaced.
const maxRequestIDLen = 128

// requestID returns the id stored by requestIDMiddleware, or "".
func requestID(r *http.Request) string {
	id, _ := r.Context().Value(contextKey{}).(string) //nolint:errcheck // Absent means ""
	return id
}

// requestIDMiddleware keeps a sane client X-Request-ID or issues a UUID, and
// echoes it on the response.
func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" || len(id) > maxRequestIDLen {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), contextKey{}, id)))
	})
}

// accessLogMiddleware records each request at debug level, and recovers
// handler panics as a 500.
func (s *Server) accessLogMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &responseRecorder{ResponseWriter: w}

		defer func() {
			if p := recover(); p != nil {
				s.logger.Error("panic in admin handler",
					"panic", p,
					"path", r.URL.Path,
					"request_id", requestID(r),
				)
				if rec.status == 0 {
					writeError(rec, r, http.StatusInternalServerError, "internal server error")
				}
			}
			s.logger.Debug("admin request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", rec.statusCode(),
				"duration", time.Since(start),
				"request_id", requestID(r),
			)
		}()

		next.ServeHTTP(rec, r)
	})
}

// responseRecorder remembers the status written through it.
type responseRecorder struct {
	http.ResponseWriter
	status int
}

func (w *responseRecorder) WriteHeader(status int) {
	if w.status == 0 {
		w.status = status
	}
	w.ResponseWriter.WriteHeader(status)
}

func (w *responseRecorder) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	return w.ResponseWriter.Write(b)
}

func (w *responseRecorder) statusCode() int {
	if w.status == 0 {
		return http.StatusOK
	}
	return w.status
}
