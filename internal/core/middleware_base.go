package core

import (
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"courier/internal/types"
)

// statusRecorder remembers the first status code a handler writes.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	if sr.status == 0 {
		sr.status = code
	}
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if sr.status == 0 {
		sr.status = http.StatusOK
	}
	return sr.ResponseWriter.Write(b)
}

// Unwrap exposes the wrapped writer to http.ResponseController.
func (sr *statusRecorder) Unwrap() http.ResponseWriter {
	return sr.ResponseWriter
}

// Code returns the written status, 200 if the handler wrote nothing.
func (sr *statusRecorder) Code() int {
	if sr.status == 0 {
		return http.StatusOK
	}
	return sr.status
}

// routePattern returns the matched chi pattern, or "unmatched".
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
		return rctx.RoutePattern()
	}
	return "unmatched"
}

// Recoverer turns a panic into a logged stack trace and a 500
// APIErrorResponse. It must be the outermost middleware.
func (s *Server) Recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rvr := recover()
			if rvr == nil {
				return
			}
			if rvr == http.ErrAbortHandler {
				panic(rvr)
			}

			s.Logger.Error("panic recovered",
				"method", r.Method,
				"route", routePattern(r),
				"notification_id", chi.URLParam(r, "notification_id"),
				"request_id", types.GetRequestID(r.Context()),
				"panic", fmt.Sprint(rvr),
				"stack", string(debug.Stack()),
			)
			Error(w, r, types.NewAppError(types.ErrCodeInternalUnexpected, "an unexpected error occurred", nil))
		}()

		next.ServeHTTP(w, r)
	})
}

// RequestLogger writes one access line per request. Status lookups carry the
// notification id; health and metrics scrapes log at debug level.
func (s *Server) RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sr := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(sr, r)

		route := routePattern(r)
		args := []any{
			"method", r.Method,
			"route", route,
			"status", sr.Code(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", types.GetRequestID(r.Context()),
		}
		if id := chi.URLParam(r, "notification_id"); id != "" {
			args = append(args, "notification_id", id)
		}

		level := slog.LevelInfo
		switch {
		case sr.Code() >= http.StatusInternalServerError:
			level = slog.LevelError
		case sr.Code() >= http.StatusBadRequest:
			level = slog.LevelWarn
		case route == "/health" || route == "/metrics":
			level = slog.LevelDebug
		}
		s.Logger.Log(r.Context(), level, "request completed", args...)
	})
}

// MetricsMiddleware reports each request to s.Metrics under its chi route
// pattern, so /status/{notification_id} is one series. A nil collector
// disables it.
func (s *Server) MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.Metrics == nil {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		sr := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(sr, r)
		s.Metrics.RecordRequest(r.Method, routePattern(r), strconv.Itoa(sr.Code()), time.Since(start))
	})
}

// SecurityHeadersMiddleware sets nosniff and frame-deny headers on every response.
func (s *Server) SecurityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		next.ServeHTTP(w, r)
	})
}

// NewCORSMiddleware allows the listed origins ("*" allows any) to read the
// status surface. Preflight requests are answered with 204.
func NewCORSMiddleware(allowedOrigins []string) func(http.Handler) http.Handler {
	allowAll := false
	originSet := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		if o == "*" {
			allowAll = true
			break
		}
		originSet[o] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			var allowedOrigin string
			if allowAll {
				allowedOrigin = "*"
			} else if origin != "" {
				if _, ok := originSet[origin]; ok {
					allowedOrigin = origin
				}
			}

			if allowedOrigin != "" {
				w.Header().Set("Access-Control-Allow-Origin", allowedOrigin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Request-ID")
				w.Header().Set("Access-Control-Expose-Headers", "X-Request-ID")
				w.Header().Set("Access-Control-Max-Age", "86400")

				if allowedOrigin != "*" {
					w.Header().Set("Vary", "Origin")
				}
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
