package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/devilmonastery/oauthlink/internal/pkg/logger"
	"github.com/devilmonastery/oauthlink/internal/pkg/metrics"
)

// RequestIDHeader carries the request id to and from clients
const RequestIDHeader = "X-Request-ID"

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	written    int64
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.written += int64(n)
	return n, err
}

// requestInfo is filled in by inner middleware for the request log line
type requestInfo struct {
	accountID int64
	audience  string
}

type infoKey struct{}

func noteAccount(ctx context.Context, accountID int64, audience string) {
	if info, ok := ctx.Value(infoKey{}).(*requestInfo); ok {
		info.accountID = accountID
		info.audience = audience
	}
}

// LogRequest assigns a request id, puts a request logger in the context and
// writes one structured line and the HTTP metrics per request
func LogRequest(log *slog.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := r.Header.Get(RequestIDHeader)
			if _, err := uuid.Parse(requestID); err != nil {
				requestID = uuid.NewString()
			}
			w.Header().Set(RequestIDHeader, requestID)

			reqLog := logger.WithRequest(log, requestID)
			info := &requestInfo{}
			ctx := context.WithValue(logger.NewContext(r.Context(), reqLog), infoKey{}, info)

			start := time.Now()
			wrapped := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK, // default if WriteHeader not called
			}

			metrics.HTTPActiveRequests.Inc()
			next.ServeHTTP(wrapped, r.WithContext(ctx))
			metrics.HTTPActiveRequests.Dec()

			duration := time.Since(start)
			route := routeTemplate(r)
			metrics.HTTPRequests.WithLabelValues(r.Method, route, strconv.Itoa(wrapped.statusCode)).Inc()
			metrics.HTTPDuration.WithLabelValues(r.Method, route).Observe(float64(duration.Milliseconds()))

			// Skip logging health checks and scrapes to reduce noise
			if r.URL.Path == "/health" || r.URL.Path == "/metrics" {
				return
			}

			attrs := []slog.Attr{
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.String("route", route),
				slog.Int("status", wrapped.statusCode),
				slog.Int64("duration_ms", duration.Milliseconds()),
				slog.Int64("bytes", wrapped.written),
				slog.String("client_ip", ClientIP(r)),
				slog.String("user_agent", r.UserAgent()),
			}
			if info.accountID != 0 {
				attrs = append(attrs, slog.Int64("account_id", info.accountID), slog.String("audience", info.audience))
			}

			level := slog.LevelInfo
			if wrapped.statusCode >= http.StatusInternalServerError {
				level = slog.LevelError
			}
			reqLog.LogAttrs(r.Context(), level, "http request", attrs...)
		})
	}
}

// routeTemplate labels metrics by route pattern, never by raw path
func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tmpl, err := route.GetPathTemplate(); err == nil {
			return tmpl
		}
	}
	return "unmatched"
}

// ClientIP returns the real client address, honouring proxy headers
func ClientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		return forwarded
	}
	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}
	return r.RemoteAddr
}
