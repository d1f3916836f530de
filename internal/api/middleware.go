package api

import (
	"bufio"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/coinhost/billing/internal/billing"
)

// bearerToken extracts the key from an "Authorization: Bearer <key>" header.
func bearerToken(header string) (string, bool) {
	const bearerPrefix = "Bearer "
	if !strings.HasPrefix(header, bearerPrefix) {
		return "", false
	}
	key := strings.TrimSpace(strings.TrimPrefix(header, bearerPrefix))
	return key, key != ""
}

// AuthMiddleware validates the Bearer token and sets the user in context.
// It guards the plain chi routes; huma operations use humaAuthMiddleware.
func AuthMiddleware(dbClient DBClient) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				WriteError(w, ErrUnauthorized, http.StatusUnauthorized, CodeUnauthorized)
				return
			}

			user, err := dbClient.GetUserByAPIKey(r.Context(), key)
			if err != nil {
				if errors.Is(err, billing.ErrUserNotFound) {
					WriteError(w, ErrUnauthorized, http.StatusUnauthorized, CodeUnauthorized)
					return
				}
				slog.Error("failed to get user by API key", "error", err)
				WriteError(w, ErrInternal, http.StatusInternalServerError, CodeInternal)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
		})
	}
}

// LoggingMiddleware logs requests with slog
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &responseWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		next.ServeHTTP(wrapped, r)

		slog.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.statusCode,
			"duration_ms", time.Since(start).Milliseconds(),
			"remote_addr", r.RemoteAddr,
		)
	})
}

// responseWriter wraps http.ResponseWriter to capture the status code.
// It also implements http.Hijacker to support WebSocket upgrades.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Hijack implements http.Hijacker for WebSocket support.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if hijacker, ok := rw.ResponseWriter.(http.Hijacker); ok {
		return hijacker.Hijack()
	}
	return nil, nil, fmt.Errorf("underlying ResponseWriter does not support hijacking")
}

// RecoveryMiddleware recovers from panics
func RecoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				slog.Error("panic recovered",
					"error", err,
					"stack", string(debug.Stack()),
					"method", r.Method,
					"path", r.URL.Path,
				)
				WriteError(w, ErrInternal, http.StatusInternalServerError, CodeInternal)
			}
		}()

		next.ServeHTTP(w, r)
	})
}
