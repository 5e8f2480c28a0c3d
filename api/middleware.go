package api

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/time/rate"
)

// BearerAuth validates Bearer token authentication (RFC 6750).
// /health bypasses auth but is still rate limited.
func BearerAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/health" {
				next.ServeHTTP(w, r)
				return
			}

			auth := r.Header.Get("Authorization")
			if auth == "" {
				WriteError(w, http.StatusUnauthorized, "Missing Authorization header",
					"Request requires Bearer token authentication")
				return
			}

			const prefix = "Bearer "
			if len(auth) < len(prefix) || auth[:len(prefix)] != prefix {
				WriteError(w, http.StatusUnauthorized, "Invalid Authorization header format",
					"Expected format: Authorization: Bearer <token>")
				return
			}

			if token == "" || subtle.ConstantTimeCompare([]byte(auth[len(prefix):]), []byte(token)) != 1 {
				WriteError(w, http.StatusUnauthorized, "Invalid Bearer token",
					"The provided token is not valid")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RateLimit is a per client IP token bucket. Idle limiters are swept every
// minute until ctx is done.
func RateLimit(requestsPerSecond int, burstSize int, ctx context.Context) func(http.Handler) http.Handler {
	type limiterEntry struct {
		limiter    *rate.Limiter
		lastAccess time.Time
	}

	limiters := make(map[string]*limiterEntry)
	var mu sync.Mutex

	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				mu.Lock()
				for ip, e := range limiters {
					if now.Sub(e.lastAccess) > 5*time.Minute {
						delete(limiters, ip)
					}
				}
				mu.Unlock()
			}
		}
	}()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// The API sits directly on the host, so X-Forwarded-For is ignored.
			clientIP := r.RemoteAddr
			if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
				clientIP = host
			}

			mu.Lock()
			entry, exists := limiters[clientIP]
			if !exists {
				entry = &limiterEntry{limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), burstSize)}
				limiters[clientIP] = entry
			}
			entry.lastAccess = time.Now()
			mu.Unlock()

			if !entry.limiter.Allow() {
				WriteError(w, http.StatusTooManyRequests, "Rate limit exceeded",
					fmt.Sprintf("More than %d requests per second allowed", requestsPerSecond))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// Logger logs method, path, status and duration of every request.
// The Authorization header is never logged.
func Logger(logger *log.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(wrapped, r)

			logger.Info("request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", wrapped.status,
				"duration", time.Since(start),
			)
		})
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(status int) {
	rw.status = status
	rw.ResponseWriter.WriteHeader(status)
}

// SecurityHeaders adds security-related HTTP headers to all responses
func SecurityHeaders() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.Header().Set("X-Frame-Options", "DENY")
			w.Header().Set("Content-Security-Policy", "default-src 'none'")
			w.Header().Set("Referrer-Policy", "no-referrer")
			w.Header().Set("Cache-Control", "no-store")

			next.ServeHTTP(w, r)
		})
	}
}
