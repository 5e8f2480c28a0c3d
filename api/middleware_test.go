package api

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"
)

func TestBearerAuth(t *testing.T) {
	tests := []struct {
		name       string
		token      string
		path       string
		authHeader string
		wantStatus int
	}{
		{
			name:       "Normal: Valid Bearer token returns 200",
			token:      "secret-token",
			authHeader: "Bearer secret-token",
			wantStatus: http.StatusOK,
		},
		{
			name:       "Edge: Missing Authorization header returns 401",
			token:      "secret-token",
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "Edge: Malformed Bearer token returns 401",
			token:      "secret-token",
			authHeader: "secret-token",
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "Edge: Invalid Bearer token returns 401",
			token:      "secret-token",
			authHeader: "Bearer wrong-token",
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "Edge: Empty Bearer token returns 401",
			token:      "secret-token",
			authHeader: "Bearer ",
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "Edge: Unconfigured token rejects everything",
			token:      "",
			authHeader: "Bearer ",
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "Normal: Health check bypasses auth",
			token:      "secret-token",
			path:       "/health",
			wantStatus: http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			})

			path := tt.path
			if path == "" {
				path = "/api/status"
			}
			req := httptest.NewRequest("GET", path, nil)
			if tt.authHeader != "" {
				req.Header.Set("Authorization", tt.authHeader)
			}

			rec := httptest.NewRecorder()
			BearerAuth(tt.token)(handler).ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("Status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if rec.Code == http.StatusUnauthorized && rec.Header().Get("Content-Type") != "application/json" {
				t.Errorf("Expected JSON error body, got Content-Type %q", rec.Header().Get("Content-Type"))
			}
		})
	}
}

func TestRateLimit(t *testing.T) {
	tests := []struct {
		name           string
		requestsPerSec int
		burstSize      int
		requestCount   int
		wantStatus     int
	}{
		{
			name:           "Normal: Under rate limit returns 200",
			requestsPerSec: 10,
			burstSize:      5,
			requestCount:   3,
			wantStatus:     http.StatusOK,
		},
		{
			name:           "Edge: Rate limit exhausted returns 429",
			requestsPerSec: 1,
			burstSize:      2,
			requestCount:   5,
			wantStatus:     http.StatusTooManyRequests,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			})
			wrapped := RateLimit(tt.requestsPerSec, tt.burstSize, ctx)(handler)

			req := httptest.NewRequest("GET", "/test", nil)
			req.RemoteAddr = "127.0.0.1:12345"

			lastStatus := http.StatusOK
			for i := 0; i < tt.requestCount; i++ {
				rec := httptest.NewRecorder()
				wrapped.ServeHTTP(rec, req)
				lastStatus = rec.Code
			}

			if lastStatus != tt.wantStatus {
				t.Errorf("Final status = %d, want %d", lastStatus, tt.wantStatus)
			}
		})
	}
}

func TestRateLimit_PerIP(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	wrapped := RateLimit(1, 1, ctx)(handler)

	first := httptest.NewRequest("GET", "/test", nil)
	first.RemoteAddr = "10.0.0.1:1000"
	second := httptest.NewRequest("GET", "/test", nil)
	second.RemoteAddr = "10.0.0.2:1000"
	spoofed := httptest.NewRequest("GET", "/test", nil)
	spoofed.RemoteAddr = "10.0.0.1:2000"
	spoofed.Header.Set("X-Forwarded-For", "10.0.0.3")

	codes := []int{}
	for _, req := range []*http.Request{first, second, spoofed} {
		rec := httptest.NewRecorder()
		wrapped.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}

	if codes[0] != http.StatusOK || codes[1] != http.StatusOK {
		t.Errorf("Expected distinct IPs to have separate buckets, got %v", codes)
	}
	if codes[2] != http.StatusTooManyRequests {
		t.Errorf("Expected X-Forwarded-For to be ignored, got %d", codes[2])
	}
}

func TestRateLimit_RecoveryAfterWait(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	wrapped := RateLimit(2, 2, ctx)(handler)

	req := httptest.NewRequest("GET", "/test", nil)
	req.RemoteAddr = "127.0.0.1:12346"

	// Exhaust burst
	for i := 0; i < 3; i++ {
		wrapped.ServeHTTP(httptest.NewRecorder(), req)
	}

	time.Sleep(1 * time.Second)

	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("After recovery, status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := log.New(&buf)

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	req := httptest.NewRequest("GET", "/api/guard", nil)
	req.Header.Set("Authorization", "Bearer secret-token")

	rec := httptest.NewRecorder()
	Logger(logger)(handler).ServeHTTP(rec, req)

	if rec.Code != http.StatusTeapot {
		t.Errorf("Status = %d, want %d", rec.Code, http.StatusTeapot)
	}
	out := buf.String()
	if !strings.Contains(out, "/api/guard") || !strings.Contains(out, "418") {
		t.Errorf("Expected path and status in log, got %q", out)
	}
	if strings.Contains(out, "secret-token") {
		t.Error("Logger must not write the bearer token")
	}
}

func TestSecurityHeaders(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "ok")
	})

	rec := httptest.NewRecorder()
	SecurityHeaders()(handler).ServeHTTP(rec, httptest.NewRequest("GET", "/health", nil))

	want := map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "DENY",
		"Cache-Control":          "no-store",
	}
	for header, value := range want {
		if got := rec.Header().Get(header); got != value {
			t.Errorf("%s = %q, want %q", header, got, value)
		}
	}
}
