package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestRealIPHeaderOrder(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		want    string
	}{
		{"fly header wins", map[string]string{"Fly-Client-IP": "1.1.1.1", "X-Forwarded-For": "2.2.2.2", "X-Real-IP": "3.3.3.3"}, "1.1.1.1"},
		{"first forwarded hop", map[string]string{"X-Forwarded-For": "2.2.2.2, 10.0.0.1", "X-Real-IP": "3.3.3.3"}, "2.2.2.2"},
		{"real ip header", map[string]string{"X-Real-IP": "3.3.3.3"}, "3.3.3.3"},
		{"remote addr", nil, "192.0.2.1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			if got := RealIP(req); got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestRateLimiterLocalFallback(t *testing.T) {
	rl := NewRateLimiter(nil, zerolog.Nop(), RateLimiterConfig{
		Limits: map[string]RateLimit{
			"POST /api/auth/login": {2, time.Hour, ipKey},
		},
	})
	handler := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	do := func(path string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, path, nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	for i := 0; i < 2; i++ {
		if rec := do("/api/auth/login"); rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, rec.Code)
		}
	}
	rec := do("/api/auth/login")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header")
	}

	// Unlisted paths pass through.
	if rec := do("/api/other"); rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for unlisted path, got %d", rec.Code)
	}
}

func TestRateLimiterWhitelist(t *testing.T) {
	rl := NewRateLimiter(nil, zerolog.Nop(), RateLimiterConfig{
		Whitelist: []string{"192.0.2.0/24"},
		Limits: map[string]RateLimit{
			"POST /api/auth/login": {1, time.Hour, ipKey},
		},
	})
	handler := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/auth/login", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200 for whitelisted ip, got %d", i, rec.Code)
		}
	}
}
