package middleware

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/JonMunkholm/csvjson/internal/config"
	"github.com/JonMunkholm/csvjson/internal/logging"
)

func okHandler(w http.ResponseWriter, r *http.Request) {
	w.Write([]byte(r.RemoteAddr))
}

func TestAPIKeyAuth(t *testing.T) {
	cfg := &config.SecurityConfig{RequireAPIKey: true, APIKeys: []string{"alpha", "beta"}}
	h := APIKeyAuth(cfg)(http.HandlerFunc(okHandler))

	tests := []struct {
		name   string
		header string
		value  string
		want   int
	}{
		{"missing", "", "", http.StatusUnauthorized},
		{"invalid", "X-API-Key", "gamma", http.StatusForbidden},
		{"valid header", "X-API-Key", "beta", http.StatusOK},
		{"valid bearer", "Authorization", "Bearer alpha", http.StatusOK},
		{"basic auth is not a key", "Authorization", "Basic YWxwaGE=", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
			if tt.header != "" {
				req.Header.Set(tt.header, tt.value)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
			if tt.want != http.StatusOK && rec.Header().Get("Content-Type") != "application/json" {
				t.Errorf("Content-Type = %q, want application/json", rec.Header().Get("Content-Type"))
			}
		})
	}
}

func TestAPIKeyAuth_Disabled(t *testing.T) {
	h := APIKeyAuth(&config.SecurityConfig{})(http.HandlerFunc(okHandler))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

func TestTrustedRealIP(t *testing.T) {
	h := TrustedRealIP([]string{"10.0.0.0/8", "192.168.1.5", "not-a-cidr", ""})(http.HandlerFunc(okHandler))

	tests := []struct {
		name   string
		remote string
		header map[string]string
		want   string
	}{
		{"trusted real ip", "10.1.2.3:5555", map[string]string{"X-Real-IP": "203.0.113.9"}, "203.0.113.9"},
		{"trusted single host", "192.168.1.5:80", map[string]string{"X-Real-IP": "203.0.113.9"}, "203.0.113.9"},
		{"trusted forwarded chain", "10.1.2.3:5555", map[string]string{"X-Forwarded-For": "198.51.100.7, 10.0.0.1"}, "198.51.100.7"},
		{"real ip wins", "10.1.2.3:5555", map[string]string{"X-Real-IP": "203.0.113.9", "X-Forwarded-For": "198.51.100.7"}, "203.0.113.9"},
		{"untrusted peer", "8.8.8.8:5555", map[string]string{"X-Real-IP": "203.0.113.9"}, "8.8.8.8:5555"},
		{"garbage header", "10.1.2.3:5555", map[string]string{"X-Real-IP": "nope"}, "10.1.2.3:5555"},
		{"no header", "10.1.2.3:5555", nil, "10.1.2.3:5555"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.header {
				req.Header.Set(k, v)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if got := rec.Body.String(); got != tt.want {
				t.Errorf("RemoteAddr = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestLogger(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(logging.New(&buf, "info", "text"))
	t.Cleanup(func() { slog.SetDefault(prev) })

	h := Logger(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Job-ID", "job-7")
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte("hello"))
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/convert/csv-to-json", nil))

	out := buf.String()
	for _, want := range []string{"status=201", "bytes=5", "job_id=job-7", "path=/api/convert/csv-to-json"} {
		if !strings.Contains(out, want) {
			t.Errorf("log %q missing %q", out, want)
		}
	}
}
