package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/rajasatyajit/ferrycast/internal/logger"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
}

func TestLogging(t *testing.T) {
	// Initialize logger to avoid nil logger in middleware
	logger.Init("error", "text")

	wrappedHandler := Logging(okHandler())

	req := httptest.NewRequest("GET", "/v1/forecasts", nil)
	req.Header.Set("User-Agent", "test-agent")

	// Add request ID to context (simulating chi middleware)
	ctx := context.WithValue(req.Context(), middleware.RequestIDKey, "test-request-id")
	req = req.WithContext(ctx)

	w := httptest.NewRecorder()
	wrappedHandler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}
	if w.Body.String() != "OK" {
		t.Errorf("Expected body 'OK', got %s", w.Body.String())
	}
}

func TestMetrics(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Metrics)
	var pattern string
	r.Get("/v1/thresholds/{id}", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
		pattern = routePattern(req)
	})

	req := httptest.NewRequest("GET", "/v1/thresholds/abc", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}
	if pattern != "/v1/thresholds/{id}" {
		t.Errorf("Expected route pattern label, got %q", pattern)
	}
	if got := routePattern(httptest.NewRequest("GET", "/raw", nil)); got != "/raw" {
		t.Errorf("Expected raw path without a router, got %q", got)
	}
}

func TestSecurity(t *testing.T) {
	wrappedHandler := Security(okHandler())

	req := httptest.NewRequest("GET", "/test", nil)
	w := httptest.NewRecorder()
	wrappedHandler.ServeHTTP(w, req)

	expectedHeaders := map[string]string{
		"X-Content-Type-Options":    "nosniff",
		"X-Frame-Options":           "DENY",
		"X-XSS-Protection":          "1; mode=block",
		"Strict-Transport-Security": "max-age=31536000; includeSubDomains",
		"Content-Security-Policy":   "default-src 'self'",
		"Referrer-Policy":           "strict-origin-when-cross-origin",
	}

	for header, expectedValue := range expectedHeaders {
		if actualValue := w.Header().Get(header); actualValue != expectedValue {
			t.Errorf("Expected header %s: %s, got %s", header, expectedValue, actualValue)
		}
	}
	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}
}

func TestRateLimit(t *testing.T) {
	// 2 requests per minute: a burst of two, then throttled
	wrappedHandler := RateLimit(2)(okHandler())

	for i, port := range []string{"12345", "12346", "12347"} {
		req := httptest.NewRequest("GET", "/test", nil)
		req.RemoteAddr = "192.168.1.1:" + port
		w := httptest.NewRecorder()
		wrappedHandler.ServeHTTP(w, req)

		if i < 2 && w.Code != http.StatusOK {
			t.Errorf("Expected request %d to succeed, got status %d", i+1, w.Code)
		}
		if i == 2 {
			if w.Code != http.StatusTooManyRequests {
				t.Errorf("Expected third request to be rate limited, got status %d", w.Code)
			}
			if got := w.Header().Get("Retry-After"); got != "30" {
				t.Errorf("Expected Retry-After header '30', got %s", got)
			}
		}
	}

	// another client has its own bucket
	req := httptest.NewRequest("GET", "/test", nil)
	req.RemoteAddr = "10.0.0.7:1000"
	w := httptest.NewRecorder()
	wrappedHandler.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("Expected other client to pass, got %d", w.Code)
	}
}

func TestRateLimit_Disabled(t *testing.T) {
	wrappedHandler := RateLimit(0)(okHandler())
	for i := 0; i < 50; i++ {
		w := httptest.NewRecorder()
		wrappedHandler.ServeHTTP(w, httptest.NewRequest("GET", "/test", nil))
		if w.Code != http.StatusOK {
			t.Fatalf("request %d limited with limiter disabled", i)
		}
	}
}

func TestAdminSecret(t *testing.T) {
	tests := []struct {
		name   string
		secret string
		header string
		want   int
	}{
		{"not configured", "", "anything", http.StatusForbidden},
		{"missing header", "s3cret", "", http.StatusForbidden},
		{"wrong secret", "s3cret", "guess", http.StatusForbidden},
		{"correct secret", "s3cret", "s3cret", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/v1/admin/jobs/match", nil)
			if tt.header != "" {
				req.Header.Set(AdminHeader, tt.header)
			}
			w := httptest.NewRecorder()
			AdminSecret(tt.secret)(okHandler()).ServeHTTP(w, req)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

func TestCORS(t *testing.T) {
	handler := okHandler()

	allowedOrigins := []string{"https://example.com", "https://app.example.com"}
	wrappedHandler := CORS(allowedOrigins)(handler)

	tests := []struct {
		name           string
		origin         string
		method         string
		expectedStatus int
		expectOrigin   bool
	}{
		{
			name:           "Allowed origin",
			origin:         "https://example.com",
			method:         "GET",
			expectedStatus: http.StatusOK,
			expectOrigin:   true,
		},
		{
			name:           "Disallowed origin",
			origin:         "https://malicious.com",
			method:         "GET",
			expectedStatus: http.StatusOK,
			expectOrigin:   false,
		},
		{
			name:           "OPTIONS request",
			origin:         "https://example.com",
			method:         "OPTIONS",
			expectedStatus: http.StatusOK,
			expectOrigin:   true,
		},
		{
			name:           "Wildcard origin",
			origin:         "https://any.com",
			method:         "GET",
			expectedStatus: http.StatusOK,
			expectOrigin:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/test", nil)
			req.Header.Set("Origin", tt.origin)
			w := httptest.NewRecorder()

			wrappedHandler.ServeHTTP(w, req)

			if w.Code != tt.expectedStatus {
				t.Errorf("Expected status %d, got %d", tt.expectedStatus, w.Code)
			}

			// Check CORS headers
			allowMethods := w.Header().Get("Access-Control-Allow-Methods")
			if !strings.Contains(allowMethods, "GET") {
				t.Error("Expected Access-Control-Allow-Methods to contain GET")
			}

			allowHeaders := w.Header().Get("Access-Control-Allow-Headers")
			if !strings.Contains(allowHeaders, "Content-Type") || !strings.Contains(allowHeaders, AdminHeader) {
				t.Errorf("Expected Access-Control-Allow-Headers to contain Content-Type and %s", AdminHeader)
			}

			maxAge := w.Header().Get("Access-Control-Max-Age")
			if maxAge != "86400" {
				t.Errorf("Expected Access-Control-Max-Age '86400', got %s", maxAge)
			}

			// Check origin header
			allowOrigin := w.Header().Get("Access-Control-Allow-Origin")
			if tt.expectOrigin && allowOrigin != tt.origin {
				t.Errorf("Expected Access-Control-Allow-Origin %s, got %s", tt.origin, allowOrigin)
			}
			if !tt.expectOrigin && allowOrigin == tt.origin {
				t.Errorf("Did not expect Access-Control-Allow-Origin to be set to %s", tt.origin)
			}
		})
	}

	// Test wildcard origin
	t.Run("Wildcard origin", func(t *testing.T) {
		wildcardHandler := CORS([]string{"*"})(handler)

		req := httptest.NewRequest("GET", "/test", nil)
		req.Header.Set("Origin", "https://any.com")
		w := httptest.NewRecorder()

		wildcardHandler.ServeHTTP(w, req)

		allowOrigin := w.Header().Get("Access-Control-Allow-Origin")
		if allowOrigin != "https://any.com" {
			t.Errorf("Expected wildcard to allow any origin, got %s", allowOrigin)
		}
	})
}
