package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestAPIKeyMiddleware_NotRequired(t *testing.T) {
	handler := APIKeyMiddleware("secret", false, nil)(okHandler())

	req := httptest.NewRequest("GET", "/cache", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("Expected status %d when auth disabled, got %d", http.StatusOK, rec.Code)
	}
}

func TestAPIKeyMiddleware_PublicPaths(t *testing.T) {
	tests := []struct {
		name string
		path string
		want int
	}{
		{"exact public path", "/health", http.StatusOK},
		{"room path via prefix wildcard", "/rooms/abc-123/pool", http.StatusOK},
		{"websocket path via prefix wildcard", "/ws/abc-123", http.StatusOK},
		{"management path requires key", "/cache", http.StatusUnauthorized},
		{"stats path requires key", "/stats", http.StatusUnauthorized},
	}

	publicPaths := []string{"/", "/health", "/rooms*", "/ws*"}
	handler := APIKeyMiddleware("secret", true, publicPaths)(okHandler())

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", tt.path, nil)
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tt.want {
				t.Errorf("Expected status %d for %s, got %d", tt.want, tt.path, rec.Code)
			}
		})
	}
}

func TestAPIKeyMiddleware_ValidKey(t *testing.T) {
	handler := APIKeyMiddleware("secret", true, nil)(okHandler())

	req := httptest.NewRequest("GET", "/cache", nil)
	req.Header.Set("X-API-Key", "secret")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("Expected status %d with valid key, got %d", http.StatusOK, rec.Code)
	}
	if got := rec.Header().Get("X-Auth-Mode"); got != "authenticated" {
		t.Errorf("Expected X-Auth-Mode 'authenticated', got %q", got)
	}
}

func TestAPIKeyMiddleware_InvalidKey(t *testing.T) {
	handler := APIKeyMiddleware("secret", true, nil)(okHandler())

	req := httptest.NewRequest("GET", "/cache", nil)
	req.Header.Set("X-API-Key", "wrong")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("Expected status %d with invalid key, got %d", http.StatusUnauthorized, rec.Code)
	}
}

func TestAPIKeyMiddleware_RequiredButUnconfigured(t *testing.T) {
	handler := APIKeyMiddleware("", true, nil)(okHandler())

	req := httptest.NewRequest("GET", "/cache", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("Expected status %d when no key configured, got %d", http.StatusOK, rec.Code)
	}
}
