package middleware

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
)

// TestRouterIntegration_PublicAndProtectedRoutes は公開ルートと保護ルートの
// ミドルウェア適用がchi.Routerで正しく動作することを検証する。
func TestRouterIntegration_PublicAndProtectedRoutes(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(&bytes.Buffer{}, nil))
	rl, _ := newTestRateLimiter(DefaultRateLimiterConfig())

	r := chi.NewRouter()
	r.Use(NewRecoveryMiddleware(logger))
	r.Use(NewLoggingMiddleware(logger))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	r.Group(func(r chi.Router) {
		r.Use(NewPrincipalMiddleware(map[string]string{"router-token": "user-router-test"}))
		r.Use(rl.GeneralMiddleware())

		r.Get("/api/accounts", func(w http.ResponseWriter, r *http.Request) {
			principal, _ := PrincipalFromContext(r.Context())
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]string{"principal_id": principal})
		})
		r.With(rl.AccountRegistrationMiddleware()).Post("/api/accounts", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusCreated)
		})
	})

	t.Run("public route needs no principal", func(t *testing.T) {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
		if w.Code != http.StatusOK {
			t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
		}
	})

	t.Run("protected route rejects anonymous", func(t *testing.T) {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/accounts", nil))
		if w.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
		}
	})

	t.Run("protected route with token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/accounts", nil)
		req.Header.Set("Authorization", "Bearer router-token")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
		}
		var body map[string]string
		if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if body["principal_id"] != "user-router-test" {
			t.Errorf("principal_id = %q, want %q", body["principal_id"], "user-router-test")
		}
	})

	t.Run("registration route applies both limits", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/accounts", nil)
		req.Header.Set("Authorization", "Bearer router-token")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		if w.Code != http.StatusCreated {
			t.Fatalf("status = %d, want %d", w.Code, http.StatusCreated)
		}
		if rl.RegistrationLimiterCount() != 1 {
			t.Errorf("RegistrationLimiterCount() = %d, want 1", rl.RegistrationLimiterCount())
		}
	})
}
