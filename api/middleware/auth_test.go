package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/cardvault/marketplace-backend/pkg/auth"
	"github.com/cardvault/marketplace-backend/pkg/config"
)

var authCfg = config.JWTConfig{Secret: "secret", Issuer: "https://auth.cardvault.test/auth/v1", Audience: "authenticated"}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestAuthRejectsMissingToken(t *testing.T) {
	handler := Auth(authCfg, nil)(okHandler())

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/", nil))
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", resp.Code)
	}
}

func TestAuthRejectsInvalidToken(t *testing.T) {
	handler := Auth(authCfg, nil)(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer invalid")
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", resp.Code)
	}
}

func TestAuthRejectsForeignIssuer(t *testing.T) {
	foreign := authCfg
	foreign.Issuer = "https://elsewhere.test"
	token, err := auth.MintAccessToken(foreign, time.Now(), time.Hour, uuid.New(), "")
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	handler := Auth(authCfg, nil)(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", resp.Code)
	}
}

func TestAuthAllowsValidToken(t *testing.T) {
	userID := uuid.New()
	token, err := auth.MintAccessToken(authCfg, time.Now(), time.Hour, userID, "misty@example.com")
	if err != nil {
		t.Fatalf("mint: %v", err)
	}

	var gotUser uuid.UUID
	var gotRole string
	handler := Auth(authCfg, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser, _ = UserUUIDFromContext(r.Context())
		gotRole = RoleFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "bearer "+token)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
	if gotUser != userID {
		t.Fatalf("expected user %s got %s", userID, gotUser)
	}
	if gotRole != "authenticated" {
		t.Fatalf("expected role authenticated got %s", gotRole)
	}
}
