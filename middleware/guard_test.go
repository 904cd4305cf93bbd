package middleware

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"

	authcore "github.com/levipshemish/jewgo-app-sub004"
	"github.com/levipshemish/jewgo-app-sub004/family"
	"github.com/levipshemish/jewgo-app-sub004/keys"
)

func newGuardedEngine(t *testing.T) *authcore.Engine {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cfg := authcore.DefaultConfig()
	cfg.Keys.Algorithm = "ES256"
	cfg.Keys.Issuer = "https://auth.example.test"

	engine, err := authcore.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithKeyStore(keys.NewMemoryStore()).
		WithFamilyStore(family.NewMemoryStore()).
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)

	if err := engine.InitializeKeys(context.Background()); err != nil {
		t.Fatalf("InitializeKeys failed: %v", err)
	}
	return engine
}

func TestGuardAllowsValidToken(t *testing.T) {
	engine := newGuardedEngine(t)

	token, err := engine.SignAccessToken(context.Background(), jwt.MapClaims{"sub": "user-1"})
	if err != nil {
		t.Fatalf("SignAccessToken failed: %v", err)
	}

	var seen authcore.TokenIntrospection
	handler := Guard(engine)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		info, ok := TokenFromContext(r.Context())
		if !ok {
			t.Error("introspection result missing from context")
		}
		seen = info
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if seen.UserID != "user-1" {
		t.Errorf("UserID = %q, want user-1", seen.UserID)
	}
}

func TestGuardRejectsMissingAndBadTokens(t *testing.T) {
	engine := newGuardedEngine(t)
	handler := Guard(engine)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler must not run for rejected requests")
	}))

	cases := map[string]string{
		"no header":    "",
		"empty bearer": "Bearer ",
		"not bearer":   "Basic dXNlcjpwYXNz",
		"garbage":      "Bearer not-a-jwt",
	}
	for name, header := range cases {
		req := httptest.NewRequest(http.MethodGet, "/protected", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("%s: status = %d, want 401", name, rec.Code)
		}
	}
}

func TestGuardRejectsRevokedFamily(t *testing.T) {
	engine := newGuardedEngine(t)
	ctx := context.Background()

	familyID, err := engine.CreateSessionFamily(ctx, "user-1", "jti-0", "hash-0")
	if err != nil {
		t.Fatalf("CreateSessionFamily failed: %v", err)
	}
	token, err := engine.SignAccessToken(ctx, jwt.MapClaims{"sub": "user-1", "fid": familyID})
	if err != nil {
		t.Fatalf("SignAccessToken failed: %v", err)
	}
	if err := engine.RevokeFamily(ctx, familyID, authcore.ReasonLogout); err != nil {
		t.Fatalf("RevokeFamily failed: %v", err)
	}

	handler := Guard(engine)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler must not run after family revocation")
	}))
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestGuardNilEngine(t *testing.T) {
	handler := Guard(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler must not run with nil engine")
	}))
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer whatever")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}
