package authcore

import (
	"context"
	"testing"

	"github.com/golang-jwt/jwt/v5"
)

func TestIntrospectAccessToken(t *testing.T) {
	engine, _ := newTestEngine(t, engineTestConfig(), nil)
	ctx := context.Background()

	familyID, err := engine.CreateSessionFamily(ctx, "user-1", "jti-0", "hash-0")
	if err != nil {
		t.Fatalf("CreateSessionFamily failed: %v", err)
	}

	token, err := engine.SignAccessToken(ctx, jwt.MapClaims{
		"sub": "user-1",
		"fid": familyID,
	})
	if err != nil {
		t.Fatalf("SignAccessToken failed: %v", err)
	}

	info, err := engine.IntrospectAccessToken(ctx, token)
	if err != nil {
		t.Fatalf("IntrospectAccessToken failed: %v", err)
	}
	if !info.Active {
		t.Fatal("freshly signed token should introspect as active")
	}
	if info.UserID != "user-1" || info.FamilyID != familyID {
		t.Errorf("info = %+v, want sub user-1 and family %s", info, familyID)
	}
	if info.ExpiresAt.IsZero() || info.IssuedAt.IsZero() {
		t.Error("timestamps should be populated from claims")
	}

	// Revoking the family deactivates the token without a verification error.
	if err := engine.RevokeFamily(ctx, familyID, ReasonLogout); err != nil {
		t.Fatalf("RevokeFamily failed: %v", err)
	}
	info, err = engine.IntrospectAccessToken(ctx, token)
	if err != nil {
		t.Fatalf("IntrospectAccessToken after revoke failed: %v", err)
	}
	if info.Active {
		t.Error("token of a revoked family should introspect as inactive")
	}
}

func TestIntrospectGarbageTokenInactiveNotError(t *testing.T) {
	engine, _ := newTestEngine(t, engineTestConfig(), nil)

	info, err := engine.IntrospectAccessToken(context.Background(), "not-a-jwt")
	if err != nil {
		t.Fatalf("garbage token should not error, got %v", err)
	}
	if info.Active {
		t.Error("garbage token should be inactive")
	}
}

func TestActiveSessionCount(t *testing.T) {
	engine, _ := newTestEngine(t, engineTestConfig(), nil)
	ctx := context.Background()

	for i, jti := range []string{"a", "b", "c"} {
		if _, err := engine.CreateSessionFamily(ctx, "user-7", jti, jti); err != nil {
			t.Fatalf("CreateSessionFamily %d failed: %v", i, err)
		}
	}

	n, err := engine.ActiveSessionCount(ctx, "user-7")
	if err != nil {
		t.Fatalf("ActiveSessionCount failed: %v", err)
	}
	if n != 3 {
		t.Errorf("count = %d, want 3", n)
	}

	if _, err := engine.RevokeAllUserSessions(ctx, "user-7", ""); err != nil {
		t.Fatalf("RevokeAllUserSessions failed: %v", err)
	}
	n, err = engine.ActiveSessionCount(ctx, "user-7")
	if err != nil {
		t.Fatalf("ActiveSessionCount after revoke failed: %v", err)
	}
	if n != 0 {
		t.Errorf("count after revoke-all = %d, want 0", n)
	}
}
