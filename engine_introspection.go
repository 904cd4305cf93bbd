package authcore

import (
	"context"
	"time"
)

// TokenIntrospection is the safe introspection view for an access token.
// It intentionally excludes the raw claims map and any key material.
type TokenIntrospection struct {
	Active    bool
	UserID    string
	FamilyID  string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// IntrospectAccessToken reports whether a token is currently acceptable.
// A token that fails verification, or whose session family has been revoked
// since issuance, introspects as inactive rather than returning an error;
// errors are reserved for the engine itself being unusable.
func (e *Engine) IntrospectAccessToken(ctx context.Context, tokenStr string) (TokenIntrospection, error) {
	if !e.ready() {
		return TokenIntrospection{}, ErrEngineNotReady
	}

	claims, err := e.VerifyAccessToken(ctx, tokenStr)
	if err != nil {
		return TokenIntrospection{Active: false}, nil
	}

	out := TokenIntrospection{Active: true}
	if sub, ok := claims["sub"].(string); ok {
		out.UserID = sub
	}
	if fid, ok := claims["fid"].(string); ok {
		out.FamilyID = fid
	}
	if iat, ok := claims["iat"].(float64); ok {
		out.IssuedAt = time.Unix(int64(iat), 0)
	}
	if exp, ok := claims["exp"].(float64); ok {
		out.ExpiresAt = time.Unix(int64(exp), 0)
	}

	if out.FamilyID != "" {
		revoked, err := e.families.IsFamilyRevoked(ctx, out.FamilyID)
		if err != nil {
			return TokenIntrospection{}, err
		}
		if revoked {
			out.Active = false
		}
	}

	return out, nil
}

// ActiveSessionCount counts a user's live session families. Revoked families
// still appear in ListUserSessions for display; they do not count here.
func (e *Engine) ActiveSessionCount(ctx context.Context, userID string) (int, error) {
	sessions, err := e.ListUserSessions(ctx, userID)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, s := range sessions {
		if !s.Revoked {
			n++
		}
	}
	return n, nil
}
