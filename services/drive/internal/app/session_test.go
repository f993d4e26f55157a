package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"filevault/pkg/auth"
)

func TestSessionLifecycle(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user, err := env.app.Register(ctx, "Ann", "ann@example.com")
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	sess, token, err := env.app.IssueSession(ctx, user.ID)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if sess.TokenHash != auth.HashToken(token) || sess.TokenHash == token {
		t.Fatalf("only the token hash may be stored")
	}
	if !sess.ExpiresAt.Equal(testStart.Add(7 * 24 * time.Hour)) {
		t.Fatalf("unexpected expiry %v", sess.ExpiresAt)
	}

	got, err := env.app.ValidateSession(ctx, token)
	if err != nil || got.ID != user.ID {
		t.Fatalf("validate: %+v err=%v", got, err)
	}

	env.clock.Set(sess.ExpiresAt.Add(-time.Nanosecond))
	if _, err := env.app.ValidateSession(ctx, token); err != nil {
		t.Fatalf("session should be valid just before expiry: %v", err)
	}
	env.clock.Set(sess.ExpiresAt)
	if _, err := env.app.ValidateSession(ctx, token); !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("expected SESSION_EXPIRED at expiry, got %v", err)
	}

	env.clock.Set(testStart)
	if err := env.app.RevokeSession(ctx, token); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if _, err := env.app.ValidateSession(ctx, token); !errors.Is(err, ErrInvalidSession) {
		t.Fatalf("expected INVALID_SESSION after revoke, got %v", err)
	}
	if err := env.app.RevokeSession(ctx, token); err != nil {
		t.Fatalf("revoke must be idempotent: %v", err)
	}
}

func TestValidateSessionErrors(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := env.app.ValidateSession(ctx, ""); !errors.Is(err, ErrAuthRequired) {
		t.Fatalf("expected AUTH_REQUIRED, got %v", err)
	}
	if _, err := env.app.ValidateSession(ctx, "forged-token"); !errors.Is(err, ErrInvalidSession) {
		t.Fatalf("expected INVALID_SESSION, got %v", err)
	}

	_, token, err := env.app.IssueSession(ctx, "ghost-user")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := env.app.ValidateSession(ctx, token); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected USER_NOT_FOUND, got %v", err)
	}
}
