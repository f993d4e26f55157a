package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"filevault/pkg/auth"
	"filevault/pkg/domain"
	"filevault/pkg/store"
)

// IssueSession mints a session for userID and returns it with the bearer
// token for the cookie. Only the token hash is persisted.
func (a *App) IssueSession(ctx context.Context, userID string) (domain.Session, string, error) {
	return a.issueSession(ctx, a.store, userID)
}

func (a *App) issueSession(ctx context.Context, st store.Store, userID string) (domain.Session, string, error) {
	token, err := auth.NewSessionToken()
	if err != nil {
		return domain.Session{}, "", err
	}
	now := a.now()
	sess := domain.Session{
		ID:        uuid.NewString(),
		UserID:    userID,
		TokenHash: auth.HashToken(token),
		CreatedAt: now,
		ExpiresAt: now.Add(a.sessionTTL),
	}
	if err := st.CreateSession(ctx, sess); err != nil {
		return domain.Session{}, "", fmt.Errorf("create session: %w", err)
	}
	return sess, token, nil
}

// ValidateSession resolves a cookie token to its user.
func (a *App) ValidateSession(ctx context.Context, token string) (domain.User, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return domain.User{}, ErrAuthRequired
	}
	sess, ok, err := a.store.GetSessionByTokenHash(ctx, auth.HashToken(token))
	if err != nil {
		return domain.User{}, fmt.Errorf("load session: %w", err)
	}
	if !ok {
		return domain.User{}, ErrInvalidSession
	}
	if sess.Expired(a.now()) {
		return domain.User{}, ErrSessionExpired
	}
	user, ok, err := a.store.GetUserByID(ctx, sess.UserID)
	if err != nil {
		return domain.User{}, fmt.Errorf("load user: %w", err)
	}
	if !ok {
		return domain.User{}, ErrUserNotFound
	}
	return user, nil
}

// RevokeSession deletes the session behind token. Unknown or empty tokens
// are ignored.
func (a *App) RevokeSession(ctx context.Context, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil
	}
	if err := a.store.DeleteSessionByTokenHash(ctx, auth.HashToken(token)); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}
