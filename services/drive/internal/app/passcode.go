package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"filevault/internal/mailer"
	"filevault/internal/util"
	"filevault/pkg/auth"
	"filevault/pkg/domain"
	"filevault/pkg/store"
)

// Register creates a user for email and sends the first passcode. An email
// that is already registered yields ErrEmailExists.
func (a *App) Register(ctx context.Context, fullName, email string) (domain.User, error) {
	email = domain.NormalizeEmail(email)
	fullName = strings.TrimSpace(fullName)
	if email == "" || fullName == "" {
		return domain.User{}, ErrInvalidInput
	}
	if _, ok, err := a.store.GetUserByEmail(ctx, email); err != nil {
		return domain.User{}, fmt.Errorf("lookup user: %w", err)
	} else if ok {
		return domain.User{}, ErrEmailExists
	}
	user := a.newUser(fullName, email, "")
	if err := a.store.CreateUser(ctx, user); err != nil {
		if errors.Is(err, store.ErrDuplicateEmail) {
			return domain.User{}, ErrEmailExists
		}
		return domain.User{}, fmt.Errorf("create user: %w", err)
	}
	if err := a.issuePasscode(ctx, user); err != nil {
		return domain.User{}, err
	}
	return user, nil
}

// Login sends a fresh passcode to a registered email.
func (a *App) Login(ctx context.Context, email string) (domain.User, error) {
	email = domain.NormalizeEmail(email)
	if email == "" {
		return domain.User{}, ErrInvalidInput
	}
	user, ok, err := a.store.GetUserByEmail(ctx, email)
	if err != nil {
		return domain.User{}, fmt.Errorf("lookup user: %w", err)
	}
	if !ok {
		return domain.User{}, ErrEmailNotFound
	}
	if err := a.issuePasscode(ctx, user); err != nil {
		return domain.User{}, err
	}
	return user, nil
}

// issuePasscode stores a new passcode hash and mails the code. Earlier
// passcodes stay valid. Delivery failures are logged, not returned.
func (a *App) issuePasscode(ctx context.Context, user domain.User) error {
	code, err := auth.GeneratePasscode()
	if err != nil {
		return err
	}
	hash, err := auth.HashPasscode(code)
	if err != nil {
		return err
	}
	now := a.now()
	if err := a.store.CreatePasscode(ctx, domain.Passcode{
		ID:        uuid.NewString(),
		UserID:    user.ID,
		CodeHash:  hash,
		ExpiresAt: now.Add(a.passcodeTTL),
		CreatedAt: now,
	}); err != nil {
		return fmt.Errorf("create passcode: %w", err)
	}
	if err := a.mailer.SendPasscode(ctx, mailer.PasscodeMessage{To: user.Email, Name: user.FullName, Code: code}); err != nil {
		util.LoggerFromContext(ctx).Warn("passcode delivery failed",
			"component", "passcode",
			"to", util.MaskEmail(user.Email),
			"err", err,
		)
	}
	return nil
}

func (a *App) newUser(fullName, email, avatar string) domain.User {
	now := a.now()
	return domain.User{
		ID:        uuid.NewString(),
		AccountID: uuid.NewString(),
		Email:     domain.NormalizeEmail(email),
		FullName:  fullName,
		Avatar:    avatar,
		CreatedAt: now,
		UpdatedAt: now,
	}
}
