package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"filevault/internal/googleid"
	"filevault/pkg/auth"
	"filevault/pkg/domain"
	"filevault/pkg/store"
)

// LoginResult is a completed sign-in: the user, the session row and the
// bearer token that goes into the cookie.
type LoginResult struct {
	User    domain.User
	Session domain.Session
	Token   string
}

// VerifyPasscode checks code against the account's live passcodes. The
// matching passcode is consumed and a session issued in the same
// transaction. Only the caller whose delete removes the row gets a
// session; a concurrent verifier that listed the same passcode loses with
// ErrInvalidOTP.
func (a *App) VerifyPasscode(ctx context.Context, accountID, code string) (LoginResult, error) {
	accountID = strings.TrimSpace(accountID)
	code = strings.TrimSpace(code)
	if accountID == "" || !auth.ValidPasscodeFormat(code) {
		return LoginResult{}, ErrInvalidOTP
	}
	var res LoginResult
	err := a.store.WithTx(ctx, func(tx store.Store) error {
		user, ok, err := tx.GetUserByAccountID(ctx, accountID)
		if err != nil {
			return fmt.Errorf("lookup user: %w", err)
		}
		if !ok {
			return ErrInvalidOTP
		}
		passcodes, err := tx.ListActivePasscodes(ctx, user.ID, a.now())
		if err != nil {
			return fmt.Errorf("list passcodes: %w", err)
		}
		var matched *domain.Passcode
		for i := range passcodes {
			if auth.CheckPasscode(code, passcodes[i].CodeHash) {
				matched = &passcodes[i]
				break
			}
		}
		if matched == nil {
			return ErrInvalidOTP
		}
		consumed, err := tx.DeletePasscode(ctx, matched.ID)
		if err != nil {
			return fmt.Errorf("consume passcode: %w", err)
		}
		if !consumed {
			return ErrInvalidOTP
		}
		sess, token, err := a.issueSession(ctx, tx, user.ID)
		if err != nil {
			return err
		}
		res = LoginResult{User: user, Session: sess, Token: token}
		return nil
	})
	if err != nil {
		return LoginResult{}, err
	}
	return res, nil
}

// VerifyGoogle signs in with a Google ID token, creating the user on first
// use. Find-or-create runs outside a transaction: a concurrent creator
// surfaces as ErrDuplicateEmail and the winner is re-read.
func (a *App) VerifyGoogle(ctx context.Context, idToken string) (LoginResult, error) {
	if strings.TrimSpace(idToken) == "" {
		return LoginResult{}, ErrInvalidIDToken
	}
	identity, err := a.google.Verify(ctx, idToken)
	if err != nil {
		switch {
		case errors.Is(err, googleid.ErrBadAudience):
			return LoginResult{}, ErrBadAudience
		case errors.Is(err, googleid.ErrInvalidToken):
			return LoginResult{}, ErrInvalidIDToken.Wrap(err)
		default:
			return LoginResult{}, ErrGoogleUpstream.Wrap(err)
		}
	}
	if identity.Audience != a.googleClientID {
		return LoginResult{}, ErrBadAudience
	}
	email := domain.NormalizeEmail(identity.Email)
	if email == "" || !identity.EmailVerified {
		return LoginResult{}, ErrEmailUnverified
	}

	user, err := a.findOrCreateUser(ctx, email, identity.DisplayName(), identity.Picture)
	if err != nil {
		return LoginResult{}, err
	}
	sess, token, err := a.IssueSession(ctx, user.ID)
	if err != nil {
		return LoginResult{}, err
	}
	return LoginResult{User: user, Session: sess, Token: token}, nil
}

func (a *App) findOrCreateUser(ctx context.Context, email, fullName, avatar string) (domain.User, error) {
	user, ok, err := a.store.GetUserByEmail(ctx, email)
	if err != nil {
		return domain.User{}, fmt.Errorf("lookup user: %w", err)
	}
	if ok {
		return user, nil
	}
	user = a.newUser(fullName, email, avatar)
	if err := a.store.CreateUser(ctx, user); err != nil {
		if !errors.Is(err, store.ErrDuplicateEmail) {
			return domain.User{}, fmt.Errorf("create user: %w", err)
		}
		existing, ok, err := a.store.GetUserByEmail(ctx, email)
		if err != nil {
			return domain.User{}, fmt.Errorf("lookup user: %w", err)
		}
		if !ok {
			return domain.User{}, errors.New("user vanished after duplicate insert")
		}
		return existing, nil
	}
	return user, nil
}
