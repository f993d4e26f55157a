package store

import (
	"context"
	"errors"
	"time"

	"filevault/pkg/domain"
)

// ErrDuplicateEmail is returned by CreateUser when the email is taken.
var ErrDuplicateEmail = errors.New("email already registered")

// Store persists users, passcodes, sessions and files. Lookups return
// (value, found, error); a missing row is not an error.
type Store interface {
	// WithTx runs fn inside one transaction. fn receives a Store bound to
	// the transaction; a nil return commits, an error or panic rolls back.
	WithTx(ctx context.Context, fn func(Store) error) error

	// users
	CreateUser(ctx context.Context, u domain.User) error
	GetUserByID(ctx context.Context, id string) (domain.User, bool, error)
	GetUserByEmail(ctx context.Context, email string) (domain.User, bool, error)
	GetUserByAccountID(ctx context.Context, accountID string) (domain.User, bool, error)

	// passcodes
	CreatePasscode(ctx context.Context, p domain.Passcode) error
	ListActivePasscodes(ctx context.Context, userID string, now time.Time) ([]domain.Passcode, error)
	// DeletePasscode reports whether a row was removed. Concurrent
	// deleters of one passcode see true exactly once.
	DeletePasscode(ctx context.Context, id string) (bool, error)

	// sessions
	CreateSession(ctx context.Context, s domain.Session) error
	GetSessionByTokenHash(ctx context.Context, tokenHash string) (domain.Session, bool, error)
	DeleteSessionByTokenHash(ctx context.Context, tokenHash string) error

	// files
	SaveFile(ctx context.Context, f domain.File) error
	GetFile(ctx context.Context, id string) (domain.File, bool, error)
	GetFileByShareToken(ctx context.Context, token string) (domain.File, bool, error)
	ListFilesByAccount(ctx context.Context, accountID string) ([]domain.File, error)
	DeleteFile(ctx context.Context, id string) error
}
