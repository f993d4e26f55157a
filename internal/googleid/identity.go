// Package googleid verifies Google ID tokens, either through Google's
// tokeninfo endpoint or locally against Google's published signing keys.
package googleid

import (
	"context"
	"errors"
	"strings"
)

var (
	// ErrInvalidToken means Google rejected the token or its signature or
	// claims did not verify.
	ErrInvalidToken = errors.New("invalid google id token")
	// ErrBadAudience means the token was issued for another client.
	ErrBadAudience = errors.New("bad audience")
)

// Identity is the verified subset of an ID token.
type Identity struct {
	Subject       string
	Email         string
	EmailVerified bool
	Name          string
	Picture       string
	Audience      string
}

// DisplayName returns Name, falling back to the email local part.
func (i Identity) DisplayName() string {
	if name := strings.TrimSpace(i.Name); name != "" {
		return name
	}
	local, _, _ := strings.Cut(i.Email, "@")
	return local
}

// Verifier checks an ID token and returns the identity it asserts.
// Transport failures are returned wrapped; rejections wrap ErrInvalidToken
// or ErrBadAudience.
type Verifier interface {
	Verify(ctx context.Context, idToken string) (Identity, error)
}
