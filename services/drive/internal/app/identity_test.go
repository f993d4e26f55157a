package app

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"filevault/internal/googleid"
	"filevault/pkg/domain"
	"filevault/pkg/store"
)

func TestPasscodeVerifiesOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user, err := env.app.Register(ctx, " Bea ", "Bea@Example.com")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if user.Email != "bea@example.com" || user.FullName != "Bea" || user.AccountID == user.ID {
		t.Fatalf("unexpected user %+v", user)
	}
	code := env.mailer.lastCode(t)
	if env.mailer.sent[0].To != "bea@example.com" {
		t.Fatalf("passcode mailed to %s", env.mailer.sent[0].To)
	}

	wrong := "000000"
	if code == wrong {
		wrong = "111111"
	}
	if _, err := env.app.VerifyPasscode(ctx, user.AccountID, wrong); !errors.Is(err, ErrInvalidOTP) {
		t.Fatalf("expected INVALID_OTP for wrong code, got %v", err)
	}

	res, err := env.app.VerifyPasscode(ctx, user.AccountID, code)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if res.User.ID != user.ID || res.Token == "" || res.Session.UserID != user.ID {
		t.Fatalf("unexpected login result %+v", res)
	}
	if _, err := env.app.ValidateSession(ctx, res.Token); err != nil {
		t.Fatalf("issued session should validate: %v", err)
	}

	if _, err := env.app.VerifyPasscode(ctx, user.AccountID, code); !errors.Is(err, ErrInvalidOTP) {
		t.Fatalf("passcode must not verify twice, got %v", err)
	}
}

// staleListingStore answers every ListActivePasscodes with the first
// listing it saw, the way a second transaction that read before the first
// committed would.
type staleListingStore struct {
	store.Store
	listed *[]domain.Passcode
}

func (s staleListingStore) WithTx(ctx context.Context, fn func(store.Store) error) error {
	return s.Store.WithTx(ctx, func(tx store.Store) error {
		return fn(staleListingStore{Store: tx, listed: s.listed})
	})
}

func (s staleListingStore) ListActivePasscodes(ctx context.Context, userID string, now time.Time) ([]domain.Passcode, error) {
	if *s.listed != nil {
		return append([]domain.Passcode(nil), *s.listed...), nil
	}
	passcodes, err := s.Store.ListActivePasscodes(ctx, userID, now)
	if err != nil {
		return nil, err
	}
	*s.listed = passcodes
	return passcodes, nil
}

func TestPasscodeConsumedOnceUnderStaleListing(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := registerUser(t, env, "Lee", "lee@example.com")
	code := env.mailer.lastCode(t)

	var listed []domain.Passcode
	a := env.build(t, staleListingStore{Store: env.store, listed: &listed})

	first, err := a.VerifyPasscode(ctx, user.AccountID, code)
	if err != nil {
		t.Fatalf("first verify: %v", err)
	}
	if len(listed) != 1 {
		t.Fatalf("expected one listed passcode, got %d", len(listed))
	}
	second, err := a.VerifyPasscode(ctx, user.AccountID, code)
	if !errors.Is(err, ErrInvalidOTP) {
		t.Fatalf("replayed passcode must be rejected, got %v (session %q)", err, second.Session.ID)
	}
	if _, err := env.app.ValidateSession(ctx, first.Token); err != nil {
		t.Fatalf("winning session should validate: %v", err)
	}
}

func TestPasscodeExpiresAfterWindow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user, err := env.app.Register(ctx, "Cy", "cy@example.com")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	code := env.mailer.lastCode(t)

	env.clock.Advance(10 * time.Minute)
	if _, err := env.app.VerifyPasscode(ctx, user.AccountID, code); !errors.Is(err, ErrInvalidOTP) {
		t.Fatalf("expected expired passcode to fail, got %v", err)
	}
}

func TestOlderPasscodesStayValid(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user, err := env.app.Register(ctx, "Dee", "dee@example.com")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	first := env.mailer.lastCode(t)
	env.clock.Advance(time.Minute)
	if _, err := env.app.Login(ctx, "DEE@example.com"); err != nil {
		t.Fatalf("login: %v", err)
	}
	if _, err := env.app.VerifyPasscode(ctx, user.AccountID, first); err != nil {
		t.Fatalf("first passcode should still verify: %v", err)
	}
}

func TestVerifyPasscodeUnknownAccount(t *testing.T) {
	env := newTestEnv(t)
	for _, tc := range []struct{ account, code string }{
		{"missing", "123456"},
		{"", "123456"},
		{"missing", "12ab56"},
	} {
		if _, err := env.app.VerifyPasscode(context.Background(), tc.account, tc.code); !errors.Is(err, ErrInvalidOTP) {
			t.Fatalf("%+v: expected INVALID_OTP, got %v", tc, err)
		}
	}
}

func TestRegisterAndLoginErrors(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	if _, err := env.app.Register(ctx, "Eve", "eve@example.com"); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := env.app.Register(ctx, "Eve Again", "EVE@example.com"); !errors.Is(err, ErrEmailExists) {
		t.Fatalf("expected EMAIL_EXISTS, got %v", err)
	}
	if _, err := env.app.Login(ctx, "nobody@example.com"); !errors.Is(err, ErrEmailNotFound) {
		t.Fatalf("expected EMAIL_NOT_FOUND, got %v", err)
	}
	if _, err := env.app.Register(ctx, "", "x@example.com"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestMailFailureDoesNotFailIssuance(t *testing.T) {
	env := newTestEnv(t)
	env.mailer.err = errors.New("smtp down")
	user, err := env.app.Register(context.Background(), "Fay", "fay@example.com")
	if err != nil {
		t.Fatalf("register should succeed despite mail failure: %v", err)
	}
	code := env.mailer.lastCode(t)
	if _, err := env.app.VerifyPasscode(context.Background(), user.AccountID, code); err != nil {
		t.Fatalf("stored passcode should verify: %v", err)
	}
}

func TestVerifyGoogleCreatesThenReusesUser(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.google.identities["tok"] = googleid.Identity{
		Subject: "g-1", Email: "Gil@Example.com", EmailVerified: true,
		Name: "Gil", Picture: "https://example.com/gil.png", Audience: testClientID,
	}

	first, err := env.app.VerifyGoogle(ctx, "tok")
	if err != nil {
		t.Fatalf("verify google: %v", err)
	}
	if first.User.Email != "gil@example.com" || first.User.FullName != "Gil" || first.User.Avatar == "" {
		t.Fatalf("unexpected user %+v", first.User)
	}
	second, err := env.app.VerifyGoogle(ctx, "tok")
	if err != nil {
		t.Fatalf("second verify: %v", err)
	}
	if second.User.ID != first.User.ID || second.Token == first.Token {
		t.Fatalf("expected same user and a new session")
	}

	// A passcode-registered user signs in with Google under the same email.
	reg, err := env.app.Register(ctx, "Hal", "hal@example.com")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	env.google.identities["hal"] = googleid.Identity{Email: "hal@example.com", EmailVerified: true, Audience: testClientID}
	res, err := env.app.VerifyGoogle(ctx, "hal")
	if err != nil || res.User.ID != reg.ID {
		t.Fatalf("expected existing user, got %+v err=%v", res.User, err)
	}
}

func TestVerifyGoogleRejections(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.google.identities["other-aud"] = googleid.Identity{Email: "a@example.com", EmailVerified: true, Audience: "someone-else"}
	env.google.identities["unverified"] = googleid.Identity{Email: "a@example.com", Audience: testClientID}

	if _, err := env.app.VerifyGoogle(ctx, "other-aud"); !errors.Is(err, ErrBadAudience) {
		t.Fatalf("expected BAD_AUDIENCE, got %v", err)
	}
	if _, err := env.app.VerifyGoogle(ctx, "unverified"); !errors.Is(err, ErrEmailUnverified) {
		t.Fatalf("expected EMAIL_NOT_VERIFIED, got %v", err)
	}
	if _, err := env.app.VerifyGoogle(ctx, "unknown"); !errors.Is(err, ErrInvalidIDToken) {
		t.Fatalf("expected INVALID_ID_TOKEN, got %v", err)
	}
	if _, err := env.app.VerifyGoogle(ctx, ""); !errors.Is(err, ErrInvalidIDToken) {
		t.Fatalf("expected INVALID_ID_TOKEN for empty token, got %v", err)
	}

	env.google.err = googleid.ErrBadAudience
	if _, err := env.app.VerifyGoogle(ctx, "x"); !errors.Is(err, ErrBadAudience) {
		t.Fatalf("expected BAD_AUDIENCE from verifier, got %v", err)
	}
	env.google.err = fmt.Errorf("tokeninfo: %w", errors.New("connection refused"))
	_, err := env.app.VerifyGoogle(ctx, "x")
	if !errors.Is(err, ErrGoogleUpstream) || AsError(err).Kind.HTTPStatus() != 502 {
		t.Fatalf("expected upstream error, got %v", err)
	}
}
