package googleid

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"filevault/internal/clock"
)

const testClientID = "client-123.apps.googleusercontent.com"

func TestTokeninfoVerifier(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/tokeninfo" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		switch r.FormValue("id_token") {
		case "good":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"aud":            testClientID,
				"sub":            "g-1",
				"email":          "dana@example.com",
				"email_verified": "true",
				"name":           "Dana Scully",
				"picture":        "https://example.com/dana.png",
			})
		case "unverified":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"aud":            testClientID,
				"email":          "fox@example.com",
				"email_verified": "false",
			})
		case "other-aud":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"aud":   "someone-else",
				"email": "dana@example.com",
			})
		case "broken":
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"error":{"code":500,"message":"backend error"}}`))
		default:
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid_token","error_description":"Invalid Value"}`))
		}
	}))
	defer srv.Close()

	v, err := NewTokeninfoVerifier(TokeninfoConfig{ClientID: testClientID, Endpoint: srv.URL + "/tokeninfo"})
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	ctx := context.Background()

	id, err := v.Verify(ctx, "good")
	if err != nil {
		t.Fatalf("verify good: %v", err)
	}
	if id.Email != "dana@example.com" || !id.EmailVerified || id.Subject != "g-1" {
		t.Fatalf("unexpected identity %+v", id)
	}
	if id.Name != "Dana Scully" || id.DisplayName() != "Dana Scully" || id.Picture != "https://example.com/dana.png" {
		t.Fatalf("expected profile claims, got %+v", id)
	}
	id, err = v.Verify(ctx, "unverified")
	if err != nil {
		t.Fatalf("verify unverified: %v", err)
	}
	if id.EmailVerified || id.DisplayName() != "fox" {
		t.Fatalf("unexpected identity %+v", id)
	}
	if _, err := v.Verify(ctx, "other-aud"); !errors.Is(err, ErrBadAudience) {
		t.Fatalf("expected bad audience, got %v", err)
	}
	if _, err := v.Verify(ctx, "forged"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected invalid token, got %v", err)
	}
	_, err = v.Verify(ctx, "broken")
	if err == nil || errors.Is(err, ErrInvalidToken) {
		t.Fatalf("server errors must not look like rejections: %v", err)
	}
	if _, err := v.Verify(ctx, " "); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("blank token must be rejected: %v", err)
	}
}

func TestNewVerifiersRequireClientID(t *testing.T) {
	if _, err := NewTokeninfoVerifier(TokeninfoConfig{}); err == nil {
		t.Fatalf("expected tokeninfo verifier to require client id")
	}
	if _, err := NewJWKSVerifier(JWKSConfig{}); err == nil {
		t.Fatalf("expected jwks verifier to require client id")
	}
}

type jwksFixture struct {
	keys    map[string]*rsa.PrivateKey
	active  atomic.Value
	fetches atomic.Int32
	srv     *httptest.Server
}

func newJWKSFixture(t *testing.T) *jwksFixture {
	t.Helper()
	f := &jwksFixture{keys: map[string]*rsa.PrivateKey{}}
	for _, kid := range []string{"kid-1", "kid-2"} {
		key, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			t.Fatalf("generate key: %v", err)
		}
		f.keys[kid] = key
	}
	f.active.Store("kid-1")
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		f.fetches.Add(1)
		kid := f.active.Load().(string)
		w.Header().Set("Cache-Control", "public, max-age=3600")
		_ = json.NewEncoder(w).Encode(map[string]any{"keys": []map[string]string{toJWK(kid, f.keys[kid].PublicKey)}})
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *jwksFixture) sign(t *testing.T, kid string, claims googleClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = kid
	signed, err := tok.SignedString(f.keys[kid])
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return signed
}

func validClaims(now time.Time) googleClaims {
	return googleClaims{
		Email:         "erin@example.com",
		EmailVerified: true,
		Name:          "Erin Example",
		Picture:       "https://example.com/erin.png",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "g-erin",
			Issuer:    "https://accounts.google.com",
			Audience:  jwt.ClaimStrings{testClientID},
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
}

func TestJWKSVerifierAcceptsAndRotates(t *testing.T) {
	f := newJWKSFixture(t)
	clk := clock.NewFixed(time.Now())
	v, err := NewJWKSVerifier(JWKSConfig{ClientID: testClientID, JWKSURL: f.srv.URL, Clock: clk})
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	ctx := context.Background()

	id, err := v.Verify(ctx, f.sign(t, "kid-1", validClaims(clk.Now())))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if id.Email != "erin@example.com" || id.Name != "Erin Example" || id.Picture == "" || id.Audience != testClientID {
		t.Fatalf("unexpected identity %+v", id)
	}

	f.active.Store("kid-2")
	if _, err := v.Verify(ctx, f.sign(t, "kid-2", validClaims(clk.Now()))); err != nil {
		t.Fatalf("verify after rotation: %v", err)
	}
	if n := f.fetches.Load(); n != 2 {
		t.Fatalf("expected 2 jwks fetches, got %d", n)
	}
}

func TestJWKSVerifierRejections(t *testing.T) {
	f := newJWKSFixture(t)
	clk := clock.NewFixed(time.Now())
	v, err := NewJWKSVerifier(JWKSConfig{ClientID: testClientID, JWKSURL: f.srv.URL, Clock: clk, Leeway: time.Second})
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	ctx := context.Background()
	now := clk.Now()

	wrongAud := validClaims(now)
	wrongAud.Audience = jwt.ClaimStrings{"other-client"}
	if _, err := v.Verify(ctx, f.sign(t, "kid-1", wrongAud)); !errors.Is(err, ErrBadAudience) {
		t.Fatalf("expected bad audience, got %v", err)
	}

	wrongIss := validClaims(now)
	wrongIss.Issuer = "https://evil.example.com"
	if _, err := v.Verify(ctx, f.sign(t, "kid-1", wrongIss)); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected invalid issuer, got %v", err)
	}

	expired := validClaims(now.Add(-2 * time.Hour))
	if _, err := v.Verify(ctx, f.sign(t, "kid-1", expired)); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected expired token to fail, got %v", err)
	}

	if _, err := v.Verify(ctx, "not-a-jwt"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected malformed token to fail, got %v", err)
	}
}

func TestJWKSVerifierFetchFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()
	v, _ := NewJWKSVerifier(JWKSConfig{ClientID: testClientID, JWKSURL: srv.URL})
	_, err := v.Verify(context.Background(), "a.b.c")
	if err == nil || errors.Is(err, ErrInvalidToken) {
		t.Fatalf("fetch failures must surface as transport errors: %v", err)
	}
}

func TestParseCacheMaxAge(t *testing.T) {
	if got := parseCacheMaxAge("public, max-age=19845, must-revalidate"); got != 19845*time.Second {
		t.Fatalf("unexpected max-age %v", got)
	}
	if got := parseCacheMaxAge("no-store"); got != 0 {
		t.Fatalf("expected 0, got %v", got)
	}
}

func toJWK(kid string, key rsa.PublicKey) map[string]string {
	return map[string]string{
		"kty": "RSA",
		"kid": kid,
		"n":   base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
		"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
	}
}
