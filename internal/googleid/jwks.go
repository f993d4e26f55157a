package googleid

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"golang.org/x/sync/singleflight"

	"filevault/internal/clock"
)

const (
	DefaultJWKSURL      = "https://www.googleapis.com/oauth2/v3/certs"
	defaultLeeway       = 30 * time.Second
	defaultJWKSCacheTTL = 5 * time.Minute
)

var (
	googleIssuers = []string{"accounts.google.com", "https://accounts.google.com"}
	errUnknownKey = errors.New("unknown token key")
)

// JWKSConfig configures JWKSVerifier.
type JWKSConfig struct {
	ClientID   string
	JWKSURL    string
	Leeway     time.Duration
	HTTPClient *http.Client
	Clock      clock.Clock
}

// JWKSVerifier validates RS256 ID tokens locally against Google's JWKS.
// Keys are cached for the max-age Google sends and refetched when a token
// names an unknown kid.
type JWKSVerifier struct {
	clientID   string
	jwksURL    string
	leeway     time.Duration
	httpClient *http.Client
	clock      clock.Clock
	refresh    singleflight.Group

	mu         sync.RWMutex
	rsaKeys    map[string]*rsa.PublicKey
	keysExpire time.Time
}

var _ Verifier = (*JWKSVerifier)(nil)

type googleClaims struct {
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
	Picture       string `json:"picture"`
	jwt.RegisteredClaims
}

// NewJWKSVerifier creates a verifier. Keys are fetched on first use.
func NewJWKSVerifier(cfg JWKSConfig) (*JWKSVerifier, error) {
	clientID := strings.TrimSpace(cfg.ClientID)
	if clientID == "" {
		return nil, errors.New("google client id required")
	}
	jwksURL := strings.TrimSpace(cfg.JWKSURL)
	if jwksURL == "" {
		jwksURL = DefaultJWKSURL
	}
	leeway := cfg.Leeway
	if leeway <= 0 {
		leeway = defaultLeeway
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 5 * time.Second}
	}
	return &JWKSVerifier{
		clientID:   clientID,
		jwksURL:    jwksURL,
		leeway:     leeway,
		httpClient: httpClient,
		clock:      clock.OrSystem(cfg.Clock),
	}, nil
}

// Verify implements Verifier.
func (v *JWKSVerifier) Verify(ctx context.Context, idToken string) (Identity, error) {
	idToken = strings.TrimSpace(idToken)
	if idToken == "" {
		return Identity{}, ErrInvalidToken
	}
	if v.keysExpired() {
		if err := v.refreshJWKS(ctx); err != nil {
			return Identity{}, err
		}
	}
	claims, err := v.parse(idToken)
	if errors.Is(err, errUnknownKey) {
		if err := v.refreshJWKS(ctx); err != nil {
			return Identity{}, err
		}
		claims, err = v.parse(idToken)
	}
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenInvalidAudience):
			return Identity{}, ErrBadAudience
		default:
			return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
		}
	}
	if !validIssuer(claims.Issuer) {
		return Identity{}, fmt.Errorf("%w: unexpected issuer %q", ErrInvalidToken, claims.Issuer)
	}
	return Identity{
		Subject:       claims.Subject,
		Email:         claims.Email,
		EmailVerified: claims.EmailVerified,
		Name:          claims.Name,
		Picture:       claims.Picture,
		Audience:      v.clientID,
	}, nil
}

func (v *JWKSVerifier) parse(token string) (googleClaims, error) {
	claims := googleClaims{}
	keys := v.copyKeys()
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		key, ok := keys[strings.TrimSpace(kid)]
		if !ok {
			return nil, errUnknownKey
		}
		return key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithAudience(v.clientID),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(v.leeway),
		jwt.WithTimeFunc(v.clock.Now),
	)
	if err != nil || !parsed.Valid {
		if err == nil {
			err = errors.New("invalid token")
		}
		return claims, err
	}
	return claims, nil
}

func validIssuer(iss string) bool {
	for _, allowed := range googleIssuers {
		if iss == allowed {
			return true
		}
	}
	return false
}

func (v *JWKSVerifier) keysExpired() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.rsaKeys) == 0 || !v.clock.Now().Before(v.keysExpire)
}

func (v *JWKSVerifier) copyKeys() map[string]*rsa.PublicKey {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make(map[string]*rsa.PublicKey, len(v.rsaKeys))
	for kid, key := range v.rsaKeys {
		out[kid] = key
	}
	return out
}

// refreshJWKS collapses concurrent refreshes into one fetch.
func (v *JWKSVerifier) refreshJWKS(ctx context.Context) error {
	_, err, _ := v.refresh.Do("jwks", func() (any, error) {
		return nil, v.fetchJWKS(ctx)
	})
	return err
}

func (v *JWKSVerifier) fetchJWKS(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.jwksURL, nil)
	if err != nil {
		return err
	}
	resp, err := v.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("fetch jwks: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch jwks: status %d", resp.StatusCode)
	}

	var payload struct {
		Keys []struct {
			Kty string `json:"kty"`
			Kid string `json:"kid"`
			N   string `json:"n"`
			E   string `json:"e"`
		} `json:"keys"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return fmt.Errorf("decode jwks: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(payload.Keys))
	for _, k := range payload.Keys {
		if strings.ToUpper(strings.TrimSpace(k.Kty)) != "RSA" {
			continue
		}
		kid := strings.TrimSpace(k.Kid)
		if kid == "" {
			continue
		}
		pub, err := parseRSAPublicKey(k.N, k.E)
		if err != nil {
			continue
		}
		keys[kid] = pub
	}
	if len(keys) == 0 {
		return errors.New("jwks contains no usable rsa keys")
	}

	ttl := parseCacheMaxAge(resp.Header.Get("Cache-Control"))
	if ttl <= 0 {
		ttl = defaultJWKSCacheTTL
	}

	v.mu.Lock()
	v.rsaKeys = keys
	v.keysExpire = v.clock.Now().Add(ttl)
	v.mu.Unlock()
	return nil
}

func parseRSAPublicKey(nRaw, eRaw string) (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(strings.TrimSpace(nRaw))
	if err != nil {
		return nil, err
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(strings.TrimSpace(eRaw))
	if err != nil {
		return nil, err
	}
	n := new(big.Int).SetBytes(nBytes)
	eBig := new(big.Int).SetBytes(eBytes)
	if n.Sign() <= 0 || !eBig.IsInt64() {
		return nil, errors.New("invalid rsa key")
	}
	e := int(eBig.Int64())
	if e <= 0 {
		return nil, errors.New("invalid rsa exponent")
	}
	return &rsa.PublicKey{N: n, E: e}, nil
}

func parseCacheMaxAge(cacheControl string) time.Duration {
	for _, part := range strings.Split(cacheControl, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		raw, ok := strings.CutPrefix(part, "max-age=")
		if !ok {
			continue
		}
		secs, err := time.ParseDuration(strings.TrimSpace(raw) + "s")
		if err != nil {
			return 0
		}
		return secs
	}
	return 0
}
