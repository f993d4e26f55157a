package googleid

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"google.golang.org/api/googleapi"
)

// DefaultTokeninfoURL is Google's ID token introspection endpoint. Unlike the
// oauth2/v2 variant it echoes the profile claims of the token.
const DefaultTokeninfoURL = "https://oauth2.googleapis.com/tokeninfo"

// TokeninfoConfig configures TokeninfoVerifier.
type TokeninfoConfig struct {
	ClientID string
	// Endpoint overrides DefaultTokeninfoURL, e.g. for tests.
	Endpoint   string
	HTTPClient *http.Client
}

// TokeninfoVerifier asks Google's tokeninfo endpoint to validate the token.
type TokeninfoVerifier struct {
	clientID   string
	endpoint   string
	httpClient *http.Client
}

var _ Verifier = (*TokeninfoVerifier)(nil)

// tokeninfoClaims is the tokeninfo response. Google encodes booleans as
// strings here.
type tokeninfoClaims struct {
	Aud           string    `json:"aud"`
	Azp           string    `json:"azp"`
	Sub           string    `json:"sub"`
	Email         string    `json:"email"`
	EmailVerified looseBool `json:"email_verified"`
	Name          string    `json:"name"`
	Picture       string    `json:"picture"`
}

type looseBool bool

func (b *looseBool) UnmarshalJSON(data []byte) error {
	switch strings.Trim(strings.TrimSpace(string(data)), `"`) {
	case "true":
		*b = true
	case "false", "", "null":
		*b = false
	default:
		return fmt.Errorf("invalid boolean %s", data)
	}
	return nil
}

// NewTokeninfoVerifier validates the configuration.
func NewTokeninfoVerifier(cfg TokeninfoConfig) (*TokeninfoVerifier, error) {
	clientID := strings.TrimSpace(cfg.ClientID)
	if clientID == "" {
		return nil, errors.New("google client id required")
	}
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		endpoint = DefaultTokeninfoURL
	}
	if _, err := url.Parse(endpoint); err != nil {
		return nil, fmt.Errorf("parse tokeninfo endpoint: %w", err)
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &TokeninfoVerifier{clientID: clientID, endpoint: endpoint, httpClient: httpClient}, nil
}

// Verify implements Verifier.
func (v *TokeninfoVerifier) Verify(ctx context.Context, idToken string) (Identity, error) {
	idToken = strings.TrimSpace(idToken)
	if idToken == "" {
		return Identity{}, ErrInvalidToken
	}
	u, _ := url.Parse(v.endpoint)
	q := u.Query()
	q.Set("id_token", idToken)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return Identity{}, err
	}
	resp, err := v.httpClient.Do(req)
	if err != nil {
		return Identity{}, fmt.Errorf("tokeninfo: %w", err)
	}
	defer googleapi.CloseBody(resp)
	if err := googleapi.CheckResponse(resp); err != nil {
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) && apiErr.Code >= 400 && apiErr.Code < 500 {
			reason := apiErr.Message
			if reason == "" {
				reason = strings.TrimSpace(apiErr.Body)
			}
			return Identity{}, fmt.Errorf("%w: %s", ErrInvalidToken, reason)
		}
		return Identity{}, fmt.Errorf("tokeninfo: %w", err)
	}
	var info tokeninfoClaims
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return Identity{}, fmt.Errorf("decode tokeninfo: %w", err)
	}
	aud := info.Aud
	if aud == "" {
		aud = info.Azp
	}
	if aud != v.clientID {
		return Identity{}, ErrBadAudience
	}
	return Identity{
		Subject:       info.Sub,
		Email:         info.Email,
		EmailVerified: bool(info.EmailVerified),
		Name:          info.Name,
		Picture:       info.Picture,
		Audience:      aud,
	}, nil
}
