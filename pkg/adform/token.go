package adform

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

const defaultTokenURL = "https://id.adform.com/sts/connect/token"

// TokenClient exchanges refresh tokens at the Adform identity server.
type TokenClient interface {
	// Refresh exchanges a refresh token for a new access/refresh token pair.
	// Adform refresh tokens are single use, so callers must not retry.
	Refresh(ctx context.Context, clientID, clientSecret, refreshToken string) (*TokenResponse, error)
}

// TokenResponse is the token endpoint reply.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
	TokenType    string `json:"token_type"`
}

// TokenOption configures the token client.
type TokenOption func(*tokenClient)

// WithTokenURL overrides the token endpoint.
func WithTokenURL(u string) TokenOption {
	return func(c *tokenClient) {
		c.tokenURL = u
	}
}

// WithTokenHTTPClient overrides the default http.Client.
func WithTokenHTTPClient(hc *http.Client) TokenOption {
	return func(c *tokenClient) {
		c.http = hc
	}
}

type tokenClient struct {
	tokenURL string
	http     *http.Client
}

// NewTokenClient creates an identity server client.
func NewTokenClient(opts ...TokenOption) TokenClient {
	c := &tokenClient{
		tokenURL: defaultTokenURL,
		http: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *tokenClient) Refresh(ctx context.Context, clientID, clientSecret, refreshToken string) (*TokenResponse, error) {
	form := url.Values{}
	form.Set("client_id", clientID)
	form.Set("client_secret", clientSecret)
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)
	form.Set("scope", "offline_access")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, eris.Wrap(err, "adform: create token request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "adform: send token request")
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "adform: read token response")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, eris.Errorf("adform: token unexpected status %d: %s", resp.StatusCode, truncate(body))
	}

	var tok TokenResponse
	if err := json.Unmarshal(body, &tok); err != nil {
		return nil, eris.Wrap(err, "adform: unmarshal token response")
	}
	if tok.AccessToken == "" || tok.RefreshToken == "" {
		return nil, eris.New("adform: token response is missing access_token or refresh_token")
	}
	return &tok, nil
}
