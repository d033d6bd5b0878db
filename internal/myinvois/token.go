package myinvois

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/merlion-labs/einvois/internal/pipeline"
)

// AuthToken is the cached authority OAuth credential. At most one valid token
// is in use per tenant at a time.
type AuthToken struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// TokenStore persists the single active token. Writes overwrite; concurrent
// refreshers converge last-writer-wins since the token is a pure cache.
type TokenStore interface {
	Load(ctx context.Context) (*AuthToken, error)
	Save(ctx context.Context, token AuthToken) error
}

// Credentials identify the integration against the authority auth endpoint.
type Credentials struct {
	ClientID     string
	ClientSecret string
}

// TokenManager owns the access-token lifecycle. Every outbound authority call
// obtains its token here; expiry is checked before each call with a safety
// margin, never reactively after a 401.
type TokenManager struct {
	authURL      string
	creds        Credentials
	store        TokenStore
	safetyMargin time.Duration
	httpClient   *http.Client

	group singleflight.Group
	now   func() time.Time
}

// NewTokenManager constructs a TokenManager.
func NewTokenManager(authURL string, creds Credentials, store TokenStore, safetyMargin time.Duration) *TokenManager {
	if safetyMargin <= 0 {
		safetyMargin = 60 * time.Second
	}
	return &TokenManager{
		authURL:      authURL,
		creds:        creds,
		store:        store,
		safetyMargin: safetyMargin,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		now:          time.Now,
	}
}

// Token returns a valid access token, refreshing when the stored one expires
// within the safety margin. Concurrent callers in the same process collapse
// onto a single refresh.
func (m *TokenManager) Token(ctx context.Context) (string, error) {
	stored, err := m.store.Load(ctx)
	if err != nil {
		return "", fmt.Errorf("myinvois: load token: %w", err)
	}
	if stored != nil && m.now().Add(m.safetyMargin).Before(stored.ExpiresAt) {
		return stored.AccessToken, nil
	}
	if m.creds.ClientID == "" && m.creds.ClientSecret == "" {
		// Nothing cached and no credentials to refresh with.
		return "", ErrNoToken
	}

	ch := m.group.DoChan("token", func() (any, error) {
		return m.refresh(ctx)
	})
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(*AuthToken).AccessToken, nil
	}
}

func (m *TokenManager) refresh(ctx context.Context) (*AuthToken, error) {
	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", m.creds.ClientID)
	form.Set("client_secret", m.creds.ClientSecret)
	form.Set("scope", "InvoicingAPI")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.authURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("myinvois: build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, &pipeline.TransientError{Op: "token refresh", Err: err}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	switch {
	case resp.StatusCode >= 500:
		return nil, &pipeline.TransientError{
			Op:  "token refresh",
			Err: fmt.Errorf("auth endpoint returned status %d", resp.StatusCode),
		}
	case resp.StatusCode >= 400:
		// Credential rejection is fatal for the pass and surfaced to the
		// operator; it is never retried within the same pass.
		return nil, &pipeline.AuthError{Detail: fmt.Sprintf("auth endpoint returned status %d", resp.StatusCode)}
	}

	var grant struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&grant); err != nil {
		return nil, fmt.Errorf("myinvois: decode token response: %w", err)
	}
	if grant.AccessToken == "" {
		return nil, &pipeline.AuthError{Detail: "auth endpoint returned no access token"}
	}

	token := AuthToken{
		AccessToken:  grant.AccessToken,
		RefreshToken: grant.RefreshToken,
		ExpiresAt:    m.now().Add(time.Duration(grant.ExpiresIn) * time.Second),
	}
	if err := m.store.Save(ctx, token); err != nil {
		return nil, fmt.Errorf("myinvois: save token: %w", err)
	}
	return &token, nil
}
