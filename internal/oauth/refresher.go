// Package oauth implements the AWS SSO OIDC token refresh flow used to keep
// a Credential's bearer token fresh (spec.md §4.C), grounded on the
// teacher's internal/auth/kiro/kiro_auth.go token-exchange shape.
package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kiroproxy/kiroproxy/internal/credential"
	"golang.org/x/sync/singleflight"
)

// publicClientID is used for Social/BuilderId refreshes when the credential
// does not carry an explicit client id, mirroring Kiro's own public client.
const publicClientID = "kiroproxy-public-client"

// ErrorClass distinguishes non-retryable auth failures from transient ones
// (spec.md §4.C: "On 4xx, returns AuthInvalid... On 5xx or network error,
// returns AuthTransient").
type ErrorClass int

const (
	ClassNone ErrorClass = iota
	ClassAuthInvalid
	ClassAuthTransient
)

// RefreshError wraps a classified OAuth failure.
type RefreshError struct {
	Class ErrorClass
	Err   error
}

func (e *RefreshError) Error() string { return e.Err.Error() }
func (e *RefreshError) Unwrap() error { return e.Err }

// HTTPClientFor resolves the (possibly proxy-specific) HTTP client to use
// for a given credential. Implemented by internal/httptransport.
type HTTPClientFor func(cred *credential.Credential) *http.Client

// Refresher obtains and caches access tokens per credential, de-duplicating
// concurrent refreshes for the same credential via singleflight
// (spec.md §4.C, §9 "OAuth single-flight").
type Refresher struct {
	clientFor HTTPClientFor
	skew      time.Duration
	flights   singleflight.Group
}

// NewRefresher builds a Refresher. skew is the minimum remaining lifetime
// before a cached token is considered stale.
func NewRefresher(clientFor HTTPClientFor, skew time.Duration) *Refresher {
	return &Refresher{clientFor: clientFor, skew: skew}
}

// GetOrRefresh returns a valid bearer token for cred, refreshing it if the
// cached token has less than skew remaining (spec.md §4.C).
func (r *Refresher) GetOrRefresh(ctx context.Context, cred *credential.Credential) (string, error) {
	return r.getOrRefresh(ctx, cred, false)
}

// ForceRefresh performs a refresh regardless of the cached token's
// remaining lifetime, used after an upstream 401 (spec.md §3 AccessToken:
// "replaced when expired or when upstream returns 401").
func (r *Refresher) ForceRefresh(ctx context.Context, cred *credential.Credential) (string, error) {
	return r.getOrRefresh(ctx, cred, true)
}

func (r *Refresher) getOrRefresh(ctx context.Context, cred *credential.Credential, force bool) (string, error) {
	if cred == nil {
		return "", &RefreshError{Class: ClassAuthInvalid, Err: fmt.Errorf("oauth: nil credential")}
	}
	if !force {
		if tok := cred.CachedToken(); tok.Valid(r.skew) {
			return tok.Token, nil
		}
	}

	key := fmt.Sprintf("cred-%d", cred.ID)
	v, err, _ := r.flights.Do(key, func() (any, error) {
		return r.doRefresh(ctx, cred)
	})
	if err != nil {
		return "", err
	}
	tok := v.(credential.AccessToken)
	cred.SetCachedToken(tok)
	return tok.Token, nil
}

type tokenResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    int    `json:"expiresIn"`
}

// doRefresh exchanges cred's refresh token for a new access token against
// the AWS SSO OIDC token endpoint in the credential's auth region
// (spec.md §4.C, §6).
func (r *Refresher) doRefresh(ctx context.Context, cred *credential.Credential) (credential.AccessToken, error) {
	endpoint := fmt.Sprintf("https://oidc.%s.amazonaws.com/token", cred.EffectiveAuthRegion())

	clientID := cred.ClientID
	if clientID == "" {
		clientID = publicClientID
	}

	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {cred.RefreshToken},
		"client_id":     {clientID},
	}
	if cred.AuthMethod == credential.AuthMethodIdC && cred.ClientSecret != "" {
		form.Set("client_secret", cred.ClientSecret)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return credential.AccessToken{}, &RefreshError{Class: ClassAuthInvalid, Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	client := http.DefaultClient
	if r.clientFor != nil {
		if c := r.clientFor(cred); c != nil {
			client = c
		}
	}

	resp, err := client.Do(req)
	if err != nil {
		return credential.AccessToken{}, &RefreshError{Class: ClassAuthTransient, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return credential.AccessToken{}, &RefreshError{Class: ClassAuthTransient, Err: err}
	}

	if resp.StatusCode >= 500 {
		return credential.AccessToken{}, &RefreshError{Class: ClassAuthTransient, Err: fmt.Errorf("oauth: upstream status %d", resp.StatusCode)}
	}
	if resp.StatusCode >= 400 {
		return credential.AccessToken{}, &RefreshError{Class: ClassAuthInvalid, Err: fmt.Errorf("oauth: refresh rejected, status %d: %s", resp.StatusCode, string(data))}
	}

	var tr tokenResponse
	if err := json.Unmarshal(data, &tr); err != nil {
		return credential.AccessToken{}, &RefreshError{Class: ClassAuthTransient, Err: err}
	}
	if tr.AccessToken == "" {
		return credential.AccessToken{}, &RefreshError{Class: ClassAuthTransient, Err: fmt.Errorf("oauth: empty access token in response")}
	}

	if tr.RefreshToken != "" {
		cred.RefreshToken = tr.RefreshToken
	}

	return credential.AccessToken{
		Token:     tr.AccessToken,
		ExpiresAt: time.Now().Add(time.Duration(tr.ExpiresIn) * time.Second),
	}, nil
}
