package oauth_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kiroproxy/kiroproxy/internal/credential"
	"github.com/kiroproxy/kiroproxy/internal/oauth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// redirectTransport sends every request to the test server instead of the
// real oidc.<region>.amazonaws.com host the refresher builds itself.
type redirectTransport struct{ target *url.URL }

func (t *redirectTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.URL.Scheme = t.target.Scheme
	req.URL.Host = t.target.Host
	req.Host = t.target.Host
	return http.DefaultTransport.RoundTrip(req)
}

func redirectingClient(t *testing.T, srv *httptest.Server) *http.Client {
	t.Helper()
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	return &http.Client{Transport: &redirectTransport{target: u}}
}

func TestRefresher_GetOrRefresh_UsesCachedTokenWhenFresh(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		_ = json.NewEncoder(w).Encode(map[string]any{"accessToken": "fresh", "expiresIn": 3600})
	}))
	defer srv.Close()
	client := redirectingClient(t, srv)

	cred := &credential.Credential{ID: 1, AuthRegion: "us-east-1", RefreshToken: "rt"}
	cred.SetCachedToken(credential.AccessToken{Token: "cached", ExpiresAt: time.Now().Add(time.Hour)})

	r := oauth.NewRefresher(func(*credential.Credential) *http.Client { return client }, 60*time.Second)
	tok, err := r.GetOrRefresh(t.Context(), cred)
	require.NoError(t, err)
	assert.Equal(t, "cached", tok)
	assert.EqualValues(t, 0, atomic.LoadInt32(&calls))
}

func TestRefresher_GetOrRefresh_CoalescesConcurrentRefreshes(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		time.Sleep(20 * time.Millisecond)
		_ = json.NewEncoder(w).Encode(map[string]any{"accessToken": "new-token", "expiresIn": 3600})
	}))
	defer srv.Close()
	client := redirectingClient(t, srv)

	cred := &credential.Credential{ID: 7, AuthRegion: "us-east-1", RefreshToken: "rt"}
	r := oauth.NewRefresher(func(*credential.Credential) *http.Client { return client }, 60*time.Second)

	var wg sync.WaitGroup
	results := make([]string, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			tok, err := r.GetOrRefresh(t.Context(), cred)
			require.NoError(t, err)
			results[idx] = tok
		}(i)
	}
	wg.Wait()

	for _, tok := range results {
		assert.Equal(t, "new-token", tok)
	}
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls), "concurrent refreshes for the same credential must coalesce into one upstream call")
}

func TestRefresher_DoRefresh_ClassifiesAuthInvalidOn4xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
	}))
	defer srv.Close()
	client := redirectingClient(t, srv)

	cred := &credential.Credential{ID: 2, AuthRegion: "us-east-1", RefreshToken: "rt"}
	r := oauth.NewRefresher(func(*credential.Credential) *http.Client { return client }, 60*time.Second)

	_, err := r.GetOrRefresh(t.Context(), cred)
	require.Error(t, err)
	var rerr *oauth.RefreshError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, oauth.ClassAuthInvalid, rerr.Class)
}

func TestRefresher_DoRefresh_ClassifiesTransientOn5xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()
	client := redirectingClient(t, srv)

	cred := &credential.Credential{ID: 3, AuthRegion: "us-east-1", RefreshToken: "rt"}
	r := oauth.NewRefresher(func(*credential.Credential) *http.Client { return client }, 60*time.Second)

	_, err := r.GetOrRefresh(t.Context(), cred)
	require.Error(t, err)
	var rerr *oauth.RefreshError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, oauth.ClassAuthTransient, rerr.Class)
}

func TestRefresher_DoRefresh_UpdatesRotatedRefreshToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"accessToken":  "access-1",
			"refreshToken": "rotated-refresh",
			"expiresIn":    3600,
		})
	}))
	defer srv.Close()
	client := redirectingClient(t, srv)

	cred := &credential.Credential{ID: 4, AuthRegion: "us-east-1", RefreshToken: "original"}
	r := oauth.NewRefresher(func(*credential.Credential) *http.Client { return client }, 60*time.Second)

	_, err := r.ForceRefresh(t.Context(), cred)
	require.NoError(t, err)
	assert.Equal(t, "rotated-refresh", cred.RefreshToken)
}
