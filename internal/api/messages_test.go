package api_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kiroproxy/kiroproxy/internal/api"
	"github.com/kiroproxy/kiroproxy/internal/config"
	"github.com/kiroproxy/kiroproxy/internal/credential"
	"github.com/kiroproxy/kiroproxy/internal/dispatcher"
	"github.com/kiroproxy/kiroproxy/internal/eventstream"
	"github.com/kiroproxy/kiroproxy/internal/oauth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type redirectTransport struct{ target *url.URL }

func (t *redirectTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.URL.Scheme = t.target.Scheme
	req.URL.Host = t.target.Host
	req.Host = t.target.Host
	return http.DefaultTransport.RoundTrip(req)
}

func newTestServer(t *testing.T, upstream *httptest.Server) (*api.Server, *credential.Store) {
	t.Helper()
	store := credential.NewStore(3, false)
	id, err := store.Add(&credential.Credential{RefreshToken: "rt-1"})
	require.NoError(t, err)
	store.Get(id).SetCachedToken(credential.AccessToken{Token: "tok", ExpiresAt: time.Now().Add(time.Hour)})

	u, err := url.Parse(upstream.URL)
	require.NoError(t, err)
	client := &http.Client{Transport: &redirectTransport{target: u}}

	refresher := oauth.NewRefresher(func(*credential.Credential) *http.Client { return client }, 60*time.Second)
	disp := &dispatcher.Dispatcher{
		Store:     store,
		Refresher: refresher,
		ClientFor: func(*credential.Credential) *http.Client { return client },
	}

	cfg := &config.Config{APIKeys: []string{"test-key"}}
	return api.NewServer(cfg, store, disp, nil), store
}

func encodedTextResponse(text string) []byte {
	payload, _ := json.Marshal(map[string]string{"content": text})
	return eventstream.Encode(eventstream.Frame{
		EventType:   "assistantResponseEvent",
		MessageType: "event",
		ContentType: "application/json",
		Payload:     payload,
	})
}

func TestHandleMessages_Streaming_EmitsSSESequence(t *testing.T) {
	gin.SetMode(gin.TestMode)
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(encodedTextResponse("hello"))
	}))
	defer upstream.Close()

	srv, _ := newTestServer(t, upstream)

	body := `{"model":"claude-sonnet-4-5","stream":true,"max_tokens":100,"messages":[{"role":"user","content":"hi"}]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader(body))
	req.Header.Set("x-api-key", "test-key")
	rec := httptest.NewRecorder()
	srv.Engine().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	out := rec.Body.String()
	assert.Contains(t, out, "event: message_start")
	assert.Contains(t, out, "event: content_block_start")
	assert.Contains(t, out, `"text_delta"`)
	assert.Contains(t, out, "event: message_stop")
}

func TestHandleMessages_NonStreaming_ReturnsSingleJSONResult(t *testing.T) {
	gin.SetMode(gin.TestMode)
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(encodedTextResponse("hello there"))
	}))
	defer upstream.Close()

	srv, _ := newTestServer(t, upstream)

	body := `{"model":"claude-sonnet-4-5","max_tokens":100,"messages":[{"role":"user","content":"hi"}]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader(body))
	req.Header.Set("x-api-key", "test-key")
	rec := httptest.NewRecorder()
	srv.Engine().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var result struct {
		Type    string `json:"type"`
		Role    string `json:"role"`
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
		StopReason string `json:"stop_reason"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, "message", result.Type)
	assert.Equal(t, "assistant", result.Role)
	require.Len(t, result.Content, 1)
	assert.Equal(t, "hello there", result.Content[0].Text)
	assert.Equal(t, "end_turn", result.StopReason)
}

func TestHandleMessages_RejectsMissingAPIKey(t *testing.T) {
	gin.SetMode(gin.TestMode)
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	srv, _ := newTestServer(t, upstream)

	req := httptest.NewRequest(http.MethodPost, "/v1/messages", bytes.NewReader(nil))
	rec := httptest.NewRecorder()
	srv.Engine().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandleModels_ReturnsStaticList(t *testing.T) {
	gin.SetMode(gin.TestMode)
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer upstream.Close()
	srv, _ := newTestServer(t, upstream)

	req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	req.Header.Set("x-api-key", "test-key")
	rec := httptest.NewRecorder()
	srv.Engine().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "claude-opus-4.5")
}
