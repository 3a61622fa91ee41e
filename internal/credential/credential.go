// Package credential implements the in-memory credential pool (spec.md §4.B):
// a multi-credential store with priority/round-robin selection, failure
// tracking, and disable/re-enable semantics.
package credential

import (
	"sync"
	"time"
)

// AuthMethod distinguishes the upstream OAuth flow a credential uses.
type AuthMethod string

const (
	AuthMethodSocial    AuthMethod = "social"
	AuthMethodIdC       AuthMethod = "idc"
	AuthMethodBuilderID AuthMethod = "builder_id"
)

// DisabledReason records why a credential was taken out of rotation.
type DisabledReason string

const (
	DisabledNone            DisabledReason = ""
	DisabledManual          DisabledReason = "manual"
	DisabledTooManyFailures DisabledReason = "too_many_failures"
	DisabledQuotaExceeded   DisabledReason = "quota_exceeded"
)

// AccessToken is the ephemeral bearer token cached per credential by the
// OAuth refresher (spec.md §3 AccessToken).
type AccessToken struct {
	Token     string
	ExpiresAt time.Time
}

// Valid reports whether the token has at least skew remaining before expiry.
func (t AccessToken) Valid(skew time.Duration) bool {
	if t.Token == "" {
		return false
	}
	return time.Now().Add(skew).Before(t.ExpiresAt)
}

// ProxyConfig carries an optional per-credential outbound HTTP proxy.
type ProxyConfig struct {
	URL      string `json:"url,omitempty"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
}

// Credential is a single upstream OAuth identity (spec.md §3 Credential).
//
// Fields are exported for JSON persistence; RefreshToken and the cached
// AccessToken must never be rendered in client-facing responses or logs —
// callers should use Fingerprint (internal/fingerprint) instead.
type Credential struct {
	ID             int            `json:"id"`
	Priority       int            `json:"priority"`
	Disabled       bool           `json:"disabled"`
	DisabledReason DisabledReason `json:"disabled_reason,omitempty"`
	FailureCount   int            `json:"failure_count"`
	SuccessCount   int            `json:"success_count"`
	LastUsed       time.Time      `json:"last_used,omitempty"`

	AuthMethod   AuthMethod   `json:"auth_method"`
	ClientID     string       `json:"client_id,omitempty"`
	ClientSecret string       `json:"client_secret,omitempty"`
	RefreshToken string       `json:"refresh_token"`
	ProfileArn   string       `json:"profile_arn,omitempty"`
	AuthRegion   string       `json:"auth_region,omitempty"`
	APIRegion    string       `json:"api_region,omitempty"`
	Proxy        *ProxyConfig `json:"proxy,omitempty"`

	// mu guards Token, which is mutated outside the store's pool lock by
	// the OAuth refresher (spec.md §5: per-credential mutex, coalesced by
	// single-flight).
	mu    sync.Mutex `json:"-"`
	Token AccessToken `json:"-"`
}

// CachedToken returns a copy of the credential's cached access token.
func (c *Credential) CachedToken() AccessToken {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Token
}

// SetCachedToken stores a freshly refreshed access token.
func (c *Credential) SetCachedToken(tok AccessToken) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Token = tok
}

// Region defaults applied when a credential omits them.
const DefaultRegion = "us-east-1"

// EffectiveAuthRegion returns AuthRegion or the package default.
func (c *Credential) EffectiveAuthRegion() string {
	if c.AuthRegion != "" {
		return c.AuthRegion
	}
	return DefaultRegion
}

// EffectiveAPIRegion returns APIRegion or the package default.
func (c *Credential) EffectiveAPIRegion() string {
	if c.APIRegion != "" {
		return c.APIRegion
	}
	return DefaultRegion
}

// Clone returns a deep-enough copy safe to hand to callers outside the lock.
func (c *Credential) Clone() *Credential {
	cp := *c
	cp.mu = sync.Mutex{}
	cp.Token = c.CachedToken()
	if c.Proxy != nil {
		p := *c.Proxy
		cp.Proxy = &p
	}
	return &cp
}

// Redacted returns a copy with secret material stripped, safe to return
// from admin/list endpoints.
func (c *Credential) Redacted() *Credential {
	cp := c.Clone()
	cp.RefreshToken = ""
	cp.ClientSecret = ""
	cp.Token = AccessToken{}
	return cp
}
