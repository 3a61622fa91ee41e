// Package config loads the proxy's static YAML configuration.
// The file is read once at startup and is not watched for changes. Admin
// endpoints mutate the in-memory credential pool only; they do not write
// the credentials file. The pool is written back to that file once, on
// shutdown (cmd/kiroproxy via credential.FileStore.PersistAll).
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration for the kiroproxy server.
type Config struct {
	// Listen is the address the HTTP server binds to, e.g. ":8317".
	Listen string `yaml:"listen"`

	// APIKeys authenticate clients against POST /v1/messages via x-api-key.
	APIKeys []string `yaml:"api-keys"`

	// CredentialsFile points at the JSON file holding the credential pool.
	CredentialsFile string `yaml:"credentials-file"`

	// LoadBalance selects the credential-store selection policy:
	// "priority" (default) or "roundRobin".
	LoadBalance string `yaml:"load-balance,omitempty"`

	// SummaryModel names a summary model; informational only. Nothing in the
	// server reads it, and GET /v1/models does not list it.
	SummaryModel string `yaml:"summary-model,omitempty"`

	// RequestLog is parsed but not read by the server; the request-logging
	// middleware (logging.GinLogger) logs every request regardless.
	RequestLog bool `yaml:"request-log,omitempty"`

	// LogLevel is a logrus level name (debug, info, warn, error).
	LogLevel string `yaml:"log-level,omitempty"`

	// LogFile optionally rotates logs to disk via lumberjack instead of stderr.
	LogFile string `yaml:"log-file,omitempty"`

	// AdminToken authenticates the admin/management HTTP surface. Empty
	// disables the admin surface entirely.
	AdminToken string `yaml:"admin-token,omitempty"`

	// Notifier configures the optional webhook fired on credential disable.
	Notifier *NotifierConfig `yaml:"notifier,omitempty"`

	// FailureThreshold is the number of consecutive failures before a
	// credential is auto-disabled. Defaults to 3.
	FailureThreshold int `yaml:"failure-threshold,omitempty"`

	// TokenSkewSeconds is how long before expiry an access token is
	// considered stale and eagerly refreshed. Defaults to 60.
	TokenSkewSeconds int `yaml:"token-skew-seconds,omitempty"`

	// FlowHistorySize bounds the in-memory flow-recorder ring buffer.
	// Defaults to 500.
	FlowHistorySize int `yaml:"flow-history-size,omitempty"`
}

// NotifierConfig configures the webhook notifier (internal/notifier).
type NotifierConfig struct {
	WebhookURL string `yaml:"webhook-url"`
}

const (
	DefaultListen           = ":8317"
	DefaultFailureThreshold = 3
	DefaultTokenSkewSeconds = 60
	DefaultFlowHistorySize  = 500
	LoadBalancePriority     = "priority"
	LoadBalanceRoundRobin   = "roundRobin"
)

// Load reads and parses the YAML configuration file at path, applying
// defaults for any zero-valued field the way the teacher's SDKConfig
// exposes Get*-style defaults for optional fields.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Listen == "" {
		c.Listen = DefaultListen
	}
	if c.LoadBalance == "" {
		c.LoadBalance = LoadBalancePriority
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = DefaultFailureThreshold
	}
	if c.TokenSkewSeconds <= 0 {
		c.TokenSkewSeconds = DefaultTokenSkewSeconds
	}
	if c.FlowHistorySize <= 0 {
		c.FlowHistorySize = DefaultFlowHistorySize
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.CredentialsFile == "" {
		c.CredentialsFile = "credentials.json"
	}
}

// TokenSkew returns TokenSkewSeconds as a time.Duration.
func (c *Config) TokenSkew() time.Duration {
	return time.Duration(c.TokenSkewSeconds) * time.Second
}

// IsValidAPIKey reports whether key matches a configured client API key.
func (c *Config) IsValidAPIKey(key string) bool {
	if key == "" {
		return false
	}
	for _, k := range c.APIKeys {
		if k == key {
			return true
		}
	}
	return false
}
