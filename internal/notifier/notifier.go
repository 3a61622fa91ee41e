// Package notifier implements the optional webhook fired when a credential
// transitions to disabled (spec.md §4.N, §6 "Notifier (optional)"),
// implementing credential.DisableNotifier. Grounded on the teacher's
// pattern of fire-and-forget outbound HTTP notifications guarded by a
// configured URL (internal/config's optional webhook-style fields).
package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/kiroproxy/kiroproxy/internal/credential"
	"github.com/sirupsen/logrus"
)

// Payload is POSTed as JSON to the configured webhook URL
// (spec.md §3 NotifierPayload).
type Payload struct {
	CredentialID int    `json:"credential_id"`
	Reason       string `json:"reason"`
	Available    int    `json:"available"`
	Total        int    `json:"total"`
}

// Webhook posts a Payload to a fixed URL whenever Notify is called.
type Webhook struct {
	URL    string
	Client *http.Client
}

// NewWebhook builds a Webhook notifier. A nil client defaults to one with a
// 10s timeout, matching the teacher's ambient HTTP timeout conventions.
func NewWebhook(url string, client *http.Client) *Webhook {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Webhook{URL: url, Client: client}
}

// NotifyDisabled implements credential.DisableNotifier. Failures are
// logged, never returned — notification is best-effort and must not affect
// the request path that triggered it.
func (w *Webhook) NotifyDisabled(id int, reason credential.DisabledReason, available, total int) {
	if w == nil || w.URL == "" {
		return
	}
	payload := Payload{CredentialID: id, Reason: string(reason), Available: available, Total: total}
	data, err := json.Marshal(payload)
	if err != nil {
		logrus.WithError(err).Warn("kiroproxy: notifier: marshal failed")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(data))
	if err != nil {
		logrus.WithError(err).Warn("kiroproxy: notifier: build request failed")
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.Client.Do(req)
	if err != nil {
		logrus.WithError(err).WithField("credential_id", id).Warn("kiroproxy: notifier: webhook delivery failed")
		return
	}
	_ = resp.Body.Close()
	if resp.StatusCode >= 400 {
		logrus.WithField("status", resp.StatusCode).WithField("credential_id", id).Warn("kiroproxy: notifier: webhook rejected")
	}
}
