// Package dispatcher implements the upstream retry/failover algorithm that
// sends a translated request to Kiro's generateAssistantResponse endpoint
// across a pool of credentials (spec.md §4.F). Grounded on the retry/backoff
// shape of the teacher's internal/runtime/executor/kiro_request.go
// (exponential-backoff-with-jitter, pooled transport, proxy-aware client
// selection) and kiro_executor.go's header-setting and retry-loop
// structure, generalized into the store/credential-driven failover the spec
// describes instead of the teacher's single-credential retry.
package dispatcher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/kiroproxy/kiroproxy/internal/apperr"
	"github.com/kiroproxy/kiroproxy/internal/credential"
	"github.com/kiroproxy/kiroproxy/internal/kiroapi"
	"github.com/kiroproxy/kiroproxy/internal/oauth"
	"github.com/sirupsen/logrus"
)

const (
	maxGlobalTries = 9
	maxCredTries   = 3
	maxBackoff     = 8 * time.Second
	quotaMarker    = "MONTHLY_REQUEST_COUNT"
	peekBytes      = 4096
)

type respClass int

const (
	classOk respClass = iota
	classAuthInvalid
	classQuotaExceeded
	classRateLimited
	classTransient5xx
	classFatal4xx
)

// ClientFor resolves the HTTP client to use for a credential, implemented
// by internal/httptransport.Pool.
type ClientFor func(cred *credential.Credential) *http.Client

// Dispatcher owns the credential store, OAuth refresher, and HTTP client
// pool needed to execute the retry/failover algorithm.
type Dispatcher struct {
	Store     *credential.Store
	Refresher *oauth.Refresher
	ClientFor ClientFor
	UserAgent string
}

// Result is a successful dispatch: the live upstream body and the
// credential that served it, so the caller can report success/failure back
// to the store once the stream finishes.
type Result struct {
	Body       io.ReadCloser
	Credential *credential.Credential
}

// Dispatch runs spec.md §4.F's algorithm to obtain a live Kiro event-stream
// body.
func (d *Dispatcher) Dispatch(ctx context.Context, body *kiroapi.GenerateAssistantResponseRequest) (*Result, error) {
	attempted := make(map[int]bool)

	for globalTry := 1; globalTry <= maxGlobalTries; globalTry++ {
		cred := d.Store.PickNext(attempted)
		if cred == nil {
			break
		}

		token, err := d.Refresher.GetOrRefresh(ctx, cred)
		if err != nil {
			d.Store.RecordFailure(cred.ID)
			attempted[cred.ID] = true
			continue
		}

		result := d.tryCredential(ctx, cred, token, body)
		if result != nil {
			d.Store.RecordSuccess(cred.ID)
			return result, nil
		}
		attempted[cred.ID] = true
	}

	return nil, apperr.AllCredentialsExhausted("no credential could serve this request", nil)
}

// tryCredential runs the inner cred_try loop for one credential. A nil
// result always means the caller should move on to the next credential.
func (d *Dispatcher) tryCredential(ctx context.Context, cred *credential.Credential, token string, body *kiroapi.GenerateAssistantResponseRequest) *Result {
	for credTry := 1; credTry <= maxCredTries; credTry++ {
		wireBody, err := marshalAttempt(body, cred)
		if err != nil {
			return nil
		}

		req, err := newRequest(ctx, cred, token, wireBody, credTry, d.UserAgent)
		if err != nil {
			return nil
		}

		client := http.DefaultClient
		if d.ClientFor != nil {
			if c := d.ClientFor(cred); c != nil {
				client = c
			}
		}

		resp, err := client.Do(req)
		if err != nil {
			logrus.WithError(err).WithField("credential_id", cred.ID).Debug("kiroproxy: dispatch attempt failed")
			sleepBackoff(ctx, credTry)
			continue
		}

		class, peeked, err := classify(resp)
		if err != nil {
			_ = resp.Body.Close()
			sleepBackoff(ctx, credTry)
			continue
		}

		switch class {
		case classOk:
			return &Result{Body: rewindBody(peeked, resp.Body), Credential: cred}

		case classAuthInvalid:
			_ = resp.Body.Close()
			d.Store.RecordFailure(cred.ID)
			if _, err := d.Refresher.ForceRefresh(ctx, cred); err == nil {
				token, _ = d.Refresher.GetOrRefresh(ctx, cred)
			}
			return nil

		case classQuotaExceeded:
			_ = resp.Body.Close()
			d.Store.MarkQuotaExceeded(cred.ID)
			return nil

		case classRateLimited:
			_ = resp.Body.Close()
			sleepRetryAfter(ctx, resp, credTry)
			continue

		case classTransient5xx:
			_ = resp.Body.Close()
			sleepBackoff(ctx, credTry)
			continue

		case classFatal4xx:
			_ = resp.Body.Close()
			d.Store.RecordFailure(cred.ID)
			return nil
		}
	}
	return nil
}

// marshalAttempt stamps a fresh agentContinuationId per attempt and includes
// profileArn when the credential has one (spec.md §4.F).
func marshalAttempt(body *kiroapi.GenerateAssistantResponseRequest, cred *credential.Credential) ([]byte, error) {
	cp := *body
	cp.AgentContinuationID = uuid.NewString()
	if cred.ProfileArn != "" {
		cp.ProfileArn = cred.ProfileArn
	}
	return json.Marshal(cp)
}

func newRequest(ctx context.Context, cred *credential.Credential, token string, wireBody []byte, attempt int, userAgent string) (*http.Request, error) {
	endpoint := fmt.Sprintf("https://q.%s.amazonaws.com/generateAssistantResponse", cred.EffectiveAPIRegion())
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(wireBody))
	if err != nil {
		return nil, err
	}

	if userAgent == "" {
		userAgent = "Mozilla/5.0 (compatible; KiroProxy/1.0)"
	}

	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-amzn-kiro-agent-mode", "vibe")
	req.Header.Set("x-amzn-codewhisperer-optout", "true")
	req.Header.Set("x-amz-user-agent", "aws-sdk-js/1.0.27 KiroIDE-kiroproxy-go")
	req.Header.Set("amz-sdk-invocation-id", uuid.NewString())
	req.Header.Set("amz-sdk-request", fmt.Sprintf("attempt=%d; max=%d", attempt, maxCredTries))
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Connection", "close")
	req.Close = true
	return req, nil
}

// classify implements spec.md §4.F's response classification table,
// peeking a bounded prefix of the body to detect an embedded quota marker
// without consuming the stream the caller will go on to read.
func classify(resp *http.Response) (respClass, []byte, error) {
	peek := make([]byte, peekBytes)
	n, _ := io.ReadFull(resp.Body, peek)
	peek = peek[:n]

	switch {
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return classAuthInvalid, peek, nil
	case resp.StatusCode == http.StatusPaymentRequired, bytes.Contains(peek, []byte(quotaMarker)):
		return classQuotaExceeded, peek, nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return classRateLimited, peek, nil
	case resp.StatusCode >= 500:
		return classTransient5xx, peek, nil
	case resp.StatusCode >= 400:
		return classFatal4xx, peek, nil
	case resp.StatusCode == http.StatusOK:
		return classOk, peek, nil
	default:
		return classFatal4xx, peek, nil
	}
}

// rewindBody reassembles the peeked prefix with the remainder of the body
// so the caller sees the full, unmodified stream.
func rewindBody(peeked []byte, rest io.ReadCloser) io.ReadCloser {
	return &rewoundBody{r: io.MultiReader(bytes.NewReader(peeked), rest), closer: rest}
}

type rewoundBody struct {
	r      io.Reader
	closer io.Closer
}

func (b *rewoundBody) Read(p []byte) (int, error) { return b.r.Read(p) }
func (b *rewoundBody) Close() error                { return b.closer.Close() }

// sleepRetryAfter honors a 429 response's Retry-After header (seconds) if
// present, else falls back to exponential backoff for this attempt
// (spec.md §4.F: "respect Retry-After else 2^try * 500ms +/- 20% jitter").
func sleepRetryAfter(ctx context.Context, resp *http.Response, attempt int) {
	if v := resp.Header.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			wait(ctx, time.Duration(secs)*time.Second)
			return
		}
	}
	sleepBackoff(ctx, attempt)
}

// sleepBackoff waits 2^attempt * 500ms +/- 20% jitter, capped at 8s,
// honoring context cancellation.
func sleepBackoff(ctx context.Context, attempt int) {
	base := time.Duration(1<<uint(attempt)) * 500 * time.Millisecond
	if base > maxBackoff {
		base = maxBackoff
	}
	jitter := time.Duration(float64(base) * (rand.Float64()*0.4 - 0.2))
	delay := base + jitter
	if delay < 0 {
		delay = 0
	}
	if delay > maxBackoff {
		delay = maxBackoff
	}
	wait(ctx, delay)
}

func wait(ctx context.Context, delay time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(delay):
	}
}
