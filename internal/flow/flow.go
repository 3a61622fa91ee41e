// Package flow implements the best-effort per-request usage/latency
// recorder (spec.md §4.M, §6 "Flow recorder (optional)"), grounded on the
// teacher's pattern of best-effort, non-fatal side-channel logging (e.g.
// internal/runtime/executor's recordAPIResponseError/appendAPIResponseChunk
// helpers), generalized into a ring buffer plus optional JSONL file sink.
package flow

import (
	"encoding/json"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

// Record is one completed request's outcome (spec.md §6 collaborator
// interface).
type Record struct {
	RequestID    string `json:"request_id"`
	Timestamp    string `json:"timestamp"`
	Model        string `json:"model"`
	Stream       bool   `json:"stream"`
	InputTokens  int    `json:"input_tokens"`
	OutputTokens int    `json:"output_tokens"`
	DurationMS   int64  `json:"duration_ms"`
	StatusCode   int    `json:"status_code"`
	Error        string `json:"error,omitempty"`
}

// Recorder is an in-memory ring buffer of the most recent Records, with an
// optional JSONL append-only file sink.
type Recorder struct {
	mu       sync.Mutex
	buf      []Record
	capacity int
	next     int
	filled   bool

	filePath string
}

// NewRecorder returns a Recorder holding up to capacity records in memory.
// filePath may be empty to disable file persistence.
func NewRecorder(capacity int, filePath string) *Recorder {
	if capacity <= 0 {
		capacity = 500
	}
	return &Recorder{buf: make([]Record, capacity), capacity: capacity, filePath: filePath}
}

// Record appends rec to the ring buffer and, if configured, the JSONL file.
// Failure to persist to disk is logged but never returned — recording is
// explicitly best-effort (spec.md §6: "failure to record is non-fatal").
func (r *Recorder) Record(rec Record) {
	r.mu.Lock()
	r.buf[r.next] = rec
	r.next = (r.next + 1) % r.capacity
	if r.next == 0 {
		r.filled = true
	}
	r.mu.Unlock()

	if r.filePath == "" {
		return
	}
	data, err := json.Marshal(rec)
	if err != nil {
		logrus.WithError(err).Warn("kiroproxy: flow recorder: marshal failed")
		return
	}
	data = append(data, '\n')
	f, err := os.OpenFile(r.filePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		logrus.WithError(err).Warn("kiroproxy: flow recorder: open file failed")
		return
	}
	defer func() { _ = f.Close() }()
	if _, err := f.Write(data); err != nil {
		logrus.WithError(err).Warn("kiroproxy: flow recorder: write failed")
	}
}

// Recent returns the buffered records in chronological order, oldest first.
func (r *Recorder) Recent() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.filled {
		out := make([]Record, r.next)
		copy(out, r.buf[:r.next])
		return out
	}
	out := make([]Record, r.capacity)
	copy(out, r.buf[r.next:])
	copy(out[r.capacity-r.next:], r.buf[:r.next])
	return out
}
