package credential

import (
	"errors"
	"sort"
	"sync"
	"time"
)

// ErrDuplicateCredential is returned by Add when a refresh token is already
// registered under another credential. Add compares the raw refresh-token
// values; it does not compute fingerprints.
var ErrDuplicateCredential = errors.New("credential: duplicate refresh token")

// DisableNotifier is invoked once a credential transitions to disabled
// (spec.md §6 Notifier collaborator). Implemented by internal/notifier.
type DisableNotifier interface {
	NotifyDisabled(id int, reason DisabledReason, available, total int)
}

// Store is the in-memory credential pool (spec.md §4.B). All mutations are
// serialized by mu; the critical section never performs I/O.
type Store struct {
	mu               sync.Mutex
	byID             map[int]*Credential
	nextID           int
	failureThreshold int
	roundRobin       bool
	rrCursor         int
	notifier         DisableNotifier
}

// NewStore constructs an empty pool. failureThreshold <= 0 defaults to 3.
func NewStore(failureThreshold int, roundRobin bool) *Store {
	if failureThreshold <= 0 {
		failureThreshold = 3
	}
	return &Store{
		byID:             make(map[int]*Credential),
		nextID:           1,
		failureThreshold: failureThreshold,
		roundRobin:       roundRobin,
	}
}

// SetNotifier wires the optional disable-notification collaborator.
func (s *Store) SetNotifier(n DisableNotifier) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifier = n
}

// List returns redacted copies of every credential, sorted by id.
func (s *Store) List() []*Credential {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Credential, 0, len(s.byID))
	for _, c := range s.byID {
		out = append(out, c.Redacted())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Add inserts a new credential, assigning it a monotonic id. Duplicate
// refresh tokens (by raw value) are rejected — callers are expected to
// fingerprint before calling if they want a soft duplicate check.
func (s *Store) Add(c *Credential) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.byID {
		if existing.RefreshToken == c.RefreshToken {
			return 0, ErrDuplicateCredential
		}
	}
	id := s.nextID
	s.nextID++
	c.ID = id
	s.byID[id] = c
	return id, nil
}

// Delete removes a credential from the pool.
func (s *Store) Delete(id int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[id]; !ok {
		return false
	}
	delete(s.byID, id)
	return true
}

// SetDisabled manually enables or disables a credential.
func (s *Store) SetDisabled(id int, disabled bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.byID[id]
	if !ok {
		return false
	}
	c.Disabled = disabled
	if disabled {
		if c.DisabledReason == DisabledNone {
			c.DisabledReason = DisabledManual
		}
	} else {
		c.DisabledReason = DisabledNone
		c.FailureCount = 0
	}
	return true
}

// SetPriority updates a credential's selection priority (lower = preferred).
func (s *Store) SetPriority(id, priority int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.byID[id]
	if !ok {
		return false
	}
	c.Priority = priority
	return true
}

// ResetFailure clears a credential's failure counter and re-enables it if it
// had been disabled for exceeding the failure threshold.
func (s *Store) ResetFailure(id int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.byID[id]
	if !ok {
		return false
	}
	c.FailureCount = 0
	if c.DisabledReason == DisabledTooManyFailures {
		c.Disabled = false
		c.DisabledReason = DisabledNone
	}
	return true
}

// RecordSuccess resets the failure counter and bumps usage bookkeeping.
func (s *Store) RecordSuccess(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.byID[id]
	if !ok {
		return
	}
	c.FailureCount = 0
	c.SuccessCount++
	c.LastUsed = time.Now()
}

// RecordFailure increments the failure counter, disabling the credential
// once it reaches the configured threshold (spec.md §4.B).
func (s *Store) RecordFailure(id int) {
	s.mu.Lock()
	c, ok := s.byID[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	c.FailureCount++
	disabledNow := false
	if c.FailureCount >= s.failureThreshold && !c.Disabled {
		c.Disabled = true
		c.DisabledReason = DisabledTooManyFailures
		disabledNow = true
	}
	notifier := s.notifier
	available, total := s.countLocked()
	s.mu.Unlock()

	if disabledNow && notifier != nil {
		go notifier.NotifyDisabled(id, DisabledTooManyFailures, available, total)
	}
}

// MarkQuotaExceeded disables a credential immediately without touching the
// failure counter (spec.md §4.F: QuotaExceeded → mark_disabled).
func (s *Store) MarkQuotaExceeded(id int) {
	s.mu.Lock()
	c, ok := s.byID[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	c.Disabled = true
	c.DisabledReason = DisabledQuotaExceeded
	notifier := s.notifier
	available, total := s.countLocked()
	s.mu.Unlock()

	if notifier != nil {
		go notifier.NotifyDisabled(id, DisabledQuotaExceeded, available, total)
	}
}

func (s *Store) countLocked() (available, total int) {
	total = len(s.byID)
	for _, c := range s.byID {
		if !c.Disabled && c.FailureCount < s.failureThreshold {
			available++
		}
	}
	return
}

// PickNext selects the next credential to try, excluding ids in exclude.
// Selection policy (spec.md §4.B):
//  1. filter to enabled credentials with failure_count < threshold
//  2. sort by (priority asc, failure_count asc, last_used asc) — unless
//     round-robin mode is enabled, in which case a cursor rotates across
//     the enabled set (spec.md §9 Round-robin mode).
//
// Returns nil when no credential qualifies.
func (s *Store) PickNext(exclude map[int]bool) *Credential {
	s.mu.Lock()
	defer s.mu.Unlock()

	candidates := make([]*Credential, 0, len(s.byID))
	for id, c := range s.byID {
		if exclude[id] {
			continue
		}
		if c.Disabled || c.FailureCount >= s.failureThreshold {
			continue
		}
		candidates = append(candidates, c)
	}
	if len(candidates) == 0 {
		return nil
	}

	if s.roundRobin {
		sort.Slice(candidates, func(i, j int) bool { return candidates[i].ID < candidates[j].ID })
		idx := s.rrCursor % len(candidates)
		s.rrCursor++
		return candidates[idx]
	}

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		if a.FailureCount != b.FailureCount {
			return a.FailureCount < b.FailureCount
		}
		return a.LastUsed.Before(b.LastUsed)
	})
	return candidates[0]
}

// Get returns the live (non-redacted) credential pointer used internally by
// the dispatcher/OAuth refresher. Callers outside this package should
// prefer List() for redacted copies.
func (s *Store) Get(id int) *Credential {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.byID[id]
}

// Snapshot replaces the pool contents, used when loading from persistence.
func (s *Store) Snapshot(creds []*Credential) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID = make(map[int]*Credential, len(creds))
	maxID := 0
	for _, c := range creds {
		s.byID[c.ID] = c
		if c.ID > maxID {
			maxID = c.ID
		}
	}
	s.nextID = maxID + 1
}

// All returns live (non-redacted) credential pointers, for persistence.
func (s *Store) All() []*Credential {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Credential, 0, len(s.byID))
	for _, c := range s.byID {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
