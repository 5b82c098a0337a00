// Package retry implements the declarative retry policy (§4.10): independent
// per-category counters, backoff calculation, and Retry-After parsing. The
// policy object is immutable — Increment returns the next state rather than
// mutating in place, mirroring the teacher's preference for small,
// reasoned-about value types over mutable shared config.
package retry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-httpcore/httpcore/pkg/errors"
)

// Category classifies the observed outcome of one attempt, per §4.10's table.
type Category int

const (
	CategoryConnect Category = iota
	CategoryRead
	CategoryRedirect
	CategoryStatus
	CategoryOther
)

// idempotentMethods are retriable without semantic risk per the glossary.
var idempotentMethods = map[string]bool{
	http.MethodGet:     true,
	http.MethodHead:    true,
	http.MethodPut:     true,
	http.MethodDelete:  true,
	http.MethodOptions: true,
	http.MethodTrace:   true,
}

// IsIdempotent reports whether method is safe to retry without an explicit
// allowlist entry.
func IsIdempotent(method string) bool {
	return idempotentMethods[method]
}

// Policy is the immutable, declarative retry configuration. A Policy with
// Total == 0 disables retries entirely (MaxRetryError on the very first
// failure), matching a caller passing retries=False at the top level.
type Policy struct {
	Total     int
	Connect   int
	Read      int
	Redirect  int
	Status    int
	Other     int

	BackoffFactor float64
	BackoffMax    time.Duration

	RespectRetryAfter bool
	StatusForcelist   map[int]bool
	AllowedMethods    map[string]bool // methods allowed to retry a mid-body read failure beyond idempotent ones
}

// DefaultPolicy mirrors the urllib3-style conservative default: three
// retries per category (five for redirects), no backoff, and a 429/500/502/
// 503/504 forcelist of statuses that indicate the server itself asked for a
// retry.
func DefaultPolicy() *Policy {
	return &Policy{
		Total:         3,
		Connect:       3,
		Read:          3,
		Redirect:      5,
		Status:        3,
		Other:         3,
		BackoffFactor: 0,
		BackoffMax:    120 * time.Second,
		RespectRetryAfter: true,
		StatusForcelist: map[int]bool{
			429: true, 500: true, 502: true, 503: true, 504: true,
		},
	}
}

// State is one immutable point in a retry sequence: the remaining budget per
// category plus the history of attempts made so far.
type State struct {
	policy *Policy

	total, connect, read, redirect, status, other int
	retries int // number of increments performed, for backoff exponent

	History []errors.RetryHistory
}

// NewState starts a fresh State from policy.
func NewState(policy *Policy) *State {
	if policy == nil {
		policy = DefaultPolicy()
	}
	return &State{
		policy:   policy,
		total:    policy.Total,
		connect:  policy.Connect,
		read:     policy.Read,
		redirect: policy.Redirect,
		status:   policy.Status,
		other:    policy.Other,
	}
}

// Outcome is what Increment needs to classify one failed/retriable attempt.
type Outcome struct {
	Category   Category
	Err        error
	StatusCode int // 0 if this outcome came from an error, not a response
	RetryAfter string
}

// Increment returns the next State after one retriable attempt against addr,
// or a *errors.MaxRetryError if any relevant counter (or total) has reached
// zero. idempotentOrAllowed gates CategoryRead retries per §4.10's "only if
// the method is idempotent OR explicitly allowed" rule — callers compute it
// once from the request method before calling Increment.
func (s *State) Increment(method, addr string, o Outcome, idempotentOrAllowed bool) (*State, error) {
	next := *s
	next.retries = s.retries + 1
	next.History = append(append([]errors.RetryHistory{}, s.History...), errors.RetryHistory{
		Attempt: s.retries + 1,
		Err:     o.Err,
		Status:  o.StatusCode,
	})

	if next.total > 0 {
		next.total--
	}

	switch o.Category {
	case CategoryConnect:
		if next.connect > 0 {
			next.connect--
		}
	case CategoryRead:
		if !idempotentOrAllowed {
			return nil, errors.NewMaxRetryError(addr, "read error on non-idempotent method not allowed to retry", next.History)
		}
		if next.read > 0 {
			next.read--
		}
	case CategoryRedirect:
		if next.redirect > 0 {
			next.redirect--
		}
	case CategoryStatus:
		if next.status > 0 {
			next.status--
		}
	default:
		if next.other > 0 {
			next.other--
		}
	}

	if s.total == 0 || s.exhaustedFor(o.Category) {
		return nil, errors.NewMaxRetryError(addr, reasonFor(o.Category), next.History)
	}

	return &next, nil
}

func (s *State) exhaustedFor(c Category) bool {
	switch c {
	case CategoryConnect:
		return s.connect == 0
	case CategoryRead:
		return s.read == 0
	case CategoryRedirect:
		return s.redirect == 0
	case CategoryStatus:
		return s.status == 0
	default:
		return s.other == 0
	}
}

func reasonFor(c Category) string {
	switch c {
	case CategoryConnect:
		return "connect retries exhausted"
	case CategoryRead:
		return "read retries exhausted"
	case CategoryRedirect:
		return "too many redirects"
	case CategoryStatus:
		return "status-forcelist retries exhausted"
	default:
		return "retries exhausted"
	}
}

// Retries reports how many increments this State represents, i.e. the
// attempt number a caller should log when retrying again.
func (s *State) Retries() int {
	return s.retries
}

// Backoff computes min(backoff_max, backoff_factor * 2^(n-1)) for the n-th
// retry already performed, then, if the policy respects Retry-After and the
// response carried one, takes max(parsed, computed).
func (s *State) Backoff(retryAfter string) time.Duration {
	n := s.retries
	if n < 1 {
		n = 1
	}
	computed := time.Duration(s.policy.BackoffFactor * float64(uint(1)<<uint(n-1)) * float64(time.Second))
	if s.policy.BackoffMax > 0 && computed > s.policy.BackoffMax {
		computed = s.policy.BackoffMax
	}
	if computed < 0 {
		computed = 0
	}

	if s.policy.RespectRetryAfter && retryAfter != "" {
		if d, ok := ParseRetryAfter(retryAfter); ok && d > computed {
			return d
		}
	}
	return computed
}

// IsForcedStatus reports whether code is in the policy's status_forcelist.
func (s *State) IsForcedStatus(code int) bool {
	return s.policy.StatusForcelist != nil && s.policy.StatusForcelist[code]
}

// MethodAllowed reports whether method may retry a mid-body protocol error
// beyond the idempotent set, per the policy's AllowedMethods.
func (s *State) MethodAllowed(method string) bool {
	return IsIdempotent(method) || (s.policy.AllowedMethods != nil && s.policy.AllowedMethods[method])
}

// ParseRetryAfter parses a Retry-After header as either an integer number of
// seconds or an HTTP-date (RFC 1123, with the common RFC 850 and ANSI C
// fallbacks a real-world server occasionally sends).
func ParseRetryAfter(value string) (time.Duration, bool) {
	if secs, err := strconv.Atoi(value); err == nil {
		if secs < 0 {
			return 0, false
		}
		return time.Duration(secs) * time.Second, true
	}
	for _, layout := range []string{time.RFC1123, time.RFC1123Z, time.RFC850, time.ANSIC} {
		if t, err := time.Parse(layout, value); err == nil {
			d := time.Until(t)
			if d < 0 {
				d = 0
			}
			return d, true
		}
	}
	return 0, false
}
