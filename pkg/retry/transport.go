package retry

import (
	"net/http"
	"time"

	"github.com/PuerkitoBio/rehttp"
)

// NewTransport wraps base in a rehttp.Transport driven by policy, for
// backends that speak net/http's RoundTripper directly (currently
// pkg/http2backend's golang.org/x/net/http2.Transport). The per-category
// bookkeeping in State is the source of truth for the primary HTTP/1.1
// engine loop in pkg/engine; this adapter gives the HTTP/2 path the same
// retry shape without re-deriving rehttp's attempt-tracking machinery.
func NewTransport(base http.RoundTripper, policy *Policy) http.RoundTripper {
	if policy == nil {
		policy = DefaultPolicy()
	}
	return rehttp.NewTransport(base, retryFn(policy), delayFn(policy))
}

func retryFn(policy *Policy) rehttp.RetryFn {
	return rehttp.RetryAll(
		rehttp.RetryMaxRetries(policy.Total),
		rehttp.RetryAny(
			rehttp.RetryTemporaryErr(),
			statusRetryFn(policy),
		),
	)
}

// statusRetryFn retries any status present in the policy's forcelist —
// rehttp.RetryStatuses takes a fixed list, but our forcelist is configured
// at construction time as a set, so this reimplements the tiny predicate
// directly against it.
func statusRetryFn(policy *Policy) rehttp.RetryFn {
	return func(attempt rehttp.Attempt) bool {
		if attempt.Index >= policy.Total {
			return false
		}
		if attempt.Response == nil {
			return false
		}
		return policy.StatusForcelist[attempt.Response.StatusCode]
	}
}

func delayFn(policy *Policy) rehttp.DelayFn {
	base := time.Duration(policy.BackoffFactor * float64(time.Second))
	if base <= 0 {
		base = 100 * time.Millisecond
	}
	expJitter := rehttp.ExpJitterDelay(base, policy.BackoffMax)
	return func(attempt rehttp.Attempt) time.Duration {
		if policy.RespectRetryAfter && attempt.Response != nil {
			if ra := attempt.Response.Header.Get("Retry-After"); ra != "" {
				if d, ok := ParseRetryAfter(ra); ok {
					computed := expJitter(attempt)
					if d > computed {
						return d
					}
					return computed
				}
			}
		}
		return expJitter(attempt)
	}
}
