// Package httpcore provides a high-performance, low-level HTTP client library
// for Go that supports both HTTP/1.1 and HTTP/2 protocols with raw
// socket-based connection pooling and fine-grained control over dialing,
// TLS, proxying, retries, and redirects.
package httpcore

import (
	"context"

	"github.com/go-httpcore/httpcore/pkg/engine"
	"github.com/go-httpcore/httpcore/pkg/errors"
	"github.com/go-httpcore/httpcore/pkg/headers"
	"github.com/go-httpcore/httpcore/pkg/retry"
	"github.com/go-httpcore/httpcore/pkg/telemetry"
	"github.com/go-httpcore/httpcore/pkg/timeout"
	"go.uber.org/zap"
)

// Re-export the types a caller needs day to day, so importing this package
// alone is enough for the common case; pkg/engine and its siblings remain
// directly importable for anyone assembling a custom Config.
type (
	// Manager is a bounded pool-of-pools that serves requests against many
	// origins, each with its own connection pool (§4.8, §4.12).
	Manager = engine.Manager

	// Config controls pooling, timeouts, TLS, proxying, retries, and
	// logging for a Manager.
	Config = engine.Config

	// RequestOptions controls a single request: headers, body, whether to
	// preload the response body, and per-request overrides.
	RequestOptions = engine.RequestOptions

	// Response is the handle returned for one HTTP exchange.
	Response = engine.Response

	// StreamControl tells Response.Stream whether to keep delivering chunks.
	StreamControl = engine.StreamControl

	// HttpBackend lets a caller plug in an alternate wire protocol (HTTP/2)
	// behind the same Manager API.
	HttpBackend = engine.HttpBackend

	// Dict is the ordered, case-insensitive header multimap.
	Dict = headers.Dict

	// RetryPolicy is the declarative per-category retry budget.
	RetryPolicy = retry.Policy

	// Timeout is a connect/read/total timeout budget.
	Timeout = timeout.Timeout

	// Error is the structured error type every httpcore failure surfaces as.
	Error = errors.Error

	// MaxRetryError reports that a retry budget was exhausted.
	MaxRetryError = errors.MaxRetryError
)

const (
	StreamContinue = engine.StreamContinue
	StreamStop     = engine.StreamStop
)

// New returns a Manager ready to serve requests. A zero Config is valid and
// applies the same defaults as the teacher's own pool/timeout/retry
// defaults (see pkg/engine.New, pkg/retry.DefaultPolicy, pkg/timeout.Default).
func New(cfg Config) *Manager {
	return engine.New(cfg)
}

// DefaultRequestOptions returns options that preload the full response body,
// the common case for callers who just want Data()/JSON() afterward.
func DefaultRequestOptions() RequestOptions {
	return engine.DefaultRequestOptions()
}

// NewHeaders returns an empty header dictionary.
func NewHeaders() *Dict {
	return headers.New()
}

// DefaultRetryPolicy mirrors the urllib3-style conservative default used
// when a Config or RequestOptions doesn't set its own Retries.
func DefaultRetryPolicy() *RetryPolicy {
	return retry.DefaultPolicy()
}

// NewLogger wraps an optional *zap.Logger for injection into Config.Logger.
// Passing nil yields a no-op logger, matching pkg/telemetry's nil-safety.
func NewLogger(z *zap.Logger) *telemetry.Logger {
	return telemetry.New(z)
}

// IsTimeoutError reports whether err is (or wraps) a timeout failure.
func IsTimeoutError(err error) bool {
	return errors.IsTimeoutError(err)
}

// IsTemporaryError reports whether err is a transient failure safe to retry.
func IsTemporaryError(err error) bool {
	return errors.IsTemporaryError(err)
}

// Get issues a GET request against rawURL.
func Get(ctx context.Context, m *Manager, rawURL string, opts RequestOptions) (*Response, error) {
	return m.Get(ctx, rawURL, opts)
}
