// Package telemetry is the optional structured-logging injection point the
// rest of httpcore calls into for the handful of events spec.md calls out
// explicitly: malformed-header warnings (logged, not raised) and the
// CommonName-fallback hostname-verification deprecation notice, plus
// retries and redirects. PoolEvicted and PoolClosed exist, but nothing in
// httpcore calls them. Grounded on caddyserver/caddy's pervasive use of
// zap as the structured logger of choice across an entire HTTP stack.
package telemetry

import (
	"go.uber.org/zap"

	"github.com/go-httpcore/httpcore/pkg/tlsconfig"
)

// Logger wraps a *zap.Logger so every call site can be nil-safe: a Manager
// built without a logger silently drops these events instead of forcing
// every caller to nil-check at the call site.
type Logger struct {
	z *zap.Logger
}

// New wraps z. A nil z produces a Logger whose methods are no-ops.
func New(z *zap.Logger) *Logger {
	return &Logger{z: z}
}

// Noop returns a Logger that discards everything, the default when a
// Manager is constructed without one.
func Noop() *Logger {
	return &Logger{}
}

func (l *Logger) HeaderParseWarning(line string, cause error) {
	if l == nil || l.z == nil {
		return
	}
	l.z.Warn("malformed response header line", zap.String("line", line), zap.Error(cause))
}

func (l *Logger) DeprecatedCommonNameVerification(host string) {
	if l == nil || l.z == nil {
		return
	}
	l.z.Warn("certificate verified via deprecated CommonName fallback", zap.String("host", host))
}

func (l *Logger) DeprecatedTLSVersion(host string, version uint16) {
	if l == nil || l.z == nil {
		return
	}
	l.z.Warn("negotiated a deprecated TLS version",
		zap.String("host", host), zap.String("version", tlsconfig.GetVersionName(version)))
}

func (l *Logger) PoolEvicted(key string) {
	if l == nil || l.z == nil {
		return
	}
	l.z.Debug("pool evicted from manager LRU", zap.String("pool", key))
}

func (l *Logger) PoolClosed(key string) {
	if l == nil || l.z == nil {
		return
	}
	l.z.Debug("pool closed", zap.String("pool", key))
}

func (l *Logger) RetryAttempt(method, url string, attempt int, cause error) {
	if l == nil || l.z == nil {
		return
	}
	l.z.Info("retrying request",
		zap.String("method", method),
		zap.String("url", url),
		zap.Int("attempt", attempt),
		zap.Error(cause),
	)
}

func (l *Logger) Redirect(method, from, to string, status int) {
	if l == nil || l.z == nil {
		return
	}
	l.z.Debug("following redirect",
		zap.String("method", method),
		zap.String("from", from),
		zap.String("to", to),
		zap.Int("status", status),
	)
}
