// Package timeout implements the split connect/read/total budget the engine
// carries through one logical request, plus the concurrent read/write
// readiness wait §4.3 requires during body upload.
package timeout

import (
	"time"

	"github.com/go-httpcore/httpcore/pkg/errors"
)

// Default is the sentinel meaning "use the ambient process default"; it is
// distinguished from an explicit zero/negative value, which is invalid.
var Default = time.Duration(-1)

// Timeout carries the connect/read/total budget for one logical request.
// It is not immutable the way RetryState is: start_connect mutates the
// internal clock the way the spec describes, and a single Timeout is meant
// to be threaded through one request's connect+read lifecycle.
type Timeout struct {
	Connect time.Duration
	Read    time.Duration
	Total   time.Duration

	startedConnect bool
	connectedAt    time.Time
}

// New validates and constructs a Timeout. A zero or negative duration other
// than Default fails with InvalidTimeout.
func New(connect, read, total time.Duration) (*Timeout, error) {
	for _, d := range []time.Duration{connect, read, total} {
		if d != Default && d <= 0 {
			return nil, errors.InvalidTimeout("timeout components must be positive or the Default sentinel")
		}
	}
	return &Timeout{Connect: connect, Read: read, Total: total}, nil
}

// StartConnect records the monotonic instant connect began.
func (t *Timeout) StartConnect() {
	t.startedConnect = true
	t.connectedAt = time.Now()
}

// ReadTimeout derives min(read, total - elapsed) once StartConnect has run;
// before that it returns Read unmodified.
func (t *Timeout) ReadTimeout() time.Duration {
	if !t.startedConnect || t.Total == Default {
		return t.Read
	}
	remaining := t.Total - time.Since(t.connectedAt)
	if t.Read == Default || t.Read > remaining {
		return remaining
	}
	return t.Read
}

// Elapsed reports time since StartConnect, or zero if never started.
func (t *Timeout) Elapsed() time.Duration {
	if !t.startedConnect {
		return 0
	}
	return time.Since(t.connectedAt)
}
