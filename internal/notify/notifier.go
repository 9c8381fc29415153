// Package notify turns a store's modification time into change tokens.
//
// A Watcher belongs to exactly one subscriber. It probes on a single ticker,
// emits a token only when the modification time moved, and stops as soon as
// its context is cancelled or the subscriber can no longer be written to.
package notify

import (
	"context"
	"time"

	"statusboard/internal/logging"
	"statusboard/internal/observability"
)

const DefaultInterval = time.Second

// Token is the opaque change marker sent to subscribers: the modification
// time in unix nanoseconds.
type Token int64

// TokenFor converts a modification time into a Token.
func TokenFor(t time.Time) Token {
	return Token(t.UnixNano())
}

// Probe reports when the document was last saved.
type Probe func(ctx context.Context) (time.Time, error)

// Sink receives notifications for one subscriber. Returning an error from
// either method ends the watch.
type Sink interface {
	Notify(tok Token) error
	KeepAlive() error
}

// SinkFunc adapts a plain function; it never sends keepalives.
type SinkFunc func(tok Token) error

func (f SinkFunc) Notify(tok Token) error { return f(tok) }
func (SinkFunc) KeepAlive() error         { return nil }

type Watcher struct {
	Probe    Probe
	Interval time.Duration
	// KeepAlive, when positive, sends a keepalive after that long without a
	// notification. It reuses the probe ticker.
	KeepAlive time.Duration
	// Primed treats the state seen by the first probe as already delivered.
	// If that probe fails, the first successful one counts as a change.
	Primed    bool
	Logger    logging.Logger
}

// Run probes immediately and then once per Interval until ctx is done or
// the sink fails. Probe errors are logged and retried on the next tick.
func (w Watcher) Run(ctx context.Context, sink Sink) error {
	interval := w.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	logger := w.Logger
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var (
		last  Token
		known bool
		idle  time.Duration
	)
	for first := true; ; first = false {
		mtime, err := w.Probe(ctx)
		switch {
		case ctx.Err() != nil:
			return ctx.Err()
		case err != nil:
			observability.RecordProbeError()
			logger.Warn("probe state modification time", "error", err)
		case first && w.Primed:
			last, known = TokenFor(mtime), true
		default:
			if tok := TokenFor(mtime); !known || tok != last {
				if err := sink.Notify(tok); err != nil {
					return err
				}
				last, known, idle = tok, true, 0
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		idle += interval
		if w.KeepAlive > 0 && idle >= w.KeepAlive {
			if err := sink.KeepAlive(); err != nil {
				return err
			}
			idle = 0
		}
	}
}
