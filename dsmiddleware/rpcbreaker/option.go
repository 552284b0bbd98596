package rpcbreaker

import (
	"context"
	"time"

	"github.com/sony/gobreaker/v2"
)

// WithSettings replaces the breaker settings. IsSuccessful is kept when
// s.IsSuccessful is nil.
func WithSettings(s gobreaker.Settings) BreakerOption {
	return &withSettings{s}
}

type withSettings struct{ s gobreaker.Settings }

func (w *withSettings) Apply(bh *breakerHandler) {
	isSuccessful := bh.settings.IsSuccessful
	bh.settings = w.s
	if bh.settings.IsSuccessful == nil {
		bh.settings.IsSuccessful = isSuccessful
	}
}

// WithConsecutiveFailures trips the breaker after n failures in a row.
func WithConsecutiveFailures(n uint32) BreakerOption {
	return &withConsecutiveFailures{n}
}

type withConsecutiveFailures struct{ n uint32 }

func (w *withConsecutiveFailures) Apply(bh *breakerHandler) {
	n := w.n
	bh.settings.ReadyToTrip = func(counts gobreaker.Counts) bool {
		return counts.ConsecutiveFailures >= n
	}
}

// WithOpenTimeout sets how long the breaker stays open before probing.
func WithOpenTimeout(d time.Duration) BreakerOption {
	return &withOpenTimeout{d}
}

type withOpenTimeout struct{ d time.Duration }

func (w *withOpenTimeout) Apply(bh *breakerHandler) {
	bh.settings.Timeout = w.d
}

func WithLogf(logf func(ctx context.Context, format string, args ...interface{})) BreakerOption {
	return &withLogf{logf}
}

type withLogf struct {
	logf func(ctx context.Context, format string, args ...interface{})
}

func (w *withLogf) Apply(bh *breakerHandler) {
	bh.logf = w.logf
}
