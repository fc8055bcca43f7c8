package transcribe

import (
	"context"
	"sync"
	"time"
)

// RateGate serializes outbound transcription calls system-wide and enforces
// a minimum interval between them. The mutex is held across the wait, so
// concurrent callers from different connections queue one behind another
// instead of racing on the last-call timestamp.
type RateGate struct {
	mu       sync.Mutex
	interval time.Duration
	lastCall time.Time
}

// NewRateGate builds a gate allowing at most rpm calls per minute.
func NewRateGate(rpm int) *RateGate {
	if rpm <= 0 {
		rpm = 8
	}
	return &RateGate{interval: time.Minute / time.Duration(rpm)}
}

// Interval returns the enforced minimum spacing between calls.
func (g *RateGate) Interval() time.Duration { return g.interval }

// Wait blocks until the caller may issue the next external call, then records
// it. Returns early with the context error if ctx is done first.
func (g *RateGate) Wait(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.lastCall.IsZero() {
		if wait := g.interval - time.Since(g.lastCall); wait > 0 {
			t := time.NewTimer(wait)
			defer t.Stop()
			select {
			case <-t.C:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	g.lastCall = time.Now()
	return nil
}
