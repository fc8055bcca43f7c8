package transcribe

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestRateGatePacing(t *testing.T) {
	// 1200 RPM -> 50ms between calls, fast enough for a test.
	g := NewRateGate(1200)
	if g.Interval() != 50*time.Millisecond {
		t.Fatalf("interval = %v, want 50ms", g.Interval())
	}

	const n = 4
	start := time.Now()
	for i := 0; i < n; i++ {
		if err := g.Wait(context.Background()); err != nil {
			t.Fatalf("Wait: %v", err)
		}
	}

	elapsed := time.Since(start)
	if min := time.Duration(n-1) * g.Interval(); elapsed < min {
		t.Errorf("%d acquisitions took %v, want >= %v", n, elapsed, min)
	}
}

func TestRateGateSerializesConcurrentCallers(t *testing.T) {
	g := NewRateGate(1200)

	const n = 5
	var mu sync.Mutex
	var times []time.Time

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := g.Wait(context.Background()); err != nil {
				t.Errorf("Wait: %v", err)
				return
			}
			mu.Lock()
			times = append(times, time.Now())
			mu.Unlock()
		}()
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	for i := 1; i < len(times); i++ {
		gap := times[i].Sub(times[i-1])
		if gap < 0 {
			gap = -gap
		}
		// Grant times may record slightly late, so allow scheduling slack.
		if gap < g.Interval()-20*time.Millisecond {
			t.Errorf("grants %d and %d only %v apart, want ~%v", i-1, i, gap, g.Interval())
		}
	}
}

func TestRateGateCanceledWhileWaiting(t *testing.T) {
	g := NewRateGate(1) // 60s interval

	if err := g.Wait(context.Background()); err != nil {
		t.Fatalf("first Wait: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	if err := g.Wait(ctx); err == nil {
		t.Fatal("expected context error while waiting for the gate")
	}
}
