package transcribe

import (
	"context"
	"strings"
	"time"

	"github.com/denizyuce/callscribe/internal/providers/stt"
	"github.com/denizyuce/callscribe/internal/utils"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Options bound the retry loop around a Provider call.
type Options struct {
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	Language    string
}

func (o Options) withDefaults() Options {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 6
	}
	if o.BaseBackoff <= 0 {
		o.BaseBackoff = 2 * time.Second
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = 20 * time.Second
	}
	if o.Language == "" {
		o.Language = "tr-TR"
	}
	return o
}

// Transcriber wraps an STT provider with the rate gate and bounded retries.
// Transient failures back off exponentially; anything else aborts at once.
type Transcriber struct {
	provider stt.Provider
	gate     *RateGate
	opts     Options

	sleep func(ctx context.Context, d time.Duration) error
}

func NewTranscriber(provider stt.Provider, gate *RateGate, opts Options) *Transcriber {
	return &Transcriber{
		provider: provider,
		gate:     gate,
		opts:     opts.withDefaults(),
		sleep:    sleepCtx,
	}
}

// Transcribe runs one segment through the gate and the provider. On
// exhaustion or a non-transient failure it returns a terminal AppError with
// code UNAVAILABLE; the caller reports the segment as failed and moves on.
func (t *Transcriber) Transcribe(ctx context.Context, audio []byte) (string, float64, error) {
	const op = "Transcriber.Transcribe"

	backoff := t.opts.BaseBackoff
	var lastErr error

	for attempt := 1; attempt <= t.opts.MaxAttempts; attempt++ {
		if err := t.gate.Wait(ctx); err != nil {
			return "", 0, utils.E(utils.CodeTimeout, op, "canceled while waiting for rate gate", err)
		}

		text, conf, err := t.provider.Transcribe(ctx, audio, t.opts.Language)
		if err == nil {
			return text, conf, nil
		}
		lastErr = err

		if !IsTransient(err) {
			return "", 0, utils.E(utils.CodeUnavailable, op, "transcription failed", err)
		}
		if attempt == t.opts.MaxAttempts {
			break
		}

		if serr := t.sleep(ctx, backoff); serr != nil {
			return "", 0, utils.E(utils.CodeTimeout, op, "canceled during backoff", serr)
		}
		backoff *= 2
		if backoff > t.opts.MaxBackoff {
			backoff = t.opts.MaxBackoff
		}
	}

	return "", 0, utils.E(utils.CodeUnavailable, op, "transcription attempts exhausted", lastErr)
}

// IsTransient reports whether an STT failure is worth retrying: quota
// exhaustion, temporary unavailability, or an upstream that is not ready yet.
func IsTransient(err error) bool {
	if s, ok := status.FromError(err); ok && s.Code() != codes.OK && s.Code() != codes.Unknown {
		switch s.Code() {
		case codes.ResourceExhausted, codes.Unavailable, codes.Internal, codes.FailedPrecondition, codes.Aborted:
			return true
		}
		return false
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"429", "quota", "rate limit", "unavailable", "not ready", "temporarily"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
