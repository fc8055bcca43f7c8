package transcribe

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/denizyuce/callscribe/internal/providers/stt"
	"github.com/denizyuce/callscribe/internal/utils"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type fakeProvider struct {
	attempts int
	err      error
	text     string
	failN    int // fail the first N attempts, then succeed
}

func (f *fakeProvider) Transcribe(ctx context.Context, audio []byte, language string) (string, float64, error) {
	f.attempts++
	if f.err != nil && (f.failN == 0 || f.attempts <= f.failN) {
		return "", 0, f.err
	}
	return f.text, 0.9, nil
}

func (f *fakeProvider) Close() error { return nil }

func fastTranscriber(p stt.Provider, opts Options) *Transcriber {
	tr := NewTranscriber(p, NewRateGate(60000), opts)
	tr.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	return tr
}

func TestTranscriberExhaustsTransientFailures(t *testing.T) {
	p := &fakeProvider{err: status.Error(codes.ResourceExhausted, "quota exceeded")}
	tr := fastTranscriber(p, Options{MaxAttempts: 5})

	_, _, err := tr.Transcribe(context.Background(), []byte{1, 2})
	if err == nil {
		t.Fatal("expected terminal error after exhaustion")
	}
	if p.attempts != 5 {
		t.Errorf("provider called %d times, want exactly 5", p.attempts)
	}
	if !utils.IsCode(err, utils.CodeUnavailable) {
		t.Errorf("terminal error has wrong code: %v", err)
	}
}

func TestTranscriberAbortsOnNonTransient(t *testing.T) {
	p := &fakeProvider{err: status.Error(codes.InvalidArgument, "bad encoding")}
	tr := fastTranscriber(p, Options{MaxAttempts: 5})

	_, _, err := tr.Transcribe(context.Background(), []byte{1, 2})
	if err == nil {
		t.Fatal("expected error")
	}
	if p.attempts != 1 {
		t.Errorf("non-transient failure retried: %d attempts", p.attempts)
	}
}

func TestTranscriberRecoversAfterTransientFailures(t *testing.T) {
	p := &fakeProvider{
		err:   status.Error(codes.Unavailable, "upstream not ready"),
		failN: 2,
		text:  "Hastanın ateşi düştü.",
	}
	tr := fastTranscriber(p, Options{MaxAttempts: 5})

	text, conf, err := tr.Transcribe(context.Background(), []byte{1, 2})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if text != p.text || conf != 0.9 {
		t.Errorf("got (%q, %v)", text, conf)
	}
	if p.attempts != 3 {
		t.Errorf("expected success on attempt 3, got %d attempts", p.attempts)
	}
}

func TestIsTransient(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"resource exhausted", status.Error(codes.ResourceExhausted, "quota"), true},
		{"unavailable", status.Error(codes.Unavailable, "down"), true},
		{"failed precondition", status.Error(codes.FailedPrecondition, "warming up"), true},
		{"invalid argument", status.Error(codes.InvalidArgument, "bad"), false},
		{"permission denied", status.Error(codes.PermissionDenied, "no"), false},
		{"plain 429", errors.New("HTTP 429 too many requests"), true},
		{"plain quota", errors.New("quota exceeded for project"), true},
		{"plain other", errors.New("malformed audio"), false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsTransient(tc.err); got != tc.want {
				t.Errorf("IsTransient(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}
