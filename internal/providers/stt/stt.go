package stt

import "context"

// Provider performs one speech-to-text call over a raw PCM segment. Retry,
// pacing, and filtering live above this interface.
type Provider interface {
	Transcribe(ctx context.Context, audio []byte, language string) (text string, confidence float64, err error)
	Close() error
}
