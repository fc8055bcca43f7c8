package config

import (
	"os"
	"strconv"
)

// PipelineSettings are the audio and transcription knobs. Every field has a
// production default; env vars override.
type PipelineSettings struct {
	SampleRate    int // SAMPLE_RATE, Hz
	FrameMS       int // FRAME_MS
	SilenceTailMS int // SILENCE_TAIL_MS
	MinSegmentMS  int // MIN_SEGMENT_MS

	STTLanguage      string // STT_LANGUAGE
	STTRPM           int    // STT_RPM, provider requests per minute
	STTMaxAttempts   int    // STT_MAX_ATTEMPTS
	STTBackoffBaseMS int    // STT_BACKOFF_BASE_MS
	STTBackoffCapMS  int    // STT_BACKOFF_CAP_MS
}

func LoadPipelineSettings() PipelineSettings {
	return PipelineSettings{
		SampleRate:    envInt("SAMPLE_RATE", 16000),
		FrameMS:       envInt("FRAME_MS", 20),
		SilenceTailMS: envInt("SILENCE_TAIL_MS", 900),
		MinSegmentMS:  envInt("MIN_SEGMENT_MS", 1200),

		STTLanguage:      envStr("STT_LANGUAGE", "tr-TR"),
		STTRPM:           envInt("STT_RPM", 8),
		STTMaxAttempts:   envInt("STT_MAX_ATTEMPTS", 6),
		STTBackoffBaseMS: envInt("STT_BACKOFF_BASE_MS", 2000),
		STTBackoffCapMS:  envInt("STT_BACKOFF_CAP_MS", 20000),
	}
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
