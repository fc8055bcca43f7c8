package audio

import "time"

// Accumulator merges consecutive voiced frames into speech segments.
// Two states: silent (no open segment) and voiced (segment open). A short
// silence inside a sentence is bridged into the open segment; silence longer
// than the tail threshold finalizes it. Segments shorter than the minimum
// duration are dropped instead of being sent to transcription.
type Accumulator struct {
	frameBytes  int
	frameMS     int
	silenceTail time.Duration
	minSegment  time.Duration

	voiced        bool
	lastVoiceTime time.Time
	segment       []byte
	voicedFrames  int

	now func() time.Time
}

func NewAccumulator(frameBytes, frameMS int, silenceTail, minSegment time.Duration) *Accumulator {
	return &Accumulator{
		frameBytes:  frameBytes,
		frameMS:     frameMS,
		silenceTail: silenceTail,
		minSegment:  minSegment,
		now:         time.Now,
	}
}

// Voiced reports whether a segment is currently open.
func (a *Accumulator) Voiced() bool { return a.voiced }

// Feed consumes one classified frame. When a segment is finalized and long
// enough it is returned; otherwise the returned slice is nil.
func (a *Accumulator) Feed(frame []byte, isSpeech bool) []byte {
	now := a.now()

	if isSpeech {
		a.segment = append(a.segment, frame...)
		a.voicedFrames++
		a.voiced = true
		a.lastVoiceTime = now
		return nil
	}

	if !a.voiced {
		return nil
	}

	if now.Sub(a.lastVoiceTime) < a.silenceTail {
		// Brief pause inside a sentence: keep the silent frame so the
		// transcription hears natural timing.
		a.segment = append(a.segment, frame...)
		return nil
	}

	return a.finalize()
}

// Flush force-finalizes any open segment, returning it when it meets the
// minimum duration. Called on stream end.
func (a *Accumulator) Flush() []byte {
	if !a.voiced {
		return nil
	}
	return a.finalize()
}

// SegmentDuration returns the duration of the currently buffered segment.
func (a *Accumulator) SegmentDuration() time.Duration {
	frames := len(a.segment) / a.frameBytes
	return time.Duration(frames*a.frameMS) * time.Millisecond
}

func (a *Accumulator) finalize() []byte {
	// The duration floor counts voiced frames only: the bridged silence tail
	// alone must never push a cough over the minimum.
	dur := time.Duration(a.voicedFrames*a.frameMS) * time.Millisecond

	var out []byte
	if dur >= a.minSegment {
		out = make([]byte, len(a.segment))
		copy(out, a.segment)
	}

	// Cleared atomically with the state transition: segment bytes never
	// survive into the silent state.
	a.segment = a.segment[:0]
	a.voicedFrames = 0
	a.voiced = false
	return out
}
