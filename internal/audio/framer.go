package audio

const bytesPerSample = 2 // 16-bit mono PCM

// Framer slices an incoming PCM byte stream into fixed-duration frames.
// Bytes that do not yet form a complete frame stay buffered until the next
// push; a partial frame is never emitted.
type Framer struct {
	frameBytes int
	sampleRate int
	frameMS    int
	rest       []byte
}

// NewFramer computes the frame byte length from the sample rate and frame
// duration in milliseconds. 16 kHz / 20 ms gives 640-byte frames.
func NewFramer(sampleRate, frameMS int) *Framer {
	return &Framer{
		frameBytes: sampleRate * frameMS / 1000 * bytesPerSample,
		sampleRate: sampleRate,
		frameMS:    frameMS,
	}
}

func (f *Framer) FrameBytes() int { return f.frameBytes }
func (f *Framer) SampleRate() int { return f.sampleRate }
func (f *Framer) FrameMS() int    { return f.frameMS }

// Push appends pcm to the internal buffer and returns every complete frame
// now available, in order. Each returned frame is an owned copy.
func (f *Framer) Push(pcm []byte) [][]byte {
	f.rest = append(f.rest, pcm...)

	n := len(f.rest) / f.frameBytes
	if n == 0 {
		return nil
	}

	frames := make([][]byte, 0, n)
	for i := 0; i < n; i++ {
		frame := make([]byte, f.frameBytes)
		copy(frame, f.rest[i*f.frameBytes:(i+1)*f.frameBytes])
		frames = append(frames, frame)
	}

	f.rest = append(f.rest[:0], f.rest[n*f.frameBytes:]...)
	return frames
}

// Pending returns how many buffered bytes are waiting for the next frame.
func (f *Framer) Pending() int { return len(f.rest) }

// Reset drops any buffered remainder.
func (f *Framer) Reset() { f.rest = f.rest[:0] }
