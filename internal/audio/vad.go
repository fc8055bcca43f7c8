package audio

import "math"

// Detector classifies a single PCM frame as voiced or silent. The pipeline
// treats the classifier as a black box; swapping in a model-backed detector
// only requires implementing this interface.
type Detector interface {
	IsSpeech(frame []byte, sampleRate int) bool
}

// EnergyDetector is a pure-Go detector based on RMS energy with hysteresis,
// so a single loud click does not open a segment and a single quiet frame
// does not close one.
type EnergyDetector struct {
	speechThreshold  float64
	silenceThreshold float64
	speechFrames     int
	silenceFrames    int

	inSpeech     bool
	speechCount  int
	silenceCount int
}

// NewEnergyDetector returns a detector tuned for 16 kHz 20 ms frames.
func NewEnergyDetector() *EnergyDetector {
	return &EnergyDetector{
		speechThreshold:  0.015,
		silenceThreshold: 0.008,
		speechFrames:     2,
		silenceFrames:    4,
	}
}

func (d *EnergyDetector) IsSpeech(frame []byte, sampleRate int) bool {
	level := rmsLevel(frame)

	if d.inSpeech {
		if level < d.silenceThreshold {
			d.silenceCount++
			d.speechCount = 0
			if d.silenceCount >= d.silenceFrames {
				d.inSpeech = false
				d.silenceCount = 0
			}
		} else {
			d.silenceCount = 0
		}
	} else {
		if level >= d.speechThreshold {
			d.speechCount++
			d.silenceCount = 0
			if d.speechCount >= d.speechFrames {
				d.inSpeech = true
				d.speechCount = 0
			}
		} else {
			d.speechCount = 0
		}
	}

	return d.inSpeech
}

// Reset clears the hysteresis state, for reuse across connections.
func (d *EnergyDetector) Reset() {
	d.inSpeech = false
	d.speechCount = 0
	d.silenceCount = 0
}

// rmsLevel computes the normalized RMS of little-endian 16-bit samples,
// in the 0..1 range.
func rmsLevel(frame []byte) float64 {
	n := len(frame) / bytesPerSample
	if n == 0 {
		return 0
	}

	var sum float64
	for i := 0; i < n; i++ {
		s := int16(frame[i*2]) | int16(frame[i*2+1])<<8
		v := float64(s) / 32768.0
		sum += v * v
	}
	return math.Sqrt(sum / float64(n))
}
