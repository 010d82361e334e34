package audio

import (
	"encoding/binary"
	"math"
)

// Framer re-chunks arbitrary device periods into fixed-size frames.
// It is not safe for concurrent use; the device thread owns it.
type Framer struct {
	buf  []byte
	fill int
}

// NewFramer creates a framer emitting frames of frameBytes bytes
func NewFramer(frameBytes int) *Framer {
	if frameBytes%2 != 0 {
		frameBytes++
	}
	return &Framer{buf: make([]byte, frameBytes)}
}

// Write appends data and calls emit for every completed frame. The frame
// passed to emit is a fresh copy owned by the callee.
func (f *Framer) Write(data []byte, emit func(frame []byte)) {
	for len(data) > 0 {
		n := copy(f.buf[f.fill:], data)
		f.fill += n
		data = data[n:]

		if f.fill == len(f.buf) {
			frame := make([]byte, len(f.buf))
			copy(frame, f.buf)
			f.fill = 0
			emit(frame)
		}
	}
}

// Buffered returns the bytes waiting for the next frame
func (f *Framer) Buffered() int {
	return f.fill
}

// Reset discards any partial frame
func (f *Framer) Reset() {
	f.fill = 0
}

// FrameBytes returns the size of emitted frames
func (f *Framer) FrameBytes() int {
	return len(f.buf)
}

// RMS calculates the root mean square of 16-bit little-endian PCM,
// normalized to 0.0..1.0
func RMS(data []byte) float64 {
	sampleCount := len(data) / 2
	if sampleCount == 0 {
		return 0
	}

	var sum float64
	for i := 0; i < sampleCount; i++ {
		sample := int16(binary.LittleEndian.Uint16(data[i*2:]))
		normalized := float64(sample) / 32768.0
		sum += normalized * normalized
	}

	return math.Sqrt(sum / float64(sampleCount))
}
