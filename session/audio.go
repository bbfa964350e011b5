package session

import "sync"

// DefaultFlushThreshold is 100 ms of 24 kHz mono 16-bit PCM.
const DefaultFlushThreshold = 4800

// AudioBuffer accumulates provider audio deltas into frames of at least
// threshold bytes.
type AudioBuffer struct {
	mu        sync.Mutex
	buf       []byte
	threshold int
}

// NewAudioBuffer creates a buffer. A threshold below 1 uses DefaultFlushThreshold.
func NewAudioBuffer(threshold int) *AudioBuffer {
	if threshold < 1 {
		threshold = DefaultFlushThreshold
	}
	return &AudioBuffer{threshold: threshold}
}

// Append adds p and returns the buffered frame once it reaches the threshold,
// leaving the buffer empty. Otherwise it returns nil.
func (b *AudioBuffer) Append(p []byte) []byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.buf = append(b.buf, p...)
	if len(b.buf) < b.threshold {
		return nil
	}
	frame := b.buf
	b.buf = nil
	return frame
}

// Drain returns whatever is buffered, or nil when empty, and clears the buffer.
func (b *AudioBuffer) Drain() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.buf) == 0 {
		return nil
	}
	frame := b.buf
	b.buf = nil
	return frame
}

// Len returns the number of buffered bytes.
func (b *AudioBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.buf)
}

// Threshold returns the flush threshold in bytes.
func (b *AudioBuffer) Threshold() int {
	return b.threshold
}
