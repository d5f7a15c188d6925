package logging

import (
	"os"
	"sync"
)

// RingBuffer is a thread-safe circular byte buffer holding the most recent
// log output. It implements io.Writer and overwrites the oldest data when
// full, so a crash dump always shows the polls and turns leading up to the
// failure without the buffer ever growing.
type RingBuffer struct {
	mu   sync.Mutex
	buf  []byte
	size int
	pos  int
	full bool
}

// NewRingBuffer creates a ring buffer with the given capacity in bytes.
func NewRingBuffer(size int) *RingBuffer {
	if size <= 0 {
		size = 10 * 1024 * 1024 // 10MB default
	}
	return &RingBuffer{
		buf:  make([]byte, size),
		size: size,
	}
}

// Write implements io.Writer. Data wraps around when the buffer is full.
func (rb *RingBuffer) Write(p []byte) (int, error) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	n := len(p)
	if n >= rb.size {
		// Record larger than the whole buffer: keep only its tail
		copy(rb.buf, p[n-rb.size:])
		rb.pos = 0
		rb.full = true
		return n, nil
	}

	space := rb.size - rb.pos
	if n <= space {
		copy(rb.buf[rb.pos:], p)
		rb.pos += n
		if rb.pos == rb.size {
			rb.pos = 0
			rb.full = true
		}
	} else {
		// Split write: fill to end, then wrap
		copy(rb.buf[rb.pos:], p[:space])
		copy(rb.buf, p[space:])
		rb.pos = n - space
		rb.full = true
	}

	return n, nil
}

// Bytes returns the buffered log lines in chronological order.
func (rb *RingBuffer) Bytes() []byte {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if !rb.full {
		out := make([]byte, rb.pos)
		copy(out, rb.buf[:rb.pos])
		return out
	}

	// Wrapped: oldest data sits at [pos..end], newest at [0..pos]
	out := make([]byte, rb.size)
	copy(out, rb.buf[rb.pos:])
	copy(out[rb.size-rb.pos:], rb.buf[:rb.pos])
	return out
}

// DumpToFile writes the buffered log tail to a file in chronological order.
func (rb *RingBuffer) DumpToFile(path string) error {
	return os.WriteFile(path, rb.Bytes(), 0o644)
}
