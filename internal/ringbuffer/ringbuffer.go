package ringbuffer

import "sync"

// RingBuffer is a single-producer, single-consumer circular byte buffer
// holding raw interleaved IQ samples. The producer never blocks: when a
// write would pass the consumer cursor, the oldest unread bytes are dropped
// and the event is counted, so a stalled consumer costs audio continuity
// but never stalls the receiver.
type RingBuffer struct {
	buf        []byte
	size       int
	readIndex  int
	writeIndex int
	used       int
	overflows  uint64
	closed     bool
	mu         sync.Mutex
}

// New creates a new RingBuffer of a given size in bytes.
func New(size int) *RingBuffer {
	return &RingBuffer{
		buf:  make([]byte, size),
		size: size,
	}
}

// Size returns the buffer capacity in bytes.
func (rb *RingBuffer) Size() int {
	return rb.size
}

// Available returns the number of unread bytes between the consumer and
// producer cursors.
func (rb *RingBuffer) Available() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.used
}

// Overflows returns how many times the producer has overwritten unread data.
func (rb *RingBuffer) Overflows() uint64 {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.overflows
}

// Closed reports whether the producer has signalled end of stream.
func (rb *RingBuffer) Closed() bool {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.closed
}

// Close marks the buffer as closed, indicating no more writes will occur.
func (rb *RingBuffer) Close() {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	rb.closed = true
}

// Produce appends data to the buffer, wrapping as needed.
func (rb *RingBuffer) Produce(data []byte) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if rb.closed {
		panic("write to closed ring buffer")
	}

	// A write larger than the whole buffer keeps only the tail.
	if len(data) > rb.size {
		data = data[len(data)-rb.size:]
	}

	free := rb.size - rb.used
	if len(data) > free {
		dropped := len(data) - free
		rb.readIndex = (rb.readIndex + dropped) % rb.size
		rb.used -= dropped
		rb.overflows++
	}

	n := copy(rb.buf[rb.writeIndex:], data)
	if n < len(data) {
		copy(rb.buf, data[n:])
	}
	rb.writeIndex = (rb.writeIndex + len(data)) % rb.size
	rb.used += len(data)
}

// Peek copies len(dst) bytes starting at the consumer cursor without
// advancing it. It returns false when not enough data is buffered. The
// channelizer uses this to read one FFT batch plus the window guard while
// only advancing by the batch stride afterwards.
func (rb *RingBuffer) Peek(dst []byte) bool {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if len(dst) > rb.used {
		return false
	}
	n := copy(dst, rb.buf[rb.readIndex:])
	if n < len(dst) {
		copy(dst[n:], rb.buf)
	}
	return true
}

// AdvanceHead moves the consumer cursor forward by n bytes after they have
// been processed.
func (rb *RingBuffer) AdvanceHead(n int) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if n > rb.used {
		n = rb.used
	}
	rb.readIndex = (rb.readIndex + n) % rb.size
	rb.used -= n
}
