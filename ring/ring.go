// Package ring implements the circular ingestion buffer that sits between
// the co-processor's serial output and the rest of the gateway. One side is
// filled continuously (the hardware copy engine in the original design, a
// reader goroutine here); the other side is drained on demand.
package ring

import "sync"

// Buffer is a fixed-capacity circular byte buffer with independent write and
// read cursors. The writer never blocks and never fails: if the reader falls
// a full revolution behind, unread bytes are overwritten. That loss is not
// detectable in the data stream itself, matching the hardware behavior, but
// each Put that overwrites unread data increments an overrun counter.
type Buffer struct {
	mu sync.Mutex

	buf []byte
	// Monotonic byte counts. The physical cursor is the count modulo
	// capacity; available bytes are (written - read) mod capacity.
	written uint64
	read    uint64

	overruns uint64
}

// New returns a Buffer with the given capacity. Capacity must be positive.
func New(capacity int) *Buffer {
	if capacity <= 0 {
		panic("ring: capacity must be positive")
	}
	return &Buffer{buf: make([]byte, capacity)}
}

// Capacity returns the fixed size of the buffer.
func (b *Buffer) Capacity() int { return len(b.buf) }

// Put copies p into the buffer at the write cursor, wrapping as needed.
// It never blocks. Bytes the reader has not yet drained are overwritten
// silently when the writer laps the reader.
func (b *Buffer) Put(p []byte) {
	if len(p) == 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	c := uint64(len(b.buf))
	// At exactly one revolution the cursors coincide and the content is
	// unreadable, so that counts as loss too.
	if b.written+uint64(len(p))-b.read >= c {
		b.overruns++
	}

	// If p is longer than the buffer only its tail survives; writing the
	// whole thing produces the same final contents.
	pos := int(b.written % c)
	n := copy(b.buf[pos:], p)
	if n < len(p) {
		copy(b.buf, p[n:])
	}
	b.written += uint64(len(p))
}

// Drain copies up to len(dst) available bytes into dst, in original order,
// and advances the read cursor by the amount copied. It never blocks and
// returns the number of bytes copied. A wrap at the end of the buffer is
// handled as two contiguous copies.
func (b *Buffer) Drain(dst []byte) int {
	if len(dst) == 0 {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	c := uint64(len(b.buf))
	avail := int((b.written - b.read) % c)
	n := min(avail, len(dst))
	if n == 0 {
		return 0
	}

	pos := int(b.read % c)
	first := min(n, len(b.buf)-pos)
	copy(dst[:first], b.buf[pos:pos+first])
	if first < n {
		copy(dst[first:n], b.buf[:n-first])
	}
	b.read += uint64(n)
	return n
}

// Available reports how many bytes can currently be drained.
func (b *Buffer) Available() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return int((b.written - b.read) % uint64(len(b.buf)))
}

// Overruns reports how many Put calls overwrote unread data. This is a
// diagnostic only; the overwritten bytes themselves are gone.
func (b *Buffer) Overruns() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.overruns
}
