package at

// Accumulator buffers raw serial bytes between polls until complete
// notification records can be extracted from them. It enforces a fixed
// capacity: appending past it discards everything pending and starts over,
// trading data loss for freedom from deadlock (a record that can never
// complete would otherwise pin the buffer forever).
type Accumulator struct {
	buf      []byte
	capacity int
	resets   uint64
}

// NewAccumulator returns an Accumulator holding at most capacity bytes.
func NewAccumulator(capacity int) *Accumulator {
	if capacity <= 0 {
		panic("at: accumulator capacity must be positive")
	}
	return &Accumulator{buf: make([]byte, 0, capacity), capacity: capacity}
}

// Append adds p to the pending bytes. If the result would exceed capacity
// the accumulator is reset to empty first and the reset counter incremented;
// p itself is truncated to capacity in the pathological case.
func (a *Accumulator) Append(p []byte) {
	if len(p) == 0 {
		return
	}
	if len(a.buf)+len(p) > a.capacity {
		a.buf = a.buf[:0]
		a.resets++
	}
	if len(p) > a.capacity {
		p = p[len(p)-a.capacity:]
	}
	a.buf = append(a.buf, p...)
}

// Bytes returns the pending bytes. The slice aliases internal storage and is
// invalidated by the next Append or Discard.
func (a *Accumulator) Bytes() []byte { return a.buf }

// Len reports the number of pending bytes.
func (a *Accumulator) Len() int { return len(a.buf) }

// Discard removes the first n pending bytes, shifting the remainder left.
func (a *Accumulator) Discard(n int) {
	if n <= 0 {
		return
	}
	if n >= len(a.buf) {
		a.buf = a.buf[:0]
		return
	}
	rest := copy(a.buf, a.buf[n:])
	a.buf = a.buf[:rest]
}

// TrimToTail keeps only the last n pending bytes. Used to drop leading noise
// while retaining a possible partial notification marker.
func (a *Accumulator) TrimToTail(n int) {
	if len(a.buf) > n {
		a.Discard(len(a.buf) - n)
	}
}

// Resets reports how many times the accumulator overflowed and was cleared.
func (a *Accumulator) Resets() uint64 { return a.resets }
