package ring_test

import (
	"bytes"
	"testing"

	"i4.energy/across/wifigw/ring"
)

func TestDrainPreservesOrderAcrossWrap(t *testing.T) {
	const capacity = 32

	// Every write size below capacity, from every starting cursor position,
	// must drain back in original order.
	for start := 0; start < capacity; start++ {
		for w := 1; w < capacity; w++ {
			b := ring.New(capacity)

			// Advance both cursors to the desired start offset.
			pad := make([]byte, start)
			b.Put(pad)
			if got := b.Drain(make([]byte, start)); got != start {
				t.Fatalf("padding drain: got %d, want %d", got, start)
			}

			data := make([]byte, w)
			for i := range data {
				data[i] = byte(i + 1)
			}
			b.Put(data)

			if got := b.Available(); got != w {
				t.Fatalf("start=%d w=%d: Available() = %d, want %d", start, w, got, w)
			}

			out := make([]byte, w)
			if got := b.Drain(out); got != w {
				t.Fatalf("start=%d w=%d: Drain() = %d, want %d", start, w, got, w)
			}
			if !bytes.Equal(out, data) {
				t.Fatalf("start=%d w=%d: drained %v, want %v", start, w, out, data)
			}
		}
	}
}

func TestDrainPartial(t *testing.T) {
	b := ring.New(16)
	b.Put([]byte("abcdefgh"))

	out := make([]byte, 3)
	if got := b.Drain(out); got != 3 {
		t.Fatalf("Drain() = %d, want 3", got)
	}
	if string(out) != "abc" {
		t.Errorf("first drain = %q, want %q", out, "abc")
	}

	out = make([]byte, 16)
	n := b.Drain(out)
	if string(out[:n]) != "defgh" {
		t.Errorf("second drain = %q, want %q", out[:n], "defgh")
	}
	if got := b.Drain(out); got != 0 {
		t.Errorf("empty drain = %d, want 0", got)
	}
}

func TestDrainIntoSmallSlices(t *testing.T) {
	b := ring.New(8)
	b.Put([]byte("0123456"))

	var got []byte
	chunk := make([]byte, 2)
	for {
		n := b.Drain(chunk)
		if n == 0 {
			break
		}
		got = append(got, chunk[:n]...)
	}
	if string(got) != "0123456" {
		t.Errorf("reassembled %q, want %q", got, "0123456")
	}
}

func TestOverrunCounting(t *testing.T) {
	b := ring.New(8)

	b.Put([]byte("1234"))
	if got := b.Overruns(); got != 0 {
		t.Fatalf("Overruns() = %d before any overrun", got)
	}

	// Nothing drained: this write laps the reader.
	b.Put([]byte("abcdefgh"))
	if got := b.Overruns(); got != 1 {
		t.Errorf("Overruns() = %d, want 1", got)
	}

	// A full revolution makes the buffer appear empty. This is the
	// undetectable-loss behavior the counter exists to surface, so the
	// exact-capacity write must count as an overrun as well.
	b2 := ring.New(8)
	b2.Put([]byte("01234567"))
	if got := b2.Available(); got != 0 {
		t.Errorf("Available() after exact revolution = %d, want 0", got)
	}
	if got := b2.Overruns(); got != 1 {
		t.Errorf("Overruns() after exact revolution = %d, want 1", got)
	}
}

func TestPutWrapsAtBufferEnd(t *testing.T) {
	b := ring.New(8)

	// Park both cursors near the end so the next Put must wrap.
	b.Put([]byte("xxxxxx"))
	b.Drain(make([]byte, 6))

	b.Put([]byte("hello"))
	out := make([]byte, 8)
	n := b.Drain(out)
	if string(out[:n]) != "hello" {
		t.Errorf("drained %q after wrapping put, want %q", out[:n], "hello")
	}
	if got := b.Overruns(); got != 0 {
		t.Errorf("Overruns() = %d, want 0", got)
	}
}
