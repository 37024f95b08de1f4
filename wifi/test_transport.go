package wifi

import (
	"io"
	"sync"
)

// TestTransport is a test helper that simulates a blocking transport using
// channels. This is needed because the fill goroutine continuously reads
// from the transport, and we need reads to block until data is available
// (like a real serial port would).
type TestTransport struct {
	mu       sync.Mutex
	readChan chan []byte
	writes   [][]byte
	onWrite  func([]byte)
	closed   bool
}

// NewTestTransport creates a new test transport for testing.
// Exported for use in tests.
func NewTestTransport() *TestTransport {
	return &TestTransport{
		readChan: make(chan []byte, 16),
	}
}

func (t *TestTransport) Write(p []byte) (n int, err error) {
	cp := make([]byte, len(p))
	copy(cp, p)

	t.mu.Lock()
	t.writes = append(t.writes, cp)
	onWrite := t.onWrite
	t.mu.Unlock()

	if onWrite != nil {
		onWrite(cp)
	}
	return len(p), nil
}

func (t *TestTransport) Read(p []byte) (n int, err error) {
	data, ok := <-t.readChan
	if !ok {
		return 0, io.EOF
	}
	return copy(p, data), nil
}

func (t *TestTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	close(t.readChan)
	return nil
}

// SendData queues data to be read by the transport.
// This simulates receiving data from the co-processor.
func (t *TestTransport) SendData(data string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.closed {
		t.readChan <- []byte(data)
	}
}

// OnWrite registers a hook invoked with a copy of every written chunk.
// Tests use it to script the co-processor's reply to each command.
func (t *TestTransport) OnWrite(fn func([]byte)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onWrite = fn
}

// Writes returns a snapshot of everything written to the transport so far.
func (t *TestTransport) Writes() [][]byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([][]byte, len(t.writes))
	copy(out, t.writes)
	return out
}
