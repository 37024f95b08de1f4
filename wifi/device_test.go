package wifi_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"go.uber.org/mock/gomock"
	"i4.energy/across/wifigw/wifi"
)

type testDialer struct {
	transport wifi.Transport
}

func (d testDialer) Dial(ctx context.Context) (wifi.Transport, error) {
	return d.transport, nil
}

// scriptInit answers the initialization sequence; extra answers ride on top.
func scriptInit(tr *wifi.TestTransport, extra func(cmd string)) {
	tr.OnWrite(func(p []byte) {
		cmd := strings.TrimSpace(string(p))
		switch cmd {
		case "AT", "ATE0", "AT+CIPDINFO=1", "AT+CIPMUX=1":
			tr.SendData("\r\nOK\r\n")
		default:
			if extra != nil {
				extra(cmd)
			}
		}
	})
}

func newTestDevice(t *testing.T, extra func(tr *wifi.TestTransport, cmd string)) (*wifi.Device, *wifi.TestTransport) {
	t.Helper()

	tr := wifi.NewTestTransport()
	scriptInit(tr, func(cmd string) {
		if extra != nil {
			extra(tr, cmd)
		}
	})

	config, err := wifi.NewConfigBuilder().
		WithDialer(testDialer{transport: tr}).
		WithATTimeout(200 * time.Millisecond).
		WithSendTimeout(200 * time.Millisecond).
		WithPollInterval(time.Millisecond).
		Build()
	if err != nil {
		t.Fatalf("unexpected error from Build(): %v", err)
	}

	d, err := wifi.New(context.Background(), config)
	if err != nil {
		t.Fatalf("unexpected error from New(): %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d, tr
}

func TestDeviceNew(t *testing.T) {
	t.Run("Initialization success", func(t *testing.T) {
		_, tr := newTestDevice(t, nil)

		var cmds []string
		for _, w := range tr.Writes() {
			cmds = append(cmds, strings.TrimSpace(string(w)))
		}
		want := []string{"AT", "ATE0", "AT+CIPDINFO=1", "AT+CIPMUX=1"}
		if len(cmds) != len(want) {
			t.Fatalf("init commands = %q, want %q", cmds, want)
		}
		for i := range want {
			if cmds[i] != want[i] {
				t.Errorf("init command %d = %q, want %q", i, cmds[i], want[i])
			}
		}
	})

	t.Run("ErrNoDialer when no dialer provided", func(t *testing.T) {
		d, err := wifi.New(context.Background(), wifi.Config{})
		if !errors.Is(err, wifi.ErrNoDialer) {
			t.Errorf("expected ErrNoDialer from New(), got: %v", err)
		}
		if d != nil {
			t.Error("New() should return nil device when no dialer provided")
		}
	})

	t.Run("Dialer error", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		mockDialer := wifi.NewMockDialer(ctrl)
		mockDialer.EXPECT().Dial(gomock.Any()).Return(nil, errors.New("connection failed"))

		config, err := wifi.NewConfigBuilder().WithDialer(mockDialer).Build()
		if err != nil {
			t.Fatalf("unexpected error from Build(): %v", err)
		}

		d, err := wifi.New(context.Background(), config)
		if err == nil {
			t.Error("expected error from dialer failure")
		}
		if d != nil {
			t.Error("New() should return nil device when dialer fails")
		}
	})

	t.Run("ErrNotInitialized on nil transport", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		mockDialer := wifi.NewMockDialer(ctrl)
		mockDialer.EXPECT().Dial(gomock.Any()).Return(nil, nil)

		config, err := wifi.NewConfigBuilder().WithDialer(mockDialer).Build()
		if err != nil {
			t.Fatalf("unexpected error from Build(): %v", err)
		}

		_, err = wifi.New(context.Background(), config)
		if !errors.Is(err, wifi.ErrNotInitialized) {
			t.Errorf("expected ErrNotInitialized from New(), got: %v", err)
		}
	})

	t.Run("Initialization timeout when co-processor is silent", func(t *testing.T) {
		tr := wifi.NewTestTransport()
		defer tr.Close()

		config, err := wifi.NewConfigBuilder().
			WithDialer(testDialer{transport: tr}).
			WithATTimeout(30 * time.Millisecond).
			WithInitTimeout(50 * time.Millisecond).
			WithPollInterval(time.Millisecond).
			Build()
		if err != nil {
			t.Fatalf("unexpected error from Build(): %v", err)
		}

		_, err = wifi.New(context.Background(), config)
		if !errors.Is(err, wifi.ErrTimeout) {
			t.Errorf("expected ErrTimeout from New(), got: %v", err)
		}
	})
}

func TestSendCommand(t *testing.T) {
	t.Run("Pattern match returns accumulated response", func(t *testing.T) {
		d, _ := newTestDevice(t, func(tr *wifi.TestTransport, cmd string) {
			if cmd == "AT+CWMODE=1" {
				tr.SendData("\r\nOK\r\n")
			}
		})

		resp, err := d.SendCommand(context.Background(), "AT+CWMODE=1", "OK")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !strings.Contains(resp, "OK") {
			t.Errorf("response %q does not contain OK", resp)
		}
	})

	t.Run("ERROR response fails the command", func(t *testing.T) {
		d, _ := newTestDevice(t, func(tr *wifi.TestTransport, cmd string) {
			tr.SendData("\r\nERROR\r\n")
		})

		_, err := d.SendCommand(context.Background(), "AT+CIPSTART=0,\"TCP\",\"x\",1", "OK")
		if !errors.Is(err, wifi.ErrCommandFailed) {
			t.Errorf("expected ErrCommandFailed, got: %v", err)
		}
	})

	t.Run("Silence times out", func(t *testing.T) {
		d, _ := newTestDevice(t, nil)

		_, err := d.SendCommand(context.Background(), "AT+CWJAP?", "OK")
		if !errors.Is(err, wifi.ErrTimeout) {
			t.Errorf("expected ErrTimeout, got: %v", err)
		}
	})

	t.Run("Empty expect pattern rejected", func(t *testing.T) {
		d, _ := newTestDevice(t, nil)

		_, err := d.SendCommand(context.Background(), "AT", "")
		if !errors.Is(err, wifi.ErrInvalidParameter) {
			t.Errorf("expected ErrInvalidParameter, got: %v", err)
		}
	})
}

func TestSendPayload(t *testing.T) {
	t.Run("Two-phase send", func(t *testing.T) {
		d, tr := newTestDevice(t, func(tr *wifi.TestTransport, cmd string) {
			if strings.HasPrefix(cmd, "AT+CIPSEND=") {
				tr.SendData("\r\nOK\r\n> ")
				return
			}
			// The raw payload itself: acknowledge it.
			tr.SendData("\r\nSEND OK\r\n")
		})

		payload := []byte("HTTP/1.1 204 No Content\r\n\r\n")
		if err := d.SendPayload(context.Background(), 2, payload); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		writes := tr.Writes()
		// init (4) + CIPSEND + payload
		if len(writes) != 6 {
			t.Fatalf("write count = %d, want 6", len(writes))
		}
		if got := string(writes[4]); got != "AT+CIPSEND=2,27\r\n" {
			t.Errorf("send window request = %q", got)
		}
		if got := string(writes[5]); got != string(payload) {
			t.Errorf("raw payload write = %q, want %q (verbatim, no terminator)", got, payload)
		}
	})

	t.Run("Bytes trailing SEND OK reach the pollers", func(t *testing.T) {
		d, _ := newTestDevice(t, func(tr *wifi.TestTransport, cmd string) {
			if strings.HasPrefix(cmd, "AT+CIPSEND=") {
				tr.SendData("\r\nOK\r\n> ")
				return
			}
			// The acknowledgment and an inbound record arrive in one chunk.
			tr.SendData("\r\nSEND OK\r\n+IPD,4,4:\x40\x02\x00\x01")
		})

		if err := d.SendPayload(context.Background(), 4, []byte("x")); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		deadline := time.Now().Add(time.Second)
		var got []byte
		chunk := make([]byte, 64)
		for time.Now().Before(deadline) {
			if n := d.Drain(chunk); n > 0 {
				got = append(got, chunk[:n]...)
			}
			if strings.Contains(string(got), "+IPD,4,4:\x40\x02\x00\x01") {
				break
			}
			time.Sleep(time.Millisecond)
		}
		if !strings.Contains(string(got), "+IPD,4,4:\x40\x02\x00\x01") {
			t.Errorf("drained %q, want the record that trailed SEND OK", got)
		}
	})

	t.Run("SEND FAIL surfaces as command failure", func(t *testing.T) {
		d, _ := newTestDevice(t, func(tr *wifi.TestTransport, cmd string) {
			if strings.HasPrefix(cmd, "AT+CIPSEND=") {
				tr.SendData("\r\nOK\r\n> ")
				return
			}
			tr.SendData("\r\nSEND FAIL\r\n")
		})

		err := d.SendPayload(context.Background(), 0, []byte("x"))
		if !errors.Is(err, wifi.ErrCommandFailed) {
			t.Errorf("expected ErrCommandFailed, got: %v", err)
		}
	})

	t.Run("Empty payload rejected", func(t *testing.T) {
		d, _ := newTestDevice(t, nil)
		if err := d.SendPayload(context.Background(), 0, nil); !errors.Is(err, wifi.ErrInvalidParameter) {
			t.Errorf("expected ErrInvalidParameter, got: %v", err)
		}
	})
}

func TestDrain(t *testing.T) {
	d, tr := newTestDevice(t, nil)

	tr.SendData("+IPD,0,2:hi")

	// The fill goroutine delivers asynchronously; poll briefly.
	deadline := time.Now().Add(time.Second)
	var got []byte
	chunk := make([]byte, 64)
	for time.Now().Before(deadline) {
		if n := d.Drain(chunk); n > 0 {
			got = append(got, chunk[:n]...)
		}
		if string(got) == "+IPD,0,2:hi" {
			break
		}
		time.Sleep(time.Millisecond)
	}
	if string(got) != "+IPD,0,2:hi" {
		t.Errorf("drained %q, want %q", got, "+IPD,0,2:hi")
	}
}

func TestDeviceClose(t *testing.T) {
	t.Run("ErrAlreadyClosed on double close", func(t *testing.T) {
		tr := wifi.NewTestTransport()
		scriptInit(tr, nil)

		config, err := wifi.NewConfigBuilder().
			WithDialer(testDialer{transport: tr}).
			WithPollInterval(time.Millisecond).
			Build()
		if err != nil {
			t.Fatalf("unexpected error from Build(): %v", err)
		}
		d, err := wifi.New(context.Background(), config)
		if err != nil {
			t.Fatalf("unexpected error from New(): %v", err)
		}

		if err := d.Close(); err != nil {
			t.Errorf("unexpected error from Close(): %v", err)
		}
		if err := d.Close(); !errors.Is(err, wifi.ErrAlreadyClosed) {
			t.Errorf("expected ErrAlreadyClosed, got: %v", err)
		}

		if _, err := d.SendCommand(context.Background(), "AT", "OK"); !errors.Is(err, wifi.ErrAlreadyClosed) {
			t.Errorf("expected ErrAlreadyClosed from SendCommand, got: %v", err)
		}
	})
}
