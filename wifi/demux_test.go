package wifi_test

import (
	"context"
	"errors"
	"testing"

	"i4.energy/across/wifigw/wifi"
)

type fakeConduit struct {
	inbound  []byte
	commands []string
	payloads [][]byte
	links    []int
}

func (f *fakeConduit) feed(s string) { f.inbound = append(f.inbound, s...) }

func (f *fakeConduit) Drain(dst []byte) int {
	n := copy(dst, f.inbound)
	f.inbound = f.inbound[n:]
	return n
}

func (f *fakeConduit) SendCommand(ctx context.Context, cmd, expect string) (string, error) {
	f.commands = append(f.commands, cmd)
	return "OK", nil
}

func (f *fakeConduit) SendPayload(ctx context.Context, link int, payload []byte) error {
	f.payloads = append(f.payloads, append([]byte(nil), payload...))
	f.links = append(f.links, link)
	return nil
}

func drainAll(leg *wifi.Leg) string {
	var got []byte
	chunk := make([]byte, 64)
	for {
		n := leg.Drain(chunk)
		if n == 0 {
			return string(got)
		}
		got = append(got, chunk[:n]...)
	}
}

func TestDemuxRoutesRecordsByLink(t *testing.T) {
	dev := &fakeConduit{}
	dmx := wifi.NewDemux(dev, nil)

	webLeg, err := dmx.Claim(0, 1, 2, 3)
	if err != nil {
		t.Fatalf("claim web links: %v", err)
	}
	mqttLeg, err := dmx.Claim(4)
	if err != nil {
		t.Fatalf("claim mqtt link: %v", err)
	}

	// An HTTP request on link 1 and an MQTT PUBLISH on link 4, interleaved
	// in the one stream.
	httpRecord := "+IPD,1,18:GET / HTTP/1.1\r\n\r\n"
	publishRecord := "+IPD,4,9:\x30\x07\x00\x03cmdon"
	dev.feed(httpRecord + publishRecord)

	if got := drainAll(webLeg); got != httpRecord {
		t.Errorf("web leg drained %q, want only %q", got, httpRecord)
	}
	if got := drainAll(mqttLeg); got != publishRecord {
		t.Errorf("mqtt leg drained %q, want only %q", got, publishRecord)
	}

	// The web consumer must never answer on the MQTT link: nothing of the
	// PUBLISH record reached it, so it has nothing to respond to.
	if got := drainAll(webLeg); got != "" {
		t.Errorf("web leg drained %q after queues were emptied", got)
	}
	if got := dmx.Dropped(); got != 0 {
		t.Errorf("Dropped() = %d, want 0", got)
	}
}

func TestDemuxDropsUnclaimedLinks(t *testing.T) {
	dev := &fakeConduit{}
	dmx := wifi.NewDemux(dev, nil)

	leg, err := dmx.Claim(0)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}

	dev.feed("+IPD,3,2:hi+IPD,0,2:ok")

	if got := drainAll(leg); got != "+IPD,0,2:ok" {
		t.Errorf("leg drained %q, want only the link 0 record", got)
	}
	if got := dmx.Dropped(); got != 1 {
		t.Errorf("Dropped() = %d, want 1", got)
	}
}

func TestDemuxClaimConflicts(t *testing.T) {
	dmx := wifi.NewDemux(&fakeConduit{}, nil)

	if _, err := dmx.Claim(4); err != nil {
		t.Fatalf("first claim: %v", err)
	}
	if _, err := dmx.Claim(4); !errors.Is(err, wifi.ErrLinkClaimed) {
		t.Errorf("expected ErrLinkClaimed on second claim, got: %v", err)
	}
	if _, err := dmx.Claim(); !errors.Is(err, wifi.ErrInvalidParameter) {
		t.Errorf("expected ErrInvalidParameter for empty claim, got: %v", err)
	}
}

func TestDemuxHoldsIncompleteRecords(t *testing.T) {
	dev := &fakeConduit{}
	dmx := wifi.NewDemux(dev, nil)

	leg, err := dmx.Claim(2)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}

	record := "+IPD,2,5:hello"
	for cut := 1; cut < len(record); cut++ {
		dev.feed(record[:cut])
		if got := drainAll(leg); got != "" {
			t.Fatalf("cut=%d: leg drained %q from a partial record", cut, got)
		}
		dev.feed(record[cut:])
		if got := drainAll(leg); got != record {
			t.Fatalf("cut=%d: leg drained %q, want %q", cut, got, record)
		}
	}
}

func TestLegPassesCommandsThrough(t *testing.T) {
	dev := &fakeConduit{}
	dmx := wifi.NewDemux(dev, nil)

	leg, err := dmx.Claim(4)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}

	if _, err := leg.SendCommand(context.Background(), "AT+CIPCLOSE=4", "OK"); err != nil {
		t.Fatalf("SendCommand: %v", err)
	}
	if err := leg.SendPayload(context.Background(), 4, []byte("x")); err != nil {
		t.Fatalf("SendPayload: %v", err)
	}

	if len(dev.commands) != 1 || dev.commands[0] != "AT+CIPCLOSE=4" {
		t.Errorf("commands = %q, want the pass-through close", dev.commands)
	}
	if len(dev.payloads) != 1 || string(dev.payloads[0]) != "x" || dev.links[0] != 4 {
		t.Errorf("payloads = %q on links %v, want pass-through send", dev.payloads, dev.links)
	}
}
