package wifi

import (
	"context"
	"fmt"
	"strings"
	"time"

	"i4.energy/across/wifigw/at"
)

// joinTimeout covers association plus DHCP, which routinely takes longer
// than an ordinary command round trip.
const joinTimeout = 20 * time.Second

// Join associates with the given access point and waits for an address.
func (d *Device) Join(ctx context.Context, ssid, password string) error {
	if ssid == "" {
		return fmt.Errorf("empty ssid: %w", ErrInvalidParameter)
	}
	ctx, cancel := d.withDefaultTimeout(ctx, joinTimeout)
	defer cancel()
	if _, err := d.SendCommand(ctx, at.CmdJoin(ssid, password), at.OK); err != nil {
		return fmt.Errorf("join %q: %w", ssid, err)
	}
	d.linkUp.Store(true)
	return nil
}

// StationMode puts the co-processor in station (client) mode.
func (d *Device) StationMode(ctx context.Context) error {
	return d.expectOK(ctx, at.CmdStation)
}

// LocalIP queries the station address assigned by the access point.
func (d *Device) LocalIP(ctx context.Context) (string, error) {
	resp, err := d.SendCommand(ctx, at.CmdLocalIP, at.OK)
	if err != nil {
		return "", fmt.Errorf("query local ip: %w", err)
	}
	// Response carries lines like +CIFSR:STAIP,"192.168.4.2"
	const tag = `STAIP,"`
	i := strings.Index(resp, tag)
	if i < 0 {
		return "", fmt.Errorf("no station ip in response %q", resp)
	}
	rest := resp[i+len(tag):]
	j := strings.IndexByte(rest, '"')
	if j < 0 {
		return "", fmt.Errorf("unterminated station ip in response %q", resp)
	}
	return rest[:j], nil
}

// StartServer opens the co-processor's built-in multi-connection TCP server.
func (d *Device) StartServer(ctx context.Context, port int) error {
	if port <= 0 || port > 65535 {
		return fmt.Errorf("port %d: %w", port, ErrInvalidParameter)
	}
	return d.expectOK(ctx, at.CmdServerStart(port))
}

// StopServer closes the built-in TCP server.
func (d *Device) StopServer(ctx context.Context) error {
	return d.expectOK(ctx, at.CmdServerStop)
}

// SetServerTimeout sets the co-processor's own per-connection inactivity
// timeout, in seconds.
func (d *Device) SetServerTimeout(ctx context.Context, seconds int) error {
	if seconds < 0 {
		return fmt.Errorf("timeout %d: %w", seconds, ErrInvalidParameter)
	}
	return d.expectOK(ctx, at.CmdServerTimeout(seconds))
}

// ConnectTCP opens an outbound TCP connection on the given link id.
func (d *Device) ConnectTCP(ctx context.Context, link int, host string, port int) error {
	if host == "" || port <= 0 || port > 65535 {
		return fmt.Errorf("connect %q:%d: %w", host, port, ErrInvalidParameter)
	}
	if _, err := d.SendCommand(ctx, at.CmdStartTCP(link, host, port), at.OK); err != nil {
		return fmt.Errorf("connect %s:%d on link %d: %w", host, port, link, err)
	}
	return nil
}

// CloseLink closes a logical connection.
func (d *Device) CloseLink(ctx context.Context, link int) error {
	return d.expectOK(ctx, at.CmdClose(link))
}
