package httpd

import (
	"fmt"
	"time"
)

// MaxConnections is the number of simultaneous logical connections the
// co-processor multiplexes; link ids run 0..MaxConnections-1.
const MaxConnections = 5

// Connection is one logical connection slot. A slot is created or refreshed
// whenever a notification tags its link id, and cleared by explicit close or
// by the idle sweep.
type Connection struct {
	Link         int
	Addr         string
	Port         int
	LastActivity time.Time
	Active       bool
}

type connTable struct {
	conns [MaxConnections]Connection
}

// touch creates or refreshes the slot for link, recording the peer address
// when the notification carried one.
func (t *connTable) touch(link int, addr string, port int, hasAddr bool, now time.Time) error {
	if link < 0 || link >= MaxConnections {
		return fmt.Errorf("link %d: %w", link, ErrTooManyConnections)
	}
	c := &t.conns[link]
	c.Link = link
	c.Active = true
	c.LastActivity = now
	if hasAddr {
		c.Addr = addr
		c.Port = port
	}
	return nil
}

func (t *connTable) clear(link int) {
	if link < 0 || link >= MaxConnections {
		return
	}
	t.conns[link] = Connection{Link: link}
}

// stale returns the links of active connections idle longer than threshold.
func (t *connTable) stale(now time.Time, threshold time.Duration) []int {
	var links []int
	for i := range t.conns {
		c := &t.conns[i]
		if c.Active && now.Sub(c.LastActivity) > threshold {
			links = append(links, i)
		}
	}
	return links
}

func (t *connTable) snapshot() []Connection {
	out := make([]Connection, 0, MaxConnections)
	for i := range t.conns {
		if t.conns[i].Active {
			out = append(out, t.conns[i])
		}
	}
	return out
}
