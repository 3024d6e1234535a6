package session

import (
	"sync"
	"time"

	"github.com/AlibekovAA/realtime-hub/backend/internal/common/clock"
)

type entry struct {
	conns    map[string]Conn
	lastSeen time.Time
}

// Directory maps identities to their live connections. An identity is
// online exactly while its entry exists; an entry never holds zero connections.
type Directory struct {
	mu      sync.RWMutex
	entries map[string]*entry
	clock   clock.Clock
}

func NewDirectory(clk clock.Clock) *Directory {
	if clk == nil {
		clk = clock.NewRealClock()
	}
	return &Directory{
		entries: make(map[string]*entry),
		clock:   clk,
	}
}

// Register adds conn and reports whether its identity just came online.
// Registering the same connection twice is a no-op.
func (d *Directory) Register(conn Conn) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	e, ok := d.entries[conn.UserID()]
	if !ok {
		e = &entry{conns: make(map[string]Conn, 1)}
		d.entries[conn.UserID()] = e
	}
	if _, dup := e.conns[conn.ID()]; dup {
		return false
	}
	e.conns[conn.ID()] = conn
	e.lastSeen = d.clock.Now()
	return !ok
}

// Unregister removes conn and reports whether its identity just went offline.
func (d *Directory) Unregister(conn Conn) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	e, ok := d.entries[conn.UserID()]
	if !ok {
		return false
	}
	if _, present := e.conns[conn.ID()]; !present {
		return false
	}
	delete(e.conns, conn.ID())
	if len(e.conns) > 0 {
		return false
	}
	delete(d.entries, conn.UserID())
	return true
}

func (d *Directory) IsOnline(userID string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.entries[userID]
	return ok
}

func (d *Directory) Has(conn Conn) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	e, ok := d.entries[conn.UserID()]
	if !ok {
		return false
	}
	_, ok = e.conns[conn.ID()]
	return ok
}

func (d *Directory) ConnectionsFor(userID string) []Conn {
	d.mu.RLock()
	defer d.mu.RUnlock()
	e, ok := d.entries[userID]
	if !ok {
		return nil
	}
	out := make([]Conn, 0, len(e.conns))
	for _, c := range e.conns {
		out = append(out, c)
	}
	return out
}

func (d *Directory) Connections() []Conn {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Conn, 0, len(d.entries))
	for _, e := range d.entries {
		for _, c := range e.conns {
			out = append(out, c)
		}
	}
	return out
}

func (d *Directory) OnlineIdentities() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]string, 0, len(d.entries))
	for id := range d.entries {
		out = append(out, id)
	}
	return out
}

// Touch records a heartbeat for an online identity. It returns the zero time
// when the identity is offline.
func (d *Directory) Touch(userID string) time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.entries[userID]
	if !ok {
		return time.Time{}
	}
	e.lastSeen = d.clock.Now()
	return e.lastSeen
}

func (d *Directory) LastSeen(userID string) (time.Time, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	e, ok := d.entries[userID]
	if !ok {
		return time.Time{}, false
	}
	return e.lastSeen, true
}

func (d *Directory) Counts() (identities, connections int) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, e := range d.entries {
		connections += len(e.conns)
	}
	return len(d.entries), connections
}
