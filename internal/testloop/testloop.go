// Package testloop is a deterministic, manually-steppable stand-in for the
// real external event loop a trunk.Trunk expects to run inside. It plays
// the same role in this repo's tests that the teacher's stub
// iterator.Iterator plays in client_test.go/dial_test.go: a scriptable fake
// that lets a test drive state transitions directly instead of waiting on
// real sockets or timers.
package testloop

import (
	"time"

	"trunk"
)

// Conn is a scriptable trunk.Connection. A test holds onto the *Conn a
// Factory handed back for a given tconn and calls Activate/Fail/Close to
// drive its Watcher on its own schedule.
type Conn struct {
	w trunk.Watcher

	starts     int
	reconnects int
	closes     int
	closed     bool
}

func (c *Conn) Start() error {
	c.starts++
	return nil
}

func (c *Conn) Reconnect(reason trunk.Reason) error {
	c.reconnects++
	return nil
}

func (c *Conn) Close() error {
	c.closes++
	if !c.closed {
		c.closed = true
		c.w.OnClosed()
	}
	return nil
}

// Activate reports the connection usable, as if a real dial had just
// succeeded.
func (c *Conn) Activate() { c.w.OnActive() }

// Fail reports the connection dead outright (no Close involved).
func (c *Conn) Fail(err error) { c.w.OnFailed(err) }

// Starts and Reconnects let a test assert on how many times the trunk asked
// this connection to start or reconnect; Closed reports whether it has been
// torn down.
func (c *Conn) Starts() int     { return c.starts }
func (c *Conn) Reconnects() int { return c.reconnects }
func (c *Conn) Closed() bool    { return c.closed }

// Factory is a trunk.Callbacks.ConnectionAlloc backing store: every tconn
// it allocates a *Conn for is recorded by tconn id so the test can reach in
// and script it later.
type Factory struct {
	Conns map[uint64]*Conn
}

// NewFactory returns an empty Factory.
func NewFactory() *Factory {
	return &Factory{Conns: make(map[uint64]*Conn)}
}

// Alloc implements the trunk.Callbacks.ConnectionAlloc signature.
func (f *Factory) Alloc(tc *trunk.Tconn, w trunk.Watcher) (trunk.Connection, error) {
	c := &Conn{w: w}
	f.Conns[tc.ID()] = c
	return c, nil
}

// Clock is a manually-advanceable time source for Trunk.Tick, so hysteresis
// and lifetime tests never need a real sleep.
type Clock struct {
	now time.Time
}

// NewClock returns a Clock starting at start.
func NewClock(start time.Time) *Clock { return &Clock{now: start} }

// Now returns the clock's current time.
func (c *Clock) Now() time.Time { return c.now }

// Advance moves the clock forward by d and returns the new time.
func (c *Clock) Advance(d time.Duration) time.Time {
	c.now = c.now.Add(d)
	return c.now
}
