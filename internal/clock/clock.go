// Package clock abstracts time.Now and time.After behind an interface,
// with a manually advanced Fake for tests. No other package takes a
// Clock: the wait engine, the stability window and the broadcaster's
// heartbeat loop call the time package directly, so they run on real
// time. Grounded on the teacher's own habit of threading
// time.Now()/time.Since() through session/registry code
// (internal/session's StartTime, the old daemon's heartbeat loop).
package clock

import "time"

// Clock is the minimal time surface: Now, After and NewTimer.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
	NewTimer(d time.Duration) Timer
}

// Timer mirrors the parts of time.Timer callers use, so a fake clock can
// control firing without a real duration elapsing.
type Timer interface {
	C() <-chan time.Time
	Stop() bool
	Reset(d time.Duration) bool
}

// Real is the production Clock, a thin pass-through to the time package.
type Real struct{}

func (Real) Now() time.Time                        { return time.Now() }
func (Real) After(d time.Duration) <-chan time.Time { return time.After(d) }
func (Real) NewTimer(d time.Duration) Timer         { return &realTimer{t: time.NewTimer(d)} }

type realTimer struct{ t *time.Timer }

func (r *realTimer) C() <-chan time.Time       { return r.t.C }
func (r *realTimer) Stop() bool                { return r.t.Stop() }
func (r *realTimer) Reset(d time.Duration) bool { return r.t.Reset(d) }
