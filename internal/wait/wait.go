// Package wait implements the Wait Engine of spec.md §4.6: condition
// registration against a session's observable state (text present/gone,
// screen stability, element present/absent), edge-triggered resolution,
// and cancellation. Grounded on spec.md §4.6/§9's "ask the Registry per
// evaluation rather than hold a Session pointer" design, which mirrors
// the teacher's exitNotify/relaunchCh/quitCh channel trio's "signal,
// don't share mutable state across goroutines" idiom.
package wait

import (
	"context"
	"errors"
	"strings"
	"time"

	"tuid/internal/registry"
	"tuid/internal/session"
	"tuid/internal/vom"
)

// defaultTimeout is the bound Wait uses when Condition.Timeout is
// negative. A Timeout of 0 is not mapped to it: 0 means a single
// immediate check.
const defaultTimeout = 30 * time.Second

// defaultStableFor is how long the screen must be unchanged for a
// "stable" condition to resolve.
const defaultStableFor = 500 * time.Millisecond

// Kind selects which condition Wait evaluates.
type Kind string

const (
	KindText         Kind = "text"
	KindTextGone     Kind = "text_gone"
	KindStable       Kind = "stable"
	KindElement      Kind = "element_present"
	KindElementGone  Kind = "element_absent"
)

// ErrTimeout is returned when a condition never becomes true within the
// requested timeout.
var ErrTimeout = errors.New("wait: timed out")

// ErrUnknownKind is returned for an unrecognized Kind.
var ErrUnknownKind = errors.New("wait: unknown condition kind")

// Condition describes what Wait should block on.
type Condition struct {
	Kind Kind

	// Text is the substring KindText/KindTextGone search the screen's
	// plain text view for.
	Text string

	// Role/ElementText select a vom.Component for KindElement/KindElementGone;
	// both empty matches any component.
	Role        vom.Role
	ElementText string

	// Timeout is the maximum time to wait; 0 means "evaluate once, right
	// now" (spec.md §4.6), not "use the default".
	Timeout time.Duration

	// StableFor overrides defaultStableFor for KindStable.
	StableFor time.Duration
}

// Engine evaluates Conditions against sessions resolved from a Registry
// on every poll, so a session can be killed/replaced mid-wait without
// the engine holding a stale pointer.
type Engine struct {
	reg *registry.Registry
}

// New returns an Engine backed by reg.
func New(reg *registry.Registry) *Engine {
	return &Engine{reg: reg}
}

// Wait blocks until cond is satisfied for the session identified by
// sessionID (resolving the active session if sessionID is ""), the
// session exits, ctx is cancelled, or the timeout elapses. Re-evaluation
// is edge-triggered off the session's Changed notify channel rather than
// a polling loop (spec.md §9: "wait is implemented as a condition +
// notification list, not a polling loop").
func (e *Engine) Wait(ctx context.Context, sessionID string, cond Condition) error {
	timeout := cond.Timeout
	if timeout < 0 {
		timeout = defaultTimeout
	}

	check := func() (bool, error) {
		s, err := e.reg.Get(sessionID)
		if err != nil {
			return false, err
		}
		return e.evaluate(ctx, s, cond)
	}

	ok, err := check()
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	if cond.Timeout == 0 {
		return ErrTimeout
	}

	deadline := time.Now().Add(timeout)
	for {
		s, err := e.reg.Get(sessionID)
		if err != nil {
			return err
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return ErrTimeout
		}
		timer := time.NewTimer(remaining)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-s.Done():
			timer.Stop()
			ok, err := check()
			if err != nil {
				return err
			}
			if ok {
				return nil
			}
			return session.ErrNotRunning
		case <-s.Changed():
			timer.Stop()
		case <-timer.C:
		}

		ok, err := check()
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		if time.Now().After(deadline) {
			return ErrTimeout
		}
	}
}

func (e *Engine) evaluate(ctx context.Context, s *session.Session, cond Condition) (bool, error) {
	switch cond.Kind {
	case KindText:
		shot, err := s.Screenshot()
		if err != nil {
			return false, err
		}
		return strings.Contains(shot.Buf.Text(), cond.Text), nil
	case KindTextGone:
		shot, err := s.Screenshot()
		if err != nil {
			return false, err
		}
		return !strings.Contains(shot.Buf.Text(), cond.Text), nil
	case KindStable:
		return e.evaluateStable(ctx, s, cond)
	case KindElement:
		shot, err := s.Screenshot()
		if err != nil {
			return false, err
		}
		return findComponent(shot.Components, cond) != nil, nil
	case KindElementGone:
		shot, err := s.Screenshot()
		if err != nil {
			return false, err
		}
		return findComponent(shot.Components, cond) == nil, nil
	default:
		return false, ErrUnknownKind
	}
}

// evaluateStable blocks internally for StableFor (or defaultStableFor),
// waking only on a real screen mutation (via Changed) or the window's
// own timer, and reports whether the mutation sequence never changed
// across that window — the "stable" condition is itself a small wait,
// not a point-in-time check.
func (e *Engine) evaluateStable(ctx context.Context, s *session.Session, cond Condition) (bool, error) {
	window := cond.StableFor
	if window <= 0 {
		window = defaultStableFor
	}
	start := s.Seq()
	timer := time.NewTimer(window)
	defer timer.Stop()
	for {
		select {
		case <-timer.C:
			return s.Seq() == start, nil
		case <-ctx.Done():
			return false, ctx.Err()
		case <-s.Changed():
			if s.Seq() != start {
				return false, nil
			}
		}
	}
}

func findComponent(comps []vom.Component, cond Condition) *vom.Component {
	for i := range comps {
		c := &comps[i]
		if cond.Role != "" && c.Role != cond.Role {
			continue
		}
		if cond.ElementText != "" && !strings.Contains(c.Text, cond.ElementText) {
			continue
		}
		return c
	}
	return nil
}
