// Package session composes a PTY host, VT100 emulator, screen model, and
// VOM classifier into the unit of work spec.md §4.5 describes: a single
// driven terminal application with a Starting→Running→Exiting→Exited
// lifecycle. Grounded on the teacher's internal/session/session.go
// composition-root shape (one struct owning the VT plus a per-session
// mutex) and internal/daemon/daemon.go's PTY-writer-with-timeout wrapper;
// the agent-harness/message-queue machinery the teacher built this shape
// around is not part of this spec and is not carried forward (see
// DESIGN.md's deleted-modules section).
package session

import (
	"errors"
	"sync"
	"time"

	"tuid/internal/keys"
	"tuid/internal/ptyhost"
	"tuid/internal/screen"
	"tuid/internal/terminal"
	"tuid/internal/vom"
)

// State is the session lifecycle state of spec.md §4.5.
type State string

const (
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateExiting  State = "exiting"
	StateExited   State = "exited"
)

// writeTimeout bounds how long a hung child may stall a Type/Press call,
// matching the teacher's VT.WritePTY 3-second budget.
const writeTimeout = 3 * time.Second

// ErrNotRunning is returned by operations that require a live child.
var ErrNotRunning = errors.New("session: not running")

// ErrUnknownDirection is returned by Scroll for a direction other than
// up/down/left/right.
var ErrUnknownDirection = errors.New("session: unknown scroll direction")

// Screenshot is the result of spec.md's `screenshot` operation: the full
// screen buffer snapshot (cells, cursor, sequence number) plus the
// classified Visual Object Model.
type Screenshot struct {
	Buf        screen.ScreenBuffer
	Components []vom.Component
}

// Session drives one PTY-backed terminal application.
type Session struct {
	ID      string
	Command string
	Args    []string
	Cwd     string
	Env     map[string]string

	mu         sync.Mutex
	state      State
	host       *ptyhost.Host
	scr        *screen.Screen
	emu        *terminal.Emulator
	classifier *vom.Classifier
	startTime  time.Time
	exitErr    error
	done       chan struct{}

	// changed is closed and replaced on every screen mutation (output
	// applied, resize), giving the Wait Engine a notify point to select
	// on instead of polling (spec.md §4.6/§9).
	changed chan struct{}

	// OnExit, if set, is invoked exactly once (not holding the session
	// lock) when the child terminates, letting a registry retire the
	// session without polling.
	OnExit func(*Session)
}

// New constructs a Session in state Starting. Call Start to spawn the
// child.
func New(id, command string, args []string, cwd string, env map[string]string) *Session {
	return &Session{
		ID:         id,
		Command:    command,
		Args:       args,
		Cwd:        cwd,
		Env:        env,
		state:      StateStarting,
		classifier: &vom.Classifier{},
		done:       make(chan struct{}),
		changed:    make(chan struct{}),
	}
}

// Start opens the PTY, spawns the child, and begins pumping output into
// the terminal emulator. Cols/rows must satisfy ptyhost.ValidateDimensions.
func (s *Session) Start(cols, rows int) error {
	s.mu.Lock()
	if s.state != StateStarting {
		s.mu.Unlock()
		return errors.New("session: already started")
	}
	host, err := ptyhost.Open(s.Command, s.Args, s.Cwd, s.Env, cols, rows)
	if err != nil {
		s.state = StateExited
		s.mu.Unlock()
		return err
	}
	s.host = host
	s.scr = screen.New(cols, rows)
	s.emu = terminal.New(s.scr)
	s.startTime = time.Now()
	s.state = StateRunning
	s.mu.Unlock()

	go s.pumpOutput()
	go s.awaitExit()
	return nil
}

func (s *Session) pumpOutput() {
	buf := make([]byte, 4096)
	for {
		n, err := s.host.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			s.mu.Lock()
			s.emu.Write(data)
			s.mu.Unlock()
			s.signalChanged()
		}
		if err != nil {
			// EOF/EIO here means the child's side of the PTY closed, i.e.
			// the child terminated — not a transport failure (spec.md §4.1).
			return
		}
	}
}

func (s *Session) awaitExit() {
	err := s.host.WaitChild()
	s.mu.Lock()
	s.exitErr = err
	s.state = StateExited
	s.mu.Unlock()
	close(s.done)
	s.signalChanged()
	if s.OnExit != nil {
		s.OnExit(s)
	}
}

// signalChanged wakes every goroutine currently blocked in Changed,
// replacing the channel so a caller that fetches it afterward waits for
// the *next* mutation rather than one already delivered.
func (s *Session) signalChanged() {
	s.mu.Lock()
	ch := s.changed
	s.changed = make(chan struct{})
	s.mu.Unlock()
	close(ch)
}

// Changed returns a channel closed the next time the session's screen
// mutates or the session exits — the Wait Engine's notify point in place
// of a polling ticker (spec.md §4.6/§9). Callers must re-fetch Changed
// after each wake, since the returned channel is one-shot.
func (s *Session) Changed() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.changed
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Done returns a channel closed when the session reaches Exited.
func (s *Session) Done() <-chan struct{} { return s.done }

// ExitErr returns the child's exit error, valid once Done is closed.
func (s *Session) ExitErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exitErr
}

// StartTime returns when Start successfully spawned the child.
func (s *Session) StartTime() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startTime
}

// Seq exposes the screen's mutation sequence number for the wait engine.
func (s *Session) Seq() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.scr == nil {
		return 0
	}
	return s.scr.Seq()
}

// Screenshot runs the VOM pipeline over the current screen snapshot
// (spec.md §4.4/§4.5).
func (s *Session) Screenshot() (Screenshot, error) {
	s.mu.Lock()
	scr := s.scr
	s.mu.Unlock()
	if scr == nil {
		return Screenshot{}, ErrNotRunning
	}
	buf := scr.Snapshot()
	clusters := vom.Segment(buf)
	comps := s.classifier.Classify(buf, clusters)
	return Screenshot{Buf: buf, Components: comps}, nil
}

// Type sends literal text to the child's stdin.
func (s *Session) Type(text string) error {
	host, ok := s.runningHost()
	if !ok {
		return ErrNotRunning
	}
	_, err := host.WriteTimeout([]byte(text), writeTimeout)
	return err
}

// Press sends the byte sequence for a named semantic key (spec.md §4.5).
func (s *Session) Press(name string, mod keys.Modifier) error {
	host, ok := s.runningHost()
	if !ok {
		return ErrNotRunning
	}
	seq, err := keys.Encode(name, mod)
	if err != nil {
		return err
	}
	_, err = host.WriteTimeout(seq, writeTimeout)
	return err
}

// PressSequence applies a sequence of press ops — plain key presses
// interleaved with keydown/keyup-style modifier holds — composing held
// modifiers across the sequence via a fresh keys.Composer and writing
// the resulting bytes in a single timed write (spec.md §4.5's
// `press(keys[], modifier_ops?)`).
func (s *Session) PressSequence(ops []keys.Op) error {
	host, ok := s.runningHost()
	if !ok {
		return ErrNotRunning
	}
	var c keys.Composer
	seq, err := c.Apply(ops)
	if err != nil {
		return err
	}
	_, err = host.WriteTimeout(seq, writeTimeout)
	return err
}

// scrollSeq maps a scroll direction to the conventional PTY input a
// terminal program expects for it (spec.md §4.5): vertical scroll reuses
// the PageUp/PageDown keys most TUIs bind to scrollback paging;
// horizontal scroll reuses the plain arrow-key sequences, the common
// binding for horizontally-scrolling panes.
var scrollSeq = map[string][]byte{
	"up":    []byte("\x1b[5~"),
	"down":  []byte("\x1b[6~"),
	"left":  []byte("\x1b[D"),
	"right": []byte("\x1b[C"),
}

// Scroll synthesizes the PTY input equivalent of scrolling the terminal
// in direction by amount (spec.md §4.5) — an input-synthesis operation
// like Type/Press, not a scrollback read.
func (s *Session) Scroll(direction string, amount int) error {
	seq, ok := scrollSeq[direction]
	if !ok {
		return ErrUnknownDirection
	}
	if amount <= 0 {
		amount = 1
	}
	host, running := s.runningHost()
	if !running {
		return ErrNotRunning
	}
	out := make([]byte, 0, len(seq)*amount)
	for i := 0; i < amount; i++ {
		out = append(out, seq...)
	}
	_, err := host.WriteTimeout(out, writeTimeout)
	return err
}

// Resize changes both the PTY's kernel window size and the logical
// screen/emulator dimensions (spec.md §4.5).
func (s *Session) Resize(cols, rows int) error {
	s.mu.Lock()
	if s.state != StateRunning {
		s.mu.Unlock()
		return ErrNotRunning
	}
	if err := s.host.Resize(cols, rows); err != nil {
		s.mu.Unlock()
		return err
	}
	s.scr.Resize(cols, rows)
	s.emu.Resize(cols, rows)
	s.mu.Unlock()
	s.signalChanged()
	return nil
}

// Kill terminates the child and transitions to Exiting; awaitExit settles
// the final state once the kernel reaps it.
func (s *Session) Kill() error {
	s.mu.Lock()
	if s.state != StateRunning {
		s.mu.Unlock()
		return ErrNotRunning
	}
	s.state = StateExiting
	host := s.host
	s.mu.Unlock()
	return host.Kill()
}

// Pid returns the child process's pid, or 0 if the session never started.
func (s *Session) Pid() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.host == nil {
		return 0
	}
	return s.host.Pid()
}

func (s *Session) runningHost() (*ptyhost.Host, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateRunning {
		return nil, false
	}
	return s.host, true
}
