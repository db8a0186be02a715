// Package terminal implements the VT100-class ANSI parser described in
// spec.md §4.2: the DEC state machine (Ground, Escape, CsiEntry, CsiParam,
// CsiIntermediate, OscString), dispatching on the CSI final byte and
// mutating a *screen.Screen in lock-step. This is the engine's core
// algorithm; see DESIGN.md for why it is hand-built rather than adapted
// from a library.
package terminal

import (
	"unicode/utf8"

	"tuid/internal/screen"
	"tuid/internal/vt100cell"
)

// parser states, named after the canonical DEC/ECMA-48 state machine.
type state int

const (
	stateGround state = iota
	stateEscape
	stateCsiEntry
	stateCsiParam
	stateCsiIntermediate
	stateOscString
)

// Emulator consumes a byte stream and mutates a Screen. It is not safe for
// concurrent Write calls; per spec.md §5 a single session task is the sole
// mutator.
type Emulator struct {
	scr *screen.Screen

	st           state
	params       []int
	curParam     int
	haveParam    bool
	intermediate byte
	private      bool // CSI '?' prefix (DEC private modes)

	oscBuf []byte

	utf8Buf []byte // bytes of a not-yet-complete UTF-8 sequence

	style      vt100cell.CellStyle
	autowrap   bool
	wrapPending bool

	scrollTop, scrollBottom int // inclusive row range, 0-indexed

	savedRow, savedCol int
	savedStyle         vt100cell.CellStyle
	haveSaved          bool

	tabStops []bool

	title string

	bracketedPaste bool

	// onTitle, if set, is called whenever an OSC 0/1/2 title is parsed.
	onTitle func(string)
}

// New creates an Emulator driving scr. scr's current dimensions set the
// initial scroll region and tab stops.
func New(scr *screen.Screen) *Emulator {
	e := &Emulator{scr: scr, autowrap: true}
	e.resetRegionAndTabs()
	scr.SetCursorVisible(true)
	return e
}

// OnTitle registers a callback invoked when the child sets the window
// title via OSC 0/1/2 (captured, not required to render — spec.md §4.2).
func (e *Emulator) OnTitle(fn func(string)) { e.onTitle = fn }

// Title returns the most recently parsed OSC title.
func (e *Emulator) Title() string { return e.title }

func (e *Emulator) resetRegionAndTabs() {
	cols, rows := e.scr.Size()
	e.scrollTop = 0
	e.scrollBottom = rows - 1
	e.tabStops = make([]bool, cols)
	for i := 0; i < cols; i += 8 {
		e.tabStops[i] = true
	}
}

// Resize resizes the underlying Screen and keeps the scroll region and tab
// stops consistent with the new size.
func (e *Emulator) Resize(cols, rows int) {
	e.scr.Resize(cols, rows)
	if e.scrollBottom >= rows || e.scrollTop >= rows {
		e.scrollTop, e.scrollBottom = 0, rows-1
	}
	if len(e.tabStops) != cols {
		old := e.tabStops
		e.tabStops = make([]bool, cols)
		copy(e.tabStops, old)
		for i := len(old); i < cols; i += 8 {
			if i%8 == 0 {
				e.tabStops[i] = true
			}
		}
	}
	e.wrapPending = false
}

// Write feeds bytes into the parser. It never returns an error; malformed
// sequences are discarded per spec.md §4.2 edge-case policy.
func (e *Emulator) Write(p []byte) (int, error) {
	for _, b := range p {
		e.step(b)
	}
	return len(p), nil
}

func (e *Emulator) step(b byte) {
	switch e.st {
	case stateGround:
		e.ground(b)
	case stateEscape:
		e.escape(b)
	case stateCsiEntry, stateCsiParam:
		e.csi(b)
	case stateCsiIntermediate:
		e.csiIntermediate(b)
	case stateOscString:
		e.osc(b)
	}
}

func (e *Emulator) ground(b byte) {
	switch b {
	case 0x1B:
		e.st = stateEscape
		return
	case '\r':
		e.carriageReturn()
		return
	case '\n', '\v', '\f':
		e.lineFeed()
		return
	case '\b':
		e.cursorLeft(1)
		return
	case '\t':
		e.tab()
		return
	case 0x07: // BEL
		return
	}
	if b < 0x20 {
		return
	}
	e.printByte(b)
}

// printByte handles a printable byte. Bytes are buffered until they form a
// complete UTF-8 sequence, which is then printed as one rune; a byte that
// cannot start or continue a valid sequence is printed as its
// ISO-8859-1-style one-byte rune rather than rejected.
func (e *Emulator) printByte(b byte) {
	e.utf8Buf = append(e.utf8Buf, b)
	for len(e.utf8Buf) > 0 && utf8.FullRune(e.utf8Buf) {
		r, size := utf8.DecodeRune(e.utf8Buf)
		if r == utf8.RuneError && size == 1 {
			r = rune(e.utf8Buf[0])
		}
		e.utf8Buf = e.utf8Buf[size:]
		e.putRune(r)
	}
}

func (e *Emulator) putRune(r rune) {
	cols, _ := e.scr.Size()
	cur := e.scr.Cursor()

	w := vt100cell.RuneWidth(r)
	if w <= 0 {
		w = 1
	}

	if e.wrapPending {
		e.carriageReturn()
		e.lineFeed()
		cur = e.scr.Cursor()
		e.wrapPending = false
	}

	if cur.Col+w > cols {
		if e.autowrap {
			e.carriageReturn()
			e.lineFeed()
			cur = e.scr.Cursor()
		} else {
			cur.Col = cols - w
			if cur.Col < 0 {
				cur.Col = 0
			}
		}
	}

	e.scr.SetCell(cur.Row, cur.Col, vt100cell.Cell{Char: r, Style: e.style})
	if w == 2 {
		e.scr.SetCell(cur.Row, cur.Col+1, vt100cell.Cell{Char: 0, Style: e.style, Continuation: true})
	}

	next := cur.Col + w
	if next >= cols {
		e.wrapPending = e.autowrap
		next = cols
	}
	e.scr.SetCursor(cur.Row, next)
}

func (e *Emulator) carriageReturn() {
	cur := e.scr.Cursor()
	e.scr.SetCursor(cur.Row, 0)
	e.wrapPending = false
}

func (e *Emulator) lineFeed() {
	cur := e.scr.Cursor()
	if cur.Row == e.scrollBottom {
		e.scr.ScrollUp(e.scrollTop, e.scrollBottom+1, 1)
		return
	}
	if cur.Row < e.scrollBottom {
		e.scr.SetCursor(cur.Row+1, cur.Col)
	}
	e.wrapPending = false
}

func (e *Emulator) tab() {
	cur := e.scr.Cursor()
	col := cur.Col + 1
	for col < len(e.tabStops) && !e.tabStops[col] {
		col++
	}
	cols, _ := e.scr.Size()
	if col >= cols {
		col = cols - 1
	}
	e.scr.SetCursor(cur.Row, col)
}

func (e *Emulator) cursorLeft(n int) {
	cur := e.scr.Cursor()
	e.scr.SetCursor(cur.Row, cur.Col-n)
	e.wrapPending = false
}

func (e *Emulator) escape(b byte) {
	switch b {
	case '[':
		e.beginCsi()
		return
	case ']':
		e.st = stateOscString
		e.oscBuf = e.oscBuf[:0]
		return
	case 'c': // RIS: full reset
		e.fullReset()
		e.st = stateGround
		return
	case '7': // DECSC
		e.saveCursor()
		e.st = stateGround
		return
	case '8': // DECRC
		e.restoreCursor()
		e.st = stateGround
		return
	case 'D': // IND
		e.lineFeed()
		e.st = stateGround
		return
	case 'M': // RI (reverse index)
		cur := e.scr.Cursor()
		if cur.Row == e.scrollTop {
			e.scr.ScrollDown(e.scrollTop, e.scrollBottom+1, 1)
		} else if cur.Row > 0 {
			e.scr.SetCursor(cur.Row-1, cur.Col)
		}
		e.st = stateGround
		return
	case 'E': // NEL
		e.carriageReturn()
		e.lineFeed()
		e.st = stateGround
		return
	case 'H': // HTS
		cur := e.scr.Cursor()
		if cur.Col < len(e.tabStops) {
			e.tabStops[cur.Col] = true
		}
		e.st = stateGround
		return
	}
	// Unknown escape sequence: discard and return to ground, per spec's
	// "unknown sequences are discarded silently after being fully consumed"
	// policy.
	e.st = stateGround
}

func (e *Emulator) beginCsi() {
	e.st = stateCsiEntry
	e.params = e.params[:0]
	e.curParam = 0
	e.haveParam = false
	e.intermediate = 0
	e.private = false
}

func (e *Emulator) csi(b byte) {
	switch {
	case b == '?' && e.st == stateCsiEntry:
		e.private = true
		return
	case b >= '0' && b <= '9':
		e.curParam = e.curParam*10 + int(b-'0')
		e.haveParam = true
		e.st = stateCsiParam
		return
	case b == ';':
		e.params = append(e.params, e.curParam)
		e.curParam = 0
		e.haveParam = false
		e.st = stateCsiParam
		return
	case b >= 0x20 && b <= 0x2F:
		e.intermediate = b
		e.st = stateCsiIntermediate
		return
	case b >= 0x40 && b <= 0x7E:
		e.finishParam()
		e.dispatchCsi(b)
		e.st = stateGround
		return
	default:
		// Malformed CSI (non-terminated, out of accept set): abandon.
		e.st = stateGround
		return
	}
}

func (e *Emulator) csiIntermediate(b byte) {
	if b >= 0x20 && b <= 0x2F {
		e.intermediate = b
		return
	}
	if b >= 0x40 && b <= 0x7E {
		e.finishParam()
		e.dispatchCsi(b)
	}
	e.st = stateGround
}

func (e *Emulator) finishParam() {
	if e.haveParam || len(e.params) == 0 {
		e.params = append(e.params, e.curParam)
	}
}

func (e *Emulator) param(i, def int) int {
	if i >= len(e.params) {
		return def
	}
	if e.params[i] == 0 {
		return def
	}
	return e.params[i]
}

func (e *Emulator) osc(b byte) {
	switch b {
	case 0x07:
		e.finishOsc()
		e.st = stateGround
		return
	case 0x1B:
		// Possible ST (ESC \): the ESC is kept as the buffer's last byte
		// and the following '\\' case checks for it.
		e.oscBuf = append(e.oscBuf, b)
		return
	case '\\':
		if len(e.oscBuf) > 0 && e.oscBuf[len(e.oscBuf)-1] == 0x1B {
			e.oscBuf = e.oscBuf[:len(e.oscBuf)-1]
			e.finishOsc()
			e.st = stateGround
			return
		}
		e.oscBuf = append(e.oscBuf, b)
		return
	default:
		e.oscBuf = append(e.oscBuf, b)
	}
}

func (e *Emulator) finishOsc() {
	s := string(e.oscBuf)
	// OSC 0/1/2 ; title
	if len(s) >= 2 && (s[0] == '0' || s[0] == '1' || s[0] == '2') && s[1] == ';' {
		e.title = s[2:]
		if e.onTitle != nil {
			e.onTitle(e.title)
		}
	}
	e.oscBuf = e.oscBuf[:0]
}

func (e *Emulator) saveCursor() {
	cur := e.scr.Cursor()
	e.savedRow, e.savedCol = cur.Row, cur.Col
	e.savedStyle = e.style
	e.haveSaved = true
}

func (e *Emulator) restoreCursor() {
	if !e.haveSaved {
		e.scr.SetCursor(0, 0)
		return
	}
	e.scr.SetCursor(e.savedRow, e.savedCol)
	e.style = e.savedStyle
}

func (e *Emulator) fullReset() {
	e.scr.Reset()
	e.style = vt100cell.DefaultStyle
	e.haveSaved = false
	e.wrapPending = false
	e.resetRegionAndTabs()
	e.title = ""
	e.bracketedPaste = false
}

func (e *Emulator) dispatchCsi(final byte) {
	switch final {
	case 'H', 'f': // CUP / HVP
		row := e.param(0, 1) - 1
		col := e.param(1, 1) - 1
		e.scr.SetCursor(row, col)
		e.wrapPending = false
	case 'A': // CUU
		cur := e.scr.Cursor()
		e.scr.SetCursor(cur.Row-e.param(0, 1), cur.Col)
	case 'B': // CUD
		cur := e.scr.Cursor()
		e.scr.SetCursor(cur.Row+e.param(0, 1), cur.Col)
	case 'C': // CUF
		cur := e.scr.Cursor()
		e.scr.SetCursor(cur.Row, cur.Col+e.param(0, 1))
	case 'D': // CUB
		e.cursorLeft(e.param(0, 1))
	case 'E': // CNL
		cur := e.scr.Cursor()
		e.scr.SetCursor(cur.Row+e.param(0, 1), 0)
	case 'F': // CPL
		cur := e.scr.Cursor()
		e.scr.SetCursor(cur.Row-e.param(0, 1), 0)
	case 'G', '`': // CHA
		cur := e.scr.Cursor()
		e.scr.SetCursor(cur.Row, e.param(0, 1)-1)
	case 'd': // VPA
		cur := e.scr.Cursor()
		e.scr.SetCursor(e.param(0, 1)-1, cur.Col)
	case 'J': // ED
		e.eraseInDisplay(e.param(0, 0))
	case 'K': // EL
		e.eraseInLine(e.param(0, 0))
	case 'L': // IL
		cur := e.scr.Cursor()
		e.scr.ScrollDown(cur.Row, e.scrollBottom+1, e.param(0, 1))
	case 'M': // DL
		cur := e.scr.Cursor()
		e.scr.ScrollUp(cur.Row, e.scrollBottom+1, e.param(0, 1))
	case 'S': // SU
		e.scr.ScrollUp(e.scrollTop, e.scrollBottom+1, e.param(0, 1))
	case 'T': // SD
		e.scr.ScrollDown(e.scrollTop, e.scrollBottom+1, e.param(0, 1))
	case '@': // ICH: insert n blank chars at cursor
		e.insertChars(e.param(0, 1))
	case 'P': // DCH: delete n chars at cursor
		e.deleteChars(e.param(0, 1))
	case 'X': // ECH: erase n chars at cursor
		cur := e.scr.Cursor()
		e.scr.ClearRect(cur.Row, cur.Col, e.param(0, 1), 1)
	case 'm': // SGR
		e.sgr()
	case 'r': // DECSTBM
		cols, rows := e.scr.Size()
		_ = cols
		top := e.param(0, 1) - 1
		bottom := e.param(1, rows) - 1
		if top < 0 {
			top = 0
		}
		if bottom >= rows {
			bottom = rows - 1
		}
		if top < bottom {
			e.scrollTop, e.scrollBottom = top, bottom
		} else {
			e.scrollTop, e.scrollBottom = 0, rows-1
		}
		e.scr.SetCursor(0, 0)
	case 's': // SCOSC (save cursor, non-DEC)
		e.saveCursor()
	case 'u': // SCORC (restore cursor, non-DEC)
		e.restoreCursor()
	case 'g': // TBC: clear tab stop(s)
		switch e.param(0, 0) {
		case 0:
			cur := e.scr.Cursor()
			if cur.Col < len(e.tabStops) {
				e.tabStops[cur.Col] = false
			}
		case 3:
			for i := range e.tabStops {
				e.tabStops[i] = false
			}
		}
	case 'h', 'l':
		e.mode(final == 'h')
	case 'n': // DSR — device status report; no response channel at this
		// layer, so the request is consumed and no report is sent.
	default:
		// Unrecognized CSI final byte: fully consumed, silently discarded.
	}
}

func (e *Emulator) insertChars(n int) {
	cur := e.scr.Cursor()
	cols, _ := e.scr.Size()
	for c := cols - 1; c >= cur.Col+n; c-- {
		e.scr.SetCell(cur.Row, c, e.scr.Cell(cur.Row, c-n))
	}
	e.scr.ClearRect(cur.Row, cur.Col, n, 1)
}

func (e *Emulator) deleteChars(n int) {
	cur := e.scr.Cursor()
	cols, _ := e.scr.Size()
	for c := cur.Col; c < cols-n; c++ {
		e.scr.SetCell(cur.Row, c, e.scr.Cell(cur.Row, c+n))
	}
	e.scr.ClearRect(cur.Row, cols-n, n, 1)
}

func (e *Emulator) eraseInDisplay(mode int) {
	cols, rows := e.scr.Size()
	cur := e.scr.Cursor()
	switch mode {
	case 0:
		e.scr.ClearRect(cur.Row, cur.Col, cols-cur.Col, 1)
		e.scr.ClearRect(cur.Row+1, 0, cols, rows-cur.Row-1)
	case 1:
		e.scr.ClearRect(0, 0, cols, cur.Row)
		e.scr.ClearRect(cur.Row, 0, cur.Col+1, 1)
	case 2, 3:
		e.scr.ClearRect(0, 0, cols, rows)
	}
}

func (e *Emulator) eraseInLine(mode int) {
	cols, _ := e.scr.Size()
	cur := e.scr.Cursor()
	switch mode {
	case 0:
		e.scr.ClearRect(cur.Row, cur.Col, cols-cur.Col, 1)
	case 1:
		e.scr.ClearRect(cur.Row, 0, cur.Col+1, 1)
	case 2:
		e.scr.ClearRect(cur.Row, 0, cols, 1)
	}
}

func (e *Emulator) mode(set bool) {
	if !e.private {
		return
	}
	for _, p := range e.params {
		switch p {
		case 7: // DECAWM autowrap
			e.autowrap = set
		case 25: // DECTCEM cursor visibility
			e.scr.SetCursorVisible(set)
		case 2004: // bracketed paste — recognized and preserved as inert
			e.bracketedPaste = set
		}
	}
}

// BracketedPaste reports whether the child has enabled bracketed paste
// mode (tracked inertly, per spec.md §4.2).
func (e *Emulator) BracketedPaste() bool { return e.bracketedPaste }

func (e *Emulator) sgr() {
	if len(e.params) == 0 {
		e.style = vt100cell.DefaultStyle
		return
	}
	for i := 0; i < len(e.params); i++ {
		p := e.params[i]
		switch {
		case p == 0:
			e.style = vt100cell.DefaultStyle
		case p == 1:
			e.style.Bold = true
		case p == 4:
			e.style.Underline = true
		case p == 7:
			e.style.Inverse = true
		case p == 22:
			e.style.Bold = false
		case p == 24:
			e.style.Underline = false
		case p == 27:
			e.style.Inverse = false
		case p >= 30 && p <= 37:
			e.style.Fg = vt100cell.Indexed(uint8(p - 30))
		case p == 38:
			c, consumed := e.extendedColor(i + 1)
			e.style.Fg = c
			i += consumed
		case p == 39:
			e.style.Fg = vt100cell.DefaultColor
		case p >= 40 && p <= 47:
			e.style.Bg = vt100cell.Indexed(uint8(p - 40))
		case p == 48:
			c, consumed := e.extendedColor(i + 1)
			e.style.Bg = c
			i += consumed
		case p == 49:
			e.style.Bg = vt100cell.DefaultColor
		case p >= 90 && p <= 97:
			e.style.Fg = vt100cell.Indexed(uint8(p - 90 + 8))
		case p >= 100 && p <= 107:
			e.style.Bg = vt100cell.Indexed(uint8(p - 100 + 8))
		}
	}
}

// extendedColor parses the "38;5;N" (256-color) or "38;2;R;G;B" (RGB) forms
// starting at params[idx], returning the color and the number of extra
// params consumed beyond the selector itself.
func (e *Emulator) extendedColor(idx int) (vt100cell.Color, int) {
	if idx >= len(e.params) {
		return vt100cell.DefaultColor, 0
	}
	switch e.params[idx] {
	case 5:
		if idx+1 < len(e.params) {
			return vt100cell.Indexed(uint8(e.params[idx+1])), 2
		}
		return vt100cell.DefaultColor, 1
	case 2:
		if idx+3 < len(e.params) {
			return vt100cell.RGB(uint8(e.params[idx+1]), uint8(e.params[idx+2]), uint8(e.params[idx+3])), 4
		}
		return vt100cell.DefaultColor, len(e.params) - idx
	}
	return vt100cell.DefaultColor, 0
}
