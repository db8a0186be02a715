// Package screen holds the cell grid and cursor described by spec.md §4.3:
// a fixed-size ScreenBuffer, resize-with-intersection-preserved semantics,
// a plain-text view, and a bounded scrollback.
package screen

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"tuid/internal/vt100cell"
)

// Cursor is the screen's cursor position and visibility.
type Cursor struct {
	Row, Col int
	Visible  bool
}

// ScreenBuffer is an immutable logical snapshot of a Screen: callers treat
// the result as frozen (spec.md §4.3 "cheap logical copy").
type ScreenBuffer struct {
	Cols, Rows int
	Cells      []vt100cell.Cell // row-major, len == Cols*Rows
	Cursor     Cursor
	Seq        uint64 // monotonic sequence number, advances on every cell, scroll, reset or resize mutation; cursor-only moves leave it unchanged
}

// Row returns the cells of row r (0-indexed). Panics if r is out of range;
// callers are expected to check against Rows first.
func (b ScreenBuffer) Row(r int) []vt100cell.Cell {
	return b.Cells[r*b.Cols : (r+1)*b.Cols]
}

// TextView renders one line per row, trailing spaces trimmed, matching the
// plain text used by the `screenshot` operation (spec.md §4.3).
func (b ScreenBuffer) TextView() []string {
	lines := make([]string, b.Rows)
	for r := 0; r < b.Rows; r++ {
		var sb strings.Builder
		for _, c := range b.Row(r) {
			if c.Continuation {
				continue
			}
			if c.Char == 0 {
				sb.WriteByte(' ')
				continue
			}
			sb.WriteRune(c.Char)
		}
		lines[r] = strings.TrimRight(sb.String(), " ")
	}
	return lines
}

// Text concatenates TextView with newlines, the form `wait(text=...)`
// searches against.
func (b ScreenBuffer) Text() string {
	return strings.Join(b.TextView(), "\n")
}

// ANSI serializes the buffer as a self-contained ANSI byte stream:
// replayed into a blank emulator of the same dimensions, it reconstructs
// the current screen's text, styling, and cursor position/visibility
// (spec.md §4.7's live-stream init snapshot, §6's replay requirement).
func (b ScreenBuffer) ANSI() []byte {
	var out []byte
	out = append(out, "\x1b[0m"...)
	cur := vt100cell.DefaultStyle
	for r := 0; r < b.Rows; r++ {
		if r > 0 {
			out = append(out, '\r', '\n')
		}
		for _, c := range b.Row(r) {
			if c.Continuation {
				continue
			}
			if c.Style != cur {
				out = append(out, sgrSequence(c.Style)...)
				cur = c.Style
			}
			ch := c.Char
			if ch == 0 {
				ch = ' '
			}
			out = append(out, string(ch)...)
		}
	}
	out = append(out, "\x1b[0m"...)
	out = append(out, fmt.Sprintf("\x1b[%d;%dH", b.Cursor.Row+1, b.Cursor.Col+1)...)
	if b.Cursor.Visible {
		out = append(out, "\x1b[?25h"...)
	} else {
		out = append(out, "\x1b[?25l"...)
	}
	return out
}

// sgrSequence builds the CSI SGR sequence that reproduces s from a reset
// state (every call is prefixed with attribute 0 so sequences compose
// without needing to track which bits changed).
func sgrSequence(s vt100cell.CellStyle) []byte {
	params := []string{"0"}
	if s.Bold {
		params = append(params, "1")
	}
	if s.Underline {
		params = append(params, "4")
	}
	if s.Inverse {
		params = append(params, "7")
	}
	params = append(params, colorParams(s.Fg, true)...)
	params = append(params, colorParams(s.Bg, false)...)
	return []byte("\x1b[" + strings.Join(params, ";") + "m")
}

func colorParams(c vt100cell.Color, fg bool) []string {
	base38, base48 := "38", "48"
	switch c.Kind {
	case vt100cell.ColorIndexed:
		base := base48
		if fg {
			base = base38
		}
		return []string{base, "5", strconv.Itoa(int(c.Index))}
	case vt100cell.ColorRGB:
		base := base48
		if fg {
			base = base38
		}
		return []string{base, "2", strconv.Itoa(int(c.R)), strconv.Itoa(int(c.G)), strconv.Itoa(int(c.B))}
	default:
		return nil
	}
}

const defaultScrollbackLines = 2000

// Screen owns the live cell grid and cursor. All methods are safe for
// concurrent use; per spec.md §5 the owning session task is the sole
// mutator, but Snapshot may be called from any goroutine.
type Screen struct {
	mu sync.Mutex

	cols, rows int
	cells      []vt100cell.Cell
	cursor     Cursor
	seq        uint64

	scrollback    [][]vt100cell.Cell
	scrollbackMax int
}

// New creates a Screen with a blank grid of the given size.
func New(cols, rows int) *Screen {
	s := &Screen{
		cols:          cols,
		rows:          rows,
		cells:         make([]vt100cell.Cell, cols*rows),
		scrollbackMax: defaultScrollbackLines,
	}
	s.clearLocked(0, rows)
	return s
}

func (s *Screen) clearLocked(fromRow, toRow int) {
	for r := fromRow; r < toRow; r++ {
		row := s.cells[r*s.cols : (r+1)*s.cols]
		for i := range row {
			row[i] = vt100cell.BlankCell
		}
	}
}

// Size returns the current dimensions.
func (s *Screen) Size() (cols, rows int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cols, s.rows
}

// Cell returns the cell at (row, col). Out-of-range coordinates return the
// blank cell.
func (s *Screen) Cell(row, col int) vt100cell.Cell {
	s.mu.Lock()
	defer s.mu.Unlock()
	if row < 0 || row >= s.rows || col < 0 || col >= s.cols {
		return vt100cell.BlankCell
	}
	return s.cells[row*s.cols+col]
}

// SetCell writes a cell at (row, col), ignoring out-of-range coordinates.
func (s *Screen) SetCell(row, col int, c vt100cell.Cell) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if row < 0 || row >= s.rows || col < 0 || col >= s.cols {
		return
	}
	s.cells[row*s.cols+col] = c
	s.seq++
}

// ClearRect blanks cells in [row, row+h) x [col, col+w).
func (s *Screen) ClearRect(row, col, w, h int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for r := row; r < row+h && r < s.rows; r++ {
		if r < 0 {
			continue
		}
		for c := col; c < col+w && c < s.cols; c++ {
			if c < 0 {
				continue
			}
			s.cells[r*s.cols+c] = vt100cell.BlankCell
		}
	}
	s.seq++
}

// ScrollUp shifts rows [top, bottom) up by n, scrolling the topmost n rows
// into the scrollback (if within the full-screen region) and blanking the
// newly revealed rows at the bottom.
func (s *Screen) ScrollUp(top, bottom, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n <= 0 || top < 0 || bottom > s.rows || top >= bottom {
		return
	}
	for i := 0; i < n; i++ {
		if top == 0 && bottom == s.rows {
			row := make([]vt100cell.Cell, s.cols)
			copy(row, s.cells[0:s.cols])
			s.pushScrollbackLocked(row)
		}
		copy(s.cells[top*s.cols:(bottom-1)*s.cols], s.cells[(top+1)*s.cols:bottom*s.cols])
		s.clearLocked(bottom-1, bottom)
	}
	s.seq++
}

// ScrollDown shifts rows [top, bottom) down by n, blanking the newly
// revealed rows at the top. Scrolled-in content is discarded (spec.md does
// not require a redo buffer).
func (s *Screen) ScrollDown(top, bottom, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n <= 0 || top < 0 || bottom > s.rows || top >= bottom {
		return
	}
	for i := 0; i < n; i++ {
		copy(s.cells[(top+1)*s.cols:bottom*s.cols], s.cells[top*s.cols:(bottom-1)*s.cols])
		s.clearLocked(top, top+1)
	}
	s.seq++
}

func (s *Screen) pushScrollbackLocked(row []vt100cell.Cell) {
	if s.scrollbackMax <= 0 {
		return
	}
	s.scrollback = append(s.scrollback, row)
	if len(s.scrollback) > s.scrollbackMax {
		s.scrollback = s.scrollback[len(s.scrollback)-s.scrollbackMax:]
	}
}

// SetCursor moves the cursor, clamping to the valid range
// (0 <= row < rows, 0 <= col <= cols).
func (s *Screen) SetCursor(row, col int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursor.Row = clamp(row, 0, s.rows-1)
	s.cursor.Col = clamp(col, 0, s.cols)
}

// SetCursorVisible toggles cursor visibility (DECTCEM).
func (s *Screen) SetCursorVisible(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursor.Visible = v
}

// Cursor returns the current cursor state.
func (s *Screen) Cursor() Cursor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

func clamp(v, lo, hi int) int {
	if hi < lo {
		return lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Reset clears the grid, resets the cursor, and drops scrollback (ESC c —
// full reset, spec.md §4.2).
func (s *Screen) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clearLocked(0, s.rows)
	s.cursor = Cursor{Visible: true}
	s.scrollback = nil
	s.seq++
}

// Resize changes dimensions, preserving content within the intersection,
// clearing newly revealed cells, and clamping the cursor (spec.md §4.3).
// Content loss on shrink is permitted; reflow across line boundaries is
// not attempted.
func (s *Screen) Resize(cols, rows int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cols == s.cols && rows == s.rows {
		return
	}
	newCells := make([]vt100cell.Cell, cols*rows)
	for i := range newCells {
		newCells[i] = vt100cell.BlankCell
	}
	minRows := min(rows, s.rows)
	minCols := min(cols, s.cols)
	for r := 0; r < minRows; r++ {
		copy(newCells[r*cols:r*cols+minCols], s.cells[r*s.cols:r*s.cols+minCols])
	}
	s.cells = newCells
	s.cols = cols
	s.rows = rows
	s.cursor.Row = clamp(s.cursor.Row, 0, rows-1)
	s.cursor.Col = clamp(s.cursor.Col, 0, cols)
	s.seq++
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// Snapshot returns a frozen ScreenBuffer copy (spec.md §4.3).
func (s *Screen) Snapshot() ScreenBuffer {
	s.mu.Lock()
	defer s.mu.Unlock()
	cells := make([]vt100cell.Cell, len(s.cells))
	copy(cells, s.cells)
	return ScreenBuffer{
		Cols:   s.cols,
		Rows:   s.rows,
		Cells:  cells,
		Cursor: s.cursor,
		Seq:    s.seq,
	}
}

// Seq returns the current mutation sequence number without copying the
// grid, used by the wait engine to detect whether anything changed.
func (s *Screen) Seq() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seq
}

