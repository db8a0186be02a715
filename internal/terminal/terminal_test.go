package terminal

import (
	"testing"

	"tuid/internal/screen"
)

func render(cols, rows int, chunks [][]byte) screen.ScreenBuffer {
	scr := screen.New(cols, rows)
	e := New(scr)
	for _, c := range chunks {
		e.Write(c)
	}
	return scr.Snapshot()
}

func TestChunkingIrrelevant(t *testing.T) {
	full := []byte("hello \x1b[31mworld\x1b[0m\r\nsecond line\x1b[2;5Hx")
	whole := render(40, 10, [][]byte{full})

	var chunked [][]byte
	for _, b := range full {
		chunked = append(chunked, []byte{b})
	}
	byByte := render(40, 10, chunked)

	if whole.Text() != byByte.Text() {
		t.Fatalf("chunking changed output:\nwhole: %q\nbyte:  %q", whole.Text(), byByte.Text())
	}
	if whole.Cursor != byByte.Cursor {
		t.Fatalf("chunking changed cursor: %+v vs %+v", whole.Cursor, byByte.Cursor)
	}
}

func TestBasicTextAndCursor(t *testing.T) {
	buf := render(20, 5, [][]byte{[]byte("hi")})
	lines := buf.TextView()
	if lines[0] != "hi" {
		t.Fatalf("expected %q, got %q", "hi", lines[0])
	}
	if buf.Cursor.Row != 0 || buf.Cursor.Col != 2 {
		t.Fatalf("unexpected cursor: %+v", buf.Cursor)
	}
}

func TestCursorAddressingClampedAfterResize(t *testing.T) {
	scr := screen.New(80, 24)
	e := New(scr)
	e.Write([]byte("\x1b[10;50H"))
	e.Resize(40, 24)
	cur := scr.Cursor()
	if cur.Col > 40 || cur.Row >= 24 {
		t.Fatalf("cursor not clamped after resize: %+v", cur)
	}
}

func TestSGR0ResetsStyle(t *testing.T) {
	scr := screen.New(10, 1)
	e := New(scr)
	e.Write([]byte("\x1b[1;31mA\x1b[0mB"))
	a := scr.Cell(0, 0)
	b := scr.Cell(0, 1)
	if !a.Style.Bold {
		t.Fatalf("expected A to be bold")
	}
	if b.Style.Bold || b.Style.Fg.Kind != 0 {
		t.Fatalf("expected B to have default style after SGR 0, got %+v", b.Style)
	}
}

func TestWideCharacterWrapsAtLastColumn(t *testing.T) {
	scr := screen.New(3, 2)
	e := New(scr)
	e.Write([]byte("ab中")) // 'a', 'b', then a wide CJK char
	// cols 0-1 hold 'a' and 'b'; the wide char needs two cells but only
	// col 2 remains, so it wraps to the start of the next line.
	cur := scr.Cursor()
	_ = cur
	if scr.Cell(0, 0).Char != 'a' {
		t.Fatalf("expected 'a' at (0,0)")
	}
	if scr.Cell(1, 0).Char != '中' {
		t.Fatalf("expected the wide char wrapped to (1,0), got %q", scr.Cell(1, 0).Char)
	}
}

func TestFullResetClearsGrid(t *testing.T) {
	scr := screen.New(10, 2)
	e := New(scr)
	e.Write([]byte("hello\x1bc"))
	buf := scr.Snapshot()
	if buf.Text() != "\n" {
		t.Fatalf("expected blank grid after full reset, got %q", buf.Text())
	}
}
