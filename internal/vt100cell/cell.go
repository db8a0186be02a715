// Package vt100cell defines the grid-level value types shared by the
// terminal emulator, screen model, and VOM pipeline: Cell, CellStyle, and
// Color.
package vt100cell

import "github.com/mattn/go-runewidth"

// ColorKind discriminates the three ways a terminal color can be
// expressed.
type ColorKind int

const (
	ColorDefault ColorKind = iota
	ColorIndexed
	ColorRGB
)

// Color is either the terminal default, a 256-color palette index, or an
// explicit RGB triple.
type Color struct {
	Kind  ColorKind
	Index uint8 // valid when Kind == ColorIndexed
	R, G, B uint8 // valid when Kind == ColorRGB
}

// DefaultColor is the terminal's default foreground/background color.
var DefaultColor = Color{Kind: ColorDefault}

// Indexed builds a 256-color palette color.
func Indexed(i uint8) Color { return Color{Kind: ColorIndexed, Index: i} }

// RGB builds a 24-bit true color.
func RGB(r, g, b uint8) Color { return Color{Kind: ColorRGB, R: r, G: g, B: b} }

// CellStyle is a total, structurally-comparable set of display attributes.
// Equality is plain Go struct equality, matching spec's "style equality is
// structural and total" invariant.
type CellStyle struct {
	Bold      bool
	Underline bool
	Inverse   bool
	Fg        Color
	Bg        Color
}

// DefaultStyle is the style after a full reset (SGR 0 or ESC c).
var DefaultStyle = CellStyle{Fg: DefaultColor, Bg: DefaultColor}

// Cell is one character slot in the terminal grid plus its style. Wide
// characters occupy two cells; the trailing cell is a continuation marker
// carrying no glyph of its own (Continuation == true).
type Cell struct {
	Char         rune
	Style        CellStyle
	Continuation bool
}

// BlankCell is the cell value used to clear grid positions.
var BlankCell = Cell{Char: ' ', Style: DefaultStyle}

// RuneWidth returns the terminal display width of r: 0 for combining/
// control runes, 1 normally, 2 for wide (CJK, emoji, etc.) runes.
func RuneWidth(r rune) int {
	return runewidth.RuneWidth(r)
}

// IsWide reports whether r occupies two grid cells.
func IsWide(r rune) bool {
	return RuneWidth(r) == 2
}
