// Package vom implements the Visual Object Model pipeline of spec.md §4.4:
// segmenting a screen snapshot into style-uniform Clusters (stage 1), then
// classifying each into a Component with a stable visual identity
// (stage 2).
package vom

import (
	"hash/fnv"
	"strings"
	"unicode"

	"tuid/internal/screen"
	"tuid/internal/vt100cell"
)

// Rect is an axis-aligned, row-confined rectangle (h is always 1 for a
// Cluster; Components may in principle span taller shapes in a future
// revision, but today's classifier only emits row-high-1 rects, matching
// the Cluster they derive from).
type Rect struct {
	X, Y, W, H int
}

// Contains reports whether (row, col) falls inside r.
func (r Rect) Contains(row, col int) bool {
	return row >= r.Y && row < r.Y+r.H && col >= r.X && col < r.X+r.W
}

// Cluster is a maximal horizontal run of cells within one row sharing one
// CellStyle (spec.md §3).
type Cluster struct {
	Rect        Rect
	Text        string
	Style       vt100cell.CellStyle
	IsWhitespace bool
}

// Segment performs stage 1: a row-independent, single raster-scan pass
// grouping consecutive same-style cells into Clusters. Complexity is
// O(cols*rows); each row is processed independently so callers may
// parallelize across rows if desired.
func Segment(buf screen.ScreenBuffer) []Cluster {
	var out []Cluster
	for y := 0; y < buf.Rows; y++ {
		out = append(out, segmentRow(buf.Row(y), y)...)
	}
	return out
}

func segmentRow(row []vt100cell.Cell, y int) []Cluster {
	var out []Cluster
	x := 0
	for x < len(row) {
		start := x
		style := row[x].Style
		var sb strings.Builder
		for x < len(row) && row[x].Style == style {
			if !row[x].Continuation {
				if row[x].Char == 0 {
					sb.WriteByte(' ')
				} else {
					sb.WriteRune(row[x].Char)
				}
			}
			x++
		}
		text := sb.String()
		out = append(out, Cluster{
			Rect:         Rect{X: start, Y: y, W: x - start, H: 1},
			Text:         text,
			Style:        style,
			IsWhitespace: isWhitespace(text),
		})
	}
	return out
}

func isWhitespace(s string) bool {
	for _, r := range s {
		if !unicode.IsSpace(r) {
			return false
		}
	}
	return true
}

// RowText reconstructs a row's full text (including whitespace clusters)
// by concatenating clusters in raster order — used by the clustering-
// completeness property test (spec.md §8 property 2).
func RowText(clusters []Cluster, y, cols int) string {
	var sb strings.Builder
	for _, c := range clusters {
		if c.Rect.Y != y {
			continue
		}
		sb.WriteString(c.Text)
	}
	return sb.String()
}

// Role is the classified UI element kind.
type Role string

const (
	RoleButton     Role = "Button"
	RoleTab        Role = "Tab"
	RoleInput      Role = "Input"
	RoleCheckbox   Role = "Checkbox"
	RoleMenuItem   Role = "MenuItem"
	RolePanel      Role = "Panel"
	RoleStaticText Role = "StaticText"
)

// Component is a classified Cluster with a role and a stable visual
// identity (spec.md §3).
type Component struct {
	Role       Role
	Rect       Rect
	Text       string
	VisualHash uint64
}

// BoxDrawingDensityThreshold is the fraction of non-whitespace runes that
// box-drawing characters (U+2500..U+257F) must exceed for rule 8 (Panel)
// to fire. Not documented by any source this pack carries; decided and named
// explicitly per SPEC_FULL §9 rather than left as a buried literal.
const BoxDrawingDensityThreshold = 0.5

// Classifier assigns roles to Clusters using the priority-ordered cascade
// of spec.md §4.4. TabBarColors is the configurable set of background
// colors considered "tab bar" (rule 4); it is empty by default, meaning
// rule 4 never fires until a caller configures it (SPEC_FULL §9 — this
// pack carries no source configuration to copy real values from).
type Classifier struct {
	TabBarColors []vt100cell.Color
}

var checkboxTexts = map[string]bool{
	"[x]": true, "[X]": true, "[ ]": true, "[✓]": true,
	"☐": true, "☑": true, "◉": true, "○": true,
}

var menuMarkers = []rune{'>', '❯', '›', '→', '▶', '•', '*', '-'}

// Classify runs stage 2 over clusters derived from buf, dropping
// whitespace-only clusters per spec.md §4.4, and is deterministic for
// identical inputs.
func (c *Classifier) Classify(buf screen.ScreenBuffer, clusters []Cluster) []Component {
	cur := buf.Cursor
	var out []Component
	for _, cl := range clusters {
		if cl.IsWhitespace {
			continue
		}
		role := c.classifyOne(cl, cur)
		out = append(out, Component{
			Role:       role,
			Rect:       cl.Rect,
			Text:       cl.Text,
			VisualHash: VisualHash(cl.Text, cl.Style),
		})
	}
	return out
}

func (c *Classifier) classifyOne(cl Cluster, cur screen.Cursor) Role {
	// Rule 1: cursor inside the cluster rect.
	if cl.Rect.Contains(cur.Row, cur.Col) {
		return RoleInput
	}
	// Rule 2: bracketed-button pattern, unless it's checkbox/radio content.
	if isButtonText(cl.Text) && !checkboxTexts[strings.TrimSpace(cl.Text)] {
		// A button-shaped cluster that is also inverse takes rule 3's role
		// (Tab when y<=2, else MenuItem), so inverse outranks the button
		// pattern (spec.md §8 scenario F). Rule 4's tab-bar background is
		// not checked here: a non-inverse button-shaped cluster is always
		// a Button.
		if cl.Style.Inverse {
			if cl.Rect.Y <= 2 {
				return RoleTab
			}
			return RoleMenuItem
		}
		return RoleButton
	}
	// Rule 3: inverse style.
	if cl.Style.Inverse {
		if cl.Rect.Y <= 2 {
			return RoleTab
		}
		return RoleMenuItem
	}
	// Rule 4: known tab-bar background color.
	for _, bg := range c.TabBarColors {
		if cl.Style.Bg == bg {
			return RoleTab
		}
	}
	// Rule 5: checkbox set.
	if checkboxTexts[strings.TrimSpace(cl.Text)] {
		return RoleCheckbox
	}
	// Rule 6: input underscore runs or "label: _" suffix.
	if hasInputUnderscore(cl.Text) {
		return RoleInput
	}
	// Rule 7: menu marker prefix.
	if hasMenuMarker(cl.Text) {
		return RoleMenuItem
	}
	// Rule 8: box-drawing density.
	if isBoxDrawingHeavy(cl.Text) {
		return RolePanel
	}
	// Rule 9: default.
	return RoleStaticText
}

func isButtonText(s string) bool {
	s = strings.TrimSpace(s)
	if len(s) < 3 {
		return false
	}
	pairs := [][2]byte{{'[', ']'}, {'<', '>'}, {'(', ')'}}
	for _, p := range pairs {
		if s[0] == p[0] && s[len(s)-1] == p[1] {
			return true
		}
	}
	return false
}

func hasInputUnderscore(s string) bool {
	run := 0
	for _, r := range s {
		if r == '_' {
			run++
			if run >= 3 {
				return true
			}
		} else {
			run = 0
		}
	}
	trimmed := strings.TrimRight(s, " ")
	return strings.HasSuffix(trimmed, ": _")
}

func hasMenuMarker(s string) bool {
	trimmed := strings.TrimLeft(s, " ")
	if trimmed == "" {
		return false
	}
	r := []rune(trimmed)[0]
	for _, m := range menuMarkers {
		if r == m {
			rest := []rune(trimmed)[1:]
			return len(rest) > 0 && unicode.IsSpace(rest[0])
		}
	}
	return false
}

func isBoxDrawingHeavy(s string) bool {
	total, boxy := 0, 0
	for _, r := range s {
		if unicode.IsSpace(r) {
			continue
		}
		total++
		if r >= 0x2500 && r <= 0x257F {
			boxy++
		}
	}
	if total == 0 {
		return false
	}
	return float64(boxy)/float64(total) > BoxDrawingDensityThreshold
}

// VisualHash computes the position-independent identity hash described in
// spec.md §3: same text+style across frames compares equal, so an element
// survives a reflow.
func VisualHash(text string, style vt100cell.CellStyle) uint64 {
	h := fnv.New64a()
	h.Write([]byte(text))
	h.Write([]byte{0})
	writeStyle(h, style)
	return h.Sum64()
}

func writeStyle(h interface{ Write([]byte) (int, error) }, style vt100cell.CellStyle) {
	var b [8]byte
	flags := byte(0)
	if style.Bold {
		flags |= 1
	}
	if style.Underline {
		flags |= 2
	}
	if style.Inverse {
		flags |= 4
	}
	b[0] = flags
	b[1] = byte(style.Fg.Kind)
	b[2] = style.Fg.Index
	b[3] = style.Fg.R
	b[4] = style.Fg.G
	b[5] = style.Fg.B
	b[6] = byte(style.Bg.Kind)
	b[7] = style.Bg.Index
	h.Write(b[:])
	var b2 [3]byte
	b2[0] = style.Bg.R
	b2[1] = style.Bg.G
	b2[2] = style.Bg.B
	h.Write(b2[:])
}
