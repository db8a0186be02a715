// Package keys translates the semantic key names of spec.md's `press`
// operation into the byte sequences a terminal application expects on
// its stdin, composing optional modifiers. Grounded on the general shape
// of the teacher's internal/overlay/input.go stateful passthrough byte
// handling, adapted from "bytes observed from a real terminal" to
// "bytes synthesized for a named key".
package keys

import "fmt"

// Modifier is a bitmask of key modifiers a press may carry.
type Modifier int

const (
	ModNone  Modifier = 0
	ModShift Modifier = 1 << iota
	ModAlt
	ModCtrl
)

// ErrUnknownKey is returned by Encode for a name not in the table.
type ErrUnknownKey struct{ Name string }

func (e *ErrUnknownKey) Error() string { return fmt.Sprintf("unknown key: %q", e.Name) }

var plain = map[string]string{
	"enter":     "\r",
	"return":    "\r",
	"tab":       "\t",
	"backspace": "\x7f",
	"escape":    "\x1b",
	"esc":       "\x1b",
	"space":     " ",
	"up":        "\x1b[A",
	"down":      "\x1b[B",
	"right":     "\x1b[C",
	"left":      "\x1b[D",
	"home":      "\x1b[H",
	"end":       "\x1b[F",
	"pageup":    "\x1b[5~",
	"pagedown":  "\x1b[6~",
	"insert":    "\x1b[2~",
	"delete":    "\x1b[3~",
	"f1":        "\x1bOP",
	"f2":        "\x1bOQ",
	"f3":        "\x1bOR",
	"f4":        "\x1bOS",
	"f5":        "\x1b[15~",
	"f6":        "\x1b[17~",
	"f7":        "\x1b[18~",
	"f8":        "\x1b[19~",
	"f9":        "\x1b[20~",
	"f10":       "\x1b[21~",
	"f11":       "\x1b[23~",
	"f12":       "\x1b[24~",
}

// arrowFinal maps an arrow key name to its CSI final byte, used to build
// the modified form CSI 1;<mod> <final>.
var arrowFinal = map[string]byte{
	"up": 'A', "down": 'B', "right": 'C', "left": 'D', "home": 'H', "end": 'F',
}

// Encode returns the byte sequence for the named key with the given
// modifiers applied. Ctrl on a single printable letter produces the
// control-character form (Ctrl-A == 0x01) rather than a CSI sequence,
// matching real terminal behavior.
func Encode(name string, mod Modifier) ([]byte, error) {
	if mod&ModCtrl != 0 && len(name) == 1 {
		c := name[0]
		if c >= 'a' && c <= 'z' {
			return []byte{c - 'a' + 1}, nil
		}
		if c >= 'A' && c <= 'Z' {
			return []byte{c - 'A' + 1}, nil
		}
	}
	if final, ok := arrowFinal[name]; ok && mod != ModNone {
		n := modifierParam(mod)
		return []byte(fmt.Sprintf("\x1b[1;%d%c", n, final)), nil
	}
	if seq, ok := plain[name]; ok {
		if mod == ModNone {
			return []byte(seq), nil
		}
		// Non-arrow keys with modifiers: apply alt as an ESC prefix (the
		// common "meta sends escape" convention), ctrl as already handled
		// above for single letters, shift as a no-op for named keys that
		// carry no distinct shifted form.
		out := seq
		if mod&ModAlt != 0 {
			out = "\x1b" + out
		}
		return []byte(out), nil
	}
	if len(name) == 1 {
		r := name[0]
		if mod&ModAlt != 0 {
			return []byte{0x1b, r}, nil
		}
		return []byte{r}, nil
	}
	return nil, &ErrUnknownKey{Name: name}
}

// modifierParam encodes the CSI modifier parameter per xterm's
// convention: 1=none 2=shift 3=alt 4=shift+alt 5=ctrl ... (1 + bitmask).
func modifierParam(mod Modifier) int {
	n := 1
	if mod&ModShift != 0 {
		n += 1
	}
	if mod&ModAlt != 0 {
		n += 2
	}
	if mod&ModCtrl != 0 {
		n += 4
	}
	return n
}

// OpKind discriminates one step of a press(keys[], modifier_ops?)
// sequence (spec.md §4.5).
type OpKind string

const (
	// OpKey presses Name with Mod plus whatever modifiers are currently
	// held by the Composer applying the sequence.
	OpKey OpKind = "key"
	// OpKeyDown begins holding Mod for every subsequent OpKey in the
	// sequence, until a matching OpKeyUp.
	OpKeyDown OpKind = "keydown"
	// OpKeyUp stops holding Mod.
	OpKeyUp OpKind = "keyup"
)

// Op is one step of a press sequence.
type Op struct {
	Kind OpKind
	Name string   // key name, for OpKey
	Mod  Modifier // modifier to hold/release (OpKeyDown/OpKeyUp), or an extra one-off modifier on OpKey
}

// Composer applies a sequence of Ops, accumulating modifiers held by
// OpKeyDown/OpKeyUp so a later OpKey inherits them — spec.md §4.5's
// "held modifiers via keydown/keyup-style ops that compose with the next
// key." The zero value holds no modifiers.
type Composer struct {
	held Modifier
}

// Apply encodes seq into the concatenated byte sequence to write to the
// PTY, in the order the ops occur.
func (c *Composer) Apply(seq []Op) ([]byte, error) {
	var out []byte
	for _, op := range seq {
		switch op.Kind {
		case OpKeyDown:
			c.held |= op.Mod
		case OpKeyUp:
			c.held &^= op.Mod
		case OpKey:
			b, err := Encode(op.Name, c.held|op.Mod)
			if err != nil {
				return nil, err
			}
			out = append(out, b...)
		default:
			return nil, fmt.Errorf("keys: unknown op kind %q", op.Kind)
		}
	}
	return out, nil
}
