// Package logging wraps the standard library's log package with a
// subsystem prefix and a level gate, matching the teacher's own idiom:
// internal/bridgeservice/service.go and its siblings use log.Printf
// directly with no structured-logging dependency anywhere in the
// teacher's tree. That absence is deliberate, not a gap (see
// DESIGN.md) — this package keeps the same idiom, adding only the
// level/format knobs SPEC_FULL §2 asks for.
package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"time"
)

// Level is a log severity, ordered low to high.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func ParseLevel(s string) Level {
	switch s {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return "info"
	}
}

// Format selects text or JSON output (SPEC_FULL §2 / spec.md §6's
// LOG_FORMAT).
type Format int

const (
	FormatText Format = iota
	FormatJSON
)

func ParseFormat(s string) Format {
	if s == "json" {
		return FormatJSON
	}
	return FormatText
}

// Logger is a subsystem-scoped wrapper over the standard library logger.
type Logger struct {
	subsystem string
	level     Level
	format    Format
	out       *log.Logger
}

// New returns a root Logger writing to w, gated at level, in format.
func New(w io.Writer, level Level, format Format) *Logger {
	return &Logger{level: level, format: format, out: log.New(w, "", 0)}
}

// NewFromEnv builds a Logger using the LOG_LEVEL/LOG_FORMAT/LOG_STREAM
// environment variables (spec.md §6), defaulting to stderr/info/text.
func NewFromEnv() *Logger {
	w := io.Writer(os.Stderr)
	if os.Getenv("LOG_STREAM") == "stdout" {
		w = os.Stdout
	}
	return New(w, ParseLevel(os.Getenv("LOG_LEVEL")), ParseFormat(os.Getenv("LOG_FORMAT")))
}

// With returns a Logger scoped to a named subsystem, e.g. "rpc" or
// "ptyhost", prefixed on every line the way the teacher's log.Printf
// call sites each pick their own ad hoc prefix.
func (l *Logger) With(subsystem string) *Logger {
	return &Logger{subsystem: subsystem, level: l.level, format: l.format, out: l.out}
}

func (l *Logger) log(level Level, msg string, fields map[string]any) {
	if level < l.level {
		return
	}
	if l.format == FormatJSON {
		rec := map[string]any{
			"time":      time.Now().UTC().Format(time.RFC3339Nano),
			"level":     level.String(),
			"subsystem": l.subsystem,
			"msg":       msg,
		}
		for k, v := range fields {
			rec[k] = v
		}
		b, err := json.Marshal(rec)
		if err != nil {
			l.out.Printf("log marshal error: %v", err)
			return
		}
		l.out.Println(string(b))
		return
	}
	line := fmt.Sprintf("[%s] %s: %s", level.String(), l.subsystem, msg)
	for k, v := range fields {
		line += fmt.Sprintf(" %s=%v", k, v)
	}
	l.out.Println(line)
}

func (l *Logger) Debug(msg string, fields map[string]any) { l.log(LevelDebug, msg, fields) }
func (l *Logger) Info(msg string, fields map[string]any)  { l.log(LevelInfo, msg, fields) }
func (l *Logger) Warn(msg string, fields map[string]any)  { l.log(LevelWarn, msg, fields) }
func (l *Logger) Error(msg string, fields map[string]any) { l.log(LevelError, msg, fields) }
