// Package config resolves the engine's settings per spec.md §6: a set of
// environment variables with documented defaults, plus an optional
// on-disk YAML policy file for settings that don't fit an env var well
// (currently only the tab-bar color list). Grounded on the
// teacher's internal/config/config.go "missing file => empty config, not
// an error" Load/LoadFrom shape. Library: gopkg.in/yaml.v3, exactly as
// the teacher uses it.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Settings is the fully resolved configuration, environment variables
// layered over built-in defaults (spec.md §6).
type Settings struct {
	SocketPath string

	MaxConnections  int
	MaxRequestBytes int
	IdleTimeoutSec  int
	LockTimeoutSec  int

	LiveListen           string
	LiveAllowRemote      bool
	LiveToken            string
	LiveMaxConnections   int
	LiveViewerQueueBytes int

	LogLevel  string
	LogFormat string
	LogStream string

	NoColor bool
}

// Defaults matching spec.md §6's parenthesized values.
const (
	DefaultMaxConnections      = 64
	DefaultMaxRequestBytes     = 1 << 20
	DefaultIdleTimeoutSec      = 300
	DefaultLockTimeoutSec      = 5
	DefaultLiveMaxConnections  = 32
	DefaultLiveViewerQueueBytes = 2 << 20
)

// FromEnv resolves Settings from the process environment, falling back
// to spec.md §6's defaults for anything unset or unparsable.
func FromEnv() Settings {
	return Settings{
		SocketPath: envOr("SOCKET_PATH", defaultSocketPath()),

		MaxConnections:  envInt("MAX_CONNECTIONS", DefaultMaxConnections),
		MaxRequestBytes: envInt("MAX_REQUEST_BYTES", DefaultMaxRequestBytes),
		IdleTimeoutSec:  envInt("IDLE_TIMEOUT_SEC", DefaultIdleTimeoutSec),
		LockTimeoutSec:  envInt("LOCK_TIMEOUT_SEC", DefaultLockTimeoutSec),

		LiveListen:           os.Getenv("LIVE_LISTEN"),
		LiveAllowRemote:      envBool("LIVE_ALLOW_REMOTE", false),
		LiveToken:            os.Getenv("LIVE_TOKEN"),
		LiveMaxConnections:   envInt("LIVE_MAX_CONNECTIONS", DefaultLiveMaxConnections),
		LiveViewerQueueBytes: envInt("LIVE_VIEWER_QUEUE_BYTES", DefaultLiveViewerQueueBytes),

		LogLevel:  os.Getenv("LOG_LEVEL"),
		LogFormat: envOr("LOG_FORMAT", "text"),
		LogStream: envOr("LOG_STREAM", "stderr"),

		NoColor: os.Getenv("NO_COLOR") != "",
	}
}

func (s Settings) IdleTimeout() time.Duration {
	return time.Duration(s.IdleTimeoutSec) * time.Second
}

func (s Settings) LockTimeout() time.Duration {
	return time.Duration(s.LockTimeoutSec) * time.Second
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func defaultSocketPath() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, "tuid.sock")
	}
	return filepath.Join(os.TempDir(), "tuid.sock")
}

// StateDir returns the directory state files (daemon.json, live.json,
// the startup lock) are written to.
func StateDir() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".tuid")
	}
	return filepath.Join(home, ".tuid")
}

// Policy holds settings better expressed as structured config than a
// single env var. Its only field is the classifier's tab-bar color
// allowlist. Empty by default, mirroring the teacher's own "missing
// file => empty config" semantics.
type Policy struct {
	TabBarColors []PolicyColor `yaml:"tab_bar_colors"`
}

// PolicyColor is the YAML-friendly form of vt100cell.Color, avoiding a
// dependency from config on the terminal's value types. Only the indexed
// form is read from YAML; R, G and B are not loaded from the file.
type PolicyColor struct {
	Indexed *uint8 `yaml:"indexed,omitempty"`
	R, G, B uint8  `yaml:"-"`
}

// LoadPolicy reads the gateway-policy YAML file. A missing file yields
// an empty Policy and no error, matching the teacher's Load/LoadFrom
// idiom exactly.
func LoadPolicy(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Policy{}, nil
		}
		return nil, err
	}
	var p Policy
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// DefaultPolicyPath is where LoadPolicy looks by default.
func DefaultPolicyPath() string {
	return filepath.Join(StateDir(), "policy.yaml")
}
