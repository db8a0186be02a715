package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestFromEnvDefaults(t *testing.T) {
	os.Unsetenv("MAX_CONNECTIONS")
	os.Unsetenv("LOG_FORMAT")
	s := FromEnv()
	if s.MaxConnections != DefaultMaxConnections {
		t.Fatalf("expected default max connections, got %d", s.MaxConnections)
	}
	if s.LogFormat != "text" {
		t.Fatalf("expected default log format text, got %q", s.LogFormat)
	}
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("MAX_CONNECTIONS", "10")
	t.Setenv("LIVE_ALLOW_REMOTE", "true")
	t.Setenv("SOCKET_PATH", "/tmp/custom.sock")

	s := FromEnv()
	if s.MaxConnections != 10 {
		t.Fatalf("expected overridden max connections 10, got %d", s.MaxConnections)
	}
	if !s.LiveAllowRemote {
		t.Fatalf("expected LiveAllowRemote true")
	}
	if s.SocketPath != "/tmp/custom.sock" {
		t.Fatalf("expected overridden socket path, got %q", s.SocketPath)
	}
}

func TestFromEnvIgnoresUnparsableInt(t *testing.T) {
	t.Setenv("MAX_CONNECTIONS", "not-a-number")
	s := FromEnv()
	if s.MaxConnections != DefaultMaxConnections {
		t.Fatalf("expected fallback to default on unparsable int, got %d", s.MaxConnections)
	}
}

func TestLoadPolicyMissingFileIsEmptyNotError(t *testing.T) {
	dir := t.TempDir()
	p, err := LoadPolicy(filepath.Join(dir, "nonexistent.yaml"))
	if err != nil {
		t.Fatalf("expected nil error for missing policy file, got %v", err)
	}
	if len(p.TabBarColors) != 0 {
		t.Fatalf("expected empty policy, got %+v", p)
	}
}

func TestLoadPolicyParsesYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")
	if err := os.WriteFile(path, []byte("tab_bar_colors:\n  - indexed: 4\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	p, err := LoadPolicy(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(p.TabBarColors) != 1 || p.TabBarColors[0].Indexed == nil || *p.TabBarColors[0].Indexed != 4 {
		t.Fatalf("unexpected policy: %+v", p)
	}
}
