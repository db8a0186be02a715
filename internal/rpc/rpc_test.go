package rpc

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"tuid/internal/broadcast"
	"tuid/internal/logging"
	"tuid/internal/registry"
)

func startTestServer(t *testing.T) (net.Conn, func()) {
	t.Helper()
	reg := registry.New()
	bc := broadcast.New()
	log := logging.New(discard{}, logging.LevelError, logging.FormatText)
	srv := New(reg, bc, log, "test")

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	go srv.Serve(ctx, ln)

	conn, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn, func() {
		conn.Close()
		cancel()
		ln.Close()
	}
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func call(t *testing.T, conn net.Conn, method string, params any) map[string]any {
	t.Helper()
	req := map[string]any{"jsonrpc": "2.0", "id": 1, "method": method, "params": params}
	b, _ := json.Marshal(req)
	b = append(b, '\n')
	if _, err := conn.Write(b); err != nil {
		t.Fatalf("write: %v", err)
	}
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	line, err := bufio.NewReader(conn).ReadBytes('\n')
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var resp map[string]any
	if err := json.Unmarshal(line, &resp); err != nil {
		t.Fatalf("unmarshal %q: %v", line, err)
	}
	return resp
}

func TestSpawnScreenshotKillRoundTrip(t *testing.T) {
	conn, cleanup := startTestServer(t)
	defer cleanup()

	spawnResp := call(t, conn, "spawn", map[string]any{"command": "/bin/cat", "cols": 80, "rows": 24})
	result, ok := spawnResp["result"].(map[string]any)
	if !ok {
		t.Fatalf("expected a result from spawn, got %v", spawnResp)
	}
	sessionID, _ := result["session_id"].(string)
	if sessionID == "" {
		t.Fatalf("expected a session id")
	}

	typeResp := call(t, conn, "type", map[string]any{"session_id": sessionID, "text": "hi\n"})
	if typeResp["error"] != nil {
		t.Fatalf("unexpected error from type: %v", typeResp["error"])
	}

	killResp := call(t, conn, "kill", map[string]any{"session_id": sessionID})
	if killResp["error"] != nil {
		t.Fatalf("unexpected error from kill: %v", killResp["error"])
	}
}

func TestUnknownMethodReturnsMethodNotFound(t *testing.T) {
	conn, cleanup := startTestServer(t)
	defer cleanup()

	resp := call(t, conn, "not_a_real_method", map[string]any{})
	errBody, ok := resp["error"].(map[string]any)
	if !ok {
		t.Fatalf("expected an error body, got %v", resp)
	}
	if int(errBody["code"].(float64)) != -32601 {
		t.Fatalf("expected MethodNotFound code, got %v", errBody["code"])
	}
}

func TestScreenshotUnknownSessionReturnsSessionNotFound(t *testing.T) {
	conn, cleanup := startTestServer(t)
	defer cleanup()

	resp := call(t, conn, "screenshot", map[string]any{"session_id": "nonexistent"})
	errBody, ok := resp["error"].(map[string]any)
	if !ok {
		t.Fatalf("expected an error body, got %v", resp)
	}
	if int(errBody["code"].(float64)) != -32001 {
		t.Fatalf("expected SessionNotFound code, got %v", errBody["code"])
	}
}

func TestWaitTimeoutIsStructuredSuccess(t *testing.T) {
	conn, cleanup := startTestServer(t)
	defer cleanup()

	spawnResp := call(t, conn, "spawn", map[string]any{"command": "/bin/cat", "cols": 80, "rows": 24})
	result := spawnResp["result"].(map[string]any)
	sessionID := result["session_id"].(string)

	resp := call(t, conn, "wait", map[string]any{
		"session_id": sessionID, "kind": "text", "text": "never-appears", "timeout_ms": 100,
	})
	if resp["error"] != nil {
		t.Fatalf("expected wait timeout to be a structured success, got error %v", resp["error"])
	}
	res := resp["result"].(map[string]any)
	if res["found"].(bool) {
		t.Fatalf("expected found=false")
	}
}

func TestHealthAndVersion(t *testing.T) {
	conn, cleanup := startTestServer(t)
	defer cleanup()

	resp := call(t, conn, "health", map[string]any{})
	if resp["error"] != nil {
		t.Fatalf("unexpected error: %v", resp["error"])
	}
	resp = call(t, conn, "version", map[string]any{})
	res := resp["result"].(map[string]any)
	if res["version"] != "test" {
		t.Fatalf("expected version 'test', got %v", res["version"])
	}
}
