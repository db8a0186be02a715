package rpc

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/json"
	"net"
	"strings"
	"testing"
	"time"

	"tuid/internal/broadcast"
	"tuid/internal/logging"
	"tuid/internal/registry"
)

// TestScenarioA_SpawnReadKill is spec.md §8 scenario A.
func TestScenarioA_SpawnReadKill(t *testing.T) {
	conn, cleanup := startTestServer(t)
	defer cleanup()

	spawnResp := call(t, conn, "spawn", map[string]any{"command": "bash", "cwd": "/tmp", "cols": 80, "rows": 24})
	result := spawnResp["result"].(map[string]any)
	sessionID := result["session_id"].(string)
	if pid, ok := result["pid"].(float64); !ok || pid <= 0 {
		t.Fatalf("expected pid > 0, got %v", result["pid"])
	}

	call(t, conn, "type", map[string]any{"session_id": sessionID, "text": "echo hi\n"})

	waitResp := call(t, conn, "wait", map[string]any{"session_id": sessionID, "kind": "text", "text": "hi", "timeout_ms": 2000})
	waitRes := waitResp["result"].(map[string]any)
	if !waitRes["found"].(bool) {
		t.Fatalf("expected hi to be found")
	}
	if waitRes["elapsed_ms"].(float64) >= 2000 {
		t.Fatalf("expected elapsed_ms < 2000, got %v", waitRes["elapsed_ms"])
	}

	shotResp := call(t, conn, "screenshot", map[string]any{"session_id": sessionID})
	shotRes := shotResp["result"].(map[string]any)
	text, _ := shotRes["text"].(string)
	if !strings.Contains(text, "hi") {
		t.Fatalf("expected screenshot text to contain hi, got %q", text)
	}

	call(t, conn, "kill", map[string]any{"session_id": sessionID})

	sessResp := call(t, conn, "sessions", map[string]any{})
	sessResult := sessResp["result"].(map[string]any)
	list := sessResult["sessions"].([]any)
	found := false
	for _, raw := range list {
		info := raw.(map[string]any)
		if info["session_id"] == sessionID {
			found = true
			if info["state"] == "running" {
				t.Fatalf("expected session to no longer be running, got %v", info["state"])
			}
		}
	}
	if !found {
		t.Fatalf("expected killed session to still be listed")
	}
}

// TestScenarioC_WaitTimeout is spec.md §8 scenario C.
func TestScenarioC_WaitTimeout(t *testing.T) {
	conn, cleanup := startTestServer(t)
	defer cleanup()

	spawnResp := call(t, conn, "spawn", map[string]any{"command": "bash", "cols": 80, "rows": 24})
	sessionID := spawnResp["result"].(map[string]any)["session_id"].(string)

	start := time.Now()
	resp := call(t, conn, "wait", map[string]any{"session_id": sessionID, "kind": "text", "text": "NEVER", "timeout_ms": 300})
	elapsedWall := time.Since(start).Milliseconds()

	res := resp["result"].(map[string]any)
	if res["found"].(bool) {
		t.Fatalf("expected found=false")
	}
	elapsed := res["elapsed_ms"].(float64)
	if elapsed < 300 {
		t.Fatalf("expected elapsed_ms >= 300, got %v", elapsed)
	}
	if elapsedWall > 2000 {
		t.Fatalf("wait took implausibly long: %dms", elapsedWall)
	}
}

// TestScenarioD_Stability is spec.md §8 scenario D: a program that emits
// one byte every 50ms and stops after 500ms; wait(stable, q=200) should
// resolve between 700 and 900ms (bounded scheduler slack aside).
func TestScenarioD_Stability(t *testing.T) {
	conn, cleanup := startTestServer(t)
	defer cleanup()

	script := `for i in $(seq 1 10); do printf x; sleep 0.05; done`
	spawnResp := call(t, conn, "spawn", map[string]any{"command": "bash", "args": "-c '" + script + "'", "cols": 80, "rows": 24})
	sessionID := spawnResp["result"].(map[string]any)["session_id"].(string)

	start := time.Now()
	resp := call(t, conn, "wait", map[string]any{
		"session_id": sessionID, "kind": "stable", "stable_ms": 200, "timeout_ms": 5000,
	})
	elapsedWall := time.Since(start)

	res := resp["result"].(map[string]any)
	if !res["found"].(bool) {
		t.Fatalf("expected stability to be found")
	}
	if elapsedWall < 600*time.Millisecond || elapsedWall > 2*time.Second {
		t.Fatalf("expected stability around 700-900ms (allowing scheduler slack), got %v", elapsedWall)
	}
}

// TestScenarioB_ResizePreservesCursorValidity is spec.md §8 scenario B.
func TestScenarioB_ResizePreservesCursorValidity(t *testing.T) {
	conn, cleanup := startTestServer(t)
	defer cleanup()

	spawnResp := call(t, conn, "spawn", map[string]any{"command": "bash", "cols": 80, "rows": 24})
	sessionID := spawnResp["result"].(map[string]any)["session_id"].(string)

	call(t, conn, "type", map[string]any{"session_id": sessionID, "text": "printf '\\033[10;50H'\n"})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		shotResp := call(t, conn, "screenshot", map[string]any{"session_id": sessionID})
		cur := shotResp["result"].(map[string]any)["cursor"].(map[string]any)
		if int(cur["row"].(float64)) == 9 && int(cur["col"].(float64)) == 49 {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}

	call(t, conn, "resize", map[string]any{"session_id": sessionID, "cols": 40, "rows": 24})

	shotResp := call(t, conn, "screenshot", map[string]any{"session_id": sessionID})
	cur := shotResp["result"].(map[string]any)["cursor"].(map[string]any)
	row := int(cur["row"].(float64))
	col := int(cur["col"].(float64))
	if col > 40 {
		t.Fatalf("expected cursor col <= 40 after resize, got %d", col)
	}
	if row >= 24 {
		t.Fatalf("expected cursor row < 24 after resize, got %d", row)
	}

	typeResp := call(t, conn, "type", map[string]any{"session_id": sessionID, "text": "echo ok\n"})
	if typeResp["error"] != nil {
		t.Fatalf("expected emulator to accept input after resize, got error %v", typeResp["error"])
	}
}

// TestScenarioE_BroadcasterJoinInTheMiddle is spec.md §8 scenario E.
func TestScenarioE_BroadcasterJoinInTheMiddle(t *testing.T) {
	reg := registry.New()
	bc := broadcast.New()

	sess, err := reg.Create("bash", nil, "", nil, 80, 24)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer sess.Kill()

	if err := sess.Type("printf 'ABC\\n'\n"); err != nil {
		t.Fatalf("type: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		shot, _ := sess.Screenshot()
		if strings.Contains(shot.Buf.Text(), "ABC") {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}

	shot, err := sess.Screenshot()
	if err != nil {
		t.Fatalf("screenshot: %v", err)
	}
	initSnapshot := shot.Buf.ANSI()
	if !strings.Contains(string(initSnapshot), "ABC") {
		t.Fatalf("expected init snapshot to contain ABC")
	}

	viewer, err := bc.Join(sess.ID, initSnapshot)
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	defer bc.Leave(sess.ID, viewer)

	initEv := <-viewer.Events()
	if initEv.Type != broadcast.EventInit {
		t.Fatalf("expected first frame to be init, got %v", initEv.Type)
	}
	decoded, err := base64.StdEncoding.DecodeString(initEv.Data)
	if err != nil {
		t.Fatalf("decode init payload: %v", err)
	}
	if !strings.Contains(string(decoded), "ABC") {
		t.Fatalf("expected init payload to contain ABC")
	}

	if err := sess.Type("printf 'DEF\\n'\n"); err != nil {
		t.Fatalf("type: %v", err)
	}
	bc.Output(sess.ID, []byte("DEF\n"))

	select {
	case ev := <-viewer.Events():
		if ev.Type != broadcast.EventOutput {
			t.Fatalf("expected an output event, got %v", ev.Type)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for output event")
	}
}

// TestScenarioF_LivePreviewStreamOverRPC exercises live_preview_stream on
// the primary JSON-RPC socket (spec.md §4.7/§4.8), rather than the
// separate livegateway port: a second connection issues an ordinary
// request concurrently to confirm streaming frames don't block it, and
// a directly-pushed broadcaster event arrives as a subsequent frame on
// the subscribing connection.
func TestScenarioF_LivePreviewStreamOverRPC(t *testing.T) {
	reg := registry.New()
	bc := broadcast.New()
	log := logging.New(discard{}, logging.LevelError, logging.FormatText)
	srv := New(reg, bc, log, "test")

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.Serve(ctx, ln)

	conn, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	spawnResp := call(t, conn, "spawn", map[string]any{"command": "bash", "cwd": "/tmp", "cols": 80, "rows": 24})
	result := spawnResp["result"].(map[string]any)
	sessionID := result["session_id"].(string)

	req := map[string]any{"jsonrpc": "2.0", "id": 7, "method": "live_preview_stream", "params": map[string]any{"session_id": sessionID}}
	b, _ := json.Marshal(req)
	b = append(b, '\n')
	if _, err := conn.Write(b); err != nil {
		t.Fatalf("write: %v", err)
	}

	reader := bufio.NewReader(conn)
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	line, err := reader.ReadBytes('\n')
	if err != nil {
		t.Fatalf("read init frame: %v", err)
	}
	var initFrame map[string]any
	if err := json.Unmarshal(line, &initFrame); err != nil {
		t.Fatalf("unmarshal init frame %q: %v", line, err)
	}
	initResult := initFrame["result"].(map[string]any)
	if initResult["type"] != string(broadcast.EventInit) {
		t.Fatalf("expected first frame to be init, got %v", initResult["type"])
	}

	// A second connection's ordinary request must complete promptly while
	// the subscription above is still open, proving live_preview_stream
	// doesn't monopolize the server.
	conn2, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial conn2: %v", err)
	}
	defer conn2.Close()
	versionResp := call(t, conn2, "version", map[string]any{})
	if versionResp["result"] == nil {
		t.Fatalf("expected a prompt version response on a second connection, got %v", versionResp)
	}

	bc.Output(sessionID, []byte("hi\n"))

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	line, err = reader.ReadBytes('\n')
	if err != nil {
		t.Fatalf("read output frame: %v", err)
	}
	var outFrame map[string]any
	if err := json.Unmarshal(line, &outFrame); err != nil {
		t.Fatalf("unmarshal output frame %q: %v", line, err)
	}
	outResult := outFrame["result"].(map[string]any)
	if outResult["type"] != string(broadcast.EventOutput) {
		t.Fatalf("expected a subsequent output frame, got %v", outResult["type"])
	}
}
