// Package livegateway implements the optional HTTP/WS surface spec.md §6
// describes for the Live Stream Broadcaster, sharing the same Registry
// and Broadcaster instances as the primary RPC socket (SPEC_FULL §9
// resolves the "one process or two?" open question in favor of one).
// Grounded on ehrlich-b-wingthing's go.mod, which reaches for
// github.com/coder/websocket to relay a PTY-shaped byte stream to a
// browser — the same concern this gateway serves.
package livegateway

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"tuid/internal/broadcast"
	"tuid/internal/registry"
)

// Gateway serves live.json's documented endpoints: a health/info route
// and a per-session WebSocket relay of broadcast.Event frames.
type Gateway struct {
	Registry    *registry.Registry
	Broadcaster *broadcast.Broadcaster

	// Token, when non-empty, is required as a query parameter on /live
	// requests (spec.md §6's LIVE_TOKEN); /healthz does not check it.
	Token string
}

// New returns a Gateway sharing reg/bc with the primary RPC server.
func New(reg *registry.Registry, bc *broadcast.Broadcaster, token string) *Gateway {
	return &Gateway{Registry: reg, Broadcaster: bc, Token: token}
}

// Handler returns the http.Handler to listen with (LIVE_LISTEN).
func (g *Gateway) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", g.handleHealth)
	mux.HandleFunc("/live", g.handleLive)
	return mux
}

func (g *Gateway) authorized(r *http.Request) bool {
	if g.Token == "" {
		return true
	}
	return r.URL.Query().Get("token") == g.Token
}

func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"ok": true})
}

// handleLive upgrades to a WebSocket and relays broadcast.Event frames
// for the session named by the "session_id" query parameter until the
// viewer disconnects or the session closes.
func (g *Gateway) handleLive(w http.ResponseWriter, r *http.Request) {
	if !g.authorized(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		sessionID, _ = g.Registry.Active()
	}
	sess, err := g.Registry.Get(sessionID)
	if err != nil {
		http.Error(w, "no such session", http.StatusNotFound)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	shot, err := sess.Screenshot()
	var initBytes []byte
	if err == nil {
		initBytes = shot.Buf.ANSI()
	}
	viewer, err := g.Broadcaster.Join(sessionID, initBytes)
	if err != nil {
		conn.Close(websocket.StatusPolicyViolation, err.Error())
		return
	}
	defer g.Broadcaster.Leave(sessionID, viewer)

	ctx := r.Context()
	for {
		select {
		case ev, ok := <-viewer.Events():
			if !ok {
				return
			}
			b, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err = conn.Write(writeCtx, websocket.MessageText, b)
			cancel()
			if err != nil {
				return
			}
			if ev.Type == broadcast.EventClosed {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}
