// Package rpc implements the RPC Server of spec.md §4.8: a
// newline-delimited JSON-RPC 2.0 server over a Unix-domain (or loopback
// TCP) listener, dispatching to spawn/kill/sessions/screenshot/type/
// press/scroll/resize/wait/live_preview_stream/health/version, with a
// per-session logical lock serializing same-session requests. Grounded
// directly on spec.md §4.8; command-string splitting follows
// `internal/bridge/exec.go`'s `shlex.Split` usage, and per-connection
// rate limiting follows ehrlich-b-wingthing's go.mod dependency on
// `golang.org/x/time/rate` for its own transport layer.
package rpc

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/google/shlex"
	"golang.org/x/time/rate"

	"tuid/internal/broadcast"
	"tuid/internal/keys"
	"tuid/internal/logging"
	"tuid/internal/registry"
	"tuid/internal/rpcerr"
	"tuid/internal/session"
	"tuid/internal/vom"
	"tuid/internal/wait"
)

// Limits, per spec.md §6.
const (
	DefaultMaxConnections = 64
	DefaultMaxRequestBytes = 1 << 20
	DefaultIdleTimeout     = 300 * time.Second
)

// Request is one JSON-RPC 2.0 request line.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response is one JSON-RPC 2.0 response line.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  any             `json:"result,omitempty"`
	Error   *errorBody      `json:"error,omitempty"`
}

type errorBody struct {
	Code    int            `json:"code"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
}

// Server dispatches JSON-RPC requests against a shared Registry,
// Broadcaster, and Wait Engine.
type Server struct {
	Registry    *registry.Registry
	Broadcaster *broadcast.Broadcaster
	Waiter      *wait.Engine
	Log         *logging.Logger

	MaxConnections  int
	MaxRequestBytes int
	IdleTimeout     time.Duration

	mu          sync.Mutex
	connCount   int
	sessionLock map[string]*sync.Mutex

	startTime time.Time
	version   string
}

// New returns a Server wired to reg/bc, using reg to back a fresh Wait
// Engine.
func New(reg *registry.Registry, bc *broadcast.Broadcaster, log *logging.Logger, version string) *Server {
	return &Server{
		Registry:        reg,
		Broadcaster:     bc,
		Waiter:          wait.New(reg),
		Log:             log,
		MaxConnections:  DefaultMaxConnections,
		MaxRequestBytes: DefaultMaxRequestBytes,
		IdleTimeout:     DefaultIdleTimeout,
		sessionLock:     make(map[string]*sync.Mutex),
		startTime:       time.Now(),
		version:         version,
	}
}

// Serve accepts connections on ln until ctx is cancelled or Accept fails.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return err
			}
		}
		s.mu.Lock()
		if s.connCount >= s.maxConnections() {
			s.mu.Unlock()
			conn.Close()
			continue
		}
		s.connCount++
		s.mu.Unlock()

		go func() {
			defer func() {
				s.mu.Lock()
				s.connCount--
				s.mu.Unlock()
			}()
			s.handleConn(ctx, conn)
		}()
	}
}

func (s *Server) maxConnections() int {
	if s.MaxConnections <= 0 {
		return DefaultMaxConnections
	}
	return s.MaxConnections
}

func (s *Server) maxRequestBytes() int {
	if s.MaxRequestBytes <= 0 {
		return DefaultMaxRequestBytes
	}
	return s.MaxRequestBytes
}

func (s *Server) idleTimeout() time.Duration {
	if s.IdleTimeout <= 0 {
		return DefaultIdleTimeout
	}
	return s.IdleTimeout
}

// handleConn serves one connection, reading newline-delimited requests
// and dispatching each concurrently so a long-running `wait` or
// `live_preview_stream` never blocks other requests queued behind it on
// the same connection (spec.md §4.8's multiplex-by-request-id
// discipline).
func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	limiter := rate.NewLimiter(rate.Limit(50), 100)

	reader := bufio.NewReaderSize(conn, s.maxRequestBytes())
	var writeMu sync.Mutex
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		conn.SetReadDeadline(time.Now().Add(s.idleTimeout()))
		line, err := reader.ReadBytes('\n')
		if len(line) > 0 {
			if !limiter.Allow() {
				s.writeError(conn, &writeMu, nil, rpcerr.New(rpcerr.KindAtCapacity, "rate limit exceeded"))
				continue
			}
			var req Request
			if jerr := json.Unmarshal(line, &req); jerr != nil {
				s.writeError(conn, &writeMu, nil, rpcerr.New(rpcerr.KindProtocolError, jerr.Error()))
			} else {
				wg.Add(1)
				go func(req Request) {
					defer wg.Done()
					s.dispatch(ctx, conn, &writeMu, req)
				}(req)
			}
		}
		if err != nil {
			return
		}
	}
}

func (s *Server) dispatch(ctx context.Context, conn net.Conn, writeMu *sync.Mutex, req Request) {
	if req.Method == "live_preview_stream" {
		s.handleLivePreviewStream(ctx, conn, writeMu, req)
		return
	}
	result, rerr := s.handle(ctx, req)
	if rerr != nil {
		s.writeError(conn, writeMu, req.ID, rerr)
		return
	}
	s.writeResult(conn, writeMu, req.ID, result)
}

func (s *Server) writeResult(conn net.Conn, writeMu *sync.Mutex, id json.RawMessage, result any) {
	s.writeResponse(conn, writeMu, Response{JSONRPC: "2.0", ID: id, Result: result})
}

func (s *Server) writeError(conn net.Conn, writeMu *sync.Mutex, id json.RawMessage, err *rpcerr.Error) {
	s.writeResponse(conn, writeMu, Response{JSONRPC: "2.0", ID: id, Error: &errorBody{
		Code:    rpcerr.Code(err.Kind),
		Message: err.Message,
		Data:    err.Data,
	}})
}

func (s *Server) writeResponse(conn net.Conn, writeMu *sync.Mutex, resp Response) {
	b, err := json.Marshal(resp)
	if err != nil {
		return
	}
	b = append(b, '\n')
	writeMu.Lock()
	defer writeMu.Unlock()
	conn.Write(b)
}

// sessionMutex returns (creating if needed) the per-session logical lock
// spec.md §4.8 requires to serialize same-session requests.
func (s *Server) sessionMutex(id string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.sessionLock[id]
	if !ok {
		m = &sync.Mutex{}
		s.sessionLock[id] = m
	}
	return m
}

func (s *Server) handle(ctx context.Context, req Request) (any, *rpcerr.Error) {
	switch req.Method {
	case "spawn", "run":
		return s.handleSpawn(req.Params)
	case "kill":
		return s.handleSessionOp(req.Params, func(sess *session.Session) (any, error) {
			return nil, sess.Kill()
		})
	case "sessions":
		return s.handleSessions()
	case "screenshot":
		return s.handleSessionOp(req.Params, func(sess *session.Session) (any, error) {
			shot, err := sess.Screenshot()
			if err != nil {
				return nil, err
			}
			return screenshotDTO(shot), nil
		})
	case "type":
		return s.handleType(req.Params)
	case "press":
		return s.handlePress(req.Params)
	case "scroll":
		return s.handleScroll(req.Params)
	case "resize":
		return s.handleResize(req.Params)
	case "wait":
		return s.handleWait(ctx, req.Params)
	case "health":
		return s.handleHealth()
	case "version":
		return map[string]string{"version": s.version}, nil
	default:
		return nil, rpcerr.New(rpcerr.KindMethodNotFound, fmt.Sprintf("unknown method %q", req.Method))
	}
}

type spawnParams struct {
	Command string            `json:"command"`
	Args    string            `json:"args"`
	Cwd     string             `json:"cwd"`
	Env     map[string]string  `json:"env"`
	Cols    int                `json:"cols"`
	Rows    int                `json:"rows"`
}

func (s *Server) handleSpawn(params json.RawMessage) (any, *rpcerr.Error) {
	var p spawnParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, rpcerr.New(rpcerr.KindInvalidArgument, err.Error())
	}
	var argv []string
	if p.Args != "" {
		var err error
		argv, err = shlex.Split(p.Args)
		if err != nil {
			return nil, rpcerr.New(rpcerr.KindInvalidArgument, "invalid args: "+err.Error())
		}
	}
	cols, rows := p.Cols, p.Rows
	if cols == 0 {
		cols = 80
	}
	if rows == 0 {
		rows = 24
	}
	sess, err := s.Registry.Create(p.Command, argv, p.Cwd, p.Env, cols, rows)
	if err != nil {
		return nil, rpcerr.Wrap(rpcerr.KindSpawnFailed, "spawn failed", err)
	}
	return map[string]any{"session_id": sess.ID, "pid": sess.Pid()}, nil
}

type sessionRefParams struct {
	SessionID string `json:"session_id"`
}

func (s *Server) resolveSession(params json.RawMessage) (*session.Session, *rpcerr.Error) {
	var p sessionRefParams
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, rpcerr.New(rpcerr.KindInvalidArgument, err.Error())
		}
	}
	sess, err := s.Registry.Get(p.SessionID)
	if err != nil {
		return nil, rpcerr.Wrap(rpcerr.KindSessionNotFound, "no such session", err)
	}
	return sess, nil
}

func (s *Server) handleSessionOp(params json.RawMessage, op func(*session.Session) (any, error)) (any, *rpcerr.Error) {
	sess, rerr := s.resolveSession(params)
	if rerr != nil {
		return nil, rerr
	}
	lock := s.sessionMutex(sess.ID)
	lock.Lock()
	defer lock.Unlock()
	result, err := op(sess)
	if err != nil {
		return nil, toRPCError(err)
	}
	return result, nil
}

func toRPCError(err error) *rpcerr.Error {
	if e, ok := rpcerr.As(err); ok {
		return e
	}
	if err == session.ErrNotRunning {
		return rpcerr.Wrap(rpcerr.KindSessionNotRunning, "session not running", err)
	}
	return rpcerr.Wrap(rpcerr.KindInternal, "internal error", err)
}

type sessionInfo struct {
	SessionID string `json:"session_id"`
	Command   string `json:"command"`
	State     string `json:"state"`
	Active    bool   `json:"active"`
}

func (s *Server) handleSessions() (any, *rpcerr.Error) {
	active, _ := s.Registry.Active()
	var infos []sessionInfo
	for _, id := range s.Registry.List() {
		sess, err := s.Registry.Get(id)
		if err != nil {
			continue
		}
		infos = append(infos, sessionInfo{
			SessionID: sess.ID,
			Command:   sess.Command,
			State:     string(sess.State()),
			Active:    id == active,
		})
	}
	return map[string]any{"sessions": infos}, nil
}

type typeParams struct {
	SessionID string `json:"session_id"`
	Text      string `json:"text"`
}

func (s *Server) handleType(params json.RawMessage) (any, *rpcerr.Error) {
	var p typeParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, rpcerr.New(rpcerr.KindInvalidArgument, err.Error())
	}
	return s.handleSessionOp(mustJSON(sessionRefParams{SessionID: p.SessionID}), func(sess *session.Session) (any, error) {
		return nil, sess.Type(p.Text)
	})
}

type pressOpParam struct {
	Kind  string `json:"kind"` // "key" (default), "keydown", "keyup"
	Name  string `json:"name"`
	Shift bool   `json:"shift"`
	Alt   bool   `json:"alt"`
	Ctrl  bool   `json:"ctrl"`
}

type pressParams struct {
	SessionID string `json:"session_id"`

	// Key/Shift/Alt/Ctrl is the simple single-key form.
	Key   string `json:"key"`
	Shift bool   `json:"shift"`
	Alt   bool   `json:"alt"`
	Ctrl  bool   `json:"ctrl"`

	// Ops, when non-empty, is spec.md §4.5's modifier_ops sequence form
	// and takes precedence over Key.
	Ops []pressOpParam `json:"ops"`
}

func modFromBools(shift, alt, ctrl bool) keys.Modifier {
	var mod keys.Modifier
	if shift {
		mod |= keys.ModShift
	}
	if alt {
		mod |= keys.ModAlt
	}
	if ctrl {
		mod |= keys.ModCtrl
	}
	return mod
}

func wrapKeyErr(err error) error {
	if _, ok := err.(*keys.ErrUnknownKey); ok {
		return rpcerr.Wrap(rpcerr.KindUnknownKey, "unknown key", err)
	}
	return err
}

func (s *Server) handlePress(params json.RawMessage) (any, *rpcerr.Error) {
	var p pressParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, rpcerr.New(rpcerr.KindInvalidArgument, err.Error())
	}
	if len(p.Ops) > 0 {
		ops := make([]keys.Op, len(p.Ops))
		for i, o := range p.Ops {
			kind := keys.OpKind(o.Kind)
			if kind == "" {
				kind = keys.OpKey
			}
			ops[i] = keys.Op{Kind: kind, Name: o.Name, Mod: modFromBools(o.Shift, o.Alt, o.Ctrl)}
		}
		return s.handleSessionOp(mustJSON(sessionRefParams{SessionID: p.SessionID}), func(sess *session.Session) (any, error) {
			return nil, wrapKeyErr(sess.PressSequence(ops))
		})
	}
	mod := modFromBools(p.Shift, p.Alt, p.Ctrl)
	return s.handleSessionOp(mustJSON(sessionRefParams{SessionID: p.SessionID}), func(sess *session.Session) (any, error) {
		return nil, wrapKeyErr(sess.Press(p.Key, mod))
	})
}

type scrollParams struct {
	SessionID string `json:"session_id"`
	Direction string `json:"direction"`
	Amount    int    `json:"amount"`
}

func (s *Server) handleScroll(params json.RawMessage) (any, *rpcerr.Error) {
	var p scrollParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, rpcerr.New(rpcerr.KindInvalidArgument, err.Error())
	}
	return s.handleSessionOp(mustJSON(sessionRefParams{SessionID: p.SessionID}), func(sess *session.Session) (any, error) {
		err := sess.Scroll(p.Direction, p.Amount)
		if err == session.ErrUnknownDirection {
			return nil, rpcerr.Wrap(rpcerr.KindInvalidArgument, "unknown scroll direction", err)
		}
		return nil, err
	})
}

type resizeParams struct {
	SessionID string `json:"session_id"`
	Cols      int    `json:"cols"`
	Rows      int    `json:"rows"`
}

func (s *Server) handleResize(params json.RawMessage) (any, *rpcerr.Error) {
	var p resizeParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, rpcerr.New(rpcerr.KindInvalidArgument, err.Error())
	}
	return s.handleSessionOp(mustJSON(sessionRefParams{SessionID: p.SessionID}), func(sess *session.Session) (any, error) {
		return nil, sess.Resize(p.Cols, p.Rows)
	})
}

type waitParams struct {
	SessionID   string `json:"session_id"`
	Kind        string `json:"kind"`
	Text        string `json:"text"`
	Role        string `json:"role"`
	ElementText string `json:"element_text"`
	TimeoutMs   int    `json:"timeout_ms"`
	StableMs    int    `json:"stable_ms"`
}

// handleWait runs the wait inline: the connection's per-request goroutine
// (see handleConn) is what keeps this from blocking other requests on the
// same connection.
func (s *Server) handleWait(ctx context.Context, params json.RawMessage) (any, *rpcerr.Error) {
	var p waitParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, rpcerr.New(rpcerr.KindInvalidArgument, err.Error())
	}
	cond := wait.Condition{
		Kind:        wait.Kind(p.Kind),
		Text:        p.Text,
		ElementText: p.ElementText,
		Timeout:     time.Duration(p.TimeoutMs) * time.Millisecond,
		StableFor:   time.Duration(p.StableMs) * time.Millisecond,
	}
	if p.Role != "" {
		cond.Role = roleFromString(p.Role)
	}

	start := time.Now()
	err := s.Waiter.Wait(ctx, p.SessionID, cond)
	elapsedMs := time.Since(start).Milliseconds()
	if err == wait.ErrTimeout {
		// spec.md §7: Timeout on wait is a structured success response,
		// not an RPC-level error.
		return map[string]any{"found": false, "elapsed_ms": elapsedMs}, nil
	}
	if err != nil {
		return nil, toRPCError(err)
	}
	return map[string]any{"found": true, "elapsed_ms": elapsedMs}, nil
}

// handleLivePreviewStream joins the session's live broadcaster and
// streams broadcast.Event frames as successive response lines sharing
// req.ID, giving viewers a way to subscribe over the primary JSON-RPC
// socket rather than only the separate livegateway port (spec.md §4.7/
// §4.8). This is the "multiplex by request id over a single connection"
// discipline §4.8 requires streaming methods to document: frames for
// this subscription interleave with ordinary request/response traffic
// on the same connection (serialized by writeMu), distinguishable by a
// shared id, until the viewer disconnects, the session closes, or the
// connection's context is cancelled. Bypasses handle()'s single
// request/single-response shape entirely, since handle's signature
// cannot express an open-ended stream of follow-up frames.
func (s *Server) handleLivePreviewStream(ctx context.Context, conn net.Conn, writeMu *sync.Mutex, req Request) {
	sess, rerr := s.resolveSession(req.Params)
	if rerr != nil {
		s.writeError(conn, writeMu, req.ID, rerr)
		return
	}

	var initBytes []byte
	if shot, err := sess.Screenshot(); err == nil {
		initBytes = shot.Buf.ANSI()
	}
	viewer, err := s.Broadcaster.Join(sess.ID, initBytes)
	if err != nil {
		s.writeError(conn, writeMu, req.ID, toRPCError(err))
		return
	}
	defer s.Broadcaster.Leave(sess.ID, viewer)

	for {
		select {
		case ev, ok := <-viewer.Events():
			if !ok {
				return
			}
			s.writeResult(conn, writeMu, req.ID, ev)
			if ev.Type == broadcast.EventClosed {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (s *Server) handleHealth() (any, *rpcerr.Error) {
	return map[string]any{
		"uptime_s": time.Since(s.startTime).Seconds(),
		"pid":      os.Getpid(),
		"version":  s.version,
	}, nil
}

func mustJSON(v any) json.RawMessage {
	b, _ := json.Marshal(v)
	return b
}

func roleFromString(s string) vom.Role {
	return vom.Role(s)
}

// componentDTO and screenshotDTO give the wire response a stable JSON
// shape (session.Screenshot's fields carry no json tags, being an
// internal value type shared with package session's own tests).
type componentDTO struct {
	Role string `json:"role"`
	Text string `json:"text"`
	X    int    `json:"x"`
	Y    int    `json:"y"`
	W    int    `json:"w"`
}

type cursorDTO struct {
	Row     int  `json:"row"`
	Col     int  `json:"col"`
	Visible bool `json:"visible"`
}

func screenshotDTO(shot session.Screenshot) map[string]any {
	comps := make([]componentDTO, len(shot.Components))
	for i, c := range shot.Components {
		comps[i] = componentDTO{
			Role: string(c.Role),
			Text: c.Text,
			X:    c.Rect.X,
			Y:    c.Rect.Y,
			W:    c.Rect.W,
		}
	}
	return map[string]any{
		"text": shot.Buf.Text(),
		"cursor": cursorDTO{
			Row:     shot.Buf.Cursor.Row,
			Col:     shot.Buf.Cursor.Col,
			Visible: shot.Buf.Cursor.Visible,
		},
		"components": comps,
	}
}
