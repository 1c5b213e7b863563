// Package monitor serves the step engine's status over JSON-RPC 2.0, both
// as plain HTTP POSTs and over a websocket that streams status updates to
// subscribed sessions.
package monitor

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"stepcore/pkg/log"
	"stepcore/pkg/pool"
)

// Engine is the part of the stepper engine the monitor exposes.
type Engine interface {
	Status() map[string]interface{}
	ReportPositions() string
	QuickStop()
}

// DefaultInterval is the status broadcast period.
const DefaultInterval = 250 * time.Millisecond

// Config holds server configuration.
type Config struct {
	// Addr is the listen address, e.g. ":7125".
	Addr   string
	Engine Engine
	// Interval between status broadcasts; DefaultInterval when zero.
	Interval time.Duration
	Logger   *log.Logger
}

// Server is the monitor endpoint.
type Server struct {
	engine   Engine
	addr     string
	interval time.Duration
	log      *log.Logger

	mux        *http.ServeMux
	httpServer *http.Server
	upgrader   websocket.Upgrader

	clients  map[string]*client
	clientMu sync.RWMutex

	running   atomic.Bool
	stop      chan struct{}
	stopOnce  sync.Once
	startTime time.Time
}

// New creates a server. It does not listen until Start.
func New(cfg Config) *Server {
	s := &Server{
		engine:    cfg.Engine,
		addr:      cfg.Addr,
		interval:  cfg.Interval,
		log:       cfg.Logger,
		clients:   make(map[string]*client),
		stop:      make(chan struct{}),
		startTime: time.Now(),
	}
	if s.interval <= 0 {
		s.interval = DefaultInterval
	}
	if s.log == nil {
		s.log = log.GetLogger("monitor")
	}
	s.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}

	s.mux = http.NewServeMux()
	s.mux.HandleFunc("/jsonrpc", s.handleJSONRPC)
	s.mux.HandleFunc("/websocket", s.handleWebSocket)
	s.mux.HandleFunc("/engine/status", s.handleStatus)
	s.mux.HandleFunc("/engine/quick_stop", s.handleQuickStop)
	return s
}

// Handler returns the HTTP handler, for embedding or tests.
func (s *Server) Handler() http.Handler { return s.mux }

// Start listens on the configured address and broadcasts status until
// Stop. It blocks.
func (s *Server) Start() error {
	s.httpServer = &http.Server{Addr: s.addr, Handler: s.mux}
	s.running.Store(true)
	s.log.Info("monitor listening on %s", s.addr)
	go s.broadcastLoop()

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("monitor: %w", err)
	}
	return nil
}

// Stop closes every session and the listener.
func (s *Server) Stop() error {
	s.running.Store(false)
	s.stopOnce.Do(func() { close(s.stop) })

	s.clientMu.Lock()
	for _, c := range s.clients {
		c.Close()
	}
	s.clients = make(map[string]*client)
	s.clientMu.Unlock()

	if s.httpServer != nil {
		return s.httpServer.Close()
	}
	return nil
}

// Sessions returns the number of connected websocket sessions.
func (s *Server) Sessions() int {
	s.clientMu.RLock()
	defer s.clientMu.RUnlock()
	return len(s.clients)
}

type rpcRequest struct {
	JSONRPC string         `json:"jsonrpc"`
	Method  string         `json:"method"`
	Params  map[string]any `json:"params,omitempty"`
	ID      any            `json:"id,omitempty"`
}

type rpcResponse struct {
	JSONRPC string    `json:"jsonrpc"`
	Result  any       `json:"result,omitempty"`
	Error   *rpcError `json:"error,omitempty"`
	ID      any       `json:"id,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

const (
	codeParse    = -32700
	codeNoMethod = -32601
	codeServer   = -32000
)

type methodError struct {
	code int
	msg  string
}

func (e *methodError) Error() string { return e.msg }

func (s *Server) dispatch(method string, c *client) (any, error) {
	switch method {
	case "server.info":
		return map[string]any{
			"state":    "ready",
			"uptime":   time.Since(s.startTime).Seconds(),
			"sessions": s.Sessions(),
			"buffers":  pool.ReadStats(),
		}, nil
	case "server.connection.identify":
		if c == nil {
			return nil, &methodError{codeServer, "identify requires a websocket session"}
		}
		return map[string]any{"connection_id": c.id}, nil
	case "engine.status":
		return s.engine.Status(), nil
	case "engine.positions":
		return map[string]any{"report": s.engine.ReportPositions()}, nil
	case "engine.subscribe":
		if c == nil {
			return nil, &methodError{codeServer, "subscribe requires a websocket session"}
		}
		c.subscribed.Store(true)
		return map[string]any{"session": c.id, "status": s.engine.Status()}, nil
	case "engine.quick_stop":
		s.engine.QuickStop()
		s.log.WithField("session", sessionOf(c)).Warn("quick stop requested")
		return "ok", nil
	default:
		return nil, &methodError{codeNoMethod, "method not found: " + method}
	}
}

func sessionOf(c *client) string {
	if c == nil {
		return "http"
	}
	return c.id
}

func errorResponse(id any, err error) rpcResponse {
	code := codeServer
	if me, ok := err.(*methodError); ok {
		code = me.code
	}
	return rpcResponse{JSONRPC: "2.0", Error: &rpcError{Code: code, Message: err.Error()}, ID: id}
}

func (s *Server) handleJSONRPC(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, rpcResponse{JSONRPC: "2.0", Error: &rpcError{Code: codeParse, Message: "Parse error"}})
		return
	}
	result, err := s.dispatch(req.Method, nil)
	if err != nil {
		writeJSON(w, errorResponse(req.ID, err))
		return
	}
	writeJSON(w, rpcResponse{JSONRPC: "2.0", Result: result, ID: req.ID})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{"result": s.engine.Status()})
}

func (s *Server) handleQuickStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	result, _ := s.dispatch("engine.quick_stop", nil)
	writeJSON(w, map[string]any{"result": result})
}

func writeJSON(w http.ResponseWriter, v any) {
	buf := pool.GetBuffer()
	defer pool.PutBuffer(buf)
	if err := json.NewEncoder(buf).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(buf.Bytes())
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Warn("websocket upgrade failed")
		return
	}
	c := newClient(s, conn)

	s.clientMu.Lock()
	s.clients[c.id] = c
	s.clientMu.Unlock()
	s.log.WithField("session", c.id).Info("session connected")

	go c.writePump()
	c.Send(map[string]any{
		"jsonrpc": "2.0",
		"method":  "notify_engine_connected",
		"params":  []any{map[string]any{"session": c.id}},
	})
	c.readPump()
}

func (s *Server) removeClient(c *client) {
	s.clientMu.Lock()
	delete(s.clients, c.id)
	s.clientMu.Unlock()
	s.log.WithField("session", c.id).Info("session disconnected")
}

func (s *Server) broadcastLoop() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.Broadcast()
		case <-s.stop:
			return
		}
	}
}

// Broadcast sends one status update to every subscribed session.
func (s *Server) Broadcast() {
	s.clientMu.RLock()
	var subs []*client
	for _, c := range s.clients {
		if c.subscribed.Load() {
			subs = append(subs, c)
		}
	}
	s.clientMu.RUnlock()
	if len(subs) == 0 {
		return
	}

	eventtime := time.Since(s.startTime).Seconds()
	note := map[string]any{
		"jsonrpc": "2.0",
		"method":  "notify_status_update",
		"params":  []any{s.engine.Status(), eventtime},
	}
	for _, c := range subs {
		c.Send(note)
	}
}
