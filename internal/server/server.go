package server

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"agrolens-go/internal/config"
	"agrolens-go/internal/monitoring"
	"agrolens-go/internal/session"
	"agrolens-go/internal/types"
)

//go:embed web/*
var webFS embed.FS

// Sessions is the part of session.Controller the server drives.
type Sessions interface {
	Start(ctx context.Context) (string, error)
	Stop() (string, error)
	Toggle(ctx context.Context) (string, string, error)
}

// DebugSwitch is the part of processing.DebugPanel the server drives.
type DebugSwitch interface {
	Enabled() bool
	SetEnabled(v bool)
	Toggle() bool
	Snapshot() (types.DebugFields, bool)
}

type Options struct {
	Sessions Sessions
	Debug    DebugSwitch
	StatusFn func() map[string]any
	ConfigFn func() map[string]any
}

type Server struct {
	upgrader websocket.Upgrader
	clients  map[*websocket.Conn]*sync.Mutex
	mu       sync.Mutex
	cfg      config.AppConfig
	opts     Options

	// baseCtx outlives individual requests; sessions started over HTTP
	// are bound to it.
	baseCtx context.Context
}

const (
	writeWait = 10 * time.Second
	pongWait  = 60 * time.Second
	pingEvery = (pongWait * 9) / 10
)

func New(ctx context.Context, cfg config.AppConfig, opts Options) *Server {
	return &Server{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[*websocket.Conn]*sync.Mutex),
		cfg:     cfg,
		opts:    opts,
		baseCtx: ctx,
	}
}

func Run(ctx context.Context, cfg config.AppConfig, messages <-chan any, opts Options) error {
	srv := New(ctx, cfg, opts)
	handler, err := srv.Handler()
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	go srv.broadcast(ctx, messages)

	err = httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Handler() (http.Handler, error) {
	sub, err := fs.Sub(webFS, "web")
	if err != nil {
		return nil, err
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/ws", s.handleWS)
	r.Get("/healthz", s.handleHealth)
	r.Get("/config", s.handleConfig)
	r.Get("/status", s.handleStatus)
	r.Get("/debug", s.handleDebugGet)
	r.Post("/debug", s.handleDebugPost)
	r.Route("/session", func(r chi.Router) {
		r.Post("/start", s.handleSessionStart)
		r.Post("/stop", s.handleSessionStop)
		r.Post("/toggle", s.handleSessionToggle)
	})
	r.Handle("/*", http.FileServer(http.FS(sub)))
	return r, nil
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	conn.SetReadLimit(1 << 16)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	s.mu.Lock()
	writeMu := &sync.Mutex{}
	s.clients[conn] = writeMu
	s.mu.Unlock()

	payload := s.configPayload()
	payload["type"] = "config"
	_ = s.writeJSON(conn, writeMu, payload)

	go func() {
		done := make(chan struct{})
		go func() {
			ticker := time.NewTicker(pingEvery)
			defer ticker.Stop()
			for {
				select {
				case <-done:
					return
				case <-ticker.C:
					if err := s.writeMessage(conn, writeMu, websocket.PingMessage, nil); err != nil {
						_ = conn.Close()
						return
					}
				}
			}
		}()
		defer close(done)
		defer s.removeClient(conn)
		for {
			messageType, payload, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if messageType != websocket.TextMessage {
				continue
			}
			var request struct {
				Type string `json:"type"`
			}
			if err := json.Unmarshal(payload, &request); err != nil {
				continue
			}
			switch request.Type {
			case "toggle_session":
				if s.opts.Sessions != nil {
					if _, _, err := s.opts.Sessions.Toggle(s.baseCtx); err != nil {
						monitoring.Logf("ws toggle_session: %v", err)
					}
				}
			case "toggle_debug":
				if s.opts.Debug != nil {
					_ = s.writeJSON(conn, writeMu, map[string]any{
						"type":    "debug_state",
						"enabled": s.opts.Debug.Toggle(),
					})
				}
			}
		}
	}()
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) configPayload() map[string]any {
	payload := map[string]any{
		"port":           s.cfg.Port,
		"debug_panel":    s.cfg.DebugPanel,
		"history_size":   s.cfg.Tuning.GetHistorySize(),
		"sample_size":    s.cfg.Tuning.GetSampleSize(),
		"classifier_url": s.cfg.ClassifierURL,
	}
	if s.opts.ConfigFn != nil {
		for k, v := range s.opts.ConfigFn() {
			payload[k] = v
		}
	}
	return payload
}

func (s *Server) handleConfig(w http.ResponseWriter, _ *http.Request) {
	writeJSONResponse(w, http.StatusOK, s.configPayload())
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	payload := map[string]any{}
	if s.opts.StatusFn != nil {
		payload = s.opts.StatusFn()
	}
	if metrics, ok := payload["metrics"].(map[string]any); ok {
		metrics["ws_clients"] = s.clientCount()
	} else {
		payload["ws_clients"] = s.clientCount()
	}
	writeJSONResponse(w, http.StatusOK, payload)
}

func (s *Server) debugPayload() map[string]any {
	fields, ok := s.opts.Debug.Snapshot()
	payload := map[string]any{"enabled": s.opts.Debug.Enabled()}
	if ok {
		payload["fields"] = fields
	}
	return payload
}

func (s *Server) handleDebugGet(w http.ResponseWriter, _ *http.Request) {
	if s.opts.Debug == nil {
		http.Error(w, "debug panel unavailable", http.StatusNotFound)
		return
	}
	writeJSONResponse(w, http.StatusOK, s.debugPayload())
}

// handleDebugPost sets the panel from {"enabled": bool}; an empty body
// toggles it.
func (s *Server) handleDebugPost(w http.ResponseWriter, r *http.Request) {
	if s.opts.Debug == nil {
		http.Error(w, "debug panel unavailable", http.StatusNotFound)
		return
	}
	var body struct {
		Enabled *bool `json:"enabled"`
	}
	err := json.NewDecoder(io.LimitReader(r.Body, 1<<10)).Decode(&body)
	switch {
	case errors.Is(err, io.EOF):
		s.opts.Debug.Toggle()
	case err != nil:
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	case body.Enabled == nil:
		s.opts.Debug.Toggle()
	default:
		s.opts.Debug.SetEnabled(*body.Enabled)
	}
	writeJSONResponse(w, http.StatusOK, s.debugPayload())
}

func (s *Server) handleSessionStart(w http.ResponseWriter, _ *http.Request) {
	if s.opts.Sessions == nil {
		http.Error(w, "sessions unavailable", http.StatusNotFound)
		return
	}
	id, err := s.opts.Sessions.Start(s.baseCtx)
	s.writeSessionResult(w, id, session.StateRunning, err)
}

func (s *Server) handleSessionStop(w http.ResponseWriter, _ *http.Request) {
	if s.opts.Sessions == nil {
		http.Error(w, "sessions unavailable", http.StatusNotFound)
		return
	}
	id, err := s.opts.Sessions.Stop()
	s.writeSessionResult(w, id, session.StateStopped, err)
}

func (s *Server) handleSessionToggle(w http.ResponseWriter, _ *http.Request) {
	if s.opts.Sessions == nil {
		http.Error(w, "sessions unavailable", http.StatusNotFound)
		return
	}
	id, state, err := s.opts.Sessions.Toggle(s.baseCtx)
	s.writeSessionResult(w, id, state, err)
}

func (s *Server) writeSessionResult(w http.ResponseWriter, id, state string, err error) {
	switch {
	case errors.Is(err, session.ErrSessionActive), errors.Is(err, session.ErrNoSession):
		writeJSONResponse(w, http.StatusConflict, map[string]any{"error": err.Error(), "session_id": id})
	case err != nil:
		writeJSONResponse(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
	default:
		writeJSONResponse(w, http.StatusOK, types.UISession{Type: "session", SessionID: id, State: state})
	}
}

func (s *Server) broadcast(ctx context.Context, messages <-chan any) {
	for {
		select {
		case <-ctx.Done():
			return
		case message, ok := <-messages:
			if !ok {
				return
			}
			payload, err := json.Marshal(message)
			if err != nil {
				continue
			}
			var stale []*websocket.Conn
			s.mu.Lock()
			for conn, writeMu := range s.clients {
				if err := s.writeMessage(conn, writeMu, websocket.TextMessage, payload); err != nil {
					stale = append(stale, conn)
				}
			}
			s.mu.Unlock()
			for _, conn := range stale {
				s.removeClient(conn)
			}
		}
	}
}

func (s *Server) removeClient(conn *websocket.Conn) {
	s.mu.Lock()
	delete(s.clients, conn)
	s.mu.Unlock()
	conn.Close()
}

func (s *Server) clientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

func (s *Server) writeJSON(conn *websocket.Conn, writeMu *sync.Mutex, payload any) error {
	writeMu.Lock()
	defer writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(payload)
}

func (s *Server) writeMessage(conn *websocket.Conn, writeMu *sync.Mutex, messageType int, payload []byte) error {
	writeMu.Lock()
	defer writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(messageType, payload)
}

func writeJSONResponse(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
