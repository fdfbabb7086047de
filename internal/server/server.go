// Package server provides the HTTP and WebSocket event surface
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/murmur-app/murmur/internal/orchestrator"
	"github.com/murmur-app/murmur/internal/store"
	"github.com/murmur-app/murmur/internal/trace"
)

// Orchestrator is the session surface the server exposes.
type Orchestrator interface {
	SessionID() string
	Events() <-chan orchestrator.Event
	SetRecording(enabled bool)
	Recording() bool
	ToggleMute() bool
	Muted() bool
}

// Message types.
type Message struct {
	Type string `json:"type"`
}

type MuteMessage struct {
	Type  string `json:"type"`
	Muted bool   `json:"muted"`
}

type RecordingMessage struct {
	Type    string `json:"type"`
	Enabled bool   `json:"enabled"`
}

type ErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type renameRequest struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// rateLimiter tracks message timestamps using a sliding window.
type rateLimiter struct {
	timestamps []time.Time
	mu         sync.Mutex
}

// allow checks if a message is allowed and records the timestamp if so.
func (r *rateLimiter) allow() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-RateLimitWindow)

	// Prune old timestamps
	valid := r.timestamps[:0]
	for _, t := range r.timestamps {
		if t.After(cutoff) {
			valid = append(valid, t)
		}
	}
	r.timestamps = valid

	if len(r.timestamps) >= RateLimitMessages {
		return false
	}

	r.timestamps = append(r.timestamps, now)
	return true
}

// Server handles HTTP and WebSocket connections.
type Server struct {
	orch  Orchestrator
	store store.Interface

	mu         sync.RWMutex
	conns      map[*websocket.Conn]struct{}
	rateLimits map[*websocket.Conn]*rateLimiter
}

// New creates a new server and starts the event broadcaster.
func New(orch Orchestrator, s store.Interface) *Server {
	srv := &Server{
		orch:       orch,
		store:      s,
		conns:      make(map[*websocket.Conn]struct{}),
		rateLimits: make(map[*websocket.Conn]*rateLimiter),
	}

	go srv.broadcastEvents()

	return srv
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// WebSocket event feed
	mux.HandleFunc("/ws", s.handleWebSocket)

	// REST API
	mux.HandleFunc("GET /api/session", s.handleSession)
	mux.HandleFunc("POST /api/recording/start", s.handleRecordingStart)
	mux.HandleFunc("POST /api/recording/stop", s.handleRecordingStop)
	mux.HandleFunc("POST /api/mic/toggle", s.handleMicToggle)
	mux.HandleFunc("GET /api/speakers", s.handleSpeakerList)
	mux.HandleFunc("POST /api/speakers/rename", s.handleSpeakerRename)

	// Apply middleware: trace -> CORS
	return corsMiddleware(trace.Middleware(mux))
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "*")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("websocket accept error", "error", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()

	s.mu.Lock()
	s.conns[conn] = struct{}{}
	s.rateLimits[conn] = &rateLimiter{}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		delete(s.rateLimits, conn)
		s.mu.Unlock()
	}()

	baseCtx := r.Context()
	log := trace.Logger(baseCtx)
	log.Info("websocket connected", "remote", r.RemoteAddr)

	for {
		var msg json.RawMessage
		if err := wsjson.Read(baseCtx, conn, &msg); err != nil {
			log.Debug("websocket read error", "error", err)
			return
		}

		s.mu.RLock()
		rl := s.rateLimits[conn]
		s.mu.RUnlock()

		if !rl.allow() {
			log.Warn("rate limit exceeded", "remote", r.RemoteAddr)
			_ = wsjson.Write(baseCtx, conn, ErrorMessage{
				Type:    "error",
				Message: "rate limit exceeded",
			})
			continue
		}

		var base Message
		if err := json.Unmarshal(msg, &base); err != nil {
			continue
		}

		switch base.Type {
		case "toggle_mute":
			muted := s.orch.ToggleMute()
			_ = wsjson.Write(baseCtx, conn, MuteMessage{Type: "mute", Muted: muted})
		case "set_recording":
			var rec RecordingMessage
			if err := json.Unmarshal(msg, &rec); err != nil {
				continue
			}
			s.orch.SetRecording(rec.Enabled)
			_ = wsjson.Write(baseCtx, conn, RecordingMessage{Type: "recording", Enabled: rec.Enabled})
		}
	}
}

func (s *Server) broadcastEvents() {
	for ev := range s.orch.Events() {
		s.mu.RLock()
		for conn := range s.conns {
			go func(c *websocket.Conn, e orchestrator.Event) {
				_ = wsjson.Write(context.Background(), c, e)
			}(conn, ev)
		}
		s.mu.RUnlock()
	}
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"session":   s.orch.SessionID(),
		"recording": s.orch.Recording(),
		"muted":     s.orch.Muted(),
	})
}

func (s *Server) handleRecordingStart(w http.ResponseWriter, r *http.Request) {
	s.orch.SetRecording(true)
	writeJSON(w, map[string]string{"status": "recording_started"})
}

func (s *Server) handleRecordingStop(w http.ResponseWriter, r *http.Request) {
	s.orch.SetRecording(false)
	writeJSON(w, map[string]string{"status": "recording_stopped"})
}

func (s *Server) handleMicToggle(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]bool{"muted": s.orch.ToggleMute()})
}

func (s *Server) handleSpeakerList(w http.ResponseWriter, r *http.Request) {
	profiles, err := s.store.FindAllSpeakerProfiles(r.Context())
	if err != nil {
		trace.Logger(r.Context()).Error("speaker list failed", "error", err)
		http.Error(w, "speaker list failed", http.StatusInternalServerError)
		return
	}

	type speakerEntry struct {
		ID      string `json:"id"`
		Ordinal int    `json:"ordinal"`
		Name    string `json:"name"`
	}
	out := make([]speakerEntry, 0, len(profiles))
	for _, p := range profiles {
		out = append(out, speakerEntry{ID: p.ID, Ordinal: p.Ordinal, Name: p.Name})
	}
	writeJSON(w, out)
}

func (s *Server) handleSpeakerRename(w http.ResponseWriter, r *http.Request) {
	var req renameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ID == "" || req.Name == "" {
		http.Error(w, "id and name are required", http.StatusBadRequest)
		return
	}

	if err := s.store.RenameSpeakerProfile(r.Context(), req.ID, req.Name); err != nil {
		trace.Logger(r.Context()).Error("speaker rename failed", "id", req.ID, "error", err)
		http.Error(w, "rename failed", http.StatusNotFound)
		return
	}
	writeJSON(w, map[string]string{"status": "renamed"})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
