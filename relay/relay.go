// Package relay exposes an attached capture session over HTTP: send a
// message and get the reply back, as one JSON response, as an SSE
// stream, or over a websocket. One browser serves everything, so sends
// are serialized.
package relay

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/hazyhaar/chatwatch/idgen"
	"github.com/hazyhaar/chatwatch/message"
)

// Chat is what the relay needs from the capture session.
type Chat interface {
	Ask(ctx context.Context, text string, timeout time.Duration) (string, error)
	Stream(ctx context.Context, text string, timeout time.Duration, update func(partial string)) error
}

// Store serves captured history; nil disables /messages.
type Store interface {
	Recent(ctx context.Context, limit int) ([]message.Message, error)
}

// Config for the relay server.
type Config struct {
	Addr       string
	AskTimeout time.Duration
	// StreamTTL bounds how long a registered stream id stays claimable.
	StreamTTL time.Duration
}

func (c *Config) applyDefaults() {
	if c.Addr == "" {
		c.Addr = "127.0.0.1:8077"
	}
	if c.AskTimeout <= 0 {
		c.AskTimeout = 180 * time.Second
	}
	if c.StreamTTL <= 0 {
		c.StreamTTL = time.Minute
	}
}

type pendingStream struct {
	text      string
	timeout   time.Duration
	createdAt time.Time
}

// Server is the relay HTTP server.
type Server struct {
	cfg    Config
	chat   Chat
	store  Store
	logger *slog.Logger
	router *chi.Mux
	httpd  *http.Server

	// One browser, one conversation: sends cannot interleave.
	sendMu sync.Mutex

	newStreamID idgen.Generator

	streamMu sync.Mutex
	streams  map[string]pendingStream
}

// New creates a relay server. store may be nil.
func New(cfg Config, chat Chat, store Store, logger *slog.Logger) *Server {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		cfg:         cfg,
		chat:        chat,
		store:       store,
		logger:      logger,
		newStreamID: idgen.Prefixed("strm_", idgen.NanoID(16)),
		streams:     make(map[string]pendingStream),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Post("/send", s.handleSend)
	r.Post("/send_stream", s.handleSendStream)
	r.Get("/stream_events/{id}", s.handleStreamEvents)
	r.Get("/ws", s.handleWS)
	r.Get("/messages", s.handleMessages)
	r.Get("/healthz", s.handleHealthz)
	s.router = r
	return s
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe runs the server until ctx is cancelled, then shuts
// down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	s.httpd = &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("relay: listening", "addr", s.cfg.Addr)
		errCh <- s.httpd.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpd.Shutdown(shutdownCtx); err != nil {
			return err
		}
		<-errCh
		return nil
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

type sendRequest struct {
	Message        string `json:"message"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty"`
}

func (r sendRequest) askTimeout(fallback time.Duration) time.Duration {
	if r.TimeoutSeconds > 0 {
		return time.Duration(r.TimeoutSeconds) * time.Second
	}
	return fallback
}

// handleSend sends a message and blocks until the reply settles.
// POST /send
func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, "message required")
		return
	}

	s.sendMu.Lock()
	reply, err := s.chat.Ask(r.Context(), req.Message, req.askTimeout(s.cfg.AskTimeout))
	s.sendMu.Unlock()
	if err != nil {
		s.logger.Error("relay: ask failed", "error", err)
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"reply": reply})
}

// handleSendStream registers a message for streaming and returns the
// id to pass to /stream_events/{id}. The registration is one-shot.
// POST /send_stream
func (s *Server) handleSendStream(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, "message required")
		return
	}

	id := s.newStreamID()
	s.streamMu.Lock()
	s.pruneStreams()
	s.streams[id] = pendingStream{
		text:      req.Message,
		timeout:   req.askTimeout(s.cfg.AskTimeout),
		createdAt: time.Now(),
	}
	s.streamMu.Unlock()

	writeJSON(w, http.StatusOK, map[string]string{"stream_id": id})
}

// claimStream removes and returns a pending stream registration.
func (s *Server) claimStream(id string) (pendingStream, bool) {
	s.streamMu.Lock()
	defer s.streamMu.Unlock()
	p, ok := s.streams[id]
	if ok {
		delete(s.streams, id)
	}
	return p, ok
}

// pruneStreams drops registrations never claimed. Caller holds streamMu.
func (s *Server) pruneStreams() {
	cutoff := time.Now().Add(-s.cfg.StreamTTL)
	for id, p := range s.streams {
		if p.createdAt.Before(cutoff) {
			delete(s.streams, id)
		}
	}
}

// handleStreamEvents streams the reply for a registered id as
// server-sent events: a start event, data frames carrying the growing
// content, then an end or error event.
// GET /stream_events/{id}
func (s *Server) handleStreamEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	pending, ok := s.claimStream(id)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown stream id")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	writeSSE(w, "start", "ok")
	flusher.Flush()

	s.sendMu.Lock()
	err := s.chat.Stream(r.Context(), pending.text, pending.timeout, func(partial string) {
		payload, marshalErr := json.Marshal(map[string]string{"content": partial})
		if marshalErr != nil {
			return
		}
		writeSSE(w, "", string(payload))
		flusher.Flush()
	})
	s.sendMu.Unlock()

	if err != nil {
		s.logger.Error("relay: stream failed", "error", err)
		payload, _ := json.Marshal(map[string]string{"error": err.Error()})
		writeSSE(w, "error", string(payload))
		flusher.Flush()
		return
	}
	writeSSE(w, "end", "done")
	flusher.Flush()
}

// handleMessages serves captured history from the archive.
// GET /messages?limit=N
func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusNotFound, "archive not configured")
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	msgs, err := s.store.Recent(r.Context(), limit)
	if err != nil {
		s.logger.Error("relay: read archive", "error", err)
		writeError(w, http.StatusInternalServerError, "archive read failed")
		return
	}
	if msgs == nil {
		msgs = []message.Message{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": msgs})
}

// GET /healthz
func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeSSE writes one server-sent event frame. Empty event names emit
// a bare data frame.
func writeSSE(w http.ResponseWriter, event, data string) {
	if event != "" {
		w.Write([]byte("event: " + event + "\n"))
	}
	w.Write([]byte("data: " + data + "\n\n"))
}
