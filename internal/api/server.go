package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/bryanchriswhite/PlanarView/internal/config"
	"github.com/bryanchriswhite/PlanarView/internal/effect"
	"github.com/bryanchriswhite/PlanarView/internal/frame"
	"github.com/bryanchriswhite/PlanarView/internal/logger"
	"github.com/bryanchriswhite/PlanarView/internal/output"
	"github.com/bryanchriswhite/PlanarView/internal/preview"
	"github.com/bryanchriswhite/PlanarView/internal/render"
	"github.com/bryanchriswhite/PlanarView/internal/source"
)

const (
	version        = "0.1.0"
	maxUploadBytes = 32 << 20
	writeWait      = 5 * time.Second
)

// Preview is the controller surface exposed over HTTP
type Preview interface {
	SwitchFacing() error
	BackToCamera() error
	SelectStill(still *frame.Buffer) error
	RequestCapture()
	ApplyPanelEvent(ev effect.Event) error
	Status() preview.Status
}

// Renderer is the render control surface exposed over HTTP
type Renderer interface {
	SetRenderingEnabled(enabled bool)
	RenderingEnabled() bool
	SetMirror(mirror bool)
	RequestRender()
	Stats() render.Stats
}

// LoopStats reports render loop counters
type LoopStats interface {
	Stats() render.LoopStats
}

// Options wires the server to the pipeline. Loop, Config and Stream may
// be nil.
type Options struct {
	Preview       Preview
	Renderer      Renderer
	Loop          LoopStats
	Config        *config.Manager
	Stream        *output.MJPEGOutput
	Pool          *frame.Pool
	StillLimits   source.StillLimits
	StatsInterval time.Duration
}

// Server represents the HTTP API server
type Server struct {
	router   *mux.Router
	opts     Options
	upgrader websocket.Upgrader

	mu  sync.Mutex
	srv *http.Server
}

// RenderStatus is the body of GET /api/render
type RenderStatus struct {
	Renderer render.Stats      `json:"renderer"`
	Loop     *render.LoopStats `json:"loop,omitempty"`
	Preview  preview.Status    `json:"preview"`
	Stream   *output.Stats     `json:"stream,omitempty"`
}

// wsMessage is exchanged on the panel socket
type wsMessage struct {
	Type   string        `json:"type"`
	Event  *effect.Event `json:"event,omitempty"`
	Error  string        `json:"error,omitempty"`
	Status *RenderStatus `json:"status,omitempty"`
}

// NewServer creates a new API server
func NewServer(opts Options) *Server {
	if opts.StatsInterval <= 0 {
		opts.StatsInterval = time.Second
	}
	s := &Server{
		router: mux.NewRouter(),
		opts:   opts,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // local control surface
			},
		},
	}
	s.setupRoutes()
	return s
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()

	// Rendering
	api.HandleFunc("/render", s.handleGetRender).Methods("GET")
	api.HandleFunc("/render/enabled", s.handleSetEnabled).Methods("PUT")
	api.HandleFunc("/render/mirror", s.handleSetMirror).Methods("PUT")
	api.HandleFunc("/render/request", s.handleRequestRender).Methods("POST")

	// Host
	api.HandleFunc("/camera/switch", s.handleSwitchCamera).Methods("POST")
	api.HandleFunc("/camera/resume", s.handleResumeCamera).Methods("POST")
	api.HandleFunc("/still", s.handleSelectStill).Methods("POST")
	api.HandleFunc("/capture", s.handleCapture).Methods("POST")

	// Effect panel
	api.HandleFunc("/panel", s.handlePanel).Methods("POST")
	api.HandleFunc("/panel/ws", s.handlePanelSocket)

	api.HandleFunc("/config", s.handleGetConfig).Methods("GET")
	api.HandleFunc("/health", s.handleHealth).Methods("GET")

	if s.opts.Stream != nil {
		s.router.HandleFunc("/stream", s.opts.Stream.GetHTTPHandler()).Methods("GET")
		s.router.HandleFunc("/snapshot.jpg", s.opts.Stream.GetSnapshotHandler()).Methods("GET")
		s.router.HandleFunc("/", s.opts.Stream.GetViewerHandler()).Methods("GET")
	}
}

// Handler returns the root handler with CORS applied
func (s *Server) Handler() http.Handler {
	return s.enableCORS(s.router)
}

// Start serves on port until Shutdown is called
func (s *Server) Start(port int) error {
	addr := fmt.Sprintf(":%d", port)
	srv := &http.Server{Addr: addr, Handler: s.Handler()}
	s.mu.Lock()
	s.srv = srv
	s.mu.Unlock()

	logger.WithComponent("api").Info().Str("addr", addr).Msgf("Starting server on http://localhost%s", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.srv
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// enableCORS adds CORS headers
func (s *Server) enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func success(w http.ResponseWriter, code int) {
	writeJSON(w, code, map[string]string{"status": "success"})
}

// errorCode maps pipeline errors onto HTTP status codes
func errorCode(err error) int {
	switch {
	case errors.Is(err, preview.ErrNoCamera):
		return http.StatusConflict
	case errors.Is(err, effect.ErrUnknownParam):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) status() RenderStatus {
	st := RenderStatus{
		Renderer: s.opts.Renderer.Stats(),
		Preview:  s.opts.Preview.Status(),
	}
	if s.opts.Loop != nil {
		ls := s.opts.Loop.Stats()
		st.Loop = &ls
	}
	if s.opts.Stream != nil {
		ss := s.opts.Stream.Stats()
		st.Stream = &ss
	}
	return st
}

func (s *Server) handleGetRender(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.status())
}

func (s *Server) handleSetEnabled(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Enabled *bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Enabled == nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("body must be {\"enabled\": bool}"))
		return
	}
	s.opts.Renderer.SetRenderingEnabled(*req.Enabled)
	success(w, http.StatusOK)
}

func (s *Server) handleSetMirror(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Mirror *bool `json:"mirror"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Mirror == nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("body must be {\"mirror\": bool}"))
		return
	}
	s.opts.Renderer.SetMirror(*req.Mirror)
	success(w, http.StatusOK)
}

func (s *Server) handleRequestRender(w http.ResponseWriter, r *http.Request) {
	s.opts.Renderer.RequestRender()
	success(w, http.StatusAccepted)
}

func (s *Server) handleSwitchCamera(w http.ResponseWriter, r *http.Request) {
	if err := s.opts.Preview.SwitchFacing(); err != nil {
		writeError(w, errorCode(err), err)
		return
	}
	writeJSON(w, http.StatusOK, s.opts.Preview.Status())
}

func (s *Server) handleResumeCamera(w http.ResponseWriter, r *http.Request) {
	if err := s.opts.Preview.BackToCamera(); err != nil {
		writeError(w, errorCode(err), err)
		return
	}
	writeJSON(w, http.StatusOK, s.opts.Preview.Status())
}

// handleSelectStill accepts a multipart upload in the "image" field
func (s *Server) handleSelectStill(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, _, err := r.FormFile("image")
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("missing image upload: %w", err))
		return
	}
	defer file.Close()

	still, err := source.DecodeStill(file, s.opts.StillLimits, s.opts.Pool)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	width, height := still.Width(), still.Height()
	if err := s.opts.Preview.SelectStill(still); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "success",
		"width":  width,
		"height": height,
	})
}

func (s *Server) handleCapture(w http.ResponseWriter, r *http.Request) {
	s.opts.Preview.RequestCapture()
	success(w, http.StatusAccepted)
}

func (s *Server) handlePanel(w http.ResponseWriter, r *http.Request) {
	var ev effect.Event
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.opts.Preview.ApplyPanelEvent(ev); err != nil {
		writeError(w, errorCode(err), err)
		return
	}
	success(w, http.StatusOK)
}

// handlePanelSocket accepts panel events and pushes render status
func (s *Server) handlePanelSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.WithComponent("api").Warn().Err(err).Msg("WebSocket upgrade error")
		return
	}
	defer conn.Close()

	var wmu sync.Mutex
	send := func(msg wsMessage) error {
		wmu.Lock()
		defer wmu.Unlock()
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteJSON(msg)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var msg wsMessage
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			if err := send(s.handleSocketMessage(msg)); err != nil {
				return
			}
		}
	}()

	status := s.status()
	if err := send(wsMessage{Type: "status", Status: &status}); err != nil {
		return
	}

	ticker := time.NewTicker(s.opts.StatsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-r.Context().Done():
			return
		case <-ticker.C:
			status := s.status()
			if err := send(wsMessage{Type: "status", Status: &status}); err != nil {
				logger.WithComponent("api").Debug().Err(err).Msg("WebSocket write error")
				return
			}
		}
	}
}

func (s *Server) handleSocketMessage(msg wsMessage) wsMessage {
	var err error
	switch msg.Type {
	case "panel":
		if msg.Event == nil {
			err = fmt.Errorf("panel message without event")
			break
		}
		err = s.opts.Preview.ApplyPanelEvent(*msg.Event)
	case "capture":
		s.opts.Preview.RequestCapture()
	case "switch":
		err = s.opts.Preview.SwitchFacing()
	default:
		err = fmt.Errorf("unknown message type %q", msg.Type)
	}
	if err != nil {
		return wsMessage{Type: "error", Event: msg.Event, Error: err.Error()}
	}
	return wsMessage{Type: "ack", Event: msg.Event}
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	if s.opts.Config == nil {
		writeError(w, http.StatusNotFound, fmt.Errorf("no configuration loaded"))
		return
	}
	writeJSON(w, http.StatusOK, s.opts.Config.Get())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": version,
	})
}
