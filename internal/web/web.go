package web

import (
	"crypto/subtle"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"strings"
	"time"

	"cardscene/internal/battery"
	"cardscene/internal/catalog"
	"cardscene/internal/config"
	appLog "cardscene/internal/log"
	"cardscene/internal/model"
	"cardscene/internal/notify"
	"cardscene/internal/scheduler"
)

const batteryCacheTTL = 30 * time.Second

// Server exposes the scene state and the developer trigger controls.
type Server struct {
	cfg     *config.Config
	sched   *scheduler.Scheduler
	hub     *notify.Hub
	battery *battery.Cached
	mux     *http.ServeMux
}

// embeddedStatic contains the developer controls page.
//
//go:embed all:static
var embeddedStatic embed.FS

// NewServer constructs a Server. br may be nil, in which case /api/battery
// answers 503.
func NewServer(cfg *config.Config, sched *scheduler.Scheduler, hub *notify.Hub, br battery.Reader) *Server {
	s := &Server{
		cfg:   cfg,
		sched: sched,
		hub:   hub,
		mux:   http.NewServeMux(),
	}
	if br != nil {
		s.battery = battery.NewCached(br, batteryCacheTTL, nil)
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	// Empty credentials disable auth rather than lock everyone out.
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="cardscene", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /api/state", s.handleState)
	s.mux.HandleFunc("GET /api/stream", s.handleStream)
	s.mux.HandleFunc("POST /api/trigger", s.handleTrigger)
	s.mux.HandleFunc("POST /api/stop", s.handleStop)
	s.mux.HandleFunc("GET /api/catalog", s.handleCatalog)
	s.mux.HandleFunc("GET /api/battery", s.handleBattery)
	s.mux.Handle("/", s.staticFileServer())
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.sched.Snapshot())
}

// handleStream pushes every published snapshot as a Server-Sent Event.
// Slow clients skip intermediate frames.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	ch, unsubscribe := s.hub.Subscribe(4)
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case snap, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(snap)
			if err != nil {
				appLog.Error("failed to encode snapshot", err)
				return
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

type triggerRequest struct {
	Event string `json:"event"`
	Text  string `json:"text"`
}

func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	var req triggerRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	kind, err := model.ParseKind(req.Event)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.sched.Trigger(kind, req.Text); err != nil {
		if errors.Is(err, catalog.ErrUnknownKind) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		appLog.Error("api trigger failed", err, "kind", kind)
		writeError(w, http.StatusInternalServerError, "trigger failed")
		return
	}
	appLog.Info("api trigger", "kind", kind)
	writeJSON(w, http.StatusAccepted, s.sched.Snapshot())
}

func (s *Server) handleStop(w http.ResponseWriter, _ *http.Request) {
	s.sched.Stop()
	appLog.Info("api stop")
	writeJSON(w, http.StatusAccepted, s.sched.Snapshot())
}

type kindDTO struct {
	Kind        model.Kind `json:"kind"`
	DurationMs  int64      `json:"duration_ms"`
	Background  bool       `json:"background"`
	AcceptsText bool       `json:"accepts_text"`
	DefaultText string     `json:"default_text,omitempty"`
}

type windowDTO struct {
	Name       string     `json:"name,omitempty"`
	Event      model.Kind `json:"event"`
	From       string     `json:"from"`
	To         string     `json:"to"`
	Greeting   string     `json:"greeting,omitempty"`
	Background bool       `json:"background"`
}

type catalogResponse struct {
	Kinds     []kindDTO             `json:"kinds"`
	Recurring []model.RecurringRule `json:"recurring"`
	Calendar  []model.CalendarEvent `json:"calendar"`
	Blackouts []windowDTO           `json:"blackouts"`
	Holidays  []windowDTO           `json:"holidays"`
	Timezone  string                `json:"timezone"`
}

func (s *Server) handleCatalog(w http.ResponseWriter, _ *http.Request) {
	cat := s.sched.Catalog()

	resp := catalogResponse{
		Kinds:     []kindDTO{},
		Recurring: cat.Recurring(),
		Calendar:  cat.Calendar(),
		Blackouts: []windowDTO{},
		Holidays:  []windowDTO{},
		Timezone:  cat.Location().String(),
	}
	for _, k := range cat.Kinds() {
		resp.Kinds = append(resp.Kinds, kindDTO{
			Kind:        k.Kind,
			DurationMs:  k.Duration.Milliseconds(),
			Background:  k.Background,
			AcceptsText: k.AcceptsText,
			DefaultText: k.DefaultText,
		})
	}
	for _, b := range cat.Blackouts() {
		resp.Blackouts = append(resp.Blackouts, windowDTO{
			Event: b.Event,
			From:  b.Window.From.String(),
			To:    b.Window.To.String(),
		})
	}
	for _, h := range cat.Holidays() {
		resp.Holidays = append(resp.Holidays, windowDTO{
			Name:       h.Name,
			Event:      h.Background,
			From:       h.Window.From.String(),
			To:         h.Window.To.String(),
			Greeting:   h.Greeting,
			Background: true,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleBattery(w http.ResponseWriter, r *http.Request) {
	if s.battery == nil {
		writeError(w, http.StatusServiceUnavailable, "battery reader unavailable")
		return
	}
	status, err := s.battery.Read(r.Context())
	if err != nil {
		appLog.Error("battery read failed", err)
		writeError(w, http.StatusInternalServerError, "failed to read battery")
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// staticFileServer serves the embedded controls page. Unknown /api/* paths
// get a plain 404 instead of HTML.
func (s *Server) staticFileServer() http.Handler {
	sub, err := fs.Sub(embeddedStatic, "static")
	if err != nil {
		appLog.Error("failed to initialize embedded static filesystem", err)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "static UI not available", http.StatusServiceUnavailable)
		})
	}

	fileServer := http.FileServer(http.FS(sub))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
		if path == "/api" || strings.HasPrefix(path, "/api/") {
			http.NotFound(w, r)
			return
		}
		fileServer.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
