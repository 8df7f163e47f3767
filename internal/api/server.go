package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"blockctl/internal/control"
	"blockctl/internal/status"
	"blockctl/internal/utils"

	"github.com/sirupsen/logrus"
)

// Controller is the control loop as seen by the HTTP layer.
type Controller interface {
	HandleForm(ctx context.Context, operation, pauseTime string) control.Result
	CurrentStatus(ctx context.Context) (status.BlockingStatus, error)
}

// StatusView is the display form of the blocking status. The raw config
// string is never part of it.
type StatusView struct {
	State            string `json:"state"`
	PausedUntil      int64  `json:"paused_until,omitempty"`
	RemainingSeconds int64  `json:"remaining_seconds"`
}

// NewStatusView builds the view of an already normalized status.
func NewStatusView(st status.BlockingStatus, now time.Time) StatusView {
	view := StatusView{State: st.State().String()}
	if expiry, ok := st.Expiry(); ok {
		view.PausedUntil = expiry.Unix()
		view.RemainingSeconds = int64(st.Remaining(now).Round(time.Second) / time.Second)
	}
	return view
}

// StatusRenderer draws the page for requests that did not redirect.
type StatusRenderer interface {
	RenderStatus(w http.ResponseWriter, r *http.Request, view StatusView)
}

// StatusRendererFunc adapts a function to StatusRenderer.
type StatusRendererFunc func(w http.ResponseWriter, r *http.Request, view StatusView)

func (f StatusRendererFunc) RenderStatus(w http.ResponseWriter, r *http.Request, view StatusView) {
	f(w, r, view)
}

// JSONRenderer writes the view as JSON. It is the default renderer.
var JSONRenderer = StatusRendererFunc(func(w http.ResponseWriter, _ *http.Request, view StatusView) {
	writeJSON(w, http.StatusOK, view)
})

// Options configure the server. Zero values disable the optional routes.
type Options struct {
	Renderer       StatusRenderer
	Hub            *Hub
	RateLimiter    *RateLimiter
	MetricsHandler http.Handler
	Now            func() time.Time
}

type Server struct {
	controller Controller
	renderer   StatusRenderer
	hub        *Hub
	limiter    *RateLimiter
	metrics    http.Handler
	now        func() time.Time
	server     *http.Server
}

func NewServer(controller Controller, opts Options) *Server {
	s := &Server{
		controller: controller,
		renderer:   opts.Renderer,
		hub:        opts.Hub,
		limiter:    opts.RateLimiter,
		metrics:    opts.MetricsHandler,
		now:        opts.Now,
	}
	if s.renderer == nil {
		s.renderer = JSONRenderer
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Handler returns the console's routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	rl := func(h http.HandlerFunc) http.HandlerFunc { return h }
	if s.limiter != nil {
		rl = s.limiter.RateLimitMiddleware
	}

	mux.HandleFunc("/", rl(s.handleIndex))
	mux.HandleFunc("/api/status", rl(s.handleStatus))
	mux.HandleFunc("/api/health", s.handleHealth)
	if s.hub != nil {
		mux.HandleFunc("/api/ws", rl(s.hub.ServeWS))
	}
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics)
	}
	return mux
}

// Start serves on addr until Stop is called.
func (s *Server) Start(addr string) error {
	// Handlers hold the request through dispatch and the settle window.
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 2 * time.Minute,
	}

	logrus.WithField("addr", addr).Info("Starting console server")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// handleIndex takes the menu's control form. Accepted actions redirect
// back to the page; anything else falls through to the status renderer.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	switch r.Method {
	case http.MethodGet, http.MethodHead:
		s.render(w, r)
		return
	case http.MethodPost:
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, utils.MaxFormBodySize)
	if err := r.ParseForm(); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			http.Error(w, "Request too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "Invalid form", http.StatusBadRequest)
		return
	}

	result := s.controller.HandleForm(r.Context(),
		r.PostForm.Get(control.FieldOperation),
		r.PostForm.Get(control.FieldPauseTime))

	switch result.Outcome {
	case control.OutcomeRedirect:
		http.Redirect(w, r, r.URL.RequestURI(), http.StatusSeeOther)
	case control.OutcomeTerminated:
		w.WriteHeader(http.StatusNoContent)
	default:
		s.render(w, r)
	}
}

func (s *Server) render(w http.ResponseWriter, r *http.Request) {
	s.renderer.RenderStatus(w, r, s.currentView(r.Context()))
}

func (s *Server) currentView(ctx context.Context) StatusView {
	st, err := s.controller.CurrentStatus(ctx)
	if err != nil {
		logrus.WithError(err).Warn("Failed to read blocking status")
	}
	return NewStatusView(st, s.now())
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, s.currentView(r.Context()))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"healthy": true})
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logrus.WithError(err).Debug("Failed to write response")
	}
}
