// Package api exposes the dataset workflow, the trainer and the traffic
// monitor over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/sirikonda-gangothri/Optimizing-IDS/internal/config"
	"github.com/sirikonda-gangothri/Optimizing-IDS/internal/dataset"
	"github.com/sirikonda-gangothri/Optimizing-IDS/internal/logging"
	"github.com/sirikonda-gangothri/Optimizing-IDS/internal/metrics"
	"github.com/sirikonda-gangothri/Optimizing-IDS/internal/ml"
	"github.com/sirikonda-gangothri/Optimizing-IDS/internal/monitor"
	"github.com/sirikonda-gangothri/Optimizing-IDS/internal/profiling"
)

// Version is reported by the index and health routes.
var Version = "dev"

// Deps are the services the HTTP layer drives.
type Deps struct {
	Config    *config.Config
	Workspace *dataset.Workspace
	Trainer   *ml.Trainer
	Monitor   *monitor.Monitor
}

// Server is the HTTP front end.
type Server struct {
	cfg       *config.Config
	workspace *dataset.Workspace
	trainer   *ml.Trainer
	monitor   *monitor.Monitor
	auth      *Auth

	mux     *http.ServeMux
	started time.Time
	log     *logging.Logger
}

// New wires the routes for d.
func New(d Deps) (*Server, error) {
	if d.Config == nil || d.Workspace == nil || d.Trainer == nil || d.Monitor == nil {
		return nil, errors.New("api: config, workspace, trainer and monitor are required")
	}
	auth, err := NewAuth(d.Config.Auth)
	if err != nil {
		return nil, err
	}
	s := &Server{
		cfg:       d.Config,
		workspace: d.Workspace,
		trainer:   d.Trainer,
		monitor:   d.Monitor,
		auth:      auth,
		mux:       http.NewServeMux(),
		started:   time.Now(),
		log:       logging.APILogger(),
	}
	s.routes()
	return s, nil
}

func (s *Server) routes() {
	maxUpload := s.cfg.Server.MaxUploadBytes

	// Open routes.
	s.open("POST /login", s.handleLogin)
	s.open("GET /logout", s.handleLogout)
	s.open("GET /signup", s.handleSignup)
	s.open("GET /health", s.handleHealth)
	s.mux.Handle("GET /metrics", metrics.Handler())

	// Dataset workflow.
	s.protected("POST /upload", limitBody(maxUpload, s.handleUpload))
	s.protected("GET /get_dataset_dimensions", s.handleDimensions)
	s.protected("POST /preprocess", s.handlePreprocess)
	s.protected("POST /feature_selection", s.handleFeatureSelection)
	s.protected("POST /normalize", s.handleNormalize)
	s.protected("POST /train", s.handleTrain)

	// Traffic monitor.
	s.protected("POST /load_model", limitBody(maxUpload, s.handleLoadModel))
	s.protected("POST /start_capture", s.handleStartCapture)
	s.protected("POST /stop_capture", s.handleStopCapture)
	s.protected("GET /get_predictions", s.handlePredictions)
	s.protected("GET /get_packets", s.handlePackets)
	s.protected("GET /download_csv", s.handleDownloadCSV)
	s.protected("GET /capture_status", s.handleStatus)
	s.protected("GET /interfaces", s.handleInterfaces)
	s.protected("GET /ws/predictions", s.handleStream)

	if s.cfg.Server.Pprof {
		s.mux.Handle("GET /debug/pprof/", s.auth.require(profiling.Handler()))
	}

	if dir := s.cfg.Paths.StaticDir; dir != "" {
		s.mux.Handle("GET /", s.auth.require(http.FileServer(http.Dir(dir))))
	} else {
		s.open("GET /{$}", s.handleIndex)
	}
}

func (s *Server) open(pattern string, h http.HandlerFunc) {
	s.mux.Handle(pattern, instrument(pattern, h))
}

func (s *Server) protected(pattern string, h http.HandlerFunc) {
	s.mux.Handle(pattern, instrument(pattern, s.auth.require(h)))
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Run serves on the configured address until ctx is cancelled, then shuts
// down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Server.ListenAddr)
	if err != nil {
		return fmt.Errorf("api: listen on %s: %w", s.cfg.Server.ListenAddr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.mux,
		ReadTimeout:       s.cfg.Server.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      s.cfg.Server.WriteTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http server listening", "addr", ln.Addr().String(), "auth", s.auth.Enabled())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	timeout := s.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	s.log.Info("http server shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("api: shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleIndex(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"service": "optimizing-ids",
		"version": Version,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":       "ok",
		"version":      Version,
		"uptime":       time.Since(s.started).Round(time.Second).String(),
		"capturing":    s.monitor.IsCapturing(),
		"model_loaded": s.monitor.ModelLoaded(),
	})
}
