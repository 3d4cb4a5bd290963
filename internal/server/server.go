package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/dataprep-studio/annotation-engine/internal/config"
	"github.com/dataprep-studio/annotation-engine/internal/feedback"
	"github.com/dataprep-studio/annotation-engine/internal/logger"
	"github.com/dataprep-studio/annotation-engine/internal/mldetect"
	"github.com/dataprep-studio/annotation-engine/internal/refine"
	"github.com/dataprep-studio/annotation-engine/internal/session"
	"github.com/dataprep-studio/annotation-engine/internal/web"
	"github.com/dataprep-studio/annotation-engine/internal/ws"
)

// Server hosts the annotation studio: session endpoints, the feedback store
// API, and the WebSocket event stream.
type Server struct {
	config   *config.Config
	logger   *logger.Logger
	router   *mux.Router
	server   *http.Server
	wsHub    *ws.Hub
	detector *mldetect.Detector

	// store is what sessions submit feedback through; localStore is non-nil
	// only in local mode and additionally exposes pattern persistence.
	store      feedback.Submitter
	localStore *feedback.Store
	cache      *refine.Cache

	mu       sync.RWMutex
	sessions map[string]*session.Controller
}

// New creates a new annotation server instance
func New(cfg *config.Config, log *logger.Logger) (*Server, error) {
	var (
		store      feedback.Submitter
		localStore *feedback.Store
	)
	switch cfg.Feedback.Mode {
	case "local":
		s, err := feedback.NewStore(&cfg.Feedback.Database, log.WithComponent("feedback").Logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open feedback store: %w", err)
		}
		store, localStore = s, s
	case "remote":
		store = feedback.NewClient(&cfg.Feedback.Remote, log.WithComponent("feedback").Logger)
	}

	var cache *refine.Cache
	if cfg.Cache.Enabled {
		c, err := refine.NewCache(&cfg.Cache.Redis, log.WithComponent("cache").Logger)
		if err != nil {
			return nil, fmt.Errorf("failed to connect refinement cache: %w", err)
		}
		cache = c
	}

	var detector *mldetect.Detector
	if cfg.Detection.Enabled {
		detector = mldetect.New(&cfg.Detection, log.WithComponent("mldetect").Logger)
	}

	server := &Server{
		config:     cfg,
		logger:     log.WithComponent("server"),
		router:     mux.NewRouter(),
		wsHub:      ws.NewHub(log.WithComponent("ws").Logger),
		detector:   detector,
		store:      store,
		localStore: localStore,
		cache:      cache,
		sessions:   make(map[string]*session.Controller),
	}

	server.setupRoutes()

	server.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      server.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return server, nil
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	// Health check endpoint
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")

	// Info endpoint
	s.router.HandleFunc("/info", s.handleInfo).Methods("GET")

	// Studio page - embedded HTML
	s.router.HandleFunc("/", web.ServeStudio).Methods("GET")
	s.router.HandleFunc("/studio", web.ServeStudio).Methods("GET")

	// WebSocket endpoint for studio clients
	if s.config.WebSocket.Enabled {
		path := s.config.WebSocket.Path
		if path == "" {
			path = "/ws"
		}
		s.router.HandleFunc(path, s.handleWebSocket).Methods("GET")
	}

	api := s.router.PathPrefix("/api").Subrouter()
	api.Use(s.loggingMiddleware)
	api.Use(s.rateLimitMiddleware)

	// Annotation sessions
	api.HandleFunc("/sessions", s.handleCreateSession).Methods("POST")
	api.HandleFunc("/sessions/{id}", s.handleGetSession).Methods("GET")
	api.HandleFunc("/sessions/{id}", s.handleCloseSession).Methods("DELETE")
	api.HandleFunc("/sessions/{id}/selection", s.handleSetSelection).Methods("POST")
	api.HandleFunc("/sessions/{id}/examples", s.handleAddExample).Methods("POST")
	api.HandleFunc("/sessions/{id}/examples", s.handleRemoveExample).Methods("DELETE")
	api.HandleFunc("/sessions/{id}/patterns", s.handleAddCustomPattern).Methods("POST")
	api.HandleFunc("/sessions/{id}/patterns/{patternId}", s.handleRemovePattern).Methods("DELETE")
	api.HandleFunc("/sessions/{id}/navigate", s.handleNavigate).Methods("POST")
	api.HandleFunc("/sessions/{id}/detect", s.handleDetect).Methods("POST")
	api.HandleFunc("/sessions/{id}/ml-view", s.handleMLView).Methods("POST")
	api.HandleFunc("/sessions/{id}/highlights", s.handleHighlights).Methods("GET")
	api.HandleFunc("/sessions/{id}/matches", s.handleMatches).Methods("GET")
	api.HandleFunc("/sessions/{id}/feedback", s.handleSessionFeedback).Methods("POST")
	api.HandleFunc("/sessions/{id}/finalize", s.handleFinalize).Methods("POST")

	// Feedback store API (local mode only)
	api.HandleFunc("/pattern-feedback", s.handlePatternFeedback).Methods("POST")
	api.HandleFunc("/patterns/refined", s.handleRefinedPatterns).Methods("GET")
	api.HandleFunc("/patterns/refined/{patternId}", s.handleRefinedPattern).Methods("GET")
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("Starting annotation server",
		zap.Int("port", s.config.Server.Port),
		zap.String("feedback_mode", s.config.Feedback.Mode),
		zap.Bool("detection_enabled", s.config.Detection.Enabled),
		zap.Bool("cache_enabled", s.config.Cache.Enabled),
	)

	// Start WebSocket hub in a separate goroutine
	go s.wsHub.Run()

	return s.server.ListenAndServe()
}

// Stop gracefully stops the HTTP server and releases backing resources
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping annotation server")

	if err := s.server.Shutdown(ctx); err != nil {
		return err
	}

	if s.cache != nil {
		if err := s.cache.Close(); err != nil {
			s.logger.Warn("Failed to close refinement cache", zap.Error(err))
		}
	}
	if s.detector != nil {
		if err := s.detector.Close(); err != nil {
			s.logger.Warn("Failed to close detector", zap.Error(err))
		}
	}
	if s.localStore != nil {
		return s.localStore.Close()
	}
	return nil
}

// handleWebSocket handles WebSocket connections for the studio
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	s.wsHub.HandleWebSocket(w, r)
}

// GetWebSocketHub returns the WebSocket hub for broadcasting events
func (s *Server) GetWebSocketHub() *ws.Hub {
	return s.wsHub
}

func (s *Server) getSession(id string) *session.Controller {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessions[id]
}
