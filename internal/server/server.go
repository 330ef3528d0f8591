// Package server provides the HTTP server for the OpenCode API.
package server

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog/log"

	"github.com/mirabackend/mira/internal/capture"
	"github.com/mirabackend/mira/internal/event"
	"github.com/mirabackend/mira/internal/memory"
	"github.com/mirabackend/mira/internal/patterns"
	"github.com/mirabackend/mira/internal/permission"
	"github.com/mirabackend/mira/internal/project"
	"github.com/mirabackend/mira/internal/provider"
	"github.com/mirabackend/mira/internal/router"
	"github.com/mirabackend/mira/internal/session"
	"github.com/mirabackend/mira/internal/storage"
	"github.com/mirabackend/mira/internal/vcs"
	"github.com/mirabackend/mira/pkg/types"
)

// Config holds server configuration.
type Config struct {
	Port         int
	Directory    string
	EnableCORS   bool
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	SearchURL    string // SearXNG-compatible JSON search endpoint for web_search
}

// DefaultConfig returns default server configuration.
func DefaultConfig() *Config {
	return &Config{
		Port:         8080,
		Directory:    "",
		EnableCORS:   true,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // No write timeout for SSE
	}
}

// Server is the HTTP server.
type Server struct {
	config         *Config
	router         *chi.Mux
	httpSrv        *http.Server
	appConfig      *types.Config
	storage        *storage.Store
	sessionService *session.Service
	projectService *project.Service
	providerReg    *provider.Registry
	toolRouter     *router.Router
	permChecker    *permission.Checker
	bus            *event.Bus
	vcsWatcher     *vcs.Watcher
}

// New creates a new Server instance.
func New(cfg *Config, appConfig *types.Config, store *storage.Store, providerReg *provider.Registry, permChecker *permission.Checker) *Server {
	r := chi.NewRouter()

	// Parse default provider and model from config
	// Format: "provider/model" (e.g., "ark/ep-xxx" or "anthropic/claude-sonnet-4-20250514")
	var defaultProviderID, defaultModelID string
	if appConfig != nil && appConfig.Model != "" {
		parts := strings.SplitN(appConfig.Model, "/", 2)
		if len(parts) == 2 {
			defaultProviderID = parts[0]
			defaultModelID = parts[1]
		}
	}

	if permChecker == nil {
		permChecker = permission.NewChecker()
	}

	fileHandler := router.NewFileHandler(cfg.Directory)
	gitHandler := router.NewGitHandler(fileHandler)
	codeIntel := router.NewCodeIntelHandler(store)
	external := router.NewExternalHandler(cfg.Directory, cfg.SearchURL, permChecker)
	toolRouter := router.New(fileHandler, gitHandler, codeIntel, external)

	mem := memory.New(store)
	pat := patterns.New(store)
	summarizer := session.NewSummarizer(store, providerReg)
	captureHook := capture.New(mem)
	contextAssembler := session.NewContextAssembler(store, mem, pat, toolRouter, summarizer, nil)

	s := &Server{
		config:         cfg,
		router:         r,
		appConfig:      appConfig,
		storage:        store,
		providerReg:    providerReg,
		toolRouter:     toolRouter,
		permChecker:    permChecker,
		bus:            event.NewBus(),
		projectService: project.NewService(cfg.Directory),
	}
	if appConfig != nil {
		session.SetBudgetConfig(appConfig.Budget)
	}
	s.sessionService = session.NewServiceWithProcessor(store, providerReg, toolRouter, permChecker, summarizer, contextAssembler, captureHook, defaultProviderID, defaultModelID)

	if cfg.Directory != "" {
		if project, err := store.UpsertProject(context.Background(), ulid.Make().String(), cfg.Directory, ""); err == nil {
			if watcher, err := vcs.NewWatcher(cfg.Directory, store, project.ID); err == nil && watcher != nil {
				watcher.Start()
				s.vcsWatcher = watcher
			}
		} else {
			log.Warn().Err(err).Str("directory", cfg.Directory).Msg("failed to upsert project for VCS watcher")
		}
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

// setupMiddleware configures middleware for the server.
func (s *Server) setupMiddleware() {
	// Request ID
	s.router.Use(middleware.RequestID)

	// Logging
	s.router.Use(middleware.Logger)

	// Recover from panics
	s.router.Use(middleware.Recoverer)

	// Real IP
	s.router.Use(middleware.RealIP)

	// CORS
	if s.config.EnableCORS {
		s.router.Use(cors.Handler(cors.Options{
			AllowedOrigins:   []string{"*"},
			AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
			ExposedHeaders:   []string{"Link", "X-Request-ID"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	// Instance context
	s.router.Use(s.instanceContext)
}

// instanceContext middleware injects directory into context.
func (s *Server) instanceContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Get directory from query or use default
		dir := r.URL.Query().Get("directory")
		if dir == "" {
			dir = s.config.Directory
		}

		ctx := context.WithValue(r.Context(), contextKeyDirectory, dir)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.httpSrv = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Port),
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	return s.httpSrv.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.vcsWatcher != nil {
		if err := s.vcsWatcher.Stop(); err != nil {
			log.Warn().Err(err).Msg("error stopping VCS watcher")
		}
	}
	return s.httpSrv.Shutdown(ctx)
}

// Router returns the Chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Context keys
type contextKey string

const (
	contextKeyDirectory contextKey = "directory"
)

// getDirectory returns the directory from context.
func getDirectory(ctx context.Context) string {
	if dir, ok := ctx.Value(contextKeyDirectory).(string); ok {
		return dir
	}
	return ""
}
