package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/inferloop/aidrin/internal/api/handlers"
	"github.com/inferloop/aidrin/pkg/constants"
)

// RequestRecorder receives per-request metrics.
type RequestRecorder interface {
	RecordHTTPRequest(method, path, status string, duration time.Duration)
	RecordError(component, errorType string)
}

// Server represents the HTTP server
type Server struct {
	httpServer *http.Server
	router     *mux.Router
	logger     *logrus.Logger
	config     *Config
	deps       *Dependencies
}

// Config contains server configuration
type Config struct {
	Host            string        `json:"host" mapstructure:"host"`
	Port            int           `json:"port" mapstructure:"port"`
	ReadTimeout     time.Duration `json:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `json:"write_timeout" mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `json:"idle_timeout" mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout" mapstructure:"shutdown_timeout"`
	EnableCORS      bool          `json:"enable_cors" mapstructure:"enable_cors"`
	MaxRequestSize  int64         `json:"max_request_size" mapstructure:"max_request_size"`
	TLSCertFile     string        `json:"tls_cert_file,omitempty" mapstructure:"tls_cert_file"`
	TLSKeyFile      string        `json:"tls_key_file,omitempty" mapstructure:"tls_key_file"`
}

// Dependencies are the handlers and collaborators the routes need. Cache
// and Metrics are optional.
type Dependencies struct {
	Privacy *handlers.PrivacyHandler
	Cache   *handlers.CacheHandler
	Health  *handlers.HealthHandler
	Metrics RequestRecorder
}

// DefaultConfig returns the default server configuration
func DefaultConfig() *Config {
	return &Config{
		Host:            constants.DefaultHost,
		Port:            constants.DefaultPort,
		ReadTimeout:     constants.DefaultReadTimeout,
		WriteTimeout:    constants.DefaultWriteTimeout,
		IdleTimeout:     constants.DefaultIdleTimeout,
		ShutdownTimeout: constants.DefaultShutdownTimeout,
		EnableCORS:      true,
		MaxRequestSize:  constants.MaxUploadSize,
	}
}

// NewServer creates a new HTTP server instance
func NewServer(config *Config, deps *Dependencies, logger *logrus.Logger) (*Server, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = logrus.New()
	}
	if deps == nil || deps.Privacy == nil || deps.Health == nil {
		return nil, fmt.Errorf("privacy and health handlers are required")
	}

	s := &Server{
		router: mux.NewRouter(),
		logger: logger,
		config: config,
		deps:   deps,
	}

	s.setupMiddleware()
	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", config.Host, config.Port),
		Handler:      s.router,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}

	return s, nil
}

// Start serves until Stop is called. It returns nil after a clean shutdown.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Infof("Starting HTTP server on %s:%d", s.config.Host, s.config.Port)

	var err error
	if s.config.TLSCertFile != "" && s.config.TLSKeyFile != "" {
		s.logger.Info("Starting HTTPS server")
		err = s.httpServer.ListenAndServeTLS(s.config.TLSCertFile, s.config.TLSKeyFile)
	} else {
		err = s.httpServer.ListenAndServe()
	}
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server...")

	shutdownCtx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Errorf("Error shutting down HTTP server: %v", err)
		return err
	}

	s.logger.Info("HTTP server stopped")
	return nil
}

func (s *Server) setupRoutes() {
	apiRouter := s.router.PathPrefix(constants.APIPrefix).Subrouter()

	// Health endpoints
	s.router.HandleFunc("/health", s.deps.Health.GetHealth).Methods(s.methods(http.MethodGet)...)
	s.router.HandleFunc("/health/ready", s.deps.Health.GetReadiness).Methods(s.methods(http.MethodGet)...)
	s.router.HandleFunc("/health/live", s.deps.Health.GetLiveness).Methods(s.methods(http.MethodGet)...)
	s.router.HandleFunc("/version", s.deps.Health.GetVersion).Methods(s.methods(http.MethodGet)...)

	// Privacy metrics
	apiRouter.HandleFunc("/privacy/metrics", s.deps.Privacy.ListMetrics).Methods(s.methods(http.MethodGet)...)
	apiRouter.HandleFunc("/privacy/{metric}", s.deps.Privacy.SubmitMetric).Methods(s.methods(http.MethodPost)...)
	apiRouter.HandleFunc("/tasks/{id}", s.deps.Privacy.GetTask).Methods(s.methods(http.MethodGet)...)

	// Result cache
	if s.deps.Cache != nil {
		apiRouter.HandleFunc("/cache/stats", s.deps.Cache.GetStats).Methods(s.methods(http.MethodGet)...)
		apiRouter.HandleFunc("/cache", s.deps.Cache.Clear).Methods(s.methods(http.MethodDelete)...)
	}

	for _, r := range []*mux.Router{s.router, apiRouter} {
		r.NotFoundHandler = http.HandlerFunc(notFound)
		r.MethodNotAllowedHandler = http.HandlerFunc(methodNotAllowed)
	}
}

// methods adds OPTIONS to a route when CORS is on so that preflights reach
// corsMiddleware.
func (s *Server) methods(methods ...string) []string {
	if s.config.EnableCORS {
		methods = append(methods, http.MethodOptions)
	}
	return methods
}

func (s *Server) setupMiddleware() {
	s.router.Use(s.requestIDMiddleware)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(s.recoveryMiddleware)
	if s.deps.Metrics != nil {
		s.router.Use(s.metricsMiddleware)
	}
	if s.config.EnableCORS {
		s.router.Use(s.corsMiddleware)
	}
	s.router.Use(s.requestSizeLimitMiddleware)
	s.router.Use(s.securityHeadersMiddleware)
}

// Handler returns the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	return s.router
}

// GetConfig returns the server configuration
func (s *Server) GetConfig() *Config {
	return s.config
}
