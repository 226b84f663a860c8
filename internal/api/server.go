package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"

	"github.com/smazurov/compositor/internal/api/models"
	"github.com/smazurov/compositor/internal/encoders"
	"github.com/smazurov/compositor/internal/engine"
	"github.com/smazurov/compositor/internal/layout"
	"github.com/smazurov/compositor/internal/logging"
	"github.com/smazurov/compositor/internal/version"
)

// Options configures the API server.
type Options struct {
	AuthUsername string
	AuthPassword string

	Engine   *engine.Engine
	Layout   *layout.Store      // optional, enables saving the layout
	Encoders *encoders.Detector // optional, defaults to probing ffmpeg

	PrometheusHandler http.Handler // optional metrics handler
}

// Server is the HTTP control surface of the engine.
type Server struct {
	api        huma.API
	mux        *http.ServeMux
	httpServer *http.Server
	engine     *engine.Engine
	options    *Options
	logger     *slog.Logger

	// Offscreen surfaces of displays created over HTTP.
	mu       sync.Mutex
	surfaces map[string]*engine.Headless
}

// NewServer creates the API server on a Go 1.22+ ServeMux.
func NewServer(opts *Options) *Server {
	mux := http.NewServeMux()

	corsConfig := DefaultCORSConfig()
	AddCORSHandler(mux, corsConfig)

	config := huma.DefaultConfig("Compositor API", version.Version)
	config.Info.Description = "Scene composition, switching and RTMP publishing"
	config.Servers = []*huma.Server{}
	config.Components.SecuritySchemes = map[string]*huma.SecurityScheme{
		"basicAuth": {
			Type:   "http",
			Scheme: "basic",
		},
	}

	api := humago.New(mux, config)

	if opts.Encoders == nil {
		opts.Encoders = encoders.NewDetector()
	}
	server := &Server{
		api:      api,
		mux:      mux,
		engine:   opts.Engine,
		options:  opts,
		logger:   logging.GetLogger("api"),
		surfaces: make(map[string]*engine.Headless),
	}

	api.UseMiddleware(NewCORSMiddleware(corsConfig))
	api.UseMiddleware(HTTPLoggingMiddleware)
	if opts.AuthUsername != "" && opts.AuthPassword != "" {
		api.UseMiddleware(server.basicAuthMiddleware(opts.AuthUsername, opts.AuthPassword))
	}

	// Registered on the mux directly so it stays outside auth.
	if opts.PrometheusHandler != nil {
		mux.Handle("GET /metrics", opts.PrometheusHandler)
	}

	server.registerRoutes()
	return server
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// GetAPI returns the Huma API instance.
func (s *Server) GetAPI() huma.API {
	return s.api
}

// Start serves HTTP on addr until Stop is called.
func (s *Server) Start(addr string) error {
	s.logger.Info("Starting compositor API server", "addr", addr)
	s.logger.Info("OpenAPI documentation available", "url", "http://"+addr+"/docs")

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop shuts the server down. Streaming responses are cut off when ctx
// expires.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping API server")
	if s.httpServer == nil {
		return nil
	}
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return s.httpServer.Close()
	}
	return nil
}

func (s *Server) registerRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "health-check",
		Method:      http.MethodGet,
		Path:        "/api/health",
		Summary:     "Health",
		Description: "Check API health status",
		Tags:        []string{"health"},
		Security:    []map[string][]string{},
	}, func(ctx context.Context, input *struct{}) (*models.HealthResponse, error) {
		return &models.HealthResponse{
			Body: models.HealthData{
				Status:  "ok",
				Message: "API is healthy",
				Engine:  s.engine.Running(),
			},
		}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-version",
		Method:      http.MethodGet,
		Path:        "/api/version",
		Summary:     "Version",
		Description: "Get application version information",
		Tags:        []string{"system"},
		Security:    []map[string][]string{},
	}, func(ctx context.Context, input *struct{}) (*models.VersionResponse, error) {
		v := version.Get()
		return &models.VersionResponse{
			Body: models.VersionData{
				Version:   v.Version,
				GitCommit: v.GitCommit,
				BuildDate: v.BuildDate,
				Modified:  v.Modified,
				GoVersion: v.GoVersion,
				Platform:  v.Platform,
			},
		}, nil
	})

	s.registerEngineRoutes()
	s.registerSceneRoutes()
	s.registerOutputRoutes()
	s.registerOverlayRoutes()
	s.registerAudioRoutes()
	s.registerDisplayRoutes()
	s.registerCaptureRoutes()
	s.registerLayoutRoutes()
	s.registerEncoderRoutes()
	s.registerSSERoutes()
	s.registerLogRoutes()
}

// withAuth returns security requirement for basic auth
func withAuth() []map[string][]string {
	return []map[string][]string{
		{"basicAuth": {}},
	}
}

// mapEngineError turns engine error codes into HTTP errors.
func mapEngineError(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	switch engine.Code(err) {
	case engine.CodeNotFound:
		return huma.Error404NotFound(msg, err)
	case engine.CodeAlreadyExists, engine.CodeAlreadyStarted:
		return huma.Error409Conflict(msg, err)
	case engine.CodeInvalidSettings:
		return huma.Error422UnprocessableEntity(msg, err)
	case engine.CodeNotStarted:
		return huma.Error503ServiceUnavailable(msg, err)
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return huma.NewError(http.StatusGatewayTimeout, "timed out", err)
	case errors.Is(err, context.Canceled):
		return huma.Error503ServiceUnavailable("request canceled", err)
	}
	return huma.Error500InternalServerError("internal server error", err)
}
