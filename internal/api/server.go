// Package api serves the camkeeper HTTP surface: status, settings and
// commands, the recording catalog, SSE event and log streams, Prometheus
// metrics and the HLS ring.
package api

import (
	"context"
	"encoding/base64"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"

	"github.com/smazurov/camkeeper/internal/api/models"
	"github.com/smazurov/camkeeper/internal/catalog"
	"github.com/smazurov/camkeeper/internal/config"
	"github.com/smazurov/camkeeper/internal/control"
	"github.com/smazurov/camkeeper/internal/events"
	"github.com/smazurov/camkeeper/internal/logging"
	"github.com/smazurov/camkeeper/internal/merge"
	"github.com/smazurov/camkeeper/internal/status"
	"github.com/smazurov/camkeeper/internal/version"
)

// Reporter builds the status report.
type Reporter interface {
	Report(ctx context.Context) status.Report
}

// Catalog lists recorded sessions.
type Catalog interface {
	Sessions(ctx context.Context, limit int) ([]catalog.Session, error)
	Session(ctx context.Context, id string) (*catalog.Session, error)
}

// Merges exposes the merge queue.
type Merges interface {
	Pending() int
	Current() (merge.Job, bool)
	History() []merge.Outcome
}

// Settings reads the current runtime settings.
type Settings interface {
	Snapshot() config.Settings
}

// Services reports systemd unit state.
type Services interface {
	ServiceStatus(ctx context.Context, unit string) (string, error)
}

// Options configures the server. Routes whose collaborator is nil are not
// registered.
type Options struct {
	AuthUsername string
	AuthPassword string

	Dispatcher *control.Dispatcher
	Settings   Settings
	Reporter   Reporter
	Catalog    Catalog
	Merges     Merges
	Bus        *events.Bus
	Services   Services
	Unit       string

	MetricsHandler http.Handler
	HLSDir         string
}

// Server is the huma API server.
type Server struct {
	api        huma.API
	mux        *http.ServeMux
	httpServer *http.Server
	options    *Options
	logger     *slog.Logger
}

// NewServer creates the API server using Go 1.22+ native routing.
func NewServer(opts *Options) *Server {
	mux := http.NewServeMux()

	corsConfig := DefaultCORSConfig()
	AddCORSHandler(mux, corsConfig)

	config := huma.DefaultConfig("camkeeper API", version.Version)
	config.Info.Description = "Recording sessions, live feeds and settings of a camkeeper camera"
	// relative paths so the docs work behind any host
	config.Servers = []*huma.Server{}
	config.Components.SecuritySchemes = map[string]*huma.SecurityScheme{
		"basicAuth": {
			Type:   "http",
			Scheme: "basic",
		},
	}

	api := humago.New(mux, config)

	server := &Server{
		api:     api,
		mux:     mux,
		options: opts,
		logger:  logging.GetLogger("api"),
	}

	api.UseMiddleware(NewCORSMiddleware(corsConfig))
	api.UseMiddleware(HTTPLoggingMiddleware)
	if opts.AuthUsername != "" && opts.AuthPassword != "" {
		api.UseMiddleware(server.basicAuthMiddleware(opts.AuthUsername, opts.AuthPassword))
	}

	// scraped without auth
	if opts.MetricsHandler != nil {
		mux.Handle("GET /metrics", opts.MetricsHandler)
	}
	if opts.HLSDir != "" {
		mux.Handle("GET /hls/", server.hlsHandler(opts.HLSDir))
	}

	server.registerRoutes()
	return server
}

// Handler returns the root handler, used by tests and custom listeners.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// API returns the huma API instance.
func (s *Server) API() huma.API {
	return s.api
}

// Start serves on addr until Stop is called.
func (s *Server) Start(addr string) error {
	s.logger.Info("Starting camkeeper API server", "addr", addr)
	s.logger.Info("OpenAPI documentation available", "url", "http://"+addr+"/docs")

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s.httpServer.ListenAndServe()
}

// Stop closes the listener and all connections. SSE streams would keep a
// graceful shutdown waiting, so connections are not drained.
func (s *Server) Stop() error {
	s.logger.Info("Stopping API server")
	if s.httpServer != nil {
		return s.httpServer.Close()
	}
	return nil
}

func (s *Server) basicAuthMiddleware(username, password string) func(huma.Context, func(huma.Context)) {
	return func(ctx huma.Context, next func(huma.Context)) {
		op := ctx.Operation()
		if op != nil && len(op.Security) == 0 {
			next(ctx)
			return
		}

		credentials, ok := s.credentials(ctx)
		if !ok {
			return
		}
		user, pass, found := strings.Cut(credentials, ":")
		if !found || user != username || pass != password {
			s.unauthorized(ctx, "Invalid credentials")
			return
		}
		next(ctx)
	}
}

// credentials reads the Authorization header, or the "auth" query
// parameter EventSource clients have to use instead.
func (s *Server) credentials(ctx huma.Context) (string, bool) {
	encoded := ctx.Query("auth")
	if header := ctx.Header("Authorization"); header != "" {
		const prefix = "Basic "
		if !strings.HasPrefix(header, prefix) {
			s.unauthorized(ctx, "Invalid authentication type")
			return "", false
		}
		encoded = header[len(prefix):]
	}
	if encoded == "" {
		s.unauthorized(ctx, "Authentication required")
		return "", false
	}
	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		s.unauthorized(ctx, "Invalid credentials format", err)
		return "", false
	}
	return string(decoded), true
}

func (s *Server) unauthorized(ctx huma.Context, msg string, errs ...error) {
	ctx.SetHeader("WWW-Authenticate", `Basic realm="camkeeper"`)
	_ = huma.WriteErr(s.api, ctx, http.StatusUnauthorized, msg, errs...)
}

func (s *Server) registerRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "health-check",
		Method:      http.MethodGet,
		Path:        "/api/health",
		Summary:     "Health",
		Description: "Check API health status",
		Tags:        []string{"health"},
		Security:    []map[string][]string{}, // no auth
	}, func(_ context.Context, _ *struct{}) (*models.HealthResponse, error) {
		return &models.HealthResponse{
			Body: models.HealthData{Status: "ok", Message: "API is healthy"},
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
	}, func(_ context.Context, _ *struct{}) (*models.VersionResponse, error) {
		return &models.VersionResponse{Body: version.Get()}, nil
	})

	s.registerControlRoutes()
	s.registerRecordingRoutes()
	s.registerSystemdRoutes()
	s.registerSSERoutes()
	s.registerLogRoutes()
}

// withAuth returns security requirement for basic auth
func withAuth() []map[string][]string {
	return []map[string][]string{
		{"basicAuth": {}},
	}
}
