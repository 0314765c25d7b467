// Package api exposes the transcription jobs over HTTP.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/houzhh15/meetscribe/cmd/server/internal/jobs"
	"github.com/houzhh15/meetscribe/cmd/server/internal/middleware"
	"github.com/houzhh15/meetscribe/cmd/server/internal/orchestrator"
	"github.com/houzhh15/meetscribe/cmd/server/internal/summary"
	"github.com/houzhh15/meetscribe/pkg/logger"
)

// DefaultMaxUploadBytes caps a multipart upload.
const DefaultMaxUploadBytes int64 = 1 << 30

// Summarizer generates meeting minutes. *summary.Summarizer implements it.
type Summarizer interface {
	Summarize(ctx context.Context, transcript string, opts summary.Options) (*summary.Summary, error)
}

// Config holds the HTTP layer settings.
type Config struct {
	JWTSecret      []byte
	MaxUploadBytes int64
	// AllowedOrigins for the websocket upgrade. Empty accepts any origin.
	AllowedOrigins []string
}

// Server wires the handlers to their dependencies.
type Server struct {
	cfg        Config
	jobs       *jobs.Registry
	summarizer Summarizer // nil disables POST /summary
	provider   *orchestrator.Provider
	env        *orchestrator.EnvironmentChecker
	logger     *slog.Logger
	baseCtx    context.Context
	upgrader   websocket.Upgrader
	started    time.Time
}

// Option customizes a Server.
type Option func(*Server)

// WithSummarizer enables the summary endpoint.
func WithSummarizer(s Summarizer) Option {
	return func(srv *Server) { srv.summarizer = s }
}

// WithProvider enables the provider health endpoint.
func WithProvider(p *orchestrator.Provider) Option {
	return func(srv *Server) { srv.provider = p }
}

// WithEnvironment enables the environment check endpoint.
func WithEnvironment(e *orchestrator.EnvironmentChecker) Option {
	return func(srv *Server) { srv.env = e }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(srv *Server) { srv.logger = l }
}

// NewServer creates the API server. baseCtx scopes every submitted job.
func NewServer(baseCtx context.Context, cfg Config, reg *jobs.Registry, opts ...Option) *Server {
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = DefaultMaxUploadBytes
	}
	s := &Server{
		cfg:     cfg,
		jobs:    reg,
		baseCtx: baseCtx,
		started: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logger.OrDefault(s.logger).With("component", "api")
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	for _, o := range s.cfg.AllowedOrigins {
		if o == origin {
			return true
		}
	}
	return false
}

// Router builds the gin engine.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger(s.logger))

	// no authentication
	r.GET("/healthz", s.handleHealthz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/api/v1")
	v1.Use(middleware.BearerAuth(s.cfg.JWTSecret, s.logger))

	read := middleware.RequireScope(middleware.ScopeJobsRead)
	write := middleware.RequireScope(middleware.ScopeJobsWrite)

	v1.GET("/whisper/health", read, HandleWhisperHealthCheck(s.provider))
	v1.GET("/environment", read, s.handleEnvironment)
	v1.GET("/services/status", read, HandleServicesStatus(s.provider, s.summarizer, s.jobs))
	v1.GET("/models", read, s.handleListModels)

	v1.POST("/jobs", write, s.handleCreateJob)
	v1.GET("/jobs", read, s.handleListJobs)
	v1.GET("/jobs/:id", read, s.handleGetJob)
	v1.DELETE("/jobs/:id", write, s.handleCancelJob)
	v1.GET("/jobs/:id/progress/ws", read, s.handleProgressWS)
	v1.POST("/jobs/:id/summary", write, s.handleSummarize)
	return r
}

func (s *Server) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":         "ok",
		"uptime_seconds": int64(time.Since(s.started).Seconds()),
	})
}

func (s *Server) handleEnvironment(c *gin.Context) {
	if s.env == nil {
		errorResponse(c, http.StatusServiceUnavailable, "environment check not configured")
		return
	}
	successResponse(c, http.StatusOK, s.env.Check(c.Request.Context()))
}
