// Package api exposes the HTTP surface: the action endpoints consumed by the
// device client and the v1 read APIs. All handlers delegate to pkg/services;
// the only logic here is binding, identity, and error mapping.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// HealthCheck is one named dependency probe run by the health endpoint.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// Services bundles the application services the server fronts.
type Services struct {
	Events         EventsAPI
	Transcriptions TranscriptionsAPI
	Insights       InsightsAPI
	Batches        BatchesAPI
	Reflections    ReflectionsAPI
}

// Server is the HTTP server.
type Server struct {
	svc    Services
	checks []HealthCheck
	logger *slog.Logger
	http   *http.Server
}

// NewServer creates the server. Every service must be set.
func NewServer(svc Services, checks []HealthCheck, logger *slog.Logger) *Server {
	if svc.Events == nil || svc.Transcriptions == nil || svc.Insights == nil ||
		svc.Batches == nil || svc.Reflections == nil {
		panic("api.NewServer: all services must be set")
	}
	return &Server{svc: svc, checks: checks, logger: logger.With("component", "api")}
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/api/v1/health", s.handleHealth)

	authed := router.Group("/", requireUsername())
	{
		authed.POST("/action/analyze/incremental/v1/", s.handleAnalyzeIncremental)
		authed.POST("/action/analyze/events/get/v1/", s.handleGetEvents)
		authed.GET("/action/get_events_by_date/v1/", s.handleEventsByDate)
		authed.GET("/api/insights/mental-state", s.handleMentalState)
		authed.GET("/api/v1/transcriptions", s.handleListTranscriptions)
		authed.GET("/api/v1/reflections", s.handleGetReflection)
		authed.POST("/api/v1/batches/:id/retry", s.handleRetryBatch)
	}
	return router
}

// Start serves on addr until the listener fails or Shutdown is called.
func (s *Server) Start(addr string) error {
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("http server listening", "addr", addr)
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	status := http.StatusOK
	deps := gin.H{}
	for _, check := range s.checks {
		if err := check.Check(ctx); err != nil {
			status = http.StatusServiceUnavailable
			deps[check.Name] = err.Error()
			continue
		}
		deps[check.Name] = "ok"
	}

	body := gin.H{"status": "healthy", "dependencies": deps}
	if status != http.StatusOK {
		body["status"] = "unhealthy"
	}
	c.JSON(status, body)
}
