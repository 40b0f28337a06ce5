// Package server exposes the aggregator over a JSON HTTP API.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nimora/nimora/internal/auth"
	"github.com/nimora/nimora/internal/metrics"
	"github.com/nimora/nimora/pkg/aggregator"
	"github.com/sirupsen/logrus"
)

const shutdownTimeout = 10 * time.Second

type Options struct {
	Service *aggregator.Service
	Signer  auth.Signer
	// AuthRequired puts the data endpoints behind a bearer token whose
	// subject must match the roll number of the request.
	AuthRequired bool
	RateLimit    int                 // requests per minute per client IP, 0 = unlimited
	Metrics      *metrics.Collectors // optional
	Log          *logrus.Logger
	Release      bool
	// AllowOrigins are the CORS origins answered with credentials allowed;
	// empty or "*" allows any origin without credentials.
	AllowOrigins []string
}

type Server struct {
	svc          *aggregator.Service
	signer       auth.Signer
	authRequired bool
	metrics      *metrics.Collectors
	log          *logrus.Logger
	router       *gin.Engine
}

func New(opts Options) *Server {
	if opts.Release {
		gin.SetMode(gin.ReleaseMode)
	}
	registerValidations()

	s := &Server{
		svc:          opts.Service,
		signer:       opts.Signer,
		authRequired: opts.AuthRequired,
		metrics:      opts.Metrics,
		log:          opts.Log,
	}
	if s.log == nil {
		s.log = logrus.New()
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestID())
	r.Use(requestLogger(s.log, "/healthz", "/metrics"))
	r.Use(corsMiddleware(opts.AllowOrigins))
	r.Use(securityHeaders())
	if s.metrics != nil {
		r.Use(requestMetrics(s.metrics))
	}
	if opts.RateLimit > 0 {
		r.Use(NewTokenBucket(opts.RateLimit, opts.RateLimit).GinMiddleware())
	}

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if s.metrics != nil {
		r.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}

	api := r.Group("/api")
	api.POST("/auth/login", s.handleLogin)
	api.POST("/auth/refresh", s.handleRefresh)

	data := api.Group("")
	if s.authRequired {
		data.Use(auth.Bearer(s.signer))
	}
	data.POST("/attendance", s.handleAttendance)
	data.POST("/cgpa", s.handleCGPA)
	data.POST("/internals", s.handleInternals)
	data.POST("/exam-schedule", s.handleExamSchedule)
	data.POST("/user-info", s.handleUserInfo)
	data.POST("/feedback", s.handleFeedback)
	data.DELETE("/cache", s.handleInvalidate)

	s.router = r
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves on addr until ctx is done, then drains in-flight requests.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Infof("Starting server on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.log.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}
