package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/isdmx/scriptbox/config"
	"github.com/isdmx/scriptbox/sandbox"
)

const shutdownTimeout = 5 * time.Second

// Server is the REST transport of the script engine
type Server struct {
	config     *config.Config
	logger     *zap.Logger
	executor   sandbox.Executor
	router     *gin.Engine
	httpServer *http.Server
}

// New creates the REST server and registers its routes
func New(cfg *config.Config, logger *zap.Logger, executor sandbox.Executor, gatherer prometheus.Gatherer) *Server {
	if cfg.Logging.Mode != "development" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(requestLogger(logger))
	if cfg.RateLimit.Enabled {
		logger.Info("rate limiting enabled",
			zap.Float64("rps", cfg.RateLimit.RPS),
			zap.Int("burst", cfg.RateLimit.Burst),
		)
		router.Use(GlobalRateLimit(cfg.RateLimit.RPS, cfg.RateLimit.Burst))
	}

	s := &Server{
		config:   cfg,
		logger:   logger,
		executor: executor,
		router:   router,
	}

	router.GET("/runner", s.runQuery)
	router.POST("/runner", s.runJSON)
	router.GET("/healthz", s.health)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	return s
}

// Handler returns the HTTP handler of the server
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens on the configured REST port and serves in the background
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.config.Server.RESTPort)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	s.httpServer = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("starting REST server", zap.String("addr", ln.Addr().String()))

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("REST server stopped", zap.Error(err))
		}
	}()
	return nil
}

// Stop gracefully shuts the server down
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	s.logger.Info("stopping REST server")
	return s.httpServer.Shutdown(ctx)
}
