package api

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/nikitakiselev/pushbot/internal/broadcaster"
	"github.com/nikitakiselev/pushbot/internal/core"
	"github.com/nikitakiselev/pushbot/internal/metrics"
	"github.com/nikitakiselev/pushbot/internal/registry"
	"github.com/nikitakiselev/pushbot/internal/scheduler"
	"github.com/nikitakiselev/pushbot/internal/webhook"
)

// Store is the subset of the persistence gateway the HTTP surface needs.
type Store interface {
	GetDeployment(ctx context.Context, id int64) (*core.Deployment, error)
	ListRecent(ctx context.Context, limit int, status *core.DeploymentStatus) ([]*core.Deployment, error)
	ListActive(ctx context.Context) ([]*core.DeploymentWithService, error)
	PurgeTerminal(ctx context.Context) (int64, error)
	ListServices(ctx context.Context) ([]*core.Service, error)
	GetServiceByID(ctx context.Context, id int64) (*core.Service, error)
}

// Server is the thin HTTP binding over the deployment engine
// (spec.md §4.G).
type Server struct {
	router      *gin.Engine
	handlers    *handlers
	logger      *zap.Logger
}

// Config configures the HTTP surface.
type Config struct {
	WebhookSecret string
}

// NewServer wires every spec.md §4.G route.
func NewServer(cfg Config, store Store, reg *registry.Registry, sched *scheduler.Scheduler, bc *broadcaster.Broadcaster, logger *zap.Logger) *Server {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestID())
	router.Use(requestLogger(logger))
	router.Use(metrics.HTTPMiddleware())

	h := &handlers{
		store:         store,
		registry:      reg,
		scheduler:     sched,
		broadcaster:   bc,
		webhookSecret: cfg.WebhookSecret,
		logger:        logger,
	}

	s := &Server{router: router, handlers: h, logger: logger}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handlers.Health)
	s.router.GET("/metrics", metrics.Handler())

	s.router.POST("/", s.handlers.Webhook)
	s.router.POST("/webhook", s.handlers.Webhook)

	api := s.router.Group("/api")
	{
		api.POST("/services/:id/deploy", s.handlers.ManualDeploy)
		api.GET("/services", s.handlers.ListServices)
		api.GET("/deployments/active", s.handlers.ListActiveDeployments)
		api.GET("/deployments", s.handlers.ListDeployments)
		api.GET("/deployments/:id", s.handlers.GetDeployment)
		api.GET("/deployments/:id/logs", s.handlers.StreamLogs)
		api.POST("/deployments/clear", s.handlers.ClearTerminal)
	}
}

// Router exposes the underlying engine, e.g. for httptest in tests.
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Run starts the HTTP listener.
func (s *Server) Run(addr string) error {
	s.logger.Info("starting HTTP surface", zap.String("addr", addr))
	return s.router.Run(addr)
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.String("request_id", requestIDFrom(c)),
			zap.Duration("latency", time.Since(start)),
		)
	}
}

// ensure webhook.ServiceLookup is satisfied by *registry.Registry at
// compile time.
var _ webhook.ServiceLookup = (*registry.Registry)(nil)
