package api

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/leozw/store-monitor/internal/api/handlers"
	"github.com/leozw/store-monitor/internal/api/middleware"
	"github.com/leozw/store-monitor/internal/config"
)

type Server struct {
	Config   config.ServerConfig
	Router   *gin.Engine
	handler  *handlers.Handler
	gatherer prometheus.Gatherer
}

func NewServer(cfg config.ServerConfig, handler *handlers.Handler, gatherer prometheus.Gatherer, logger *zap.Logger) *Server {
	gin.SetMode(cfg.Mode)
	router := gin.New()

	router.Use(middleware.Logger(logger))
	router.Use(gin.Recovery())
	router.Use(middleware.CORS())

	server := &Server{
		Config:   cfg,
		Router:   router,
		handler:  handler,
		gatherer: gatherer,
	}

	server.setupRoutes()
	return server
}

func (s *Server) setupRoutes() {
	s.Router.GET("/health", s.handler.Health)
	s.Router.GET("/ready", s.handler.Ready)
	if s.gatherer != nil {
		s.Router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	}

	reports := s.Router.Group("/")
	reports.Use(middleware.NewRateLimiter(s.Config.RateLimit, s.Config.RateBurst).Middleware())
	if s.Config.JWTSecret != "" {
		reports.Use(middleware.AuthRequired(s.Config.JWTSecret))
	}
	{
		reports.POST("/trigger_report", s.handler.TriggerReport)
		reports.GET("/get_report", s.handler.GetReport)
		reports.GET("/reports/:id/download", s.handler.DownloadReport)
	}
}
