// Package rest is the HTTP surface of the daemon: machine status, realtime
// requests, homing, jogging and the live event socket.
package rest

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/KevinKickass/OpenMotionCore/internal/api/websocket"
	"github.com/KevinKickass/OpenMotionCore/internal/auth"
	"github.com/KevinKickass/OpenMotionCore/internal/interfaces"
)

type Server struct {
	router *gin.Engine
	core   interfaces.MotionCore
	logger *zap.Logger
	server *http.Server
	wsHub  *websocket.Hub
	// jwt is nil when authentication is disabled
	jwt *auth.JWTHandler
}

func NewServer(core interfaces.MotionCore, logger *zap.Logger, wsHub *websocket.Hub, jwt *auth.JWTHandler) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		router: gin.New(),
		core:   core,
		logger: logger,
		wsHub:  wsHub,
		jwt:    jwt,
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr:        fmt.Sprintf(":%d", core.Config().Server.HTTPPort),
		Handler:     s.router,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start() error {
	s.logger.Info("Starting REST API server", zap.String("address", s.server.Addr))
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Fatal("REST server failed", zap.Error(err))
		}
	}()
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down REST API server")
	return s.server.Shutdown(ctx)
}

func (s *Server) authenticated() gin.HandlerFunc {
	if s.jwt == nil {
		return auth.AllowAll()
	}
	return auth.Middleware(s.jwt)
}

func (s *Server) setupRoutes() {
	s.router.Use(gin.Recovery())
	s.router.Use(LoggerMiddleware(s.logger))
	s.router.Use(CORSMiddleware())

	// Public routes
	s.router.GET("/health", s.healthCheck)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := s.router.Group("/api/v1")
	{
		// ==================== MACHINE STATUS ====================
		machine := v1.Group("/machine")
		machine.Use(s.authenticated())
		{
			machine.GET("/status", s.getStatus)
			machine.GET("/alarm", s.getAlarm)
			machine.GET("/alarms", s.listAlarms)
			machine.GET("/limits", s.getLimits)
			machine.GET("/history/alarms", s.alarmHistory)
			machine.GET("/history/homing", s.homingHistory)

			// Motion: operator+
			motion := machine.Group("")
			motion.Use(auth.RequirePermission(auth.PermMotion))
			{
				motion.POST("/realtime/:signal", s.realtime)
				motion.POST("/overrides/:name", s.override)
				motion.POST("/macros/:n", s.macro)
				motion.POST("/jog", s.jog)
				motion.POST("/line", s.line)
			}

			// Homing and alarm release: technician+
			homing := machine.Group("")
			homing.Use(auth.RequirePermission(auth.PermHome))
			{
				homing.POST("/home", s.home)
				homing.POST("/unlock", s.unlock)
			}

			machine.POST("/check-mode", auth.RequirePermission(auth.PermSetup), s.toggleCheckMode)
		}

		// ==================== SYSTEM ====================
		system := v1.Group("/system")
		system.Use(s.authenticated())
		system.Use(auth.RequirePermission(auth.PermSetup))
		{
			system.GET("/topology", s.getTopology)
		}

		// ==================== WEBSOCKET (auth via first message) ====================
		ws := v1.Group("/ws")
		{
			ws.GET("/live", s.wsLiveConnection)
			ws.GET("/status", s.wsStatus)
		}
	}
}

func (s *Server) wsLiveConnection(c *gin.Context) {
	websocket.ServeWs(s.wsHub, c.Writer, c.Request)
}

func (s *Server) wsStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"connected_clients": s.wsHub.GetClientCount(),
	})
}

// Health check (public)
func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"state":     s.core.Reporter().Last().State,
		"timestamp": time.Now().Unix(),
	})
}
