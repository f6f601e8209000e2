package handlers

import (
	"github.com/SAP-F-2025/live-session-service/internal/middleware"
	"github.com/SAP-F-2025/live-session-service/internal/services"
	"github.com/SAP-F-2025/live-session-service/internal/utils"
	"github.com/SAP-F-2025/live-session-service/internal/validator"
	"github.com/gin-gonic/gin"
)

type HandlerManager struct {
	sessionHandler *SessionHandler
	adminHandler   *AdminHandler
	wsHandler      *WSHandler
	authenticator  middleware.Authenticator
	logger         utils.Logger
}

func NewHandlerManager(
	serviceManager services.ServiceManager,
	validator *validator.Validator,
	authenticator middleware.Authenticator,
	sendBuffer int,
	logger utils.Logger,
) *HandlerManager {
	return &HandlerManager{
		sessionHandler: NewSessionHandler(serviceManager.Session(), serviceManager.Entitlement(), validator, logger),
		adminHandler:   NewAdminHandler(serviceManager.Session(), serviceManager.Export(), logger),
		wsHandler:      NewWSHandler(serviceManager.Session(), validator, sendBuffer, logger),
		authenticator:  authenticator,
		logger:         logger,
	}
}

// SetupRoutes sets up all API routes
func (hm *HandlerManager) SetupRoutes(router *gin.Engine) {
	router.Use(utils.RequestID(), utils.ContextLogger(hm.logger))

	// Health check endpoint
	router.GET("/health", HealthCheck)

	auth := middleware.Authenticate(hm.authenticator, hm.logger)

	// Live session socket
	router.GET("/ws", auth, hm.wsHandler.Serve)

	// API v1 routes
	v1 := router.Group("/api/v1", auth)
	{
		tests := v1.Group("/tests/:test_id")
		{
			tests.GET("/access", hm.sessionHandler.CheckAccess)
			tests.POST("/session", hm.sessionHandler.StartSession)
			tests.GET("/session", hm.sessionHandler.GetSnapshot)
			tests.PUT("/answers", hm.sessionHandler.RecordAnswer)
			tests.POST("/submit", hm.sessionHandler.Submit)
		}

		v1.POST("/sessions/cleanup", hm.sessionHandler.Cleanup)

		// Proctor and operator routes
		admin := v1.Group("/admin", middleware.RequireAdmin())
		{
			admin.GET("/tests/:test_id/presence", hm.adminHandler.GetPresence)
			admin.GET("/tests/:test_id/attempts/export", hm.adminHandler.ExportAttempts)
			admin.POST("/sweep", hm.adminHandler.Sweep)
			admin.DELETE("/attempts/:attempt_id", hm.adminHandler.PurgeAttempt)
		}
	}
}

func HealthCheck(c *gin.Context) {
	c.JSON(200, gin.H{
		"status":  "healthy",
		"service": "live-session-service",
	})
}
