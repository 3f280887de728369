package api

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/parleyhq/parley/internal/app"
	iauth "github.com/parleyhq/parley/internal/auth"
	"github.com/parleyhq/parley/internal/handlers"
	"github.com/parleyhq/parley/internal/middleware"
	"github.com/parleyhq/parley/internal/services"
	"github.com/parleyhq/parley/internal/signaling"
)

// NewRouter builds the Gin engine, wires middleware and registers all routes.
func NewRouter(db *gorm.DB, cfg *app.Config, hub *signaling.Hub) (*gin.Engine, error) {
	if db == nil {
		return nil, fmt.Errorf("database handle must be provided")
	}
	if cfg == nil {
		return nil, fmt.Errorf("config must be provided")
	}
	if hub == nil {
		hub = signaling.NewHub()
	}

	jwtService, err := iauth.NewJWTService(iauth.JWTConfig{
		Secret:   cfg.Auth.JWT.Secret,
		Issuer:   cfg.Auth.JWT.Issuer,
		TokenTTL: cfg.Auth.JWT.TTL,
	})
	if err != nil {
		return nil, err
	}

	userService, err := iauth.NewUserService(db, jwtService, iauth.LockoutConfig{
		Threshold: cfg.Auth.Lockout.Threshold,
		Duration:  cfg.Auth.Lockout.Duration,
	})
	if err != nil {
		return nil, err
	}

	auditService, err := services.NewAuditService(db)
	if err != nil {
		return nil, err
	}
	meetingService, err := services.NewMeetingService(db, auditService)
	if err != nil {
		return nil, err
	}
	admissionService, err := services.NewAdmissionService(db, auditService)
	if err != nil {
		return nil, err
	}

	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())
	r.Use(middleware.RateLimit(cfg.Server.RateLimit.Requests, cfg.Server.RateLimit.Window))

	r.NoRoute(middleware.NotFoundHandler)

	// Health endpoint (public)
	r.GET("/health", handlers.Health(db))

	if cfg.Monitoring.Prometheus.Enabled {
		endpoint := cfg.Monitoring.Prometheus.Endpoint
		if endpoint == "" {
			endpoint = "/metrics"
		}
		r.GET(endpoint, gin.WrapH(promhttp.Handler()))
	}

	authHandler := handlers.NewAuthHandler(userService)
	meetingHandler := handlers.NewMeetingHandler(meetingService, hub)
	admissionHandler := handlers.NewAdmissionHandler(admissionService)
	signalingHandler := handlers.NewSignalingHandler(meetingService, hub)

	// Public auth routes
	auth := r.Group("/api/auth")
	{
		auth.POST("/register", authHandler.Register)
		auth.POST("/login", authHandler.Login)
	}

	// Protected routes
	api := r.Group("/api")
	api.Use(middleware.Auth(jwtService))

	api.GET("/auth/me", authHandler.Me)

	meetings := api.Group("/meetings")
	{
		meetings.POST("", meetingHandler.Create)
		meetings.GET("", meetingHandler.List)
		meetings.GET("/:id", meetingHandler.Get)
		meetings.POST("/:id/end", meetingHandler.End)
		meetings.DELETE("/:id", meetingHandler.Delete)

		meetings.POST("/:id/co-hosts", meetingHandler.AddCoHost)
		meetings.DELETE("/:id/co-hosts/:userId", meetingHandler.RemoveCoHost)

		meetings.GET("/:id/waiting-room", meetingHandler.WaitingRoom)
		meetings.GET("/:id/history", meetingHandler.History)

		meetings.POST("/:id/join", admissionHandler.Join)
		meetings.POST("/:id/leave", admissionHandler.Leave)
		meetings.POST("/:id/participants/:participantId/approve", admissionHandler.Approve)
		meetings.POST("/:id/participants/:participantId/reject", admissionHandler.Reject)

		meetings.GET("/:id/signal", signalingHandler.Serve)
	}

	return r, nil
}
