package server

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"ticketflow/internal/auth"
	"ticketflow/internal/handler"
	"ticketflow/internal/hub"
	"ticketflow/internal/logger"
	"ticketflow/internal/middleware"
	"ticketflow/internal/model"
	"ticketflow/internal/service"
	"ticketflow/internal/socketio"
)

type Deps struct {
	Auth          *auth.Service
	Tickets       *service.TicketService
	Notifications *service.NotificationService
	Router        *hub.Router
	TokenConfig   auth.TokenConfig
	Logger        zerolog.Logger

	CORSOrigins []string
	// LoginLimiter throttles login and register per client IP; nil disables it.
	LoginLimiter      *middleware.RateLimiter
	SocketRequireAuth bool
}

func NewRouter(deps Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.GinMiddleware(deps.Logger))
	r.Use(middleware.CORS(deps.CORSOrigins))

	healthHandler := &handler.HealthHandler{Router: deps.Router}
	r.GET("/health", healthHandler.Check)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	sockets := socketio.NewServer(socketio.Deps{
		Router:      deps.Router,
		TokenConfig: deps.TokenConfig,
		RequireAuth: deps.SocketRequireAuth,
		CheckOrigin: middleware.OriginChecker(deps.CORSOrigins),
		Logger:      deps.Logger,
	})
	r.GET("/socket.io/", gin.WrapH(sockets))

	api := r.Group("/api")

	authHandler := &handler.AuthHandler{Auth: deps.Auth, Logger: deps.Logger}
	public := api.Group("/auth")
	if deps.LoginLimiter != nil {
		public.Use(middleware.RateLimitMiddleware(deps.LoginLimiter))
	}
	public.POST("/register", authHandler.Register)
	public.POST("/login", authHandler.Login)

	protected := api.Group("")
	protected.Use(middleware.RequireAuth(deps.TokenConfig))
	protected.GET("/auth/me", authHandler.Me)

	admin := middleware.RequireRoles(model.RoleAdmin)
	staff := middleware.RequireRoles(model.RoleAdmin, model.RoleAgent)

	userHandler := &handler.UserHandler{Auth: deps.Auth, Logger: deps.Logger}
	protected.POST("/usuarios", admin, userHandler.Create)
	protected.GET("/usuarios", staff, userHandler.List)
	protected.GET("/usuarios/:id", userHandler.Get)
	protected.PATCH("/usuarios/:id", admin, userHandler.Update)
	protected.PATCH("/usuarios/:id/desactivar", admin, userHandler.Deactivate)
	protected.DELETE("/usuarios/:id", admin, userHandler.Delete)

	ticketHandler := &handler.TicketHandler{Tickets: deps.Tickets, Logger: deps.Logger}
	protected.GET("/tickets", ticketHandler.List)
	protected.POST("/tickets", ticketHandler.Create)
	protected.GET("/tickets/:id", ticketHandler.Get)
	protected.PATCH("/tickets/:id", staff, ticketHandler.Update)
	protected.PATCH("/tickets/:id/estado", staff, ticketHandler.UpdateStatus)
	protected.PATCH("/tickets/:id/asignar", staff, ticketHandler.Assign)
	protected.DELETE("/tickets/:id", admin, ticketHandler.Delete)
	protected.GET("/tickets/:id/comentarios", ticketHandler.ListComments)
	protected.POST("/tickets/:id/comentarios", ticketHandler.AddComment)

	notificationHandler := &handler.NotificationHandler{Notifications: deps.Notifications, Logger: deps.Logger}
	protected.GET("/notificaciones", notificationHandler.List)
	protected.PATCH("/notificaciones/:id/leida", notificationHandler.MarkRead)

	return r
}
