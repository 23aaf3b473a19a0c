package router

import (
	"github.com/gin-gonic/gin"

	"github.com/ignatzorin/marketplace-settlement/internal/config"
	"github.com/ignatzorin/marketplace-settlement/internal/http/handlers"
	"github.com/ignatzorin/marketplace-settlement/internal/http/middleware"
	"github.com/ignatzorin/marketplace-settlement/internal/models"
)

func SetupRouter(
	cfg *config.Config,
	escrowHandler *handlers.EscrowHandler,
	commissionHandler *handlers.CommissionHandler,
	payoutHandler *handlers.PayoutHandler,
	notificationHandler *handlers.NotificationHandler,
	healthHandler *handlers.HealthHandler,
	wsHandler *handlers.WSHandler,
	tokens middleware.AccessTokenParser,
) *gin.Engine {
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.Default()
	r.Use(middleware.ErrorHandler())
	r.Use(middleware.CORSMiddleware(cfg.AllowedOrigins))

	r.GET("/health", healthHandler.Health)

	api := r.Group("/api")

	// WebSocket проверяет токен сам: браузер не умеет ставить заголовок Authorization.
	if wsHandler != nil {
		api.GET("/ws", wsHandler.Handle)
	}

	protected := api.Group("/")
	protected.Use(middleware.AuthMiddleware(tokens))

	adminOnly := middleware.RequireRoles(models.RoleAdmin)
	// Денежные операции ограничены по пользователю.
	moneyLimit := middleware.RateLimitMiddleware(cfg.RateLimitLimit, cfg.RateLimitPeriod)

	{
		protected.POST("/escrows", moneyLimit, middleware.RequireRoles(models.RoleBuyer, models.RoleAdmin), escrowHandler.CreateEscrow)
		protected.GET("/escrows/:id", middleware.UUIDValidator("id"), escrowHandler.GetEscrow)
		protected.GET("/orders/:id/escrow", middleware.UUIDValidator("id"), escrowHandler.GetOrderEscrow)
		protected.POST("/escrows/:id/release", middleware.UUIDValidator("id"), moneyLimit, escrowHandler.ReleaseEscrow)
		protected.POST("/escrows/:id/dispute", middleware.UUIDValidator("id"), moneyLimit, escrowHandler.DisputeEscrow)
		protected.POST("/escrows/:id/refund", middleware.UUIDValidator("id"), adminOnly, moneyLimit, escrowHandler.RefundEscrow)
		protected.POST("/escrows/:id/resolve", middleware.UUIDValidator("id"), adminOnly, moneyLimit, escrowHandler.ResolveDispute)
	}

	{
		protected.POST("/orders/:id/commissions", middleware.UUIDValidator("id"), adminOnly, commissionHandler.CalculateOrderCommissions)
		protected.GET("/orders/:id/commissions", middleware.UUIDValidator("id"), adminOnly, commissionHandler.ListOrderCommissions)
		protected.GET("/vendors/:id/commissions", middleware.UUIDValidator("id"), commissionHandler.ListVendorCommissions)
		protected.GET("/commissions/:id", middleware.UUIDValidator("id"), commissionHandler.GetCommission)

		protected.POST("/vendors/:id/payouts", middleware.UUIDValidator("id"), adminOnly, moneyLimit, payoutHandler.ProcessVendorPayout)
	}

	{
		protected.GET("/notifications", notificationHandler.ListNotifications)
		protected.GET("/notifications/unread/count", notificationHandler.CountUnread)
		protected.PUT("/notifications/:id/read", middleware.UUIDValidator("id"), notificationHandler.MarkAsRead)
		protected.PUT("/notifications/read-all", notificationHandler.MarkAllAsRead)
	}

	return r
}
