package handler

import (
	"settlement-engine/internal/adapter/http/middleware"
	"settlement-engine/internal/core/ports"
	"settlement-engine/internal/metrics"
	"settlement-engine/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// RouterDeps holds all dependencies needed to set up routes.
type RouterDeps struct {
	Escrows        EscrowService
	Admin          AdminService
	Webhooks       *WebhookHandler
	TokenSvc       ports.TokenService
	RateLimitStore middleware.RateLimitCounter // nil = rate limiting disabled
	HealthCheckers []ports.HealthChecker
	Logger         zerolog.Logger
}

// SetupRouter initialises the Gin engine with all routes and middleware.
func SetupRouter(deps RouterDeps) *gin.Engine {
	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery(deps.Logger))
	r.Use(middleware.RequestID())
	r.Use(middleware.RequestLogger(deps.Logger))
	r.Use(metrics.Middleware())
	r.Use(middleware.Tracing())
	r.Use(middleware.MaxBodySize(1 << 20))

	r.GET("/health", HealthCheck(deps.HealthCheckers...))
	r.GET("/metrics", metrics.Handler())

	rules := middleware.DefaultRateLimitRules()
	rl := func(group string) gin.HandlerFunc {
		if deps.RateLimitStore == nil {
			return func(c *gin.Context) { c.Next() }
		}
		rule, ok := rules[group]
		if !ok {
			return func(c *gin.Context) { c.Next() }
		}
		return middleware.RateLimiter(deps.RateLimitStore, group, rule, deps.Logger)
	}

	v1 := r.Group("/api/v1")

	// --- Fiat rail callbacks (always acknowledged) ---
	webhooks := v1.Group("/webhooks/mpesa")
	{
		webhooks.POST("/collection", deps.Webhooks.Collection)
		webhooks.POST("/payout", deps.Webhooks.Payout)
		webhooks.POST("/payout/timeout", deps.Webhooks.PayoutTimeout)
	}

	// --- Public escrow API ---
	escrowHandler := NewEscrowHandler(deps.Escrows)
	escrows := v1.Group("/escrows")
	{
		escrows.POST("/buy", rl("escrows_create"), escrowHandler.Buy)
		escrows.POST("/deposit", rl("escrows_create"), escrowHandler.Deposit)
		escrows.POST("/withdraw", rl("escrows_create"), escrowHandler.Withdraw)
		escrows.GET("/:transactionId", rl("escrows_read"), escrowHandler.Get)
	}

	// --- Operator API (JWT, admin role) ---
	adminHandler := NewAdminHandler(deps.Admin)
	admin := v1.Group("/admin", middleware.JWTAuth(deps.TokenSvc, service.RoleAdmin, deps.Logger), rl("admin"))
	{
		admin.GET("/escrows/:transactionId", adminHandler.GetEscrow)
		admin.POST("/escrows/:transactionId/override", adminHandler.Override)
		admin.POST("/escrows/:transactionId/retry", adminHandler.Retry)
		admin.GET("/manual-review", adminHandler.ManualReview)
		admin.GET("/queues", adminHandler.Queues)
	}

	return r
}
