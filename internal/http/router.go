package http

import (
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jordancrombie/wsim-sub002/internal/auth"
	"github.com/jordancrombie/wsim-sub002/internal/config"
	"github.com/jordancrombie/wsim-sub002/internal/http/handlers"
	"github.com/jordancrombie/wsim-sub002/internal/middleware"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func SetupRouter(
	app *fiber.App,
	cfg *config.Config,
	log *zap.Logger,
	rdb *redis.Client,
	issuer *auth.TokenIssuer,
	enrollmentHandler *handlers.EnrollmentHandler,
	paymentHandler *handlers.PaymentHandler,
	cardHandler *handlers.CardHandler,
	sessionHandler *handlers.SessionHandler,
	stepUpHandler *handlers.StepUpHandler,
	wsHub *handlers.WSHub,
) {
	// Global middleware
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Request-ID, X-API-Key, X-Test-Secret",
	}))
	app.Use(middleware.RequestIDMiddleware())
	app.Use(middleware.LoggerMiddleware(log))

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	api := app.Group("/api/v1")

	// Public: provider registry and the enrollment flow. Start accepts an
	// optional bearer token for the mobile channel; the callback is hit by the
	// bank's redirect with no credentials at all.
	api.Get("/providers", enrollmentHandler.ListProviders)
	api.Post("/enroll/:bsimId/start", middleware.OptionalAuthMiddleware(issuer), enrollmentHandler.Start)
	api.Get("/enroll/:bsimId/callback", enrollmentHandler.Callback)

	// Rate-limited public mobile auth endpoints
	mobileAuth := api.Group("/mobile/auth", middleware.RateLimitMiddleware(rdb, 30, time.Minute))
	mobileAuth.Post("/register", sessionHandler.Register)
	mobileAuth.Post("/device", sessionHandler.PreRegisterDevice)
	mobileAuth.Post("/login/start", sessionHandler.StartLogin)
	mobileAuth.Post("/login/verify", sessionHandler.VerifyLogin)
	mobileAuth.Post("/refresh", sessionHandler.Refresh)

	// Merchant surface (API key)
	merchant := api.Group("/merchant", middleware.MerchantAuthMiddleware(cfg))
	merchant.Post("/payment-requests", paymentHandler.Create)
	merchant.Get("/payment-requests/:id", paymentHandler.GetForMerchant)
	merchant.Post("/payment-requests/:id/complete", paymentHandler.Complete)
	merchant.Post("/payment-requests/:id/cancel", paymentHandler.CancelByMerchant)

	// Agent surface shares the merchant key scheme
	agents := api.Group("/agents", middleware.MerchantAuthMiddleware(cfg))
	agents.Post("/:id/stepups", stepUpHandler.Create)

	// Mobile surface (bearer access token)
	mobile := api.Group("/mobile", middleware.AuthMiddleware(issuer, log))
	mobile.Get("/me", sessionHandler.Me)
	mobile.Post("/auth/logout", sessionHandler.Logout)

	mobile.Get("/payment-requests", paymentHandler.ListForUser)
	mobile.Get("/payment-requests/:id", paymentHandler.View)
	mobile.Post("/payment-requests/:id/approve", paymentHandler.Approve)
	mobile.Post("/payment-requests/:id/test-approve", paymentHandler.TestApprove)
	mobile.Post("/payment-requests/:id/cancel", paymentHandler.CancelByUser)

	mobile.Get("/cards", cardHandler.List)
	mobile.Get("/cards/:id", cardHandler.Get)
	mobile.Post("/cards/:id/default", cardHandler.SetDefault)
	mobile.Delete("/cards/:id", cardHandler.Deactivate)

	mobile.Get("/enrollments", enrollmentHandler.List)
	mobile.Delete("/enrollments/:id", enrollmentHandler.Remove)

	mobile.Get("/stepups", stepUpHandler.ListPending)
	mobile.Get("/stepups/:id", stepUpHandler.Get)
	mobile.Post("/stepups/:id/approve", stepUpHandler.Approve)
	mobile.Post("/stepups/:id/reject", stepUpHandler.Reject)

	// WebSocket
	app.Use("/ws", handlers.WSUpgradeMiddleware())
	app.Get("/ws", websocket.New(wsHub.HandleWS))
}
