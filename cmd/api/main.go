package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/jordancrombie/wsim-sub002/internal/auth"
	"github.com/jordancrombie/wsim-sub002/internal/bsim"
	"github.com/jordancrombie/wsim-sub002/internal/config"
	"github.com/jordancrombie/wsim-sub002/internal/crypto"
	"github.com/jordancrombie/wsim-sub002/internal/db"
	"github.com/jordancrombie/wsim-sub002/internal/events"
	apphttp "github.com/jordancrombie/wsim-sub002/internal/http"
	"github.com/jordancrombie/wsim-sub002/internal/http/handlers"
	"github.com/jordancrombie/wsim-sub002/internal/providers"
	"github.com/jordancrombie/wsim-sub002/internal/repositories"
	"github.com/jordancrombie/wsim-sub002/internal/services"
	"github.com/jordancrombie/wsim-sub002/internal/store"
	"go.uber.org/zap"
)

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	cfg.Validate(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database
	pool, err := db.NewPostgresPool(ctx, cfg.PostgresDSN, log)
	if err != nil {
		log.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	// Run migrations
	if err := db.RunMigrations(ctx, pool, "migrations", log); err != nil {
		log.Fatal("failed to run migrations", zap.Error(err))
	}

	// Redis
	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	// Credential vault
	vault, err := crypto.NewVaultFromHex(cfg.VaultKeyHex)
	if err != nil {
		log.Fatal("failed to initialize vault", zap.Error(err))
	}

	// Bank providers
	registry := providers.NewRegistry(cfg.BSIMProvidersJSON, log)
	bankClient := bsim.NewClient(log)

	// Token issuer
	issuer := auth.NewTokenIssuer(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTAudience, cfg.AccessTokenTTL, cfg.RefreshTokenTTL)

	// Single-use correlation state lives in Redis so enrollment survives
	// process restarts and scales past one instance.
	correlation := store.NewRedisStore(rdb, "wsim:")

	// Repositories
	userRepo := repositories.NewUserRepo(pool)
	enrollmentRepo := repositories.NewEnrollmentRepo(pool)
	cardRepo := repositories.NewCardRepo(pool)
	deviceRepo := repositories.NewDeviceRepo(pool)
	refreshRepo := repositories.NewRefreshTokenRepo(pool)
	paymentRepo := repositories.NewPaymentRepo(pool)
	stepUpRepo := repositories.NewStepUpRepo(pool)
	agentRepo := repositories.NewAgentRepo(pool)

	// Events
	publisher := events.NewRedisPublisher(rdb, log)
	subscriber := events.NewRedisSubscriber(rdb, log)

	// Services
	pushSender := services.NewLogPushSender(log)
	mailer := services.NewLogMailer(log)
	enrollmentService := services.NewEnrollmentService(registry, bankClient, correlation, vault, userRepo, enrollmentRepo, cardRepo, cfg, log)
	paymentService := services.NewPaymentService(paymentRepo, cardRepo, enrollmentRepo, registry, bankClient, vault, publisher, cfg, log)
	stepUpService := services.NewStepUpService(stepUpRepo, agentRepo, cardRepo, deviceRepo, pushSender, publisher, cfg, log)
	sessionService := services.NewSessionService(userRepo, deviceRepo, refreshRepo, issuer, vault, correlation, mailer, cfg, log)
	cardService := services.NewCardService(cardRepo, log)

	// Handlers
	enrollmentHandler := handlers.NewEnrollmentHandler(enrollmentService, registry, log)
	paymentHandler := handlers.NewPaymentHandler(paymentService, cfg, log)
	cardHandler := handlers.NewCardHandler(cardService, log)
	sessionHandler := handlers.NewSessionHandler(sessionService, log)
	stepUpHandler := handlers.NewStepUpHandler(stepUpService, log)
	wsHub := handlers.NewWSHub(issuer, subscriber, log)

	// Start WS hub
	wsHub.Start(ctx)

	// Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			status := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				status = e.Code
			}
			errCode := "INTERNAL_ERROR"
			if status == fiber.StatusNotFound {
				errCode = "NOT_FOUND"
			}
			return c.Status(status).JSON(fiber.Map{"error": errCode, "message": err.Error()})
		},
	})

	apphttp.SetupRouter(app, cfg, log, rdb, issuer, enrollmentHandler, paymentHandler, cardHandler, sessionHandler, stepUpHandler, wsHub)

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down...")
		cancel()
		_ = app.Shutdown()
	}()

	addr := fmt.Sprintf(":%s", cfg.APIPort)
	log.Info("starting API server", zap.String("addr", addr))
	if err := app.Listen(addr); err != nil {
		log.Fatal("server error", zap.Error(err))
	}
}
