package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/urban-mobility/escrow-backend/internal/chain"
	"github.com/urban-mobility/escrow-backend/internal/config"
	"github.com/urban-mobility/escrow-backend/internal/db"
	"github.com/urban-mobility/escrow-backend/internal/events"
	apphttp "github.com/urban-mobility/escrow-backend/internal/http"
	"github.com/urban-mobility/escrow-backend/internal/http/handlers"
	"github.com/urban-mobility/escrow-backend/internal/metrics"
	"github.com/urban-mobility/escrow-backend/internal/repositories"
	"github.com/urban-mobility/escrow-backend/internal/retry"
	"github.com/urban-mobility/escrow-backend/internal/services"
)

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	cfg.Validate(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database
	conn, err := db.NewSQLite(ctx, cfg.OrderDBPath, log)
	if err != nil {
		log.Fatal("failed to open order database", zap.Error(err))
	}
	defer conn.Close()

	if err := db.Migrate(ctx, conn, log); err != nil {
		log.Fatal("failed to run migrations", zap.Error(err))
	}

	// Chain
	profile := cfg.Preferred()
	provider, err := chain.NewKeyedProvider(ctx, cfg.WalletKeyHex, profile, cfg.Profiles)
	if err != nil {
		log.Fatal("failed to set up wallet provider", zap.Error(err))
	}
	chainClient := chain.NewClient(provider, log)

	tokenGateway, err := chain.NewTokenGateway(chainClient, profile.Token.Address, log)
	if err != nil {
		log.Fatal("failed to bind token contract", zap.Error(err))
	}
	escrowGateway, err := chain.NewEscrowGateway(chainClient, profile.EscrowAddress, log)
	if err != nil {
		log.Fatal("failed to bind escrow contract", zap.Error(err))
	}

	// Repositories
	orderRepo := repositories.NewOrderRepo(conn)

	// Events
	bus := events.NewMemoryBus(log)

	// Metrics
	reg := metrics.NewRegistry()

	// Services
	retryExec := retry.NewExecutor(cfg.RetryMaxAttempts, cfg.RetryInitialDelay, log)
	paymentService := services.NewPaymentService(
		chainClient, tokenGateway, escrowGateway, escrowGateway.Address(),
		retryExec, orderRepo, bus, reg, cfg, log,
	)

	// Handlers
	paymentHandler := handlers.NewPaymentHandler(paymentService, log)
	walletHandler := handlers.NewWalletHandler(paymentService, log)
	wsHub := handlers.NewWSHub(bus, log)

	// Start WS hub
	wsHub.Start(ctx)

	// Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{"error": err.Error()})
		},
	})

	apphttp.SetupRouter(app, log, reg, paymentHandler, walletHandler, wsHub)

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
	log.Info("starting API server",
		zap.String("addr", addr),
		zap.String("network", profile.Name),
		zap.Uint64("chain_id", profile.ChainID),
	)
	if err := app.Listen(addr); err != nil {
		log.Fatal("server error", zap.Error(err))
	}
}
