package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/urban-mobility/escrow-backend/internal/chain"
	"github.com/urban-mobility/escrow-backend/internal/config"
	"github.com/urban-mobility/escrow-backend/internal/db"
	"github.com/urban-mobility/escrow-backend/internal/events"
	"github.com/urban-mobility/escrow-backend/internal/metrics"
	"github.com/urban-mobility/escrow-backend/internal/repositories"
	"github.com/urban-mobility/escrow-backend/internal/services"
)

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	conn, err := db.NewSQLite(ctx, cfg.OrderDBPath, log)
	if err != nil {
		log.Fatal("failed to open order database", zap.Error(err))
	}
	defer conn.Close()

	if err := db.Migrate(ctx, conn, log); err != nil {
		log.Fatal("failed to run migrations", zap.Error(err))
	}

	profile := cfg.Preferred()
	provider, err := chain.NewKeyedProvider(ctx, cfg.WalletKeyHex, profile, cfg.Profiles)
	if err != nil {
		log.Fatal("failed to set up wallet provider", zap.Error(err))
	}
	chainClient := chain.NewClient(provider, log)

	escrowGateway, err := chain.NewEscrowGateway(chainClient, profile.EscrowAddress, log)
	if err != nil {
		log.Fatal("failed to bind escrow contract", zap.Error(err))
	}

	orderRepo := repositories.NewOrderRepo(conn)
	bus := events.NewMemoryBus(log)
	reg := metrics.NewRegistry()

	reconciler := services.NewReconcileService(escrowGateway, orderRepo, bus, reg, log)

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down worker")
		cancel()
	}()

	reconciler.Run(ctx, cfg.ReconcileInterval)
}
