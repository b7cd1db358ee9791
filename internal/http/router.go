package http

import (
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	"github.com/urban-mobility/escrow-backend/internal/http/handlers"
	"github.com/urban-mobility/escrow-backend/internal/metrics"
	"github.com/urban-mobility/escrow-backend/internal/middleware"
)

func SetupRouter(
	app *fiber.App,
	log *zap.Logger,
	reg *metrics.Registry,
	paymentHandler *handlers.PaymentHandler,
	walletHandler *handlers.WalletHandler,
	wsHub *handlers.WSHub,
) {
	// Global middleware
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, X-Request-ID",
	}))
	app.Use(middleware.RequestIDMiddleware())
	app.Use(middleware.LoggerMiddleware(log))

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	api := app.Group("/api/v1")

	// Payments
	api.Post("/payments/escrow", paymentHandler.CreateEscrowPayment)
	api.Post("/payments/token", paymentHandler.TransferToken)
	api.Get("/payments", paymentHandler.ListOrders)
	api.Get("/payments/:orderID", paymentHandler.GetPaymentStatus)
	api.Post("/payments/:orderID/release", paymentHandler.ReleasePayment)
	api.Post("/payments/:orderID/refund", paymentHandler.RefundPayment)

	// Wallet
	api.Post("/wallet/connect", walletHandler.ConnectWallet)
	api.Get("/wallet", walletHandler.GetWallet)

	// Metrics
	api.Get("/metrics", adaptor.HTTPHandler(reg.Handler()))

	// WebSocket
	app.Use("/ws", handlers.WSUpgradeMiddleware())
	app.Get("/ws", websocket.New(wsHub.HandleWS))
}
