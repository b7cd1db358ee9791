package handlers

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/urban-mobility/escrow-backend/internal/http/dto"
	"github.com/urban-mobility/escrow-backend/internal/services"
)

type WalletHandler struct {
	payments *services.PaymentService
	log      *zap.Logger
}

func NewWalletHandler(payments *services.PaymentService, log *zap.Logger) *WalletHandler {
	return &WalletHandler{payments: payments, log: log}
}

func (h *WalletHandler) ConnectWallet(c *fiber.Ctx) error {
	result, err := h.payments.Connect(c.Context())
	if err != nil {
		h.log.Warn("wallet connect failed", zap.Error(err))
		return c.Status(fiber.StatusServiceUnavailable).JSON(dto.ErrorResponse{Error: err.Error()})
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: result})
}

func (h *WalletHandler) GetWallet(c *fiber.Ctx) error {
	summary, err := h.payments.Wallet(c.Context())
	if err != nil {
		h.log.Warn("wallet summary failed", zap.Error(err))
		return c.Status(fiber.StatusServiceUnavailable).JSON(dto.ErrorResponse{Error: err.Error()})
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: summary})
}
