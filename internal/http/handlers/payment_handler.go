package handlers

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/urban-mobility/escrow-backend/internal/http/dto"
	"github.com/urban-mobility/escrow-backend/internal/models"
	"github.com/urban-mobility/escrow-backend/internal/services"
)

type PaymentHandler struct {
	payments *services.PaymentService
	log      *zap.Logger
}

func NewPaymentHandler(payments *services.PaymentService, log *zap.Logger) *PaymentHandler {
	return &PaymentHandler{payments: payments, log: log}
}

func (h *PaymentHandler) CreateEscrowPayment(c *fiber.Ctx) error {
	var req dto.EscrowPaymentRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request"})
	}

	result, err := h.payments.PayWithEscrow(c.Context(), req.Amount, req.Partner, req.OrderID)
	if err != nil {
		return h.fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(dto.SuccessResponse{OK: true, Data: result})
}

func (h *PaymentHandler) GetPaymentStatus(c *fiber.Ctx) error {
	orderID := c.Params("orderID")
	if orderID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "order id is required"})
	}

	status, err := h.payments.CheckStatus(c.Context(), orderID)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: status})
}

func (h *PaymentHandler) ReleasePayment(c *fiber.Ctx) error {
	orderID := c.Params("orderID")
	if orderID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "order id is required"})
	}

	result, err := h.payments.ReleaseFunds(c.Context(), orderID)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: result})
}

func (h *PaymentHandler) RefundPayment(c *fiber.Ctx) error {
	orderID := c.Params("orderID")
	if orderID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "order id is required"})
	}

	result, err := h.payments.RefundPayment(c.Context(), orderID)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: result})
}

func (h *PaymentHandler) TransferToken(c *fiber.Ctx) error {
	var req dto.TokenTransferRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request"})
	}

	result, err := h.payments.PayWithToken(c.Context(), req.Amount, req.To)
	if err != nil {
		return h.fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(dto.SuccessResponse{OK: true, Data: result})
}

func (h *PaymentHandler) ListOrders(c *fiber.Ctx) error {
	limit, offset := 50, 0
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	if v := c.Query("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			offset = n
		}
	}

	orders, err := h.payments.Orders(c.Context(), limit, offset)
	if err != nil {
		h.log.Error("list orders failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal error"})
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: orders})
}

// fail maps the failure taxonomy onto HTTP codes and surfaces the category
// so clients can branch without parsing messages.
func (h *PaymentHandler) fail(c *fiber.Ctx, err error) error {
	var f *models.Failure
	if !errors.As(err, &f) {
		h.log.Error("unclassified handler error", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal error"})
	}

	status := fiber.StatusBadRequest
	switch f.Kind {
	case models.FailNotFound:
		status = fiber.StatusNotFound
	case models.FailNotAuthorized:
		status = fiber.StatusForbidden
	case models.FailInvalidState:
		status = fiber.StatusConflict
	case models.FailWalletUnavailable:
		status = fiber.StatusServiceUnavailable
	case models.FailTransientRPC:
		status = fiber.StatusBadGateway
	}

	return c.Status(status).JSON(dto.ErrorResponse{
		Error:     f.Message,
		Category:  string(f.Kind),
		Retryable: f.Retryable,
	})
}
