package services

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/urban-mobility/escrow-backend/internal/chain"
	"github.com/urban-mobility/escrow-backend/internal/events"
	"github.com/urban-mobility/escrow-backend/internal/metrics"
	"github.com/urban-mobility/escrow-backend/internal/models"
	"github.com/urban-mobility/escrow-backend/internal/repositories"
)

const reconcileBatchSize = 50

// ReconcileService keeps the local order cache in step with the chain. A
// payment released or refunded from another device never notifies this
// process, so the worker periodically re-reads every locally pending order.
type ReconcileService struct {
	escrow    chain.Escrow
	orders    *repositories.OrderRepo
	publisher events.Publisher
	metrics   *metrics.Registry
	log       *zap.Logger
}

func NewReconcileService(
	escrow chain.Escrow,
	orders *repositories.OrderRepo,
	publisher events.Publisher,
	reg *metrics.Registry,
	log *zap.Logger,
) *ReconcileService {
	return &ReconcileService{
		escrow:    escrow,
		orders:    orders,
		publisher: publisher,
		metrics:   reg,
		log:       log,
	}
}

// Run loops until the context ends, reconciling once per interval.
func (s *ReconcileService) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.log.Info("reconcile worker started", zap.Duration("interval", interval))
	for {
		select {
		case <-ctx.Done():
			s.log.Info("reconcile worker stopped")
			return
		case <-ticker.C:
			if err := s.ReconcileOnce(ctx); err != nil {
				s.log.Error("reconcile pass failed", zap.Error(err))
			}
		}
	}
}

// ReconcileOnce re-reads every locally pending order from the chain and
// applies any status change it finds. Only transitions the payment state
// machine allows are written; anything else is logged and left alone.
func (s *ReconcileService) ReconcileOnce(ctx context.Context) error {
	pending, err := s.orders.ListByStatus(ctx, models.PaymentStatusPending.String(), reconcileBatchSize)
	if err != nil {
		s.metrics.IncReconcile("error")
		return err
	}

	updated := 0
	for _, order := range pending {
		payment, err := s.escrow.GetPayment(ctx, models.EncodeOrderID(order.OrderID))
		if err != nil {
			s.metrics.IncReconcile("error")
			s.log.Warn("reconcile read failed", zap.String("order_id", order.OrderID), zap.Error(err))
			continue
		}
		if !payment.Exists() {
			// cached locally but never confirmed on chain, leave for review
			s.log.Warn("pending order has no on-chain record", zap.String("order_id", order.OrderID))
			continue
		}

		chainStatus := payment.Status.String()
		if chainStatus == order.Status {
			continue
		}
		if !models.IsValidTransition(models.PaymentStatusPending, payment.Status) {
			s.log.Warn("chain reports a status the state machine forbids",
				zap.String("order_id", order.OrderID),
				zap.String("local", order.Status),
				zap.String("chain", chainStatus),
			)
			continue
		}

		if err := s.orders.UpdateStatus(ctx, order.OrderID, chainStatus); err != nil {
			s.metrics.IncReconcile("error")
			s.log.Warn("reconcile update failed", zap.String("order_id", order.OrderID), zap.Error(err))
			continue
		}
		updated++

		pubErr := s.publisher.Publish(ctx, events.StreamPayments, events.Event{
			Type: events.EventPaymentStatusChanged,
			Payload: map[string]any{
				"order_id": order.OrderID,
				"status":   chainStatus,
				"source":   "reconcile",
			},
		})
		if pubErr != nil {
			s.log.Warn("reconcile publish failed", zap.String("order_id", order.OrderID), zap.Error(pubErr))
		}

		s.log.Info("order reconciled from chain",
			zap.String("order_id", order.OrderID),
			zap.String("status", chainStatus),
		)
	}

	if updated > 0 {
		s.metrics.IncReconcile("updated")
	} else {
		s.metrics.IncReconcile("clean")
	}
	return nil
}
