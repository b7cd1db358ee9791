package services

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/urban-mobility/escrow-backend/internal/chain"
	"github.com/urban-mobility/escrow-backend/internal/config"
	"github.com/urban-mobility/escrow-backend/internal/events"
	"github.com/urban-mobility/escrow-backend/internal/metrics"
	"github.com/urban-mobility/escrow-backend/internal/models"
	"github.com/urban-mobility/escrow-backend/internal/repositories"
	"github.com/urban-mobility/escrow-backend/internal/retry"
)

// PaymentService orchestrates the escrow flow end to end: wallet session,
// network check, local validation, the approve+create two-phase write, and
// release/refund with their authorization rules. The chain stays the system
// of record; the local order store and the event stream are projections.
type PaymentService struct {
	chain     *chain.Client
	token     chain.TokenLedger
	escrow    chain.Escrow
	spender   common.Address // escrow contract, the approve target
	retry     *retry.Executor
	orders    *repositories.OrderRepo
	publisher events.Publisher
	metrics   *metrics.Registry
	cfg       *config.Config
	log       *zap.Logger

	// one monetary operation per order id at a time
	inflight sync.Map
}

func NewPaymentService(
	chainClient *chain.Client,
	token chain.TokenLedger,
	escrow chain.Escrow,
	spender common.Address,
	retryExec *retry.Executor,
	orders *repositories.OrderRepo,
	publisher events.Publisher,
	reg *metrics.Registry,
	cfg *config.Config,
	log *zap.Logger,
) *PaymentService {
	return &PaymentService{
		chain:     chainClient,
		token:     token,
		escrow:    escrow,
		spender:   spender,
		retry:     retryExec,
		orders:    orders,
		publisher: publisher,
		metrics:   reg,
		cfg:       cfg,
		log:       log,
	}
}

// PaymentResult is what a completed write hands back to the caller.
type PaymentResult struct {
	OrderID string `json:"order_id"`
	TxHash  string `json:"tx_hash"`
	Status  string `json:"status"`
}

// StatusResult is the live on-chain view of one payment.
type StatusResult struct {
	OrderID    string `json:"order_id"`
	Status     string `json:"status"`
	Buyer      string `json:"buyer"`
	Partner    string `json:"partner"`
	Amount     string `json:"amount_units"`
	CanRelease bool   `json:"can_release"`
}

// ReleaseResult includes the split so the caller can show where the funds
// went without re-deriving contract math.
type ReleaseResult struct {
	OrderID        string `json:"order_id"`
	TxHash         string `json:"tx_hash"`
	Status         string `json:"status"`
	PartnerAmount  string `json:"partner_amount"`
	PlatformAmount string `json:"platform_amount"`
	CityAmount     string `json:"city_amount"`
}

// ConnectResult identifies the wallet session handed out by Connect.
type ConnectResult struct {
	Account string `json:"account"`
	ChainID uint64 `json:"chain_id"`
	Network string `json:"network"`
}

// WalletSummary reports the connected account's token position on the
// preferred network.
type WalletSummary struct {
	Account     string `json:"account"`
	ChainID     uint64 `json:"chain_id"`
	Network     string `json:"network"`
	TokenSymbol string `json:"token_symbol"`
	Balance     string `json:"balance_units"`
	Allowance   string `json:"allowance_units"`
}

// PayWithEscrow runs the two-phase escrow flow: approve the escrow contract
// for the amount, then create the payment record. Each phase is retried
// independently on transient RPC failures; anything past transaction
// submission is never resubmitted. An empty order id gets a generated one.
func (s *PaymentService) PayWithEscrow(ctx context.Context, amountStr, partner, orderID string) (*PaymentResult, error) {
	profile := s.cfg.Preferred()

	if partner == "" {
		return nil, models.NewFailure(models.FailInvalidInput, "partner address is required")
	}
	if !common.IsHexAddress(partner) {
		return nil, models.NewFailure(models.FailInvalidInput, "partner address is not a valid address: %s", partner)
	}
	amount, err := models.ParseAmount(amountStr, profile.Token.Decimals)
	if err != nil {
		return nil, err
	}
	if orderID == "" {
		orderID = uuid.NewString()
	}

	release, err := s.acquire(orderID)
	if err != nil {
		return nil, err
	}
	defer release()

	session, err := s.chain.Connect(ctx)
	if err != nil {
		return nil, s.reject(ctx, "escrow", orderID, err)
	}
	if err := s.chain.EnsureNetwork(ctx, profile); err != nil {
		return nil, s.reject(ctx, "escrow", orderID, err)
	}

	s.log.Info("starting escrow payment",
		zap.String("order_id", orderID),
		zap.String("buyer", session.Account.Hex()),
		zap.String("partner", partner),
		zap.String("amount_units", amount.String()),
		zap.Uint64("chain_id", profile.ChainID),
	)

	var approveReceipt *types.Receipt
	err = s.retry.Do(ctx, "approve", s.progressSink(ctx, orderID, "approving"), func(ctx context.Context) error {
		r, err := s.token.Approve(ctx, s.spender, amount)
		if err != nil {
			return err
		}
		approveReceipt = r
		return nil
	})
	if err != nil {
		return nil, s.reject(ctx, "escrow", orderID, err)
	}

	key := models.EncodeOrderID(orderID)
	partnerAddr := common.HexToAddress(partner)

	var createReceipt *types.Receipt
	err = s.retry.Do(ctx, "createPayment", s.progressSink(ctx, orderID, "creating"), func(ctx context.Context) error {
		r, err := s.escrow.CreatePayment(ctx, key, partnerAddr, amount)
		if err != nil {
			return err
		}
		createReceipt = r
		return nil
	})
	if err != nil {
		return nil, s.reject(ctx, "escrow", orderID, err)
	}

	approveTx := approveReceipt.TxHash.Hex()
	createTx := createReceipt.TxHash.Hex()
	order := &models.Order{
		OrderID:       orderID,
		Mode:          models.OrderModeEscrow,
		Buyer:         session.Account.Hex(),
		Partner:       partnerAddr.Hex(),
		AmountUnits:   amount.String(),
		TokenSymbol:   profile.Token.Symbol,
		ChainID:       profile.ChainID,
		ApproveTxHash: &approveTx,
		CreateTxHash:  &createTx,
		Status:        models.PaymentStatusPending.String(),
	}
	if err := s.orders.Create(ctx, order); err != nil {
		// Funds are already locked on chain; a history-cache miss is not a
		// payment failure.
		s.log.Warn("payment succeeded but local order record failed", zap.String("order_id", orderID), zap.Error(err))
	}

	s.publishStatus(ctx, orderID, models.PaymentStatusPending.String(), createTx)
	s.metrics.IncPayment("escrow", "pending")

	return &PaymentResult{OrderID: orderID, TxHash: createTx, Status: models.PaymentStatusPending.String()}, nil
}

// CheckStatus reads the live payment record and derives whether the caller
// may release it. Reads are unlimited and never cached.
func (s *PaymentService) CheckStatus(ctx context.Context, orderID string) (*StatusResult, error) {
	if orderID == "" {
		return nil, models.NewFailure(models.FailInvalidInput, "order id is required")
	}

	session, err := s.chain.Connect(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.chain.EnsureNetwork(ctx, s.cfg.Preferred()); err != nil {
		return nil, err
	}

	payment, err := s.escrow.GetPayment(ctx, models.EncodeOrderID(orderID))
	if err != nil {
		return nil, err
	}
	if !payment.Exists() {
		return nil, models.NewFailure(models.FailNotFound, "no payment recorded for order %s", orderID)
	}

	// keep the local history cache in step with the chain
	if _, lookupErr := s.orders.GetByOrderID(ctx, orderID); lookupErr == nil {
		if err := s.orders.UpdateStatus(ctx, orderID, payment.Status.String()); err != nil {
			s.log.Warn("local status sync failed", zap.String("order_id", orderID), zap.Error(err))
		}
	}

	return &StatusResult{
		OrderID:    orderID,
		Status:     payment.Status.String(),
		Buyer:      payment.Buyer.Hex(),
		Partner:    payment.Partner.Hex(),
		Amount:     payment.Amount.String(),
		CanRelease: payment.Status == models.PaymentStatusPending && session.Account == payment.Buyer,
	}, nil
}

// ReleaseFunds settles a pending payment. Only the buyer may release, and
// both that rule and the pending requirement are checked locally first so a
// doomed transaction never reaches the wallet.
func (s *PaymentService) ReleaseFunds(ctx context.Context, orderID string) (*ReleaseResult, error) {
	if orderID == "" {
		return nil, models.NewFailure(models.FailInvalidInput, "order id is required")
	}

	done, err := s.acquire(orderID)
	if err != nil {
		return nil, err
	}
	defer done()

	session, err := s.chain.Connect(ctx)
	if err != nil {
		return nil, s.reject(ctx, "release", orderID, err)
	}
	if err := s.chain.EnsureNetwork(ctx, s.cfg.Preferred()); err != nil {
		return nil, s.reject(ctx, "release", orderID, err)
	}

	key := models.EncodeOrderID(orderID)
	payment, err := s.escrow.GetPayment(ctx, key)
	if err != nil {
		return nil, s.reject(ctx, "release", orderID, err)
	}
	if !payment.Exists() {
		return nil, s.reject(ctx, "release", orderID,
			models.NewFailure(models.FailNotFound, "no payment recorded for order %s", orderID))
	}
	if session.Account != payment.Buyer {
		return nil, s.reject(ctx, "release", orderID,
			models.NewFailure(models.FailNotAuthorized, "only the buyer %s may release order %s", payment.Buyer.Hex(), orderID))
	}
	if payment.Status != models.PaymentStatusPending {
		return nil, s.reject(ctx, "release", orderID,
			models.NewFailure(models.FailInvalidState, "payment for order %s is %s, only pending payments can be released", orderID, payment.Status))
	}

	var receipt *types.Receipt
	err = s.retry.Do(ctx, "release", s.progressSink(ctx, orderID, "releasing"), func(ctx context.Context) error {
		r, err := s.escrow.Release(ctx, key)
		if err != nil {
			return err
		}
		receipt = r
		return nil
	})
	if err != nil {
		return nil, s.reject(ctx, "release", orderID, err)
	}

	txHash := receipt.TxHash.Hex()
	if err := s.orders.MarkReleased(ctx, orderID, txHash); err != nil {
		s.log.Warn("release recorded on chain but local update failed", zap.String("order_id", orderID), zap.Error(err))
	}
	s.publishStatus(ctx, orderID, models.PaymentStatusReleased.String(), txHash)
	s.metrics.IncPayment("release", "released")

	partnerCut, platformCut, cityCut := splitAmount(payment.Amount)
	s.log.Info("escrow released",
		zap.String("order_id", orderID),
		zap.String("tx", txHash),
		zap.String("partner_amount", partnerCut.String()),
		zap.String("platform_amount", platformCut.String()),
		zap.String("city_amount", cityCut.String()),
	)

	return &ReleaseResult{
		OrderID:        orderID,
		TxHash:         txHash,
		Status:         models.PaymentStatusReleased.String(),
		PartnerAmount:  partnerCut.String(),
		PlatformAmount: platformCut.String(),
		CityAmount:     cityCut.String(),
	}, nil
}

// RefundPayment returns a pending payment to the buyer. The contract only
// accepts refunds from the platform account; when the treasury address is
// configured that rule is checked locally too, otherwise the contract's
// revert is surfaced as not_authorized.
func (s *PaymentService) RefundPayment(ctx context.Context, orderID string) (*PaymentResult, error) {
	if orderID == "" {
		return nil, models.NewFailure(models.FailInvalidInput, "order id is required")
	}

	done, err := s.acquire(orderID)
	if err != nil {
		return nil, err
	}
	defer done()

	session, err := s.chain.Connect(ctx)
	if err != nil {
		return nil, s.reject(ctx, "refund", orderID, err)
	}
	if err := s.chain.EnsureNetwork(ctx, s.cfg.Preferred()); err != nil {
		return nil, s.reject(ctx, "refund", orderID, err)
	}

	if s.cfg.PlatformTreasury != "" && session.Account != common.HexToAddress(s.cfg.PlatformTreasury) {
		return nil, s.reject(ctx, "refund", orderID,
			models.NewFailure(models.FailNotAuthorized, "only the platform account may refund order %s", orderID))
	}

	key := models.EncodeOrderID(orderID)
	payment, err := s.escrow.GetPayment(ctx, key)
	if err != nil {
		return nil, s.reject(ctx, "refund", orderID, err)
	}
	if !payment.Exists() {
		return nil, s.reject(ctx, "refund", orderID,
			models.NewFailure(models.FailNotFound, "no payment recorded for order %s", orderID))
	}
	if payment.Status != models.PaymentStatusPending {
		return nil, s.reject(ctx, "refund", orderID,
			models.NewFailure(models.FailInvalidState, "payment for order %s is %s, only pending payments can be refunded", orderID, payment.Status))
	}

	var receipt *types.Receipt
	err = s.retry.Do(ctx, "refund", s.progressSink(ctx, orderID, "refunding"), func(ctx context.Context) error {
		r, err := s.escrow.Refund(ctx, key)
		if err != nil {
			return err
		}
		receipt = r
		return nil
	})
	if err != nil {
		return nil, s.reject(ctx, "refund", orderID, err)
	}

	txHash := receipt.TxHash.Hex()
	if err := s.orders.MarkRefunded(ctx, orderID, txHash); err != nil {
		s.log.Warn("refund recorded on chain but local update failed", zap.String("order_id", orderID), zap.Error(err))
	}
	s.publishStatus(ctx, orderID, models.PaymentStatusRefunded.String(), txHash)
	s.metrics.IncPayment("refund", "refunded")

	return &PaymentResult{OrderID: orderID, TxHash: txHash, Status: models.PaymentStatusRefunded.String()}, nil
}

// PayWithToken sends the stablecoin straight to the recipient, bypassing
// escrow. Used for top-ups and settlements that need no buyer protection.
func (s *PaymentService) PayWithToken(ctx context.Context, amountStr, to string) (*PaymentResult, error) {
	profile := s.cfg.Preferred()

	if to == "" {
		return nil, models.NewFailure(models.FailInvalidInput, "recipient address is required")
	}
	if !common.IsHexAddress(to) {
		return nil, models.NewFailure(models.FailInvalidInput, "recipient address is not a valid address: %s", to)
	}
	amount, err := models.ParseAmount(amountStr, profile.Token.Decimals)
	if err != nil {
		return nil, err
	}

	orderID := uuid.NewString()
	done, err := s.acquire(orderID)
	if err != nil {
		return nil, err
	}
	defer done()

	session, err := s.chain.Connect(ctx)
	if err != nil {
		return nil, s.reject(ctx, "transfer", orderID, err)
	}
	if err := s.chain.EnsureNetwork(ctx, profile); err != nil {
		return nil, s.reject(ctx, "transfer", orderID, err)
	}

	var receipt *types.Receipt
	err = s.retry.Do(ctx, "transfer", s.progressSink(ctx, orderID, "transferring"), func(ctx context.Context) error {
		r, err := s.token.Transfer(ctx, common.HexToAddress(to), amount)
		if err != nil {
			return err
		}
		receipt = r
		return nil
	})
	if err != nil {
		return nil, s.reject(ctx, "transfer", orderID, err)
	}

	txHash := receipt.TxHash.Hex()
	order := &models.Order{
		OrderID:      orderID,
		Mode:         models.OrderModeTransfer,
		Buyer:        session.Account.Hex(),
		Partner:      common.HexToAddress(to).Hex(),
		AmountUnits:  amount.String(),
		TokenSymbol:  profile.Token.Symbol,
		ChainID:      profile.ChainID,
		CreateTxHash: &txHash,
		Status:       "sent",
	}
	if err := s.orders.Create(ctx, order); err != nil {
		s.log.Warn("transfer succeeded but local order record failed", zap.String("order_id", orderID), zap.Error(err))
	}

	s.publishStatus(ctx, orderID, "sent", txHash)
	s.metrics.IncPayment("transfer", "sent")

	return &PaymentResult{OrderID: orderID, TxHash: txHash, Status: "sent"}, nil
}

// Connect establishes the wallet session and reports the account plus the
// chain the wallet is currently on. It does not switch networks; that
// happens lazily before the first monetary operation.
func (s *PaymentService) Connect(ctx context.Context) (*ConnectResult, error) {
	session, err := s.chain.Connect(ctx)
	if err != nil {
		return nil, err
	}

	network := "unknown"
	if profile, ok := s.cfg.ProfileFor(session.ChainID); ok {
		network = profile.Name
	}
	s.log.Info("wallet connected",
		zap.String("account", session.Account.Hex()),
		zap.Uint64("chain_id", session.ChainID),
	)
	return &ConnectResult{Account: session.Account.Hex(), ChainID: session.ChainID, Network: network}, nil
}

// Wallet reports the connected account and its token balance and remaining
// escrow allowance on the preferred network.
func (s *PaymentService) Wallet(ctx context.Context) (*WalletSummary, error) {
	profile := s.cfg.Preferred()

	session, err := s.chain.Connect(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.chain.EnsureNetwork(ctx, profile); err != nil {
		return nil, err
	}

	balance, err := s.token.BalanceOf(ctx, session.Account)
	if err != nil {
		return nil, err
	}
	allowance, err := s.token.Allowance(ctx, session.Account, s.spender)
	if err != nil {
		return nil, err
	}

	return &WalletSummary{
		Account:     session.Account.Hex(),
		ChainID:     session.ChainID,
		Network:     profile.Name,
		TokenSymbol: profile.Token.Symbol,
		Balance:     balance.String(),
		Allowance:   allowance.String(),
	}, nil
}

// Orders lists the local payment history, newest first.
func (s *PaymentService) Orders(ctx context.Context, limit, offset int) ([]models.Order, error) {
	return s.orders.List(ctx, limit, offset)
}

// acquire takes the per-order lock, rejecting concurrent monetary
// operations on the same order id.
func (s *PaymentService) acquire(orderID string) (func(), error) {
	if _, busy := s.inflight.LoadOrStore(orderID, struct{}{}); busy {
		return nil, models.NewFailure(models.FailInvalidState, "another operation for order %s is already in flight", orderID)
	}
	return func() { s.inflight.Delete(orderID) }, nil
}

// progressSink pushes "attempt N/M" progress onto the event stream while a
// write is retried.
func (s *PaymentService) progressSink(ctx context.Context, orderID, stage string) retry.StatusSink {
	return func(attempt, maxAttempts int) {
		if attempt > 1 {
			s.metrics.IncRetry(stage)
		}
		err := s.publisher.Publish(ctx, events.StreamPayments, events.Event{
			Type: events.EventPaymentProgress,
			Payload: map[string]any{
				"order_id":     orderID,
				"stage":        stage,
				"attempt":      attempt,
				"max_attempts": maxAttempts,
			},
		})
		if err != nil {
			s.log.Warn("progress publish failed", zap.String("order_id", orderID), zap.Error(err))
		}
	}
}

func (s *PaymentService) publishStatus(ctx context.Context, orderID, status, txHash string) {
	err := s.publisher.Publish(ctx, events.StreamPayments, events.Event{
		Type: events.EventPaymentStatusChanged,
		Payload: map[string]any{
			"order_id": orderID,
			"status":   status,
			"tx_hash":  txHash,
		},
	})
	if err != nil {
		s.log.Warn("status publish failed", zap.String("order_id", orderID), zap.Error(err))
	}
}

// reject records a failed operation on the metrics and event stream, then
// hands the error back unchanged.
func (s *PaymentService) reject(ctx context.Context, operation, orderID string, cause error) error {
	s.metrics.IncPayment(operation, "failed")

	pubErr := s.publisher.Publish(ctx, events.StreamPayments, events.Event{
		Type: events.EventPaymentFailed,
		Payload: map[string]any{
			"order_id":  orderID,
			"operation": operation,
			"category":  string(models.KindOf(cause)),
			"message":   cause.Error(),
		},
	})
	if pubErr != nil {
		s.log.Warn("failure publish failed", zap.String("order_id", orderID), zap.Error(pubErr))
	}

	s.log.Error("payment operation failed",
		zap.String("operation", operation),
		zap.String("order_id", orderID),
		zap.String("category", string(models.KindOf(cause))),
		zap.Error(cause),
	)
	return cause
}

// splitAmount applies the contract's fixed 40/40/20 release split. Integer
// division remainders land in the city share, matching the contract, which
// pays the city whatever is left after the partner and platform cuts.
func splitAmount(amount *big.Int) (partner, platform, city *big.Int) {
	den := big.NewInt(10000)
	partner = new(big.Int).Div(new(big.Int).Mul(amount, big.NewInt(models.ReleaseSplitPartnerBPS)), den)
	platform = new(big.Int).Div(new(big.Int).Mul(amount, big.NewInt(models.ReleaseSplitPlatformBPS)), den)
	city = new(big.Int).Sub(amount, new(big.Int).Add(partner, platform))
	return partner, platform, city
}
