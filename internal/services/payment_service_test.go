package services

import (
	"context"
	"math/big"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/urban-mobility/escrow-backend/internal/chain"
	"github.com/urban-mobility/escrow-backend/internal/config"
	"github.com/urban-mobility/escrow-backend/internal/db"
	"github.com/urban-mobility/escrow-backend/internal/events"
	"github.com/urban-mobility/escrow-backend/internal/metrics"
	"github.com/urban-mobility/escrow-backend/internal/models"
	"github.com/urban-mobility/escrow-backend/internal/repositories"
	"github.com/urban-mobility/escrow-backend/internal/retry"
)

var (
	buyerAddr   = common.HexToAddress("0x1111111111111111111111111111111111111111")
	partnerAddr = common.HexToAddress("0x2222222222222222222222222222222222222222")
	escrowAddr  = common.HexToAddress("0x3333333333333333333333333333333333333333")
)

type stubProvider struct {
	account      common.Address
	chainID      uint64
	rejectSwitch bool
}

func (p *stubProvider) RequestAccounts(ctx context.Context) ([]common.Address, error) {
	return []common.Address{p.account}, nil
}

func (p *stubProvider) ChainID(ctx context.Context) (*big.Int, error) {
	return new(big.Int).SetUint64(p.chainID), nil
}

func (p *stubProvider) SwitchChain(ctx context.Context, chainID uint64) error {
	if p.rejectSwitch {
		return chain.ErrUnknownChain
	}
	p.chainID = chainID
	return nil
}

func (p *stubProvider) AddChain(ctx context.Context, profile config.NetworkProfile) error {
	if p.rejectSwitch {
		return context.Canceled
	}
	return nil
}

func (p *stubProvider) Transactor(ctx context.Context) (*bind.TransactOpts, error) {
	return &bind.TransactOpts{From: p.account}, nil
}

func (p *stubProvider) Backend(ctx context.Context) (chain.Backend, error) {
	return nil, nil
}

type stubToken struct {
	approveCalls  int
	transferCalls int
	approveErrs   []error // consumed one per call, nil entries succeed
	balance       *big.Int
	allowance     *big.Int
}

func receiptFor(hash string) *types.Receipt {
	return &types.Receipt{TxHash: common.HexToHash(hash), Status: types.ReceiptStatusSuccessful}
}

func (t *stubToken) Decimals(ctx context.Context) (uint8, error) { return 6, nil }

func (t *stubToken) BalanceOf(ctx context.Context, owner common.Address) (*big.Int, error) {
	return t.balance, nil
}

func (t *stubToken) Allowance(ctx context.Context, owner, spender common.Address) (*big.Int, error) {
	return t.allowance, nil
}

func (t *stubToken) Approve(ctx context.Context, spender common.Address, amount *big.Int) (*types.Receipt, error) {
	t.approveCalls++
	if len(t.approveErrs) > 0 {
		err := t.approveErrs[0]
		t.approveErrs = t.approveErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	return receiptFor("0xaa01"), nil
}

func (t *stubToken) Transfer(ctx context.Context, to common.Address, amount *big.Int) (*types.Receipt, error) {
	t.transferCalls++
	return receiptFor("0xaa02"), nil
}

type stubEscrow struct {
	account      common.Address
	payments     map[[32]byte]models.EscrowPayment
	createCalls  int
	releaseCalls int
	refundCalls  int
}

func newStubEscrow(account common.Address) *stubEscrow {
	return &stubEscrow{account: account, payments: make(map[[32]byte]models.EscrowPayment)}
}

func (e *stubEscrow) CreatePayment(ctx context.Context, orderID [32]byte, partner common.Address, amount *big.Int) (*types.Receipt, error) {
	e.createCalls++
	if _, exists := e.payments[orderID]; exists {
		return nil, models.NewFailure(models.FailContractRevert, "order id already used")
	}
	e.payments[orderID] = models.EscrowPayment{
		Buyer:   e.account,
		Partner: partner,
		Amount:  new(big.Int).Set(amount),
		Status:  models.PaymentStatusPending,
	}
	return receiptFor("0xbb01"), nil
}

func (e *stubEscrow) GetPayment(ctx context.Context, orderID [32]byte) (models.EscrowPayment, error) {
	return e.payments[orderID], nil
}

func (e *stubEscrow) Release(ctx context.Context, orderID [32]byte) (*types.Receipt, error) {
	e.releaseCalls++
	p := e.payments[orderID]
	p.Status = models.PaymentStatusReleased
	e.payments[orderID] = p
	return receiptFor("0xbb02"), nil
}

func (e *stubEscrow) Refund(ctx context.Context, orderID [32]byte) (*types.Receipt, error) {
	e.refundCalls++
	p := e.payments[orderID]
	p.Status = models.PaymentStatusRefunded
	e.payments[orderID] = p
	return receiptFor("0xbb03"), nil
}

type capturePublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *capturePublisher) Publish(ctx context.Context, stream string, event events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *capturePublisher) ofType(eventType string) []events.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []events.Event
	for _, e := range p.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

type fixture struct {
	svc       *PaymentService
	provider  *stubProvider
	token     *stubToken
	escrow    *stubEscrow
	publisher *capturePublisher
	orders    *repositories.OrderRepo
	cfg       *config.Config
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	log := zap.NewNop()

	cfg := &config.Config{
		PreferredChainID: 80002,
		Profiles: []config.NetworkProfile{{
			ChainID: 80002,
			Name:    "Polygon Amoy",
			RPCURL:  "http://localhost:8545",
			Token:   config.TokenInfo{Address: "0x8Da11E8Bbf81b4696F68e0FF89fD11C25BB11Cd4", Decimals: 6, Symbol: "USDC"},
		}},
		RetryMaxAttempts:  3,
		RetryInitialDelay: time.Millisecond,
	}

	conn, err := db.NewSQLite(ctx, filepath.Join(t.TempDir(), "orders.db"), log)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := db.Migrate(ctx, conn, log); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	provider := &stubProvider{account: buyerAddr, chainID: 80002}
	token := &stubToken{balance: big.NewInt(50_000_000), allowance: big.NewInt(0)}
	escrow := newStubEscrow(buyerAddr)
	publisher := &capturePublisher{}
	orders := repositories.NewOrderRepo(conn)

	svc := NewPaymentService(
		chain.NewClient(provider, log),
		token,
		escrow,
		escrowAddr,
		retry.NewExecutor(cfg.RetryMaxAttempts, cfg.RetryInitialDelay, log),
		orders,
		publisher,
		metrics.NewRegistry(),
		cfg,
		log,
	)

	return &fixture{svc: svc, provider: provider, token: token, escrow: escrow, publisher: publisher, orders: orders, cfg: cfg}
}

func TestPayWithEscrowHappyPath(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result, err := f.svc.PayWithEscrow(ctx, "10.00", partnerAddr.Hex(), "ride-42")
	if err != nil {
		t.Fatalf("PayWithEscrow: %v", err)
	}
	if result.Status != "pending" {
		t.Errorf("status = %s, want pending", result.Status)
	}
	// one approve per logical payment; re-approving would be harmless only
	// under standard overwrite (not additive) allowance semantics, which the
	// configured stablecoin is assumed to follow
	if f.token.approveCalls != 1 || f.escrow.createCalls != 1 {
		t.Errorf("approve/create calls = %d/%d, want 1/1", f.token.approveCalls, f.escrow.createCalls)
	}

	onChain := f.escrow.payments[models.EncodeOrderID("ride-42")]
	if onChain.Amount.String() != "10000000" {
		t.Errorf("locked amount = %s, want 10000000 base units", onChain.Amount.String())
	}

	status, err := f.svc.CheckStatus(ctx, "ride-42")
	if err != nil {
		t.Fatalf("CheckStatus: %v", err)
	}
	if status.Status != "pending" || !status.CanRelease {
		t.Errorf("status = %s canRelease = %v, want pending/true", status.Status, status.CanRelease)
	}

	released, err := f.svc.ReleaseFunds(ctx, "ride-42")
	if err != nil {
		t.Fatalf("ReleaseFunds: %v", err)
	}
	if released.Status != "released" {
		t.Errorf("status = %s, want released", released.Status)
	}
	if released.PartnerAmount != "4000000" || released.PlatformAmount != "4000000" || released.CityAmount != "2000000" {
		t.Errorf("split = %s/%s/%s, want 4000000/4000000/2000000",
			released.PartnerAmount, released.PlatformAmount, released.CityAmount)
	}

	order, err := f.orders.GetByOrderID(ctx, "ride-42")
	if err != nil {
		t.Fatalf("local order missing: %v", err)
	}
	if order.Status != "released" {
		t.Errorf("local order status = %s, want released", order.Status)
	}
	if len(f.publisher.ofType(events.EventPaymentStatusChanged)) != 2 {
		t.Errorf("expected pending and released status events, got %d", len(f.publisher.ofType(events.EventPaymentStatusChanged)))
	}
}

func TestPayWithEscrowDuplicateOrderID(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.PayWithEscrow(ctx, "10.00", partnerAddr.Hex(), "ride-42"); err != nil {
		t.Fatalf("first payment: %v", err)
	}

	before := f.escrow.createCalls
	_, err := f.svc.PayWithEscrow(ctx, "5.00", partnerAddr.Hex(), "ride-42")
	if models.KindOf(err) != models.FailContractRevert {
		t.Fatalf("kind = %q, want contract_revert", models.KindOf(err))
	}
	// reverts are fatal, the duplicate create must not be retried
	if f.escrow.createCalls != before+1 {
		t.Errorf("create calls for duplicate = %d, want 1", f.escrow.createCalls-before)
	}
}

func TestPayWithEscrowInvalidAmount(t *testing.T) {
	f := newFixture(t)

	for _, amount := range []string{"", "abc", "-5", "0", "1.2345678"} {
		_, err := f.svc.PayWithEscrow(context.Background(), amount, partnerAddr.Hex(), "")
		if models.KindOf(err) != models.FailInvalidAmount {
			t.Errorf("amount %q: kind = %q, want invalid_amount", amount, models.KindOf(err))
		}
	}
	if f.token.approveCalls != 0 {
		t.Errorf("approve called %d times for invalid amounts, want 0", f.token.approveCalls)
	}
}

func TestPayWithEscrowNetworkSwitchRejected(t *testing.T) {
	f := newFixture(t)
	f.provider.chainID = 1
	f.provider.rejectSwitch = true

	_, err := f.svc.PayWithEscrow(context.Background(), "10.00", partnerAddr.Hex(), "ride-42")
	if models.KindOf(err) != models.FailNetworkSwitchRejected {
		t.Fatalf("kind = %q, want network_switch_rejected", models.KindOf(err))
	}
	// no monetary call may run on the wrong chain
	if f.token.approveCalls != 0 || f.escrow.createCalls != 0 {
		t.Errorf("approve/create calls = %d/%d on wrong chain, want 0/0", f.token.approveCalls, f.escrow.createCalls)
	}
}

func TestPayWithEscrowRetriesTransient(t *testing.T) {
	f := newFixture(t)
	f.token.approveErrs = []error{
		models.TransientFailure(context.DeadlineExceeded, "rpc timeout"),
		models.TransientFailure(context.DeadlineExceeded, "rpc timeout"),
		nil,
	}

	result, err := f.svc.PayWithEscrow(context.Background(), "10.00", partnerAddr.Hex(), "ride-42")
	if err != nil {
		t.Fatalf("PayWithEscrow: %v", err)
	}
	if result.Status != "pending" {
		t.Errorf("status = %s, want pending", result.Status)
	}
	if f.token.approveCalls != 3 {
		t.Errorf("approve calls = %d, want 3", f.token.approveCalls)
	}

	progress := f.publisher.ofType(events.EventPaymentProgress)
	if len(progress) < 3 {
		t.Fatalf("expected at least 3 progress events, got %d", len(progress))
	}
	if progress[1].Payload["attempt"] != 2 || progress[1].Payload["max_attempts"] != 3 {
		t.Errorf("second progress event = %v, want attempt 2/3", progress[1].Payload)
	}
}

func TestReleaseRequiresBuyer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.PayWithEscrow(ctx, "10.00", partnerAddr.Hex(), "ride-42"); err != nil {
		t.Fatalf("PayWithEscrow: %v", err)
	}

	// wallet switches to a different account
	f.provider.account = common.HexToAddress("0x4444444444444444444444444444444444444444")

	_, err := f.svc.ReleaseFunds(ctx, "ride-42")
	if models.KindOf(err) != models.FailNotAuthorized {
		t.Fatalf("kind = %q, want not_authorized", models.KindOf(err))
	}
	if f.escrow.releaseCalls != 0 {
		t.Errorf("release reached the chain %d times, want 0", f.escrow.releaseCalls)
	}

	status, err := f.svc.CheckStatus(ctx, "ride-42")
	if err != nil {
		t.Fatalf("CheckStatus: %v", err)
	}
	if status.CanRelease {
		t.Error("CanRelease = true for a non-buyer account")
	}
}

func TestReleaseRequiresPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.PayWithEscrow(ctx, "10.00", partnerAddr.Hex(), "ride-42"); err != nil {
		t.Fatalf("PayWithEscrow: %v", err)
	}
	if _, err := f.svc.ReleaseFunds(ctx, "ride-42"); err != nil {
		t.Fatalf("first release: %v", err)
	}

	before := f.escrow.releaseCalls
	_, err := f.svc.ReleaseFunds(ctx, "ride-42")
	if models.KindOf(err) != models.FailInvalidState {
		t.Fatalf("kind = %q, want invalid_state", models.KindOf(err))
	}
	if f.escrow.releaseCalls != before {
		t.Errorf("release re-sent for a settled payment")
	}
}

func TestReleaseUnknownOrder(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.ReleaseFunds(context.Background(), "never-created")
	if models.KindOf(err) != models.FailNotFound {
		t.Fatalf("kind = %q, want not_found", models.KindOf(err))
	}
	if f.escrow.releaseCalls != 0 {
		t.Errorf("release reached the chain for an unknown order")
	}
}

func TestRefundRequiresPlatformAccount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.cfg.PlatformTreasury = "0x5555555555555555555555555555555555555555"

	if _, err := f.svc.PayWithEscrow(ctx, "10.00", partnerAddr.Hex(), "ride-42"); err != nil {
		t.Fatalf("PayWithEscrow: %v", err)
	}

	// buyer tries to refund itself
	_, err := f.svc.RefundPayment(ctx, "ride-42")
	if models.KindOf(err) != models.FailNotAuthorized {
		t.Fatalf("kind = %q, want not_authorized", models.KindOf(err))
	}
	if f.escrow.refundCalls != 0 {
		t.Errorf("refund reached the chain without platform authority")
	}

	// the platform account goes through
	f.provider.account = common.HexToAddress(f.cfg.PlatformTreasury)
	result, err := f.svc.RefundPayment(ctx, "ride-42")
	if err != nil {
		t.Fatalf("RefundPayment: %v", err)
	}
	if result.Status != "refunded" {
		t.Errorf("status = %s, want refunded", result.Status)
	}
}

func TestRefundRequiresPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.PayWithEscrow(ctx, "10.00", partnerAddr.Hex(), "ride-42"); err != nil {
		t.Fatalf("PayWithEscrow: %v", err)
	}
	if _, err := f.svc.ReleaseFunds(ctx, "ride-42"); err != nil {
		t.Fatalf("ReleaseFunds: %v", err)
	}

	_, err := f.svc.RefundPayment(ctx, "ride-42")
	if models.KindOf(err) != models.FailInvalidState {
		t.Fatalf("kind = %q, want invalid_state", models.KindOf(err))
	}
	if f.escrow.refundCalls != 0 {
		t.Errorf("refund reached the chain for a released payment")
	}
}

func TestCheckStatusUnknownOrder(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.CheckStatus(context.Background(), "never-created")
	if models.KindOf(err) != models.FailNotFound {
		t.Fatalf("kind = %q, want not_found", models.KindOf(err))
	}
}

func TestPayWithTokenDirectTransfer(t *testing.T) {
	f := newFixture(t)

	result, err := f.svc.PayWithToken(context.Background(), "3.50", partnerAddr.Hex())
	if err != nil {
		t.Fatalf("PayWithToken: %v", err)
	}
	if result.Status != "sent" {
		t.Errorf("status = %s, want sent", result.Status)
	}
	if f.token.transferCalls != 1 {
		t.Errorf("transfer calls = %d, want 1", f.token.transferCalls)
	}
	if f.token.approveCalls != 0 || f.escrow.createCalls != 0 {
		t.Error("direct transfer must not touch the escrow flow")
	}

	order, err := f.orders.GetByOrderID(context.Background(), result.OrderID)
	if err != nil {
		t.Fatalf("local order missing: %v", err)
	}
	if order.Mode != models.OrderModeTransfer || order.AmountUnits != "3500000" {
		t.Errorf("order = mode %s units %s, want transfer/3500000", order.Mode, order.AmountUnits)
	}
}

func TestConnectReportsSession(t *testing.T) {
	f := newFixture(t)

	result, err := f.svc.Connect(context.Background())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if result.Account != buyerAddr.Hex() || result.ChainID != 80002 {
		t.Errorf("session = %s/%d, want %s/80002", result.Account, result.ChainID, buyerAddr.Hex())
	}
	if result.Network != "Polygon Amoy" {
		t.Errorf("network = %s, want Polygon Amoy", result.Network)
	}

	// connect never switches networks, it only reports where the wallet is
	f.provider.chainID = 1
	result, err = f.svc.Connect(context.Background())
	if err != nil {
		t.Fatalf("Connect on foreign chain: %v", err)
	}
	if result.Network != "unknown" || result.ChainID != 1 {
		t.Errorf("foreign chain session = %s/%d, want unknown/1", result.Network, result.ChainID)
	}
}

func TestWalletSummary(t *testing.T) {
	f := newFixture(t)
	f.token.allowance = big.NewInt(7_000_000)

	summary, err := f.svc.Wallet(context.Background())
	if err != nil {
		t.Fatalf("Wallet: %v", err)
	}
	if summary.Account != buyerAddr.Hex() {
		t.Errorf("account = %s, want %s", summary.Account, buyerAddr.Hex())
	}
	if summary.Balance != "50000000" || summary.Allowance != "7000000" {
		t.Errorf("balance/allowance = %s/%s, want 50000000/7000000", summary.Balance, summary.Allowance)
	}
	if summary.TokenSymbol != "USDC" || summary.ChainID != 80002 {
		t.Errorf("token/chain = %s/%d, want USDC/80002", summary.TokenSymbol, summary.ChainID)
	}
}
