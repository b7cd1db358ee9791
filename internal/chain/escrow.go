package chain

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/urban-mobility/escrow-backend/internal/contracts"
	"github.com/urban-mobility/escrow-backend/internal/models"
)

// Escrow performs the four escrow contract calls. Preconditions (allowance
// in place, order id unused) are the contract's to enforce; violations
// come back as reverts, classified fatal.
type Escrow interface {
	CreatePayment(ctx context.Context, orderID [32]byte, partner common.Address, amount *big.Int) (*types.Receipt, error)
	GetPayment(ctx context.Context, orderID [32]byte) (models.EscrowPayment, error)
	Release(ctx context.Context, orderID [32]byte) (*types.Receipt, error)
	Refund(ctx context.Context, orderID [32]byte) (*types.Receipt, error)
}

type EscrowGateway struct {
	client  *Client
	abi     abi.ABI
	address common.Address
	log     *zap.Logger
}

// escrowPaymentResult mirrors the getPayment return tuple.
type escrowPaymentResult struct {
	Buyer   common.Address
	Partner common.Address
	Amount  *big.Int
	Status  uint8
}

func NewEscrowGateway(client *Client, escrowAddress string, log *zap.Logger) (*EscrowGateway, error) {
	if !common.IsHexAddress(escrowAddress) {
		return nil, fmt.Errorf("invalid escrow address: %s", escrowAddress)
	}
	parsedABI, err := abi.JSON(strings.NewReader(contracts.EscrowABI))
	if err != nil {
		return nil, fmt.Errorf("parse escrow abi: %w", err)
	}
	return &EscrowGateway{
		client:  client,
		abi:     parsedABI,
		address: common.HexToAddress(escrowAddress),
		log:     log,
	}, nil
}

// Address returns the escrow contract address, the approval spender.
func (g *EscrowGateway) Address() common.Address {
	return g.address
}

func (g *EscrowGateway) CreatePayment(ctx context.Context, orderID [32]byte, partner common.Address, amount *big.Int) (*types.Receipt, error) {
	return g.transact(ctx, "createPayment", orderID, partner, amount)
}

// GetPayment is a pure read, safe to call unlimited times. An unset record
// comes back with the zero address as buyer.
func (g *EscrowGateway) GetPayment(ctx context.Context, orderID [32]byte) (models.EscrowPayment, error) {
	backend, err := g.client.Backend(ctx)
	if err != nil {
		return models.EscrowPayment{}, Classify(err)
	}
	bound := bind.NewBoundContract(g.address, g.abi, backend, backend, backend)

	var out []interface{}
	if err := bound.Call(&bind.CallOpts{Context: ctx}, &out, "getPayment", orderID); err != nil {
		return models.EscrowPayment{}, Classify(err)
	}

	rec := *abi.ConvertType(out[0], new(escrowPaymentResult)).(*escrowPaymentResult)
	return models.EscrowPayment{
		Buyer:   rec.Buyer,
		Partner: rec.Partner,
		Amount:  rec.Amount,
		Status:  models.PaymentStatus(rec.Status),
	}, nil
}

func (g *EscrowGateway) Release(ctx context.Context, orderID [32]byte) (*types.Receipt, error) {
	return g.transact(ctx, "release", orderID)
}

func (g *EscrowGateway) Refund(ctx context.Context, orderID [32]byte) (*types.Receipt, error) {
	return g.transact(ctx, "refund", orderID)
}

func (g *EscrowGateway) transact(ctx context.Context, method string, params ...interface{}) (*types.Receipt, error) {
	backend, err := g.client.Backend(ctx)
	if err != nil {
		return nil, Classify(err)
	}
	opts, err := g.client.Transactor(ctx)
	if err != nil {
		return nil, Classify(err)
	}

	bound := bind.NewBoundContract(g.address, g.abi, backend, backend, backend)
	tx, err := bound.Transact(opts, method, params...)
	if err != nil {
		return nil, Classify(err)
	}

	g.log.Debug("escrow tx submitted", zap.String("method", method), zap.String("tx", tx.Hash().Hex()))

	receipt, err := waitReceipt(ctx, backend, tx.Hash())
	if err != nil {
		return nil, &models.Failure{
			Kind:    models.FailTransientRPC,
			Message: fmt.Sprintf("%s submitted as %s but confirmation failed, check the explorer", method, tx.Hash().Hex()),
			Err:     err,
		}
	}
	if receipt.Status == types.ReceiptStatusFailed {
		return receipt, models.NewFailure(models.FailContractRevert, "%s transaction %s reverted on chain", method, tx.Hash().Hex())
	}
	return receipt, nil
}
