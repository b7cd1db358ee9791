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

// TokenLedger performs stablecoin calls against the token contract. No
// retries happen here; that is the retry executor's job.
type TokenLedger interface {
	Decimals(ctx context.Context) (uint8, error)
	BalanceOf(ctx context.Context, owner common.Address) (*big.Int, error)
	Allowance(ctx context.Context, owner, spender common.Address) (*big.Int, error)
	Approve(ctx context.Context, spender common.Address, amount *big.Int) (*types.Receipt, error)
	Transfer(ctx context.Context, to common.Address, amount *big.Int) (*types.Receipt, error)
}

// TokenGateway binds the ERC-20 ABI over the chain client's active
// backend. The backend is looked up per call so a network switch between
// operations is picked up automatically.
type TokenGateway struct {
	client  *Client
	abi     abi.ABI
	address common.Address
	log     *zap.Logger
}

func NewTokenGateway(client *Client, tokenAddress string, log *zap.Logger) (*TokenGateway, error) {
	if !common.IsHexAddress(tokenAddress) {
		return nil, fmt.Errorf("invalid token address: %s", tokenAddress)
	}
	parsedABI, err := abi.JSON(strings.NewReader(contracts.ERC20ABI))
	if err != nil {
		return nil, fmt.Errorf("parse erc20 abi: %w", err)
	}
	return &TokenGateway{
		client:  client,
		abi:     parsedABI,
		address: common.HexToAddress(tokenAddress),
		log:     log,
	}, nil
}

func (g *TokenGateway) Decimals(ctx context.Context) (uint8, error) {
	var out []interface{}
	if err := g.call(ctx, &out, "decimals"); err != nil {
		return 0, err
	}
	return *abi.ConvertType(out[0], new(uint8)).(*uint8), nil
}

func (g *TokenGateway) BalanceOf(ctx context.Context, owner common.Address) (*big.Int, error) {
	var out []interface{}
	if err := g.call(ctx, &out, "balanceOf", owner); err != nil {
		return nil, err
	}
	return *abi.ConvertType(out[0], new(*big.Int)).(**big.Int), nil
}

func (g *TokenGateway) Allowance(ctx context.Context, owner, spender common.Address) (*big.Int, error) {
	var out []interface{}
	if err := g.call(ctx, &out, "allowance", owner, spender); err != nil {
		return nil, err
	}
	return *abi.ConvertType(out[0], new(*big.Int)).(**big.Int), nil
}

// Approve lets the spender pull up to amount units and waits for the
// approval to be mined. Re-approving is safe (allowance is overwritten,
// not added) but callers must not approve twice for one logical payment.
func (g *TokenGateway) Approve(ctx context.Context, spender common.Address, amount *big.Int) (*types.Receipt, error) {
	return g.transact(ctx, "approve", spender, amount)
}

// Transfer moves amount units directly to the recipient and waits for the
// transfer to be mined.
func (g *TokenGateway) Transfer(ctx context.Context, to common.Address, amount *big.Int) (*types.Receipt, error) {
	return g.transact(ctx, "transfer", to, amount)
}

func (g *TokenGateway) call(ctx context.Context, out *[]interface{}, method string, params ...interface{}) error {
	backend, err := g.client.Backend(ctx)
	if err != nil {
		return Classify(err)
	}
	bound := bind.NewBoundContract(g.address, g.abi, backend, backend, backend)
	if err := bound.Call(&bind.CallOpts{Context: ctx}, out, method, params...); err != nil {
		return Classify(err)
	}
	return nil
}

func (g *TokenGateway) transact(ctx context.Context, method string, params ...interface{}) (*types.Receipt, error) {
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

	g.log.Debug("token tx submitted", zap.String("method", method), zap.String("tx", tx.Hash().Hex()))

	receipt, err := waitReceipt(ctx, backend, tx.Hash())
	if err != nil {
		// The hash exists, so resubmitting could double-spend. Surface a
		// non-retryable failure naming the transaction.
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
