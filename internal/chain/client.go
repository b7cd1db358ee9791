package chain

import (
	"context"
	"errors"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/urban-mobility/escrow-backend/internal/config"
	"github.com/urban-mobility/escrow-backend/internal/models"
)

// Session is the connected wallet state: account address plus the chain it
// is currently on. Re-derived before every write; never cached long-term
// since the wallet may switch accounts or networks between actions.
type Session struct {
	Account common.Address
	ChainID uint64
}

// Client wraps the wallet provider: connection, network identity
// verification and switching, read access to account state.
type Client struct {
	provider Provider
	log      *zap.Logger
}

func NewClient(provider Provider, log *zap.Logger) *Client {
	return &Client{provider: provider, log: log}
}

// Connect requests account access from the wallet provider.
func (c *Client) Connect(ctx context.Context) (*Session, error) {
	if c.provider == nil {
		return nil, models.NewFailure(models.FailWalletUnavailable, "no wallet provider, connect a wallet first")
	}
	accounts, err := c.provider.RequestAccounts(ctx)
	if err != nil {
		return nil, models.WrapFailure(models.FailWalletUnavailable, err, "wallet refused account access")
	}
	if len(accounts) == 0 {
		return nil, models.NewFailure(models.FailWalletUnavailable, "wallet returned no accounts")
	}
	chainID, err := c.provider.ChainID(ctx)
	if err != nil {
		return nil, Classify(err)
	}
	return &Session{Account: accounts[0], ChainID: chainID.Uint64()}, nil
}

// EnsureNetwork verifies the wallet is on the target chain and switches it
// there if not. Idempotent: already on target means no wallet prompts at
// all. If the wallet does not know the chain it is asked to add it from the
// profile's metadata, then the switch is retried once.
func (c *Client) EnsureNetwork(ctx context.Context, target config.NetworkProfile) error {
	if c.provider == nil {
		return models.NewFailure(models.FailWalletUnavailable, "no wallet provider, connect a wallet first")
	}
	current, err := c.provider.ChainID(ctx)
	if err != nil {
		return Classify(err)
	}
	if current.Uint64() == target.ChainID {
		return nil
	}

	c.log.Info("switching network",
		zap.Uint64("from_chain_id", current.Uint64()),
		zap.Uint64("to_chain_id", target.ChainID),
		zap.String("network", target.Name),
	)

	err = c.provider.SwitchChain(ctx, target.ChainID)
	if err == nil {
		return nil
	}
	if !errors.Is(err, ErrUnknownChain) {
		return models.WrapFailure(models.FailNetworkSwitchRejected, err, "wallet refused to switch to %s", target.Name)
	}

	if err := c.provider.AddChain(ctx, target); err != nil {
		return models.WrapFailure(models.FailNetworkSwitchRejected, err, "wallet refused to add network %s", target.Name)
	}
	if err := c.provider.SwitchChain(ctx, target.ChainID); err != nil {
		return models.WrapFailure(models.FailNetworkSwitchRejected, err, "wallet refused to switch to %s after adding it", target.Name)
	}
	return nil
}

// Transactor returns fresh signing opts from the provider.
func (c *Client) Transactor(ctx context.Context) (*bind.TransactOpts, error) {
	if c.provider == nil {
		return nil, models.NewFailure(models.FailWalletUnavailable, "no wallet provider, connect a wallet first")
	}
	return c.provider.Transactor(ctx)
}

// Backend returns the active RPC connection.
func (c *Client) Backend(ctx context.Context) (Backend, error) {
	if c.provider == nil {
		return nil, models.NewFailure(models.FailWalletUnavailable, "no wallet provider, connect a wallet first")
	}
	return c.provider.Backend(ctx)
}

// waitReceipt polls until the transaction is mined or the context ends.
func waitReceipt(ctx context.Context, backend Backend, txHash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		receipt, err := backend.TransactionReceipt(ctx, txHash)
		if receipt != nil {
			return receipt, nil
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
