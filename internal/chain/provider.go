package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/urban-mobility/escrow-backend/internal/config"
)

var (
	// ErrNoProvider means no wallet capability was injected at all.
	ErrNoProvider = errors.New("wallet provider not available")
	// ErrUnknownChain is returned by SwitchChain when the wallet has no
	// profile registered for the requested chain id.
	ErrUnknownChain = errors.New("chain is not known to the wallet")
)

// Backend is the read/send surface a gateway needs from the active RPC
// connection. *ethclient.Client satisfies it.
type Backend interface {
	bind.ContractBackend
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Provider is the wallet boundary: account access, network identity and
// transaction signing. Injected into the chain client at construction so
// the coordinator can run against a stub.
type Provider interface {
	RequestAccounts(ctx context.Context) ([]common.Address, error)
	ChainID(ctx context.Context) (*big.Int, error)
	SwitchChain(ctx context.Context, chainID uint64) error
	AddChain(ctx context.Context, profile config.NetworkProfile) error
	Transactor(ctx context.Context) (*bind.TransactOpts, error)
	Backend(ctx context.Context) (Backend, error)
}

// KeyedProvider is the production wallet: a local signing key plus one RPC
// connection per registered network profile. Switching chains re-dials the
// profile's RPC endpoint; adding a chain registers a new profile.
type KeyedProvider struct {
	key     *ecdsa.PrivateKey
	account common.Address

	mu       sync.Mutex
	profiles map[uint64]config.NetworkProfile
	client   *ethclient.Client
	chainID  *big.Int
}

func NewKeyedProvider(ctx context.Context, keyHex string, initial config.NetworkProfile, known []config.NetworkProfile) (*KeyedProvider, error) {
	if keyHex == "" {
		return nil, ErrNoProvider
	}
	key, err := parsePrivateKey(keyHex)
	if err != nil {
		return nil, err
	}
	if initial.RPCURL == "" {
		return nil, fmt.Errorf("network %q has no rpc url", initial.Name)
	}

	cli, err := ethclient.DialContext(ctx, initial.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}
	chainID, err := cli.ChainID(ctx)
	if err != nil {
		cli.Close()
		return nil, fmt.Errorf("fetch chain id: %w", err)
	}

	profiles := make(map[uint64]config.NetworkProfile, len(known))
	for _, p := range known {
		profiles[p.ChainID] = p
	}
	profiles[initial.ChainID] = initial

	return &KeyedProvider{
		key:      key,
		account:  crypto.PubkeyToAddress(key.PublicKey),
		profiles: profiles,
		client:   cli,
		chainID:  chainID,
	}, nil
}

func parsePrivateKey(hexKey string) (*ecdsa.PrivateKey, error) {
	hexKey = strings.TrimPrefix(hexKey, "0x")
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return key, nil
}

func (p *KeyedProvider) RequestAccounts(ctx context.Context) ([]common.Address, error) {
	return []common.Address{p.account}, nil
}

func (p *KeyedProvider) ChainID(ctx context.Context) (*big.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return new(big.Int).Set(p.chainID), nil
}

func (p *KeyedProvider) SwitchChain(ctx context.Context, chainID uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.chainID.Uint64() == chainID {
		return nil
	}
	profile, ok := p.profiles[chainID]
	if !ok {
		return ErrUnknownChain
	}

	cli, err := ethclient.DialContext(ctx, profile.RPCURL)
	if err != nil {
		return fmt.Errorf("dial %s rpc: %w", profile.Name, err)
	}
	got, err := cli.ChainID(ctx)
	if err != nil {
		cli.Close()
		return fmt.Errorf("fetch chain id from %s: %w", profile.Name, err)
	}
	if got.Uint64() != chainID {
		cli.Close()
		return fmt.Errorf("rpc %s reports chain id %d, expected %d", profile.RPCURL, got.Uint64(), chainID)
	}

	p.client.Close()
	p.client = cli
	p.chainID = got
	return nil
}

func (p *KeyedProvider) AddChain(ctx context.Context, profile config.NetworkProfile) error {
	if profile.RPCURL == "" {
		return fmt.Errorf("network %q has no rpc url", profile.Name)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.profiles[profile.ChainID] = profile
	return nil
}

// Transactor builds fresh signing opts on every call. The signer is never
// cached across operations.
func (p *KeyedProvider) Transactor(ctx context.Context) (*bind.TransactOpts, error) {
	p.mu.Lock()
	chainID := new(big.Int).Set(p.chainID)
	p.mu.Unlock()

	opts, err := bind.NewKeyedTransactorWithChainID(p.key, chainID)
	if err != nil {
		return nil, fmt.Errorf("transactor: %w", err)
	}
	opts.Context = ctx
	opts.GasLimit = 0 // let node estimate
	opts.GasPrice = nil
	opts.Nonce = nil
	return opts, nil
}

func (p *KeyedProvider) Backend(ctx context.Context) (Backend, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client == nil {
		return nil, ErrNoProvider
	}
	return p.client, nil
}
