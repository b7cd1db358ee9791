package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

// TokenInfo describes the stablecoin contract on a given chain.
type TokenInfo struct {
	Address  string
	Decimals uint8
	Symbol   string
}

// CurrencyInfo describes the chain's native currency, used when the wallet
// has to add an unknown network.
type CurrencyInfo struct {
	Name     string
	Symbol   string
	Decimals uint8
}

// NetworkProfile identifies a target chain. Static, process-wide
// configuration; exactly one profile is preferred at a time and all
// monetary operations must execute against its chain id.
type NetworkProfile struct {
	ChainID        uint64
	Name           string
	RPCURL         string
	ExplorerURL    string
	NativeCurrency CurrencyInfo
	Token          TokenInfo
	EscrowAddress  string
}

type Config struct {
	// Chain
	Profiles         []NetworkProfile
	PreferredChainID uint64
	WalletKeyHex     string // signer key for the local wallet session
	PlatformTreasury string // optional; enables local refund pre-checks when set

	// Retry
	RetryMaxAttempts  int
	RetryInitialDelay time.Duration

	// Storage
	OrderDBPath string

	// Worker
	ReconcileInterval time.Duration

	// Server
	APIPort string
}

func Load() *Config {
	_ = godotenv.Load()

	cfg := &Config{
		PreferredChainID: uint64(getEnvInt("PREFERRED_CHAIN_ID", 80002)),
		WalletKeyHex:     getEnv("WALLET_PRIVATE_KEY", ""),
		PlatformTreasury: getEnv("ESCROW_PLATFORM_TREASURY", ""),

		RetryMaxAttempts:  getEnvInt("RETRY_MAX_ATTEMPTS", 3),
		RetryInitialDelay: time.Duration(getEnvInt("RETRY_INITIAL_DELAY_MS", 500)) * time.Millisecond,

		OrderDBPath: getEnv("ORDER_DB_PATH", "orders.db"),

		ReconcileInterval: time.Duration(getEnvInt("RECONCILE_INTERVAL_SECONDS", 30)) * time.Second,

		APIPort: getEnv("API_PORT", "3000"),
	}

	cfg.Profiles = []NetworkProfile{
		{
			ChainID:     80002,
			Name:        "Polygon Amoy",
			RPCURL:      getEnv("AMOY_RPC_URL", "https://rpc-amoy.polygon.technology"),
			ExplorerURL: "https://www.oklink.com/amoy",
			NativeCurrency: CurrencyInfo{
				Name:     "POL",
				Symbol:   "POL",
				Decimals: 18,
			},
			Token: TokenInfo{
				Address:  getEnv("AMOY_USDC_ADDRESS", "0x8Da11E8Bbf81b4696F68e0FF89fD11C25BB11Cd4"),
				Decimals: uint8(getEnvInt("AMOY_USDC_DECIMALS", 6)),
				Symbol:   "USDC",
			},
			EscrowAddress: getEnv("AMOY_ESCROW_ADDRESS", "0x24Ea4392CDC8cB4e80dE6c45D9D1b66Ad0f24292"),
		},
		{
			ChainID:     11155111,
			Name:        "Sepolia",
			RPCURL:      getEnv("SEPOLIA_RPC_URL", "https://sepolia.drpc.org"),
			ExplorerURL: "https://sepolia.etherscan.io",
			NativeCurrency: CurrencyInfo{
				Name:     "Sepolia Ether",
				Symbol:   "ETH",
				Decimals: 18,
			},
		},
	}

	return cfg
}

// Preferred returns the active network profile. All monetary operations run
// against this chain.
func (c *Config) Preferred() NetworkProfile {
	for _, p := range c.Profiles {
		if p.ChainID == c.PreferredChainID {
			return p
		}
	}
	return c.Profiles[0]
}

// ProfileFor looks up a configured profile by chain id.
func (c *Config) ProfileFor(chainID uint64) (NetworkProfile, bool) {
	for _, p := range c.Profiles {
		if p.ChainID == chainID {
			return p, true
		}
	}
	return NetworkProfile{}, false
}

func (c *Config) Validate(log *zap.Logger) {
	if c.WalletKeyHex == "" {
		log.Warn("WALLET_PRIVATE_KEY is not set, wallet connect will fail")
	}
	p := c.Preferred()
	if p.Token.Address == "" {
		log.Warn("preferred network has no stablecoin configured", zap.String("network", p.Name))
	}
	if p.EscrowAddress == "" {
		log.Warn("preferred network has no escrow contract configured", zap.String("network", p.Name))
	}
	if c.PlatformTreasury == "" {
		log.Warn("ESCROW_PLATFORM_TREASURY is not set, refund authorization is checked by the contract only")
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	s := os.Getenv(key)
	if s == "" {
		return fallback
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return fallback
	}
	return v
}
