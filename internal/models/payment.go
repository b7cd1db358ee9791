package models

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// PaymentStatus mirrors the escrow contract's status encoding:
// 0=None, 1=Pending, 2=Released, 3=Refunded.
type PaymentStatus uint8

const (
	PaymentStatusNone PaymentStatus = iota
	PaymentStatusPending
	PaymentStatusReleased
	PaymentStatusRefunded
)

func (s PaymentStatus) String() string {
	switch s {
	case PaymentStatusNone:
		return "none"
	case PaymentStatusPending:
		return "pending"
	case PaymentStatusReleased:
		return "released"
	case PaymentStatusRefunded:
		return "refunded"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// Valid state transitions: from -> []to
var ValidPaymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentStatusNone:     {PaymentStatusPending},
	PaymentStatusPending:  {PaymentStatusReleased, PaymentStatusRefunded},
	PaymentStatusReleased: {},
	PaymentStatusRefunded: {},
}

func IsValidTransition(from, to PaymentStatus) bool {
	allowed, ok := ValidPaymentTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transitions are possible.
func (s PaymentStatus) Terminal() bool {
	return len(ValidPaymentTransitions[s]) == 0 && s != PaymentStatusNone
}

// Release split, fixed by the escrow contract.
const (
	ReleaseSplitPartnerBPS  = 4000
	ReleaseSplitPlatformBPS = 4000
	ReleaseSplitCityBPS     = 2000
)

// EscrowPayment is the authoritative on-chain record, keyed by a bytes32
// order identifier. Never cached beyond a single check.
type EscrowPayment struct {
	Buyer   common.Address
	Partner common.Address
	Amount  *big.Int
	Status  PaymentStatus
}

// Exists reports whether the contract holds a record for the queried key.
// An unset record comes back with the zero address as buyer.
func (p EscrowPayment) Exists() bool {
	return p.Buyer != (common.Address{})
}

// EncodeOrderID maps an order identifier onto the contract's fixed-width
// bytes32 key: UTF-8 bytes, zero-padded on the right, truncated past 32
// bytes. Every call site (create, status, release, refund) must go through
// this function or lookups silently diverge.
func EncodeOrderID(id string) [32]byte {
	var out [32]byte
	copy(out[:], id)
	return out
}

// DecodeOrderID recovers the identifier from its bytes32 key, dropping the
// zero padding. Identifiers longer than 32 bytes come back truncated.
func DecodeOrderID(key [32]byte) string {
	return strings.TrimRight(string(key[:]), "\x00")
}

// ParseAmount converts a user-entered decimal string ("12.50") into the
// token's integer base-unit representation. Rejects empty, malformed,
// zero and negative input before any chain call is attempted.
func ParseAmount(amountStr string, decimals uint8) (*big.Int, error) {
	s := strings.TrimSpace(amountStr)
	if s == "" {
		return nil, NewFailure(FailInvalidAmount, "amount is empty")
	}
	if strings.HasPrefix(s, "-") {
		return nil, NewFailure(FailInvalidAmount, "amount must be positive: %s", amountStr)
	}

	intPart := s
	fracPart := ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		intPart, fracPart = s[:i], s[i+1:]
	}
	if intPart == "" {
		intPart = "0"
	}
	if !isDigits(intPart) || (fracPart != "" && !isDigits(fracPart)) {
		return nil, NewFailure(FailInvalidAmount, "amount is not a number: %s", amountStr)
	}
	if len(fracPart) > int(decimals) {
		return nil, NewFailure(FailInvalidAmount, "amount has more than %d decimal places: %s", decimals, amountStr)
	}

	// pad the fractional part out to the token's precision
	fracPart += strings.Repeat("0", int(decimals)-len(fracPart))

	units, ok := new(big.Int).SetString(intPart+fracPart, 10)
	if !ok {
		return nil, NewFailure(FailInvalidAmount, "amount is not a number: %s", amountStr)
	}
	if units.Sign() <= 0 {
		return nil, NewFailure(FailInvalidAmount, "amount must be positive: %s", amountStr)
	}
	return units, nil
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
