package chain

import (
	"bytes"
	"context"
	"errors"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/urban-mobility/escrow-backend/internal/models"
)

// Error(string) selector, prefixing ABI-encoded revert reasons.
var revertSelector = []byte{0x08, 0xc3, 0x79, 0xa0}

var stringArgs abi.Arguments

func init() {
	stringType, err := abi.NewType("string", "", nil)
	if err != nil {
		panic(err)
	}
	stringArgs = abi.Arguments{{Type: stringType}}
}

// Classify resolves a raw chain-layer error into the closed failure
// taxonomy. This is the single boundary: gateways call it immediately
// after every chain interaction, nothing downstream string-matches errors.
//
// Contract reverts and cancellations are fatal. Provider-internal errors,
// transport failures and submission failures without a revert reason are
// transient and safe to retry.
func Classify(err error) error {
	if err == nil {
		return nil
	}

	var f *models.Failure
	if errors.As(err, &f) {
		return f
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &models.Failure{Kind: models.FailTransientRPC, Message: "operation cancelled", Err: err}
	}

	if reason, ok := revertReason(err); ok {
		return classifyRevert(reason, err)
	}

	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		return models.TransientFailure(err, "rpc error (code %d)", rpcErr.ErrorCode())
	}

	return models.TransientFailure(err, "network error")
}

// revertReason extracts a human-readable revert reason if err carries one,
// either as ABI-encoded error data or inside the message text.
func revertReason(err error) (string, bool) {
	var dataErr rpc.DataError
	if errors.As(err, &dataErr) {
		if reason, ok := decodeRevertData(dataErr.ErrorData()); ok {
			return reason, true
		}
	}

	msg := err.Error()
	lower := strings.ToLower(msg)
	idx := strings.Index(lower, "execution reverted")
	if idx < 0 {
		if strings.Contains(lower, "revert") {
			return cleanReason(msg), true
		}
		return "", false
	}
	reason := msg[idx+len("execution reverted"):]
	return cleanReason(reason), true
}

func decodeRevertData(data interface{}) (string, bool) {
	hexStr, ok := data.(string)
	if !ok {
		return "", false
	}
	raw, err := hexutil.Decode(hexStr)
	if err != nil || len(raw) < 4 || !bytes.Equal(raw[:4], revertSelector) {
		return "", false
	}
	unpacked, err := stringArgs.Unpack(raw[4:])
	if err != nil || len(unpacked) != 1 {
		return "", false
	}
	reason, ok := unpacked[0].(string)
	return reason, ok
}

// cleanReason strips boilerplate prefixes so the surfaced message is just
// the contract's own words.
func cleanReason(reason string) string {
	reason = strings.TrimSpace(reason)
	for _, prefix := range []string{":", "execution reverted", "Error:", "error:", "revert:", "revert"} {
		reason = strings.TrimSpace(strings.TrimPrefix(reason, prefix))
	}
	return reason
}

// classifyRevert maps known revert reasons from the escrow contract onto
// specific guidance; everything else surfaces the cleaned reason verbatim.
func classifyRevert(reason string, err error) *models.Failure {
	lower := strings.ToLower(reason)
	switch {
	case strings.Contains(lower, "not authorized"):
		return models.WrapFailure(models.FailNotAuthorized, err, "only the buyer can release this payment")
	case strings.Contains(lower, "only platform"):
		return models.WrapFailure(models.FailNotAuthorized, err, "only the platform treasury can refund this payment")
	case strings.Contains(lower, "not pending"):
		return models.WrapFailure(models.FailInvalidState, err, "payment is not pending")
	case reason == "":
		return models.WrapFailure(models.FailContractRevert, err, "contract rejected the transaction")
	default:
		return models.WrapFailure(models.FailContractRevert, err, "contract rejected the transaction: %s", reason)
	}
}
