package models

import (
	"errors"
	"fmt"
)

// FailureKind is the closed taxonomy every surfaced error resolves to.
type FailureKind string

const (
	FailWalletUnavailable     FailureKind = "wallet_unavailable"
	FailNetworkSwitchRejected FailureKind = "network_switch_rejected"
	FailInvalidAmount         FailureKind = "invalid_amount"
	FailInvalidInput          FailureKind = "invalid_input"
	FailTransientRPC          FailureKind = "transient_rpc_failure"
	FailContractRevert        FailureKind = "contract_revert"
	FailNotFound              FailureKind = "not_found"
	FailNotAuthorized         FailureKind = "not_authorized"
	FailInvalidState          FailureKind = "invalid_state"
)

// Failure carries a classified error across the chain boundary. Only
// failures with Retryable set are ever re-attempted; business-rule
// rejections and local validation failures never are.
type Failure struct {
	Kind      FailureKind
	Message   string
	Retryable bool
	Err       error
}

func (f *Failure) Error() string {
	if f.Err != nil {
		return f.Message + ": " + f.Err.Error()
	}
	return f.Message
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// NewFailure builds a fatal (non-retryable) failure.
func NewFailure(kind FailureKind, format string, args ...any) *Failure {
	return &Failure{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapFailure builds a fatal failure around an underlying error.
func WrapFailure(kind FailureKind, err error, format string, args ...any) *Failure {
	return &Failure{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// TransientFailure builds a retryable RPC-layer failure.
func TransientFailure(err error, format string, args ...any) *Failure {
	return &Failure{Kind: FailTransientRPC, Message: fmt.Sprintf(format, args...), Retryable: true, Err: err}
}

// IsRetryable reports whether err was classified as safe to retry.
func IsRetryable(err error) bool {
	var f *Failure
	return errors.As(err, &f) && f.Retryable
}

// KindOf extracts the failure category, or "" for unclassified errors.
func KindOf(err error) FailureKind {
	var f *Failure
	if errors.As(err, &f) {
		return f.Kind
	}
	return ""
}
