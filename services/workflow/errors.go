package main

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Error kinds. Every error returned by a use case wraps one of these so the
// HTTP layer can map it to a status and a stable code.
var (
	ErrValidation        = errors.New("validation failed")
	ErrForbidden         = errors.New("forbidden")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrApprovalRejected  = errors.New("approval rejected")

	ErrSignerUnavailable   = errors.New("signer not configured")
	ErrWrongNetwork        = errors.New("wrong network")
	ErrUnauthorizedSigner  = errors.New("unauthorized signer")
	ErrTransactionReverted = errors.New("transaction reverted")
	ErrOutOfGas            = errors.New("out of gas")
	ErrInsufficientFunds   = errors.New("insufficient funds for gas")
	ErrTransactionPending  = errors.New("transaction not mined")
	ErrChainUnavailable    = errors.New("chain rpc unavailable")
)

// SignerMismatchError reports that the configured signing account is neither
// the contract owner nor a registered quality tester.
type SignerMismatchError struct {
	Required common.Address
	Actual   common.Address
}

func (e *SignerMismatchError) Error() string {
	return fmt.Sprintf("signer %s is not authorized: required contract owner %s or a registered quality tester",
		e.Actual.Hex(), e.Required.Hex())
}

func (e *SignerMismatchError) Unwrap() error { return ErrUnauthorizedSigner }

// NetworkMismatchError reports that the RPC endpoint serves another chain.
type NetworkMismatchError struct {
	Expected int64
	Actual   int64
}

func (e *NetworkMismatchError) Error() string {
	return fmt.Sprintf("connected to chain %d, expected chain %d", e.Actual, e.Expected)
}

func (e *NetworkMismatchError) Unwrap() error { return ErrWrongNetwork }

// PreconditionError carries the first approval precondition that failed.
type PreconditionError struct {
	Reason string
}

func (e *PreconditionError) Error() string {
	return "approval precondition failed: " + e.Reason
}

func (e *PreconditionError) Unwrap() error { return ErrApprovalRejected }
