package domain

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Error types for consistent error handling across the service. Each
// rejection carries a stable machine-readable code used in API payloads.

const (
	CodeInvalidAmount           = "INVALID_AMOUNT"
	CodeWalletNotActive         = "WALLET_NOT_ACTIVE"
	CodeSpendingLimitExceeded   = "SPENDING_LIMIT_EXCEEDED"
	CodeInvalidTransition       = "INVALID_TRANSITION"
	CodeInvalidStatusTransition = "INVALID_STATUS_TRANSITION"
	CodeStorageUnavailable      = "STORAGE_UNAVAILABLE"
)

// ErrInvalidAmount indicates a non-positive payment amount.
type ErrInvalidAmount struct {
	Amount decimal.Decimal
}

func (e *ErrInvalidAmount) Error() string {
	return fmt.Sprintf("invalid amount: %s (must be positive)", e.Amount)
}

func (e *ErrInvalidAmount) Code() string { return CodeInvalidAmount }

// ErrWalletNotActive indicates the wallet precondition gate failed.
type ErrWalletNotActive struct {
	WalletID string
	Status   WalletStatus
	Reason   string
}

func (e *ErrWalletNotActive) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("wallet %s is %s: %s", e.WalletID, e.Status, e.Reason)
	}
	return fmt.Sprintf("wallet %s is %s", e.WalletID, e.Status)
}

func (e *ErrWalletNotActive) Code() string { return CodeWalletNotActive }

// ErrSpendingLimitExceeded indicates one or both windows would be exceeded.
// Violations lists every violated scope, never just the first.
type ErrSpendingLimitExceeded struct {
	AgentID    string
	Violations []LimitViolation
}

func (e *ErrSpendingLimitExceeded) Error() string {
	scopes := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		scopes = append(scopes, string(v.Scope))
	}
	return fmt.Sprintf("spending limit exceeded for agent %s: %s", e.AgentID, strings.Join(scopes, ", "))
}

func (e *ErrSpendingLimitExceeded) Code() string { return CodeSpendingLimitExceeded }

// ErrInvalidTransition indicates a receipt state machine violation.
type ErrInvalidTransition struct {
	ReceiptID string
	From      ReceiptStatus
	To        ReceiptStatus
}

func (e *ErrInvalidTransition) Error() string {
	return fmt.Sprintf("receipt %s: invalid transition %s -> %s", e.ReceiptID, e.From, e.To)
}

func (e *ErrInvalidTransition) Code() string { return CodeInvalidTransition }

// ErrInvalidStatusTransition indicates a wallet state machine violation.
type ErrInvalidStatusTransition struct {
	WalletID string
	From     WalletStatus
	To       WalletStatus
}

func (e *ErrInvalidStatusTransition) Error() string {
	return fmt.Sprintf("wallet %s: invalid status transition %s -> %s", e.WalletID, e.From, e.To)
}

func (e *ErrInvalidStatusTransition) Code() string { return CodeInvalidStatusTransition }

// ErrStorageUnavailable indicates a backing store timeout or failure.
// No partial state is left behind, so the whole operation is safe to retry.
type ErrStorageUnavailable struct {
	Op  string
	Err error
}

func (e *ErrStorageUnavailable) Error() string {
	return fmt.Sprintf("storage unavailable during %s: %v", e.Op, e.Err)
}

func (e *ErrStorageUnavailable) Unwrap() error { return e.Err }

func (e *ErrStorageUnavailable) Code() string { return CodeStorageUnavailable }

// ErrNotFound indicates a resource was not found.
type ErrNotFound struct {
	Resource string
	ID       string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// ErrValidation indicates a validation error (bad input).
type ErrValidation struct {
	Field   string
	Message string
}

func (e *ErrValidation) Error() string {
	return fmt.Sprintf("validation error on '%s': %s", e.Field, e.Message)
}

// ErrExternalService indicates a failure in an external collaborator call.
type ErrExternalService struct {
	Service string
	Err     error
}

func (e *ErrExternalService) Error() string {
	return fmt.Sprintf("external service error [%s]: %v", e.Service, e.Err)
}

func (e *ErrExternalService) Unwrap() error { return e.Err }
