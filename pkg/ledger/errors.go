package ledger

import (
	"errors"
	"fmt"
)

// Domain-level error values returned by the payment ledger.
var (
	ErrReferenceAmount       = errors.New("reference amount cannot hold funds")
	ErrNotReferenceAmount    = errors.New("amount is not a reference")
	ErrOverdraft             = errors.New("amount overdraft")
	ErrOverdraftUnsupported  = errors.New("negative balance not supported")
	ErrMissingAssetCode      = errors.New("missing asset code")
	ErrUnknownReceipt        = errors.New("receipt not present in amount")
	ErrAmountOverflow        = errors.New("amount overflow")
	ErrInvalidAmount         = errors.New("invalid serialized amount")
	ErrNonceMismatch         = errors.New("nonce mismatch")
	ErrMissingNonce          = errors.New("missing nonce")
	ErrCommittedStartsBefore = errors.New("committed span starts before uncommitted span")
	ErrCommittedEndsAfter    = errors.New("committed span ends after uncommitted span")
	ErrUnknownHistogramBin   = errors.New("unknown histogram bin")
	ErrInvalidSpan           = errors.New("invalid span")
	ErrInvalidChanges        = errors.New("invalid changes")
	ErrInvalidState          = errors.New("invalid video paid state")
	ErrCurrencyNotQuotable   = errors.New("currency not quotable")
	ErrPriceUnavailable      = errors.New("price unavailable")
	ErrReceiptDiscarded      = errors.New("receipt discarded")
	ErrReceiptNotAssigned    = errors.New("receipt sequence not assigned")
	ErrInvalidReceipts       = errors.New("invalid receipts")
	ErrInvalidConfig         = errors.New("invalid ledger config")
)

// OperationError wraps a failure with a stable operation code.
type OperationError struct {
	operation string
	subject   string
	code      string
	err       error
}

// Error returns the formatted error message.
func (operationError OperationError) Error() string {
	return fmt.Sprintf("%s.%s.%s: %v", operationError.operation, operationError.subject, operationError.code, operationError.err)
}

// Unwrap returns the underlying error.
func (operationError OperationError) Unwrap() error {
	return operationError.err
}

// Operation returns the operation segment.
func (operationError OperationError) Operation() string {
	return operationError.operation
}

// Subject returns the subject segment.
func (operationError OperationError) Subject() string {
	return operationError.subject
}

// Code returns the stable error code segment.
func (operationError OperationError) Code() string {
	return operationError.code
}

// WrapError wraps an error with operation, subject, and code metadata.
func WrapError(operation string, subject string, code string, err error) error {
	if err == nil {
		return nil
	}
	return OperationError{
		operation: operation,
		subject:   subject,
		code:      code,
		err:       err,
	}
}
