package payment

import "errors"

var (
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrUnknownPackage      = errors.New("unknown credit package")
	ErrInvalidSignature    = errors.New("invalid webhook signature")
	ErrInvalidPayload      = errors.New("invalid webhook payload")
	ErrProjectMismatch     = errors.New("project mismatch")
	ErrOrderMismatch       = errors.New("order id mismatch")
	ErrAmountMismatch      = errors.New("amount mismatch")
	ErrNotSettled          = errors.New("gateway does not report the payment as completed")
	ErrStatusMismatch      = errors.New("gateway reports a different status")
	ErrInvalidStatus       = errors.New("invalid transaction status")
)
