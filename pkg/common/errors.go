package common

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind buckets an AppError for callers that branch on failure
// class rather than on message text.
type ErrorKind string

const (
	KindValidation  ErrorKind = "validation"
	KindTransaction ErrorKind = "transaction"
	KindCharge      ErrorKind = "charge"
	KindInternal    ErrorKind = "internal"
)

// Shared machine-readable reasons. Domain packages keep their own
// reason strings local; only reasons checked across package borders
// live here.
const (
	ReasonPriceChanged = "priceChanged"
	ReasonNotFound     = "notFound"
)

// AppError is the application error carried across service boundaries.
// Code is an HTTP-ish status for transport layers; Reason is a stable
// token for programmatic handling.
type AppError struct {
	Kind    ErrorKind
	Code    int
	Reason  string
	Message string
	Err     error
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap exposes the wrapped cause to errors.Is / errors.As
func (e *AppError) Unwrap() error {
	return e.Err
}

// NewValidationError reports malformed input (4xx)
func NewValidationError(message string, err error) *AppError {
	return &AppError{Kind: KindValidation, Code: http.StatusBadRequest, Message: message, Err: err}
}

// NewTransactionError reports a business-rule violation the caller can
// recover from (different trip, corrected amount, fresh price).
func NewTransactionError(reason, message string) *AppError {
	return &AppError{Kind: KindTransaction, Code: http.StatusBadRequest, Reason: reason, Message: message}
}

// NewNotFoundError reports a missing entity during a workflow
func NewNotFoundError(message string) *AppError {
	return &AppError{Kind: KindTransaction, Code: http.StatusNotFound, Reason: ReasonNotFound, Message: message}
}

// NewChargeError reports a gateway decline or network failure. The
// enclosing DB transaction rolls back; the payment row keeps the error
// payload for operator triage.
func NewChargeError(message string, err error) *AppError {
	return &AppError{Kind: KindCharge, Code: http.StatusPaymentRequired, Message: message, Err: err}
}

// NewInternalError reports an invariant violation (5xx, fatal)
func NewInternalError(message string, err error) *AppError {
	return &AppError{Kind: KindInternal, Code: http.StatusInternalServerError, Message: message, Err: err}
}

// NewBadRequestError reports malformed input with an explicit message
func NewBadRequestError(message string, err error) *AppError {
	return NewValidationError(message, err)
}

// KindOf extracts the error kind, defaulting to internal for foreign
// errors.
func KindOf(err error) ErrorKind {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

// IsReason reports whether err carries the given machine reason
func IsReason(err error, reason string) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Reason == reason
}
