package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

type ErrorCode string

const (
	InvalidInput         ErrorCode = "validation_error"
	InvalidAmount        ErrorCode = "invalid_amount"
	AccountNotFound      ErrorCode = "account_not_found"
	NotFound             ErrorCode = "not_found"
	DuplicateAccount     ErrorCode = "duplicate_account"
	DuplicateTransaction ErrorCode = "duplicate_transaction"
	ProviderUnavailable  ErrorCode = "provider_unavailable"
	ProviderDeclined     ErrorCode = "provider_declined"
	NotYetSuccessful     ErrorCode = "not_yet_successful"
	InsufficientBalance  ErrorCode = "insufficient_balance"
	InvalidAuthorization ErrorCode = "invalid_authorization"
	ConcurrencyConflict  ErrorCode = "concurrency_conflict"
	PersistenceFailure   ErrorCode = "persistence_failure"
	RateLimited          ErrorCode = "rate_limited"
	InternalError        ErrorCode = "internal_error"
)

type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Details string    `json:"details,omitempty"`
}

func (e AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is matches on code so wrapped copies of the predefined errors still compare equal.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

func NewAppError(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

func NewAppErrorf(code ErrorCode, format string, args ...interface{}) *AppError {
	return &AppError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// WithDetails returns a copy so the predefined errors are never mutated.
func (e *AppError) WithDetails(details string) *AppError {
	c := *e
	c.Details = details
	return &c
}

func (e *AppError) HTTPStatus() int {
	switch e.Code {
	case InvalidInput, InvalidAmount:
		return http.StatusBadRequest
	case AccountNotFound, NotFound:
		return http.StatusNotFound
	case DuplicateAccount, DuplicateTransaction, ConcurrencyConflict:
		return http.StatusConflict
	case InsufficientBalance, ProviderDeclined:
		return http.StatusUnprocessableEntity
	case InvalidAuthorization:
		return http.StatusForbidden
	case NotYetSuccessful:
		return http.StatusAccepted
	case RateLimited:
		return http.StatusTooManyRequests
	case ProviderUnavailable:
		return http.StatusBadGateway
	case PersistenceFailure:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Retryable reports whether the caller may repeat the same request unchanged.
func (e *AppError) Retryable() bool {
	switch e.Code {
	case ProviderUnavailable, NotYetSuccessful, ConcurrencyConflict, PersistenceFailure, RateLimited:
		return true
	}
	return false
}

// AsAppError unwraps err into an AppError, wrapping unknown errors as internal errors.
func AsAppError(err error) *AppError {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}
	return NewAppError(InternalError, "an unexpected error occurred").WithDetails(err.Error())
}

// HasCode reports whether err is an AppError carrying code.
func HasCode(err error, code ErrorCode) bool {
	var appErr *AppError
	return stderrors.As(err, &appErr) && appErr.Code == code
}

// Predefined errors for common cases
var (
	ErrInvalidInput            = NewAppError(InvalidInput, "invalid input")
	ErrInvalidAmount           = NewAppError(InvalidAmount, "amount must be positive")
	ErrInvalidAccountID        = NewAppError(InvalidInput, "invalid account id")
	ErrAccountNotFound         = NewAppError(AccountNotFound, "account not found")
	ErrRecordNotFound          = NewAppError(NotFound, "record not found")
	ErrDepositNotFound         = NewAppError(NotFound, "deposit transaction not found")
	ErrDuplicateAccount        = NewAppError(DuplicateAccount, "account already exists")
	ErrDuplicateTransaction    = NewAppError(DuplicateTransaction, "transaction already processed")
	ErrProviderUnavailable     = NewAppError(ProviderUnavailable, "payment provider unavailable")
	ErrProviderDeclined        = NewAppError(ProviderDeclined, "payment provider declined the request")
	ErrNotYetSuccessful        = NewAppError(NotYetSuccessful, "transaction not successful on provider yet")
	ErrInsufficientBalance     = NewAppError(InsufficientBalance, "insufficient balance")
	ErrInvalidPIN              = NewAppError(InvalidAuthorization, "incorrect pin")
	ErrConcurrencyConflict     = NewAppError(ConcurrencyConflict, "concurrent update on the same transaction")
	ErrPersistenceFailure      = NewAppError(PersistenceFailure, "failed to persist changes")
	ErrRateLimited             = NewAppError(RateLimited, "too many requests")
	ErrCannotBeginTransaction  = NewAppError(InternalError, "cannot begin transaction on a transactional store")
	ErrDepositBelongsElsewhere = NewAppError(InvalidInput, "deposit reference belongs to another account")
)
