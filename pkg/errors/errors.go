package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// Kind classifies a failure independently of its message.
type Kind string

const (
	KindNotFound          Kind = "not_found"
	KindInsufficientFunds Kind = "insufficient_funds"
	KindInvalidOperation  Kind = "invalid_operation"
	KindNoRewardYet       Kind = "no_reward_yet"
	KindUnauthorized      Kind = "unauthorized"
	KindForbidden         Kind = "forbidden"
	KindConflict          Kind = "conflict"
	KindTooManyRequests   Kind = "too_many_requests"
	KindInternal          Kind = "internal"
)

type AppError struct {
	Kind    Kind   `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`

	// MinutesRemaining is only set for KindNoRewardYet.
	MinutesRemaining int `json:"minutes_remaining,omitempty"`
}

func (e *AppError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s", e.Message, e.Details)
	}
	return e.Message
}

// Is matches on kind so that errors.Is(err, ErrInsufficientFunds) holds for
// any insufficient funds error regardless of message.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

func NewAppError(kind Kind, message string, details ...string) *AppError {
	var detail string
	if len(details) > 0 {
		detail = details[0]
	}
	return &AppError{
		Kind:    kind,
		Code:    statusFor(kind),
		Message: message,
		Details: detail,
	}
}

func NewNotFoundError(resource string) *AppError {
	return NewAppError(KindNotFound, fmt.Sprintf("%s not found", resource))
}

func NewInsufficientFundsError(currency string) *AppError {
	return NewAppError(KindInsufficientFunds, fmt.Sprintf("Insufficient %s balance", currency))
}

func NewInvalidOperationError(message string, details ...string) *AppError {
	return NewAppError(KindInvalidOperation, message, details...)
}

func NewNoRewardYetError(minutesRemaining int) *AppError {
	err := NewAppError(KindNoRewardYet,
		fmt.Sprintf("No reward available yet, %d minutes remaining", minutesRemaining))
	err.MinutesRemaining = minutesRemaining
	return err
}

func NewUnauthorizedError(message string) *AppError {
	return NewAppError(KindUnauthorized, message)
}

func NewForbiddenError(message string) *AppError {
	return NewAppError(KindForbidden, message)
}

func NewConflictError(message string) *AppError {
	return NewAppError(KindConflict, message)
}

func NewTooManyRequestsError(message string) *AppError {
	return NewAppError(KindTooManyRequests, message)
}

func NewInternalError(message string, details ...string) *AppError {
	return NewAppError(KindInternal, message, details...)
}

// KindOf returns the kind of the first AppError in err's chain, or
// KindInternal when there is none.
func KindOf(err error) Kind {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries an AppError of the given kind.
func IsKind(err error, kind Kind) bool {
	var appErr *AppError
	return stderrors.As(err, &appErr) && appErr.Kind == kind
}

// AsAppError unwraps err into an AppError, converting unknown errors into an
// internal error that does not leak the underlying message.
func AsAppError(err error) *AppError {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}
	return NewInternalError("Internal server error")
}

func statusFor(kind Kind) int {
	switch kind {
	case KindNotFound:
		return http.StatusNotFound
	case KindInsufficientFunds:
		return http.StatusUnprocessableEntity
	case KindInvalidOperation:
		return http.StatusBadRequest
	case KindNoRewardYet:
		return http.StatusTooEarly
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindConflict:
		return http.StatusConflict
	case KindTooManyRequests:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

var (
	ErrAccountNotFound    = NewNotFoundError("Account")
	ErrRecipientNotFound  = NewNotFoundError("Recipient")
	ErrWithdrawalNotFound = NewNotFoundError("Withdrawal")
	ErrStakingNotFound    = NewNotFoundError("Staking position")
	ErrInsufficientFunds  = NewAppError(KindInsufficientFunds, "Insufficient funds")
	ErrInvalidAmount      = NewInvalidOperationError("Amount must be greater than zero")
	ErrInvalidCurrency    = NewInvalidOperationError("Unsupported currency")
	ErrSameCurrency       = NewInvalidOperationError("Cannot convert to the same currency")
	ErrSelfTransfer       = NewInvalidOperationError("Cannot transfer to yourself")
	ErrMiningNotActive    = NewInvalidOperationError("Mining is not active")
	ErrMiningActive       = NewInvalidOperationError("Mining is already active")
	ErrNoRewardYet        = NewAppError(KindNoRewardYet, "No reward available yet")
	ErrAlreadyProcessed   = NewInvalidOperationError("Withdrawal has already been processed")
	ErrInvalidCredentials = NewUnauthorizedError("Invalid credentials")
	ErrTokenInvalid       = NewUnauthorizedError("Invalid token")
	ErrAccessDenied       = NewForbiddenError("Access denied")
	ErrEmailTaken         = NewConflictError("Email already registered")
	ErrInvalidOTP         = NewInvalidOperationError("Invalid or expired OTP")
)
