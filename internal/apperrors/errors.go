package apperrors

import (
	"fmt"
)

type ErrorCode string

const (
	Unauthenticated   ErrorCode = "unauthenticated"
	ItemUnavailable   ErrorCode = "item_unavailable"
	AlreadyOwned      ErrorCode = "already_owned"
	InsufficientFunds ErrorCode = "insufficient_funds"
	InvalidRequest    ErrorCode = "invalid_request"
	InternalError     ErrorCode = "internal_error"
)

// AppError is the caller-facing error shape. Declines carry an actionable
// message; internal failures keep storage detail out of Message and in the
// server log only.
type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func New(code ErrorCode, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

func Newf(code ErrorCode, format string, args ...any) *AppError {
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...)}
}

var (
	ErrUnauthenticated = New(Unauthenticated, "user not authenticated")
	ErrItemUnavailable = New(ItemUnavailable, "worksheet is not available")
	ErrAlreadyOwned    = New(AlreadyOwned, "you already own this worksheet")
	ErrInternal        = New(InternalError, "an internal error occurred")
)

// InsufficientFundsError is the declined-funds result. It keeps the exact
// shortfall so the response can tell the user what to top up.
type InsufficientFundsError struct {
	Required  int64 `json:"required"`
	Available int64 `json:"available"`
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("%s: need %d credits but only have %d", InsufficientFunds, e.Required, e.Available)
}
