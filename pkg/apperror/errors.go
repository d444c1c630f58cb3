package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// AppError is a structured error that maps to HTTP responses.
type AppError struct {
	Code       string `json:"error_code"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"-"`
	Err        error  `json:"-"` // Wrapped internal error (not exposed to client)
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError.
func New(code string, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
	}
}

// Wrap wraps an internal error with an AppError.
func Wrap(code string, message string, httpStatus int, err error) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Err:        err,
	}
}

// Error codes, grouped by prefix.
const (
	CodeValidation           = "VAL_001"
	CodeNotFound             = "RES_001"
	CodeInsufficientBalance  = "LED_001"
	CodeInvalidState         = "LED_002"
	CodePartialRedemption    = "LED_003"
	CodeGateway              = "GW_001"
	CodeGatewayNotConfigured = "GW_002"
	CodeGatewayUnavailable   = "GW_003"
	CodeSignature            = "SEC_002"
	CodeUnauthorized         = "AUTH_003"
	CodeForbidden            = "AUTH_005"
	CodeRateLimit            = "RATE_001"
	CodeInternal             = "SYS_001"
)

// ---- Validation & lookup ----

// Validation returns a user-correctable input error.
func Validation(message string) *AppError {
	return New(CodeValidation, message, http.StatusBadRequest)
}

func ErrNotFound(entity string) *AppError {
	return New(CodeNotFound, fmt.Sprintf("%s not found", entity), http.StatusNotFound)
}

// ---- Ledger (LED) ----

func ErrInsufficientBalance() *AppError {
	return New(CodeInsufficientBalance, "Insufficient gift card balance", http.StatusPaymentRequired)
}

// ErrInvalidState reports that the entity is not in a state that allows the operation.
func ErrInvalidState(entity string, status string) *AppError {
	return New(CodeInvalidState, fmt.Sprintf("%s is %s", entity, status), http.StatusConflict)
}

func ErrPartialRedemptionNotAllowed() *AppError {
	return New(CodePartialRedemption, "Partial redemption is not allowed for this gift card; redeem the full balance", http.StatusBadRequest)
}

// ---- Gateways (GW) ----

// ErrGateway wraps a definitive provider rejection. The provider detail stays in Err.
func ErrGateway(message string, err error) *AppError {
	return Wrap(CodeGateway, message, http.StatusFailedDependency, err)
}

func ErrGatewayNotConfigured(provider string) *AppError {
	return New(CodeGatewayNotConfigured, fmt.Sprintf("%s gateway is not configured for this merchant", provider), http.StatusBadRequest)
}

func ErrGatewayUnavailable(err error) *AppError {
	return Wrap(CodeGatewayUnavailable, "Payment provider temporarily unavailable", http.StatusServiceUnavailable, err)
}

// ---- Security & Authentication ----

func ErrInvalidSignature() *AppError {
	return New(CodeSignature, "Invalid signature", http.StatusBadRequest)
}

func ErrInvalidToken() *AppError {
	return New(CodeUnauthorized, "Invalid or expired token", http.StatusUnauthorized)
}

func ErrForbidden() *AppError {
	return New(CodeForbidden, "Insufficient permissions", http.StatusForbidden)
}

// ---- Rate Limiting (RATE) ----

func ErrRateLimitExceeded() *AppError {
	return New(CodeRateLimit, "Rate limit exceeded", http.StatusTooManyRequests)
}

// ---- System & Infrastructure (SYS) ----

func ErrDatabaseError(err error) *AppError {
	return Wrap(CodeInternal, "Internal database error", http.StatusInternalServerError, err)
}

func ErrEncryptionFailure(err error) *AppError {
	return Wrap("SYS_003", "Encryption service failure", http.StatusInternalServerError, err)
}

// InternalError wraps an internal error as a SYS_001 error.
func InternalError(err error) *AppError {
	return Wrap(CodeInternal, "Internal server error", http.StatusInternalServerError, err)
}

// Is reports whether err carries an AppError with the given code.
func Is(err error, code string) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == code
}

// AsInternal passes AppErrors through and wraps anything else as InternalError.
func AsInternal(err error) error {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return err
	}
	return InternalError(err)
}
