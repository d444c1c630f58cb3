package apperror

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name     string
		appErr   *AppError
		expected string
	}{
		{
			name:     "without wrapped error",
			appErr:   New("LED_001", "Insufficient balance", http.StatusPaymentRequired),
			expected: "[LED_001] Insufficient balance",
		},
		{
			name:     "with wrapped error",
			appErr:   Wrap("SYS_001", "DB error", http.StatusInternalServerError, fmt.Errorf("connection refused")),
			expected: "[SYS_001] DB error: connection refused",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.appErr.Error())
		})
	}
}

func TestAppError_Unwrap(t *testing.T) {
	inner := fmt.Errorf("inner error")
	appErr := Wrap("SYS_001", "wrapped", http.StatusInternalServerError, inner)

	assert.True(t, errors.Is(appErr, inner))
	assert.Nil(t, New("VAL_001", "test", http.StatusBadRequest).Unwrap())
}

func TestTaxonomy(t *testing.T) {
	tests := []struct {
		name       string
		err        *AppError
		code       string
		httpStatus int
	}{
		{"Validation", Validation("bad amount"), CodeValidation, 400},
		{"NotFound", ErrNotFound("Gift card"), CodeNotFound, 404},
		{"InsufficientBalance", ErrInsufficientBalance(), CodeInsufficientBalance, 402},
		{"InvalidState", ErrInvalidState("Gift card", "EXPIRED"), CodeInvalidState, 409},
		{"PartialRedemption", ErrPartialRedemptionNotAllowed(), CodePartialRedemption, 400},
		{"Gateway", ErrGateway("card declined", nil), CodeGateway, 424},
		{"GatewayNotConfigured", ErrGatewayNotConfigured("STRIPE"), CodeGatewayNotConfigured, 400},
		{"GatewayUnavailable", ErrGatewayUnavailable(nil), CodeGatewayUnavailable, 503},
		{"Signature", ErrInvalidSignature(), CodeSignature, 400},
		{"InvalidToken", ErrInvalidToken(), CodeUnauthorized, 401},
		{"Forbidden", ErrForbidden(), CodeForbidden, 403},
		{"RateLimit", ErrRateLimitExceeded(), CodeRateLimit, 429},
		{"Internal", InternalError(nil), CodeInternal, 500},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, tt.err.Code)
			assert.Equal(t, tt.httpStatus, tt.err.HTTPStatus)
		})
	}
}

func TestErrInvalidState_NamesStatus(t *testing.T) {
	assert.Equal(t, "Gift card is REDEEMED", ErrInvalidState("Gift card", "REDEEMED").Message)
}

func TestIs(t *testing.T) {
	wrapped := fmt.Errorf("redeem: %w", ErrInsufficientBalance())
	assert.True(t, Is(wrapped, CodeInsufficientBalance))
	assert.False(t, Is(wrapped, CodeValidation))
	assert.False(t, Is(errors.New("plain"), CodeInternal))
}

func TestAsInternal(t *testing.T) {
	assert.Nil(t, AsInternal(nil))

	v := Validation("x")
	assert.Same(t, v, AsInternal(v))

	plain := errors.New("db down")
	out := AsInternal(plain)
	assert.True(t, Is(out, CodeInternal))
	assert.True(t, errors.Is(out, plain))
}
