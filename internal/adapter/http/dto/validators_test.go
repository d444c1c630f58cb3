package dto

import (
	"encoding/json"
	"testing"

	"github.com/gin-gonic/gin/binding"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- SanitizeStruct tests ---

func TestSanitizeStruct_TrimsWhitespace(t *testing.T) {
	req := RedeemRequest{Method: " QR ", Actor: "  till-4  "}
	SanitizeStruct(&req)

	assert.Equal(t, "QR", req.Method)
	assert.Equal(t, "till-4", req.Actor)
}

func TestSanitizeStruct_EscapesHTML(t *testing.T) {
	req := GiftCardRefundRequest{Description: "customer <script>alert('x')</script> request"}
	SanitizeStruct(&req)

	assert.Contains(t, req.Description, "&lt;script&gt;")
	assert.NotContains(t, req.Description, "<script>")
}

func TestSanitizeStruct_HandlesPointerString(t *testing.T) {
	type withPointer struct{ Note *string }
	note := "  hello  "
	req := withPointer{Note: &note}
	SanitizeStruct(&req)
	assert.Equal(t, "hello", *req.Note)

	empty := withPointer{}
	SanitizeStruct(&empty)
	assert.Nil(t, empty.Note)
}

func TestSanitizeStruct_NonPointerIsNoOp(t *testing.T) {
	req := RedeemRequest{Actor: "  a  "}
	SanitizeStruct(req)
	assert.Equal(t, "  a  ", req.Actor)
}

// --- Validator tests ---

func TestDecimalGT0(t *testing.T) {
	tests := []struct {
		body  string
		valid bool
	}{
		{`{"amount": "10.50"}`, true},
		{`{"amount": 0.01}`, true},
		{`{"amount": "0"}`, false},
		{`{"amount": -5}`, false},
		{`{}`, false},
	}
	for _, tt := range tests {
		t.Run(tt.body, func(t *testing.T) {
			var req RedeemRequest
			require.NoError(t, json.Unmarshal([]byte(tt.body), &req))
			err := binding.Validator.ValidateStruct(&req)
			assert.Equal(t, tt.valid, err == nil, "err: %v", err)
		})
	}
}

func TestDecimalGT0_OptionalPointer(t *testing.T) {
	assert.NoError(t, binding.Validator.ValidateStruct(&PaymentRefundRequest{}))

	zero := decimal.Zero
	assert.Error(t, binding.Validator.ValidateStruct(&PaymentRefundRequest{Amount: &zero}))

	five := decimal.NewFromInt(5)
	assert.NoError(t, binding.Validator.ValidateStruct(&PaymentRefundRequest{Amount: &five}))
}

func TestCurrency(t *testing.T) {
	for _, cur := range []string{"USD", "eur", "JPY"} {
		req := CreateMerchantRequest{Name: "Shop", Currency: cur}
		assert.NoError(t, binding.Validator.ValidateStruct(&req), cur)
	}
	for _, cur := range []string{"US", "DOLLAR", "U$D"} {
		req := CreateMerchantRequest{Name: "Shop", Currency: cur}
		assert.Error(t, binding.Validator.ValidateStruct(&req), cur)
	}
}

func TestSafeID(t *testing.T) {
	ok := PayoutRequest{Amount: decimal.NewFromInt(10), AccountID: "acct_1Nv0.x-y"}
	assert.NoError(t, binding.Validator.ValidateStruct(&ok))

	bad := PayoutRequest{Amount: decimal.NewFromInt(10), AccountID: "acct 1; DROP"}
	assert.Error(t, binding.Validator.ValidateStruct(&bad))
}

func TestConfirmProofKeys(t *testing.T) {
	ok := ConfirmPaymentRequest{Proof: map[string]string{"razorpay_signature": "abc123"}}
	assert.NoError(t, binding.Validator.ValidateStruct(&ok))

	bad := ConfirmPaymentRequest{Proof: map[string]string{"<script>": "x"}}
	assert.Error(t, binding.Validator.ValidateStruct(&bad))
}
