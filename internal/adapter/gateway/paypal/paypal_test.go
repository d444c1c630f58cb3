package paypal

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"giftcard-ledger/config"
	"giftcard-ledger/internal/core/domain"
	"giftcard-ledger/internal/core/ports"
	"giftcard-ledger/pkg/apperror"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var creds = ports.Credentials{KeyID: "client-1", SecretKey: "secret-1", WebhookID: "WH-1"}

type fakePayPal struct {
	mux        *http.ServeMux
	tokenCalls atomic.Int32
}

func newAdapter(t *testing.T) (*Adapter, *fakePayPal) {
	t.Helper()
	f := &fakePayPal{mux: http.NewServeMux()}
	f.mux.HandleFunc("POST /v1/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		f.tokenCalls.Add(1)
		user, pass, ok := r.BasicAuth()
		if !ok || user != "client-1" || pass != "secret-1" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"invalid_client"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"A21","token_type":"Bearer","expires_in":32400}`))
	})
	srv := httptest.NewServer(f.mux)
	t.Cleanup(srv.Close)
	return New(config.GatewayEndpoint{BaseURL: srv.URL, Timeout: time.Second}, zerolog.Nop()), f
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

func TestCreateCharge(t *testing.T) {
	a, f := newAdapter(t)
	f.mux.HandleFunc("POST /v2/checkout/orders", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer A21", r.Header.Get("Authorization"))
		assert.Equal(t, "pay-1", r.Header.Get("PayPal-Request-Id"))
		var body struct {
			Intent        string `json:"intent"`
			PurchaseUnits []struct {
				ReferenceID string `json:"reference_id"`
				Amount      amount `json:"amount"`
			} `json:"purchase_units"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "CAPTURE", body.Intent)
		if assert.Len(t, body.PurchaseUnits, 1) {
			assert.Equal(t, "pay-1", body.PurchaseUnits[0].ReferenceID)
			assert.Equal(t, amount{CurrencyCode: "USD", Value: "25.50"}, body.PurchaseUnits[0].Amount)
		}
		writeJSON(w, http.StatusCreated, `{"id":"ORDER-1","status":"CREATED","links":[
			{"href":"https://api/v2/checkout/orders/ORDER-1","rel":"self"},
			{"href":"https://www.paypal.com/checkoutnow?token=ORDER-1","rel":"approve"}]}`)
	})

	res, err := a.CreateCharge(context.Background(), creds, ports.ChargeRequest{
		Amount: decimal.RequireFromString("25.5"), Currency: "USD", Reference: "pay-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "ORDER-1", res.ExternalID)
	assert.Equal(t, "ORDER-1", res.OrderID)
	assert.Equal(t, "https://www.paypal.com/checkoutnow?token=ORDER-1", res.ClientSecret)
	assert.Equal(t, ports.ChargeStatusPending, res.Status)
}

func TestCreateCharge_ExcessPrecision(t *testing.T) {
	a, _ := newAdapter(t)
	_, err := a.CreateCharge(context.Background(), creds, ports.ChargeRequest{
		Amount: decimal.RequireFromString("1.5"), Currency: "JPY",
	})
	assert.True(t, apperror.Is(err, apperror.CodeValidation))
}

func TestTokenIsCached(t *testing.T) {
	a, f := newAdapter(t)
	f.mux.HandleFunc("GET /v1/payments/payouts/{id}", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"batch_header":{"payout_batch_id":"`+r.PathValue("id")+`","batch_status":"PENDING"}}`)
	})

	for range 3 {
		_, err := a.GetPayout(context.Background(), creds, "B1")
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), f.tokenCalls.Load())
}

func TestBadClientCredentials(t *testing.T) {
	a, _ := newAdapter(t)
	bad := creds
	bad.SecretKey = "wrong"

	_, err := a.GetPayout(context.Background(), bad, "B1")
	assert.True(t, apperror.Is(err, apperror.CodeGateway))
}

func TestConfirmCharge(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantStatus string
		wantRef    string
	}{
		{
			name:   "completed",
			status: http.StatusCreated,
			body: `{"id":"ORDER-1","status":"COMPLETED","purchase_units":[{"payments":{"captures":[
				{"id":"CAP-1","status":"COMPLETED","amount":{"currency_code":"USD","value":"25.50"}}]}}]}`,
			wantStatus: ports.ChargeStatusSucceeded,
			wantRef:    "CAP-1",
		},
		{
			name:   "declined",
			status: http.StatusCreated,
			body: `{"id":"ORDER-1","status":"COMPLETED","purchase_units":[{"payments":{"captures":[
				{"id":"CAP-2","status":"DECLINED","status_details":{"reason":"DECLINED_BY_RISK_FRAUD_FILTERS"}}]}}]}`,
			wantStatus: ports.ChargeStatusFailed,
			wantRef:    "CAP-2",
		},
		{
			name:       "not yet captured",
			status:     http.StatusCreated,
			body:       `{"id":"ORDER-1","status":"APPROVED"}`,
			wantStatus: ports.ChargeStatusPending,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, f := newAdapter(t)
			f.mux.HandleFunc("POST /v2/checkout/orders/ORDER-1/capture", func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "capture-ORDER-1", r.Header.Get("PayPal-Request-Id"))
				writeJSON(w, tt.status, tt.body)
			})

			res, err := a.ConfirmCharge(context.Background(), creds, ports.ConfirmRequest{ExternalID: "ORDER-1"})
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, res.Status)
			assert.Equal(t, tt.wantRef, res.ChargeReference)
		})
	}
}

func TestConfirmCharge_AlreadyCaptured(t *testing.T) {
	a, f := newAdapter(t)
	f.mux.HandleFunc("POST /v2/checkout/orders/ORDER-1/capture", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnprocessableEntity, `{"name":"UNPROCESSABLE_ENTITY","details":[{"issue":"ORDER_ALREADY_CAPTURED"}]}`)
	})
	f.mux.HandleFunc("GET /v2/checkout/orders/ORDER-1", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"id":"ORDER-1","status":"COMPLETED","purchase_units":[{"payments":{"captures":[
			{"id":"CAP-1","status":"COMPLETED","amount":{"currency_code":"USD","value":"10.00"}}]}}]}`)
	})

	res, err := a.ConfirmCharge(context.Background(), creds, ports.ConfirmRequest{ExternalID: "ORDER-1"})
	require.NoError(t, err)
	assert.Equal(t, ports.ChargeStatusSucceeded, res.Status)
	assert.Equal(t, "CAP-1", res.ChargeReference)
	assert.True(t, decimal.NewFromInt(10).Equal(res.Amount))
}

func TestConfirmCharge_OtherRejection(t *testing.T) {
	a, f := newAdapter(t)
	f.mux.HandleFunc("POST /v2/checkout/orders/ORDER-1/capture", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnprocessableEntity, `{"name":"UNPROCESSABLE_ENTITY","details":[{"issue":"ORDER_NOT_APPROVED"}]}`)
	})

	_, err := a.ConfirmCharge(context.Background(), creds, ports.ConfirmRequest{ExternalID: "ORDER-1"})
	assert.True(t, apperror.Is(err, apperror.CodeGateway))
	assert.ErrorContains(t, err, "ORDER_NOT_APPROVED")
}

func TestRefund(t *testing.T) {
	a, f := newAdapter(t)
	f.mux.HandleFunc("POST /v2/payments/captures/CAP-1/refund", func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"amount":{"currency_code":"USD","value":"5.00"}}`, string(raw))
		writeJSON(w, http.StatusCreated, `{"id":"REF-1","status":"COMPLETED","amount":{"currency_code":"USD","value":"5.00"}}`)
	})

	amt := decimal.NewFromInt(5)
	res, err := a.Refund(context.Background(), creds, ports.RefundRequest{
		ExternalID: "ORDER-1", ChargeReference: "CAP-1", Amount: &amt, Currency: "USD", Reference: "r-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "REF-1", res.RefundID)
	assert.Equal(t, ports.ChargeStatusSucceeded, res.Status)
	assert.True(t, amt.Equal(res.Amount))
}

func TestRefund_NeedsCapture(t *testing.T) {
	a, _ := newAdapter(t)
	_, err := a.Refund(context.Background(), creds, ports.RefundRequest{ExternalID: "ORDER-1", Currency: "USD"})
	assert.True(t, apperror.Is(err, apperror.CodeValidation))
}

func TestCreatePayout(t *testing.T) {
	a, f := newAdapter(t)
	f.mux.HandleFunc("POST /v1/payments/payouts", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Items []struct {
				RecipientType string            `json:"recipient_type"`
				Receiver      string            `json:"receiver"`
				Amount        map[string]string `json:"amount"`
			} `json:"items"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if assert.Len(t, body.Items, 1) {
			assert.Equal(t, "EMAIL", body.Items[0].RecipientType)
			assert.Equal(t, "shop@example.com", body.Items[0].Receiver)
			assert.Equal(t, "120.00", body.Items[0].Amount["value"])
		}
		writeJSON(w, http.StatusCreated, `{"batch_header":{"payout_batch_id":"BATCH-1","batch_status":"PENDING"}}`)
	})

	res, err := a.CreatePayout(context.Background(), creds, ports.PayoutRequest{
		Destination: "shop@example.com", Amount: decimal.NewFromInt(120), Currency: "USD", Reference: "po-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "BATCH-1", res.PayoutID)
	assert.Equal(t, ports.PayoutStatusPending, res.Status)
}

func TestGetPayout_UnclaimedItemKeepsBatchStatus(t *testing.T) {
	a, f := newAdapter(t)
	f.mux.HandleFunc("GET /v1/payments/payouts/BATCH-1", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"batch_header":{"payout_batch_id":"BATCH-1","batch_status":"SUCCESS"},
			"items":[{"payout_item_id":"I1","transaction_status":"UNCLAIMED"}]}`)
	})

	res, err := a.GetPayout(context.Background(), creds, "BATCH-1")
	require.NoError(t, err)
	assert.Equal(t, ports.PayoutStatusPaid, res.Status)
}

func transmissionHeader() http.Header {
	h := http.Header{}
	h.Set(HeaderAuthAlgo, "SHA256withRSA")
	h.Set(HeaderCertURL, "https://api.paypal.com/v1/notifications/certs/CERT-1")
	h.Set(HeaderTransmissionID, "T-1")
	h.Set(HeaderTransmissionSig, "c2ln")
	h.Set(HeaderTransmissionTime, "2026-10-18T10:00:00Z")
	return h
}

const captureCompleted = `{"id":"WH-EVT-1","event_type":"PAYMENT.CAPTURE.COMPLETED","resource":{
	"id":"CAP-1","status":"COMPLETED","amount":{"currency_code":"USD","value":"25.50"},
	"supplementary_data":{"related_ids":{"order_id":"ORDER-1"}}}}`

func TestVerifyWebhook(t *testing.T) {
	a, f := newAdapter(t)
	f.mux.HandleFunc("POST /v1/notifications/verify-webhook-signature", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]json.RawMessage
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.JSONEq(t, `"WH-1"`, string(body["webhook_id"]))
		assert.JSONEq(t, `"T-1"`, string(body["transmission_id"]))
		assert.JSONEq(t, captureCompleted, string(body["webhook_event"]))
		writeJSON(w, http.StatusOK, `{"verification_status":"SUCCESS"}`)
	})

	ev, err := a.VerifyWebhook(context.Background(), creds, []byte(captureCompleted), transmissionHeader())
	require.NoError(t, err)
	assert.Equal(t, domain.EventChargeSucceeded, ev.Type)
	assert.Equal(t, "ORDER-1", ev.ExternalID)
	assert.Equal(t, "CAP-1", ev.ChargeReference)
	assert.Equal(t, "USD", ev.Currency)
	require.NotNil(t, ev.Amount)
	assert.True(t, decimal.RequireFromString("25.50").Equal(*ev.Amount))
}

func TestVerifyWebhook_Rejected(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		header  func() http.Header
		creds   ports.Credentials
		wantErr string
	}{
		{
			name: "failure status", status: http.StatusOK, body: `{"verification_status":"FAILURE"}`,
			header: transmissionHeader, creds: creds, wantErr: apperror.CodeSignature,
		},
		{
			name: "missing header", status: http.StatusOK, body: `{"verification_status":"SUCCESS"}`,
			header: func() http.Header {
				h := transmissionHeader()
				h.Del(HeaderTransmissionSig)
				return h
			},
			creds: creds, wantErr: apperror.CodeSignature,
		},
		{
			name: "no webhook id", status: http.StatusOK, body: `{"verification_status":"SUCCESS"}`,
			header: transmissionHeader, creds: ports.Credentials{KeyID: "client-1", SecretKey: "secret-1"},
			wantErr: apperror.CodeSignature,
		},
		{
			name: "verification rejected", status: http.StatusBadRequest, body: `{"name":"VALIDATION_ERROR"}`,
			header: transmissionHeader, creds: creds, wantErr: apperror.CodeSignature,
		},
		{
			name: "verification api down", status: http.StatusServiceUnavailable, body: `{}`,
			header: transmissionHeader, creds: creds, wantErr: apperror.CodeGatewayUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, f := newAdapter(t)
			f.mux.HandleFunc("POST /v1/notifications/verify-webhook-signature", func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, tt.status, tt.body)
			})

			_, err := a.VerifyWebhook(context.Background(), tt.creds, []byte(captureCompleted), tt.header())
			assert.True(t, apperror.Is(err, tt.wantErr), "got %v", err)
		})
	}
}

func TestParseEvent(t *testing.T) {
	tests := []struct {
		name       string
		payload    string
		wantType   domain.EventType
		wantExt    string
		wantRefund string
	}{
		{
			name: "capture denied",
			payload: `{"id":"E2","event_type":"PAYMENT.CAPTURE.DENIED","resource":{"id":"CAP-2","status":"DECLINED",
				"supplementary_data":{"related_ids":{"order_id":"ORDER-2"}}}}`,
			wantType: domain.EventChargeFailed,
			wantExt:  "ORDER-2",
		},
		{
			name: "capture refunded",
			payload: `{"id":"E3","event_type":"PAYMENT.CAPTURE.REFUNDED","resource":{"id":"REF-9","status":"COMPLETED",
				"amount":{"currency_code":"USD","value":"3.00"},
				"links":[{"href":"https://api.paypal.com/v2/payments/refunds/REF-9","rel":"self"},
				{"href":"https://api.paypal.com/v2/payments/captures/CAP-1","rel":"up"}]}}`,
			wantType:   domain.EventChargeRefunded,
			wantExt:    "CAP-1",
			wantRefund: "REF-9",
		},
		{
			name:     "batch success",
			payload:  `{"id":"E4","event_type":"PAYMENT.PAYOUTSBATCH.SUCCESS","resource":{"batch_header":{"payout_batch_id":"BATCH-1"}}}`,
			wantType: domain.EventPayoutPaid,
			wantExt:  "BATCH-1",
		},
		{
			name:     "item returned",
			payload:  `{"id":"E5","event_type":"PAYMENT.PAYOUTS-ITEM.RETURNED","resource":{"payout_batch_id":"BATCH-2"}}`,
			wantType: domain.EventPayoutFailed,
			wantExt:  "BATCH-2",
		},
		{
			name:     "item canceled",
			payload:  `{"id":"E6","event_type":"PAYMENT.PAYOUTS-ITEM.CANCELED","resource":{"payout_batch_id":"BATCH-3"}}`,
			wantType: domain.EventPayoutCanceled,
			wantExt:  "BATCH-3",
		},
		{
			name:     "unhandled",
			payload:  `{"id":"E7","event_type":"CHECKOUT.ORDER.APPROVED","resource":{}}`,
			wantType: domain.EventUnhandled,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := parseEvent([]byte(tt.payload))
			require.NoError(t, err)
			assert.Equal(t, tt.wantType, ev.Type)
			assert.Equal(t, tt.wantExt, ev.ExternalID)
			assert.Equal(t, tt.wantRefund, ev.RefundID)
			assert.Equal(t, domain.ProviderPayPal, ev.Provider)
		})
	}
}
