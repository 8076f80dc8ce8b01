package jenga

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/rentflow/internal/config"
	paymentdomain "github.com/smallbiznis/rentflow/internal/payment/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "jenga_test_secret"

func newTestAdapter(rec config.Reconciliation) *Adapter {
	cfg := config.Config{
		Gateway: config.GatewayConfig{
			HMACSecret:   testSecret,
			MerchantCode: "0765",
		},
	}
	return NewAdapter(cfg, config.NewStaticReconciliation(rec))
}

func signedHeaders(body []byte) http.Header {
	h := http.Header{}
	h.Set("X-Jenga-Signature", Sign(body, testSecret))
	return h
}

func TestVerifyAcceptsExactBody(t *testing.T) {
	adapter := newTestAdapter(config.DefaultReconciliation())
	body := []byte(`{"transactionReference":"123456789012","amount":7500}`)

	require.NoError(t, adapter.Verify(context.Background(), body, signedHeaders(body)))

	upper := http.Header{}
	upper.Set("X-Jenga-Signature", "  "+strings.ToUpper(Sign(body, testSecret))+"\n")
	assert.NoError(t, adapter.Verify(context.Background(), body, upper))
}

func TestVerifyRejectsTamperedBody(t *testing.T) {
	adapter := newTestAdapter(config.DefaultReconciliation())
	body := []byte(`{"transactionReference":"123456789012","amount":7500}`)
	headers := signedHeaders(body)

	tampered := []byte(`{"transactionReference":"123456789012","amount":75000}`)
	err := adapter.Verify(context.Background(), tampered, headers)
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidSignature)
	assert.ErrorIs(t, err, paymentdomain.ErrAuthentication)

	// Whitespace changes are tampering too.
	reformatted := []byte(`{"transactionReference": "123456789012", "amount": 7500}`)
	assert.ErrorIs(t, adapter.Verify(context.Background(), reformatted, headers), paymentdomain.ErrInvalidSignature)
}

func TestVerifyMissingSignature(t *testing.T) {
	adapter := newTestAdapter(config.DefaultReconciliation())
	err := adapter.Verify(context.Background(), []byte(`{}`), http.Header{})
	assert.ErrorIs(t, err, paymentdomain.ErrMissingSignature)
	assert.ErrorIs(t, err, paymentdomain.ErrAuthentication)
}

func TestVerifyWithoutSecretFails(t *testing.T) {
	body := []byte(`{}`)
	err := VerifySignature(body, Sign(body, ""), "")
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidSignature)
}

func TestParseValidPayload(t *testing.T) {
	adapter := newTestAdapter(config.DefaultReconciliation())
	body := []byte(`{
		"transactionReference": "123456789012",
		"transactionDate": "2026-03-03T10:15:00Z",
		"amount": 7500.00,
		"orderAmount": 7500.005,
		"currency": "kes",
		"accountNumber": " LEASE-42 ",
		"accountName": "Jane Doe",
		"transactionType": "mpesa",
		"status": "SUCCESS",
		"narration": "March rent",
		"phoneNumber": "254712345678",
		"merchantCode": "0765",
		"extra": "ignored"
	}`)

	tx, err := adapter.Parse(context.Background(), body)
	require.NoError(t, err)
	assert.Equal(t, "jenga", tx.Provider)
	assert.Equal(t, "123456789012", tx.Reference)
	assert.True(t, tx.Amount.Equal(decimal.NewFromInt(7500)))
	assert.Equal(t, "KES", tx.Currency)
	assert.Equal(t, "LEASE-42", tx.AccountNumber)
	assert.Equal(t, "mpesa", tx.PaymentMode)
	assert.Equal(t, time.Date(2026, 3, 3, 10, 15, 0, 0, time.UTC), tx.Date)
	assert.True(t, tx.Succeeded())
}

func TestParseAcceptsGatewayDateFormats(t *testing.T) {
	adapter := newTestAdapter(config.DefaultReconciliation())
	for _, date := range []string{"2026-03-03 10:15:00", "2026-03-03T10:15:00", "2026-03-03T13:15:00+03:00"} {
		body := []byte(`{"transactionReference":"R1","transactionDate":"` + date + `","amount":1,"currency":"KES","accountNumber":"LEASE-1","status":"FAILED"}`)
		tx, err := adapter.Parse(context.Background(), body)
		require.NoError(t, err, date)
		assert.Equal(t, time.Date(2026, 3, 3, 10, 15, 0, 0, time.UTC), tx.Date, date)
	}
}

func TestParseRejections(t *testing.T) {
	rec := config.DefaultReconciliation()
	rec.ReferencePattern = `^\d{12}$`
	adapter := newTestAdapter(rec)

	valid := `"transactionReference":"123456789012","transactionDate":"2026-03-03","currency":"KES","accountNumber":"LEASE-1","status":"SUCCESS"`
	cases := []struct {
		name  string
		body  string
		field string
	}{
		{name: "malformed json", body: `{"transactionReference":`, field: "body"},
		{name: "array body", body: `[1,2]`, field: "body"},
		{name: "missing amount", body: `{` + valid + `}`, field: "amount"},
		{name: "negative amount", body: `{` + valid + `,"amount":-5}`, field: "amount"},
		{name: "amount as text", body: `{` + valid + `,"amount":"lots"}`, field: "body"},
		{name: "bad currency", body: `{"transactionReference":"123456789012","transactionDate":"2026-03-03","currency":"KSHS","accountNumber":"LEASE-1","status":"SUCCESS","amount":10}`, field: "currency"},
		{name: "unknown status", body: `{"transactionReference":"123456789012","transactionDate":"2026-03-03","currency":"KES","accountNumber":"LEASE-1","status":"REVERSED","amount":10}`, field: "status"},
		{name: "missing account", body: `{"transactionReference":"123456789012","transactionDate":"2026-03-03","currency":"KES","status":"SUCCESS","amount":10}`, field: "accountNumber"},
		{name: "bad date", body: `{"transactionReference":"123456789012","transactionDate":"yesterday","currency":"KES","accountNumber":"LEASE-1","status":"SUCCESS","amount":10}`, field: "transactionDate"},
		{name: "order amount mismatch", body: `{` + valid + `,"amount":7500,"orderAmount":7499.98}`, field: "amount"},
		{name: "reference format", body: `{"transactionReference":"ABC","transactionDate":"2026-03-03","currency":"KES","accountNumber":"LEASE-1","status":"SUCCESS","amount":10}`, field: "transactionReference"},
		{name: "merchant mismatch", body: `{` + valid + `,"amount":10,"merchantCode":"9999"}`, field: "merchantCode"},
		{name: "sub-cent amount", body: `{` + valid + `,"amount":0.004}`, field: "amount"},
		{name: "amount beyond column range", body: `{` + valid + `,"amount":10000000000}`, field: "amount"},
		{name: "quoted amount", body: `{` + valid + `,"amount":"7500"}`, field: "amount"},
		{name: "quoted order amount", body: `{` + valid + `,"amount":7500,"orderAmount":"7500"}`, field: "orderAmount"},
		{name: "sub-cent order amount", body: `{` + valid + `,"amount":7500,"orderAmount":7500.001}`, field: "orderAmount"},
		{name: "bad phone", body: `{` + valid + `,"amount":10,"phoneNumber":"07-12"}`, field: "phoneNumber"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := adapter.Parse(context.Background(), []byte(tc.body))
			require.Error(t, err)
			assert.ErrorIs(t, err, paymentdomain.ErrValidation)

			var verr *paymentdomain.ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Equal(t, tc.field, verr.Field)
		})
	}
}

func TestParseToleranceBoundary(t *testing.T) {
	adapter := newTestAdapter(config.DefaultReconciliation())
	body := []byte(`{"transactionReference":"R2","transactionDate":"2026-03-03","currency":"KES","accountNumber":"LEASE-1","status":"SUCCESS","amount":7500,"orderAmount":7499.99}`)
	_, err := adapter.Parse(context.Background(), body)
	assert.NoError(t, err)
}

func TestParseAmountPrecision(t *testing.T) {
	adapter := newTestAdapter(config.DefaultReconciliation())
	for _, amount := range []string{"0.01", "7500.5", "7500.500", "9999999999.99"} {
		body := []byte(`{"transactionReference":"R3","transactionDate":"2026-03-03","currency":"KES","accountNumber":"LEASE-1","status":"SUCCESS","amount":` + amount + `}`)
		tx, err := adapter.Parse(context.Background(), body)
		require.NoError(t, err, amount)
		assert.True(t, tx.Amount.Equal(decimal.RequireFromString(amount)), amount)
	}
}
