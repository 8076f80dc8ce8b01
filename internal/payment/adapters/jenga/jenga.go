package jenga

import (
	"context"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/rentflow/internal/config"
	paymentdomain "github.com/smallbiznis/rentflow/internal/payment/domain"
)

const (
	providerName           = "jenga"
	defaultSignatureHeader = "X-Jenga-Signature"
)

// Adapter authenticates and decodes Jenga payment gateway IPNs.
type Adapter struct {
	secret          string
	merchantCode    string
	signatureHeader string
	reconciliation  *config.ReconciliationHolder
	parser          *parser
}

func NewAdapter(cfg config.Config, reconciliation *config.ReconciliationHolder) *Adapter {
	header := strings.TrimSpace(cfg.Gateway.SignatureHeader)
	if header == "" {
		header = defaultSignatureHeader
	}
	return &Adapter{
		secret:          cfg.Gateway.HMACSecret,
		merchantCode:    strings.TrimSpace(cfg.Gateway.MerchantCode),
		signatureHeader: header,
		reconciliation:  reconciliation,
		parser:          newParser(),
	}
}

func (a *Adapter) Provider() string {
	return providerName
}

func (a *Adapter) SignatureHeader() string {
	return a.signatureHeader
}

func (a *Adapter) Signature(headers http.Header) string {
	return strings.TrimSpace(headers.Get(a.signatureHeader))
}

func (a *Adapter) Verify(ctx context.Context, payload []byte, headers http.Header) error {
	return VerifySignature(payload, a.Signature(headers), a.secret)
}

func (a *Adapter) Parse(ctx context.Context, payload []byte) (*paymentdomain.Transaction, error) {
	current := a.reconciliation.Get()
	return a.parser.parse(payload, Rules{
		AmountTolerance:  decimal.NewFromFloat(current.AmountTolerance),
		ReferencePattern: current.ReferencePattern,
		MerchantCode:     a.merchantCode,
	})
}
