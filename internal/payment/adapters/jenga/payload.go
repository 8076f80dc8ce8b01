package jenga

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	paymentdomain "github.com/smallbiznis/rentflow/internal/payment/domain"
)

var msisdnPattern = regexp.MustCompile(`^\+?\d{9,15}$`)

var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// notification is the IPN body as sent by the gateway.
type notification struct {
	TransactionReference string           `json:"transactionReference" validate:"required"`
	TransactionDate      string           `json:"transactionDate" validate:"required"`
	Amount               decimal.Decimal  `json:"amount" validate:"required,gt=0"`
	OrderAmount          *decimal.Decimal `json:"orderAmount" validate:"omitempty,gt=0"`
	Currency             string           `json:"currency" validate:"required,len=3,alpha"`
	AccountNumber        string           `json:"accountNumber" validate:"required"`
	AccountName          string           `json:"accountName"`
	TransactionType      string           `json:"transactionType"`
	Status               string           `json:"status" validate:"required,oneof=SUCCESS FAILED PENDING"`
	Narration            string           `json:"narration"`
	PhoneNumber          string           `json:"phoneNumber" validate:"omitempty,msisdn"`
	MerchantCode         string           `json:"merchantCode"`
}

// Rules are the business checks applied after schema validation.
type Rules struct {
	AmountTolerance  decimal.Decimal
	ReferencePattern string
	MerchantCode     string
}

type parser struct {
	validate *validator.Validate

	mu      sync.Mutex
	pattern string
	re      *regexp.Regexp
}

func newParser() *parser {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	v.RegisterCustomTypeFunc(func(field reflect.Value) any {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			f, _ := d.Float64()
			return f
		}
		return nil
	}, decimal.Decimal{})
	_ = v.RegisterValidation("msisdn", func(fl validator.FieldLevel) bool {
		return msisdnPattern.MatchString(fl.Field().String())
	})
	return &parser{validate: v}
}

func (p *parser) parse(body []byte, rules Rules) (*paymentdomain.Transaction, error) {
	if !json.Valid(body) {
		return nil, paymentdomain.NewValidationError("body", "malformed json")
	}

	var n notification
	dec := json.NewDecoder(bytes.NewReader(body))
	if err := dec.Decode(&n); err != nil {
		return nil, paymentdomain.NewValidationError("body", fmt.Sprintf("invalid payload: %v", err))
	}
	n.normalize()

	if err := numericAmounts(body); err != nil {
		return nil, err
	}
	if err := p.validate.Struct(n); err != nil {
		return nil, schemaError(err)
	}
	if err := paymentdomain.CheckAmount("amount", n.Amount); err != nil {
		return nil, err
	}
	if n.OrderAmount != nil {
		if err := paymentdomain.CheckAmount("orderAmount", *n.OrderAmount); err != nil {
			return nil, err
		}
	}

	date, err := parseDate(n.TransactionDate)
	if err != nil {
		return nil, paymentdomain.NewValidationError("transactionDate", "unparseable timestamp")
	}

	if n.OrderAmount != nil {
		diff := n.Amount.Sub(*n.OrderAmount).Abs()
		if diff.GreaterThan(rules.AmountTolerance) {
			return nil, paymentdomain.NewValidationError("amount",
				fmt.Sprintf("amount %s does not match order amount %s", n.Amount.String(), n.OrderAmount.String()))
		}
	}

	if re, err := p.referencePattern(rules.ReferencePattern); err != nil {
		return nil, err
	} else if re != nil && !re.MatchString(n.TransactionReference) {
		return nil, paymentdomain.NewValidationError("transactionReference", "unexpected reference format")
	}

	if n.MerchantCode != "" && rules.MerchantCode != "" && n.MerchantCode != rules.MerchantCode {
		return nil, paymentdomain.NewValidationError("merchantCode", "merchant code mismatch")
	}

	return &paymentdomain.Transaction{
		Provider:      providerName,
		Reference:     n.TransactionReference,
		Date:          date,
		Amount:        n.Amount,
		OrderAmount:   n.OrderAmount,
		Currency:      n.Currency,
		AccountNumber: n.AccountNumber,
		AccountName:   n.AccountName,
		Status:        n.Status,
		PaymentMode:   n.TransactionType,
		Narration:     n.Narration,
		PhoneNumber:   n.PhoneNumber,
		MerchantCode:  n.MerchantCode,
	}, nil
}

// numericAmounts rejects amounts sent as JSON strings, which the decimal
// decoder would otherwise accept.
func numericAmounts(body []byte) error {
	var raw struct {
		Amount      json.RawMessage `json:"amount"`
		OrderAmount json.RawMessage `json:"orderAmount"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return paymentdomain.NewValidationError("body", fmt.Sprintf("invalid payload: %v", err))
	}
	if quoted(raw.Amount) {
		return paymentdomain.NewValidationError("amount", "must be a number")
	}
	if quoted(raw.OrderAmount) {
		return paymentdomain.NewValidationError("orderAmount", "must be a number")
	}
	return nil
}

func quoted(token json.RawMessage) bool {
	t := bytes.TrimSpace(token)
	return len(t) > 0 && t[0] == '"'
}

func (p *parser) referencePattern(pattern string) (*regexp.Regexp, error) {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		return nil, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.re != nil && p.pattern == pattern {
		return p.re, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("compile reference pattern: %w", err)
	}
	p.pattern = pattern
	p.re = re
	return re, nil
}

func (n *notification) normalize() {
	n.TransactionReference = strings.TrimSpace(n.TransactionReference)
	n.TransactionDate = strings.TrimSpace(n.TransactionDate)
	n.Currency = strings.ToUpper(strings.TrimSpace(n.Currency))
	n.AccountNumber = strings.TrimSpace(n.AccountNumber)
	n.AccountName = strings.TrimSpace(n.AccountName)
	n.TransactionType = strings.TrimSpace(n.TransactionType)
	n.Status = strings.ToUpper(strings.TrimSpace(n.Status))
	n.Narration = strings.TrimSpace(n.Narration)
	n.PhoneNumber = strings.TrimSpace(n.PhoneNumber)
	n.MerchantCode = strings.TrimSpace(n.MerchantCode)
}

func parseDate(raw string) (time.Time, error) {
	var lastErr error
	for _, layout := range dateLayouts {
		t, err := time.Parse(layout, raw)
		if err == nil {
			return t.UTC(), nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}

// schemaError reports the first failing field.
func schemaError(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return paymentdomain.NewValidationError(fe.Field(), describeTag(fe))
	}
	return paymentdomain.NewValidationError("body", err.Error())
}

func describeTag(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "gt":
		return "must be positive"
	case "len":
		return fmt.Sprintf("must be %s characters", fe.Param())
	case "alpha":
		return "must contain letters only"
	case "oneof":
		return fmt.Sprintf("must be one of %s", fe.Param())
	case "msisdn":
		return "must be a phone number"
	default:
		return fmt.Sprintf("failed %s validation", fe.Tag())
	}
}
