package jenga

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	paymentdomain "github.com/smallbiznis/rentflow/internal/payment/domain"
)

// Sign returns the lowercase hex HMAC-SHA256 of body under secret.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks signature against the HMAC of the exact body bytes.
func VerifySignature(body []byte, signature string, secret string) error {
	presented := strings.ToLower(strings.TrimSpace(signature))
	if presented == "" {
		return paymentdomain.ErrMissingSignature
	}
	if secret == "" {
		return paymentdomain.ErrInvalidSignature
	}
	expected := Sign(body, secret)
	if !hmac.Equal([]byte(presented), []byte(expected)) {
		return paymentdomain.ErrInvalidSignature
	}
	return nil
}
