package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func validConfig() Config {
	return Config{
		Gateway: GatewayConfig{
			HMACSecret:   "secret",
			MerchantCode: "0011547896523",
		},
		DBType: "postgres",
		DBHost: "localhost",
		DBName: "rentflow",
	}
}

func TestValidateAcceptsCompleteConfig(t *testing.T) {
	require.NoError(t, validConfig().Validate())
}

func TestValidateRefusesMissingSecrets(t *testing.T) {
	cfg := validConfig()
	cfg.Gateway.HMACSecret = ""
	cfg.Gateway.MerchantCode = "  "

	err := cfg.Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMissingHMACSecret))
	assert.True(t, errors.Is(err, ErrMissingMerchantCode))
}

func TestValidateRefusesMissingDatabase(t *testing.T) {
	cfg := validConfig()
	cfg.DBHost = ""

	err := cfg.Validate()
	assert.True(t, errors.Is(err, ErrMissingDatabase))

	cfg.DatabaseURL = "postgres://localhost/rentflow"
	assert.NoError(t, cfg.Validate())
}

func TestLoadReadsGatewayEnv(t *testing.T) {
	t.Setenv("JENGA_HMAC_SECRET", " s3cr3t ")
	t.Setenv("JENGA_MERCHANT_CODE", "MERCHANT")
	t.Setenv("KAFKA_BROKERS", "a:9092, b:9092,,")
	t.Setenv("WEBHOOK_RATE_LIMIT_PER_HOUR", "50")

	cfg := Load()
	assert.Equal(t, "s3cr3t", cfg.Gateway.HMACSecret)
	assert.Equal(t, "MERCHANT", cfg.Gateway.MerchantCode)
	assert.Equal(t, "X-Jenga-Signature", cfg.Gateway.SignatureHeader)
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, int64(50), cfg.RateLimit.WebhookPerHour)
	assert.Equal(t, int64(50), cfg.RateLimit.WebhookBurst)
}

func TestReconciliationDefaultsWhenFileMissing(t *testing.T) {
	cfg := validConfig()
	cfg.ReconciliationConfigPath = filepath.Join(t.TempDir(), "missing.yml")
	cfg.Gateway.ReferencePattern = `^\d{12}$`

	holder, err := NewReconciliationHolder(cfg, zap.NewNop())
	require.NoError(t, err)

	got := holder.Get()
	assert.Equal(t, 5, got.DueDay)
	assert.InDelta(t, 0.01, got.AmountTolerance, 1e-9)
	assert.Equal(t, `^\d{12}$`, got.ReferencePattern)
}

func TestReconciliationReadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reconciliation.yml")
	content := "reconciliation:\n  dueDay: 10\n  amountTolerance: 0.5\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg := validConfig()
	cfg.ReconciliationConfigPath = path

	holder, err := NewReconciliationHolder(cfg, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, 10, holder.Get().DueDay)
	assert.InDelta(t, 0.5, holder.Get().AmountTolerance, 1e-9)
}

func TestReconciliationRejectsInvalidDueDay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reconciliation.yml")
	require.NoError(t, os.WriteFile(path, []byte("reconciliation:\n  dueDay: 31\n"), 0o600))

	cfg := validConfig()
	cfg.ReconciliationConfigPath = path

	_, err := NewReconciliationHolder(cfg, zap.NewNop())
	assert.Error(t, err)
}
