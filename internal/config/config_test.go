package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("JWT_SECRET", testSecret)

	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, "memory", cfg.DocStore)
	assert.Equal(t, "PHP", cfg.Currency)
	assert.True(t, cfg.ShippingFee.IsZero())
	assert.Equal(t, 15*time.Second, cfg.PaymentTimeout)
	assert.Equal(t, 30*time.Second, cfg.CheckoutLockTTL)
	assert.Empty(t, cfg.KafkaBrokers)
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("JWT_SECRET", testSecret)
	t.Setenv("DOC_STORE", "postgres")
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092, kafka-2:9092,")
	t.Setenv("SHIPPING_FEE", "49.50")
	t.Setenv("PAYMENT_TIMEOUT", "3s")
	t.Setenv("SMTP_PORT", "2525")

	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.DocStore)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, "49.5", cfg.ShippingFee.String())
	assert.Equal(t, 3*time.Second, cfg.PaymentTimeout)
	assert.Equal(t, 2525, cfg.SMTPPort)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"unknown store", map[string]string{"JWT_SECRET": testSecret, "DOC_STORE": "mongo"}},
		{"negative shipping", map[string]string{"JWT_SECRET": testSecret, "SHIPPING_FEE": "-1"}},
		{"bad timeout", map[string]string{"JWT_SECRET": testSecret, "PAYMENT_TIMEOUT": "soon"}},
		{"bad port", map[string]string{"JWT_SECRET": testSecret, "SMTP_PORT": "smtp"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestValidateJWT(t *testing.T) {
	assert.NoError(t, Config{JWTSecret: testSecret}.ValidateJWT())
	assert.Error(t, Config{JWTSecret: "short"}.ValidateJWT())
	assert.Error(t, Config{}.ValidateJWT())
}

func TestLoad_NotifierNeedsNoSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")

	cfg, err := Load()

	require.NoError(t, err)
	assert.Error(t, cfg.ValidateJWT())
}
