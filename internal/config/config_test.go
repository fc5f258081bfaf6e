package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/linemk/market-checkout/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestMustLoadByPath_Success(t *testing.T) {
	// обязательные переменные окружения
	t.Setenv("DB_PASSWORD", "mypassword")
	t.Setenv("JWT_SECRET", "mysecret")
	t.Setenv("IYZIPAY_API_KEY", "sandbox-key")
	t.Setenv("IYZIPAY_SECRET", "sandbox-secret")
	t.Setenv("NATS_URL", "nats://localhost:4222")

	path := writeConfig(t, `
env: "local"
http_server:
  address: "localhost:8080"
  timeout: "4s"
  idle_timeout: "60s"
database:
  host: "localhost"
  port: 5432
  user: "postgres"
  name: "checkout"
jwt:
  token_ttl: 60
migrations:
  path: "./migrations"
iyzipay:
  base_url: "https://sandbox-api.iyzipay.com"
  callback_url: "https://shop.example/api/checkout"
checkout:
  advance_attempts: 5
commission:
  percentage_fee: "0.05"
`)

	cfg := config.MustLoadByPath(path)

	assert.Equal(t, "local", cfg.Env)
	assert.Equal(t, "localhost:8080", cfg.HTTPServer.Address)
	assert.Equal(t, 4*time.Second, cfg.HTTPServer.Timeout)
	assert.Equal(t, 60*time.Second, cfg.HTTPServer.IdleTimeout)
	assert.Equal(t, "localhost", cfg.Database.Host)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, "postgres", cfg.Database.User)
	assert.Equal(t, "mypassword", cfg.Database.Password)
	assert.Equal(t, "checkout", cfg.Database.Name)
	assert.Equal(t, 60, cfg.JWT.TokenTTL)
	assert.Equal(t, "./migrations", cfg.Migrations.Path)

	assert.Equal(t, "https://sandbox-api.iyzipay.com", cfg.Iyzipay.BaseURL)
	assert.Equal(t, "sandbox-key", cfg.Iyzipay.APIKey)
	assert.Equal(t, "sandbox-secret", cfg.Iyzipay.SecretKey)
	assert.Equal(t, "https://shop.example/api/checkout", cfg.Iyzipay.CallbackURL)
	assert.Equal(t, "tr", cfg.Iyzipay.Locale)
	assert.Equal(t, "TRY", cfg.Iyzipay.Currency)
	assert.Equal(t, 30*time.Second, cfg.Iyzipay.Timeout)

	assert.Equal(t, 5, cfg.Checkout.AdvanceAttempts)
	assert.Equal(t, 10*time.Second, cfg.Checkout.LockTimeout)
	assert.Equal(t, "0.25", cfg.Commission.StaticFee)
	assert.Equal(t, "0.05", cfg.Commission.PercentageFee)
	assert.Equal(t, "nats://localhost:4222", cfg.NATS.URL)
	assert.Equal(t, "orders.completed", cfg.NATS.Subject)
}

func TestMustLoadByPath_FileNotFound(t *testing.T) {
	// паника, если файла не существует
	assert.Panics(t, func() {
		config.MustLoadByPath("non_existent_config.yaml")
	})
}
