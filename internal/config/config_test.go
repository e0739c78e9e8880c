package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rental-billing-engine/internal/domain"
	"rental-billing-engine/internal/utils"
)

const minimalYAML = `
database:
  host: db
  user: billing
  database: rentals
`

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte(minimalYAML))
	require.NoError(t, err)

	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, "disable", cfg.Database.SSLMode)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "0 0 1 * * *", cfg.Scheduler.ProcessWeeklyBilling)
	assert.Equal(t, "0 30 2 * * *", cfg.Scheduler.ProcessPayouts)
	assert.Equal(t, 3, cfg.Payout.MaxRetries)
	assert.Equal(t, "usd", cfg.Payout.Currency)

	policy := cfg.BillingPolicy()
	assert.True(t, policy.TaxRate.Equal(utils.Money("0.085")))
	assert.True(t, policy.DepositAmount.Equal(utils.Money("250")))
	assert.True(t, policy.CommissionRate.Equal(utils.Money("0.15")))
	assert.Equal(t, 7, policy.DueDays)
	assert.Equal(t, 24*time.Hour, policy.CancellationWindow)
	assert.Equal(t, 30*time.Second, policy.PaymentTimeout)
	assert.Equal(t, 4, policy.Workers)
	assert.Equal(t, 2*time.Minute, policy.LeaseTTL)
}

func TestRateTable(t *testing.T) {
	cfg, err := Parse([]byte(minimalYAML + `
rates:
  luxury: { daily_rate: "95.00", rap_daily_rate: "12.50" }
`))
	require.NoError(t, err)

	table := cfg.RateTable()
	assert.True(t, table.Lookup(domain.VehicleTypeLuxury).DailyRate.Equal(utils.Money("95")))
	assert.True(t, table.Lookup(domain.VehicleTypeLuxury).RapDailyRate.Equal(utils.Money("12.50")))
	assert.True(t, table.Lookup(domain.VehicleTypeEconomy).DailyRate.Equal(utils.Money("40")))
	assert.True(t, table.Lookup(domain.VehicleType("minivan")).DailyRate.Equal(utils.Money("50")))
}

func TestParse_EnvOverrides(t *testing.T) {
	t.Setenv("DB_HOST", "override-host")
	t.Setenv("BILLING_TAX_RATE", "0.1")
	t.Setenv("KAFKA_BROKER", "kafka:9092")
	t.Setenv("REDIS_URL", "redis://cache:6379/1")

	cfg, err := Parse([]byte(minimalYAML))
	require.NoError(t, err)
	assert.Equal(t, "override-host", cfg.Database.Host)
	assert.True(t, cfg.BillingPolicy().TaxRate.Equal(utils.Money("0.1")))
	assert.Equal(t, "kafka:9092", cfg.Kafka.Broker)
	assert.Equal(t, "rental-billing-events", cfg.Kafka.Topic)
	assert.Equal(t, "redis://cache:6379/1", cfg.Redis.URL)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"missing host", "database: {user: u, database: d}"},
		{"bad tax", minimalYAML + "billing: {tax_rate: \"abc\"}"},
		{"tax of one", minimalYAML + "billing: {tax_rate: \"1\"}"},
		{"negative commission", minimalYAML + "billing: {commission_rate: \"-0.1\"}"},
		{"bad rate", minimalYAML + "rates: {economy: {daily_rate: \"x\", rap_daily_rate: \"1\"}}"},
		{"negative retries", minimalYAML + "payout: {max_retries: -1}"},
		{"unknown log level", minimalYAML + "log: {level: verbose}"},
		{"unknown log format", minimalYAML + "log: {format: xml}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(minimalYAML), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "postgres://billing:@db:5432/rentals?sslmode=disable", cfg.GetDatabaseConnectionString())

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
