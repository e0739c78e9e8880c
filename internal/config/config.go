package config

import (
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"rental-billing-engine/internal/domain"
	"rental-billing-engine/internal/logger"
)

// Config represents the application configuration
type Config struct {
	Database  DatabaseConfig        `yaml:"database"`
	Log       LogConfig             `yaml:"log"`
	Billing   BillingConfig         `yaml:"billing"`
	Rates     map[string]RateConfig `yaml:"rates"`
	Payout    PayoutConfig          `yaml:"payout"`
	Scheduler SchedulerConfig       `yaml:"scheduler"`
	Redis     RedisConfig           `yaml:"redis"`
	Kafka     KafkaConfig           `yaml:"kafka"`
	SendGrid  SendGridConfig        `yaml:"sendgrid"`
}

// DatabaseConfig contains PostgreSQL connection settings
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"ssl_mode"`
}

// LogConfig contains logging settings
type LogConfig struct {
	Level  string `yaml:"level"`  // "debug", "info", "warn", "error"
	Format string `yaml:"format"` // "json" or "text"
}

// BillingConfig contains tax, deposit, commission and batch settings.
// Amounts are decimal strings so YAML never rounds them through float64.
type BillingConfig struct {
	TaxRate                 string `yaml:"tax_rate"`
	DepositAmount           string `yaml:"deposit_amount"`
	CommissionRate          string `yaml:"commission_rate"`
	DueDays                 int    `yaml:"due_days"`
	CancellationWindowHours int    `yaml:"cancellation_window_hours"`
	PaymentTimeoutSeconds   int    `yaml:"payment_timeout_seconds"`
	Workers                 int    `yaml:"workers"`
	LeaseTTLSeconds         int    `yaml:"lease_ttl_seconds"`
}

// RateConfig is the standard daily and RAP rate for one vehicle type
type RateConfig struct {
	DailyRate    string `yaml:"daily_rate"`
	RapDailyRate string `yaml:"rap_daily_rate"`
}

// FallbackRateKey names the rates entry used for unlisted vehicle types
const FallbackRateKey = "default"

// PayoutConfig contains payout sweep settings
type PayoutConfig struct {
	MaxRetries int    `yaml:"max_retries"`
	Currency   string `yaml:"currency"`
	BatchSize  int    `yaml:"batch_size"`
}

// SchedulerConfig contains cron schedule settings
type SchedulerConfig struct {
	ProcessWeeklyBilling string `yaml:"process_weekly_billing"`
	MarkOverdueInvoices  string `yaml:"mark_overdue_invoices"`
	ProcessPayouts       string `yaml:"process_payouts"`
	BillingReport        string `yaml:"billing_report"`
}

// RedisConfig selects the distributed rental lease. Empty URL means local locks.
type RedisConfig struct {
	URL string `yaml:"url"`
}

// KafkaConfig selects the event publisher. Empty broker means log-only events.
type KafkaConfig struct {
	Broker string `yaml:"broker"`
	Topic  string `yaml:"topic"`
}

// SendGridConfig contains email settings. Empty API key disables email.
type SendGridConfig struct {
	APIKey    string `yaml:"api_key"`
	FromEmail string `yaml:"from_email"`
	FromName  string `yaml:"from_name"`
}

var defaultRates = map[string]RateConfig{
	string(domain.VehicleTypeEconomy):  {DailyRate: "40.00", RapDailyRate: "5.00"},
	string(domain.VehicleTypeStandard): {DailyRate: "50.00", RapDailyRate: "6.00"},
	string(domain.VehicleTypePremium):  {DailyRate: "60.00", RapDailyRate: "7.00"},
	string(domain.VehicleTypeLuxury):   {DailyRate: "80.00", RapDailyRate: "10.00"},
	FallbackRateKey:                    {DailyRate: "50.00", RapDailyRate: "6.00"},
}

// Load reads configuration from a YAML file
func Load(configPath string) (*Config, error) {
	// Read config file
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return Parse(data)
}

// Parse decodes YAML, applies environment overrides and validates
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Override with environment variables if present
	cfg.overrideWithEnv()

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// overrideWithEnv overrides config values with environment variables
func (c *Config) overrideWithEnv() {
	// Database
	if val := os.Getenv("DB_HOST"); val != "" {
		c.Database.Host = val
	}
	if val := os.Getenv("DB_PORT"); val != "" {
		fmt.Sscanf(val, "%d", &c.Database.Port)
	}
	if val := os.Getenv("DB_USER"); val != "" {
		c.Database.User = val
	}
	if val := os.Getenv("DB_PASSWORD"); val != "" {
		c.Database.Password = val
	}
	if val := os.Getenv("DB_NAME"); val != "" {
		c.Database.Database = val
	}
	if val := os.Getenv("DB_SSL_MODE"); val != "" {
		c.Database.SSLMode = val
	}

	// Log
	if val := os.Getenv("LOG_LEVEL"); val != "" {
		c.Log.Level = val
	}
	if val := os.Getenv("LOG_FORMAT"); val != "" {
		c.Log.Format = val
	}

	// Collaborators
	if val := os.Getenv("REDIS_URL"); val != "" {
		c.Redis.URL = val
	}
	if val := os.Getenv("KAFKA_BROKER"); val != "" {
		c.Kafka.Broker = val
	}
	if val := os.Getenv("KAFKA_TOPIC"); val != "" {
		c.Kafka.Topic = val
	}
	if val := os.Getenv("SENDGRID_API_KEY"); val != "" {
		c.SendGrid.APIKey = val
	}

	// Billing
	if val := os.Getenv("BILLING_TAX_RATE"); val != "" {
		c.Billing.TaxRate = val
	}

	// Set defaults for log if not configured
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

// Validate checks if the configuration is valid and fills defaults
func (c *Config) Validate() error {
	// Database validation
	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}
	if c.Database.User == "" {
		return fmt.Errorf("database user is required")
	}
	if c.Database.Database == "" {
		return fmt.Errorf("database name is required")
	}
	if c.Database.Port == 0 {
		c.Database.Port = 5432
	}
	if c.Database.Port < 0 || c.Database.Port > 65535 {
		return fmt.Errorf("invalid database port: %d", c.Database.Port)
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = "disable"
	}

	// Log validation
	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		return err
	}
	format, err := logger.ParseFormat(c.Log.Format)
	if err != nil {
		return err
	}
	c.Log.Format = format

	// Billing defaults
	if c.Billing.TaxRate == "" {
		c.Billing.TaxRate = "0.085"
	}
	if c.Billing.DepositAmount == "" {
		c.Billing.DepositAmount = "250.00"
	}
	if c.Billing.CommissionRate == "" {
		c.Billing.CommissionRate = "0.15"
	}
	if err := fraction("billing.tax_rate", c.Billing.TaxRate); err != nil {
		return err
	}
	if err := fraction("billing.commission_rate", c.Billing.CommissionRate); err != nil {
		return err
	}
	if d, err := decimal.NewFromString(c.Billing.DepositAmount); err != nil || d.IsNegative() {
		return fmt.Errorf("invalid billing.deposit_amount: %q", c.Billing.DepositAmount)
	}
	if c.Billing.DueDays == 0 {
		c.Billing.DueDays = 7
	}
	if c.Billing.CancellationWindowHours == 0 {
		c.Billing.CancellationWindowHours = 24
	}
	if c.Billing.PaymentTimeoutSeconds == 0 {
		c.Billing.PaymentTimeoutSeconds = 30
	}
	if c.Billing.Workers == 0 {
		c.Billing.Workers = 4
	}
	if c.Billing.LeaseTTLSeconds == 0 {
		c.Billing.LeaseTTLSeconds = 120
	}
	if c.Billing.DueDays < 0 || c.Billing.CancellationWindowHours < 0 || c.Billing.PaymentTimeoutSeconds < 0 ||
		c.Billing.Workers < 0 || c.Billing.LeaseTTLSeconds < 0 {
		return fmt.Errorf("billing durations and worker count must not be negative")
	}

	// Rate defaults, per vehicle type
	if c.Rates == nil {
		c.Rates = map[string]RateConfig{}
	}
	for key, def := range defaultRates {
		if _, ok := c.Rates[key]; !ok {
			c.Rates[key] = def
		}
	}
	for key, rate := range c.Rates {
		for _, val := range []string{rate.DailyRate, rate.RapDailyRate} {
			if d, err := decimal.NewFromString(val); err != nil || d.IsNegative() {
				return fmt.Errorf("invalid rate for %s: %q", key, val)
			}
		}
	}

	// Payout defaults
	if c.Payout.MaxRetries == 0 {
		c.Payout.MaxRetries = 3
	}
	if c.Payout.MaxRetries < 0 {
		return fmt.Errorf("invalid payout.max_retries: %d", c.Payout.MaxRetries)
	}
	if c.Payout.Currency == "" {
		c.Payout.Currency = "usd"
	}
	if c.Payout.BatchSize == 0 {
		c.Payout.BatchSize = 50
	}

	// Scheduler defaults
	if c.Scheduler.ProcessWeeklyBilling == "" {
		c.Scheduler.ProcessWeeklyBilling = "0 0 1 * * *" // 1 AM UTC
	}
	if c.Scheduler.MarkOverdueInvoices == "" {
		c.Scheduler.MarkOverdueInvoices = "0 0 2 * * *" // 2 AM UTC
	}
	if c.Scheduler.ProcessPayouts == "" {
		c.Scheduler.ProcessPayouts = "0 30 2 * * *" // 2:30 AM UTC
	}
	if c.Scheduler.BillingReport == "" {
		c.Scheduler.BillingReport = "0 0 6 1 * *" // 1st of month at 6 AM UTC
	}

	if c.Kafka.Broker != "" && c.Kafka.Topic == "" {
		c.Kafka.Topic = "rental-billing-events"
	}
	if c.SendGrid.FromEmail == "" {
		c.SendGrid.FromEmail = "billing@example.com"
	}
	if c.SendGrid.FromName == "" {
		c.SendGrid.FromName = "Rental Billing"
	}

	return nil
}

func fraction(name, val string) error {
	d, err := decimal.NewFromString(val)
	if err != nil {
		return fmt.Errorf("invalid %s: %q", name, val)
	}
	if d.IsNegative() || d.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return fmt.Errorf("%s must be in [0, 1): %s", name, val)
	}
	return nil
}

// GetDatabaseConnectionString returns a PostgreSQL connection string
func (c *Config) GetDatabaseConnectionString() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Database,
		c.Database.SSLMode,
	)
}

// RateTable converts the rates section into the domain lookup table.
// Validate must have run first.
func (c *Config) RateTable() domain.RateTable {
	table := domain.RateTable{ByType: map[domain.VehicleType]domain.VehicleRates{}}
	for key, rate := range c.Rates {
		rates := domain.VehicleRates{
			DailyRate:    decimal.RequireFromString(rate.DailyRate),
			RapDailyRate: decimal.RequireFromString(rate.RapDailyRate),
		}
		if key == FallbackRateKey {
			table.Fallback = rates
			continue
		}
		table.ByType[domain.VehicleType(key)] = rates
	}
	return table
}

// BillingPolicy holds the validated billing settings as typed values
type BillingPolicy struct {
	TaxRate            decimal.Decimal
	DepositAmount      decimal.Decimal
	CommissionRate     decimal.Decimal
	DueDays            int
	CancellationWindow time.Duration
	PaymentTimeout     time.Duration
	Workers            int
	LeaseTTL           time.Duration
}

// BillingPolicy converts the billing section. Validate must have run first.
func (c *Config) BillingPolicy() BillingPolicy {
	return BillingPolicy{
		TaxRate:            decimal.RequireFromString(c.Billing.TaxRate),
		DepositAmount:      decimal.RequireFromString(c.Billing.DepositAmount),
		CommissionRate:     decimal.RequireFromString(c.Billing.CommissionRate),
		DueDays:            c.Billing.DueDays,
		CancellationWindow: time.Duration(c.Billing.CancellationWindowHours) * time.Hour,
		PaymentTimeout:     time.Duration(c.Billing.PaymentTimeoutSeconds) * time.Second,
		Workers:            c.Billing.Workers,
		LeaseTTL:           time.Duration(c.Billing.LeaseTTLSeconds) * time.Second,
	}
}
