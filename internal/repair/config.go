package repair

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"repairBack/internal/repair/backup"
	"repairBack/internal/repair/pricing"
)

const (
	defaultDataDir         = "./data"
	defaultMaxCodeAttempts = 5
	defaultDenyLimit       = 2
	defaultCodeLength      = 4
	defaultCurrency        = "BYN"
	defaultExternalTimeout = 10 * time.Second
	defaultSessionTTL      = 24 * time.Hour
	defaultBotWorkers      = 16
)

// PaymentConfig configures the payment gateway client.
type PaymentConfig struct {
	BaseURL     string
	MerchantID  string
	Secret      string
	CallbackURL string
}

// Enabled reports whether payments can be created.
func (p PaymentConfig) Enabled() bool {
	return p.BaseURL != "" && p.MerchantID != "" && p.Secret != ""
}

// SMSConfig configures the SMS gateway client.
type SMSConfig struct {
	BaseURL string
	APIKey  string
	Sender  string
}

// Config holds runtime configuration for the repair module.
type Config struct {
	DataDir         string
	MaxCodeAttempts int
	DenyLimit       int
	CodeLength      int
	Tariff          pricing.Tariff
	Currency        string
	ExternalTimeout time.Duration
	SessionTTL      time.Duration
	BotWorkers      int
	TelegramToken   string
	Payment         PaymentConfig
	SMS             SMSConfig
	BackupCron      string
	BackupS3        backup.S3Config
}

// LoadConfig reads repair configuration from environment variables and applies defaults.
func LoadConfig() (Config, error) {
	cfg := Config{
		DataDir:         defaultDataDir,
		MaxCodeAttempts: defaultMaxCodeAttempts,
		DenyLimit:       defaultDenyLimit,
		CodeLength:      defaultCodeLength,
		Tariff:          pricing.DefaultTariff(),
		Currency:        defaultCurrency,
		ExternalTimeout: defaultExternalTimeout,
		SessionTTL:      defaultSessionTTL,
		BotWorkers:      defaultBotWorkers,
	}

	if v := strings.TrimSpace(os.Getenv("REPAIR_DATA_DIR")); v != "" {
		cfg.DataDir = v
	}

	if v, err := readIntEnv("REPAIR_MAX_CODE_ATTEMPTS"); err != nil {
		return Config{}, fmt.Errorf("parse REPAIR_MAX_CODE_ATTEMPTS: %w", err)
	} else if v != nil {
		cfg.MaxCodeAttempts = *v
	}

	if v, err := readIntEnv("REPAIR_DENY_LIMIT"); err != nil {
		return Config{}, fmt.Errorf("parse REPAIR_DENY_LIMIT: %w", err)
	} else if v != nil {
		cfg.DenyLimit = *v
	}

	if v, err := readIntEnv("REPAIR_CODE_LENGTH"); err != nil {
		return Config{}, fmt.Errorf("parse REPAIR_CODE_LENGTH: %w", err)
	} else if v != nil {
		cfg.CodeLength = *v
	}

	if v, err := readDecimalEnv("REPAIR_DELIVERY_BASE_FEE"); err != nil {
		return Config{}, fmt.Errorf("parse REPAIR_DELIVERY_BASE_FEE: %w", err)
	} else if v != nil {
		cfg.Tariff.BaseFee = *v
	}

	if v, err := readDecimalEnv("REPAIR_DELIVERY_RATE"); err != nil {
		return Config{}, fmt.Errorf("parse REPAIR_DELIVERY_RATE: %w", err)
	} else if v != nil {
		cfg.Tariff.Rate = *v
	}

	if v := strings.TrimSpace(os.Getenv("REPAIR_CURRENCY")); v != "" {
		cfg.Currency = strings.ToUpper(v)
	}

	if v, err := readIntEnv("REPAIR_EXTERNAL_TIMEOUT_SECONDS"); err != nil {
		return Config{}, fmt.Errorf("parse REPAIR_EXTERNAL_TIMEOUT_SECONDS: %w", err)
	} else if v != nil {
		cfg.ExternalTimeout = time.Duration(*v) * time.Second
	}

	if v, err := readIntEnv("REPAIR_SESSION_TTL_SECONDS"); err != nil {
		return Config{}, fmt.Errorf("parse REPAIR_SESSION_TTL_SECONDS: %w", err)
	} else if v != nil {
		cfg.SessionTTL = time.Duration(*v) * time.Second
	}

	if v, err := readIntEnv("REPAIR_BOT_WORKERS"); err != nil {
		return Config{}, fmt.Errorf("parse REPAIR_BOT_WORKERS: %w", err)
	} else if v != nil {
		cfg.BotWorkers = *v
	}

	cfg.TelegramToken = strings.TrimSpace(os.Getenv("TELEGRAM_BOT_TOKEN"))
	cfg.Payment = PaymentConfig{
		BaseURL:     os.Getenv("PAYMENT_BASE_URL"),
		MerchantID:  os.Getenv("PAYMENT_MERCHANT_ID"),
		Secret:      os.Getenv("PAYMENT_SECRET"),
		CallbackURL: os.Getenv("PAYMENT_CALLBACK_URL"),
	}
	cfg.SMS = SMSConfig{
		BaseURL: os.Getenv("SMS_BASE_URL"),
		APIKey:  os.Getenv("SMS_API_KEY"),
		Sender:  os.Getenv("SMS_SENDER"),
	}
	cfg.BackupCron = strings.TrimSpace(os.Getenv("BACKUP_CRON"))
	cfg.BackupS3 = backup.S3Config{
		Bucket:    os.Getenv("BACKUP_S3_BUCKET"),
		Region:    os.Getenv("BACKUP_S3_REGION"),
		Endpoint:  os.Getenv("BACKUP_S3_ENDPOINT"),
		AccessKey: os.Getenv("BACKUP_S3_ACCESS_KEY"),
		SecretKey: os.Getenv("BACKUP_S3_SECRET_KEY"),
	}

	if cfg.MaxCodeAttempts <= 0 {
		return Config{}, fmt.Errorf("REPAIR_MAX_CODE_ATTEMPTS must be positive")
	}
	if cfg.DenyLimit <= 0 {
		return Config{}, fmt.Errorf("REPAIR_DENY_LIMIT must be positive")
	}
	if cfg.CodeLength < 4 || cfg.CodeLength > 8 {
		return Config{}, fmt.Errorf("REPAIR_CODE_LENGTH must be between 4 and 8")
	}
	if cfg.Tariff.BaseFee.IsNegative() {
		return Config{}, fmt.Errorf("REPAIR_DELIVERY_BASE_FEE must not be negative")
	}
	if cfg.Tariff.Rate.IsNegative() {
		return Config{}, fmt.Errorf("REPAIR_DELIVERY_RATE must not be negative")
	}
	if cfg.ExternalTimeout <= 0 {
		return Config{}, fmt.Errorf("REPAIR_EXTERNAL_TIMEOUT_SECONDS must be positive")
	}
	if cfg.SessionTTL <= 0 {
		return Config{}, fmt.Errorf("REPAIR_SESSION_TTL_SECONDS must be positive")
	}
	if cfg.BotWorkers <= 0 {
		return Config{}, fmt.Errorf("REPAIR_BOT_WORKERS must be positive")
	}
	if cfg.BackupCron != "" && cfg.BackupS3.Bucket == "" {
		return Config{}, fmt.Errorf("BACKUP_S3_BUCKET is required when BACKUP_CRON is set")
	}

	return cfg, nil
}

func readIntEnv(name string) (*int, error) {
	val := os.Getenv(name)
	if val == "" {
		return nil, nil
	}
	v, err := strconv.Atoi(val)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func readDecimalEnv(name string) (*decimal.Decimal, error) {
	val := strings.TrimSpace(os.Getenv(name))
	if val == "" {
		return nil, nil
	}
	v, err := decimal.NewFromString(strings.ReplaceAll(val, ",", "."))
	if err != nil {
		return nil, err
	}
	return &v, nil
}
