/**
 * @description
 * This package handles the configuration management for the settlement-service. It uses
 * Viper to read an optional .env file and environment variables into a single Config.
 * Out-of-range values are coerced rather than rejected; every coercion is recorded in
 * Config.Warnings so main can log it once the logger exists.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Supported checkout providers.
const (
	ProviderLinkPay = "linkpay"
	ProviderMollie  = "mollie"
)

const (
	defaultDepositPercent      = 30
	defaultThresholdDays       = 30
	defaultMaxAmount           = 100000
	defaultLinkTTLHours        = 48
	defaultProviderTimeoutSecs = 10
	defaultLinkRateLimit       = 20
	defaultRateLimitPrefix     = "settlement:rate_limit"
	defaultExpirySchedule      = "@every 15m"
)

// Config holds all the configuration variables for the settlement-service.
type Config struct {
	ServerPort               string `mapstructure:"SERVER_PORT"`
	DatabaseURL              string `mapstructure:"DATABASE_URL"`
	RedisURL                 string `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix     string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	RabbitMQURL              string `mapstructure:"RABBITMQ_URL"`
	BookingEventsExchange    string `mapstructure:"BOOKING_EVENTS_EXCHANGE"`
	PublicBaseURL            string `mapstructure:"PUBLIC_BASE_URL"`
	APIBaseURL               string `mapstructure:"API_BASE_URL"`
	Currency                 string `mapstructure:"CURRENCY"`
	BookingTimezone          string `mapstructure:"BOOKING_TIMEZONE"`
	DepositPercent           int    `mapstructure:"DEPOSIT_PERCENT"`
	FullPaymentThresholdDays int    `mapstructure:"FULL_PAYMENT_THRESHOLD_DAYS"`
	PaymentLinkMaxAmount     int64  `mapstructure:"PAYMENT_LINK_MAX_AMOUNT"`
	PaymentLinkTTLHours      int    `mapstructure:"PAYMENT_LINK_TTL_HOURS"`
	PaymentProvider          string `mapstructure:"PAYMENT_PROVIDER"`
	LinkPayAPIBaseURL        string `mapstructure:"LINKPAY_API_BASE_URL"`
	LinkPayAPIKey            string `mapstructure:"LINKPAY_API_KEY"`
	LinkPayWebhookSecret     string `mapstructure:"LINKPAY_WEBHOOK_SECRET"`
	MollieAPIBaseURL         string `mapstructure:"MOLLIE_API_BASE_URL"`
	MollieAPIKey             string `mapstructure:"MOLLIE_API_KEY"`
	ProviderTimeoutSeconds   int    `mapstructure:"PROVIDER_TIMEOUT_SECONDS"`
	ClientJWTSecret          string `mapstructure:"CLIENT_JWT_SECRET"`
	InternalAPIKey           string `mapstructure:"INTERNAL_API_KEY"`
	CORSAllowedOrigins       string `mapstructure:"CORS_ALLOWED_ORIGINS"`
	LinkCreateRatePerMin     int    `mapstructure:"LINK_CREATE_RATE_LIMIT_PER_MINUTE"`
	LinkExpirySchedule       string `mapstructure:"LINK_EXPIRY_SCHEDULE"`
	CompanyName              string `mapstructure:"COMPANY_NAME"`
	CompanyAddress           string `mapstructure:"COMPANY_ADDRESS"`
	LogLevel                 string `mapstructure:"LOG_LEVEL"`

	Warnings []string `mapstructure:"-"`
}

// LoadConfig reads configuration from environment variables and the optional .env file in path.
func LoadConfig(path string) (config Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", defaultRateLimitPrefix)
	viper.SetDefault("BOOKING_EVENTS_EXCHANGE", "booking_events")
	viper.SetDefault("CURRENCY", "EUR")
	viper.SetDefault("BOOKING_TIMEZONE", "Europe/Paris")
	viper.SetDefault("DEPOSIT_PERCENT", defaultDepositPercent)
	viper.SetDefault("FULL_PAYMENT_THRESHOLD_DAYS", defaultThresholdDays)
	viper.SetDefault("PAYMENT_LINK_MAX_AMOUNT", defaultMaxAmount)
	viper.SetDefault("PAYMENT_LINK_TTL_HOURS", defaultLinkTTLHours)
	viper.SetDefault("PAYMENT_PROVIDER", ProviderLinkPay)
	viper.SetDefault("PROVIDER_TIMEOUT_SECONDS", defaultProviderTimeoutSecs)
	viper.SetDefault("LINK_CREATE_RATE_LIMIT_PER_MINUTE", defaultLinkRateLimit)
	viper.SetDefault("LINK_EXPIRY_SCHEDULE", defaultExpirySchedule)
	viper.SetDefault("COMPANY_NAME", "BusQuote")
	viper.SetDefault("LOG_LEVEL", "info")

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL", "REDIS_URL", "SETTLEMENT_REDIS_URL")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("BOOKING_EVENTS_EXCHANGE")
	_ = viper.BindEnv("PUBLIC_BASE_URL")
	_ = viper.BindEnv("API_BASE_URL")
	_ = viper.BindEnv("CURRENCY")
	_ = viper.BindEnv("BOOKING_TIMEZONE")
	_ = viper.BindEnv("DEPOSIT_PERCENT")
	_ = viper.BindEnv("FULL_PAYMENT_THRESHOLD_DAYS")
	_ = viper.BindEnv("PAYMENT_LINK_MAX_AMOUNT")
	_ = viper.BindEnv("PAYMENT_LINK_TTL_HOURS")
	_ = viper.BindEnv("PAYMENT_PROVIDER")
	_ = viper.BindEnv("LINKPAY_API_BASE_URL")
	_ = viper.BindEnv("LINKPAY_API_KEY")
	_ = viper.BindEnv("LINKPAY_WEBHOOK_SECRET")
	_ = viper.BindEnv("MOLLIE_API_BASE_URL")
	_ = viper.BindEnv("MOLLIE_API_KEY")
	_ = viper.BindEnv("PROVIDER_TIMEOUT_SECONDS")
	_ = viper.BindEnv("CLIENT_JWT_SECRET")
	_ = viper.BindEnv("INTERNAL_API_KEY", "INTERNAL_API_KEY", "SETTLEMENT_SERVICE_INTERNAL_API_KEY")
	_ = viper.BindEnv("CORS_ALLOWED_ORIGINS")
	_ = viper.BindEnv("LINK_CREATE_RATE_LIMIT_PER_MINUTE")
	_ = viper.BindEnv("LINK_EXPIRY_SCHEDULE")
	_ = viper.BindEnv("COMPANY_NAME")
	_ = viper.BindEnv("COMPANY_ADDRESS")
	_ = viper.BindEnv("LOG_LEVEL")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			config.warn("failed to read config file; using environment values: %v", err)
		}
	}

	warnings := config.Warnings
	if err = viper.Unmarshal(&config); err != nil {
		return
	}
	config.Warnings = warnings

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}
	config.normalize()
	return config, nil
}

func (c *Config) warn(format string, args ...interface{}) {
	c.Warnings = append(c.Warnings, fmt.Sprintf(format, args...))
}

func (c *Config) normalize() {
	c.RedisURL = strings.TrimSpace(c.RedisURL)
	c.RedisRateLimitPrefix = strings.TrimSpace(c.RedisRateLimitPrefix)
	if c.RedisRateLimitPrefix == "" {
		c.RedisRateLimitPrefix = defaultRateLimitPrefix
	}
	c.InternalAPIKey = strings.TrimSpace(c.InternalAPIKey)
	c.ClientJWTSecret = strings.TrimSpace(c.ClientJWTSecret)
	c.LinkPayWebhookSecret = strings.TrimSpace(c.LinkPayWebhookSecret)
	c.PublicBaseURL = strings.TrimSuffix(strings.TrimSpace(c.PublicBaseURL), "/")
	c.APIBaseURL = strings.TrimSuffix(strings.TrimSpace(c.APIBaseURL), "/")
	c.Currency = strings.ToUpper(strings.TrimSpace(c.Currency))
	if c.Currency == "" {
		c.Currency = "EUR"
	}

	if c.DepositPercent < 0 {
		c.warn("negative deposit percent configured; coercing to zero (deposit_percent=%d)", c.DepositPercent)
		c.DepositPercent = 0
	}
	if c.DepositPercent > 100 {
		c.warn("deposit percent too high; capping at 100 (deposit_percent=%d)", c.DepositPercent)
		c.DepositPercent = 100
	}
	if c.FullPaymentThresholdDays < 0 {
		c.warn("negative full payment threshold configured; coercing to zero (days=%d)", c.FullPaymentThresholdDays)
		c.FullPaymentThresholdDays = 0
	}
	if c.PaymentLinkMaxAmount <= 0 {
		c.warn("non-positive payment link ceiling configured; using %d", defaultMaxAmount)
		c.PaymentLinkMaxAmount = defaultMaxAmount
	}
	if c.PaymentLinkTTLHours <= 0 {
		c.PaymentLinkTTLHours = defaultLinkTTLHours
	}
	if c.ProviderTimeoutSeconds <= 0 {
		c.ProviderTimeoutSeconds = defaultProviderTimeoutSecs
	}
	if c.LinkCreateRatePerMin <= 0 {
		c.LinkCreateRatePerMin = defaultLinkRateLimit
	}
	if strings.TrimSpace(c.LinkExpirySchedule) == "" {
		c.LinkExpirySchedule = defaultExpirySchedule
	}

	c.PaymentProvider = strings.ToLower(strings.TrimSpace(c.PaymentProvider))
	switch c.PaymentProvider {
	case ProviderLinkPay, ProviderMollie:
	default:
		c.warn("unknown payment provider %q; using %s", c.PaymentProvider, ProviderLinkPay)
		c.PaymentProvider = ProviderLinkPay
	}

	if _, err := time.LoadLocation(c.BookingTimezone); err != nil {
		c.warn("invalid booking timezone %q; using UTC: %v", c.BookingTimezone, err)
		c.BookingTimezone = "UTC"
	}
}

// Location returns the timezone in which "today" is read for departure countdowns.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.BookingTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// ProviderTimeout is the outbound HTTP timeout for payment provider calls.
func (c Config) ProviderTimeout() time.Duration {
	return time.Duration(c.ProviderTimeoutSeconds) * time.Second
}

// PaymentLinkTTL is how long a hosted checkout stays reusable.
func (c Config) PaymentLinkTTL() time.Duration {
	return time.Duration(c.PaymentLinkTTLHours) * time.Hour
}

// PaymentLinkMaxAmountMinor is the link ceiling in minor units.
func (c Config) PaymentLinkMaxAmountMinor() int64 {
	return c.PaymentLinkMaxAmount * 100
}

// AllowedOrigins splits CORS_ALLOWED_ORIGINS on commas.
func (c Config) AllowedOrigins() []string {
	var origins []string
	for _, part := range strings.Split(c.CORSAllowedOrigins, ",") {
		if origin := strings.TrimSpace(part); origin != "" {
			origins = append(origins, origin)
		}
	}
	return origins
}
