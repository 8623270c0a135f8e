package config

import (
	"os"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func TestLoadConfig_Defaults(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	for _, key := range []string{"PORT", "SERVER_PORT", "DEPOSIT_PERCENT", "FULL_PAYMENT_THRESHOLD_DAYS", "PAYMENT_PROVIDER", "PAYMENT_LINK_MAX_AMOUNT", "BOOKING_TIMEZONE", "PROVIDER_TIMEOUT_SECONDS"} {
		unsetEnvWithCleanup(t, key)
	}

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.ServerPort != "8080" {
		t.Fatalf("expected default port 8080, got %q", cfg.ServerPort)
	}
	if cfg.DepositPercent != 30 || cfg.FullPaymentThresholdDays != 30 {
		t.Fatalf("unexpected payment policy defaults: %d%% / %d days", cfg.DepositPercent, cfg.FullPaymentThresholdDays)
	}
	if cfg.PaymentLinkMaxAmountMinor() != 10_000_000 {
		t.Fatalf("expected ceiling of 100000.00, got %d minor", cfg.PaymentLinkMaxAmountMinor())
	}
	if cfg.PaymentProvider != ProviderLinkPay {
		t.Fatalf("expected default provider linkpay, got %q", cfg.PaymentProvider)
	}
	if cfg.ProviderTimeout() != 10*time.Second {
		t.Fatalf("expected 10s provider timeout, got %s", cfg.ProviderTimeout())
	}
	if cfg.BookingEventsExchange != "booking_events" {
		t.Fatalf("unexpected exchange %q", cfg.BookingEventsExchange)
	}
}

func TestLoadConfig_PortOverridesServerPort(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "SERVER_PORT", "8080")
	setEnvWithCleanup(t, "PORT", "9999")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.ServerPort != "9999" {
		t.Fatalf("expected PORT to win, got %q", cfg.ServerPort)
	}
}

func TestLoadConfig_CoercesOutOfRangeValues(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "DEPOSIT_PERCENT", "150")
	setEnvWithCleanup(t, "FULL_PAYMENT_THRESHOLD_DAYS", "-4")
	setEnvWithCleanup(t, "PAYMENT_LINK_MAX_AMOUNT", "0")
	setEnvWithCleanup(t, "PAYMENT_PROVIDER", "paypal")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.DepositPercent != 100 {
		t.Fatalf("expected deposit percent capped at 100, got %d", cfg.DepositPercent)
	}
	if cfg.FullPaymentThresholdDays != 0 {
		t.Fatalf("expected threshold coerced to 0, got %d", cfg.FullPaymentThresholdDays)
	}
	if cfg.PaymentLinkMaxAmount != defaultMaxAmount {
		t.Fatalf("expected default ceiling, got %d", cfg.PaymentLinkMaxAmount)
	}
	if cfg.PaymentProvider != ProviderLinkPay {
		t.Fatalf("expected fallback provider, got %q", cfg.PaymentProvider)
	}
	if len(cfg.Warnings) < 4 {
		t.Fatalf("expected a warning per coerced value, got %v", cfg.Warnings)
	}
}

func TestLoadConfig_InternalAPIKeyAlias(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	unsetEnvWithCleanup(t, "INTERNAL_API_KEY")
	setEnvWithCleanup(t, "SETTLEMENT_SERVICE_INTERNAL_API_KEY", "alias-only-key")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.InternalAPIKey != "alias-only-key" {
		t.Fatalf("expected InternalAPIKey from alias env var, got %q", cfg.InternalAPIKey)
	}
}

func TestLoadConfig_InvalidTimezoneFallsBackToUTC(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "BOOKING_TIMEZONE", "Mars/Olympus_Mons")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.BookingTimezone != "UTC" || cfg.Location() != time.UTC {
		t.Fatalf("expected UTC fallback, got %q", cfg.BookingTimezone)
	}
}

func TestAllowedOrigins(t *testing.T) {
	cfg := Config{CORSAllowedOrigins: " https://portal.example.com, ,https://admin.example.com "}
	got := strings.Join(cfg.AllowedOrigins(), "|")
	if got != "https://portal.example.com|https://admin.example.com" {
		t.Fatalf("unexpected origins %q", got)
	}
}

func setEnvWithCleanup(t *testing.T, key string, value string) {
	t.Helper()
	prev, hadPrev := os.LookupEnv(key)
	if err := os.Setenv(key, value); err != nil {
		t.Fatalf("failed to set env %s: %v", key, err)
	}
	t.Cleanup(func() {
		if hadPrev {
			_ = os.Setenv(key, prev)
			return
		}
		_ = os.Unsetenv(key)
	})
}

func unsetEnvWithCleanup(t *testing.T, key string) {
	t.Helper()
	prev, hadPrev := os.LookupEnv(key)
	if err := os.Unsetenv(key); err != nil {
		t.Fatalf("failed to unset env %s: %v", key, err)
	}
	t.Cleanup(func() {
		if hadPrev {
			_ = os.Setenv(key, prev)
			return
		}
		_ = os.Unsetenv(key)
	})
}
