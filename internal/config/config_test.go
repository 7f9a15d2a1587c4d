package config

import (
	"os"
	"testing"

	"github.com/spf13/viper"
)

func TestLoadConfig_UsesSwitchServiceInternalAPIKeyAlias(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	unsetEnvWithCleanup(t, "INTERNAL_API_KEY")
	setEnvWithCleanup(t, "SWITCH_SERVICE_INTERNAL_API_KEY", "alias-only-key")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.InternalAPIKey != "alias-only-key" {
		t.Fatalf("expected InternalAPIKey from alias env var, got %q", cfg.InternalAPIKey)
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	unsetEnvWithCleanup(t, "CIRCUIT_FAILURE_THRESHOLD")
	unsetEnvWithCleanup(t, "IDEMPOTENCY_RETENTION_HOURS")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.CircuitFailureThreshold != 0.5 {
		t.Fatalf("expected default circuit failure threshold 0.5, got %f", cfg.CircuitFailureThreshold)
	}
	if cfg.IdempotencyRetentionHours != 24 {
		t.Fatalf("expected default idempotency retention 24h, got %d", cfg.IdempotencyRetentionHours)
	}
	if cfg.SettlementCron == "" || cfg.SettlementEODCron == "" {
		t.Fatal("expected settlement cron defaults to be set")
	}
}

func TestLoadConfig_CoercesBadCircuitThreshold(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "CIRCUIT_FAILURE_THRESHOLD", "1.7")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.CircuitFailureThreshold != 0.5 {
		t.Fatalf("expected out-of-range threshold to fall back to 0.5, got %f", cfg.CircuitFailureThreshold)
	}
}

func TestLoadConfig_ZeroWeightsFallBackToDefaults(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "ROUTING_LATENCY_WEIGHT", "0")
	setEnvWithCleanup(t, "ROUTING_SUCCESS_WEIGHT", "0")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.RoutingLatencyWeight != 0.4 || cfg.RoutingSuccessWeight != 0.6 {
		t.Fatalf("expected default weights 0.4/0.6, got %f/%f", cfg.RoutingLatencyWeight, cfg.RoutingSuccessWeight)
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
