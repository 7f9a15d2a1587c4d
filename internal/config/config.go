/**
 * @description
 * This package handles the configuration management for the service. It uses the
 * Viper library to read configuration from environment variables, providing a
 * centralized and straightforward way to manage application settings.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all the configuration variables for the switch-service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort string `mapstructure:"SERVER_PORT"`

	DatabaseURL string `mapstructure:"DATABASE_URL"`
	RedisURL    string `mapstructure:"REDIS_URL"`
	RabbitMQURL string `mapstructure:"RABBITMQ_URL"`

	InternalAPIKey string `mapstructure:"INTERNAL_API_KEY"`
	PSPJWKSURL     string `mapstructure:"PSP_JWKS_URL"`

	ProvisioningEventQueue string `mapstructure:"PROVISIONING_EVENT_QUEUE"`

	AdapterTimeoutMS     int `mapstructure:"ADAPTER_TIMEOUT_MS"`
	StatusQueryRetries   int `mapstructure:"STATUS_QUERY_RETRIES"`
	StatusQueryBackoffMS int `mapstructure:"STATUS_QUERY_BACKOFF_MS"`
	ReversalMaxAttempts  int `mapstructure:"REVERSAL_MAX_ATTEMPTS"`
	ReversalBackoffMS    int `mapstructure:"REVERSAL_BACKOFF_MS"`

	RoutingLatencyWeight    float64 `mapstructure:"ROUTING_LATENCY_WEIGHT"`
	RoutingSuccessWeight    float64 `mapstructure:"ROUTING_SUCCESS_WEIGHT"`
	CircuitFailureThreshold float64 `mapstructure:"CIRCUIT_FAILURE_THRESHOLD"`
	CircuitWindowSize       int     `mapstructure:"CIRCUIT_WINDOW_SIZE"`
	CircuitMinSamples       int     `mapstructure:"CIRCUIT_MIN_SAMPLES"`
	CircuitCooldownSeconds  int     `mapstructure:"CIRCUIT_COOLDOWN_SECONDS"`

	VPACacheTTLSeconds int `mapstructure:"VPA_CACHE_TTL_SECONDS"`

	IdempotencyRetentionHours int `mapstructure:"IDEMPOTENCY_RETENTION_HOURS"`
	IdempotencyWaitTimeoutMS  int `mapstructure:"IDEMPOTENCY_WAIT_TIMEOUT_MS"`

	SettlementCron          string `mapstructure:"SETTLEMENT_CRON"`
	SettlementEODCron       string `mapstructure:"SETTLEMENT_EOD_CRON"`
	SettlementWindowMinutes int    `mapstructure:"SETTLEMENT_WINDOW_MINUTES"`
	SettlementLeaseSeconds  int    `mapstructure:"SETTLEMENT_LEASE_SECONDS"`

	OutboxPollIntervalMS     int `mapstructure:"OUTBOX_POLL_INTERVAL_MS"`
	OutboxBatchSize          int `mapstructure:"OUTBOX_BATCH_SIZE"`
	ReconcileIntervalSeconds int `mapstructure:"RECONCILE_INTERVAL_SECONDS"`

	TransferRateLimit              int `mapstructure:"TRANSFER_RATE_LIMIT"`
	TransferRateLimitWindowSeconds int `mapstructure:"TRANSFER_RATE_LIMIT_WINDOW_SECONDS"`
}

// AdapterTimeout returns the per-call budget for one bank adapter operation.
// This is distinct from any transport-level timeout on the HTTP client.
func (c Config) AdapterTimeout() time.Duration {
	return time.Duration(c.AdapterTimeoutMS) * time.Millisecond
}

// LoadConfig reads configuration from environment variables from the given path.
// It uses Viper to automatically bind environment variables to the Config struct.
func LoadConfig(path string) (config Config, err error) {
	// Tell viper the path to look for the optional .env file.
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	// Enable automatic binding of environment variables.
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set default values
	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("PROVISIONING_EVENT_QUEUE", "switch_service.vpa_provisioning")
	viper.SetDefault("ADAPTER_TIMEOUT_MS", 3000)
	viper.SetDefault("STATUS_QUERY_RETRIES", 3)
	viper.SetDefault("STATUS_QUERY_BACKOFF_MS", 500)
	viper.SetDefault("REVERSAL_MAX_ATTEMPTS", 5)
	viper.SetDefault("REVERSAL_BACKOFF_MS", 1000)
	viper.SetDefault("ROUTING_LATENCY_WEIGHT", 0.4)
	viper.SetDefault("ROUTING_SUCCESS_WEIGHT", 0.6)
	viper.SetDefault("CIRCUIT_FAILURE_THRESHOLD", 0.5)
	viper.SetDefault("CIRCUIT_WINDOW_SIZE", 100)
	viper.SetDefault("CIRCUIT_MIN_SAMPLES", 10)
	viper.SetDefault("CIRCUIT_COOLDOWN_SECONDS", 30)
	viper.SetDefault("VPA_CACHE_TTL_SECONDS", 86400)
	viper.SetDefault("IDEMPOTENCY_RETENTION_HOURS", 24)
	viper.SetDefault("IDEMPOTENCY_WAIT_TIMEOUT_MS", 5000)
	viper.SetDefault("SETTLEMENT_CRON", "*/15 * * * *")
	viper.SetDefault("SETTLEMENT_EOD_CRON", "59 23 * * *")
	viper.SetDefault("SETTLEMENT_WINDOW_MINUTES", 15)
	viper.SetDefault("SETTLEMENT_LEASE_SECONDS", 300)
	viper.SetDefault("OUTBOX_POLL_INTERVAL_MS", 500)
	viper.SetDefault("OUTBOX_BATCH_SIZE", 100)
	viper.SetDefault("RECONCILE_INTERVAL_SECONDS", 60)
	viper.SetDefault("TRANSFER_RATE_LIMIT", 200)
	viper.SetDefault("TRANSFER_RATE_LIMIT_WINDOW_SECONDS", 60)

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("INTERNAL_API_KEY", "INTERNAL_API_KEY", "SWITCH_SERVICE_INTERNAL_API_KEY")
	_ = viper.BindEnv("PSP_JWKS_URL")
	_ = viper.BindEnv("PROVISIONING_EVENT_QUEUE")
	_ = viper.BindEnv("ADAPTER_TIMEOUT_MS")
	_ = viper.BindEnv("STATUS_QUERY_RETRIES")
	_ = viper.BindEnv("STATUS_QUERY_BACKOFF_MS")
	_ = viper.BindEnv("REVERSAL_MAX_ATTEMPTS")
	_ = viper.BindEnv("REVERSAL_BACKOFF_MS")
	_ = viper.BindEnv("ROUTING_LATENCY_WEIGHT")
	_ = viper.BindEnv("ROUTING_SUCCESS_WEIGHT")
	_ = viper.BindEnv("CIRCUIT_FAILURE_THRESHOLD")
	_ = viper.BindEnv("CIRCUIT_WINDOW_SIZE")
	_ = viper.BindEnv("CIRCUIT_MIN_SAMPLES")
	_ = viper.BindEnv("CIRCUIT_COOLDOWN_SECONDS")
	_ = viper.BindEnv("VPA_CACHE_TTL_SECONDS")
	_ = viper.BindEnv("IDEMPOTENCY_RETENTION_HOURS")
	_ = viper.BindEnv("IDEMPOTENCY_WAIT_TIMEOUT_MS")
	_ = viper.BindEnv("SETTLEMENT_CRON")
	_ = viper.BindEnv("SETTLEMENT_EOD_CRON")
	_ = viper.BindEnv("SETTLEMENT_WINDOW_MINUTES")
	_ = viper.BindEnv("SETTLEMENT_LEASE_SECONDS")
	_ = viper.BindEnv("OUTBOX_POLL_INTERVAL_MS")
	_ = viper.BindEnv("OUTBOX_BATCH_SIZE")
	_ = viper.BindEnv("RECONCILE_INTERVAL_SECONDS")
	_ = viper.BindEnv("TRANSFER_RATE_LIMIT")
	_ = viper.BindEnv("TRANSFER_RATE_LIMIT_WINDOW_SECONDS")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
	}

	// Unmarshal the configuration into the Config struct.
	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	config.InternalAPIKey = strings.TrimSpace(config.InternalAPIKey)
	config.RedisURL = strings.TrimSpace(config.RedisURL)

	// Scoring weights must be non-negative and not both zero, otherwise every
	// candidate scores identically and routing degrades to the tie-break.
	if config.RoutingLatencyWeight < 0 {
		log.Printf("level=warn component=config msg=\"negative latency weight; coercing to zero\" value=%f", config.RoutingLatencyWeight)
		config.RoutingLatencyWeight = 0
	}
	if config.RoutingSuccessWeight < 0 {
		log.Printf("level=warn component=config msg=\"negative success weight; coercing to zero\" value=%f", config.RoutingSuccessWeight)
		config.RoutingSuccessWeight = 0
	}
	if config.RoutingLatencyWeight == 0 && config.RoutingSuccessWeight == 0 {
		config.RoutingLatencyWeight = 0.4
		config.RoutingSuccessWeight = 0.6
	}

	if config.CircuitFailureThreshold <= 0 || config.CircuitFailureThreshold > 1 {
		log.Printf("level=warn component=config msg=\"circuit failure threshold outside (0,1]; using default\" value=%f", config.CircuitFailureThreshold)
		config.CircuitFailureThreshold = 0.5
	}
	if config.CircuitWindowSize <= 0 {
		config.CircuitWindowSize = 100
	}
	if config.CircuitMinSamples <= 0 {
		config.CircuitMinSamples = 10
	}
	if config.CircuitCooldownSeconds <= 0 {
		config.CircuitCooldownSeconds = 30
	}
	if config.AdapterTimeoutMS <= 0 {
		config.AdapterTimeoutMS = 3000
	}
	if config.ReversalMaxAttempts <= 0 {
		config.ReversalMaxAttempts = 5
	}
	if config.StatusQueryRetries <= 0 {
		config.StatusQueryRetries = 3
	}
	if config.IdempotencyRetentionHours <= 0 {
		config.IdempotencyRetentionHours = 24
	}
	if config.SettlementWindowMinutes <= 0 {
		config.SettlementWindowMinutes = 15
	}
	if config.OutboxBatchSize <= 0 {
		config.OutboxBatchSize = 100
	}

	return
}
