package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Config holds the runtime configuration for the gating engine. All values
// come from the environment with sensible defaults; a .env file next to the
// binary is honored when present.
type Config struct {
	// Server
	ListenHost string
	ListenPort int

	// DataDir is where the key-value store keeps its state files.
	DataDir string

	// ContentBaseURL is the remote content source root. The daily file is
	// fetched from <ContentBaseURL>/<dateKey>.json.
	ContentBaseURL string

	// PaymentSinkURL receives best-effort payment records. Empty disables
	// the sink.
	PaymentSinkURL string

	// BillingPublicKey is the base64-encoded Ed25519 key used to verify
	// signed transactions from the billing boundary. Empty leaves the store
	// rejecting every transaction outside dev mode.
	BillingPublicKey string

	// TrialPeriod is the free trial window measured from first launch.
	TrialPeriod time.Duration

	// PurchaseSettleTimeout bounds the post-purchase entitlement poll.
	PurchaseSettleTimeout time.Duration

	// RecoveryGraceDelay is the pause before a pending push signal is
	// replayed into the pipeline after startup.
	RecoveryGraceDelay time.Duration

	// Logging
	LogLevel  string
	LogFormat string
}

const (
	defaultPort                  = 7070
	defaultTrialPeriod           = 72 * time.Hour
	defaultPurchaseSettleTimeout = 15 * time.Second
	defaultRecoveryGraceDelay    = time.Second
)

// Load builds the configuration from the environment.
func Load() (*Config, error) {
	// Best effort; missing .env is the normal case in production.
	if err := godotenv.Load(); err == nil {
		log.Debug().Msg("Loaded environment overrides from .env")
	}

	cfg := &Config{
		ListenHost:            getEnv("OOU_HOST", ""),
		ListenPort:            defaultPort,
		DataDir:               getEnv("OOU_DATA_DIR", "/var/lib/overorunder"),
		ContentBaseURL:        getEnv("OOU_CONTENT_URL", ""),
		PaymentSinkURL:        getEnv("OOU_PAYMENT_SINK_URL", ""),
		BillingPublicKey:      getEnv("OOU_BILLING_PUBLIC_KEY", ""),
		TrialPeriod:           getEnvDuration("OOU_TRIAL_PERIOD", defaultTrialPeriod),
		PurchaseSettleTimeout: getEnvDuration("OOU_PURCHASE_SETTLE_TIMEOUT", defaultPurchaseSettleTimeout),
		RecoveryGraceDelay:    getEnvDuration("OOU_RECOVERY_GRACE_DELAY", defaultRecoveryGraceDelay),
		LogLevel:              getEnv("OOU_LOG_LEVEL", "info"),
		LogFormat:             getEnv("OOU_LOG_FORMAT", "auto"),
	}

	if portStr := os.Getenv("OOU_PORT"); portStr != "" {
		port, err := strconv.Atoi(portStr)
		if err != nil || port < 1 || port > 65535 {
			return nil, fmt.Errorf("invalid OOU_PORT %q", portStr)
		}
		cfg.ListenPort = port
	}

	if cfg.TrialPeriod <= 0 {
		return nil, fmt.Errorf("trial period must be positive, got %s", cfg.TrialPeriod)
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Warn().Str("key", key).Str("value", v).Msg("Invalid duration, using default")
		return fallback
	}
	return d
}
