// Package config loads runtime configuration from the environment,
// with an optional .env file for local development.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/RexEtImperator/skaner-faktur-projekt/internal/ksef"
)

// Config holds all runtime settings.
type Config struct {
	ServerAddress string
	Debug         bool

	BaseURL         string
	RequestTimeout  time.Duration
	SessionDuration time.Duration
	SafetyMargin    time.Duration

	KeystoreDir        string
	KeystorePassphrase string
}

// Load reads configuration from the environment. A .env file in the
// working directory is applied first when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		ServerAddress:      envOr("SERVER_ADDRESS", ":8080"),
		Debug:              os.Getenv("DEBUG") == "true",
		BaseURL:            envOr("KSEF_BASE_URL", ksef.DefaultBaseURL),
		RequestTimeout:     ksef.DefaultTimeout,
		SessionDuration:    ksef.DefaultSessionDuration,
		SafetyMargin:       ksef.DefaultSafetyMargin,
		KeystoreDir:        envOr("KEYSTORE_DIR", "user_certs"),
		KeystorePassphrase: os.Getenv("KEYSTORE_PASSPHRASE"),
	}

	var err error
	if cfg.RequestTimeout, err = durationOr("KSEF_REQUEST_TIMEOUT", cfg.RequestTimeout); err != nil {
		return nil, err
	}
	if cfg.SessionDuration, err = durationOr("KSEF_SESSION_DURATION", cfg.SessionDuration); err != nil {
		return nil, err
	}
	if cfg.SafetyMargin, err = durationOr("KSEF_SAFETY_MARGIN", cfg.SafetyMargin); err != nil {
		return nil, err
	}

	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func durationOr(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return d, nil
}
