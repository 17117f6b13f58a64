package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds the relay configuration.
type Config struct {
	SourcePort     int
	SinkPort       int
	TURNURL        string
	TURNUsername   string
	TURNCredential string
	LogFile        string
}

// Load reads configuration from a .env file (if present) and environment
// variables. Environment variables take precedence over .env values; unset
// variables fall back to the defaults below.
func Load() (*Config, error) {
	// godotenv.Load does not overwrite existing env vars
	_ = godotenv.Load()

	cfg := &Config{
		SourcePort:     9002,
		SinkPort:       9003,
		TURNURL:        "turn:127.0.0.1:3478?transport=tcp",
		TURNUsername:   "user",
		TURNCredential: "root",
		LogFile:        "relay.log",
	}

	var err error
	if cfg.SourcePort, err = portVar("RELAY_SOURCE_PORT", cfg.SourcePort); err != nil {
		return nil, err
	}
	if cfg.SinkPort, err = portVar("RELAY_SINK_PORT", cfg.SinkPort); err != nil {
		return nil, err
	}

	if v := os.Getenv("RELAY_TURN_URL"); v != "" {
		cfg.TURNURL = v
	}
	if v := os.Getenv("RELAY_TURN_USERNAME"); v != "" {
		cfg.TURNUsername = v
	}
	if v := os.Getenv("RELAY_TURN_CREDENTIAL"); v != "" {
		cfg.TURNCredential = v
	}

	// An empty RELAY_LOG_FILE disables the log file entirely.
	if v, ok := os.LookupEnv("RELAY_LOG_FILE"); ok {
		cfg.LogFile = v
	}

	return cfg, nil
}

func portVar(name string, fallback int) (int, error) {
	v := os.Getenv(name)
	if v == "" {
		return fallback, nil
	}
	p, err := strconv.Atoi(v)
	if err != nil || p < 0 || p > 65535 {
		return 0, fmt.Errorf("invalid %s %q", name, v)
	}
	return p, nil
}
