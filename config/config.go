// Package config loads server configuration from flags and environment
// variables. Environment variables win over flag defaults; an optional
// .env file is loaded first for local development.
package config

import (
	"flag"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
)

type Config struct {
	// Address is the HTTP listen address.
	Address string `env:"SERVER_ADDRESS" envDefault:":8080"`
	// DatabasePath is the SQLite file path, or ":memory:".
	DatabasePath string `env:"DATABASE_PATH" envDefault:"./data/fridge.db"`
	// Overdraft is "deny" or "allow"; see ledger.OverdraftPolicy.
	Overdraft string `env:"OVERDRAFT_POLICY" envDefault:"deny"`
	// CORSOrigins are the allowed frontend origins.
	CORSOrigins []string `env:"CORS_ORIGINS" envSeparator:"," envDefault:"http://localhost:5173,http://localhost:8080"`
	// LogLevel is a zap level string: debug, info, warn, error.
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

// Load parses the .env file (if present), the environment, and finally
// command-line flags, which override everything.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	flag.StringVar(&cfg.Address, "a", cfg.Address, "HTTP listen address")
	flag.StringVar(&cfg.DatabasePath, "d", cfg.DatabasePath, "SQLite database path")
	flag.StringVar(&cfg.Overdraft, "overdraft", cfg.Overdraft, "overdraft policy: deny or allow")
	flag.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level: debug, info, warn, error")
	flag.Parse()

	return cfg, nil
}
