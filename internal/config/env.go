package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/joho/godotenv"
)

const (
	EnvDatabaseURL = "DATABASE_URL"
	EnvGraphQLURL  = "GRAPHQL_URL"
	EnvTelegram    = "TELEGRAM_TOKEN"
	EnvLogLevel    = "CHANGEWATCH_LOG_LEVEL"
)

// LoadEnvFile loads KEY=VALUE pairs from path into the process
// environment. Variables that are already set win. A missing default
// file is ignored; a missing explicit file is an error.
func LoadEnvFile(path string, explicit bool) error {
	path = strings.TrimSpace(path)
	if path == "" {
		path = ".env"
	}
	err := godotenv.Load(path)
	if err == nil {
		return nil
	}
	if !explicit && errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("env file %s: %w", path, err)
}

// ApplyEnv overlays non-empty environment values onto cfg.
func ApplyEnv(cfg *Config, getenv func(string) string) {
	if cfg == nil || getenv == nil {
		return
	}
	if v := strings.TrimSpace(getenv(EnvDatabaseURL)); v != "" {
		cfg.Database.URL = v
	}
	if v := strings.TrimSpace(getenv(EnvGraphQLURL)); v != "" {
		cfg.ReadAPI.URL = v
	}
	if v := strings.TrimSpace(getenv(EnvTelegram)); v != "" {
		cfg.Telegram.Token = v
	}
	if v := strings.TrimSpace(getenv(EnvLogLevel)); v != "" {
		cfg.Logging.Level = v
	}
}
