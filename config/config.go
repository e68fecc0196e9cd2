// Package config provides configuration for the run engine.
package config

import (
	"os"
	"strconv"
)

// Config holds the server configuration.
type Config struct {
	// Server settings
	HTTPPort int

	// Store settings. Backend is "memory" or "sqlite".
	StoreBackend string
	DatabaseURL  string

	// Agent providers. A provider with no key is not registered.
	AnthropicAPIKey string
	OpenAIAPIKey    string

	// Policy. Empty means the built-in default policy.
	PolicyFile string
}

// Load loads configuration from environment variables.
func Load() *Config {
	return &Config{
		HTTPPort:        getEnvInt("HTTP_PORT", 8080),
		StoreBackend:    getEnv("STORE_BACKEND", "memory"),
		DatabaseURL:     getEnv("DATABASE_URL", "file:acpd.db?cache=shared&mode=rwc"),
		AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),
		OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),
		PolicyFile:      getEnv("POLICY_FILE", ""),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}
