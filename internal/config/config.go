// Package config resolves the endpoints and flags the CLI runs with from the
// environment, an optional .env file and command-line overrides.
package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/kgraph/cli/internal/graphapi"
)

const (
	EnvAPIBaseURL  = "KG_API_BASE_URL"
	EnvFrontendURL = "KG_FRONTEND_URL"
	EnvDebug       = "KG_DEBUG"
	EnvSettings    = "KG_SETTINGS_FILE"
)

type Config struct {
	APIBaseURL   string
	FrontendURL  string
	Debug        bool
	SettingsPath string
	// DotEnvLoaded reports whether a .env file was found.
	DotEnvLoaded bool
}

// Load reads .env files (missing files are fine) and then the environment.
// Variables already set in the environment win over .env values.
func Load(dotenvFiles ...string) *Config {
	loaded := godotenv.Load(dotenvFiles...) == nil

	return &Config{
		APIBaseURL:   strings.TrimRight(getEnv(EnvAPIBaseURL, graphapi.DefaultBaseURL), "/"),
		FrontendURL:  strings.TrimRight(getEnv(EnvFrontendURL, graphapi.DefaultFrontendURL), "/"),
		Debug:        getEnvAsBool(EnvDebug, false),
		SettingsPath: getEnv(EnvSettings, ""),
		DotEnvLoaded: loaded,
	}
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists && strings.TrimSpace(value) != "" {
		return value
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return fallback
}
