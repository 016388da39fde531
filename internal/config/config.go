// Package config loads the server configuration from the environment.
//
// Values come from process environment variables. An optional .env file is
// loaded first; variables already set in the environment win over the file.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const minSecretLength = 16

// Config holds the application configuration.
type Config struct {
	Port          int
	DBPath        string
	SessionSecret string
	CookieSecure  bool
	LogLevel      slog.Level
	GitHub        GitHubConfig
}

// GitHubConfig holds the OAuth app credentials and API settings.
type GitHubConfig struct {
	ClientID     string
	ClientSecret string
	CallbackURL  string
	OAuthURL     string // host serving /login/oauth/*
	APIURL       string
	Timeout      time.Duration // per-request timeout for API and token calls
}

// Load reads the configuration. files are .env files to load first; with no
// arguments ".env" in the working directory is tried. A missing file is not
// an error.
func Load(files ...string) (*Config, error) {
	_ = godotenv.Load(files...)

	port, err := getEnvAsInt("PORT", 8080)
	if err != nil {
		return nil, err
	}

	level, err := parseLevel(getEnv("LOG_LEVEL", "info"))
	if err != nil {
		return nil, err
	}

	timeout, err := getEnvAsDuration("GITHUB_TIMEOUT", 15*time.Second)
	if err != nil {
		return nil, err
	}

	return &Config{
		Port:          port,
		DBPath:        getEnv("DB_PATH", "data/gitreports.db"),
		SessionSecret: getEnv("SESSION_SECRET", ""),
		CookieSecure:  getEnv("COOKIE_SECURE", "false") == "true",
		LogLevel:      level,
		GitHub: GitHubConfig{
			ClientID:     getEnv("GITHUB_CLIENT_ID", ""),
			ClientSecret: getEnv("GITHUB_CLIENT_SECRET", ""),
			CallbackURL:  getEnv("GITHUB_CALLBACK_URL", fmt.Sprintf("http://localhost:%d/auth/github/callback", port)),
			OAuthURL:     strings.TrimRight(getEnv("GITHUB_OAUTH_URL", "https://github.com"), "/"),
			APIURL:       strings.TrimRight(getEnv("GITHUB_API_URL", "https://api.github.com"), "/"),
			Timeout:      timeout,
		},
	}, nil
}

// Validate reports every missing or unusable required value at once.
func (c *Config) Validate() error {
	var errs []error
	if len(c.SessionSecret) < minSecretLength {
		errs = append(errs, fmt.Errorf("SESSION_SECRET must be at least %d characters", minSecretLength))
	}
	if c.GitHub.ClientID == "" {
		errs = append(errs, errors.New("GITHUB_CLIENT_ID is required"))
	}
	if c.GitHub.ClientSecret == "" {
		errs = append(errs, errors.New("GITHUB_CLIENT_SECRET is required"))
	}
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("PORT %d is out of range", c.Port))
	}
	return errors.Join(errs...)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) (int, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return 0, fmt.Errorf("config: invalid %s value %q: %w", key, valueStr, err)
	}
	return value, nil
}

func getEnvAsDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return 0, fmt.Errorf("config: invalid %s value %q: %w", key, valueStr, err)
	}
	return value, nil
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("config: invalid LOG_LEVEL %q: %w", s, err)
	}
	return level, nil
}
