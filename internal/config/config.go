package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	HTTPPort string `yaml:"http_port"`
	Env      string `yaml:"env"`
	LogLevel string `yaml:"log_level"`

	DatabaseURL  string `yaml:"database_url"`
	DatabaseName string `yaml:"database_name"`

	GeminiAPIKey   string        `yaml:"gemini_api_key"`
	GeminiModel    string        `yaml:"gemini_model"`
	AISystemPrompt string        `yaml:"ai_system_prompt"`
	AITimeout      time.Duration `yaml:"ai_timeout"`

	WebhookSecret string `yaml:"webhook_secret"`
	RedisURL      string `yaml:"redis_url"`

	ClerkPublishableKey string   `yaml:"clerk_publishable_key"`
	ClerkJWKSURL        string   `yaml:"clerk_jwks_url"`
	AuthorizedParties   []string `yaml:"authorized_parties"`
	JWTSecret           string   `yaml:"jwt_secret"`

	CORSOrigins []string `yaml:"cors_origins"`
}

// Load reads .env (if present), then the optional YAML file at path (or
// CONFIG_FILE), then lets environment variables override.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		HTTPPort:     "8080",
		Env:          "development",
		LogLevel:     "info",
		DatabaseURL:  "sharky.db",
		DatabaseName: "sharky",
		GeminiModel:  "gemini-2.0-flash",
		AITimeout:    60 * time.Second,
		CORSOrigins:  []string{"http://localhost:3000"},
	}

	if path == "" {
		path = os.Getenv("CONFIG_FILE")
	}
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.HTTPPort = getEnv("HTTP_PORT", cfg.HTTPPort)
	cfg.Env = getEnv("ENV", cfg.Env)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.DatabaseURL = getEnv("DATABASE_URL", cfg.DatabaseURL)
	cfg.DatabaseName = getEnv("DATABASE_NAME", cfg.DatabaseName)
	cfg.GeminiAPIKey = getEnv("GEMINI_API_KEY", cfg.GeminiAPIKey)
	cfg.GeminiModel = getEnv("GEMINI_MODEL", cfg.GeminiModel)
	cfg.AISystemPrompt = getEnv("AI_SYSTEM_PROMPT", cfg.AISystemPrompt)
	cfg.WebhookSecret = getEnv("WEBHOOK_SECRET", cfg.WebhookSecret)
	cfg.RedisURL = getEnv("REDIS_URL", cfg.RedisURL)
	cfg.ClerkPublishableKey = getEnv("CLERK_PUBLISHABLE_KEY", cfg.ClerkPublishableKey)
	cfg.ClerkJWKSURL = getEnv("CLERK_JWKS_URL", cfg.ClerkJWKSURL)
	cfg.JWTSecret = getEnv("JWT_SECRET", cfg.JWTSecret)
	cfg.AuthorizedParties = getEnvAsList("AUTHORIZED_PARTIES", cfg.AuthorizedParties)
	cfg.CORSOrigins = getEnvAsList("CORS_ORIGINS", cfg.CORSOrigins)

	timeout, err := getEnvAsDuration("AI_TIMEOUT", cfg.AITimeout)
	if err != nil {
		return nil, err
	}
	cfg.AITimeout = timeout

	if cfg.ClerkJWKSURL == "" && cfg.ClerkPublishableKey != "" {
		host, err := FrontendAPIFromPublishableKey(cfg.ClerkPublishableKey)
		if err != nil {
			return nil, err
		}
		cfg.ClerkJWKSURL = "https://" + host + "/.well-known/jwks.json"
	}

	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// Validate reports configuration the server cannot start without.
func (c *Config) Validate() error {
	if c.ClerkJWKSURL == "" && c.JWTSecret == "" {
		return errors.New("one of CLERK_PUBLISHABLE_KEY, CLERK_JWKS_URL or JWT_SECRET is required")
	}
	if c.AITimeout <= 0 {
		return errors.New("AI_TIMEOUT must be positive")
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// FrontendAPIFromPublishableKey decodes the Clerk frontend API host embedded
// in a publishable key ("pk_test_" or "pk_live_" + base64("<host>$")).
func FrontendAPIFromPublishableKey(key string) (string, error) {
	var encoded string
	switch {
	case strings.HasPrefix(key, "pk_test_"):
		encoded = strings.TrimPrefix(key, "pk_test_")
	case strings.HasPrefix(key, "pk_live_"):
		encoded = strings.TrimPrefix(key, "pk_live_")
	default:
		return "", fmt.Errorf("invalid publishable key prefix")
	}

	decoded, err := base64.RawStdEncoding.DecodeString(strings.TrimRight(encoded, "="))
	if err != nil {
		return "", fmt.Errorf("decode publishable key: %w", err)
	}
	host := strings.TrimSuffix(string(decoded), "$")
	if host == "" || strings.ContainsAny(host, "/ ") {
		return "", fmt.Errorf("publishable key does not contain a frontend API host")
	}
	return host, nil
}

func getEnv(key string, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(valueStr, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func getEnvAsDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(valueStr)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
