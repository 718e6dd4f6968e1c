package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	TransportSSE    = "sse"
	TransportPubNub = "pubnub"

	StoreMemory = "memory"
	StoreBolt   = "bolt"
	StoreRedis  = "redis"
)

type Config struct {
	// Backend configuration
	BaseURL        string        `yaml:"base_url"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	RefreshPath    string        `yaml:"refresh_path"`
	RequestRate    float64       `yaml:"request_rate"`
	RequestBurst   int           `yaml:"request_burst"`

	// Push channel configuration
	ChannelTransport   string        `yaml:"channel_transport"`
	ChannelAuthHeader  string        `yaml:"channel_auth_header"`
	ChannelIdleTimeout time.Duration `yaml:"channel_idle_timeout"`

	// PubNub configuration
	PubNubSubscribeKey string `yaml:"pubnub_subscribe_key"`
	PubNubCipherKey    string `yaml:"pubnub_cipher_key"`

	// Owner console configuration
	OwnerPollInterval time.Duration `yaml:"owner_poll_interval"`

	// Poll backoff is off while OwnerPollMaxFailures is zero
	OwnerPollMaxFailures int           `yaml:"owner_poll_max_failures"`
	OwnerPollCooldown    time.Duration `yaml:"owner_poll_cooldown"`

	// Credential storage
	CredentialStore   string `yaml:"credential_store"`
	CredentialPath    string `yaml:"credential_path"`
	CredentialProfile string `yaml:"credential_profile"`
	RedisURL          string `yaml:"redis_url"`

	// Seed tokens for the memory store, never read from YAML
	AccessToken  string `yaml:"-"`
	RefreshToken string `yaml:"-"`

	// Logging
	LogLevel string `yaml:"log_level"`
	LogJSON  bool   `yaml:"log_json"`

	// Monitoring
	EnableMetrics bool   `yaml:"enable_metrics"`
	MetricsAddr   string `yaml:"metrics_addr"`
}

func defaults() *Config {
	return &Config{
		BaseURL:            "http://localhost:8080",
		RequestTimeout:     10 * time.Second,
		RefreshPath:        "/api/auth/refresh",
		RequestRate:        10,
		RequestBurst:       5,
		ChannelTransport:   TransportSSE,
		ChannelAuthHeader:  "Authorization",
		ChannelIdleTimeout: 10 * time.Minute,
		OwnerPollInterval:  5 * time.Second,
		OwnerPollCooldown:  30 * time.Second,
		CredentialStore:    StoreBolt,
		CredentialPath:     "waiting-credentials.db",
		CredentialProfile:  "default",
		RedisURL:           "redis://localhost:6379/0",
		LogLevel:           "info",
		MetricsAddr:        ":9090",
	}
}

// LoadConfig builds the configuration from defaults, an optional .env file,
// an optional YAML file named by WAITING_CONFIG and finally the environment.
func LoadConfig() (*Config, error) {
	// A missing .env is fine.
	_ = godotenv.Load()

	cfg := defaults()
	if path := os.Getenv("WAITING_CONFIG"); path != "" {
		if err := cfg.loadYAML(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	// Backend
	c.BaseURL = getEnv("BASE_URL", c.BaseURL)
	c.RequestTimeout = getEnvAsDuration("REQUEST_TIMEOUT", c.RequestTimeout)
	c.RefreshPath = getEnv("REFRESH_PATH", c.RefreshPath)
	c.RequestRate = getEnvAsFloat("REQUEST_RATE", c.RequestRate)
	c.RequestBurst = getEnvAsInt("REQUEST_BURST", c.RequestBurst)

	// Channel
	c.ChannelTransport = getEnv("CHANNEL_TRANSPORT", c.ChannelTransport)
	c.ChannelAuthHeader = getEnv("CHANNEL_AUTH_HEADER", c.ChannelAuthHeader)
	c.ChannelIdleTimeout = getEnvAsDuration("CHANNEL_IDLE_TIMEOUT", c.ChannelIdleTimeout)

	// PubNub
	c.PubNubSubscribeKey = getEnv("PUBNUB_SUBSCRIBE_KEY", c.PubNubSubscribeKey)
	c.PubNubCipherKey = getEnv("PUBNUB_CIPHER_KEY", c.PubNubCipherKey)

	// Owner console
	c.OwnerPollInterval = getEnvAsDuration("OWNER_POLL_INTERVAL", c.OwnerPollInterval)
	c.OwnerPollMaxFailures = getEnvAsInt("OWNER_POLL_MAX_FAILURES", c.OwnerPollMaxFailures)
	c.OwnerPollCooldown = getEnvAsDuration("OWNER_POLL_COOLDOWN", c.OwnerPollCooldown)

	// Credentials
	c.CredentialStore = getEnv("CREDENTIAL_STORE", c.CredentialStore)
	c.CredentialPath = getEnv("CREDENTIAL_PATH", c.CredentialPath)
	c.CredentialProfile = getEnv("CREDENTIAL_PROFILE", c.CredentialProfile)
	c.RedisURL = getEnv("REDIS_URL", c.RedisURL)
	c.AccessToken = getEnv("ACCESS_TOKEN", c.AccessToken)
	c.RefreshToken = getEnv("REFRESH_TOKEN", c.RefreshToken)

	// Logging
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.LogJSON = getEnvAsBool("LOG_JSON", c.LogJSON)

	// Monitoring
	c.EnableMetrics = getEnvAsBool("ENABLE_METRICS", c.EnableMetrics)
	c.MetricsAddr = getEnv("METRICS_ADDR", c.MetricsAddr)
}

// Validate rejects settings the client cannot run with.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("config: BASE_URL is required")
	}
	switch c.ChannelTransport {
	case TransportSSE:
	case TransportPubNub:
		if c.PubNubSubscribeKey == "" {
			return fmt.Errorf("config: PUBNUB_SUBSCRIBE_KEY is required for the pubnub transport")
		}
	default:
		return fmt.Errorf("config: unknown channel transport %q", c.ChannelTransport)
	}
	switch c.CredentialStore {
	case StoreMemory, StoreBolt, StoreRedis:
	default:
		return fmt.Errorf("config: unknown credential store %q", c.CredentialStore)
	}
	if c.RequestRate < 0 {
		return fmt.Errorf("config: REQUEST_RATE must not be negative")
	}
	if c.OwnerPollMaxFailures < 0 {
		return fmt.Errorf("config: OWNER_POLL_MAX_FAILURES must not be negative")
	}
	if c.OwnerPollInterval <= 0 {
		return fmt.Errorf("config: OWNER_POLL_INTERVAL must be positive")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if duration, err := time.ParseDuration(valueStr); err == nil {
		return duration
	}
	return defaultValue
}
