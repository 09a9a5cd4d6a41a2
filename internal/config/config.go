package config

import (
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration values
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	RabbitMQ   RabbitMQConfig
	JWT        JWTConfig
	Blockchain BlockchainConfig
	Aggregator AggregatorConfig
	Purchase   PurchaseConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port string
	Env  string
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// URL returns the database connection URL
func (c DatabaseConfig) URL() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     c.Host + ":" + strconv.Itoa(c.Port),
		Path:     "/" + c.DBName,
		RawQuery: "sslmode=" + c.SSLMode,
	}
	return u.String()
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	URL      string
	PASSWORD string
}

// RabbitMQConfig holds RabbitMQ configuration. An empty URL disables event publishing.
type RabbitMQConfig struct {
	URL      string
	Exchange string
}

// JWTConfig holds JWT configuration
type JWTConfig struct {
	Secret string
	Issuer string
	Expiry time.Duration
}

// BlockchainConfig holds the signing wallet and chain catalog settings
type BlockchainConfig struct {
	OwnerPrivateKey  string
	ChainCatalogFile string
	HomeChainID      uint64
}

// AggregatorConfig holds the bridge aggregator client settings
type AggregatorConfig struct {
	BaseURL           string
	APIKey            string
	Integrator        string
	AllowedBridge     string
	RequestsPerSecond float64
	Burst             int
	Timeout           time.Duration
}

// PurchaseConfig tunes the purchase flow
type PurchaseConfig struct {
	ConfirmationTimeout time.Duration
	StatusPollInterval  time.Duration
	StuckAfter          time.Duration
	StuckCheckInterval  time.Duration
	BridgedStore        string
	BridgedTTL          time.Duration
	AcceptRateUpdate    bool
}

// Load loads configuration from environment variables
func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Port: getEnv("SERVER_PORT", "8080"),
			Env:  getEnv("SERVER_ENV", "development"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "metamarket"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			URL:      getEnv("REDIS_URL", "redis://localhost:6379"),
			PASSWORD: getEnv("REDIS_PASSWORD", ""),
		},
		RabbitMQ: RabbitMQConfig{
			URL:      getEnv("RABBITMQ_URL", ""),
			Exchange: getEnv("RABBITMQ_EXCHANGE", "metamarket.purchases"),
		},
		JWT: JWTConfig{
			Secret: getEnv("JWT_SECRET", "change-this-in-production"),
			Issuer: getEnv("JWT_ISSUER", "metamarket"),
			Expiry: getEnvAsDuration("JWT_EXPIRY", 24*time.Hour),
		},
		Blockchain: BlockchainConfig{
			OwnerPrivateKey:  getEnv("EVM_OWNER_PRIVATE_KEY", getEnv("PRIVATE_KEY", "")),
			ChainCatalogFile: getEnv("CHAIN_CATALOG_FILE", ""),
			HomeChainID:      getEnvAsUint64("HOME_CHAIN_ID", DefaultHomeChainID),
		},
		Aggregator: AggregatorConfig{
			BaseURL:           strings.TrimRight(getEnv("AGGREGATOR_BASE_URL", "https://li.quest/v1"), "/"),
			APIKey:            getEnv("AGGREGATOR_API_KEY", ""),
			Integrator:        getEnv("AGGREGATOR_INTEGRATOR", "metamarket"),
			AllowedBridge:     getEnv("AGGREGATOR_ALLOWED_BRIDGE", "circle"),
			RequestsPerSecond: getEnvAsFloat("AGGREGATOR_RPS", 2),
			Burst:             getEnvAsInt("AGGREGATOR_BURST", 4),
			Timeout:           getEnvAsDuration("AGGREGATOR_TIMEOUT", 30*time.Second),
		},
		Purchase: PurchaseConfig{
			ConfirmationTimeout: getEnvAsDuration("PURCHASE_CONFIRMATION_TIMEOUT", 3*time.Minute),
			StatusPollInterval:  getEnvAsDuration("PURCHASE_STATUS_POLL_INTERVAL", 10*time.Second),
			StuckAfter:          getEnvAsDuration("PURCHASE_STUCK_AFTER", 30*time.Minute),
			StuckCheckInterval:  getEnvAsDuration("PURCHASE_STUCK_CHECK_INTERVAL", time.Minute),
			BridgedStore:        strings.ToLower(getEnv("BRIDGED_STORE", "memory")),
			BridgedTTL:          getEnvAsDuration("BRIDGED_TTL", 24*time.Hour),
			AcceptRateUpdate:    getEnvAsBool("PURCHASE_ACCEPT_RATE_UPDATE", false),
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsUint64(key string, defaultValue uint64) uint64 {
	if value := os.Getenv(key); value != "" {
		if v, err := strconv.ParseUint(value, 10, 64); err == nil {
			return v
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if v, err := strconv.ParseFloat(value, 64); err == nil {
			return v
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if v, err := strconv.ParseBool(value); err == nil {
			return v
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
