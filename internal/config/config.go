package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/atmx/bet-ledger/pkg/contracts/topics"
)

type Config struct {
	Env         string
	ServiceName string
	HTTPPort    string

	// DatabaseURL selects PostgreSQL; empty runs on the in-memory store.
	DatabaseURL   string
	RunMigrations bool

	// RedisURL enables the ledger-entry cache and the analytics cache.
	RedisURL string
	CacheTTL time.Duration

	// KafkaBrokers enables publication of ledger events.
	KafkaBrokers string
	KafkaTopic   string

	TxLockTimeout      time.Duration
	TxStatementTimeout time.Duration
	TxMaxRetries       int
	TxRetryBaseDelay   time.Duration
	TxRetryMaxDelay    time.Duration
}

// Load reads an optional .env file, then the environment.
func Load() Config {
	_ = godotenv.Load(".env")

	return Config{
		Env:         getEnv("ENV", "production"),
		ServiceName: getEnv("SERVICE_NAME", "bet-ledger"),
		HTTPPort:    getEnv("PORT", "8080"),

		DatabaseURL:   getEnv("DATABASE_URL", ""),
		RunMigrations: getEnvBool("RUN_MIGRATIONS", true),

		RedisURL: getEnv("REDIS_URL", ""),
		CacheTTL: getEnvDuration("CACHE_TTL", 30*time.Second),

		KafkaBrokers: getEnv("KAFKA_BROKERS", ""),
		KafkaTopic:   getEnv("KAFKA_TOPIC_LEDGER", topics.LedgerEvents),

		TxLockTimeout:      getEnvDuration("TX_LOCK_TIMEOUT", 5*time.Second),
		TxStatementTimeout: getEnvDuration("TX_STATEMENT_TIMEOUT", 10*time.Second),
		TxMaxRetries:       getEnvInt("TX_MAX_RETRIES", 3),
		TxRetryBaseDelay:   getEnvDuration("TX_RETRY_BASE_DELAY", 25*time.Millisecond),
		TxRetryMaxDelay:    getEnvDuration("TX_RETRY_MAX_DELAY", 500*time.Millisecond),
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
