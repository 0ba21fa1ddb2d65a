package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Server captures process level configuration.
type Server struct {
	Addr     string
	SeedFile string
	// ReconcileInterval schedules background hierarchy reconciliation.
	// Zero disables it.
	ReconcileInterval time.Duration
	Log               LogConfig
	Database          DatabaseConfig
	Redis             RedisConfig
	Kafka             KafkaConfig
}

// LogConfig selects slog level and handler.
type LogConfig struct {
	Level  string
	Format string
}

// DatabaseConfig configures PostgreSQL. An empty URL selects the in-memory store.
type DatabaseConfig struct {
	URL          string
	MaxOpenConns int
	MaxIdleConns int
	TxTimeout    time.Duration
}

// RedisConfig configures the detail cache. An empty URL disables caching.
type RedisConfig struct {
	URL          string
	CacheTTL     time.Duration
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// KafkaConfig configures change events. No brokers disables publishing.
type KafkaConfig struct {
	Brokers     []string
	Topic       string
	ClientID    string
	Partitions  int32
	Replication int16
	DialTimeout time.Duration
}

// FromEnv builds a Server config from environment variables so main stays lean.
func FromEnv() Server {
	return Server{
		Addr:              envString("SWIFT_REGISTRY_ADDR", ":8080"),
		SeedFile:          os.Getenv("SWIFT_SEED_FILE"),
		ReconcileInterval: envDuration("SWIFT_RECONCILE_INTERVAL", 0),
		Log: LogConfig{
			Level:  envString("LOG_LEVEL", "info"),
			Format: envString("LOG_FORMAT", "json"),
		},
		Database: DatabaseConfig{
			URL:          os.Getenv("DATABASE_URL"),
			MaxOpenConns: envInt("DB_MAX_OPEN_CONNS", 20),
			MaxIdleConns: envInt("DB_MAX_IDLE_CONNS", 5),
			TxTimeout:    envDuration("DB_TX_TIMEOUT", 30*time.Second),
		},
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			CacheTTL:     envDuration("REDIS_CACHE_TTL", 10*time.Minute),
			PoolSize:     envInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: envInt("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  envDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  envDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: envDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Kafka: KafkaConfig{
			Brokers:     envList("KAFKA_BROKERS"),
			Topic:       envString("KAFKA_TOPIC", "swift-codes.changes"),
			ClientID:    envString("KAFKA_CLIENT_ID", "swift-registry"),
			Partitions:  int32(envInt("KAFKA_TOPIC_PARTITIONS", 3)),
			Replication: int16(envInt("KAFKA_TOPIC_REPLICATION", 1)),
			DialTimeout: envDuration("KAFKA_DIAL_TIMEOUT", 10*time.Second),
		},
	}
}

func envString(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v, err := strconv.Atoi(strings.TrimSpace(os.Getenv(key)))
	if err != nil {
		return fallback
	}
	return v
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v, err := time.ParseDuration(strings.TrimSpace(os.Getenv(key)))
	if err != nil {
		return fallback
	}
	return v
}

func envList(key string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
