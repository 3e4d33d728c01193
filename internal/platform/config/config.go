package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	lists "portal/pkg/platform/strings"
)

// StoreBackend selects the flow document store.
type StoreBackend string

const (
	StoreMemory   StoreBackend = "memory"
	StorePostgres StoreBackend = "postgres"
	StoreRedis    StoreBackend = "redis"
)

// Server captures process level configuration.
type Server struct {
	Addr            string
	AdminToken      string
	ShutdownTimeout time.Duration
	FlowStore       StoreBackend
	DatabaseURL     string
	Redis           RedisConfig
	Audit           AuditConfig
}

// RedisConfig configures the go-redis client.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// AuditConfig configures where audit events go. An empty DatabaseURL keeps
// events in memory; an empty broker list disables streaming.
type AuditConfig struct {
	DatabaseURL  string
	KafkaBrokers []string
	KafkaTopic   string
	AsyncBuffer  int
}

// FromEnv builds a Server config from environment variables so main stays lean.
func FromEnv() (Server, error) {
	cfg := Server{
		Addr:            envOr("PORTAL_ADDR", ":8080"),
		AdminToken:      os.Getenv("ADMIN_TOKEN"),
		FlowStore:       StoreBackend(strings.ToLower(envOr("FLOW_STORE", string(StoreMemory)))),
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		ShutdownTimeout: 15 * time.Second,
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		Audit: AuditConfig{
			DatabaseURL: os.Getenv("AUDIT_DATABASE_URL"),
			KafkaTopic:  envOr("KAFKA_AUDIT_TOPIC", "portal.audit"),
		},
	}
	cfg.Audit.KafkaBrokers = lists.SplitList(os.Getenv("KAFKA_BROKERS"), ",")

	var err error
	if cfg.Redis.PoolSize, err = envInt("REDIS_POOL_SIZE", 10); err != nil {
		return Server{}, err
	}
	if cfg.Redis.MinIdleConns, err = envInt("REDIS_MIN_IDLE_CONNS", 2); err != nil {
		return Server{}, err
	}
	if cfg.Redis.DialTimeout, err = envDuration("REDIS_DIAL_TIMEOUT", 5*time.Second); err != nil {
		return Server{}, err
	}
	if cfg.Redis.ReadTimeout, err = envDuration("REDIS_READ_TIMEOUT", 3*time.Second); err != nil {
		return Server{}, err
	}
	if cfg.Redis.WriteTimeout, err = envDuration("REDIS_WRITE_TIMEOUT", 3*time.Second); err != nil {
		return Server{}, err
	}
	if cfg.Audit.AsyncBuffer, err = envInt("AUDIT_ASYNC_BUFFER", 0); err != nil {
		return Server{}, err
	}
	if cfg.ShutdownTimeout, err = envDuration("SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout); err != nil {
		return Server{}, err
	}

	return cfg, cfg.validate()
}

func (c Server) validate() error {
	switch c.FlowStore {
	case StoreMemory:
	case StorePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("FLOW_STORE=postgres requires DATABASE_URL")
		}
	case StoreRedis:
		if c.Redis.URL == "" {
			return fmt.Errorf("FLOW_STORE=redis requires REDIS_URL")
		}
	default:
		return fmt.Errorf("unknown FLOW_STORE %q", c.FlowStore)
	}
	if c.Audit.AsyncBuffer < 0 {
		return fmt.Errorf("AUDIT_ASYNC_BUFFER must not be negative")
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}
