// Package config builds runtime configuration from environment variables so
// main stays lean. Values only; wiring belongs to the process bootstrap.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// RateLimit configures the token bucket protecting a verification provider.
type RateLimit struct {
	Capacity     int           // tokens per window
	Window       time.Duration // refill window length
	MaxWaitQueue int           // suspended acquirers before rejection
	RefillTick   time.Duration // refill cadence, independent of acquire calls
}

// Queue configures the verification job queue.
type Queue struct {
	MaxConcurrent   int
	MaxQueueSize    int
	MaxAttempts     int
	RetryDelay      time.Duration
	Retention       time.Duration // terminal items queryable this long
	DispatchTick    time.Duration
	NotifyThreshold time.Duration // notify owner if wait exceeded this
	AvgItemDuration time.Duration // wait-time estimation input
}

// Usage configures budget alerting for provider spend.
type Usage struct {
	MonthlyLimit   int
	AlertThreshold float64 // percent, warning level
}

// Redis configures the shared cache / counter store.
type Redis struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Server is the top-level configuration.
type Server struct {
	Addr        string
	PostgresURL string // empty: in-memory stores
	Redis       Redis
	KafkaBrokers []string // empty: no audit sink

	ProviderName    string
	ProviderURL     string
	ProviderAPIKey  string
	ProviderTimeout time.Duration

	RateLimit RateLimit
	Queue     Queue
	Usage     Usage
}

// FromEnv builds a Server config from environment variables.
func FromEnv() Server {
	return Server{
		Addr:        envString("KYCGATE_ADDR", ":8080"),
		PostgresURL: os.Getenv("DATABASE_URL"),
		Redis: Redis{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     envInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: envInt("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  envDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  envDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: envDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		KafkaBrokers: envList("KAFKA_BROKERS"),

		ProviderName:    envString("VERIFY_PROVIDER_NAME", "datapro"),
		ProviderURL:     envString("VERIFY_PROVIDER_URL", "http://localhost:9090"),
		ProviderAPIKey:  os.Getenv("VERIFY_PROVIDER_API_KEY"),
		ProviderTimeout: envDuration("VERIFY_PROVIDER_TIMEOUT", 10*time.Second),

		RateLimit: RateLimit{
			Capacity:     envInt("RATE_LIMIT_CAPACITY", 50),
			Window:       envDuration("RATE_LIMIT_WINDOW", time.Minute),
			MaxWaitQueue: envInt("RATE_LIMIT_MAX_WAIT_QUEUE", 100),
			RefillTick:   envDuration("RATE_LIMIT_REFILL_TICK", time.Second),
		},
		Queue: Queue{
			MaxConcurrent:   envInt("QUEUE_MAX_CONCURRENT", 10),
			MaxQueueSize:    envInt("QUEUE_MAX_SIZE", 1000),
			MaxAttempts:     envInt("QUEUE_MAX_ATTEMPTS", 3),
			RetryDelay:      envDuration("QUEUE_RETRY_DELAY", 2*time.Second),
			Retention:       envDuration("QUEUE_RETENTION", 5*time.Minute),
			DispatchTick:    envDuration("QUEUE_DISPATCH_TICK", 100*time.Millisecond),
			NotifyThreshold: envDuration("QUEUE_NOTIFY_THRESHOLD", 5*time.Second),
			AvgItemDuration: envDuration("QUEUE_AVG_ITEM_DURATION", 2*time.Second),
		},
		Usage: Usage{
			MonthlyLimit:   envInt("USAGE_MONTHLY_LIMIT", 10000),
			AlertThreshold: envFloat("USAGE_ALERT_THRESHOLD", 80),
		},
	}
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
