package config

import (
	"os"
	"strings"
	"time"
)

// Config captures process-level configuration. FromEnv builds it from
// environment variables so main stays lean.
type Config struct {
	Addr string

	PostgresURL string

	RedisURL string

	KafkaBrokers    []string
	KafkaAuditTopic string

	JWTSigningKey string

	// WebhookSecret signs premium-provider callbacks. Empty means the
	// webhook endpoint fails closed.
	WebhookSecret string

	DocAIEndpoint   string
	PremiumEndpoint string
	ProviderTimeout time.Duration

	// RegistryCacheTTL bounds retention of cached uniqueness pre-flight
	// lookups. The transactional approval path never reads the cache.
	RegistryCacheTTL time.Duration
}

// FromEnv builds a Config from environment variables.
func FromEnv() Config {
	cfg := Config{
		Addr:             getEnv("VERIGATE_ADDR", ":8080"),
		PostgresURL:      os.Getenv("VERIGATE_POSTGRES_URL"),
		RedisURL:         os.Getenv("VERIGATE_REDIS_URL"),
		KafkaAuditTopic:  getEnv("VERIGATE_AUDIT_TOPIC", "verigate.audit"),
		JWTSigningKey:    os.Getenv("VERIGATE_JWT_SIGNING_KEY"),
		WebhookSecret:    os.Getenv("VERIGATE_WEBHOOK_SECRET"),
		DocAIEndpoint:    os.Getenv("VERIGATE_DOCAI_ENDPOINT"),
		PremiumEndpoint:  os.Getenv("VERIGATE_PREMIUM_ENDPOINT"),
		ProviderTimeout:  getDuration("VERIGATE_PROVIDER_TIMEOUT", 10*time.Second),
		RegistryCacheTTL: getDuration("VERIGATE_REGISTRY_CACHE_TTL", 5*time.Minute),
	}

	if brokers := os.Getenv("VERIGATE_KAFKA_BROKERS"); brokers != "" {
		for _, b := range strings.Split(brokers, ",") {
			if b = strings.TrimSpace(b); b != "" {
				cfg.KafkaBrokers = append(cfg.KafkaBrokers, b)
			}
		}
	}

	if cfg.JWTSigningKey == "" {
		// Use a default for development - should be overridden in production
		cfg.JWTSigningKey = "dev-secret-key-change-in-production"
	}

	return cfg
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
