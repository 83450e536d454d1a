package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Server captures process-level configuration. Built once in main from
// environment variables so the rest of the code never touches os.Getenv.
type Server struct {
	Addr          string
	PostgresDSN   string
	RedisAddr     string
	KafkaSeeds    []string
	AuditTopic    string
	JWTSigningKey string

	// Risk thresholds are policy, not code; defaults reproduce the
	// documented 90/70/50 mapping.
	RiskLowMin    int
	RiskMediumMin int
	RiskHighMin   int

	// Evaluation budgets. A control evaluation past ControlTimeout counts
	// as not assessed; a run past RunTimeout transitions to failed.
	ControlTimeout     time.Duration
	RunTimeout         time.Duration
	MaxConcurrentEvals int

	ConfigCacheTTL time.Duration
}

// FromEnv builds a Server config from environment variables so main stays lean.
func FromEnv() Server {
	return Server{
		Addr:          envOr("NEXUS_ADDR", ":8080"),
		PostgresDSN:   os.Getenv("NEXUS_POSTGRES_DSN"),
		RedisAddr:     os.Getenv("NEXUS_REDIS_ADDR"),
		KafkaSeeds:    splitList(os.Getenv("NEXUS_KAFKA_SEEDS")),
		AuditTopic:    envOr("NEXUS_AUDIT_TOPIC", "compliance.audit"),
		JWTSigningKey: envOr("NEXUS_JWT_SIGNING_KEY", "dev-secret-key-change-in-production"),

		RiskLowMin:    envIntOr("NEXUS_RISK_LOW_MIN", 90),
		RiskMediumMin: envIntOr("NEXUS_RISK_MEDIUM_MIN", 70),
		RiskHighMin:   envIntOr("NEXUS_RISK_HIGH_MIN", 50),

		ControlTimeout:     envDurationOr("NEXUS_CONTROL_TIMEOUT", 30*time.Second),
		RunTimeout:         envDurationOr("NEXUS_RUN_TIMEOUT", 10*time.Minute),
		MaxConcurrentEvals: envIntOr("NEXUS_MAX_CONCURRENT_EVALS", 4),

		ConfigCacheTTL: envDurationOr("NEXUS_CONFIG_CACHE_TTL", time.Minute),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func splitList(v string) []string {
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
