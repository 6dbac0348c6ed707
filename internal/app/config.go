package app

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config stores runtime configuration loaded from environment variables.
type Config struct {
	AppEnv              string
	HTTPAddr            string
	DBDriver            string
	DBDSN               string
	DBMaxOpenConns      int
	DBMaxIdleConns      int
	DBConnMaxLifeMins   int
	CSRFEnforced        bool
	AuthRateLimitPerMin int
	CORSOrigins         []string

	JWTSecret      string
	JWTTTL         time.Duration
	BootstrapToken string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	AMQPURL     string
	EventsQueue string

	SessionGrace  time.Duration
	DefaultLocale string
}

func LoadConfig() Config {
	return Config{
		AppEnv:              envOrDefault("APP_ENV", "development"),
		HTTPAddr:            envOrDefault("HTTP_ADDR", ":8080"),
		DBDriver:            strings.ToLower(envOrDefault("DB_DRIVER", "postgres")),
		DBDSN:               os.Getenv("DB_DSN"),
		DBMaxOpenConns:      intOrDefault("DB_MAX_OPEN_CONNS", 25),
		DBMaxIdleConns:      intOrDefault("DB_MAX_IDLE_CONNS", 25),
		DBConnMaxLifeMins:   intOrDefault("DB_CONN_MAX_LIFETIME_MINUTES", 30),
		CSRFEnforced:        boolOrDefault("CSRF_ENFORCED", false),
		AuthRateLimitPerMin: intOrDefault("AUTH_RATE_LIMIT_PER_MINUTE", 60),
		CORSOrigins:         csvOrDefault("CORS_ORIGINS", []string{"http://localhost:5173"}),
		JWTSecret:           envOrDefault("JWT_SECRET", "quizdesk-dev-secret-change-me"),
		JWTTTL:              time.Duration(intOrDefault("JWT_TTL_HOURS", 24)) * time.Hour,
		BootstrapToken:      os.Getenv("BOOTSTRAP_TOKEN"),
		RedisAddr:           os.Getenv("REDIS_ADDR"),
		RedisPassword:       os.Getenv("REDIS_PASSWORD"),
		RedisDB:             stringsToInt(os.Getenv("REDIS_DB")),
		AMQPURL:             os.Getenv("AMQP_URL"),
		EventsQueue:         envOrDefault("EVENTS_QUEUE", "quizdesk.events"),
		SessionGrace:        time.Duration(intOrDefault("SESSION_GRACE_MINUTES", 2)) * time.Minute,
		DefaultLocale:       strings.TrimSpace(os.Getenv("DEFAULT_LOCALE")),
	}
}

// Production reports whether APP_ENV names a production deployment.
func (c Config) Production() bool {
	switch strings.ToLower(c.AppEnv) {
	case "prod", "production":
		return true
	}
	return false
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsToInt(v string) int {
	n, _ := strconv.Atoi(strings.TrimSpace(v))
	return n
}

func intOrDefault(key string, fallback int) int {
	v := stringsToInt(os.Getenv(key))
	if v <= 0 {
		return fallback
	}
	return v
}

func boolOrDefault(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	switch strings.ToLower(v) {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return fallback
	}
}

func csvOrDefault(key string, fallback []string) []string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	out := make([]string, 0)
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
