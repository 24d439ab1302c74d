package app

import (
	"strings"
	"time"
)

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogFormat string

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int

	DatabaseURL string
	DBSchema    string
	DBMaxConns  int32
	DBMinConns  int32

	JWTSecret string

	CORSAllowedOrigins   []string
	CORSAllowCredentials bool
	CORSMaxAgeSeconds    int

	MetricsEnabled bool

	// If true:
	// - /readyz returns 503 unless DB is configured and reachable.
	ReadinessRequireDB bool
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	return Config{
		HTTPAddr:  EnvString("MICROHIRE_HTTP_ADDR", "0.0.0.0:8080"),
		LogLevel:  EnvString("MICROHIRE_LOG_LEVEL", "info"),
		LogFormat: EnvString("MICROHIRE_LOG_FORMAT", "json"),

		ReadHeaderTimeout: EnvDuration("MICROHIRE_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("MICROHIRE_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("MICROHIRE_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("MICROHIRE_HTTP_IDLE_TIMEOUT", 60*time.Second),

		MaxHeaderBytes: EnvInt("MICROHIRE_HTTP_MAX_HEADER_BYTES", 1<<20),

		DatabaseURL: EnvString("MICROHIRE_DATABASE_URL", ""),
		DBSchema:    EnvString("MICROHIRE_DB_SCHEMA", "microhire"),
		DBMaxConns:  EnvInt32("MICROHIRE_DB_MAX_CONNS", 10),
		DBMinConns:  EnvInt32("MICROHIRE_DB_MIN_CONNS", 0),

		JWTSecret: EnvString("MICROHIRE_JWT_SECRET", ""),

		CORSAllowedOrigins:   splitCSV(EnvString("MICROHIRE_CORS_ALLOWED_ORIGINS", "")),
		CORSAllowCredentials: EnvBool("MICROHIRE_CORS_ALLOW_CREDENTIALS", false),
		CORSMaxAgeSeconds:    EnvInt("MICROHIRE_CORS_MAX_AGE_SECONDS", 600),

		MetricsEnabled: EnvBool("MICROHIRE_METRICS_ENABLED", true),

		ReadinessRequireDB: EnvBool("MICROHIRE_READINESS_REQUIRE_DB", false),
	}
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
