package shared

import (
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendMySQL  = "mysql"
)

type Config struct {
	AppEnv      string
	LogLevel    string
	HTTPAddr    string
	MetricsAddr string

	StateBackend string
	RedisAddr    string
	RedisDB      int
	RedisPass    string
	MySQLDSN     string
	KVNamespace  string

	SupabaseURL     string
	SupabaseAnonKey string
	FunctionsRPS    int

	NATSURL   string
	NATSToken string

	AppDomain          string
	DashboardSubdomain string

	PreviewLimit  int
	ProgressEvery int
	Workers       int
}

func Load() Config {
	atoi := func(k string, def int) int {
		if v := os.Getenv(k); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				return n
			}
		}
		return def
	}
	c := Config{
		AppEnv:      env("APP_ENV", "prod"),
		LogLevel:    env("LOG_LEVEL", "info"),
		HTTPAddr:    env("HTTP_ADDR", ":8080"),
		MetricsAddr: env("METRICS_ADDR", ":9100"),

		StateBackend: strings.ToLower(env("STATE_BACKEND", BackendMemory)),
		RedisAddr:    env("REDIS_ADDR", "localhost:6379"),
		RedisDB:      atoi("REDIS_DB", 0),
		RedisPass:    env("REDIS_PASSWORD", ""),
		MySQLDSN:     env("MYSQL_DSN", "root:root@tcp(localhost:3306)/padu?parseTime=true&charset=utf8mb4,utf8&loc=UTC"),
		KVNamespace:  env("KV_NAMESPACE", "padu:"),

		SupabaseURL:     env("SUPABASE_URL", ""),
		SupabaseAnonKey: env("SUPABASE_ANON_KEY", ""),
		FunctionsRPS:    atoi("FUNCTIONS_RPS", 5),

		NATSURL:   env("NATS_URL", ""),
		NATSToken: env("NATS_TOKEN", ""),

		AppDomain:          env("APP_DOMAIN", "padu.app"),
		DashboardSubdomain: env("DASHBOARD_SUBDOMAIN", "dashboard"),

		PreviewLimit:  atoi("INGEST_PREVIEW_LIMIT", 100),
		ProgressEvery: atoi("INGEST_PROGRESS_EVERY", 1000),
		Workers:       atoi("INGEST_WORKERS", 4),
	}
	switch c.StateBackend {
	case BackendMemory, BackendRedis, BackendMySQL:
	default:
		log.Warn().Str("backend", c.StateBackend).Msg("unknown STATE_BACKEND, using memory")
		c.StateBackend = BackendMemory
	}
	if c.Workers < 1 {
		log.Warn().Int("workers", c.Workers).Msg("INGEST_WORKERS below 1, using 1")
		c.Workers = 1
	}
	if c.SupabaseURL == "" || c.SupabaseAnonKey == "" {
		log.Warn().Msg("SUPABASE_URL or SUPABASE_ANON_KEY is empty; auth and hosted functions are disabled")
	}
	return c
}

// Dev reports whether the app runs locally.
func (c Config) Dev() bool { return c.AppEnv == "dev" || c.AppEnv == "development" }

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
