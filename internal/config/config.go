package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port        string
	Environment string
	DatabaseURL    string
	DatabaseSchema string
	CORSOrigins    string
	// Process-wide provider credentials (a caller's stored key takes precedence)
	AnthropicAPIKey     string
	OpenAICompatAPIKey  string
	OpenAICompatBaseURL string
	OpenRouterAPIKey    string
	// Tools
	TavilyAPIKey     string
	ImageAPIKey      string
	ImageBaseURL     string
	ImageModel       string
	GCSBucket        string
	GCSPublicBaseURL string
	// Realtime fan-out (empty = in-process bus)
	RedisAddr          string
	RedisChannelPrefix string
	// Generation tuning
	FlushInterval       time.Duration
	MaxToolRounds       int
	CancelWatchInterval time.Duration
	// Background queue
	SweepInterval     time.Duration
	RetentionInterval time.Duration
	// Logging
	LogDir      string
	LogMaxFiles int
	// Tracing
	OtelEnabled     bool
	OtelSampleRatio float64
	OtelEndpoint    string
	OtelHeaders     string
	OtelInsecure    bool
	SkipMigrations  bool
	Debug           bool
}

func Load() *Config {
	env := getEnv("ENVIRONMENT", "dev")

	return &Config{
		Port:        getEnv("PORT", "8080"),
		Environment: env,
		DatabaseURL: getEnv("DATABASE_URL", ""),
		// Empty means the connection's search_path
		DatabaseSchema: getEnv("DATABASE_SCHEMA", ""),
		CORSOrigins: getEnv("CORS_ORIGINS", "http://localhost:3000"),

		AnthropicAPIKey:     getEnv("ANTHROPIC_API_KEY", ""),
		OpenAICompatAPIKey:  getEnv("OPENAI_COMPAT_API_KEY", ""),
		OpenAICompatBaseURL: getEnv("OPENAI_COMPAT_BASE_URL", "https://generativelanguage.googleapis.com/v1beta/openai/"),
		OpenRouterAPIKey:    getEnv("OPENROUTER_API_KEY", ""),

		TavilyAPIKey:     getEnv("TAVILY_API_KEY", ""),
		ImageAPIKey:      getEnv("IMAGE_API_KEY", ""),
		ImageBaseURL:     getEnv("IMAGE_BASE_URL", ""),
		ImageModel:       getEnv("IMAGE_MODEL", "dall-e-3"),
		GCSBucket:        getEnv("GCS_BUCKET", ""),
		GCSPublicBaseURL: getEnv("GCS_PUBLIC_BASE_URL", ""),

		RedisAddr:          getEnv("REDIS_ADDR", ""),
		RedisChannelPrefix: getEnv("REDIS_CHANNEL_PREFIX", "message:"),

		FlushInterval:       time.Duration(getEnvInt("FLUSH_INTERVAL_MS", DefaultFlushIntervalMS)) * time.Millisecond,
		MaxToolRounds:       getEnvInt("MAX_TOOL_ROUNDS", DefaultMaxToolRounds),
		CancelWatchInterval: getEnvDuration("CANCEL_WATCH_INTERVAL", time.Second),

		SweepInterval:     getEnvDuration("SWEEP_INTERVAL", 30*time.Second),
		RetentionInterval: getEnvDuration("RETENTION_INTERVAL", time.Hour),

		LogDir:      getEnv("LOG_DIR", ""),
		LogMaxFiles: getEnvInt("LOG_MAX_FILES", 10),

		OtelEnabled:     getEnvBool("OTEL_ENABLED", false),
		OtelSampleRatio: getEnvFloat("OTEL_SAMPLER_RATIO", 0.1),
		OtelEndpoint:    getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		OtelHeaders:     getEnv("OTEL_EXPORTER_OTLP_HEADERS", ""),
		OtelInsecure:    getEnvBool("OTEL_EXPORTER_OTLP_INSECURE", false),
		SkipMigrations:  getEnvBool("SKIP_MIGRATIONS", false),
		// Debug flags - default to true in dev/test, false in production
		Debug: getEnvBool("DEBUG", env != "prod"),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if v, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil {
		return v
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	switch os.Getenv(key) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return defaultValue
}

// getEnvDuration accepts Go duration strings ("30s", "2m").
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if v, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return v
	}
	return defaultValue
}
