package app

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	HTTPAddr string

	LogLevel          string
	LogFormat         string
	LogFile           string
	LogFileMaxMB      int
	LogFileMaxBackups int
	LogFileMaxAgeDays int

	MediaDir       string
	TorrentDataDir string

	MaxSessions        int
	SessionIdleTimeout time.Duration
	SweepInterval      time.Duration
	DisconnectGrace    time.Duration
	AcquireTimeout     time.Duration
	StreamChunkSize    int64
	MaxStreamFileSize  int64

	ShutdownTimeout    time.Duration
	StatusPushInterval time.Duration
	RateLimitRPS       float64
	RateLimitBurst     int
	CORSAllowedOrigins []string

	MongoURI        string // empty disables the session journal
	MongoDatabase   string
	MongoCollection string

	OTLPEndpoint    string
	TraceSampleRate float64
}

func LoadConfig() Config {
	return Config{
		HTTPAddr: getEnv("HTTP_ADDR", ":8080"),

		LogLevel:          strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat:         strings.ToLower(getEnv("LOG_FORMAT", "text")),
		LogFile:           strings.TrimSpace(getEnv("LOG_FILE", "")),
		LogFileMaxMB:      int(getEnvInt64("LOG_FILE_MAX_MB", 100)),
		LogFileMaxBackups: int(getEnvInt64("LOG_FILE_MAX_BACKUPS", 3)),
		LogFileMaxAgeDays: int(getEnvInt64("LOG_FILE_MAX_AGE_DAYS", 28)),

		MediaDir:       getEnv("MEDIA_DIR", "media"),
		TorrentDataDir: getEnv("TORRENT_DATA_DIR", "data"),

		MaxSessions:        int(getEnvInt64("MAX_SESSIONS", 4)),
		SessionIdleTimeout: getEnvDuration("SESSION_IDLE_TIMEOUT", 10*time.Minute),
		SweepInterval:      getEnvDuration("SWEEP_INTERVAL", 2*time.Minute),
		DisconnectGrace:    getEnvDuration("DISCONNECT_GRACE", 30*time.Second),
		AcquireTimeout:     getEnvDuration("ACQUIRE_TIMEOUT", 30*time.Second),
		StreamChunkSize:    getEnvInt64("STREAM_CHUNK_SIZE", 1_000_000),
		MaxStreamFileSize:  getEnvInt64("MAX_STREAM_FILE_SIZE", 50<<30),

		ShutdownTimeout:    getEnvDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
		StatusPushInterval: getEnvDuration("STATUS_PUSH_INTERVAL", 5*time.Second),
		RateLimitRPS:       getEnvFloat("RATE_LIMIT_RPS", 100),
		RateLimitBurst:     int(getEnvInt64("RATE_LIMIT_BURST", 200)),
		CORSAllowedOrigins: splitList(os.Getenv("CORS_ALLOWED_ORIGINS")),

		MongoURI:        strings.TrimSpace(getEnv("MONGO_URI", "")),
		MongoDatabase:   getEnv("MONGO_DB", "streamgate"),
		MongoCollection: getEnv("MONGO_COLLECTION", "session_events"),

		OTLPEndpoint:    strings.TrimSpace(getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "")),
		TraceSampleRate: getEnvFloat("OTEL_TRACE_SAMPLE_RATE", 0.1),
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return fallback
	}
	if parsed < 0 {
		return fallback
	}
	return parsed
}

func getEnvFloat(key string, fallback float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil || parsed < 0 {
		return fallback
	}
	return parsed
}

// getEnvDuration accepts Go duration strings ("90s", "10m") or a bare number
// of seconds.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	if secs, err := strconv.ParseInt(value, 10, 64); err == nil {
		if secs <= 0 {
			return fallback
		}
		return time.Duration(secs) * time.Second
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
