package app

import (
	"os"
	"reflect"
	"testing"
	"time"
)

var configEnvVars = []string{
	"HTTP_ADDR", "LOG_LEVEL", "LOG_FORMAT", "LOG_FILE", "LOG_FILE_MAX_MB",
	"LOG_FILE_MAX_BACKUPS", "LOG_FILE_MAX_AGE_DAYS", "MEDIA_DIR", "TORRENT_DATA_DIR",
	"MAX_SESSIONS", "SESSION_IDLE_TIMEOUT", "SWEEP_INTERVAL", "DISCONNECT_GRACE",
	"ACQUIRE_TIMEOUT", "STREAM_CHUNK_SIZE", "MAX_STREAM_FILE_SIZE", "SHUTDOWN_TIMEOUT",
	"STATUS_PUSH_INTERVAL", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "CORS_ALLOWED_ORIGINS",
	"MONGO_URI", "MONGO_DB", "MONGO_COLLECTION",
	"OTEL_EXPORTER_OTLP_ENDPOINT", "OTEL_TRACE_SAMPLE_RATE",
}

func clearConfigEnv(t *testing.T) {
	t.Helper()
	for _, k := range configEnvVars {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func setEnvs(t *testing.T, envs map[string]string) {
	t.Helper()
	for k, v := range envs {
		t.Setenv(k, v)
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	clearConfigEnv(t)

	cfg := LoadConfig()

	tests := []struct {
		name string
		got  any
		want any
	}{
		{"HTTPAddr", cfg.HTTPAddr, ":8080"},
		{"LogLevel", cfg.LogLevel, "info"},
		{"LogFormat", cfg.LogFormat, "text"},
		{"LogFile", cfg.LogFile, ""},
		{"LogFileMaxMB", cfg.LogFileMaxMB, 100},
		{"LogFileMaxBackups", cfg.LogFileMaxBackups, 3},
		{"LogFileMaxAgeDays", cfg.LogFileMaxAgeDays, 28},
		{"MediaDir", cfg.MediaDir, "media"},
		{"TorrentDataDir", cfg.TorrentDataDir, "data"},
		{"MaxSessions", cfg.MaxSessions, 4},
		{"SessionIdleTimeout", cfg.SessionIdleTimeout, 10 * time.Minute},
		{"SweepInterval", cfg.SweepInterval, 2 * time.Minute},
		{"DisconnectGrace", cfg.DisconnectGrace, 30 * time.Second},
		{"AcquireTimeout", cfg.AcquireTimeout, 30 * time.Second},
		{"StreamChunkSize", cfg.StreamChunkSize, int64(1_000_000)},
		{"MaxStreamFileSize", cfg.MaxStreamFileSize, int64(53687091200)},
		{"ShutdownTimeout", cfg.ShutdownTimeout, 10 * time.Second},
		{"StatusPushInterval", cfg.StatusPushInterval, 5 * time.Second},
		{"RateLimitRPS", cfg.RateLimitRPS, 100.0},
		{"RateLimitBurst", cfg.RateLimitBurst, 200},
		{"MongoURI", cfg.MongoURI, ""},
		{"MongoDatabase", cfg.MongoDatabase, "streamgate"},
		{"MongoCollection", cfg.MongoCollection, "session_events"},
		{"OTLPEndpoint", cfg.OTLPEndpoint, ""},
		{"TraceSampleRate", cfg.TraceSampleRate, 0.1},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if tc.got != tc.want {
				t.Fatalf("got %v (%T), want %v (%T)", tc.got, tc.got, tc.want, tc.want)
			}
		})
	}
	if cfg.CORSAllowedOrigins != nil {
		t.Fatalf("CORSAllowedOrigins = %v, want nil", cfg.CORSAllowedOrigins)
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	clearConfigEnv(t)
	setEnvs(t, map[string]string{
		"HTTP_ADDR":            ":9000",
		"LOG_LEVEL":            "DEBUG",
		"LOG_FORMAT":           "JSON",
		"LOG_FILE":             " /var/log/streamgate.log ",
		"MAX_SESSIONS":         "8",
		"SESSION_IDLE_TIMEOUT": "90s",
		"DISCONNECT_GRACE":     "15",
		"STREAM_CHUNK_SIZE":    "2000000",
		"RATE_LIMIT_RPS":       "12.5",
		"CORS_ALLOWED_ORIGINS": "http://a.example, ,http://b.example",
		"MONGO_URI":            "mongodb://db:27017",
	})

	cfg := LoadConfig()

	if cfg.HTTPAddr != ":9000" || cfg.LogLevel != "debug" || cfg.LogFormat != "json" {
		t.Fatalf("basic overrides not applied: %+v", cfg)
	}
	if cfg.LogFile != "/var/log/streamgate.log" {
		t.Fatalf("LogFile = %q", cfg.LogFile)
	}
	if cfg.MaxSessions != 8 || cfg.StreamChunkSize != 2_000_000 || cfg.RateLimitRPS != 12.5 {
		t.Fatalf("numeric overrides not applied: %+v", cfg)
	}
	if cfg.SessionIdleTimeout != 90*time.Second || cfg.DisconnectGrace != 15*time.Second {
		t.Fatalf("durations = %v, %v", cfg.SessionIdleTimeout, cfg.DisconnectGrace)
	}
	if want := []string{"http://a.example", "http://b.example"}; !reflect.DeepEqual(cfg.CORSAllowedOrigins, want) {
		t.Fatalf("CORSAllowedOrigins = %v, want %v", cfg.CORSAllowedOrigins, want)
	}
	if cfg.MongoURI != "mongodb://db:27017" {
		t.Fatalf("MongoURI = %q", cfg.MongoURI)
	}
}

func TestLoadConfigInvalidValuesFallBack(t *testing.T) {
	clearConfigEnv(t)
	setEnvs(t, map[string]string{
		"MAX_SESSIONS":           "-3",
		"STREAM_CHUNK_SIZE":      "lots",
		"SWEEP_INTERVAL":         "-1m",
		"ACQUIRE_TIMEOUT":        "0",
		"SHUTDOWN_TIMEOUT":       "soon",
		"RATE_LIMIT_RPS":         "-1",
		"OTEL_TRACE_SAMPLE_RATE": "abc",
	})

	cfg := LoadConfig()

	if cfg.MaxSessions != 4 || cfg.StreamChunkSize != 1_000_000 {
		t.Fatalf("ints did not fall back: %d, %d", cfg.MaxSessions, cfg.StreamChunkSize)
	}
	if cfg.SweepInterval != 2*time.Minute || cfg.AcquireTimeout != 30*time.Second || cfg.ShutdownTimeout != 10*time.Second {
		t.Fatalf("durations did not fall back: %v, %v, %v", cfg.SweepInterval, cfg.AcquireTimeout, cfg.ShutdownTimeout)
	}
	if cfg.RateLimitRPS != 100 || cfg.TraceSampleRate != 0.1 {
		t.Fatalf("floats did not fall back: %v, %v", cfg.RateLimitRPS, cfg.TraceSampleRate)
	}
}
