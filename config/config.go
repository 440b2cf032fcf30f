package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds everything the collector processes read from the
// environment. A .env file in the working directory is loaded first;
// real environment variables win.
type Config struct {
	// Storage backend: "sqlite", "postgres" or "memory".
	Backend     string
	DataDir     string
	PostgresURL string

	TripUpdatesURL    string
	StopMonitoringURL string
	FeedAPIKey        string

	TrafficAPIKey string

	PushUserKey  string
	PushAPIToken string

	SchedulePath string
	Location     *time.Location

	DelayThresholdMinutes int
	ExpectedDailyCycles   int

	// Empty disables the metrics listener.
	MetricsAddr string

	LogLevel  string
	LogFormat string
}

func Load() (*Config, error) {
	// Missing .env is fine, the environment may be set directly.
	_ = godotenv.Load()

	cfg := &Config{
		Backend:           getenvDefault("TRANSITMON_BACKEND", "sqlite"),
		DataDir:           getenvDefault("TRANSITMON_DATA_DIR", "."),
		PostgresURL:       os.Getenv("TRANSITMON_POSTGRES_URL"),
		TripUpdatesURL:    os.Getenv("TRANSITMON_TRIP_UPDATES_URL"),
		StopMonitoringURL: os.Getenv("TRANSITMON_STOP_MONITORING_URL"),
		FeedAPIKey:        os.Getenv("TRANSITMON_FEED_API_KEY"),
		TrafficAPIKey:     os.Getenv("TRANSITMON_TRAFFIC_API_KEY"),
		PushUserKey:       os.Getenv("TRANSITMON_PUSH_USER_KEY"),
		PushAPIToken:      os.Getenv("TRANSITMON_PUSH_API_TOKEN"),
		SchedulePath:      getenvDefault("TRANSITMON_SCHEDULE_PATH", "schedule_monitor.csv"),
		MetricsAddr:       os.Getenv("TRANSITMON_METRICS_ADDR"),
		LogLevel:          getenvDefault("TRANSITMON_LOG_LEVEL", "info"),
		LogFormat:         getenvDefault("TRANSITMON_LOG_FORMAT", "text"),
	}

	switch cfg.Backend {
	case "sqlite", "postgres", "memory":
	default:
		return nil, fmt.Errorf("invalid TRANSITMON_BACKEND: %q", cfg.Backend)
	}
	if cfg.Backend == "postgres" && cfg.PostgresURL == "" {
		return nil, fmt.Errorf("TRANSITMON_POSTGRES_URL required with postgres backend")
	}

	var err error
	cfg.DelayThresholdMinutes, err = getenvInt("TRANSITMON_DELAY_THRESHOLD_MINUTES", 5)
	if err != nil {
		return nil, err
	}
	cfg.ExpectedDailyCycles, err = getenvInt("TRANSITMON_EXPECTED_DAILY_CYCLES", 0)
	if err != nil {
		return nil, err
	}

	tz := getenvDefault("TRANSITMON_TZ", "")
	if tz == "" {
		cfg.Location = time.Local
	} else {
		cfg.Location, err = time.LoadLocation(tz)
		if err != nil {
			return nil, fmt.Errorf("invalid TRANSITMON_TZ: %w", err)
		}
	}

	return cfg, nil
}

// Logger builds the process logger from the configured level and
// format.
func (c *Config) Logger() *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(c.LogLevel)}

	var handler slog.Handler
	switch c.LogFormat {
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, opts)
	default:
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %q", key, v)
	}
	return n, nil
}
