package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"transitmon.dev/transitmon"
	"transitmon.dev/transitmon/config"
	"transitmon.dev/transitmon/feed"
	"transitmon.dev/transitmon/push"
	"transitmon.dev/transitmon/scheduler"
	"transitmon.dev/transitmon/storage"
	"transitmon.dev/transitmon/traffic"
)

var rootCmd = &cobra.Command{
	Use:          "transitmon",
	Short:        "Transit performance monitor",
	Long:         "Collects realtime transit and road traffic data, reconciles it against a schedule and records delays",
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(provisionCmd)
	rootCmd.AddCommand(collectCmd)
	rootCmd.AddCommand(nightlyCheckCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

// Shared wiring for all subcommands.
type env struct {
	Config *config.Config
	Logger *slog.Logger
	Store  storage.Storage
	Index  *transitmon.ScheduleIndex
	Sender push.Sender
}

func buildEnv() (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	logger := cfg.Logger()

	var store storage.Storage
	switch cfg.Backend {
	case "memory":
		store = storage.NewMemoryStorage()
	case "sqlite":
		store, err = storage.NewSQLiteStorage(storage.SQLiteConfig{
			OnDisk:    true,
			Directory: cfg.DataDir,
		})
	case "postgres":
		store, err = storage.NewPSQLStorage(cfg.PostgresURL, false)
	}
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}

	f, err := os.Open(cfg.SchedulePath)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("opening schedule: %w", err)
	}
	defer f.Close()

	rows, err := transitmon.LoadScheduleRows(f)
	if err != nil {
		store.Close()
		return nil, err
	}
	index, err := transitmon.BuildScheduleIndex(rows, logger)
	if err != nil {
		store.Close()
		return nil, err
	}

	e := &env{Config: cfg, Logger: logger, Store: store, Index: index}
	if cfg.PushUserKey != "" && cfg.PushAPIToken != "" {
		e.Sender = &push.Client{
			UserKey:  cfg.PushUserKey,
			APIToken: cfg.PushAPIToken,
		}
	}
	return e, nil
}

func (e *env) collector() *transitmon.Collector {
	cfg := e.Config

	headers := map[string]string{}
	if cfg.FeedAPIKey != "" {
		headers["Authorization"] = cfg.FeedAPIKey
	}

	collector := &transitmon.Collector{
		Store: e.Store,
		TripUpdates: &feed.Source{
			URL:     cfg.TripUpdatesURL,
			Headers: headers,
			Adapter: &feed.TripUpdateAdapter{Logger: e.Logger},
		},
		StopMonitoring: &feed.Source{
			URL:     cfg.StopMonitoringURL,
			Headers: headers,
			Adapter: &feed.StopMonitoringAdapter{Logger: e.Logger},
		},
		Reconciler: &transitmon.Reconciler{
			Index:    e.Index,
			Location: cfg.Location,
			Logger:   e.Logger,
		},
		Retry:    transitmon.NewRetryPolicy(e.Logger),
		Traffic:  &traffic.Client{APIKey: cfg.TrafficAPIKey},
		Logger:   e.Logger,
		Location: cfg.Location,
	}
	if e.Sender != nil {
		collector.Notifier = &transitmon.DelayNotifier{
			Store:     e.Store,
			Sender:    e.Sender,
			Threshold: time.Duration(cfg.DelayThresholdMinutes) * time.Minute,
			Logger:    e.Logger,
		}
	}
	return collector
}

func (e *env) jobStore() (scheduler.Store, error) {
	return scheduler.NewSQLiteStore(filepath.Join(e.Config.DataDir, "jobs.db"))
}
