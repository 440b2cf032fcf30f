package main

import (
	"net/http"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"transitmon.dev/transitmon"
	"transitmon.dev/transitmon/scheduler"
)

var collectLogName string

var collectCmd = &cobra.Command{
	Use:   "collect",
	Short: "Run the collection scheduler",
	Long: "Loads provisioned jobs and runs them until interrupted. A " +
		"restart is recorded in the process monitor and notified at most " +
		"once an hour",
	RunE: runCollect,
}

func init() {
	collectCmd.Flags().StringVarP(&collectLogName, "log-name", "", "transitmon", "Log name recorded with process restarts")
}

func runCollect(cmd *cobra.Command, args []string) error {
	e, err := buildEnv()
	if err != nil {
		return err
	}
	defer e.Store.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	collector := e.collector()
	if err := collector.CreateTables(); err != nil {
		return err
	}

	if err := transitmon.ReportProcessStart(ctx, e.Store, e.Sender, collectLogName, e.Logger); err != nil {
		return err
	}

	if addr := e.Config.MetricsAddr; addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		go func() {
			if err := http.ListenAndServe(addr, mux); err != nil {
				e.Logger.Error("metrics listener failed", "error", err)
			}
		}()
	}

	jobs, err := e.jobStore()
	if err != nil {
		return err
	}
	defer jobs.Close()

	sched := scheduler.New(jobs, e.Logger)
	sched.Location = e.Config.Location
	collector.RegisterTasks(sched)

	err = sched.Run(ctx)
	if err == ctx.Err() {
		e.Logger.Info("interrupted, shutting down")
		return nil
	}
	return err
}
