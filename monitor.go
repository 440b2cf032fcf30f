package transitmon

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"transitmon.dev/transitmon/push"
	"transitmon.dev/transitmon/storage"
)

const (
	// Minimum spacing between process-restart notifications. A
	// crash loop produces one alert per hour, not one per crash.
	processNotifyRateLimit = 1 * time.Hour
)

// ReportProcessStart records a process (re)start in the monitor table
// and notifies unless a restart was already reported within the last
// hour.
func ReportProcessStart(ctx context.Context, store storage.Storage, sender push.Sender, logName string, logger *slog.Logger) error {
	now := time.Now()

	notified, err := store.ProcessNotifiedSince(ctx, now.Add(-processNotifyRateLimit))
	if err != nil {
		return fmt.Errorf("checking restart notifications: %w", err)
	}

	notify := !notified && sender != nil
	if notify {
		body := fmt.Sprintf("Process restarted, logging to %s", logName)
		if err := sender.Send(ctx, "Process Restart", body); err != nil {
			logger.Error("restart notification failed", "error", err)
			notify = false
		}
	}

	if err := store.RecordProcessStart(ctx, logName, notify, now); err != nil {
		return fmt.Errorf("recording process start: %w", err)
	}

	logger.Info("process start recorded", "log", logName, "notified", notify)
	return nil
}

// NightlyChecker verifies that a day's collection produced the
// expected number of polling cycles, alerting when samples are
// missing.
type NightlyChecker struct {
	Store    storage.Storage
	Sender   push.Sender
	Location *time.Location
	Logger   *slog.Logger

	// Overridable in tests.
	Now func() time.Time
}

// Check counts cycles recorded since local midnight and pushes an
// alert when fewer than expected arrived.
func (n *NightlyChecker) Check(ctx context.Context, expected int) error {
	loc := n.Location
	if loc == nil {
		loc = time.UTC
	}
	now := time.Now()
	if n.Now != nil {
		now = n.Now()
	}
	local := now.In(loc)
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)

	count, err := n.Store.CountCyclesSince(ctx, midnight)
	if err != nil {
		return fmt.Errorf("counting cycles: %w", err)
	}

	if count >= expected {
		n.Logger.Info("nightly check passed", "cycles", count, "expected", expected)
		return nil
	}

	n.Logger.Warn("nightly check found missing samples", "cycles", count, "expected", expected)
	if n.Sender == nil {
		return nil
	}

	body := fmt.Sprintf("Collected %d of %d expected samples on %s",
		count, expected, midnight.Format("2006-01-02"))
	if err := n.Sender.Send(ctx, "Data Collection Alert", body); err != nil {
		return fmt.Errorf("sending nightly alert: %w", err)
	}
	return nil
}
