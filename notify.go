package transitmon

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"transitmon.dev/transitmon/metrics"
	"transitmon.dev/transitmon/push"
	"transitmon.dev/transitmon/storage"
)

const (
	// Alert when a train's next departure is this late.
	DefaultDelayThreshold = 5 * time.Minute

	// Minimum spacing between delay alerts.
	DefaultAlertRateLimit = 5 * time.Minute

	delayAlertName = "delayed_train"
)

// Scans reconciled batches for delayed trains and sends a rate
// limited alert when any exceed the threshold.
type DelayNotifier struct {
	Store     storage.Storage
	Sender    push.Sender
	Threshold time.Duration
	RateLimit time.Duration
	Logger    *slog.Logger

	// Overridable in tests.
	Now func() time.Time
}

type delayedTrain struct {
	TripID       string
	StopName     string
	DelaySeconds int
}

// Check inspects one reconciled batch and may emit a single alert
// listing all qualifying trains, most delayed first. The alert is
// suppressed if one was already sent within the rate limit window.
func (n *DelayNotifier) Check(ctx context.Context, batch []storage.Observation) error {
	delayed := delayedTrains(batch, n.threshold())
	if len(delayed) == 0 {
		return nil
	}

	now := n.now()
	alerted, err := n.Store.AlertedSince(ctx, delayAlertName, now.Add(-n.rateLimit()))
	if err != nil {
		return fmt.Errorf("checking alert rate limit: %w", err)
	}
	if alerted {
		n.Logger.Debug("suppressing delay alert inside rate limit window",
			"trains", len(delayed))
		return nil
	}

	body := formatDelayTable(delayed)
	if err := n.Sender.Send(ctx, "Train Delays", body); err != nil {
		return fmt.Errorf("sending delay alert: %w", err)
	}
	if err := n.Store.RecordAlert(ctx, delayAlertName, now); err != nil {
		return fmt.Errorf("recording delay alert: %w", err)
	}
	metrics.AlertsSent.Inc()

	n.Logger.Info("sent delay alert", "trains", len(delayed))
	return nil
}

// delayedTrains picks, for each trip, the earliest upcoming departure
// (the next stop the train will reach) and keeps those later than
// threshold. The initial >= 0 selection deliberately precedes the
// threshold filter, so an early-running train never shadows a delayed
// stop further along its trip.
func delayedTrains(batch []storage.Observation, threshold time.Duration) []delayedTrain {
	candidates := []storage.Observation{}
	for _, obs := range batch {
		if obs.DepartureDelaySecs == nil || obs.AimedDepartureSeconds == nil {
			continue
		}
		if *obs.DepartureDelaySecs >= 0 {
			candidates = append(candidates, obs)
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return *candidates[i].AimedDepartureSeconds < *candidates[j].AimedDepartureSeconds
	})

	nextStop := map[string]storage.Observation{}
	for _, obs := range candidates {
		if _, seen := nextStop[obs.TripID]; !seen {
			nextStop[obs.TripID] = obs
		}
	}

	delayed := []delayedTrain{}
	for _, obs := range nextStop {
		if time.Duration(*obs.DepartureDelaySecs)*time.Second > threshold {
			delayed = append(delayed, delayedTrain{
				TripID:       obs.TripID,
				StopName:     obs.ShortStopName,
				DelaySeconds: *obs.DepartureDelaySecs,
			})
		}
	}

	sort.Slice(delayed, func(i, j int) bool {
		if delayed[i].DelaySeconds != delayed[j].DelaySeconds {
			return delayed[i].DelaySeconds > delayed[j].DelaySeconds
		}
		return delayed[i].TripID < delayed[j].TripID
	})

	return delayed
}

// formatDelayTable renders the alert body as a padded, centered
// three-column table.
func formatDelayTable(delayed []delayedTrain) string {
	const colBuf = 2

	rows := [][3]string{{"Train", "Station", "Delay (min)"}}
	for _, train := range delayed {
		rows = append(rows, [3]string{
			train.TripID,
			train.StopName,
			fmt.Sprintf("%.2f", float64(train.DelaySeconds)/60),
		})
	}

	widths := [3]int{}
	for _, row := range rows {
		for i, cell := range row {
			if len(cell)+colBuf > widths[i] {
				widths[i] = len(cell) + colBuf
			}
		}
	}

	lines := make([]string, len(rows))
	for r, row := range rows {
		cells := make([]string, 3)
		for i, cell := range row {
			cells[i] = center(cell, widths[i])
		}
		lines[r] = strings.Join(cells, "")
	}

	return strings.Join(lines, "\n")
}

func center(s string, width int) string {
	if len(s) >= width {
		return s
	}
	left := (width - len(s)) / 2
	right := width - len(s) - left
	return strings.Repeat(" ", left) + s + strings.Repeat(" ", right)
}

func (n *DelayNotifier) threshold() time.Duration {
	if n.Threshold == 0 {
		return DefaultDelayThreshold
	}
	return n.Threshold
}

func (n *DelayNotifier) rateLimit() time.Duration {
	if n.RateLimit == 0 {
		return DefaultAlertRateLimit
	}
	return n.RateLimit
}

func (n *DelayNotifier) now() time.Time {
	if n.Now != nil {
		return n.Now()
	}
	return time.Now()
}
