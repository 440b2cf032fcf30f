package scheduler

import (
	"fmt"
	"time"
)

// A job's firing rule. Exactly one of Cron or Interval is set.
type Trigger struct {
	Cron     *CronTrigger     `json:"cron,omitempty"`
	Interval *IntervalTrigger `json:"interval,omitempty"`
}

// Fires at a fixed wall-clock time on a set of weekdays.
type CronTrigger struct {
	Days   []time.Weekday `json:"days"`
	Hour   int            `json:"hour"`
	Minute int            `json:"minute"`
}

// Fires every Period within the [Start, End] window. A zero End
// leaves the window open-ended.
type IntervalTrigger struct {
	Period time.Duration `json:"period"`
	Start  time.Time     `json:"start"`
	End    time.Time     `json:"end,omitempty"`
}

func (t Trigger) Validate() error {
	switch {
	case t.Cron == nil && t.Interval == nil:
		return fmt.Errorf("trigger has neither cron nor interval")
	case t.Cron != nil && t.Interval != nil:
		return fmt.Errorf("trigger has both cron and interval")
	case t.Cron != nil:
		if len(t.Cron.Days) == 0 {
			return fmt.Errorf("cron trigger without days")
		}
		if t.Cron.Hour < 0 || t.Cron.Hour > 23 || t.Cron.Minute < 0 || t.Cron.Minute > 59 {
			return fmt.Errorf("cron trigger with bad time %d:%d", t.Cron.Hour, t.Cron.Minute)
		}
	case t.Interval != nil:
		if t.Interval.Period <= 0 {
			return fmt.Errorf("interval trigger with period %s", t.Interval.Period)
		}
		if t.Interval.Start.IsZero() {
			return fmt.Errorf("interval trigger without start")
		}
	}
	return nil
}

// Next returns the first trigger instant strictly after the given
// time, in the given location. The zero time means the trigger never
// fires again.
func (t Trigger) Next(after time.Time, loc *time.Location) time.Time {
	if t.Cron != nil {
		return t.Cron.next(after, loc)
	}
	if t.Interval != nil {
		return t.Interval.next(after)
	}
	return time.Time{}
}

func (c *CronTrigger) next(after time.Time, loc *time.Location) time.Time {
	days := map[time.Weekday]bool{}
	for _, d := range c.Days {
		days[d] = true
	}

	local := after.In(loc)
	for i := 0; i < 8; i++ {
		day := local.AddDate(0, 0, i)
		candidate := time.Date(
			day.Year(), day.Month(), day.Day(),
			c.Hour, c.Minute, 0, 0, loc,
		)
		if days[candidate.Weekday()] && candidate.After(after) {
			return candidate
		}
	}

	return time.Time{}
}

func (i *IntervalTrigger) next(after time.Time) time.Time {
	candidate := i.Start
	if after.After(i.Start) {
		elapsed := after.Sub(i.Start)
		periods := elapsed/i.Period + 1
		candidate = i.Start.Add(periods * i.Period)
	}
	if !candidate.After(after) {
		candidate = candidate.Add(i.Period)
	}
	if !i.End.IsZero() && candidate.After(i.End) {
		return time.Time{}
	}
	return candidate
}
