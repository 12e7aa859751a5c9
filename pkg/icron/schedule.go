package icron

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// TriggerInfo describes the surrounding fire times of a cron expression
// relative to a reference instant.
type TriggerInfo struct {
	Next       time.Time
	Last       time.Time
	Expression string

	TimeSinceLast time.Duration
	TimeUntilNext time.Duration
}

var parser = cron.NewParser(cron.Second | cron.Minute | cron.Hour |
	cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Validate reports whether the cron expression parses.
func Validate(cronExpr string) error {
	if _, err := parser.Parse(cronExpr); err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}
	return nil
}

// GetTriggerInfo computes the next fire time after refTime and the most
// recent fire time before it. The backwards search walks hour by hour for
// up to a year; expressions that fire less often than that report a zero
// Last time.
func GetTriggerInfo(cronExpr string, refTime time.Time) (*TriggerInfo, error) {
	schedule, err := parser.Parse(cronExpr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression: %w", err)
	}

	info := &TriggerInfo{
		Expression: cronExpr,
		Next:       schedule.Next(refTime),
		Last:       previousFire(schedule, refTime),
	}

	if !info.Last.IsZero() {
		info.TimeSinceLast = refTime.Sub(info.Last)
	}
	info.TimeUntilNext = info.Next.Sub(refTime)

	return info, nil
}

func previousFire(schedule cron.Schedule, refTime time.Time) time.Time {
	searchStart := refTime.Add(-time.Minute)
	for i := range 366 * 24 {
		checkTime := searchStart.Add(-time.Duration(i) * time.Hour)
		candidate := schedule.Next(checkTime)
		if !candidate.After(refTime) {
			return candidate
		}
	}
	return time.Time{}
}
