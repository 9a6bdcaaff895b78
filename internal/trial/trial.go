package trial

import "time"

// DefaultPeriod is the free trial window measured from first recorded use.
const DefaultPeriod = 72 * time.Hour

// SentinelFirstLaunch is the placeholder value meaning "never recorded".
// Real first-launch timestamps are always after it; see IsRealFirstLaunch.
var SentinelFirstLaunch = time.Unix(946684800, 0) // 2000-01-01 UTC

// IsRealFirstLaunch reports whether ts is a genuinely recorded first-launch
// date rather than the sentinel default.
func IsRealFirstLaunch(ts time.Time) bool {
	return ts.Unix() > 1_000_000_000
}

// Status is the trial window evaluation result.
type Status struct {
	Active         bool `json:"active"`
	RemainingHours int  `json:"remainingHours"`
}

// Evaluate derives the trial state from the persisted first-launch timestamp
// and the current wall clock. The window is active only when firstLaunch is a
// genuinely recorded date (not the sentinel default) and now is still inside
// firstLaunch+period. Remaining time rounds up to whole hours.
func Evaluate(firstLaunch, now time.Time, period time.Duration) Status {
	if period <= 0 {
		period = DefaultPeriod
	}
	if !IsRealFirstLaunch(firstLaunch) {
		return Status{}
	}

	expiry := firstLaunch.Add(period)
	if !now.Before(expiry) {
		return Status{}
	}

	remaining := expiry.Sub(now)
	hours := int(remaining / time.Hour)
	if remaining%time.Hour != 0 {
		hours++
	}
	return Status{Active: true, RemainingHours: hours}
}

// RemainingDays reports whole trial days left, for presentation copy.
func RemainingDays(firstLaunch, now time.Time, period time.Duration) int {
	if period <= 0 {
		period = DefaultPeriod
	}
	remaining := firstLaunch.Add(period).Sub(now)
	if remaining < 0 {
		return 0
	}
	return int(remaining / (24 * time.Hour))
}
