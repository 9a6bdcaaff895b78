package trial

import (
	"testing"
	"time"
)

func TestIsRealFirstLaunch(t *testing.T) {
	if IsRealFirstLaunch(SentinelFirstLaunch) {
		t.Fatal("sentinel must not count as a recorded launch")
	}
	if IsRealFirstLaunch(time.Time{}) {
		t.Fatal("zero time must not count as a recorded launch")
	}
	if !IsRealFirstLaunch(time.Date(2026, 2, 24, 12, 0, 0, 0, time.UTC)) {
		t.Fatal("a recent date must count as a recorded launch")
	}
}

func TestEvaluate(t *testing.T) {
	now := time.Date(2026, 2, 24, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name          string
		firstLaunch   time.Time
		wantActive    bool
		wantRemaining int
	}{
		{
			name:          "fresh install has full window",
			firstLaunch:   now,
			wantActive:    true,
			wantRemaining: 72,
		},
		{
			name:          "partial hour rounds up",
			firstLaunch:   now.Add(-71*time.Hour - 30*time.Minute),
			wantActive:    true,
			wantRemaining: 1,
		},
		{
			name:          "exact hour boundary",
			firstLaunch:   now.Add(-24 * time.Hour),
			wantActive:    true,
			wantRemaining: 48,
		},
		{
			name:        "expired four days ago",
			firstLaunch: now.Add(-4 * 24 * time.Hour),
			wantActive:  false,
		},
		{
			name:        "expiry instant is inactive",
			firstLaunch: now.Add(-72 * time.Hour),
			wantActive:  false,
		},
		{
			name:        "sentinel default never activates",
			firstLaunch: SentinelFirstLaunch,
			wantActive:  false,
		},
		{
			name:        "zero time never activates",
			firstLaunch: time.Time{},
			wantActive:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Evaluate(tt.firstLaunch, now, DefaultPeriod)
			if got.Active != tt.wantActive {
				t.Fatalf("active=%t, want %t", got.Active, tt.wantActive)
			}
			if got.RemainingHours != tt.wantRemaining {
				t.Fatalf("remainingHours=%d, want %d", got.RemainingHours, tt.wantRemaining)
			}
		})
	}
}

func TestEvaluateDefaultsPeriod(t *testing.T) {
	now := time.Date(2026, 2, 24, 12, 0, 0, 0, time.UTC)

	got := Evaluate(now, now, 0)
	if !got.Active || got.RemainingHours != 72 {
		t.Fatalf("got %+v, want active with 72h remaining", got)
	}
}

func TestRemainingDays(t *testing.T) {
	now := time.Date(2026, 2, 24, 12, 0, 0, 0, time.UTC)

	if got := RemainingDays(now, now, DefaultPeriod); got != 3 {
		t.Fatalf("fresh install days=%d, want 3", got)
	}
	if got := RemainingDays(now.Add(-30*time.Hour), now, DefaultPeriod); got != 1 {
		t.Fatalf("mid-trial days=%d, want 1", got)
	}
	if got := RemainingDays(now.Add(-10*24*time.Hour), now, DefaultPeriod); got != 0 {
		t.Fatalf("expired days=%d, want 0", got)
	}
}
