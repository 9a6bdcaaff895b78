package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ozturkozgurm/overorunder/internal/trial"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir())
	require.NoError(t, err)
	return s
}

func TestFirstLaunchDefaultsToSentinel(t *testing.T) {
	s := newTestStore(t)

	ts, err := s.FirstLaunch()
	require.NoError(t, err)
	assert.Equal(t, trial.SentinelFirstLaunch.Unix(), ts.Unix())
	assert.False(t, trial.IsRealFirstLaunch(ts))
}

func TestRecordFirstLaunchIsWriteOnce(t *testing.T) {
	s := newTestStore(t)
	first := time.Date(2026, 2, 20, 9, 0, 0, 0, time.UTC)
	later := first.Add(48 * time.Hour)

	require.NoError(t, s.RecordFirstLaunch(first))
	require.NoError(t, s.RecordFirstLaunch(later))

	ts, err := s.FirstLaunch()
	require.NoError(t, err)
	assert.Equal(t, first.Unix(), ts.Unix())
	assert.True(t, trial.IsRealFirstLaunch(ts))
}

func TestPremiumFlagRoundTrip(t *testing.T) {
	s := newTestStore(t)

	premium, err := s.IsPremium()
	require.NoError(t, err)
	assert.False(t, premium)

	require.NoError(t, s.SetPremium(true))
	premium, err = s.IsPremium()
	require.NoError(t, err)
	assert.True(t, premium)

	require.NoError(t, s.SetPremium(false))
	premium, err = s.IsPremium()
	require.NoError(t, err)
	assert.False(t, premium)
}

func TestUnlockedIDsRoundTrip(t *testing.T) {
	s := newTestStore(t)
	dateKey := "24-02-2026"

	require.NoError(t, s.SaveUnlockedIDs(dateKey, map[string]struct{}{
		"7": {},
		"9": {},
	}))

	got, err := s.UnlockedIDs(dateKey)
	require.NoError(t, err)
	assert.Equal(t, map[string]struct{}{"7": {}, "9": {}}, got)

	// Other date keys stay independent.
	other, err := s.UnlockedIDs("25-02-2026")
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestGlobalUnlockAccumulates(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.AddGlobalUnlockedID("42"))
	require.NoError(t, s.AddGlobalUnlockedID("43"))
	require.NoError(t, s.AddGlobalUnlockedID("42"))

	got, err := s.GlobalUnlockedIDs()
	require.NoError(t, err)
	assert.Equal(t, map[string]struct{}{"42": {}, "43": {}}, got)
}

func TestPendingSignalLifecycle(t *testing.T) {
	s := newTestStore(t)

	_, ok, err := s.PendingSignal()
	require.NoError(t, err)
	assert.False(t, ok)

	pending := PendingSignal{
		HomeTeam:   "Galatasaray",
		AwayTeam:   "Fenerbahce",
		Prediction: "Over 2.5",
		Minute:     "37'",
	}
	require.NoError(t, s.SavePendingSignal(pending))

	got, ok, err := s.PendingSignal()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, pending, *got)

	require.NoError(t, s.ClearPendingSignal())
	_, ok, err = s.PendingSignal()
	require.NoError(t, err)
	assert.False(t, ok)

	// Clearing an already-empty slot is fine.
	require.NoError(t, s.ClearPendingSignal())
}

func TestInvalidKeyRejected(t *testing.T) {
	s := newTestStore(t)

	err := s.SaveUnlockedIDs("../escape", map[string]struct{}{"1": {}})
	assert.Error(t, err)
}
