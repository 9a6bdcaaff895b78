package signal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ozturkozgurm/overorunder/internal/store"
)

func newTestPipeline(t *testing.T) *Pipeline {
	t.Helper()
	s, err := store.New(t.TempDir())
	require.NoError(t, err)
	return NewPipeline(s, 0)
}

func validPayload(matchID string) Payload {
	return Payload{
		MatchID:    matchID,
		HomeTeam:   "Besiktas",
		AwayTeam:   "Trabzonspor",
		Prediction: "Under 3.5",
		Minute:     "12'",
	}
}

func TestIngestInsertsUnlockedSignal(t *testing.T) {
	p := newTestPipeline(t)

	sig, ok := p.Ingest(validPayload("42"))
	require.True(t, ok)
	assert.Equal(t, "42", sig.ID)
	assert.Equal(t, EventName, sig.EventName)
	assert.Equal(t, "Minute: 12'", sig.Date)
	assert.True(t, sig.IsUnlocked)
	assert.Len(t, p.Signals(), 1)
}

func TestIngestDeduplicatesByID(t *testing.T) {
	p := newTestPipeline(t)

	_, ok := p.Ingest(validPayload("42"))
	require.True(t, ok)
	_, ok = p.Ingest(validPayload("42"))
	assert.False(t, ok)

	signals := p.Signals()
	require.Len(t, signals, 1)
	assert.Equal(t, "42", signals[0].ID)
}

func TestIngestAcceptsDismissedIDAgain(t *testing.T) {
	p := newTestPipeline(t)

	_, ok := p.Ingest(validPayload("42"))
	require.True(t, ok)
	require.True(t, p.Dismiss("42"))

	// The id only blocks re-ingestion while its signal is in the list.
	_, ok = p.Ingest(validPayload("42"))
	assert.True(t, ok)
	require.Len(t, p.Signals(), 1)
}

func TestIngestOrdersMostRecentFirst(t *testing.T) {
	p := newTestPipeline(t)

	_, ok := p.Ingest(validPayload("A"))
	require.True(t, ok)
	_, ok = p.Ingest(validPayload("B"))
	require.True(t, ok)

	signals := p.Signals()
	require.Len(t, signals, 2)
	assert.Equal(t, "B", signals[0].ID)
	assert.Equal(t, "A", signals[1].ID)
}

func TestIngestDropsMalformedPayload(t *testing.T) {
	p := newTestPipeline(t)

	tests := []struct {
		name    string
		payload Payload
	}{
		{"missing home", Payload{AwayTeam: "Away", Prediction: "Over"}},
		{"missing away", Payload{HomeTeam: "Home", Prediction: "Over"}},
		{"missing prediction", Payload{HomeTeam: "Home", AwayTeam: "Away"}},
		{"empty", Payload{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok := p.Ingest(tt.payload)
			assert.False(t, ok)
		})
	}
	assert.Empty(t, p.Signals())
}

func TestIngestGeneratesIDWhenMissing(t *testing.T) {
	p := newTestPipeline(t)
	p.newID = func() string { return "generated" }

	payload := validPayload("")
	sig, ok := p.Ingest(payload)
	require.True(t, ok)
	assert.Equal(t, "generated", sig.ID)
}

func TestIngestDefaultsMinute(t *testing.T) {
	p := newTestPipeline(t)

	payload := validPayload("42")
	payload.Minute = ""
	sig, ok := p.Ingest(payload)
	require.True(t, ok)
	assert.Equal(t, "1'", sig.Minute)
	assert.Equal(t, "Minute: 1'", sig.Date)
}

func TestDismissRemovesSignal(t *testing.T) {
	p := newTestPipeline(t)

	p.Ingest(validPayload("A"))
	p.Ingest(validPayload("B"))

	assert.True(t, p.Dismiss("A"))
	assert.False(t, p.Dismiss("A"))

	signals := p.Signals()
	require.Len(t, signals, 1)
	assert.Equal(t, "B", signals[0].ID)
}

func TestPendingRoundTrip(t *testing.T) {
	s, err := store.New(t.TempDir())
	require.NoError(t, err)
	p := NewPipeline(s, 0)

	require.NoError(t, p.StorePending(validPayload("")))

	payload, ok, err := p.CheckPending()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Besiktas", payload.HomeTeam)
	assert.Equal(t, "12'", payload.Minute)

	// The slot is cleared after a successful read.
	_, ok, err = p.CheckPending()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCheckPendingDropsIncompleteSlot(t *testing.T) {
	s, err := store.New(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, s.SavePendingSignal(store.PendingSignal{HomeTeam: "Home"}))

	p := NewPipeline(s, 0)
	_, ok, err := p.CheckPending()
	require.NoError(t, err)
	assert.False(t, ok)

	// The broken slot must not survive.
	_, stillThere, err := s.PendingSignal()
	require.NoError(t, err)
	assert.False(t, stillThere)
}

func TestStorePendingRejectsMalformed(t *testing.T) {
	p := newTestPipeline(t)
	assert.Error(t, p.StorePending(Payload{HomeTeam: "Home"}))
}

func TestGraceDelayHonorsContext(t *testing.T) {
	s, err := store.New(t.TempDir())
	require.NoError(t, err)
	p := NewPipeline(s, 50*time.Millisecond)

	start := time.Now()
	require.NoError(t, p.GraceDelay(t.Context()))
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}
