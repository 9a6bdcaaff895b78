package signal

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/ozturkozgurm/overorunder/internal/metrics"
	"github.com/ozturkozgurm/overorunder/internal/models"
	"github.com/ozturkozgurm/overorunder/internal/store"
)

// EventName tags every live signal so its identifier space stays disjoint
// from normal feed items.
const EventName = "Live Analysis"

const defaultMinute = "1'"

// Payload is a push-delivered live signal. HomeTeam, AwayTeam and Prediction
// are required; MatchID and Minute are optional.
type Payload struct {
	MatchID    string `json:"matchId"`
	HomeTeam   string `json:"homeTeam"`
	AwayTeam   string `json:"awayTeam"`
	Prediction string `json:"prediction"`
	Minute     string `json:"minute"`
}

// Valid reports whether the payload carries every required field.
func (p Payload) Valid() bool {
	return strings.TrimSpace(p.HomeTeam) != "" &&
		strings.TrimSpace(p.AwayTeam) != "" &&
		strings.TrimSpace(p.Prediction) != ""
}

// Pipeline holds the ephemeral, most-recent-first live signal list. It is not
// safe for concurrent use: the engine's single update goroutine owns it, which
// makes the dedup check atomic with the insertion.
type Pipeline struct {
	persist    *store.Store
	graceDelay time.Duration
	signals    []models.LiveSignal
	newID      func() string
}

// NewPipeline builds the pipeline. graceDelay is the pause before a pending
// signal is replayed on recovery, giving the presentation layer time to mount.
func NewPipeline(persist *store.Store, graceDelay time.Duration) *Pipeline {
	return &Pipeline{
		persist:    persist,
		graceDelay: graceDelay,
		newID:      uuid.NewString,
	}
}

// Ingest runs the signal state machine for one payload: malformed payloads
// are logged and dropped, duplicates are discarded, novel signals are
// inserted at the front of the list.
func (p *Pipeline) Ingest(payload Payload) (models.LiveSignal, bool) {
	if !payload.Valid() {
		// A malformed push is operator noise, not a user-visible failure.
		log.Warn().
			Str("matchId", payload.MatchID).
			Str("home", payload.HomeTeam).
			Str("away", payload.AwayTeam).
			Msg("Dropping malformed push payload")
		metrics.SignalsDroppedTotal.WithLabelValues("malformed").Inc()
		return models.LiveSignal{}, false
	}

	id := strings.TrimSpace(payload.MatchID)
	if id == "" {
		id = p.newID()
	}

	if p.contains(id) {
		log.Debug().Str("id", id).Msg("Duplicate live signal discarded")
		metrics.SignalsDroppedTotal.WithLabelValues("duplicate").Inc()
		return models.LiveSignal{}, false
	}

	minute := strings.TrimSpace(payload.Minute)
	if minute == "" {
		minute = defaultMinute
	}

	sig := models.LiveSignal{
		ContentItem: models.ContentItem{
			ID:         id,
			EventName:  EventName,
			Date:       "Minute: " + minute,
			HomeTeam:   payload.HomeTeam,
			AwayTeam:   payload.AwayTeam,
			Guess:      payload.Prediction,
			IsUnlocked: true,
		},
		Minute: minute,
	}

	p.signals = append([]models.LiveSignal{sig}, p.signals...)
	metrics.SignalsIngestedTotal.Inc()
	log.Info().Str("id", id).Str("home", sig.HomeTeam).Str("away", sig.AwayTeam).
		Msg("Live signal inserted")
	return sig, true
}

// contains reports whether a signal with the given identifier is already in
// the list. Linear scan; the list holds at most a handful of live signals.
func (p *Pipeline) contains(id string) bool {
	for _, sig := range p.signals {
		if sig.ID == id {
			return true
		}
	}
	return false
}

// Dismiss removes the signal with the given identifier.
func (p *Pipeline) Dismiss(id string) bool {
	for i, sig := range p.signals {
		if sig.ID == id {
			p.signals = append(p.signals[:i], p.signals[i+1:]...)
			log.Debug().Str("id", id).Msg("Live signal dismissed")
			return true
		}
	}
	return false
}

// Signals returns a copy of the current most-recent-first list.
func (p *Pipeline) Signals() []models.LiveSignal {
	out := make([]models.LiveSignal, len(p.signals))
	copy(out, p.signals)
	return out
}

// StorePending persists a payload delivered while the process was down, for
// replay on the next start.
func (p *Pipeline) StorePending(payload Payload) error {
	if !payload.Valid() {
		metrics.SignalsDroppedTotal.WithLabelValues("malformed").Inc()
		return fmt.Errorf("signal: pending payload missing required fields")
	}
	minute := strings.TrimSpace(payload.Minute)
	if minute == "" {
		minute = defaultMinute
	}
	return p.persist.SavePendingSignal(store.PendingSignal{
		HomeTeam:   payload.HomeTeam,
		AwayTeam:   payload.AwayTeam,
		Prediction: payload.Prediction,
		Minute:     minute,
	})
}

// CheckPending reads and clears the pending slot, returning the payload to
// replay if one was stored. Half-written slots (missing required fields) are
// dropped. The grace delay is the caller's concern; see engine recovery.
func (p *Pipeline) CheckPending() (Payload, bool, error) {
	pending, ok, err := p.persist.PendingSignal()
	if err != nil {
		return Payload{}, false, fmt.Errorf("signal: read pending slot: %w", err)
	}
	if !ok {
		return Payload{}, false, nil
	}

	if err := p.persist.ClearPendingSignal(); err != nil {
		return Payload{}, false, fmt.Errorf("signal: clear pending slot: %w", err)
	}

	payload := Payload{
		HomeTeam:   pending.HomeTeam,
		AwayTeam:   pending.AwayTeam,
		Prediction: pending.Prediction,
		Minute:     pending.Minute,
	}
	if !payload.Valid() {
		log.Warn().Msg("Discarding incomplete pending signal")
		metrics.SignalsDroppedTotal.WithLabelValues("malformed").Inc()
		return Payload{}, false, nil
	}
	return payload, true, nil
}

// GraceDelay waits out the recovery grace period or returns early when ctx
// is cancelled.
func (p *Pipeline) GraceDelay(ctx context.Context) error {
	if p.graceDelay <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(p.graceDelay):
		return nil
	}
}
