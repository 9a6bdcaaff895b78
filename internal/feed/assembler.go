package feed

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/ozturkozgurm/overorunder/internal/content"
	"github.com/ozturkozgurm/overorunder/internal/models"
	"github.com/ozturkozgurm/overorunder/internal/signal"
	"github.com/ozturkozgurm/overorunder/internal/unlock"
)

// Assembler merges the day's base content, the unlock ledger's flags and the
// live signal list into the state consumed by presentation.
type Assembler struct {
	source   content.Source
	ledger   *unlock.Ledger
	pipeline *signal.Pipeline
}

// NewAssembler wires the assembler's collaborators.
func NewAssembler(source content.Source, ledger *unlock.Ledger, pipeline *signal.Pipeline) *Assembler {
	return &Assembler{source: source, ledger: ledger, pipeline: pipeline}
}

// Assemble builds the feed for dateKey. A day with no published content and a
// failed fetch are different states: the former sets Empty, the latter sets
// Error. Live signals are prepended either way; their identifier space is
// disjoint from feed items by construction.
func (a *Assembler) Assemble(ctx context.Context, dateKey string) models.FeedState {
	state := models.FeedState{
		DateKey:     dateKey,
		LiveSignals: a.pipeline.Signals(),
	}

	items, err := a.source.Fetch(ctx, dateKey)
	switch {
	case errors.Is(err, content.ErrNotFound):
		state.Empty = true
		return state
	case err != nil:
		log.Error().Err(err).Str("dateKey", dateKey).Msg("Content fetch failed")
		state.Error = err.Error()
		return state
	}

	if len(items) == 0 {
		state.Empty = true
		return state
	}

	flags, err := a.ledger.SyncUnlockStatus(dateKey, items)
	if err != nil {
		log.Error().Err(err).Str("dateKey", dateKey).Msg("Unlock sync failed")
		state.Error = err.Error()
		return state
	}
	unlock.Apply(items, flags)

	state.Items = items
	return state
}
