package unlock

import (
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/ozturkozgurm/overorunder/internal/models"
	"github.com/ozturkozgurm/overorunder/internal/store"
)

// Ledger decides which content items are free regardless of the access gate.
// It keeps a per-date unlock set, computed once per date key by a count-based
// quota over the feed order, merged with a permanent global unlock set.
type Ledger struct {
	persist *store.Store
}

// NewLedger returns a ledger over the given store.
func NewLedger(persist *store.Store) *Ledger {
	return &Ledger{persist: persist}
}

// quotaFor maps a day's item count to the number of auto-unlocked items.
func quotaFor(count int) int {
	switch {
	case count >= 5:
		return 3
	case count >= 2:
		return 2
	case count == 1:
		return 1
	default:
		return 0
	}
}

// SyncUnlockStatus returns the per-item unlock flags for dateKey. When no
// unlock set exists for the date yet, the quota selection runs once over the
// items in feed order and is persisted; repeated calls with the same inputs
// only re-merge and never reselect or grow the set. An empty item list writes
// nothing.
func (l *Ledger) SyncUnlockStatus(dateKey string, items []models.ContentItem) (map[string]bool, error) {
	flags := make(map[string]bool, len(items))
	if len(items) == 0 {
		return flags, nil
	}

	daily, err := l.persist.UnlockedIDs(dateKey)
	if err != nil {
		return nil, fmt.Errorf("unlock: load daily set for %q: %w", dateKey, err)
	}

	if len(daily) == 0 {
		quota := quotaFor(len(items))
		for i := 0; i < quota; i++ {
			daily[items[i].ID] = struct{}{}
		}
		if err := l.persist.SaveUnlockedIDs(dateKey, daily); err != nil {
			return nil, fmt.Errorf("unlock: persist daily set for %q: %w", dateKey, err)
		}
		log.Info().Str("dateKey", dateKey).Int("items", len(items)).Int("unlocked", quota).
			Msg("Daily unlock quota selected")
	}

	global, err := l.persist.GlobalUnlockedIDs()
	if err != nil {
		return nil, fmt.Errorf("unlock: load global set: %w", err)
	}

	for _, item := range items {
		_, inDaily := daily[item.ID]
		_, inGlobal := global[item.ID]
		flags[item.ID] = inDaily || inGlobal
	}
	return flags, nil
}

// GrantGlobalUnlock adds id to the permanent unlock set, independent of any
// daily quota. Used for individually earned unlocks.
func (l *Ledger) GrantGlobalUnlock(id string) error {
	if err := l.persist.AddGlobalUnlockedID(id); err != nil {
		return fmt.Errorf("unlock: grant global unlock for %q: %w", id, err)
	}
	log.Info().Str("id", id).Msg("Item unlocked permanently")
	return nil
}

// Apply stamps the unlock flags onto the items in place.
func Apply(items []models.ContentItem, flags map[string]bool) {
	for i := range items {
		items[i].IsUnlocked = flags[items[i].ID]
	}
}
