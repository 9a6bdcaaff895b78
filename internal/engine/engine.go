package engine

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ozturkozgurm/overorunder/internal/entitlement"
	"github.com/ozturkozgurm/overorunder/internal/feed"
	"github.com/ozturkozgurm/overorunder/internal/gate"
	"github.com/ozturkozgurm/overorunder/internal/metrics"
	"github.com/ozturkozgurm/overorunder/internal/models"
	"github.com/ozturkozgurm/overorunder/internal/signal"
	"github.com/ozturkozgurm/overorunder/internal/store"
	"github.com/ozturkozgurm/overorunder/internal/trial"
	"github.com/ozturkozgurm/overorunder/internal/unlock"
)

// UpdateType tags events published to subscribers.
type UpdateType string

const (
	UpdateAccess     UpdateType = "access"
	UpdateSignals    UpdateType = "signals"
	UpdateFeed       UpdateType = "feed"
	UpdateExpiration UpdateType = "expiration"
)

// Update is a typed state-change notification for presentation consumers.
type Update struct {
	Type    UpdateType            `json:"type"`
	Access  *models.AccessDecision `json:"access,omitempty"`
	Signals []models.LiveSignal   `json:"signals,omitempty"`
	Feed    *models.FeedState     `json:"feed,omitempty"`
}

// Engine owns every piece of mutable gating state. All mutation happens on
// the Run goroutine: producers (billing listener, push handler, API commands)
// post closures onto one channel, so dedup checks, quota selection and
// entitlement updates never race without any component needing a mutex.
type Engine struct {
	persist      *store.Store
	entitlements *entitlement.Service
	ledger       *unlock.Ledger
	pipeline     *signal.Pipeline
	assembler    *feed.Assembler

	trialPeriod time.Duration
	now         func() time.Time

	commands chan func(context.Context)

	subMu   sync.RWMutex
	subs    map[int]chan Update
	nextSub int

	firstLaunch time.Time
}

// Options wires the engine's collaborators.
type Options struct {
	Store        *store.Store
	Entitlements *entitlement.Service
	Ledger       *unlock.Ledger
	Pipeline     *signal.Pipeline
	Assembler    *feed.Assembler
	TrialPeriod  time.Duration
	Now          func() time.Time
}

// New builds an engine. Call Run to start the update loop; every other
// method is safe to call from any goroutine once Run is active.
func New(opts Options) *Engine {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	trialPeriod := opts.TrialPeriod
	if trialPeriod <= 0 {
		trialPeriod = trial.DefaultPeriod
	}
	e := &Engine{
		persist:      opts.Store,
		entitlements: opts.Entitlements,
		ledger:       opts.Ledger,
		pipeline:     opts.Pipeline,
		assembler:    opts.Assembler,
		trialPeriod:  trialPeriod,
		now:          now,
		commands:     make(chan func(context.Context), 64),
		subs:         make(map[int]chan Update),
	}
	return e
}

// Run executes the single-writer loop until ctx is cancelled. It records the
// first-launch timestamp (write-once), performs the initial catalog fetch and
// resync, schedules pending-signal recovery, and then serves commands and the
// billing change stream. Cancellation of ctx is the process-teardown signal
// that also stops the entitlement-change listener.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.persist.RecordFirstLaunch(e.now()); err != nil {
		return err
	}
	firstLaunch, err := e.persist.FirstLaunch()
	if err != nil {
		return err
	}
	e.firstLaunch = firstLaunch

	if _, err := e.entitlements.FetchCatalog(ctx, nil); err != nil {
		log.Warn().Err(err).Msg("Initial catalog fetch failed, will retry on demand")
	}
	if _, err := e.entitlements.Resync(ctx); err != nil {
		log.Warn().Err(err).Msg("Initial entitlement resync failed")
	}

	e.scheduleRecovery(ctx)

	changes := e.entitlements.Changes(ctx)
	expirations := e.entitlements.Expirations()

	log.Info().Time("firstLaunch", e.firstLaunch).Msg("Gating engine running")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Gating engine stopped")
			return ctx.Err()

		case fn := <-e.commands:
			fn(ctx)

		case _, ok := <-changes:
			if !ok {
				changes = nil
				continue
			}
			if _, err := e.entitlements.Resync(ctx); err != nil {
				log.Error().Err(err).Msg("Resync after entitlement change failed")
				continue
			}
			e.publishAccess()

		case <-expirations:
			e.publish(Update{Type: UpdateExpiration})
			e.publishAccess()
		}
	}
}

// scheduleRecovery replays a pending push signal after the grace delay. The
// delay only gives the presentation layer time to mount; the ingest itself
// happens on the update loop like any live delivery.
func (e *Engine) scheduleRecovery(ctx context.Context) {
	go func() {
		if err := e.pipeline.GraceDelay(ctx); err != nil {
			return
		}
		e.post(ctx, func(context.Context) {
			payload, ok, err := e.pipeline.CheckPending()
			if err != nil {
				log.Error().Err(err).Msg("Pending signal recovery failed")
				return
			}
			if !ok {
				return
			}
			if _, inserted := e.pipeline.Ingest(payload); inserted {
				metrics.SignalsRecoveredTotal.Inc()
				e.publish(Update{Type: UpdateSignals, Signals: e.pipeline.Signals()})
			}
		})
	}()
}

// Access returns the current access decision, recomputed from live inputs.
func (e *Engine) Access(ctx context.Context) (models.AccessDecision, error) {
	return request(ctx, e, func(context.Context) models.AccessDecision {
		return e.decide()
	})
}

// Feed assembles the feed for dateKey and publishes the result.
func (e *Engine) Feed(ctx context.Context, dateKey string) (models.FeedState, error) {
	return request(ctx, e, func(cmdCtx context.Context) models.FeedState {
		state := e.assembler.Assemble(cmdCtx, dateKey)
		e.publish(Update{Type: UpdateFeed, Feed: &state})
		return state
	})
}

// Plans returns the billing catalog, fetching it when empty or stale.
func (e *Engine) Plans(ctx context.Context) ([]entitlement.Plan, error) {
	type result struct {
		plans []entitlement.Plan
		err   error
	}
	res, err := request(ctx, e, func(cmdCtx context.Context) result {
		plans, err := e.entitlements.FetchCatalog(cmdCtx, nil)
		return result{plans: plans, err: err}
	})
	if err != nil {
		return nil, err
	}
	return res.plans, res.err
}

// Purchase runs the purchase flow for planID on the update loop.
func (e *Engine) Purchase(ctx context.Context, planID string) (entitlement.Outcome, error) {
	return request(ctx, e, func(cmdCtx context.Context) entitlement.Outcome {
		outcome := e.entitlements.Purchase(cmdCtx, planID)
		if outcome.Kind == entitlement.OutcomeConfirmed {
			e.publishAccess()
		}
		return outcome
	})
}

// Ingest feeds a live push payload into the pipeline. It reports whether a
// new signal was inserted.
func (e *Engine) Ingest(ctx context.Context, payload signal.Payload) (bool, error) {
	return request(ctx, e, func(context.Context) bool {
		_, inserted := e.pipeline.Ingest(payload)
		if inserted {
			e.publish(Update{Type: UpdateSignals, Signals: e.pipeline.Signals()})
		}
		return inserted
	})
}

// StorePending persists a deferred push payload for replay on next start.
func (e *Engine) StorePending(ctx context.Context, payload signal.Payload) error {
	res, err := request(ctx, e, func(context.Context) error {
		return e.pipeline.StorePending(payload)
	})
	if err != nil {
		return err
	}
	return res
}

// Dismiss removes a live signal by id.
func (e *Engine) Dismiss(ctx context.Context, id string) (bool, error) {
	return request(ctx, e, func(context.Context) bool {
		removed := e.pipeline.Dismiss(id)
		if removed {
			e.publish(Update{Type: UpdateSignals, Signals: e.pipeline.Signals()})
		}
		return removed
	})
}

// GrantUnlock adds id to the permanent unlock set.
func (e *Engine) GrantUnlock(ctx context.Context, id string) error {
	res, err := request(ctx, e, func(context.Context) error {
		return e.ledger.GrantGlobalUnlock(id)
	})
	if err != nil {
		return err
	}
	return res
}

// Subscribe registers an update consumer. The returned cancel function must
// be called to release the subscription.
func (e *Engine) Subscribe() (<-chan Update, func()) {
	ch := make(chan Update, 16)

	e.subMu.Lock()
	id := e.nextSub
	e.nextSub++
	e.subs[id] = ch
	e.subMu.Unlock()

	cancel := func() {
		e.subMu.Lock()
		delete(e.subs, id)
		e.subMu.Unlock()
	}
	return ch, cancel
}

func (e *Engine) decide() models.AccessDecision {
	return gate.Decide(gate.Inputs{
		PremiumFlag:          e.entitlements.Premium(),
		HasActiveEntitlement: e.entitlements.HasActiveEntitlement(),
		ActivePlanID:         e.entitlements.ActivePlanID(),
		FirstLaunch:          e.firstLaunch,
		TrialPeriod:          e.trialPeriod,
	}, e.now())
}

func (e *Engine) publishAccess() {
	decision := e.decide()
	e.publish(Update{Type: UpdateAccess, Access: &decision})
}

func (e *Engine) publish(update Update) {
	e.subMu.RLock()
	defer e.subMu.RUnlock()

	for id, ch := range e.subs {
		select {
		case ch <- update:
		default:
			log.Warn().Int("subscriber", id).Str("type", string(update.Type)).
				Msg("Slow subscriber, update dropped")
		}
	}
}

func (e *Engine) post(ctx context.Context, fn func(context.Context)) bool {
	select {
	case e.commands <- fn:
		return true
	case <-ctx.Done():
		return false
	}
}

// request posts fn to the update loop and waits for its result.
func request[T any](ctx context.Context, e *Engine, fn func(context.Context) T) (T, error) {
	reply := make(chan T, 1)
	posted := e.post(ctx, func(cmdCtx context.Context) {
		reply <- fn(cmdCtx)
	})
	var zero T
	if !posted {
		return zero, ctx.Err()
	}
	select {
	case res := <-reply:
		return res, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}
