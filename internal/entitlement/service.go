package entitlement

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ozturkozgurm/overorunder/internal/metrics"
	"github.com/ozturkozgurm/overorunder/internal/store"
)

const defaultSettlePollInterval = 500 * time.Millisecond

// Service reconciles platform purchase entitlements into a premium flag and
// the set of active plan ids. It is not safe for concurrent use: every
// mutation must arrive through the engine's single update goroutine, so the
// service carries no locking of its own.
type Service struct {
	billing  Billing
	verifier *Verifier
	persist  *store.Store
	recorder PaymentRecorder // nil disables payment records

	userID        string
	settleTimeout time.Duration
	pollInterval  time.Duration

	plans        []Plan
	purchasedIDs map[string]struct{}
	premium      bool

	expirations chan ExpirationEvent
}

// Options configures a Service.
type Options struct {
	Billing       Billing
	Verifier      *Verifier
	Store         *store.Store
	Recorder      PaymentRecorder
	SettleTimeout time.Duration
	PollInterval  time.Duration
}

// NewService builds the entitlement store. The persisted premium flag seeds
// the in-memory state so the gate works before the first billing round trip.
func NewService(opts Options) (*Service, error) {
	if opts.Billing == nil {
		return nil, fmt.Errorf("entitlement: billing boundary is required")
	}
	if opts.Verifier == nil {
		return nil, fmt.Errorf("entitlement: verifier is required")
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("entitlement: store is required")
	}

	premium, err := opts.Store.IsPremium()
	if err != nil {
		return nil, fmt.Errorf("entitlement: load premium flag: %w", err)
	}

	settleTimeout := opts.SettleTimeout
	if settleTimeout <= 0 {
		settleTimeout = 15 * time.Second
	}
	pollInterval := opts.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultSettlePollInterval
	}

	return &Service{
		billing:       opts.Billing,
		verifier:      opts.Verifier,
		persist:       opts.Store,
		recorder:      opts.Recorder,
		userID:        fmt.Sprintf("ID-%06d", rand.IntN(900000)+100000),
		settleTimeout: settleTimeout,
		pollInterval:  pollInterval,
		purchasedIDs:  map[string]struct{}{},
		premium:       premium,
		expirations:   make(chan ExpirationEvent, 4),
	}, nil
}

// Expirations delivers premium-to-free transitions, one event per transition.
func (s *Service) Expirations() <-chan ExpirationEvent {
	return s.expirations
}

// Changes exposes the billing boundary's unbounded entitlement-change stream.
// The engine consumes it for the lifetime of the process.
func (s *Service) Changes(ctx context.Context) <-chan struct{} {
	return s.billing.EntitlementChanges(ctx)
}

// Premium reports the reconciled premium flag.
func (s *Service) Premium() bool {
	return s.premium
}

// HasActiveEntitlement reports whether any non-revoked entitlement is held.
func (s *Service) HasActiveEntitlement() bool {
	return len(s.purchasedIDs) > 0
}

// ActivePlanID returns one currently held plan id, preferring the catalog
// order so the cheapest plan wins ties, or "" when none is held.
func (s *Service) ActivePlanID() string {
	for _, plan := range s.plans {
		if _, ok := s.purchasedIDs[plan.ID]; ok {
			return plan.ID
		}
	}
	for id := range s.purchasedIDs {
		return id
	}
	return ""
}

// Plans returns the cached catalog.
func (s *Service) Plans() []Plan {
	return s.plans
}

// UserID is the anonymous id attached to payment records.
func (s *Service) UserID() string {
	return s.userID
}

// FetchCatalog loads the product catalog, sorted by ascending price. A
// billing failure surfaces as ErrBillingUnavailable with an empty catalog;
// callers retry on the next sync cycle.
func (s *Service) FetchCatalog(ctx context.Context, ids []string) ([]Plan, error) {
	if len(ids) == 0 {
		ids = DefaultPlanIDs
	}
	plans, err := s.billing.ListProducts(ctx, ids)
	if err != nil {
		log.Error().Err(err).Msg("Catalog fetch failed")
		return nil, fmt.Errorf("%w: %v", ErrBillingUnavailable, err)
	}
	sort.Slice(plans, func(i, j int) bool { return plans[i].Price < plans[j].Price })
	s.plans = plans
	if len(plans) == 0 {
		log.Warn().Msg("Billing returned an empty catalog, check product ids")
	}
	return plans, nil
}

// Purchase runs the full purchase flow for planID and returns an explicit
// outcome. Confirmed transactions must verify before any state changes; the
// flow then polls Resync until the entitlement shows active or the settle
// timeout elapses.
func (s *Service) Purchase(ctx context.Context, planID string) Outcome {
	plan, ok := s.planByID(planID)
	if !ok {
		if _, err := s.FetchCatalog(ctx, nil); err != nil {
			return s.failed(fmt.Errorf("%w: %q", ErrUnknownPlan, planID))
		}
		if plan, ok = s.planByID(planID); !ok {
			return s.failed(fmt.Errorf("%w: %q", ErrUnknownPlan, planID))
		}
	}

	result, err := s.billing.Purchase(ctx, plan.ID)
	if err != nil {
		return s.failed(fmt.Errorf("purchase %q: %w", plan.ID, err))
	}

	switch result.Kind {
	case PurchaseCancelled:
		log.Info().Str("plan", plan.ID).Msg("Purchase cancelled by user")
		metrics.PurchasesTotal.WithLabelValues(string(OutcomeCancelled)).Inc()
		return Outcome{Kind: OutcomeCancelled}
	case PurchasePending:
		log.Info().Str("plan", plan.ID).Msg("Purchase pending external approval")
		metrics.PurchasesTotal.WithLabelValues(string(OutcomePending)).Inc()
		return Outcome{Kind: OutcomePending}
	case PurchaseConfirmed:
		return s.applyConfirmed(ctx, plan, result.SignedTransaction)
	default:
		return s.failed(fmt.Errorf("purchase %q failed: %s", plan.ID, result.Reason))
	}
}

func (s *Service) applyConfirmed(ctx context.Context, plan Plan, signed string) Outcome {
	tx, err := s.verifier.Verify(signed)
	if err != nil {
		// Unverified transactions are discarded, never applied.
		log.Warn().Err(err).Str("plan", plan.ID).Msg("Discarding unverified transaction")
		return s.failed(err)
	}

	amount := plan.Price
	planName := plan.ID
	if tx.IntroductoryOffer {
		amount = 0
		planName = "Trial: " + plan.ID
	}
	s.recordPayment(planName, amount)

	if err := s.settle(ctx, plan.ID); err != nil {
		return s.failed(err)
	}

	if err := s.billing.FinishTransaction(ctx, signed); err != nil {
		log.Error().Err(err).Str("plan", plan.ID).Msg("Failed to finish transaction")
	}

	log.Info().Str("plan", tx.ProductID).Float64("amount", amount).Msg("Purchase confirmed")
	metrics.PurchasesTotal.WithLabelValues(string(OutcomeConfirmed)).Inc()
	return Outcome{Kind: OutcomeConfirmed, Transaction: tx}
}

// settle polls Resync until planID shows as an active entitlement. A fixed
// post-purchase delay used to paper over the billing propagation race; the
// bounded poll makes the timeout explicit instead.
func (s *Service) settle(ctx context.Context, planID string) error {
	deadline := time.Now().Add(s.settleTimeout)
	for {
		result, err := s.Resync(ctx)
		if err == nil {
			if _, ok := result.ActiveIDs[planID]; ok {
				return nil
			}
		} else {
			log.Warn().Err(err).Msg("Resync failed while settling purchase")
		}

		if time.Now().After(deadline) {
			return ErrSettleTimeout
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.pollInterval):
		}
	}
}

// Resync computes the absolute entitlement truth from the billing boundary.
// It is idempotent: repeated calls with the same upstream state converge to
// the same local state. A premium-to-free transition emits exactly one
// expiration event.
func (s *Service) Resync(ctx context.Context) (SyncResult, error) {
	metrics.ResyncsTotal.Inc()

	signedTxs, err := s.billing.CurrentEntitlements(ctx)
	if err != nil {
		return SyncResult{}, fmt.Errorf("enumerate entitlements: %w", err)
	}

	activeIDs := make(map[string]struct{})
	for _, signed := range signedTxs {
		tx, err := s.verifier.Verify(signed)
		if err != nil {
			log.Warn().Err(err).Msg("Skipping unverifiable entitlement")
			continue
		}
		if tx.Revoked() {
			continue
		}
		activeIDs[tx.ProductID] = struct{}{}
	}

	hasActive := len(activeIDs) > 0
	if s.premium && !hasActive {
		metrics.ExpirationEventsTotal.Inc()
		select {
		case s.expirations <- ExpirationEvent{OccurredAt: time.Now()}:
		default:
			log.Warn().Msg("Expiration event dropped, consumer too slow")
		}
	}

	s.purchasedIDs = activeIDs
	s.premium = hasActive
	if err := s.persist.SetPremium(hasActive); err != nil {
		log.Error().Err(err).Msg("Failed to persist premium flag")
	}

	log.Debug().Bool("premium", hasActive).Int("plans", len(activeIDs)).Msg("Entitlements resynced")
	return SyncResult{HasActive: hasActive, ActiveIDs: activeIDs}, nil
}

// recordPayment ships a payment record to the sink without blocking the
// purchase flow. Sink failures are logged and never surfaced to the caller.
func (s *Service) recordPayment(planName string, amount float64) {
	if s.recorder == nil {
		return
	}
	occurredAt := time.Now()
	userID := s.userID
	recorder := s.recorder
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := recorder.Record(ctx, planName, amount, occurredAt, userID); err != nil {
			log.Error().Err(err).Str("plan", planName).Msg("Payment record failed")
		}
	}()
}

func (s *Service) planByID(id string) (Plan, bool) {
	for _, plan := range s.plans {
		if plan.ID == id {
			return plan, true
		}
	}
	return Plan{}, false
}

func (s *Service) failed(err error) Outcome {
	metrics.PurchasesTotal.WithLabelValues(string(OutcomeFailed)).Inc()
	return Outcome{Kind: OutcomeFailed, Err: err}
}
