package billing

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/ozturkozgurm/overorunder/internal/entitlement"
)

// DefaultCatalog mirrors the production product configuration.
func DefaultCatalog() []entitlement.Plan {
	return []entitlement.Plan{
		{ID: "haftalik_plan", DisplayName: "Weekly Premium", Price: 49.99, Currency: "TRY", Period: "weekly"},
		{ID: "aylik_plan", DisplayName: "Monthly Premium", Price: 129.99, Currency: "TRY", Period: "monthly"},
		{ID: "yillik_plan", DisplayName: "Yearly Premium", Price: 999.99, Currency: "TRY", Period: "yearly"},
	}
}

// GenerateSigningKey creates an Ed25519 key pair for transaction signing.
func GenerateSigningKey() (ed25519.PublicKey, ed25519.PrivateKey, error) {
	return ed25519.GenerateKey(rand.Reader)
}

type grant struct {
	signed  string
	revoked bool
}

// Memory is an in-process billing boundary. It signs real transactions with
// its own key so the entitlement store exercises the full verification path,
// and it drives the change stream when entitlements are granted or revoked
// out of band.
type Memory struct {
	mu       sync.Mutex
	signer   ed25519.PrivateKey
	catalog  []entitlement.Plan
	grants   map[string]*grant // by product id
	finished map[string]bool   // by signed token
	subs     []chan struct{}

	// NextPurchase overrides the next purchase result kind; empty means
	// confirmed. Consumed once.
	NextPurchase entitlement.PurchaseKind

	// IntroOffer marks the next purchase as an introductory offer.
	IntroOffer bool
}

// NewMemory builds a memory billing boundary signing with privateKey.
func NewMemory(privateKey ed25519.PrivateKey, catalog []entitlement.Plan) *Memory {
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	return &Memory{
		signer:   privateKey,
		catalog:  catalog,
		grants:   make(map[string]*grant),
		finished: make(map[string]bool),
	}
}

// ListProducts returns catalog entries matching the requested ids.
func (m *Memory) ListProducts(ctx context.Context, ids []string) ([]entitlement.Plan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	want := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}
	var plans []entitlement.Plan
	for _, plan := range m.catalog {
		if _, ok := want[plan.ID]; ok {
			plans = append(plans, plan)
		}
	}
	return plans, nil
}

// Purchase settles immediately: it grants the plan and returns a signed
// transaction, unless NextPurchase overrides the result kind.
func (m *Memory) Purchase(ctx context.Context, planID string) (entitlement.PurchaseResult, error) {
	m.mu.Lock()
	kind := m.NextPurchase
	m.NextPurchase = ""
	intro := m.IntroOffer
	m.IntroOffer = false
	m.mu.Unlock()

	switch kind {
	case entitlement.PurchaseCancelled, entitlement.PurchasePending:
		return entitlement.PurchaseResult{Kind: kind}, nil
	case entitlement.PurchaseFailed:
		return entitlement.PurchaseResult{Kind: kind, Reason: "simulated failure"}, nil
	}

	signed, err := m.grant(planID, intro, nil)
	if err != nil {
		return entitlement.PurchaseResult{}, err
	}
	return entitlement.PurchaseResult{Kind: entitlement.PurchaseConfirmed, SignedTransaction: signed}, nil
}

// Grant adds an entitlement out of band (external restoration, renewal) and
// notifies change listeners.
func (m *Memory) Grant(planID string) error {
	if _, err := m.grant(planID, false, nil); err != nil {
		return err
	}
	m.notify()
	return nil
}

// Revoke marks an entitlement as revoked and notifies change listeners.
func (m *Memory) Revoke(planID string) error {
	now := time.Now().Unix()
	if _, err := m.grant(planID, false, &now); err != nil {
		return err
	}
	m.notify()
	return nil
}

// Drop removes an entitlement entirely (subscription lapsed) and notifies.
func (m *Memory) Drop(planID string) {
	m.mu.Lock()
	delete(m.grants, planID)
	m.mu.Unlock()
	m.notify()
}

// CurrentEntitlements returns the signed transactions currently held,
// revoked ones included; classification is the verifier's job.
func (m *Memory) CurrentEntitlements(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]string, 0, len(m.grants))
	for _, g := range m.grants {
		out = append(out, g.signed)
	}
	return out, nil
}

// EntitlementChanges returns a change notification stream that closes when
// ctx is cancelled.
func (m *Memory) EntitlementChanges(ctx context.Context) <-chan struct{} {
	ch := make(chan struct{}, 8)

	m.mu.Lock()
	m.subs = append(m.subs, ch)
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		for i, sub := range m.subs {
			if sub == ch {
				m.subs = append(m.subs[:i], m.subs[i+1:]...)
				break
			}
		}
		m.mu.Unlock()
		close(ch)
	}()
	return ch
}

// FinishTransaction records consumption; finishing twice is a caller bug.
func (m *Memory) FinishTransaction(ctx context.Context, signed string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.finished[signed] {
		return fmt.Errorf("billing: transaction already finished")
	}
	m.finished[signed] = true
	return nil
}

func (m *Memory) grant(planID string, intro bool, revokedAt *int64) (string, error) {
	claims := entitlement.TransactionClaims{
		ProductID:  planID,
		IntroOffer: intro,
		RevokedAt:  revokedAt,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:       uuid.NewString(),
			IssuedAt: jwt.NewNumericDate(time.Now().UTC()),
		},
	}
	signed, err := entitlement.SignTransaction(m.signer, claims)
	if err != nil {
		return "", fmt.Errorf("billing: sign grant for %q: %w", planID, err)
	}

	m.mu.Lock()
	m.grants[planID] = &grant{signed: signed, revoked: revokedAt != nil}
	m.mu.Unlock()
	return signed, nil
}

func (m *Memory) notify() {
	m.mu.Lock()
	subs := append([]chan struct{}(nil), m.subs...)
	m.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- struct{}{}:
		default:
			log.Warn().Msg("Entitlement change listener lagging, notification dropped")
		}
	}
}
