package entitlement

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Default product identifiers offered by the billing catalog.
var DefaultPlanIDs = []string{"yillik_plan", "aylik_plan", "haftalik_plan"}

// Entitlement store errors.
var (
	ErrBillingUnavailable = errors.New("billing boundary unavailable")
	ErrVerification       = errors.New("transaction failed verification")
	ErrUnknownPlan        = errors.New("unknown plan")
	ErrSettleTimeout      = errors.New("purchase did not settle before timeout")
)

// Plan is an immutable product offering sourced from the billing boundary.
type Plan struct {
	ID          string  `json:"id"`
	DisplayName string  `json:"displayName"`
	Price       float64 `json:"price"`
	Currency    string  `json:"currency"`
	Period      string  `json:"period"` // weekly, monthly, yearly
}

// Transaction is a verified purchase record. Instances only exist after
// signature verification; raw billing payloads are never trusted directly.
type Transaction struct {
	ID                string
	ProductID         string
	PurchasedAt       time.Time
	RevokedAt         *time.Time
	IntroductoryOffer bool
}

// Revoked reports whether the entitlement behind this transaction has been
// withdrawn (refund, chargeback, family-sharing removal).
func (t *Transaction) Revoked() bool {
	return t.RevokedAt != nil
}

// PurchaseKind is the raw result category reported by the billing boundary.
type PurchaseKind string

const (
	PurchaseConfirmed PurchaseKind = "confirmed"
	PurchaseCancelled PurchaseKind = "cancelled"
	PurchasePending   PurchaseKind = "pending"
	PurchaseFailed    PurchaseKind = "failed"
)

// PurchaseResult is what the billing boundary returns for a purchase attempt.
// SignedTransaction is only set for confirmed results and must be verified
// before the entitlement state may change.
type PurchaseResult struct {
	Kind              PurchaseKind
	SignedTransaction string
	Reason            string
}

// OutcomeKind is the store-level purchase outcome variant.
type OutcomeKind string

const (
	OutcomeConfirmed OutcomeKind = "confirmed"
	OutcomeCancelled OutcomeKind = "cancelled"
	OutcomePending   OutcomeKind = "pending"
	OutcomeFailed    OutcomeKind = "failed"
)

// Outcome is the explicit result of a purchase flow. A failed outcome always
// carries Err; the other variants never do.
type Outcome struct {
	Kind        OutcomeKind
	Transaction *Transaction
	Err         error
}

// SyncResult is the absolute entitlement truth computed by a resync.
type SyncResult struct {
	HasActive bool
	ActiveIDs map[string]struct{}
}

// ExpirationEvent marks a premium-to-free transition, emitted exactly once
// per transition for the presentation layer to surface.
type ExpirationEvent struct {
	OccurredAt time.Time
}

// Billing is the platform purchase boundary.
type Billing interface {
	// ListProducts returns the catalog for the given product ids.
	ListProducts(ctx context.Context, ids []string) ([]Plan, error)

	// Purchase initiates a purchase and reports the raw result.
	Purchase(ctx context.Context, planID string) (PurchaseResult, error)

	// CurrentEntitlements enumerates the signed transactions the user
	// currently holds, including revoked ones.
	CurrentEntitlements(ctx context.Context) ([]string, error)

	// EntitlementChanges returns an unbounded stream of change
	// notifications for purchases made or revoked outside this process.
	// The channel closes when ctx is cancelled.
	EntitlementChanges(ctx context.Context) <-chan struct{}

	// FinishTransaction marks a delivered transaction as consumed. Must be
	// called exactly once per applied transaction.
	FinishTransaction(ctx context.Context, signed string) error
}

// PaymentRecorder is the best-effort payment-record sink.
type PaymentRecorder interface {
	Record(ctx context.Context, planID string, amount float64, occurredAt time.Time, userID string) error
}

// PlanDisplayName maps a product id to its subscription display name.
func PlanDisplayName(id string) string {
	switch {
	case strings.Contains(id, "haftalik"):
		return "Weekly Premium"
	case strings.Contains(id, "aylik"):
		return "Monthly Premium"
	case strings.Contains(id, "yillik"):
		return "Yearly Premium"
	default:
		return "Premium Member"
	}
}
