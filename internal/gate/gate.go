package gate

import (
	"time"

	"github.com/ozturkozgurm/overorunder/internal/entitlement"
	"github.com/ozturkozgurm/overorunder/internal/models"
	"github.com/ozturkozgurm/overorunder/internal/trial"
)

// Inputs are the three truth sources the gate combines. Each is sampled at
// decision time; decisions are never cached.
type Inputs struct {
	PremiumFlag          bool
	HasActiveEntitlement bool
	ActivePlanID         string
	FirstLaunch          time.Time
	TrialPeriod          time.Duration
}

// Decide produces the access decision: a plain OR of premium flag, active
// entitlement and trial window. There are no partial or degraded states.
func Decide(in Inputs, now time.Time) models.AccessDecision {
	trialStatus := trial.Evaluate(in.FirstLaunch, now, in.TrialPeriod)

	premium := in.PremiumFlag || in.HasActiveEntitlement
	decision := models.AccessDecision{
		CanSeeContent: premium || trialStatus.Active,
		Premium:       premium,
	}

	switch {
	case premium:
		decision.PlanName = entitlement.PlanDisplayName(in.ActivePlanID)
	case trialStatus.Active:
		decision.TrialActive = true
		decision.TrialHoursRemaining = trialStatus.RemainingHours
		decision.PlanName = "Trial Premium"
	default:
		decision.PlanName = "Free Plan"
	}

	return decision
}
