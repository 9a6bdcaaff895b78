package models

// ContentItem is a single day's prediction entry as delivered by the remote
// content source. IsUnlocked is derived locally by the unlock ledger and is
// never part of the wire payload.
type ContentItem struct {
	ID         string `json:"id"`
	EventName  string `json:"eventName"`
	Date       string `json:"date"`
	HomeTeam   string `json:"homeTeam"`
	AwayTeam   string `json:"awayTeam"`
	Guess      string `json:"guess"`
	IsUnlocked bool   `json:"isUnlocked"`
}

// LiveSignal is an ephemeral, push-originated content item. It is inserted
// ahead of the normal feed and is always treated as unlocked.
type LiveSignal struct {
	ContentItem
	Minute string `json:"minute"`
}

// FeedState is the assembled view consumed by presentation: the day's items
// with unlock flags applied, preceded by the current live signals.
type FeedState struct {
	DateKey     string        `json:"dateKey"`
	Items       []ContentItem `json:"items"`
	LiveSignals []LiveSignal  `json:"liveSignals"`
	Empty       bool          `json:"empty"`
	Error       string        `json:"error,omitempty"`
}

// AccessDecision is the gate's output plus remaining-trial metadata. It is
// recomputed on demand and never persisted.
type AccessDecision struct {
	CanSeeContent       bool   `json:"canSeeContent"`
	Premium             bool   `json:"premium"`
	TrialActive         bool   `json:"trialActive"`
	TrialHoursRemaining int    `json:"trialHoursRemaining"`
	PlanName            string `json:"planName"`
}
