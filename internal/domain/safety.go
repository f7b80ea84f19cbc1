package domain

// RiskTier classifies a transition's aggregate risk and decides whether
// human approval is required.
type RiskTier string

const (
	TierLow    RiskTier = "LOW"
	TierMedium RiskTier = "MEDIUM"
	TierHigh   RiskTier = "HIGH"
)

// RiskThresholds maps an aggregate score to a tier. Boundary values round
// up to the higher tier.
type RiskThresholds struct {
	Medium float64 `yaml:"medium"`
	High   float64 `yaml:"high"`
}

// DefaultRiskThresholds mirror the documented tiering: <3 LOW, 3-7 MEDIUM,
// >7 HIGH.
func DefaultRiskThresholds() RiskThresholds {
	return RiskThresholds{Medium: 3, High: 7}
}

// Tier classifies an aggregate score.
func (t RiskThresholds) Tier(score float64) RiskTier {
	switch {
	case score >= t.High:
		return TierHigh
	case score >= t.Medium:
		return TierMedium
	default:
		return TierLow
	}
}

// GuardResult is produced fresh per guard evaluation and never mutated
// afterward. Contributions sum into the pipeline's aggregate score.
type GuardResult struct {
	Guard            string  `json:"guard"`
	Allowed          bool    `json:"allowed"`
	Reason           string  `json:"reason,omitempty"`
	RiskContribution float64 `json:"risk_contribution"`
}

// ChangeSet describes a proposed change submitted to the safety gate.
type ChangeSet struct {
	WorkItemID    string
	Provider      string
	EstimatedCost float64
	FilesChanged  []string
	FilesDeleted  []string
	LinesAdded    int
	LinesDeleted  int
	// Complexity is an externally supplied 0-10 estimate; zero means
	// "derive from the change shape".
	Complexity float64
	Diff       string
	Operation  string
}

// GateDecision is the pipeline's aggregate admission verdict.
type GateDecision struct {
	Allowed    bool          `json:"allowed"`
	Reason     string        `json:"reason,omitempty"`
	Tier       RiskTier      `json:"risk_tier"`
	Score      float64       `json:"risk_score"`
	RetryAfter float64       `json:"retry_after_seconds,omitempty"`
	Results    []GuardResult `json:"results,omitempty"`
}
