package domain

import "time"

// ApprovalStatus is the lifecycle of a human-decision request. A request
// reaches exactly one terminal status and is immutable afterward.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalDenied   ApprovalStatus = "denied"
	ApprovalExpired  ApprovalStatus = "expired"
)

// Terminal reports whether the status admits no further resolution.
func (s ApprovalStatus) Terminal() bool {
	return s == ApprovalApproved || s == ApprovalDenied || s == ApprovalExpired
}

// ApprovalRequest converts a high-risk transition into an asynchronous
// human decision.
type ApprovalRequest struct {
	ID         string            `json:"id"`
	WorkItemID string            `json:"work_item_id"`
	Operation  string            `json:"operation"`
	RiskTier   RiskTier          `json:"risk_tier"`
	Status     ApprovalStatus    `json:"status"`
	CreatedAt  time.Time         `json:"created_at"`
	ExpiresAt  time.Time         `json:"expires_at"`
	ResolvedAt *time.Time        `json:"resolved_at,omitempty"`
	Actor      string            `json:"actor,omitempty"`
	Note       string            `json:"note,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// ApprovalStats are running counters over all requests.
type ApprovalStats struct {
	Requested int64 `json:"requested"`
	Approved  int64 `json:"approved"`
	Denied    int64 `json:"denied"`
	Expired   int64 `json:"expired"`
	Pending   int64 `json:"pending"`
}
