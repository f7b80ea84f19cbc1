package domain

// EventType names an outbound notification event.
type EventType string

const (
	EventApprovalRequested EventType = "approval_requested"
	EventApprovalResolved  EventType = "approval_resolved"
	EventGuardBlocked      EventType = "guard_blocked"
	EventItemCompleted     EventType = "item_completed"
	EventItemFailed        EventType = "item_failed"
)

// NotificationEvent is the payload delivered to the external notifier.
// Delivery is fire-and-forget; a failed send never blocks the engine.
type NotificationEvent struct {
	Type       EventType         `json:"event_type"`
	WorkItemID string            `json:"work_item_id,omitempty"`
	RiskTier   RiskTier          `json:"risk_tier,omitempty"`
	Details    map[string]string `json:"details,omitempty"`
}
