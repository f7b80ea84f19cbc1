// Package domain defines core business entities and value objects for Overseer.
//
// This file contains the work-item lifecycle: states, the fixed transition
// graph, and the audit history recorded with every transition. The domain
// layer is independent of infrastructure concerns and represents pure
// business logic and data structures.
package domain

import "time"

// ItemKind classifies a unit of autonomous work.
type ItemKind string

const (
	KindIssue   ItemKind = "issue"
	KindPR      ItemKind = "pr"
	KindRoadmap ItemKind = "roadmap"
)

// ItemState enumerates the work-item lifecycle states.
type ItemState string

const (
	StatePending           ItemState = "pending"
	StateAnalyzing         ItemState = "analyzing"
	StateRejected          ItemState = "rejected"
	StatePlanning          ItemState = "planning"
	StateImplementing      ItemState = "implementing"
	StateTesting           ItemState = "testing"
	StateAnalyzingFailures ItemState = "analyzing_failures"
	StateFixing            ItemState = "fixing"
	StateCreatingPR        ItemState = "creating_pr"
	StatePRCreated         ItemState = "pr_created"
	StateCompleted         ItemState = "completed"
	StateFailed            ItemState = "failed"
)

// successors is the fixed transition graph. A transition is legal iff the
// target appears in the current state's successor set.
var successors = map[ItemState][]ItemState{
	StatePending:           {StateAnalyzing, StateFailed},
	StateAnalyzing:         {StateRejected, StatePlanning, StateFailed},
	StatePlanning:          {StateImplementing, StateFailed},
	StateImplementing:      {StateTesting, StateFailed},
	StateTesting:           {StateAnalyzingFailures, StateCreatingPR, StateFailed},
	StateAnalyzingFailures: {StateFixing, StateFailed},
	StateFixing:            {StateTesting, StateFailed},
	StateCreatingPR:        {StatePRCreated, StateFailed},
	StatePRCreated:         {StateCompleted, StateFailed},
	StateRejected:          {},
	StateCompleted:         {},
	StateFailed:            {},
}

// CanTransition reports whether from -> to is an edge of the transition graph.
func CanTransition(from, to ItemState) bool {
	for _, next := range successors[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Successors returns the legal successor states of s.
func Successors(s ItemState) []ItemState {
	out := make([]ItemState, len(successors[s]))
	copy(out, successors[s])
	return out
}

// IsTerminal reports whether the state has no successors.
func IsTerminal(s ItemState) bool {
	switch s {
	case StateRejected, StateCompleted, StateFailed:
		return true
	default:
		return false
	}
}

// RiskBearing reports whether entering the state requires a safety-gate
// evaluation before the transition commits.
func RiskBearing(to ItemState) bool {
	switch to {
	case StateImplementing, StateCreatingPR, StateCompleted:
		return true
	default:
		return false
	}
}

// Transition is one audit history record of a state change.
type Transition struct {
	From      ItemState `json:"from_state"`
	To        ItemState `json:"to_state"`
	Timestamp time.Time `json:"timestamp"`
	Reason    string    `json:"reason"`
	Actor     string    `json:"actor"`
}

// WorkItem is a unit of autonomous work tracked through the lifecycle.
// It is owned by the state machine and mutated only through its transition
// function; every mutation is persisted.
type WorkItem struct {
	ID          string            `json:"id"`
	Kind        ItemKind          `json:"kind"`
	ExternalRef string            `json:"external_ref"`
	State       ItemState         `json:"state"`
	History     []Transition      `json:"history"`
	RetryCount  int               `json:"retry_count"`
	LastError   string            `json:"last_error,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`

	// ApprovalID is set while the item is parked awaiting a human decision.
	ApprovalID string `json:"approval_id,omitempty"`
	// PendingTarget is the gated state the item resumes into on approval.
	PendingTarget ItemState `json:"pending_target,omitempty"`
	// PendingProvider and PendingCost carry the gated change's spend
	// projection across the park so the ledger records it when the
	// approved commit lands.
	PendingProvider string  `json:"pending_provider,omitempty"`
	PendingCost     float64 `json:"pending_cost,omitempty"`
}

// AwaitingApproval reports whether the item is parked on a pending approval.
func (w *WorkItem) AwaitingApproval() bool {
	return w.ApprovalID != "" && !IsTerminal(w.State)
}

// ClearPark resets the approval-park fields once the decision is consumed.
func (w *WorkItem) ClearPark() {
	w.ApprovalID = ""
	w.PendingTarget = ""
	w.PendingProvider = ""
	w.PendingCost = 0
}
