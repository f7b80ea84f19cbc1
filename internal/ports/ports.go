// Package ports defines the interfaces (ports) for the hexagonal architecture.
//
// This package establishes the contract between the engine core and external
// adapters (infrastructure). The engine depends on these abstractions only,
// so tests can substitute stubs and control time deterministically.
package ports

import (
	"context"
	"time"

	"github.com/doeshing/overseer/internal/domain"
)

// Clock abstracts wall time so refill, expiry and rollover logic is
// deterministic under test.
type Clock interface {
	Now() time.Time
}

// ConfigProvider loads the latest configuration from persistent storage.
type ConfigProvider interface {
	Load(context.Context) (domain.Config, error)
}

// WorkItemRepository persists work items and their transition history.
type WorkItemRepository interface {
	SaveItem(ctx context.Context, item *domain.WorkItem) error
	GetItem(ctx context.Context, id string) (*domain.WorkItem, error)
	ListItems(ctx context.Context, state domain.ItemState) ([]*domain.WorkItem, error)
}

// ApprovalRepository persists approval requests across restarts.
type ApprovalRepository interface {
	SaveApproval(ctx context.Context, req *domain.ApprovalRequest) error
	GetApproval(ctx context.Context, id string) (*domain.ApprovalRequest, error)
	ListApprovals(ctx context.Context, status domain.ApprovalStatus) ([]*domain.ApprovalRequest, error)
}

// LedgerRepository persists rate-limit buckets and cost ledger entries.
type LedgerRepository interface {
	SaveBucket(ctx context.Context, bucket domain.RateLimitBucket) error
	ListBuckets(ctx context.Context) ([]domain.RateLimitBucket, error)
	SaveLedgerEntry(ctx context.Context, entry domain.CostLedgerEntry) error
	ListLedgerEntries(ctx context.Context, day string) ([]domain.CostLedgerEntry, error)
}

// RollbackRepository persists rollback-point records. Deleting a record
// never deletes the underlying checkpoint.
type RollbackRepository interface {
	SavePoint(ctx context.Context, point domain.RollbackPoint) error
	GetPoint(ctx context.Context, id string) (*domain.RollbackPoint, error)
	ListPoints(ctx context.Context) ([]domain.RollbackPoint, error)
	DeletePoint(ctx context.Context, id string) error
}

// CheckpointStore is the external source-control collaborator backing
// rollback. Overseer never touches git plumbing directly.
type CheckpointStore interface {
	Checkpoint(ctx context.Context, description string) (ref string, err error)
	Restore(ctx context.Context, ref string) error
	Exists(ctx context.Context, ref string) (bool, error)
}

// Implementer accepts a work item and returns a proposed change or failure.
type Implementer interface {
	Implement(ctx context.Context, item *domain.WorkItem) (domain.ChangeSet, error)
}

// Verifier runs the project's test suite against the current change.
type Verifier interface {
	Verify(ctx context.Context, item *domain.WorkItem) (passed bool, diagnostics string, err error)
}

// Analyzer scores a work item's actionability before planning begins.
type Analyzer interface {
	Analyze(ctx context.Context, item *domain.WorkItem) (confidence float64, summary string, err error)
}

// Notifier delivers outbound events. Implementations must be safe to call
// concurrently; delivery failure is the implementation's problem, never the
// caller's.
type Notifier interface {
	Notify(ctx context.Context, event domain.NotificationEvent) error
}

// Logger provides structured logging for all layers.
type Logger interface {
	Debug(msg string, fields map[string]interface{})
	Info(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Error(msg string, err error, fields map[string]interface{})
}
