package domain

import "time"

// RollbackPoint is an immutable reference to a recoverable external
// checkpoint. It is referenced, never edited, by rollback operations.
type RollbackPoint struct {
	ID            string    `json:"id"`
	CheckpointRef string    `json:"checkpoint_ref"`
	Description   string    `json:"description"`
	WorkItemID    string    `json:"work_item_id,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// RollbackResult reports the outcome of restoring a rollback point.
type RollbackResult struct {
	Point      RollbackPoint `json:"point"`
	RestoredTo string        `json:"restored_to"`
	Duration   time.Duration `json:"duration"`
}
