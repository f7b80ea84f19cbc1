// Package rollback records recoverable checkpoints before risky operations
// and restores the working tree to one of them on demand.
package rollback

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/doeshing/overseer/internal/domain"
	"github.com/doeshing/overseer/internal/pkg/retry"
	"github.com/doeshing/overseer/internal/ports"
)

// Manager creates rollback points through a CheckpointStore and restores
// them with bounded retry. Restores are serialized so two rollbacks never
// race over the same working tree.
type Manager struct {
	restoreMu sync.Mutex

	settings domain.RollbackSettings
	repo     ports.RollbackRepository
	store    ports.CheckpointStore
	clock    ports.Clock
	log      ports.Logger
	policy   retry.Policy
	sleep    retry.Sleeper
}

func New(settings domain.RollbackSettings, repo ports.RollbackRepository, store ports.CheckpointStore, clock ports.Clock, log ports.Logger) *Manager {
	return &Manager{
		settings: settings,
		repo:     repo,
		store:    store,
		clock:    clock,
		log:      log,
		policy:   retry.DefaultPolicy(),
		sleep:    retry.RealSleep,
	}
}

// CreatePoint snapshots the current state before a risk-bearing operation
// and records it for later rollback.
func (m *Manager) CreatePoint(ctx context.Context, workItemID, description string) (*domain.RollbackPoint, error) {
	ref, err := m.store.Checkpoint(ctx, description)
	if err != nil {
		return nil, fmt.Errorf("create checkpoint: %w", err)
	}

	point := domain.RollbackPoint{
		ID:            uuid.New().String(),
		CheckpointRef: ref,
		Description:   description,
		WorkItemID:    workItemID,
		CreatedAt:     m.clock.Now(),
	}
	if err := m.repo.SavePoint(ctx, point); err != nil {
		return nil, fmt.Errorf("save rollback point: %w", err)
	}

	m.log.Info("rollback point created", map[string]interface{}{
		"id":        point.ID,
		"ref":       ref,
		"work_item": workItemID,
	})
	return &point, nil
}

// Rollback restores the checkpoint behind the given point id. The point
// record survives the restore so the same point can be rolled back to
// again.
func (m *Manager) Rollback(ctx context.Context, id string) (*domain.RollbackResult, error) {
	point, err := m.getPoint(ctx, id)
	if err != nil {
		return nil, err
	}

	ok, err := m.store.Exists(ctx, point.CheckpointRef)
	if err != nil {
		return nil, fmt.Errorf("verify checkpoint %s: %w", point.CheckpointRef, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: checkpoint %s is gone", domain.ErrRollbackTargetNotFound, point.CheckpointRef)
	}

	m.restoreMu.Lock()
	defer m.restoreMu.Unlock()

	start := m.clock.Now()
	err = retry.Do(ctx, m.policy, m.sleep, func() error {
		return m.store.Restore(ctx, point.CheckpointRef)
	})
	if err != nil {
		return nil, fmt.Errorf("restore checkpoint %s: %w", point.CheckpointRef, err)
	}

	result := &domain.RollbackResult{
		Point:      *point,
		RestoredTo: point.CheckpointRef,
		Duration:   m.clock.Now().Sub(start),
	}
	m.log.Info("rollback complete", map[string]interface{}{
		"id":  point.ID,
		"ref": point.CheckpointRef,
	})
	return result, nil
}

// Get returns a single rollback point.
func (m *Manager) Get(ctx context.Context, id string) (*domain.RollbackPoint, error) {
	return m.getPoint(ctx, id)
}

// List returns all recorded rollback points, newest first.
func (m *Manager) List(ctx context.Context) ([]domain.RollbackPoint, error) {
	return m.repo.ListPoints(ctx)
}

// Sweep deletes point records older than the retention window. The
// underlying checkpoints are left untouched.
func (m *Manager) Sweep(ctx context.Context) (int, error) {
	if m.settings.RetentionWindow <= 0 {
		return 0, nil
	}
	points, err := m.repo.ListPoints(ctx)
	if err != nil {
		return 0, err
	}

	cutoff := m.clock.Now().Add(-m.settings.RetentionWindow.Std())
	removed := 0
	for _, p := range points {
		if p.CreatedAt.After(cutoff) {
			continue
		}
		if err := m.repo.DeletePoint(ctx, p.ID); err != nil {
			return removed, fmt.Errorf("delete rollback point %s: %w", p.ID, err)
		}
		removed++
	}
	if removed > 0 {
		m.log.Info("rollback points swept", map[string]interface{}{
			"removed":   removed,
			"retention": m.settings.RetentionWindow.String(),
		})
	}
	return removed, nil
}

func (m *Manager) getPoint(ctx context.Context, id string) (*domain.RollbackPoint, error) {
	point, err := m.repo.GetPoint(ctx, id)
	if err != nil {
		return nil, err
	}
	if point == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrRollbackTargetNotFound, id)
	}
	return point, nil
}
