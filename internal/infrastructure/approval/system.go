// Package approval converts high-risk transitions into asynchronous human
// decision requests.
//
// Requests are durable: pending approvals survive process restarts and are
// resumed by polling. Each request reaches exactly one terminal status;
// late decisions are rejected. Notifications are fire-and-forget.
package approval

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/doeshing/overseer/internal/domain"
	"github.com/doeshing/overseer/internal/pkg/retry"
	"github.com/doeshing/overseer/internal/ports"
)

// System manages the approval lifecycle.
type System struct {
	mu       sync.Mutex
	settings domain.ApprovalSettings
	repo     ports.ApprovalRepository
	notifier ports.Notifier
	clock    ports.Clock
	log      ports.Logger
	policy   retry.Policy
	sleep    retry.Sleeper

	stats domain.ApprovalStats
}

// New builds the approval system. repo must not be nil; approvals are
// durable state.
func New(settings domain.ApprovalSettings, repo ports.ApprovalRepository, notifier ports.Notifier, clock ports.Clock, log ports.Logger) *System {
	if settings.Timeout <= 0 {
		settings.Timeout = domain.Duration(time.Hour)
	}
	return &System{
		settings: settings,
		repo:     repo,
		notifier: notifier,
		clock:    clock,
		log:      log,
		policy:   retry.DefaultPolicy(),
	}
}

// Request creates an approval request for operation at the given tier.
// LOW-tier requests resolve immediately to approved when auto-approval is
// enabled.
func (s *System) Request(ctx context.Context, workItemID, operation string, tier domain.RiskTier, metadata map[string]string) (*domain.ApprovalRequest, error) {
	now := s.clock.Now()
	req := &domain.ApprovalRequest{
		ID:         uuid.New().String(),
		WorkItemID: workItemID,
		Operation:  operation,
		RiskTier:   tier,
		Status:     domain.ApprovalPending,
		CreatedAt:  now,
		ExpiresAt:  now.Add(s.settings.Timeout.Std()),
		Metadata:   metadata,
	}

	if tier == domain.TierLow && s.settings.AutoApproveLowRisk {
		req.Status = domain.ApprovalApproved
		resolved := now
		req.ResolvedAt = &resolved
		req.Actor = "auto"
		req.Note = "low risk auto-approval"
	}

	if err := s.repo.SaveApproval(ctx, req); err != nil {
		return nil, fmt.Errorf("save approval: %w", err)
	}

	s.mu.Lock()
	s.stats.Requested++
	if req.Status == domain.ApprovalApproved {
		s.stats.Approved++
	} else {
		s.stats.Pending++
	}
	s.mu.Unlock()

	s.emit(ctx, domain.EventApprovalRequested, req)
	if req.Status.Terminal() {
		s.emit(ctx, domain.EventApprovalResolved, req)
	}
	return req, nil
}

// Poll returns the request's current status, lazily expiring it when the
// deadline has passed.
func (s *System) Poll(ctx context.Context, id string) (*domain.ApprovalRequest, error) {
	req, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.Status == domain.ApprovalPending && s.clock.Now().After(req.ExpiresAt) {
		if err := s.expire(ctx, req); err != nil {
			return nil, err
		}
	}
	return req, nil
}

// Approve resolves a pending request. A terminal request returns
// ErrAlreadyResolved; an overdue one expires instead.
func (s *System) Approve(ctx context.Context, id, actor, note string) (*domain.ApprovalRequest, error) {
	return s.resolve(ctx, id, domain.ApprovalApproved, actor, note)
}

// Deny resolves a pending request to denied.
func (s *System) Deny(ctx context.Context, id, actor, note string) (*domain.ApprovalRequest, error) {
	return s.resolve(ctx, id, domain.ApprovalDenied, actor, note)
}

// ExpireOverdue sweeps every pending request past its deadline. Returns
// the requests expired by this sweep.
func (s *System) ExpireOverdue(ctx context.Context) ([]*domain.ApprovalRequest, error) {
	pending, err := s.repo.ListApprovals(ctx, domain.ApprovalPending)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()
	var expired []*domain.ApprovalRequest
	for _, req := range pending {
		if now.After(req.ExpiresAt) {
			if err := s.expire(ctx, req); err != nil {
				return expired, err
			}
			expired = append(expired, req)
		}
	}
	return expired, nil
}

// Pending lists requests still awaiting a decision.
func (s *System) Pending(ctx context.Context) ([]*domain.ApprovalRequest, error) {
	return s.repo.ListApprovals(ctx, domain.ApprovalPending)
}

// Get returns one request by id.
func (s *System) Get(ctx context.Context, id string) (*domain.ApprovalRequest, error) {
	return s.get(ctx, id)
}

// Stats returns running counters.
func (s *System) Stats() domain.ApprovalStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

func (s *System) get(ctx context.Context, id string) (*domain.ApprovalRequest, error) {
	req, err := s.repo.GetApproval(ctx, id)
	if err != nil {
		return nil, err
	}
	if req == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrApprovalNotFound, id)
	}
	return req, nil
}

func (s *System) resolve(ctx context.Context, id string, status domain.ApprovalStatus, actor, note string) (*domain.ApprovalRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.Status.Terminal() {
		return nil, fmt.Errorf("%w: %s is %s", domain.ErrAlreadyResolved, id, req.Status)
	}
	if s.clock.Now().After(req.ExpiresAt) {
		if err := s.expireLocked(ctx, req); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s expired before decision", domain.ErrAlreadyResolved, id)
	}

	req.Status = status
	resolved := s.clock.Now()
	req.ResolvedAt = &resolved
	req.Actor = actor
	req.Note = note
	if err := s.repo.SaveApproval(ctx, req); err != nil {
		return nil, fmt.Errorf("save approval resolution: %w", err)
	}

	if s.stats.Pending > 0 {
		s.stats.Pending--
	}
	if status == domain.ApprovalApproved {
		s.stats.Approved++
	} else {
		s.stats.Denied++
	}

	s.log.Info("approval resolved", map[string]interface{}{
		"id":     id,
		"status": string(status),
		"actor":  actor,
	})
	s.emit(ctx, domain.EventApprovalResolved, req)
	return req, nil
}

// expire re-reads the request under the lock before acting: a resolution
// racing ahead of the caller's copy must not be expired a second time.
func (s *System) expire(ctx context.Context, req *domain.ApprovalRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	fresh, err := s.get(ctx, req.ID)
	if err != nil {
		return err
	}
	if fresh.Status.Terminal() {
		*req = *fresh
		return nil
	}
	if err := s.expireLocked(ctx, fresh); err != nil {
		return err
	}
	*req = *fresh
	return nil
}

func (s *System) expireLocked(ctx context.Context, req *domain.ApprovalRequest) error {
	req.Status = domain.ApprovalExpired
	resolved := s.clock.Now()
	req.ResolvedAt = &resolved
	req.Note = "approval timeout elapsed"
	if err := s.repo.SaveApproval(ctx, req); err != nil {
		return fmt.Errorf("save approval expiry: %w", err)
	}
	if s.stats.Pending > 0 {
		s.stats.Pending--
	}
	s.stats.Expired++
	s.log.Warn("approval expired", map[string]interface{}{"id": req.ID})
	s.emit(ctx, domain.EventApprovalResolved, req)
	return nil
}

// emit delivers a notification with local bounded retry. Failure to notify
// never blocks resolution.
func (s *System) emit(ctx context.Context, eventType domain.EventType, req *domain.ApprovalRequest) {
	if s.notifier == nil {
		return
	}
	event := domain.NotificationEvent{
		Type:       eventType,
		WorkItemID: req.WorkItemID,
		RiskTier:   req.RiskTier,
		Details: map[string]string{
			"approval_id": req.ID,
			"operation":   req.Operation,
			"status":      string(req.Status),
		},
	}
	go func() {
		err := retry.Do(context.WithoutCancel(ctx), s.policy, s.sleep, func() error {
			return s.notifier.Notify(context.WithoutCancel(ctx), event)
		})
		if err != nil {
			s.log.Warn("approval notification dropped", map[string]interface{}{
				"approval_id": req.ID,
				"error":       err.Error(),
			})
		}
	}()
}
