package approval

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/doeshing/overseer/internal/domain"
	"github.com/doeshing/overseer/internal/pkg/logger"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// memRepo is an in-memory ApprovalRepository for tests.
type memRepo struct {
	mu   sync.Mutex
	reqs map[string]domain.ApprovalRequest
}

func newMemRepo() *memRepo {
	return &memRepo{reqs: make(map[string]domain.ApprovalRequest)}
}

func (r *memRepo) SaveApproval(_ context.Context, req *domain.ApprovalRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reqs[req.ID] = *req
	return nil
}

func (r *memRepo) GetApproval(_ context.Context, id string) (*domain.ApprovalRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.reqs[id]
	if !ok {
		return nil, nil
	}
	copied := req
	return &copied, nil
}

func (r *memRepo) ListApprovals(_ context.Context, status domain.ApprovalStatus) ([]*domain.ApprovalRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.ApprovalRequest
	for _, req := range r.reqs {
		if req.Status == status {
			copied := req
			out = append(out, &copied)
		}
	}
	return out, nil
}

func newSystem(clock *fakeClock) (*System, *memRepo) {
	repo := newMemRepo()
	settings := domain.ApprovalSettings{Timeout: domain.Duration(time.Hour), AutoApproveLowRisk: true}
	return New(settings, repo, nil, clock, logger.NewStd(false)), repo
}

func TestLowRiskAutoApproves(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	sys, _ := newSystem(clock)

	req, err := sys.Request(context.Background(), "wi-1", "implement fix", domain.TierLow, nil)
	if err != nil {
		t.Fatalf("Request() error = %v", err)
	}
	if req.Status != domain.ApprovalApproved {
		t.Fatalf("status = %s, want approved", req.Status)
	}
	if req.Actor != "auto" {
		t.Fatalf("actor = %q, want auto", req.Actor)
	}
}

func TestExpiryWithStaleCopyDoesNotDoubleResolve(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	sys, repo := newSystem(clock)
	ctx := context.Background()

	req, err := sys.Request(ctx, "wi-1", "merge to main", domain.TierHigh, nil)
	if err != nil {
		t.Fatalf("Request() error = %v", err)
	}

	// A reader holding a pre-resolution copy of the request must not
	// expire it after a decision lands.
	stale, err := sys.Get(ctx, req.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if _, err := sys.Approve(ctx, req.ID, "alice", "go ahead"); err != nil {
		t.Fatalf("Approve() error = %v", err)
	}

	clock.advance(2 * time.Hour)
	if err := sys.expire(ctx, stale); err != nil {
		t.Fatalf("expire() error = %v", err)
	}

	stored, _ := repo.GetApproval(ctx, req.ID)
	if stored.Status != domain.ApprovalApproved {
		t.Fatalf("status = %s, want approved untouched by the late expiry", stored.Status)
	}
	if stale.Status != domain.ApprovalApproved {
		t.Fatalf("stale copy should refresh to %s, got %s", domain.ApprovalApproved, stale.Status)
	}
	stats := sys.Stats()
	if stats.Expired != 0 {
		t.Fatalf("expired count = %d, want 0", stats.Expired)
	}
	if stats.Approved != 1 {
		t.Fatalf("approved count = %d, want 1", stats.Approved)
	}
}

func TestHighRiskStaysPendingThenExpiresOnce(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	sys, _ := newSystem(clock)
	ctx := context.Background()

	req, err := sys.Request(ctx, "wi-1", "merge to main", domain.TierHigh, nil)
	if err != nil {
		t.Fatalf("Request() error = %v", err)
	}
	if req.Status != domain.ApprovalPending {
		t.Fatalf("status = %s, want pending", req.Status)
	}

	clock.advance(61 * time.Minute)

	polled, err := sys.Poll(ctx, req.ID)
	if err != nil {
		t.Fatalf("Poll() error = %v", err)
	}
	if polled.Status != domain.ApprovalExpired {
		t.Fatalf("status after timeout = %s, want expired", polled.Status)
	}

	// A late decision on the same id is rejected.
	if _, err := sys.Approve(ctx, req.ID, "operator", ""); !errors.Is(err, domain.ErrAlreadyResolved) {
		t.Fatalf("late approve error = %v, want ErrAlreadyResolved", err)
	}

	stats := sys.Stats()
	if stats.Expired != 1 {
		t.Fatalf("expired count = %d, want exactly 1", stats.Expired)
	}
}

func TestApproveExactlyOnce(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	sys, _ := newSystem(clock)
	ctx := context.Background()

	req, _ := sys.Request(ctx, "wi-1", "create pr", domain.TierMedium, nil)

	resolved, err := sys.Approve(ctx, req.ID, "alice", "looks safe")
	if err != nil {
		t.Fatalf("Approve() error = %v", err)
	}
	if resolved.Status != domain.ApprovalApproved || resolved.Actor != "alice" {
		t.Fatalf("unexpected resolution %+v", resolved)
	}

	if _, err := sys.Deny(ctx, req.ID, "bob", "too risky"); !errors.Is(err, domain.ErrAlreadyResolved) {
		t.Fatalf("second resolution error = %v, want ErrAlreadyResolved", err)
	}
}

func TestDenyRecordsActorAndNote(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	sys, repo := newSystem(clock)
	ctx := context.Background()

	req, _ := sys.Request(ctx, "wi-1", "create pr", domain.TierHigh, nil)
	if _, err := sys.Deny(ctx, req.ID, "bob", "touches auth"); err != nil {
		t.Fatalf("Deny() error = %v", err)
	}

	stored, _ := repo.GetApproval(ctx, req.ID)
	if stored.Status != domain.ApprovalDenied || stored.Note != "touches auth" {
		t.Fatalf("stored request = %+v", stored)
	}
}

func TestExpireOverdueSweep(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	sys, _ := newSystem(clock)
	ctx := context.Background()

	first, _ := sys.Request(ctx, "wi-1", "op1", domain.TierHigh, nil)
	clock.advance(30 * time.Minute)
	second, _ := sys.Request(ctx, "wi-2", "op2", domain.TierHigh, nil)
	clock.advance(45 * time.Minute) // first is 75m old, second 45m

	expired, err := sys.ExpireOverdue(ctx)
	if err != nil {
		t.Fatalf("ExpireOverdue() error = %v", err)
	}
	if len(expired) != 1 || expired[0].ID != first.ID {
		t.Fatalf("expected only the first request expired, got %+v", expired)
	}

	polled, _ := sys.Poll(ctx, second.ID)
	if polled.Status != domain.ApprovalPending {
		t.Fatalf("second request should still be pending, got %s", polled.Status)
	}
}

func TestUnknownIDReturnsNotFound(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	sys, _ := newSystem(clock)

	if _, err := sys.Poll(context.Background(), "missing"); !errors.Is(err, domain.ErrApprovalNotFound) {
		t.Fatalf("error = %v, want ErrApprovalNotFound", err)
	}
}
