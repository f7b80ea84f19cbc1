package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/doeshing/overseer/internal/domain"
	"github.com/doeshing/overseer/internal/infrastructure/approval"
	"github.com/doeshing/overseer/internal/infrastructure/cache"
	"github.com/doeshing/overseer/internal/infrastructure/cost"
	"github.com/doeshing/overseer/internal/infrastructure/guard"
	"github.com/doeshing/overseer/internal/infrastructure/ratelimit"
	"github.com/doeshing/overseer/internal/infrastructure/rollback"
	"github.com/doeshing/overseer/internal/pkg/logger"
	"github.com/doeshing/overseer/internal/ports"
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

type memItems struct {
	mu    sync.Mutex
	items map[string]domain.WorkItem
}

func newMemItems() *memItems {
	return &memItems{items: make(map[string]domain.WorkItem)}
}

func (r *memItems) SaveItem(_ context.Context, item *domain.WorkItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *item
	copied.History = append([]domain.Transition(nil), item.History...)
	r.items[item.ID] = copied
	return nil
}

func (r *memItems) GetItem(_ context.Context, id string) (*domain.WorkItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	item, ok := r.items[id]
	if !ok {
		return nil, nil
	}
	copied := item
	copied.History = append([]domain.Transition(nil), item.History...)
	return &copied, nil
}

func (r *memItems) ListItems(_ context.Context, state domain.ItemState) ([]*domain.WorkItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.WorkItem
	for _, item := range r.items {
		if state != "" && item.State != state {
			continue
		}
		copied := item
		copied.History = append([]domain.Transition(nil), item.History...)
		out = append(out, &copied)
	}
	return out, nil
}

type memApprovals struct {
	mu   sync.Mutex
	reqs map[string]domain.ApprovalRequest
}

func newMemApprovals() *memApprovals {
	return &memApprovals{reqs: make(map[string]domain.ApprovalRequest)}
}

func (r *memApprovals) SaveApproval(_ context.Context, req *domain.ApprovalRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reqs[req.ID] = *req
	return nil
}

func (r *memApprovals) GetApproval(_ context.Context, id string) (*domain.ApprovalRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.reqs[id]
	if !ok {
		return nil, nil
	}
	copied := req
	return &copied, nil
}

func (r *memApprovals) ListApprovals(_ context.Context, status domain.ApprovalStatus) ([]*domain.ApprovalRequest, error) {
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

type memPoints struct {
	mu     sync.Mutex
	points map[string]domain.RollbackPoint
}

func newMemPoints() *memPoints {
	return &memPoints{points: make(map[string]domain.RollbackPoint)}
}

func (r *memPoints) SavePoint(_ context.Context, p domain.RollbackPoint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.points[p.ID] = p
	return nil
}

func (r *memPoints) GetPoint(_ context.Context, id string) (*domain.RollbackPoint, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.points[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (r *memPoints) ListPoints(_ context.Context) ([]domain.RollbackPoint, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.RollbackPoint
	for _, p := range r.points {
		out = append(out, p)
	}
	return out, nil
}

func (r *memPoints) DeletePoint(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.points, id)
	return nil
}

type stubCheckpoints struct {
	mu  sync.Mutex
	seq int
}

func (s *stubCheckpoints) Checkpoint(context.Context, string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	return "ref-" + strings.Repeat("x", s.seq), nil
}

func (s *stubCheckpoints) Restore(context.Context, string) error { return nil }

func (s *stubCheckpoints) Exists(context.Context, string) (bool, error) { return true, nil }

type stubAnalyzer struct {
	mu         sync.Mutex
	confidence float64
	summary    string
	calls      int
}

func (a *stubAnalyzer) Analyze(context.Context, *domain.WorkItem) (float64, string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	return a.confidence, a.summary, nil
}

type stubImplementer struct {
	mu     sync.Mutex
	change domain.ChangeSet
	err    error
	calls  int
}

func (i *stubImplementer) Implement(context.Context, *domain.WorkItem) (domain.ChangeSet, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.calls++
	return i.change, i.err
}

func (i *stubImplementer) callCount() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.calls
}

type stubVerifier struct {
	mu      sync.Mutex
	outcome []bool // consumed one per Verify call, last value repeats
	diags   string
	calls   int
}

func (v *stubVerifier) Verify(context.Context, *domain.WorkItem) (bool, string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.calls++
	passed := true
	if len(v.outcome) > 0 {
		passed = v.outcome[0]
		if len(v.outcome) > 1 {
			v.outcome = v.outcome[1:]
		}
	}
	return passed, v.diags, nil
}

type fixture struct {
	engine    *Engine
	repo      *memItems
	approvals *approval.System
	tracker   *cost.Tracker
	limiter   *ratelimit.Limiter
	cache     *cache.Manager
	clock     *fakeClock
}

type fixtureOpts struct {
	maxConcurrent int
	maxRetries    int
	minConfidence float64
	analyzer      ports.Analyzer
	implementer   ports.Implementer
	verifier      ports.Verifier
	thresholds    domain.RiskThresholds
	guards        []guard.Guard
	rateLimits    map[string]domain.RateLimitConfig
}

func newFixture(t *testing.T, opts fixtureOpts) *fixture {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	log := logger.NewStd(false)

	if opts.maxConcurrent == 0 {
		opts.maxConcurrent = 4
	}
	if opts.maxRetries == 0 {
		opts.maxRetries = 2
	}
	if opts.minConfidence == 0 {
		opts.minConfidence = 0.6
	}
	if opts.analyzer == nil {
		opts.analyzer = &stubAnalyzer{confidence: 0.9, summary: "actionable"}
	}
	if opts.implementer == nil {
		opts.implementer = &stubImplementer{change: domain.ChangeSet{Provider: "test", EstimatedCost: 0.01}}
	}
	if opts.verifier == nil {
		opts.verifier = &stubVerifier{}
	}
	if opts.thresholds == (domain.RiskThresholds{}) {
		opts.thresholds = domain.DefaultRiskThresholds()
	}

	if opts.rateLimits == nil {
		opts.rateLimits = map[string]domain.RateLimitConfig{}
	}

	limiter := ratelimit.New(opts.rateLimits, clock, log)
	tracker := cost.New(domain.CostLimitSettings{
		Providers: map[string]domain.CostLimitConfig{
			"test": {DailyLimit: 100, WarningThreshold: 0.9},
		},
	}, clock, nil, log)
	pipeline := guard.NewPipeline(limiter, tracker, opts.guards, opts.thresholds, nil, log)

	approvals := approval.New(domain.ApprovalSettings{Timeout: domain.Duration(time.Hour), AutoApproveLowRisk: true},
		newMemApprovals(), nil, clock, log)
	rb := rollback.New(domain.RollbackSettings{}, newMemPoints(), &stubCheckpoints{}, clock, log)
	cacheMgr := cache.New(nil, clock, log)

	repo := newMemItems()
	settings := domain.EngineSettings{
		MaxConcurrent: opts.maxConcurrent,
		MaxRetries:    opts.maxRetries,
		MinConfidence: opts.minConfidence,
	}
	eng := New(settings, repo, pipeline, approvals, rb, tracker, cacheMgr,
		opts.analyzer, opts.implementer, opts.verifier, nil, clock, log)
	return &fixture{
		engine:    eng,
		repo:      repo,
		approvals: approvals,
		tracker:   tracker,
		limiter:   limiter,
		cache:     cacheMgr,
		clock:     clock,
	}
}

func states(item *domain.WorkItem) []domain.ItemState {
	out := []domain.ItemState{}
	for _, t := range item.History {
		out = append(out, t.To)
	}
	return out
}

func TestIllegalTransitionLeavesStateUnchanged(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	ctx := context.Background()

	item, err := f.engine.Submit(ctx, domain.KindIssue, "repo#1", nil)
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	err = f.engine.Transition(ctx, item, domain.StateTesting, "skip ahead")
	if !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("error = %v, want ErrInvalidTransition", err)
	}
	got, _ := f.engine.Get(ctx, item.ID)
	if got.State != domain.StatePending {
		t.Fatalf("state = %s, want pending untouched", got.State)
	}
	if len(got.History) != 0 {
		t.Fatalf("history should be empty after a rejected edge")
	}
}

func TestLowConfidenceRejectsAndStaysTerminal(t *testing.T) {
	f := newFixture(t, fixtureOpts{
		analyzer:      &stubAnalyzer{confidence: 0.4, summary: "vague report"},
		minConfidence: 0.6,
	})
	ctx := context.Background()

	item, _ := f.engine.Submit(ctx, domain.KindIssue, "repo#1", nil)
	if err := f.engine.Step(ctx, item.ID); err != nil { // pending -> analyzing
		t.Fatalf("Step() error = %v", err)
	}
	if err := f.engine.Step(ctx, item.ID); err != nil { // analyzing -> rejected
		t.Fatalf("Step() error = %v", err)
	}

	got, _ := f.engine.Get(ctx, item.ID)
	if got.State != domain.StateRejected {
		t.Fatalf("state = %s, want rejected", got.State)
	}
	if !strings.Contains(got.LastError, "0.40") {
		t.Fatalf("last error should carry the confidence, got %q", got.LastError)
	}

	// rejected is terminal: any further transition is an illegal edge.
	err := f.engine.Transition(ctx, got, domain.StateAnalyzing, "revive")
	if !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("error = %v, want ErrInvalidTransition", err)
	}
}

func TestHappyPathRunsToCompletion(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	ctx := context.Background()

	item, _ := f.engine.Submit(ctx, domain.KindIssue, "repo#1", nil)
	if err := f.engine.Run(ctx); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	got, _ := f.engine.Get(ctx, item.ID)
	if got.State != domain.StateCompleted {
		t.Fatalf("state = %s, want completed; history %v", got.State, states(got))
	}

	// Every consecutive history pair is a legal edge.
	for i, tr := range got.History {
		if tr.From == tr.To {
			continue
		}
		if !domain.CanTransition(tr.From, tr.To) {
			t.Fatalf("history[%d] %s -> %s is not a legal edge", i, tr.From, tr.To)
		}
	}
}

func TestRetryLoopBoundedByMaxRetries(t *testing.T) {
	verifier := &stubVerifier{outcome: []bool{false}, diags: "3 tests failing"}
	f := newFixture(t, fixtureOpts{maxRetries: 2, verifier: verifier})
	ctx := context.Background()

	item, _ := f.engine.Submit(ctx, domain.KindIssue, "repo#1", nil)
	if err := f.engine.Run(ctx); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	got, _ := f.engine.Get(ctx, item.ID)
	if got.State != domain.StateFailed {
		t.Fatalf("state = %s, want failed; history %v", got.State, states(got))
	}
	if got.RetryCount != 2 {
		t.Fatalf("retry count = %d, want 2", got.RetryCount)
	}
	if !strings.Contains(got.LastError, "3 tests failing") {
		t.Fatalf("diagnostics should reach the terminal error, got %q", got.LastError)
	}
}

func TestElevatedRiskParksOnApprovalAndResumes(t *testing.T) {
	f := newFixture(t, fixtureOpts{
		guards: []guard.Guard{&guard.ComplexityGuard{Limits: domain.ComplexitySettings{
			MaxFiles: 50, MaxLines: 10000, MaxComplexity: 10,
		}}},
		implementer: &stubImplementer{change: domain.ChangeSet{
			Provider:      "test",
			EstimatedCost: 0.01,
			Complexity:    8, // contributes 4.0 risk, MEDIUM tier
		}},
	})
	ctx := context.Background()

	item, _ := f.engine.Submit(ctx, domain.KindIssue, "repo#1", nil)
	if err := f.engine.Run(ctx); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	parked, _ := f.engine.Get(ctx, item.ID)
	if parked.State != domain.StatePlanning || !parked.AwaitingApproval() {
		t.Fatalf("item should be parked in planning awaiting approval, got %s", parked.State)
	}

	if _, err := f.approvals.Approve(ctx, parked.ApprovalID, "alice", "go ahead"); err != nil {
		t.Fatalf("Approve() error = %v", err)
	}
	if err := f.engine.Run(ctx); err != nil {
		t.Fatalf("second Run() error = %v", err)
	}

	done, _ := f.engine.Get(ctx, item.ID)
	if done.State != domain.StateCompleted {
		t.Fatalf("state = %s, want completed after approval; history %v", done.State, states(done))
	}
}

func TestApprovedCommitRecordsSpend(t *testing.T) {
	f := newFixture(t, fixtureOpts{
		guards: []guard.Guard{&guard.ComplexityGuard{Limits: domain.ComplexitySettings{
			MaxFiles: 50, MaxLines: 10000, MaxComplexity: 10,
		}}},
		implementer: &stubImplementer{change: domain.ChangeSet{
			Provider:      "test",
			EstimatedCost: 1.0,
			Complexity:    8,
		}},
	})
	ctx := context.Background()

	item, _ := f.engine.Submit(ctx, domain.KindIssue, "repo#1", nil)
	if err := f.engine.Run(ctx); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	parked, _ := f.engine.Get(ctx, item.ID)
	if !parked.AwaitingApproval() {
		t.Fatalf("item should be parked, state = %s", parked.State)
	}
	if parked.PendingProvider != "test" || parked.PendingCost != 1.0 {
		t.Fatalf("park should carry the spend projection, got %q/%v",
			parked.PendingProvider, parked.PendingCost)
	}
	if got := spentOn(f.tracker, "test"); got != 0 {
		t.Fatalf("spend before approval = %v, want 0", got)
	}

	if _, err := f.approvals.Approve(ctx, parked.ApprovalID, "alice", "go ahead"); err != nil {
		t.Fatalf("Approve() error = %v", err)
	}
	if err := f.engine.Run(ctx); err != nil {
		t.Fatalf("second Run() error = %v", err)
	}

	done, _ := f.engine.Get(ctx, item.ID)
	if done.State != domain.StateCompleted {
		t.Fatalf("state = %s, want completed; history %v", done.State, states(done))
	}
	if done.PendingProvider != "" || done.PendingCost != 0 {
		t.Fatalf("park fields should clear after resume, got %q/%v",
			done.PendingProvider, done.PendingCost)
	}
	// The approved commit hits the ledger exactly like a LOW-tier commit.
	if got := spentOn(f.tracker, "test"); got != 1.0 {
		t.Fatalf("recorded spend = %v, want 1.0", got)
	}
}

func spentOn(tracker *cost.Tracker, provider string) float64 {
	for _, snap := range tracker.Snapshot() {
		if snap.Entry.Provider == provider {
			return snap.Entry.TotalSpent
		}
	}
	return 0
}

func TestDeniedApprovalFailsItem(t *testing.T) {
	f := newFixture(t, fixtureOpts{
		guards: []guard.Guard{&guard.ComplexityGuard{Limits: domain.ComplexitySettings{
			MaxFiles: 50, MaxLines: 10000, MaxComplexity: 10,
		}}},
		implementer: &stubImplementer{change: domain.ChangeSet{
			Provider: "test", EstimatedCost: 0.01, Complexity: 8,
		}},
	})
	ctx := context.Background()

	item, _ := f.engine.Submit(ctx, domain.KindIssue, "repo#1", nil)
	if err := f.engine.Run(ctx); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	parked, _ := f.engine.Get(ctx, item.ID)
	if _, err := f.approvals.Deny(ctx, parked.ApprovalID, "bob", "not now"); err != nil {
		t.Fatalf("Deny() error = %v", err)
	}
	if err := f.engine.Run(ctx); err != nil {
		t.Fatalf("second Run() error = %v", err)
	}

	got, _ := f.engine.Get(ctx, item.ID)
	if got.State != domain.StateFailed {
		t.Fatalf("state = %s, want failed after denial", got.State)
	}
	if !strings.Contains(got.LastError, "denied by bob") {
		t.Fatalf("denial reason should reach the error field, got %q", got.LastError)
	}
}

func TestRateLimitHoldReusesCachedImplementation(t *testing.T) {
	implementer := &stubImplementer{change: domain.ChangeSet{Provider: "test", EstimatedCost: 0.01}}
	f := newFixture(t, fixtureOpts{
		implementer: implementer,
		rateLimits: map[string]domain.RateLimitConfig{
			"test": {RequestsPerWindow: 1, WindowSize: domain.Duration(100 * time.Second)},
		},
	})
	ctx := context.Background()

	// Drain the bucket so the first gate evaluation is held.
	if d := f.limiter.CheckAndConsume("test", 1); !d.Allowed {
		t.Fatal("drain call should be admitted")
	}

	item, _ := f.engine.Submit(ctx, domain.KindIssue, "repo#1", nil)
	if err := f.engine.Run(ctx); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	held, _ := f.engine.Get(ctx, item.ID)
	if held.State != domain.StatePlanning {
		t.Fatalf("state = %s, want planning held by the rate limit", held.State)
	}
	if got := implementer.callCount(); got != 1 {
		t.Fatalf("implementer calls = %d, want 1", got)
	}

	// A retry during the hold serves the change from the cache.
	if err := f.engine.Run(ctx); err != nil {
		t.Fatalf("held Run() error = %v", err)
	}
	if got := implementer.callCount(); got != 1 {
		t.Fatalf("implementer calls after held retry = %d, want 1", got)
	}

	f.clock.advance(5 * time.Minute)
	if err := f.engine.Run(ctx); err != nil {
		t.Fatalf("Run() after refill error = %v", err)
	}

	done, _ := f.engine.Get(ctx, item.ID)
	if done.State != domain.StateCompleted {
		t.Fatalf("state = %s, want completed; history %v", done.State, states(done))
	}
	if got := implementer.callCount(); got != 1 {
		t.Fatalf("implementer calls after completion = %d, want 1", got)
	}

	holds := 0
	for _, tr := range done.History {
		if tr.From == domain.StatePlanning && tr.To == domain.StatePlanning {
			holds++
		}
	}
	if holds == 0 {
		t.Fatal("held attempts should leave same-state audit records")
	}
}

func TestCorruptCacheEntryRecoversAndClears(t *testing.T) {
	analyzer := &stubAnalyzer{confidence: 0.9, summary: "actionable"}
	f := newFixture(t, fixtureOpts{analyzer: analyzer})
	ctx := context.Background()

	item, _ := f.engine.Submit(ctx, domain.KindIssue, "repo#1", nil)
	if err := f.engine.Step(ctx, item.ID); err != nil { // pending -> analyzing
		t.Fatalf("Step() error = %v", err)
	}

	f.cache.Set(cacheAnalysis, item.ID, "garbled", 0)
	f.cache.Set(cacheImplementation, "bystander", 7, 0)

	if err := f.engine.Step(ctx, item.ID); err != nil { // analyzing -> planning
		t.Fatalf("Step() error = %v", err)
	}

	got, _ := f.engine.Get(ctx, item.ID)
	if got.State != domain.StatePlanning {
		t.Fatalf("state = %s, want planning despite the corrupt entry", got.State)
	}
	if analyzer.calls != 1 {
		t.Fatalf("analyzer calls = %d, want 1 after falling through the corrupt entry", analyzer.calls)
	}
	if _, ok := f.cache.Get(cacheImplementation, "bystander"); ok {
		t.Fatal("corruption recovery should clear the whole cache")
	}
}

func TestTerminalStateDropsCachedEntries(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	ctx := context.Background()

	item, _ := f.engine.Submit(ctx, domain.KindIssue, "repo#1", nil)
	if err := f.engine.Run(ctx); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	done, _ := f.engine.Get(ctx, item.ID)
	if done.State != domain.StateCompleted {
		t.Fatalf("state = %s, want completed", done.State)
	}
	if _, ok := f.cache.Get(cacheAnalysis, item.ID); ok {
		t.Fatal("analysis entry should be invalidated with the item's tag")
	}
	if _, ok := f.cache.Get(cacheImplementation, item.ID); ok {
		t.Fatal("implementation entry should be invalidated with the item's tag")
	}
}

func TestClaimHonorsConcurrencyCeiling(t *testing.T) {
	f := newFixture(t, fixtureOpts{maxConcurrent: 2})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := f.engine.Submit(ctx, domain.KindIssue, "repo#1", nil); err != nil {
			t.Fatalf("Submit() error = %v", err)
		}
	}

	claimed, err := f.engine.Claim(ctx)
	if err != nil {
		t.Fatalf("Claim() error = %v", err)
	}
	if len(claimed) != 2 {
		t.Fatalf("claimed = %d, want 2", len(claimed))
	}

	if _, err := f.engine.Claim(ctx); !errors.Is(err, domain.ErrConcurrencyCeiling) {
		t.Fatalf("error = %v, want ErrConcurrencyCeiling", err)
	}

	pending, _ := f.engine.List(ctx, domain.StatePending)
	if len(pending) != 3 {
		t.Fatalf("pending = %d, want 3 held back", len(pending))
	}
}

func TestStepUnknownItem(t *testing.T) {
	f := newFixture(t, fixtureOpts{})

	err := f.engine.Step(context.Background(), "missing")
	if !errors.Is(err, domain.ErrItemNotFound) {
		t.Fatalf("error = %v, want ErrItemNotFound", err)
	}
}
