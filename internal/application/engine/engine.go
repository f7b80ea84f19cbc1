// Package engine drives work items through their lifecycle. Every state
// change passes through one transition function that validates the edge,
// appends audit history, and persists the item. Risk-bearing transitions
// are admitted by the safety gate and, when the risk tier is elevated,
// parked on a human approval.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/doeshing/overseer/internal/domain"
	"github.com/doeshing/overseer/internal/infrastructure/approval"
	"github.com/doeshing/overseer/internal/infrastructure/cache"
	"github.com/doeshing/overseer/internal/infrastructure/cost"
	"github.com/doeshing/overseer/internal/infrastructure/guard"
	"github.com/doeshing/overseer/internal/infrastructure/rollback"
	"github.com/doeshing/overseer/internal/pkg/worker"
	"github.com/doeshing/overseer/internal/ports"
)

const engineActor = "engine"

// Cache namespaces for collaborator results. Entries are tagged with the
// work item id and dropped when the item reaches a terminal state.
const (
	cacheAnalysis       = "analysis"
	cacheImplementation = "implementation"
	cacheVerification   = "verification"
)

// Engine owns the state machine. Per-item locks serialize mutation of a
// single item while distinct items proceed concurrently.
type Engine struct {
	settings    domain.EngineSettings
	repo        ports.WorkItemRepository
	gate        *guard.Pipeline
	approvals   *approval.System
	rollback    *rollback.Manager
	tracker     *cost.Tracker
	cache       *cache.Manager
	analyzer    ports.Analyzer
	implementer ports.Implementer
	verifier    ports.Verifier
	notifier    ports.Notifier
	clock       ports.Clock
	log         ports.Logger

	locks sync.Map // item id -> *sync.Mutex
}

func New(
	settings domain.EngineSettings,
	repo ports.WorkItemRepository,
	gate *guard.Pipeline,
	approvals *approval.System,
	rb *rollback.Manager,
	tracker *cost.Tracker,
	cacheMgr *cache.Manager,
	analyzer ports.Analyzer,
	implementer ports.Implementer,
	verifier ports.Verifier,
	notifier ports.Notifier,
	clock ports.Clock,
	log ports.Logger,
) *Engine {
	return &Engine{
		settings:    settings,
		repo:        repo,
		gate:        gate,
		approvals:   approvals,
		rollback:    rb,
		tracker:     tracker,
		cache:       cacheMgr,
		analyzer:    analyzer,
		implementer: implementer,
		verifier:    verifier,
		notifier:    notifier,
		clock:       clock,
		log:         log,
	}
}

// Submit registers a new work item in the pending state.
func (e *Engine) Submit(ctx context.Context, kind domain.ItemKind, externalRef string, metadata map[string]string) (*domain.WorkItem, error) {
	now := e.clock.Now()
	item := &domain.WorkItem{
		ID:          uuid.New().String(),
		Kind:        kind,
		ExternalRef: externalRef,
		State:       domain.StatePending,
		Metadata:    metadata,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := e.repo.SaveItem(ctx, item); err != nil {
		return nil, fmt.Errorf("save work item: %w", err)
	}
	e.log.Info("work item submitted", map[string]interface{}{
		"id":   item.ID,
		"kind": string(kind),
		"ref":  externalRef,
	})
	return item, nil
}

// Transition moves item from its current state to target. An illegal edge
// returns ErrInvalidTransition and leaves the item untouched.
func (e *Engine) Transition(ctx context.Context, item *domain.WorkItem, target domain.ItemState, reason string) error {
	if !domain.CanTransition(item.State, target) {
		return domain.InvalidTransitionError(item.State, target)
	}
	now := e.clock.Now()
	item.History = append(item.History, domain.Transition{
		From:      item.State,
		To:        target,
		Timestamp: now,
		Reason:    reason,
		Actor:     engineActor,
	})
	item.State = target
	item.UpdatedAt = now
	if target == domain.StateFailed || target == domain.StateRejected {
		item.LastError = reason
	}
	if err := e.repo.SaveItem(ctx, item); err != nil {
		return fmt.Errorf("persist transition: %w", err)
	}
	if e.cache != nil && domain.IsTerminal(target) {
		e.cache.InvalidateByTag(item.ID)
	}

	e.log.Info("state transition", map[string]interface{}{
		"id":     item.ID,
		"from":   string(item.History[len(item.History)-1].From),
		"to":     string(target),
		"reason": reason,
	})
	switch target {
	case domain.StateCompleted:
		e.notify(ctx, domain.EventItemCompleted, item)
	case domain.StateFailed:
		e.notify(ctx, domain.EventItemFailed, item)
	}
	return nil
}

// Step loads one item and advances it a single lifecycle step, holding
// that item's lock for the duration.
func (e *Engine) Step(ctx context.Context, id string) error {
	mu := e.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	item, err := e.repo.GetItem(ctx, id)
	if err != nil {
		return err
	}
	if item == nil {
		return fmt.Errorf("%w: %s", domain.ErrItemNotFound, id)
	}
	if domain.IsTerminal(item.State) {
		return nil
	}
	if item.AwaitingApproval() {
		return e.resume(ctx, item)
	}
	return e.advance(ctx, item)
}

// advance runs the step for the item's current state.
func (e *Engine) advance(ctx context.Context, item *domain.WorkItem) error {
	switch item.State {
	case domain.StatePending:
		return e.Transition(ctx, item, domain.StateAnalyzing, "picked up for analysis")

	case domain.StateAnalyzing:
		confidence, summary, ok := e.cachedAnalysis(item.ID)
		if !ok {
			var err error
			confidence, summary, err = e.analyzer.Analyze(ctx, item)
			if err != nil {
				return e.Transition(ctx, item, domain.StateFailed, fmt.Sprintf("analysis failed: %v", err))
			}
			e.cacheSet(cacheAnalysis, item.ID, analysisResult{Confidence: confidence, Summary: summary}, item.ID)
		}
		if confidence < e.settings.MinConfidence {
			reason := fmt.Sprintf("actionability %.2f below threshold %.2f: %s", confidence, e.settings.MinConfidence, summary)
			return e.Transition(ctx, item, domain.StateRejected, reason)
		}
		return e.Transition(ctx, item, domain.StatePlanning, summary)

	case domain.StatePlanning:
		// A rate-limit hold retries this step; the cached change keeps
		// the retry from repeating the implementation call.
		change, ok := e.cachedChange(item.ID)
		if !ok {
			var err error
			change, err = e.implementer.Implement(ctx, item)
			if err != nil {
				return e.Transition(ctx, item, domain.StateFailed, fmt.Sprintf("implementation failed: %v", err))
			}
			change.WorkItemID = item.ID
			if change.Operation == "" {
				change.Operation = "apply implementation"
			}
			e.cacheSet(cacheImplementation, item.ID, change, item.ID)
		}
		return e.gateInto(ctx, item, domain.StateImplementing, change)

	case domain.StateImplementing:
		return e.Transition(ctx, item, domain.StateTesting, "implementation applied")

	case domain.StateTesting:
		key := fmt.Sprintf("%s#%d", item.ID, item.RetryCount)
		passed, diagnostics, ok := e.cachedVerification(key)
		if !ok {
			var err error
			passed, diagnostics, err = e.verifier.Verify(ctx, item)
			if err != nil {
				return e.Transition(ctx, item, domain.StateFailed, fmt.Sprintf("verification error: %v", err))
			}
			e.cacheSet(cacheVerification, key, verifyResult{Passed: passed, Diagnostics: diagnostics}, item.ID)
		}
		if passed {
			return e.gateInto(ctx, item, domain.StateCreatingPR, domain.ChangeSet{
				WorkItemID: item.ID,
				Operation:  "open pull request",
			})
		}
		if item.RetryCount >= e.settings.MaxRetries {
			reason := fmt.Sprintf("tests still failing after %d fix attempts: %s", item.RetryCount, diagnostics)
			return e.Transition(ctx, item, domain.StateFailed, reason)
		}
		return e.Transition(ctx, item, domain.StateAnalyzingFailures, diagnostics)

	case domain.StateAnalyzingFailures:
		return e.Transition(ctx, item, domain.StateFixing, "failure analysis complete")

	case domain.StateFixing:
		item.RetryCount++
		return e.Transition(ctx, item, domain.StateTesting, fmt.Sprintf("fix attempt %d applied", item.RetryCount))

	case domain.StateCreatingPR:
		return e.Transition(ctx, item, domain.StatePRCreated, "pull request opened")

	case domain.StatePRCreated:
		return e.gateInto(ctx, item, domain.StateCompleted, domain.ChangeSet{
			WorkItemID: item.ID,
			Operation:  "merge pull request",
		})

	default:
		return domain.InvalidTransitionError(item.State, item.State)
	}
}

// gateInto admits a risk-bearing transition through the safety gate.
// A rate-limit block leaves state unchanged for a later retry; budget and
// guard blocks fail the item; an elevated tier parks it on an approval.
func (e *Engine) gateInto(ctx context.Context, item *domain.WorkItem, target domain.ItemState, change domain.ChangeSet) error {
	decision := e.gate.Evaluate(ctx, change)
	if !decision.Allowed {
		if decision.RetryAfter > 0 {
			e.recordHold(ctx, item, decision.Reason)
			return fmt.Errorf("%w: retry after %.1fs", domain.ErrRateLimitExceeded, decision.RetryAfter)
		}
		return e.Transition(ctx, item, domain.StateFailed, decision.Reason)
	}

	if decision.Tier != domain.TierLow {
		req, err := e.approvals.Request(ctx, item.ID, change.Operation, decision.Tier, map[string]string{
			"target": string(target),
			"score":  fmt.Sprintf("%.2f", decision.Score),
		})
		if err != nil {
			return fmt.Errorf("request approval: %w", err)
		}
		if req.Status != domain.ApprovalApproved {
			item.ApprovalID = req.ID
			item.PendingTarget = target
			item.PendingProvider = change.Provider
			item.PendingCost = change.EstimatedCost
			item.UpdatedAt = e.clock.Now()
			if err := e.repo.SaveItem(ctx, item); err != nil {
				return fmt.Errorf("park on approval: %w", err)
			}
			e.log.Info("work item parked on approval", map[string]interface{}{
				"id":       item.ID,
				"approval": req.ID,
				"tier":     string(decision.Tier),
			})
			return nil
		}
	}
	return e.commit(ctx, item, target, change, fmt.Sprintf("gate passed at tier %s", decision.Tier))
}

// commit finalizes an admitted transition: checkpoint first, then the
// transition itself, then the spend record.
func (e *Engine) commit(ctx context.Context, item *domain.WorkItem, target domain.ItemState, change domain.ChangeSet, reason string) error {
	if e.rollback != nil && target != domain.StateCompleted {
		if _, err := e.rollback.CreatePoint(ctx, item.ID, fmt.Sprintf("before %s", change.Operation)); err != nil {
			return e.Transition(ctx, item, domain.StateFailed, fmt.Sprintf("checkpoint failed: %v", err))
		}
	}
	if err := e.Transition(ctx, item, target, reason); err != nil {
		return err
	}
	if change.EstimatedCost > 0 {
		if err := e.tracker.RecordSpend(ctx, change.Provider, 0, change.EstimatedCost); err != nil {
			e.log.Error("spend record failed", err, map[string]interface{}{"id": item.ID})
		}
	}
	return nil
}

// resume polls the approval an item is parked on and either commits the
// pending target or fails the item.
func (e *Engine) resume(ctx context.Context, item *domain.WorkItem) error {
	req, err := e.approvals.Poll(ctx, item.ApprovalID)
	if err != nil {
		if errors.Is(err, domain.ErrApprovalNotFound) {
			return e.Transition(ctx, item, domain.StateFailed, "approval record lost")
		}
		return err
	}

	switch req.Status {
	case domain.ApprovalPending:
		return nil

	case domain.ApprovalApproved:
		target := item.PendingTarget
		change := domain.ChangeSet{
			WorkItemID:    item.ID,
			Operation:     req.Operation,
			Provider:      item.PendingProvider,
			EstimatedCost: item.PendingCost,
		}
		item.ClearPark()
		reason := fmt.Sprintf("approved by %s", req.Actor)
		return e.commit(ctx, item, target, change, reason)

	case domain.ApprovalDenied:
		item.ClearPark()
		reason := fmt.Sprintf("%v: denied by %s: %s", domain.ErrApprovalDenied, req.Actor, req.Note)
		return e.Transition(ctx, item, domain.StateFailed, reason)

	case domain.ApprovalExpired:
		item.ClearPark()
		reason := fmt.Sprintf("%v: no decision within the window", domain.ErrApprovalExpired)
		return e.Transition(ctx, item, domain.StateFailed, reason)
	}
	return nil
}

// Claim admits pending items up to the concurrency ceiling, moving each
// into analysis. Items beyond the ceiling stay pending.
func (e *Engine) Claim(ctx context.Context) ([]*domain.WorkItem, error) {
	inFlight, err := e.countInFlight(ctx)
	if err != nil {
		return nil, err
	}
	capacity := e.settings.MaxConcurrent - inFlight
	if capacity <= 0 {
		return nil, fmt.Errorf("%w: %d items in flight", domain.ErrConcurrencyCeiling, inFlight)
	}

	pending, err := e.repo.ListItems(ctx, domain.StatePending)
	if err != nil {
		return nil, err
	}

	var claimed []*domain.WorkItem
	for _, item := range pending {
		if len(claimed) >= capacity {
			break
		}
		mu := e.lockFor(item.ID)
		mu.Lock()
		err := e.Transition(ctx, item, domain.StateAnalyzing, "picked up for analysis")
		mu.Unlock()
		if err != nil {
			return claimed, err
		}
		claimed = append(claimed, item)
	}
	return claimed, nil
}

// Run drives every active item until nothing can make further progress:
// all items are terminal, parked on an approval, or held by a rate limit.
func (e *Engine) Run(ctx context.Context) error {
	pool := worker.NewPool[struct{}](e.settings.MaxConcurrent)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := e.Claim(ctx); err != nil && !errors.Is(err, domain.ErrConcurrencyCeiling) {
			return err
		}

		ids, err := e.activeIDs(ctx)
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}

		var progressed atomic.Bool
		results := pool.Process(ctx, ids, func(ctx context.Context, id string) (struct{}, error) {
			before, err := e.repo.GetItem(ctx, id)
			if err != nil || before == nil {
				return struct{}{}, err
			}
			stepErr := e.Step(ctx, id)
			after, err := e.repo.GetItem(ctx, id)
			if err == nil && after != nil && (after.State != before.State || after.AwaitingApproval() != before.AwaitingApproval()) {
				progressed.Store(true)
			}
			return struct{}{}, stepErr
		})
		for _, r := range results {
			if r.Err != nil && !errors.Is(r.Err, domain.ErrRateLimitExceeded) {
				e.log.Error("work item step failed", r.Err, map[string]interface{}{"id": ids[r.Index]})
			}
		}
		if !progressed.Load() {
			return nil
		}
	}
}

// Get returns one work item.
func (e *Engine) Get(ctx context.Context, id string) (*domain.WorkItem, error) {
	item, err := e.repo.GetItem(ctx, id)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrItemNotFound, id)
	}
	return item, nil
}

// List returns items in the given state, or all items when state is empty.
func (e *Engine) List(ctx context.Context, state domain.ItemState) ([]*domain.WorkItem, error) {
	return e.repo.ListItems(ctx, state)
}

// activeIDs are the non-terminal items already past pending.
func (e *Engine) activeIDs(ctx context.Context) ([]string, error) {
	items, err := e.repo.ListItems(ctx, "")
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, item := range items {
		if domain.IsTerminal(item.State) || item.State == domain.StatePending {
			continue
		}
		ids = append(ids, item.ID)
	}
	return ids, nil
}

func (e *Engine) countInFlight(ctx context.Context) (int, error) {
	ids, err := e.activeIDs(ctx)
	if err != nil {
		return 0, err
	}
	return len(ids), nil
}

// recordHold appends a same-state audit record for a transient hold.
func (e *Engine) recordHold(ctx context.Context, item *domain.WorkItem, reason string) {
	now := e.clock.Now()
	item.History = append(item.History, domain.Transition{
		From:      item.State,
		To:        item.State,
		Timestamp: now,
		Reason:    reason,
		Actor:     engineActor,
	})
	item.UpdatedAt = now
	if err := e.repo.SaveItem(ctx, item); err != nil {
		e.log.Error("persist hold record", err, map[string]interface{}{"id": item.ID})
	}
}

type analysisResult struct {
	Confidence float64
	Summary    string
}

type verifyResult struct {
	Passed      bool
	Diagnostics string
}

func (e *Engine) cacheSet(ns, key string, value any, tag string) {
	if e.cache == nil {
		return
	}
	e.cache.Set(ns, key, value, 0, tag)
}

func (e *Engine) cachedAnalysis(id string) (float64, string, bool) {
	if e.cache == nil {
		return 0, "", false
	}
	v, ok := e.cache.Get(cacheAnalysis, id)
	if !ok {
		return 0, "", false
	}
	res, ok := v.(analysisResult)
	if !ok {
		e.recoverCache(cacheAnalysis, id)
		return 0, "", false
	}
	return res.Confidence, res.Summary, true
}

func (e *Engine) cachedChange(id string) (domain.ChangeSet, bool) {
	if e.cache == nil {
		return domain.ChangeSet{}, false
	}
	v, ok := e.cache.Get(cacheImplementation, id)
	if !ok {
		return domain.ChangeSet{}, false
	}
	change, ok := v.(domain.ChangeSet)
	if !ok {
		e.recoverCache(cacheImplementation, id)
		return domain.ChangeSet{}, false
	}
	return change, true
}

func (e *Engine) cachedVerification(key string) (bool, string, bool) {
	if e.cache == nil {
		return false, "", false
	}
	v, ok := e.cache.Get(cacheVerification, key)
	if !ok {
		return false, "", false
	}
	res, ok := v.(verifyResult)
	if !ok {
		e.recoverCache(cacheVerification, key)
		return false, "", false
	}
	return res.Passed, res.Diagnostics, true
}

// recoverCache handles a type mismatch on read: the whole cache resets
// and the caller falls through to the real collaborator.
func (e *Engine) recoverCache(ns, key string) {
	e.log.Error("cache entry corrupt", domain.ErrCacheCorruption, map[string]interface{}{
		"namespace": ns,
		"key":       key,
	})
	e.cache.Clear()
}

func (e *Engine) lockFor(id string) *sync.Mutex {
	mu, _ := e.locks.LoadOrStore(id, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

func (e *Engine) notify(ctx context.Context, eventType domain.EventType, item *domain.WorkItem) {
	if e.notifier == nil {
		return
	}
	details := map[string]string{"state": string(item.State)}
	if item.LastError != "" {
		details["error"] = item.LastError
	}
	_ = e.notifier.Notify(ctx, domain.NotificationEvent{
		Type:       eventType,
		WorkItemID: item.ID,
		Details:    details,
	})
}
