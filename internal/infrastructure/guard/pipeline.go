package guard

import (
	"context"
	"fmt"

	"github.com/doeshing/overseer/internal/domain"
	"github.com/doeshing/overseer/internal/infrastructure/cost"
	"github.com/doeshing/overseer/internal/infrastructure/ratelimit"
	"github.com/doeshing/overseer/internal/ports"
)

// Pipeline runs admission checks in a fixed order: rate limiter, cost
// tracker, then each registered guard. The first hard block short-circuits
// with allowed=false (fail-closed); otherwise risk contributions sum into a
// score mapped to a tier.
type Pipeline struct {
	limiter    *ratelimit.Limiter
	tracker    *cost.Tracker
	guards     []Guard
	thresholds domain.RiskThresholds
	notifier   ports.Notifier
	log        ports.Logger
}

// NewPipeline registers the guard list in its declared evaluation order.
func NewPipeline(limiter *ratelimit.Limiter, tracker *cost.Tracker, guards []Guard, thresholds domain.RiskThresholds, notifier ports.Notifier, log ports.Logger) *Pipeline {
	return &Pipeline{
		limiter:    limiter,
		tracker:    tracker,
		guards:     guards,
		thresholds: thresholds,
		notifier:   notifier,
		log:        log,
	}
}

// Evaluate produces the aggregate admission decision for a proposed change.
func (p *Pipeline) Evaluate(ctx context.Context, change domain.ChangeSet) domain.GateDecision {
	key := change.Provider
	if key == "" {
		key = "default"
	}

	if d := p.limiter.CheckAndConsume(key, 1); !d.Allowed {
		return p.blocked(ctx, change, domain.GateDecision{
			Reason:     fmt.Sprintf("rate limit exhausted for %q", key),
			RetryAfter: d.RetryAfter.Seconds(),
		})
	}

	if !p.tracker.CanAfford(change.Provider, change.EstimatedCost) {
		return p.blocked(ctx, change, domain.GateDecision{
			Reason: fmt.Sprintf("daily budget exceeded for %q", change.Provider),
		})
	}

	score := p.tracker.RiskContribution(change.Provider)
	var results []domain.GuardResult
	for _, g := range p.guards {
		result := g.Check(ctx, change)
		results = append(results, result)
		if !result.Allowed {
			decision := p.blocked(ctx, change, domain.GateDecision{
				Reason:  fmt.Sprintf("%s: %s", result.Guard, result.Reason),
				Results: results,
			})
			return decision
		}
		score += result.RiskContribution
	}

	tier := p.thresholds.Tier(score)
	p.log.Debug("gate evaluation passed", map[string]interface{}{
		"work_item": change.WorkItemID,
		"score":     score,
		"tier":      string(tier),
	})
	return domain.GateDecision{Allowed: true, Tier: tier, Score: score, Results: results}
}

// blocked finalizes a fail-closed decision and emits the hard-block event.
func (p *Pipeline) blocked(ctx context.Context, change domain.ChangeSet, decision domain.GateDecision) domain.GateDecision {
	decision.Allowed = false
	decision.Tier = domain.TierHigh
	p.log.Warn("gate blocked", map[string]interface{}{
		"work_item": change.WorkItemID,
		"reason":    decision.Reason,
	})
	if p.notifier != nil {
		_ = p.notifier.Notify(ctx, domain.NotificationEvent{
			Type:       domain.EventGuardBlocked,
			WorkItemID: change.WorkItemID,
			RiskTier:   decision.Tier,
			Details:    map[string]string{"reason": decision.Reason},
		})
	}
	return decision
}
