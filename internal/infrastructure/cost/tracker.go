// Package cost maintains the per-provider, per-day spend ledger and
// enforces daily budget ceilings.
//
// One ledger entry exists per (provider, UTC day); totals only grow within
// a day and reset only by day rollover. Crossing the warning threshold
// raises risk, crossing 100% hard-blocks further spend for that provider
// until the next day.
package cost

import (
	"context"
	"fmt"
	"sync"

	"github.com/doeshing/overseer/internal/domain"
	"github.com/doeshing/overseer/internal/ports"
)

const defaultWarningThreshold = 0.9

// Tracker is the shared spend ledger. Check and record operations are
// atomic across all concurrent workers.
type Tracker struct {
	mu      sync.Mutex
	limits  domain.CostLimitSettings
	entries map[string]*domain.CostLedgerEntry // keyed by provider, today only
	day     string
	clock   ports.Clock
	repo    ports.LedgerRepository
	log     ports.Logger
}

// New builds a tracker for today's ledger. The repository receives every
// recorded spend so restarts reconstruct exact totals.
func New(limits domain.CostLimitSettings, clock ports.Clock, repo ports.LedgerRepository, log ports.Logger) *Tracker {
	return &Tracker{
		limits:  limits,
		entries: make(map[string]*domain.CostLedgerEntry),
		day:     domain.DayKey(clock.Now()),
		clock:   clock,
		repo:    repo,
		log:     log,
	}
}

// Restore loads today's persisted entries. Entries from other days are
// ignored; rollover is the only reset.
func (t *Tracker) Restore(ctx context.Context) error {
	if t.repo == nil {
		return nil
	}
	entries, err := t.repo.ListLedgerEntries(ctx, t.day)
	if err != nil {
		return fmt.Errorf("restore cost ledger: %w", err)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, e := range entries {
		entry := e
		t.entries[entry.Provider] = &entry
	}
	return nil
}

// CanAfford reports whether spending estimated on provider stays within
// both the provider's daily limit and the global daily limit.
func (t *Tracker) CanAfford(provider string, estimated float64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rolloverLocked()

	if limit, ok := t.limits.Providers[provider]; ok && limit.DailyLimit > 0 {
		if t.spentLocked(provider)+estimated > limit.DailyLimit {
			return false
		}
	}
	if global := t.limits.GlobalDailyLimit; global > 0 {
		if t.totalSpentLocked()+estimated > global {
			return false
		}
	}
	return true
}

// Check wraps CanAfford into the error taxonomy.
func (t *Tracker) Check(provider string, estimated float64) error {
	if !t.CanAfford(provider, estimated) {
		return fmt.Errorf("%w: provider %q, estimated $%.4f", domain.ErrBudgetExceeded, provider, estimated)
	}
	return nil
}

// RecordSpend appends real spend after an external call completed. It is
// never called speculatively and never decreases totals.
func (t *Tracker) RecordSpend(ctx context.Context, provider string, tokens int64, spend float64) error {
	if spend < 0 {
		return fmt.Errorf("negative spend $%.4f for provider %q", spend, provider)
	}

	t.mu.Lock()
	t.rolloverLocked()
	entry, ok := t.entries[provider]
	if !ok {
		entry = &domain.CostLedgerEntry{Provider: provider, Day: t.day}
		t.entries[provider] = entry
	}
	entry.TotalSpent += spend
	entry.TotalTokens += tokens
	entry.Requests++
	entry.UpdatedAt = t.clock.Now()
	snapshot := *entry
	t.mu.Unlock()

	t.log.Info("spend recorded", map[string]interface{}{
		"provider":    provider,
		"cost":        spend,
		"tokens":      tokens,
		"total_spent": snapshot.TotalSpent,
	})

	if t.repo != nil {
		if err := t.repo.SaveLedgerEntry(ctx, snapshot); err != nil {
			return fmt.Errorf("persist ledger entry: %w", err)
		}
	}
	return nil
}

// RiskContribution returns extra risk for providers past their warning
// threshold. Budget exhaustion itself blocks; approaching it only warns.
func (t *Tracker) RiskContribution(provider string) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rolloverLocked()

	limit, ok := t.limits.Providers[provider]
	if !ok || limit.DailyLimit <= 0 {
		return 0
	}
	warn := limit.WarningThreshold
	if warn <= 0 {
		warn = defaultWarningThreshold
	}
	if t.spentLocked(provider) >= limit.DailyLimit*warn {
		return 1
	}
	return 0
}

// Snapshot reports today's usage for every provider with a configured or
// recorded budget.
func (t *Tracker) Snapshot() []domain.CostSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rolloverLocked()

	seen := make(map[string]bool)
	var out []domain.CostSnapshot
	appendProvider := func(provider string) {
		if seen[provider] {
			return
		}
		seen[provider] = true
		entry := domain.CostLedgerEntry{Provider: provider, Day: t.day}
		if e, ok := t.entries[provider]; ok {
			entry = *e
		}
		limit := t.limits.Providers[provider]
		snap := domain.CostSnapshot{
			Entry:      entry,
			DailyLimit: limit.DailyLimit,
			Remaining:  limit.DailyLimit - entry.TotalSpent,
			Status:     "OK",
		}
		if limit.DailyLimit > 0 {
			warn := limit.WarningThreshold
			if warn <= 0 {
				warn = defaultWarningThreshold
			}
			switch {
			case entry.TotalSpent >= limit.DailyLimit:
				snap.Status = "EXCEEDED"
				snap.Remaining = 0
			case entry.TotalSpent >= limit.DailyLimit*warn:
				snap.Status = "WARNING"
			}
		}
		out = append(out, snap)
	}
	for provider := range t.limits.Providers {
		appendProvider(provider)
	}
	for provider := range t.entries {
		appendProvider(provider)
	}
	return out
}

// rolloverLocked resets the in-memory ledger when the UTC day changes.
// Persisted entries for past days remain untouched in the store.
func (t *Tracker) rolloverLocked() {
	today := domain.DayKey(t.clock.Now())
	if today == t.day {
		return
	}
	t.log.Info("cost ledger day rollover", map[string]interface{}{
		"previous": t.day,
		"current":  today,
	})
	t.day = today
	t.entries = make(map[string]*domain.CostLedgerEntry)
}

func (t *Tracker) spentLocked(provider string) float64 {
	if e, ok := t.entries[provider]; ok {
		return e.TotalSpent
	}
	return 0
}

func (t *Tracker) totalSpentLocked() float64 {
	var total float64
	for _, e := range t.entries {
		total += e.TotalSpent
	}
	return total
}
