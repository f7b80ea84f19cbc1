package domain

import "time"

// RateLimitBucket is the persisted token-bucket state for one resource key.
// Invariant: 0 <= Tokens <= Capacity+Burst. Refill is a pure function of
// elapsed wall time.
type RateLimitBucket struct {
	Key        string    `json:"key"`
	Tokens     float64   `json:"tokens_remaining"`
	Capacity   float64   `json:"capacity"`
	RefillRate float64   `json:"refill_rate"`
	Burst      float64   `json:"burst"`
	LastRefill time.Time `json:"last_refill_timestamp"`
}

// CostLedgerEntry is one (provider, UTC day) spend record. Totals are
// monotonically non-decreasing within a day; reset happens only by day
// rollover.
type CostLedgerEntry struct {
	Provider    string    `json:"provider"`
	Day         string    `json:"day"` // YYYY-MM-DD, UTC
	TotalSpent  float64   `json:"total_spent"`
	TotalTokens int64     `json:"total_tokens"`
	Requests    int64     `json:"requests"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// DayKey formats t as the ledger's UTC calendar-date key.
func DayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// CostSnapshot is a read-only usage report for one provider day.
type CostSnapshot struct {
	Entry      CostLedgerEntry `json:"entry"`
	DailyLimit float64         `json:"daily_limit"`
	Remaining  float64         `json:"remaining"`
	Status     string          `json:"status"` // OK, WARNING, EXCEEDED
}
