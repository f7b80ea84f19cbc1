// Package config validates a loaded configuration before the engine
// starts. Validation is structural; zero-value hydration happens in the
// loader.
package config

import (
	"fmt"

	"github.com/doeshing/overseer/internal/domain"
)

// Validate ensures the configuration is internally consistent.
func Validate(cfg domain.Config) error {
	if cfg.Engine.MaxConcurrent <= 0 {
		return fmt.Errorf("engine.max_concurrent must be > 0, got %d", cfg.Engine.MaxConcurrent)
	}
	if cfg.Engine.MaxRetries < 0 {
		return fmt.Errorf("engine.max_retries must be >= 0, got %d", cfg.Engine.MaxRetries)
	}
	if cfg.Engine.MinConfidence < 0 || cfg.Engine.MinConfidence > 1 {
		return fmt.Errorf("engine.min_confidence must be in [0, 1], got %g", cfg.Engine.MinConfidence)
	}

	for key, rl := range cfg.RateLimits {
		if rl.RequestsPerWindow <= 0 {
			return fmt.Errorf("rate_limits.%s.requests_per_window must be > 0", key)
		}
		if rl.WindowSize <= 0 {
			return fmt.Errorf("rate_limits.%s.window_size must be > 0", key)
		}
		if rl.Burst < 0 {
			return fmt.Errorf("rate_limits.%s.burst must be >= 0", key)
		}
	}

	for name, cl := range cfg.CostLimits.Providers {
		if cl.DailyLimit < 0 {
			return fmt.Errorf("cost_limits.providers.%s.daily_limit must be >= 0", name)
		}
		if cl.WarningThreshold <= 0 || cl.WarningThreshold > 1 {
			return fmt.Errorf("cost_limits.providers.%s.warning_threshold must be in (0, 1]", name)
		}
	}
	if cfg.CostLimits.GlobalDailyLimit < 0 {
		return fmt.Errorf("cost_limits.global_daily_limit must be >= 0")
	}

	for name, cc := range cfg.Cache {
		if cc.MaxSize <= 0 {
			return fmt.Errorf("cache.%s.max_size must be > 0", name)
		}
		if cc.DefaultTTL <= 0 {
			return fmt.Errorf("cache.%s.default_ttl must be > 0", name)
		}
	}

	if cfg.Approval.Timeout <= 0 {
		return fmt.Errorf("approval.approval_timeout must be > 0")
	}
	if cfg.Risk.Medium <= 0 || cfg.Risk.High <= cfg.Risk.Medium {
		return fmt.Errorf("risk_thresholds must satisfy 0 < medium < high, got medium=%g high=%g",
			cfg.Risk.Medium, cfg.Risk.High)
	}
	if cfg.Rollback.RetentionWindow < 0 {
		return fmt.Errorf("rollback.retention_window must be >= 0")
	}
	return nil
}
