package domain

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so config files carry human-readable
// values. It marshals as a duration string ("1h0m0s") and unmarshals
// from either a duration string ("90s", "1h") or a bare integer,
// interpreted as seconds.
type Duration time.Duration

// Std returns the underlying time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

func (d Duration) MarshalYAML() (interface{}, error) { return d.String(), nil }

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err == nil {
		parsed, perr := time.ParseDuration(raw)
		if perr != nil {
			return fmt.Errorf("invalid duration %q: %w", raw, perr)
		}
		*d = Duration(parsed)
		return nil
	}
	var secs int64
	if err := value.Decode(&secs); err != nil {
		return fmt.Errorf("invalid duration %q", value.Value)
	}
	*d = Duration(time.Duration(secs) * time.Second)
	return nil
}

// Config is the full configuration surface, loaded from YAML.
type Config struct {
	ConfigFormatVersion string `yaml:"config_format_version"`

	Engine        EngineSettings             `yaml:"engine"`
	RateLimits    map[string]RateLimitConfig `yaml:"rate_limits"`
	CostLimits    CostLimitSettings          `yaml:"cost_limits"`
	Complexity    ComplexitySettings         `yaml:"complexity"`
	Protection    ProtectionSettings         `yaml:"protection"`
	Approval      ApprovalSettings           `yaml:"approval"`
	Cache         map[string]CacheConfig     `yaml:"cache"`
	Rollback      RollbackSettings           `yaml:"rollback"`
	Risk          RiskThresholds             `yaml:"risk_thresholds"`
	Notifications NotificationSettings       `yaml:"notifications"`
}

// EngineSettings bound the worker pool and retry behavior.
type EngineSettings struct {
	MaxConcurrent int     `yaml:"max_concurrent"`
	MaxRetries    int     `yaml:"max_retries"`
	MinConfidence float64 `yaml:"min_confidence"`
	StateDir      string  `yaml:"state_dir"`
}

// RateLimitConfig configures one token bucket.
type RateLimitConfig struct {
	RequestsPerWindow float64  `yaml:"requests_per_window"`
	WindowSize        Duration `yaml:"window_size"`
	Burst             float64  `yaml:"burst"`
}

// CostLimitSettings hold per-provider daily ceilings plus an optional
// global ceiling across all providers.
type CostLimitSettings struct {
	Providers        map[string]CostLimitConfig `yaml:"providers"`
	GlobalDailyLimit float64                    `yaml:"global_daily_limit"`
}

// CostLimitConfig is one provider's daily budget.
type CostLimitConfig struct {
	DailyLimit       float64 `yaml:"daily_limit"`
	WarningThreshold float64 `yaml:"warning_threshold"`
}

// ComplexitySettings are the ComplexityGuard ceilings.
type ComplexitySettings struct {
	MaxFiles      int     `yaml:"max_files"`
	MaxLines      int     `yaml:"max_lines"`
	MaxComplexity float64 `yaml:"max_complexity"`
}

// ProtectionSettings are the FileProtectionGuard globs.
type ProtectionSettings struct {
	ProtectedFiles []string `yaml:"protected_files"`
	Whitelist      []string `yaml:"whitelist"`
	RulesFile      string   `yaml:"rules_file"`
}

// ApprovalSettings govern the human-decision flow.
type ApprovalSettings struct {
	Timeout            Duration `yaml:"approval_timeout"`
	AutoApproveLowRisk bool     `yaml:"auto_approve_low_risk"`
}

// CacheConfig is one cache namespace's bounds.
type CacheConfig struct {
	MaxSize    int      `yaml:"max_size"`
	DefaultTTL Duration `yaml:"default_ttl"`
}

// RollbackSettings govern rollback-point retention.
type RollbackSettings struct {
	RetentionWindow Duration `yaml:"retention_window"`
}

// NotificationSettings configure the outbound webhook notifier.
type NotificationSettings struct {
	WebhookURL string   `yaml:"webhook_url"`
	Timeout    Duration `yaml:"timeout"`
}
