// Package config loads the Overseer YAML configuration, writing a default
// file on first run and hydrating any zero values a partial file leaves
// behind.
package config

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/doeshing/overseer/internal/domain"
	"github.com/doeshing/overseer/internal/pkg/filesystem"
	"github.com/doeshing/overseer/internal/ports"
)

// FileLoader loads YAML configuration from ~/.overseer/config.yaml
// (overridable via OVERSEER_CONFIG or an explicit path).
type FileLoader struct {
	overridePath string
}

// NewFileLoader builds a new loader. An empty path falls back to the
// environment variable, then the home directory default.
func NewFileLoader(path string) *FileLoader {
	return &FileLoader{overridePath: path}
}

// Load implements ports.ConfigProvider.
func (l *FileLoader) Load(context.Context) (domain.Config, error) {
	path := l.resolvePath()
	if err := ensureConfigDir(path); err != nil {
		return domain.Config{}, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := defaultConfig()
			if err := writeDefault(path, cfg); err != nil {
				return domain.Config{}, err
			}
			return cfg, nil
		}
		return domain.Config{}, err
	}

	var cfg domain.Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return domain.Config{}, err
	}

	return hydrateDefaults(cfg), nil
}

// Path reports the file the loader resolves to.
func (l *FileLoader) Path() string {
	return l.resolvePath()
}

func (l *FileLoader) resolvePath() string {
	if l.overridePath != "" {
		return expandPath(l.overridePath)
	}
	if custom := os.Getenv("OVERSEER_CONFIG"); custom != "" {
		return expandPath(custom)
	}
	return filepath.Join(filesystem.UserHomeDir(), ".overseer", "config.yaml")
}

func ensureConfigDir(path string) error {
	dir := filepath.Dir(path)
	return os.MkdirAll(dir, 0o755)
}

func writeDefault(path string, cfg domain.Config) error {
	raw, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o600)
}

func defaultConfig() domain.Config {
	return domain.Config{
		ConfigFormatVersion: "1",
		Engine: domain.EngineSettings{
			MaxConcurrent: 3,
			MaxRetries:    3,
			MinConfidence: 0.6,
			StateDir:      filepath.Join(filesystem.UserHomeDir(), ".overseer"),
		},
		RateLimits: map[string]domain.RateLimitConfig{
			"default": {RequestsPerWindow: 60, WindowSize: domain.Duration(time.Minute), Burst: 10},
		},
		CostLimits: domain.CostLimitSettings{
			Providers: map[string]domain.CostLimitConfig{
				"default": {DailyLimit: 10.0, WarningThreshold: 0.9},
			},
		},
		Complexity: domain.ComplexitySettings{
			MaxFiles:      20,
			MaxLines:      2000,
			MaxComplexity: 10,
		},
		Protection: domain.ProtectionSettings{
			RulesFile: filepath.Join(filesystem.UserHomeDir(), ".overseer", "protection.yaml"),
		},
		Approval: domain.ApprovalSettings{
			Timeout:            domain.Duration(time.Hour),
			AutoApproveLowRisk: true,
		},
		Cache: map[string]domain.CacheConfig{
			"analysis": {MaxSize: 256, DefaultTTL: domain.Duration(time.Hour)},
		},
		Rollback: domain.RollbackSettings{
			RetentionWindow: domain.Duration(7 * 24 * time.Hour),
		},
		Risk: domain.DefaultRiskThresholds(),
		Notifications: domain.NotificationSettings{
			Timeout: domain.Duration(10 * time.Second),
		},
	}
}

func hydrateDefaults(cfg domain.Config) domain.Config {
	def := defaultConfig()
	if cfg.ConfigFormatVersion == "" {
		cfg.ConfigFormatVersion = def.ConfigFormatVersion
	}
	if cfg.Engine.MaxConcurrent <= 0 {
		cfg.Engine.MaxConcurrent = def.Engine.MaxConcurrent
	}
	if cfg.Engine.MaxRetries <= 0 {
		cfg.Engine.MaxRetries = def.Engine.MaxRetries
	}
	if cfg.Engine.MinConfidence <= 0 {
		cfg.Engine.MinConfidence = def.Engine.MinConfidence
	}
	if cfg.Engine.StateDir == "" {
		cfg.Engine.StateDir = def.Engine.StateDir
	}
	if len(cfg.RateLimits) == 0 {
		cfg.RateLimits = def.RateLimits
	}
	for key, rl := range cfg.RateLimits {
		if rl.WindowSize <= 0 {
			rl.WindowSize = domain.Duration(time.Minute)
		}
		cfg.RateLimits[key] = rl
	}
	if len(cfg.CostLimits.Providers) == 0 {
		cfg.CostLimits.Providers = def.CostLimits.Providers
	}
	for name, cl := range cfg.CostLimits.Providers {
		if cl.WarningThreshold <= 0 || cl.WarningThreshold > 1 {
			cl.WarningThreshold = 0.9
		}
		cfg.CostLimits.Providers[name] = cl
	}
	if cfg.Complexity.MaxFiles <= 0 {
		cfg.Complexity.MaxFiles = def.Complexity.MaxFiles
	}
	if cfg.Complexity.MaxLines <= 0 {
		cfg.Complexity.MaxLines = def.Complexity.MaxLines
	}
	if cfg.Complexity.MaxComplexity <= 0 {
		cfg.Complexity.MaxComplexity = def.Complexity.MaxComplexity
	}
	if cfg.Approval.Timeout <= 0 {
		cfg.Approval.Timeout = def.Approval.Timeout
	}
	if len(cfg.Cache) == 0 {
		cfg.Cache = def.Cache
	}
	if cfg.Rollback.RetentionWindow <= 0 {
		cfg.Rollback.RetentionWindow = def.Rollback.RetentionWindow
	}
	if cfg.Risk.Medium <= 0 {
		cfg.Risk.Medium = def.Risk.Medium
	}
	if cfg.Risk.High <= cfg.Risk.Medium {
		cfg.Risk.High = cfg.Risk.Medium + (def.Risk.High - def.Risk.Medium)
	}
	if cfg.Notifications.Timeout <= 0 {
		cfg.Notifications.Timeout = def.Notifications.Timeout
	}
	return cfg
}

func expandPath(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	if len(path) > 1 && path[:2] == "~/" {
		return filepath.Join(filesystem.UserHomeDir(), path[2:])
	}
	return filepath.Clean(path)
}

var _ ports.ConfigProvider = (*FileLoader)(nil)
