package app

import (
	"context"
	"path/filepath"
	"time"

	appconfig "github.com/doeshing/overseer/internal/application/config"
	"github.com/doeshing/overseer/internal/application/engine"
	"github.com/doeshing/overseer/internal/domain"
	"github.com/doeshing/overseer/internal/infrastructure/approval"
	"github.com/doeshing/overseer/internal/infrastructure/cache"
	"github.com/doeshing/overseer/internal/infrastructure/config"
	"github.com/doeshing/overseer/internal/infrastructure/cost"
	"github.com/doeshing/overseer/internal/infrastructure/guard"
	"github.com/doeshing/overseer/internal/infrastructure/local"
	"github.com/doeshing/overseer/internal/infrastructure/notify"
	"github.com/doeshing/overseer/internal/infrastructure/ratelimit"
	"github.com/doeshing/overseer/internal/infrastructure/rollback"
	"github.com/doeshing/overseer/internal/infrastructure/store"
	"github.com/doeshing/overseer/internal/pkg/logger"
	"github.com/doeshing/overseer/internal/ports"
)

// systemClock satisfies ports.Clock with wall time.
type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Container wires the engine core with its infrastructure adapters.
type Container struct {
	Config       domain.Config
	ConfigLoader *config.FileLoader
	Store        *store.SQLiteStore
	Engine       *engine.Engine
	Limiter      *ratelimit.Limiter
	Tracker      *cost.Tracker
	Approvals    *approval.System
	Rollback     *rollback.Manager
	Cache        *cache.Manager
	Logger       ports.Logger
}

// BuildContainer constructs the dependency graph and restores durable
// state from the store.
func BuildContainer(ctx context.Context, configPath string, verbose bool) (*Container, error) {
	cfgLoader := config.NewFileLoader(configPath)
	cfg, err := cfgLoader.Load(ctx)
	if err != nil {
		return nil, err
	}
	if err := appconfig.Validate(cfg); err != nil {
		return nil, err
	}

	log := logger.NewStd(verbose)
	clock := systemClock{}

	db, err := store.Open(filepath.Join(cfg.Engine.StateDir, "overseer.db"))
	if err != nil {
		return nil, err
	}

	limiter := ratelimit.New(cfg.RateLimits, clock, log)
	if buckets, err := db.ListBuckets(ctx); err == nil {
		limiter.Restore(buckets)
	}

	tracker := cost.New(cfg.CostLimits, clock, db, log)
	if err := tracker.Restore(ctx); err != nil {
		log.Warn("cost ledger restore failed", map[string]interface{}{"error": err.Error()})
	}

	rules, err := guard.LoadRules(cfg.Protection.RulesFile)
	if err != nil {
		rules, _ = guard.LoadRules("")
	}
	protected := append(rules.Rules.Protected, cfg.Protection.ProtectedFiles...)
	whitelist := append(rules.Rules.Whitelist, cfg.Protection.Whitelist...)

	guards := []guard.Guard{
		&guard.ComplexityGuard{Limits: cfg.Complexity},
		&guard.FileProtectionGuard{Protected: protected, Whitelist: whitelist},
		&guard.BreakingChangeGuard{},
	}

	notifier := notify.NewWebhook(cfg.Notifications, log)
	pipeline := guard.NewPipeline(limiter, tracker, guards, cfg.Risk, notifier, log)

	approvals := approval.New(cfg.Approval, db, notifier, clock, log)
	checkpoints := local.NewMemoryCheckpointStore()
	rollbackMgr := rollback.New(cfg.Rollback, db, checkpoints, clock, log)
	cacheMgr := cache.New(cfg.Cache, clock, log)

	eng := engine.New(
		cfg.Engine,
		db,
		pipeline,
		approvals,
		rollbackMgr,
		tracker,
		cacheMgr,
		&local.MetadataAnalyzer{Default: cfg.Engine.MinConfidence},
		&local.MetadataImplementer{Provider: "default"},
		&local.StaticVerifier{},
		notifier,
		clock,
		log,
	)

	return &Container{
		Config:       cfg,
		ConfigLoader: cfgLoader,
		Store:        db,
		Engine:       eng,
		Limiter:      limiter,
		Tracker:      tracker,
		Approvals:    approvals,
		Rollback:     rollbackMgr,
		Cache:        cacheMgr,
		Logger:       log,
	}, nil
}

// Close persists volatile ledgers and releases the store so a restart
// reconstructs exact prior state.
func (c *Container) Close(ctx context.Context) error {
	if err := c.Limiter.Persist(ctx, c.Store); err != nil {
		c.Logger.Error("persist rate buckets", err, nil)
	}
	return c.Store.Close()
}
