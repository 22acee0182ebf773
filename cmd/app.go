package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/zjrosen/deepfocus/internal/config"
	"github.com/zjrosen/deepfocus/internal/enforcement"
	"github.com/zjrosen/deepfocus/internal/enforcement/fake"
	"github.com/zjrosen/deepfocus/internal/enforcement/filebridge"
	"github.com/zjrosen/deepfocus/internal/engine"
	"github.com/zjrosen/deepfocus/internal/flags"
	"github.com/zjrosen/deepfocus/internal/focus/domain"
	"github.com/zjrosen/deepfocus/internal/infrastructure/memory"
	"github.com/zjrosen/deepfocus/internal/infrastructure/sqlite"
	"github.com/zjrosen/deepfocus/internal/log"
	"github.com/zjrosen/deepfocus/internal/metrics"
	"github.com/zjrosen/deepfocus/internal/quota"
	"github.com/zjrosen/deepfocus/internal/tracing"
)

// runtimeOptions tweak the wiring for a single command.
type runtimeOptions struct {
	sink    engine.NotificationSink
	metrics *metrics.Metrics

	// ephemeral keeps sessions in memory for the life of the process.
	ephemeral bool
}

// defaultOptions returns the options implied by the global flags.
func defaultOptions() runtimeOptions {
	return runtimeOptions{ephemeral: ephemeralFlag}
}

// runtime owns everything a command needs to drive the engine.
type runtime struct {
	closeStore func() error
	tracing    *tracing.Provider
	engine     *engine.Engine
	report     engine.RecoveryReport
}

// openStores returns the session and quota stores plus their closer.
func openStores(c config.Config, ephemeral bool) (domain.SessionStore, domain.QuotaStore, func() error, error) {
	if ephemeral {
		mem := memory.NewStore()
		return mem, mem, mem.Close, nil
	}
	db, err := sqlite.NewDB(c.DBPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("opening session database: %w", err)
	}
	return db.SessionStore(), db.QuotaStore(), db.Close, nil
}

// newAdapter builds the configured enforcement adapter.
func newAdapter(c config.EnforcementConfig) (enforcement.Adapter, error) {
	switch c.Driver {
	case config.DriverFake:
		return fake.New(), nil
	case config.DriverFile, "":
		return filebridge.New(filebridge.Config{
			PolicyPath:   c.PolicyPath,
			AttemptsPath: c.AttemptsPath,
			Debounce:     c.Debounce,
		}), nil
	default:
		return nil, fmt.Errorf("unknown enforcement driver %q", c.Driver)
	}
}

// openRuntime validates cfg, wires the engine and opens it, which recovers
// any session left behind by an earlier process.
func openRuntime(ctx context.Context, c config.Config, opts runtimeOptions) (*runtime, error) {
	if err := config.Validate(c); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	adapter, err := newAdapter(c.Enforcement)
	if err != nil {
		return nil, err
	}

	sessions, quotas, closeStore, err := openStores(c, opts.ephemeral)
	if err != nil {
		return nil, err
	}

	storeKind := "sqlite"
	if opts.ephemeral {
		storeKind = "memory"
	}
	tp, err := tracing.NewProvider(c.Tracing,
		tracing.WithVersion(version),
		tracing.WithEnforcementDriver(c.Enforcement.Driver),
		tracing.WithQuotaIdentity(c.Quota.Identity),
		tracing.WithStore(storeKind),
	)
	if err != nil {
		_ = closeStore()
		return nil, fmt.Errorf("initializing tracing: %w", err)
	}

	subscription := quota.NewCachedSubscription(
		quota.StaticSubscription(c.Subscription.Subscribed),
		c.Quota.Identity,
		c.Quota.SubscriptionCacheTTL,
	)
	gate := quota.NewGate(quotas, subscription,
		quota.WithIdentity(c.Quota.Identity),
		quota.WithLimit(c.Quota.FreeSessions),
	)

	eng, err := engine.New(engine.Deps{
		Store:   sessions,
		Gate:    gate,
		Adapter: adapter,
		Sink:    opts.sink,
		Metrics: opts.metrics,
		Tracer:  tp.Tracer(),
		Flags:   flags.New(c.Flags),
	},
		engine.WithTickInterval(c.Engine.TickInterval),
		engine.WithPolicy(c.Engine.Policy()),
		engine.WithRetention(c.Retention.Duration()),
	)
	if err != nil {
		_ = closeStore()
		return nil, err
	}

	rt := &runtime{closeStore: closeStore, tracing: tp, engine: eng}
	rt.report, err = eng.Open(ctx)
	if err != nil {
		_ = rt.Close()
		return nil, fmt.Errorf("opening engine: %w", err)
	}
	log.Info(log.CatCLI, "engine opened", "recovery", rt.report.Outcome, "session", rt.report.SessionID)
	return rt, nil
}

// reportRecovery prints what recovery did when it did anything visible.
func (rt *runtime) reportRecovery(w io.Writer) {
	switch rt.report.Outcome {
	case engine.RecoveryExpired, engine.RecoveryCompleted:
		fmt.Fprintf(w, "Finished session %s that ended while deepfocus was not running.\n", shortID(rt.report.SessionID))
	case engine.RecoveryAborted:
		fmt.Fprintf(w, "Could not restore blocking for session %s; it was ended.\n", shortID(rt.report.SessionID))
	}
	if rt.report.Warning != nil {
		fmt.Fprintf(w, "warning: %v\n", rt.report.Warning)
	}
}

// Close stops the engine and releases the database and trace exporter.
// Blocking stays in place for an active session; a later process resumes it.
func (rt *runtime) Close() error {
	var errs []error
	if err := rt.engine.Close(); err != nil {
		errs = append(errs, err)
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rt.tracing.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, err)
	}
	if err := rt.closeStore(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
