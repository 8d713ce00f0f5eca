// Package app wires Mila's components together and owns their lifecycle:
// startup order, config hot reload and bounded shutdown.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/utestwalter/Mila/internal/config"
	"github.com/utestwalter/Mila/internal/eventbus"
	"github.com/utestwalter/Mila/internal/llm"
	"github.com/utestwalter/Mila/internal/notifier"
	"github.com/utestwalter/Mila/internal/observability/admin"
	"github.com/utestwalter/Mila/internal/observability/metrics"
	rtsup "github.com/utestwalter/Mila/internal/runtime/supervisor"
	"github.com/utestwalter/Mila/internal/search"
	"github.com/utestwalter/Mila/internal/storage"
	"github.com/utestwalter/Mila/internal/task/engine"
	"github.com/utestwalter/Mila/internal/task/pipeline"
	"github.com/utestwalter/Mila/internal/task/registrar"
	"github.com/utestwalter/Mila/internal/task/scheduler"
	kit "github.com/utestwalter/Mila/internal/transport"
	telegram "github.com/utestwalter/Mila/internal/transport/telegram/adapter"
	"github.com/utestwalter/Mila/internal/transport/telegram/router"
	"github.com/utestwalter/Mila/pkg/logx"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor
	sups *router.SupervisorRegistry

	log   logx.Logger
	logs  *logx.Service
	bus   *eventbus.MemBus
	store storage.Store

	adapter kit.Adapter

	engine   *engine.Service
	sched    *scheduler.Service
	notif    *notifier.Service
	reg      *registrar.Service
	router   *router.Router
	metrics  *metrics.Metrics
	admin    *admin.Service
	pipeline *pipeline.Pipeline

	updates chan kit.Update
}

// New loads the config at cfgPath and builds every component. Nothing runs
// until Start.
func New(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := config.RequireSecrets(cfg); err != nil {
		return nil, err
	}

	bootLog := logx.NewConsole("INFO").With(logx.String("comp", "telegram"))
	ad, err := telegram.New(mapAdapterConfig(cfg), bootLog)
	if err != nil {
		return nil, err
	}

	// Bootstrap with the Telegram sink off, set its target, then enable it,
	// so Apply does not warn about a missing target.
	logCfg := mapLogConfig(cfg)
	tgEnabled := logCfg.Telegram.Enabled
	logCfg.Telegram.Enabled = false
	logSvc, root := logx.New(logCfg, ad)
	if cfg.Telegram.LogChatID != 0 {
		logSvc.SetTelegramTarget(cfg.Telegram.LogChatID, cfg.Logging.Telegram.ThreadID)
	}
	logCfg.Telegram.Enabled = tgEnabled
	logSvc.Apply(logCfg)
	log := root.With(logx.String("comp", "app"))

	a := &App{
		cfgm:    cfgm,
		sups:    router.NewSupervisorRegistry(),
		log:     log,
		logs:    logSvc,
		bus:     eventbus.New(),
		adapter: ad,
		updates: make(chan kit.Update, 256),
	}
	if err := a.build(cfg, root); err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(cfg *config.Config, root logx.Logger) error {
	store, err := OpenStore(cfg, root)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	a.store = store
	a.log.Info("storage opened", logx.String("driver", mapStorageConfig(cfg).Driver))

	gen, err := llm.NewOpenAI(context.Background(), mapLLMConfig(cfg))
	if err != nil {
		_ = store.Close()
		return err
	}
	llmCfg := mapLLMConfig(cfg)

	a.engine = engine.New(mapEngineConfig(cfg), root, a.bus)
	a.notif = notifier.New(mapNotifierConfig(cfg), a.adapter, root, a.bus)
	a.pipeline = pipeline.New(mapPipelineConfig(cfg), pipeline.Deps{
		Store:      store,
		Search:     search.New(mapSearchConfig(cfg), root),
		Summarizer: llm.NewSummarizer(gen, llmCfg),
		Notifier:   a.notif,
		Log:        root,
		Bus:        a.bus,
	})

	run := func(ctx context.Context, id string) error {
		_, err := a.pipeline.Execute(ctx, id)
		return err
	}
	a.sched, err = scheduler.New(mapSchedulerConfig(cfg), scheduler.Deps{
		Store:      store,
		Dispatcher: engineDispatcher{eng: a.engine, run: run},
		Log:        root,
		Bus:        a.bus,
	})
	if err != nil {
		_ = store.Close()
		return err
	}

	a.reg = registrar.New(mapRegistrarConfig(cfg), registrar.Deps{
		Store:     store,
		Compiler:  llm.NewTaskCompiler(gen, llmCfg),
		Scheduler: a.sched,
		Log:       root,
		Bus:       a.bus,
	})

	a.router = router.New(mapRouterConfig(cfg), router.Deps{
		Adapter:     a.adapter,
		Registrar:   a.reg,
		Scheduler:   a.sched,
		Engine:      a.engine,
		Supervisors: a.sups,
		Log:         root,
	})

	a.metrics = metrics.New(root)
	a.metrics.GaugeFunc("scheduler", "entries", "Registered schedule entries.", func() float64 {
		return float64(a.sched.Len())
	})
	a.metrics.GaugeFunc("engine", "queue_length", "Firings waiting for a worker.", func() float64 {
		return float64(a.engine.Snapshot().QueueLen)
	})
	a.metrics.GaugeFunc("engine", "in_flight", "Firings being executed.", func() float64 {
		return float64(a.engine.Snapshot().InFlight)
	})

	a.admin = admin.New(mapAdminConfig(cfg), admin.Deps{
		Tasks:     store,
		Remover:   a.reg,
		Scheduler: a.sched,
		Engine:    a.engine,
		Metrics:   a.metrics.Handler(),
	}, root)
	return nil
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.NewSupervisor(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	a.sups.Set("app", a.sup)
	runCtx := a.sup.Context()

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return config.RequireSecrets(cfg)
	})

	a.engine.Start(runCtx)
	a.sups.Set("task.engine", a.engine.Supervisor())

	rep, err := a.sched.Recover(runCtx)
	if err != nil {
		return fmt.Errorf("recover schedules: %w", err)
	}
	a.log.Info("schedules recovered",
		logx.Int("registered", len(rep.Registered)),
		logx.Int("fired_missed", len(rep.FiredMissed)),
		logx.Int("discarded", len(rep.Discarded)),
		logx.Int("corrupt", len(rep.Corrupt)),
		logx.Int("unreadable", len(rep.Unreadable)),
		logx.Int("invalid", len(rep.Invalid)),
	)
	a.sup.Go("scheduler.run", a.sched.Run)

	a.sup.Go("metrics.bus", func(c context.Context) error { return a.metrics.Run(c, a.bus) })

	if err := a.adapter.Start(runCtx, a.updates); err != nil {
		return err
	}
	if sp, ok := a.adapter.(interface{ Supervisor() *rtsup.Supervisor }); ok {
		a.sups.Set("telegram.adapter", sp.Supervisor())
	}

	a.admin.Start(runCtx)
	a.sups.Set("admin", a.admin.Supervisor())

	a.sup.Go("telegram.dispatch", func(c context.Context) error {
		return a.router.DispatchLoop(c, a.updates)
	})

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				newCfg = latest(sub, newCfg)
				a.applyConfig(c, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})
	a.sup.Go("config.watch", a.cfgm.Watch)

	a.log.Info("app started")
	return nil
}

// latest drains ch and returns the newest config, coalescing bursts.
func latest(ch <-chan *config.Config, cfg *config.Config) *config.Config {
	for {
		select {
		case newer := <-ch:
			if newer != nil {
				cfg = newer
			}
		default:
			return cfg
		}
	}
}

// applyConfig pushes the hot-reloadable sections to the running components.
func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if restart := config.NeedsRestart(sections); len(restart) > 0 {
		a.log.Warn("config changed; restart required for these sections", logx.Strings("sections", restart))
	}
	if oldCfg != nil && oldCfg.Telegram.Token != newCfg.Telegram.Token {
		a.log.Warn("telegram token changed; restart required")
	}

	// Target first, so Apply does not warn when the Telegram sink is on.
	a.logs.SetTelegramTarget(newCfg.Telegram.LogChatID, newCfg.Logging.Telegram.ThreadID)
	a.logs.Apply(mapLogConfig(newCfg))

	a.router.Apply(mapRouterConfig(newCfg))
	a.reg.Apply(mapRegistrarConfig(newCfg))
	a.notif.Apply(mapNotifierConfig(newCfg))
	a.admin.Reconfigure(ctx, mapAdminConfig(newCfg))
	a.sups.Set("admin", a.admin.Supervisor())

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// Cancel first so background loops start unwinding immediately.
	a.sup.Cancel()

	a.step(ctx, "admin", time.Second, func(c context.Context) error { a.admin.Stop(c); return nil })
	a.step(ctx, "adapter", 2*time.Second, a.adapter.Stop)
	a.step(ctx, "taskengine", 3*time.Second, a.engine.Stop)
	// Waits for the scheduler loop (and its in-flight firings) and the router.
	a.step(ctx, "supervisor", 3*time.Second, a.sup.Wait)
	a.step(ctx, "storage", time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	return a.logs.Close()
}

// step runs one shutdown step bounded by limit (and by ctx's deadline) so a
// stuck component cannot stall the whole stop.
func (a *App) step(ctx context.Context, name string, limit time.Duration, fn func(context.Context) error) {
	start := time.Now()
	if dl, ok := ctx.Deadline(); ok {
		limit = min(limit, time.Until(dl))
	}
	if limit <= 0 {
		a.log.Warn("stop step skipped: no time left", logx.String("name", name))
		return
	}
	stepCtx, cancel := context.WithTimeout(ctx, limit)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		if err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		if took := time.Since(start); took >= 500*time.Millisecond {
			a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
		}
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)",
			logx.String("name", name),
			logx.Duration("elapsed", time.Since(start)))
		go func() {
			if err := <-done; err != nil {
				a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err))
			}
		}()
	}
}
