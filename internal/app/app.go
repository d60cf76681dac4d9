// Package app wires the transport, router, plugins and background services
// into one runnable bot.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"fortunebot/internal/config"
	"fortunebot/internal/eventbus"
	"fortunebot/internal/observability/metrics"
	"fortunebot/internal/plugin"
	"fortunebot/internal/runtime/supervisor"
	"fortunebot/internal/storage"
	"fortunebot/internal/task/scheduler"
	kit "fortunebot/internal/transport"
	telegram "fortunebot/internal/transport/telegram/adapter"
	"fortunebot/internal/transport/telegram/router"
	logx "fortunebot/pkg/logx"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store
	reg   *prometheus.Registry

	adapter kit.Adapter
	out     *kit.Outgoing

	sched   *scheduler.Service
	metrics *metrics.Service
	events  *prometheus.CounterVec

	cmdm *router.CommandManager
	pm   *plugin.PluginManager

	updates chan kit.Update
}

// NewApp loads cfgPath and builds the Telegram-backed app. Plugins are
// registered on Plugins() before Start.
func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := config.Validate(cfg, true); err != nil {
		return nil, err
	}
	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
	}, logx.NewConsole(cfg.Logging.Level).With(logx.String("comp", "telegram")))
	if err != nil {
		return nil, err
	}
	return newApp(cfgm, ad)
}

// newApp builds the app around an already-loaded config and adapter.
func newApp(cfgm *config.ConfigManager, ad kit.Adapter) (*App, error) {
	cfg := cfgm.Get()
	if cfg == nil {
		return nil, errors.New("config not loaded")
	}

	// The chat sink sends through the bare adapter so outgoing hooks never
	// decorate log records.
	logSvc, log := logx.New(cfg.Logging.LogxConfig(), func(ctx context.Context, chatID int64, threadID int, text string) error {
		_, err := ad.SendText(ctx, kit.ChatTarget{ChatID: chatID, ThreadID: threadID}, text, &kit.SendOptions{DisablePreview: true})
		return err
	})
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	var store storage.Store
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		if store, err = storage.Open(sc, log.With(logx.String("comp", "storage"))); err != nil {
			return nil, err
		}
		log.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	events := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fortunebot",
		Name:      "events_total",
		Help:      "Events published on the in-process bus, by type.",
	}, []string{"type"})
	reg.MustRegister(events)

	out := kit.NewOutgoing(ad)
	bus := eventbus.New()
	sched := scheduler.New(scheduler.Config{
		Enabled:  cfg.Scheduler.Enabled,
		Timezone: cfg.Scheduler.Timezone,
	}, log.With(logx.String("comp", "scheduler")))

	cmdm := router.NewCommandManager(log.With(logx.String("comp", "commands")), out, cfgm,
		cfg.Telegram.OwnerUserIDs, router.WithMetrics(router.NewMetrics(reg)))

	pm := plugin.NewPluginManager(log.With(logx.String("comp", "plugins")), cfgm, plugin.PluginDeps{
		Logger:    log,
		Adapter:   out,
		Outgoing:  out,
		Config:    cfgm,
		Bus:       bus,
		Store:     store,
		Scheduler: sched,
		Metrics:   reg,
	}, cmdm)

	return &App{
		cfgm:    cfgm,
		log:     log.With(logx.String("comp", "app")),
		logs:    logSvc,
		bus:     bus,
		store:   store,
		reg:     reg,
		adapter: ad,
		out:     out,
		sched:   sched,
		metrics: metrics.New(metrics.FromConfig(cfg.Metrics), reg, log),
		events:  events,
		cmdm:    cmdm,
		pm:      pm,
		updates: make(chan kit.Update, 256),
	}, nil
}

func (a *App) Plugins() *plugin.PluginManager { return a.pm }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// validate is the reload gate: a config that fails here is never committed.
func (a *App) validate(ctx context.Context, cfg *config.Config) error {
	if err := config.Validate(cfg, true); err != nil {
		return err
	}
	if _, _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	return a.pm.ValidateConfig(ctx, cfg)
}

// Validate checks the loaded config including every enabled plugin section.
func (a *App) Validate(ctx context.Context) error {
	return a.validate(ctx, a.cfgm.Get())
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.NewSupervisor(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	a.cfgm.SetValidator(a.validate)

	if err := a.Validate(ctx); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}
	a.sched.Start(a.sup.Context())
	a.metrics.Start(a.sup.Context())

	if err := a.pm.StartAll(a.sup.Context()); err != nil {
		return err
	}

	a.sup.Go("commands.dispatch", func(c context.Context) error {
		return a.cmdm.DispatchLoop(c, a.updates)
	})
	a.watchEvents()
	a.watchConfig()
	a.sup.Go("config.watch", a.cfgm.Watch)

	a.log.Info("app started", logx.Strings("plugins", a.pm.Names()))
	return nil
}

// watchEvents counts and logs bus events. Plugins write their own audit
// entries; this is the process-wide view.
func (a *App) watchEvents() {
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
				a.events.WithLabelValues(e.Type).Inc()
				a.log.Debug("event", logx.String("type", e.Type), logx.Int64("actor", e.Actor), logx.Any("data", e.Data))
			}
		}
	})
}

// watchConfig applies every committed config. The validator has already
// accepted it, so failures here are per component and logged.
func (a *App) watchConfig() {
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		last := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case cfg, ok := <-sub:
				if !ok {
					return
				}
				a.apply(c, last, cfg)
				last = cfg
			}
		}
	})
}

func (a *App) apply(ctx context.Context, prev, cfg *config.Config) {
	sections, attrs, plugins := config.SummarizeConfigChange(prev, cfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	for _, s := range sections {
		switch s {
		case "storage":
			a.log.Warn("storage config changed; restart required for changes to take effect")
		case "telegram":
			if prev != nil && prev.Telegram.Token != cfg.Telegram.Token {
				a.log.Warn("telegram token changed; restart required for changes to take effect")
			}
		}
	}

	a.logs.Apply(cfg.Logging.LogxConfig())
	a.cmdm.SetOwners(cfg.Telegram.OwnerUserIDs)
	a.sched.Apply(ctx, scheduler.Config{Enabled: cfg.Scheduler.Enabled, Timezone: cfg.Scheduler.Timezone})
	a.metrics.Reconfigure(ctx, metrics.FromConfig(cfg.Metrics))
	a.pm.OnConfigUpdate(ctx, cfg)

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	if len(plugins) > 0 {
		fields = append(fields, logx.Strings("plugins", plugins))
	}
	a.log.Info("config reloaded", fields...)
}

// Stop shuts everything down in dependency order. Each step is bounded so a
// stuck component cannot hold the process past ctx.
func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping")
	a.sup.Cancel()

	step := func(name string, max time.Duration, fn func(context.Context)) {
		start := time.Now()
		sctx, cancel := context.WithTimeout(ctx, max)
		defer cancel()
		done := make(chan struct{})
		go func() {
			defer close(done)
			defer func() {
				if r := recover(); r != nil {
					a.log.Error("panic in stop step", logx.String("name", name), logx.Any("panic", r))
				}
			}()
			fn(sctx)
		}()
		select {
		case <-done:
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-sctx.Done():
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	step("plugins", 4*time.Second, a.pm.StopAll)
	step("scheduler", 3*time.Second, a.sched.Stop)
	step("adapter", 3*time.Second, func(c context.Context) {
		if err := a.adapter.Stop(c); err != nil {
			a.log.Warn("adapter stop failed", logx.Err(err))
		}
	})
	step("metrics", 2*time.Second, a.metrics.Stop)
	step("supervisor", 3*time.Second, func(c context.Context) { _ = a.sup.Wait(c) })
	if a.store != nil {
		step("storage", 2*time.Second, func(context.Context) {
			if err := a.store.Close(); err != nil {
				a.log.Warn("storage close failed", logx.Err(err))
			}
		})
	}

	a.log.Info("stopped")
	err := a.sup.Err()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	_ = a.logs.Close()
	return err
}
