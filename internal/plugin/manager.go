package plugin

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"slices"
	"sync"
	"time"

	"fortunebot/internal/config"
	kit "fortunebot/internal/transport"
	"fortunebot/internal/transport/telegram/router"
	logx "fortunebot/pkg/logx"
)

const (
	callTimeout     = 10 * time.Second
	validateTimeout = 5 * time.Second
)

type PluginManager struct {
	mu sync.Mutex

	log  logx.Logger
	cfgm *ConfigManager
	deps PluginDeps
	cmdm *CommandManager

	// order is registration order; lifecycle calls follow it.
	order []string
	reg   map[string]Plugin
	run   map[string]bool
	// Init runs at most once per plugin, even across disable/enable.
	inited map[string]bool
	// canonical hash of the config section last applied to a running plugin
	lastHash map[string]uint64

	// baseCtx outlives call-scoped contexts passed to StartAll/OnConfigUpdate.
	baseCtx    context.Context
	baseCancel context.CancelFunc
	pcancel    map[string]context.CancelFunc
}

func NewPluginManager(log logx.Logger, cfgm *ConfigManager, deps PluginDeps, cmdm *CommandManager) *PluginManager {
	if log.IsZero() {
		log = logx.Nop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &PluginManager{
		log:        log.With(logx.String("comp", "plugins")),
		cfgm:       cfgm,
		deps:       deps,
		cmdm:       cmdm,
		reg:        map[string]Plugin{},
		run:        map[string]bool{},
		inited:     map[string]bool{},
		lastHash:   map[string]uint64{},
		baseCtx:    ctx,
		baseCancel: cancel,
		pcancel:    map[string]context.CancelFunc{},
	}
}

func (pm *PluginManager) Register(p ...Plugin) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	for _, pl := range p {
		name := pl.Name()
		if _, dup := pm.reg[name]; !dup {
			pm.order = append(pm.order, name)
		}
		pm.reg[name] = pl
	}
}

// Names returns registered plugin names in registration order.
func (pm *PluginManager) Names() []string {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	return slices.Clone(pm.order)
}

// Running reports whether the named plugin is started.
func (pm *PluginManager) Running(name string) bool {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	return pm.run[name]
}

// DefaultConfigs returns an enabled config section for every registered
// plugin, filled from DefaultConfigProvider where implemented.
func (pm *PluginManager) DefaultConfigs() (map[string]PluginConfigRaw, error) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	out := make(map[string]PluginConfigRaw, len(pm.reg))
	for _, name := range pm.order {
		raw := PluginConfigRaw{Enabled: true}
		if dp, ok := pm.reg[name].(DefaultConfigProvider); ok {
			b, err := json.Marshal(dp.DefaultConfig())
			if err != nil {
				return nil, fmt.Errorf("plugin %s: default config: %w", name, err)
			}
			raw.Config = b
		}
		out[name] = raw
	}
	return out, nil
}

// StartAll brings running plugins in line with the current config. A
// plugin that fails to start stays stopped; the rest continue.
func (pm *PluginManager) StartAll(ctx context.Context) error {
	return pm.reconcile(ctx, pm.cfgm.Get())
}

func (pm *PluginManager) OnConfigUpdate(ctx context.Context, cfg *Config) {
	_ = pm.reconcile(ctx, cfg)
}

// StopAll stops plugins in reverse registration order.
func (pm *PluginManager) StopAll(ctx context.Context) {
	pm.mu.Lock()
	names := slices.Clone(pm.order)
	pm.mu.Unlock()
	slices.Reverse(names)

	for _, name := range names {
		pm.stopOne(ctx, name)
	}
	pm.baseCancel()
}

func (pm *PluginManager) stopOne(stopCtx context.Context, name string) {
	pm.mu.Lock()
	p := pm.reg[name]
	running := pm.run[name]
	cancel := pm.pcancel[name]
	pm.mu.Unlock()
	if !running || p == nil {
		return
	}

	start := time.Now()
	if cancel != nil {
		cancel()
	}
	done := make(chan struct{})
	go func() {
		_ = pm.safeCall("plugin.stop."+name, func() error { return p.Stop(stopCtx) })
		close(done)
	}()
	select {
	case <-done:
	case <-stopCtx.Done():
		pm.log.Warn("plugin stop timeout (continuing)", logx.String("plugin", name), logx.Err(stopCtx.Err()))
	}

	pm.mu.Lock()
	pm.run[name] = false
	delete(pm.pcancel, name)
	delete(pm.lastHash, name)
	pm.mu.Unlock()
	pm.log.Info("plugin stopped", logx.String("plugin", name), logx.Duration("took", time.Since(start)))
}

func (pm *PluginManager) reconcile(ctx context.Context, cfg *Config) error {
	type op struct {
		name    string
		p       Plugin
		raw     PluginConfigRaw
		hash    uint64
		enabled bool
		run     bool
	}
	pm.mu.Lock()
	ops := make([]op, 0, len(pm.order))
	for _, name := range pm.order {
		raw, ok := cfg.Plugins[name]
		ops = append(ops, op{
			name:    name,
			p:       pm.reg[name],
			raw:     raw,
			hash:    config.CanonicalHash(raw.Config),
			enabled: ok && raw.Enabled,
			run:     pm.run[name],
		})
	}
	pm.mu.Unlock()

	var firstErr error
	for _, o := range ops {
		switch {
		case o.enabled && !o.run:
			if err := pm.startOne(ctx, o.name, o.p, o.raw, o.hash); err != nil {
				pm.log.Error("plugin start failed", logx.String("plugin", o.name), logx.Err(err))
				if firstErr == nil {
					firstErr = fmt.Errorf("plugin %s: %w", o.name, err)
				}
			}
		case !o.enabled && o.run:
			stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), callTimeout)
			pm.stopOne(stopCtx, o.name)
			cancel()
		case o.enabled && o.run:
			pm.mu.Lock()
			changed := pm.lastHash[o.name] != o.hash
			pm.mu.Unlock()
			if !changed {
				continue
			}
			cp, ok := o.p.(ConfigurablePlugin)
			if !ok {
				continue
			}
			cctx, cancel := context.WithTimeout(pm.baseCtx, callTimeout)
			err := pm.safeCall("plugin.config."+o.name, func() error { return cp.OnConfigChange(cctx, o.raw.Config) })
			cancel()
			if err != nil {
				// The plugin keeps its previous config.
				pm.log.Warn("plugin config apply failed", logx.String("plugin", o.name), logx.Err(err))
				continue
			}
			pm.mu.Lock()
			pm.lastHash[o.name] = o.hash
			pm.mu.Unlock()
			pm.log.Info("plugin config applied", logx.String("plugin", o.name))
		}
	}

	pm.refreshRegistry()
	return firstErr
}

func (pm *PluginManager) startOne(ctx context.Context, name string, p Plugin, raw PluginConfigRaw, hash uint64) error {
	start := time.Now()

	pm.mu.Lock()
	inited := pm.inited[name]
	deps := pm.deps
	pm.mu.Unlock()
	if !inited {
		deps.Logger = pm.log.With(logx.String("plugin", name))
		ictx, cancel := context.WithTimeout(ctx, callTimeout)
		err := pm.safeCall("plugin.init."+name, func() error { return p.Init(ictx, deps) })
		cancel()
		if err != nil {
			return fmt.Errorf("init: %w", err)
		}
		pm.mu.Lock()
		pm.inited[name] = true
		pm.mu.Unlock()
	}

	if cp, ok := p.(ConfigurablePlugin); ok {
		cctx, cancel := context.WithTimeout(ctx, callTimeout)
		err := pm.safeCall("plugin.config."+name, func() error { return cp.OnConfigChange(cctx, raw.Config) })
		cancel()
		if err != nil {
			return fmt.Errorf("config: %w", err)
		}
	}

	pctx, pcancel := context.WithCancel(pm.baseCtx)
	if err := pm.startWithTimeout(name, p, pctx, pcancel, callTimeout); err != nil {
		pcancel()
		return fmt.Errorf("start: %w", err)
	}

	pm.mu.Lock()
	pm.run[name] = true
	pm.pcancel[name] = pcancel
	pm.lastHash[name] = hash
	pm.mu.Unlock()
	pm.log.Info("plugin started", logx.String("plugin", name), logx.Duration("took", time.Since(start)))
	return nil
}

// startWithTimeout calls Start(pctx) but enforces a deadline. If it times
// out, the plugin context is canceled.
func (pm *PluginManager) startWithTimeout(name string, p Plugin, pctx context.Context, cancel context.CancelFunc, timeout time.Duration) error {
	done := make(chan error, 1)
	go func() {
		done <- pm.safeCall("plugin.start."+name, func() error { return p.Start(pctx) })
	}()

	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case err := <-done:
		return err
	case <-t.C:
		cancel()
		grace := time.NewTimer(2 * time.Second)
		defer grace.Stop()
		select {
		case err := <-done:
			if err != nil {
				return fmt.Errorf("start timeout (%s): %w", timeout, err)
			}
			return fmt.Errorf("start timeout (%s)", timeout)
		case <-grace.C:
			return fmt.Errorf("start timeout (%s): start did not return after cancel", timeout)
		}
	}
}

func (pm *PluginManager) safeCall(label string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			pm.log.Error("panic in plugin call",
				logx.String("call", label),
				logx.Any("panic", r),
				logx.String("stack", string(debug.Stack())),
			)
			err = fmt.Errorf("panic in %s: %v", label, r)
		}
	}()
	return fn()
}

// refreshRegistry publishes commands and observers of running plugins to
// the router, then syncs the platform command menu.
func (pm *PluginManager) refreshRegistry() {
	pm.mu.Lock()
	var (
		cmds []Command
		obs  []router.MessageObserver
	)
	for _, name := range pm.order {
		if !pm.run[name] {
			continue
		}
		p := pm.reg[name]
		for _, c := range pm.safeCommands(name, p) {
			c.PluginName = name
			cmds = append(cmds, c)
		}
		if mo, ok := p.(MessageObserver); ok {
			obs = append(obs, func(ctx context.Context, msg *kit.Message) { mo.ObserveMessage(ctx, msg) })
		}
	}
	pm.mu.Unlock()

	if pm.cmdm == nil {
		return
	}
	pm.cmdm.SetRegistry(cmds)
	pm.cmdm.SetObservers(obs)

	ctx, cancel := context.WithTimeout(context.Background(), validateTimeout)
	defer cancel()
	if err := pm.cmdm.SyncMenu(ctx); err != nil {
		pm.log.Warn("command menu sync failed", logx.Err(err))
	}
}

func (pm *PluginManager) safeCommands(name string, p Plugin) (out []Command) {
	defer func() {
		if r := recover(); r != nil {
			pm.log.Error("panic in plugin Commands()", logx.String("plugin", name), logx.Any("panic", r))
			out = nil
		}
	}()
	return p.Commands()
}

// ValidateConfig runs per-plugin validation before a config is committed.
// It does not call Init/Start/Stop and should be fast.
func (pm *PluginManager) ValidateConfig(ctx context.Context, cfg *Config) error {
	pm.mu.Lock()
	type entry struct {
		name string
		v    ConfigValidator
		raw  PluginConfigRaw
	}
	var checks []entry
	for _, name := range pm.order {
		raw, ok := cfg.Plugins[name]
		if !ok || !raw.Enabled {
			continue
		}
		if v, ok := pm.reg[name].(ConfigValidator); ok {
			checks = append(checks, entry{name: name, v: v, raw: raw})
		}
	}
	pm.mu.Unlock()

	for _, c := range checks {
		cctx, cancel := context.WithTimeout(ctx, validateTimeout)
		err := pm.safeCall("plugin.validate."+c.name, func() error { return c.v.ValidateConfig(cctx, c.raw.Config) })
		cancel()
		if err != nil {
			return fmt.Errorf("plugin %s: %w", c.name, err)
		}
	}
	return nil
}
