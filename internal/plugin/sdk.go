package plugin

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"fortunebot/internal/eventbus"
	"fortunebot/internal/storage"
	"fortunebot/internal/task/scheduler"
	kit "fortunebot/internal/transport"
	logx "fortunebot/pkg/logx"
)

type Plugin interface {
	Name() string
	Init(ctx context.Context, deps PluginDeps) error
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Commands() []Command
}

// ConfigurablePlugin receives its raw config section before Start and on
// every change while running.
type ConfigurablePlugin interface {
	OnConfigChange(ctx context.Context, raw json.RawMessage) error
}

// ConfigValidator checks a config section without applying it.
type ConfigValidator interface {
	ValidateConfig(ctx context.Context, raw json.RawMessage) error
}

// MessageObserver plugins see every incoming message, commands included.
// ObserveMessage runs on the dispatch goroutine and must return quickly.
type MessageObserver interface {
	ObserveMessage(ctx context.Context, msg *kit.Message)
}

// DefaultConfigProvider supplies the config section written by
// `fortunebot init`.
type DefaultConfigProvider interface {
	DefaultConfig() any
}

// Scheduler is the subset of the task scheduler plugins may use.
type Scheduler interface {
	AddCron(name, spec string, timeout time.Duration, job scheduler.Job) (string, error)
	Remove(name string) bool
}

type PluginDeps struct {
	Logger  logx.Logger
	Adapter kit.Adapter
	// Outgoing decorates every text sent through Adapter. May be nil.
	Outgoing  *kit.Outgoing
	Config    *ConfigManager
	Bus       eventbus.Bus
	Store     storage.Store
	Scheduler Scheduler
	Metrics   prometheus.Registerer
}

// PluginBase carries the boilerplate every plugin shares:
//
//	type Plugin struct{ plugin.PluginBase }
//	func (p *Plugin) Init(ctx context.Context, d plugin.PluginDeps) error { p.InitBase(d, p.Name()); return nil }
//	func (p *Plugin) Start(ctx context.Context) error { p.StartBase(ctx); return nil }
//	func (p *Plugin) Stop(ctx context.Context) error  { return p.StopBase(ctx) }
type PluginBase struct {
	Log    logx.Logger
	Deps   PluginDeps
	Runner *Supervisor

	name string
	ctx  context.Context
}

func (b *PluginBase) InitBase(deps PluginDeps, name string) {
	b.Deps = deps
	b.name = name
	log := deps.Logger
	if log.IsZero() {
		log = logx.Nop()
	}
	b.Log = log.With(logx.String("plugin", name))
}

// StartBase creates the plugin supervisor tied to ctx.
func (b *PluginBase) StartBase(ctx context.Context) {
	b.ctx = ctx
	b.Runner = NewSupervisor(ctx, WithLogger(b.Log), WithCancelOnError(false))
}

// StopBase cancels the plugin supervisor and waits, bounded by ctx.
func (b *PluginBase) StopBase(ctx context.Context) error {
	if b.Runner == nil {
		return nil
	}
	b.Runner.Cancel()
	err := b.Runner.Wait(ctx)
	b.Runner = nil
	return err
}

// Context is the plugin run context, canceled on stop or disable.
func (b *PluginBase) Context() context.Context {
	if b.ctx == nil {
		return context.Background()
	}
	return b.ctx
}

func (b *PluginBase) jobName(name string) string { return b.name + ":" + name }

// Cron registers a job namespaced by plugin name ("fortune:prune").
func (b *PluginBase) Cron(name, spec string, timeout time.Duration, job scheduler.Job) (string, error) {
	if b.Deps.Scheduler == nil {
		return "", errors.New("scheduler not available")
	}
	return b.Deps.Scheduler.AddCron(b.jobName(name), spec, timeout, job)
}

func (b *PluginBase) RemoveCron(name string) bool {
	if b.Deps.Scheduler == nil {
		return false
	}
	return b.Deps.Scheduler.Remove(b.jobName(name))
}

// PublishEvent is a non-blocking publish to the event bus, if any.
func (b *PluginBase) PublishEvent(typ string, actor int64, data map[string]any) {
	if b.Deps.Bus == nil {
		return
	}
	b.Deps.Bus.Publish(eventbus.Event{Type: typ, Actor: actor, Data: data})
}

// Audit appends e to the audit store, if one is configured. Failures are
// logged, not returned.
func (b *PluginBase) Audit(ctx context.Context, e storage.AuditEntry) {
	if b.Deps.Store == nil {
		return
	}
	e.Plugin = b.name
	if err := b.Deps.Store.AppendAudit(ctx, e); err != nil {
		b.Log.Warn("audit append failed", logx.String("action", e.Action), logx.Err(err))
	}
}

// IsOwner reports whether userID is a configured bot owner.
func (b *PluginBase) IsOwner(userID int64) bool {
	return b.Deps.Config != nil && b.Deps.Config.Get().IsOwner(userID)
}

// DecodePluginConfig decodes raw over a copy of def, so keys missing from
// raw keep their default values. Unknown keys are rejected.
func DecodePluginConfig[T any](raw json.RawMessage, def T) (T, error) {
	out := def
	if len(bytes.TrimSpace(raw)) == 0 || string(bytes.TrimSpace(raw)) == "null" {
		return out, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&out); err != nil {
		return def, fmt.Errorf("decode plugin config: %w", err)
	}
	return out, nil
}
