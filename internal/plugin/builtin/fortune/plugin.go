// Package fortune implements the daily fortune ("jrrp") plugin: one draw
// per user per day, a bounded per-user history, a daily leaderboard and
// LLM-written flavor text.
package fortune

import (
	"context"
	"encoding/json"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	core "fortunebot/internal/plugin"
	logx "fortunebot/pkg/logx"
)

const Name = "fortune"

// state is everything derived from one applied config.
type state struct {
	s      *settings
	stores *Stores
	story  *narration
}

type Plugin struct {
	core.PluginBase

	state   atomic.Pointer[state]
	gen     *Generator
	flight  singleflight.Group
	metrics *metrics

	now      func() time.Time
	narrator Narrator // fixed narrator, set by WithNarrator
}

type Option func(*Plugin)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option { return func(p *Plugin) { p.now = now } }

// WithRand seeds the fortune generator.
func WithRand(r *rand.Rand) Option { return func(p *Plugin) { p.gen = NewGenerator(r) } }

// WithNarrator bypasses provider selection from config.
func WithNarrator(n Narrator) Option { return func(p *Plugin) { p.narrator = n } }

func New(opts ...Option) *Plugin {
	p := &Plugin{now: time.Now}
	for _, o := range opts {
		o(p)
	}
	if p.gen == nil {
		p.gen = NewGenerator(nil)
	}
	return p
}

func (p *Plugin) Name() string { return Name }

func (p *Plugin) Init(ctx context.Context, deps core.PluginDeps) error {
	p.InitBase(deps, p.Name())
	p.metrics = newMetrics(deps.Metrics)
	return nil
}

func (p *Plugin) Start(ctx context.Context) error {
	p.StartBase(ctx)
	if st := p.state.Load(); st != nil {
		p.schedulePrune(st.s)
	}
	return nil
}

func (p *Plugin) Stop(ctx context.Context) error {
	p.RemoveCron(pruneJob)
	return p.StopBase(ctx)
}

func (p *Plugin) DefaultConfig() any { return DefaultConfig() }

func (p *Plugin) ValidateConfig(ctx context.Context, raw json.RawMessage) error {
	_, err := decodeSettings(raw)
	return err
}

// OnConfigChange applies a new config section. On error the previous
// config stays in effect.
func (p *Plugin) OnConfigChange(ctx context.Context, raw json.RawMessage) error {
	s, err := decodeSettings(raw)
	if err != nil {
		return err
	}
	prev := p.state.Load()

	var stores *Stores
	if prev != nil && prev.stores.Dir == s.cfg.DataDir {
		stores = prev.stores
	} else if stores, err = OpenStores(s.cfg.DataDir, p.Log); err != nil {
		return err
	}

	n := p.narrator
	if n == nil {
		if n, err = NewNarrator(ctx, s.cfg.llm(), nil); err != nil {
			return err
		}
	}
	story := newNarration(n, s.cfg.LLMRatePerSec, s.llmTimeout, p.Log)

	p.state.Store(&state{s: s, stores: stores, story: story})
	if p.Runner != nil {
		p.schedulePrune(s)
	}
	p.Log.Info("fortune config applied",
		logx.Int("min", s.cfg.MinFortune),
		logx.Int("max", s.cfg.MaxFortune),
		logx.String("algorithm", string(s.alg)),
		logx.String("data_dir", s.cfg.DataDir),
		logx.String("timezone", s.loc.String()),
	)
	return nil
}

// snapshot returns the applied state. Commands only run while the plugin is
// started, which requires a successful OnConfigChange.
func (p *Plugin) snapshot() *state { return p.state.Load() }
