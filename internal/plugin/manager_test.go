package plugin

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fortunebot/internal/config"
	kit "fortunebot/internal/transport"
	"fortunebot/internal/transport/telegram/router"
	"fortunebot/internal/transport/transporttest"
	logx "fortunebot/pkg/logx"
)

type testPlugin struct {
	PluginBase
	name string

	mu       sync.Mutex
	calls    []string
	raw      json.RawMessage
	seen     int
	applyErr error
}

type testConfig struct {
	Greeting string `json:"greeting"`
	Limit    int    `json:"limit"`
}

func (p *testPlugin) Name() string { return p.name }

func (p *testPlugin) note(s string) {
	p.mu.Lock()
	p.calls = append(p.calls, s)
	p.mu.Unlock()
}

func (p *testPlugin) Calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

func (p *testPlugin) Init(ctx context.Context, deps PluginDeps) error {
	p.InitBase(deps, p.Name())
	p.note("init")
	return nil
}

func (p *testPlugin) Start(ctx context.Context) error {
	p.StartBase(ctx)
	p.note("start")
	return nil
}

func (p *testPlugin) Stop(ctx context.Context) error {
	p.note("stop")
	return p.StopBase(ctx)
}

func (p *testPlugin) OnConfigChange(ctx context.Context, raw json.RawMessage) error {
	if p.applyErr != nil {
		return p.applyErr
	}
	p.mu.Lock()
	p.raw = raw
	p.mu.Unlock()
	p.note("config")
	return nil
}

func (p *testPlugin) ValidateConfig(ctx context.Context, raw json.RawMessage) error {
	c, err := DecodePluginConfig(raw, testConfig{})
	if err != nil {
		return err
	}
	if c.Limit < 0 {
		return errors.New("limit must be >= 0")
	}
	return nil
}

func (p *testPlugin) ObserveMessage(ctx context.Context, msg *kit.Message) {
	p.mu.Lock()
	p.seen++
	p.mu.Unlock()
}

func (p *testPlugin) DefaultConfig() any { return testConfig{Greeting: "hi", Limit: 3} }

func (p *testPlugin) Commands() []Command {
	return []Command{{
		Route:       p.name,
		Description: "test",
		Handle:      func(ctx context.Context, req *Request) error { return nil },
	}}
}

func newTestManager(t *testing.T, plugins map[string]PluginConfigRaw) (*PluginManager, *config.ConfigManager, *transporttest.Adapter) {
	t.Helper()
	cfgm := config.NewConfigManager("")
	cfgm.Commit(&config.Config{Plugins: plugins})
	ad := transporttest.New()
	cmdm := router.NewCommandManager(logx.Nop(), ad, cfgm, nil)
	pm := NewPluginManager(logx.Nop(), cfgm, PluginDeps{Adapter: ad, Config: cfgm}, cmdm)
	return pm, cfgm, ad
}

func raw(enabled bool, cfg string) PluginConfigRaw {
	r := PluginConfigRaw{Enabled: enabled}
	if cfg != "" {
		r.Config = json.RawMessage(cfg)
	}
	return r
}

func menuNames(ad *transporttest.Adapter) []string {
	var out []string
	for _, c := range ad.Menu() {
		out = append(out, c.Command)
	}
	return out
}

func TestLifecycleFollowsConfig(t *testing.T) {
	a := &testPlugin{name: "alpha"}
	b := &testPlugin{name: "beta"}
	pm, _, ad := newTestManager(t, map[string]PluginConfigRaw{
		"alpha": raw(true, `{"greeting":"x"}`),
		"beta":  raw(false, ""),
	})
	pm.Register(a, b)

	require.NoError(t, pm.StartAll(context.Background()))
	assert.True(t, pm.Running("alpha"))
	assert.False(t, pm.Running("beta"))
	assert.Equal(t, []string{"init", "config", "start"}, a.Calls())
	assert.Empty(t, b.Calls())
	assert.Contains(t, menuNames(ad), "alpha")
	assert.NotContains(t, menuNames(ad), "beta")

	// Unchanged section: no OnConfigChange. Enabling beta starts it.
	pm.OnConfigUpdate(context.Background(), &config.Config{Plugins: map[string]PluginConfigRaw{
		"alpha": raw(true, `{ "greeting" : "x" }`),
		"beta":  raw(true, ""),
	}})
	assert.Equal(t, []string{"init", "config", "start"}, a.Calls())
	assert.True(t, pm.Running("beta"))
	assert.Contains(t, menuNames(ad), "beta")

	// Changed section is applied in place.
	pm.OnConfigUpdate(context.Background(), &config.Config{Plugins: map[string]PluginConfigRaw{
		"alpha": raw(true, `{"greeting":"y"}`),
		"beta":  raw(true, ""),
	}})
	assert.Equal(t, []string{"init", "config", "start", "config"}, a.Calls())

	// Disable then re-enable: Init is not repeated.
	off := map[string]PluginConfigRaw{"alpha": raw(false, ""), "beta": raw(true, "")}
	pm.OnConfigUpdate(context.Background(), &config.Config{Plugins: off})
	assert.False(t, pm.Running("alpha"))
	on := map[string]PluginConfigRaw{"alpha": raw(true, `{"greeting":"y"}`), "beta": raw(true, "")}
	pm.OnConfigUpdate(context.Background(), &config.Config{Plugins: on})
	assert.Equal(t, []string{"init", "config", "start", "config", "stop", "config", "start"}, a.Calls())

	pm.StopAll(context.Background())
	assert.False(t, pm.Running("alpha"))
	assert.False(t, pm.Running("beta"))
}

func TestFailedConfigApplyKeepsPluginRunning(t *testing.T) {
	a := &testPlugin{name: "alpha"}
	pm, _, _ := newTestManager(t, map[string]PluginConfigRaw{"alpha": raw(true, `{"limit":1}`)})
	pm.Register(a)
	require.NoError(t, pm.StartAll(context.Background()))

	a.applyErr = errors.New("bad")
	pm.OnConfigUpdate(context.Background(), &config.Config{Plugins: map[string]PluginConfigRaw{"alpha": raw(true, `{"limit":2}`)}})
	assert.True(t, pm.Running("alpha"))
	assert.JSONEq(t, `{"limit":1}`, string(a.raw))
	pm.StopAll(context.Background())
}

func TestValidateConfig(t *testing.T) {
	pm, _, _ := newTestManager(t, nil)
	pm.Register(&testPlugin{name: "alpha"})

	ok := &config.Config{Plugins: map[string]PluginConfigRaw{"alpha": raw(true, `{"limit":1}`)}}
	assert.NoError(t, pm.ValidateConfig(context.Background(), ok))

	bad := &config.Config{Plugins: map[string]PluginConfigRaw{"alpha": raw(true, `{"limit":-1}`)}}
	assert.ErrorContains(t, pm.ValidateConfig(context.Background(), bad), "plugin alpha")

	unknown := &config.Config{Plugins: map[string]PluginConfigRaw{"alpha": raw(true, `{"nope":1}`)}}
	assert.Error(t, pm.ValidateConfig(context.Background(), unknown))

	// Disabled sections are not validated.
	disabled := &config.Config{Plugins: map[string]PluginConfigRaw{"alpha": raw(false, `{"limit":-1}`)}}
	assert.NoError(t, pm.ValidateConfig(context.Background(), disabled))
}

func TestObserversAndDefaults(t *testing.T) {
	a := &testPlugin{name: "alpha"}
	pm, _, _ := newTestManager(t, map[string]PluginConfigRaw{"alpha": raw(true, "")})
	pm.Register(a)
	require.NoError(t, pm.StartAll(context.Background()))
	cmdm := pm.cmdm

	ctx, cancel := context.WithCancel(context.Background())
	updates := make(chan kit.Update, 1)
	done := make(chan error, 1)
	go func() { done <- cmdm.DispatchLoop(ctx, updates) }()
	updates <- kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{ID: 1, ChatID: 1, ChatType: kit.ChatPrivate, Text: "hello"}}
	require.Eventually(t, func() bool {
		a.mu.Lock()
		defer a.mu.Unlock()
		return a.seen == 1
	}, time.Second, 5*time.Millisecond)
	cancel()
	<-done

	defs, err := pm.DefaultConfigs()
	require.NoError(t, err)
	require.Contains(t, defs, "alpha")
	assert.True(t, defs["alpha"].Enabled)
	assert.JSONEq(t, `{"greeting":"hi","limit":3}`, string(defs["alpha"].Config))
	pm.StopAll(context.Background())
}

func TestDecodePluginConfigKeepsDefaults(t *testing.T) {
	got, err := DecodePluginConfig(json.RawMessage(`{"limit":9}`), testConfig{Greeting: "hi", Limit: 3})
	require.NoError(t, err)
	assert.Equal(t, testConfig{Greeting: "hi", Limit: 9}, got)

	got, err = DecodePluginConfig(nil, testConfig{Greeting: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "hi", got.Greeting)
}
