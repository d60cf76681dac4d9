// Package rawmsg shows the platform payload behind a chat message, either as
// received or enriched with chat member details. It can also tag replies
// with a short tip pointing at the viewer.
package rawmsg

import (
	"context"
	"encoding/json"
	"strings"
	"sync/atomic"
	"time"

	core "fortunebot/internal/plugin"
	kit "fortunebot/internal/transport"
	logx "fortunebot/pkg/logx"
	"fortunebot/pkg/tgui"
)

const (
	Name    = "rawmsg"
	tipHook = "rawmsg.tip"
	tipSep  = "\n\n"
)

// Entry is one observed message.
type Entry struct {
	MessageID  int
	ChatID     int64
	Raw        json.RawMessage
	Sender     kit.Sender
	ReceivedAt time.Time
}

type msgKey struct {
	chat int64
	id   int
}

type Plugin struct {
	core.PluginBase

	cfg     atomic.Pointer[settings]
	entries *boundedCache[msgKey, Entry]
	tips    *boundedCache[msgKey, string]
	now     func() time.Time
}

func New() *Plugin {
	return &Plugin{
		entries: newBoundedCache[msgKey, Entry](defaultCacheSize),
		tips:    newBoundedCache[msgKey, string](defaultCacheSize),
		now:     time.Now,
	}
}

func (p *Plugin) Name() string { return Name }

func (p *Plugin) Init(ctx context.Context, deps core.PluginDeps) error {
	p.InitBase(deps, p.Name())
	return nil
}

func (p *Plugin) Start(ctx context.Context) error {
	p.StartBase(ctx)
	if out := p.Deps.Outgoing; out != nil {
		out.SetHook(tipHook, p.appendTip)
	}
	return nil
}

func (p *Plugin) Stop(ctx context.Context) error {
	if out := p.Deps.Outgoing; out != nil {
		out.SetHook(tipHook, nil)
	}
	p.tips.Clear()
	return p.StopBase(ctx)
}

func (p *Plugin) DefaultConfig() any { return DefaultConfig() }

func (p *Plugin) ValidateConfig(ctx context.Context, raw json.RawMessage) error {
	_, err := decodeSettings(raw)
	return err
}

func (p *Plugin) OnConfigChange(ctx context.Context, raw json.RawMessage) error {
	s, err := decodeSettings(raw)
	if err != nil {
		return err
	}
	p.entries.Resize(s.cfg.CacheSize)
	p.tips.Resize(s.cfg.CacheSize)
	if !s.cfg.InjectTip {
		p.tips.Clear()
	}
	p.cfg.Store(s)
	p.Log.Info("rawmsg config applied",
		logx.Int("cache_size", s.cfg.CacheSize),
		logx.Bool("inject_tip", s.cfg.InjectTip),
		logx.Duration("lookup_timeout", s.timeout),
	)
	return nil
}

func (p *Plugin) settings() *settings {
	if s := p.cfg.Load(); s != nil {
		return s
	}
	s, _ := decodeSettings(nil)
	return s
}

// ObserveMessage records msg and, when tips are on, queues a tip for the
// first reply to it.
func (p *Plugin) ObserveMessage(ctx context.Context, msg *kit.Message) {
	if msg == nil || msg.ID == 0 {
		return
	}
	k := msgKey{chat: msg.ChatID, id: msg.ID}
	p.entries.Put(k, Entry{
		MessageID:  msg.ID,
		ChatID:     msg.ChatID,
		Raw:        msg.Raw,
		Sender:     msg.From,
		ReceivedAt: p.now(),
	})
	if s := p.settings(); s.cfg.InjectTip {
		p.tips.Put(k, s.tip(msg.ID))
	}
}

// appendTip is the outgoing hook. A tip is used at most once.
func (p *Plugin) appendTip(_ context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) string {
	if opt == nil || opt.ReplyTo == 0 || !p.settings().cfg.InjectTip {
		return text
	}
	tip, ok := p.tips.Take(msgKey{chat: to.ChatID, id: opt.ReplyTo})
	if !ok || tip == "" {
		return text
	}
	if opt.ParseMode == "HTML" {
		tip = tgui.Esc(tip).String()
	}
	if strings.HasSuffix(text, tip) {
		return text
	}
	return text + tipSep + tip
}

// lookup returns the cached entry for (chat, id).
func (p *Plugin) lookup(chat int64, id int) (Entry, bool) {
	return p.entries.Get(msgKey{chat: chat, id: id})
}
