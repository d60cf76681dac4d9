package rawmsg

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	core "fortunebot/internal/plugin"
	kit "fortunebot/internal/transport"
	"fortunebot/internal/transport/transporttest"
	logx "fortunebot/pkg/logx"
	"fortunebot/pkg/tgui"
)

type harness struct {
	t   *testing.T
	p   *Plugin
	fk  *transporttest.Adapter
	out *kit.Outgoing
}

func newHarness(t *testing.T, cfg string) *harness {
	t.Helper()
	fk := transporttest.New()
	h := &harness{t: t, p: New(), fk: fk, out: kit.NewOutgoing(fk)}
	ctx := context.Background()
	require.NoError(t, h.p.Init(ctx, core.PluginDeps{Logger: logx.Nop(), Adapter: h.out, Outgoing: h.out}))
	require.NoError(t, h.p.OnConfigChange(ctx, json.RawMessage(cfg)))
	require.NoError(t, h.p.Start(ctx))
	t.Cleanup(func() { _ = h.p.Stop(context.Background()) })
	return h
}

func message(id int, text string) *kit.Message {
	raw := fmt.Sprintf(`{"message_id":%d,"from":{"id":42,"first_name":"Ann"},"chat":{"id":-100,"type":"supergroup"},"text":%q}`, id, text)
	return &kit.Message{
		ID:       id,
		ChatID:   -100,
		ChatType: kit.ChatSuperGroup,
		From:     kit.Sender{ID: 42, FirstName: "Ann"},
		Text:     text,
		Raw:      json.RawMessage(raw),
	}
}

func (h *harness) run(handle core.HandlerFunc, m *kit.Message, ad kit.Adapter) string {
	h.t.Helper()
	h.p.ObserveMessage(context.Background(), m)
	req := &core.Request{Message: m, Chat: m.Target(), From: m.From, Adapter: ad, Logger: logx.Nop()}
	require.NoError(h.t, handle(context.Background(), req))
	return html.UnescapeString(h.fk.Last())
}

func TestRawDumpsRepliedMessage(t *testing.T) {
	h := newHarness(t, `{}`)
	h.p.ObserveMessage(context.Background(), message(5, "hello"))

	cmd := message(6, "/rawmsg")
	cmd.ReplyTo = &kit.Reply{MessageID: 5}
	got := h.run(h.p.handleRaw, cmd, h.out)

	assert.Contains(t, got, "Raw message #5")
	assert.Contains(t, got, `"text": "hello"`)
	assert.Contains(t, got, "Ann (42)")
	sent := h.fk.Sent()
	assert.Equal(t, "HTML", sent[len(sent)-1].Opt.ParseMode)
	assert.Equal(t, 6, sent[len(sent)-1].Opt.ReplyTo)
}

func TestRawWithoutReplyDumpsCommand(t *testing.T) {
	h := newHarness(t, `{}`)
	got := h.run(h.p.handleRaw, message(7, "/raw"), h.out)
	assert.Contains(t, got, `"message_id": 7`)
}

func TestRawUnknownReply(t *testing.T) {
	h := newHarness(t, `{"cache_size": 2}`)
	cmd := message(6, "/rawmsg")
	cmd.ReplyTo = &kit.Reply{MessageID: 1}
	got := h.run(h.p.handleRaw, cmd, h.out)
	assert.Equal(t, "❌ message #1 is not in the cache (only the last 2 messages are kept)", got)
}

func TestRawTruncatesToMessageLimit(t *testing.T) {
	h := newHarness(t, `{}`)
	big := message(8, strings.Repeat("<&>", 3000))
	h.p.ObserveMessage(context.Background(), big)

	cmd := message(9, "/rawmsg")
	cmd.ReplyTo = &kit.Reply{MessageID: 8}
	h.run(h.p.handleRaw, cmd, h.out)

	raw := h.fk.Last()
	assert.LessOrEqual(t, utf8.RuneCountInString(raw), tgui.MaxMessageLen)
	assert.True(t, strings.HasSuffix(raw, "\n…</code></pre>"))
}

func TestEnrichCommand(t *testing.T) {
	h := newHarness(t, `{}`)
	h.fk.Members[42] = kit.Member{UserID: 42, FirstName: "Ann", Role: "administrator"}

	got := h.run(h.p.handleEnrich, message(10, "/rawx"), h.out)
	assert.Contains(t, got, "Enriched message #10")
	assert.Contains(t, got, `"x_sender_member"`)
	assert.Contains(t, got, `"role": "administrator"`)

	got = h.run(h.p.handleEnrich, message(11, "/rawx"), transporttest.Plain{A: h.fk})
	assert.Contains(t, got, `"x_enrich_error": "adapter cannot look up chat members"`)
}

func TestTipAppendedOncePerMessage(t *testing.T) {
	h := newHarness(t, `{"inject_tip": true}`)
	ctx := context.Background()
	h.p.ObserveMessage(ctx, message(12, "/jrrp"))
	to := kit.ChatTarget{ChatID: -100}

	_, err := h.out.SendText(ctx, to, "first", &kit.SendOptions{ReplyTo: 12})
	require.NoError(t, err)
	_, err = h.out.SendText(ctx, to, "second", &kit.SendOptions{ReplyTo: 12})
	require.NoError(t, err)
	_, err = h.out.SendText(ctx, to, "plain", nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"first\n\n💡 msg #12 · /rawmsg", "second", "plain"}, h.fk.Texts())
}

func TestTipOffAndHookRemovedOnStop(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, `{}`)
	h.p.ObserveMessage(ctx, message(13, "hi"))
	_, err := h.out.SendText(ctx, kit.ChatTarget{ChatID: -100}, "reply", &kit.SendOptions{ReplyTo: 13})
	require.NoError(t, err)
	assert.Equal(t, "reply", h.fk.Last())

	require.NoError(t, h.p.OnConfigChange(ctx, json.RawMessage(`{"inject_tip": true, "tip_template": "see {id}"}`)))
	h.p.ObserveMessage(ctx, message(14, "hi"))
	require.NoError(t, h.p.Stop(ctx))
	_, err = h.out.SendText(ctx, kit.ChatTarget{ChatID: -100}, "after stop", &kit.SendOptions{ReplyTo: 14})
	require.NoError(t, err)
	assert.Equal(t, "after stop", h.fk.Last())
}

func TestDecodeSettings(t *testing.T) {
	s, err := decodeSettings(nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), s.cfg)
	assert.Equal(t, defaultLookupTimeout, s.timeout)
	assert.Equal(t, "💡 msg #7 · /rawmsg", s.tip(7))

	_, err = decodeSettings(json.RawMessage(`{"cache_size": 0, "tip_template": "{nope}", "lookup_timeout": "soon"}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cache_size")
	assert.Contains(t, err.Error(), "{nope}")
	assert.Contains(t, err.Error(), "lookup_timeout")

	_, err = decodeSettings(json.RawMessage(`{"bogus": 1}`))
	assert.Error(t, err)
}
