package router

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kit "fortunebot/internal/transport"
	"fortunebot/internal/transport/transporttest"
	logx "fortunebot/pkg/logx"
)

func TestTokenizeCommandLine(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{`/jrrp`, []string{"/jrrp"}},
		{`  /cmd a  "b c" --k=v `, []string{"/cmd", "a", "b c", "--k=v"}},
		{`/cmd 'x "y"' z\ w`, []string{"/cmd", `x "y"`, "z w"}},
		{`/cmd ""`, []string{"/cmd", ""}},
		{``, nil},
	}
	for _, tt := range tests {
		if diff := cmp.Diff(tt.want, tokenizeCommandLine(tt.in)); diff != "" {
			t.Errorf("tokenizeCommandLine(%q) mismatch (-want +got):\n%s", tt.in, diff)
		}
	}
}

func TestParseFlags(t *testing.T) {
	pos, flags, bools := parseFlags([]string{"a", "--confirm", "--n=3", "--name", "x", "-v", "-ab", "--", "--raw"})
	assert.Equal(t, []string{"a", "--raw"}, pos)
	assert.Equal(t, map[string]string{"n": "3", "name": "x"}, flags)
	assert.Equal(t, map[string]bool{"confirm": true, "v": true, "a": true, "b": true}, bools)
}

func TestCommandWord(t *testing.T) {
	assert.Equal(t, "jrrp", commandWord("/jrrp@FortuneBot"))
	assert.Equal(t, "jrrp", commandWord("/JRRP"))
}

func newManager(t *testing.T, a kit.Adapter, owners []int64, cmds ...Command) *CommandManager {
	t.Helper()
	m := NewCommandManager(logx.Nop(), a, nil, owners, WithWorkers(2))
	m.SetRegistry(cmds)
	return m
}

func TestResolveAliasesAndSubcommands(t *testing.T) {
	noop := func(context.Context, *Request) error { return nil }
	m := newManager(t, transporttest.New(), nil,
		Command{Route: "rawmsg", Aliases: []string{"raw"}, Handle: noop},
		Command{Route: "rawmsg enrich", Aliases: []string{"rawx"}, Handle: noop},
		Command{Route: "jrrpdelete", Aliases: []string{"jrrpdel"}, Handle: noop},
	)

	for _, tc := range []struct {
		text  string
		route string
		args  []string
	}{
		{"/rawmsg", "rawmsg", []string{}},
		{"/raw", "rawmsg", []string{}},
		{"/rawmsg enrich", "rawmsg enrich", []string{}},
		{"/rawmsg_enrich", "rawmsg enrich", []string{}},
		{"/rawx --pretty", "rawmsg enrich", []string{"--pretty"}},
		{"/jrrpdel --confirm", "jrrpdelete", []string{"--confirm"}},
		{"/rawmsg other", "rawmsg", []string{"other"}},
	} {
		node, _, args := m.resolve(tc.text)
		require.NotNil(t, node, tc.text)
		require.NotNil(t, node.cmd, tc.text)
		assert.Equal(t, tc.route, node.cmd.Route, tc.text)
		assert.Equal(t, tc.args, append([]string{}, args...), tc.text)
	}
	node, _, _ := m.resolve("/nope")
	assert.Nil(t, node)
}

func runLoop(t *testing.T, m *CommandManager) chan<- kit.Update {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	updates := make(chan kit.Update, 8)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.DispatchLoop(ctx, updates)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return updates
}

func msg(id int, from int64, text string) kit.Update {
	return kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{
		ID: id, ChatID: -100, ChatType: kit.ChatSuperGroup,
		From: kit.Sender{ID: from, FirstName: "U"}, Text: text,
	}}
}

func TestDispatchRunsHandlerWithParsedRequest(t *testing.T) {
	a := transporttest.New()
	got := make(chan *Request, 1)
	m := newManager(t, a, []int64{1},
		Command{Route: "jrrpdelete", PluginName: "fortune", Handle: func(ctx context.Context, req *Request) error {
			got <- req
			_, err := req.Reply(ctx, "ok")
			return err
		}},
	)
	updates := runLoop(t, m)
	updates <- msg(7, 42, "/jrrpdelete --confirm")

	select {
	case req := <-got:
		assert.True(t, req.HasFlag("confirm"))
		assert.False(t, req.HasFlag("force"))
		assert.False(t, req.IsOwner)
		assert.Equal(t, int64(42), req.From.ID)
		assert.Equal(t, []string{"jrrpdelete"}, req.Path)
		assert.NotEmpty(t, req.ReqID)
	case <-time.After(2 * time.Second):
		t.Fatal("handler not called")
	}
	sent := a.WaitSent(1, time.Second)
	require.Len(t, sent, 1)
	assert.Equal(t, "ok", sent[0].Text)
	assert.Equal(t, 7, sent[0].Opt.ReplyTo)
}

func TestOwnerOnlyRejectsOthers(t *testing.T) {
	a := transporttest.New()
	var calls atomic.Int32
	reg := prometheus.NewRegistry()
	m := NewCommandManager(logx.Nop(), a, nil, []int64{1}, WithMetrics(NewMetrics(reg)))
	m.SetRegistry([]Command{{Route: "jrrpreset", Access: AccessOwnerOnly, Handle: func(context.Context, *Request) error {
		calls.Add(1)
		return nil
	}}})
	updates := runLoop(t, m)

	updates <- msg(1, 42, "/jrrpreset --confirm")
	sent := a.WaitSent(1, time.Second)
	require.Len(t, sent, 1)
	assert.Equal(t, "unauthorized", sent[0].Text)
	assert.Zero(t, calls.Load())
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(m.metrics.rejected.WithLabelValues("unauthorized")) == 1
	}, time.Second, 5*time.Millisecond)

	updates <- msg(2, 1, "/jrrpreset")
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(m.metrics.requests.WithLabelValues("jrrpreset", "ok")) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestObserversSeeEveryMessage(t *testing.T) {
	a := transporttest.New()
	m := newManager(t, a, nil)
	var seen atomic.Int32
	m.SetObservers([]MessageObserver{
		func(context.Context, *kit.Message) { panic("observer bug") },
		func(context.Context, *kit.Message) { seen.Add(1) },
	})
	updates := runLoop(t, m)
	updates <- msg(1, 5, "hello")
	updates <- msg(2, 5, "/unknown")
	require.Eventually(t, func() bool { return seen.Load() == 2 }, time.Second, 5*time.Millisecond)
	// unknown commands in groups get no reply
	assert.Empty(t, a.Sent())
}

func TestHelpAndMenu(t *testing.T) {
	a := transporttest.New()
	noop := func(context.Context, *Request) error { return nil }
	m := newManager(t, a, nil,
		Command{Route: "jrrp", Aliases: []string{"fortune"}, Description: "今日人品", Handle: noop},
		Command{Route: "jrrpreset", Description: "清除所有数据", Access: AccessOwnerOnly, Handle: noop},
		Command{Route: "rawmsg enrich", Description: "增强原始消息", Handle: noop},
	)

	top := m.helpText(nil)
	assert.Contains(t, top, "<code>/jrrp</code> · 今日人品")
	assert.Contains(t, top, "• 🔒 <code>/jrrpreset</code>")

	detail := m.helpText([]string{"fortune"})
	assert.Contains(t, detail, "<code>/jrrp</code>")
	assert.Contains(t, detail, "<code>/fortune</code>")

	group := m.helpText([]string{"rawmsg"})
	assert.Contains(t, group, "<code>/rawmsg enrich</code>")

	require.NoError(t, m.SyncMenu(context.Background()))
	var names []string
	for _, c := range a.Menu() {
		names = append(names, c.Command)
	}
	assert.Equal(t, []string{"help", "jrrp", "jrrpreset", "rawmsg", "rawmsg_enrich"}, names)
}

func TestSanitizeTelegramCommand(t *testing.T) {
	assert.Equal(t, "jrrp_rank", sanitizeTelegramCommand("JRRP-rank"))
	assert.Equal(t, "cmd_1a", sanitizeTelegramCommand("1a"))
	assert.Equal(t, "", sanitizeTelegramCommand("!!"))
}
