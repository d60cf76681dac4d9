package fortune

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fortunebot/internal/eventbus"
	core "fortunebot/internal/plugin"
	"fortunebot/internal/storage"
	kit "fortunebot/internal/transport"
	"fortunebot/internal/transport/transporttest"
	logx "fortunebot/pkg/logx"
)

var shanghai = func() *time.Location {
	loc, err := time.LoadLocation("Asia/Shanghai")
	if err != nil {
		panic(err)
	}
	return loc
}()

type harness struct {
	t     *testing.T
	p     *Plugin
	ad    *transporttest.Adapter
	dir   string
	bus   eventbus.Bus
	calls atomic.Int32
	seq   atomic.Int64

	mu  sync.Mutex
	now time.Time
}

// newHarness configures a plugin with a fixed clock, a seeded generator
// and a narrator that echoes its prompt.
func newHarness(t *testing.T, extra string) *harness {
	t.Helper()
	h := &harness{
		t:   t,
		ad:  transporttest.New(),
		dir: t.TempDir(),
		bus: eventbus.New(),
		now: time.Date(2024, 1, 1, 8, 15, 2, 0, shanghai),
	}
	narrator := funcNarrator(func(_ context.Context, prompt, _ string) (string, error) {
		h.calls.Add(1)
		return "LLM:" + prompt, nil
	})
	h.p = New(
		WithClock(h.clock),
		WithRand(rand.New(rand.NewPCG(42, 42))),
		WithNarrator(narrator),
	)
	require.NoError(t, h.p.Init(context.Background(), core.PluginDeps{
		Logger:  logx.Nop(),
		Adapter: h.ad,
		Bus:     h.bus,
		Metrics: prometheus.NewRegistry(),
	}))
	raw := fmt.Sprintf(`{"data_dir": %q%s}`, h.dir, extra)
	require.NoError(t, h.p.OnConfigChange(context.Background(), json.RawMessage(raw)))
	return h
}

func (h *harness) clock() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.now
}

func (h *harness) setNow(t time.Time) {
	h.mu.Lock()
	h.now = t
	h.mu.Unlock()
}

type msgOpt func(*kit.Message)

func inPrivate(m *kit.Message) { m.ChatType = kit.ChatPrivate; m.ChatID = m.From.ID }

func from(id int64, first string) msgOpt {
	return func(m *kit.Message) { m.From = kit.Sender{ID: id, FirstName: first} }
}

// run invokes handle for a message in group -100 and returns the replies.
func (h *harness) run(handle core.HandlerFunc, args []string, opts ...msgOpt) []string {
	h.t.Helper()
	id := h.seq.Add(1)
	m := &kit.Message{
		ID:       int(id),
		ChatID:   -100,
		ChatType: kit.ChatSuperGroup,
		From:     kit.Sender{ID: 42, FirstName: "Alice"},
	}
	for _, o := range opts {
		o(m)
	}
	bools := map[string]bool{}
	var pos []string
	for _, a := range args {
		if strings.HasPrefix(a, "--") {
			bools[strings.TrimPrefix(a, "--")] = true
			continue
		}
		pos = append(pos, a)
	}
	req := &core.Request{
		Message:   m,
		Chat:      m.Target(),
		From:      m.From,
		Args:      pos,
		BoolFlags: bools,
		ReqID:     strconv.FormatInt(id, 10),
		Adapter:   h.ad,
		Logger:    logx.Nop(),
	}
	before := len(h.ad.Sent())
	require.NoError(h.t, handle(context.Background(), req))
	var out []string
	for _, s := range h.ad.Sent()[before:] {
		out = append(out, s.Text)
	}
	return out
}

func TestJrrpDrawsOnceThenServesCache(t *testing.T) {
	h := newHarness(t, "")

	first := h.run(h.p.handleJrrp, nil)
	require.Len(t, first, 2)
	assert.Equal(t, "神秘的能量汇聚，Alice，你的命运即将显现，正在祈祷中...", first[0])
	assert.Contains(t, first[1], "🔮 LLM:使用Alice的简称称呼")
	assert.Equal(t, int32(2), h.calls.Load())

	rec, ok := h.p.snapshot().stores.Records.Get("2024-01-01", "42")
	require.True(t, ok)
	assert.GreaterOrEqual(t, rec.Value, 0)
	assert.LessOrEqual(t, rec.Value, 100)
	assert.Equal(t, "08:15:02", rec.Time)
	assert.Equal(t, "Alice", rec.DisplayName)
	assert.Contains(t, first[1], fmt.Sprintf("💎 人品值：%d", rec.Value))

	h.setNow(h.clock().Add(3 * time.Hour))
	second := h.run(h.p.handleJrrp, nil)
	require.Len(t, second, 1)
	label, icon := DefaultTiers().Classify(rec.Value)
	assert.True(t, strings.HasPrefix(second[0],
		fmt.Sprintf("📌 今日人品\nAlice，今天已经查询过了哦~\n今日人品值: %d\n运势: %s %s", rec.Value, label, icon)))
	assert.Contains(t, second[0], "-----以下为今日运势测算场景还原-----")
	assert.Equal(t, int32(2), h.calls.Load(), "no second draw")

	hist := h.p.snapshot().stores.History.Get("42")
	assert.Equal(t, []HistoryEntry{{Date: "2024-01-01", Value: rec.Value}}, hist)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.p.metrics.cached))
}

func TestJrrpTodayFollowsPluginTimezone(t *testing.T) {
	h := newHarness(t, "")
	// 2024-01-01 23:30 UTC is already 2024-01-02 in Shanghai.
	h.setNow(time.Date(2024, 1, 1, 23, 30, 0, 0, time.UTC))
	h.run(h.p.handleJrrp, nil)
	_, ok := h.p.snapshot().stores.Records.Get("2024-01-02", "42")
	assert.True(t, ok)
}

func TestJrrpCachedWithoutScene(t *testing.T) {
	h := newHarness(t, `, "show_cached_result": false`)
	h.run(h.p.handleJrrp, nil)
	out := h.run(h.p.handleJrrp, nil)
	require.Len(t, out, 1)
	assert.NotContains(t, out[0], "场景还原")
}

func TestJrrpFallsBackWithoutProvider(t *testing.T) {
	h := newHarness(t, "")
	h.p.narrator = nil
	require.NoError(t, h.p.OnConfigChange(context.Background(), json.RawMessage(fmt.Sprintf(`{"data_dir": %q}`, h.dir))))

	out := h.run(h.p.handleJrrp, nil)
	require.Len(t, out, 2)
	assert.Contains(t, out[1], "🔮 Alice的水晶球中浮现出神秘的光芒...")
	assert.Contains(t, out[1], "💬 建议：保持平常心，做好自己。")
}

func TestJrrpDisabled(t *testing.T) {
	h := newHarness(t, `, "enable_plugin": false`)
	assert.Equal(t, []string{msgDisabled}, h.run(h.p.handleJrrp, nil))
	assert.Equal(t, []string{msgDisabled}, h.run(h.p.handleRank, nil))
	assert.Equal(t, []string{msgDisabled}, h.run(h.p.handleHistory, nil))
}

func TestJrrpTitleFromMemberLookup(t *testing.T) {
	h := newHarness(t, "")
	h.ad.Members[42] = kit.Member{UserID: 42, Title: "Boss"}
	h.run(h.p.handleJrrp, nil)
	rec, ok := h.p.snapshot().stores.Records.Get("2024-01-01", "42")
	require.True(t, ok)
	assert.Equal(t, "[Boss]Alice", rec.DisplayName)
	assert.Equal(t, "Boss", rec.UserInfo.Title)

	// Private chats skip the lookup.
	h.run(h.p.handleJrrp, nil, from(7, ""), inPrivate)
	rec, ok = h.p.snapshot().stores.Records.Get("2024-01-01", "7")
	require.True(t, ok)
	assert.Equal(t, "用户7", rec.DisplayName)
}

func TestConcurrentJrrpYieldsOneRecord(t *testing.T) {
	h := newHarness(t, "")
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.run(h.p.handleJrrp, nil)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(2), h.calls.Load())
	assert.Len(t, h.p.snapshot().stores.History.Get("42"), 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.p.metrics.draws.WithLabelValues("random")))
	n := 0
	for _, s := range h.ad.Texts() {
		if strings.HasPrefix(s, "神秘的能量汇聚") {
			n++
		}
	}
	assert.Equal(t, 1, n, "one detecting message")
}

func TestRank(t *testing.T) {
	h := newHarness(t, "")
	assert.Equal(t, []string{msgRankEmpty}, h.run(h.p.handleRank, nil))
	assert.Equal(t, []string{msgRankGroupOnly}, h.run(h.p.handleRank, nil, inPrivate))

	recs := h.p.snapshot().stores.Records
	put := func(user string, v int, at time.Time, info *UserInfo) {
		_, _, err := recs.PutIfAbsent("2024-01-01", user, FortuneRecord{Value: v, UserInfo: info, CreatedAt: at})
		require.NoError(t, err)
	}
	base := h.clock()
	put("1", 50, base.Add(time.Minute), &UserInfo{UserID: "1", Nickname: "late"})
	put("2", 50, base, &UserInfo{UserID: "2", Nickname: "early"})
	put("3", 99, base, &UserInfo{UserID: "3", Nickname: "top", Title: "VIP"})
	put("4", 10, base, nil)
	for i := 5; i <= 7; i++ {
		put(strconv.Itoa(i), 1, base.Add(time.Duration(i)*time.Second), &UserInfo{Nickname: "u" + strconv.Itoa(i)})
	}

	out := h.run(h.p.handleRank, nil)
	require.Len(t, out, 1)
	want := strings.Join([]string{
		"📊【今日人品排行榜】2024-01-01",
		"━━━━━━━━━━━━━━━",
		"🥇 [VIP]top: 99 (极其好运)",
		"🥈 early: 50 (好运)",
		"🥉 late: 50 (好运)",
		"🏅 未知用户: 10 (十分不顺)",
		"🏅 u5: 1 (倒大霉)",
		"6. u6: 1 (倒大霉)",
		"7. u7: 1 (倒大霉)",
	}, "\n")
	assert.Equal(t, want, out[0])
}

func TestHistory(t *testing.T) {
	h := newHarness(t, "")
	assert.Equal(t, []string{"Alice 还没有人品测试记录"}, h.run(h.p.handleHistory, nil))

	hist := h.p.snapshot().stores.History
	for i := 1; i <= 12; i++ {
		require.NoError(t, hist.Append("42", HistoryEntry{Date: fmt.Sprintf("2024-01-%02d", i), Value: i * 5}, 30))
	}
	out := h.run(h.p.handleHistory, nil)
	require.Len(t, out, 1)
	assert.True(t, strings.HasPrefix(out[0], "📚 Alice 的人品历史记录\n2024-01-03: 15 (略微不顺)\n"), out[0])
	assert.NotContains(t, out[0], "2024-01-02:")
	assert.Contains(t, out[0], "2024-01-12: 60 (好运)")
	// Stats cover all twelve entries, not only the ten shown.
	assert.Contains(t, out[0], "平均人品值: 32.5\n最高人品值: 60\n最低人品值: 5")
}

func TestDeleteRequiresConfirmation(t *testing.T) {
	h := newHarness(t, "")
	h.run(h.p.handleJrrp, nil)

	assert.Equal(t, []string{msgDeleteWarn}, h.run(h.p.handleDelete, nil))
	_, ok := h.p.snapshot().stores.Records.Get("2024-01-01", "42")
	require.True(t, ok)

	events, unsub := h.bus.Subscribe(4, eventbus.FortuneDeleted)
	defer unsub()
	assert.Equal(t, []string{msgDeleteDone}, h.run(h.p.handleDelete, []string{"--confirm"}))
	assert.Equal(t, []string{msgDeleteNone}, h.run(h.p.handleDelete, []string{"--confirm"}))
	select {
	case e := <-events:
		assert.Equal(t, int64(42), e.Actor)
	case <-time.After(time.Second):
		t.Fatal("no delete event")
	}

	// The next jrrp is a fresh draw.
	out := h.run(h.p.handleJrrp, nil)
	require.Len(t, out, 2)
	assert.Equal(t, int32(4), h.calls.Load())
}

func TestResetClearsEverything(t *testing.T) {
	h := newHarness(t, "")
	h.run(h.p.handleJrrp, nil)
	h.run(h.p.handleJrrp, nil, from(7, "Bob"))

	assert.Equal(t, []string{msgResetWarn}, h.run(h.p.handleReset, nil))
	assert.Equal(t, []string{msgResetDone}, h.run(h.p.handleReset, []string{"--confirm"}))
	assert.NoFileExists(t, filepath.Join(h.dir, recordsFile))
	assert.NoFileExists(t, filepath.Join(h.dir, historyFile))
	assert.Equal(t, []string{msgRankEmpty}, h.run(h.p.handleRank, nil))
}

func TestResetReportsFailure(t *testing.T) {
	h := newHarness(t, "")
	// A non-empty directory where the data file should be cannot be removed.
	path := filepath.Join(h.dir, recordsFile)
	require.NoError(t, os.MkdirAll(filepath.Join(path, "x"), 0o755))

	out := h.run(h.p.handleReset, []string{"--confirm"})
	require.Len(t, out, 1)
	assert.True(t, strings.HasPrefix(out[0], "❌ 清除数据时出错: "), out[0])
}

func TestAuditListsDataChanges(t *testing.T) {
	h := newHarness(t, "")
	assert.Equal(t, []string{msgAuditOff}, h.run(h.p.handleAudit, nil))

	st, err := storage.Open(storage.Config{Driver: "file", Path: filepath.Join(t.TempDir(), "bot.db")}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	h.p.Deps.Store = st
	assert.Equal(t, []string{msgAuditEmpty}, h.run(h.p.handleAudit, nil))

	h.run(h.p.handleJrrp, nil)
	h.run(h.p.handleDelete, []string{"--confirm"})
	h.run(h.p.handleReset, []string{"--confirm"}, from(1, "Owner"))
	// Entries from other plugins are not listed.
	require.NoError(t, st.AppendAudit(context.Background(), storage.AuditEntry{Plugin: "rawmsg", Action: "rawmsg.other", OK: true}))

	out := h.run(h.p.handleAudit, nil)
	require.Len(t, out, 1)
	lines := strings.Split(out[0], "\n")
	require.Len(t, lines, 3, out[0])
	assert.Equal(t, msgAuditTitle, lines[0])
	assert.Contains(t, lines[1], "fortune.reset 操作者:1 目标:"+h.dir+" ✅")
	assert.Contains(t, lines[2], "fortune.delete 操作者:42 目标:42 ✅")

	out = h.run(h.p.handleAudit, []string{"2"})
	require.Len(t, out, 1)
	assert.NotContains(t, out[0], "fortune.delete")
}

func TestPrune(t *testing.T) {
	h := newHarness(t, `, "cache_days": 2`)
	recs := h.p.snapshot().stores.Records
	for _, d := range []string{"2023-12-28", "2023-12-29", "2023-12-30", "2023-12-31", "2024-01-01"} {
		_, _, err := recs.PutIfAbsent(d, "42", FortuneRecord{Value: 1})
		require.NoError(t, err)
	}
	require.NoError(t, h.p.prune(context.Background()))
	assert.Empty(t, recs.Day("2023-12-29"))
	assert.NotEmpty(t, recs.Day("2023-12-30"))
	assert.NotEmpty(t, recs.Day("2024-01-01"))
	assert.Equal(t, 2.0, testutil.ToFloat64(h.p.metrics.pruned))

	assert.Equal(t, "CRON_TZ=Asia/Shanghai 5 0 * * *", pruneSpec(h.p.snapshot().s))
}

func TestConfigChangeKeepsPreviousOnError(t *testing.T) {
	h := newHarness(t, `, "max_fortune": 100`)
	err := h.p.OnConfigChange(context.Background(), json.RawMessage(`{"max_fortune": 150}`))
	require.Error(t, err)
	assert.Equal(t, 100, h.p.snapshot().s.cfg.MaxFortune)
	assert.Equal(t, h.dir, h.p.snapshot().stores.Dir)
}

func TestCommandsTable(t *testing.T) {
	cmds := New().Commands()
	routes := map[string]core.Command{}
	for _, c := range cmds {
		routes[c.Route] = c
		assert.Equal(t, commandTimeout, c.Timeout)
	}
	assert.Equal(t, []string{"fortune"}, routes["jrrp"].Aliases)
	assert.Equal(t, []string{"rank"}, routes["jrrprank"].Aliases)
	assert.Equal(t, []string{"jrrphi", "history"}, routes["jrrphistory"].Aliases)
	assert.Equal(t, []string{"jrrpdel"}, routes["jrrpdelete"].Aliases)
	assert.Equal(t, []string{"jrrpre"}, routes["jrrpreset"].Aliases)
	assert.Equal(t, core.AccessOwnerOnly, routes["jrrpreset"].Access)
	assert.Equal(t, core.AccessOwnerOnly, routes["jrrpaudit"].Access)
	assert.Equal(t, core.AccessEveryone, routes["jrrpdelete"].Access)
}
