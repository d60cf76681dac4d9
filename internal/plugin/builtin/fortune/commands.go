package fortune

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"fortunebot/internal/eventbus"
	core "fortunebot/internal/plugin"
	"fortunebot/internal/storage"
	logx "fortunebot/pkg/logx"
)

const commandTimeout = 60 * time.Second

const (
	msgDisabled      = "今日人品插件已关闭"
	msgCachedDivider = "\n\n-----以下为今日运势测算场景还原-----\n"
	msgRankGroupOnly = "人品排行榜仅在群聊中可用"
	msgRankEmpty     = "📊 今天还没有人查询人品哦~"
	msgNoHistory     = "%s 还没有人品测试记录"
	msgUnknownUser   = "未知用户"

	msgDeleteWarn  = "⚠️ 警告：此操作将清除您的所有人品数据！\n如果确定要继续，请使用：/jrrpdelete --confirm"
	msgDeleteDone  = "✅ 已清除您的所有人品数据"
	msgDeleteNone  = "ℹ️ 您没有人品数据记录"
	msgResetWarn   = "⚠️ 警告：此操作将清除所有人品数据！\n如果确定要继续，请使用：/jrrpreset --confirm"
	msgResetDone   = "✅ 所有人品数据已清除"
	msgResetFailed = "❌ 清除数据时出错: %v"
	msgAuditOff    = "ℹ️ 未启用审计存储，请配置 storage.driver"
	msgAuditEmpty  = "📜 暂无人品数据操作记录"
	msgAuditTitle  = "📜 最近的人品数据操作记录："

	msgErrJrrp    = "抱歉，处理您的请求时出现了错误。"
	msgErrRank    = "抱歉，获取排行榜时出现了错误。"
	msgErrHistory = "抱歉，获取历史记录时出现了错误。"
	msgErrDelete  = "抱歉，清除数据时出现了错误。"
	msgErrAudit   = "抱歉，获取操作记录时出现了错误。"

	fallbackProcess = "%s的水晶球中浮现出神秘的光芒..."
	fallbackAdvice  = "保持平常心，做好自己。"

	historyShown = 10

	auditDefault = 10
	auditMax     = 50
)

var medals = []string{"🥇", "🥈", "🥉", "🏅", "🏅"}

func (p *Plugin) Commands() []core.Command {
	return []core.Command{
		{
			Route:       "jrrp",
			Aliases:     []string{"fortune"},
			Description: "今日人品",
			Usage:       "/jrrp",
			Timeout:     commandTimeout,
			Handle:      p.handleJrrp,
		},
		{
			Route:       "jrrprank",
			Aliases:     []string{"rank"},
			Description: "今日人品排行榜（群聊）",
			Usage:       "/jrrprank",
			Timeout:     commandTimeout,
			Handle:      p.handleRank,
		},
		{
			Route:       "jrrphistory",
			Aliases:     []string{"jrrphi", "history"},
			Description: "人品历史记录",
			Usage:       "/jrrphistory",
			Timeout:     commandTimeout,
			Handle:      p.handleHistory,
		},
		{
			Route:       "jrrpdelete",
			Aliases:     []string{"jrrpdel"},
			Description: "清除我的人品数据",
			Usage:       "/jrrpdelete --confirm",
			Timeout:     commandTimeout,
			Handle:      p.handleDelete,
		},
		{
			Route:       "jrrpreset",
			Aliases:     []string{"jrrpre"},
			Description: "清除所有人品数据",
			Usage:       "/jrrpreset --confirm",
			Access:      core.AccessOwnerOnly,
			Timeout:     commandTimeout,
			Handle:      p.handleReset,
		},
		{
			Route:       "jrrpaudit",
			Description: "查看人品数据操作记录",
			Usage:       "/jrrpaudit [条数]",
			Access:      core.AccessOwnerOnly,
			Timeout:     commandTimeout,
			Handle:      p.handleAudit,
		},
	}
}

// render is Template.Render with the failure logged.
func (p *Plugin) render(t *Template, vars map[string]any) string {
	out, err := t.RenderErr(vars)
	if err != nil {
		p.Log.Warn("template render failed, using raw text", logx.Err(err))
		return t.Text()
	}
	return out
}

func confirmed(req *core.Request) bool {
	return req.HasFlag("confirm") || slices.Contains(req.Args, "--confirm")
}

type drawResult struct {
	rec     FortuneRecord
	created bool
	reqID   string // request that created rec
}

func (p *Plugin) handleJrrp(ctx context.Context, req *core.Request) error {
	st := p.snapshot()
	if !st.s.cfg.EnablePlugin {
		_, err := req.Reply(ctx, msgDisabled)
		return err
	}
	info := p.userInfo(ctx, req)
	name := info.DisplayName()
	today := st.s.today(p.now())

	if rec, ok := st.stores.Records.Get(today, info.UserID); ok {
		p.metrics.cachedHit()
		_, err := req.Reply(ctx, p.renderCached(st.s, name, rec))
		return err
	}

	v, err, _ := p.flight.Do(today+"/"+info.UserID, func() (any, error) {
		return p.draw(ctx, req, st, info, today)
	})
	if err != nil {
		req.Logger.Error("jrrp failed", logx.Err(err))
		_, rerr := req.Reply(ctx, msgErrJrrp)
		return rerr
	}
	res := v.(drawResult)
	if res.created && res.reqID == req.ReqID {
		_, err = req.Reply(ctx, p.renderResult(st.s, name, res.rec))
		return err
	}
	// A concurrent call drew first.
	p.metrics.cachedHit()
	_, err = req.Reply(ctx, p.renderCached(st.s, name, res.rec))
	return err
}

// draw runs the Generating path for one (date, user). Concurrent calls for
// the same key share one draw.
func (p *Plugin) draw(ctx context.Context, req *core.Request, st *state, info UserInfo, today string) (drawResult, error) {
	if rec, ok := st.stores.Records.Get(today, info.UserID); ok {
		return drawResult{rec: rec}, nil
	}
	s := st.s
	name := info.DisplayName()

	if _, err := req.Reply(ctx, p.render(s.tpl.detecting, map[string]any{"nickname": name})); err != nil {
		req.Logger.Warn("detecting message not sent", logx.Err(err))
	}

	value, err := p.gen.Generate(s.cfg.MinFortune, s.cfg.MaxFortune, s.alg)
	if err != nil {
		return drawResult{}, err
	}
	label, _ := s.cfg.Levels.Classify(value)

	vars := map[string]any{
		"nickname": info.Nickname,
		"card":     info.Card,
		"title":    info.Title,
		"jrrp":     value,
		"fortune":  label,
	}
	persona := s.cfg.PersonaName
	processFallback := fmt.Sprintf(fallbackProcess, name)
	process, fb := st.story.narrate(ctx, "process", p.render(s.tpl.process, vars), persona, processFallback)
	p.metrics.narrated("process", fb)
	advice, fb := st.story.narrate(ctx, "advice", p.render(s.tpl.advice, vars), persona, fallbackAdvice)
	p.metrics.narrated("advice", fb)

	now := p.now().In(s.loc)
	rec := FortuneRecord{
		Value:       value,
		Process:     process,
		Advice:      advice,
		DisplayName: name,
		UserInfo:    &info,
		Time:        now.Format(time.TimeOnly),
		CreatedAt:   now,
	}
	stored, created, err := st.stores.Records.PutIfAbsent(today, info.UserID, rec)
	if err != nil {
		return drawResult{}, fmt.Errorf("save record: %w", err)
	}
	if created {
		if err := st.stores.History.Append(info.UserID, HistoryEntry{Date: today, Value: value}, s.cfg.HistoryDays); err != nil {
			req.Logger.Error("history append failed", logx.Err(err))
		}
		p.metrics.drawn(s.alg, value)
		p.PublishEvent(eventbus.FortuneDrawn, req.From.ID, map[string]any{"date": today, "value": value})
	}
	return drawResult{rec: stored, created: created, reqID: req.ReqID}, nil
}

func (p *Plugin) renderResult(s *settings, name string, rec FortuneRecord) string {
	label, icon := s.cfg.Levels.Classify(rec.Value)
	return p.render(s.tpl.result, map[string]any{
		"process":  rec.Process,
		"jrrp":     rec.Value,
		"fortune":  label,
		"advice":   rec.Advice,
		"nickname": name,
		"femoji":   icon,
	})
}

func (p *Plugin) renderCached(s *settings, name string, rec FortuneRecord) string {
	label, icon := s.cfg.Levels.Classify(rec.Value)
	out := p.render(s.tpl.query, map[string]any{
		"nickname": name,
		"jrrp":     rec.Value,
		"fortune":  label,
		"femoji":   icon,
	})
	if s.cfg.ShowCachedResult && rec.Process != "" {
		out += msgCachedDivider + p.renderResult(s, name, rec)
	}
	return out
}

type rankEntry struct {
	user string
	rec  FortuneRecord
}

func (p *Plugin) handleRank(ctx context.Context, req *core.Request) error {
	st := p.snapshot()
	if !st.s.cfg.EnablePlugin {
		_, err := req.Reply(ctx, msgDisabled)
		return err
	}
	if !req.Message.IsGroup() {
		req.Logger.Debug("rank rejected", logx.Err(ErrGroupOnly))
		_, err := req.Reply(ctx, msgRankGroupOnly)
		return err
	}
	s := st.s
	today := s.today(p.now())
	day := st.stores.Records.Day(today)
	if len(day) == 0 {
		_, err := req.Reply(ctx, msgRankEmpty)
		return err
	}

	_, err := req.Reply(ctx, p.renderRank(s, today, day))
	return err
}

// renderRank orders records by value, highest first. Ties go to whoever
// drew first.
func (p *Plugin) renderRank(s *settings, date string, day map[string]FortuneRecord) string {
	entries := make([]rankEntry, 0, len(day))
	for user, rec := range day {
		entries = append(entries, rankEntry{user: user, rec: rec})
	}
	slices.SortFunc(entries, func(a, b rankEntry) int {
		if a.rec.Value != b.rec.Value {
			return b.rec.Value - a.rec.Value
		}
		if c := a.rec.CreatedAt.Compare(b.rec.CreatedAt); c != 0 {
			return c
		}
		if c := strings.Compare(a.rec.Time, b.rec.Time); c != 0 {
			return c
		}
		return strings.Compare(a.user, b.user)
	})

	items := make([]string, 0, len(entries))
	for i, e := range entries {
		medal := fmt.Sprintf("%d.", i+1)
		if i < len(medals) {
			medal = medals[i]
		}
		name := msgUnknownUser
		if e.rec.UserInfo != nil {
			name = e.rec.UserInfo.DisplayName()
		}
		label, _ := s.cfg.Levels.Classify(e.rec.Value)
		items = append(items, p.render(s.tpl.rankItem, map[string]any{
			"medal":    medal,
			"nickname": name,
			"jrrp":     e.rec.Value,
			"fortune":  label,
		}))
	}
	return p.render(s.tpl.rank, map[string]any{"date": date, "ranks": strings.Join(items, "\n")})
}

func (p *Plugin) handleHistory(ctx context.Context, req *core.Request) error {
	st := p.snapshot()
	if !st.s.cfg.EnablePlugin {
		_, err := req.Reply(ctx, msgDisabled)
		return err
	}
	info := p.userInfo(ctx, req)
	name := info.DisplayName()

	entries := st.stores.History.Get(info.UserID)
	if len(entries) == 0 {
		_, err := req.Reply(ctx, fmt.Sprintf(msgNoHistory, name))
		return err
	}

	s := st.s
	shown := entries[max(0, len(entries)-historyShown):]
	lines := make([]string, 0, len(shown))
	for _, e := range shown {
		label, _ := s.cfg.Levels.Classify(e.Value)
		lines = append(lines, fmt.Sprintf("%s: %d (%s)", e.Date, e.Value, label))
	}
	avg, hi, lo := historyStats(entries)
	_, err := req.Reply(ctx, p.render(s.tpl.history, map[string]any{
		"nickname": name,
		"records":  strings.Join(lines, "\n"),
		"avgjrrp":  fmt.Sprintf("%.1f", avg),
		"maxjrrp":  hi,
		"minjrrp":  lo,
	}))
	return err
}

func (p *Plugin) handleDelete(ctx context.Context, req *core.Request) error {
	if !confirmed(req) {
		req.Logger.Debug("delete not confirmed", logx.Err(ErrConfirmationRequired))
		_, err := req.Reply(ctx, msgDeleteWarn)
		return err
	}
	st := p.snapshot()
	user := req.From.IDString()

	delRec, err1 := st.stores.Records.DeleteUser(user)
	delHist, err2 := st.stores.History.DeleteUser(user)
	err := errors.Join(err1, err2)
	p.Audit(ctx, auditEntry(req, "fortune.delete", user, err))
	if err != nil {
		req.Logger.Error("delete user data failed", logx.Err(err))
		_, rerr := req.Reply(ctx, msgErrDelete)
		return rerr
	}

	if !delRec && !delHist {
		_, err := req.Reply(ctx, msgDeleteNone)
		return err
	}
	p.PublishEvent(eventbus.FortuneDeleted, req.From.ID, map[string]any{"records": delRec, "history": delHist})
	_, err = req.Reply(ctx, msgDeleteDone)
	return err
}

func (p *Plugin) handleReset(ctx context.Context, req *core.Request) error {
	if !confirmed(req) {
		req.Logger.Debug("reset not confirmed", logx.Err(ErrConfirmationRequired))
		_, err := req.Reply(ctx, msgResetWarn)
		return err
	}
	st := p.snapshot()
	err := st.stores.ResetAll()
	p.Audit(ctx, auditEntry(req, "fortune.reset", st.stores.Dir, err))
	if err != nil {
		req.Logger.Error("reset failed", logx.Err(err))
		_, rerr := req.Reply(ctx, fmt.Sprintf(msgResetFailed, err))
		return rerr
	}
	req.Logger.Warn("all fortune data cleared", logx.Int64("by", req.From.ID))
	p.PublishEvent(eventbus.FortuneReset, req.From.ID, nil)
	_, err = req.Reply(ctx, msgResetDone)
	return err
}

// handleAudit lists the newest delete/reset/prune entries written by this
// plugin, up to auditMax.
func (p *Plugin) handleAudit(ctx context.Context, req *core.Request) error {
	store := p.Deps.Store
	if store == nil {
		_, err := req.Reply(ctx, msgAuditOff)
		return err
	}
	limit := auditDefault
	if len(req.Args) > 0 {
		if n, err := strconv.Atoi(req.Args[0]); err == nil && n > 0 {
			limit = min(n, auditMax)
		}
	}
	entries, err := store.RecentAudit(ctx, limit)
	if err != nil {
		req.Logger.Error("read audit log failed", logx.Err(err))
		_, rerr := req.Reply(ctx, msgErrAudit)
		return rerr
	}

	loc := p.snapshot().s.loc
	var b strings.Builder
	b.WriteString(msgAuditTitle)
	shown := 0
	for _, e := range entries {
		if e.Plugin != Name {
			continue
		}
		shown++
		fmt.Fprintf(&b, "\n%s %s", e.At.In(loc).Format("2006-01-02 15:04"), e.Action)
		if e.ActorID != 0 {
			fmt.Fprintf(&b, " 操作者:%d", e.ActorID)
		}
		if e.Target != "" {
			fmt.Fprintf(&b, " 目标:%s", e.Target)
		}
		if e.OK {
			b.WriteString(" ✅")
		} else {
			fmt.Fprintf(&b, " ❌ %s", e.Error)
		}
	}
	if shown == 0 {
		_, err := req.Reply(ctx, msgAuditEmpty)
		return err
	}
	_, err = req.Reply(ctx, b.String())
	return err
}

func auditEntry(req *core.Request, action, target string, err error) storage.AuditEntry {
	e := storage.AuditEntry{
		ActorID: req.From.ID,
		ChatID:  req.Chat.ChatID,
		Action:  action,
		Target:  target,
		OK:      err == nil,
	}
	if err != nil {
		e.Error = err.Error()
	}
	return e
}
