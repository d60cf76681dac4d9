package fortune

import (
	"context"
	"time"

	core "fortunebot/internal/plugin"
	kit "fortunebot/internal/transport"
	logx "fortunebot/pkg/logx"
)

const memberLookupTimeout = 2 * time.Second

// userInfo snapshots the sender of req. The custom title is looked up
// best-effort in group chats when the adapter supports member lookups.
func (p *Plugin) userInfo(ctx context.Context, req *core.Request) UserInfo {
	info := UserInfo{
		UserID:   req.From.IDString(),
		Nickname: req.From.Nickname(),
		Card:     req.From.Card,
	}
	if info.Nickname == "" {
		info.Nickname = fallbackNickname(info.UserID)
	}
	if !req.Message.IsGroup() {
		return info
	}
	ml, ok := kit.AsMemberLookup(req.Adapter)
	if !ok {
		return info
	}
	lctx, cancel := context.WithTimeout(ctx, memberLookupTimeout)
	defer cancel()
	m, err := ml.ChatMember(lctx, req.Chat.ChatID, req.From.ID)
	if err != nil {
		p.Log.Debug("member lookup failed", logx.Int64("user_id", req.From.ID), logx.Err(err))
		return info
	}
	info.Title = m.Title
	return info
}

// fallbackNickname is "用户" plus the last four characters of the id.
func fallbackNickname(id string) string {
	if len(id) > 4 {
		id = id[len(id)-4:]
	}
	return "用户" + id
}
