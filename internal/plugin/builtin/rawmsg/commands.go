package rawmsg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	json "github.com/goccy/go-json"

	core "fortunebot/internal/plugin"
	kit "fortunebot/internal/transport"
	logx "fortunebot/pkg/logx"
	"fortunebot/pkg/tgui"
)

const (
	commandTimeout = 30 * time.Second
	maxNameRunes   = 64
)

func (p *Plugin) Commands() []core.Command {
	return []core.Command{
		{
			Route:       "rawmsg",
			Aliases:     []string{"raw"},
			Description: "Show the raw payload of a message",
			Usage:       "/rawmsg (reply to a message, or alone for this one)",
			Timeout:     commandTimeout,
			Handle:      p.handleRaw,
		},
		{
			Route:       "rawmsg enrich",
			Aliases:     []string{"rawx"},
			Description: "Raw payload with chat member details",
			Usage:       "/rawmsg enrich (reply to a message, or alone for this one)",
			Timeout:     commandTimeout,
			Handle:      p.handleEnrich,
		},
	}
}

// target picks the message a command is about: the replied-to message when
// there is one, the command message otherwise.
func (p *Plugin) target(req *core.Request) (Entry, error) {
	m := req.Message
	if r := m.ReplyTo; r != nil && r.MessageID != 0 {
		e, ok := p.lookup(m.ChatID, r.MessageID)
		if !ok {
			return Entry{}, fmt.Errorf("message #%d is not in the cache (only the last %d messages are kept)",
				r.MessageID, p.settings().cfg.CacheSize)
		}
		return e, nil
	}
	if e, ok := p.lookup(m.ChatID, m.ID); ok {
		return e, nil
	}
	return Entry{MessageID: m.ID, ChatID: m.ChatID, Raw: m.Raw, Sender: m.From, ReceivedAt: p.now()}, nil
}

func (p *Plugin) handleRaw(ctx context.Context, req *core.Request) error {
	e, err := p.target(req)
	if err != nil {
		_, _ = req.Reply(ctx, "❌ "+err.Error())
		return nil
	}
	if len(bytes.TrimSpace(e.Raw)) == 0 {
		_, _ = req.Reply(ctx, "❌ "+ErrNoPayload.Error())
		return nil
	}
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, e.Raw, "", "  "); err != nil {
		req.Logger.Warn("raw payload is not valid json", logx.Int("message_id", e.MessageID), logx.Err(err))
		pretty.Reset()
		pretty.Write(e.Raw)
	}
	return p.send(ctx, req, "Raw message", e, pretty.String())
}

func (p *Plugin) handleEnrich(ctx context.Context, req *core.Request) error {
	e, err := p.target(req)
	if err != nil {
		_, _ = req.Reply(ctx, "❌ "+err.Error())
		return nil
	}
	en := enricher{timeout: p.settings().timeout}
	if ml, ok := kit.AsMemberLookup(req.Adapter); ok {
		en.lookup = ml
	}
	doc, err := en.Enrich(ctx, e.Raw, e.ChatID)
	if errors.Is(err, ErrNoPayload) {
		_, _ = req.Reply(ctx, "❌ "+err.Error())
		return nil
	}
	if err != nil {
		return fmt.Errorf("enrich message %d: %w", e.MessageID, err)
	}
	out, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode enriched message %d: %w", e.MessageID, err)
	}
	return p.send(ctx, req, "Enriched message", e, string(out))
}

func (p *Plugin) send(ctx context.Context, req *core.Request, title string, e Entry, body string) error {
	b := tgui.New().ReplyTo(req.Message.ID).
		Title("🧾", fmt.Sprintf("%s #%d", title, e.MessageID))
	if e.Sender.ID != 0 {
		b.KV("from", fmt.Sprintf("%s (%d)", tgui.TruncRunes(e.Sender.Nickname(), maxNameRunes), e.Sender.ID))
	}
	msg := b.Pre(body).Build()
	_, err := msg.Send(ctx, req.Adapter, req.Chat)
	return err
}
