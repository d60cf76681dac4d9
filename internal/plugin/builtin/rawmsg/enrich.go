package rawmsg

import (
	"bytes"
	"context"
	"errors"
	"time"

	json "github.com/goccy/go-json"
	"golang.org/x/sync/errgroup"

	kit "fortunebot/internal/transport"
)

// Keys added to an enriched payload.
const (
	keySenderMember = "x_sender_member"
	keyReplyMember  = "x_reply_member"
	keyMentions     = "x_mentions"
	keyEnrichError  = "x_enrich_error"
)

const maxLookups = 4

var errNoLookup = errors.New("adapter cannot look up chat members")

// lookupResult is one resolved member, or the reason it could not be.
type lookupResult struct {
	Username string      `json:"username,omitempty"`
	UserID   int64       `json:"user_id,omitempty"`
	Member   *kit.Member `json:"member,omitempty"`
	Error    string      `json:"error,omitempty"`
}

// enricher resolves the members a payload refers to.
type enricher struct {
	lookup  kit.MemberLookup // nil when the adapter has no lookup
	timeout time.Duration
}

// Enrich decodes raw into a fresh map and adds member details for the
// sender, the replied-to sender and every mention. Lookups run
// concurrently, each bounded by the enricher timeout. A failed lookup is
// recorded in place and does not stop the others. chatID is used when the
// payload carries no chat.
func (e enricher) Enrich(ctx context.Context, raw []byte, chatID int64) (map[string]any, error) {
	p, err := ParsePayload(raw)
	if err != nil {
		return nil, err
	}
	doc, err := decodeMap(raw)
	if err != nil {
		return nil, err
	}
	if e.lookup == nil {
		doc[keyEnrichError] = errNoLookup.Error()
		return doc, nil
	}

	if p.HasChat() {
		chatID = p.ChatID()
	}
	mentions := p.Mentions()
	var sender, reply lookupResult
	found := make([]lookupResult, len(mentions))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxLookups)
	if p.HasSender() {
		g.Go(func() error {
			sender = e.member(gctx, chatID, kit.Mention{UserID: p.SenderID()})
			return nil
		})
	}
	if p.HasReplyTo() && p.ReplyTo.HasSender() {
		g.Go(func() error {
			reply = e.member(gctx, chatID, kit.Mention{UserID: p.ReplyTo.SenderID()})
			return nil
		})
	}
	for i, m := range mentions {
		g.Go(func() error {
			found[i] = e.member(gctx, chatID, m)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if p.HasSender() {
		doc[keySenderMember] = sender
	}
	if p.HasReplyTo() && p.ReplyTo.HasSender() {
		doc[keyReplyMember] = reply
	}
	if len(found) > 0 {
		doc[keyMentions] = found
	}
	return doc, nil
}

func (e enricher) member(ctx context.Context, chatID int64, m kit.Mention) lookupResult {
	res := lookupResult{Username: m.Username, UserID: m.UserID}
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	var (
		mem kit.Member
		err error
	)
	if m.UserID != 0 {
		mem, err = e.lookup.ChatMember(ctx, chatID, m.UserID)
	} else {
		mem, err = e.lookup.ResolveUsername(ctx, m.Username)
	}
	if err != nil {
		res.Error = err.Error()
		return res
	}
	res.Member = &mem
	return res
}

// decodeMap decodes a JSON object keeping numbers exact, so large ids
// survive a round trip.
func decodeMap(raw []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc map[string]any
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}
	if doc == nil {
		doc = map[string]any{}
	}
	return doc, nil
}
