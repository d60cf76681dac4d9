package rawmsg

import (
	"bytes"
	"errors"
	"strings"
	"unicode/utf16"

	json "github.com/goccy/go-json"

	kit "fortunebot/internal/transport"
)

// ErrNoPayload is returned for a message that carries no raw payload.
var ErrNoPayload = errors.New("message has no raw payload")

// User is the sender schema of a Telegram message payload.
type User struct {
	ID        int64  `json:"id"`
	IsBot     bool   `json:"is_bot,omitempty"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Username  string `json:"username,omitempty"`
}

type Chat struct {
	ID       int64  `json:"id"`
	Type     string `json:"type,omitempty"`
	Title    string `json:"title,omitempty"`
	Username string `json:"username,omitempty"`
}

// Entity is a text entity. Offset and Length count UTF-16 code units.
type Entity struct {
	Type   string `json:"type"`
	Offset int    `json:"offset"`
	Length int    `json:"length"`
	User   *User  `json:"user,omitempty"`
}

const (
	entityMention     = "mention"
	entityTextMention = "text_mention"
)

// Payload is the subset of a platform message the viewer understands.
// Optional parts are nil when absent; use the Has* helpers.
type Payload struct {
	MessageID       int      `json:"message_id"`
	Sender          *User    `json:"from,omitempty"`
	Chat            *Chat    `json:"chat,omitempty"`
	ReplyTo         *Payload `json:"reply_to_message,omitempty"`
	Text            string   `json:"text,omitempty"`
	Caption         string   `json:"caption,omitempty"`
	Entities        []Entity `json:"entities,omitempty"`
	CaptionEntities []Entity `json:"caption_entities,omitempty"`
}

func ParsePayload(raw []byte) (*Payload, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, ErrNoPayload
	}
	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (p *Payload) HasSender() bool  { return p != nil && p.Sender != nil && p.Sender.ID != 0 }
func (p *Payload) HasChat() bool    { return p != nil && p.Chat != nil && p.Chat.ID != 0 }
func (p *Payload) HasReplyTo() bool { return p != nil && p.ReplyTo != nil && p.ReplyTo.MessageID != 0 }

// SenderID is the sender id, or 0.
func (p *Payload) SenderID() int64 {
	if !p.HasSender() {
		return 0
	}
	return p.Sender.ID
}

// ChatID is the chat id, or 0.
func (p *Payload) ChatID() int64 {
	if !p.HasChat() {
		return 0
	}
	return p.Chat.ID
}

// Mentions lists users referenced by text entities, in entity order. Caption
// entities are used when the message has no text.
func (p *Payload) Mentions() []kit.Mention {
	if p == nil {
		return nil
	}
	text, entities := p.Text, p.Entities
	if text == "" {
		text, entities = p.Caption, p.CaptionEntities
	}
	var out []kit.Mention
	for _, e := range entities {
		switch e.Type {
		case entityTextMention:
			if e.User != nil && e.User.ID != 0 {
				out = append(out, kit.Mention{UserID: e.User.ID, Username: e.User.Username})
			}
		case entityMention:
			if name := strings.TrimPrefix(entitySlice(text, e), "@"); name != "" {
				out = append(out, kit.Mention{Username: name})
			}
		}
	}
	return out
}

func entitySlice(text string, e Entity) string {
	units := utf16.Encode([]rune(text))
	end := e.Offset + e.Length
	if e.Offset < 0 || e.Length <= 0 || end > len(units) {
		return ""
	}
	return string(utf16.Decode(units[e.Offset:end]))
}
