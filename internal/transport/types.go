package transport

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

type UpdateKind string

const (
	UpdateMessage UpdateKind = "message"
)

type Update struct {
	Kind    UpdateKind
	Message *Message
}

type ChatType string

const (
	ChatPrivate    ChatType = "private"
	ChatGroup      ChatType = "group"
	ChatSuperGroup ChatType = "supergroup"
	ChatChannel    ChatType = "channel"
)

// Sender is the platform-independent view of a message author.
//
// Card is a per-group display name on platforms that have one. Telegram
// has no such concept, so its adapter leaves it empty.
type Sender struct {
	ID        int64
	Username  string
	FirstName string
	LastName  string
	Card      string
	IsBot     bool
}

// Nickname returns the sender's display name: full name, then @username,
// then empty.
func (s Sender) Nickname() string {
	name := strings.TrimSpace(strings.TrimSpace(s.FirstName) + " " + strings.TrimSpace(s.LastName))
	if name != "" {
		return name
	}
	if u := strings.TrimSpace(s.Username); u != "" {
		return "@" + u
	}
	return ""
}

// IDString is the sender id in the form used as a storage key.
func (s Sender) IDString() string { return strconv.FormatInt(s.ID, 10) }

// Mention is a user referenced in message text. Either UserID (text
// mention) or Username (@name) is set.
type Mention struct {
	UserID   int64
	Username string
}

type Message struct {
	ID       int
	ChatID   int64
	ThreadID int // forum topic thread id (0 if none)
	ChatType ChatType
	From     Sender
	Text     string
	Date     time.Time

	// ReplyTo is set when the message replies to another message.
	ReplyTo *Reply
	// Mentions lists users referenced by entities in Text.
	Mentions []Mention

	// Raw is the platform-native payload as JSON. May be empty.
	Raw json.RawMessage
}

type Reply struct {
	MessageID int
	From      Sender
}

func (m *Message) IsGroup() bool {
	return m != nil && (m.ChatType == ChatGroup || m.ChatType == ChatSuperGroup)
}

func (m *Message) Target() ChatTarget {
	return ChatTarget{ChatID: m.ChatID, ThreadID: m.ThreadID}
}

type ChatTarget struct {
	ChatID   int64
	ThreadID int
}

type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
	// ReplyTo is the message id this send replies to (0 for none).
	ReplyTo int
}

type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
	EditText(ctx context.Context, ref MessageRef, text string, opt *SendOptions) error
}

// BotCommand represents a single bot command menu entry.
type BotCommand struct {
	Command     string
	Description string
}

// CommandMenuUpdater is an optional interface that adapters can implement
// to update platform-specific bot command menus (e.g. Telegram /menu list).
type CommandMenuUpdater interface {
	UpdateMenuCommands(ctx context.Context, cmds []BotCommand) error
}

// Member is a chat member as reported by the platform.
type Member struct {
	UserID    int64  `json:"user_id"`
	Username  string `json:"username,omitempty"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Title     string `json:"title,omitempty"`
	Role      string `json:"role,omitempty"`
	IsBot     bool   `json:"is_bot,omitempty"`
}

// MemberLookup is an optional adapter capability for resolving chat member
// details that are not part of an incoming message.
type MemberLookup interface {
	ChatMember(ctx context.Context, chatID, userID int64) (Member, error)
	ResolveUsername(ctx context.Context, username string) (Member, error)
}

// Unwrapper is implemented by adapters that wrap another adapter.
type Unwrapper interface {
	Unwrap() Adapter
}

// AsMemberLookup reports whether a (or any adapter it wraps) can look up
// chat members.
func AsMemberLookup(a Adapter) (MemberLookup, bool) {
	for a != nil {
		if ml, ok := a.(MemberLookup); ok {
			return ml, true
		}
		u, ok := a.(Unwrapper)
		if !ok {
			return nil, false
		}
		a = u.Unwrap()
	}
	return nil, false
}

// AsMenuUpdater is AsMemberLookup for CommandMenuUpdater.
func AsMenuUpdater(a Adapter) (CommandMenuUpdater, bool) {
	for a != nil {
		if mu, ok := a.(CommandMenuUpdater); ok {
			return mu, true
		}
		u, ok := a.(Unwrapper)
		if !ok {
			return nil, false
		}
		a = u.Unwrap()
	}
	return nil, false
}
