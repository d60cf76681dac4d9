// Package transporttest provides an in-memory transport.Adapter for tests.
package transporttest

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"fortunebot/internal/transport"
)

// Sent is one recorded SendText call.
type Sent struct {
	To   transport.ChatTarget
	Text string
	Opt  transport.SendOptions
}

// Adapter records outgoing messages and serves canned member lookups.
type Adapter struct {
	mu      sync.Mutex
	sent    []Sent
	nextID  int
	Members map[int64]transport.Member // by user id

	// LookupErr, when set, is returned by every lookup.
	LookupErr error
	menu      []transport.BotCommand
	chats     []int64
}

func New() *Adapter {
	return &Adapter{Members: map[int64]transport.Member{}, nextID: 1000}
}

func (a *Adapter) Start(ctx context.Context, out chan<- transport.Update) error { return nil }
func (a *Adapter) Stop(ctx context.Context) error                                { return nil }

func (a *Adapter) SendText(_ context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) (transport.MessageRef, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	s := Sent{To: to, Text: text}
	if opt != nil {
		s.Opt = *opt
	}
	a.sent = append(a.sent, s)
	a.nextID++
	return transport.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: a.nextID}, nil
}

func (a *Adapter) EditText(context.Context, transport.MessageRef, string, *transport.SendOptions) error {
	return nil
}

func (a *Adapter) ChatMember(_ context.Context, chatID int64, userID int64) (transport.Member, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.chats = append(a.chats, chatID)
	if a.LookupErr != nil {
		return transport.Member{}, a.LookupErr
	}
	m, ok := a.Members[userID]
	if !ok {
		return transport.Member{}, errors.New("member not found")
	}
	return m, nil
}

// LookupChats returns the chat ids passed to ChatMember, in call order.
func (a *Adapter) LookupChats() []int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]int64(nil), a.chats...)
}

func (a *Adapter) ResolveUsername(_ context.Context, username string) (transport.Member, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.LookupErr != nil {
		return transport.Member{}, a.LookupErr
	}
	username = strings.TrimPrefix(username, "@")
	for _, m := range a.Members {
		if strings.EqualFold(m.Username, username) {
			return m, nil
		}
	}
	return transport.Member{}, errors.New("username not found")
}

func (a *Adapter) UpdateMenuCommands(_ context.Context, cmds []transport.BotCommand) error {
	a.mu.Lock()
	a.menu = append([]transport.BotCommand(nil), cmds...)
	a.mu.Unlock()
	return nil
}

// Menu returns the last command menu pushed to the adapter.
func (a *Adapter) Menu() []transport.BotCommand {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]transport.BotCommand(nil), a.menu...)
}

// WaitSent polls until at least n messages were sent or timeout elapses, and
// returns what was sent.
func (a *Adapter) WaitSent(n int, timeout time.Duration) []Sent {
	deadline := time.Now().Add(timeout)
	for {
		s := a.Sent()
		if len(s) >= n || time.Now().After(deadline) {
			return s
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// Sent returns a copy of everything sent so far.
func (a *Adapter) Sent() []Sent {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Sent(nil), a.sent...)
}

// Texts returns only the text of each sent message.
func (a *Adapter) Texts() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.sent))
	for _, s := range a.sent {
		out = append(out, s.Text)
	}
	return out
}

// Last returns the last sent text, or "" if nothing was sent.
func (a *Adapter) Last() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.sent) == 0 {
		return ""
	}
	return a.sent[len(a.sent)-1].Text
}

// Reset forgets recorded sends.
func (a *Adapter) Reset() {
	a.mu.Lock()
	a.sent = nil
	a.mu.Unlock()
}

// Plain exposes only the base transport.Adapter methods of A, hiding
// optional capabilities such as MemberLookup.
type Plain struct{ A *Adapter }

func (p Plain) Start(ctx context.Context, out chan<- transport.Update) error {
	return p.A.Start(ctx, out)
}
func (p Plain) Stop(ctx context.Context) error { return p.A.Stop(ctx) }
func (p Plain) SendText(ctx context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) (transport.MessageRef, error) {
	return p.A.SendText(ctx, to, text, opt)
}
func (p Plain) EditText(ctx context.Context, ref transport.MessageRef, text string, opt *transport.SendOptions) error {
	return p.A.EditText(ctx, ref, text, opt)
}

var (
	_ transport.Adapter            = (*Adapter)(nil)
	_ transport.MemberLookup       = (*Adapter)(nil)
	_ transport.CommandMenuUpdater = (*Adapter)(nil)
)
