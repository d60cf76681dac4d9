package tgui

import (
	"context"
	"html"
	"strings"
	"unicode/utf8"

	kit "fortunebot/internal/transport"
)

// Message is a rendered payload: text plus send options.
type Message struct {
	Text string
	Opt  *kit.SendOptions
}

// Send sends the message via ad.
func (m Message) Send(ctx context.Context, ad kit.Adapter, to kit.ChatTarget) (kit.MessageRef, error) {
	if m.Opt == nil {
		m.Opt = &kit.SendOptions{}
	}
	return ad.SendText(ctx, to, m.Text, m.Opt)
}

// Builder assembles an HTML message line by line.
// Default: ParseMode=HTML, DisablePreview=true.
type Builder struct {
	replyTo int
	lines   []string
	size    int // runes used by lines so far, separators included
}

func New() *Builder { return &Builder{} }

// ReplyTo makes the message a reply to message id.
func (b *Builder) ReplyTo(id int) *Builder {
	b.replyTo = id
	return b
}

func (b *Builder) add(line string) *Builder {
	if len(b.lines) > 0 {
		b.size++
	}
	b.size += utf8.RuneCountInString(line)
	b.lines = append(b.lines, line)
	return b
}

// Title adds a bold title line. Emoji is optional.
func (b *Builder) Title(emoji, title string) *Builder {
	t := strings.TrimSpace(title)
	if t == "" {
		return b
	}
	if e := strings.TrimSpace(emoji); e != "" {
		return b.add(Esc(e).String() + " " + B(t).String())
	}
	return b.add(B(t).String())
}

// Line adds an escaped text line.
func (b *Builder) Line(s string) *Builder { return b.add(Esc(s).String()) }

// KV adds "• key: value" with the key in bold.
func (b *Builder) KV(key, value string) *Builder {
	if value == "" {
		return b.add("• " + B(key).String())
	}
	return b.add("• " + B(key).String() + ": " + Esc(value).String())
}

// Pre adds a preformatted block, cut so the whole message stays within
// MaxMessageLen. A cut block ends with a "…" line.
func (b *Builder) Pre(code string) *Builder {
	code = strings.TrimRight(code, "\n")
	if code == "" {
		return b
	}
	const wrapper = len("<pre><code></code></pre>")
	budget := MaxMessageLen - b.size - wrapper
	if len(b.lines) > 0 {
		budget--
	}
	return b.add(Pre(fitEscaped(code, budget)).String())
}

// fitEscaped returns the longest prefix of s whose HTML-escaped form fits in
// budget runes, plus a trailing "\n…" when s had to be cut.
func fitEscaped(s string, budget int) string {
	if utf8.RuneCountInString(html.EscapeString(s)) <= budget {
		return s
	}
	budget -= 2 // "\n…"
	used := 0
	for i, r := range s {
		n := utf8.RuneCountInString(html.EscapeString(string(r)))
		if used+n > budget {
			return s[:i] + "\n…"
		}
		used += n
	}
	return s
}

// Build produces a ready-to-send Message.
func (b *Builder) Build() Message {
	return Message{
		Text: strings.Join(b.lines, "\n"),
		Opt:  &kit.SendOptions{ParseMode: "HTML", DisablePreview: true, ReplyTo: b.replyTo},
	}
}
