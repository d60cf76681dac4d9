package logx

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// SendFunc delivers a formatted log record to a chat.
type SendFunc func(ctx context.Context, chatID int64, threadID int, text string) error

type chatItem struct {
	chatID   int64
	threadID int
	text     string
}

// chatSink is a zerolog LevelWriter that forwards records at or above a
// minimum level into a chat. Writes never block: records past the rate
// limit or a full queue are dropped.
type chatSink struct {
	mu       sync.Mutex
	send     SendFunc
	chatID   int64
	threadID int
	minLevel zerolog.Level
	limiter  *rate.Limiter

	queue   chan chatItem
	once    sync.Once
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	dropped uint64
}

func newChatSink(send SendFunc) *chatSink {
	return &chatSink{
		send:     send,
		minLevel: zerolog.WarnLevel,
		limiter:  rate.NewLimiter(1, 1),
		queue:    make(chan chatItem, 256),
	}
}

func (c *chatSink) setSender(send SendFunc) {
	c.mu.Lock()
	c.send = send
	c.mu.Unlock()
}

func (c *chatSink) apply(cfg ChatConfig) {
	rps := cfg.RatePerSec
	if rps < 1 {
		rps = 1
	}
	c.mu.Lock()
	c.chatID = cfg.ChatID
	c.threadID = cfg.ThreadID
	c.minLevel = ParseLevel(cfg.MinLevel, zerolog.WarnLevel)
	c.limiter = rate.NewLimiter(rate.Limit(rps), rps)
	c.mu.Unlock()

	if cfg.Enabled {
		c.once.Do(func() {
			ctx, cancel := context.WithCancel(context.Background())
			c.cancel = cancel
			c.wg.Add(1)
			go func() {
				defer c.wg.Done()
				c.worker(ctx)
			}()
		})
	}
}

func (c *chatSink) stop() {
	c.mu.Lock()
	cancel := c.cancel
	c.cancel = nil
	c.mu.Unlock()
	if cancel != nil {
		cancel()
		c.wg.Wait()
	}
}

func (c *chatSink) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case it := <-c.queue:
			c.mu.Lock()
			send := c.send
			c.mu.Unlock()
			if send == nil {
				continue
			}
			sctx, cancel := context.WithTimeout(ctx, 10*time.Second)
			_ = send(sctx, it.chatID, it.threadID, it.text)
			cancel()
		}
	}
}

func (c *chatSink) Write(p []byte) (int, error) {
	return c.WriteLevel(zerolog.InfoLevel, p)
}

func (c *chatSink) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	c.mu.Lock()
	chatID, threadID, min, lim := c.chatID, c.threadID, c.minLevel, c.limiter
	c.mu.Unlock()

	if chatID == 0 || level < min || !lim.Allow() {
		return len(p), nil
	}
	text := formatChatRecord(p)
	if text == "" {
		return len(p), nil
	}
	select {
	case c.queue <- chatItem{chatID: chatID, threadID: threadID, text: text}:
	default:
		c.mu.Lock()
		c.dropped++
		c.mu.Unlock()
	}
	return len(p), nil
}

// formatChatRecord renders a zerolog JSON line as "[LEVEL] msg" followed by
// one "- key=value" line per field, sorted by key.
func formatChatRecord(p []byte) string {
	var m map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(p), &m); err != nil {
		return truncate(strings.TrimSpace(string(p)), 3500)
	}

	lvl, _ := m["level"].(string)
	msg, _ := m["message"].(string)

	var b strings.Builder
	if lvl != "" {
		b.WriteString("[" + strings.ToUpper(lvl) + "] ")
	}
	b.WriteString(msg)

	keys := make([]string, 0, len(m))
	for k := range m {
		switch k {
		case "time", "level", "message":
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v := fmt.Sprint(m[k])
		if k == "stack" {
			b.WriteString("\n- stack=\n" + truncate(v, 900))
			continue
		}
		b.WriteString("\n- " + k + "=" + truncate(v, 600))
	}
	return truncate(b.String(), 3500)
}

func truncate(s string, maxN int) string {
	if maxN <= 0 || len(s) <= maxN {
		return s
	}
	if maxN < 10 {
		return s[:maxN]
	}
	return s[:maxN-3] + "..."
}
