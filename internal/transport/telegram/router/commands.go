package router

import (
	"context"
	"runtime"
	"runtime/debug"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	kit "fortunebot/internal/transport"
	logx "fortunebot/pkg/logx"
)

type Access int

const (
	AccessEveryone Access = iota
	AccessOwnerOnly
)

type Command struct {
	// Route is a space-separated command path, e.g. "jrrp" or "rawmsg enrich".
	Route       string
	Aliases     []string // root-level aliases, e.g. ["jrrpdel"]
	Description string
	Usage       string
	Access      Access

	PluginName string
	Timeout    time.Duration // optional per-command override
	Handle     HandlerFunc
}

// MessageObserver sees every incoming message before routing. Observers run
// on the dispatch goroutine and must not block.
type MessageObserver func(ctx context.Context, msg *kit.Message)

type Request struct {
	Message *kit.Message
	Chat    kit.ChatTarget
	From    kit.Sender
	Path    []string // matched command path tokens
	Command string   // canonical route
	Args    []string // positionals after flag parsing

	RawArgs   []string
	Flags     map[string]string
	BoolFlags map[string]bool
	ReqID     string

	Adapter kit.Adapter
	Config  *Config
	Logger  logx.Logger
	IsOwner bool
}

// HasFlag reports whether --name was given, with or without a value.
func (r *Request) HasFlag(name string) bool {
	if r.BoolFlags[name] {
		return true
	}
	_, ok := r.Flags[name]
	return ok
}

// Reply sends text to the request chat as a reply to the command message.
func (r *Request) Reply(ctx context.Context, text string) (kit.MessageRef, error) {
	return r.Adapter.SendText(ctx, r.Chat, text, &kit.SendOptions{ReplyTo: r.Message.ID, DisablePreview: true})
}

// ReplyHTML is Reply with HTML parse mode.
func (r *Request) ReplyHTML(ctx context.Context, text string) (kit.MessageRef, error) {
	return r.Adapter.SendText(ctx, r.Chat, text, &kit.SendOptions{ReplyTo: r.Message.ID, DisablePreview: true, ParseMode: "HTML"})
}

type ManagerOption func(*CommandManager)

// WithWorkers sets the dispatch pool size (default NumCPU, at least 2).
func WithWorkers(n int) ManagerOption { return func(m *CommandManager) { m.workers = n } }

func WithMetrics(mt *Metrics) ManagerOption { return func(m *CommandManager) { m.metrics = mt } }

// WithQueueSize bounds the number of commands waiting for a worker.
func WithQueueSize(n int) ManagerOption {
	return func(m *CommandManager) {
		if n > 0 {
			m.jobs = make(chan func(), n)
		}
	}
}

type CommandManager struct {
	mu        sync.RWMutex
	root      *cmdNode
	alias     map[string]*cmdNode // alias -> node
	menu      []kit.BotCommand
	observers []MessageObserver
	owners    []int64

	log     logx.Logger
	adapter kit.Adapter
	cfgm    *ConfigManager
	metrics *Metrics
	workers int

	runMu   sync.Mutex
	running bool

	jobs chan func()
}

func NewCommandManager(log logx.Logger, adapter kit.Adapter, cfgm *ConfigManager, owners []int64, opts ...ManagerOption) *CommandManager {
	if log.IsZero() {
		log = logx.Nop()
	}
	m := &CommandManager{
		root:    newRoot(),
		alias:   map[string]*cmdNode{},
		owners:  slices.Clone(owners),
		log:     log,
		adapter: adapter,
		cfgm:    cfgm,
		workers: max(runtime.NumCPU(), 2),
		jobs:    make(chan func(), 256),
	}
	for _, o := range opts {
		o(m)
	}
	if m.workers < 1 {
		m.workers = 1
	}
	return m
}

// SetOwners updates the owner list used for AccessOwnerOnly checks.
func (m *CommandManager) SetOwners(owners []int64) {
	m.mu.Lock()
	m.owners = slices.Clone(owners)
	m.mu.Unlock()
}

func (m *CommandManager) isOwner(id int64) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Contains(m.owners, id)
}

// SetObservers replaces the message observers.
func (m *CommandManager) SetObservers(obs []MessageObserver) {
	m.mu.Lock()
	m.observers = slices.Clone(obs)
	m.mu.Unlock()
}

// SetRegistry replaces the command set. A /help command is always added.
func (m *CommandManager) SetRegistry(cmds []Command) {
	cmds = append(slices.Clone(cmds), Command{
		Route:       "help",
		Aliases:     []string{"h"},
		Description: "显示帮助",
		Usage:       "/help [命令] [子命令...]",
		Handle: func(ctx context.Context, req *Request) error {
			_, err := req.ReplyHTML(ctx, m.helpText(req.Args))
			return err
		},
	})

	root := newRoot()
	alias := map[string]*cmdNode{}
	leaves := make([]Command, 0, len(cmds))
	for _, c := range cmds {
		route := splitRoute(c.Route)
		if len(route) == 0 || c.Handle == nil {
			continue
		}
		leaf := root.add(route, c)
		leaves = append(leaves, c)

		// Multi-token routes get a Telegram-safe shortcut (/rawmsg_enrich).
		// Single-token names stay out of the alias map so /a b still reaches
		// the "a b" subcommand.
		if menu, ok := telegramCommandNameFromRoute(route); ok && (len(route) > 1 || menu != route[0]) {
			if _, exists := alias[menu]; !exists {
				alias[menu] = leaf
			}
		}
		for _, a := range c.Aliases {
			a = strings.ToLower(strings.TrimSpace(a))
			if a == "" || strings.ContainsRune(a, ' ') {
				continue
			}
			alias[a] = leaf
			if sa := sanitizeTelegramCommand(a); sa != "" {
				if _, exists := alias[sa]; !exists {
					alias[sa] = leaf
				}
			}
		}
	}
	menu := buildTelegramMenuCommands(root, leaves)

	m.mu.Lock()
	m.root = root
	m.alias = alias
	m.menu = menu
	m.mu.Unlock()
}

// SyncMenu pushes the current command list to the platform command menu when
// the adapter supports it.
func (m *CommandManager) SyncMenu(ctx context.Context) error {
	up, ok := kit.AsMenuUpdater(m.adapter)
	if !ok {
		return nil
	}
	m.mu.RLock()
	menu := m.menu
	m.mu.RUnlock()
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return up.UpdateMenuCommands(ctx, menu)
}

// tryEnqueue reports false when the queue is full or already closed.
func (m *CommandManager) tryEnqueue(fn func()) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	select {
	case m.jobs <- fn:
		return true
	default:
		return false
	}
}

// DispatchLoop consumes updates until ctx is done or updates is closed.
// Commands run on a supervised worker pool.
func (m *CommandManager) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	m.runMu.Lock()
	if m.running {
		m.runMu.Unlock()
		return nil
	}
	m.running = true
	m.runMu.Unlock()

	log := m.log.With(logx.String("comp", "router"))
	sup := NewSupervisor(ctx, WithLogger(log), WithCancelOnError(false))
	for i := 0; i < m.workers; i++ {
		sup.GoRestart("command.worker."+strconv.Itoa(i), m.worker,
			WithRestartBackoff(200*time.Millisecond, 5*time.Second),
			WithPublishFirstError(true),
			WithStopOnCleanExit(true),
		)
	}
	log.Info("command dispatcher started", logx.Int("workers", m.workers), logx.Int("queue_cap", cap(m.jobs)))

	defer func() {
		m.runMu.Lock()
		m.running = false
		close(m.jobs)
		m.runMu.Unlock()
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		log.Info("command dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			if up.Kind == kit.UpdateMessage && up.Message != nil {
				m.observe(ctx, up.Message)
				m.route(ctx, up.Message)
			}
		}
	}
}

func (m *CommandManager) worker(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case job, ok := <-m.jobs:
			if !ok {
				return nil
			}
			func() {
				defer func() {
					if r := recover(); r != nil {
						m.log.Error("panic in command job", logx.Any("panic", r), logx.Stack(string(debug.Stack())))
					}
				}()
				job()
			}()
		}
	}
}

func (m *CommandManager) observe(ctx context.Context, msg *kit.Message) {
	m.mu.RLock()
	obs := m.observers
	m.mu.RUnlock()
	for _, o := range obs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					m.log.Error("panic in message observer", logx.Any("panic", r), logx.Stack(string(debug.Stack())))
				}
			}()
			o(ctx, msg)
		}()
	}
}

// resolve maps a command line to a node. It returns nil when the first token
// is not a known command.
func (m *CommandManager) resolve(text string) (node *cmdNode, path, args []string) {
	parts := tokenizeCommandLine(text)
	if len(parts) == 0 {
		return nil, nil, nil
	}
	word := commandWord(parts[0])
	args = parts[1:]

	m.mu.RLock()
	root, alias := m.root, m.alias
	m.mu.RUnlock()

	if leaf, ok := alias[word]; ok && leaf.cmd != nil {
		return leaf, splitRoute(leaf.cmd.Route), args
	}
	return root.walk(word, args)
}

func (m *CommandManager) route(ctx context.Context, msg *kit.Message) {
	text := strings.TrimSpace(msg.Text)
	if !strings.HasPrefix(text, "/") {
		return
	}
	node, path, args := m.resolve(text)
	to := msg.Target()
	if node == nil {
		// Groups often host several bots; stay quiet there.
		if !msg.IsGroup() {
			_, _ = m.adapter.SendText(ctx, to, "未知命令，试试 /help", &kit.SendOptions{ReplyTo: msg.ID})
		}
		m.metrics.reject("unknown")
		return
	}
	if node.cmd == nil {
		_, _ = m.adapter.SendText(ctx, to, m.helpText(path), &kit.SendOptions{ParseMode: "HTML", DisablePreview: true, ReplyTo: msg.ID})
		return
	}
	m.dispatch(ctx, msg, *node.cmd, path, args)
}

func (m *CommandManager) dispatch(ctx context.Context, msg *kit.Message, cmd Command, path, raw []string) {
	owner := m.isOwner(msg.From.ID)
	if cmd.Access == AccessOwnerOnly && !owner {
		_, _ = m.adapter.SendText(ctx, msg.Target(), "unauthorized", &kit.SendOptions{ReplyTo: msg.ID})
		m.metrics.reject("unauthorized")
		return
	}

	pos, flags, bools := parseFlags(raw)
	rid := newReqID()
	var cfg *Config
	if m.cfgm != nil {
		cfg = m.cfgm.Get()
	}
	req := &Request{
		Message:   msg,
		Chat:      msg.Target(),
		From:      msg.From,
		Path:      path,
		Command:   cmd.Route,
		Args:      pos,
		RawArgs:   raw,
		Flags:     flags,
		BoolFlags: bools,
		ReqID:     rid,
		Adapter:   m.adapter,
		Config:    cfg,
		IsOwner:   owner,
		Logger: m.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", msg.ChatID),
			logx.Int64("from_id", msg.From.ID),
			logx.String("cmd", cmd.Route),
		),
	}
	if cmd.PluginName != "" {
		req.Logger = req.Logger.With(logx.String("plugin", cmd.PluginName))
	}

	final := Chain(cmd.Handle,
		MWPanicRecover(),
		MWRequestLog(750*time.Millisecond),
		MWMetrics(m.metrics),
		MWTimeout(cmd.Timeout),
	)
	if !m.tryEnqueue(func() { _ = final(ctx, req) }) {
		_, _ = m.adapter.SendText(ctx, req.Chat, "忙碌中，请稍后再试", &kit.SendOptions{ReplyTo: msg.ID})
		m.metrics.reject("busy")
	}
}
