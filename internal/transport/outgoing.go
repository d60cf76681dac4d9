package transport

import (
	"context"
	"sync"
)

// OutgoingHook may rewrite the text of an outgoing message. It must return
// text unchanged when it has nothing to add.
type OutgoingHook func(ctx context.Context, to ChatTarget, text string, opt *SendOptions) string

// Outgoing wraps an Adapter and runs registered hooks over every SendText.
// Hooks run in registration order.
type Outgoing struct {
	Adapter

	mu    sync.RWMutex
	hooks map[string]OutgoingHook
	order []string
}

func NewOutgoing(inner Adapter) *Outgoing {
	return &Outgoing{Adapter: inner, hooks: map[string]OutgoingHook{}}
}

func (o *Outgoing) Unwrap() Adapter { return o.Adapter }

// SetHook installs (or replaces) a named hook. A nil hook removes it.
func (o *Outgoing) SetHook(name string, h OutgoingHook) {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, exists := o.hooks[name]
	if h == nil {
		if exists {
			delete(o.hooks, name)
			for i, n := range o.order {
				if n == name {
					o.order = append(o.order[:i], o.order[i+1:]...)
					break
				}
			}
		}
		return
	}
	o.hooks[name] = h
	if !exists {
		o.order = append(o.order, name)
	}
}

func (o *Outgoing) SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error) {
	o.mu.RLock()
	hooks := make([]OutgoingHook, 0, len(o.order))
	for _, n := range o.order {
		hooks = append(hooks, o.hooks[n])
	}
	o.mu.RUnlock()

	for _, h := range hooks {
		text = h(ctx, to, text, opt)
	}
	return o.Adapter.SendText(ctx, to, text, opt)
}
