package router

import (
	"slices"
	"strings"
)

// cmdNode is one token of a command route. Leaves (and optionally inner
// nodes) carry a Command.
type cmdNode struct {
	name     string
	cmd      *Command
	children map[string]*cmdNode
}

func newRoot() *cmdNode {
	return &cmdNode{children: map[string]*cmdNode{}}
}

func splitRoute(route string) []string {
	return strings.Fields(route)
}

func (n *cmdNode) add(route []string, c Command) *cmdNode {
	cur := n
	for _, tok := range route {
		next, ok := cur.children[tok]
		if !ok {
			next = &cmdNode{name: tok, children: map[string]*cmdNode{}}
			cur.children[tok] = next
		}
		cur = next
	}
	cur.cmd = &c
	return cur
}

func (n *cmdNode) child(name string) (*cmdNode, bool) {
	c, ok := n.children[name]
	return c, ok
}

func (n *cmdNode) childNames() []string {
	out := make([]string, 0, len(n.children))
	for k := range n.children {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}

// walk descends from n following args while they name children. It stops at
// the first flag or unknown token and returns the node reached, the consumed
// path and the remaining args.
func (n *cmdNode) walk(first string, args []string) (*cmdNode, []string, []string) {
	cur, ok := n.child(first)
	if !ok {
		return nil, nil, args
	}
	path := []string{first}
	for len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		next, ok := cur.child(args[0])
		if !ok {
			break
		}
		cur = next
		path = append(path, args[0])
		args = args[1:]
	}
	return cur, path, args
}
