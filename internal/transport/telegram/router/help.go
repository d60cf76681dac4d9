package router

import (
	"html"
	"slices"
	"strings"
)

// helpText renders help for path in Telegram HTML.
func (m *CommandManager) helpText(path []string) string {
	m.mu.RLock()
	root, alias := m.root, m.alias
	m.mu.RUnlock()

	if len(path) == 0 {
		return helpTop(root)
	}
	cur := root
	full := make([]string, 0, len(path))
	for _, p := range path {
		p = strings.ToLower(strings.TrimPrefix(p, "/"))
		n, ok := cur.child(p)
		if !ok {
			if leaf, ok := alias[p]; ok && leaf.cmd != nil && len(full) == 0 {
				return helpNode(leaf, splitRoute(leaf.cmd.Route))
			}
			return "❓ <b>未知命令</b>\n输入 <code>/help</code> 查看命令列表。"
		}
		cur = n
		full = append(full, p)
	}
	return helpNode(cur, full)
}

func helpTop(root *cmdNode) string {
	type row struct {
		name, desc string
		lock       bool
	}
	rows := make([]row, 0, len(root.children))
	for _, name := range root.childNames() {
		n, _ := root.child(name)
		rows = append(rows, row{name: name, desc: summarizeNodeDesc(n), lock: nodeIsOwnerOnly(n)})
	}
	// Owner-only commands last; alphabetical within each group.
	slices.SortStableFunc(rows, func(a, b row) int {
		if a.lock != b.lock {
			if a.lock {
				return 1
			}
			return -1
		}
		return strings.Compare(a.name, b.name)
	})

	lines := []string{"📚 <b>命令列表</b>", "输入 <code>/help &lt;命令&gt;</code> 查看详情。", ""}
	for _, r := range rows {
		lines = append(lines, bullet(r.lock)+"<code>/"+html.EscapeString(r.name)+"</code>"+descSuffix(r.desc))
	}
	return strings.Join(lines, "\n")
}

func helpNode(cur *cmdNode, full []string) string {
	title := "/" + strings.Join(full, " ")
	lines := []string{"📚 <b>帮助</b> <code>" + html.EscapeString(title) + "</code>"}

	if c := cur.cmd; c != nil {
		if d := strings.TrimSpace(c.Description); d != "" {
			lines = append(lines, html.EscapeString(d))
		}
		if c.Access == AccessOwnerOnly {
			lines = append(lines, "🔒 <i>仅限管理员</i>")
		}
		if u := strings.TrimSpace(c.Usage); u != "" {
			lines = append(lines, "", "<b>用法</b>", "<code>"+html.EscapeString(u)+"</code>")
		}
		if short := buildShortcuts(*c); len(short) > 0 {
			lines = append(lines, "", "<b>别名</b>")
			for _, s := range short {
				lines = append(lines, "• <code>/"+html.EscapeString(s)+"</code>")
			}
		}
	} else {
		lines = append(lines, "命令组（含子命令）。")
	}

	if len(cur.children) > 0 {
		lines = append(lines, "", "<b>子命令</b>")
		for _, name := range cur.childNames() {
			n, _ := cur.child(name)
			cmd := "/" + strings.Join(append(slices.Clone(full), name), " ")
			lines = append(lines, bullet(nodeIsOwnerOnly(n))+"<code>"+html.EscapeString(cmd)+"</code>"+descSuffix(summarizeNodeDesc(n)))
		}
	}
	return strings.Join(lines, "\n")
}

func bullet(lock bool) string {
	if lock {
		return "• 🔒 "
	}
	return "• "
}

func descSuffix(desc string) string {
	if desc == "" {
		return ""
	}
	return " · " + html.EscapeString(desc)
}

func summarizeNodeDesc(n *cmdNode) string {
	if n.cmd != nil {
		if d := strings.TrimSpace(n.cmd.Description); d != "" {
			return d
		}
	}
	kids := n.childNames()
	if len(kids) == 0 {
		return ""
	}
	shown := kids[:min(3, len(kids))]
	s := strings.Join(shown, ", ")
	if len(kids) > len(shown) {
		s += ", …"
	}
	return "子命令: " + s
}

// nodeIsOwnerOnly treats a group as owner-only when none of its commands is
// open to everyone.
func nodeIsOwnerOnly(n *cmdNode) bool {
	if n.cmd != nil {
		return n.cmd.Access == AccessOwnerOnly
	}
	for _, ch := range n.children {
		if !nodeIsOwnerOnly(ch) {
			return false
		}
	}
	return true
}

func buildShortcuts(c Command) []string {
	seen := map[string]bool{}
	var out []string
	add := func(s string) {
		if s != "" && !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	if route := splitRoute(c.Route); len(route) > 1 {
		if menu, ok := telegramCommandNameFromRoute(route); ok {
			add(menu)
		}
	}
	for _, a := range c.Aliases {
		a = strings.TrimSpace(a)
		if a == "" || strings.ContainsRune(a, ' ') {
			continue
		}
		add(a)
		add(sanitizeTelegramCommand(a))
	}
	slices.Sort(out)
	return out
}
