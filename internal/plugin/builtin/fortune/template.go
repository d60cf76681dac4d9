package fortune

import (
	"fmt"
	"slices"
	"strings"
)

// Template is a compiled "{name}" template. "{{" and "}}" are literal
// braces. Placeholders are checked against an allowlist at compile time.
type Template struct {
	name  string
	text  string
	parts []tplPart
}

type tplPart struct {
	lit string
	key string // non-empty for placeholders
}

func CompileTemplate(name, text string, allowed []string) (*Template, error) {
	t := &Template{name: name, text: text}
	var lit strings.Builder
	flush := func() {
		if lit.Len() > 0 {
			t.parts = append(t.parts, tplPart{lit: lit.String()})
			lit.Reset()
		}
	}

	for i := 0; i < len(text); i++ {
		c := text[i]
		switch {
		case c == '{' && i+1 < len(text) && text[i+1] == '{':
			lit.WriteByte('{')
			i++
		case c == '}' && i+1 < len(text) && text[i+1] == '}':
			lit.WriteByte('}')
			i++
		case c == '}':
			return nil, &TemplateError{Template: name, Reason: fmt.Sprintf("unbalanced '}' at offset %d", i)}
		case c == '{':
			end := strings.IndexAny(text[i+1:], "{}")
			if end < 0 || text[i+1+end] != '}' {
				return nil, &TemplateError{Template: name, Reason: fmt.Sprintf("unclosed '{' at offset %d", i)}
			}
			key := text[i+1 : i+1+end]
			if !validKey(key) {
				return nil, &TemplateError{Template: name, Placeholder: key, Reason: "malformed placeholder"}
			}
			if !slices.Contains(allowed, key) {
				return nil, &TemplateError{Template: name, Placeholder: key, Reason: "unknown placeholder"}
			}
			flush()
			t.parts = append(t.parts, tplPart{key: key})
			i += end + 1
		default:
			lit.WriteByte(c)
		}
	}
	flush()
	return t, nil
}

func validKey(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r != '_' && (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			return false
		}
	}
	return true
}

func (t *Template) Name() string {
	if t == nil {
		return ""
	}
	return t.name
}

// Text returns the template source.
func (t *Template) Text() string {
	if t == nil {
		return ""
	}
	return t.text
}

// RenderErr substitutes vars into t. A placeholder missing from vars is a
// *TemplateError.
func (t *Template) RenderErr(vars map[string]any) (string, error) {
	if t == nil {
		return "", nil
	}
	var b strings.Builder
	b.Grow(len(t.text))
	for _, p := range t.parts {
		if p.key == "" {
			b.WriteString(p.lit)
			continue
		}
		v, ok := vars[p.key]
		if !ok {
			return "", &TemplateError{Template: t.name, Placeholder: p.key, Reason: "missing value for"}
		}
		b.WriteString(fmt.Sprint(v))
	}
	return b.String(), nil
}

// Render is RenderErr that degrades to the unrendered template text.
func (t *Template) Render(vars map[string]any) string {
	s, err := t.RenderErr(vars)
	if err != nil {
		return t.text
	}
	return s
}
