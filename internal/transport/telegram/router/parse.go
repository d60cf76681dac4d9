package router

import (
	"strings"

	"github.com/google/uuid"
)

// newReqID returns a short request id for log correlation.
func newReqID() string {
	id := uuid.New()
	return strings.ReplaceAll(id.String(), "-", "")[:12]
}

// commandWord extracts the command name from the first token of a message,
// stripping the leading slash and any @botname suffix.
func commandWord(tok string) string {
	w := strings.TrimPrefix(tok, "/")
	if i := strings.IndexByte(w, '@'); i >= 0 {
		w = w[:i]
	}
	return strings.ToLower(w)
}

// tokenizeCommandLine splits command text on whitespace, honoring single and
// double quotes and backslash escapes:
//
//	/cmd a "b c" --k=v
func tokenizeCommandLine(s string) []string {
	var (
		out     []string
		buf     strings.Builder
		quote   rune
		escaped bool
		started bool
	)
	flush := func() {
		if started {
			out = append(out, buf.String())
			buf.Reset()
			started = false
		}
	}
	for _, r := range strings.TrimSpace(s) {
		switch {
		case escaped:
			buf.WriteRune(r)
			escaped = false
		case r == '\\':
			escaped, started = true, true
		case quote != 0:
			if r == quote {
				quote = 0
			} else {
				buf.WriteRune(r)
			}
		case r == '"' || r == '\'':
			quote, started = r, true
		case r == ' ' || r == '\t' || r == '\n' || r == '\r':
			flush()
		default:
			buf.WriteRune(r)
			started = true
		}
	}
	flush()
	return out
}

// parseFlags splits args into positionals, valued flags and bool flags.
//
//	--k=v  --k v  --flag
//	-k=v   -k v   -abc (bool a, b, c)
//
// A lone "--" ends flag parsing.
func parseFlags(args []string) (pos []string, flags map[string]string, bools map[string]bool) {
	flags = map[string]string{}
	bools = map[string]bool{}
	takesValue := func(i int) bool {
		return i+1 < len(args) && !strings.HasPrefix(args[i+1], "-")
	}
	for i := 0; i < len(args); i++ {
		a := args[i]
		switch {
		case a == "--":
			return append(pos, args[i+1:]...), flags, bools
		case strings.HasPrefix(a, "--") && len(a) > 2:
			key := a[2:]
			if k, v, ok := strings.Cut(key, "="); ok {
				flags[k] = v
			} else if takesValue(i) {
				flags[key] = args[i+1]
				i++
			} else {
				bools[key] = true
			}
		case strings.HasPrefix(a, "-") && len(a) > 1:
			key := a[1:]
			if k, v, ok := strings.Cut(key, "="); ok {
				flags[k] = v
			} else if len(key) == 1 && takesValue(i) {
				flags[key] = args[i+1]
				i++
			} else if len(key) == 1 {
				bools[key] = true
			} else {
				for _, r := range key {
					bools[string(r)] = true
				}
			}
		default:
			pos = append(pos, a)
		}
	}
	return pos, flags, bools
}
