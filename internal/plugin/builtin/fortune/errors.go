package fortune

import (
	"errors"
	"fmt"
)

var (
	// ErrConfirmationRequired is returned by destructive operations invoked
	// without --confirm.
	ErrConfirmationRequired = errors.New("confirmation required")
	// ErrGroupOnly is returned by commands that only make sense in a group.
	ErrGroupOnly = errors.New("command is only available in group chats")
	// ErrNoProvider means no narrative provider is configured.
	ErrNoProvider = errors.New("no narrative provider configured")
)

// StorageError wraps a failed read or write of a JSON data file.
type StorageError struct {
	Op   string // "mkdir", "read", "decode", "write", "remove"
	Path string
	Err  error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// TemplateError reports a template that failed to compile or render.
type TemplateError struct {
	Template    string
	Placeholder string // empty for syntax errors
	Reason      string
}

func (e *TemplateError) Error() string {
	if e.Placeholder != "" {
		return fmt.Sprintf("template %s: %s {%s}", e.Template, e.Reason, e.Placeholder)
	}
	return fmt.Sprintf("template %s: %s", e.Template, e.Reason)
}

type InvalidRangeError struct {
	Min, Max int
}

func (e *InvalidRangeError) Error() string {
	if e.Min > e.Max {
		return fmt.Sprintf("invalid fortune range: min %d > max %d", e.Min, e.Max)
	}
	return fmt.Sprintf("invalid fortune range: %d..%d spans more than %d values", e.Min, e.Max, MaxRangeSpan)
}

// TierCoverageError describes the first problem found in a level table.
type TierCoverageError struct {
	Kind     string // "empty", "inverted", "overlap", "gap"
	From, To int
}

func (e *TierCoverageError) Error() string {
	switch e.Kind {
	case "empty":
		return "levels: no tiers defined"
	case "inverted":
		return fmt.Sprintf("levels: tier min %d > max %d", e.From, e.To)
	case "overlap":
		return fmt.Sprintf("levels: tiers overlap or are out of order at %d..%d", e.From, e.To)
	default:
		return fmt.Sprintf("levels: values %d..%d are not covered", e.From, e.To)
	}
}
