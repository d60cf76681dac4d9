package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file":   JSON Lines audit log at <path without ext>.audit.jsonl
//   - "sqlite": SQLite database file (modernc, pure Go)
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// AuditEntry records a data-changing action.
type AuditEntry struct {
	ID      string         `json:"id"`
	At      time.Time      `json:"at"`
	ActorID int64          `json:"actor_id"`
	ChatID  int64          `json:"chat_id,omitempty"`
	Plugin  string         `json:"plugin"`
	Action  string         `json:"action"`
	Target  string         `json:"target,omitempty"`
	OK      bool           `json:"ok"`
	Error   string         `json:"error,omitempty"`
	Meta    map[string]any `json:"meta,omitempty"`
}
