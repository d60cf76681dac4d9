package config

import (
	"bytes"
	"encoding/json"
)

type Config struct {
	Telegram  TelegramConfig             `json:"telegram" yaml:"telegram"`
	Logging   LoggingConfig              `json:"logging" yaml:"logging"`
	Metrics   MetricsConfig              `json:"metrics,omitempty" yaml:"metrics,omitempty"`
	Scheduler SchedulerConfig            `json:"scheduler" yaml:"scheduler"`
	Storage   *StorageConfig             `json:"storage,omitempty" yaml:"storage,omitempty"`
	Plugins   map[string]PluginConfigRaw `json:"plugins" yaml:"plugins"`
}

type TelegramConfig struct {
	Token        string  `json:"token" yaml:"token"`
	OwnerUserIDs []int64 `json:"owner_user_ids" yaml:"owner_user_ids"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout" yaml:"poll_timeout"`
}

type LoggingConfig struct {
	Level   string      `json:"level" yaml:"level"`
	Console bool        `json:"console" yaml:"console"`
	File    LoggingFile `json:"file" yaml:"file"`
	Chat    LoggingChat `json:"chat" yaml:"chat"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Path    string `json:"path" yaml:"path"`
}

// LoggingChat forwards WARN+ log records into a Telegram chat.
type LoggingChat struct {
	Enabled    bool   `json:"enabled" yaml:"enabled"`
	ChatID     int64  `json:"chat_id" yaml:"chat_id"`
	ThreadID   int    `json:"thread_id,omitempty" yaml:"thread_id,omitempty"`
	MinLevel   string `json:"min_level,omitempty" yaml:"min_level,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty" yaml:"rate_per_sec,omitempty"`
}

// MetricsConfig controls the HTTP server exposing /metrics and, optionally,
// /debug/pprof/.
//
// Prefer a loopback Addr. A non-loopback Addr requires Token or
// AllowInsecure.
type MetricsConfig struct {
	Enabled       bool   `json:"enabled" yaml:"enabled"`
	Addr          string `json:"addr,omitempty" yaml:"addr,omitempty"` // default: "127.0.0.1:9090"
	Pprof         bool   `json:"pprof,omitempty" yaml:"pprof,omitempty"`
	Token         string `json:"token,omitempty" yaml:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty" yaml:"allow_insecure,omitempty"`
	ReadTimeout   string `json:"read_timeout,omitempty" yaml:"read_timeout,omitempty"`
	IdleTimeout   string `json:"idle_timeout,omitempty" yaml:"idle_timeout,omitempty"`
}

// SchedulerConfig controls cron-style background jobs.
type SchedulerConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	Timezone string `json:"timezone,omitempty" yaml:"timezone,omitempty"` // IANA, e.g. "Asia/Shanghai"
}

// StorageConfig controls the audit store.
//
//	storage: { driver: sqlite, path: ./data/fortunebot.db }
type StorageConfig struct {
	Driver      string `json:"driver" yaml:"driver"`
	Path        string `json:"path" yaml:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty" yaml:"busy_timeout,omitempty"`
}

type PluginConfigRaw struct {
	Enabled bool            `json:"enabled" yaml:"enabled"`
	Config  json.RawMessage `json:"config,omitempty" yaml:"-"`
}

// UnmarshalJSON rejects unknown keys next to enabled/config.
func (p *PluginConfigRaw) UnmarshalJSON(b []byte) error {
	type tmp struct {
		Enabled bool            `json:"enabled"`
		Config  json.RawMessage `json:"config,omitempty"`
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	var t tmp
	if err := dec.Decode(&t); err != nil {
		return err
	}
	*p = PluginConfigRaw{Enabled: t.Enabled, Config: t.Config}
	return nil
}
