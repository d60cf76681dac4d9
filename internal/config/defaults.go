package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"
	_ "time/tzdata"

	logx "fortunebot/pkg/logx"
)

const (
	DefaultMetricsAddr = "127.0.0.1:9090"
	DefaultTimezone    = "Asia/Shanghai"
)

// Default returns the config written by `fortunebot init`. Plugin sections are
// supplied by the caller since plugins own their defaults.
func Default(plugins map[string]PluginConfigRaw) *Config {
	return &Config{
		Telegram: TelegramConfig{PollTimeout: "10s"},
		Logging: LoggingConfig{
			Level:   "info",
			Console: true,
			File:    LoggingFile{Path: "./fortunebot.log"},
			Chat:    LoggingChat{MinLevel: "warn", RatePerSec: 1},
		},
		Metrics:   MetricsConfig{Addr: DefaultMetricsAddr},
		Scheduler: SchedulerConfig{Enabled: true, Timezone: DefaultTimezone},
		Storage:   &StorageConfig{Driver: "file", Path: "./data/fortunebot"},
		Plugins:   plugins,
	}
}

// ErrExists is returned by WriteDefault when the target exists and force is false.
var ErrExists = errors.New("config file already exists")

// WriteDefault encodes cfg in the format implied by path's extension and
// writes it atomically.
func WriteDefault(path string, cfg *Config, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%w: %s", ErrExists, path)
		}
	}
	tree, err := toTree(cfg)
	if err != nil {
		return err
	}
	b, err := encodeTree(formatOf(path), tree)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// toTree turns cfg into a generic map so YAML and TOML see the JSON field
// names and plugin configs inline rather than as raw bytes.
func toTree(cfg *Config) (map[string]any, error) {
	b, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var tree map[string]any
	if err := json.Unmarshal(b, &tree); err != nil {
		return nil, err
	}
	tidy, _ := tidyTree(tree).(map[string]any)
	return tidy, nil
}

// tidyTree drops nulls and restores integral numbers so TOML does not write
// them as floats.
func tidyTree(in any) any {
	switch x := in.(type) {
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, v := range x {
			if v == nil {
				continue
			}
			out[k] = tidyTree(v)
		}
		return out
	case []any:
		for i := range x {
			x[i] = tidyTree(x[i])
		}
		return x
	case float64:
		if x == math.Trunc(x) && math.Abs(x) < 1<<53 {
			return int64(x)
		}
		return x
	default:
		return in
	}
}

// Validate checks everything that does not depend on plugins. requireToken is
// false for `fortunebot validate` runs that only lint the file.
func Validate(cfg *Config, requireToken bool) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	if requireToken && strings.TrimSpace(cfg.Telegram.Token) == "" {
		errs = append(errs, fmt.Errorf("telegram.token is empty (set it or %s)", EnvTelegramToken))
	}
	if _, err := ParseDurationField("telegram.poll_timeout", cfg.Telegram.PollTimeout); err != nil {
		errs = append(errs, err)
	}
	for _, id := range cfg.Telegram.OwnerUserIDs {
		if id <= 0 {
			errs = append(errs, fmt.Errorf("telegram.owner_user_ids: invalid id %d", id))
		}
	}
	if cfg.Logging.Chat.Enabled && cfg.Logging.Chat.ChatID == 0 {
		errs = append(errs, errors.New("logging.chat.chat_id is required when logging.chat.enabled"))
	}
	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			errs = append(errs, fmt.Errorf("scheduler.timezone: %w", err))
		}
	}
	if s := cfg.Storage; s != nil {
		switch strings.ToLower(strings.TrimSpace(s.Driver)) {
		case "", "none", "file", "sqlite", "sqlite3":
		default:
			errs = append(errs, fmt.Errorf("storage.driver: unsupported %q", s.Driver))
		}
		if _, err := ParseDurationField("storage.busy_timeout", s.BusyTimeout); err != nil {
			errs = append(errs, err)
		}
	}
	if err := validateMetrics(cfg.Metrics); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func validateMetrics(m MetricsConfig) error {
	if !m.Enabled {
		return nil
	}
	addr := strings.TrimSpace(m.Addr)
	if addr == "" {
		addr = DefaultMetricsAddr
	}
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("metrics.addr: %w", err)
	}
	if !IsLoopbackHost(host) && strings.TrimSpace(m.Token) == "" && !m.AllowInsecure {
		return fmt.Errorf("metrics.addr %q is not loopback; set metrics.token or metrics.allow_insecure", addr)
	}
	for _, f := range []struct{ path, raw string }{
		{"metrics.read_timeout", m.ReadTimeout},
		{"metrics.idle_timeout", m.IdleTimeout},
	} {
		if _, err := ParseDurationField(f.path, f.raw); err != nil {
			return err
		}
	}
	return nil
}

func IsLoopbackHost(host string) bool {
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// LogxConfig maps the logging section onto the logging service config.
func (l LoggingConfig) LogxConfig() logx.Config {
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File:    logx.FileConfig{Enabled: l.File.Enabled, Path: l.File.Path},
		Chat: logx.ChatConfig{
			Enabled:    l.Chat.Enabled,
			ChatID:     l.Chat.ChatID,
			ThreadID:   l.Chat.ThreadID,
			MinLevel:   l.Chat.MinLevel,
			RatePerSec: l.Chat.RatePerSec,
		},
	}
}

// IsOwner reports whether userID is listed in telegram.owner_user_ids.
func (c *Config) IsOwner(userID int64) bool {
	return c != nil && slices.Contains(c.Telegram.OwnerUserIDs, userID)
}
