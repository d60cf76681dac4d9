package rawmsg

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"fortunebot/internal/config"
	core "fortunebot/internal/plugin"
)

// Config is the "rawmsg" plugin section.
type Config struct {
	CacheSize     int    `json:"cache_size"`
	InjectTip     bool   `json:"inject_tip"`
	TipTemplate   string `json:"tip_template"`
	LookupTimeout string `json:"lookup_timeout"`
}

const (
	defaultCacheSize     = 512
	defaultLookupTimeout = 3 * time.Second
	defaultTipTemplate   = "💡 msg #{id} · /rawmsg"
)

func DefaultConfig() Config {
	return Config{
		CacheSize:     defaultCacheSize,
		TipTemplate:   defaultTipTemplate,
		LookupTimeout: defaultLookupTimeout.String(),
	}
}

var placeholderRe = regexp.MustCompile(`\{([^{}]*)\}`)

type settings struct {
	cfg     Config
	timeout time.Duration
}

// tip renders the tip for message id.
func (s *settings) tip(id int) string {
	return placeholderRe.ReplaceAllStringFunc(s.cfg.TipTemplate, func(string) string {
		return strconv.Itoa(id)
	})
}

func decodeSettings(raw json.RawMessage) (*settings, error) {
	c, err := core.DecodePluginConfig(raw, DefaultConfig())
	if err != nil {
		return nil, err
	}
	s := &settings{cfg: c}
	var errs []error
	if c.CacheSize < 1 {
		errs = append(errs, errors.New("cache_size must be >= 1"))
	}
	for _, m := range placeholderRe.FindAllStringSubmatch(c.TipTemplate, -1) {
		if m[1] != "id" {
			errs = append(errs, fmt.Errorf("tip_template: unknown placeholder {%s}", m[1]))
		}
	}
	if s.timeout, err = config.ParseDurationBounded("lookup_timeout", c.LookupTimeout, defaultLookupTimeout, commandTimeout); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("invalid rawmsg config: %w", err)
	}
	return s, nil
}
