package fortune

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"fortunebot/internal/config"
	core "fortunebot/internal/plugin"
)

// Config is the "fortune" plugin section. Keys missing from the file keep
// the values from DefaultConfig.
type Config struct {
	EnablePlugin     bool   `json:"enable_plugin"`
	MinFortune       int    `json:"min_fortune"`
	MaxFortune       int    `json:"max_fortune"`
	FortuneAlgorithm string `json:"fortune_algorithm"`
	CacheDays        int    `json:"cache_days"`
	HistoryDays      int    `json:"history_days"`
	ShowCachedResult bool   `json:"show_cached_result"`
	Timezone         string `json:"timezone"`
	DataDir          string `json:"data_dir"`

	DetectingMessage string `json:"detecting_message"`
	ProcessPrompt    string `json:"process_prompt"`
	AdvicePrompt     string `json:"advice_prompt"`
	ResultTemplate   string `json:"result_template"`
	QueryTemplate    string `json:"query_template"`
	HistoryTemplate  string `json:"history_template"`
	RankTemplate     string `json:"rank_template"`
	RankItemTemplate string `json:"rank_item_template"`

	LLMProviderID string  `json:"llm_provider_id"`
	LLMAPIKey     string  `json:"llm_api_key"`
	LLMAPIURL     string  `json:"llm_api_url"`
	LLMModel      string  `json:"llm_model"`
	LLMTimeout    string  `json:"llm_timeout"`
	LLMRatePerSec float64 `json:"llm_rate_per_sec"`
	PersonaName   string  `json:"persona_name"`

	Levels Tiers `json:"levels"`
}

const (
	defaultLLMTimeout = 15 * time.Second
	defaultDataDir    = "./data/fortune"
)

func DefaultConfig() Config {
	return Config{
		EnablePlugin:     true,
		MinFortune:       0,
		MaxFortune:       100,
		FortuneAlgorithm: string(AlgorithmRandom),
		CacheDays:        7,
		HistoryDays:      30,
		ShowCachedResult: true,
		Timezone:         config.DefaultTimezone,
		DataDir:          defaultDataDir,

		DetectingMessage: "神秘的能量汇聚，{nickname}，你的命运即将显现，正在祈祷中...",
		ProcessPrompt:    "使用{nickname}的简称称呼，模拟你使用水晶球缓慢复现今日结果的过程，50字以内",
		AdvicePrompt:     "使用{nickname}的简称称呼，对{nickname}的今日人品值{jrrp}给出你的评语和建议，50字以内",
		ResultTemplate:   "🔮 {process}\n💎 人品值：{jrrp}\n✨ 运势：{fortune}\n💬 建议：{advice}",
		QueryTemplate:    "📌 今日人品\n{nickname}，今天已经查询过了哦~\n今日人品值: {jrrp}\n运势: {fortune} {femoji}",
		HistoryTemplate:  "📚 {nickname} 的人品历史记录\n{records}\n\n📊 统计信息:\n平均人品值: {avgjrrp}\n最高人品值: {maxjrrp}\n最低人品值: {minjrrp}",
		RankTemplate:     "📊【今日人品排行榜】{date}\n━━━━━━━━━━━━━━━\n{ranks}",
		RankItemTemplate: "{medal} {nickname}: {jrrp} ({fortune})",

		LLMTimeout:    defaultLLMTimeout.String(),
		LLMRatePerSec: 2,

		Levels: DefaultTiers(),
	}
}

// Placeholders accepted by each template.
var (
	promptVars    = []string{"nickname", "card", "title", "jrrp", "fortune"}
	resultVars    = []string{"process", "jrrp", "fortune", "advice", "nickname", "femoji"}
	queryVars     = []string{"nickname", "jrrp", "fortune", "femoji"}
	historyVars   = []string{"nickname", "records", "avgjrrp", "maxjrrp", "minjrrp"}
	rankVars      = []string{"date", "ranks"}
	rankItemVars  = []string{"medal", "nickname", "jrrp", "fortune"}
	detectingVars = []string{"nickname"}
)

type templates struct {
	detecting, process, advice *Template
	result, query, history     *Template
	rank, rankItem             *Template
}

// settings is a validated Config with everything derived from it. It is
// immutable once built.
type settings struct {
	cfg        Config
	loc        *time.Location
	alg        Algorithm
	llmTimeout time.Duration
	tpl        templates
}

// decodeSettings merges raw over the defaults and validates the result.
func decodeSettings(raw json.RawMessage) (*settings, error) {
	c, err := core.DecodePluginConfig(raw, DefaultConfig())
	if err != nil {
		return nil, err
	}
	return c.compile()
}

func (c Config) compile() (*settings, error) {
	s := &settings{cfg: c}
	var errs []error

	if err := checkRange(c.MinFortune, c.MaxFortune); err != nil {
		errs = append(errs, err)
	} else if err := c.Levels.Validate(c.MinFortune, c.MaxFortune); err != nil {
		errs = append(errs, err)
	}

	alg, err := ParseAlgorithm(c.FortuneAlgorithm)
	if err != nil {
		errs = append(errs, err)
	}
	s.alg = alg

	if c.HistoryDays < 1 {
		errs = append(errs, errors.New("history_days must be >= 1"))
	}
	if c.CacheDays < 0 {
		errs = append(errs, errors.New("cache_days must be >= 0"))
	}
	if strings.TrimSpace(c.DataDir) == "" {
		errs = append(errs, errors.New("data_dir is required"))
	}

	tz := strings.TrimSpace(c.Timezone)
	if tz == "" {
		tz = config.DefaultTimezone
	}
	if s.loc, err = time.LoadLocation(tz); err != nil {
		errs = append(errs, fmt.Errorf("timezone: %w", err))
	}

	if s.llmTimeout, err = config.ParseDurationBounded("llm_timeout", c.LLMTimeout, defaultLLMTimeout, commandTimeout/2); err != nil {
		errs = append(errs, err)
	}
	if c.LLMRatePerSec < 0 {
		errs = append(errs, errors.New("llm_rate_per_sec must be >= 0"))
	}
	if _, err := resolveProvider(c.llm()); err != nil {
		errs = append(errs, err)
	}

	compile := func(dst **Template, name, text string, allowed []string) {
		t, err := CompileTemplate(name, text, allowed)
		if err != nil {
			errs = append(errs, err)
			return
		}
		*dst = t
	}
	compile(&s.tpl.detecting, "detecting_message", c.DetectingMessage, detectingVars)
	compile(&s.tpl.process, "process_prompt", c.ProcessPrompt, promptVars)
	compile(&s.tpl.advice, "advice_prompt", c.AdvicePrompt, promptVars)
	compile(&s.tpl.result, "result_template", c.ResultTemplate, resultVars)
	compile(&s.tpl.query, "query_template", c.QueryTemplate, queryVars)
	compile(&s.tpl.history, "history_template", c.HistoryTemplate, historyVars)
	compile(&s.tpl.rank, "rank_template", c.RankTemplate, rankVars)
	compile(&s.tpl.rankItem, "rank_item_template", c.RankItemTemplate, rankItemVars)

	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("invalid fortune config: %w", err)
	}
	return s, nil
}

func (c Config) llm() LLMConfig {
	return LLMConfig{
		Provider: c.LLMProviderID,
		APIKey:   c.LLMAPIKey,
		APIURL:   c.LLMAPIURL,
		Model:    c.LLMModel,
	}
}

// today returns the current date in the plugin timezone.
func (s *settings) today(now time.Time) string {
	return now.In(s.loc).Format(dateLayout)
}
