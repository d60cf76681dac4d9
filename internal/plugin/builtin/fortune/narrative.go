package fortune

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	logx "fortunebot/pkg/logx"
)

// Narrator produces flavor text for a fortune result.
type Narrator interface {
	Complete(ctx context.Context, prompt, persona string) (string, error)
}

const (
	providerGemini = "gemini"
	providerOpenAI = "openai"
	providerNone   = "none"
)

type LLMConfig struct {
	Provider string // gemini, openai, none; empty selects from the other fields
	APIKey   string
	APIURL   string
	Model    string
}

// resolveProvider picks the provider for c. An empty id selects openai
// when both url and key are set, gemini when only a key is set, else none.
func resolveProvider(c LLMConfig) (string, error) {
	id := strings.ToLower(strings.TrimSpace(c.Provider))
	key := strings.TrimSpace(c.APIKey)
	url := strings.TrimSpace(c.APIURL)
	switch id {
	case "":
		switch {
		case url != "" && key != "":
			return providerOpenAI, nil
		case key != "":
			return providerGemini, nil
		default:
			return providerNone, nil
		}
	case providerGemini:
		if key == "" {
			return "", fmt.Errorf("llm_provider_id gemini requires llm_api_key")
		}
		return id, nil
	case providerOpenAI:
		if key == "" || url == "" {
			return "", fmt.Errorf("llm_provider_id openai requires llm_api_key and llm_api_url")
		}
		return id, nil
	case providerNone:
		return id, nil
	default:
		return "", fmt.Errorf("unknown llm_provider_id %q (want gemini, openai or none)", c.Provider)
	}
}

// NewNarrator builds the narrator selected by c. hc is used by the
// OpenAI-compatible client; nil means http.DefaultClient.
func NewNarrator(ctx context.Context, c LLMConfig, hc *http.Client) (Narrator, error) {
	id, err := resolveProvider(c)
	if err != nil {
		return nil, err
	}
	switch id {
	case providerGemini:
		return newGenaiNarrator(ctx, c)
	case providerOpenAI:
		return newOpenAINarrator(c, hc), nil
	default:
		return staticNarrator{}, nil
	}
}

type staticNarrator struct{}

func (staticNarrator) Complete(context.Context, string, string) (string, error) {
	return "", ErrNoProvider
}

// narration bounds every narrator call by a timeout and a shared rate
// limit, and substitutes a fallback for failed or empty completions.
type narration struct {
	n       Narrator
	limit   *rate.Limiter
	timeout time.Duration
	log     logx.Logger
}

func newNarration(n Narrator, perSec float64, timeout time.Duration, log logx.Logger) *narration {
	lim := rate.NewLimiter(rate.Inf, 0)
	if perSec > 0 {
		lim = rate.NewLimiter(rate.Limit(perSec), max(1, int(perSec)))
	}
	return &narration{n: n, limit: lim, timeout: timeout, log: log}
}

// narrate returns the completion, or fallback with usedFallback set when the
// provider is absent, slow, failing or silent.
func (s *narration) narrate(ctx context.Context, kind, prompt, persona, fallback string) (text string, usedFallback bool) {
	if s == nil || s.n == nil {
		return fallback, true
	}
	if _, ok := s.n.(staticNarrator); ok {
		return fallback, true
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	if err := s.limit.Wait(ctx); err != nil {
		s.log.Warn("narrative rate limited, using fallback", logx.String("kind", kind), logx.Err(err))
		return fallback, true
	}
	out, err := s.n.Complete(ctx, prompt, persona)
	if err != nil {
		s.log.Warn("narrative generation failed, using fallback",
			logx.String("kind", kind),
			logx.Duration("took", time.Since(start)),
			logx.Err(err),
		)
		return fallback, true
	}
	out = strings.TrimSpace(out)
	if out == "" {
		s.log.Warn("narrative generation returned empty text, using fallback", logx.String("kind", kind))
		return fallback, true
	}
	s.log.Debug("narrative generated", logx.String("kind", kind), logx.Duration("took", time.Since(start)))
	return out, false
}
