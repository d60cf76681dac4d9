package fortune

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	json "github.com/goccy/go-json"
)

const defaultOpenAIModel = "gpt-4o-mini"

// openAINarrator speaks the OpenAI chat completions protocol, which most
// hosted and self-hosted gateways accept.
type openAINarrator struct {
	baseURL string
	apiKey  string
	model   string
	hc      *http.Client
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func newOpenAINarrator(c LLMConfig, hc *http.Client) *openAINarrator {
	if hc == nil {
		hc = http.DefaultClient
	}
	model := strings.TrimSpace(c.Model)
	if model == "" {
		model = defaultOpenAIModel
	}
	return &openAINarrator{
		baseURL: strings.TrimRight(strings.TrimSpace(c.APIURL), "/"),
		apiKey:  strings.TrimSpace(c.APIKey),
		model:   model,
		hc:      hc,
	}
}

func (n *openAINarrator) Complete(ctx context.Context, prompt, persona string) (string, error) {
	msgs := make([]chatMessage, 0, 2)
	if persona != "" {
		msgs = append(msgs, chatMessage{Role: "system", Content: persona})
	}
	msgs = append(msgs, chatMessage{Role: "user", Content: prompt})

	body, err := json.Marshal(chatRequest{Model: n.model, Messages: msgs})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+n.apiKey)

	resp, err := n.hc.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, truncate(string(raw), 200))
	}

	var out chatResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("parse response: %w", err)
	}
	if out.Error != nil {
		return "", fmt.Errorf("API error: %s", out.Error.Message)
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("no completion returned")
	}
	return out.Choices[0].Message.Content, nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
