package fortune

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

const defaultGeminiModel = "gemini-2.0-flash"

type genaiNarrator struct {
	client *genai.Client
	model  string
}

func newGenaiNarrator(ctx context.Context, c LLMConfig) (*genaiNarrator, error) {
	cc := &genai.ClientConfig{
		APIKey:  strings.TrimSpace(c.APIKey),
		Backend: genai.BackendGeminiAPI,
	}
	if u := strings.TrimSpace(c.APIURL); u != "" {
		cc.HTTPOptions.BaseURL = u
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	model := strings.TrimSpace(c.Model)
	if model == "" {
		model = defaultGeminiModel
	}
	return &genaiNarrator{client: client, model: model}, nil
}

func (n *genaiNarrator) Complete(ctx context.Context, prompt, persona string) (string, error) {
	var gc *genai.GenerateContentConfig
	if persona != "" {
		gc = &genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(persona, genai.RoleUser),
		}
	}
	contents := []*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)}
	resp, err := n.client.Models.GenerateContent(ctx, n.model, contents, gc)
	if err != nil {
		return "", fmt.Errorf("gemini generate: %w", err)
	}
	return resp.Text(), nil
}
