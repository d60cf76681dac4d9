package fortune

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "fortunebot/pkg/logx"
)

func TestResolveProvider(t *testing.T) {
	tests := []struct {
		c       LLMConfig
		want    string
		wantErr bool
	}{
		{LLMConfig{}, providerNone, false},
		{LLMConfig{APIKey: "k"}, providerGemini, false},
		{LLMConfig{APIKey: "k", APIURL: "http://x"}, providerOpenAI, false},
		{LLMConfig{APIURL: "http://x"}, providerNone, false},
		{LLMConfig{Provider: "NONE", APIKey: "k"}, providerNone, false},
		{LLMConfig{Provider: "gemini"}, "", true},
		{LLMConfig{Provider: "openai", APIKey: "k"}, "", true},
		{LLMConfig{Provider: "openai", APIKey: "k", APIURL: "http://x"}, providerOpenAI, false},
		{LLMConfig{Provider: "claude"}, "", true},
	}
	for _, tt := range tests {
		got, err := resolveProvider(tt.c)
		if tt.wantErr {
			assert.Error(t, err, "%+v", tt.c)
			continue
		}
		require.NoError(t, err, "%+v", tt.c)
		assert.Equal(t, tt.want, got, "%+v", tt.c)
	}
}

func TestOpenAINarrator(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"  水晶球亮了  "}}]}`))
	}))
	defer srv.Close()

	n, err := NewNarrator(context.Background(), LLMConfig{APIKey: "secret", APIURL: srv.URL + "/v1/"}, srv.Client())
	require.NoError(t, err)
	require.IsType(t, &openAINarrator{}, n)

	out, err := n.Complete(context.Background(), "prompt", "persona")
	require.NoError(t, err)
	assert.Equal(t, "  水晶球亮了  ", out)
	assert.Equal(t, defaultOpenAIModel, got.Model)
	assert.Equal(t, []chatMessage{{Role: "system", Content: "persona"}, {Role: "user", Content: "prompt"}}, got.Messages)
}

func TestOpenAINarratorErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/status/chat/completions":
			http.Error(w, "nope", http.StatusTooManyRequests)
		case "/api/chat/completions":
			_, _ = w.Write([]byte(`{"error":{"message":"bad key"}}`))
		default:
			_, _ = w.Write([]byte(`{"choices":[]}`))
		}
	}))
	defer srv.Close()

	for c, want := range map[string]string{"status": "status 429", "api": "bad key", "empty": "no completion"} {
		n := newOpenAINarrator(LLMConfig{APIKey: "k", APIURL: srv.URL + "/" + c}, srv.Client())
		_, err := n.Complete(context.Background(), "p", "")
		require.Error(t, err, c)
		assert.Contains(t, err.Error(), want, c)
	}
}

type funcNarrator func(ctx context.Context, prompt, persona string) (string, error)

func (f funcNarrator) Complete(ctx context.Context, prompt, persona string) (string, error) {
	return f(ctx, prompt, persona)
}

func TestNarrateFallbacks(t *testing.T) {
	ctx := context.Background()
	ok := newNarration(funcNarrator(func(context.Context, string, string) (string, error) {
		return "  text \n", nil
	}), 0, time.Second, logx.Nop())
	text, fb := ok.narrate(ctx, "process", "p", "", "fb")
	assert.Equal(t, "text", text)
	assert.False(t, fb)

	failing := newNarration(funcNarrator(func(context.Context, string, string) (string, error) {
		return "", errors.New("boom")
	}), 0, time.Second, logx.Nop())
	text, fb = failing.narrate(ctx, "process", "p", "", "fb")
	assert.Equal(t, "fb", text)
	assert.True(t, fb)

	empty := newNarration(funcNarrator(func(context.Context, string, string) (string, error) {
		return "   ", nil
	}), 0, time.Second, logx.Nop())
	text, fb = empty.narrate(ctx, "process", "p", "", "fb")
	assert.Equal(t, "fb", text)
	assert.True(t, fb)

	slow := newNarration(funcNarrator(func(ctx context.Context, _, _ string) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}), 0, 20*time.Millisecond, logx.Nop())
	start := time.Now()
	text, fb = slow.narrate(ctx, "process", "p", "", "fb")
	assert.Equal(t, "fb", text)
	assert.True(t, fb)
	assert.Less(t, time.Since(start), time.Second)

	none := newNarration(staticNarrator{}, 2, time.Second, logx.Nop())
	text, fb = none.narrate(ctx, "advice", "p", "", "fb")
	assert.Equal(t, "fb", text)
	assert.True(t, fb)

	// A completion that happens to equal the fallback text is still a completion.
	echo := newNarration(funcNarrator(func(context.Context, string, string) (string, error) {
		return fallbackAdvice, nil
	}), 0, time.Second, logx.Nop())
	text, fb = echo.narrate(ctx, "advice", "p", "", fallbackAdvice)
	assert.Equal(t, fallbackAdvice, text)
	assert.False(t, fb)
}
