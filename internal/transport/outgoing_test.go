package transport_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fortunebot/internal/transport"
	"fortunebot/internal/transport/transporttest"
)

func TestOutgoingHooksRunInOrder(t *testing.T) {
	fake := transporttest.New()
	out := transport.NewOutgoing(fake)
	out.SetHook("a", func(_ context.Context, _ transport.ChatTarget, text string, _ *transport.SendOptions) string {
		return text + "+a"
	})
	out.SetHook("b", func(_ context.Context, _ transport.ChatTarget, text string, _ *transport.SendOptions) string {
		return strings.ToUpper(text)
	})

	_, err := out.SendText(context.Background(), transport.ChatTarget{ChatID: 1}, "hi", nil)
	require.NoError(t, err)
	assert.Equal(t, "HI+A", fake.Last())

	out.SetHook("b", nil)
	_, err = out.SendText(context.Background(), transport.ChatTarget{ChatID: 1}, "hi", nil)
	require.NoError(t, err)
	assert.Equal(t, "hi+a", fake.Last())
}

func TestAsMemberLookupUnwraps(t *testing.T) {
	fake := transporttest.New()
	wrapped := transport.NewOutgoing(fake)

	ml, ok := transport.AsMemberLookup(wrapped)
	require.True(t, ok)
	assert.NotNil(t, ml)

	_, ok = transport.AsMemberLookup(transport.NewOutgoing(transporttest.Plain{A: fake}))
	assert.False(t, ok)
}

func TestSenderNickname(t *testing.T) {
	assert.Equal(t, "Ann Lee", transport.Sender{FirstName: "Ann", LastName: "Lee"}.Nickname())
	assert.Equal(t, "Ann", transport.Sender{FirstName: "Ann"}.Nickname())
	assert.Equal(t, "@ann", transport.Sender{Username: "ann"}.Nickname())
	assert.Equal(t, "", transport.Sender{}.Nickname())

	m := &transport.Message{ChatType: transport.ChatSuperGroup}
	assert.True(t, m.IsGroup())
	m.ChatType = transport.ChatPrivate
	assert.False(t, m.IsGroup())
}
