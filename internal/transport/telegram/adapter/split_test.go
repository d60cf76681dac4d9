package adapter

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	tele "gopkg.in/telebot.v4"
)

func TestSplitTextShortPassesThrough(t *testing.T) {
	assert.Equal(t, []string{"hello"}, SplitText("hello", 10, ""))
}

func TestSplitTextPrefersNewlines(t *testing.T) {
	s := strings.Repeat("a", 6) + "\n" + strings.Repeat("b", 6)
	got := SplitText(s, 10, "")
	assert.Equal(t, []string{"aaaaaa", "bbbbbb"}, got)
}

func TestSplitTextAvoidsCuttingHTMLTag(t *testing.T) {
	s := "abcdef<b>bold</b>"
	got := SplitText(s, 8, "HTML")
	assert.Equal(t, "abcdef", got[0])
	assert.Equal(t, s, strings.Join(got, ""))
}

func TestEntityTextUsesUTF16Offsets(t *testing.T) {
	text := "😀 hi @alice"
	// The emoji is two UTF-16 units, so "@alice" starts at unit 6.
	e := tele.MessageEntity{Type: tele.EntityMention, Offset: 6, Length: 6}
	assert.Equal(t, "@alice", entityText(text, e))
	assert.Equal(t, "", entityText(text, tele.MessageEntity{Offset: 40, Length: 3}))
}

func TestConvertMessage(t *testing.T) {
	m := &tele.Message{
		ID:     7,
		Text:   "/jrrp @bob",
		Chat:   &tele.Chat{ID: -100, Type: tele.ChatSuperGroup},
		Sender: &tele.User{ID: 42, FirstName: "Ann", Username: "ann"},
		ReplyTo: &tele.Message{
			ID:     5,
			Sender: &tele.User{ID: 43, FirstName: "Bob"},
		},
		Entities: tele.Entities{
			{Type: tele.EntityMention, Offset: 6, Length: 4},
			{Type: tele.EntityTMention, Offset: 0, Length: 1, User: &tele.User{ID: 44, Username: "cat"}},
		},
	}
	got := convertMessage(m)
	assert.Equal(t, int64(-100), got.ChatID)
	assert.True(t, got.IsGroup())
	assert.Equal(t, "Ann", got.From.Nickname())
	if assert.NotNil(t, got.ReplyTo) {
		assert.Equal(t, 5, got.ReplyTo.MessageID)
		assert.Equal(t, int64(43), got.ReplyTo.From.ID)
	}
	if assert.Len(t, got.Mentions, 2) {
		assert.Equal(t, "bob", got.Mentions[0].Username)
		assert.Equal(t, int64(44), got.Mentions[1].UserID)
	}
	assert.Contains(t, string(got.Raw), `"message_id":7`)
}
