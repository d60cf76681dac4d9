package tgui

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestBuilder(t *testing.T) {
	m := New().ReplyTo(3).Title("🧾", "a<b").KV("k", "v&w").Line("x > y").Pre("{\"a\": 1}").Build()
	assert.Equal(t, "🧾 <b>a&lt;b</b>\n• <b>k</b>: v&amp;w\nx &gt; y\n<pre><code>{&#34;a&#34;: 1}</code></pre>", m.Text)
	assert.Equal(t, "HTML", m.Opt.ParseMode)
	assert.True(t, m.Opt.DisablePreview)
	assert.Equal(t, 3, m.Opt.ReplyTo)
}

func TestPreFitsMessageLimit(t *testing.T) {
	m := New().Title("", "dump").Pre(strings.Repeat("é&", 5000)).Build()
	assert.LessOrEqual(t, utf8.RuneCountInString(m.Text), MaxMessageLen)
	assert.True(t, strings.HasSuffix(m.Text, "\n…</code></pre>"))

	short := New().Pre("ok\n").Build()
	assert.Equal(t, "<pre><code>ok</code></pre>", short.Text)
}

func TestTruncRunes(t *testing.T) {
	assert.Equal(t, "héllo", TruncRunes("héllo", 5))
	assert.Equal(t, "hé…", TruncRunes("héllo", 2))
	assert.Equal(t, "", TruncRunes("héllo", 0))
}

func TestJoinHSkipsBlank(t *testing.T) {
	assert.Equal(t, H("<b>a</b> | x"), JoinH(" | ", B("a"), "", Esc("x")))
}
