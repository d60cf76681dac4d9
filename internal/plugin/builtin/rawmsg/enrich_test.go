package rawmsg

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kit "fortunebot/internal/transport"
	"fortunebot/internal/transport/transporttest"
)

const enrichRaw = `{
	"message_id": 9,
	"from": {"id": 42, "first_name": "Ann"},
	"chat": {"id": -100, "type": "supergroup"},
	"reply_to_message": {"message_id": 5, "from": {"id": 43}},
	"text": "@alice @ghost",
	"entities": [
		{"type": "mention", "offset": 0, "length": 6},
		{"type": "mention", "offset": 7, "length": 6}
	]
}`

func TestEnrichAddsMembers(t *testing.T) {
	ad := transporttest.New()
	ad.Members[42] = kit.Member{UserID: 42, FirstName: "Ann", Title: "boss"}
	ad.Members[43] = kit.Member{UserID: 43, FirstName: "Bob"}
	ad.Members[44] = kit.Member{UserID: 44, Username: "alice"}

	doc, err := enricher{lookup: ad, timeout: time.Second}.Enrich(context.Background(), []byte(enrichRaw), 0)
	require.NoError(t, err)

	sender := doc[keySenderMember].(lookupResult)
	require.NotNil(t, sender.Member)
	assert.Equal(t, "boss", sender.Member.Title)

	reply := doc[keyReplyMember].(lookupResult)
	require.NotNil(t, reply.Member)
	assert.Equal(t, int64(43), reply.Member.UserID)

	mentions := doc[keyMentions].([]lookupResult)
	require.Len(t, mentions, 2)
	assert.Equal(t, int64(44), mentions[0].Member.UserID)
	assert.Nil(t, mentions[1].Member)
	assert.Equal(t, "ghost", mentions[1].Username)
	assert.NotEmpty(t, mentions[1].Error)

	// input fields survive enrichment
	assert.Contains(t, doc, "message_id")
	assert.NotContains(t, doc, keyEnrichError)
}

func TestEnrichChatFallback(t *testing.T) {
	ad := transporttest.New()
	ad.Members[42] = kit.Member{UserID: 42, FirstName: "Ann"}

	_, err := enricher{lookup: ad, timeout: time.Second}.Enrich(context.Background(), []byte(enrichRaw), -5)
	require.NoError(t, err)
	for _, c := range ad.LookupChats() {
		assert.Equal(t, int64(-100), c)
	}

	ad = transporttest.New()
	ad.Members[42] = kit.Member{UserID: 42, FirstName: "Ann"}
	noChat := `{"message_id": 3, "from": {"id": 42, "first_name": "Ann"}, "text": "hi"}`
	doc, err := enricher{lookup: ad, timeout: time.Second}.Enrich(context.Background(), []byte(noChat), -200)
	require.NoError(t, err)
	assert.Equal(t, []int64{-200}, ad.LookupChats())
	sender := doc[keySenderMember].(lookupResult)
	require.NotNil(t, sender.Member)
	assert.Empty(t, sender.Error)
}

func TestEnrichRecordsLookupFailures(t *testing.T) {
	ad := transporttest.New()
	ad.LookupErr = errors.New("api down")

	doc, err := enricher{lookup: ad, timeout: time.Second}.Enrich(context.Background(), []byte(enrichRaw), 0)
	require.NoError(t, err)
	assert.Equal(t, "api down", doc[keySenderMember].(lookupResult).Error)
	assert.Equal(t, "api down", doc[keyReplyMember].(lookupResult).Error)
}

func TestEnrichWithoutLookup(t *testing.T) {
	doc, err := enricher{timeout: time.Second}.Enrich(context.Background(), []byte(enrichRaw), 0)
	require.NoError(t, err)
	assert.Equal(t, errNoLookup.Error(), doc[keyEnrichError])
	assert.NotContains(t, doc, keySenderMember)

	_, err = enricher{}.Enrich(context.Background(), nil, 0)
	assert.ErrorIs(t, err, ErrNoPayload)
}
