package eventbus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscribeFiltersByType(t *testing.T) {
	b := New()
	all, unsubAll := b.Subscribe(4)
	defer unsubAll()
	deletes, unsubDel := b.Subscribe(4, FortuneDeleted)
	defer unsubDel()

	b.Publish(Event{Type: FortuneDrawn, Actor: 1})
	b.Publish(Event{Type: FortuneDeleted, Actor: 2})

	require.Len(t, all, 2)
	require.Len(t, deletes, 1)
	e := <-deletes
	assert.Equal(t, int64(2), e.Actor)
	assert.False(t, e.Time.IsZero())
}

func TestPublishDropsWhenFull(t *testing.T) {
	b := New()
	_, unsub := b.Subscribe(1)
	defer unsub()

	b.Publish(Event{Type: FortuneDrawn})
	b.Publish(Event{Type: FortuneDrawn})
	assert.Equal(t, uint64(1), b.Dropped())
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(1)
	unsub()
	unsub()
	_, ok := <-ch
	assert.False(t, ok)
	b.Publish(Event{Type: FortuneReset})
}
