package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHub_Broadcast(t *testing.T) {
	hub := NewHub(4)
	a, cancelA := hub.Subscribe()
	b, cancelB := hub.Subscribe()
	defer cancelA()
	defer cancelB()

	e := hub.Publish(TypeNotice, "hello")

	assert.Equal(t, e, <-a)
	assert.Equal(t, e, <-b)
	assert.Equal(t, uint64(1), e.ID)
	assert.Equal(t, 2, hub.Subscribers())
}

func TestHub_SlowSubscriberDoesNotBlock(t *testing.T) {
	hub := NewHub(2)
	ch, cancel := hub.Subscribe()
	defer cancel()

	for i := 0; i < 5; i++ {
		hub.Publish(TypePosition, i)
	}

	assert.Len(t, ch, 2)
	assert.Equal(t, uint64(3), hub.Dropped())
	first := <-ch
	assert.Equal(t, 0, first.Data)
}

func TestHub_CancelAndClose(t *testing.T) {
	hub := NewHub(1)
	ch, cancel := hub.Subscribe()
	cancel()
	cancel()

	_, open := <-ch
	assert.False(t, open)
	assert.Equal(t, 0, hub.Subscribers())

	live, cancelLive := hub.Subscribe()
	hub.Close()
	_, open = <-live
	assert.False(t, open)
	cancelLive()

	late, _ := hub.Subscribe()
	_, open = <-late
	require.False(t, open, "subscribing to a closed hub yields a closed channel")
}
