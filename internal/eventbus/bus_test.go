package eventbus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscribeFiltersByType(t *testing.T) {
	bus := New()
	all, unsubAll := bus.Subscribe(4)
	defer unsubAll()
	failed, unsubFailed := bus.Subscribe(4, "job.failed")
	defer unsubFailed()

	bus.Publish(Event{Type: "job.started"})
	bus.Publish(Event{Type: "job.failed", Data: "x"})

	require.Len(t, all, 2)
	require.Len(t, failed, 1)
	ev := <-failed
	assert.Equal(t, "job.failed", ev.Type)
	assert.False(t, ev.Time.IsZero())
}

func TestPublishDropsWhenSubscriberFull(t *testing.T) {
	bus := New()
	_, unsub := bus.Subscribe(1)
	defer unsub()

	bus.Publish(Event{Type: "a"})
	bus.Publish(Event{Type: "b"})

	assert.Equal(t, uint64(1), bus.Dropped())
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	bus := New()
	ch, unsub := bus.Subscribe(1)
	unsub()
	unsub()

	_, ok := <-ch
	assert.False(t, ok)
	bus.Publish(Event{Type: "after"})
}
