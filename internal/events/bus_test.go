package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandlersRunInRegistrationOrder(t *testing.T) {
	bus := NewBus()
	var calls []string

	bus.Subscribe(End, func(Event) { calls = append(calls, "first") })
	bus.Subscribe(End, func(Event) { calls = append(calls, "second") })
	bus.Subscribe(Loop, func(Event) { calls = append(calls, "loop") })

	bus.Publish(Event{Kind: End})

	assert.Equal(t, []string{"first", "second"}, calls)
}

func TestUnsubscribe(t *testing.T) {
	bus := NewBus()
	count := 0

	unsubscribe := bus.Subscribe(Change, func(Event) { count++ })
	bus.Publish(Event{Kind: Change})
	unsubscribe()
	unsubscribe()
	bus.Publish(Event{Kind: Change})

	assert.Equal(t, 1, count)
	assert.Equal(t, 0, bus.HandlerCount(Change))
}

func TestHandlerMayPublish(t *testing.T) {
	bus := NewBus()
	var got []Kind

	bus.Subscribe(End, func(Event) { bus.Publish(Event{Kind: PlaylistEnd}) })
	bus.Subscribe(PlaylistEnd, func(e Event) { got = append(got, e.Kind) })

	bus.Publish(Event{Kind: End})
	assert.Equal(t, []Kind{PlaylistEnd}, got)
}

func TestWatchFiltersKinds(t *testing.T) {
	bus := NewBus()
	ch, stop := bus.Watch(Change)
	defer stop()

	bus.Publish(Event{Kind: Loop})
	bus.Publish(Event{Kind: Change, Entry: "song", Index: 2})

	select {
	case e := <-ch:
		assert.Equal(t, Change, e.Kind)
		assert.Equal(t, "song", e.Entry)
		assert.Equal(t, 2, e.Index)
	default:
		t.Fatal("expected a change event")
	}
}

func TestSlowWatcherIsDropped(t *testing.T) {
	bus := NewBus()
	ch, stop := bus.Watch()
	defer stop()

	for i := 0; i < 32; i++ {
		bus.Publish(Event{Kind: Loop, Index: i})
	}

	received := 0
	for range ch {
		received++
	}
	require.Equal(t, 16, received)
}
