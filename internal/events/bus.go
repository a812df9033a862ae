// Package events is a typed publish/subscribe bus for playback notifications.
package events

import (
	"sync"
)

// Kind identifies an event.
type Kind int

const (
	// Loop is published when a player jumps back to its loop start tick.
	Loop Kind = iota
	// End is published when a player finishes with no internal loop left.
	End
	// Change is published when the playlist's current entry changes.
	Change
	// ClickChange is published when a user selects a playlist entry.
	ClickChange
	// PlaylistEnd is published when the playlist runs out without wrapping.
	PlaylistEnd
)

func (k Kind) String() string {
	switch k {
	case Loop:
		return "loop"
	case End:
		return "end"
	case Change:
		return "change"
	case ClickChange:
		return "clickChange"
	case PlaylistEnd:
		return "playlistEnd"
	default:
		return "unknown"
	}
}

// Event is delivered to subscribers.
type Event struct {
	Kind  Kind   `json:"kind"`
	Entry string `json:"entry,omitempty"`
	Index int    `json:"index"`
}

// Handler receives events synchronously on the publishing goroutine.
type Handler func(Event)

type subscription struct {
	id      int
	handler Handler
}

// Bus delivers each event to every handler subscribed to its kind, in
// registration order, and to every channel watcher.
type Bus struct {
	mutex    sync.RWMutex
	handlers map[Kind][]subscription
	watchers []*watcher
	nextID   int
}

type watcher struct {
	kinds map[Kind]bool
	ch    chan Event
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{
		handlers: make(map[Kind][]subscription),
	}
}

// Subscribe registers handler for kind and returns a function that removes it.
func (b *Bus) Subscribe(kind Kind, handler Handler) func() {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	b.nextID++
	id := b.nextID
	b.handlers[kind] = append(b.handlers[kind], subscription{id: id, handler: handler})

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mutex.Lock()
			defer b.mutex.Unlock()

			subs := b.handlers[kind]
			for i, sub := range subs {
				if sub.id == id {
					b.handlers[kind] = append(subs[:i:i], subs[i+1:]...)
					break
				}
			}
		})
	}
}

// Watch returns a buffered channel receiving events of the given kinds (all
// kinds when none are given). A watcher that falls behind is dropped and its
// channel closed. Call the returned function when done to prevent leaks.
func (b *Bus) Watch(kinds ...Kind) (<-chan Event, func()) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	w := &watcher{ch: make(chan Event, 16)}
	if len(kinds) > 0 {
		w.kinds = make(map[Kind]bool, len(kinds))
		for _, kind := range kinds {
			w.kinds[kind] = true
		}
	}
	b.watchers = append(b.watchers, w)

	return w.ch, func() { b.removeWatcher(w) }
}

func (b *Bus) removeWatcher(w *watcher) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	for i, existing := range b.watchers {
		if existing == w {
			close(w.ch)
			b.watchers = append(b.watchers[:i], b.watchers[i+1:]...)
			return
		}
	}
}

// Publish delivers e. Handlers run outside the bus lock so they may subscribe,
// unsubscribe or publish themselves.
func (b *Bus) Publish(e Event) {
	b.mutex.RLock()
	subs := make([]subscription, len(b.handlers[e.Kind]))
	copy(subs, b.handlers[e.Kind])
	b.mutex.RUnlock()

	for _, sub := range subs {
		sub.handler(e)
	}

	b.notifyWatchers(e)
}

// HandlerCount returns how many handlers are subscribed to kind.
func (b *Bus) HandlerCount(kind Kind) int {
	b.mutex.RLock()
	defer b.mutex.RUnlock()
	return len(b.handlers[kind])
}

func (b *Bus) notifyWatchers(e Event) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	kept := b.watchers[:0]
	for _, w := range b.watchers {
		if w.kinds != nil && !w.kinds[e.Kind] {
			kept = append(kept, w)
			continue
		}
		select {
		case w.ch <- e:
			kept = append(kept, w)
		default:
			// Watcher is not keeping up, drop it
			close(w.ch)
		}
	}
	for i := len(kept); i < len(b.watchers); i++ {
		b.watchers[i] = nil
	}
	b.watchers = kept
}
