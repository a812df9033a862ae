package player

import (
	"sync"
	"time"

	"nbsplayer/pkg/models"
)

// State represents the current playback state as seen by clients
type State struct {
	Entry         string            `json:"entry,omitempty"`
	IsPlaying     bool              `json:"isPlaying"`
	Progress      float64           `json:"progress"` // percent, one decimal
	Loop          bool              `json:"loop"`
	LoopAvailable bool              `json:"loopAvailable"`
	Parity        bool              `json:"parity"`
	RepeatMode    models.RepeatMode `json:"repeatMode"`
	UpdatedAt     time.Time         `json:"updatedAt"`
}

// StateManager keeps the playback state and notifies listeners. It is the
// progress and loop-toggle port that players and the playlist report into.
type StateManager struct {
	state     *State
	mutex     sync.RWMutex
	listeners []chan *State
}

// NewStateManager creates a new playback state manager
func NewStateManager() *StateManager {
	return &StateManager{
		state: &State{
			Parity:    true,
			UpdatedAt: time.Now(),
		},
		listeners: make([]chan *State, 0),
	}
}

// GetState returns a copy of the current state
func (sm *StateManager) GetState() *State {
	sm.mutex.RLock()
	defer sm.mutex.RUnlock()

	stateCopy := *sm.state
	return &stateCopy
}

// ReportProgress implements ProgressSink.
func (sm *StateManager) ReportProgress(percent float64) {
	sm.update(func(s *State) { s.Progress = percent })
}

// SetLoopState implements LoopSink.
func (sm *StateManager) SetLoopState(enabled, available bool) {
	sm.update(func(s *State) {
		s.Loop = enabled
		s.LoopAvailable = available
	})
}

// UpdateEntry records the current playlist entry
func (sm *StateManager) UpdateEntry(name string) {
	sm.update(func(s *State) { s.Entry = name })
}

// UpdatePlaybackState records whether the current entry is playing
func (sm *StateManager) UpdatePlaybackState(isPlaying bool) {
	sm.update(func(s *State) { s.IsPlaying = isPlaying })
}

// UpdateSettings records the parity and repeat settings
func (sm *StateManager) UpdateSettings(parity bool, repeatMode models.RepeatMode) {
	sm.update(func(s *State) {
		s.Parity = parity
		s.RepeatMode = repeatMode
	})
}

// ClearEntry clears the current entry (when the playlist is emptied)
func (sm *StateManager) ClearEntry() {
	sm.update(func(s *State) {
		s.Entry = ""
		s.IsPlaying = false
		s.Progress = 0
		s.Loop = false
		s.LoopAvailable = false
	})
}

// Subscribe adds a listener for state changes
func (sm *StateManager) Subscribe() <-chan *State {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()

	ch := make(chan *State, 10) // Buffered channel to prevent blocking
	sm.listeners = append(sm.listeners, ch)
	return ch
}

// Unsubscribe removes a listener (call this when done to prevent memory leaks)
func (sm *StateManager) Unsubscribe(ch <-chan *State) {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()

	for i, listener := range sm.listeners {
		if listener == ch {
			close(listener)
			sm.listeners = append(sm.listeners[:i], sm.listeners[i+1:]...)
			break
		}
	}
}

func (sm *StateManager) update(fn func(*State)) {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()

	fn(sm.state)
	sm.state.UpdatedAt = time.Now()
	sm.notifyListeners()
}

// notifyListeners sends state updates to all subscribers (must be called with lock held)
func (sm *StateManager) notifyListeners() {
	stateCopy := *sm.state
	kept := sm.listeners[:0]
	for _, listener := range sm.listeners {
		select {
		case listener <- &stateCopy:
			kept = append(kept, listener)
		default:
			// Channel is full, drop the listener
			close(listener)
		}
	}
	sm.listeners = kept
}
