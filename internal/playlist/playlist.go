// Package playlist orders players, advances between them according to the
// repeat mode and persists its state.
package playlist

import (
	"context"
	"errors"
	"sync"
	"time"

	"nbsplayer/internal/clock"
	"nbsplayer/internal/events"
	"nbsplayer/internal/player"
	"nbsplayer/internal/render"
	"nbsplayer/pkg/models"

	"github.com/sirupsen/logrus"
)

// DefaultSettleDelay is the pause between one song ending and the next starting.
const DefaultSettleDelay = time.Second

var (
	ErrUnknownEntry  = errors.New("playlist: unknown entry")
	ErrEmptyPlaylist = errors.New("playlist: empty")
)

// Store persists small values across sessions. A missing key is reported by
// Contains as false and is not an error.
type Store interface {
	Get(key string) ([]byte, error)
	Put(key string, value []byte) error
	Contains(key string) (bool, []byte, error)
}

// Loader decodes raw song bytes.
type Loader interface {
	Load(data []byte) (*models.Song, error)
}

// Options configures a Playlist. Zero values pick defaults except Parity,
// which is used as given, and SettleDelay, where zero means no pause.
type Options struct {
	Sink        render.Sink
	Store       Store
	Bus         *events.Bus
	Clock       clock.Clock // settle delay
	PlayerClock clock.Clock // tick pacing; defaults to Clock
	Logger      *logrus.Logger
	Identity    Identity
	SettleDelay time.Duration
	Parity      bool
	State       *player.StateManager
	Passphrase  string // seals the saved archive when set

	// MaxArchiveSize caps the decompressed size of imported archives;
	// zero keeps archive.DefaultMaxSize
	MaxArchiveSize int64
}

type entry struct {
	key         string
	name        string
	source      string
	raw         []byte
	player      *player.Player
	unsubscribe []func()
}

// Playlist owns one player per entry. Display order has the newest entry
// first; advancing moves towards the end of the order.
type Playlist struct {
	mutex      sync.Mutex
	entries    map[string]*entry
	order      []*entry
	current    *entry
	playing    *entry // entry marked as the playback position
	repeatMode models.RepeatMode
	parity     bool

	sink        render.Sink
	store       Store
	bus         *events.Bus
	clock       clock.Clock
	playerClock clock.Clock
	logger      *logrus.Logger
	identity    Identity
	settleDelay time.Duration
	state       *player.StateManager
	passphrase  string
	maxArchive  int64

	ctx     context.Context
	cancel  context.CancelFunc
	closed  bool
	pending sync.WaitGroup
}

// New creates an empty playlist.
func New(opts Options) *Playlist {
	p := &Playlist{
		entries:     make(map[string]*entry),
		parity:      opts.Parity,
		sink:        opts.Sink,
		store:       opts.Store,
		bus:         opts.Bus,
		clock:       opts.Clock,
		playerClock: opts.PlayerClock,
		logger:      opts.Logger,
		identity:    opts.Identity,
		settleDelay: opts.SettleDelay,
		state:       opts.State,
		passphrase:  opts.Passphrase,
		maxArchive:  opts.MaxArchiveSize,
	}
	if p.sink == nil {
		p.sink = render.SinkFunc(func(int, *models.Instrument, float64, float64, int) {})
	}
	if p.bus == nil {
		p.bus = events.NewBus()
	}
	if p.clock == nil {
		p.clock = clock.Real{}
	}
	if p.playerClock == nil {
		p.playerClock = p.clock
	}
	if p.logger == nil {
		p.logger = logrus.New()
		p.logger.SetFormatter(&logrus.JSONFormatter{})
	}
	if p.identity == nil {
		p.identity = ByDisplayName
	}
	p.ctx, p.cancel = context.WithCancel(context.Background())

	if p.state != nil {
		p.state.UpdateSettings(p.parity, p.repeatMode)
	}
	return p
}

// Bus returns the bus the playlist publishes on. Player Loop and End events
// are forwarded to it with the entry key set. Loop handlers run on a tick
// loop and must not call back into the playlist.
func (p *Playlist) Bus() *events.Bus {
	return p.bus
}

// Add loads a song into the playlist and makes it current. fallback names
// songs without a title. When the identity policy maps the song to an
// existing entry, that entry becomes current and no player is created.
func (p *Playlist) Add(song *models.Song, raw []byte, fallback string) models.PlaylistEntry {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.describeLocked(p.addLocked(song, raw, fallback))
}

func (p *Playlist) addLocked(song *models.Song, raw []byte, fallback string) *entry {
	name := models.DisplayName(song, fallback)
	key := p.identity.Key(song, raw, name)

	if e, ok := p.entries[key]; ok {
		p.setCurrentLocked(e)
		p.logger.WithField("entry", key).Debug("Song already in playlist")
		return e
	}

	e := &entry{key: key, name: name, source: fallback, raw: raw}
	e.player = player.New(song, p.sink, p.playerOptions()...)
	e.unsubscribe = []func(){
		e.player.Subscribe(events.End, func(events.Event) { p.handleEnd(e) }),
		e.player.Subscribe(events.Loop, func(ev events.Event) {
			p.bus.Publish(events.Event{Kind: events.Loop, Entry: e.key, Index: ev.Index})
		}),
	}

	p.entries[key] = e
	p.order = append([]*entry{e}, p.order...)
	p.setCurrentLocked(e)

	// Looping is handled by the playlist once it holds several songs
	if len(p.order) > 1 {
		for _, other := range p.order {
			other.player.DisableLoop()
		}
	}

	p.logger.WithFields(logrus.Fields{
		"entry": key,
		"name":  name,
		"size":  song.Size,
	}).Info("Song added to playlist")
	return e
}

func (p *Playlist) playerOptions() []player.Option {
	opts := []player.Option{
		player.WithClock(p.playerClock),
		player.WithLogger(p.logger),
		player.WithParity(p.parity),
	}
	if p.state != nil {
		opts = append(opts, player.WithProgressSink(p.state), player.WithLoopSink(p.state))
	}
	return opts
}

// handleEnd runs on the ended player's goroutine.
func (p *Playlist) handleEnd(e *entry) {
	p.mutex.Lock()
	if p.closed {
		p.mutex.Unlock()
		return
	}
	// The marked entry is the playback position even when a newer entry
	// was added and made current while it played
	advance := e == p.playing || (p.playing == nil && e == p.current)
	p.pending.Add(1)
	p.mutex.Unlock()
	defer p.pending.Done()

	p.bus.Publish(events.Event{Kind: events.End, Entry: e.key})
	if p.state != nil {
		p.state.UpdatePlaybackState(false)
	}
	if !advance {
		return
	}

	if err := p.Next(p.ctx); err != nil && !errors.Is(err, context.Canceled) {
		p.logger.WithError(err).Warn("Failed to advance playlist")
	}
}

// Next advances according to the repeat mode: Song restarts the marked
// entry, otherwise the entry after the marked one starts, wrapping to the
// first entry in Playlist mode. Every player is paused first. When
// nothing follows, PlaylistEnd is published and no player runs. The new
// entry starts after the settle delay unless the marked entry changed in the
// meantime.
func (p *Playlist) Next(ctx context.Context) error {
	p.mutex.Lock()
	if p.current == nil {
		p.mutex.Unlock()
		return ErrEmptyPlaylist
	}

	p.pausePlayersLocked()
	target := p.playing
	if target == nil {
		target = p.current
	}
	if p.repeatMode != models.RepeatSong {
		index := p.indexLocked(p.playing)
		switch {
		case index >= 0 && index+1 < len(p.order):
			target = p.order[index+1]
		case p.repeatMode == models.RepeatPlaylist:
			target = p.order[0]
		default:
			p.mutex.Unlock()
			p.logger.Info("Playlist finished")
			if p.state != nil {
				p.state.UpdatePlaybackState(false)
			}
			p.bus.Publish(events.Event{Kind: events.PlaylistEnd, Index: index})
			return nil
		}
	}

	changed := target != p.current
	p.playing = target
	p.setCurrentLocked(target)
	p.persistPlayingLocked()
	index := p.indexLocked(target)
	p.mutex.Unlock()

	if changed {
		p.bus.Publish(events.Event{Kind: events.Change, Entry: target.key, Index: index})
	}

	if err := p.clock.Sleep(ctx, p.settleDelay); err != nil {
		return err
	}

	p.mutex.Lock()
	defer p.mutex.Unlock()
	if p.playing != target || p.closed {
		p.logger.WithField("entry", target.key).Debug("Marked entry changed while settling")
		return nil
	}
	target.player.Reset()
	target.player.Play()
	if p.state != nil {
		p.state.UpdatePlaybackState(true)
	}
	p.logger.WithField("entry", target.key).Info("Playing next song")
	return nil
}

// SwitchTo pauses every player, then marks the entry with the given key (or,
// failing that, display name) as playing and makes it current.
func (p *Playlist) SwitchTo(key string) error {
	p.mutex.Lock()
	e, err := p.lookupLocked(key)
	if err != nil {
		p.mutex.Unlock()
		return err
	}
	ev := p.switchLocked(e)
	p.mutex.Unlock()

	p.bus.Publish(ev)
	return nil
}

func (p *Playlist) switchLocked(e *entry) events.Event {
	p.stopAllLocked(false)
	p.playing = e
	p.setCurrentLocked(e)
	p.persistPlayingLocked()
	return events.Event{Kind: events.Change, Entry: e.key, Index: p.indexLocked(e)}
}

// Click is SwitchTo for a user selection; it also publishes ClickChange.
func (p *Playlist) Click(key string) error {
	if err := p.SwitchTo(key); err != nil {
		return err
	}
	p.mutex.Lock()
	e := p.current
	index := p.indexLocked(e)
	p.mutex.Unlock()

	p.bus.Publish(events.Event{Kind: events.ClickChange, Entry: e.key, Index: index})
	return nil
}

// PauseAll pauses every player and clears the playing marker.
func (p *Playlist) PauseAll() {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.stopAllLocked(false)
}

// ResetAll resets every player and clears the playing marker.
func (p *Playlist) ResetAll() {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.stopAllLocked(true)
}

func (p *Playlist) stopAllLocked(reset bool) {
	if reset {
		for _, e := range p.order {
			e.player.Reset()
		}
	} else {
		p.pausePlayersLocked()
	}
	p.playing = nil
	if p.state != nil {
		p.state.UpdatePlaybackState(false)
		if reset {
			p.state.ReportProgress(0)
		}
	}
}

// pausePlayersLocked pauses every player and keeps the playing marker.
func (p *Playlist) pausePlayersLocked() {
	for _, e := range p.order {
		e.player.Pause()
	}
}

// Play starts the current entry and marks it as playing. Any other running
// player is paused first.
func (p *Playlist) Play() error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.current == nil {
		return ErrEmptyPlaylist
	}
	for _, e := range p.order {
		if e != p.current {
			e.player.Pause()
		}
	}
	if p.playing != p.current {
		p.playing = p.current
		p.persistPlayingLocked()
	}
	p.current.player.Play()
	if p.state != nil {
		p.state.UpdatePlaybackState(true)
	}
	return nil
}

// Pause pauses whichever player is running and keeps the playing marker.
func (p *Playlist) Pause() error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.current == nil {
		return ErrEmptyPlaylist
	}
	p.pausePlayersLocked()
	if p.state != nil {
		p.state.UpdatePlaybackState(false)
	}
	return nil
}

// Reset stops playback and rewinds the current entry.
func (p *Playlist) Reset() error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.current == nil {
		return ErrEmptyPlaylist
	}
	p.pausePlayersLocked()
	p.current.player.Reset()
	if p.state != nil {
		p.state.UpdatePlaybackState(false)
	}
	return nil
}

// Seek moves the current entry to percent of its length.
func (p *Playlist) Seek(percent float64) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.current == nil {
		return ErrEmptyPlaylist
	}
	p.current.player.BeginScrub()
	p.current.player.EndScrub(percent)
	p.current.player.CheckProgress()
	return nil
}

// SetLoop toggles looping of the current entry.
func (p *Playlist) SetLoop(enabled bool) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.current == nil {
		return ErrEmptyPlaylist
	}
	p.current.player.SetLoop(enabled)
	return nil
}

// SetParity toggles parity mode on every player.
func (p *Playlist) SetParity(enabled bool) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	p.parity = enabled
	for _, e := range p.order {
		e.player.SetParity(enabled)
	}
	if p.state != nil {
		p.state.UpdateSettings(p.parity, p.repeatMode)
	}
}

// Parity reports whether parity mode is on.
func (p *Playlist) Parity() bool {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.parity
}

// RepeatMode returns the repeat mode.
func (p *Playlist) RepeatMode() models.RepeatMode {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.repeatMode
}

// SetRepeatMode changes and persists the repeat mode.
func (p *Playlist) SetRepeatMode(mode models.RepeatMode) error {
	if !mode.Valid() {
		return models.ErrInvalidRepeatMode
	}

	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.setRepeatModeLocked(mode)
}

// CycleRepeatMode moves Off to Song to Playlist and back to Off.
func (p *Playlist) CycleRepeatMode() (models.RepeatMode, error) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	mode := p.repeatMode.Next()
	return mode, p.setRepeatModeLocked(mode)
}

func (p *Playlist) setRepeatModeLocked(mode models.RepeatMode) error {
	p.repeatMode = mode
	if p.state != nil {
		p.state.UpdateSettings(p.parity, mode)
	}
	if p.store == nil {
		return nil
	}
	if err := p.store.Put(KeyRepeatMode, encodeInt(int(mode))); err != nil {
		return err
	}
	return nil
}

// Remove drops an entry and its player.
func (p *Playlist) Remove(key string) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	e, err := p.lookupLocked(key)
	if err != nil {
		return err
	}
	e.player.Reset()
	for _, unsubscribe := range e.unsubscribe {
		unsubscribe()
	}

	index := p.indexLocked(e)
	p.order = append(p.order[:index], p.order[index+1:]...)
	delete(p.entries, e.key)

	if p.playing == e {
		p.playing = nil
	}
	if p.current == e {
		p.current = nil
		if len(p.order) > 0 {
			p.setCurrentLocked(p.order[0])
		} else if p.state != nil {
			p.state.ClearEntry()
		}
	}
	if len(p.order) == 1 {
		p.order[0].player.AllowLoop()
	}
	p.persistPlayingLocked()

	p.logger.WithField("entry", e.key).Info("Song removed from playlist")
	return nil
}

// Move places an entry at index in the display order. Out of range indexes
// are clamped.
func (p *Playlist) Move(key string, index int) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	e, err := p.lookupLocked(key)
	if err != nil {
		return err
	}
	from := p.indexLocked(e)
	p.order = append(p.order[:from], p.order[from+1:]...)

	if index < 0 {
		index = 0
	}
	if index > len(p.order) {
		index = len(p.order)
	}
	p.order = append(p.order, nil)
	copy(p.order[index+1:], p.order[index:])
	p.order[index] = e

	p.persistPlayingLocked()
	return nil
}

// Len returns the number of entries.
func (p *Playlist) Len() int {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return len(p.order)
}

// Entries describes the entries in display order.
func (p *Playlist) Entries() []models.PlaylistEntry {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	out := make([]models.PlaylistEntry, len(p.order))
	for i, e := range p.order {
		out[i] = p.describeLocked(e)
	}
	return out
}

// Summary describes the whole playlist.
func (p *Playlist) Summary() models.PlaylistSummary {
	entries := p.Entries()

	p.mutex.Lock()
	defer p.mutex.Unlock()
	return models.PlaylistSummary{
		Entries:    entries,
		RepeatMode: p.repeatMode,
		Playing:    p.indexLocked(p.playing),
	}
}

// Current returns the current entry's player, or nil for an empty playlist.
func (p *Playlist) Current() *player.Player {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.current == nil {
		return nil
	}
	return p.current.player
}

// CurrentEntry describes the current entry.
func (p *Playlist) CurrentEntry() (models.PlaylistEntry, bool) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.current == nil {
		return models.PlaylistEntry{}, false
	}
	return p.describeLocked(p.current), true
}

// PlayingIndex returns the display position of the playing entry, or -1.
func (p *Playlist) PlayingIndex() int {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.indexLocked(p.playing)
}

// Close stops all players and waits for pending transitions.
func (p *Playlist) Close() {
	p.mutex.Lock()
	if p.closed {
		p.mutex.Unlock()
		return
	}
	p.closed = true
	p.mutex.Unlock()

	p.cancel()
	p.pending.Wait()

	p.mutex.Lock()
	defer p.mutex.Unlock()
	for _, e := range p.order {
		e.player.Pause()
	}
}

func (p *Playlist) setCurrentLocked(e *entry) {
	p.current = e
	e.player.ReportLoopState()
	if p.state != nil {
		p.state.UpdateEntry(e.name)
		p.state.ReportProgress(e.player.Progress())
	}
}

func (p *Playlist) lookupLocked(key string) (*entry, error) {
	if e, ok := p.entries[key]; ok {
		return e, nil
	}
	for _, e := range p.order {
		if e.name == key {
			return e, nil
		}
	}
	return nil, ErrUnknownEntry
}

func (p *Playlist) indexLocked(e *entry) int {
	if e == nil {
		return -1
	}
	for i, candidate := range p.order {
		if candidate == e {
			return i
		}
	}
	return -1
}

func (p *Playlist) describeLocked(e *entry) models.PlaylistEntry {
	return models.PlaylistEntry{
		ID:       e.key,
		Name:     e.name,
		Position: p.indexLocked(e),
		Playing:  e == p.playing,
		Current:  e == p.current,
		Running:  e.player.Running(),
		Source:   e.source,
		Size:     e.player.LastTick(),
	}
}
