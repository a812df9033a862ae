package playlist

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"nbsplayer/internal/archive"
	"nbsplayer/internal/clock"
	"nbsplayer/internal/events"
	"nbsplayer/internal/loader"
	"nbsplayer/internal/nbs"
	"nbsplayer/internal/player"
	"nbsplayer/pkg/models"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type instantClock struct{}

func (instantClock) Sleep(ctx context.Context, _ time.Duration) error { return ctx.Err() }

var errMissing = errors.New("missing")

type memStore struct {
	mutex sync.Mutex
	data  map[string][]byte
}

func newMemStore() *memStore {
	return &memStore{data: make(map[string][]byte)}
}

func (s *memStore) Get(key string) ([]byte, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	value, ok := s.data[key]
	if !ok {
		return nil, errMissing
	}
	return value, nil
}

func (s *memStore) Put(key string, value []byte) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if value == nil {
		delete(s.data, key)
		return nil
	}
	s.data[key] = append([]byte(nil), value...)
	return nil
}

func (s *memStore) Contains(key string) (bool, []byte, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	value, ok := s.data[key]
	return ok, value, nil
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

func makeSong(name string, size int) *models.Song {
	layer := &models.Layer{Velocity: 100, Notes: map[int]models.Note{}}
	for tick := 0; tick <= size; tick++ {
		layer.Notes[tick] = models.Note{Key: 45, Velocity: 100}
	}
	return &models.Song{
		Name:        name,
		TimePerTick: 50 * time.Millisecond,
		Size:        size,
		LoopEnabled: true,
		Layers:      []*models.Layer{layer},
	}
}

func encodeSong(t *testing.T, name string) []byte {
	t.Helper()
	data, err := nbs.EncodeBytes(makeSong(name, 4))
	require.NoError(t, err)
	return data
}

// newTestPlaylist uses a manual clock for ticks so started players stay
// parked on their first tick.
func newTestPlaylist(t *testing.T, opts Options) *Playlist {
	t.Helper()
	if opts.Clock == nil {
		opts.Clock = instantClock{}
	}
	if opts.PlayerClock == nil {
		opts.PlayerClock = clock.NewManual()
	}
	if opts.Logger == nil {
		opts.Logger = quietLogger()
	}
	p := New(opts)
	t.Cleanup(p.Close)
	return p
}

func addSongs(p *Playlist, names ...string) {
	for _, name := range names {
		p.Add(makeSong(name, 4), []byte(name), name+".nbs")
	}
}

func names(entries []models.PlaylistEntry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Name
	}
	return out
}

func waitFor(t *testing.T, ch <-chan events.Event, kind events.Kind) events.Event {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			require.True(t, ok, "watcher closed")
			if ev.Kind == kind {
				return ev
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s", kind)
		}
	}
}

func TestAddPrependsAndDeduplicatesByName(t *testing.T) {
	state := player.NewStateManager()
	p := newTestPlaylist(t, Options{State: state})

	first := p.Add(makeSong("a", 4), []byte("a1"), "a.nbs")
	assert.Equal(t, "a", first.ID)
	require.True(t, state.GetState().LoopAvailable)

	addSongs(p, "b", "c")
	assert.Equal(t, []string{"c", "b", "a"}, names(p.Entries()))
	assert.False(t, state.GetState().LoopAvailable, "loop is playlist-level with several songs")

	// different bytes, same derived name
	again := p.Add(makeSong("a", 9), []byte("a2"), "other.nbs")
	assert.Equal(t, "a", again.ID)
	assert.Equal(t, 3, p.Len())
	assert.True(t, again.Current)
	assert.Equal(t, "a", state.GetState().Entry)

	untitled := p.Add(makeSong("", 4), []byte("x"), "fallback")
	assert.Equal(t, "fallback", untitled.Name)
}

func TestIdentityPolicies(t *testing.T) {
	t.Run("ByContentHash", func(t *testing.T) {
		p := newTestPlaylist(t, Options{Identity: ByContentHash})
		p.Add(makeSong("same", 4), []byte("one"), "")
		p.Add(makeSong("same", 4), []byte("two"), "")
		p.Add(makeSong("same", 4), []byte("one"), "")
		assert.Equal(t, 2, p.Len())
	})

	t.Run("ByExplicitID", func(t *testing.T) {
		p := newTestPlaylist(t, Options{Identity: ByExplicitID})
		p.Add(makeSong("same", 4), []byte("one"), "")
		p.Add(makeSong("same", 4), []byte("one"), "")
		entries := p.Entries()
		require.Len(t, entries, 2)
		assert.NotEqual(t, entries[0].ID, entries[1].ID)
		assert.Equal(t, entries[0].Name, entries[1].Name)
	})

	t.Run("Parse", func(t *testing.T) {
		for _, s := range []string{"", "name", "hash", "id"} {
			_, err := ParseIdentity(s)
			assert.NoError(t, err, s)
		}
		_, err := ParseIdentity("title")
		assert.Error(t, err)
	})
}

func TestNextAdvancesToFollowingEntry(t *testing.T) {
	p := newTestPlaylist(t, Options{})
	addSongs(p, "a", "b", "c")
	changes, stop := p.Bus().Watch(events.Change)
	defer stop()

	require.NoError(t, p.SwitchTo("c"))
	waitFor(t, changes, events.Change)

	require.NoError(t, p.Next(context.Background()))
	ev := waitFor(t, changes, events.Change)
	assert.Equal(t, "b", ev.Entry)
	assert.Equal(t, 1, ev.Index)

	assert.Equal(t, 1, p.PlayingIndex())
	entries := p.Entries()
	assert.False(t, entries[0].Running)
	assert.True(t, entries[1].Running)
	assert.True(t, entries[1].Playing)
	assert.True(t, entries[1].Current)
}

func TestNextAtLastEntryEndsPlaylist(t *testing.T) {
	p := newTestPlaylist(t, Options{})
	addSongs(p, "a", "b", "c")
	ends, stop := p.Bus().Watch(events.PlaylistEnd)
	defer stop()

	require.NoError(t, p.SwitchTo("a"))
	require.NoError(t, p.Play())
	require.NoError(t, p.Next(context.Background()))

	ev := waitFor(t, ends, events.PlaylistEnd)
	assert.Equal(t, 2, ev.Index)
	for _, e := range p.Entries() {
		assert.False(t, e.Running, e.Name)
	}
	assert.Equal(t, 2, p.PlayingIndex())
}

func TestNextWrapsInPlaylistMode(t *testing.T) {
	p := newTestPlaylist(t, Options{})
	addSongs(p, "a", "b", "c")
	require.NoError(t, p.SetRepeatMode(models.RepeatPlaylist))

	require.NoError(t, p.SwitchTo("a"))
	require.NoError(t, p.Next(context.Background()))

	assert.Equal(t, 0, p.PlayingIndex())
	current, ok := p.CurrentEntry()
	require.True(t, ok)
	assert.Equal(t, "c", current.Name)
	assert.True(t, current.Running)
}

func TestNextWithoutMarkerWrapsOrEnds(t *testing.T) {
	p := newTestPlaylist(t, Options{})
	addSongs(p, "a", "b")
	ends, stop := p.Bus().Watch(events.PlaylistEnd)
	defer stop()

	require.NoError(t, p.Next(context.Background()))
	ev := waitFor(t, ends, events.PlaylistEnd)
	assert.Equal(t, -1, ev.Index)

	require.NoError(t, p.SetRepeatMode(models.RepeatPlaylist))
	require.NoError(t, p.Next(context.Background()))
	assert.Equal(t, 0, p.PlayingIndex())
}

func TestNextRestartsInSongMode(t *testing.T) {
	p := newTestPlaylist(t, Options{})
	addSongs(p, "a", "b")
	require.NoError(t, p.SetRepeatMode(models.RepeatSong))
	require.NoError(t, p.SwitchTo("a"))

	require.NoError(t, p.Next(context.Background()))
	current, _ := p.CurrentEntry()
	assert.Equal(t, "a", current.Name)
	assert.True(t, current.Running)
	assert.Equal(t, 1, p.PlayingIndex())
}

func TestNextSkipsStartWhenSelectionChangesWhileSettling(t *testing.T) {
	settle := clock.NewManual()
	p := newTestPlaylist(t, Options{Clock: settle, SettleDelay: time.Second})
	addSongs(p, "a", "b", "c")
	changes, stop := p.Bus().Watch(events.Change)
	defer stop()

	require.NoError(t, p.SwitchTo("c"))
	waitFor(t, changes, events.Change)

	done := make(chan error, 1)
	go func() { done <- p.Next(context.Background()) }()
	assert.Equal(t, "b", waitFor(t, changes, events.Change).Entry)

	require.NoError(t, p.SwitchTo("a"))
	settle.Advance()
	require.NoError(t, <-done)

	for _, e := range p.Entries() {
		assert.False(t, e.Running, e.Name)
	}
	current, _ := p.CurrentEntry()
	assert.Equal(t, "a", current.Name)
}

func TestNextKeepsGoingWhenSongAddedWhileSettling(t *testing.T) {
	settle := clock.NewManual()
	p := newTestPlaylist(t, Options{Clock: settle, SettleDelay: time.Second})
	addSongs(p, "a", "b", "c")
	require.NoError(t, p.SwitchTo("c"))

	done := make(chan error, 1)
	go func() { done <- p.Next(context.Background()) }()
	require.Eventually(t, func() bool { return p.PlayingIndex() == 1 }, time.Second, time.Millisecond)

	addSongs(p, "d")
	settle.Advance()
	require.NoError(t, <-done)

	entries := p.Entries()
	assert.Equal(t, []string{"d", "c", "b", "a"}, names(entries))
	assert.True(t, entries[2].Running)
	assert.True(t, entries[2].Playing)
	assert.True(t, entries[0].Current)
	assert.False(t, entries[0].Running)
}

func TestSongEndAdvancesAfterNewerSongAdded(t *testing.T) {
	ticks := clock.NewManual()
	p := newTestPlaylist(t, Options{PlayerClock: ticks})
	addSongs(p, "a", "b", "c")
	require.NoError(t, p.SwitchTo("b"))
	require.NoError(t, p.Play())

	watch, stop := p.Bus().Watch(events.End, events.Change)
	defer stop()
	addSongs(p, "d")
	current, _ := p.CurrentEntry()
	require.Equal(t, "d", current.Name)

	// d, c, b, a: the song after b is a
	require.Eventually(t, func() bool {
		ticks.TryAdvance(10 * time.Millisecond)
		return p.PlayingIndex() == 3 && p.Current().Running()
	}, 2*time.Second, time.Millisecond)

	assert.Equal(t, "b", waitFor(t, watch, events.End).Entry)
	assert.Equal(t, "a", waitFor(t, watch, events.Change).Entry)

	entries := p.Entries()
	assert.True(t, entries[3].Running)
	assert.True(t, entries[3].Current)
	for _, e := range entries[:3] {
		assert.False(t, e.Running, e.Name)
	}
}

func TestTransportControlsFollowRunningSong(t *testing.T) {
	p := newTestPlaylist(t, Options{})
	addSongs(p, "a", "b")
	require.NoError(t, p.SwitchTo("b"))
	require.NoError(t, p.Play())
	addSongs(p, "c")

	running := func() []string {
		var out []string
		for _, e := range p.Entries() {
			if e.Running {
				out = append(out, e.Name)
			}
		}
		return out
	}

	t.Run("pause stops the playing song", func(t *testing.T) {
		require.NoError(t, p.Pause())
		assert.Empty(t, running())
		assert.Equal(t, 1, p.PlayingIndex())
	})

	t.Run("play runs one song at a time", func(t *testing.T) {
		require.NoError(t, p.SwitchTo("b"))
		require.NoError(t, p.Play())
		addSongs(p, "d")

		require.NoError(t, p.Play())
		assert.Equal(t, []string{"d"}, running())
		assert.Equal(t, 0, p.PlayingIndex())
	})

	t.Run("reset stops everything", func(t *testing.T) {
		require.NoError(t, p.SwitchTo("b"))
		require.NoError(t, p.Play())
		addSongs(p, "e")

		require.NoError(t, p.Reset())
		assert.Empty(t, running())
	})
}

func TestNextCancelledWhileSettling(t *testing.T) {
	p := newTestPlaylist(t, Options{Clock: clock.NewManual(), SettleDelay: time.Second})
	addSongs(p, "a", "b")
	require.NoError(t, p.SwitchTo("b"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, p.Next(ctx), context.Canceled)
	assert.False(t, p.Current().Running())
}

func TestEmptyPlaylist(t *testing.T) {
	p := newTestPlaylist(t, Options{})
	assert.ErrorIs(t, p.Next(context.Background()), ErrEmptyPlaylist)
	assert.ErrorIs(t, p.Play(), ErrEmptyPlaylist)
	assert.ErrorIs(t, p.Pause(), ErrEmptyPlaylist)
	assert.ErrorIs(t, p.SwitchTo("x"), ErrUnknownEntry)
	assert.Nil(t, p.Current())
	assert.Equal(t, -1, p.PlayingIndex())
}

func TestPlayMarksCurrentEntry(t *testing.T) {
	state := player.NewStateManager()
	p := newTestPlaylist(t, Options{State: state})
	addSongs(p, "a", "b")

	require.NoError(t, p.Play())
	assert.Equal(t, 0, p.PlayingIndex())
	assert.True(t, p.Current().Running())
	assert.True(t, state.GetState().IsPlaying)

	require.NoError(t, p.Pause())
	assert.False(t, p.Current().Running())
	assert.False(t, state.GetState().IsPlaying)

	p.ResetAll()
	assert.Equal(t, -1, p.PlayingIndex())
	assert.Equal(t, -1, p.Current().CurrentTick())
}

func TestClickPublishesBothEvents(t *testing.T) {
	p := newTestPlaylist(t, Options{})
	addSongs(p, "a", "b")

	var got []events.Kind
	p.Bus().Subscribe(events.Change, func(ev events.Event) { got = append(got, ev.Kind) })
	p.Bus().Subscribe(events.ClickChange, func(ev events.Event) { got = append(got, ev.Kind) })

	require.NoError(t, p.Click("a"))
	assert.Equal(t, []events.Kind{events.Change, events.ClickChange}, got)
	assert.ErrorIs(t, p.Click("missing"), ErrUnknownEntry)
}

func TestRepeatModePersistsAndCycles(t *testing.T) {
	store := newMemStore()
	state := player.NewStateManager()
	p := newTestPlaylist(t, Options{Store: store, State: state})

	start := p.RepeatMode()
	for i := 0; i < 3; i++ {
		_, err := p.CycleRepeatMode()
		require.NoError(t, err)
	}
	assert.Equal(t, start, p.RepeatMode())

	mode, err := p.CycleRepeatMode()
	require.NoError(t, err)
	assert.Equal(t, models.RepeatSong, mode)
	value, err := store.Get(KeyRepeatMode)
	require.NoError(t, err)
	assert.Equal(t, "1", string(value))
	assert.Equal(t, models.RepeatSong, state.GetState().RepeatMode)

	assert.ErrorIs(t, p.SetRepeatMode(models.RepeatMode(9)), models.ErrInvalidRepeatMode)
}

func TestRemoveAndMove(t *testing.T) {
	state := player.NewStateManager()
	p := newTestPlaylist(t, Options{State: state})
	addSongs(p, "a", "b", "c")
	require.NoError(t, p.SwitchTo("b"))

	require.NoError(t, p.Move("a", 0))
	assert.Equal(t, []string{"a", "c", "b"}, names(p.Entries()))
	assert.Equal(t, 2, p.PlayingIndex())
	require.NoError(t, p.Move("a", 99))
	assert.Equal(t, []string{"c", "b", "a"}, names(p.Entries()))

	require.NoError(t, p.Remove("b"))
	assert.Equal(t, []string{"c", "a"}, names(p.Entries()))
	assert.Equal(t, -1, p.PlayingIndex())
	current, _ := p.CurrentEntry()
	assert.Equal(t, "c", current.Name)

	require.NoError(t, p.Remove("c"))
	assert.True(t, state.GetState().LoopAvailable, "a single song may loop again")

	require.NoError(t, p.Remove("a"))
	assert.Empty(t, state.GetState().Entry)
	assert.ErrorIs(t, p.Remove("a"), ErrUnknownEntry)
}

func TestSetParityAppliesToPlayers(t *testing.T) {
	p := newTestPlaylist(t, Options{Parity: true})
	addSongs(p, "a", "b")
	assert.True(t, p.Current().Parity())

	p.SetParity(false)
	assert.False(t, p.Parity())
	for _, name := range []string{"a", "b"} {
		require.NoError(t, p.SwitchTo(name))
		assert.False(t, p.Current().Parity())
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	l := loader.New(nil, quietLogger())
	source := newTestPlaylist(t, Options{})
	for _, name := range []string{"a", "b", "c"} {
		data := encodeSong(t, name)
		song, err := l.Load(data)
		require.NoError(t, err)
		source.Add(song, data, name)
	}
	require.NoError(t, source.SetRepeatMode(models.RepeatPlaylist))
	require.NoError(t, source.SwitchTo("b"))
	require.Equal(t, 1, source.PlayingIndex())

	var buf bytes.Buffer
	require.NoError(t, source.Export(&buf))

	target := newTestPlaylist(t, Options{})
	addSongs(target, "old")
	require.NoError(t, target.ImportBytes(buf.Bytes(), l))

	assert.Equal(t, []string{"c", "b", "a"}, names(target.Entries()))
	assert.Equal(t, models.RepeatPlaylist, target.RepeatMode())
	assert.Equal(t, 1, target.PlayingIndex())
	current, _ := target.CurrentEntry()
	assert.Equal(t, "b", current.Name)
}

func TestImportFailureLeavesPlaylistIntact(t *testing.T) {
	l := loader.New(nil, quietLogger())
	p := newTestPlaylist(t, Options{})
	addSongs(p, "a", "b")
	require.NoError(t, p.SwitchTo("a"))
	require.NoError(t, p.SetRepeatMode(models.RepeatSong))

	bad := &archive.Archive{RepeatMode: models.RepeatPlaylist, Playing: 0, Songs: []archive.Song{
		{Name: "good", Data: encodeSong(t, "good")},
		{Name: "broken", Data: []byte{1, 2, 3}},
	}}
	require.Error(t, p.Import(bad, l))

	assert.Equal(t, []string{"b", "a"}, names(p.Entries()))
	assert.Equal(t, 1, p.PlayingIndex())
	assert.Equal(t, models.RepeatSong, p.RepeatMode())

	require.Error(t, p.ImportBytes([]byte("not an archive"), l))
	assert.Equal(t, 2, p.Len())
}

func TestImportBytesRejectsOversizedArchive(t *testing.T) {
	l := loader.New(nil, quietLogger())
	p := newTestPlaylist(t, Options{MaxArchiveSize: 64 << 10})
	addSongs(p, "a")

	data, err := archive.EncodeBytes(&archive.Archive{Playing: -1, Songs: []archive.Song{
		{Name: "big", Data: make([]byte, 1<<20)},
	}})
	require.NoError(t, err)

	assert.ErrorIs(t, p.ImportBytes(data, l), archive.ErrTooLarge)
	assert.Equal(t, []string{"a"}, names(p.Entries()))
}

// failingStore refuses every write.
type failingStore struct {
	*memStore
}

func (failingStore) Put(string, []byte) error { return errors.New("disk full") }

func TestImportSucceedsWhenStoreWriteFails(t *testing.T) {
	l := loader.New(nil, quietLogger())
	p := newTestPlaylist(t, Options{Store: failingStore{newMemStore()}})
	addSongs(p, "old")

	a := &archive.Archive{RepeatMode: models.RepeatPlaylist, Playing: 0, Songs: []archive.Song{
		{Name: "new", Data: encodeSong(t, "new")},
	}}
	require.NoError(t, p.Import(a, l))

	assert.Equal(t, []string{"new"}, names(p.Entries()))
	assert.Equal(t, models.RepeatPlaylist, p.RepeatMode())
	assert.Equal(t, 0, p.PlayingIndex())
}

func TestSaveAndRestore(t *testing.T) {
	l := loader.New(nil, quietLogger())
	store := newMemStore()

	source := newTestPlaylist(t, Options{Store: store, Passphrase: "secret"})
	for _, name := range []string{"a", "b", "c"} {
		data := encodeSong(t, name)
		song, err := l.Load(data)
		require.NoError(t, err)
		source.Add(song, data, name)
	}
	require.NoError(t, source.SwitchTo("a"))
	require.NoError(t, source.SetRepeatMode(models.RepeatPlaylist))
	require.NoError(t, source.Save())

	blob, err := store.Get(KeyPlaylist)
	require.NoError(t, err)
	assert.True(t, archive.IsSealed(blob))

	restored := newTestPlaylist(t, Options{Store: store, Passphrase: "secret"})
	ok, err := restored.Restore(l)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []string{"c", "b", "a"}, names(restored.Entries()))
	assert.Equal(t, 2, restored.PlayingIndex())
	assert.Equal(t, models.RepeatPlaylist, restored.RepeatMode())

	locked := newTestPlaylist(t, Options{Store: store})
	_, err = locked.Restore(l)
	assert.ErrorIs(t, err, archive.ErrSealed)
}

func TestRestoreWithNothingSaved(t *testing.T) {
	store := newMemStore()
	require.NoError(t, store.Put(KeyRepeatMode, []byte("2")))

	p := newTestPlaylist(t, Options{Store: store})
	ok, err := p.Restore(loader.New(nil, quietLogger()))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, models.RepeatPlaylist, p.RepeatMode())
	assert.Equal(t, 0, p.Len())
}

func TestSongsAdvanceOnEnd(t *testing.T) {
	p := newTestPlaylist(t, Options{PlayerClock: instantClock{}})
	p.Add(makeSong("a", 2), []byte("a"), "")
	p.Add(makeSong("b", 2), []byte("b"), "")
	watch, stop := p.Bus().Watch(events.End, events.PlaylistEnd)
	defer stop()

	require.NoError(t, p.SwitchTo("b"))
	require.NoError(t, p.Play())

	first := waitFor(t, watch, events.End)
	assert.Equal(t, "b", first.Entry)
	second := waitFor(t, watch, events.End)
	assert.Equal(t, "a", second.Entry)
	waitFor(t, watch, events.PlaylistEnd)

	assert.Equal(t, 1, p.PlayingIndex())
	require.Eventually(t, func() bool { return !p.Current().Running() }, time.Second, time.Millisecond)
}
