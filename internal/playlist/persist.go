package playlist

import (
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"

	"nbsplayer/internal/archive"
	"nbsplayer/internal/events"
	"nbsplayer/pkg/models"
)

// Store keys.
const (
	KeyPlaying    = "playing"
	KeyRepeatMode = "repeatMode"
	KeyPlaylist   = "playlist"
)

func encodeInt(n int) []byte {
	return []byte(strconv.Itoa(n))
}

func decodeInt(b []byte) (int, error) {
	return strconv.Atoi(strings.TrimSpace(string(b)))
}

func (p *Playlist) persistPlayingLocked() {
	if p.store == nil {
		return
	}
	if err := p.store.Put(KeyPlaying, encodeInt(p.indexLocked(p.playing))); err != nil {
		p.logger.WithError(err).Warn("Failed to persist playing position")
	}
}

// Snapshot captures the entries in display order with the playing position
// and repeat mode.
func (p *Playlist) Snapshot() *archive.Archive {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	a := &archive.Archive{
		RepeatMode: p.repeatMode,
		Playing:    p.indexLocked(p.playing),
		Songs:      make([]archive.Song, len(p.order)),
	}
	for i, e := range p.order {
		a.Songs[i] = archive.Song{Name: e.name, Data: e.raw}
	}
	return a
}

// Export writes the playlist as an archive.
func (p *Playlist) Export(w io.Writer) error {
	return archive.Encode(w, p.Snapshot())
}

// ExportBytes encodes the playlist, sealed when a passphrase is configured.
func (p *Playlist) ExportBytes() ([]byte, error) {
	var buf bytes.Buffer
	if err := p.Export(&buf); err != nil {
		return nil, err
	}
	if p.passphrase == "" {
		return buf.Bytes(), nil
	}
	return archive.Seal(buf.Bytes(), p.passphrase)
}

// ImportBytes decodes a zip archive, a sealed archive or a legacy JSON export
// and imports it. Zip entries may inflate to at most Options.MaxArchiveSize.
func (p *Playlist) ImportBytes(data []byte, l Loader) error {
	return p.importBytes(data, l, archive.WithMaxSize(p.maxArchive))
}

func (p *Playlist) importBytes(data []byte, l Loader, opts ...archive.DecodeOption) error {
	if archive.IsSealed(data) {
		if p.passphrase == "" {
			return archive.ErrSealed
		}
		opened, err := archive.Open(data, p.passphrase)
		if err != nil {
			return err
		}
		data = opened
	}

	var (
		a   *archive.Archive
		err error
	)
	if archive.IsLegacyJSON(data) {
		a, err = archive.DecodeLegacyJSON(data)
	} else {
		a, err = archive.DecodeBytes(data, opts...)
	}
	if err != nil {
		return err
	}
	return p.Import(a, l)
}

// Import replaces the playlist with the archive's songs, repeat mode and
// playing position. Every song is decoded first; if any fails the playlist
// is left untouched.
func (p *Playlist) Import(a *archive.Archive, l Loader) error {
	if !a.RepeatMode.Valid() {
		return models.ErrInvalidRepeatMode
	}

	songs := a.InsertionOrder()
	decoded := make([]*models.Song, len(songs))
	for i, s := range songs {
		song, err := l.Load(s.Data)
		if err != nil {
			return fmt.Errorf("failed to load %q: %w", s.Name, err)
		}
		decoded[i] = song
	}

	p.mutex.Lock()
	p.stopAllLocked(true)
	for _, e := range p.order {
		for _, unsubscribe := range e.unsubscribe {
			unsubscribe()
		}
	}
	p.entries = make(map[string]*entry)
	p.order = nil
	p.current = nil
	p.playing = nil

	// added[i] is the entry for archive position i
	added := make([]*entry, len(songs))
	for i, s := range songs {
		added[len(songs)-1-i] = p.addLocked(decoded[i], s.Data, s.Name)
	}

	// The playlist is already replaced, so a store failure is only logged
	if err := p.setRepeatModeLocked(a.RepeatMode); err != nil {
		p.logger.WithError(err).Warn("Failed to persist imported repeat mode")
	}

	var change *events.Event
	if a.Playing >= 0 && a.Playing < len(added) {
		ev := p.switchLocked(added[a.Playing])
		change = &ev
	} else {
		p.persistPlayingLocked()
	}
	if len(p.order) == 0 && p.state != nil {
		p.state.ClearEntry()
	}
	p.mutex.Unlock()

	if change != nil {
		p.bus.Publish(*change)
	}
	p.logger.WithField("songs", len(songs)).Info("Playlist imported")
	return nil
}

// Save stores the playlist archive, playing position and repeat mode.
func (p *Playlist) Save() error {
	if p.store == nil {
		return nil
	}

	blob, err := p.ExportBytes()
	if err != nil {
		return fmt.Errorf("failed to export playlist: %w", err)
	}
	if err := p.store.Put(KeyPlaylist, blob); err != nil {
		return fmt.Errorf("failed to save playlist: %w", err)
	}

	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.persistPlayingLocked()
	if err := p.store.Put(KeyRepeatMode, encodeInt(int(p.repeatMode))); err != nil {
		return fmt.Errorf("failed to save repeat mode: %w", err)
	}
	return nil
}

// Restore loads what Save stored. It reports false when nothing was saved;
// stored repeat mode is applied either way.
func (p *Playlist) Restore(l Loader) (bool, error) {
	if p.store == nil {
		return false, nil
	}

	found, blob, err := p.store.Contains(KeyPlaylist)
	if err != nil {
		return false, fmt.Errorf("failed to read saved playlist: %w", err)
	}
	if found {
		// Saved playlists grow past a single upload, so only the default cap applies
		if err := p.importBytes(blob, l); err != nil {
			return false, fmt.Errorf("failed to restore playlist: %w", err)
		}
	}

	if ok, value, err := p.store.Contains(KeyRepeatMode); err == nil && ok {
		mode, err := models.ParseRepeatMode(string(value))
		if err != nil {
			p.logger.WithError(err).Warn("Ignoring stored repeat mode")
		} else if err := p.SetRepeatMode(mode); err != nil {
			return found, err
		}
	}

	if !found {
		return false, nil
	}

	if ok, value, err := p.store.Contains(KeyPlaying); err == nil && ok {
		index, err := decodeInt(value)
		if err != nil {
			p.logger.WithError(err).Warn("Ignoring stored playing position")
			return true, nil
		}
		p.mutex.Lock()
		var key string
		if index >= 0 && index < len(p.order) && p.order[index] != p.playing {
			key = p.order[index].key
		}
		p.mutex.Unlock()
		if key != "" {
			if err := p.SwitchTo(key); err != nil {
				return true, err
			}
		}
	}
	return true, nil
}
