package models

import (
	"path"
	"strings"
	"time"
)

// Song represents a decoded note block song. Songs are read-only once decoded
// and may be shared between players.
type Song struct {
	Name           string        `json:"name"`
	Author         string        `json:"author"`
	OriginalAuthor string        `json:"originalAuthor"`
	Description    string        `json:"description,omitempty"`
	TimePerTick    time.Duration `json:"timePerTick"`
	Size           int           `json:"size"` // last tick index
	LoopEnabled    bool          `json:"loopEnabled"`
	MaxLoopCount   int           `json:"maxLoopCount"` // 0 = loop forever
	LoopStartTick  int           `json:"loopStartTick"`
	Layers         []*Layer      `json:"layers"`
	Instruments    []*Instrument `json:"instruments"`
}

// HasSolo reports whether at least one layer is marked solo.
func (s *Song) HasSolo() bool {
	for _, layer := range s.Layers {
		if layer.Solo {
			return true
		}
	}
	return false
}

// Layer is a track of notes indexed by tick. Ticks need not be contiguous.
type Layer struct {
	Name     string       `json:"name"`
	Notes    map[int]Note `json:"notes"`
	Solo     bool         `json:"solo"`
	Locked   bool         `json:"locked"`
	Panning  int          `json:"panning"`  // -100..100
	Velocity int          `json:"velocity"` // 0..100, percentage multiplier
}

// NoteAt returns the note on the given tick, if any.
func (l *Layer) NoteAt(tick int) (Note, bool) {
	note, ok := l.Notes[tick]
	return note, ok
}

// Note is a single note block.
type Note struct {
	Key        int         `json:"key"`
	Instrument *Instrument `json:"instrument"`
	Velocity   int         `json:"velocity"` // 0..100
	Panning    int         `json:"panning"`  // -100..100
	Pitch      int         `json:"pitch"`    // fine tune in cents
}

// Instrument references a sound that a render sink may or may not have loaded.
type Instrument struct {
	ID       int    `json:"id"`
	Name     string `json:"name"`
	File     string `json:"file"`
	BuiltIn  bool   `json:"builtIn"`
	Key      int    `json:"key"`
	PressKey bool   `json:"pressKey"`
}

// SoundName returns the file stem used to look the instrument up in a sample bank.
func (i *Instrument) SoundName() string {
	if i == nil || i.File == "" {
		return ""
	}
	file := strings.ReplaceAll(i.File, "\\", "/")
	return strings.TrimSuffix(file, path.Ext(file))
}

// DisplayName builds the playlist name of a song:
// "Original Author & Author - Name", "Original Author - Name", "Author - Name"
// or "Name". Songs without a name use fallback.
func DisplayName(song *Song, fallback string) string {
	if song == nil || song.Name == "" {
		return fallback
	}

	var b strings.Builder
	if song.OriginalAuthor != "" {
		b.WriteString(song.OriginalAuthor)
		if song.Author != "" {
			b.WriteString(" & ")
		} else {
			b.WriteString(" - ")
		}
	}
	if song.Author != "" {
		b.WriteString(song.Author)
		b.WriteString(" - ")
	}
	b.WriteString(song.Name)
	return b.String()
}
