package models

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidRepeatMode is returned for values outside Off, Song and Playlist.
var ErrInvalidRepeatMode = errors.New("invalid repeat mode")

// RepeatMode governs what the playlist does when a song ends.
type RepeatMode int

const (
	RepeatOff      RepeatMode = 0
	RepeatSong     RepeatMode = 1
	RepeatPlaylist RepeatMode = 2
)

// Next returns the mode that follows m when toggling: Off -> Song -> Playlist -> Off.
func (m RepeatMode) Next() RepeatMode {
	switch m {
	case RepeatOff:
		return RepeatSong
	case RepeatSong:
		return RepeatPlaylist
	default:
		return RepeatOff
	}
}

// Valid reports whether m is one of the known modes.
func (m RepeatMode) Valid() bool {
	return m >= RepeatOff && m <= RepeatPlaylist
}

func (m RepeatMode) String() string {
	switch m {
	case RepeatOff:
		return "off"
	case RepeatSong:
		return "song"
	case RepeatPlaylist:
		return "playlist"
	default:
		return fmt.Sprintf("RepeatMode(%d)", int(m))
	}
}

// ParseRepeatMode accepts "off", "song", "playlist" or their numeric values.
func ParseRepeatMode(s string) (RepeatMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "off", "0", "":
		return RepeatOff, nil
	case "song", "1":
		return RepeatSong, nil
	case "playlist", "2":
		return RepeatPlaylist, nil
	}
	return RepeatOff, fmt.Errorf("%w: %q", ErrInvalidRepeatMode, s)
}

// PlaylistEntry describes one playlist entry for clients.
type PlaylistEntry struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Position int    `json:"position"`
	Playing  bool   `json:"playing"`
	Current  bool   `json:"current"`
	Running  bool   `json:"running"`
	Source   string `json:"source,omitempty"`
	Size     int    `json:"size"`
}

// PlaylistSummary is the client view of the whole playlist.
type PlaylistSummary struct {
	Entries    []PlaylistEntry `json:"entries"`
	RepeatMode RepeatMode      `json:"repeatMode"`
	Playing    int             `json:"playing"` // -1 when no entry is marked
}
