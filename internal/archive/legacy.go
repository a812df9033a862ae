package archive

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"nbsplayer/pkg/models"
)

type legacyExport struct {
	RepeatMode int  `json:"repeatMode"`
	Playing    *int `json:"playing"`
	Songs      []struct {
		Filename string `json:"filename"`
		Data     string `json:"data"`
	} `json:"songs"`
}

// DecodeLegacyJSON reads the older single-file JSON export, where songs carry
// their bytes as base64 in display order.
func DecodeLegacyJSON(data []byte) (*Archive, error) {
	var export legacyExport
	if err := json.Unmarshal(data, &export); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	a := &Archive{RepeatMode: models.RepeatMode(export.RepeatMode), Playing: -1}
	if !a.RepeatMode.Valid() {
		return nil, fmt.Errorf("%w: repeat mode %d", ErrCorrupt, export.RepeatMode)
	}
	for i, song := range export.Songs {
		raw, err := base64.StdEncoding.DecodeString(song.Data)
		if err != nil {
			return nil, fmt.Errorf("%w: song %d: %v", ErrCorrupt, i, err)
		}
		a.Songs = append(a.Songs, Song{Name: song.Filename, Data: raw})
	}

	if export.Playing != nil && *export.Playing >= 0 && *export.Playing < len(a.Songs) {
		a.Playing = *export.Playing
	}
	return a, nil
}

// IsLegacyJSON reports whether data looks like a JSON export rather than a zip.
func IsLegacyJSON(data []byte) bool {
	for _, b := range data {
		switch b {
		case ' ', '\t', '\r', '\n':
			continue
		case '{':
			return true
		default:
			return false
		}
	}
	return false
}
