package playlist

import (
	"fmt"

	"nbsplayer/internal/loader"
	"nbsplayer/pkg/models"

	"github.com/google/uuid"
)

// Identity decides which loads refer to the same playlist entry. Two loads
// with the same key share one entry and one player.
type Identity interface {
	Key(song *models.Song, raw []byte, displayName string) string
}

// IdentityFunc adapts a function to Identity.
type IdentityFunc func(song *models.Song, raw []byte, displayName string) string

func (f IdentityFunc) Key(song *models.Song, raw []byte, displayName string) string {
	return f(song, raw, displayName)
}

var (
	// ByDisplayName merges songs whose derived display names are equal, even
	// when their files differ.
	ByDisplayName Identity = IdentityFunc(func(_ *models.Song, _ []byte, displayName string) string {
		return displayName
	})

	// ByContentHash merges only byte-identical files.
	ByContentHash Identity = IdentityFunc(func(_ *models.Song, raw []byte, _ string) string {
		return loader.Hash(raw)
	})

	// ByExplicitID never merges: every load gets a fresh entry.
	ByExplicitID Identity = IdentityFunc(func(*models.Song, []byte, string) string {
		return uuid.NewString()
	})
)

// ParseIdentity maps a configuration value (name, hash or id) to a policy.
func ParseIdentity(s string) (Identity, error) {
	switch s {
	case "", "name":
		return ByDisplayName, nil
	case "hash":
		return ByContentHash, nil
	case "id":
		return ByExplicitID, nil
	}
	return nil, fmt.Errorf("unknown identity policy %q", s)
}
