// Package loader turns raw song bytes into decoded songs, reusing earlier
// decodes of identical content.
package loader

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"nbsplayer/internal/cache"
	"nbsplayer/internal/nbs"
	"nbsplayer/pkg/models"

	"github.com/sirupsen/logrus"
)

// Loader decodes songs through a SongCache.
type Loader struct {
	cache  *cache.SongCache
	logger *logrus.Logger
}

// New creates a loader. A nil cache decodes every time.
func New(songCache *cache.SongCache, logger *logrus.Logger) *Loader {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	return &Loader{cache: songCache, logger: logger}
}

// Hash returns the content key of raw song bytes.
func Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Load decodes data, or returns the song decoded earlier from identical bytes.
func (l *Loader) Load(data []byte) (*models.Song, error) {
	key := Hash(data)
	if l.cache != nil {
		if song, ok := l.cache.Get(key); ok {
			l.logger.WithField("hash", key[:12]).Debug("Song cache hit")
			return song, nil
		}
	}

	song, err := nbs.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode song: %w", err)
	}

	if l.cache != nil {
		l.cache.Set(key, song)
	}
	return song, nil
}

// LoadFile reads and decodes a song file. name is the file name without its
// extension, for songs that carry no title.
func (l *Loader) LoadFile(path string) (song *models.Song, data []byte, name string, err error) {
	data, err = os.ReadFile(path)
	if err != nil {
		return nil, nil, "", fmt.Errorf("failed to read %s: %w", path, err)
	}

	song, err = l.Load(data)
	if err != nil {
		return nil, nil, "", fmt.Errorf("%s: %w", path, err)
	}
	return song, data, Stem(path), nil
}

// Stem returns the base name of path without its extension.
func Stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
