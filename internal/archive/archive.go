// Package archive reads and writes playlist archives: a zip container with a
// metadata.json manifest and one song file per entry.
package archive

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"nbsplayer/pkg/models"
)

const (
	MetadataName = "metadata.json"
	SongDir      = "songs/"
	SongExt      = ".nbs"

	// DefaultMaxSize caps the decompressed size of an archive's entries.
	DefaultMaxSize int64 = 256 << 20
)

var (
	ErrMissingMetadata = errors.New("archive: missing metadata.json")
	ErrCorrupt         = errors.New("archive: corrupt")
	ErrTooLarge        = errors.New("archive: decompressed size exceeds limit")
)

// DecodeOption configures Decode.
type DecodeOption func(*decoder)

// WithMaxSize caps the total decompressed size of the archive's entries.
// Values <= 0 keep DefaultMaxSize.
func WithMaxSize(n int64) DecodeOption {
	return func(d *decoder) {
		if n > 0 {
			d.remaining = n
		}
	}
}

type decoder struct {
	remaining int64 // decompressed bytes still allowed
}

// Song is one archived playlist entry.
type Song struct {
	Name string
	Data []byte
}

// Archive is a playlist snapshot. Songs are in display order and Playing
// indexes into them, or is -1 when no entry is marked.
type Archive struct {
	RepeatMode models.RepeatMode
	Playing    int
	Songs      []Song
}

type metadata struct {
	RepeatMode int      `json:"repeatMode"`
	Playing    *int     `json:"playing,omitempty"`
	Songs      []string `json:"songs,omitempty"`
}

// InsertionOrder returns the songs in the order they must be added to a
// playlist that prepends new entries, so that the display order is restored.
func (a *Archive) InsertionOrder() []Song {
	out := make([]Song, len(a.Songs))
	for i, song := range a.Songs {
		out[len(a.Songs)-1-i] = song
	}
	return out
}

// Encode writes a as a zip archive.
func Encode(w io.Writer, a *Archive) error {
	zw := zip.NewWriter(w)

	meta := metadata{RepeatMode: int(a.RepeatMode)}
	if a.Playing >= 0 && a.Playing < len(a.Songs) {
		playing := a.Playing
		meta.Playing = &playing
	}

	used := make(map[string]bool, len(a.Songs))
	for _, song := range a.Songs {
		name := entryName(song.Name, used)
		meta.Songs = append(meta.Songs, name)

		f, err := zw.Create(name)
		if err != nil {
			return fmt.Errorf("failed to add %s: %w", name, err)
		}
		if _, err := f.Write(song.Data); err != nil {
			return fmt.Errorf("failed to write %s: %w", name, err)
		}
	}

	f, err := zw.Create(MetadataName)
	if err != nil {
		return fmt.Errorf("failed to add metadata: %w", err)
	}
	if err := json.NewEncoder(f).Encode(meta); err != nil {
		return fmt.Errorf("failed to write metadata: %w", err)
	}

	if err := zw.Close(); err != nil {
		return fmt.Errorf("failed to finish archive: %w", err)
	}
	return nil
}

// EncodeBytes is Encode into a byte slice.
func EncodeBytes(a *Archive) ([]byte, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, a); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// entryName picks a unique zip path for a display name. Repeated names get
// " (2)", " (3)" and so on.
func entryName(name string, used map[string]bool) string {
	base := sanitize(name)
	candidate := SongDir + base + SongExt
	for n := 2; used[strings.ToLower(candidate)]; n++ {
		candidate = fmt.Sprintf("%s%s (%d)%s", SongDir, base, n, SongExt)
	}
	used[strings.ToLower(candidate)] = true
	return candidate
}

func sanitize(name string) string {
	name = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '_'
		}
		if r < 0x20 {
			return -1
		}
		return r
	}, name)
	name = strings.TrimSpace(name)
	if name == "" || name == "." || name == ".." {
		name = "song"
	}
	return name
}

// DecodeBytes decodes an archive held in memory. Sealed archives are rejected
// with ErrSealed; Open them first.
func DecodeBytes(data []byte, opts ...DecodeOption) (*Archive, error) {
	if IsSealed(data) {
		return nil, ErrSealed
	}
	return Decode(bytes.NewReader(data), int64(len(data)), opts...)
}

// Decode reads a zip archive. Entries may appear in any order. Songs follow
// the manifest's list when present, otherwise the zip's own order. Entries
// that inflate past the size limit fail with ErrTooLarge.
func Decode(r io.ReaderAt, size int64, opts ...DecodeOption) (*Archive, error) {
	d := &decoder{remaining: DefaultMaxSize}
	for _, opt := range opts {
		opt(d)
	}

	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	var meta *metadata
	files := make(map[string]*zip.File)
	var order []string
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		if f.Name == MetadataName {
			meta = &metadata{}
			if err := d.readJSON(f, meta); err != nil {
				return nil, err
			}
			continue
		}
		if strings.HasPrefix(f.Name, SongDir) && strings.EqualFold(path.Ext(f.Name), SongExt) {
			files[f.Name] = f
			order = append(order, f.Name)
		}
	}
	if meta == nil {
		return nil, ErrMissingMetadata
	}
	if len(meta.Songs) > 0 {
		order = meta.Songs
	}

	a := &Archive{RepeatMode: models.RepeatMode(meta.RepeatMode), Playing: -1}
	if !a.RepeatMode.Valid() {
		return nil, fmt.Errorf("%w: repeat mode %d", ErrCorrupt, meta.RepeatMode)
	}
	for _, name := range order {
		f, ok := files[name]
		if !ok {
			return nil, fmt.Errorf("%w: %s listed but not present", ErrCorrupt, name)
		}
		data, err := d.readAll(f)
		if err != nil {
			return nil, err
		}
		a.Songs = append(a.Songs, Song{Name: songName(name), Data: data})
	}

	if meta.Playing != nil && *meta.Playing >= 0 && *meta.Playing < len(a.Songs) {
		a.Playing = *meta.Playing
	}
	return a, nil
}

func songName(entry string) string {
	base := path.Base(entry)
	return strings.TrimSuffix(base, path.Ext(base))
}

func (d *decoder) readAll(f *zip.File) ([]byte, error) {
	if f.UncompressedSize64 > uint64(d.remaining) {
		return nil, fmt.Errorf("%w: %s", ErrTooLarge, f.Name)
	}
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, f.Name, err)
	}
	defer rc.Close()

	// The header size may lie, so the reader is capped as well
	data, err := io.ReadAll(io.LimitReader(rc, d.remaining+1))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, f.Name, err)
	}
	if int64(len(data)) > d.remaining {
		return nil, fmt.Errorf("%w: %s", ErrTooLarge, f.Name)
	}
	d.remaining -= int64(len(data))
	return data, nil
}

func (d *decoder) readJSON(f *zip.File, v any) error {
	data, err := d.readAll(f)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrCorrupt, f.Name, err)
	}
	return nil
}
