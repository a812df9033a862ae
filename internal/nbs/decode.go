// Package nbs decodes Note Block Studio song files.
package nbs

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"time"

	"nbsplayer/internal/instrument"
	"nbsplayer/pkg/models"
)

// MaxVersion is the newest file format version the decoder understands.
const MaxVersion = 5

const (
	centre       = 100
	defaultTempo = 1000 // 10 ticks per second
	lockLocked   = 1
	lockSolo     = 2
)

var (
	ErrTruncated          = errors.New("nbs: truncated file")
	ErrUnsupportedVersion = errors.New("nbs: unsupported version")
)

// Header holds the file's song-level fields.
type Header struct {
	Version          int
	VanillaCount     int
	Length           int
	LayerCount       int
	Name             string
	Author           string
	OriginalAuthor   string
	Description      string
	Tempo            int // ticks per second * 100
	AutoSave         bool
	AutoSaveDuration int
	TimeSignature    int
	MinutesSpent     int
	LeftClicks       int
	RightClicks      int
	BlocksAdded      int
	BlocksRemoved    int
	ImportName       string
	Loop             bool
	MaxLoopCount     int
	LoopStartTick    int
}

type reader struct {
	r *bytes.Reader
}

func (r *reader) read(v any) error {
	if err := binary.Read(r.r, binary.LittleEndian, v); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return ErrTruncated
		}
		return err
	}
	return nil
}

func (r *reader) byte() (int, error) {
	var v uint8
	err := r.read(&v)
	return int(v), err
}

func (r *reader) short() (int, error) {
	var v int16
	err := r.read(&v)
	return int(v), err
}

func (r *reader) int() (int, error) {
	var v int32
	err := r.read(&v)
	return int(v), err
}

func (r *reader) string() (string, error) {
	n, err := r.int()
	if err != nil {
		return "", err
	}
	if n < 0 || n > r.r.Len() {
		return "", ErrTruncated
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r.r, buf); err != nil {
		return "", ErrTruncated
	}
	return string(buf), nil
}

// Decode parses a song file of any version from 0 (classic) to MaxVersion.
func Decode(data []byte) (*models.Song, error) {
	r := &reader{r: bytes.NewReader(data)}

	header, err := decodeHeader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	song := &models.Song{
		Name:           header.Name,
		Author:         header.Author,
		OriginalAuthor: header.OriginalAuthor,
		Description:    header.Description,
		TimePerTick:    TimePerTick(header.Tempo),
		LoopEnabled:    header.Loop,
		MaxLoopCount:   header.MaxLoopCount,
		LoopStartTick:  header.LoopStartTick,
	}

	for id := 0; id < header.VanillaCount; id++ {
		inst := instrument.Builtin(id)
		if inst == nil {
			inst = &models.Instrument{ID: id, Name: fmt.Sprintf("Instrument %d", id), BuiltIn: true, Key: 45}
		}
		song.Instruments = append(song.Instruments, inst)
	}

	song.Layers = make([]*models.Layer, header.LayerCount)
	for i := range song.Layers {
		song.Layers[i] = newLayer()
	}

	type placed struct {
		layer, tick, instrument int
		note                    models.Note
	}
	var notes []placed

	tick := -1
	lastTick := 0
	for {
		jump, err := r.short()
		if err != nil {
			return nil, fmt.Errorf("failed to read notes: %w", err)
		}
		if jump == 0 {
			break
		}
		tick += jump

		layer := -1
		for {
			jump, err := r.short()
			if err != nil {
				return nil, fmt.Errorf("failed to read notes: %w", err)
			}
			if jump == 0 {
				break
			}
			layer += jump

			p := placed{layer: layer, tick: tick, note: models.Note{Velocity: 100}}
			if p.instrument, err = r.byte(); err != nil {
				return nil, fmt.Errorf("failed to read note: %w", err)
			}
			if p.note.Key, err = r.byte(); err != nil {
				return nil, fmt.Errorf("failed to read note: %w", err)
			}
			if header.Version >= 4 {
				if p.note.Velocity, err = r.byte(); err != nil {
					return nil, fmt.Errorf("failed to read note: %w", err)
				}
				panning, err := r.byte()
				if err != nil {
					return nil, fmt.Errorf("failed to read note: %w", err)
				}
				p.note.Panning = panning - centre
				if p.note.Pitch, err = r.short(); err != nil {
					return nil, fmt.Errorf("failed to read note: %w", err)
				}
			}
			notes = append(notes, p)
			if tick > lastTick {
				lastTick = tick
			}
		}
	}

	// Layer records are optional in files cut short after the notes
	for i := 0; i < header.LayerCount; i++ {
		if r.r.Len() == 0 {
			break
		}
		if err := decodeLayer(r, header.Version, song.Layers[i]); err != nil {
			return nil, fmt.Errorf("failed to read layer %d: %w", i, err)
		}
	}

	if r.r.Len() > 0 {
		count, err := r.byte()
		if err != nil {
			return nil, fmt.Errorf("failed to read instruments: %w", err)
		}
		for i := 0; i < count; i++ {
			inst := &models.Instrument{ID: header.VanillaCount + i}
			if inst.Name, err = r.string(); err != nil {
				return nil, fmt.Errorf("failed to read instrument %d: %w", i, err)
			}
			if inst.File, err = r.string(); err != nil {
				return nil, fmt.Errorf("failed to read instrument %d: %w", i, err)
			}
			if inst.Key, err = r.byte(); err != nil {
				return nil, fmt.Errorf("failed to read instrument %d: %w", i, err)
			}
			press, err := r.byte()
			if err != nil {
				return nil, fmt.Errorf("failed to read instrument %d: %w", i, err)
			}
			inst.PressKey = press != 0
			song.Instruments = append(song.Instruments, inst)
		}
	}

	for _, p := range notes {
		// Notes may sit on layers beyond the declared count
		for p.layer >= len(song.Layers) {
			song.Layers = append(song.Layers, newLayer())
		}
		if p.instrument < len(song.Instruments) {
			p.note.Instrument = song.Instruments[p.instrument]
		}
		song.Layers[p.layer].Notes[p.tick] = p.note
	}

	song.Size = lastTick
	if header.Length > song.Size {
		song.Size = header.Length
	}
	return song, nil
}

// DecodeHeader parses only the song-level fields.
func DecodeHeader(data []byte) (*Header, error) {
	return decodeHeader(&reader{r: bytes.NewReader(data)})
}

func decodeHeader(r *reader) (*Header, error) {
	h := &Header{VanillaCount: 10}

	first, err := r.short()
	if err != nil {
		return nil, err
	}
	if first == 0 {
		if h.Version, err = r.byte(); err != nil {
			return nil, err
		}
		if h.Version > MaxVersion {
			return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, h.Version)
		}
		if h.VanillaCount, err = r.byte(); err != nil {
			return nil, err
		}
		if h.Version >= 3 {
			if h.Length, err = r.short(); err != nil {
				return nil, err
			}
		}
	} else {
		h.Length = first
	}

	if h.LayerCount, err = r.short(); err != nil {
		return nil, err
	}
	for _, s := range []*string{&h.Name, &h.Author, &h.OriginalAuthor, &h.Description} {
		if *s, err = r.string(); err != nil {
			return nil, err
		}
	}
	if h.Tempo, err = r.short(); err != nil {
		return nil, err
	}
	autoSave, err := r.byte()
	if err != nil {
		return nil, err
	}
	h.AutoSave = autoSave != 0
	if h.AutoSaveDuration, err = r.byte(); err != nil {
		return nil, err
	}
	if h.TimeSignature, err = r.byte(); err != nil {
		return nil, err
	}
	for _, n := range []*int{&h.MinutesSpent, &h.LeftClicks, &h.RightClicks, &h.BlocksAdded, &h.BlocksRemoved} {
		if *n, err = r.int(); err != nil {
			return nil, err
		}
	}
	if h.ImportName, err = r.string(); err != nil {
		return nil, err
	}

	if h.Version >= 4 {
		loop, err := r.byte()
		if err != nil {
			return nil, err
		}
		h.Loop = loop != 0
		if h.MaxLoopCount, err = r.byte(); err != nil {
			return nil, err
		}
		if h.LoopStartTick, err = r.short(); err != nil {
			return nil, err
		}
	}
	return h, nil
}

func decodeLayer(r *reader, version int, layer *models.Layer) error {
	var err error
	if layer.Name, err = r.string(); err != nil {
		return err
	}
	if version >= 4 {
		lock, err := r.byte()
		if err != nil {
			return err
		}
		layer.Locked = lock == lockLocked
		layer.Solo = lock == lockSolo
	}
	if layer.Velocity, err = r.byte(); err != nil {
		return err
	}
	if version >= 2 {
		stereo, err := r.byte()
		if err != nil {
			return err
		}
		layer.Panning = stereo - centre
	}
	return nil
}

func newLayer() *models.Layer {
	return &models.Layer{Notes: make(map[int]models.Note), Velocity: 100}
}

// TimePerTick converts a tempo in hundredths of ticks per second to a tick duration.
func TimePerTick(tempo int) time.Duration {
	if tempo <= 0 {
		tempo = defaultTempo
	}
	return time.Duration(math.Round(float64(time.Second) / (float64(tempo) / 100)))
}

// Tempo is the inverse of TimePerTick.
func Tempo(timePerTick time.Duration) int {
	if timePerTick <= 0 {
		return defaultTempo
	}
	return int(math.Round(float64(time.Second) / float64(timePerTick) * 100))
}
