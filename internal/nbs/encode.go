package nbs

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"sort"

	"nbsplayer/pkg/models"
)

type writer struct {
	buf bytes.Buffer
}

func (w *writer) byte(v int)  { w.buf.WriteByte(uint8(v)) }
func (w *writer) short(v int) { _ = binary.Write(&w.buf, binary.LittleEndian, int16(v)) }
func (w *writer) int(v int)   { _ = binary.Write(&w.buf, binary.LittleEndian, int32(v)) }

func (w *writer) string(s string) {
	w.int(len(s))
	w.buf.WriteString(s)
}

// Encode writes song in the current file format. Instruments are written by
// their ID; IDs below the vanilla count refer to built-in sounds.
func Encode(out io.Writer, song *models.Song) error {
	vanilla, custom := splitInstruments(song.Instruments)
	w := &writer{}

	w.short(0)
	w.byte(MaxVersion)
	w.byte(vanilla)
	w.short(song.Size)
	w.short(len(song.Layers))
	w.string(song.Name)
	w.string(song.Author)
	w.string(song.OriginalAuthor)
	w.string(song.Description)
	w.short(Tempo(song.TimePerTick))
	w.byte(0) // auto-save
	w.byte(10)
	w.byte(4) // time signature
	for i := 0; i < 5; i++ {
		w.int(0)
	}
	w.string("")
	if song.LoopEnabled {
		w.byte(1)
	} else {
		w.byte(0)
	}
	w.byte(song.MaxLoopCount)
	w.short(song.LoopStartTick)

	ticks := noteTicks(song)
	previousTick := -1
	for _, tick := range ticks {
		w.short(tick - previousTick)
		previousTick = tick

		previousLayer := -1
		for index, layer := range song.Layers {
			note, ok := layer.NoteAt(tick)
			if !ok {
				continue
			}
			w.short(index - previousLayer)
			previousLayer = index

			id := 0
			if note.Instrument != nil {
				id = note.Instrument.ID
			}
			w.byte(id)
			w.byte(note.Key)
			w.byte(note.Velocity)
			w.byte(note.Panning + centre)
			w.short(note.Pitch)
		}
		w.short(0)
	}
	w.short(0)

	for _, layer := range song.Layers {
		w.string(layer.Name)
		switch {
		case layer.Locked:
			w.byte(lockLocked)
		case layer.Solo:
			w.byte(lockSolo)
		default:
			w.byte(0)
		}
		w.byte(layer.Velocity)
		w.byte(layer.Panning + centre)
	}

	w.byte(len(custom))
	for _, inst := range custom {
		w.string(inst.Name)
		w.string(inst.File)
		w.byte(inst.Key)
		if inst.PressKey {
			w.byte(1)
		} else {
			w.byte(0)
		}
	}

	if _, err := out.Write(w.buf.Bytes()); err != nil {
		return fmt.Errorf("failed to write song: %w", err)
	}
	return nil
}

// EncodeBytes is Encode into a byte slice.
func EncodeBytes(song *models.Song) ([]byte, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, song); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func splitInstruments(instruments []*models.Instrument) (vanilla int, custom []*models.Instrument) {
	vanilla = 16
	for _, inst := range instruments {
		if !inst.BuiltIn {
			custom = append(custom, inst)
		}
	}
	sort.Slice(custom, func(i, j int) bool { return custom[i].ID < custom[j].ID })
	if len(custom) > 0 && custom[0].ID < vanilla {
		vanilla = custom[0].ID
	}
	return vanilla, custom
}

func noteTicks(song *models.Song) []int {
	seen := make(map[int]struct{})
	for _, layer := range song.Layers {
		for tick := range layer.Notes {
			seen[tick] = struct{}{}
		}
	}
	ticks := make([]int, 0, len(seen))
	for tick := range seen {
		ticks = append(ticks, tick)
	}
	sort.Ints(ticks)
	return ticks
}
