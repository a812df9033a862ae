package nbs

import (
	"testing"
	"time"

	"nbsplayer/internal/instrument"
	"nbsplayer/pkg/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleSong() *models.Song {
	harp := instrument.Builtin(0)
	custom := &models.Instrument{ID: 16, Name: "Sand", File: "Custom\\sand.ogg", Key: 50, PressKey: true}
	instruments := []*models.Instrument{harp}
	for id := 1; id < 16; id++ {
		instruments = append(instruments, instrument.Builtin(id))
	}
	instruments = append(instruments, custom)

	return &models.Song{
		Name:           "Tune",
		Author:         "Someone",
		OriginalAuthor: "Composer",
		Description:    "a test",
		TimePerTick:    50 * time.Millisecond,
		Size:           12,
		LoopEnabled:    true,
		MaxLoopCount:   3,
		LoopStartTick:  4,
		Instruments:    instruments,
		Layers: []*models.Layer{
			{Name: "melody", Velocity: 80, Panning: -20, Solo: true, Notes: map[int]models.Note{
				0: {Key: 45, Instrument: harp, Velocity: 100, Panning: 0, Pitch: 0},
				7: {Key: 50, Instrument: custom, Velocity: 60, Panning: 30, Pitch: -150},
			}},
			{Name: "locked", Velocity: 100, Locked: true, Notes: map[int]models.Note{
				3: {Key: 40, Instrument: harp, Velocity: 100},
			}},
		},
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	original := sampleSong()
	data, err := EncodeBytes(original)
	require.NoError(t, err)

	song, err := Decode(data)
	require.NoError(t, err)

	assert.Equal(t, "Tune", song.Name)
	assert.Equal(t, "Someone", song.Author)
	assert.Equal(t, "Composer", song.OriginalAuthor)
	assert.Equal(t, "a test", song.Description)
	assert.Equal(t, 50*time.Millisecond, song.TimePerTick)
	assert.Equal(t, 12, song.Size)
	assert.True(t, song.LoopEnabled)
	assert.Equal(t, 3, song.MaxLoopCount)
	assert.Equal(t, 4, song.LoopStartTick)

	require.Len(t, song.Layers, 2)
	melody := song.Layers[0]
	assert.Equal(t, "melody", melody.Name)
	assert.True(t, melody.Solo)
	assert.False(t, melody.Locked)
	assert.Equal(t, 80, melody.Velocity)
	assert.Equal(t, -20, melody.Panning)
	assert.True(t, song.Layers[1].Locked)

	note, ok := melody.NoteAt(7)
	require.True(t, ok)
	assert.Equal(t, 50, note.Key)
	assert.Equal(t, 60, note.Velocity)
	assert.Equal(t, 30, note.Panning)
	assert.Equal(t, -150, note.Pitch)
	require.NotNil(t, note.Instrument)
	assert.Equal(t, "Sand", note.Instrument.Name)
	assert.Equal(t, "Custom/sand", note.Instrument.SoundName())
	assert.True(t, note.Instrument.PressKey)

	first, ok := melody.NoteAt(0)
	require.True(t, ok)
	assert.True(t, first.Instrument.BuiltIn)
	assert.Equal(t, "harp", first.Instrument.SoundName())

	_, ok = melody.NoteAt(1)
	assert.False(t, ok)
}

func TestDecodeClassicFormat(t *testing.T) {
	w := &writer{}
	w.short(2) // length
	w.short(1) // layers
	w.string("Old")
	w.string("")
	w.string("")
	w.string("")
	w.short(500)
	w.byte(0)
	w.byte(0)
	w.byte(4)
	for i := 0; i < 5; i++ {
		w.int(0)
	}
	w.string("")
	// tick 1, layer 0
	w.short(2)
	w.short(1)
	w.byte(3)
	w.byte(33)
	w.short(0)
	w.short(0)
	w.string("drums")
	w.byte(70)
	w.byte(0)

	song, err := Decode(w.buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, "Old", song.Name)
	assert.Equal(t, 200*time.Millisecond, song.TimePerTick)
	assert.Equal(t, 2, song.Size)
	assert.False(t, song.LoopEnabled)
	require.Len(t, song.Layers, 1)
	assert.Equal(t, "drums", song.Layers[0].Name)
	assert.Equal(t, 70, song.Layers[0].Velocity)
	assert.Equal(t, 0, song.Layers[0].Panning)

	note, ok := song.Layers[0].NoteAt(1)
	require.True(t, ok)
	assert.Equal(t, 33, note.Key)
	assert.Equal(t, 100, note.Velocity)
	assert.Equal(t, 0, note.Panning)
	assert.Equal(t, "sdrum", note.Instrument.SoundName())
}

func TestDecodeNotesBeyondDeclaredLayers(t *testing.T) {
	w := &writer{}
	w.short(0)
	w.byte(MaxVersion)
	w.byte(16)
	w.short(0) // length
	w.short(0) // layers
	for i := 0; i < 4; i++ {
		w.string("")
	}
	w.short(1000)
	w.byte(0)
	w.byte(0)
	w.byte(4)
	for i := 0; i < 5; i++ {
		w.int(0)
	}
	w.string("")
	w.byte(0)
	w.byte(0)
	w.short(0)
	// tick 3, layer 1
	w.short(4)
	w.short(2)
	w.byte(0)
	w.byte(45)
	w.byte(100)
	w.byte(100)
	w.short(0)
	w.short(0)
	w.short(0)

	song, err := Decode(w.buf.Bytes())
	require.NoError(t, err)
	require.Len(t, song.Layers, 2)
	assert.Empty(t, song.Layers[0].Notes)
	_, ok := song.Layers[1].NoteAt(3)
	assert.True(t, ok)
	assert.Equal(t, 3, song.Size)
	assert.Equal(t, 100, song.Layers[1].Velocity)
}

func TestDecodeErrors(t *testing.T) {
	data, err := EncodeBytes(sampleSong())
	require.NoError(t, err)

	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"empty", nil, ErrTruncated},
		{"header cut", data[:20], ErrTruncated},
		{"notes cut", data[:len(data)/2], ErrTruncated},
		{"future version", []byte{0, 0, MaxVersion + 1, 16}, ErrUnsupportedVersion},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.data)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestTempoConversion(t *testing.T) {
	assert.Equal(t, 100*time.Millisecond, TimePerTick(1000))
	assert.Equal(t, 100*time.Millisecond, TimePerTick(0))
	assert.Equal(t, 1000, Tempo(100*time.Millisecond))
	assert.Equal(t, 2000, Tempo(TimePerTick(2000)))
}
