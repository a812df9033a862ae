// Package render turns notes into render sink calls.
package render

import (
	"nbsplayer/pkg/models"
)

// Sink produces sound for a note. Implementations must return quickly and
// silently ignore instruments they have no audio for.
type Sink interface {
	RenderNote(key int, instrument *models.Instrument, velocity, panning float64, pitch int)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(key int, instrument *models.Instrument, velocity, panning float64, pitch int)

func (f SinkFunc) RenderNote(key int, instrument *models.Instrument, velocity, panning float64, pitch int) {
	f(key, instrument, velocity, panning, pitch)
}

// Params are the resolved arguments of one render call.
type Params struct {
	Key        int                `json:"key"`
	Instrument *models.Instrument `json:"instrument"`
	Velocity   float64            `json:"velocity"`
	Panning    float64            `json:"panning"`
	Pitch      int                `json:"pitch"`
}

// parityDetune is the pitch offset, in cents, applied in parity mode.
const parityDetune = 2

// Resolve computes the final velocity, panning and pitch of note played on layer.
//
// Velocity is scaled by the layer velocity as a percentage. Panning is the
// average of note and layer panning. In parity mode a centred layer passes the
// note panning through unchanged and the pitch is lowered by two cents.
func Resolve(note models.Note, layer *models.Layer, parity bool) Params {
	panning := float64(note.Panning+layer.Panning) / 2
	pitch := note.Pitch
	if parity {
		if layer.Panning == 0 {
			panning = float64(note.Panning)
		}
		pitch -= parityDetune
	}

	return Params{
		Key:        note.Key,
		Instrument: note.Instrument,
		Velocity:   float64(note.Velocity*layer.Velocity) / 100,
		Panning:    panning,
		Pitch:      pitch,
	}
}

// Dispatch resolves note and forwards it to sink.
func Dispatch(sink Sink, note models.Note, layer *models.Layer, parity bool) Params {
	p := Resolve(note, layer, parity)
	sink.RenderNote(p.Key, p.Instrument, p.Velocity, p.Panning, p.Pitch)
	return p
}
