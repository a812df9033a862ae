// Package instrument loads instrument samples and resolves song instruments to them.
package instrument

import (
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"nbsplayer/pkg/models"
)

// BuiltinSounds are the sound names of the vanilla instruments, indexed by instrument ID.
var BuiltinSounds = []string{
	"harp",
	"dbass",
	"bdrum",
	"sdrum",
	"click",
	"guitar",
	"flute",
	"bell",
	"icechime",
	"xylobone",
	"iron_xylophone",
	"cow_bell",
	"didgeridoo",
	"bit",
	"banjo",
	"pling",
}

// BuiltinNames are the display names of the vanilla instruments.
var BuiltinNames = []string{
	"Harp",
	"Double Bass",
	"Bass Drum",
	"Snare Drum",
	"Click",
	"Guitar",
	"Flute",
	"Bell",
	"Chime",
	"Xylophone",
	"Iron Xylophone",
	"Cow Bell",
	"Didgeridoo",
	"Bit",
	"Banjo",
	"Pling",
}

// Builtin returns the vanilla instrument with the given ID, or nil.
func Builtin(id int) *models.Instrument {
	if id < 0 || id >= len(BuiltinSounds) {
		return nil
	}
	return &models.Instrument{
		ID:       id,
		Name:     BuiltinNames[id],
		File:     BuiltinSounds[id] + ".ogg",
		BuiltIn:  true,
		Key:      45,
		PressKey: id == 0,
	}
}

// Sample is one loaded sound.
type Sample struct {
	Name       string        `json:"name"`  // path relative to the sounds dir, without extension
	Title      string        `json:"title"` // tag title, or the file stem
	Path       string        `json:"-"`
	Format     string        `json:"format"`
	SampleRate int           `json:"sampleRate"`
	Duration   time.Duration `json:"duration"`
	PCM        []float32     `json:"-"` // mono; nil when the format is probed only
}

// Loaded reports whether the sample has decoded audio.
func (s *Sample) Loaded() bool {
	return s != nil && len(s.PCM) > 0
}

// Bank maps sound names to samples. It is safe for concurrent use.
type Bank struct {
	samples map[string]*Sample
	mutex   sync.RWMutex
}

// NewBank creates an empty bank.
func NewBank() *Bank {
	return &Bank{samples: make(map[string]*Sample)}
}

// Add registers a sample under its name and its bare stem. An existing
// decoded sample is never replaced by a probed-only one.
func (b *Bank) Add(s *Sample) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	for _, key := range sampleKeys(s.Name) {
		if existing, ok := b.samples[key]; ok && existing.Loaded() && !s.Loaded() {
			continue
		}
		b.samples[key] = s
	}
}

// Lookup returns the decoded sample for inst. Built-in instruments resolve by
// ID; custom instruments by file name, with or without directories.
func (b *Bank) Lookup(inst *models.Instrument) (*Sample, bool) {
	if inst == nil {
		return nil, false
	}

	var candidates []string
	if inst.BuiltIn && inst.ID >= 0 && inst.ID < len(BuiltinSounds) {
		candidates = append(candidates, BuiltinSounds[inst.ID])
	}
	if name := inst.SoundName(); name != "" {
		candidates = append(candidates, sampleKeys(name)...)
	}

	b.mutex.RLock()
	defer b.mutex.RUnlock()

	for _, key := range candidates {
		if s, ok := b.samples[key]; ok && s.Loaded() {
			return s, true
		}
	}
	return nil, false
}

// Len returns the number of distinct samples.
func (b *Bank) Len() int {
	return len(b.Samples())
}

// Samples returns the distinct samples sorted by name.
func (b *Bank) Samples() []*Sample {
	b.mutex.RLock()
	defer b.mutex.RUnlock()

	seen := make(map[*Sample]bool)
	var out []*Sample
	for _, s := range b.samples {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func sampleKeys(name string) []string {
	name = strings.ToLower(strings.ReplaceAll(name, "\\", "/"))
	base := path.Base(name)
	if base == name {
		return []string{name}
	}
	return []string{name, base}
}
