package render

import (
	"math"
	"sync"
	"sync/atomic"

	"nbsplayer/internal/instrument"
	"nbsplayer/pkg/models"

	"github.com/sirupsen/logrus"
)

// Recorder is a Sink that keeps every call. It is safe for concurrent use.
type Recorder struct {
	mutex sync.Mutex
	calls []Params
}

// RenderNote records the call.
func (r *Recorder) RenderNote(key int, instrument *models.Instrument, velocity, panning float64, pitch int) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.calls = append(r.calls, Params{Key: key, Instrument: instrument, Velocity: velocity, Panning: panning, Pitch: pitch})
}

// Calls returns a copy of the recorded calls.
func (r *Recorder) Calls() []Params {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	out := make([]Params, len(r.calls))
	copy(out, r.calls)
	return out
}

// Reset forgets recorded calls.
func (r *Recorder) Reset() {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.calls = nil
}

// LogSink writes one debug line per note.
type LogSink struct {
	Logger *logrus.Logger
}

func (s LogSink) RenderNote(key int, instrument *models.Instrument, velocity, panning float64, pitch int) {
	name := ""
	if instrument != nil {
		name = instrument.Name
	}
	s.Logger.WithFields(logrus.Fields{
		"key":        key,
		"instrument": name,
		"velocity":   velocity,
		"panning":    panning,
		"pitch":      pitch,
	}).Debug("Note")
}

// Voice is a fully resolved sample playback request.
type Voice struct {
	Sample *instrument.Sample
	Rate   float64 // playback rate relative to the sample's own
	Gain   float64 // 0..0.5
	Pan    float64 // -1..1
}

// NewVoice computes the playback parameters of a note. Key 45 (F#4) plays the
// sample at its recorded pitch; velocity is halved to leave headroom.
func NewVoice(sample *instrument.Sample, key int, velocity, panning float64, pitch int) Voice {
	return Voice{
		Sample: sample,
		Rate:   math.Pow(2, (float64(key)+float64(pitch)/100-45)/12),
		Gain:   velocity / 2 / 100,
		Pan:    panning / 100,
	}
}

// VoiceOutput receives voices from a BankSink worker.
type VoiceOutput interface {
	PlayVoice(v Voice)
}

// LogOutput logs voices at debug level.
type LogOutput struct {
	Logger *logrus.Logger
}

func (o LogOutput) PlayVoice(v Voice) {
	o.Logger.WithFields(logrus.Fields{
		"sample": v.Sample.Name,
		"rate":   v.Rate,
		"gain":   v.Gain,
		"pan":    v.Pan,
	}).Debug("Voice")
}

// BankSink resolves instruments against a sample bank and hands voices to an
// output on a worker goroutine. Notes for unloaded instruments are dropped, and
// so are voices that arrive while the queue is full.
type BankSink struct {
	bank    *instrument.Bank
	output  VoiceOutput
	logger  *logrus.Logger
	queue   chan Voice
	stop    chan struct{}
	done    chan struct{}
	closed  atomic.Bool
	dropped atomic.Int64
	once    sync.Once
}

// NewBankSink starts the worker. Call Close to stop it.
func NewBankSink(bank *instrument.Bank, output VoiceOutput, queueSize int, logger *logrus.Logger) *BankSink {
	if queueSize <= 0 {
		queueSize = 256
	}
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
	}

	s := &BankSink{
		bank:   bank,
		output: output,
		logger: logger,
		queue:  make(chan Voice, queueSize),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go s.run()
	return s
}

// RenderNote queues a voice for the note's instrument if the bank has audio for it.
func (s *BankSink) RenderNote(key int, inst *models.Instrument, velocity, panning float64, pitch int) {
	if s.closed.Load() {
		return
	}

	sample, ok := s.bank.Lookup(inst)
	if !ok {
		return
	}

	select {
	case s.queue <- NewVoice(sample, key, velocity, panning, pitch):
	default:
		s.dropped.Add(1)
		s.logger.WithField("sample", sample.Name).Debug("Voice queue full, dropping note")
	}
}

// Dropped returns how many voices were discarded because the queue was full.
func (s *BankSink) Dropped() int64 {
	return s.dropped.Load()
}

// Close stops the worker after it finishes the voice in hand.
func (s *BankSink) Close() {
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.stop)
		<-s.done
	})
}

func (s *BankSink) run() {
	defer close(s.done)
	for {
		select {
		case v := <-s.queue:
			s.output.PlayVoice(v)
		case <-s.stop:
			return
		}
	}
}
