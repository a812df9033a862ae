package player

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"nbsplayer/internal/clock"
	"nbsplayer/internal/events"
	"nbsplayer/internal/render"
	"nbsplayer/pkg/models"

	"github.com/sirupsen/logrus"
)

// ProgressSink receives the playback position as a one-decimal percentage.
type ProgressSink interface {
	ReportProgress(percent float64)
}

// LoopSink receives the song-loop toggle state. available is false when the
// song has no loop, or when looping is handled by the playlist instead.
type LoopSink interface {
	SetLoopState(enabled, available bool)
}

type nopSink struct{}

func (nopSink) ReportProgress(float64)  {}
func (nopSink) SetLoopState(bool, bool) {}

// Option configures a Player.
type Option func(*Player)

// WithClock sets the clock pacing the ticks.
func WithClock(c clock.Clock) Option {
	return func(p *Player) { p.clock = c }
}

// WithLogger sets the logger.
func WithLogger(logger *logrus.Logger) Option {
	return func(p *Player) { p.logger = logger }
}

// WithProgressSink sets where progress is reported.
func WithProgressSink(sink ProgressSink) Option {
	return func(p *Player) { p.progress = sink }
}

// WithLoopSink sets where the loop toggle state is reported.
func WithLoopSink(sink LoopSink) Option {
	return func(p *Player) { p.loopSink = sink }
}

// WithParity sets the initial parity mode. Parity is on by default.
func WithParity(enabled bool) Option {
	return func(p *Player) { p.useParity.Store(enabled) }
}

// Player plays one song. At most one tick loop runs per Player; Play while
// running does nothing and Pause returns only once the loop has exited.
type Player struct {
	layers        []*models.Layer
	timePerTick   time.Duration
	lastTick      int
	maxLoopCount  int
	loopStartTick int
	loopAvailable bool

	sink     render.Sink
	clock    clock.Clock
	progress ProgressSink
	loopSink LoopSink
	logger   *logrus.Logger
	events   *events.Bus

	loop           atomic.Bool
	loopLocked     atomic.Bool
	useParity      atomic.Bool
	updateProgress atomic.Bool

	// position
	stateMutex       sync.Mutex
	currentTick      int
	currentLoopCount int
	lastProgress     float64

	// loop lifecycle
	runMutex      sync.Mutex
	running       bool
	stopRequested bool
	cancel        context.CancelFunc
	done          chan struct{}
}

// New creates a player for song. The audible layers are fixed here: when the
// song has a solo layer only solo layers play, and locked layers never do.
func New(song *models.Song, sink render.Sink, opts ...Option) *Player {
	p := &Player{
		timePerTick:   song.TimePerTick,
		lastTick:      song.Size,
		maxLoopCount:  song.MaxLoopCount,
		loopStartTick: song.LoopStartTick,
		loopAvailable: song.LoopEnabled,
		sink:          sink,
		clock:         clock.Real{},
		progress:      nopSink{},
		loopSink:      nopSink{},
		events:        events.NewBus(),
		currentTick:   -1,
	}
	p.loop.Store(song.LoopEnabled)
	p.useParity.Store(true)
	p.updateProgress.Store(true)

	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = logrus.New()
		p.logger.SetFormatter(&logrus.JSONFormatter{})
	}

	p.layers = AudibleLayers(song)
	p.ReportLoopState()
	return p
}

// AudibleLayers filters song's layers in their original order.
func AudibleLayers(song *models.Song) []*models.Layer {
	hasSolo := song.HasSolo()
	layers := make([]*models.Layer, 0, len(song.Layers))
	for _, layer := range song.Layers {
		if hasSolo && !layer.Solo {
			continue
		}
		if layer.Locked {
			continue
		}
		layers = append(layers, layer)
	}
	return layers
}

// Subscribe registers handler for one of the player's events (Loop or End).
// Loop handlers run on the tick loop and must not call Pause or Reset.
func (p *Player) Subscribe(kind events.Kind, handler events.Handler) func() {
	return p.events.Subscribe(kind, handler)
}

// Play starts the tick loop from the current tick. It returns immediately.
func (p *Player) Play() {
	p.runMutex.Lock()
	defer p.runMutex.Unlock()

	// A loop that is stopping must finish before a new one may start
	for p.running && p.stopRequested {
		done := p.done
		p.runMutex.Unlock()
		<-done
		p.runMutex.Lock()
	}
	if p.running {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.running = true
	p.stopRequested = false
	p.cancel = cancel
	p.done = make(chan struct{})

	p.logger.WithField("tick", p.CurrentTick()).Debug("Playback started")
	go p.run(ctx, p.done)
}

// Pause stops the tick loop and waits until it has exited. The tick in
// progress still completes, so no tick runs after Pause returns.
func (p *Player) Pause() {
	p.runMutex.Lock()
	if !p.running {
		p.runMutex.Unlock()
		return
	}
	p.stopRequested = true
	p.cancel()
	done := p.done
	p.runMutex.Unlock()

	<-done
}

// Reset pauses and rewinds to the not-yet-started position.
func (p *Player) Reset() {
	p.Pause()
	p.rewind()
}

// Running reports whether the tick loop is active.
func (p *Player) Running() bool {
	p.runMutex.Lock()
	defer p.runMutex.Unlock()
	return p.running
}

// CurrentTick returns the tick that will be played next; -1 before the start.
func (p *Player) CurrentTick() int {
	p.stateMutex.Lock()
	defer p.stateMutex.Unlock()
	return p.currentTick
}

// LoopCount returns how many times the song has looped since the last reset.
func (p *Player) LoopCount() int {
	p.stateMutex.Lock()
	defer p.stateMutex.Unlock()
	return p.currentLoopCount
}

// LastTick returns the index of the song's last tick.
func (p *Player) LastTick() int {
	return p.lastTick
}

// TimePerTick returns the delay between ticks.
func (p *Player) TimePerTick() time.Duration {
	return p.timePerTick
}

// AudibleLayers returns the layers this player plays.
func (p *Player) AudibleLayers() []*models.Layer {
	out := make([]*models.Layer, len(p.layers))
	copy(out, p.layers)
	return out
}

// Loop reports whether the song loops when it reaches the end.
func (p *Player) Loop() bool { return p.loop.Load() }

// LoopAvailable reports whether the song defines a loop.
func (p *Player) LoopAvailable() bool { return p.loopAvailable }

// SetLoop toggles song looping. It takes effect at the next tick boundary.
func (p *Player) SetLoop(enabled bool) {
	p.loop.Store(enabled)
	p.ReportLoopState()
}

// DisableLoop turns looping off and reports the toggle as unavailable. The
// playlist uses it once it holds more than one song.
func (p *Player) DisableLoop() {
	p.loopLocked.Store(true)
	p.loop.Store(false)
	p.ReportLoopState()
}

// AllowLoop undoes DisableLoop. Looping stays off until SetLoop turns it on.
func (p *Player) AllowLoop() {
	p.loopLocked.Store(false)
	p.ReportLoopState()
}

// ReportLoopState sends the loop toggle state to the loop sink.
func (p *Player) ReportLoopState() {
	p.loopSink.SetLoopState(p.loop.Load(), p.loopAvailable && !p.loopLocked.Load())
}

// Parity reports whether parity mode is on.
func (p *Player) Parity() bool { return p.useParity.Load() }

// SetParity toggles parity mode. It takes effect at the next tick.
func (p *Player) SetParity(enabled bool) { p.useParity.Store(enabled) }

// BeginScrub suspends progress reporting while the position is being dragged.
func (p *Player) BeginScrub() {
	p.updateProgress.Store(false)
}

// EndScrub moves to percent of the song and resumes progress reporting.
func (p *Player) EndScrub(percent float64) {
	percent = math.Max(0, math.Min(100, percent))

	p.stateMutex.Lock()
	p.currentTick = int(math.Round(percent / 100 * float64(p.lastTick)))
	p.stateMutex.Unlock()

	p.updateProgress.Store(true)
}

// Progress returns the current position as a one-decimal percentage.
func (p *Player) Progress() float64 {
	p.stateMutex.Lock()
	defer p.stateMutex.Unlock()
	return p.percent(p.currentTick)
}

// CheckProgress reports the current progress to the progress sink if it changed.
func (p *Player) CheckProgress() {
	p.stateMutex.Lock()
	defer p.stateMutex.Unlock()
	p.checkProgressLocked()
}

func (p *Player) run(ctx context.Context, done chan struct{}) {
	var ended bool
	for {
		var looped bool
		looped, ended = p.step(ctx)
		if looped {
			p.events.Publish(events.Event{Kind: events.Loop, Index: p.LoopCount()})
		}
		if ended || p.stopping() {
			break
		}
	}

	p.runMutex.Lock()
	p.running = false
	p.stopRequested = false
	p.cancel()
	close(done)
	p.runMutex.Unlock()

	if ended {
		p.logger.Debug("Playback ended")
		p.events.Publish(events.Event{Kind: events.End})
	}
}

func (p *Player) stopping() bool {
	p.runMutex.Lock()
	defer p.runMutex.Unlock()
	return p.stopRequested
}

// step plays one tick: dispatch, wait, advance, report, check for the end.
// A cancelled wait still advances so a paused tick is never played twice.
func (p *Player) step(ctx context.Context) (looped, ended bool) {
	p.playTick(p.CurrentTick())

	_ = p.clock.Sleep(ctx, p.timePerTick)

	p.stateMutex.Lock()
	defer p.stateMutex.Unlock()

	p.currentTick++
	p.checkProgressLocked()

	if p.currentTick > p.lastTick {
		if p.loop.Load() && (p.maxLoopCount == 0 || p.currentLoopCount < p.maxLoopCount) {
			p.currentLoopCount++
			p.currentTick = p.loopStartTick
			p.logger.WithFields(logrus.Fields{
				"loop": p.currentLoopCount,
				"tick": p.currentTick,
			}).Debug("Song looped")
			return true, false
		}
		p.rewindLocked()
		return false, true
	}
	return false, false
}

func (p *Player) playTick(tick int) {
	parity := p.useParity.Load()
	for _, layer := range p.layers {
		note, ok := layer.NoteAt(tick)
		if !ok {
			continue
		}
		render.Dispatch(p.sink, note, layer, parity)
	}
}

func (p *Player) rewind() {
	p.stateMutex.Lock()
	defer p.stateMutex.Unlock()
	p.rewindLocked()
}

func (p *Player) rewindLocked() {
	p.currentTick = -1
	p.currentLoopCount = 0
	p.lastProgress = 0
	p.progress.ReportProgress(0)
}

func (p *Player) checkProgressLocked() {
	if !p.updateProgress.Load() {
		return
	}
	progress := p.percent(p.currentTick)
	if progress != p.lastProgress {
		p.lastProgress = progress
		p.progress.ReportProgress(progress)
	}
}

func (p *Player) percent(tick int) float64 {
	if p.lastTick <= 0 || tick < 0 {
		return 0
	}
	return math.Round(float64(tick)/float64(p.lastTick)*1000) / 10
}
