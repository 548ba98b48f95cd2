package render

import (
	"context"
	"fmt"
	"image"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bryanchriswhite/PlanarView/internal/gpu"
	"github.com/bryanchriswhite/PlanarView/internal/logger"
)

// Mode selects how render ticks are scheduled
type Mode int

const (
	ModeContinuous Mode = iota // fixed cadence
	ModeOnDemand               // only when a redraw was requested
)

// ParseMode parses "continuous" or "on_demand"
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "continuous", "":
		return ModeContinuous, nil
	case "on_demand", "on-demand", "ondemand", "when_dirty":
		return ModeOnDemand, nil
	}
	return 0, fmt.Errorf("unknown render mode: %q", s)
}

// String returns the config name of the mode
func (m Mode) String() string {
	if m == ModeOnDemand {
		return "on_demand"
	}
	return "continuous"
}

// Sink receives every presented frame. Sinks must not keep img after
// WriteFrame returns unless they copy it.
type Sink interface {
	WriteFrame(img *image.RGBA) error
}

// Compositor draws on top of a presented frame before sinks see it
type Compositor interface {
	Composite(img *image.RGBA)
}

// LoopConfig configures a Loop
type LoopConfig struct {
	Mode Mode
	FPS  int
}

// Loop owns the surface and drives a Renderer from a single goroutine
// locked to its OS thread
type Loop struct {
	renderer *Renderer
	surface  gpu.Surface
	config   LoopConfig

	requests chan struct{}
	control  chan func()

	mu         sync.RWMutex
	sinks      map[string]Sink
	compositor Compositor
	running    bool
	cancel     context.CancelFunc
	done       chan struct{}

	ticks     atomic.Uint64
	requested atomic.Uint64
	coalesced atomic.Uint64
	panics    atomic.Uint64
}

// LoopStats is a snapshot of loop activity
type LoopStats struct {
	Mode      string `json:"mode"`
	FPS       int    `json:"fps"`
	Running   bool   `json:"running"`
	Ticks     uint64 `json:"ticks"`
	Requested uint64 `json:"requested"`
	Coalesced uint64 `json:"coalesced"`
	Panics    uint64 `json:"panics"`
}

// NewLoop creates a loop for renderer drawing into surface
func NewLoop(renderer *Renderer, surface gpu.Surface, config LoopConfig) *Loop {
	if config.FPS <= 0 {
		config.FPS = 30
	}
	l := &Loop{
		renderer: renderer,
		surface:  surface,
		config:   config,
		requests: make(chan struct{}, 1),
		control:  make(chan func(), 8),
		sinks:    make(map[string]Sink),
	}
	renderer.SetRequestHandler(l.RequestRender)
	return l
}

// AddSink registers a presentation target under name
func (l *Loop) AddSink(name string, s Sink) {
	l.mu.Lock()
	l.sinks[name] = s
	l.mu.Unlock()
}

// RemoveSink unregisters a presentation target
func (l *Loop) RemoveSink(name string) {
	l.mu.Lock()
	delete(l.sinks, name)
	l.mu.Unlock()
}

// SetCompositor installs a compositor; nil removes it
func (l *Loop) SetCompositor(c Compositor) {
	l.mu.Lock()
	l.compositor = c
	l.mu.Unlock()
}

// Renderer returns the driven renderer
func (l *Loop) Renderer() *Renderer {
	return l.renderer
}

// RequestRender schedules one redraw. Requests made while one is pending
// collapse into it. Never blocks.
func (l *Loop) RequestRender() {
	l.requested.Add(1)
	select {
	case l.requests <- struct{}{}:
	default:
		l.coalesced.Add(1)
	}
}

// Resize changes the surface size on the render goroutine
func (l *Loop) Resize(width, height int) {
	l.post(func() {
		l.surface.Resize(width, height)
		l.renderer.OnSurfaceChanged(width, height)
	})
}

// RecreateSurface rebuilds programs and textures, as after a context loss
func (l *Loop) RecreateSurface() {
	l.post(func() {
		w, h := l.surface.Size()
		l.renderer.OnSurfaceCreated(l.surface)
		l.renderer.OnSurfaceChanged(w, h)
	})
}

// post runs fn on the render goroutine and then redraws. Before Start
// there is no render goroutine, so fn runs on the caller.
func (l *Loop) post(fn func()) {
	l.mu.RLock()
	running, done := l.running, l.done
	l.mu.RUnlock()
	if !running {
		fn()
		return
	}
	select {
	case l.control <- fn:
	case <-done:
	}
}

// Start launches the render goroutine
func (l *Loop) Start(ctx context.Context) error {
	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		return fmt.Errorf("render loop already running")
	}
	ctx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.done = make(chan struct{})
	l.running = true
	l.mu.Unlock()

	ready := make(chan error, 1)
	go l.run(ctx, ready)
	return <-ready
}

// Stop ends the render goroutine and waits for it to clean up
func (l *Loop) Stop() {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return
	}
	cancel, done := l.cancel, l.done
	l.mu.Unlock()

	cancel()
	<-done
}

// Running reports whether the render goroutine is alive
func (l *Loop) Running() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.running
}

func (l *Loop) run(ctx context.Context, ready chan<- error) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	log := logger.WithComponent("render-loop")
	defer func() {
		l.renderer.Cleanup()
		l.mu.Lock()
		l.running = false
		close(l.done)
		l.mu.Unlock()
		log.Info().Msg("Render loop stopped")
	}()

	w, h := l.surface.Size()
	err := l.renderer.OnSurfaceCreated(l.surface)
	l.renderer.OnSurfaceChanged(w, h)
	// a failed surface still runs the loop so it can be recreated
	ready <- nil
	if err != nil {
		log.Warn().Err(err).Msg("Render loop started without a usable surface")
	}

	log.Info().
		Str("mode", l.config.Mode.String()).
		Int("fps", l.config.FPS).
		Int("width", w).
		Int("height", h).
		Msg("Render loop started")

	var tick <-chan time.Time
	if l.config.Mode == ModeContinuous {
		ticker := time.NewTicker(time.Second / time.Duration(l.config.FPS))
		defer ticker.Stop()
		tick = ticker.C
	}

	l.tick()
	for {
		select {
		case <-ctx.Done():
			return
		case fn := <-l.control:
			l.safely(fn)
			l.tick()
		case <-tick:
			l.tick()
		case <-l.requests:
			if l.config.Mode == ModeOnDemand {
				l.tick()
			}
		}
	}
}

// tick draws one frame and presents it
func (l *Loop) tick() {
	l.safely(func() {
		l.renderer.DrawFrame()
		l.ticks.Add(1)
		l.present()
	})
}

func (l *Loop) present() {
	l.mu.RLock()
	compositor := l.compositor
	sinks := make(map[string]Sink, len(l.sinks))
	for name, s := range l.sinks {
		sinks[name] = s
	}
	l.mu.RUnlock()

	if len(sinks) == 0 {
		return
	}
	img := l.surface.Snapshot()
	if compositor != nil {
		compositor.Composite(img)
	}
	for name, s := range sinks {
		if err := s.WriteFrame(img); err != nil {
			logger.WithComponent("render-loop").Debug().
				Err(err).
				Str("sink", name).
				Msg("Sink rejected frame")
		}
	}
}

func (l *Loop) safely(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.panics.Add(1)
			logger.WithComponent("render-loop").Error().
				Interface("panic", r).
				Msg("Recovered from panic on render goroutine")
		}
	}()
	fn()
}

// Stats returns a snapshot of loop counters
func (l *Loop) Stats() LoopStats {
	return LoopStats{
		Mode:      l.config.Mode.String(),
		FPS:       l.config.FPS,
		Running:   l.Running(),
		Ticks:     l.ticks.Load(),
		Requested: l.requested.Load(),
		Coalesced: l.coalesced.Load(),
		Panics:    l.panics.Load(),
	}
}
