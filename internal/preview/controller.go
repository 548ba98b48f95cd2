// Package preview connects a camera, the effect engine and the renderer:
// it is the frame provider the render loop pulls from.
package preview

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/bryanchriswhite/PlanarView/internal/effect"
	"github.com/bryanchriswhite/PlanarView/internal/frame"
	"github.com/bryanchriswhite/PlanarView/internal/logger"
	"github.com/bryanchriswhite/PlanarView/internal/render"
	"github.com/bryanchriswhite/PlanarView/internal/slot"
	"github.com/bryanchriswhite/PlanarView/internal/source"
)

// Mode selects where frames come from
type Mode int

const (
	ModeVideo Mode = iota
	ModeStill
)

func (m Mode) String() string {
	if m == ModeStill {
		return "still"
	}
	return "video"
}

// ErrNoCamera is returned by camera operations when none is attached
var ErrNoCamera = errors.New("preview: no camera")

// Display is the part of the renderer the controller drives
type Display interface {
	SetRenderingEnabled(enabled bool)
	SetMirror(mirror bool)
	Mirror() bool
	RequestRender()
}

var _ Display = (*render.Renderer)(nil)

// Saver persists captured frames; it owns the buffer passed to Save
type Saver interface {
	Save(buf *frame.Buffer) (string, error)
}

// Options configure a controller
type Options struct {
	RotationBack  frame.Rotation
	RotationFront frame.Rotation
	// MirrorFront mirrors the display while the front camera is active
	MirrorFront bool
	Pool        *frame.Pool
}

// Status is a snapshot of controller state
type Status struct {
	Mode        string `json:"mode"`
	FrontFacing bool   `json:"front_facing"`
	Resuming    bool   `json:"resuming"`
	CapturePend bool   `json:"capture_pending"`
	Received    uint64 `json:"frames_received"`
	Dropped     uint64 `json:"frames_dropped"`
	Processed   uint64 `json:"frames_processed"`
	EngineErrs  uint64 `json:"engine_errors"`
	Captures    uint64 `json:"captures"`
}

// Controller implements render.FrameProvider. In video mode the camera
// callback installs rotated frames into a single-slot mailbox and every
// pull takes the newest one through the engine. In still mode the retained
// still is reprocessed on every pull.
type Controller struct {
	camera  source.Camera
	engine  effect.Engine
	display Display
	saver   Saver
	opts    Options
	slot    *slot.Slot

	mu    sync.Mutex
	ctx   context.Context
	mode  Mode
	still *frame.Buffer

	resume      atomic.Bool
	resumeFront atomic.Bool
	capture     atomic.Bool

	received   atomic.Uint64
	dropped    atomic.Uint64
	processed  atomic.Uint64
	engineErrs atomic.Uint64
	captures   atomic.Uint64
}

var _ render.FrameProvider = (*Controller)(nil)

// New creates a controller. camera and saver may be nil.
func New(camera source.Camera, engine effect.Engine, display Display, saver Saver, opts Options) *Controller {
	c := &Controller{
		camera:  camera,
		engine:  engine,
		display: display,
		saver:   saver,
		opts:    opts,
		slot:    slot.New("camera"),
	}
	if camera != nil {
		camera.SetFrameCallback(c.OnCameraFrame)
	}
	return c
}

// Start begins camera capture in video mode
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	c.ctx = ctx
	c.mu.Unlock()
	if c.camera == nil {
		return nil
	}
	if err := c.camera.Start(ctx); err != nil {
		return fmt.Errorf("failed to start camera: %w", err)
	}
	c.syncMirror(c.camera.FrontFacing())
	return nil
}

// Stop halts the camera and drops every retained frame
func (c *Controller) Stop() {
	if c.camera != nil {
		c.camera.Stop()
	}
	c.slot.Clear()
	c.mu.Lock()
	c.dropStillLocked()
	c.mu.Unlock()
}

// Mode reports the current source mode
func (c *Controller) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// OnCameraFrame is the camera callback. It owns buf.
func (c *Controller) OnCameraFrame(buf *frame.Buffer, front bool) {
	c.received.Add(1)

	if c.Mode() == ModeStill {
		c.dropped.Add(1)
		buf.Release()
		return
	}

	if c.resume.Load() && front != c.resumeFront.Load() {
		// still in flight from the previous facing
		c.dropped.Add(1)
		buf.Release()
		return
	}

	rot := c.opts.RotationBack
	if front {
		rot = c.opts.RotationFront
	}
	out := buf
	if rot != frame.Rotate0 {
		var err error
		out, err = frame.Transform(buf, rot, false, c.opts.Pool)
		buf.Release()
		if err != nil {
			c.dropped.Add(1)
			logger.WithComponent("preview").Warn().Err(err).Msg("Failed to rotate camera frame")
			return
		}
	}

	if c.resume.Load() && front != c.resumeFront.Load() {
		// a switch started while this frame was being rotated
		c.dropped.Add(1)
		out.Release()
		return
	}

	c.syncMirror(front)
	c.slot.Install(out)
	if c.resume.Load() && front == c.resumeFront.Load() && c.resume.CompareAndSwap(true, false) {
		c.display.SetRenderingEnabled(true)
		logger.WithComponent("preview").Debug().Bool("front", front).Msg("Resumed rendering on first frame")
	}
	c.display.RequestRender()
}

func (c *Controller) syncMirror(front bool) {
	want := front && c.opts.MirrorFront
	if c.display.Mirror() != want {
		c.display.SetMirror(want)
	}
}

// CurrentFrame hands the renderer the next processed frame, or nil
func (c *Controller) CurrentFrame() (out *frame.Buffer) {
	defer func() {
		if r := recover(); r != nil {
			c.engineErrs.Add(1)
			logger.WithComponent("preview").Error().Interface("panic", r).Msg("Recovered from panic while producing frame")
			out = nil
		}
	}()

	c.mu.Lock()
	mode := c.mode
	c.mu.Unlock()

	var processed *frame.Buffer
	var err error
	switch mode {
	case ModeStill:
		c.mu.Lock()
		if c.still != nil {
			processed, err = c.engine.ProcessImage(c.still)
		}
		c.mu.Unlock()
	default:
		in := c.slot.Take()
		if in == nil {
			return nil
		}
		defer in.Release()
		processed, err = c.engine.ProcessImage(in)
	}
	if err != nil {
		c.engineErrs.Add(1)
		logger.WithComponent("preview").Warn().Err(err).Msg("Effect engine failed")
		return nil
	}
	if processed == nil {
		return nil
	}
	c.processed.Add(1)

	if c.capture.CompareAndSwap(true, false) {
		c.saveCapture(processed)
	}
	return processed
}

func (c *Controller) saveCapture(processed *frame.Buffer) {
	log := logger.WithComponent("preview")
	if c.saver == nil {
		log.Warn().Msg("Capture requested but no saver is configured")
		return
	}
	cp, err := processed.Clone(c.opts.Pool)
	if err != nil {
		log.Error().Err(err).Msg("Failed to copy frame for capture")
		return
	}
	id, err := c.saver.Save(cp)
	if err != nil {
		log.Error().Err(err).Msg("Failed to queue capture")
		return
	}
	c.captures.Add(1)
	log.Info().Str("id", id).Msg("Capture queued")
}

// ReleaseFrame takes back a frame returned by CurrentFrame
func (c *Controller) ReleaseFrame(buf *frame.Buffer) {
	if err := buf.Release(); err != nil {
		logger.WithComponent("preview").Warn().Err(err).Msg("Release of rendered frame failed")
	}
}

// SwitchFacing blanks the display, drops the queued frame and switches the
// camera. Rendering comes back with the first frame of the new facing.
func (c *Controller) SwitchFacing() error {
	if c.camera == nil {
		return ErrNoCamera
	}
	if c.Mode() == ModeStill {
		// nothing from the camera is on screen; the new facing applies on BackToCamera
		return c.camera.SwitchFacing()
	}
	c.resumeFront.Store(!c.camera.FrontFacing())
	c.resume.Store(true)
	c.display.SetRenderingEnabled(false)
	c.slot.Clear()
	if err := c.camera.SwitchFacing(); err != nil {
		c.resume.Store(false)
		c.display.SetRenderingEnabled(true)
		return fmt.Errorf("failed to switch facing: %w", err)
	}
	// callbacks that passed the facing check before the flags were set have
	// returned by now; drop what they installed
	if c.resume.Load() {
		c.slot.Clear()
	}
	logger.WithComponent("preview").Info().
		Bool("front", c.camera.FrontFacing()).
		Msg("Switched camera facing")
	return nil
}

// SelectStill stops the camera and shows still until BackToCamera.
// The controller takes ownership of still.
func (c *Controller) SelectStill(still *frame.Buffer) error {
	if still == nil {
		return fmt.Errorf("invalid still: nil frame")
	}
	if err := still.Validate(); err != nil {
		still.Release()
		return fmt.Errorf("invalid still: %w", err)
	}
	if c.camera != nil && c.camera.Running() {
		c.camera.Stop()
	}
	c.slot.Clear()

	owned := still.Handoff()
	c.mu.Lock()
	c.dropStillLocked()
	c.still = owned
	c.mode = ModeStill
	c.mu.Unlock()

	c.resume.Store(false)
	c.display.SetMirror(false)
	c.display.SetRenderingEnabled(true)
	c.display.RequestRender()
	logger.WithComponent("preview").Info().
		Int("width", owned.Width()).
		Int("height", owned.Height()).
		Msg("Showing still image")
	return nil
}

// BackToCamera leaves still mode and restarts the camera
func (c *Controller) BackToCamera() error {
	c.mu.Lock()
	wasStill := c.mode == ModeStill
	c.dropStillLocked()
	c.mode = ModeVideo
	ctx := c.ctx
	c.mu.Unlock()

	if c.camera == nil {
		return ErrNoCamera
	}
	if !wasStill && c.camera.Running() {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	c.display.SetRenderingEnabled(false)
	c.resumeFront.Store(c.camera.FrontFacing())
	c.resume.Store(true)
	if err := c.camera.Start(ctx); err != nil {
		c.resume.Store(false)
		c.display.SetRenderingEnabled(true)
		return fmt.Errorf("failed to restart camera: %w", err)
	}
	logger.WithComponent("preview").Info().Msg("Back to camera")
	return nil
}

func (c *Controller) dropStillLocked() {
	if c.still != nil {
		c.still.Release()
		c.still = nil
	}
}

// RequestCapture saves the next processed frame
func (c *Controller) RequestCapture() {
	c.capture.Store(true)
	c.display.RequestRender()
}

// PanelEvents is implemented by engines that accept panel events
type PanelEvents interface {
	HandleEvent(ev effect.Event) error
}

// ApplyPanelEvent forwards a panel event to the engine and redraws
func (c *Controller) ApplyPanelEvent(ev effect.Event) error {
	pe, ok := c.engine.(PanelEvents)
	if !ok {
		return fmt.Errorf("effect engine does not accept panel events")
	}
	if err := pe.HandleEvent(ev); err != nil {
		return err
	}
	logger.WithComponent("preview").Debug().Str("event", ev.String()).Msg("Applied panel event")
	c.display.RequestRender()
	return nil
}

// Status returns a snapshot of controller state
func (c *Controller) Status() Status {
	s := Status{
		Mode:        c.Mode().String(),
		Resuming:    c.resume.Load(),
		CapturePend: c.capture.Load(),
		Received:    c.received.Load(),
		Dropped:     c.dropped.Load() + c.slot.Stats().Overwritten,
		Processed:   c.processed.Load(),
		EngineErrs:  c.engineErrs.Load(),
		Captures:    c.captures.Load(),
	}
	if c.camera != nil {
		s.FrontFacing = c.camera.FrontFacing()
	}
	return s
}
