// Package gstcam captures I420 frames from V4L2 cameras through GStreamer.
package gstcam

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/bryanchriswhite/PlanarView/internal/frame"
	"github.com/bryanchriswhite/PlanarView/internal/logger"
	"github.com/bryanchriswhite/PlanarView/internal/source"
)

// Config selects the capture devices and the negotiated format
type Config struct {
	BackDevice  string
	FrontDevice string
	Width       int
	Height      int
	FPS         int
	StartFront  bool
}

// Camera is a two-device camera. Only one pipeline runs at a time;
// switching facing tears it down and builds one on the other device.
type Camera struct {
	cfg   Config
	front atomic.Bool
	seq   atomic.Uint64

	mu       sync.RWMutex
	cb       source.FrameCallback
	pipeline *gst.Pipeline
	appsink  *app.Sink
	running  bool
	ctx      context.Context
	stopChan chan struct{}
	done     chan struct{}

	bufMu   sync.Mutex
	buffers map[int][][]byte
}

var _ source.Camera = (*Camera)(nil)

var initOnce sync.Once

// New creates a camera; nothing is opened until Start
func New(cfg Config) *Camera {
	if cfg.FPS <= 0 {
		cfg.FPS = 30
	}
	c := &Camera{cfg: cfg, buffers: make(map[int][][]byte)}
	c.front.Store(cfg.StartFront)
	return c
}

// Pipeline returns the gst-launch description for device
func (c *Camera) Pipeline(device string) string {
	return fmt.Sprintf(
		"v4l2src device=%s do-timestamp=true ! "+
			"videoconvert ! videoscale ! "+
			"video/x-raw,format=I420,width=%d,height=%d,framerate=%d/1 ! "+
			"appsink name=sink emit-signals=false max-buffers=2 drop=true",
		device, c.cfg.Width, c.cfg.Height, c.cfg.FPS,
	)
}

// Name returns "gstreamer"
func (c *Camera) Name() string { return "gstreamer" }

// SetFrameCallback installs the frame consumer
func (c *Camera) SetFrameCallback(cb source.FrameCallback) {
	c.mu.Lock()
	c.cb = cb
	c.mu.Unlock()
}

// FrontFacing reports the active device
func (c *Camera) FrontFacing() bool { return c.front.Load() }

// Running reports whether a pipeline is playing
func (c *Camera) Running() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.running
}

func (c *Camera) device(front bool) string {
	if front {
		return c.cfg.FrontDevice
	}
	return c.cfg.BackDevice
}

// Start opens the current facing's device
func (c *Camera) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return fmt.Errorf("camera already running")
	}
	c.ctx = ctx
	return c.startLocked()
}

func (c *Camera) startLocked() error {
	log := logger.WithComponent("gstcam")
	front := c.front.Load()
	device := c.device(front)
	if device == "" {
		return fmt.Errorf("no device configured for front=%v", front)
	}

	initOnce.Do(func() { gst.Init(nil) })

	desc := c.Pipeline(device)
	log.Debug().Str("pipeline", desc).Msg("Creating GStreamer pipeline")

	pipeline, err := gst.NewPipelineFromString(desc)
	if err != nil {
		return fmt.Errorf("failed to create pipeline: %w", err)
	}
	sinkElement, err := pipeline.GetElementByName("sink")
	if err != nil {
		pipeline.Unref()
		return fmt.Errorf("failed to get appsink: %w", err)
	}
	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		pipeline.SetState(gst.StateNull)
		pipeline.Unref()
		return fmt.Errorf("failed to start pipeline: %w", err)
	}

	c.pipeline = pipeline
	c.appsink = app.SinkFromElement(sinkElement)
	c.running = true
	c.stopChan = make(chan struct{})
	c.done = make(chan struct{})

	go c.pollSamples(c.ctx, c.appsink, front, c.stopChan, c.done)

	log.Info().
		Str("device", device).
		Bool("front", front).
		Msg("Camera started")
	return nil
}

func (c *Camera) stopLocked() {
	if !c.running {
		return
	}
	c.running = false
	close(c.stopChan)
	done := c.done

	// the poller only takes the read lock for the callback, never for exit
	c.mu.Unlock()
	<-done
	c.mu.Lock()

	if c.pipeline != nil {
		c.pipeline.SetState(gst.StateNull)
		c.pipeline.Unref()
		c.pipeline = nil
	}
	c.appsink = nil
}

// Stop halts capture
func (c *Camera) Stop() {
	c.mu.Lock()
	c.stopLocked()
	c.mu.Unlock()
	logger.WithComponent("gstcam").Info().Msg("Camera stopped")
}

// SwitchFacing swaps to the other device. When running, the pipeline is
// rebuilt; on failure the previous facing is restored.
func (c *Camera) SwitchFacing() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	prev := c.front.Load()
	wasRunning := c.running
	c.stopLocked()
	c.front.Store(!prev)
	if !wasRunning {
		return nil
	}
	if err := c.startLocked(); err != nil {
		c.front.Store(prev)
		if rerr := c.startLocked(); rerr != nil {
			logger.WithComponent("gstcam").Error().Err(rerr).Msg("Failed to restore previous camera")
		}
		return fmt.Errorf("failed to switch camera: %w", err)
	}
	return nil
}

func (c *Camera) pollSamples(ctx context.Context, sink *app.Sink, front bool, stop, done chan struct{}) {
	defer close(done)
	if ctx == nil {
		ctx = context.Background()
	}
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			// go-gst releases samples itself; never Unref them here
			sample := sink.TryPullSample(time.Millisecond)
			if sample == nil {
				continue
			}
			buf := c.processSample(sample)
			if buf == nil {
				continue
			}

			c.mu.RLock()
			cb := c.cb
			c.mu.RUnlock()
			if cb == nil {
				buf.Release()
				continue
			}
			cb(buf, front)
		}
	}
}

func (c *Camera) processSample(sample *gst.Sample) *frame.Buffer {
	buffer := sample.GetBuffer()
	if buffer == nil {
		return nil
	}
	caps := sample.GetCaps()
	if caps == nil {
		return nil
	}
	structure := caps.GetStructureAt(0)
	if structure == nil {
		return nil
	}
	width, _ := structure.GetValue("width")
	height, _ := structure.GetValue("height")
	w, ok := width.(int)
	if !ok {
		return nil
	}
	h, ok := height.(int)
	if !ok {
		return nil
	}

	mapInfo := buffer.Map(gst.MapRead)
	if mapInfo == nil {
		return nil
	}
	defer buffer.Unmap()

	layout := source.NewI420Layout(w, h)
	data := mapInfo.Bytes()
	if len(data) < layout.Size {
		logger.WithComponent("gstcam").Warn().
			Int("got", len(data)).
			Int("want", layout.Size).
			Msg("Dropping short I420 sample")
		return nil
	}

	owned := c.takeBytes(layout.Size)
	copy(owned, data[:layout.Size])

	buf, err := layout.Wrap(owned,
		frame.WithType(frame.TypeVideo),
		frame.WithSeq(c.seq.Add(1)),
		frame.WithReleaseFunc(func() { c.putBytes(owned) }),
	)
	if err != nil {
		c.putBytes(owned)
		return nil
	}
	return buf
}

func (c *Camera) takeBytes(size int) []byte {
	c.bufMu.Lock()
	defer c.bufMu.Unlock()
	free := c.buffers[size]
	if n := len(free); n > 0 {
		b := free[n-1]
		c.buffers[size] = free[:n-1]
		return b
	}
	return make([]byte, size)
}

func (c *Camera) putBytes(b []byte) {
	c.bufMu.Lock()
	defer c.bufMu.Unlock()
	if len(c.buffers[len(b)]) < 4 {
		c.buffers[len(b)] = append(c.buffers[len(b)], b)
	}
}
