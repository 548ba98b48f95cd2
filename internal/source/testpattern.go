package source

import (
	"context"
	"fmt"
	"image/color"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bryanchriswhite/PlanarView/internal/frame"
	"github.com/bryanchriswhite/PlanarView/internal/logger"
)

// SMPTE bars, left to right
var barColors = [7][3]uint8{
	{192, 192, 192}, // Gray
	{192, 192, 0},   // Yellow
	{0, 192, 192},   // Cyan
	{0, 192, 0},     // Green
	{192, 0, 192},   // Magenta
	{192, 0, 0},     // Red
	{0, 0, 192},     // Blue
}

// TestPattern is a synthetic camera. The back camera shows color bars, the
// front camera a luma ramp; both carry a moving white marker so motion is
// visible. Frames come from a pool with row padding.
type TestPattern struct {
	width, height int
	fps           int
	pool          *frame.Pool

	front   atomic.Bool
	counter atomic.Uint64

	mu      sync.RWMutex
	cb      FrameCallback
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewTestPattern creates a synthetic camera
func NewTestPattern(width, height, fps int, pool *frame.Pool) *TestPattern {
	if fps <= 0 {
		fps = 30
	}
	return &TestPattern{
		width:  width,
		height: height,
		fps:    fps,
		pool:   pool,
	}
}

// Name returns "testpattern"
func (tp *TestPattern) Name() string { return "testpattern" }

// SetFrameCallback installs the frame consumer
func (tp *TestPattern) SetFrameCallback(cb FrameCallback) {
	tp.mu.Lock()
	tp.cb = cb
	tp.mu.Unlock()
}

// SetFront selects the initial facing
func (tp *TestPattern) SetFront(front bool) {
	tp.front.Store(front)
}

// FrontFacing reports the current facing
func (tp *TestPattern) FrontFacing() bool {
	return tp.front.Load()
}

// SwitchFacing flips the facing; the next frame uses the new pattern
func (tp *TestPattern) SwitchFacing() error {
	front := !tp.front.Load()
	tp.front.Store(front)
	logger.WithComponent("testpattern").Info().
		Bool("front", front).
		Msg("Switched camera facing")
	return nil
}

// Running reports whether frames are being produced
func (tp *TestPattern) Running() bool {
	tp.mu.RLock()
	defer tp.mu.RUnlock()
	return tp.running
}

// Start launches the producer goroutine
func (tp *TestPattern) Start(ctx context.Context) error {
	if tp.width <= 0 || tp.height <= 0 {
		return fmt.Errorf("invalid test pattern size %dx%d", tp.width, tp.height)
	}

	tp.mu.Lock()
	defer tp.mu.Unlock()
	if tp.running {
		return fmt.Errorf("test pattern already running")
	}
	ctx, cancel := context.WithCancel(ctx)
	tp.cancel = cancel
	tp.done = make(chan struct{})
	tp.running = true

	go tp.produce(ctx, tp.done)

	logger.WithComponent("testpattern").Info().
		Int("width", tp.width).
		Int("height", tp.height).
		Int("fps", tp.fps).
		Msg("Test pattern started")
	return nil
}

// Stop ends production
func (tp *TestPattern) Stop() {
	tp.mu.Lock()
	if !tp.running {
		tp.mu.Unlock()
		return
	}
	tp.running = false
	cancel, done := tp.cancel, tp.done
	tp.mu.Unlock()

	cancel()
	<-done
	logger.WithComponent("testpattern").Info().Msg("Test pattern stopped")
}

func (tp *TestPattern) produce(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(time.Second / time.Duration(tp.fps))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tp.mu.RLock()
			cb := tp.cb
			tp.mu.RUnlock()

			front := tp.front.Load()
			buf := tp.Generate(tp.counter.Add(1), front)
			if cb == nil {
				buf.Release()
				continue
			}
			cb(buf, front)
		}
	}
}

// Generate renders frame number n of the pattern for the given facing
func (tp *TestPattern) Generate(n uint64, front bool) *frame.Buffer {
	w, h := tp.width, tp.height
	buf := tp.pool.Get(w, h, frame.WithType(frame.TypeVideo), frame.WithSeq(n))
	yp, _ := buf.Plane(frame.PlaneY)
	up, _ := buf.Plane(frame.PlaneU)
	vp, _ := buf.Plane(frame.PlaneV)

	barWidth := max(w/7, 1)
	marker := int(n*4) % w

	ycc := func(x, y int) (uint8, uint8, uint8) {
		if x >= marker && x < marker+max(w/64, 2) {
			return 235, 128, 128
		}
		if front {
			return uint8(16 + (219*y)/max(h-1, 1)), 128, uint8(96 + (64*x)/max(w-1, 1))
		}
		idx := min(x/barWidth, 6)
		c := barColors[idx]
		return color.RGBToYCbCr(c[0], c[1], c[2])
	}

	for y := 0; y < h; y++ {
		row := yp.Data[y*yp.Stride : y*yp.Stride+w]
		for x := range row {
			row[x], _, _ = ycc(x, y)
		}
	}
	cw, ch := frame.ChromaSize(w, h)
	for y := 0; y < ch; y++ {
		for x := 0; x < cw; x++ {
			_, cb, cr := ycc(x*2, y*2)
			up.Data[y*up.Stride+x] = cb
			vp.Data[y*vp.Stride+x] = cr
		}
	}
	return buf
}
