// Package x11grab is a frame source that grabs the X11 screen. The back
// facing shows the whole root window, the front facing the focused window.
package x11grab

import (
	"context"
	"fmt"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/composite"
	"github.com/BurntSushi/xgb/xproto"

	"github.com/bryanchriswhite/PlanarView/internal/frame"
	"github.com/bryanchriswhite/PlanarView/internal/logger"
	"github.com/bryanchriswhite/PlanarView/internal/source"
)

// Config configures a Grabber
type Config struct {
	FPS        int
	StartFront bool
}

// Grabber polls the X server for screen contents
type Grabber struct {
	cfg  Config
	pool *frame.Pool

	front atomic.Bool
	seq   atomic.Uint64

	mu               sync.RWMutex
	cb               source.FrameCallback
	conn             *xgb.Conn
	screen           *xproto.ScreenInfo
	compositeEnabled bool
	running          bool
	cancel           context.CancelFunc
	done             chan struct{}
}

var _ source.Camera = (*Grabber)(nil)

// New creates a grabber; the X connection is opened by Start
func New(cfg Config, pool *frame.Pool) *Grabber {
	if cfg.FPS <= 0 {
		cfg.FPS = 15
	}
	g := &Grabber{cfg: cfg, pool: pool}
	g.front.Store(cfg.StartFront)
	return g
}

// Name returns "x11grab"
func (g *Grabber) Name() string { return "x11grab" }

// SetFrameCallback installs the frame consumer
func (g *Grabber) SetFrameCallback(cb source.FrameCallback) {
	g.mu.Lock()
	g.cb = cb
	g.mu.Unlock()
}

// FrontFacing reports whether the focused window is grabbed
func (g *Grabber) FrontFacing() bool { return g.front.Load() }

// SwitchFacing toggles between the screen and the focused window
func (g *Grabber) SwitchFacing() error {
	front := !g.front.Load()
	g.front.Store(front)
	logger.WithComponent("x11grab").Info().
		Bool("front", front).
		Msg("Switched grab target")
	return nil
}

// Running reports whether frames are being produced
func (g *Grabber) Running() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.running
}

// Start connects to the X server named by $DISPLAY and starts polling
func (g *Grabber) Start(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.running {
		return fmt.Errorf("x11 grabber already running")
	}

	conn, err := xgb.NewConn()
	if err != nil {
		return fmt.Errorf("failed to connect to X server: %w", err)
	}
	setup := xproto.Setup(conn)
	screen := setup.DefaultScreen(conn)
	bpp := byte(0)
	for _, f := range setup.PixmapFormats {
		if f.Depth == screen.RootDepth {
			bpp = f.BitsPerPixel
		}
	}
	if bpp != 32 {
		conn.Close()
		return fmt.Errorf("unsupported root visual: depth %d at %d bits per pixel", screen.RootDepth, bpp)
	}

	log := logger.WithComponent("x11grab")
	if err := composite.Init(conn); err != nil {
		log.Warn().Err(err).Msg("Composite extension not available - obscured windows may grab incorrectly")
		g.compositeEnabled = false
	} else {
		g.compositeEnabled = true
	}

	g.conn = conn
	g.screen = screen
	ctx, cancel := context.WithCancel(ctx)
	g.cancel = cancel
	g.done = make(chan struct{})
	g.running = true
	go g.produce(ctx, g.done)

	log.Info().
		Uint16("width", screen.WidthInPixels).
		Uint16("height", screen.HeightInPixels).
		Int("fps", g.cfg.FPS).
		Msg("X11 grabber started")
	return nil
}

// Stop ends polling and closes the connection
func (g *Grabber) Stop() {
	g.mu.Lock()
	if !g.running {
		g.mu.Unlock()
		return
	}
	g.running = false
	cancel, done := g.cancel, g.done
	g.mu.Unlock()

	cancel()
	<-done

	g.mu.Lock()
	g.conn.Close()
	g.conn = nil
	g.mu.Unlock()
	logger.WithComponent("x11grab").Info().Msg("X11 grabber stopped")
}

func (g *Grabber) produce(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(time.Second / time.Duration(g.cfg.FPS))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.mu.RLock()
			cb := g.cb
			g.mu.RUnlock()
			if cb == nil {
				continue
			}

			front := g.front.Load()
			img, err := g.grab(front)
			if err != nil {
				logger.WithComponent("x11grab").Debug().Err(err).Msg("Grab failed")
				continue
			}
			buf, err := frame.FromImage(img, g.pool,
				frame.WithType(frame.TypeVideo),
				frame.WithSeq(g.seq.Add(1)),
				frame.WithTimestamp(time.Now()),
			)
			if err != nil {
				logger.WithComponent("x11grab").Debug().Err(err).Msg("Convert failed")
				continue
			}
			cb(buf, front)
		}
	}
}

// grab returns the focused window when front is set, falling back to the
// whole screen
func (g *Grabber) grab(front bool) (*image.RGBA, error) {
	if front {
		img, err := g.grabFocused()
		if err == nil {
			return img, nil
		}
		logger.WithComponent("x11grab").Debug().Err(err).Msg("Focused window not grabbable, using screen")
	}
	return g.grabDrawable(xproto.Drawable(g.screen.Root), g.screen.WidthInPixels, g.screen.HeightInPixels)
}

func (g *Grabber) grabFocused() (*image.RGBA, error) {
	focus, err := xproto.GetInputFocus(g.conn).Reply()
	if err != nil {
		return nil, err
	}
	win := focus.Focus
	if win == xproto.WindowNone || win == g.screen.Root {
		return nil, fmt.Errorf("no focused window")
	}

	attrs, err := xproto.GetWindowAttributes(g.conn, win).Reply()
	if err != nil {
		return nil, fmt.Errorf("failed to get window attributes: %w", err)
	}
	if attrs.Class != xproto.WindowClassInputOutput || attrs.MapState != xproto.MapStateViewable {
		if win, err = g.findCapturableChild(win); err != nil {
			return nil, fmt.Errorf("no capturable window found: %w", err)
		}
	}

	geom, err := xproto.GetGeometry(g.conn, xproto.Drawable(win)).Reply()
	if err != nil {
		return nil, fmt.Errorf("failed to get window geometry: %w", err)
	}

	drawable := xproto.Drawable(win)
	if g.compositeEnabled {
		if pixmap, ok := g.namePixmap(win); ok {
			defer xproto.FreePixmap(g.conn, pixmap)
			defer composite.UnredirectWindow(g.conn, win, composite.RedirectAutomatic)
			drawable = xproto.Drawable(pixmap)
		}
	}
	return g.grabDrawable(drawable, geom.Width, geom.Height)
}

// namePixmap redirects win offscreen and names its backing pixmap
func (g *Grabber) namePixmap(win xproto.Window) (xproto.Pixmap, bool) {
	if err := composite.RedirectWindowChecked(g.conn, win, composite.RedirectAutomatic).Check(); err != nil {
		return 0, false
	}
	pixmap, err := xproto.NewPixmapId(g.conn)
	if err == nil {
		err = composite.NameWindowPixmapChecked(g.conn, win, pixmap).Check()
	}
	if err != nil {
		composite.UnredirectWindow(g.conn, win, composite.RedirectAutomatic)
		return 0, false
	}
	return pixmap, true
}

// findCapturableChild searches depth first for a mapped InputOutput child
func (g *Grabber) findCapturableChild(parent xproto.Window) (xproto.Window, error) {
	tree, err := xproto.QueryTree(g.conn, parent).Reply()
	if err != nil {
		return 0, fmt.Errorf("failed to query tree: %w", err)
	}
	for _, child := range tree.Children {
		attrs, err := xproto.GetWindowAttributes(g.conn, child).Reply()
		if err != nil {
			continue
		}
		geom, err := xproto.GetGeometry(g.conn, xproto.Drawable(child)).Reply()
		if err != nil {
			continue
		}
		if attrs.Class == xproto.WindowClassInputOutput && attrs.MapState == xproto.MapStateViewable &&
			geom.Width > 10 && geom.Height > 10 {
			return child, nil
		}
		if grandchild, err := g.findCapturableChild(child); err == nil {
			return grandchild, nil
		}
	}
	return 0, fmt.Errorf("no capturable child of window %d", parent)
}

func (g *Grabber) grabDrawable(d xproto.Drawable, width, height uint16) (*image.RGBA, error) {
	reply, err := xproto.GetImage(
		g.conn,
		xproto.ImageFormatZPixmap,
		d,
		0, 0,
		width, height,
		0xffffffff,
	).Reply()
	if err != nil {
		return nil, fmt.Errorf("failed to get image: %w", err)
	}
	return DecodeBGRx(reply.Data, int(width), int(height))
}
