// Package display shows presented frames in an X11 window.
package display

import (
	"fmt"
	"image"
	"sync"

	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/xproto"
	"golang.org/x/image/draw"

	"github.com/bryanchriswhite/PlanarView/internal/logger"
	"github.com/bryanchriswhite/PlanarView/internal/output"
)

// ResizeFunc is called with the new client size after the window is resized
type ResizeFunc func(width, height int)

// Presenter is an X11 window sink. Frames whose size differs from the
// window are scaled to fit.
type Presenter struct {
	title string

	conn   *xgb.Conn
	screen *xproto.ScreenInfo
	window xproto.Window
	gc     xproto.Gcontext
	format PixelFormat
	maxReq int

	mu       sync.RWMutex
	width    int
	height   int
	running  bool
	onResize ResizeFunc
	done     chan struct{}
}

var _ output.Output = (*Presenter)(nil)

// NewPresenter connects to the X server named by $DISPLAY
func NewPresenter(title string, width, height int) (*Presenter, error) {
	conn, err := xgb.NewConn()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to X server: %w", err)
	}

	setup := xproto.Setup(conn)
	screen := setup.DefaultScreen(conn)

	p := &Presenter{
		title:  title,
		conn:   conn,
		screen: screen,
		width:  width,
		height: height,
		maxReq: int(setup.MaximumRequestLength) * 4,
	}
	for _, f := range setup.PixmapFormats {
		if f.Depth == screen.RootDepth {
			p.format = PixelFormat{Depth: f.Depth, BitsPerPixel: f.BitsPerPixel, ScanlinePad: f.ScanlinePad}
			break
		}
	}
	if p.format.BitsPerPixel == 0 {
		conn.Close()
		return nil, fmt.Errorf("no pixmap format for depth %d", screen.RootDepth)
	}
	return p, nil
}

// OnResize registers the callback for window size changes
func (p *Presenter) OnResize(fn ResizeFunc) {
	p.mu.Lock()
	p.onResize = fn
	p.mu.Unlock()
}

// Start creates and maps the window
func (p *Presenter) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return fmt.Errorf("display already running")
	}

	windowID, err := xproto.NewWindowId(p.conn)
	if err != nil {
		return fmt.Errorf("failed to create window ID: %w", err)
	}
	p.window = windowID

	mask := uint32(xproto.CwBackPixel | xproto.CwEventMask)
	values := []uint32{
		0x000000,
		xproto.EventMaskExposure | xproto.EventMaskStructureNotify,
	}
	err = xproto.CreateWindowChecked(
		p.conn,
		p.screen.RootDepth,
		p.window,
		p.screen.Root,
		0, 0,
		uint16(p.width), uint16(p.height),
		0,
		xproto.WindowClassInputOutput,
		p.screen.RootVisual,
		mask,
		values,
	).Check()
	if err != nil {
		return fmt.Errorf("failed to create window: %w", err)
	}

	if err := p.setWindowTitle(p.title); err != nil {
		logger.WithComponent("display").Warn().Err(err).Msg("Failed to set window title")
	}
	if err := p.setWindowClass("planarview", "PlanarView"); err != nil {
		logger.WithComponent("display").Warn().Err(err).Msg("Failed to set window class")
	}

	if err := xproto.MapWindowChecked(p.conn, p.window).Check(); err != nil {
		return fmt.Errorf("failed to map window: %w", err)
	}

	gc, err := xproto.NewGcontextId(p.conn)
	if err != nil {
		return fmt.Errorf("failed to create graphics context: %w", err)
	}
	p.gc = gc
	err = xproto.CreateGCChecked(
		p.conn,
		p.gc,
		xproto.Drawable(p.window),
		xproto.GcForeground|xproto.GcBackground,
		[]uint32{0xffffffff, 0x00000000},
	).Check()
	if err != nil {
		return fmt.Errorf("failed to create GC: %w", err)
	}
	p.conn.Sync()

	p.running = true
	p.done = make(chan struct{})
	go p.eventLoop(p.done)

	logger.WithComponent("display").Info().
		Int("width", p.width).
		Int("height", p.height).
		Uint32("window_id", uint32(p.window)).
		Msg("Preview window created")
	return nil
}

// eventLoop tracks window size changes until the connection closes
func (p *Presenter) eventLoop(done chan struct{}) {
	defer close(done)
	for {
		ev, err := p.conn.WaitForEvent()
		if ev == nil && err == nil {
			return
		}
		if err != nil {
			logger.WithComponent("display").Debug().Str("error", err.Error()).Msg("X11 error event")
			continue
		}
		cn, ok := ev.(xproto.ConfigureNotifyEvent)
		if !ok {
			continue
		}
		w, h := int(cn.Width), int(cn.Height)

		p.mu.Lock()
		changed := w != p.width || h != p.height
		p.width, p.height = w, h
		cb := p.onResize
		p.mu.Unlock()

		if changed && cb != nil {
			logger.WithComponent("display").Debug().Int("width", w).Int("height", h).Msg("Window resized")
			cb(w, h)
		}
	}
}

// Stop destroys the window and closes the connection
func (p *Presenter) Stop() error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	done := p.done

	if p.gc != 0 {
		xproto.FreeGC(p.conn, p.gc)
	}
	if p.window != 0 {
		xproto.DestroyWindow(p.conn, p.window)
		p.conn.Sync()
	}
	p.conn.Close()
	p.mu.Unlock()

	<-done
	logger.WithComponent("display").Info().Msg("Preview window closed")
	return nil
}

// Name returns the output type name
func (p *Presenter) Name() string { return "X11 Window" }

// IsRunning reports whether the window is shown
func (p *Presenter) IsRunning() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.running
}

// WriteFrame draws frame into the window
func (p *Presenter) WriteFrame(frame *image.RGBA) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.running {
		return fmt.Errorf("display not running")
	}

	img := frame
	if b := frame.Bounds(); b.Dx() != p.width || b.Dy() != p.height {
		img = image.NewRGBA(image.Rect(0, 0, p.width, p.height))
		draw.ApproxBiLinear.Scale(img, img.Bounds(), frame, b, draw.Src, nil)
	}

	rows := p.format.RowsPerRequest(p.width, p.maxReq)
	for y := 0; y < p.height; y += rows {
		y1 := min(y+rows, p.height)
		data, err := p.format.Pack(img, y, y1)
		if err != nil {
			return err
		}
		err = xproto.PutImageChecked(
			p.conn,
			xproto.ImageFormatZPixmap,
			xproto.Drawable(p.window),
			p.gc,
			uint16(p.width),
			uint16(y1-y),
			0, int16(y),
			0,
			p.format.Depth,
			data,
		).Check()
		if err != nil {
			return fmt.Errorf("failed to put image: %w", err)
		}
	}
	return nil
}

func (p *Presenter) setWindowTitle(title string) error {
	titleAtom, err := p.getAtom("_NET_WM_NAME")
	if err != nil {
		return err
	}
	utf8Atom, err := p.getAtom("UTF8_STRING")
	if err != nil {
		return err
	}
	return xproto.ChangePropertyChecked(
		p.conn,
		xproto.PropModeReplace,
		p.window,
		titleAtom,
		utf8Atom,
		8,
		uint32(len(title)),
		[]byte(title),
	).Check()
}

func (p *Presenter) setWindowClass(instance, class string) error {
	classAtom, err := p.getAtom("WM_CLASS")
	if err != nil {
		return err
	}
	classStr := instance + "\x00" + class + "\x00"
	return xproto.ChangePropertyChecked(
		p.conn,
		xproto.PropModeReplace,
		p.window,
		classAtom,
		xproto.AtomString,
		8,
		uint32(len(classStr)),
		[]byte(classStr),
	).Check()
}

func (p *Presenter) getAtom(name string) (xproto.Atom, error) {
	reply, err := xproto.InternAtom(p.conn, false, uint16(len(name)), name).Reply()
	if err != nil {
		return 0, err
	}
	return reply.Atom, nil
}
