package render

import (
	"github.com/bryanchriswhite/PlanarView/internal/frame"
	"github.com/bryanchriswhite/PlanarView/internal/logger"
)

// FrameProvider supplies frames to the renderer. Both methods are called
// from the render goroutine only.
type FrameProvider interface {
	// CurrentFrame hands the renderer a frame it now owns, or nil when there
	// is nothing new to draw
	CurrentFrame() *frame.Buffer

	// ReleaseFrame gives back a frame returned by CurrentFrame once the draw
	// has been issued
	ReleaseFrame(buf *frame.Buffer)
}

// ProviderFunc adapts a function to FrameProvider. Frames are released
// directly.
type ProviderFunc func() *frame.Buffer

// CurrentFrame calls f
func (f ProviderFunc) CurrentFrame() *frame.Buffer { return f() }

// ReleaseFrame releases buf
func (f ProviderFunc) ReleaseFrame(buf *frame.Buffer) {
	if err := buf.Release(); err != nil {
		logger.WithComponent("renderer").Warn().Err(err).Msg("Release of rendered frame failed")
	}
}

// pull asks p for a frame. A panicking provider yields nil.
func pull(p FrameProvider) (buf *frame.Buffer) {
	defer func() {
		if r := recover(); r != nil {
			logger.WithComponent("renderer").Error().
				Interface("panic", r).
				Msg("Frame provider panicked, skipping frame")
			buf = nil
		}
	}()
	return p.CurrentFrame()
}

// giveBack returns buf to p, recovering from provider panics
func giveBack(p FrameProvider, buf *frame.Buffer) {
	defer func() {
		if r := recover(); r != nil {
			logger.WithComponent("renderer").Error().
				Interface("panic", r).
				Str("frame", buf.String()).
				Msg("Frame provider panicked while releasing frame")
		}
	}()
	p.ReleaseFrame(buf)
}
