package output

import (
	"github.com/bryanchriswhite/PlanarView/internal/render"
)

// Output is a presentation sink with a lifecycle. The render loop hands
// every presented framebuffer to WriteFrame; implementations must not keep
// the image after returning.
type Output interface {
	render.Sink

	// Start initializes the output mechanism
	Start() error

	// Stop cleanly shuts down the output
	Stop() error

	// Name returns a human-readable name for this output type
	Name() string

	// IsRunning returns true if the output is currently active
	IsRunning() bool
}

// Config holds common configuration for all output types
type Config struct {
	Width   int
	Height  int
	FPS     int
	Quality int
}
