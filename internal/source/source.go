// Package source produces planar frames: live cameras and decoded stills
package source

import (
	"context"

	"github.com/bryanchriswhite/PlanarView/internal/frame"
)

// FrameCallback receives every captured frame. The callee owns buf and
// must release it or hand it off. front reports the facing of the camera
// that produced it.
type FrameCallback func(buf *frame.Buffer, front bool)

// Camera is a live frame producer with a front and a back facing
type Camera interface {
	// Start begins capturing; frames are delivered to the callback from a
	// producer goroutine
	Start(ctx context.Context) error
	// Stop ends capturing and waits for the producer goroutine
	Stop()
	// SwitchFacing flips between the front and back camera
	SwitchFacing() error
	FrontFacing() bool
	SetFrameCallback(cb FrameCallback)
	Running() bool
	Name() string
}
