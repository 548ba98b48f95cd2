package frame

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"
)

// Type tags where a frame came from
type Type int

const (
	TypeVideo Type = iota // Live camera frame
	TypeImage             // Processed still image
)

// String returns the lowercase name of the frame type
func (t Type) String() string {
	switch t {
	case TypeVideo:
		return "video"
	case TypeImage:
		return "image"
	default:
		return "unknown"
	}
}

// Kind is the storage variant carried by a buffer. The renderer dispatches
// on it once per frame.
type Kind int

const (
	KindPlanar  Kind = iota // Three CPU planes (Y, U, V)
	KindTexture             // Externally produced RGBA GPU texture
)

// String returns the lowercase name of the storage kind
func (k Kind) String() string {
	switch k {
	case KindPlanar:
		return "planar"
	case KindTexture:
		return "texture"
	default:
		return "unknown"
	}
}

// PlaneIndex selects one of the three planes of a 4:2:0 buffer
type PlaneIndex int

const (
	PlaneY PlaneIndex = iota
	PlaneU
	PlaneV
)

// String returns the plane letter
func (p PlaneIndex) String() string {
	switch p {
	case PlaneY:
		return "Y"
	case PlaneU:
		return "U"
	case PlaneV:
		return "V"
	default:
		return "?"
	}
}

// Plane is one row-padded image plane
type Plane struct {
	Data   []byte
	Stride int // Bytes between the starts of consecutive rows
}

// Empty reports whether the plane carries no data
func (p Plane) Empty() bool {
	return len(p.Data) == 0
}

// Fits reports whether the plane holds rows x width bytes at its stride
func (p Plane) Fits(width, rows int) bool {
	if width <= 0 || rows <= 0 || p.Stride < width {
		return false
	}
	return len(p.Data) >= (rows-1)*p.Stride+width
}

var (
	// ErrReleased is returned when a handle is used after Release
	ErrReleased = errors.New("frame: buffer already released")

	// ErrMoved is returned when a handle is used after Handoff
	ErrMoved = errors.New("frame: buffer handle was handed off")
)

const (
	handleLive int32 = iota
	handleMoved
	handleReleased
)

// core is the shared frame payload. Exactly one live handle points at it.
type core struct {
	width     int
	height    int
	typ       Type
	kind      Kind
	texture   uint32
	planes    [3]Plane
	timestamp time.Time
	seq       uint64

	released  atomic.Bool
	onRelease func()
}

func (c *core) release() {
	if !c.released.CompareAndSwap(false, true) {
		return
	}
	if c.onRelease != nil {
		c.onRelease()
	}
}

// Buffer is a move-only handle to a planar (or texture) frame.
//
// Whoever holds a live handle owns the frame and must either Release it or
// pass it on with Handoff, which invalidates the old handle. Accessing
// planes through a moved or released handle returns ErrMoved/ErrReleased.
type Buffer struct {
	c     *core
	state atomic.Int32
}

// Option configures a new buffer
type Option func(*core)

// WithType sets the frame type tag
func WithType(t Type) Option {
	return func(c *core) { c.typ = t }
}

// WithReleaseFunc registers a hook invoked exactly once when the frame is released
func WithReleaseFunc(fn func()) Option {
	return func(c *core) {
		prev := c.onRelease
		if prev == nil {
			c.onRelease = fn
			return
		}
		c.onRelease = func() {
			fn()
			prev()
		}
	}
}

// WithTimestamp sets the capture time
func WithTimestamp(ts time.Time) Option {
	return func(c *core) { c.timestamp = ts }
}

// WithSeq sets the producer sequence number
func WithSeq(seq uint64) Option {
	return func(c *core) { c.seq = seq }
}

// NewPlanar wraps three planes into a new owned buffer. The planes are not
// copied; the buffer takes ownership of them.
func NewPlanar(width, height int, y, u, v Plane, opts ...Option) *Buffer {
	c := &core{
		width:     width,
		height:    height,
		kind:      KindPlanar,
		planes:    [3]Plane{y, u, v},
		timestamp: time.Now(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return &Buffer{c: c}
}

// NewTexture wraps an externally produced RGBA texture id
func NewTexture(texture uint32, width, height int, opts ...Option) *Buffer {
	c := &core{
		width:     width,
		height:    height,
		kind:      KindTexture,
		texture:   texture,
		timestamp: time.Now(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return &Buffer{c: c}
}

// ChromaSize returns the allocated U/V plane dimensions for a 4:2:0 frame
func ChromaSize(width, height int) (int, int) {
	return (width + 1) / 2, (height + 1) / 2
}

// Width returns the frame width in pixels
func (b *Buffer) Width() int { return b.c.width }

// Height returns the frame height in pixels
func (b *Buffer) Height() int { return b.c.height }

// Type returns the frame type tag
func (b *Buffer) Type() Type { return b.c.typ }

// SetType retags the frame. Only the current owner may call it.
func (b *Buffer) SetType(t Type) { b.c.typ = t }

// Kind returns the storage variant
func (b *Buffer) Kind() Kind { return b.c.kind }

// Texture returns the texture id of a KindTexture buffer
func (b *Buffer) Texture() uint32 { return b.c.texture }

// Timestamp returns the capture time
func (b *Buffer) Timestamp() time.Time { return b.c.timestamp }

// Seq returns the producer sequence number
func (b *Buffer) Seq() uint64 { return b.c.seq }

// Live reports whether this handle still owns the frame
func (b *Buffer) Live() bool {
	return b != nil && b.state.Load() == handleLive
}

func (b *Buffer) stateErr() error {
	switch b.state.Load() {
	case handleMoved:
		return ErrMoved
	case handleReleased:
		return ErrReleased
	}
	return nil
}

// Plane returns one plane of a live planar buffer
func (b *Buffer) Plane(i PlaneIndex) (Plane, error) {
	if err := b.stateErr(); err != nil {
		return Plane{}, err
	}
	if i < PlaneY || i > PlaneV {
		return Plane{}, fmt.Errorf("invalid plane index %d", i)
	}
	return b.c.planes[i], nil
}

// Validate checks that the frame has positive dimensions and, for planar
// buffers, that every plane holds its logical rows at its stride.
func (b *Buffer) Validate() error {
	if err := b.stateErr(); err != nil {
		return err
	}
	if b.c.width <= 0 || b.c.height <= 0 {
		return fmt.Errorf("invalid frame size %dx%d", b.c.width, b.c.height)
	}
	if b.c.kind == KindTexture {
		if b.c.texture == 0 {
			return fmt.Errorf("texture frame has no texture id")
		}
		return nil
	}
	cw, ch := ChromaSize(b.c.width, b.c.height)
	dims := [3][2]int{{b.c.width, b.c.height}, {cw, ch}, {cw, ch}}
	for i, p := range b.c.planes {
		if !p.Fits(dims[i][0], dims[i][1]) {
			return fmt.Errorf("plane %s too small: len=%d stride=%d need %dx%d",
				PlaneIndex(i), len(p.Data), p.Stride, dims[i][0], dims[i][1])
		}
	}
	return nil
}

// Handoff transfers ownership to a new handle and invalidates b.
// It returns nil if b is not live.
func (b *Buffer) Handoff() *Buffer {
	if b == nil || !b.state.CompareAndSwap(handleLive, handleMoved) {
		return nil
	}
	return &Buffer{c: b.c}
}

// SameFrame reports whether both handles refer to the same underlying frame
func (b *Buffer) SameFrame(other *Buffer) bool {
	if b == nil || other == nil {
		return false
	}
	return b.c == other.c
}

// Release gives the frame back. It must be called exactly once by the
// current owner; later calls and calls on moved handles return an error and
// never release the frame twice. Releasing nil is a no-op.
func (b *Buffer) Release() error {
	if b == nil {
		return nil
	}
	if !b.state.CompareAndSwap(handleLive, handleReleased) {
		return b.stateErr()
	}
	b.c.release()
	return nil
}

// String formats the buffer for logs
func (b *Buffer) String() string {
	if b == nil {
		return "frame(nil)"
	}
	return fmt.Sprintf("frame(%s %s %dx%d seq=%d)", b.c.kind, b.c.typ, b.c.width, b.c.height, b.c.seq)
}
