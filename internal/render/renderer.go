// Package render draws planar and texture frames onto a gpu.Device.
//
// A Renderer is driven by exactly one goroutine (see Loop), which owns the
// device and every GPU object. Host goroutines only flip atomic flags, swap
// the frame provider and request redraws.
package render

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/bryanchriswhite/PlanarView/internal/frame"
	"github.com/bryanchriswhite/PlanarView/internal/geometry"
	"github.com/bryanchriswhite/PlanarView/internal/gpu"
	"github.com/bryanchriswhite/PlanarView/internal/logger"
)

// State is the surface lifecycle state of a renderer
type State int32

const (
	StateCreated State = iota // No surface yet
	StateReady                // Programs and textures exist
	StateFailed               // Shader setup failed; draws are no-ops
	StateClosed               // Cleanup ran
)

// String returns the lowercase state name
func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Stats is a snapshot of renderer activity
type Stats struct {
	State          string `json:"state"`
	Enabled        bool   `json:"enabled"`
	Mirror         bool   `json:"mirror"`
	ViewportWidth  int    `json:"viewport_width"`
	ViewportHeight int    `json:"viewport_height"`
	FrameWidth     int    `json:"frame_width"`
	FrameHeight    int    `json:"frame_height"`
	Drawn          uint64 `json:"drawn"`
	Blank          uint64 `json:"blank"`
	DataErrors     uint64 `json:"data_errors"`
	DisabledTicks  uint64 `json:"disabled_ticks"`
	Generation     uint64 `json:"generation"`
}

type programInfo struct {
	id       gpu.Program
	position gpu.Attrib
	texCoord gpu.Attrib
	samplers []gpu.Uniform
}

// Renderer turns pulled frames into one aspect-fitted, optionally mirrored
// quad per tick
type Renderer struct {
	enabled atomic.Bool
	mirror  atomic.Bool
	state   atomic.Int32

	mu       sync.Mutex
	provider FrameProvider
	request  func()

	// render goroutine only
	dev      gpu.Device
	planar   programInfo
	texture  programInfo
	uploader *Uploader
	vpW, vpH int

	viewW, viewH   atomic.Int32
	frameW, frameH atomic.Int32
	drawn          atomic.Uint64
	blank          atomic.Uint64
	dataErrors     atomic.Uint64
	disabledTicks  atomic.Uint64
	generation     atomic.Uint64
}

// NewRenderer creates an enabled renderer without a surface
func NewRenderer() *Renderer {
	r := &Renderer{}
	r.enabled.Store(true)
	return r
}

// State returns the current surface state
func (r *Renderer) State() State {
	return State(r.state.Load())
}

// OnSurfaceCreated builds programs and fresh textures on dev. Objects from
// an earlier surface on the same device are deleted; those of a lost device
// are forgotten. Nothing is reused. On shader failure the renderer enters
// StateFailed and draws nothing until the next call.
func (r *Renderer) OnSurfaceCreated(dev gpu.Device) error {
	if r.dev == dev {
		r.deleteObjects()
	}
	r.dev = dev
	r.uploader = nil
	r.state.Store(int32(StateCreated))
	dev.ClearColor(0, 0, 0, 1)

	planar, err := buildProgram(dev, gpu.PlanarFragmentShader, gpu.SamplerY, gpu.SamplerU, gpu.SamplerV)
	if err != nil {
		return r.surfaceFailed(fmt.Errorf("failed to create planar program: %w", err))
	}
	texture, err := buildProgram(dev, gpu.TextureFragmentShader, gpu.SamplerRGBA)
	if err != nil {
		dev.DeleteProgram(planar.id)
		return r.surfaceFailed(fmt.Errorf("failed to create texture program: %w", err))
	}
	ids := dev.GenTextures(3)
	if len(ids) != 3 {
		dev.DeleteProgram(planar.id)
		dev.DeleteProgram(texture.id)
		if len(ids) > 0 {
			dev.DeleteTextures(ids...)
		}
		return r.surfaceFailed(fmt.Errorf("failed to generate textures: got %d", len(ids)))
	}
	r.planar, r.texture = planar, texture
	var textures [3]gpu.Texture
	for i, id := range ids {
		dev.BindTexture(id)
		dev.TexParameters(gpu.Linear, gpu.Linear)
		textures[i] = id
	}
	dev.BindTexture(0)
	r.uploader = NewUploader(dev, textures)

	gen := r.generation.Add(1)
	r.state.Store(int32(StateReady))
	logger.WithComponent("renderer").Info().
		Uint64("generation", gen).
		Interface("textures", textures).
		Msg("Surface created")
	return nil
}

func (r *Renderer) surfaceFailed(err error) error {
	r.state.Store(int32(StateFailed))
	logger.WithComponent("renderer").Error().
		Err(err).
		Msg("Surface setup failed, rendering disabled until the surface is recreated")
	return err
}

func buildProgram(dev gpu.Device, fragment string, samplers ...string) (programInfo, error) {
	id, err := dev.CreateProgram(gpu.VertexShader, fragment)
	if err != nil {
		return programInfo{}, err
	}
	info := programInfo{
		id:       id,
		position: dev.AttribLocation(id, gpu.AttribPosition),
		texCoord: dev.AttribLocation(id, gpu.AttribTexCoord),
	}
	if info.position < 0 || info.texCoord < 0 {
		dev.DeleteProgram(id)
		return programInfo{}, fmt.Errorf("program %d lacks vertex attributes", id)
	}
	for _, name := range samplers {
		info.samplers = append(info.samplers, dev.UniformLocation(id, name))
	}
	return info, nil
}

// OnSurfaceChanged records the new viewport. Geometry follows on the next draw.
func (r *Renderer) OnSurfaceChanged(width, height int) {
	r.vpW, r.vpH = width, height
	r.viewW.Store(int32(width))
	r.viewH.Store(int32(height))
	if r.dev != nil {
		r.dev.Viewport(0, 0, width, height)
	}
	logger.WithComponent("renderer").Debug().
		Int("width", width).
		Int("height", height).
		Msg("Surface changed")
}

// DrawFrame runs one render tick
func (r *Renderer) DrawFrame() {
	if r.State() != StateReady {
		return
	}
	r.dev.Clear()

	if !r.enabled.Load() {
		r.disabledTicks.Add(1)
		return
	}

	r.mu.Lock()
	provider := r.provider
	r.mu.Unlock()
	if provider == nil {
		r.blank.Add(1)
		return
	}

	buf := pull(provider)
	if buf == nil {
		r.blank.Add(1)
		return
	}
	defer giveBack(provider, buf)

	if err := r.draw(buf); err != nil {
		r.dataErrors.Add(1)
		logger.WithComponent("renderer").Debug().
			Err(err).
			Str("frame", buf.String()).
			Msg("Skipping frame")
		return
	}
	r.drawn.Add(1)
}

func (r *Renderer) draw(buf *frame.Buffer) error {
	w, h := buf.Width(), buf.Height()
	quad := geometry.Fit(w, h, r.vpW, r.vpH)
	texCoords := geometry.TexCoords(r.mirror.Load())

	var prog programInfo
	var units []gpu.Texture
	switch buf.Kind() {
	case frame.KindPlanar:
		if err := r.uploader.Upload(buf); err != nil {
			return err
		}
		prog = r.planar
		t := r.uploader.Textures()
		units = t[:]
	case frame.KindTexture:
		if err := buf.Validate(); err != nil {
			return err
		}
		prog = r.texture
		units = []gpu.Texture{gpu.Texture(buf.Texture())}
	default:
		return fmt.Errorf("unsupported frame kind %s", buf.Kind())
	}

	r.frameW.Store(int32(w))
	r.frameH.Store(int32(h))

	dev := r.dev
	dev.UseProgram(prog.id)
	dev.EnableVertexAttribArray(prog.position)
	dev.VertexAttribPointer(prog.position, 2, quad[:])
	dev.EnableVertexAttribArray(prog.texCoord)
	dev.VertexAttribPointer(prog.texCoord, 2, texCoords[:])

	for i, tex := range units {
		dev.ActiveTexture(i)
		dev.BindTexture(tex)
		dev.Uniform1i(prog.samplers[i], i)
	}

	dev.DrawArrays(gpu.TriangleStrip, 0, 4)

	dev.DisableVertexAttribArray(prog.position)
	dev.DisableVertexAttribArray(prog.texCoord)
	for i := len(units) - 1; i >= 0; i-- {
		dev.ActiveTexture(i)
		dev.BindTexture(0)
	}
	dev.UseProgram(0)
	return nil
}

// SetRenderingEnabled gates drawing without touching GPU resources.
// Enabling requests a redraw.
func (r *Renderer) SetRenderingEnabled(enabled bool) {
	prev := r.enabled.Swap(enabled)
	if prev != enabled {
		logger.WithComponent("renderer").Debug().
			Bool("enabled", enabled).
			Msg("Rendering toggled")
	}
	if enabled {
		r.RequestRender()
	}
}

// RenderingEnabled reports the gate
func (r *Renderer) RenderingEnabled() bool {
	return r.enabled.Load()
}

// SetMirror flips the horizontal mirror and requests a redraw
func (r *Renderer) SetMirror(mirror bool) {
	r.mirror.Store(mirror)
	r.RequestRender()
}

// Mirror reports whether output is mirrored
func (r *Renderer) Mirror() bool {
	return r.mirror.Load()
}

// SetFrameProvider installs the frame source; nil draws nothing
func (r *Renderer) SetFrameProvider(p FrameProvider) {
	r.mu.Lock()
	r.provider = p
	r.mu.Unlock()
}

// SetRequestHandler installs the function RequestRender forwards to
func (r *Renderer) SetRequestHandler(fn func()) {
	r.mu.Lock()
	r.request = fn
	r.mu.Unlock()
}

// RequestRender asks the driving loop for another tick
func (r *Renderer) RequestRender() {
	r.mu.Lock()
	fn := r.request
	r.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// ReleaseCurrentFrame redraws so the screen reflects the provider's current
// content. Frames pulled by the renderer are always released within the
// tick that pulled them.
func (r *Renderer) ReleaseCurrentFrame() {
	r.RequestRender()
}

// Cleanup deletes GPU objects. It must run on the render goroutine.
func (r *Renderer) Cleanup() {
	r.deleteObjects()
	r.uploader = nil
	r.state.Store(int32(StateClosed))
	logger.WithComponent("renderer").Debug().Msg("Renderer cleaned up")
}

// deleteObjects frees the current generation's programs and textures. Only
// a Ready renderer owns any.
func (r *Renderer) deleteObjects() {
	if r.dev == nil || r.State() != StateReady {
		return
	}
	r.dev.DeleteProgram(r.planar.id)
	r.dev.DeleteProgram(r.texture.id)
	if r.uploader != nil {
		t := r.uploader.Textures()
		r.dev.DeleteTextures(t[:]...)
	}
	r.planar, r.texture = programInfo{}, programInfo{}
}

// Stats returns a snapshot of renderer counters
func (r *Renderer) Stats() Stats {
	return Stats{
		State:          r.State().String(),
		Enabled:        r.enabled.Load(),
		Mirror:         r.mirror.Load(),
		ViewportWidth:  int(r.viewW.Load()),
		ViewportHeight: int(r.viewH.Load()),
		FrameWidth:     int(r.frameW.Load()),
		FrameHeight:    int(r.frameH.Load()),
		Drawn:          r.drawn.Load(),
		Blank:          r.blank.Load(),
		DataErrors:     r.dataErrors.Load(),
		DisabledTicks:  r.disabledTicks.Load(),
		Generation:     r.generation.Load(),
	}
}
