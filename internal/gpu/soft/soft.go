// Package soft implements gpu.Surface on the CPU. It understands exactly the
// two shader programs in package gpu and rasterises triangle strips into an
// RGBA framebuffer.
package soft

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"
	"strings"
	"sync"

	"github.com/bryanchriswhite/PlanarView/internal/gpu"
)

const maxTextureUnits = 8

// ErrNoTexture is recorded when an operation needs a bound texture
var ErrNoTexture = errors.New("soft: no texture bound")

type programKind int

const (
	programPlanar programKind = iota
	programRGBA
)

type program struct {
	kind     programKind
	attribs  map[string]gpu.Attrib
	uniforms map[string]gpu.Uniform
	units    map[gpu.Uniform]int
}

type texture struct {
	width, height int
	format        gpu.Format
	data          []byte
	min, mag      gpu.Filter
}

type attribArray struct {
	size    int
	data    []float32
	enabled bool
}

// Stats counts device calls
type Stats struct {
	Programs     int `json:"programs"`
	Textures     int `json:"textures"`
	TexImages    int `json:"tex_images"`
	TexSubImages int `json:"tex_sub_images"`
	Draws        int `json:"draws"`
}

// Device is a software rendering surface
type Device struct {
	mu sync.Mutex
	fb *image.RGBA

	viewport   image.Rectangle
	clearColor color.RGBA

	programs    map[gpu.Program]*program
	nextProgram gpu.Program
	current     gpu.Program

	textures    map[gpu.Texture]*texture
	nextTexture gpu.Texture
	units       [maxTextureUnits]gpu.Texture
	activeUnit  int
	unpackAlign int

	attribs map[gpu.Attrib]*attribArray

	lastErr error
	stats   Stats
}

var _ gpu.Surface = (*Device)(nil)

// New creates a surface of width x height pixels
func New(width, height int) *Device {
	d := &Device{
		programs:    make(map[gpu.Program]*program),
		textures:    make(map[gpu.Texture]*texture),
		attribs:     make(map[gpu.Attrib]*attribArray),
		unpackAlign: 4,
	}
	d.Resize(width, height)
	return d
}

// Resize reallocates the framebuffer. GPU objects survive.
func (d *Device) Resize(width, height int) {
	if width < 1 {
		width = 1
	}
	if height < 1 {
		height = 1
	}
	d.mu.Lock()
	d.fb = image.NewRGBA(image.Rect(0, 0, width, height))
	d.viewport = d.fb.Bounds()
	d.mu.Unlock()
}

// Size returns the framebuffer size
func (d *Device) Size() (int, int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	b := d.fb.Bounds()
	return b.Dx(), b.Dy()
}

// Snapshot returns a copy of the framebuffer
func (d *Device) Snapshot() *image.RGBA {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := image.NewRGBA(d.fb.Bounds())
	copy(out.Pix, d.fb.Pix)
	return out
}

// Error returns and clears the last recorded error, like glGetError
func (d *Device) Error() error {
	err := d.lastErr
	d.lastErr = nil
	return err
}

// Stats returns call counters
func (d *Device) Stats() Stats {
	s := d.stats
	s.Programs = len(d.programs)
	s.Textures = len(d.textures)
	return s
}

func (d *Device) fail(err error) {
	d.lastErr = err
}

// Viewport sets the drawing rectangle in window coordinates (origin bottom-left)
func (d *Device) Viewport(x, y, width, height int) {
	d.viewport = image.Rect(x, y, x+width, y+height)
}

// ClearColor sets the color used by Clear
func (d *Device) ClearColor(r, g, b, a float32) {
	d.clearColor = color.RGBA{R: unit8(r), G: unit8(g), B: unit8(b), A: unit8(a)}
}

// Clear fills the framebuffer with the clear color
func (d *Device) Clear() {
	d.mu.Lock()
	defer d.mu.Unlock()
	c := d.clearColor
	pix := d.fb.Pix
	for i := 0; i < len(pix); i += 4 {
		pix[i], pix[i+1], pix[i+2], pix[i+3] = c.R, c.G, c.B, c.A
	}
}

// CreateProgram accepts the planar YUV and the RGBA program
func (d *Device) CreateProgram(vertex, fragment string) (gpu.Program, error) {
	if !strings.Contains(vertex, "void main") {
		return 0, fmt.Errorf("failed to compile vertex shader: missing main")
	}
	if !strings.Contains(fragment, "void main") {
		return 0, fmt.Errorf("failed to compile fragment shader: missing main")
	}

	p := &program{
		attribs:  make(map[string]gpu.Attrib),
		uniforms: make(map[string]gpu.Uniform),
		units:    make(map[gpu.Uniform]int),
	}

	var samplers []string
	switch {
	case hasSampler(fragment, gpu.SamplerY) && hasSampler(fragment, gpu.SamplerU) && hasSampler(fragment, gpu.SamplerV):
		p.kind = programPlanar
		samplers = []string{gpu.SamplerY, gpu.SamplerU, gpu.SamplerV}
	case hasSampler(fragment, gpu.SamplerRGBA):
		p.kind = programRGBA
		samplers = []string{gpu.SamplerRGBA}
	default:
		return 0, fmt.Errorf("failed to link program: unsupported fragment shader")
	}

	for i, name := range []string{gpu.AttribPosition, gpu.AttribTexCoord} {
		if !strings.Contains(vertex, "attribute vec") || !strings.Contains(vertex, name) {
			return 0, fmt.Errorf("failed to link program: vertex shader lacks %s", name)
		}
		p.attribs[name] = gpu.Attrib(i)
	}
	for i, name := range samplers {
		p.uniforms[name] = gpu.Uniform(i)
	}

	d.nextProgram++
	d.programs[d.nextProgram] = p
	return d.nextProgram, nil
}

func hasSampler(src, name string) bool {
	return strings.Contains(src, "uniform sampler2D "+name+";")
}

// DeleteProgram frees a program
func (d *Device) DeleteProgram(p gpu.Program) {
	delete(d.programs, p)
	if d.current == p {
		d.current = 0
	}
}

// UseProgram selects the program used by DrawArrays
func (d *Device) UseProgram(p gpu.Program) {
	if _, ok := d.programs[p]; !ok && p != 0 {
		d.fail(fmt.Errorf("soft: unknown program %d", p))
		return
	}
	d.current = p
}

// AttribLocation returns the location of a vertex attribute or -1
func (d *Device) AttribLocation(p gpu.Program, name string) gpu.Attrib {
	if prog, ok := d.programs[p]; ok {
		if a, ok := prog.attribs[name]; ok {
			return a
		}
	}
	return -1
}

// UniformLocation returns the location of a sampler uniform or -1
func (d *Device) UniformLocation(p gpu.Program, name string) gpu.Uniform {
	if prog, ok := d.programs[p]; ok {
		if u, ok := prog.uniforms[name]; ok {
			return u
		}
	}
	return -1
}

// Uniform1i assigns a texture unit to a sampler of the current program
func (d *Device) Uniform1i(u gpu.Uniform, v int) {
	prog, ok := d.programs[d.current]
	if !ok || u < 0 {
		return
	}
	prog.units[u] = v
}

// GenTextures allocates n texture names. Names are never reused.
func (d *Device) GenTextures(n int) []gpu.Texture {
	out := make([]gpu.Texture, n)
	for i := range out {
		d.nextTexture++
		d.textures[d.nextTexture] = &texture{}
		out[i] = d.nextTexture
	}
	return out
}

// DeleteTextures frees textures and unbinds them
func (d *Device) DeleteTextures(ts ...gpu.Texture) {
	for _, t := range ts {
		delete(d.textures, t)
		for i := range d.units {
			if d.units[i] == t {
				d.units[i] = 0
			}
		}
	}
}

// ActiveTexture selects the texture unit affected by BindTexture
func (d *Device) ActiveTexture(unit int) {
	if unit < 0 || unit >= maxTextureUnits {
		d.fail(fmt.Errorf("soft: texture unit %d out of range", unit))
		return
	}
	d.activeUnit = unit
}

// BindTexture binds t to the active unit; 0 unbinds
func (d *Device) BindTexture(t gpu.Texture) {
	if _, ok := d.textures[t]; !ok && t != 0 {
		d.fail(fmt.Errorf("soft: unknown texture %d", t))
		return
	}
	d.units[d.activeUnit] = t
}

func (d *Device) bound() (*texture, error) {
	tex, ok := d.textures[d.units[d.activeUnit]]
	if !ok {
		return nil, ErrNoTexture
	}
	return tex, nil
}

// TexParameters sets the filters of the bound texture
func (d *Device) TexParameters(min, mag gpu.Filter) {
	tex, err := d.bound()
	if err != nil {
		d.fail(err)
		return
	}
	tex.min, tex.mag = min, mag
}

// PixelStoreUnpackAlignment sets the row alignment of uploaded data
func (d *Device) PixelStoreUnpackAlignment(align int) {
	switch align {
	case 1, 2, 4, 8:
		d.unpackAlign = align
	default:
		d.fail(fmt.Errorf("soft: invalid unpack alignment %d", align))
	}
}

func (d *Device) rowPitch(format gpu.Format, width int) int {
	row := width * format.BytesPerPixel()
	return (row + d.unpackAlign - 1) / d.unpackAlign * d.unpackAlign
}

// TexImage2D (re)specifies the bound texture
func (d *Device) TexImage2D(format gpu.Format, width, height int, data []byte) error {
	tex, err := d.bound()
	if err != nil {
		return err
	}
	if width <= 0 || height <= 0 {
		return fmt.Errorf("soft: invalid texture size %dx%d", width, height)
	}

	if data != nil {
		if err := d.checkLen(format, width, height, data); err != nil {
			return err
		}
	}

	tex.width, tex.height, tex.format = width, height, format
	tex.data = make([]byte, width*height*format.BytesPerPixel())
	d.stats.TexImages++
	if data == nil {
		return nil
	}
	return d.copyRows(tex, 0, 0, width, height, data)
}

func (d *Device) checkLen(format gpu.Format, width, height int, data []byte) error {
	need := (height-1)*d.rowPitch(format, width) + width*format.BytesPerPixel()
	if len(data) < need {
		return fmt.Errorf("soft: upload needs %d bytes, got %d", need, len(data))
	}
	return nil
}

// TexSubImage2D replaces a region of the bound texture
func (d *Device) TexSubImage2D(format gpu.Format, x, y, width, height int, data []byte) error {
	tex, err := d.bound()
	if err != nil {
		return err
	}
	if format != tex.format {
		return fmt.Errorf("soft: format %s does not match texture format %s", format, tex.format)
	}
	if x < 0 || y < 0 || width <= 0 || height <= 0 || x+width > tex.width || y+height > tex.height {
		return fmt.Errorf("soft: region %dx%d+%d+%d outside %dx%d texture", width, height, x, y, tex.width, tex.height)
	}
	if err := d.checkLen(format, width, height, data); err != nil {
		return err
	}
	d.stats.TexSubImages++
	return d.copyRows(tex, x, y, width, height, data)
}

func (d *Device) copyRows(tex *texture, x, y, width, height int, data []byte) error {
	bpp := tex.format.BytesPerPixel()
	row := width * bpp
	pitch := d.rowPitch(tex.format, width)
	for r := 0; r < height; r++ {
		dst := ((y+r)*tex.width + x) * bpp
		copy(tex.data[dst:dst+row], data[r*pitch:r*pitch+row])
	}
	return nil
}

// EnableVertexAttribArray turns an attribute array on
func (d *Device) EnableVertexAttribArray(a gpu.Attrib) {
	d.attrib(a).enabled = true
}

// DisableVertexAttribArray turns an attribute array off
func (d *Device) DisableVertexAttribArray(a gpu.Attrib) {
	d.attrib(a).enabled = false
}

// VertexAttribPointer points an attribute at client-side vertex data
func (d *Device) VertexAttribPointer(a gpu.Attrib, size int, data []float32) {
	arr := d.attrib(a)
	arr.size = size
	arr.data = data
}

func (d *Device) attrib(a gpu.Attrib) *attribArray {
	arr, ok := d.attribs[a]
	if !ok {
		arr = &attribArray{}
		d.attribs[a] = arr
	}
	return arr
}

type vertex struct {
	x, y float64 // window coordinates, origin bottom-left
	s, t float64
}

// DrawArrays rasterises a triangle strip or triangle list
func (d *Device) DrawArrays(mode gpu.Mode, first, count int) {
	prog, ok := d.programs[d.current]
	if !ok {
		d.fail(fmt.Errorf("soft: draw without program"))
		return
	}
	verts, err := d.vertices(prog, first, count)
	if err != nil {
		d.fail(err)
		return
	}
	shade, err := d.shader(prog)
	if err != nil {
		d.fail(err)
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.stats.Draws++

	switch mode {
	case gpu.TriangleStrip:
		for i := 0; i+2 < len(verts); i++ {
			d.triangle(verts[i], verts[i+1], verts[i+2], shade)
		}
	case gpu.Triangles:
		for i := 0; i+2 < len(verts); i += 3 {
			d.triangle(verts[i], verts[i+1], verts[i+2], shade)
		}
	}
}

func (d *Device) vertices(prog *program, first, count int) ([]vertex, error) {
	pos := d.attribs[prog.attribs[gpu.AttribPosition]]
	tc := d.attribs[prog.attribs[gpu.AttribTexCoord]]
	if pos == nil || tc == nil || !pos.enabled || !tc.enabled {
		return nil, fmt.Errorf("soft: vertex attributes not enabled")
	}
	if pos.size < 2 || tc.size < 2 {
		return nil, fmt.Errorf("soft: attribute size too small")
	}
	if len(pos.data) < (first+count)*pos.size || len(tc.data) < (first+count)*tc.size {
		return nil, fmt.Errorf("soft: not enough vertex data for %d vertices", first+count)
	}

	vp := d.viewport
	out := make([]vertex, count)
	for i := range out {
		p := pos.data[(first+i)*pos.size:]
		t := tc.data[(first+i)*tc.size:]
		out[i] = vertex{
			x: float64(vp.Min.X) + (float64(p[0])+1)/2*float64(vp.Dx()),
			y: float64(vp.Min.Y) + (float64(p[1])+1)/2*float64(vp.Dy()),
			s: float64(t[0]),
			t: float64(t[1]),
		}
	}
	return out, nil
}

type fragmentShader func(s, t float64) color.RGBA

func (d *Device) shader(prog *program) (fragmentShader, error) {
	lookup := func(name string) (*texture, error) {
		u := prog.uniforms[name]
		tex, ok := d.textures[d.units[prog.units[u]]]
		if !ok || tex.data == nil {
			return nil, fmt.Errorf("soft: sampler %s has no texture", name)
		}
		return tex, nil
	}

	if prog.kind == programRGBA {
		tex, err := lookup(gpu.SamplerRGBA)
		if err != nil {
			return nil, err
		}
		return func(s, t float64) color.RGBA {
			if tex.format != gpu.RGBA {
				l := tex.sample(s, t, 0)
				return color.RGBA{R: unit8f(l), G: unit8f(l), B: unit8f(l), A: 255}
			}
			return color.RGBA{
				R: unit8f(tex.sample(s, t, 0)),
				G: unit8f(tex.sample(s, t, 1)),
				B: unit8f(tex.sample(s, t, 2)),
				A: unit8f(tex.sample(s, t, 3)),
			}
		}, nil
	}

	ty, err := lookup(gpu.SamplerY)
	if err != nil {
		return nil, err
	}
	tu, err := lookup(gpu.SamplerU)
	if err != nil {
		return nil, err
	}
	tv, err := lookup(gpu.SamplerV)
	if err != nil {
		return nil, err
	}
	return func(s, t float64) color.RGBA {
		y := clamp01(ty.sample(s, t, 0))
		u := clamp01(tu.sample(s, t, 0)) - 0.5
		v := clamp01(tv.sample(s, t, 0)) - 0.5
		return color.RGBA{
			R: unit8f(y + 1.402*v),
			G: unit8f(y - 0.344136*u - 0.714136*v),
			B: unit8f(y + 1.772*u),
			A: 255,
		}
	}, nil
}

// triangle fills the pixels whose centers lie inside a, b, c
func (d *Device) triangle(a, b, c vertex, shade fragmentShader) {
	area := edge(a, b, c.x, c.y)
	if area == 0 {
		return
	}

	fbH := d.fb.Bounds().Dy()
	clip := d.viewport.Intersect(d.fb.Bounds())

	minX := int(math.Floor(math.Min(a.x, math.Min(b.x, c.x))))
	maxX := int(math.Ceil(math.Max(a.x, math.Max(b.x, c.x))))
	minY := int(math.Floor(math.Min(a.y, math.Min(b.y, c.y))))
	maxY := int(math.Ceil(math.Max(a.y, math.Max(b.y, c.y))))
	minX, maxX = max(minX, clip.Min.X), min(maxX, clip.Max.X)
	minY, maxY = max(minY, clip.Min.Y), min(maxY, clip.Max.Y)

	for py := minY; py < maxY; py++ {
		cy := float64(py) + 0.5
		for px := minX; px < maxX; px++ {
			cx := float64(px) + 0.5
			w0 := edge(b, c, cx, cy) / area
			w1 := edge(c, a, cx, cy) / area
			w2 := edge(a, b, cx, cy) / area
			if w0 < 0 || w1 < 0 || w2 < 0 {
				continue
			}
			s := w0*a.s + w1*b.s + w2*c.s
			t := w0*a.t + w1*b.t + w2*c.t
			d.fb.SetRGBA(px, fbH-1-py, shade(s, t))
		}
	}
}

func edge(a, b vertex, x, y float64) float64 {
	return (b.x-a.x)*(y-a.y) - (b.y-a.y)*(x-a.x)
}

// sample returns channel ch at (s, t) in [0,1] with clamp-to-edge wrapping
func (tex *texture) sample(s, t float64, ch int) float64 {
	bpp := tex.format.BytesPerPixel()
	at := func(x, y int) float64 {
		x = min(max(x, 0), tex.width-1)
		y = min(max(y, 0), tex.height-1)
		return float64(tex.data[(y*tex.width+x)*bpp+ch]) / 255
	}

	fx := s*float64(tex.width) - 0.5
	fy := t*float64(tex.height) - 0.5
	if tex.mag == gpu.Nearest {
		return at(int(math.Floor(fx+0.5)), int(math.Floor(fy+0.5)))
	}

	x0, y0 := math.Floor(fx), math.Floor(fy)
	ax, ay := fx-x0, fy-y0
	ix, iy := int(x0), int(y0)
	top := at(ix, iy)*(1-ax) + at(ix+1, iy)*ax
	bottom := at(ix, iy+1)*(1-ax) + at(ix+1, iy+1)*ax
	return top*(1-ay) + bottom*ay
}

func clamp01(v float64) float64 {
	return math.Min(math.Max(v, 0), 1)
}

func unit8f(v float64) uint8 {
	return uint8(math.Round(clamp01(v) * 255))
}

func unit8(v float32) uint8 {
	return unit8f(float64(v))
}
