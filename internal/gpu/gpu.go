// Package gpu defines the GL ES 2 shaped device the renderer draws through.
// Every method must be called from the goroutine that owns the surface.
package gpu

import "image"

// Handles
type (
	Program uint32
	Texture uint32
	Attrib  int32
	Uniform int32
)

// Format is a texture pixel format
type Format int

const (
	Luminance Format = iota // one byte per texel
	RGBA                    // four bytes per texel
)

// BytesPerPixel returns the texel size of the format
func (f Format) BytesPerPixel() int {
	if f == RGBA {
		return 4
	}
	return 1
}

// String returns the GL-style name of the format
func (f Format) String() string {
	switch f {
	case Luminance:
		return "LUMINANCE"
	case RGBA:
		return "RGBA"
	default:
		return "UNKNOWN"
	}
}

// Filter is a texture sampling filter
type Filter int

const (
	Linear Filter = iota
	Nearest
)

// Mode is a primitive assembly mode
type Mode int

const (
	TriangleStrip Mode = iota
	Triangles
)

// Device is the subset of GL ES 2 used by the renderer
type Device interface {
	Viewport(x, y, width, height int)
	ClearColor(r, g, b, a float32)
	Clear()

	// CreateProgram compiles and links a vertex/fragment shader pair
	CreateProgram(vertex, fragment string) (Program, error)
	DeleteProgram(p Program)
	UseProgram(p Program)
	AttribLocation(p Program, name string) Attrib
	UniformLocation(p Program, name string) Uniform
	Uniform1i(u Uniform, v int)

	GenTextures(n int) []Texture
	DeleteTextures(ts ...Texture)
	ActiveTexture(unit int)
	BindTexture(t Texture)
	TexParameters(min, mag Filter)
	PixelStoreUnpackAlignment(align int)
	// TexImage2D (re)specifies the bound texture. nil data allocates a
	// zeroed texture of the given size.
	TexImage2D(format Format, width, height int, data []byte) error
	// TexSubImage2D replaces a region of the bound texture. data holds
	// tightly packed rows of width texels.
	TexSubImage2D(format Format, x, y, width, height int, data []byte) error

	EnableVertexAttribArray(a Attrib)
	DisableVertexAttribArray(a Attrib)
	VertexAttribPointer(a Attrib, size int, data []float32)
	DrawArrays(mode Mode, first, count int)
}

// Surface is a device whose default framebuffer can be read back
type Surface interface {
	Device
	// Snapshot copies the current framebuffer
	Snapshot() *image.RGBA
	Size() (int, int)
	Resize(width, height int)
}
