package render

import (
	"errors"
	"fmt"

	"github.com/bryanchriswhite/PlanarView/internal/frame"
	"github.com/bryanchriswhite/PlanarView/internal/gpu"
)

var (
	// ErrNoPlane means a planar frame is missing one of its planes
	ErrNoPlane = errors.New("render: frame plane missing")

	// ErrShortPlane means a plane holds fewer bytes than its rows need
	ErrShortPlane = errors.New("render: frame plane too short")
)

// UploadSize returns the logical texture size of plane i for a width x
// height frame. Chroma planes are half size, rounded down, and never
// smaller than one texel.
func UploadSize(i frame.PlaneIndex, width, height int) (int, int) {
	if i == frame.PlaneY {
		return width, height
	}
	return max(width/2, 1), max(height/2, 1)
}

// Uploader copies the three planes of a frame into three luminance
// textures, one per texture unit
type Uploader struct {
	dev      gpu.Device
	textures [3]gpu.Texture
}

// NewUploader creates an uploader writing into textures (Y, U, V)
func NewUploader(dev gpu.Device, textures [3]gpu.Texture) *Uploader {
	return &Uploader{dev: dev, textures: textures}
}

// Textures returns the Y, U and V texture names
func (u *Uploader) Textures() [3]gpu.Texture {
	return u.textures
}

// Upload checks every plane of buf and then uploads them. Nothing is
// uploaded if any plane is missing or short. The caller keeps ownership of
// buf.
func (u *Uploader) Upload(buf *frame.Buffer) error {
	w, h := buf.Width(), buf.Height()
	if w <= 0 || h <= 0 {
		return fmt.Errorf("invalid frame size %dx%d", w, h)
	}

	var planes [3]frame.Plane
	for i := frame.PlaneY; i <= frame.PlaneV; i++ {
		p, err := buf.Plane(i)
		if err != nil {
			return fmt.Errorf("failed to read plane %s: %w", i, err)
		}
		if p.Empty() {
			return fmt.Errorf("%w: %s", ErrNoPlane, i)
		}
		pw, ph := UploadSize(i, w, h)
		if !p.Fits(pw, ph) {
			return fmt.Errorf("%w: %s has %d bytes at stride %d, need %dx%d",
				ErrShortPlane, i, len(p.Data), p.Stride, pw, ph)
		}
		planes[i] = p
	}

	u.dev.PixelStoreUnpackAlignment(1)
	for i, p := range planes {
		pw, ph := UploadSize(frame.PlaneIndex(i), w, h)
		u.dev.ActiveTexture(i)
		u.dev.BindTexture(u.textures[i])
		if err := u.uploadPlane(p, pw, ph); err != nil {
			return fmt.Errorf("failed to upload plane %s: %w", frame.PlaneIndex(i), err)
		}
	}
	return nil
}

// uploadPlane sends one plane. Padded rows go one at a time so the padding
// never reaches the texture.
func (u *Uploader) uploadPlane(p frame.Plane, width, height int) error {
	if p.Stride == width {
		return u.dev.TexImage2D(gpu.Luminance, width, height, p.Data[:width*height])
	}

	if err := u.dev.TexImage2D(gpu.Luminance, width, height, nil); err != nil {
		return err
	}
	for row := 0; row < height; row++ {
		off := row * p.Stride
		if err := u.dev.TexSubImage2D(gpu.Luminance, 0, row, width, 1, p.Data[off:off+width]); err != nil {
			return err
		}
	}
	return nil
}
