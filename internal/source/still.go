package source

import (
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"math"

	"github.com/spf13/afero"
	"golang.org/x/image/draw"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/bryanchriswhite/PlanarView/internal/frame"
	"github.com/bryanchriswhite/PlanarView/internal/logger"
)

// StillLimits bounds the size of decoded stills
type StillLimits struct {
	MaxLongSide  int
	MaxShortSide int
}

// DefaultStillLimits keeps stills within 1920x1080 in either orientation
var DefaultStillLimits = StillLimits{MaxLongSide: 1920, MaxShortSide: 1080}

// FitSize returns the size an image of w x h is scaled to so that its long
// side fits MaxLongSide and its short side fits MaxShortSide. Smaller
// images are returned unchanged.
func (l StillLimits) FitSize(w, h int) (int, int) {
	long, short := max(w, h), min(w, h)
	if l.MaxLongSide <= 0 || l.MaxShortSide <= 0 || (long <= l.MaxLongSide && short <= l.MaxShortSide) {
		return w, h
	}
	scale := math.Min(float64(l.MaxLongSide)/float64(long), float64(l.MaxShortSide)/float64(short))
	nw := max(int(math.Round(float64(w)*scale)), 1)
	nh := max(int(math.Round(float64(h)*scale)), 1)
	return nw, nh
}

// DecodeStill decodes an image (JPEG, PNG, GIF, BMP, TIFF or WebP), scales
// it down to the limits and converts it into an IMAGE frame from pool
func DecodeStill(r io.Reader, limits StillLimits, pool *frame.Pool) (*frame.Buffer, error) {
	img, format, err := image.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	b := img.Bounds()
	w, h := limits.FitSize(b.Dx(), b.Dy())
	if w != b.Dx() || h != b.Dy() {
		dst := image.NewRGBA(image.Rect(0, 0, w, h))
		draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
		logger.WithComponent("still").Debug().
			Str("format", format).
			Int("from_width", b.Dx()).
			Int("from_height", b.Dy()).
			Int("width", w).
			Int("height", h).
			Msg("Scaled still image")
		img = dst
	}

	buf, err := frame.FromImage(img, pool, frame.WithType(frame.TypeImage))
	if err != nil {
		return nil, fmt.Errorf("failed to convert image: %w", err)
	}
	return buf, nil
}

// LoadStill opens path on fs and decodes it with DecodeStill
func LoadStill(fs afero.Fs, path string, limits StillLimits, pool *frame.Pool) (*frame.Buffer, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open still %s: %w", path, err)
	}
	defer f.Close()
	return DecodeStill(f, limits, pool)
}
