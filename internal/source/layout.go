package source

import (
	"fmt"

	"github.com/bryanchriswhite/PlanarView/internal/frame"
)

// PlaneLayout locates one plane inside a packed I420 buffer
type PlaneLayout struct {
	Offset int
	Stride int
	Rows   int
}

// I420Layout describes a packed I420 buffer as laid out by GStreamer's
// default video info: rows padded to 4 bytes, chroma planes following luma.
type I420Layout struct {
	Width, Height int
	Planes        [3]PlaneLayout
	Size          int
}

func roundUp(v, n int) int {
	return (v + n - 1) / n * n
}

// NewI420Layout computes the default layout for a width x height frame
func NewI420Layout(width, height int) I420Layout {
	strideY := roundUp(width, 4)
	strideUV := roundUp(roundUp(width, 2)/2, 4)
	rowsY := height
	rowsUV := roundUp(height, 2) / 2

	offU := strideY * roundUp(height, 2)
	offV := offU + strideUV*rowsUV

	return I420Layout{
		Width:  width,
		Height: height,
		Planes: [3]PlaneLayout{
			{Offset: 0, Stride: strideY, Rows: rowsY},
			{Offset: offU, Stride: strideUV, Rows: rowsUV},
			{Offset: offV, Stride: strideUV, Rows: rowsUV},
		},
		Size: offV + strideUV*rowsUV,
	}
}

// Wrap slices data into a planar frame without copying. data must stay
// untouched until the frame is released.
func (l I420Layout) Wrap(data []byte, opts ...frame.Option) (*frame.Buffer, error) {
	if len(data) < l.Size {
		return nil, fmt.Errorf("I420 buffer too small: got %d bytes, need %d for %dx%d", len(data), l.Size, l.Width, l.Height)
	}
	var planes [3]frame.Plane
	for i, p := range l.Planes {
		planes[i] = frame.Plane{
			Data:   data[p.Offset : p.Offset+p.Stride*p.Rows],
			Stride: p.Stride,
		}
	}
	return frame.NewPlanar(l.Width, l.Height, planes[0], planes[1], planes[2], opts...), nil
}
