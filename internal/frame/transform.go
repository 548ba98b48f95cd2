package frame

import "fmt"

// Rotation is a clockwise rotation in degrees
type Rotation int

const (
	Rotate0   Rotation = 0
	Rotate90  Rotation = 90
	Rotate180 Rotation = 180
	Rotate270 Rotation = 270
)

// ParseRotation validates a rotation given in degrees
func ParseRotation(deg int) (Rotation, error) {
	switch Rotation(deg) {
	case Rotate0, Rotate90, Rotate180, Rotate270:
		return Rotation(deg), nil
	}
	return 0, fmt.Errorf("unsupported rotation: %d (use 0, 90, 180 or 270)", deg)
}

// Transform returns a new buffer holding src rotated clockwise by rot and,
// if mirror is set, flipped horizontally afterwards. src stays owned by the
// caller. The result inherits the type tag, timestamp and sequence of src.
func Transform(src *Buffer, rot Rotation, mirror bool, pool *Pool) (*Buffer, error) {
	if err := src.Validate(); err != nil {
		return nil, err
	}
	if src.Kind() != KindPlanar {
		return nil, fmt.Errorf("cannot transform %s frame", src.Kind())
	}
	if _, err := ParseRotation(int(rot)); err != nil {
		return nil, err
	}

	w, h := src.Width(), src.Height()
	dw, dh := w, h
	if rot == Rotate90 || rot == Rotate270 {
		dw, dh = h, w
	}

	dst := pool.Get(dw, dh,
		WithType(src.Type()),
		WithTimestamp(src.Timestamp()),
		WithSeq(src.Seq()),
	)

	cw, ch := ChromaSize(w, h)
	for i := PlaneY; i <= PlaneV; i++ {
		pw, ph := w, h
		if i != PlaneY {
			pw, ph = cw, ch
		}
		sp, _ := src.Plane(i)
		dp, _ := dst.Plane(i)
		transformPlane(dp, sp, pw, ph, rot, mirror)
	}
	return dst, nil
}

// transformPlane writes src (pw x ph) into dst with the given rotation
func transformPlane(dst, src Plane, pw, ph int, rot Rotation, mirror bool) {
	dw, dh := pw, ph
	if rot == Rotate90 || rot == Rotate270 {
		dw, dh = ph, pw
	}

	for y := 0; y < dh; y++ {
		row := dst.Data[y*dst.Stride : y*dst.Stride+dw]
		for x := 0; x < dw; x++ {
			ox := x
			if mirror {
				ox = dw - 1 - x
			}

			var sx, sy int
			switch rot {
			case Rotate90:
				sx, sy = y, ph-1-ox
			case Rotate180:
				sx, sy = pw-1-ox, ph-1-y
			case Rotate270:
				sx, sy = pw-1-y, ox
			default:
				sx, sy = ox, y
			}
			row[x] = src.Data[sy*src.Stride+sx]
		}
	}
}

// Clone deep-copies a live planar buffer into a new buffer from pool
func (b *Buffer) Clone(pool *Pool) (*Buffer, error) {
	return Transform(b, Rotate0, false, pool)
}
