package frame

import (
	"fmt"
	"image"
	"image/color"
)

// FromImage converts any image into a new 4:2:0 buffer from pool.
// Chroma is averaged over each 2x2 block.
func FromImage(img image.Image, pool *Pool, opts ...Option) (*Buffer, error) {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("invalid image size %dx%d", w, h)
	}

	buf := pool.Get(w, h, opts...)
	yp, _ := buf.Plane(PlaneY)
	up, _ := buf.Plane(PlaneU)
	vp, _ := buf.Plane(PlaneV)

	if ycc, ok := img.(*image.YCbCr); ok && ycc.SubsampleRatio == image.YCbCrSubsampleRatio420 {
		cw, ch := ChromaSize(w, h)
		for y := 0; y < h; y++ {
			off := ycc.YOffset(bounds.Min.X, bounds.Min.Y+y)
			copy(yp.Data[y*yp.Stride:y*yp.Stride+w], ycc.Y[off:off+w])
		}
		for y := 0; y < ch; y++ {
			off := ycc.COffset(bounds.Min.X, bounds.Min.Y+y*2)
			copy(up.Data[y*up.Stride:y*up.Stride+cw], ycc.Cb[off:off+cw])
			copy(vp.Data[y*vp.Stride:y*vp.Stride+cw], ycc.Cr[off:off+cw])
		}
		return buf, nil
	}

	cw, ch := ChromaSize(w, h)
	sumU := make([]int, cw*ch)
	sumV := make([]int, cw*ch)
	count := make([]int, cw*ch)

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, b, _ := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			yy, cb, cr := color.RGBToYCbCr(uint8(r>>8), uint8(g>>8), uint8(b>>8))
			yp.Data[y*yp.Stride+x] = yy

			ci := (y/2)*cw + x/2
			sumU[ci] += int(cb)
			sumV[ci] += int(cr)
			count[ci]++
		}
	}

	for y := 0; y < ch; y++ {
		for x := 0; x < cw; x++ {
			ci := y*cw + x
			up.Data[y*up.Stride+x] = uint8(sumU[ci] / count[ci])
			vp.Data[y*vp.Stride+x] = uint8(sumV[ci] / count[ci])
		}
	}
	return buf, nil
}

// ToYCbCr copies a live planar buffer into a tightly packed image.YCbCr
func ToYCbCr(b *Buffer) (*image.YCbCr, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}
	if b.Kind() != KindPlanar {
		return nil, fmt.Errorf("cannot convert %s frame", b.Kind())
	}

	w, h := b.Width(), b.Height()
	img := image.NewYCbCr(image.Rect(0, 0, w, h), image.YCbCrSubsampleRatio420)
	cw, ch := ChromaSize(w, h)

	yp, _ := b.Plane(PlaneY)
	up, _ := b.Plane(PlaneU)
	vp, _ := b.Plane(PlaneV)

	for y := 0; y < h; y++ {
		copy(img.Y[y*img.YStride:y*img.YStride+w], yp.Data[y*yp.Stride:y*yp.Stride+w])
	}
	for y := 0; y < ch; y++ {
		copy(img.Cb[y*img.CStride:y*img.CStride+cw], up.Data[y*up.Stride:y*up.Stride+cw])
		copy(img.Cr[y*img.CStride:y*img.CStride+cw], vp.Data[y*vp.Stride:y*vp.Stride+cw])
	}
	return img, nil
}
