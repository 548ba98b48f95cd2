package display

import (
	"fmt"
	"image"
)

// PixelFormat is the server-side layout for a ZPixmap of one depth
type PixelFormat struct {
	Depth        uint8
	BitsPerPixel uint8
	ScanlinePad  uint8
}

// Stride returns the padded scanline length for width pixels
func (f PixelFormat) Stride(width int) int {
	unpadded := width * int(f.BitsPerPixel) / 8
	padBytes := max(int(f.ScanlinePad)/8, 1)
	return (unpadded + padBytes - 1) / padBytes * padBytes
}

// Pack converts rows [y0, y1) of img into ZPixmap bytes (BGRx / BGR),
// matching the usual 0xff0000/0xff00/0xff visual masks.
func (f PixelFormat) Pack(img *image.RGBA, y0, y1 int) ([]byte, error) {
	bpp := int(f.BitsPerPixel) / 8
	if bpp != 3 && bpp != 4 {
		return nil, fmt.Errorf("unsupported bytes per pixel: %d", bpp)
	}
	b := img.Bounds()
	w := b.Dx()
	if y0 < 0 || y1 > b.Dy() || y0 > y1 {
		return nil, fmt.Errorf("row range %d..%d outside image height %d", y0, y1, b.Dy())
	}

	stride := f.Stride(w)
	data := make([]byte, stride*(y1-y0))
	for y := y0; y < y1; y++ {
		src := img.Pix[(y)*img.Stride : (y)*img.Stride+w*4]
		dst := data[(y-y0)*stride:]
		for x := 0; x < w; x++ {
			s := src[x*4 : x*4+4]
			d := dst[x*bpp : x*bpp+bpp]
			d[0], d[1], d[2] = s[2], s[1], s[0]
			if bpp == 4 && f.Depth == 32 {
				d[3] = s[3]
			}
		}
	}
	return data, nil
}

// RowsPerRequest returns how many scanlines fit in one PutImage request
// given the server's maximum request length in bytes
func (f PixelFormat) RowsPerRequest(width, maxRequestBytes int) int {
	const putImageHeader = 24
	stride := f.Stride(width)
	if stride == 0 {
		return 1
	}
	return max((maxRequestBytes-putImageHeader)/stride, 1)
}
