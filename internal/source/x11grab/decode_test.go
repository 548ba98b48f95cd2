package x11grab

import (
	"image/color"
	"testing"

	"github.com/matryer/is"
)

func TestDecodeBGRx(t *testing.T) {
	is := is.New(t)

	data := []byte{
		10, 20, 30, 0, 40, 50, 60, 99,
		70, 80, 90, 0, 1, 2, 3, 0,
	}
	img, err := DecodeBGRx(data, 2, 2)
	is.NoErr(err)
	is.Equal(img.RGBAAt(0, 0), color.RGBA{30, 20, 10, 255})
	is.Equal(img.RGBAAt(1, 0), color.RGBA{60, 50, 40, 255}) // pad byte ignored
	is.Equal(img.RGBAAt(0, 1), color.RGBA{90, 80, 70, 255})
	is.Equal(img.RGBAAt(1, 1), color.RGBA{3, 2, 1, 255})
}

func TestDecodeBGRxRejectsShortData(t *testing.T) {
	is := is.New(t)

	_, err := DecodeBGRx(make([]byte, 15), 2, 2)
	is.True(err != nil)
	_, err = DecodeBGRx(nil, 0, 2)
	is.True(err != nil)
}
