package frame

import (
	"image"
	"image/color"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fillRows tags every row of a plane with its row number
func fillRows(p Plane, width, rows int) {
	for y := 0; y < rows; y++ {
		for x := 0; x < width; x++ {
			p.Data[y*p.Stride+x] = byte(y*7 + x)
		}
		for x := width; x < p.Stride && y*p.Stride+x < len(p.Data); x++ {
			p.Data[y*p.Stride+x] = 0xEE
		}
	}
}

func TestChromaSizeRoundsUp(t *testing.T) {
	cw, ch := ChromaSize(1280, 720)
	assert.Equal(t, 640, cw)
	assert.Equal(t, 360, ch)

	cw, ch = ChromaSize(5, 3)
	assert.Equal(t, 3, cw)
	assert.Equal(t, 2, ch)
}

func TestReleaseRunsHookOnce(t *testing.T) {
	calls := 0
	buf := NewPlanar(2, 2, Plane{}, Plane{}, Plane{}, WithReleaseFunc(func() { calls++ }))

	require.NoError(t, buf.Release())
	assert.ErrorIs(t, buf.Release(), ErrReleased)
	assert.Equal(t, 1, calls)
	assert.False(t, buf.Live())
}

func TestReleaseNilIsNoop(t *testing.T) {
	var buf *Buffer
	assert.NoError(t, buf.Release())
	assert.Nil(t, buf.Handoff())
}

func TestHandoffInvalidatesOldHandle(t *testing.T) {
	calls := 0
	pool := NewPool(1)
	buf := pool.Get(4, 4, WithReleaseFunc(func() { calls++ }))

	moved := buf.Handoff()
	require.NotNil(t, moved)
	assert.True(t, moved.SameFrame(buf))
	assert.False(t, buf.Live())

	_, err := buf.Plane(PlaneY)
	assert.ErrorIs(t, err, ErrMoved)
	assert.ErrorIs(t, buf.Release(), ErrMoved)
	assert.Nil(t, buf.Handoff())
	assert.Equal(t, 0, calls)

	require.NoError(t, moved.Release())
	assert.Equal(t, 1, calls)
	assert.Equal(t, int64(0), pool.Stats().Outstanding)
}

func TestConcurrentReleaseReleasesOnce(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	buf := NewPlanar(2, 2, Plane{}, Plane{}, Plane{}, WithReleaseFunc(func() {
		mu.Lock()
		calls++
		mu.Unlock()
	}))

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			buf.Release()
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, calls)
}

func TestValidate(t *testing.T) {
	pool := NewPool(16)

	ok := pool.Get(10, 6)
	defer ok.Release()
	assert.NoError(t, ok.Validate())

	zero := NewPlanar(0, 4, Plane{}, Plane{}, Plane{})
	assert.Error(t, zero.Validate())

	short := NewPlanar(4, 4,
		Plane{Data: make([]byte, 15), Stride: 4},
		Plane{Data: make([]byte, 4), Stride: 2},
		Plane{Data: make([]byte, 4), Stride: 2},
	)
	assert.Error(t, short.Validate())

	badStride := NewPlanar(4, 2,
		Plane{Data: make([]byte, 8), Stride: 3},
		Plane{Data: make([]byte, 2), Stride: 2},
		Plane{Data: make([]byte, 2), Stride: 2},
	)
	assert.Error(t, badStride.Validate())

	tex := NewTexture(0, 4, 4)
	assert.Error(t, tex.Validate())
	assert.NoError(t, NewTexture(7, 4, 4).Validate())
}

func TestPlaneFitsAllowsShortLastRow(t *testing.T) {
	p := Plane{Data: make([]byte, 2*8+5), Stride: 8}
	assert.True(t, p.Fits(5, 3))
	assert.False(t, p.Fits(6, 3))
	assert.False(t, p.Fits(9, 1))
}

func TestPoolAlignsAndRecycles(t *testing.T) {
	pool := NewPool(64)
	assert.Equal(t, 1280, pool.Stride(1280))
	assert.Equal(t, 1344, pool.Stride(1300))

	buf := pool.Get(1300, 10)
	y, err := buf.Plane(PlaneY)
	require.NoError(t, err)
	assert.Equal(t, 1344, y.Stride)
	u, _ := buf.Plane(PlaneU)
	assert.Equal(t, 704, u.Stride)
	assert.Equal(t, int64(1), pool.Stats().Outstanding)

	require.NoError(t, buf.Release())
	assert.Equal(t, int64(0), pool.Stats().Outstanding)

	again := pool.Get(1300, 10)
	defer again.Release()
	assert.Equal(t, uint64(3), pool.Stats().Reused)
}

func TestNilPoolAllocatesTight(t *testing.T) {
	var pool *Pool
	buf := pool.Get(6, 4)
	y, _ := buf.Plane(PlaneY)
	v, _ := buf.Plane(PlaneV)
	assert.Equal(t, 6, y.Stride)
	assert.Len(t, y.Data, 24)
	assert.Equal(t, 3, v.Stride)
	assert.NoError(t, buf.Release())
}

func TestTransformRotations(t *testing.T) {
	// 3x2 luma:
	// 0 1 2
	// 3 4 5
	src := NewPlanar(3, 2,
		Plane{Data: []byte{0, 1, 2, 9, 3, 4, 5, 9}, Stride: 4},
		Plane{Data: []byte{10, 11}, Stride: 2},
		Plane{Data: []byte{20, 21}, Stride: 2},
	)
	defer src.Release()

	luma := func(b *Buffer) [][]byte {
		p, err := b.Plane(PlaneY)
		require.NoError(t, err)
		rows := make([][]byte, b.Height())
		for y := range rows {
			rows[y] = append([]byte(nil), p.Data[y*p.Stride:y*p.Stride+b.Width()]...)
		}
		return rows
	}

	cases := []struct {
		name   string
		rot    Rotation
		mirror bool
		want   [][]byte
	}{
		{"identity", Rotate0, false, [][]byte{{0, 1, 2}, {3, 4, 5}}},
		{"mirror", Rotate0, true, [][]byte{{2, 1, 0}, {5, 4, 3}}},
		{"cw90", Rotate90, false, [][]byte{{3, 0}, {4, 1}, {5, 2}}},
		{"cw180", Rotate180, false, [][]byte{{5, 4, 3}, {2, 1, 0}}},
		{"cw270", Rotate270, false, [][]byte{{2, 5}, {1, 4}, {0, 3}}},
		{"cw270 mirrored", Rotate270, true, [][]byte{{5, 2}, {4, 1}, {3, 0}}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			out, err := Transform(src, tc.rot, tc.mirror, NewPool(8))
			require.NoError(t, err)
			defer out.Release()
			assert.Equal(t, tc.want, luma(out))
			assert.True(t, src.Live())
		})
	}
}

func TestTransformRejectsBadInput(t *testing.T) {
	src := NewPool(1).Get(4, 4)
	_, err := Transform(src, Rotation(45), false, nil)
	assert.Error(t, err)

	require.NoError(t, src.Release())
	_, err = Transform(src, Rotate0, false, nil)
	assert.ErrorIs(t, err, ErrReleased)

	_, err = Transform(NewTexture(3, 4, 4), Rotate0, false, nil)
	assert.Error(t, err)
}

func TestCloneCopiesRowsNotPadding(t *testing.T) {
	pool := NewPool(32)
	src := pool.Get(20, 6)
	y, _ := src.Plane(PlaneY)
	fillRows(y, 20, 6)

	clone, err := src.Clone(nil)
	require.NoError(t, err)
	cy, _ := clone.Plane(PlaneY)
	assert.Equal(t, 20, cy.Stride)
	for row := 0; row < 6; row++ {
		assert.Equal(t, y.Data[row*y.Stride:row*y.Stride+20], cy.Data[row*20:row*20+20])
	}
	assert.NotContains(t, cy.Data, byte(0xEE))

	require.NoError(t, src.Release())
	require.NoError(t, clone.Release())
}

func TestImageRoundTripKeepsGray(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 5, 3))
	for y := 0; y < 3; y++ {
		for x := 0; x < 5; x++ {
			img.Set(x, y, color.Gray{Y: 128})
		}
	}

	buf, err := FromImage(img, NewPool(16), WithType(TypeImage))
	require.NoError(t, err)
	defer buf.Release()
	assert.Equal(t, TypeImage, buf.Type())
	require.NoError(t, buf.Validate())

	ycc, err := ToYCbCr(buf)
	require.NoError(t, err)
	r, g, b, _ := ycc.At(4, 2).RGBA()
	assert.InDelta(t, 128, int(r>>8), 2)
	assert.InDelta(t, 128, int(g>>8), 2)
	assert.InDelta(t, 128, int(b>>8), 2)
}

func TestFromYCbCrCopiesPlanes(t *testing.T) {
	src := image.NewYCbCr(image.Rect(0, 0, 4, 4), image.YCbCrSubsampleRatio420)
	for i := range src.Y {
		src.Y[i] = byte(i)
	}
	for i := range src.Cb {
		src.Cb[i] = 100 + byte(i)
		src.Cr[i] = 200 + byte(i)
	}

	buf, err := FromImage(src, nil)
	require.NoError(t, err)
	y, _ := buf.Plane(PlaneY)
	u, _ := buf.Plane(PlaneU)
	v, _ := buf.Plane(PlaneV)
	assert.Equal(t, src.Y, y.Data)
	assert.Equal(t, src.Cb, u.Data)
	assert.Equal(t, src.Cr, v.Data)
}
