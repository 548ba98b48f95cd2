package effect

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryanchriswhite/PlanarView/internal/frame"
)

// gradientFrame has luma rising left to right and distinct chroma
func gradientFrame(t *testing.T, pool *frame.Pool, w, h int) *frame.Buffer {
	t.Helper()
	buf := pool.Get(w, h)
	y, err := buf.Plane(frame.PlaneY)
	require.NoError(t, err)
	for row := 0; row < h; row++ {
		for x := 0; x < w; x++ {
			y.Data[row*y.Stride+x] = byte(x * 255 / max(w-1, 1))
		}
	}
	for _, i := range []frame.PlaneIndex{frame.PlaneU, frame.PlaneV} {
		p, _ := buf.Plane(i)
		for k := range p.Data {
			p.Data[k] = 90
		}
	}
	return buf
}

func lumaRow(t *testing.T, buf *frame.Buffer, row int) []byte {
	t.Helper()
	p, err := buf.Plane(frame.PlaneY)
	require.NoError(t, err)
	return append([]byte(nil), p.Data[row*p.Stride:row*p.Stride+buf.Width()]...)
}

func TestDefaultEngineCopiesUnchanged(t *testing.T) {
	pool := frame.NewPool(16)
	in := gradientFrame(t, pool, 10, 4)
	defer in.Release()

	b := NewBeauty(pool)
	out, err := b.ProcessImage(in)
	require.NoError(t, err)
	defer out.Release()

	assert.False(t, out.SameFrame(in))
	assert.True(t, in.Live())
	assert.Equal(t, lumaRow(t, in, 2), lumaRow(t, out, 2))
}

func TestProcessImageNeverTouchesInput(t *testing.T) {
	pool := frame.NewPool(1)
	in := gradientFrame(t, pool, 8, 8)
	defer in.Release()
	before := lumaRow(t, in, 3)

	b := NewBeauty(pool)
	require.NoError(t, b.HandleEvent(Event{Tab: TabAdjust, Function: FuncBrightness, Value: 0.5}))
	require.NoError(t, b.HandleEvent(Event{Tab: TabFilter, Function: FuncGrayscale, Value: 1}))

	out, err := b.ProcessImage(in)
	require.NoError(t, err)
	defer out.Release()

	assert.Equal(t, before, lumaRow(t, in, 3))
	u, _ := out.Plane(frame.PlaneU)
	assert.Equal(t, byte(128), u.Data[0])
	assert.Equal(t, byte(50), lumaRow(t, out, 0)[0])
}

func TestProcessImageIsDeterministic(t *testing.T) {
	pool := frame.NewPool(8)
	in := gradientFrame(t, pool, 12, 6)
	defer in.Release()

	b := NewBeauty(pool)
	require.NoError(t, b.HandleEvent(Event{Tab: TabBeauty, Function: FuncSmoothing, Value: 0.8}))
	require.NoError(t, b.HandleEvent(Event{Tab: TabBeauty, Function: FuncWhitening, Value: 0.6}))

	first, err := b.ProcessImage(in)
	require.NoError(t, err)
	second, err := b.ProcessImage(in)
	require.NoError(t, err)
	for row := 0; row < 6; row++ {
		assert.Equal(t, lumaRow(t, first, row), lumaRow(t, second, row))
	}
	require.NoError(t, first.Release())
	require.NoError(t, second.Release())
}

func TestHandleEventClampsAndResets(t *testing.T) {
	b := NewBeauty(nil)
	require.NoError(t, b.HandleEvent(Event{Tab: TabAdjust, Function: FuncContrast, Value: 7}))
	assert.Equal(t, 1.0, b.Params()["adjust/contrast"])

	require.NoError(t, b.HandleEvent(Event{Tab: TabBeauty, Function: FuncWhitening, Value: 0.3}))
	require.NoError(t, b.HandleEvent(Event{Tab: TabAdjust, Function: FuncReset}))
	assert.Equal(t, map[string]float64{"beauty/whitening": 0.3}, b.Params())

	require.NoError(t, b.HandleEvent(Event{Tab: TabFilter, Function: FuncGrayscale, Value: 1}))
	require.NoError(t, b.HandleEvent(Event{Function: FuncReset}))
	assert.Empty(t, b.Params())

	assert.ErrorIs(t, b.HandleEvent(Event{Tab: "makeup", Function: "lipstick", Value: 1}), ErrUnknownParam)
	assert.ErrorIs(t, b.HandleEvent(Event{Tab: "makeup", Function: FuncReset}), ErrUnknownParam)
}

func TestBypassSkipsEffects(t *testing.T) {
	pool := frame.NewPool(1)
	in := gradientFrame(t, pool, 6, 2)
	defer in.Release()

	b := NewBeauty(pool)
	require.NoError(t, b.HandleEvent(Event{Tab: TabAdjust, Function: FuncBrightness, Value: 1}))
	b.SetBypass(true)

	out, err := b.ProcessImage(in)
	require.NoError(t, err)
	defer out.Release()
	assert.Equal(t, lumaRow(t, in, 0), lumaRow(t, out, 0))
}

func TestProcessReleasedInputFails(t *testing.T) {
	in := gradientFrame(t, frame.NewPool(1), 4, 4)
	require.NoError(t, in.Release())
	_, err := NewBeauty(nil).ProcessImage(in)
	assert.ErrorIs(t, err, frame.ErrReleased)
}

func TestEffects(t *testing.T) {
	pool := frame.NewPool(1)

	tests := []struct {
		name   string
		effect Effect
		check  func(t *testing.T, before, after []byte)
	}{
		{"brightness", Brightness{Offset: 40}, func(t *testing.T, before, after []byte) {
			assert.Equal(t, byte(40), after[0])
			assert.Equal(t, byte(255), after[len(after)-1])
		}},
		{"contrast flat", Contrast{Factor: 0}, func(t *testing.T, before, after []byte) {
			for _, v := range after {
				assert.Equal(t, byte(128), v)
			}
		}},
		{"whitening keeps white", Whitening{Amount: 1}, func(t *testing.T, before, after []byte) {
			assert.Greater(t, after[0], before[0])
			assert.Equal(t, byte(255), after[len(after)-1])
		}},
		{"smoothing full", Smoothing{Amount: 1, Radius: 1}, func(t *testing.T, before, after []byte) {
			// the ramp end is pulled towards its neighbours
			assert.Less(t, after[len(after)-1], before[len(before)-1])
		}},
		{"smoothing none", Smoothing{Amount: 0, Radius: 1}, func(t *testing.T, before, after []byte) {
			assert.Equal(t, before, after)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := gradientFrame(t, pool, 9, 3)
			defer buf.Release()
			before := lumaRow(t, buf, 1)
			require.NoError(t, tt.effect.Apply(buf))
			tt.check(t, before, lumaRow(t, buf, 1))
			assert.NotEmpty(t, tt.effect.Name())
		})
	}
}

func TestChainStopsOnError(t *testing.T) {
	buf := gradientFrame(t, frame.NewPool(1), 4, 4)
	owner := buf.Handoff()
	defer owner.Release()

	c := NewChain(Brightness{Offset: 1}, Grayscale{})
	assert.Equal(t, 2, c.Len())
	err := c.Apply(buf)
	assert.ErrorIs(t, err, frame.ErrMoved)
	assert.Contains(t, err.Error(), "Brightness")
}
