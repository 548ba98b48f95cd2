package render

import (
	"bytes"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryanchriswhite/PlanarView/internal/frame"
	"github.com/bryanchriswhite/PlanarView/internal/geometry"
	"github.com/bryanchriswhite/PlanarView/internal/gpu/soft"
	"github.com/bryanchriswhite/PlanarView/internal/logger"
)

func readyRenderer(t *testing.T, w, h int) (*Renderer, *recordingDevice, *queueProvider) {
	t.Helper()
	dev := newRecordingDevice()
	r := NewRenderer()
	require.NoError(t, r.OnSurfaceCreated(dev))
	r.OnSurfaceChanged(w, h)
	p := &queueProvider{}
	r.SetFrameProvider(p)
	dev.reset()
	return r, dev, p
}

func TestNilFramesDrawNothing(t *testing.T) {
	r, dev, p := readyRenderer(t, 1280, 720)

	for i := 0; i < 3; i++ {
		r.DrawFrame()
	}

	pulls, released := p.stats()
	assert.Equal(t, 3, pulls)
	assert.Equal(t, 0, released)
	assert.Equal(t, 3, dev.clears)
	assert.Empty(t, dev.callsOf("DrawArrays"))
	assert.Equal(t, uint64(3), r.Stats().Blank)
}

func TestDrawReleasesFrameExactlyOnce(t *testing.T) {
	r, dev, p := readyRenderer(t, 1280, 720)

	releases := 0
	p.push(taggedFrame(1920, 1080, 1920, 960, frame.WithReleaseFunc(func() { releases++ })))
	r.DrawFrame()
	r.DrawFrame()

	assert.Equal(t, 1, releases)
	assert.Empty(t, p.errs)
	draws := dev.callsOf("DrawArrays")
	require.Len(t, draws, 1)
	assert.Equal(t, 4, draws[0].w)

	st := r.Stats()
	assert.Equal(t, uint64(1), st.Drawn)
	assert.Equal(t, uint64(1), st.Blank)
	assert.Equal(t, 1920, st.FrameWidth)
}

func TestGeometryAndMirrorReachTheDevice(t *testing.T) {
	r, dev, p := readyRenderer(t, 1080, 1920)

	p.push(taggedFrame(1920, 1080, 1920, 960))
	r.DrawFrame()
	ptrs := dev.callsOf("VertexAttribPointer")
	require.Len(t, ptrs, 2)
	quad := geometry.Fit(1920, 1080, 1080, 1920)
	assert.Equal(t, quad[:], ptrs[0].floats)
	normal := geometry.TexCoords(false)
	assert.Equal(t, normal[:], ptrs[1].floats)

	dev.reset()
	r.SetMirror(true)
	p.push(taggedFrame(1920, 1080, 1920, 960))
	r.DrawFrame()
	ptrs = dev.callsOf("VertexAttribPointer")
	require.Len(t, ptrs, 2)
	mirror := geometry.TexCoords(true)
	assert.Equal(t, mirror[:], ptrs[1].floats)
}

func TestUploadFailureReleasesAndSkips(t *testing.T) {
	r, dev, p := readyRenderer(t, 640, 480)

	releases := 0
	y := frame.Plane{Data: make([]byte, 16), Stride: 4}
	u := frame.Plane{Data: make([]byte, 4), Stride: 2}
	p.push(frame.NewPlanar(4, 4, y, u, frame.Plane{}, frame.WithReleaseFunc(func() { releases++ })))

	r.DrawFrame()
	assert.Equal(t, 1, releases)
	assert.Empty(t, dev.callsOf("DrawArrays"))
	assert.Equal(t, uint64(1), r.Stats().DataErrors)

	// the next good frame still draws
	p.push(taggedFrame(4, 4, 4, 2))
	r.DrawFrame()
	assert.Len(t, dev.callsOf("DrawArrays"), 1)
}

func TestDisabledRendererDoesNotPull(t *testing.T) {
	r, dev, p := readyRenderer(t, 640, 480)
	requests := 0
	r.SetRequestHandler(func() { requests++ })

	r.SetRenderingEnabled(false)
	p.push(taggedFrame(4, 4, 4, 2))
	r.DrawFrame()
	r.DrawFrame()

	pulls, _ := p.stats()
	assert.Equal(t, 0, pulls)
	assert.Equal(t, 2, dev.clears)
	assert.Equal(t, uint64(2), r.Stats().DisabledTicks)
	assert.Equal(t, 0, requests)

	r.SetRenderingEnabled(true)
	assert.Equal(t, 1, requests)
	r.DrawFrame()
	assert.Len(t, dev.callsOf("DrawArrays"), 1)
}

func TestShaderFailureMakesDrawsNoops(t *testing.T) {
	dev := newRecordingDevice()
	dev.failPrograms = true
	r := NewRenderer()
	p := &queueProvider{}
	r.SetFrameProvider(p)

	assert.Error(t, r.OnSurfaceCreated(dev))
	assert.Equal(t, StateFailed, r.State())

	p.push(taggedFrame(4, 4, 4, 2))
	assert.NotPanics(t, r.DrawFrame)
	pulls, _ := p.stats()
	assert.Equal(t, 0, pulls)
	assert.Empty(t, dev.callsOf("DrawArrays"))

	// recreating on a healthy surface recovers
	dev.failPrograms = false
	require.NoError(t, r.OnSurfaceCreated(dev))
	r.OnSurfaceChanged(4, 4)
	r.DrawFrame()
	assert.Len(t, dev.callsOf("DrawArrays"), 1)
}

func TestRecreatedSurfaceGetsFreshTextures(t *testing.T) {
	dev := newRecordingDevice()
	r := NewRenderer()
	require.NoError(t, r.OnSurfaceCreated(dev))
	first := r.uploader.Textures()

	require.NoError(t, r.OnSurfaceCreated(dev))
	second := r.uploader.Textures()

	for _, a := range first {
		assert.NotContains(t, second[:], a)
	}
	assert.Equal(t, uint64(2), r.Stats().Generation)
	assert.ElementsMatch(t, first[:], dev.deleted)
}

func TestRecreatingOnSameDeviceFreesOldObjects(t *testing.T) {
	dev := soft.New(16, 16)
	r := NewRenderer()
	require.NoError(t, r.OnSurfaceCreated(dev))
	created := dev.Stats()
	assert.Equal(t, 2, created.Programs)
	assert.Equal(t, 3, created.Textures)

	for i := 0; i < 3; i++ {
		require.NoError(t, r.OnSurfaceCreated(dev))
	}
	st := dev.Stats()
	assert.Equal(t, created.Programs, st.Programs)
	assert.Equal(t, created.Textures, st.Textures)

	r.Cleanup()
	st = dev.Stats()
	assert.Zero(t, st.Programs)
	assert.Zero(t, st.Textures)
}

func TestTextureGenerationFailureDeletesPrograms(t *testing.T) {
	dev := newRecordingDevice()
	dev.failTextures = true
	r := NewRenderer()

	assert.Error(t, r.OnSurfaceCreated(dev))
	assert.Equal(t, StateFailed, r.State())
	assert.Len(t, dev.callsOf("DeleteProgram"), 2)
}

func TestTextureFrameUsesExternalTexture(t *testing.T) {
	r, dev, p := readyRenderer(t, 640, 480)

	releases := 0
	p.push(frame.NewTexture(99, 320, 240, frame.WithReleaseFunc(func() { releases++ })))
	r.DrawFrame()

	assert.Empty(t, dev.callsOf("TexImage2D"))
	var boundExternal bool
	for _, c := range dev.callsOf("BindTexture") {
		if c.texture == 99 && c.unit == 0 {
			boundExternal = true
		}
	}
	assert.True(t, boundExternal)
	assert.Len(t, dev.callsOf("DrawArrays"), 1)
	assert.Equal(t, 1, releases)
}

func TestProviderPanicBecomesBlankTick(t *testing.T) {
	r, dev, p := readyRenderer(t, 640, 480)
	p.panicOn = 1

	assert.NotPanics(t, r.DrawFrame)
	assert.Empty(t, dev.callsOf("DrawArrays"))
	assert.Equal(t, uint64(1), r.Stats().Blank)
}

func TestCleanupDeletesTextures(t *testing.T) {
	dev := newRecordingDevice()
	r := NewRenderer()
	require.NoError(t, r.OnSurfaceCreated(dev))
	textures := r.uploader.Textures()

	r.Cleanup()
	assert.Equal(t, StateClosed, r.State())
	assert.ElementsMatch(t, textures[:], dev.deleted)
	assert.NotPanics(t, r.DrawFrame)
}

func TestProviderFuncReleasesDirectly(t *testing.T) {
	dev := newRecordingDevice()
	r := NewRenderer()
	require.NoError(t, r.OnSurfaceCreated(dev))
	r.OnSurfaceChanged(8, 8)

	buf := taggedFrame(4, 4, 4, 2)
	served := false
	r.SetFrameProvider(ProviderFunc(func() *frame.Buffer {
		if served {
			return nil
		}
		served = true
		return buf.Handoff()
	}))
	r.DrawFrame()
	assert.False(t, buf.Live())
	assert.Equal(t, uint64(1), r.Stats().Drawn)
}

func TestProviderFuncLogsFailedRelease(t *testing.T) {
	var out bytes.Buffer
	logger.SetOutput(&out, "info")
	defer logger.SetOutput(os.Stderr, "info")

	buf := taggedFrame(4, 4, 4, 2)
	require.NoError(t, buf.Release())

	ProviderFunc(func() *frame.Buffer { return nil }).ReleaseFrame(buf)
	assert.Contains(t, out.String(), "Release of rendered frame failed")
}
