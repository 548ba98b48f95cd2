package commands

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryanchriswhite/PlanarView/internal/config"
	"github.com/bryanchriswhite/PlanarView/internal/effect"
	"github.com/bryanchriswhite/PlanarView/internal/source"
)

func TestParseEffect(t *testing.T) {
	tests := []struct {
		in      string
		want    effect.Event
		wantErr bool
	}{
		{in: "adjust/brightness=0.5", want: effect.Event{Tab: "adjust", Function: "brightness", Value: 0.5}},
		{in: "filter/grayscale", want: effect.Event{Tab: "filter", Function: "grayscale", Value: 1}},
		{in: "beauty/whitening=-0.25", want: effect.Event{Tab: "beauty", Function: "whitening", Value: -0.25}},
		{in: "brightness=0.5", wantErr: true},
		{in: "/brightness=0.5", wantErr: true},
		{in: "adjust/brightness=lots", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseEffect(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func writePNG(t *testing.T, fs afero.Fs, path string, w, h int, c color.RGBA) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	require.NoError(t, afero.WriteFile(fs, path, buf.Bytes(), 0o644))
}

func TestRenderStillLetterboxes(t *testing.T) {
	fs := afero.NewMemMapFs()
	writePNG(t, fs, "/in/red.png", 40, 20, color.RGBA{255, 0, 0, 255})

	path, err := renderStill(fs, "/in/red.png", "/out", stillOptions{
		width:   80,
		height:  20,
		limits:  source.DefaultStillLimits,
		align:   16,
		quality: 95,
	})
	require.NoError(t, err)

	f, err := fs.Open(path)
	require.NoError(t, err)
	defer f.Close()
	img, err := jpeg.Decode(f)
	require.NoError(t, err)
	require.Equal(t, image.Rect(0, 0, 80, 20), img.Bounds())

	r, g, b, _ := img.At(40, 10).RGBA()
	assert.Greater(t, r>>8, uint32(180))
	assert.Less(t, g>>8, uint32(80))
	assert.Less(t, b>>8, uint32(80))

	r, g, b, _ = img.At(3, 10).RGBA()
	assert.Less(t, r>>8, uint32(40), "pillarbox bar stays cleared")
	assert.Less(t, g>>8, uint32(40))
	assert.Less(t, b>>8, uint32(40))
}

func TestRenderStillAppliesEffects(t *testing.T) {
	fs := afero.NewMemMapFs()
	writePNG(t, fs, "/in/red.png", 16, 16, color.RGBA{255, 0, 0, 255})

	path, err := renderStill(fs, "/in/red.png", "/out", stillOptions{
		events:  []effect.Event{{Tab: effect.TabFilter, Function: effect.FuncGrayscale, Value: 1}},
		limits:  source.DefaultStillLimits,
		align:   16,
		quality: 95,
	})
	require.NoError(t, err)

	f, err := fs.Open(path)
	require.NoError(t, err)
	defer f.Close()
	img, err := jpeg.Decode(f)
	require.NoError(t, err)

	r, g, b, _ := img.At(8, 8).RGBA()
	assert.InDelta(t, r>>8, g>>8, 12, "grayscale output has equal channels")
	assert.InDelta(t, g>>8, b>>8, 12)
}

func TestRenderStillErrors(t *testing.T) {
	fs := afero.NewMemMapFs()
	_, err := renderStill(fs, "/missing.png", "/out", stillOptions{align: 16, quality: 90})
	assert.Error(t, err)

	writePNG(t, fs, "/in/a.png", 8, 8, color.RGBA{A: 255})
	_, err = renderStill(fs, "/in/a.png", "/out", stillOptions{
		align:   16,
		quality: 90,
		events:  []effect.Event{{Tab: "sparkle", Function: "glitter", Value: 1}},
	})
	assert.ErrorIs(t, err, effect.ErrUnknownParam)
}

type countingSink struct {
	mu     sync.Mutex
	frames int
	last   image.Rectangle
}

func (s *countingSink) WriteFrame(img *image.RGBA) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames++
	s.last = img.Bounds()
	return nil
}

func (s *countingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames
}

func TestPipelineRunsTestPattern(t *testing.T) {
	cfg := config.Defaults()
	cfg.Source.Width, cfg.Source.Height, cfg.Source.FPS = 64, 48, 60
	cfg.Render.Width, cfg.Render.Height = 96, 64

	p, err := newPipeline(cfg, afero.NewMemMapFs(), "/captures")
	require.NoError(t, err)
	require.NotNil(t, p.overlay)
	_, ok := p.overlay.GetWidget("stats")
	assert.True(t, ok)

	sink := &countingSink{}
	p.loop.AddSink("test", sink)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, p.loop.Start(ctx))
	require.NoError(t, p.controller.Start(ctx))

	require.Eventually(t, func() bool {
		return p.renderer.Stats().Drawn > 0 && sink.count() > 0
	}, 5*time.Second, 10*time.Millisecond)
	assert.Len(t, p.statsLines(), 3)

	p.loop.Stop()
	p.close()
	assert.Equal(t, int64(0), p.pool.Stats().Outstanding)
}

func TestNewPipelineRejectsBadConfig(t *testing.T) {
	cfg := config.Defaults()
	cfg.Source.Kind = "webcam"
	_, err := newPipeline(cfg, afero.NewMemMapFs(), "/captures")
	assert.Error(t, err)

	cfg = config.Defaults()
	cfg.Render.Mode = "sometimes"
	_, err = newPipeline(cfg, afero.NewMemMapFs(), "/captures")
	assert.Error(t, err)

	cfg = config.Defaults()
	cfg.Source.Kind = "none"
	p, err := newPipeline(cfg, afero.NewMemMapFs(), "/captures")
	require.NoError(t, err)
	assert.Nil(t, p.camera)
	p.close()
}
