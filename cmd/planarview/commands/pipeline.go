package commands

import (
	"fmt"

	"github.com/spf13/afero"

	"github.com/bryanchriswhite/PlanarView/internal/config"
	"github.com/bryanchriswhite/PlanarView/internal/effect"
	"github.com/bryanchriswhite/PlanarView/internal/frame"
	"github.com/bryanchriswhite/PlanarView/internal/gpu/soft"
	"github.com/bryanchriswhite/PlanarView/internal/overlay"
	"github.com/bryanchriswhite/PlanarView/internal/preview"
	"github.com/bryanchriswhite/PlanarView/internal/render"
	"github.com/bryanchriswhite/PlanarView/internal/snapshot"
	"github.com/bryanchriswhite/PlanarView/internal/source"
	"github.com/bryanchriswhite/PlanarView/internal/source/gstcam"
	"github.com/bryanchriswhite/PlanarView/internal/source/x11grab"
)

// pipeline is every component between the camera and the sinks
type pipeline struct {
	pool       *frame.Pool
	camera     source.Camera
	engine     *effect.Beauty
	renderer   *render.Renderer
	surface    *soft.Device
	loop       *render.Loop
	controller *preview.Controller
	saver      *snapshot.Saver
	overlay    *overlay.Manager
}

// newCamera builds the configured producer; kind "none" returns nil
func newCamera(cfg config.SourceConfig, pool *frame.Pool) (source.Camera, error) {
	switch cfg.Kind {
	case "testpattern":
		tp := source.NewTestPattern(cfg.Width, cfg.Height, cfg.FPS, pool)
		tp.SetFront(cfg.StartFront)
		return tp, nil
	case "v4l2":
		return gstcam.New(gstcam.Config{
			BackDevice:  cfg.Device,
			FrontDevice: cfg.FrontDevice,
			Width:       cfg.Width,
			Height:      cfg.Height,
			FPS:         cfg.FPS,
			StartFront:  cfg.StartFront,
		}), nil
	case "x11":
		return x11grab.New(x11grab.Config{FPS: cfg.FPS, StartFront: cfg.StartFront}, pool), nil
	case "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown source kind: %s", cfg.Kind)
	}
}

// newPipeline wires camera, engine, controller, renderer and loop.
// captureDir is resolved on fs.
func newPipeline(cfg *config.Config, fs afero.Fs, captureDir string) (*pipeline, error) {
	rotBack, err := frame.ParseRotation(cfg.Source.RotationBack)
	if err != nil {
		return nil, err
	}
	rotFront, err := frame.ParseRotation(cfg.Source.RotationFront)
	if err != nil {
		return nil, err
	}
	mode, err := render.ParseMode(cfg.Render.Mode)
	if err != nil {
		return nil, err
	}

	p := &pipeline{pool: frame.NewPool(cfg.Source.PoolAlign)}
	if p.camera, err = newCamera(cfg.Source, p.pool); err != nil {
		return nil, err
	}

	p.engine = effect.NewBeauty(p.pool)
	p.renderer = render.NewRenderer()
	p.renderer.SetMirror(cfg.Render.Mirror)
	p.surface = soft.New(cfg.Render.Width, cfg.Render.Height)
	p.loop = render.NewLoop(p.renderer, p.surface, render.LoopConfig{Mode: mode, FPS: cfg.Render.FPS})
	p.saver = snapshot.NewSaver(fs, captureDir, cfg.Capture.Quality)

	p.controller = preview.New(p.camera, p.engine, p.renderer, p.saver, preview.Options{
		RotationBack:  rotBack,
		RotationFront: rotFront,
		MirrorFront:   cfg.Source.MirrorFront,
		Pool:          p.pool,
	})
	p.renderer.SetFrameProvider(p.controller)

	if cfg.Overlay.Enabled {
		p.overlay = overlay.NewManager(p.statsLines)
		if cfg.Overlay.Stats {
			p.overlay.AddWidget(overlay.NewStatsWidget("stats", p.statsLines, nil))
		}
		p.overlay.LoadFromConfig(cfg.Overlay.Widgets)
		p.loop.SetCompositor(p.overlay)
	}
	return p, nil
}

// statsLines feeds the HUD stats widget
func (p *pipeline) statsLines() []string {
	rs := p.renderer.Stats()
	ls := p.loop.Stats()
	ps := p.controller.Status()
	ts := p.pool.Stats()
	return []string{
		fmt.Sprintf("%s %s  %dx%d", ps.Mode, ls.Mode, rs.FrameWidth, rs.FrameHeight),
		fmt.Sprintf("drawn %d  blank %d  errors %d", rs.Drawn, rs.Blank, rs.DataErrors),
		fmt.Sprintf("received %d  dropped %d  pool %d", ps.Received, ps.Dropped, ts.Outstanding),
	}
}

// close stops the controller and flushes pending captures. The loop is
// stopped by its owner.
func (p *pipeline) close() {
	p.controller.Stop()
	p.saver.Close()
}
