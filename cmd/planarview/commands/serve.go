package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/bryanchriswhite/PlanarView/internal/api"
	"github.com/bryanchriswhite/PlanarView/internal/display"
	"github.com/bryanchriswhite/PlanarView/internal/logger"
	"github.com/bryanchriswhite/PlanarView/internal/output"
	"github.com/bryanchriswhite/PlanarView/internal/source"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the PlanarView pipeline and server",
	Long: `Start the camera, the render loop and the HTTP server.

The server provides the MJPEG stream, a viewer page with effect controls,
and a REST/WebSocket API for switching cameras, showing stills and
capturing frames.`,
	Example: `  # Start server on default port (8080)
  planarview serve

  # Start server on custom port
  planarview serve --port 9090

  # Start with specific config file
  planarview serve --config /path/to/config.yaml

  # Start with debug logging
  planarview serve --log-level debug --pretty`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	configMgr, err := loadConfig()
	if err != nil {
		return err
	}
	cfg := configMgr.Get()
	log := logger.WithComponent("serve")
	log.Info().
		Str("config", configMgr.GetConfigPath()).
		Str("source", cfg.Source.Kind).
		Str("mode", cfg.Render.Mode).
		Msg("Configuration loaded")

	p, err := newPipeline(cfg, afero.NewOsFs(), configMgr.CaptureDir())
	if err != nil {
		return fmt.Errorf("failed to build pipeline: %w", err)
	}
	defer p.close()

	var stream *output.MJPEGOutput
	if cfg.Output.MJPEG.Enabled {
		stream = output.NewMJPEGOutput(output.Config{
			Width:   cfg.Render.Width,
			Height:  cfg.Render.Height,
			FPS:     cfg.Render.FPS,
			Quality: cfg.Output.MJPEG.Quality,
		})
		if err := stream.Start(); err != nil {
			return fmt.Errorf("failed to start MJPEG output: %w", err)
		}
		defer stream.Stop()
		p.loop.AddSink("mjpeg", stream)
	}

	if cfg.Output.X11.Enabled {
		window, err := display.NewPresenter(cfg.Output.X11.Title, cfg.Render.Width, cfg.Render.Height)
		if err != nil {
			log.Warn().Err(err).Msg("X11 preview window unavailable")
		} else {
			window.OnResize(p.loop.Resize)
			if err := window.Start(); err != nil {
				log.Warn().Err(err).Msg("Failed to open X11 preview window")
			} else {
				defer window.Stop()
				p.loop.AddSink("x11", window)
			}
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := p.loop.Start(ctx); err != nil {
		return fmt.Errorf("failed to start render loop: %w", err)
	}
	defer p.loop.Stop()

	if err := p.controller.Start(ctx); err != nil {
		// the API can still show stills
		log.Error().Err(err).Msg("Camera unavailable")
	}

	server := api.NewServer(api.Options{
		Preview:  p.controller,
		Renderer: p.renderer,
		Loop:     p.loop,
		Config:   configMgr,
		Stream:   stream,
		Pool:     p.pool,
		StillLimits: source.StillLimits{
			MaxLongSide:  cfg.Still.MaxLongSide,
			MaxShortSide: cfg.Still.MaxShortSide,
		},
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(cfg.ServerPort)
	}()

	log.Info().
		Str("viewer", fmt.Sprintf("http://localhost:%d", cfg.ServerPort)).
		Str("api", fmt.Sprintf("http://localhost:%d/api", cfg.ServerPort)).
		Msg("PlanarView is running, press Ctrl+C to stop")

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	log.Info().Msg("Shutting down gracefully...")
	if stream != nil {
		// ends open MJPEG responses so Shutdown does not wait on them
		stream.Stop()
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("HTTP shutdown")
	}
	return nil
}
