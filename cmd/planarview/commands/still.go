package commands

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/bryanchriswhite/PlanarView/internal/effect"
	"github.com/bryanchriswhite/PlanarView/internal/frame"
	"github.com/bryanchriswhite/PlanarView/internal/gpu/soft"
	"github.com/bryanchriswhite/PlanarView/internal/preview"
	"github.com/bryanchriswhite/PlanarView/internal/render"
	"github.com/bryanchriswhite/PlanarView/internal/snapshot"
	"github.com/bryanchriswhite/PlanarView/internal/source"
)

var stillCmd = &cobra.Command{
	Use:   "still FILE",
	Short: "Render one still image through the pipeline",
	Long: `Decode an image, run it through the effect engine and the renderer, and
write the presented frame as a JPEG into the capture directory.`,
	Example: `  # Render at the image's own size
  planarview still photo.png

  # Letterbox into 1280x720 with effects
  planarview still photo.jpg --width 1280 --height 720 \
    --effect beauty/whitening=0.4 --effect filter/grayscale=1`,
	Args: cobra.ExactArgs(1),
	RunE: runStill,
}

var stillFlags struct {
	width   int
	height  int
	mirror  bool
	effects []string
	outDir  string
}

func init() {
	rootCmd.AddCommand(stillCmd)

	stillCmd.Flags().IntVar(&stillFlags.width, "width", 0, "surface width (default is the image width)")
	stillCmd.Flags().IntVar(&stillFlags.height, "height", 0, "surface height (default is the image height)")
	stillCmd.Flags().BoolVar(&stillFlags.mirror, "mirror", false, "mirror the output horizontally")
	stillCmd.Flags().StringArrayVarP(&stillFlags.effects, "effect", "e", nil, "panel event as tab/function=value (repeatable)")
	stillCmd.Flags().StringVarP(&stillFlags.outDir, "out", "o", "", "output directory (default is capture.dir)")
}

// parseEffect parses tab/function=value
func parseEffect(s string) (effect.Event, error) {
	name, raw, ok := strings.Cut(s, "=")
	if !ok {
		raw = "1"
	}
	tab, function, ok := strings.Cut(name, "/")
	if !ok || tab == "" || function == "" {
		return effect.Event{}, fmt.Errorf("invalid effect %q (want tab/function=value)", s)
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return effect.Event{}, fmt.Errorf("invalid effect value in %q: %w", s, err)
	}
	return effect.Event{Tab: tab, Function: function, Value: value}, nil
}

type stillOptions struct {
	width, height int
	mirror        bool
	events        []effect.Event
	limits        source.StillLimits
	align         int
	quality       int
}

// renderStill draws the image at in once and writes the frame into outDir.
// It returns the written path.
func renderStill(fs afero.Fs, in, outDir string, opts stillOptions) (string, error) {
	pool := frame.NewPool(opts.align)
	still, err := source.LoadStill(fs, in, opts.limits, pool)
	if err != nil {
		return "", err
	}

	engine := effect.NewBeauty(pool)
	for _, ev := range opts.events {
		if err := engine.HandleEvent(ev); err != nil {
			still.Release()
			return "", err
		}
	}

	w, h := opts.width, opts.height
	if w <= 0 {
		w = still.Width()
	}
	if h <= 0 {
		h = still.Height()
	}
	surface := soft.New(w, h)
	renderer := render.NewRenderer()
	if err := renderer.OnSurfaceCreated(surface); err != nil {
		still.Release()
		return "", err
	}
	defer renderer.Cleanup()
	renderer.OnSurfaceChanged(w, h)

	controller := preview.New(nil, engine, renderer, nil, preview.Options{Pool: pool})
	defer controller.Stop()
	renderer.SetFrameProvider(controller)
	if err := controller.SelectStill(still); err != nil {
		return "", err
	}
	renderer.SetMirror(opts.mirror)

	renderer.DrawFrame()
	if err := surface.Error(); err != nil {
		return "", fmt.Errorf("render failed: %w", err)
	}
	if renderer.Stats().Drawn == 0 {
		return "", fmt.Errorf("render failed: nothing drawn")
	}

	saver := snapshot.NewSaver(fs, outDir, opts.quality)
	defer saver.Close()
	return saver.WriteImage(surface.Snapshot())
}

func runStill(cmd *cobra.Command, args []string) error {
	configMgr, err := loadConfig()
	if err != nil {
		return err
	}
	cfg := configMgr.Get()

	opts := stillOptions{
		width:  stillFlags.width,
		height: stillFlags.height,
		mirror: stillFlags.mirror,
		limits: source.StillLimits{
			MaxLongSide:  cfg.Still.MaxLongSide,
			MaxShortSide: cfg.Still.MaxShortSide,
		},
		align:   cfg.Source.PoolAlign,
		quality: cfg.Capture.Quality,
	}
	for _, s := range stillFlags.effects {
		ev, err := parseEffect(s)
		if err != nil {
			return err
		}
		opts.events = append(opts.events, ev)
	}

	outDir := stillFlags.outDir
	if outDir == "" {
		outDir = configMgr.CaptureDir()
	}
	path, err := renderStill(afero.NewOsFs(), args[0], outDir, opts)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), path)
	return nil
}
