package config

// Config is the full PlanarView configuration
type Config struct {
	ServerPort int    `json:"server_port" yaml:"server_port" mapstructure:"server_port" validate:"gte=1 & lte=65535"`
	LogLevel   string `json:"log_level" yaml:"log_level" mapstructure:"log_level" validate:"one_of=trace,debug,info,warn,error"`

	Render  RenderConfig  `json:"render" yaml:"render" mapstructure:"render"`
	Source  SourceConfig  `json:"source" yaml:"source" mapstructure:"source"`
	Still   StillConfig   `json:"still" yaml:"still" mapstructure:"still"`
	Output  OutputConfig  `json:"output" yaml:"output" mapstructure:"output"`
	Capture CaptureConfig `json:"capture" yaml:"capture" mapstructure:"capture"`
	Overlay OverlayConfig `json:"overlay" yaml:"overlay" mapstructure:"overlay"`
}

// RenderConfig sizes the render surface and picks the scheduling mode
type RenderConfig struct {
	Width  int    `json:"width" yaml:"width" mapstructure:"width" validate:"gte=16 & lte=7680"`
	Height int    `json:"height" yaml:"height" mapstructure:"height" validate:"gte=16 & lte=4320"`
	FPS    int    `json:"fps" yaml:"fps" mapstructure:"fps" validate:"gte=1 & lte=120"`
	Mode   string `json:"mode" yaml:"mode" mapstructure:"mode" validate:"one_of=continuous,on_demand"`
	Mirror bool   `json:"mirror" yaml:"mirror" mapstructure:"mirror"`
}

// SourceConfig selects and configures the camera
type SourceConfig struct {
	Kind          string `json:"kind" yaml:"kind" mapstructure:"kind" validate:"one_of=testpattern,v4l2,x11,none"`
	Device        string `json:"device" yaml:"device" mapstructure:"device"`
	FrontDevice   string `json:"front_device" yaml:"front_device" mapstructure:"front_device"`
	Width         int    `json:"width" yaml:"width" mapstructure:"width" validate:"gte=2 & lte=7680"`
	Height        int    `json:"height" yaml:"height" mapstructure:"height" validate:"gte=2 & lte=4320"`
	FPS           int    `json:"fps" yaml:"fps" mapstructure:"fps" validate:"gte=1 & lte=120"`
	StartFront    bool   `json:"start_front" yaml:"start_front" mapstructure:"start_front"`
	RotationBack  int    `json:"rotation_back" yaml:"rotation_back" mapstructure:"rotation_back" validate:"one_of=0,90,180,270"`
	RotationFront int    `json:"rotation_front" yaml:"rotation_front" mapstructure:"rotation_front" validate:"one_of=0,90,180,270"`
	MirrorFront   bool   `json:"mirror_front" yaml:"mirror_front" mapstructure:"mirror_front"`
	PoolAlign     int    `json:"pool_align" yaml:"pool_align" mapstructure:"pool_align" validate:"gte=1 & lte=4096"`
}

// StillConfig bounds decoded still images
type StillConfig struct {
	MaxLongSide  int `json:"max_long_side" yaml:"max_long_side" mapstructure:"max_long_side" validate:"gte=16"`
	MaxShortSide int `json:"max_short_side" yaml:"max_short_side" mapstructure:"max_short_side" validate:"gte=16"`
}

// OutputConfig enables presentation sinks
type OutputConfig struct {
	MJPEG MJPEGConfig `json:"mjpeg" yaml:"mjpeg" mapstructure:"mjpeg"`
	X11   X11Config   `json:"x11" yaml:"x11" mapstructure:"x11"`
}

// MJPEGConfig configures the HTTP stream
type MJPEGConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled" mapstructure:"enabled"`
	Quality int  `json:"quality" yaml:"quality" mapstructure:"quality" validate:"gte=1 & lte=100"`
}

// X11Config configures the preview window
type X11Config struct {
	Enabled bool   `json:"enabled" yaml:"enabled" mapstructure:"enabled"`
	Title   string `json:"title" yaml:"title" mapstructure:"title"`
}

// CaptureConfig configures captured stills
type CaptureConfig struct {
	Dir     string `json:"dir" yaml:"dir" mapstructure:"dir" validate:"empty=false"`
	Quality int    `json:"quality" yaml:"quality" mapstructure:"quality" validate:"gte=1 & lte=100"`
}

// OverlayConfig configures the HUD stamped on presented frames
type OverlayConfig struct {
	Enabled bool                     `json:"enabled" yaml:"enabled" mapstructure:"enabled"`
	Stats   bool                     `json:"stats" yaml:"stats" mapstructure:"stats"`
	Widgets []map[string]interface{} `json:"widgets" yaml:"widgets" mapstructure:"widgets"`
}

// Defaults returns the configuration written on first run
func Defaults() *Config {
	return &Config{
		ServerPort: 8080,
		LogLevel:   "info",
		Render: RenderConfig{
			Width:  1280,
			Height: 720,
			FPS:    30,
			Mode:   "on_demand",
		},
		Source: SourceConfig{
			Kind:          "testpattern",
			Device:        "/dev/video0",
			FrontDevice:   "/dev/video1",
			Width:         1280,
			Height:        720,
			FPS:           30,
			RotationBack:  0,
			RotationFront: 0,
			MirrorFront:   true,
			PoolAlign:     64,
		},
		Still: StillConfig{
			MaxLongSide:  1920,
			MaxShortSide: 1080,
		},
		Output: OutputConfig{
			MJPEG: MJPEGConfig{Enabled: true, Quality: 80},
			X11:   X11Config{Enabled: false, Title: "PlanarView"},
		},
		Capture: CaptureConfig{
			Dir:     "captures",
			Quality: 92,
		},
		Overlay: OverlayConfig{
			Enabled: true,
			Stats:   true,
			Widgets: []map[string]interface{}{},
		},
	}
}
