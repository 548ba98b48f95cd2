package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/bryanchriswhite/PlanarView/internal/config"
	"github.com/bryanchriswhite/PlanarView/internal/logger"
)

var (
	cfgFile    string
	prettyLogs bool
	rootCmd    = &cobra.Command{
		Use:   "planarview",
		Short: "PlanarView - planar YUV preview pipeline",
		Long: `PlanarView pulls planar YUV420 frames from a camera or a still image,
runs them through an effect engine and draws them letterboxed onto a
software GL surface.

Features:
  • V4L2 cameras through GStreamer, or a built-in test pattern
  • Front/back camera switching with per-facing rotation and mirroring
  • Beauty, adjust and filter effects driven by panel events
  • Continuous or on-demand rendering
  • MJPEG stream, X11 preview window and HUD overlay
  • JPEG captures of the processed frame
  • REST and WebSocket control API`,
	}
)

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/planarview/config.yaml)")
	rootCmd.PersistentFlags().Int("port", 0, "server port (default is 8080)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&prettyLogs, "pretty", false, "human-readable console logs")

	// Bind flags to viper
	viper.BindPFlag("server_port", rootCmd.PersistentFlags().Lookup("port"))
	viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// GetConfigFile returns the config file path
func GetConfigFile() string {
	return cfgFile
}

// loadConfig opens the config file and applies flag overrides without
// persisting them
func loadConfig() (*config.Manager, error) {
	configMgr, err := config.NewManager(GetConfigFile())
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if viper.IsSet("server_port") {
		if port := viper.GetInt("server_port"); port > 0 {
			if err := configMgr.Override("server_port", port); err != nil {
				return nil, fmt.Errorf("invalid --port: %w", err)
			}
		}
	}
	if viper.IsSet("log_level") {
		if level := viper.GetString("log_level"); level != "" {
			if err := configMgr.Override("log_level", level); err != nil {
				return nil, fmt.Errorf("invalid --log-level: %w", err)
			}
		}
	}

	logger.Init(configMgr.Get().LogLevel, prettyLogs)
	return configMgr, nil
}
