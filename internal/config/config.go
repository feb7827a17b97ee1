package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"

	"github.com/gpu-screen-rec/gpu-screen-rec/internal/logging"
)

var log = logging.L("config")

// Config is the fully resolved configuration for one capture session,
// assembled from CLI flags, the GSR_* env vars, and an optional YAML file,
// in that order of precedence.
type Config struct {
	// Window selects the capture source: a monitor name/connector, an X11
	// window id ("0x" prefixed hex), "focused", or "portal".
	Window string `mapstructure:"window"`
	// FPS is the frame pacer's target rate.
	FPS int `mapstructure:"fps"`
	// Codec is one of h264, hevc, hevc_hdr, hevc_10bit, av1, av1_hdr, av1_10bit, vp8, vp9.
	Codec string `mapstructure:"codec"`
	// FrameMode is cfr, vfr, or content.
	FrameMode string `mapstructure:"frame_mode"`
	// BitrateMode is auto, qp, or vbr.
	BitrateMode string `mapstructure:"bitrate_mode"`
	// ColorRange is limited or full.
	ColorRange string `mapstructure:"color_range"`
	// KeyintSeconds is the target wall-clock spacing between keyframes.
	KeyintSeconds float64 `mapstructure:"keyint_seconds"`
	// ReplaySeconds is the rolling replay buffer span in seconds; 0 disables
	// replay mode. Valid range is [5, 1200].
	ReplaySeconds int `mapstructure:"replay_seconds"`
	// Encoder is gpu or cpu.
	Encoder string `mapstructure:"encoder"`
	// CursorEnabled toggles cursor capture and composition.
	CursorEnabled bool `mapstructure:"cursor_enabled"`
	// OutputPath is a file path, a directory (replay mode), or "/dev/stdout".
	OutputPath string `mapstructure:"output_path"`
	// RestorePortalSession re-reads the saved xdg-desktop-portal restore
	// token instead of prompting the user again.
	RestorePortalSession bool `mapstructure:"restore_portal_session"`

	// Logging configuration.
	LogLevel      string `mapstructure:"log_level"`
	LogFormat     string `mapstructure:"log_format"`
	LogFile       string `mapstructure:"log_file"`
	LogMaxSizeMB  int    `mapstructure:"log_max_size_mb"`
	LogMaxBackups int    `mapstructure:"log_max_backups"`

	// StreamPort is the TCP side-channel listen port.
	StreamPort int `mapstructure:"stream_port"`
}

func Default() *Config {
	return &Config{
		Window:        "screen",
		FPS:           60,
		Codec:         "h264",
		FrameMode:     "vfr",
		BitrateMode:   "auto",
		ColorRange:    "limited",
		KeyintSeconds: 2.0,
		ReplaySeconds: 0,
		Encoder:       "gpu",
		CursorEnabled: true,

		LogLevel:      "info",
		LogFormat:     "text",
		LogMaxSizeMB:  50,
		LogMaxBackups: 3,

		StreamPort: 53516,
	}
}

func Load(cfgFile string) (*Config, error) {
	cfg := Default()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("gpu-screen-rec")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(configDir())
		viper.AddConfigPath(".")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("GSR")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	if err := viper.Unmarshal(cfg); err != nil {
		return nil, err
	}

	// Validate config: fatals block startup, warnings are logged and continue.
	result := cfg.ValidateTiered()
	for _, err := range result.Warnings {
		log.Warn("config validation", "error", err)
	}
	if result.HasFatals() {
		for _, err := range result.Fatals {
			log.Error("config validation fatal", "error", err)
		}
		return nil, fmt.Errorf("config has fatal validation errors: %v", result.Fatals[0])
	}

	return cfg, nil
}

func Save(cfg *Config) error {
	return SaveTo(cfg, "")
}

func SaveTo(cfg *Config, cfgFile string) error {
	viper.Set("window", cfg.Window)
	viper.Set("fps", cfg.FPS)
	viper.Set("codec", cfg.Codec)
	viper.Set("frame_mode", cfg.FrameMode)
	viper.Set("bitrate_mode", cfg.BitrateMode)
	viper.Set("color_range", cfg.ColorRange)
	viper.Set("keyint_seconds", cfg.KeyintSeconds)
	viper.Set("replay_seconds", cfg.ReplaySeconds)
	viper.Set("encoder", cfg.Encoder)
	viper.Set("cursor_enabled", cfg.CursorEnabled)
	viper.Set("output_path", cfg.OutputPath)

	var cfgPath string
	if cfgFile != "" {
		cfgPath = cfgFile
		dir := filepath.Dir(cfgPath)
		if dir != "." {
			if err := os.MkdirAll(dir, 0700); err != nil {
				return err
			}
		}
	} else {
		cfgPath = filepath.Join(configDir(), "gpu-screen-rec.yaml")
		if err := os.MkdirAll(configDir(), 0700); err != nil {
			return err
		}
	}

	if err := viper.WriteConfigAs(cfgPath); err != nil {
		return err
	}

	return os.Chmod(cfgPath, 0600)
}

// configDir returns $XDG_CONFIG_HOME/gpu-screen-recorder, the directory
// holding the optional YAML config file and the portal restore token.
func configDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "gpu-screen-recorder")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/gpu-screen-recorder"
	}
	return filepath.Join(home, ".config", "gpu-screen-recorder")
}

// RestoreTokenPath is where the xdg-desktop-portal restore token persists
// across runs when RestorePortalSession is set.
func RestoreTokenPath() string {
	return filepath.Join(configDir(), "restore_token")
}
