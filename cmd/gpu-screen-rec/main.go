// Command gpu-screen-rec is the CLI entry point for the capture dataplane:
// it parses flags onto a config.Config, resolves the capability probe
// flags (--info, --list-audio-devices, --version) without touching the
// capture pipeline, and otherwise builds a session.Session and runs it
// until a shutdown signal lands.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/gpu-screen-rec/gpu-screen-rec/internal/capture/encoder"
	captureerrors "github.com/gpu-screen-rec/gpu-screen-rec/internal/capture/errors"
	"github.com/gpu-screen-rec/gpu-screen-rec/internal/capture/gpu"
	"github.com/gpu-screen-rec/gpu-screen-rec/internal/capture/session"
	"github.com/gpu-screen-rec/gpu-screen-rec/internal/config"
	"github.com/gpu-screen-rec/gpu-screen-rec/internal/logging"
)

var version = "0.1.0"

var log = logging.L("main")

var (
	cfgFile          string
	showInfo         bool
	listAudioDevices bool
	showVersion      bool
	cursorFlag       = yesNoValue(true)
)

// yesNoValue implements pflag.Value so -cursor accepts "yes"/"no" the way
// spec §6 names it instead of Go's default true/false boolean syntax.
type yesNoValue bool

func (v *yesNoValue) String() string {
	if *v {
		return "yes"
	}
	return "no"
}

func (v *yesNoValue) Set(s string) error {
	switch strings.ToLower(s) {
	case "yes", "true", "1":
		*v = true
	case "no", "false", "0":
		*v = false
	default:
		return fmt.Errorf("must be yes or no, got %q", s)
	}
	return nil
}

func (v *yesNoValue) Type() string { return "yesno" }

var rootCmd = &cobra.Command{
	Use:   "gpu-screen-rec",
	Short: "GPU-accelerated screen capture and encode",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showVersion {
			fmt.Printf("gpu-screen-rec v%s\n", version)
			return nil
		}
		if showInfo {
			return runInfo()
		}
		if listAudioDevices {
			return runListAudioDevices()
		}
		return runCapture(cmd.Context(), cmd.Flags().Changed("cursor"))
	},
}

func init() {
	flags := rootCmd.Flags()
	flags.StringVarP(&cfgFile, "config", "c", "", "config file (default $XDG_CONFIG_HOME/gpu-screen-recorder/gpu-screen-rec.yaml)")

	flags.StringP("window", "w", "", "window|monitor|focused|portal")
	flags.IntP("fps", "f", 0, "target frame rate")
	flags.StringP("codec", "k", "", "h264|hevc|hevc_hdr|hevc_10bit|av1|av1_hdr|av1_10bit|vp8|vp9")
	flags.String("fm", "", "frame mode: cfr|vfr|content")
	flags.String("bm", "", "bitrate mode: auto|qp|vbr")
	flags.String("cr", "", "color range: limited|full")
	flags.Float64("keyint", 0, "keyframe interval in seconds")
	flags.IntP("replay", "r", 0, "replay buffer length in seconds, 0 disables replay mode")
	flags.String("encoder", "", "gpu|cpu")
	flags.VarP(&cursorFlag, "cursor", "", "yes|no")
	flags.StringP("output", "o", "", "output file, directory (replay mode), or /dev/stdout")
	flags.Bool("restore-portal-session", false, "reuse the saved xdg-desktop-portal session instead of prompting")

	flags.String("log-level", "", "debug|info|warn|error")
	flags.String("log-format", "", "text|json")
	flags.String("log-file", "", "log file path, empty logs to stdout only")

	flags.BoolVar(&showInfo, "info", false, "print detected GPU/codec/backend capabilities and exit")
	flags.BoolVar(&listAudioDevices, "list-audio-devices", false, "list available audio devices and exit")
	flags.BoolVar(&showVersion, "version", false, "print the version and exit")

	bind(flags, "window", "window")
	bind(flags, "fps", "fps")
	bind(flags, "codec", "codec")
	bind(flags, "fm", "frame_mode")
	bind(flags, "bm", "bitrate_mode")
	bind(flags, "cr", "color_range")
	bind(flags, "keyint", "keyint_seconds")
	bind(flags, "replay", "replay_seconds")
	bind(flags, "encoder", "encoder")
	bind(flags, "output", "output_path")
	bind(flags, "restore-portal-session", "restore_portal_session")
	bind(flags, "log-level", "log_level")
	bind(flags, "log-format", "log_format")
	bind(flags, "log-file", "log_file")
}

// bind wires a cobra flag into the package-level viper singleton config.Load
// reads from, under the mapstructure key config.go's Config struct expects,
// only if the flag was actually set — otherwise viper falls through to the
// config file/env var/default, matching the teacher's precedence order.
func bind(flags *pflag.FlagSet, flagName, key string) {
	if err := viper.BindPFlag(key, flags.Lookup(flagName)); err != nil {
		fmt.Fprintf(os.Stderr, "gpu-screen-rec: bind %s: %v\n", flagName, err)
	}
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCodeFor(err))
	}
}

// exitCodeFor maps a run error onto spec §6's exit codes. GL init failure
// (22) and no-DRM-card (23) both surface as FatalCapture from session.New;
// the wrapped message's stage prefix disambiguates which one applies.
// Everything else falls back to captureerrors.ExitCode.
func exitCodeFor(err error) int {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "gpu runtime load"):
		return 22
	case strings.Contains(msg, "kms broker"):
		return 23
	default:
		if code := captureerrors.ExitCode(err); code != 0 {
			return code
		}
		return 1
	}
}

func initLogging(cfg *config.Config) {
	var output io.Writer = os.Stdout
	if cfg.LogFile != "" {
		rw, err := logging.NewRotatingWriter(cfg.LogFile, cfg.LogMaxSizeMB, cfg.LogMaxBackups)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to open log file %s: %v (logging to stdout)\n", cfg.LogFile, err)
		} else {
			output = logging.TeeWriter(os.Stdout, rw)
		}
	}
	logging.Init(cfg.LogFormat, cfg.LogLevel, output)
	log = logging.L("main")
}

// runCapture is the default action: build a session from the resolved
// config and block until a shutdown signal lands (spec §5). cursorSet is
// applied after config.Load directly rather than through viper, since
// viper's pflag bridge has no notion of -cursor's yes/no spelling; this
// keeps the CLI > config file > default precedence order without
// depending on mapstructure coercing a custom pflag.Value.
func runCapture(ctx context.Context, cursorSet bool) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return captureerrors.Config("%v", err)
	}
	if cursorSet {
		cfg.CursorEnabled = bool(cursorFlag)
	}
	initLogging(cfg)

	helperPath, err := kmsHelperPath()
	if err != nil {
		return captureerrors.FatalCapture("kms broker: locate helper: %v", err)
	}

	sess, err := session.New(ctx, *cfg, helperPath)
	if err != nil {
		return err
	}
	defer sess.Close()

	log.Info("capture session started", "window", cfg.Window, "codec", cfg.Codec, "fps", cfg.FPS)
	return sess.Run(ctx)
}

// kmsHelperPath locates the gsr-kms-helper binary next to the running
// executable first, falling back to $PATH, the way updater.restartExec
// resolves its own sibling binary.
func kmsHelperPath() (string, error) {
	if exe, err := os.Executable(); err == nil {
		sibling := filepath.Join(filepath.Dir(exe), "gsr-kms-helper")
		if _, statErr := os.Stat(sibling); statErr == nil {
			return sibling, nil
		}
	}
	return exec.LookPath("gsr-kms-helper")
}

// runInfo implements the read-only capability probe supplementing §6's
// CLI surface: GPU vendor, per-adapter codec support, and DRM/portal/NvFBC
// backend availability, none of which starts a capture session.
func runInfo() error {
	rt := gpu.New()
	if err := rt.Load(false, true); err != nil {
		return captureerrors.FatalCapture("gpu runtime load: %v", err)
	}
	defer rt.Close()

	fmt.Printf("vendor: %s\n", rt.Vendor())
	fmt.Printf("display server: %s\n", displayServerName(rt))
	fmt.Printf("steam deck: %t\n", rt.IsSteamDeck())

	fmt.Println("backends:")
	fmt.Printf("  kms:    %s\n", backendAvailability(hasDRMCard()))
	fmt.Printf("  portal: %s\n", backendAvailability(hasPortalBus()))
	fmt.Printf("  nvfbc:  %s\n", backendAvailability(rt.Vendor() == gpu.VendorNVIDIA && hasNVFBCLibrary()))

	fmt.Println("encoders:")
	for _, adapterCap := range encoder.ProbeCapabilities() {
		kind := "software"
		if adapterCap.Hardware {
			kind = "hardware"
		}
		codecs := make([]string, 0, len(adapterCap.Codecs))
		for _, c := range adapterCap.Codecs {
			codecs = append(codecs, string(c))
		}
		fmt.Printf("  %s (%s): %s\n", adapterCap.Name, kind, strings.Join(codecs, ", "))
	}

	return nil
}

func displayServerName(rt *gpu.Runtime) string {
	if rt.GetDisplayServer() == gpu.DisplayServerWayland {
		return "wayland"
	}
	return "x11"
}

func backendAvailability(ok bool) string {
	if ok {
		return "available"
	}
	return "unavailable"
}

func hasDRMCard() bool {
	for i := 0; i < 4; i++ {
		if _, err := os.Stat(fmt.Sprintf("/dev/dri/card%d", i)); err == nil {
			return true
		}
	}
	return false
}

func hasPortalBus() bool {
	return os.Getenv("DBUS_SESSION_BUS_ADDRESS") != ""
}

func hasNVFBCLibrary() bool {
	for _, dir := range []string{"/usr/lib/x86_64-linux-gnu", "/usr/lib64", "/usr/lib"} {
		if _, err := os.Stat(filepath.Join(dir, "libnvidia-fbc.so.1")); err == nil {
			return true
		}
	}
	return false
}

// runListAudioDevices handles --list-audio-devices. Audio capture is out of
// scope for this dataplane, so it prints a notice and lists no devices.
func runListAudioDevices() error {
	fmt.Println("audio capture is not implemented by this dataplane; no devices to list")
	return nil
}
