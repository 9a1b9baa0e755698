package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/cjeanneret/picapture/internal/config"
	"github.com/cjeanneret/picapture/internal/hw/camera"
	"github.com/cjeanneret/picapture/internal/hw/gpio"
	"github.com/cjeanneret/picapture/internal/hw/indicator"
	"github.com/cjeanneret/picapture/internal/logging"
	"github.com/cjeanneret/picapture/internal/logic/capture"
	"github.com/cjeanneret/picapture/internal/storage"
)

// Log records go to stderr; stdout carries nothing.
var logOutput io.Writer = os.Stderr

func main() {
	start := time.Now()
	code := 0
	cmd := newRootCmd(start, logOutput, &code)
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	os.Exit(code)
}

// cliOptions holds the parsed command-line flags.
type cliOptions struct {
	configPath   string
	nfs          bool
	keep         bool
	strict       bool
	logstashHost string
	logstashPort int
}

func newRootCmd(start time.Time, logOut io.Writer, code *int) *cobra.Command {
	var opts cliOptions

	cmd := &cobra.Command{
		Use:   "picapture",
		Short: "Capture a still image and optionally copy it to NFS",
		Long: `picapture takes one 3280x2464 still from the Raspberry Pi camera, writes it to
the staging directory, optionally copies it to the NFS mount point and removes
the local file. Every step is logged as a JSON line, and optionally shipped to
Logstash as GELF over UDP.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if cmd.Flags().Changed("logstash-host") {
				cfg.Logging.LogstashHost = opts.logstashHost
			}
			if cmd.Flags().Changed("logstash-port") {
				cfg.Logging.LogstashPort = opts.logstashPort
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			res := run(cmd.Context(), cfg, opts, start, logOut)
			*code = exitCode(res, opts.strict)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.configPath, "config", config.DefaultPath, "path to config file")
	f.BoolVar(&opts.nfs, "nfs", false, "copy captured image to NFS share")
	f.BoolVar(&opts.keep, "keep", false, "keep local image file")
	f.StringVar(&opts.logstashHost, "logstash-host", "", "send logs to this Logstash host (GELF UDP)")
	f.IntVar(&opts.logstashPort, "logstash-port", 12201, "Logstash GELF UDP port")
	f.BoolVar(&opts.strict, "strict", false, "exit with status 1 when the run fails")

	return cmd
}

// run wires the hardware and executes one capture workflow.
func run(ctx context.Context, cfg *config.Config, opts cliOptions, start time.Time, logOut io.Writer) capture.Result {
	if ctx == nil {
		ctx = context.Background()
	}
	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	logger := logging.New(logOut, logging.Options{
		Level:        level,
		LogstashHost: cfg.Logging.LogstashHost,
		LogstashPort: cfg.Logging.LogstashPort,
		RunID:        uuid.NewString(),
	})
	defer logger.Close()

	cam := newCamera(cfg, logger.Logger)

	if cfg.Camera.LEDPin > 0 {
		drv, err := gpio.NewDriver(cfg.UseMockGPIO(), logger.Logger)
		if err != nil {
			logger.Warn("Busy LED disabled", logging.KeyError, err.Error())
		} else {
			defer drv.Close()
			led, err := indicator.NewLED(drv, cfg.Camera.LEDPin)
			if err != nil {
				logger.Warn("Busy LED disabled", logging.KeyError, err.Error())
			}
			cam = indicator.Wrap(cam, led)
		}
	}

	wf := capture.NewWorkflow(cam, storage.Local{}, logger.Logger, cfg.StagingDir())
	return wf.Run(ctx, capture.Options{
		Durable:    opts.nfs,
		MountPoint: cfg.Storage.MountPoint,
		Keep:       opts.keep,
		Start:      start,
	})
}

// newCamera selects a camera implementation based on configuration.
func newCamera(cfg *config.Config, log *slog.Logger) camera.Camera {
	if cfg.Camera.Type == config.CameraMock {
		return camera.NewMock()
	}
	return camera.NewRPiCam(cfg.Camera.Command, cfg.StagingDir(), log)
}

// exitCode is 0 unless strict is set and the run hit a fatal error.
// Failures are always logged; by default they do not change the exit status.
func exitCode(res capture.Result, strict bool) int {
	if strict && res.Err != nil {
		return 1
	}
	return 0
}
