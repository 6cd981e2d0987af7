//go:build linux

package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/danielgtaylor/huma/v2/humacli"
	"golang.org/x/sync/errgroup"

	"github.com/smazurov/uvccore/cmd"
	"github.com/smazurov/uvccore/internal/capture"
	"github.com/smazurov/uvccore/internal/config"
	"github.com/smazurov/uvccore/internal/discovery"
	"github.com/smazurov/uvccore/internal/events"
	"github.com/smazurov/uvccore/internal/logging"
	"github.com/smazurov/uvccore/internal/metrics"
	"github.com/smazurov/uvccore/internal/metrics/collectors"
	"github.com/smazurov/uvccore/internal/metrics/exporters"
	"github.com/smazurov/uvccore/internal/version"
	"github.com/smazurov/uvccore/pkg/linuxav/v4l2"
)

// Options for the CLI - flat structure with toml mapping.
type Options struct {
	Config string `help:"Path to configuration file" short:"c" default:"uvccore.toml"`

	// Session file; when set it overrides the device and format options and is reloaded on change
	SessionFile string `help:"Capture session file (reloaded on change)" default:"" toml:"session.file" env:"SESSION_FILE"`

	// Device settings
	DevicePath    string `help:"Capture device node or /dev/v4l/by-id name" short:"d" default:"/dev/video0" toml:"device.path" env:"DEVICE_PATH"`
	DeviceMethod  string `help:"Capture method (mmap, read)" default:"mmap" toml:"device.method" env:"DEVICE_METHOD"`
	DeviceBuffers int    `help:"Number of mmap buffers" default:"4" toml:"device.buffers" env:"DEVICE_BUFFERS"`
	DeviceRetry   string `help:"Delay between reopen attempts" default:"2s" toml:"device.retry" env:"DEVICE_RETRY"`

	// Format settings
	FormatPixelFormat string `help:"Pixel format fourcc (empty: first decodable)" default:"" toml:"format.pixel_format" env:"FORMAT_PIXEL_FORMAT"`
	FormatWidth       int    `help:"Frame width (0: device default)" default:"0" toml:"format.width" env:"FORMAT_WIDTH"`
	FormatHeight      int    `help:"Frame height (0: device default)" default:"0" toml:"format.height" env:"FORMAT_HEIGHT"`
	FormatFPS         int    `help:"Frames per second (0: keep driver interval)" default:"0" toml:"format.fps" env:"FORMAT_FPS"`

	// Metrics settings
	MetricsListen     string `help:"Prometheus listen address (empty disables)" default:":9464" toml:"metrics.listen" env:"METRICS_LISTEN"`
	MetricsUVCDebugfs string `help:"uvcvideo debugfs directory" default:"/sys/kernel/debug/usb/uvcvideo" toml:"metrics.uvc_debugfs" env:"METRICS_UVC_DEBUGFS"`

	// Logging settings
	LoggingLevel     string `help:"Global logging level (debug, info, warn, error)" default:"info" toml:"logging.level" env:"LOGGING_LEVEL"`
	LoggingFormat    string `help:"Logging format (text, json)" default:"text" toml:"logging.format" env:"LOGGING_FORMAT"`
	LoggingV4L2      string `help:"V4L2 session logging level" default:"info" toml:"logging.v4l2" env:"LOGGING_V4L2"`
	LoggingCapture   string `help:"Capture runner logging level" default:"info" toml:"logging.capture" env:"LOGGING_CAPTURE"`
	LoggingDiscovery string `help:"Device discovery logging level" default:"info" toml:"logging.discovery" env:"LOGGING_DISCOVERY"`
	LoggingConfig    string `help:"Config watcher logging level" default:"info" toml:"logging.config" env:"LOGGING_CONFIG"`
	LoggingMetrics   string `help:"Metrics logging level" default:"info" toml:"logging.metrics" env:"LOGGING_METRICS"`
}

// sessionConfig builds the capture session from the flat options, or loads
// the session file when one is configured.
func (o *Options) sessionConfig() (config.SessionConfig, error) {
	if o.SessionFile != "" {
		return config.LoadSessionConfig(o.SessionFile)
	}
	cfg := config.SessionConfig{
		Device: config.DeviceConfig{
			Path:    o.DevicePath,
			Method:  o.DeviceMethod,
			Buffers: o.DeviceBuffers,
		},
		Format: config.FormatConfig{
			PixelFormat: o.FormatPixelFormat,
			Width:       uint32(max(o.FormatWidth, 0)),
			Height:      uint32(max(o.FormatHeight, 0)),
			FPS:         uint32(max(o.FormatFPS, 0)),
		},
	}
	return cfg, cfg.Validate()
}

func (o *Options) loggingConfig() logging.Config {
	return logging.Config{
		Level:  o.LoggingLevel,
		Format: o.LoggingFormat,
		Modules: map[string]string{
			logging.ModuleV4L2:      o.LoggingV4L2,
			logging.ModuleCapture:   o.LoggingCapture,
			logging.ModuleDiscovery: o.LoggingDiscovery,
			logging.ModuleConfig:    o.LoggingConfig,
			logging.ModuleMetrics:   o.LoggingMetrics,
		},
	}
}

func main() {
	var cli humacli.CLI
	cli = humacli.New(func(hooks humacli.Hooks, opts *Options) {
		// Load configuration automatically
		if loadErr := config.LoadConfig(opts, cli.Root()); loadErr != nil {
			slog.Warn("Failed to load config", "error", loadErr)
		}

		logging.Initialize(opts.loggingConfig())
		logger := logging.GetLogger(logging.ModuleMain)

		sessionCfg, err := opts.sessionConfig()
		if err != nil {
			logger.Error("Invalid capture configuration", "error", err)
			os.Exit(1)
		}
		retry, err := time.ParseDuration(opts.DeviceRetry)
		if err != nil || retry <= 0 {
			retry = 2 * time.Second
		}

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})

		hooks.OnStart(func() {
			defer close(done)
			if runErr := run(ctx, opts, sessionCfg, retry, logger); runErr != nil {
				logger.Error("Daemon stopped with error", "error", runErr)
				os.Exit(1)
			}
		})

		hooks.OnStop(func() {
			logger.Info("Shutting down")
			_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
			cancel()
			select {
			case <-done:
			case <-time.After(10 * time.Second):
				logger.Warn("Shutdown timed out")
			}
		})
	})

	cli.Root().Version = version.Get().String()
	for _, sub := range cmd.Commands() {
		cli.Root().AddCommand(sub)
	}

	// Run the CLI
	cli.Run()
}

// run wires the event bus, metrics, discovery, the capture runner and the
// session file watcher, then blocks until ctx ends or one of them fails.
func run(ctx context.Context, opts *Options, sessionCfg config.SessionConfig, retry time.Duration, logger *slog.Logger) error {
	bus := events.New()

	eventCollector := collectors.NewEventCollector(bus)
	eventCollector.Start()
	defer eventCollector.Stop()

	uvcStats := collectors.NewUVCStatsCollector(opts.MetricsUVCDebugfs, 5*time.Second)
	if err := uvcStats.Start(ctx); err != nil {
		logger.Warn("Failed to start uvcvideo stats collector", "error", err)
	}
	defer uvcStats.Stop()

	g, gctx := errgroup.WithContext(ctx)

	if opts.MetricsListen != "" {
		srv, err := exporters.Listen(opts.MetricsListen)
		if err != nil {
			return err
		}
		g.Go(func() error { return srv.Serve(gctx) })
	}

	watcher := discovery.NewWatcher(discovery.NewScanner(), bus)
	g.Go(func() error {
		if err := watcher.Run(gctx); err != nil {
			// The runner falls back to timed reopen attempts.
			logger.Warn("Hotplug monitoring unavailable", "error", err)
		}
		return nil
	})

	runner := capture.NewRunner(sessionCfg, bus,
		capture.WithRetry(retry),
		capture.WithSessionOptions(v4l2.WithObserver(metrics.NewObserver())),
	)
	g.Go(func() error { return runner.Run(gctx) })

	if opts.SessionFile != "" {
		cw := config.NewConfigWatcher(opts.SessionFile, config.LoadSessionConfig, logging.GetLogger(logging.ModuleConfig),
			config.WithErrorHandler[config.SessionConfig](func(err error) {
				logger.Warn("Session file rejected, keeping current configuration", "error", err)
			}))
		cw.OnReload(runner.Apply)
		if err := cw.Start(gctx); err != nil {
			logger.Warn("Failed to watch session file", "path", opts.SessionFile, "error", err)
		} else {
			defer cw.Stop()
		}
	}

	if _, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		logger.Debug("sd_notify failed", "error", err)
	}
	logger.Info("uvccore started", "version", version.Version, "device", sessionCfg.Device.Path, "method", sessionCfg.Device.Method)

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
