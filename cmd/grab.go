//go:build linux

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/smazurov/uvccore/internal/capture"
	"github.com/smazurov/uvccore/internal/config"
	"github.com/smazurov/uvccore/pkg/linuxav/v4l2"
)

type grabOptions struct {
	format  config.FormatConfig
	method  string
	buffers int
	count   uint64
	output  string
	dir     string
	timeout time.Duration
}

// CreateGrabCmd creates the grab command.
func CreateGrabCmd() *cobra.Command {
	var out outputFlags
	var opts grabOptions

	cmd := &cobra.Command{
		Use:   "grab [device]",
		Short: "Capture raw frames to disk",
		Long: `Commits a format, streams --count frames and writes their payloads either ` +
			`back to back into --output (use - for stdout) or one file per frame into --dir.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out.initLogging()
			path, err := resolveDevice(deviceArg(args))
			if err != nil {
				return err
			}
			cfg := config.SessionConfig{
				Device: config.DeviceConfig{Path: path, Method: opts.method, Buffers: opts.buffers},
				Format: opts.format,
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			sink, closeSink, err := opts.sink()
			if err != nil {
				return err
			}
			defer closeSink()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			if opts.timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, opts.timeout)
				defer cancel()
			}

			r := capture.NewRunner(cfg, nil, capture.WithSink(sink), capture.WithFrameLimit(opts.count))
			if err := r.Run(ctx); err != nil {
				return err
			}
			info := r.Info()
			fmt.Fprintf(cmd.ErrOrStderr(), "captured %d frame(s) as %s at %.2f fps\n", info.Frames, info.Format, info.FPS)
			return nil
		},
	}
	out.register(cmd)
	f := cmd.Flags()
	f.StringVarP(&opts.format.PixelFormat, "format", "f", "", "Pixel format fourcc (default: first decodable format)")
	f.Uint32Var(&opts.format.Width, "width", 0, "Frame width")
	f.Uint32Var(&opts.format.Height, "height", 0, "Frame height")
	f.Uint32Var(&opts.format.FPS, "fps", 0, "Frames per second")
	f.StringVarP(&opts.method, "method", "m", config.DefaultMethod, "Capture method (mmap or read)")
	f.IntVar(&opts.buffers, "buffers", config.DefaultBuffers, "Number of mmap buffers")
	f.Uint64VarP(&opts.count, "count", "n", 1, "Frames to capture")
	f.StringVarP(&opts.output, "output", "o", "", "Write frames back to back into this file")
	f.StringVarP(&opts.dir, "dir", "d", "", "Write one file per frame into this directory")
	f.DurationVar(&opts.timeout, "timeout", 10*time.Second, "Give up after this long")
	cmd.MarkFlagsMutuallyExclusive("output", "dir")
	return cmd
}

// sink builds the frame sink the flags ask for.
func (o grabOptions) sink() (capture.FrameSink, func(), error) {
	switch {
	case o.dir != "":
		pixfmt, _ := v4l2.ParseFourCC(o.format.PixelFormat)
		s, err := capture.NewDirSink(o.dir, pixfmt)
		return s, func() {}, err
	case o.output == "-":
		return capture.NewWriterSink(os.Stdout), func() {}, nil
	case o.output != "":
		f, err := os.Create(o.output)
		if err != nil {
			return nil, nil, err
		}
		return capture.NewWriterSink(f), func() { f.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("one of --output or --dir is required")
	}
}
