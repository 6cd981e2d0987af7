//go:build linux

// Package cmd holds the one-shot subcommands that run next to the daemon.
package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/smazurov/uvccore/internal/discovery"
	"github.com/smazurov/uvccore/internal/logging"
	"github.com/smazurov/uvccore/pkg/linuxav/v4l2"
)

// outputFlags are shared by every subcommand.
type outputFlags struct {
	json    bool
	verbose bool
}

func (o *outputFlags) register(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&o.json, "json", false, "Print JSON instead of text")
	cmd.Flags().BoolVarP(&o.verbose, "verbose", "v", false, "Log at debug level")
}

// initLogging sets up minimal logging for a one-shot command.
func (o *outputFlags) initLogging() {
	cfg := logging.Config{Level: "warn", Format: "text"}
	if o.verbose {
		cfg.Level = "debug"
	}
	logging.Initialize(cfg)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// resolveDevice accepts /dev/videoN, videoN or a /dev/v4l/by-id name.
func resolveDevice(ref string) (string, error) {
	if ref == "" {
		return "/dev/video0", nil
	}
	path, err := discovery.NewScanner().ResolveDevicePath(ref)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", ref, err)
	}
	return path, nil
}

func deviceArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return strings.TrimSpace(args[0])
}

var capNames = []struct {
	bit  uint32
	name string
}{
	{v4l2.CapVideoCapture, "capture"},
	{v4l2.CapReadWrite, "readwrite"},
	{v4l2.CapStreaming, "streaming"},
}

// capsString names the capability bits a capture tool cares about.
func capsString(caps uint32) string {
	var names []string
	for _, c := range capNames {
		if caps&c.bit != 0 {
			names = append(names, c.name)
		}
	}
	if len(names) == 0 {
		return fmt.Sprintf("0x%08x", caps)
	}
	return strings.Join(names, ",")
}

// Commands returns every subcommand for the root command.
func Commands() []*cobra.Command {
	return []*cobra.Command{
		CreateDevicesCmd(),
		CreateProbeCmd(),
		CreateControlsCmd(),
		CreateGrabCmd(),
	}
}
