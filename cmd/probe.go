//go:build linux

package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/smazurov/uvccore/internal/logging"
	"github.com/smazurov/uvccore/pkg/linuxav/v4l2"
)

// probeResult is the JSON shape of the probe command.
type probeResult struct {
	Path      string              `json:"path"`
	Card      string              `json:"card"`
	Driver    string              `json:"driver"`
	BusInfo   string              `json:"bus_info"`
	Caps      string              `json:"caps"`
	Framerate string              `json:"framerate"`
	Formats   []v4l2.StreamFormat `json:"formats"`
}

// CreateProbeCmd creates the probe command.
func CreateProbeCmd() *cobra.Command {
	var out outputFlags
	var method string

	cmd := &cobra.Command{
		Use:   "probe [device]",
		Short: "Show the formats a device can capture",
		Long:  `Opens the device, enumerates pixel formats with their frame sizes and intervals, and closes it again. The device may be a node path or a /dev/v4l/by-id name.`,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out.initLogging()
			path, err := resolveDevice(deviceArg(args))
			if err != nil {
				return err
			}
			m, err := v4l2.ParseCaptureMethod(method)
			if err != nil {
				return err
			}

			sess, err := v4l2.Open(path, v4l2.WithCaptureMethod(m), v4l2.WithLogger(logging.GetLogger(logging.ModuleV4L2)))
			if err != nil {
				return err
			}
			defer sess.Close()

			res := probeResult{
				Path:      sess.Path(),
				Card:      sess.Card(),
				Driver:    sess.Driver(),
				BusInfo:   sess.BusInfo(),
				Caps:      capsString(sess.Capabilities()),
				Framerate: sess.Framerate().String(),
				Formats:   sess.Formats(),
			}
			if out.json {
				return writeJSON(cmd.OutOrStdout(), res)
			}
			printProbe(cmd.OutOrStdout(), res)
			return nil
		},
	}
	out.register(cmd)
	cmd.Flags().StringVarP(&method, "method", "m", "mmap", "Capture method to validate (mmap or read)")
	return cmd
}

func printProbe(w io.Writer, res probeResult) {
	fmt.Fprintf(w, "Device:  %s\n", res.Path)
	fmt.Fprintf(w, "Card:    %s\n", res.Card)
	fmt.Fprintf(w, "Driver:  %s (%s)\n", res.Driver, res.BusInfo)
	fmt.Fprintf(w, "Caps:    %s\n", res.Caps)
	fmt.Fprintln(w, "Formats:")
	for _, f := range res.Formats {
		var notes []string
		if f.Emulated {
			notes = append(notes, "emulated")
		}
		if !f.Supported {
			notes = append(notes, "not decodable")
		}
		note := ""
		if len(notes) > 0 {
			note = " [" + strings.Join(notes, ", ") + "]"
		}
		fmt.Fprintf(w, "  %s  %s%s\n", f.FourCC, f.Description, note)
		for _, r := range f.Resolutions {
			rates := make([]string, 0, len(r.Framerates))
			for _, fr := range r.Framerates {
				rates = append(rates, fmt.Sprintf("%.4g", fr.FPS()))
			}
			fmt.Fprintf(w, "    %dx%d  %s fps\n", r.Width, r.Height, strings.Join(rates, " "))
		}
	}
}
