//go:build linux

package cmd

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/smazurov/uvccore/internal/discovery"
	"github.com/smazurov/uvccore/internal/events"
)

// CreateDevicesCmd creates the devices command.
func CreateDevicesCmd() *cobra.Command {
	var out outputFlags
	var watch bool

	cmd := &cobra.Command{
		Use:   "devices",
		Short: "List capture devices",
		Long:  `Lists video nodes that support streaming capture together with the USB device behind them. With --watch it keeps running and prints hotplug changes.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out.initLogging()
			w := cmd.OutOrStdout()
			scanner := discovery.NewScanner()

			if !watch {
				devices, err := scanner.Scan()
				if err != nil {
					return err
				}
				if out.json {
					return writeJSON(w, devices)
				}
				printDevices(w, devices)
				return nil
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return watchDevices(ctx, w, scanner, out.json)
		},
	}
	out.register(cmd)
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "Follow hotplug events")
	return cmd
}

func watchDevices(ctx context.Context, w io.Writer, scanner *discovery.Scanner, asJSON bool) error {
	bus := events.New()
	unsub := events.Subscribe(bus, func(ev events.DeviceDiscoveryEvent) {
		if asJSON {
			_ = writeJSON(w, ev)
			return
		}
		fmt.Fprintf(w, "%s %s %s (%04x:%04x)\n", ev.Timestamp, ev.Action, ev.DevicePath, ev.VendorID, ev.ProductID)
	})
	defer unsub()
	return discovery.NewWatcher(scanner, bus).Run(ctx)
}

func printDevices(w io.Writer, devices []discovery.Device) {
	if len(devices) == 0 {
		fmt.Fprintln(w, "No capture devices found.")
		return
	}
	fmt.Fprintf(w, "Found %d capture device(s):\n", len(devices))
	for i, d := range devices {
		fmt.Fprintf(w, "%d. %s\n", i+1, d.Path)
		fmt.Fprintf(w, "   Name:    %s\n", d.DisplayName())
		fmt.Fprintf(w, "   Driver:  %s (%s)\n", d.Driver, d.BusInfo)
		fmt.Fprintf(w, "   Caps:    %s\n", capsString(d.Caps))
		if d.IsUSB() {
			fmt.Fprintf(w, "   USB:     %s bus %d dev %d port %s\n", d.USBID(), d.BusNum, d.DevNum, d.Location)
			if d.Serial != "" {
				fmt.Fprintf(w, "   Serial:  %s\n", d.Serial)
			}
		}
		if d.StableID != "" {
			fmt.Fprintf(w, "   By-ID:   %s\n", d.StableID)
		}
	}
}
