//go:build linux

package cmd

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/smazurov/uvccore/internal/config"
	"github.com/smazurov/uvccore/internal/logging"
	"github.com/smazurov/uvccore/pkg/linuxav/v4l2"
)

// CreateControlsCmd creates the controls command.
func CreateControlsCmd() *cobra.Command {
	var out outputFlags
	var assignments []string

	cmd := &cobra.Command{
		Use:   "controls [device]",
		Short: "List or set device controls",
		Long: `Lists every control with its range and current value. --set name=value (or id=value) ` +
			`changes a control before listing; it may be repeated.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out.initLogging()
			sets, err := parseAssignments(assignments)
			if err != nil {
				return err
			}
			path, err := resolveDevice(deviceArg(args))
			if err != nil {
				return err
			}

			sess, err := v4l2.Open(path, v4l2.WithLogger(logging.GetLogger(logging.ModuleV4L2)))
			if err != nil {
				return err
			}
			defer sess.Close()

			for _, a := range sets {
				if err := applyAssignment(sess, a); err != nil {
					return err
				}
			}
			sess.RefreshControls()

			if out.json {
				return writeJSON(cmd.OutOrStdout(), sess.Controls())
			}
			printControls(cmd.OutOrStdout(), sess.Controls())
			return nil
		},
	}
	out.register(cmd)
	cmd.Flags().StringArrayVarP(&assignments, "set", "s", nil, "Set a control, as name=value or 0xID=value")
	return cmd
}

type assignment struct {
	key   config.ControlKey
	raw   string
	value string
}

func parseAssignments(in []string) ([]assignment, error) {
	out := make([]assignment, 0, len(in))
	for _, s := range in {
		name, value, ok := strings.Cut(s, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid control assignment %q: want name=value", s)
		}
		out = append(out, assignment{key: config.ParseControlKey(name), raw: name, value: strings.TrimSpace(value)})
	}
	return out, nil
}

func applyAssignment(sess *v4l2.Session, a assignment) error {
	var (
		ctrl *v4l2.Control
		ok   bool
	)
	if a.key.Name != "" {
		ctrl, ok = sess.ControlByName(a.key.Name)
	} else {
		ctrl, ok = sess.Control(a.key.ID)
	}
	if !ok {
		return fmt.Errorf("unknown control %q", a.raw)
	}

	if ctrl.Type == v4l2.CtrlTypeString {
		return sess.SetStringControl(ctrl.ID, a.value)
	}
	value, err := controlValue(ctrl, a.value)
	if err != nil {
		return err
	}
	return sess.SetControl(ctrl.ID, value)
}

// controlValue parses a number, a boolean or a menu entry name.
func controlValue(ctrl *v4l2.Control, s string) (int64, error) {
	if v, err := strconv.ParseInt(s, 0, 64); err == nil {
		return v, nil
	}
	switch ctrl.Type {
	case v4l2.CtrlTypeBoolean:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return 0, fmt.Errorf("control %s: %w", ctrl.Name, err)
		}
		if b {
			return 1, nil
		}
		return 0, nil
	case v4l2.CtrlTypeMenu:
		for _, m := range ctrl.Menu {
			if m.Name != "" && strings.EqualFold(m.Name, s) {
				return int64(m.Index), nil
			}
		}
	}
	return 0, fmt.Errorf("control %s: invalid value %q", ctrl.Name, s)
}

func controlTypeName(t uint32) string {
	switch t {
	case v4l2.CtrlTypeInteger:
		return "int"
	case v4l2.CtrlTypeBoolean:
		return "bool"
	case v4l2.CtrlTypeMenu:
		return "menu"
	case v4l2.CtrlTypeButton:
		return "button"
	case v4l2.CtrlTypeInteger64:
		return "int64"
	case v4l2.CtrlTypeString:
		return "string"
	case v4l2.CtrlTypeBitmask:
		return "bitmask"
	case v4l2.CtrlTypeIntegerMenu:
		return "intmenu"
	default:
		return strconv.FormatUint(uint64(t), 10)
	}
}

func printControls(w io.Writer, controls []v4l2.Control) {
	if len(controls) == 0 {
		fmt.Fprintln(w, "No controls.")
		return
	}
	for _, c := range controls {
		value := strconv.FormatInt(int64(c.Value), 10)
		switch c.Type {
		case v4l2.CtrlTypeInteger64:
			value = strconv.FormatInt(c.Value64, 10)
		case v4l2.CtrlTypeString:
			value = strconv.Quote(c.String)
		}
		fmt.Fprintf(w, "0x%08x %-32s (%s) min=%d max=%d step=%d default=%d value=%s",
			c.ID, c.Name, controlTypeName(c.Type), c.Minimum, c.Maximum, c.Step, c.Default, value)
		if c.Flags&v4l2.CtrlFlagInactive != 0 {
			fmt.Fprint(w, " flags=inactive")
		}
		fmt.Fprintln(w)
		for _, m := range c.Menu {
			switch {
			case m.Index > uint32(c.Maximum):
			case c.Type == v4l2.CtrlTypeIntegerMenu:
				fmt.Fprintf(w, "    %d: %d\n", m.Index, m.Value)
			case m.Name != "":
				fmt.Fprintf(w, "    %d: %s\n", m.Index, m.Name)
			}
		}
	}
}
