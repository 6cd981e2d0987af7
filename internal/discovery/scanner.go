//go:build linux

package discovery

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/smazurov/uvccore/internal/logging"
	"github.com/smazurov/uvccore/pkg/linuxav/v4l2"
)

// ErrNotFound is returned when no capture device matches.
var ErrNotFound = errors.New("capture device not found")

// ProbeFunc reads the QUERYCAP identity of a node.
type ProbeFunc func(path string) (v4l2.DeviceInfo, error)

// Scanner lists capture devices from sysfs and QUERYCAP.
type Scanner struct {
	sysfsRoot string
	devRoot   string
	probe     ProbeFunc
	logger    *slog.Logger
}

// Option configures a Scanner.
type Option func(*Scanner)

// WithSysfsRoot replaces /sys.
func WithSysfsRoot(root string) Option {
	return func(s *Scanner) { s.sysfsRoot = root }
}

// WithDevRoot replaces /dev.
func WithDevRoot(root string) Option {
	return func(s *Scanner) { s.devRoot = root }
}

// WithProbe replaces the QUERYCAP probe.
func WithProbe(fn ProbeFunc) Option {
	return func(s *Scanner) { s.probe = fn }
}

// NewScanner creates a scanner for the live system.
func NewScanner(opts ...Option) *Scanner {
	logger := logging.GetLogger(logging.ModuleDiscovery)
	s := &Scanner{
		sysfsRoot: "/sys",
		devRoot:   "/dev",
		logger:    logger,
	}
	s.probe = func(path string) (v4l2.DeviceInfo, error) {
		return v4l2.QueryDevice(path, v4l2.WithLogger(logger))
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Scanner) classDir() string {
	return filepath.Join(s.sysfsRoot, "class", "video4linux")
}

// Scan returns every node that supports streaming capture, sorted by path.
// Nodes that fail to probe are skipped.
func (s *Scanner) Scan() ([]Device, error) {
	entries, err := os.ReadDir(s.classDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list video4linux devices: %w", err)
	}

	stable := s.stableIDs()
	var devices []Device
	for _, entry := range entries {
		if !strings.HasPrefix(entry.Name(), "video") {
			continue
		}
		dev, err := s.inspect(entry.Name())
		if err != nil {
			s.logger.Debug("Skipping video node", "node", entry.Name(), "error", err)
			continue
		}
		dev.StableID = stable[dev.Path]
		devices = append(devices, dev)
	}

	sort.Slice(devices, func(i, j int) bool {
		return nodeNumber(devices[i].Path) < nodeNumber(devices[j].Path)
	})
	return devices, nil
}

// Lookup returns the device for a node path, a stable id or a symlink.
func (s *Scanner) Lookup(ref string) (Device, error) {
	path, err := s.ResolveDevicePath(ref)
	if err != nil {
		return Device{}, err
	}
	dev, err := s.inspect(filepath.Base(path))
	if err != nil {
		return Device{}, err
	}
	dev.StableID = s.stableIDs()[dev.Path]
	return dev, nil
}

// inspect probes one node and attaches its USB identity.
func (s *Scanner) inspect(node string) (Device, error) {
	path := filepath.Join(s.devRoot, node)
	info, err := s.probe(path)
	if err != nil {
		return Device{}, err
	}
	if !info.CanCapture() {
		return Device{}, fmt.Errorf("%s: no streaming capture capability", path)
	}

	dev := Device{
		Path:    path,
		Name:    info.Card,
		Driver:  info.Driver,
		BusInfo: info.BusInfo,
		Caps:    info.Caps,
	}

	sysDir := filepath.Join(s.classDir(), node)
	if name := readAttr(sysDir, "name"); name != "" && dev.Name == "" {
		dev.Name = name
	}
	if idx, err := strconv.Atoi(readAttr(sysDir, "index")); err == nil {
		dev.Index = idx
	}
	s.attachUSB(&dev, sysDir)
	return dev, nil
}

// attachUSB walks up from the node's device link to the first directory
// carrying idVendor, which is the USB device.
func (s *Scanner) attachUSB(dev *Device, sysDir string) {
	dir, err := filepath.EvalSymlinks(filepath.Join(sysDir, "device"))
	if err != nil {
		return
	}
	devicesRoot := filepath.Join(s.sysfsRoot, "devices")
	for dir != "" && dir != devicesRoot && dir != "/" && dir != "." {
		if vid := readAttr(dir, "idVendor"); vid != "" {
			fillUSB(dev, dir)
			return
		}
		dir = filepath.Dir(dir)
	}
}

func fillUSB(dev *Device, dir string) {
	if v, err := strconv.ParseUint(readAttr(dir, "idVendor"), 16, 16); err == nil {
		dev.VendorID = uint16(v)
	}
	if p, err := strconv.ParseUint(readAttr(dir, "idProduct"), 16, 16); err == nil {
		dev.ProductID = uint16(p)
	}
	dev.BusNum, _ = strconv.Atoi(readAttr(dir, "busnum"))
	dev.DevNum, _ = strconv.Atoi(readAttr(dir, "devnum"))
	dev.Manufacturer = readAttr(dir, "manufacturer")
	dev.Product = readAttr(dir, "product")
	dev.Serial = readAttr(dir, "serial")
	dev.Location = filepath.Base(dir)
}

// stableIDs maps node paths to their /dev/v4l/by-id name.
func (s *Scanner) stableIDs() map[string]string {
	ids := make(map[string]string)
	byID := filepath.Join(s.devRoot, "v4l", "by-id")
	entries, err := os.ReadDir(byID)
	if err != nil {
		return ids
	}
	for _, entry := range entries {
		target, err := filepath.EvalSymlinks(filepath.Join(byID, entry.Name()))
		if err != nil {
			continue
		}
		node := filepath.Join(s.devRoot, filepath.Base(target))
		if _, seen := ids[node]; !seen {
			ids[node] = entry.Name()
		}
	}
	return ids
}

// ResolveDevicePath turns a node path, a by-id or by-path name, or a
// symlink into the /dev/videoN path it refers to.
func (s *Scanner) ResolveDevicePath(ref string) (string, error) {
	candidates := []string{ref}
	if !filepath.IsAbs(ref) {
		candidates = []string{
			filepath.Join(s.devRoot, ref),
			filepath.Join(s.devRoot, "v4l", "by-id", ref),
			filepath.Join(s.devRoot, "v4l", "by-path", ref),
		}
	}
	for _, c := range candidates {
		target, err := filepath.EvalSymlinks(c)
		if err != nil {
			continue
		}
		return filepath.Join(s.devRoot, filepath.Base(target)), nil
	}
	return "", fmt.Errorf("%w: %s", ErrNotFound, ref)
}

func readAttr(dir, name string) string {
	data, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// nodeNumber extracts N from .../videoN for ordering; unknown shapes sort last.
func nodeNumber(path string) int {
	n, err := strconv.Atoi(strings.TrimPrefix(filepath.Base(path), "video"))
	if err != nil {
		return int(^uint(0) >> 1)
	}
	return n
}
