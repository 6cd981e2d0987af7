package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// SessionConfig describes one capture session. It is the unit reloaded by
// the watcher while the daemon runs.
type SessionConfig struct {
	Device   DeviceConfig     `toml:"device"`
	Format   FormatConfig     `toml:"format"`
	Controls map[string]int64 `toml:"controls"`
}

// DeviceConfig selects the device node and how frames are moved.
type DeviceConfig struct {
	Path    string `toml:"path"`
	Method  string `toml:"method"`
	Buffers int    `toml:"buffers"`
}

// FormatConfig is the requested format. Zero width/height keeps the
// driver's default size; zero FPS keeps the driver's interval.
type FormatConfig struct {
	PixelFormat string `toml:"pixel_format"`
	Width       uint32 `toml:"width"`
	Height      uint32 `toml:"height"`
	FPS         uint32 `toml:"fps"`
}

// Defaults applied to zero-valued fields.
const (
	DefaultDevicePath = "/dev/video0"
	DefaultMethod     = "mmap"
	DefaultBuffers    = 4
)

// DefaultSessionConfig returns a config for /dev/video0 over mmap.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		Device: DeviceConfig{
			Path:    DefaultDevicePath,
			Method:  DefaultMethod,
			Buffers: DefaultBuffers,
		},
	}
}

// LoadSessionConfig parses a session file and fills defaults.
func LoadSessionConfig(path string) (SessionConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return SessionConfig{}, err
	}
	return ParseSessionConfig(data)
}

// ParseSessionConfig decodes TOML bytes, fills defaults and validates.
func ParseSessionConfig(data []byte) (SessionConfig, error) {
	var cfg SessionConfig
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return SessionConfig{}, fmt.Errorf("failed to parse session config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return SessionConfig{}, err
	}
	return cfg, nil
}

func (c *SessionConfig) applyDefaults() {
	if c.Device.Path == "" {
		c.Device.Path = DefaultDevicePath
	}
	if c.Device.Method == "" {
		c.Device.Method = DefaultMethod
	}
	if c.Device.Buffers == 0 {
		c.Device.Buffers = DefaultBuffers
	}
}

// Validate checks field ranges and reports every problem at once.
func (c SessionConfig) Validate() error {
	var errs []error
	switch strings.ToLower(c.Device.Method) {
	case "mmap", "read":
	default:
		errs = append(errs, fmt.Errorf("device.method %q: want mmap or read", c.Device.Method))
	}
	if c.Device.Buffers < 1 {
		errs = append(errs, fmt.Errorf("device.buffers %d: must be positive", c.Device.Buffers))
	}
	if n := len(c.Format.PixelFormat); n > 4 {
		errs = append(errs, fmt.Errorf("format.pixel_format %q: fourcc has at most 4 characters", c.Format.PixelFormat))
	}
	if (c.Format.Width == 0) != (c.Format.Height == 0) {
		errs = append(errs, errors.New("format.width and format.height must be set together"))
	}
	for name := range c.Controls {
		if strings.TrimSpace(name) == "" {
			errs = append(errs, errors.New("controls: empty control name"))
		}
	}
	return errors.Join(errs...)
}

// ControlKey identifies a control by numeric ID or by name.
type ControlKey struct {
	ID   uint32
	Name string
}

// ParseControlKey accepts "0x00980900", "10092800" or a control name.
func ParseControlKey(key string) ControlKey {
	if id, err := strconv.ParseUint(key, 0, 32); err == nil {
		return ControlKey{ID: uint32(id)}
	}
	return ControlKey{Name: key}
}
