//go:build linux

package capture

import (
	"testing"

	"github.com/smazurov/uvccore/internal/config"
	"github.com/smazurov/uvccore/pkg/linuxav/v4l2"
)

func TestChooseFormat(t *testing.T) {
	formats := newFakeSession("").formats

	tests := []struct {
		name          string
		cfg           config.FormatConfig
		pixfmt        uint32
		width, height uint32
		wantErr       bool
	}{
		{"first supported format and size", config.FormatConfig{}, v4l2.PixFmtMJPEG, 1920, 1080, false},
		{"named format takes its first size", config.FormatConfig{PixelFormat: "YUYV"}, v4l2.PixFmtYUYV, 640, 480, false},
		{"explicit size kept", config.FormatConfig{PixelFormat: "MJPG", Width: 1280, Height: 720}, v4l2.PixFmtMJPEG, 1280, 720, false},
		{"unlisted format leaves size to driver", config.FormatConfig{PixelFormat: "H264"}, v4l2.PixFmtH264, 0, 0, false},
		{"invalid fourcc", config.FormatConfig{PixelFormat: "TOOLONG"}, 0, 0, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pixfmt, w, h, err := chooseFormat(formats, tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if pixfmt != tt.pixfmt || w != tt.width || h != tt.height {
				t.Errorf("got %s %dx%d, want %s %dx%d",
					v4l2.FormatFourCC(pixfmt), w, h, v4l2.FormatFourCC(tt.pixfmt), tt.width, tt.height)
			}
		})
	}
}

func TestChooseFormatNoFormats(t *testing.T) {
	if _, _, _, err := chooseFormat(nil, config.FormatConfig{}); err == nil {
		t.Fatal("expected error when the device lists nothing")
	}
}

func TestChooseFormatFallsBackToUnsupported(t *testing.T) {
	formats := []v4l2.StreamFormat{{PixelFormat: 0x32315659}}
	pixfmt, _, _, err := chooseFormat(formats, config.FormatConfig{})
	if err != nil || pixfmt != 0x32315659 {
		t.Fatalf("pixfmt = %#x, err = %v", pixfmt, err)
	}
}

func TestUnlistedSize(t *testing.T) {
	formats := newFakeSession("").formats

	tests := []struct {
		name          string
		pixfmt        uint32
		width, height uint32
		want          bool
	}{
		{"listed size", v4l2.PixFmtMJPEG, 1280, 720, false},
		{"size missing from list", v4l2.PixFmtMJPEG, 800, 600, true},
		{"size of another format", v4l2.PixFmtYUYV, 1920, 1080, true},
		{"format without sizes", 0x32315659, 320, 240, false},
		{"format not listed", v4l2.PixFmtH264, 1920, 1080, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := unlistedSize(formats, tt.pixfmt, tt.width, tt.height); got != tt.want {
				t.Errorf("unlistedSize(%s %dx%d) = %v, want %v",
					v4l2.FormatFourCC(tt.pixfmt), tt.width, tt.height, got, tt.want)
			}
		})
	}
}
