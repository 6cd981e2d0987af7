//go:build linux

package v4l2

import (
	"math"
	"testing"
)

func TestFramerateFPS(t *testing.T) {
	tests := []struct {
		name        string
		framerate   Framerate
		expectedFPS float64
	}{
		{
			name:        "30 fps (1/30)",
			framerate:   Framerate{Numerator: 1, Denominator: 30},
			expectedFPS: 30.0,
		},
		{
			name:        "29.97 fps (1001/30000)",
			framerate:   Framerate{Numerator: 1001, Denominator: 30000},
			expectedFPS: 30000.0 / 1001.0,
		},
		{
			name:        "default interval",
			framerate:   DefaultFramerate,
			expectedFPS: 25.0,
		},
		{
			name:        "zero numerator returns 0",
			framerate:   Framerate{Numerator: 0, Denominator: 60},
			expectedFPS: 0.0,
		},
		{
			name:        "zero denominator",
			framerate:   Framerate{Numerator: 1, Denominator: 0},
			expectedFPS: 0.0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := tt.framerate.FPS()
			if math.Abs(result-tt.expectedFPS) > 0.001 {
				t.Errorf("Framerate{%d, %d}.FPS() = %f, want %f",
					tt.framerate.Numerator, tt.framerate.Denominator,
					result, tt.expectedFPS)
			}
		})
	}
}

func TestParseCaptureMethod(t *testing.T) {
	tests := []struct {
		in      string
		want    CaptureMethod
		wantErr bool
	}{
		{"", MethodMmap, false},
		{"mmap", MethodMmap, false},
		{"read", MethodRead, false},
		{"userptr", MethodMmap, true},
	}
	for _, tt := range tests {
		got, err := ParseCaptureMethod(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseCaptureMethod(%q) = %v, %v", tt.in, got, err)
		}
	}
}

func TestStreamStateString(t *testing.T) {
	tests := map[StreamState]string{
		StreamStopped:       "stopped",
		StreamRequestedStop: "requested-stop",
		StreamActive:        "active",
		StreamState(9):      "state(9)",
	}
	for state, want := range tests {
		if got := state.String(); got != want {
			t.Errorf("StreamState(%d).String() = %q, want %q", int(state), got, want)
		}
	}
}

func TestControlEntriesDropsTerminator(t *testing.T) {
	c := Control{
		Type: CtrlTypeMenu,
		Menu: []MenuEntry{{Index: 0, Name: "Off"}, {Index: 1, Name: "On"}, {Index: 2}},
	}
	if !c.IsMenu() {
		t.Fatal("IsMenu() = false")
	}
	entries := c.Entries()
	if len(entries) != 2 || entries[1].Name != "On" {
		t.Errorf("Entries() = %+v", entries)
	}
	if (&Control{}).Entries() != nil {
		t.Error("Entries() of a plain control should be nil")
	}
}

func TestControlReadable(t *testing.T) {
	tests := []struct {
		name string
		c    Control
		want bool
	}{
		{"integer", Control{Type: CtrlTypeInteger}, true},
		{"button", Control{Type: CtrlTypeButton}, false},
		{"class", Control{Type: CtrlTypeCtrlClass}, false},
		{"write-only", Control{Type: CtrlTypeInteger, Flags: CtrlFlagWriteOnly}, false},
	}
	for _, tt := range tests {
		if got := tt.c.Readable(); got != tt.want {
			t.Errorf("%s: Readable() = %v, want %v", tt.name, got, tt.want)
		}
	}
}
