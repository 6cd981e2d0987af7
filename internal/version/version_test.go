package version

import (
	"runtime"
	"strings"
	"testing"
)

func TestGet(t *testing.T) {
	old := Version
	Version = "1.2.3"
	t.Cleanup(func() { Version = old })

	info := Get()
	if info.Version != "1.2.3" {
		t.Errorf("Version = %q", info.Version)
	}
	if info.GoVersion != runtime.Version() {
		t.Errorf("GoVersion = %q", info.GoVersion)
	}
	if info.Platform != runtime.GOOS+"/"+runtime.GOARCH {
		t.Errorf("Platform = %q", info.Platform)
	}
}

func TestInfoStringShortensCommit(t *testing.T) {
	info := Info{Version: "1.0.0", GitCommit: "0123456789abcdef0123", BuildDate: "2026-10-01", GoVersion: "go1.24.11", Platform: "linux/arm64"}
	got := info.String()
	if !strings.Contains(got, "commit 0123456789ab,") {
		t.Errorf("String() = %q", got)
	}
	if !strings.HasPrefix(got, "1.0.0 ") {
		t.Errorf("String() = %q", got)
	}
}
