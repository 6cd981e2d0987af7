package config

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startWatcher[T any](t *testing.T, w *Watcher[T]) {
	t.Helper()
	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := w.Stop(); err != nil {
			t.Errorf("Stop failed: %v", err)
		}
	})
	// fsnotify needs a moment before the first write is seen.
	time.Sleep(50 * time.Millisecond)
}

func TestWatcherReloadsSessionConfig(t *testing.T) {
	path := writeFile(t, "session.toml", "[format]\nwidth = 640\nheight = 480\n")

	received := make(chan SessionConfig, 1)
	w := NewConfigWatcher(path, LoadSessionConfig, newTestLogger(),
		WithDebounce[SessionConfig](30*time.Millisecond))
	w.OnReload(func(cfg SessionConfig) { received <- cfg })
	startWatcher(t, w)

	if err := os.WriteFile(path, []byte("[format]\nwidth = 1920\nheight = 1080\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case cfg := <-received:
		if cfg.Format.Width != 1920 || cfg.Format.Height != 1080 {
			t.Errorf("got %+v, want 1920x1080", cfg.Format)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for config reload")
	}
}

func TestWatcherDebouncesBursts(t *testing.T) {
	path := writeFile(t, "session.toml", "")

	var loads atomic.Int32
	loader := func(p string) (SessionConfig, error) {
		loads.Add(1)
		return LoadSessionConfig(p)
	}

	received := make(chan SessionConfig, 10)
	w := NewConfigWatcher(path, loader, newTestLogger(),
		WithDebounce[SessionConfig](200*time.Millisecond))
	w.OnReload(func(cfg SessionConfig) { received <- cfg })
	startWatcher(t, w)

	for _, fps := range []string{"10", "15", "30"} {
		if err := os.WriteFile(path, []byte("[format]\nfps = "+fps+"\n"), 0o644); err != nil {
			t.Fatal(err)
		}
		time.Sleep(20 * time.Millisecond)
	}

	select {
	case cfg := <-received:
		if cfg.Format.FPS != 30 {
			t.Errorf("FPS = %d, want the last written value 30", cfg.Format.FPS)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for config reload")
	}

	time.Sleep(300 * time.Millisecond)
	if n := loads.Load(); n != 1 {
		t.Errorf("loader called %d times, want 1", n)
	}
}

func TestWatcherFollowsAtomicReplace(t *testing.T) {
	path := writeFile(t, "session.toml", "")

	received := make(chan SessionConfig, 1)
	w := NewConfigWatcher(path, LoadSessionConfig, newTestLogger(),
		WithDebounce[SessionConfig](30*time.Millisecond))
	w.OnReload(func(cfg SessionConfig) { received <- cfg })
	startWatcher(t, w)

	tmp := filepath.Join(filepath.Dir(path), ".session.toml.swp")
	if err := os.WriteFile(tmp, []byte("[device]\npath = \"/dev/video3\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Rename(tmp, path); err != nil {
		t.Fatal(err)
	}

	select {
	case cfg := <-received:
		if cfg.Device.Path != "/dev/video3" {
			t.Errorf("Device.Path = %q, want /dev/video3", cfg.Device.Path)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for reload after rename")
	}
}

func TestWatcherIgnoresSiblingFiles(t *testing.T) {
	path := writeFile(t, "session.toml", "")

	var calls atomic.Int32
	w := NewConfigWatcher(path, LoadSessionConfig, newTestLogger(),
		WithDebounce[SessionConfig](30*time.Millisecond))
	w.OnReload(func(SessionConfig) { calls.Add(1) })
	startWatcher(t, w)

	if err := os.WriteFile(filepath.Join(filepath.Dir(path), "other.toml"), []byte("x = 1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	time.Sleep(200 * time.Millisecond)

	if n := calls.Load(); n != 0 {
		t.Errorf("handler called %d times for an unrelated file", n)
	}
}

func TestWatcherErrorHandler(t *testing.T) {
	path := writeFile(t, "session.toml", "")

	errCh := make(chan error, 1)
	var calls atomic.Int32
	w := NewConfigWatcher(path, LoadSessionConfig, newTestLogger(),
		WithDebounce[SessionConfig](30*time.Millisecond),
		WithErrorHandler[SessionConfig](func(err error) { errCh <- err }))
	w.OnReload(func(SessionConfig) { calls.Add(1) })
	startWatcher(t, w)

	if err := os.WriteFile(path, []byte("[device]\nmethod = \"dma\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case err := <-errCh:
		if err == nil {
			t.Error("expected a validation error")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for error callback")
	}
	if calls.Load() != 0 {
		t.Error("handlers must not run when loading fails")
	}
}

func TestWatcherUnsubscribe(t *testing.T) {
	w := NewConfigWatcher("unused.toml", func(string) (int, error) { return 7, nil }, newTestLogger())

	var first, second atomic.Int32
	unsubscribe := w.OnReload(func(v int) { first.Add(int32(v)) })
	w.OnReload(func(v int) { second.Add(int32(v)) })

	w.loadAndNotify()
	unsubscribe()
	w.loadAndNotify()

	if first.Load() != 7 {
		t.Errorf("first handler total = %d, want 7", first.Load())
	}
	if second.Load() != 14 {
		t.Errorf("second handler total = %d, want 14", second.Load())
	}
}

func TestWatcherStopWithoutStart(t *testing.T) {
	w := NewConfigWatcher("unused.toml", func(string) (int, error) { return 0, errors.New("unused") }, newTestLogger())
	if err := w.Stop(); err != nil {
		t.Errorf("Stop before Start = %v, want nil", err)
	}
}

func TestWatcherStopsWithContext(t *testing.T) {
	path := writeFile(t, "session.toml", "")
	w := NewConfigWatcher(path, LoadSessionConfig, newTestLogger())

	ctx, cancel := context.WithCancel(context.Background())
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	cancel()

	select {
	case <-w.done:
	case <-time.After(time.Second):
		t.Fatal("watch loop did not exit after context cancel")
	}
	if err := w.Stop(); err != nil {
		t.Errorf("Stop after cancel: %v", err)
	}
}
