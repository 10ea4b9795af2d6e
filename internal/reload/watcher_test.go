package reload

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func loadString(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	s := strings.TrimSpace(string(b))
	if s == "bad" {
		return "", errors.New("bad config")
	}
	return s, nil
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func startWatcher(t *testing.T, w *Watcher[string]) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	t.Cleanup(func() {
		cancel()
		if err := <-done; !errors.Is(err, context.Canceled) {
			t.Errorf("Run returned %v", err)
		}
	})

	// Wait for the watcher to be registered.
	time.Sleep(100 * time.Millisecond)
}

func TestWatcher_Reload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "adaglow.toml")
	if err := os.WriteFile(path, []byte("initial"), 0o644); err != nil {
		t.Fatal(err)
	}

	received := make(chan string, 4)
	w := New(path, loadString, newTestLogger(), WithDebounce[string](20*time.Millisecond))
	w.OnReload(func(s string) { received <- s })
	startWatcher(t, w)

	if err := os.WriteFile(path, []byte("updated"), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case s := <-received:
		if s != "updated" {
			t.Errorf("got %q, want updated", s)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for reload")
	}
}

func TestWatcher_IgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "adaglow.toml")
	if err := os.WriteFile(path, []byte("initial"), 0o644); err != nil {
		t.Fatal(err)
	}

	received := make(chan string, 4)
	w := New(path, loadString, newTestLogger(), WithDebounce[string](20*time.Millisecond))
	w.OnReload(func(s string) { received <- s })
	startWatcher(t, w)

	if err := os.WriteFile(filepath.Join(dir, "other.toml"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case s := <-received:
		t.Errorf("unexpected reload %q", s)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestWatcher_LoadError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "adaglow.toml")
	if err := os.WriteFile(path, []byte("initial"), 0o644); err != nil {
		t.Fatal(err)
	}

	errs := make(chan error, 4)
	w := New(path, loadString, newTestLogger(),
		WithDebounce[string](20*time.Millisecond),
		WithErrorHandler[string](func(err error) { errs <- err }),
	)
	w.OnReload(func(s string) { t.Errorf("unexpected reload %q", s) })
	startWatcher(t, w)

	if err := os.WriteFile(path, []byte("bad"), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case err := <-errs:
		if err == nil {
			t.Error("expected error")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for load error")
	}
}
