package config

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"
)

type watched struct {
	Name  string `toml:"name"`
	Value int    `toml:"value"`
}

func loadWatched(path string) (watched, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return watched{}, err
	}
	var w watched
	err = toml.Unmarshal(data, &w)
	return w, err
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startWatcher(t *testing.T, path string, opts ...WatcherOption[watched]) *Watcher[watched] {
	t.Helper()
	opts = append([]WatcherOption[watched]{WithDebounce[watched](50 * time.Millisecond)}, opts...)
	w := NewConfigWatcher(path, loadWatched, quietLogger(), opts...)
	if err := w.Start(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = w.Stop() })
	time.Sleep(50 * time.Millisecond)
	return w
}

func TestWatcherReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "layout.toml")
	if err := os.WriteFile(path, []byte("name = \"a\"\nvalue = 1\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	w := startWatcher(t, path)
	got := make(chan watched, 4)
	w.OnReload(func(v watched) { got <- v })

	if err := os.WriteFile(path, []byte("name = \"b\"\nvalue = 2\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case v := <-got:
		if v.Name != "b" || v.Value != 2 {
			t.Errorf("got %+v", v)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for reload")
	}
}

func TestWatcherRenameReplace(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "layout.toml")
	if err := os.WriteFile(path, []byte("name = \"a\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	w := startWatcher(t, path)
	got := make(chan watched, 4)
	w.OnReload(func(v watched) { got <- v })

	tmp := filepath.Join(dir, "layout.toml.tmp")
	if err := os.WriteFile(tmp, []byte("name = \"renamed\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Rename(tmp, path); err != nil {
		t.Fatal(err)
	}

	select {
	case v := <-got:
		if v.Name != "renamed" {
			t.Errorf("got %+v", v)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for reload after rename")
	}
}

func TestWatcherDebounceAndUnsubscribe(t *testing.T) {
	path := filepath.Join(t.TempDir(), "layout.toml")
	if err := os.WriteFile(path, []byte("value = 0\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	w := startWatcher(t, path, WithDebounce[watched](150*time.Millisecond))
	var calls, removedCalls atomic.Int32
	last := make(chan int, 8)
	w.OnReload(func(v watched) {
		calls.Add(1)
		last <- v.Value
	})
	unsub := w.OnReload(func(watched) { removedCalls.Add(1) })
	unsub()

	for i := 1; i <= 5; i++ {
		if err := os.WriteFile(path, []byte("value = "+string(rune('0'+i))+"\n"), 0o644); err != nil {
			t.Fatal(err)
		}
		time.Sleep(10 * time.Millisecond)
	}

	select {
	case v := <-last:
		if v != 5 {
			t.Errorf("value = %d, want 5", v)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout")
	}
	time.Sleep(300 * time.Millisecond)

	if n := calls.Load(); n != 1 {
		t.Errorf("handler called %d times, want 1", n)
	}
	if n := removedCalls.Load(); n != 0 {
		t.Errorf("unsubscribed handler called %d times", n)
	}
}

func TestWatcherLoaderError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "layout.toml")
	if err := os.WriteFile(path, []byte("value = 1\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	errs := make(chan error, 1)
	w := startWatcher(t, path, WithErrorHandler[watched](func(err error) { errs <- err }))
	w.OnReload(func(watched) { t.Error("handler must not run on load error") })

	if err := os.WriteFile(path, []byte("value = [broken"), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case err := <-errs:
		var decodeErr *toml.DecodeError
		if !errors.As(err, &decodeErr) {
			t.Errorf("expected toml decode error, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for error")
	}
}

func TestWatcherStopTwice(t *testing.T) {
	path := filepath.Join(t.TempDir(), "layout.toml")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	w := NewConfigWatcher(path, loadWatched, quietLogger())
	if err := w.Start(); err != nil {
		t.Fatal(err)
	}
	if err := w.Stop(); err != nil {
		t.Errorf("first Stop: %v", err)
	}
	if err := w.Stop(); err != nil {
		t.Errorf("second Stop: %v", err)
	}
}
