package configwatcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

type keyRecorder struct {
	mu   sync.Mutex
	keys []string
}

func (r *keyRecorder) SetStreamKey(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.keys = append(r.keys, key)
}

func (r *keyRecorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.keys...)
}

func writeConfig(t *testing.T, path, key string) {
	t.Helper()
	body := "profile = \"custom\"\n"
	if key != "" {
		body += "stream_key = \"" + key + "\"\n"
	}
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestReload_ForwardsNewKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	rec := &keyRecorder{}
	w := New(DefaultConfig(), path, rec, nil)

	writeConfig(t, path, "key-one")
	w.reload()

	if got := rec.snapshot(); len(got) != 1 || got[0] != "key-one" {
		t.Fatalf("keys = %v, want [key-one]", got)
	}
}

func TestReload_DeduplicatesUnchangedKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	rec := &keyRecorder{}
	w := New(DefaultConfig(), path, rec, nil)

	writeConfig(t, path, "key-one")
	w.reload()
	w.reload()
	writeConfig(t, path, "key-two")
	w.reload()

	if got := rec.snapshot(); len(got) != 2 || got[0] != "key-one" || got[1] != "key-two" {
		t.Fatalf("keys = %v, want [key-one key-two]", got)
	}
}

func TestReload_SkipsEmptyKeyAndBadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	rec := &keyRecorder{}
	w := New(DefaultConfig(), path, rec, nil)

	writeConfig(t, path, "")
	w.reload()

	if err := os.WriteFile(path, []byte("stream_key = [broken"), 0o644); err != nil {
		t.Fatal(err)
	}
	w.reload()

	// Missing file is also quietly skipped.
	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	w.reload()

	if got := rec.snapshot(); len(got) != 0 {
		t.Fatalf("keys = %v, want none", got)
	}
}

func TestRun_PicksUpFileWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	writeConfig(t, path, "")

	rec := &keyRecorder{}
	w := New(Config{DebounceDelay: 10 * time.Millisecond}, path, rec, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := make(chan error, 1)
	go func() { errCh <- w.Run(ctx) }()

	// Let the watch register before mutating the file.
	time.Sleep(100 * time.Millisecond)
	writeConfig(t, path, "key-live")

	deadline := time.Now().Add(5 * time.Second)
	for {
		if got := rec.snapshot(); len(got) == 1 && got[0] == "key-live" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("stream key never forwarded; keys = %v", rec.snapshot())
		}
		time.Sleep(10 * time.Millisecond)
	}

	// Atomic rename-into-place saves are seen via the directory watch.
	tmp := filepath.Join(dir, "config.toml.new")
	writeConfig(t, tmp, "key-renamed")
	if err := os.Rename(tmp, path); err != nil {
		t.Fatal(err)
	}

	deadline = time.Now().Add(5 * time.Second)
	for {
		got := rec.snapshot()
		if len(got) == 2 && got[1] == "key-renamed" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("renamed config not picked up; keys = %v", got)
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	select {
	case <-errCh:
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not stop on cancel")
	}
}
