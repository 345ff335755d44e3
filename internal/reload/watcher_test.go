package reload

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

const testPoll = 20 * time.Millisecond

func startWatcher(t *testing.T, path string) *Watcher {
	t.Helper()
	w := NewWatcher(WatcherConfig{ConfigPath: path, PollInterval: testPoll})
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	w.Start(ctx)
	t.Cleanup(w.Stop)
	return w
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestWatcher_EmitsOnContentChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rolegate.yaml")
	writeFile(t, path, "version: \"1\"\n")
	w := startWatcher(t, path)

	writeFile(t, path, "version: \"1\"\nlog:\n  level: debug\n")

	select {
	case evt := <-w.Events():
		if evt.ConfigPath != path {
			t.Errorf("ConfigPath = %q, want %q", evt.ConfigPath, path)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for change event")
	}
}

func TestWatcher_IgnoresTouchAndMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rolegate.yaml")
	writeFile(t, path, "same")
	w := startWatcher(t, path)

	later := time.Now().Add(time.Minute)
	if err := os.Chtimes(path, later, later); err != nil {
		t.Fatal(err)
	}
	writeFile(t, path, "same")

	missing := startWatcher(t, filepath.Join(t.TempDir(), "absent.yaml"))

	select {
	case evt := <-w.Events():
		t.Errorf("unexpected event: %+v", evt)
	case evt := <-missing.Events():
		t.Errorf("unexpected event for missing file: %+v", evt)
	case <-time.After(10 * testPoll):
	}
}

func TestWatcher_StopReturns(t *testing.T) {
	tests := []struct {
		name  string
		start bool
		ctx   func() (context.Context, context.CancelFunc)
	}{
		{"running", true, func() (context.Context, context.CancelFunc) { return context.WithCancel(context.Background()) }},
		{"context already cancelled", true, func() (context.Context, context.CancelFunc) {
			ctx, cancel := context.WithCancel(context.Background())
			cancel()
			return ctx, cancel
		}},
		{"never started", false, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := NewWatcher(WatcherConfig{ConfigPath: "/any/path", PollInterval: testPoll})
			if tt.start {
				ctx, cancel := tt.ctx()
				defer cancel()
				w.Start(ctx)
			}

			done := make(chan struct{})
			go func() {
				w.Stop()
				w.Stop()
				close(done)
			}()
			select {
			case <-done:
			case <-time.After(2 * time.Second):
				t.Fatal("Stop did not return")
			}
		})
	}
}
