package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWatcher_DetectsConfigFileChange(t *testing.T) {
	home := t.TempDir()
	configFile := filepath.Join(home, "config.yaml")
	require.NoError(t, os.WriteFile(configFile, []byte("log_level: info\n"), 0o644))

	w := NewWatcher(home, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))

	require.NoError(t, os.WriteFile(configFile, []byte("log_level: debug\n"), 0o644))

	// Retry the write at short intervals until the watcher produces an
	// event, to absorb platform-specific delay in filesystem notification
	// readiness rather than relying on a single fixed sleep.
	deadline := time.After(3 * time.Second)
	retry := time.NewTicker(50 * time.Millisecond)
	defer retry.Stop()

	for {
		select {
		case ev := <-w.Events():
			require.NoError(t, ev.Err)
			require.Equal(t, "debug", ev.Config.LogLevel)
			return
		case <-retry.C:
			_ = os.WriteFile(configFile, []byte("log_level: debug\n"), 0o644)
		case <-deadline:
			t.Fatal("timed out waiting for config.yaml change event")
		}
	}
}

func TestWatcher_ClosesEventsChannelOnContextCancel(t *testing.T) {
	home := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(home, "config.yaml"), []byte(""), 0o644))

	w := NewWatcher(home, nil)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, w.Start(ctx))
	cancel()

	select {
	case _, ok := <-w.Events():
		require.False(t, ok)
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for events channel to close")
	}
}
