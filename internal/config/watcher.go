package config

import (
	"context"
	"log/slog"

	"github.com/fsnotify/fsnotify"
)

// ReloadEvent carries the result of one config.yaml reload triggered by a
// filesystem change. Config is the zero value when Err is set.
type ReloadEvent struct {
	Config Config
	Err    error
}

// Watcher watches config.yaml for writes and reloads it, mirroring the
// teacher's fsnotify-based hot-reload watcher (which additionally watches
// SOUL.md/AGENTS.md/policy.yaml — files with no equivalent here, so this
// watches only config.yaml).
type Watcher struct {
	homeDir string
	logger  *slog.Logger
	events  chan ReloadEvent
}

// NewWatcher constructs a Watcher rooted at homeDir. Call Start to begin
// watching; Events returns the channel reload results are delivered on.
func NewWatcher(homeDir string, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		homeDir: homeDir,
		logger:  logger,
		events:  make(chan ReloadEvent, 4),
	}
}

// Events returns the channel of reload results. It is closed when ctx given
// to Start is cancelled.
func (w *Watcher) Events() <-chan ReloadEvent {
	return w.events
}

// Start begins watching config.yaml in the background. It returns once the
// underlying fsnotify watch is registered; the watch loop itself runs in a
// goroutine until ctx is cancelled.
func (w *Watcher) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fsw.Add(ConfigPath(w.homeDir)); err != nil {
		_ = fsw.Close()
		return err
	}

	go func() {
		defer fsw.Close()
		defer close(w.events)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-fsw.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				cfg, err := LoadFrom(w.homeDir)
				if err != nil {
					w.logger.Error("config reload failed", "path", ev.Name, "error", err)
					select {
					case w.events <- ReloadEvent{Err: err}:
					default:
					}
					continue
				}
				w.logger.Info("config.yaml changed, reloaded", "path", ev.Name, "op", ev.Op.String())
				select {
				case w.events <- ReloadEvent{Config: cfg}:
				default:
				}
			case err, ok := <-fsw.Errors:
				if !ok {
					return
				}
				w.logger.Error("config watcher error", "error", err)
			}
		}
	}()
	return nil
}
