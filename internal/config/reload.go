package config

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
)

const reloadDebounce = 500 * time.Millisecond

// Reloader watches the config file and applies changes without a restart.
type Reloader struct {
	watcher *fsnotify.Watcher
	path    string
	apply   func(*Config) error
}

// NewReloader creates a file watcher for the config path. The apply
// callback receives each successfully loaded config.
func NewReloader(path string, apply func(*Config) error) (*Reloader, error) {
	if path == "" {
		path = DefaultPath()
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("config: watch %s: %w", path, err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config: create file watcher: %w", err)
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("config: watch %s: %w", path, err)
	}
	return &Reloader{watcher: watcher, path: path, apply: apply}, nil
}

// Run watches for file changes and reloads. Blocks until ctx is cancelled.
// A config that fails to load or apply leaves the previous one active.
func (r *Reloader) Run(ctx context.Context) error {
	defer r.watcher.Close()

	// Editors fire multiple events per save; wait for the burst to settle.
	var debounce *time.Timer

	for {
		select {
		case <-ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			return nil

		case event, ok := <-r.watcher.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(reloadDebounce, r.reload)
			}

		case err, ok := <-r.watcher.Errors:
			if !ok {
				return nil
			}
			fmt.Fprintf(os.Stderr, "config watcher error: %v\n", err)
		}
	}
}

func (r *Reloader) reload() {
	cfg, err := Load(r.path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "hot-reload failed: %v\n", err)
		return
	}
	if err := r.apply(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "hot-reload apply failed: %v\n", err)
		return
	}
	fmt.Fprintf(os.Stderr, "hot-reload: config reloaded\n")
}
