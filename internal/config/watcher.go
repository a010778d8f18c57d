package config

import (
	"context"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/pressgate/pressgate/internal/observability"
)

// Watcher watches a configuration file and invokes a callback with the
// freshly parsed configuration whenever the file changes. Only the
// runtime-tunable subset (log level, websocket frame policy) is expected
// to be applied by callers; structural settings require a restart.
type Watcher struct {
	path     string
	onChange func(*Config)
	logger   observability.Logger
	watcher  *fsnotify.Watcher
}

// NewWatcher creates a watcher for the given config path.
func NewWatcher(path string, onChange func(*Config), logger observability.Logger) (*Watcher, error) {
	if logger == nil {
		logger = observability.NopLogger()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	// Watch the directory rather than the file: editors and config
	// management tools typically replace the file via rename.
	if err := fsw.Add(filepath.Dir(path)); err != nil {
		_ = fsw.Close()
		return nil, err
	}

	return &Watcher{
		path:     path,
		onChange: onChange,
		logger:   logger,
		watcher:  fsw,
	}, nil
}

// Run processes filesystem events until the context is cancelled.
func (w *Watcher) Run(ctx context.Context) {
	defer func() { _ = w.watcher.Close() }()

	abs, err := filepath.Abs(w.path)
	if err != nil {
		abs = w.path
	}

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !w.matches(event, abs) {
				continue
			}
			cfg, err := Load(w.path)
			if err != nil {
				w.logger.Warn("config reload failed",
					observability.String("path", w.path),
					observability.Error(err),
				)
				continue
			}
			if err := cfg.Validate(); err != nil {
				w.logger.Warn("reloaded config is invalid, keeping current settings",
					observability.Error(err),
				)
				continue
			}
			w.logger.Info("config reloaded", observability.String("path", w.path))
			w.onChange(cfg)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watcher error", observability.Error(err))
		}
	}
}

// matches reports whether the event refers to the watched file with an
// operation that changes its contents.
func (w *Watcher) matches(event fsnotify.Event, abs string) bool {
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
		return false
	}
	name, err := filepath.Abs(event.Name)
	if err != nil {
		name = event.Name
	}
	return name == abs
}
