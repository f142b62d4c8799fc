package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/docpipe/internal/logging"
)

// ErrWatcherFailed indicates the filesystem watcher failed to initialize.
var ErrWatcherFailed = errors.New("failed to initialize definition watcher")

// DefinitionWatcher keeps the definition at a path current. A rewritten
// file replaces the served definition only if it parses and passes the
// check function; otherwise the previous definition stays in place.
type DefinitionWatcher struct {
	path    string
	check   func(*Definition) error
	logger  *logging.Logger
	watcher *fsnotify.Watcher
	current atomic.Pointer[Definition]

	reloads chan *Definition
	stop    chan struct{}
	once    sync.Once
}

// NewDefinitionWatcher loads path and prepares to watch it. check may be
// nil; the orchestrator's Resolve is the usual choice.
func NewDefinitionWatcher(path string, check func(*Definition) error, logger *logging.Logger) (*DefinitionWatcher, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	w := &DefinitionWatcher{
		path:    filepath.Clean(path),
		check:   check,
		logger:  logger,
		reloads: make(chan *Definition, 1),
		stop:    make(chan struct{}),
	}

	def, err := w.load()
	if err != nil {
		return nil, err
	}
	w.current.Store(def)

	w.watcher, err = fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWatcherFailed, err)
	}
	// Editors often save by renaming over the file, which drops a watch on
	// the file itself, so the directory is watched instead.
	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		_ = w.watcher.Close()
		return nil, fmt.Errorf("watching %s: %w", filepath.Dir(w.path), err)
	}
	return w, nil
}

// Current returns the most recent valid definition.
func (w *DefinitionWatcher) Current() *Definition {
	return w.current.Load()
}

// Reloads delivers each newly accepted definition. Deliveries are dropped
// when nobody is receiving.
func (w *DefinitionWatcher) Reloads() <-chan *Definition {
	return w.reloads
}

// Start processes filesystem events in a background goroutine until ctx
// ends or Stop is called.
func (w *DefinitionWatcher) Start(ctx context.Context) {
	go w.processEvents(ctx)
}

// Stop releases the watcher. It is safe to call more than once.
func (w *DefinitionWatcher) Stop() {
	w.once.Do(func() {
		close(w.stop)
		_ = w.watcher.Close() // Best-effort cleanup, ignore error
	})
}

func (w *DefinitionWatcher) processEvents(ctx context.Context) {
	for {
		select {
		case <-w.stop:
			return
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				w.reload(ctx)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn(ctx, "definition watcher error", zap.Error(err))
		}
	}
}

func (w *DefinitionWatcher) reload(ctx context.Context) {
	def, err := w.load()
	if err != nil {
		w.logger.Warn(ctx, "keeping previous pipeline definition",
			zap.String("path", w.path),
			zap.Error(err),
		)
		return
	}
	w.current.Store(def)
	w.logger.Info(ctx, "pipeline definition reloaded",
		zap.String("path", w.path),
		zap.String("pipeline", def.Name),
		zap.Int("steps", len(def.Steps)),
	)
	select {
	case w.reloads <- def:
	default:
	}
}

func (w *DefinitionWatcher) load() (*Definition, error) {
	def, err := LoadDefinition(w.path)
	if err != nil {
		return nil, err
	}
	if w.check != nil {
		if err := w.check(def); err != nil {
			return nil, fmt.Errorf("pipeline definition %s: %w", w.path, err)
		}
	}
	return def, nil
}
