// Package watch hot-reloads workflow definitions from a directory: on
// every create/write of a matching file, it reads and submits the
// definition, delivering the outcome on a channel the caller drains.
package watch

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/gleitzeit/gleitzeit/pkg/workflow"
	"github.com/gleitzeit/gleitzeit/pkg/workflow/manager"
)

var _ Submitter = (*manager.Manager)(nil)

// Submitter is the subset of *manager.Manager this package depends on,
// defined as an interface so any submission path can be plugged in;
// pkg/workflow/manager is imported only for the compile-time assertion
// above.
type Submitter interface {
	Submit(ctx context.Context, data []byte) (*workflow.Workflow, error)
}

// Event reports the outcome of (re)submitting one watched file.
type Event struct {
	Path     string
	Workflow *workflow.Workflow
	Err      error
}

// Config configures a Watcher.
type Config struct {
	// Dir is the directory to watch (non-recursive, matching the
	// fsnotify.Watcher.Add contract).
	Dir string
	// Pattern is a filepath.Match glob applied to each event's base name;
	// empty matches every file.
	Pattern string
}

// Watcher watches Dir for workflow-definition file changes and submits
// each one via Submitter.
type Watcher struct {
	cfg       Config
	submitter Submitter
	fsw       *fsnotify.Watcher
	events    chan Event
	log       *slog.Logger
	stopCh    chan struct{}
	doneCh    chan struct{}
}

// New creates a Watcher over cfg.Dir. The fsnotify watch is registered
// immediately; Start begins delivering events.
func New(cfg Config, submitter Submitter, log *slog.Logger) (*Watcher, error) {
	if log == nil {
		log = slog.Default()
	}
	absDir, err := filepath.Abs(cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("watch: resolve dir: %w", err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch: create fsnotify watcher: %w", err)
	}
	if err := fsw.Add(absDir); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watch: watch dir %q: %w", absDir, err)
	}

	cfg.Dir = absDir
	return &Watcher{
		cfg:       cfg,
		submitter: submitter,
		fsw:       fsw,
		events:    make(chan Event, 32),
		log:       log.With("component", "workflow_watch", "dir", absDir),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}, nil
}

// Start begins watching in the background.
func (w *Watcher) Start(ctx context.Context) {
	go w.loop(ctx)
}

// Stop stops the watcher and releases the underlying fsnotify handle.
func (w *Watcher) Stop() error {
	close(w.stopCh)
	<-w.doneCh
	return w.fsw.Close()
}

// Events returns the channel delivering one Event per (re)submission.
func (w *Watcher) Events() <-chan Event {
	return w.events
}

func (w *Watcher) loop(ctx context.Context) {
	defer close(w.doneCh)
	defer close(w.events)

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(ctx, ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Error("watcher error", "error", err)
		}
	}
}

func (w *Watcher) handle(ctx context.Context, ev fsnotify.Event) {
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
		return
	}
	if w.cfg.Pattern != "" {
		matched, err := filepath.Match(w.cfg.Pattern, filepath.Base(ev.Name))
		if err != nil || !matched {
			return
		}
	}

	data, err := os.ReadFile(ev.Name)
	if err != nil {
		w.deliver(Event{Path: ev.Name, Err: fmt.Errorf("watch: read %q: %w", ev.Name, err)})
		return
	}

	wf, err := w.submitter.Submit(ctx, data)
	if err != nil {
		w.log.Error("submit failed", "path", ev.Name, "error", err)
	} else {
		w.log.Info("submitted reloaded workflow", "path", ev.Name, "workflow_id", wf.ID)
	}
	w.deliver(Event{Path: ev.Name, Workflow: wf, Err: err})
}

func (w *Watcher) deliver(ev Event) {
	select {
	case w.events <- ev:
	default:
		w.log.Warn("event channel full, dropping", "path", ev.Path)
	}
}
