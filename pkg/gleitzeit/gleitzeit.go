// Package gleitzeit is the public entry point for embedding the workflow
// orchestrator: it wires the protocol registry, provider registry,
// persistence store, dispatch queue, circuit breakers, and execution
// engine behind a single Client, and exposes workflow submission, status,
// cancellation, and batch processing without requiring callers to
// construct any internal package themselves.
package gleitzeit

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gleitzeit/gleitzeit/pkg/batch"
	"github.com/gleitzeit/gleitzeit/pkg/engine"
	"github.com/gleitzeit/gleitzeit/pkg/persistence"
	"github.com/gleitzeit/gleitzeit/pkg/persistence/memory"
	"github.com/gleitzeit/gleitzeit/pkg/protocol"
	"github.com/gleitzeit/gleitzeit/pkg/provider"
	"github.com/gleitzeit/gleitzeit/pkg/provider/breaker"
	"github.com/gleitzeit/gleitzeit/pkg/queue"
	"github.com/gleitzeit/gleitzeit/pkg/workflow"
	"github.com/gleitzeit/gleitzeit/pkg/workflow/manager"
	"github.com/gleitzeit/gleitzeit/pkg/workflow/watch"
)

// Client is the orchestrator's embeddable handle: submit workflow
// definitions, poll status, cancel, or run ad hoc batch jobs.
type Client struct {
	log            *slog.Logger
	store          persistence.Store
	protocols      *protocol.Registry
	providers      *provider.Registry
	breakers       *breaker.Registry
	queue          *queue.Queue
	engineCfg      engine.Config
	recoverOnStart bool
	engine         *engine.Engine
	manager        *manager.Manager
	batch          *batch.Processor

	watchMu sync.Mutex
	watcher *watch.Watcher

	closeOnce sync.Once
}

// New constructs a Client. With no options the store is an in-memory
// persistence.Store, the engine uses engine.DefaultConfig(), and logging
// goes to slog.Default() — suitable for tests and short-lived tooling, not
// a restart-surviving deployment (use WithSQLiteStore or WithS3Store for
// that).
func New(opts ...Option) (*Client, error) {
	c := &Client{
		log:       slog.Default(),
		protocols: protocol.NewRegistry(),
		providers: provider.NewRegistry(),
		breakers:  breaker.NewRegistry(breaker.DefaultConfig()),
		queue:     queue.New(),
	}

	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, fmt.Errorf("gleitzeit: apply option: %w", err)
		}
	}

	if c.store == nil {
		c.store = memory.New()
	}

	c.engine = engine.New(c.engineCfg, c.store, c.queue, c.protocols, c.providers, c.breakers, c.log)
	c.manager = manager.New(c.store, c.protocols, c.engine)
	c.batch = batch.New(c.store, c.manager)

	return c, nil
}

// Start launches the engine's worker pool and, if Recover was requested via
// WithCrashRecovery, resumes any workflows left incomplete by a prior
// process.
func (c *Client) Start(ctx context.Context) error {
	if c.recoverOnStart {
		if err := c.engine.Recover(ctx); err != nil {
			return fmt.Errorf("gleitzeit: recover incomplete workflows: %w", err)
		}
	}
	c.engine.Start(ctx)
	return nil
}

// Close stops the engine's worker pool (draining in-flight dispatches),
// stops the definition watcher if one was started, and closes the
// persistence store. Safe to call multiple times.
func (c *Client) Close(ctx context.Context) error {
	var err error
	c.closeOnce.Do(func() {
		c.watchMu.Lock()
		w := c.watcher
		c.watchMu.Unlock()
		if w != nil {
			if stopErr := w.Stop(); stopErr != nil {
				c.log.Error("stop workflow watcher failed", "error", stopErr)
			}
		}

		if stopErr := c.engine.Stop(ctx); stopErr != nil {
			err = fmt.Errorf("gleitzeit: stop engine: %w", stopErr)
			return
		}
		if closeErr := c.store.Close(); closeErr != nil {
			err = fmt.Errorf("gleitzeit: close store: %w", closeErr)
		}
	})
	return err
}

// RegisterProtocol adds a protocol specification to the registry every
// submitted workflow's tasks are validated against.
func (c *Client) RegisterProtocol(spec protocol.Spec) error {
	return c.protocols.Register(spec)
}

// RegisterProvider pools a provider instance for dispatch, under the
// protocol it was constructed for.
func (c *Client) RegisterProvider(inst *provider.Instance) {
	c.providers.Register(inst)
}

// Submit parses, validates, persists, and enqueues a YAML or JSON workflow
// definition, returning the created workflow record.
func (c *Client) Submit(ctx context.Context, definition []byte) (*workflow.Workflow, error) {
	return c.manager.Submit(ctx, definition)
}

// SubmitDefinition submits an already-parsed workflow definition.
func (c *Client) SubmitDefinition(ctx context.Context, def *workflow.WorkflowDefinition) (*workflow.Workflow, error) {
	return c.manager.SubmitDefinition(ctx, def)
}

// Status returns the persisted state of a submitted workflow.
func (c *Client) Status(ctx context.Context, workflowID string) (*workflow.Workflow, error) {
	return c.manager.Status(ctx, workflowID)
}

// Cancel requests cancellation of a running workflow.
func (c *Client) Cancel(ctx context.Context, workflowID string) error {
	return c.manager.Cancel(ctx, workflowID)
}

// RunBatch globs pattern, builds one independent task per match calling
// protocolID/method, submits the resulting workflow, and blocks until
// every file task (and the optional aggregator) reaches a terminal state.
func (c *Client) RunBatch(ctx context.Context, pattern, protocolID, method string, paramsTemplate map[string]interface{}, aggregator *batch.AggregatorSpec) (*batch.Result, error) {
	return c.batch.Run(ctx, pattern, protocolID, method, paramsTemplate, aggregator)
}

// WatchDirectory hot-reloads workflow definitions from dir: every created
// or modified file matching pattern is read and (re)submitted, with
// outcomes delivered on the returned channel. Only one watched directory
// is supported per Client; calling WatchDirectory again replaces the prior
// watcher after stopping it.
func (c *Client) WatchDirectory(ctx context.Context, dir, pattern string) (<-chan watch.Event, error) {
	w, err := watch.New(watch.Config{Dir: dir, Pattern: pattern}, c.manager, c.log)
	if err != nil {
		return nil, fmt.Errorf("gleitzeit: start directory watch: %w", err)
	}

	c.watchMu.Lock()
	prev := c.watcher
	c.watcher = w
	c.watchMu.Unlock()
	if prev != nil {
		_ = prev.Stop()
	}

	w.Start(ctx)
	return w.Events(), nil
}
