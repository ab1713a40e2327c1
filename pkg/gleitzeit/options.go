package gleitzeit

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/gleitzeit/gleitzeit/pkg/engine"
	"github.com/gleitzeit/gleitzeit/pkg/persistence"
	"github.com/gleitzeit/gleitzeit/pkg/persistence/s3"
	"github.com/gleitzeit/gleitzeit/pkg/persistence/sqlite"
	"github.com/gleitzeit/gleitzeit/pkg/provider/breaker"
)

// Option is a functional option for Client construction.
type Option func(*Client) error

// WithLogger sets a custom structured logger. If not set, logs go to
// slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) error {
		if logger == nil {
			return fmt.Errorf("logger cannot be nil")
		}
		c.log = logger
		return nil
	}
}

// WithStore sets a custom persistence.Store. Most callers should instead
// use WithSQLiteStore or WithS3Store; this exists for test fakes and
// backends outside this module.
func WithStore(store persistence.Store) Option {
	return func(c *Client) error {
		if store == nil {
			return fmt.Errorf("store cannot be nil")
		}
		c.store = store
		return nil
	}
}

// WithSQLiteStore opens (and migrates) a SQLite-backed store at path
// (":memory:" for a throwaway instance).
func WithSQLiteStore(cfg sqlite.Config) Option {
	return func(c *Client) error {
		store, err := sqlite.New(cfg)
		if err != nil {
			return fmt.Errorf("open sqlite store: %w", err)
		}
		c.store = store
		return nil
	}
}

// WithS3Store resolves AWS credentials the standard way and uses bucket as
// an object-storage-backed store. Prefer WithSQLiteStore for workloads
// with tight listing-latency needs; see pkg/persistence/s3's doc comment.
func WithS3Store(ctx context.Context, bucket string) Option {
	return func(c *Client) error {
		store, err := s3.NewFromConfig(ctx, bucket)
		if err != nil {
			return fmt.Errorf("open s3 store: %w", err)
		}
		c.store = store
		return nil
	}
}

// WithEngineConfig overrides the execution engine's concurrency, timeout,
// and tracing configuration. Zero-value fields resolve to
// engine.DefaultConfig's values.
func WithEngineConfig(cfg engine.Config) Option {
	return func(c *Client) error {
		c.engineCfg = cfg
		return nil
	}
}

// WithBreakerConfig overrides the circuit breaker thresholds applied to
// every provider instance.
func WithBreakerConfig(cfg breaker.Config) Option {
	return func(c *Client) error {
		c.breakers = breaker.NewRegistry(cfg)
		return nil
	}
}

// WithCrashRecovery resumes workflows left RUNNING by a prior process the
// first time Start is called. Requires a restart-surviving store
// (WithSQLiteStore or WithS3Store); recovering against an in-memory store
// is a no-op since nothing in it could have survived the crash.
func WithCrashRecovery() Option {
	return func(c *Client) error {
		c.recoverOnStart = true
		return nil
	}
}
