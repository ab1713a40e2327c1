package engine

import (
	"time"

	"go.opentelemetry.io/otel/trace"
)

// Config tunes the execution engine's concurrency and timeout behavior.
// Zero-value fields resolve to DefaultConfig's values.
type Config struct {
	// MaxConcurrentTasks bounds the executor worker pool.
	MaxConcurrentTasks int

	// ProviderWaitTimeout is how long a task waits for an eligible
	// provider instance to appear (all healthy instances busy or
	// circuit-open) before failing with ProviderUnavailable.
	ProviderWaitTimeout time.Duration

	// CallTimeout bounds a single provider.Handle call.
	CallTimeout time.Duration

	// CancelGracePeriod is how long a cancelled task's in-flight
	// provider call is given to return voluntarily before the task is
	// recorded CANCELLED regardless.
	CancelGracePeriod time.Duration

	// BalancerStrategy selects among eligible provider instances.
	BalancerStrategy string

	// Tracer records dispatch spans. Nil falls back to the global OTel
	// tracer provider (a no-op unless the host process configures a real
	// SDK/exporter).
	Tracer trace.Tracer
}

// DefaultConfig matches the stated engine defaults.
func DefaultConfig() Config {
	return Config{
		MaxConcurrentTasks:  5,
		ProviderWaitTimeout: 30 * time.Second,
		CallTimeout:         300 * time.Second,
		CancelGracePeriod:   10 * time.Second,
		BalancerStrategy:    "least_loaded",
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxConcurrentTasks <= 0 {
		c.MaxConcurrentTasks = d.MaxConcurrentTasks
	}
	if c.ProviderWaitTimeout <= 0 {
		c.ProviderWaitTimeout = d.ProviderWaitTimeout
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = d.CallTimeout
	}
	if c.CancelGracePeriod <= 0 {
		c.CancelGracePeriod = d.CancelGracePeriod
	}
	if c.BalancerStrategy == "" {
		c.BalancerStrategy = d.BalancerStrategy
	}
	return c
}
