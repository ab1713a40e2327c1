// Package provider defines the contract pluggable backends implement and
// the registry that pools instances per protocol, tracks health, and
// selects among them via the load balancer.
package provider

import (
	"context"
	"sync"
	"time"
)

// Provider is the contract every concrete backend (local code runner,
// remote LLM endpoint, generic RPC tool server) implements. Concrete
// bodies are out of scope; this package only carries the abstract
// contract and its registry.
type Provider interface {
	Initialize(ctx context.Context) error
	Shutdown(ctx context.Context) error
	SupportedMethods() []string
	HealthCheck(ctx context.Context) HealthStatus
	Handle(ctx context.Context, method string, params map[string]interface{}) (interface{}, error)
}

// HealthStatus is a provider's self-reported health, distinct from the
// registry's separately tracked Status (updated by the health-monitor
// loop, not solely by self-report).
type HealthStatus struct {
	Healthy bool
	Details string
}

// Status is an instance's registry-tracked availability.
type Status string

const (
	StatusHealthy   Status = "HEALTHY"
	StatusDegraded  Status = "DEGRADED"
	StatusUnhealthy Status = "UNHEALTHY"
	StatusUnknown   Status = "UNKNOWN"
)

// Metrics accumulates per-instance counters the load balancer and circuit
// breaker read from.
type Metrics struct {
	mu                  sync.Mutex
	RequestCount        int64
	ErrorCount          int64
	ActiveRequests      int64
	avgResponseTimeMs   float64
}

// RecordStart increments the active-request gauge; callers must pair it
// with RecordFinish.
func (m *Metrics) RecordStart() {
	m.mu.Lock()
	m.ActiveRequests++
	m.mu.Unlock()
}

// RecordFinish decrements active requests and folds the call's duration
// and outcome into the moving-average response time and error count.
func (m *Metrics) RecordFinish(d time.Duration, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ActiveRequests--
	m.RequestCount++
	if err != nil {
		m.ErrorCount++
	}
	const alpha = 0.2 // exponential moving average smoothing factor
	ms := float64(d.Milliseconds())
	if m.RequestCount == 1 {
		m.avgResponseTimeMs = ms
	} else {
		m.avgResponseTimeMs = alpha*ms + (1-alpha)*m.avgResponseTimeMs
	}
}

// Snapshot returns a read-only copy of the current counters.
func (m *Metrics) Snapshot() (requestCount, errorCount, activeRequests int64, avgResponseTimeMs float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.RequestCount, m.ErrorCount, m.ActiveRequests, m.avgResponseTimeMs
}

// ErrorRate returns ErrorCount/RequestCount, or 0 with no requests yet.
func (m *Metrics) ErrorRate() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.RequestCount == 0 {
		return 0
	}
	return float64(m.ErrorCount) / float64(m.RequestCount)
}

// Instance is one registered (provider_id, protocol_id) pairing.
type Instance struct {
	ProviderID   string
	ProtocolID   string
	Capabilities map[string]bool
	Tags         map[string]string
	Weight       float64

	Impl    Provider
	Metrics *Metrics

	// Prom optionally mirrors Metrics into Prometheus collectors. Nil by
	// default; set it after NewInstance to opt an instance into exported
	// metrics.
	Prom *PrometheusRecorder

	mu     sync.RWMutex
	status Status
}

// NewInstance wraps a Provider implementation for registration.
func NewInstance(providerID, protocolID string, impl Provider, capabilities []string) *Instance {
	caps := make(map[string]bool, len(capabilities))
	for _, c := range capabilities {
		caps[c] = true
	}
	return &Instance{
		ProviderID:   providerID,
		ProtocolID:   protocolID,
		Capabilities: caps,
		Tags:         map[string]string{},
		Weight:       1,
		Impl:         impl,
		Metrics:      &Metrics{},
		status:       StatusUnknown,
	}
}

// Status returns the instance's registry-tracked status.
func (i *Instance) Status() Status {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.status
}

// SetStatus updates the registry-tracked status (called by the health
// monitor loop, independent of the provider's own HealthCheck self-report).
func (i *Instance) SetStatus(s Status) {
	i.mu.Lock()
	i.status = s
	i.mu.Unlock()
}

// SupportsMethod reports whether method is in the provider's advertised set.
func (i *Instance) SupportsMethod(method string) bool {
	for _, m := range i.Impl.SupportedMethods() {
		if m == method {
			return true
		}
	}
	return false
}

// HasCapabilities reports whether every required capability is present.
func (i *Instance) HasCapabilities(required []string) bool {
	for _, r := range required {
		if !i.Capabilities[r] {
			return false
		}
	}
	return true
}

// CircuitAllows reports whether an instance's breaker currently permits a
// call; set by the engine (pkg/provider/breaker) before a selection pass.
// A nil hook means "always allow" (used for instances that don't yet have
// a breaker, e.g. freshly registered before the first health sweep).
type CircuitAllows func(providerID string) bool

// Registry stores provider instances, keyed by protocol id, and serves
// selection requests that defer to the load balancer.
type Registry struct {
	mu        sync.RWMutex
	instances map[string][]*Instance // protocolID -> instances
	byID      map[string]*Instance   // providerID -> instance
}

// NewRegistry creates an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{
		instances: make(map[string][]*Instance),
		byID:      make(map[string]*Instance),
	}
}

// Register adds an instance to the pool for its protocol.
func (r *Registry) Register(inst *Instance) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.instances[inst.ProtocolID] = append(r.instances[inst.ProtocolID], inst)
	r.byID[inst.ProviderID] = inst
}

// Unregister removes an instance by provider id.
func (r *Registry) Unregister(providerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inst, ok := r.byID[providerID]
	if !ok {
		return
	}
	delete(r.byID, providerID)
	list := r.instances[inst.ProtocolID]
	for idx, i := range list {
		if i.ProviderID == providerID {
			r.instances[inst.ProtocolID] = append(list[:idx], list[idx+1:]...)
			break
		}
	}
}

// ListForProtocol returns every instance registered for protocolID.
func (r *Registry) ListForProtocol(protocolID string) []*Instance {
	r.mu.RLock()
	defer r.mu.RUnlock()
	list := r.instances[protocolID]
	out := make([]*Instance, len(list))
	copy(out, list)
	return out
}

// Get returns the instance registered under providerID.
func (r *Registry) Get(providerID string) (*Instance, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	inst, ok := r.byID[providerID]
	return inst, ok
}

// Candidates filters ListForProtocol(protocolID) down to instances that
// support method, are HEALTHY or DEGRADED, whose circuit (if circuitAllows
// is non-nil) currently permits calls, and that carry every required
// capability. The load balancer (pkg/provider/balancer) picks among these.
func (r *Registry) Candidates(protocolID, method string, requiredCapabilities []string, circuitAllows CircuitAllows) []*Instance {
	var out []*Instance
	for _, inst := range r.ListForProtocol(protocolID) {
		if !inst.SupportsMethod(method) {
			continue
		}
		status := inst.Status()
		if status != StatusHealthy && status != StatusDegraded {
			continue
		}
		if circuitAllows != nil && !circuitAllows(inst.ProviderID) {
			continue
		}
		if !inst.HasCapabilities(requiredCapabilities) {
			continue
		}
		out = append(out, inst)
	}
	return out
}
