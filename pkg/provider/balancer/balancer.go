// Package balancer selects among a protocol's eligible provider
// instances. Pool state (request counts, response times, circuit status)
// flows in as arguments; the balancer itself holds only the per-strategy
// counters needed for round-robin fairness.
package balancer

import (
	"math/rand"
	"sync"

	"github.com/gleitzeit/gleitzeit/pkg/provider"
)

// Strategy names a selection algorithm.
type Strategy string

const (
	RoundRobin         Strategy = "round_robin"
	LeastLoaded        Strategy = "least_loaded"
	LeastResponseTime  Strategy = "least_response_time"
	Random             Strategy = "random"
	WeightedRandom     Strategy = "weighted_random"
	ModelAffinity      Strategy = "model_affinity"
	CapabilityAffinity Strategy = "capability_affinity"
)

// Balancer selects a candidate instance per call. It is stateless w.r.t.
// the instance pool (that state lives on *provider.Instance itself); the
// only state it owns is round-robin counters, keyed per (protocol, method).
type Balancer struct {
	mu       sync.Mutex
	counters map[string]int
}

// New creates a balancer with empty round-robin counters.
func New() *Balancer {
	return &Balancer{counters: make(map[string]int)}
}

// Select picks one instance from candidates using strategy. requiredCapability
// is consulted only for model_affinity/capability_affinity (the caller is
// expected to have already filtered candidates by required capabilities
// via provider.Registry.Candidates; this parameter additionally ranks by
// affinity when more than one candidate remains). Returns false if
// candidates is empty.
func (b *Balancer) Select(protocolID, method string, strategy Strategy, candidates []*provider.Instance, requiredCapability string) (*provider.Instance, bool) {
	if len(candidates) == 0 {
		return nil, false
	}
	if len(candidates) == 1 {
		return candidates[0], true
	}

	switch strategy {
	case RoundRobin:
		return b.roundRobin(protocolID, method, candidates), true
	case LeastResponseTime:
		return leastResponseTime(candidates), true
	case Random:
		return candidates[rand.Intn(len(candidates))], true
	case WeightedRandom:
		return weightedRandom(candidates), true
	case ModelAffinity, CapabilityAffinity:
		filtered := filterByCapability(candidates, requiredCapability)
		return leastLoaded(filtered), true
	case LeastLoaded:
		return leastLoaded(candidates), true
	default:
		return leastLoaded(candidates), true
	}
}

func (b *Balancer) roundRobin(protocolID, method string, candidates []*provider.Instance) *provider.Instance {
	b.mu.Lock()
	defer b.mu.Unlock()
	key := protocolID + "/" + method
	idx := b.counters[key] % len(candidates)
	b.counters[key] = b.counters[key] + 1
	return candidates[idx]
}

// leastLoaded picks the minimum ActiveRequests, breaking ties by lowest
// moving-average response time, then by candidate order (the earliest
// such candidate wins).
func leastLoaded(candidates []*provider.Instance) *provider.Instance {
	if len(candidates) == 0 {
		return nil
	}
	best := candidates[0]
	_, _, bestActive, bestAvg := best.Metrics.Snapshot()
	for _, c := range candidates[1:] {
		_, _, active, avg := c.Metrics.Snapshot()
		if active < bestActive || (active == bestActive && avg < bestAvg) {
			best, bestActive, bestAvg = c, active, avg
		}
	}
	return best
}

// leastResponseTime picks the minimum moving-average response time,
// breaking ties by lowest active-request count.
func leastResponseTime(candidates []*provider.Instance) *provider.Instance {
	if len(candidates) == 0 {
		return nil
	}
	best := candidates[0]
	_, _, bestActive, bestAvg := best.Metrics.Snapshot()
	for _, c := range candidates[1:] {
		_, _, active, avg := c.Metrics.Snapshot()
		if avg < bestAvg || (avg == bestAvg && active < bestActive) {
			best, bestActive, bestAvg = c, active, avg
		}
	}
	return best
}

// weightedRandom weights each candidate by 1/(1+error_rate) * instance
// weight (the configured "priority" from spec.md's weighted_random rule).
func weightedRandom(candidates []*provider.Instance) *provider.Instance {
	weights := make([]float64, len(candidates))
	var total float64
	for i, c := range candidates {
		w := (1.0 / (1.0 + c.Metrics.ErrorRate())) * effectiveWeight(c)
		weights[i] = w
		total += w
	}
	if total <= 0 {
		return candidates[rand.Intn(len(candidates))]
	}
	r := rand.Float64() * total
	var cum float64
	for i, w := range weights {
		cum += w
		if r <= cum {
			return candidates[i]
		}
	}
	return candidates[len(candidates)-1]
}

func effectiveWeight(inst *provider.Instance) float64 {
	if inst.Weight <= 0 {
		return 1
	}
	return inst.Weight
}

func filterByCapability(candidates []*provider.Instance, capability string) []*provider.Instance {
	if capability == "" {
		return candidates
	}
	var out []*provider.Instance
	for _, c := range candidates {
		if c.Capabilities[capability] {
			out = append(out, c)
		}
	}
	if len(out) == 0 {
		return candidates
	}
	return out
}
