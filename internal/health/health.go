// Package health aggregates checks over the engine's moving parts
// (database pool, bucket janitor) into the single answer the health
// endpoint reports. A checker only says whether its subsystem works;
// the registry owns naming and aggregation.
package health

import (
	"context"
	"sync"
)

// Status is one subsystem's check result, carried verbatim into the
// health endpoint response.
type Status struct {
	Name    string `json:"name"`
	Healthy bool   `json:"healthy"`
	Detail  string `json:"detail,omitempty"`
}

// Checker inspects one subsystem. The registry fills in Status.Name
// from the registration, so checkers only report health and detail.
type Checker func(ctx context.Context) Status

// Registry holds named checkers and runs them on demand.
type Registry struct {
	mu       sync.RWMutex
	checkers []namedChecker
}

type namedChecker struct {
	name  string
	check Checker
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds a checker under the given name.
func (r *Registry) Register(name string, check Checker) {
	r.mu.Lock()
	r.checkers = append(r.checkers, namedChecker{name: name, check: check})
	r.mu.Unlock()
}

// CheckAll runs every checker in registration order and reports the
// aggregate: unhealthy if any single check fails. An empty registry is
// healthy.
func (r *Registry) CheckAll(ctx context.Context) (healthy bool, statuses []Status) {
	r.mu.RLock()
	checkers := make([]namedChecker, len(r.checkers))
	copy(checkers, r.checkers)
	r.mu.RUnlock()

	healthy = true
	statuses = make([]Status, len(checkers))

	for i, nc := range checkers {
		statuses[i] = nc.check(ctx)
		statuses[i].Name = nc.name
		if !statuses[i].Healthy {
			healthy = false
		}
	}

	return healthy, statuses
}
