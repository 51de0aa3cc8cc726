// Package pool implements APIPool: a health-tracked, priority-ordered set of
// LLM endpoints with retry/failover, per SPEC_FULL.md §4.1.
package pool

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/liliang-cn/hive/pkg/hive"
	"github.com/liliang-cn/hive/pkg/hivelog"
	"github.com/liliang-cn/hive/pkg/providers"
)

var log = hivelog.WithModule("pool")

// Policy carries the tunable knobs from spec.md §6.
type Policy struct {
	MaxRetries              int
	CircuitBreakerThreshold int
	HealthCheckInterval     time.Duration
}

func (p Policy) withDefaults() Policy {
	if p.MaxRetries <= 0 {
		p.MaxRetries = 3
	}
	if p.CircuitBreakerThreshold <= 0 {
		p.CircuitBreakerThreshold = 5
	}
	if p.HealthCheckInterval <= 0 {
		p.HealthCheckInterval = 60 * time.Second
	}
	return p
}

// Pool is the APIPool: it owns a set of Endpoints, a priority ordering over
// them, and the failover/health-check policy.
type Pool struct {
	mu        sync.Mutex
	endpoints map[string]*Endpoint
	order     []string

	policy   Policy
	registry *providers.Registry
	metrics  *Metrics

	now func() time.Time
}

// New constructs an empty Pool. registry may be nil; in that case
// HealthCheckAll is a no-op (no provider bindings to probe with).
func New(policy Policy, registry *providers.Registry) *Pool {
	return &Pool{
		endpoints: make(map[string]*Endpoint),
		policy:    policy.withDefaults(),
		registry:  registry,
		now:       time.Now,
	}
}

// WithMetrics attaches Prometheus instruments; every subsequent
// ExecuteWithFailover attempt reports through them. Returns p for chaining.
func (p *Pool) WithMetrics(m *Metrics) *Pool {
	p.metrics = m
	return p
}

// AddEndpoint registers (or replaces) an endpoint under id. Idempotent.
func (p *Pool) AddEndpoint(id string, cfg Config) *Endpoint {
	p.mu.Lock()
	defer p.mu.Unlock()

	ep := newEndpoint(id, cfg)
	p.endpoints[id] = ep
	p.reorderLocked()
	log.Info("endpoint added", "id", id, "provider", cfg.Provider, "model", cfg.ModelName)
	return ep
}

// RemoveEndpoint drops an endpoint from the pool. Idempotent.
func (p *Pool) RemoveEndpoint(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.endpoints, id)
	p.reorderLocked()
}

// reorderLocked recomputes p.order by (statusRank, -priority). Must be
// called with p.mu held.
func (p *Pool) reorderLocked() {
	now := p.now()
	ids := make([]string, 0, len(p.endpoints))
	for id := range p.endpoints {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, b := p.endpoints[ids[i]], p.endpoints[ids[j]]
		ra, rb := statusRank(a.Status(now)), statusRank(b.Status(now))
		if ra != rb {
			return ra < rb
		}
		return a.Priority > b.Priority
	})
	p.order = ids
}

// SelectEndpoint returns the best available endpoint satisfying capability
// and, when set, preferring preferredProvider. Never panics or throws; a
// miss returns hive.ErrNoHealthyEndpoint.
func (p *Pool) SelectEndpoint(capability, preferredProvider string) (*Endpoint, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.selectLocked(capability, preferredProvider, nil)
}

// selectLocked is SelectEndpoint's core, with an optional exclusion set used
// by ExecuteWithFailover to skip already-attempted endpoints.
func (p *Pool) selectLocked(capability, preferredProvider string, excluded map[string]struct{}) (*Endpoint, error) {
	now := p.now()
	p.reorderLocked()

	var fallback *Endpoint
	for _, id := range p.order {
		ep := p.endpoints[id]
		if excluded != nil {
			if _, skip := excluded[id]; skip {
				continue
			}
		}
		if ep.Status(now) == HealthUnhealthy {
			continue
		}
		if ep.Status(now) == HealthRateLimited {
			// statusLocked inside Status() already resolved an expired
			// window back to Healthy; a still-RateLimited endpoint here is
			// genuinely not ready yet.
			continue
		}
		if !ep.hasCapability(capability) {
			continue
		}
		if fallback == nil {
			fallback = ep
		}
		if preferredProvider != "" && ep.Provider == preferredProvider {
			return ep, nil
		}
	}

	if fallback == nil {
		return nil, hive.ErrNoHealthyEndpoint
	}
	return fallback, nil
}

// ExecuteWithFailover runs op against the best endpoint, retrying on a
// different endpoint on failure with exponential backoff, for at most
// policy.MaxRetries attempts in total. It is a free function (not a Pool method) because Go
// methods cannot carry their own type parameters.
func ExecuteWithFailover[T any](ctx context.Context, p *Pool, capability, preferredProvider string, op func(ctx context.Context, ep *Endpoint) (T, error)) (T, error) {
	var zero T
	attempted := make(map[string]struct{})
	var lastErr error

	for attempt := 0; attempt < p.policy.MaxRetries; attempt++ {
		p.mu.Lock()
		ep, err := p.selectLocked(capability, preferredProvider, attempted)
		p.mu.Unlock()
		if err != nil {
			if lastErr != nil {
				return zero, errors.Join(hive.ErrAllRetriesFailed, lastErr)
			}
			return zero, hive.ErrNoHealthyEndpoint
		}
		attempted[ep.ID] = struct{}{}

		start := p.now()
		result, opErr := op(ctx, ep)
		if opErr == nil {
			ep.recordSuccess(p.now(), p.now().Sub(start))
			p.metrics.observeSuccess(ep)
			return result, nil
		}

		lastErr = opErr
		p.classifyFailure(ep, opErr)

		p.mu.Lock()
		p.reorderLocked()
		p.mu.Unlock()

		if ctx.Err() != nil {
			return zero, hive.ErrCancelled
		}

		select {
		case <-ctx.Done():
			return zero, hive.ErrCancelled
		case <-time.After(backoff(attempt)):
		}
	}

	return zero, errors.Join(hive.ErrAllRetriesFailed, lastErr)
}

func backoff(attempt int) time.Duration {
	return time.Duration(1<<uint(attempt)) * time.Second
}

// classifyFailure applies the §4.1 failure classification to ep based on
// opErr's type.
func (p *Pool) classifyFailure(ep *Endpoint, opErr error) {
	var rl *providers.RateLimitError
	var auth *providers.UnauthorizedError

	switch {
	case errors.As(opErr, &rl):
		ep.recordRateLimit(p.now(), 60*time.Second)
		log.Warn("endpoint rate limited", "id", ep.ID, "provider", ep.Provider)
		p.metrics.observeFailure(ep, "rate_limit", false)
	case errors.As(opErr, &auth):
		ep.recordUnauthorized()
		log.Error("endpoint unauthorized, marking unhealthy", "id", ep.ID, "provider", ep.Provider)
		p.metrics.observeFailure(ep, "unauthorized", false)
	default:
		status := ep.recordOtherError(p.policy.CircuitBreakerThreshold)
		if status == HealthUnhealthy {
			log.Warn("circuit breaker tripped", "id", ep.ID, "provider", ep.Provider)
		}
		p.metrics.observeFailure(ep, "other", status != HealthUnhealthy)
	}
}

// HealthCheckAll probes every endpoint once via the provider registry.
func (p *Pool) HealthCheckAll(ctx context.Context) {
	if p.registry == nil {
		return
	}
	p.mu.Lock()
	entries := make([]*Endpoint, 0, len(p.endpoints))
	for _, ep := range p.endpoints {
		entries = append(entries, ep)
	}
	p.mu.Unlock()

	var wg sync.WaitGroup
	for _, ep := range entries {
		wg.Add(1)
		go func(ep *Endpoint) {
			defer wg.Done()
			err := p.registry.Probe(ctx, ep.Provider, ep.BaseURL, ep.Credential, ep.ModelName)
			ep.recordHealthProbe(err == nil)
			if err != nil {
				log.Debug("health probe failed", "id", ep.ID, "err", err)
			}
		}(ep)
	}
	wg.Wait()

	p.mu.Lock()
	p.reorderLocked()
	p.mu.Unlock()
}

// MonitorHealth runs HealthCheckAll on a cron schedule of
// "@every <interval>" until ctx is cancelled. It blocks until cancellation,
// so callers typically run it in its own goroutine.
func (p *Pool) MonitorHealth(ctx context.Context) {
	c := cron.New()
	spec := fmt.Sprintf("@every %s", p.policy.HealthCheckInterval)
	if _, err := c.AddFunc(spec, func() { p.HealthCheckAll(ctx) }); err != nil {
		log.Error("invalid health check schedule, falling back to default interval", "spec", spec, "err", err)
		if _, err := c.AddFunc("@every 60s", func() { p.HealthCheckAll(ctx) }); err != nil {
			return
		}
	}
	c.Start()
	defer c.Stop()
	<-ctx.Done()
}

// Stats is the aggregate + per-endpoint snapshot returned by Stats().
type Stats struct {
	Endpoints    []Snapshot
	HealthyCount int
	TotalCount   int
}

func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	out := Stats{}
	for _, id := range p.order {
		snap := p.endpoints[id].snapshot(now)
		out.Endpoints = append(out.Endpoints, snap)
		if snap.Status == HealthHealthy {
			out.HealthyCount++
		}
	}
	out.TotalCount = len(p.endpoints)
	return out
}

// Len reports the number of configured endpoints.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.endpoints)
}
