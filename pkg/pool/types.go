package pool

import (
	"sync"
	"time"
)

// Health is an Endpoint's availability state.
type Health string

const (
	HealthHealthy     Health = "healthy"
	HealthDegraded    Health = "degraded"
	HealthRateLimited Health = "rate_limited"
	HealthUnhealthy   Health = "unhealthy"
)

// statusRank orders Health for selection: Healthy < Degraded < RateLimited < Unhealthy.
func statusRank(h Health) int {
	switch h {
	case HealthHealthy:
		return 0
	case HealthDegraded:
		return 1
	case HealthRateLimited:
		return 2
	case HealthUnhealthy:
		return 3
	default:
		return 4
	}
}

// Config is the caller-supplied description of an endpoint, consumed at
// AddEndpoint time. Credential is opaque to the pool.
type Config struct {
	Provider     string
	Credential   string
	ModelName    string
	BaseURL      string
	Priority     int
	Capabilities []string
}

// Endpoint is a configured remote LLM access point. All mutable fields are
// guarded by mu so concurrent ExecuteWithFailover calls and health checks
// serialize per-endpoint, per SPEC_FULL.md §5.
type Endpoint struct {
	ID         string
	Provider   string
	ModelName  string
	Credential string
	BaseURL    string
	Priority   int

	mu                sync.Mutex
	capabilities      map[string]struct{}
	status            Health
	requestCount      int64
	errorCount        int64
	avgLatency        time.Duration
	lastUsed          time.Time
	rateLimitResetAt  time.Time
}

func newEndpoint(id string, cfg Config) *Endpoint {
	caps := make(map[string]struct{}, len(cfg.Capabilities))
	for _, c := range cfg.Capabilities {
		caps[c] = struct{}{}
	}
	return &Endpoint{
		ID:           id,
		Provider:     cfg.Provider,
		ModelName:    cfg.ModelName,
		Credential:   cfg.Credential,
		BaseURL:      cfg.BaseURL,
		Priority:     cfg.Priority,
		capabilities: caps,
		status:       HealthHealthy,
	}
}

// hasCapability reports whether the endpoint declares capability. An empty
// capability argument always matches.
func (e *Endpoint) hasCapability(capability string) bool {
	if capability == "" {
		return true
	}
	_, ok := e.capabilities[capability]
	return ok
}

// Status returns the endpoint's current health, resolving an expired
// rate-limit window back to Healthy as a side effect (mirrors
// SelectEndpoint's "on reset, transition to Healthy" rule).
func (e *Endpoint) Status(now time.Time) Health {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.statusLocked(now)
}

func (e *Endpoint) statusLocked(now time.Time) Health {
	if e.status == HealthRateLimited && !now.Before(e.rateLimitResetAt) {
		e.status = HealthHealthy
	}
	return e.status
}

// Snapshot is a read-only copy of an Endpoint's counters, safe to hand to
// callers outside the pool's lock.
type Snapshot struct {
	ID               string
	Provider         string
	ModelName        string
	Status           Health
	Priority         int
	RequestCount     int64
	ErrorCount       int64
	AvgLatency       time.Duration
	LastUsed         time.Time
	RateLimitResetAt time.Time
}

func (e *Endpoint) snapshot(now time.Time) Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Snapshot{
		ID:               e.ID,
		Provider:         e.Provider,
		ModelName:        e.ModelName,
		Status:           e.statusLocked(now),
		Priority:         e.Priority,
		RequestCount:     e.requestCount,
		ErrorCount:       e.errorCount,
		AvgLatency:       e.avgLatency,
		LastUsed:         e.lastUsed,
		RateLimitResetAt: e.rateLimitResetAt,
	}
}

func (e *Endpoint) recordSuccess(now time.Time, latency time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.avgLatency = (e.avgLatency*time.Duration(e.requestCount) + latency) / time.Duration(e.requestCount+1)
	e.requestCount++
	e.lastUsed = now
}

func (e *Endpoint) recordRateLimit(now time.Time, resetAfter time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.status = HealthRateLimited
	e.rateLimitResetAt = now.Add(resetAfter)
}

func (e *Endpoint) recordUnauthorized() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.status = HealthUnhealthy
}

// recordOtherError increments errorCount and trips the circuit breaker once
// threshold is reached. Returns the endpoint's status after the update.
func (e *Endpoint) recordOtherError(threshold int) Health {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.errorCount++
	if e.errorCount >= int64(threshold) {
		e.status = HealthUnhealthy
	}
	return e.status
}

// recordHealthProbe applies a health-check outcome: success resets
// errorCount and restores Healthy; failure increments errorCount and trips
// Unhealthy after three consecutive failures.
func (e *Endpoint) recordHealthProbe(healthy bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if healthy {
		e.errorCount = 0
		e.status = HealthHealthy
		return
	}
	e.errorCount++
	if e.errorCount >= 3 {
		e.status = HealthUnhealthy
	}
}
