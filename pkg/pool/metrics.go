package pool

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the Prometheus instruments a Pool reports through, grounded
// on the client_golang CounterVec/GaugeVec pattern used elsewhere in the
// example pack's provider-manager style components.
type Metrics struct {
	requests *prometheus.CounterVec
	failures *prometheus.CounterVec
	healthy  *prometheus.GaugeVec
}

// NewMetrics registers the pool's instruments against reg and returns them.
// Pass prometheus.DefaultRegisterer for process-wide metrics, or a fresh
// *prometheus.Registry in tests to avoid collisions across Pool instances.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hive_pool_requests_total",
			Help: "Completed ExecuteWithFailover attempts per endpoint, labeled by outcome.",
		}, []string{"endpoint", "provider", "outcome"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hive_pool_failure_total",
			Help: "Classified failures per endpoint, labeled by failure kind.",
		}, []string{"endpoint", "provider", "kind"}),
		healthy: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "hive_pool_endpoint_healthy",
			Help: "1 if the endpoint is currently Healthy, else 0.",
		}, []string{"endpoint", "provider"}),
	}
	reg.MustRegister(m.requests, m.failures, m.healthy)
	return m
}

func (m *Metrics) observeSuccess(ep *Endpoint) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(ep.ID, ep.Provider, "success").Inc()
	m.healthy.WithLabelValues(ep.ID, ep.Provider).Set(1)
}

func (m *Metrics) observeFailure(ep *Endpoint, kind string, stillHealthy bool) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(ep.ID, ep.Provider, "failure").Inc()
	m.failures.WithLabelValues(ep.ID, ep.Provider, kind).Inc()
	healthyVal := 0.0
	if stillHealthy {
		healthyVal = 1.0
	}
	m.healthy.WithLabelValues(ep.ID, ep.Provider).Set(healthyVal)
}
