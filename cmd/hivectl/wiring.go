package main

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/liliang-cn/hive/pkg/config"
	"github.com/liliang-cn/hive/pkg/memory"
	"github.com/liliang-cn/hive/pkg/orchestrator"
	"github.com/liliang-cn/hive/pkg/pool"
	"github.com/liliang-cn/hive/pkg/providers"
	"github.com/liliang-cn/hive/pkg/tools"
)

// buildOrchestrator wires a Pool, provider Registry, tool Registry, and
// Memory sink from cfg into a ready-to-use Orchestrator.
func buildOrchestrator(cfg *config.Config) (*orchestrator.Orchestrator, error) {
	if len(cfg.Endpoints) == 0 {
		return nil, fmt.Errorf("no endpoints configured")
	}

	registry := providers.NewRegistry()
	p := pool.New(pool.Policy{
		MaxRetries:              cfg.Pool.MaxRetries,
		CircuitBreakerThreshold: cfg.Pool.CircuitBreakerThreshold,
		HealthCheckInterval:     time.Duration(cfg.Pool.HealthCheckIntervalSec) * time.Second,
	}, registry).WithMetrics(pool.NewMetrics(prometheus.DefaultRegisterer))

	providerNames := make([]string, 0, len(cfg.Endpoints))
	for _, ep := range cfg.Endpoints {
		p.AddEndpoint(ep.ID, pool.Config{
			Provider:     ep.Provider,
			Credential:   ep.Credential(),
			ModelName:    ep.Model,
			BaseURL:      ep.BaseURL,
			Priority:     ep.Priority,
			Capabilities: ep.Capabilities,
		})
		providerNames = append(providerNames, ep.Provider)
	}

	mem, err := buildMemorySink(cfg)
	if err != nil {
		return nil, err
	}

	toolReg := tools.NewRegistry()
	toolReg.Register(tools.WebSearchTool{})
	toolReg.Register(tools.MemorySearchTool{Sink: mem})

	policy := orchestrator.Policy{
		PeerReviewEnabled:     cfg.Orchestrator.PeerReviewEnabled,
		SelfCorrectionEnabled: cfg.Orchestrator.SelfCorrectionEnabled,
		MaxSubtaskAttempts:    cfg.Orchestrator.MaxSubtaskAttempts,
		ExecutionStepCap:      cfg.Orchestrator.ExecutionStepCap,
	}

	return orchestrator.New(p, registry, toolReg, mem, policy, providerNames), nil
}

func buildMemorySink(cfg *config.Config) (memory.Sink, error) {
	switch cfg.Memory.Driver {
	case "sqlite":
		sink, err := memory.NewSQLiteSink(cfg.Memory.DBPath)
		if err != nil {
			return nil, fmt.Errorf("open memory store: %w", err)
		}
		return sink, nil
	default:
		return memory.NullSink{}, nil
	}
}
