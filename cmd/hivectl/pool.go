package main

import (
	"fmt"

	"github.com/liliang-cn/hive/pkg/config"
	"github.com/spf13/cobra"
)

var poolCmd = &cobra.Command{
	Use:   "pool",
	Short: "show APIPool endpoint stats",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}

		orch, err := buildOrchestrator(cfg)
		if err != nil {
			return err
		}

		stats := orch.PoolStats()
		fmt.Printf("endpoints: %d healthy / %d total\n\n", stats.HealthyCount, stats.TotalCount)
		for _, ep := range stats.Endpoints {
			fmt.Printf("  %-20s provider=%-10s status=%-12s priority=%d requests=%d errors=%d avg_latency=%s\n",
				ep.ID, ep.Provider, ep.Status, ep.Priority, ep.RequestCount, ep.ErrorCount, ep.AvgLatency)
		}
		return nil
	},
}
