package main

import (
	"fmt"

	"github.com/liliang-cn/hive/pkg/config"
	"github.com/spf13/cobra"
)

var workersCmd = &cobra.Command{
	Use:   "workers",
	Short: "list configured workers",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}

		orch, err := buildOrchestrator(cfg)
		if err != nil {
			return err
		}

		for _, w := range orch.Workers() {
			fmt.Printf("  %-10s role=%-12s load=%d status=%s\n", w.ID, w.Role, w.Load, w.Status)
		}
		return nil
	},
}
