package main

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/liliang-cn/hive/pkg/config"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run [goal]",
	Short: "decompose and execute a goal",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}

		orch, err := buildOrchestrator(cfg)
		if err != nil {
			return err
		}

		// invocationID correlates this CLI run's log lines; it has no bearing
		// on task/subtask identity, which stays content-addressed (roundid).
		invocationID := uuid.New().String()
		log.Info("starting run", "invocation_id", invocationID, "goal", args[0])

		ctx := context.Background()
		orch.Start(ctx)
		defer orch.Stop()

		task, err := orch.ExecuteGoal(ctx, args[0], nil)
		if err != nil {
			return err
		}

		fmt.Printf("task %s: %d subtasks\n", task.ID, len(task.Subtasks))
		for _, st := range task.Subtasks {
			fmt.Printf("  [%s] %s (%s): %s\n", st.ID, st.Role, st.Status, st.Result)
		}
		if task.FinalResult != nil {
			fmt.Printf("\nsummary: %s\n", task.FinalResult.Summary)
			fmt.Printf("confidence: %.2f\n", task.FinalResult.ConfidenceScore)
		}
		return nil
	},
}
