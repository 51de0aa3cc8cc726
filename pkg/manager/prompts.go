package manager

import (
	"fmt"
	"strings"

	"github.com/liliang-cn/hive/pkg/hive"
)

var availableRoles = []hive.Role{
	hive.RoleResearcher, hive.RoleExecutor, hive.RoleAuditor,
	hive.RoleCreative, hive.RoleAnalyst, hive.RoleCoder, hive.RoleGeneral,
}

func decomposePrompt(goal string, ctx map[string]any) string {
	var roles []string
	for _, r := range availableRoles {
		roles = append(roles, string(r))
	}

	var sb strings.Builder
	sb.WriteString("You are decomposing a goal into a dependency graph of subtasks.\n\n")
	fmt.Fprintf(&sb, "Goal: %s\n\n", goal)
	if len(ctx) > 0 {
		sb.WriteString("Context:\n")
		for k, v := range ctx {
			fmt.Fprintf(&sb, "- %s: %v\n", k, v)
		}
		sb.WriteString("\n")
	}
	fmt.Fprintf(&sb, "Available roles: %s\n\n", strings.Join(roles, ", "))
	sb.WriteString("Respond with JSON only, matching exactly:\n")
	sb.WriteString(`{"subtasks": [{"description": "...", "role": "...", "dependencies": [0], "max_iterations": 3}], "reasoning": "..."}`)
	sb.WriteString("\n\"dependencies\" holds zero-based indices into this same subtasks array, referring to siblings this subtask depends on.\n")
	return sb.String()
}

func compilePrompt(task *hive.Task) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Synthesize a final result for goal: %s\n\n", task.Goal)
	for _, st := range task.Subtasks {
		fmt.Fprintf(&sb, "Subtask [%s] (role=%s, status=%s):\n%s\n\nResult: %s\n\n", st.ID, st.Role, st.Status, st.Description, st.Result)
	}
	sb.WriteString("Respond with JSON only, matching exactly:\n")
	sb.WriteString(`{"summary": "...", "detailed_results": "...", "key_findings": ["..."], "recommendations": ["..."], "confidence_score": 0.9}`)
	return sb.String()
}
