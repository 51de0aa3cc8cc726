// Package manager implements goal decomposition and result synthesis via
// LLM calls, per SPEC_FULL.md §4.2.
package manager

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/liliang-cn/hive/internal/roundid"
	"github.com/liliang-cn/hive/pkg/hive"
	"github.com/liliang-cn/hive/pkg/hivelog"
	"github.com/liliang-cn/hive/pkg/memory"
)

var log = hivelog.WithModule("manager")

// decomposeResponse mirrors the schema in SPEC_FULL.md §6.
type decomposeResponse struct {
	Subtasks []struct {
		Description   string `json:"description"`
		Role          string `json:"role"`
		Dependencies  []int  `json:"dependencies"`
		MaxIterations int    `json:"max_iterations"`
	} `json:"subtasks"`
	Reasoning string `json:"reasoning"`
}

type compileResponse struct {
	Summary         string   `json:"summary"`
	DetailedResults string   `json:"detailed_results"`
	KeyFindings     []string `json:"key_findings"`
	Recommendations []string `json:"recommendations"`
	ConfidenceScore float64  `json:"confidence_score"`
}

// Manager decomposes goals and compiles final results. It never calls an
// LLM directly: every call is routed through an hive.LLMRouter (the
// Orchestrator), so provider failover stays centralized in APIPool.
type Manager struct {
	router hive.LLMRouter
	memory memory.Sink
}

// New builds a Manager. memory may be memory.NullSink{} when no persistence
// is configured.
func New(router hive.LLMRouter, mem memory.Sink) *Manager {
	return &Manager{router: router, memory: mem}
}

// Decompose fills in a Task's Subtasks for goal, consulting the memoization
// hook first and falling back to a single-subtask decomposition if the LLM
// response cannot be parsed.
func (m *Manager) Decompose(ctx context.Context, taskID, goal string, llmContext map[string]any) ([]*hive.Subtask, error) {
	now := time.Now()

	if rec, err := m.memory.FindSimilarDecomposition(ctx, goal); err != nil {
		log.Debug("memory lookup failed, continuing without cache", "err", err)
	} else if rec != nil && len(rec.Subtasks) > 0 {
		log.Info("reusing cached decomposition", "task_id", taskID, "source_task", rec.TaskID)
		return subtasksFromDescriptions(taskID, rec.Subtasks, now), nil
	}

	text, err := m.router.Generate(ctx, "", decomposePrompt(goal, llmContext))
	if err != nil {
		log.Warn("decompose LLM call failed, falling back to single subtask", "err", err)
		return singleSubtaskFallback(taskID, goal, now), nil
	}

	var resp decomposeResponse
	if err := json.Unmarshal([]byte(extractJSON(text)), &resp); err != nil || len(resp.Subtasks) == 0 {
		log.Warn("decompose response unparsable, falling back to single subtask", "err", err)
		return singleSubtaskFallback(taskID, goal, now), nil
	}

	subtasks := make([]*hive.Subtask, 0, len(resp.Subtasks))
	for i, st := range resp.Subtasks {
		deps := make([]string, 0, len(st.Dependencies))
		for _, depIdx := range st.Dependencies {
			if depIdx >= 0 && depIdx < len(resp.Subtasks) && depIdx != i {
				deps = append(deps, roundid.Subtask(taskID, depIdx))
			}
		}
		maxIter := st.MaxIterations
		if maxIter <= 0 || maxIter > 5 {
			maxIter = 3
		}
		subtasks = append(subtasks, &hive.Subtask{
			ID:            roundid.Subtask(taskID, i),
			Description:   st.Description,
			Role:          hive.ParseRole(st.Role),
			Status:        hive.StatusPending,
			Dependencies:  deps,
			MaxIterations: maxIter,
			CreatedAt:     now,
		})
	}
	return subtasks, nil
}

func singleSubtaskFallback(taskID, goal string, now time.Time) []*hive.Subtask {
	return []*hive.Subtask{{
		ID:            roundid.Subtask(taskID, 0),
		Description:   goal,
		Role:          hive.RoleGeneral,
		Status:        hive.StatusPending,
		MaxIterations: 3,
		CreatedAt:     now,
	}}
}

func subtasksFromDescriptions(taskID string, descriptions []string, now time.Time) []*hive.Subtask {
	out := make([]*hive.Subtask, 0, len(descriptions))
	for i, desc := range descriptions {
		out = append(out, &hive.Subtask{
			ID:            roundid.Subtask(taskID, i),
			Description:   desc,
			Role:          hive.RoleGeneral,
			Status:        hive.StatusPending,
			MaxIterations: 3,
			CreatedAt:     now,
		})
	}
	return out
}

// Compile synthesizes task's terminal subtask results into a FinalResult. On
// parse failure it returns a mechanical aggregation rather than an error.
func (m *Manager) Compile(ctx context.Context, task *hive.Task) (*hive.FinalResult, error) {
	text, err := m.router.Generate(ctx, "", compilePrompt(task))
	if err != nil {
		log.Warn("compile LLM call failed, falling back to mechanical aggregation", "err", err)
		return mechanicalCompile(task), nil
	}

	var resp compileResponse
	if err := json.Unmarshal([]byte(extractJSON(text)), &resp); err != nil {
		log.Warn("compile response unparsable, falling back to mechanical aggregation", "err", err)
		return mechanicalCompile(task), nil
	}

	return &hive.FinalResult{
		Summary:         resp.Summary,
		DetailedResults: resp.DetailedResults,
		KeyFindings:     resp.KeyFindings,
		Recommendations: resp.Recommendations,
		ConfidenceScore: clamp01(resp.ConfidenceScore),
	}, nil
}

func mechanicalCompile(task *hive.Task) *hive.FinalResult {
	var sb strings.Builder
	sb.WriteString("No synthesis was performed; raw subtask outputs follow.\n")
	for _, st := range task.Subtasks {
		fmt.Fprintf(&sb, "- %s: %s\n", st.Description, st.Result)
	}
	return &hive.FinalResult{
		Summary:            "no synthesis was performed",
		DetailedResults:    sb.String(),
		MechanicalFallback: true,
	}
}

// ValidationReport is Validate's optional audit output.
type ValidationReport struct {
	Passed bool
	Notes  []string
}

// Validate runs an optional audit pass over a completed task's subtasks.
func (m *Manager) Validate(task *hive.Task) ValidationReport {
	var notes []string
	for _, st := range task.Subtasks {
		if st.Status == hive.StatusFailed {
			notes = append(notes, fmt.Sprintf("subtask %s failed: %s", st.ID, st.Error))
		}
	}
	return ValidationReport{Passed: len(notes) == 0, Notes: notes}
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

// extractJSON trims leading/trailing prose around a JSON object, since LLMs
// routinely wrap their structured response in commentary or code fences.
func extractJSON(text string) string {
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start == -1 || end == -1 || end < start {
		return text
	}
	return text[start : end+1]
}
