package hive

import "context"

// LLMRouter is the interface Manager and Worker depend on for every LLM
// call; the Orchestrator is the sole implementation, backing it with
// APIPool.ExecuteWithFailover so no caller ever pins itself to one endpoint
// (see SPEC_FULL.md §9 on forbidding pool bypass).
type LLMRouter interface {
	Generate(ctx context.Context, preferredProvider, prompt string) (string, error)
}
