// Package worker implements role-specialized subtask execution, self-review,
// peer review, and correction, per SPEC_FULL.md §4.3.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/liliang-cn/hive/pkg/hive"
	"github.com/liliang-cn/hive/pkg/hivelog"
	"github.com/liliang-cn/hive/pkg/tools"
)

var log = hivelog.WithModule("worker")

const defaultStepCap = 5

// Worker runs subtasks. Every LLM call is routed through the Orchestrator's
// hive.LLMRouter, so Worker never pins itself to an endpoint.
type Worker struct {
	ID                string
	Role              hive.Role
	Mode              hive.WorkerMode
	PreferredProvider string

	router  hive.LLMRouter
	toolReg *tools.Registry
	stepCap int

	// slot enforces the "never handles more than one subtask at a time"
	// invariant: a wave may pick this worker for only one subtask
	// concurrently, and a second ExecuteSubtask call blocks until the
	// first finishes rather than racing it.
	slot *semaphore.Weighted

	load   int64
	status atomic.Value // hive.WorkerStatus
}

// New constructs a Worker. stepCap <= 0 defaults to 5 (SPEC_FULL.md §6).
func New(id string, role hive.Role, mode hive.WorkerMode, preferredProvider string, router hive.LLMRouter, toolReg *tools.Registry, stepCap int) *Worker {
	if stepCap <= 0 {
		stepCap = defaultStepCap
	}
	w := &Worker{
		ID:                id,
		Role:              role,
		Mode:              mode,
		PreferredProvider: preferredProvider,
		router:            router,
		toolReg:           toolReg,
		stepCap:           stepCap,
		slot:              semaphore.NewWeighted(1),
	}
	w.status.Store(hive.WorkerIdle)
	return w
}

// Load reads currentLoad.
func (w *Worker) Load() int { return int(atomic.LoadInt64(&w.load)) }

// Status reads the worker's coarse execution state.
func (w *Worker) Status() hive.WorkerStatus { return w.status.Load().(hive.WorkerStatus) }

// Info returns the read-only snapshot for Orchestrator.Workers().
func (w *Worker) Info() hive.WorkerInfo {
	return hive.WorkerInfo{ID: w.ID, Role: w.Role, Load: w.Load(), Status: w.Status()}
}

// ExecuteSubtask runs subtask to completion, dispatching to the
// ChainOfThought or Specialized mode. It owns currentLoad bookkeeping:
// incremented on entry, decremented on every exit path.
func (w *Worker) ExecuteSubtask(ctx context.Context, subtask *hive.Subtask) (string, error) {
	if err := w.slot.Acquire(ctx, 1); err != nil {
		return "", fmt.Errorf("worker %s: %w", w.ID, err)
	}
	defer w.slot.Release(1)

	atomic.AddInt64(&w.load, 1)
	w.status.Store(hive.WorkerExecuting)
	defer atomic.AddInt64(&w.load, -1)

	var (
		result string
		err    error
	)
	switch w.Mode {
	case hive.ModeChainOfThought:
		result, err = w.executeChainOfThought(ctx, subtask)
	case hive.ModeSpecialized:
		result, err = w.executeSpecialized(ctx, subtask)
	default:
		result, err = w.executeChainOfThought(ctx, subtask)
	}
	if err != nil {
		w.status.Store(hive.WorkerError)
	} else {
		w.status.Store(hive.WorkerIdle)
	}
	return result, err
}

func (w *Worker) executeChainOfThought(ctx context.Context, subtask *hive.Subtask) (string, error) {
	text, err := w.router.Generate(ctx, w.PreferredProvider, chainOfThoughtPrompt(subtask))
	if err != nil {
		return "", fmt.Errorf("worker %s: chain-of-thought generate: %w", w.ID, err)
	}
	if answer, ok := extractFinalAnswer(text); ok {
		return answer, nil
	}
	return strings.TrimSpace(text), nil
}

func (w *Worker) executeSpecialized(ctx context.Context, subtask *hive.Subtask) (string, error) {
	var transcript strings.Builder
	toolNames := w.allowedToolNames()

	for step := 0; step < w.stepCap; step++ {
		prompt := specializedPrompt(subtask, w.Role, toolNames, transcript.String())
		text, err := w.router.Generate(ctx, w.PreferredProvider, prompt)
		if err != nil {
			return "", fmt.Errorf("worker %s: specialized generate: %w", w.ID, err)
		}

		if answer, ok := extractFinalAnswer(text); ok {
			return answer, nil
		}

		name, rawArgs, hasTool := extractToolCall(text)
		if !hasTool {
			fmt.Fprintf(&transcript, "Assistant: %s\n", text)
			continue
		}

		args := parseToolArgs(rawArgs)
		res, callErr := w.toolReg.Call(ctx, w.Role, name, args)
		if callErr != nil {
			fmt.Fprintf(&transcript, "Assistant: %s\nTool %q error: %v\n", text, name, callErr)
			continue
		}
		fmt.Fprintf(&transcript, "Assistant: %s\nTool %q result: %s\n", text, name, res.Output)
	}

	return "", fmt.Errorf("worker %s: exceeded step cap (%d) without a final answer", w.ID, w.stepCap)
}

func (w *Worker) allowedToolNames() []string {
	var allowed []string
	for _, name := range w.toolReg.Names() {
		if w.toolReg.Permitted(w.Role, name) {
			allowed = append(allowed, name)
		}
	}
	return allowed
}

func parseToolArgs(raw string) map[string]any {
	args := map[string]any{}
	if raw == "" {
		return args
	}
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		// Not JSON; treat the whole remainder as a single positional argument.
		return map[string]any{"query": raw, "url": raw, "path": raw}
	}
	return args
}

// SelfReviewVerdict is SelfReview's lenient-parsed result.
type SelfReviewVerdict struct {
	NeedsCorrection bool
	Issues          []string
	Improvements    []string
}

// SelfReview asks the worker to critique its own completed result. A parse
// failure degrades to {NeedsCorrection: false}, never an error.
func (w *Worker) SelfReview(ctx context.Context, subtask *hive.Subtask) SelfReviewVerdict {
	text, err := w.router.Generate(ctx, w.PreferredProvider, selfReviewPrompt(subtask))
	if err != nil {
		log.Debug("self-review generate failed, defaulting to no correction needed", "worker", w.ID, "err", err)
		return SelfReviewVerdict{}
	}

	var parsed struct {
		NeedsCorrection bool     `json:"needs_correction"`
		Issues          []string `json:"issues"`
		Improvements    []string `json:"improvements"`
	}
	if err := json.Unmarshal([]byte(extractJSON(text)), &parsed); err != nil {
		log.Debug("self-review response unparsable, defaulting to no correction needed", "worker", w.ID)
		return SelfReviewVerdict{}
	}
	return SelfReviewVerdict{
		NeedsCorrection: parsed.NeedsCorrection,
		Issues:          parsed.Issues,
		Improvements:    parsed.Improvements,
	}
}

// ReviewSubtask evaluates another worker's result. A parse failure degrades
// to {NeedsCorrection: false, Confidence: 0.5}.
func (w *Worker) ReviewSubtask(ctx context.Context, subtask *hive.Subtask) hive.Review {
	now := time.Now()
	text, err := w.router.Generate(ctx, w.PreferredProvider, peerReviewPrompt(subtask))
	if err != nil {
		log.Debug("peer review generate failed, defaulting verdict", "worker", w.ID, "err", err)
		return hive.Review{ReviewerWorkerID: w.ID, Confidence: 0.5, Timestamp: now}
	}

	var parsed struct {
		NeedsCorrection   bool     `json:"needs_correction"`
		AccuracyScore     float64  `json:"accuracy_score"`
		CompletenessScore float64  `json:"completeness_score"`
		QualityScore      float64  `json:"quality_score"`
		Issues            []string `json:"issues"`
		Improvements      []string `json:"improvements"`
		Confidence        float64  `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(extractJSON(text)), &parsed); err != nil {
		log.Debug("peer review response unparsable, defaulting verdict", "worker", w.ID)
		return hive.Review{ReviewerWorkerID: w.ID, Confidence: 0.5, Timestamp: now}
	}

	return hive.Review{
		ReviewerWorkerID:  w.ID,
		NeedsCorrection:   parsed.NeedsCorrection,
		AccuracyScore:     parsed.AccuracyScore,
		CompletenessScore: parsed.CompletenessScore,
		QualityScore:      parsed.QualityScore,
		Confidence:        parsed.Confidence,
		Issues:            parsed.Issues,
		Improvements:      parsed.Improvements,
		Timestamp:         now,
	}
}

// CorrectSubtask produces a revised result addressing every issue in
// feedback. If the correction call fails, it returns the uncorrected result
// alongside the error so the caller can surface the failure while keeping
// the prior result.
func (w *Worker) CorrectSubtask(ctx context.Context, subtask *hive.Subtask, feedback []string) (string, error) {
	text, err := w.router.Generate(ctx, w.PreferredProvider, correctionPrompt(subtask, feedback))
	if err != nil {
		return subtask.Result, fmt.Errorf("worker %s: correction generate: %w", w.ID, err)
	}
	return strings.TrimSpace(text), nil
}

func extractJSON(text string) string {
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start == -1 || end == -1 || end < start {
		return text
	}
	return text[start : end+1]
}
