package worker

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liliang-cn/hive/pkg/hive"
	"github.com/liliang-cn/hive/pkg/tools"
)

type scriptedRouter struct {
	responses []string
	errs      []error
	i         int
}

func (s *scriptedRouter) Generate(ctx context.Context, preferredProvider, prompt string) (string, error) {
	idx := s.i
	s.i++
	var err error
	if idx < len(s.errs) {
		err = s.errs[idx]
	}
	if idx < len(s.responses) {
		return s.responses[idx], err
	}
	return "", err
}

func TestExecuteSubtask_ChainOfThoughtExtractsFinalAnswer(t *testing.T) {
	router := &scriptedRouter{responses: []string{"THOUGHT: thinking...\nFINAL_ANSWER: 42"}}
	w := New("w1", hive.RoleGeneral, hive.ModeChainOfThought, "", router, tools.NewRegistry(), 0)

	result, err := w.ExecuteSubtask(context.Background(), &hive.Subtask{Description: "what is the answer"})
	require.NoError(t, err)
	assert.Equal(t, "42", result)
}

func TestExecuteSubtask_ChainOfThoughtFallsBackToRawTextWithoutMarker(t *testing.T) {
	router := &scriptedRouter{responses: []string{"  just a plain answer  "}}
	w := New("w1", hive.RoleGeneral, hive.ModeChainOfThought, "", router, tools.NewRegistry(), 0)

	result, err := w.ExecuteSubtask(context.Background(), &hive.Subtask{Description: "q"})
	require.NoError(t, err)
	assert.Equal(t, "just a plain answer", result)
}

func TestExecuteSubtask_SpecializedCallsToolThenAnswers(t *testing.T) {
	reg := tools.NewRegistry()
	reg.Register(fakeTool{name: "lookup", output: "found it"})

	router := &scriptedRouter{responses: []string{
		`TOOL_CALL: lookup {"query": "x"}`,
		"FINAL_ANSWER: done",
	}}
	w := New("w1", hive.RoleResearcher, hive.ModeSpecialized, "", router, reg, 5)

	result, err := w.ExecuteSubtask(context.Background(), &hive.Subtask{Description: "look something up"})
	require.NoError(t, err)
	assert.Equal(t, "done", result)
}

func TestExecuteSubtask_SpecializedDeniesUnpermittedTool(t *testing.T) {
	reg := tools.NewRegistry()
	reg.Register(fakeTool{name: "lookup", output: "found it"})
	reg.Allow(hive.RoleResearcher) // empty allowlist: nothing permitted

	router := &scriptedRouter{responses: []string{
		`TOOL_CALL: lookup {}`,
		"FINAL_ANSWER: done anyway",
	}}
	w := New("w1", hive.RoleResearcher, hive.ModeSpecialized, "", router, reg, 5)

	result, err := w.ExecuteSubtask(context.Background(), &hive.Subtask{Description: "look something up"})
	require.NoError(t, err)
	assert.Equal(t, "done anyway", result)
}

func TestExecuteSubtask_SpecializedExceedsStepCap(t *testing.T) {
	router := &scriptedRouter{responses: []string{"still thinking", "still thinking", "still thinking"}}
	w := New("w1", hive.RoleGeneral, hive.ModeSpecialized, "", router, tools.NewRegistry(), 3)

	_, err := w.ExecuteSubtask(context.Background(), &hive.Subtask{Description: "q"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "step cap")
}

func TestExecuteSubtask_ResetsLoadAndStatusOnCompletion(t *testing.T) {
	router := &scriptedRouter{responses: []string{"FINAL_ANSWER: ok"}}
	w := New("w1", hive.RoleGeneral, hive.ModeChainOfThought, "", router, tools.NewRegistry(), 0)

	_, err := w.ExecuteSubtask(context.Background(), &hive.Subtask{Description: "q"})
	require.NoError(t, err)
	assert.Equal(t, 0, w.Load())
	assert.Equal(t, hive.WorkerIdle, w.Status())
}

func TestExecuteSubtask_SetsErrorStatusOnFailure(t *testing.T) {
	router := &scriptedRouter{errs: []error{errors.New("endpoint down")}}
	w := New("w1", hive.RoleGeneral, hive.ModeChainOfThought, "", router, tools.NewRegistry(), 0)

	_, err := w.ExecuteSubtask(context.Background(), &hive.Subtask{Description: "q"})
	require.Error(t, err)
	assert.Equal(t, hive.WorkerError, w.Status())
}

func TestSelfReview_DefaultsToNoCorrectionOnParseFailure(t *testing.T) {
	router := &scriptedRouter{responses: []string{"not json at all"}}
	w := New("w1", hive.RoleGeneral, hive.ModeChainOfThought, "", router, tools.NewRegistry(), 0)

	verdict := w.SelfReview(context.Background(), &hive.Subtask{Description: "q", Result: "a"})
	assert.False(t, verdict.NeedsCorrection)
}

func TestSelfReview_ParsesWellFormedVerdict(t *testing.T) {
	router := &scriptedRouter{responses: []string{`{"needs_correction": true, "issues": ["missing citation"]}`}}
	w := New("w1", hive.RoleGeneral, hive.ModeChainOfThought, "", router, tools.NewRegistry(), 0)

	verdict := w.SelfReview(context.Background(), &hive.Subtask{Description: "q", Result: "a"})
	assert.True(t, verdict.NeedsCorrection)
	assert.Equal(t, []string{"missing citation"}, verdict.Issues)
}

func TestReviewSubtask_DefaultsToMidConfidenceOnGenerateError(t *testing.T) {
	router := &scriptedRouter{errs: []error{errors.New("down")}}
	w := New("reviewer", hive.RoleAuditor, hive.ModeChainOfThought, "", router, tools.NewRegistry(), 0)

	review := w.ReviewSubtask(context.Background(), &hive.Subtask{Description: "q", Result: "a"})
	assert.Equal(t, 0.5, review.Confidence)
	assert.Equal(t, "reviewer", review.ReviewerWorkerID)
}

func TestCorrectSubtask_ReturnsPriorResultOnFailure(t *testing.T) {
	router := &scriptedRouter{errs: []error{errors.New("down")}}
	w := New("w1", hive.RoleGeneral, hive.ModeChainOfThought, "", router, tools.NewRegistry(), 0)

	result, err := w.CorrectSubtask(context.Background(), &hive.Subtask{Result: "old result"}, []string{"fix it"})
	require.Error(t, err)
	assert.Equal(t, "old result", result)
}

type fakeTool struct {
	name   string
	output string
}

func (f fakeTool) Name() string        { return f.name }
func (f fakeTool) Description() string { return "a fake tool for tests" }
func (f fakeTool) Call(ctx context.Context, args map[string]any) (tools.Result, error) {
	return tools.Result{Output: f.output}, nil
}
