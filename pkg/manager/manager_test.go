package manager

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liliang-cn/hive/pkg/hive"
	"github.com/liliang-cn/hive/pkg/memory"
)

// fakeRouter lets tests script Generate's responses without an LLM.
type fakeRouter struct {
	response string
	err      error
	calls    int
}

func (f *fakeRouter) Generate(ctx context.Context, preferredProvider, prompt string) (string, error) {
	f.calls++
	return f.response, f.err
}

func TestDecompose_ParsesWellFormedResponse(t *testing.T) {
	router := &fakeRouter{response: `here's my plan:
{
  "subtasks": [
    {"description": "research the topic", "role": "researcher", "dependencies": []},
    {"description": "write the summary", "role": "executor", "dependencies": [0]}
  ],
  "reasoning": "split research from writing"
}`}
	m := New(router, memory.NullSink{})

	subtasks, err := m.Decompose(context.Background(), "task1", "summarize recent AI news", nil)
	require.NoError(t, err)
	require.Len(t, subtasks, 2)

	assert.Equal(t, hive.RoleResearcher, subtasks[0].Role)
	assert.Equal(t, hive.RoleExecutor, subtasks[1].Role)
	assert.Empty(t, subtasks[0].Dependencies)
	assert.Equal(t, []string{subtasks[0].ID}, subtasks[1].Dependencies)
}

func TestDecompose_FallsBackToSingleSubtaskOnUnparsableResponse(t *testing.T) {
	router := &fakeRouter{response: "I cannot produce JSON right now."}
	m := New(router, memory.NullSink{})

	subtasks, err := m.Decompose(context.Background(), "task1", "do the thing", nil)
	require.NoError(t, err)
	require.Len(t, subtasks, 1)
	assert.Equal(t, "do the thing", subtasks[0].Description)
	assert.Equal(t, hive.RoleGeneral, subtasks[0].Role)
}

func TestDecompose_FallsBackToSingleSubtaskOnGenerateError(t *testing.T) {
	router := &fakeRouter{err: errors.New("endpoint down")}
	m := New(router, memory.NullSink{})

	subtasks, err := m.Decompose(context.Background(), "task1", "do the thing", nil)
	require.NoError(t, err)
	require.Len(t, subtasks, 1)
}

func TestDecompose_DefaultsOutOfRangeMaxIterations(t *testing.T) {
	router := &fakeRouter{response: `{"subtasks": [{"description": "x", "role": "general", "max_iterations": 99}]}`}
	m := New(router, memory.NullSink{})

	subtasks, err := m.Decompose(context.Background(), "task1", "goal", nil)
	require.NoError(t, err)
	assert.Equal(t, 3, subtasks[0].MaxIterations)
}

// cachedSink always returns a prior decomposition, so Decompose must never
// call the router.
type cachedSink struct {
	memory.NullSink
	record *memory.Record
}

func (c cachedSink) FindSimilarDecomposition(ctx context.Context, goal string) (*memory.Record, error) {
	return c.record, nil
}

func TestDecompose_ReusesCachedDecomposition(t *testing.T) {
	router := &fakeRouter{response: "should never be used"}
	sink := cachedSink{record: &memory.Record{
		TaskID:   "earlier-task",
		Subtasks: []string{"step one", "step two"},
	}}
	m := New(router, sink)

	subtasks, err := m.Decompose(context.Background(), "task2", "same goal as before", nil)
	require.NoError(t, err)
	require.Len(t, subtasks, 2)
	assert.Equal(t, 0, router.calls)
	assert.Equal(t, "step one", subtasks[0].Description)
}

func TestCompile_ParsesWellFormedResponse(t *testing.T) {
	router := &fakeRouter{response: `{"summary": "done", "confidence_score": 1.5}`}
	m := New(router, memory.NullSink{})

	task := &hive.Task{ID: "t1", Subtasks: []*hive.Subtask{{Description: "a", Result: "b"}}}
	result, err := m.Compile(context.Background(), task)
	require.NoError(t, err)
	assert.Equal(t, "done", result.Summary)
	assert.Equal(t, 1.0, result.ConfidenceScore) // clamped
	assert.False(t, result.MechanicalFallback)
}

func TestCompile_FallsBackToMechanicalAggregation(t *testing.T) {
	router := &fakeRouter{response: "not json"}
	m := New(router, memory.NullSink{})

	task := &hive.Task{
		ID: "t1",
		Subtasks: []*hive.Subtask{
			{Description: "research X", Result: "found Y"},
		},
	}
	result, err := m.Compile(context.Background(), task)
	require.NoError(t, err)
	assert.True(t, result.MechanicalFallback)
	assert.Contains(t, result.DetailedResults, "found Y")
}

func TestValidate_ReportsFailedSubtasks(t *testing.T) {
	m := New(&fakeRouter{}, memory.NullSink{})
	task := &hive.Task{Subtasks: []*hive.Subtask{
		{ID: "s1", Status: hive.StatusCompleted},
		{ID: "s2", Status: hive.StatusFailed, Error: "timed out"},
	}}

	report := m.Validate(task)
	assert.False(t, report.Passed)
	require.Len(t, report.Notes, 1)
	assert.Contains(t, report.Notes[0], "s2")
}
