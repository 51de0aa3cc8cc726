package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liliang-cn/hive/pkg/hive"
	"github.com/liliang-cn/hive/pkg/memory"
	"github.com/liliang-cn/hive/pkg/pool"
	"github.com/liliang-cn/hive/pkg/providers"
	"github.com/liliang-cn/hive/pkg/tools"
)

// scriptedLLMServer answers every /chat/completions call by matching the
// user prompt's content against a set of substrings, in order, returning the
// first matching canned response. It mimics the OpenAI-compatible wire
// format GenericBinding speaks.
func scriptedLLMServer(t *testing.T, rules map[string]string, fallback string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		var req struct {
			Messages []struct {
				Content string `json:"content"`
			} `json:"messages"`
		}
		_ = json.Unmarshal(raw, &req)
		prompt := ""
		if len(req.Messages) > 0 {
			prompt = req.Messages[0].Content
		}

		content := fallback
		for substr, reply := range rules {
			if strings.Contains(prompt, substr) {
				content = reply
				break
			}
		}

		resp := map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"content": content}},
			},
			"usage": map[string]int{"prompt_tokens": 10, "completion_tokens": 10},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
}

func newTestOrchestrator(t *testing.T, policy Policy, serverURLs []string) *Orchestrator {
	t.Helper()
	registry := providers.NewRegistry()
	p := pool.New(pool.Policy{MaxRetries: 2}, registry)

	providerNames := make([]string, len(serverURLs))
	for i, url := range serverURLs {
		id := fmt.Sprintf("ep-%d", i)
		p.AddEndpoint(id, pool.Config{Provider: "custom", BaseURL: url, Priority: len(serverURLs) - i})
		providerNames[i] = "custom"
	}

	toolReg := tools.NewRegistry()
	return New(p, registry, toolReg, memory.NullSink{}, policy, providerNames)
}

func TestBuildWorkers_SingleEndpointYieldsOneGeneralChainOfThoughtWorker(t *testing.T) {
	o := newTestOrchestrator(t, Policy{}, []string{"http://unused"})
	require.Len(t, o.workers, 1)
	assert.Equal(t, hive.RoleGeneral, o.workers[0].Role)
	assert.Equal(t, hive.ModeChainOfThought, o.workers[0].Mode)
}

func TestBuildWorkers_MultiEndpointYieldsOneSpecializedWorkerEach(t *testing.T) {
	o := newTestOrchestrator(t, Policy{}, []string{"http://a", "http://b", "http://c"})
	require.Len(t, o.workers, 3)
	for _, w := range o.workers {
		assert.Equal(t, hive.ModeSpecialized, w.Mode)
	}
	assert.Equal(t, hive.RoleResearcher, o.workers[0].Role)
	assert.Equal(t, hive.RoleExecutor, o.workers[1].Role)
	assert.Equal(t, hive.RoleAuditor, o.workers[2].Role)
}

// TestExecuteGoal_SingleEndpointHappyPath covers scenario S1: a single
// endpoint, trivial goal, sequential execution straight through to a
// compiled final result.
func TestExecuteGoal_SingleEndpointHappyPath(t *testing.T) {
	srv := scriptedLLMServer(t, map[string]string{
		"decomposing a goal":       "not json, so this falls back to a single subtask",
		"Synthesize a final result": `{"summary": "all done", "confidence_score": 0.9}`,
	}, "FINAL_ANSWER: 42")
	defer srv.Close()

	o := newTestOrchestrator(t, Policy{}, []string{srv.URL})

	task, err := o.ExecuteGoal(context.Background(), "what is the answer", nil)
	require.NoError(t, err)
	require.Len(t, task.Subtasks, 1)
	assert.Equal(t, hive.StatusCompleted, task.Subtasks[0].Status)
	assert.Equal(t, "42", task.Subtasks[0].Result)
	require.NotNil(t, task.FinalResult)
	assert.Equal(t, "all done", task.FinalResult.Summary)
}

// TestExecuteGoal_MultiEndpointParallelWave covers scenario S2: two
// independent subtasks with no dependency between them complete in a single
// wave across two workers.
func TestExecuteGoal_MultiEndpointParallelWave(t *testing.T) {
	decompose := `{"subtasks": [
		{"description": "research topic A", "role": "researcher", "dependencies": []},
		{"description": "research topic B", "role": "executor", "dependencies": []}
	]}`
	srv := scriptedLLMServer(t, map[string]string{
		"decomposing a goal":        decompose,
		"Synthesize a final result": `{"summary": "combined", "confidence_score": 0.8}`,
	}, "FINAL_ANSWER: step done")
	defer srv.Close()

	o := newTestOrchestrator(t, Policy{}, []string{srv.URL, srv.URL})

	task, err := o.ExecuteGoal(context.Background(), "research two topics", nil)
	require.NoError(t, err)
	require.Len(t, task.Subtasks, 2)
	for _, st := range task.Subtasks {
		assert.Equal(t, hive.StatusCompleted, st.Status)
		assert.Equal(t, "step done", st.Result)
	}
}

// TestExecuteGoal_DependencyChainWithPeerReviewCorrection covers scenario
// S4: a two-step dependency chain where peer review flags the first
// subtask's result and a correction pass runs before compile.
func TestExecuteGoal_DependencyChainWithPeerReviewCorrection(t *testing.T) {
	decompose := `{"subtasks": [
		{"description": "draft the report", "role": "researcher", "dependencies": []},
		{"description": "audit the draft", "role": "auditor", "dependencies": [0]}
	]}`

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		var req struct {
			Messages []struct {
				Content string `json:"content"`
			} `json:"messages"`
		}
		_ = json.Unmarshal(raw, &req)
		prompt := req.Messages[0].Content

		var content string
		switch {
		case strings.Contains(prompt, "decomposing a goal"):
			content = decompose
		case strings.Contains(prompt, "Synthesize a final result"):
			content = `{"summary": "final", "confidence_score": 0.7}`
		case strings.Contains(prompt, "Evaluate another worker's result"):
			content = `{"needs_correction": true, "issues": ["too vague"], "confidence": 0.9}`
		case strings.Contains(prompt, "Revise this result"):
			content = "a corrected, specific draft"
		default:
			content = "FINAL_ANSWER: draft v1"
		}
		resp := map[string]any{
			"choices": []map[string]any{{"message": map[string]string{"content": content}}},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	o := newTestOrchestrator(t, Policy{PeerReviewEnabled: true}, []string{srv.URL, srv.URL, srv.URL})

	task, err := o.ExecuteGoal(context.Background(), "write an audited report", nil)
	require.NoError(t, err)
	require.Len(t, task.Subtasks, 2)

	draft := task.Subtasks[0]
	assert.Equal(t, hive.StatusCompleted, draft.Status)
	assert.Equal(t, "a corrected, specific draft", draft.Result)
	assert.NotEmpty(t, draft.PeerReviews)
}

// TestExecuteGoal_DependencyDeadlockMarksSubtasksFailed covers scenario S5:
// a circular dependency between two subtasks can never become ready, so the
// scheduler must detect the deadlock and fail both rather than hang.
func TestExecuteGoal_DependencyDeadlockMarksSubtasksFailed(t *testing.T) {
	decompose := `{"subtasks": [
		{"description": "A depends on B", "role": "researcher", "dependencies": [1]},
		{"description": "B depends on A", "role": "executor", "dependencies": [0]}
	]}`
	srv := scriptedLLMServer(t, map[string]string{
		"decomposing a goal":        decompose,
		"Synthesize a final result": `{"summary": "n/a"}`,
	}, "FINAL_ANSWER: unreachable")
	defer srv.Close()

	o := newTestOrchestrator(t, Policy{}, []string{srv.URL, srv.URL})

	done := make(chan *hive.Task, 1)
	go func() {
		task, _ := o.ExecuteGoal(context.Background(), "circular goal", nil)
		done <- task
	}()

	select {
	case task := <-done:
		require.Len(t, task.Subtasks, 2)
		for _, st := range task.Subtasks {
			assert.Equal(t, hive.StatusFailed, st.Status)
			assert.Equal(t, "dependency deadlock", st.Error)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("ExecuteGoal did not return: deadlock was not detected")
	}
}

// TestExecuteGoal_AllEndpointsUnauthorized covers scenario S6: every
// endpoint rejects the credential, so subtask execution fails rather than
// retrying forever, and the task still compiles to a (degenerate) result.
func TestExecuteGoal_AllEndpointsUnauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error": "invalid api key"}`))
	}))
	defer srv.Close()

	o := newTestOrchestrator(t, Policy{MaxSubtaskAttempts: 1}, []string{srv.URL})

	task, err := o.ExecuteGoal(context.Background(), "goal with bad credentials", nil)
	require.NoError(t, err)
	require.Len(t, task.Subtasks, 1)
	assert.Equal(t, hive.StatusFailed, task.Subtasks[0].Status)
	assert.NotEmpty(t, task.Subtasks[0].Error)
}

func TestSelectWorker_PrefersRoleMatchOverLeastLoaded(t *testing.T) {
	o := newTestOrchestrator(t, Policy{}, []string{"http://a", "http://b", "http://c"})
	// workers: 0=researcher, 1=executor, 2=auditor
	w := o.selectWorker(hive.RoleAuditor)
	assert.Equal(t, hive.RoleAuditor, w.Role)
}

func TestSelectWorker_FallsBackToLeastLoadedWhenNoRoleMatch(t *testing.T) {
	o := newTestOrchestrator(t, Policy{}, []string{"http://a"})
	w := o.selectWorker(hive.RoleCreative) // single general worker, no creative role configured
	require.NotNil(t, w)
	assert.Equal(t, hive.RoleGeneral, w.Role)
}
