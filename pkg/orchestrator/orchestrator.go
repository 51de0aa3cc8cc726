// Package orchestrator owns the Task lifecycle: decomposition, dependency
// wave scheduling, peer review, correction, and compilation, per
// SPEC_FULL.md §4.4.
package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/liliang-cn/hive/internal/roundid"
	"github.com/liliang-cn/hive/pkg/hive"
	"github.com/liliang-cn/hive/pkg/hivelog"
	"github.com/liliang-cn/hive/pkg/manager"
	"github.com/liliang-cn/hive/pkg/memory"
	"github.com/liliang-cn/hive/pkg/pool"
	"github.com/liliang-cn/hive/pkg/providers"
	"github.com/liliang-cn/hive/pkg/tools"
	"github.com/liliang-cn/hive/pkg/worker"
)

var log = hivelog.WithModule("orchestrator")

// Policy mirrors config.OrchConfig's knobs, kept free of the config
// package's viper dependency so orchestrator stays embeddable.
type Policy struct {
	PeerReviewEnabled     bool
	SelfCorrectionEnabled bool
	MaxSubtaskAttempts    int
	ExecutionStepCap      int
}

func (p Policy) withDefaults() Policy {
	if p.MaxSubtaskAttempts <= 0 {
		p.MaxSubtaskAttempts = 3
	}
	if p.ExecutionStepCap <= 0 {
		p.ExecutionStepCap = 5
	}
	return p
}

// Orchestrator is the task lifecycle controller. It implements
// hive.LLMRouter so Manager and Worker route every LLM call through its
// pool-backed Generate.
type Orchestrator struct {
	pool     *pool.Pool
	registry *providers.Registry
	manager  *manager.Manager
	toolReg  *tools.Registry
	mem      memory.Sink
	policy   Policy

	workers []*worker.Worker

	mu    sync.RWMutex
	tasks map[string]*hive.Task

	cancel context.CancelFunc
}

// New builds an Orchestrator. endpointProviders lists the provider name for
// each configured endpoint (same order/count as p's endpoints), used only
// for worker construction (§4.4's "one Worker per endpoint" rule).
func New(p *pool.Pool, registry *providers.Registry, toolReg *tools.Registry, mem memory.Sink, policy Policy, endpointProviders []string) *Orchestrator {
	if mem == nil {
		mem = memory.NullSink{}
	}
	o := &Orchestrator{
		pool:     p,
		registry: registry,
		toolReg:  toolReg,
		mem:      mem,
		policy:   policy.withDefaults(),
		tasks:    make(map[string]*hive.Task),
	}
	o.manager = manager.New(o, mem)
	o.workers = buildWorkers(endpointProviders, o, toolReg, o.policy.ExecutionStepCap)
	return o
}

func buildWorkers(providerNames []string, router hive.LLMRouter, toolReg *tools.Registry, stepCap int) []*worker.Worker {
	if len(providerNames) <= 1 {
		var preferred string
		if len(providerNames) == 1 {
			preferred = providerNames[0]
		}
		return []*worker.Worker{
			worker.New("worker-0", hive.RoleGeneral, hive.ModeChainOfThought, preferred, router, toolReg, stepCap),
		}
	}

	workers := make([]*worker.Worker, 0, len(providerNames))
	for i, p := range providerNames {
		role := hive.SpecializedRoles[i%len(hive.SpecializedRoles)]
		id := fmt.Sprintf("worker-%d", i)
		workers = append(workers, worker.New(id, role, hive.ModeSpecialized, p, router, toolReg, stepCap))
	}
	return workers
}

// Generate implements hive.LLMRouter by routing through APIPool's failover.
func (o *Orchestrator) Generate(ctx context.Context, preferredProvider, prompt string) (string, error) {
	result, err := pool.ExecuteWithFailover(ctx, o.pool, "", preferredProvider,
		func(ctx context.Context, ep *pool.Endpoint) (providers.GenerationResult, error) {
			return o.registry.Generate(ctx, ep.Provider, ep.BaseURL, ep.Credential, ep.ModelName, prompt, providers.GenerationParams{})
		})
	if err != nil {
		return "", err
	}
	return result.Text, nil
}

// Start begins background health monitoring. It is safe to call ExecuteGoal
// without calling Start first; Start only enables periodic health checks.
func (o *Orchestrator) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	o.cancel = cancel
	go o.pool.MonitorHealth(ctx)
}

// Stop cancels background monitoring. In-flight ExecuteGoal calls observe
// ctx cancellation independently through the context passed to them.
func (o *Orchestrator) Stop() {
	if o.cancel != nil {
		o.cancel()
	}
}

// TaskStatus returns a previously executed or in-flight task by id.
func (o *Orchestrator) TaskStatus(taskID string) (*hive.Task, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	t, ok := o.tasks[taskID]
	return t, ok
}

// PoolStats returns the underlying APIPool's per-endpoint and aggregate
// counters, for operator-facing status commands.
func (o *Orchestrator) PoolStats() pool.Stats {
	return o.pool.Stats()
}

// Workers returns a read-only snapshot of every configured worker.
func (o *Orchestrator) Workers() []hive.WorkerInfo {
	infos := make([]hive.WorkerInfo, 0, len(o.workers))
	for _, w := range o.workers {
		infos = append(infos, w.Info())
	}
	return infos
}

// ExecuteGoal runs the full decompose -> schedule -> peer-review -> compile
// pipeline for goal and returns the resulting Task.
func (o *Orchestrator) ExecuteGoal(ctx context.Context, goal string, llmContext map[string]any) (*hive.Task, error) {
	now := time.Now()
	taskID := roundid.Task(goal, now)
	task := &hive.Task{
		ID:        taskID,
		Goal:      goal,
		Context:   llmContext,
		CreatedAt: now,
		Metadata:  map[string]any{},
	}

	o.mu.Lock()
	o.tasks[taskID] = task
	o.mu.Unlock()

	subtasks, err := o.manager.Decompose(ctx, taskID, goal, llmContext)
	if err != nil {
		return task, err
	}
	task.Subtasks = subtasks

	if len(o.workers) == 1 && o.workers[0].Mode == hive.ModeChainOfThought {
		o.executeSingleEndpoint(ctx, task)
	} else {
		o.executeMultiEndpoint(ctx, task)
	}

	finalResult, _ := o.manager.Compile(ctx, task)
	task.FinalResult = finalResult
	task.CompletedAt = time.Now()

	if err := o.mem.StoreTask(ctx, recordFromTask(task)); err != nil {
		log.Debug("memory store failed, ignoring", "task_id", taskID, "err", err)
	}

	return task, nil
}

func recordFromTask(task *hive.Task) memory.Record {
	descs := make([]string, 0, len(task.Subtasks))
	successful := true
	for _, st := range task.Subtasks {
		descs = append(descs, st.Description)
		if st.Status != hive.StatusCompleted {
			successful = false
		}
	}
	summary := ""
	if task.FinalResult != nil {
		summary = task.FinalResult.Summary
	}
	return memory.Record{
		TaskID:     task.ID,
		Goal:       task.Goal,
		Subtasks:   descs,
		Summary:    summary,
		Successful: successful,
		CreatedAt:  task.CreatedAt,
	}
}

// executeSingleEndpoint runs subtasks sequentially, per §4.4: dependencies
// are a hint only in this branch since there is exactly one worker to run
// them all anyway.
func (o *Orchestrator) executeSingleEndpoint(ctx context.Context, task *hive.Task) {
	w := o.workers[0]
	for _, st := range task.Subtasks {
		if ctx.Err() != nil {
			markCancelled(st)
			continue
		}

		st.Status = hive.StatusInProgress
		st.AssignedWorker = w.ID

		var result string
		var err error
		for attempt := 0; attempt < o.policy.MaxSubtaskAttempts; attempt++ {
			result, err = w.ExecuteSubtask(ctx, st)
			if err == nil {
				break
			}
			if ctx.Err() != nil {
				break
			}
			time.Sleep(time.Second)
		}

		if ctx.Err() != nil {
			markCancelled(st)
			continue
		}
		if err != nil {
			st.Status = hive.StatusFailed
			st.Error = err.Error()
			st.CompletedAt = time.Now()
			continue
		}

		st.Result = result
		if o.policy.SelfCorrectionEnabled {
			verdict := w.SelfReview(ctx, st)
			if verdict.NeedsCorrection {
				corrected, cErr := w.CorrectSubtask(ctx, st, verdict.Issues)
				st.Result = corrected
				if cErr != nil {
					st.Error = cErr.Error()
				}
			}
		}
		st.Status = hive.StatusCompleted
		st.CompletedAt = time.Now()
	}
}

func markCancelled(st *hive.Subtask) {
	st.Status = hive.StatusFailed
	st.Error = "cancelled"
	st.CompletedAt = time.Now()
}

// executeMultiEndpoint runs the dependency-wave scheduler described in
// §4.4: each wave runs every ready subtask concurrently via
// ExecuteWithPeerReview, waiting for the whole wave before computing the
// next one.
func (o *Orchestrator) executeMultiEndpoint(ctx context.Context, task *hive.Task) {
	for {
		if ctx.Err() != nil {
			cancelRemaining(task)
			return
		}

		ready, pendingExists := readySubtasks(task)
		if len(ready) == 0 {
			if pendingExists {
				markDeadlocked(task)
			}
			return
		}

		var wg sync.WaitGroup
		for _, st := range ready {
			st.Status = hive.StatusAssigned
			wg.Add(1)
			go func(st *hive.Subtask) {
				defer wg.Done()
				w := o.selectWorker(st.Role)
				o.executeWithPeerReview(ctx, w, st)
			}(st)
		}
		wg.Wait()
	}
}

// readySubtasks returns subtasks whose status is Pending/Assigned and whose
// dependencies are all Completed, plus whether any non-terminal subtask
// remains (for deadlock detection).
func readySubtasks(task *hive.Task) (ready []*hive.Subtask, pendingExists bool) {
	for _, st := range task.Subtasks {
		if st.Status != hive.StatusPending && st.Status != hive.StatusAssigned {
			continue
		}
		pendingExists = true

		allDepsCompleted := true
		for _, depID := range st.Dependencies {
			dep := task.SubtaskByID(depID)
			if dep == nil || dep.Status != hive.StatusCompleted {
				allDepsCompleted = false
				break
			}
		}
		if allDepsCompleted {
			ready = append(ready, st)
		}
	}
	return ready, pendingExists
}

func markDeadlocked(task *hive.Task) {
	for _, st := range task.Subtasks {
		if st.Status == hive.StatusPending || st.Status == hive.StatusAssigned {
			st.Status = hive.StatusFailed
			st.Error = "dependency deadlock"
			st.CompletedAt = time.Now()
		}
	}
}

func cancelRemaining(task *hive.Task) {
	for _, st := range task.Subtasks {
		switch st.Status {
		case hive.StatusPending, hive.StatusAssigned, hive.StatusInProgress, hive.StatusPeerReview:
			markCancelled(st)
		}
	}
}

// selectWorker implements the §4.4 worker-selection rule: prefer a
// role-matching worker with the lowest load; otherwise the globally
// least-loaded worker. Iteration order over o.workers is fixed, so ties
// break deterministically on the first-seen minimum.
func (o *Orchestrator) selectWorker(role hive.Role) *worker.Worker {
	var roleMatch, leastLoaded *worker.Worker
	for _, w := range o.workers {
		if leastLoaded == nil || w.Load() < leastLoaded.Load() {
			leastLoaded = w
		}
		if w.Role == role && (roleMatch == nil || w.Load() < roleMatch.Load()) {
			roleMatch = w
		}
	}
	if roleMatch != nil {
		return roleMatch
	}
	return leastLoaded
}

// executeWithPeerReview implements §4.4's ExecuteWithPeerReview: execute,
// then either peer review (when enough reviewers exist) or self review, then
// correct if the majority/self verdict calls for it.
func (o *Orchestrator) executeWithPeerReview(ctx context.Context, w *worker.Worker, st *hive.Subtask) {
	st.Status = hive.StatusInProgress
	st.AssignedWorker = w.ID

	result, err := w.ExecuteSubtask(ctx, st)
	if err != nil {
		st.Status = hive.StatusFailed
		st.Error = err.Error()
		st.CompletedAt = time.Now()
		return
	}
	st.Result = result
	st.Status = hive.StatusPeerReview

	reviewers := o.pickReviewers(w, 2)
	needsCorrection := false
	var issues []string

	if o.policy.PeerReviewEnabled && len(reviewers) >= 2 {
		reviews := gatherReviews(ctx, reviewers, st)
		st.PeerReviews = reviews
		flagged := 0
		for _, r := range reviews {
			if r.NeedsCorrection {
				flagged++
				issues = append(issues, r.Issues...)
			}
		}
		needsCorrection = flagged > len(reviews)/2
	} else if o.policy.SelfCorrectionEnabled {
		verdict := w.SelfReview(ctx, st)
		needsCorrection = verdict.NeedsCorrection
		issues = verdict.Issues
	}

	if needsCorrection {
		corrected, cErr := w.CorrectSubtask(ctx, st, issues)
		st.Result = corrected
		st.Status = hive.StatusCorrected
		if cErr != nil {
			st.Error = cErr.Error()
		}
	}

	st.Status = hive.StatusCompleted
	st.CompletedAt = time.Now()
}

// pickReviewers selects up to n workers other than producer, in a fixed
// deterministic order.
func (o *Orchestrator) pickReviewers(producer *worker.Worker, n int) []*worker.Worker {
	var candidates []*worker.Worker
	for _, w := range o.workers {
		if w.ID != producer.ID {
			candidates = append(candidates, w)
		}
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].ID < candidates[j].ID })
	if len(candidates) > n {
		candidates = candidates[:n]
	}
	return candidates
}

func gatherReviews(ctx context.Context, reviewers []*worker.Worker, st *hive.Subtask) []hive.Review {
	reviews := make([]hive.Review, len(reviewers))
	var wg sync.WaitGroup
	for i, r := range reviewers {
		wg.Add(1)
		go func(i int, r *worker.Worker) {
			defer wg.Done()
			reviews[i] = r.ReviewSubtask(ctx, st)
		}(i, r)
	}
	wg.Wait()
	return reviews
}
