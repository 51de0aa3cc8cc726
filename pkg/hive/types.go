// Package hive holds the shared Task/Subtask/Review data model used by the
// Manager, Worker and Orchestrator components.
package hive

import "time"

// Role is a Worker specialization; it affects prompt construction and the
// tool allowlist.
type Role string

const (
	RoleResearcher Role = "researcher"
	RoleExecutor   Role = "executor"
	RoleAuditor    Role = "auditor"
	RoleCreative   Role = "creative"
	RoleAnalyst    Role = "analyst"
	RoleCoder      Role = "coder"
	RoleGeneral    Role = "general"
)

// ParseRole maps a (possibly LLM-supplied) role string to a Role, defaulting
// to RoleGeneral for anything unrecognized.
func ParseRole(s string) Role {
	switch Role(s) {
	case RoleResearcher, RoleExecutor, RoleAuditor, RoleCreative, RoleAnalyst, RoleCoder, RoleGeneral:
		return Role(s)
	default:
		return RoleGeneral
	}
}

// SpecializedRoles is the round-robin assignment order used when
// constructing one Worker per configured endpoint.
var SpecializedRoles = []Role{RoleResearcher, RoleExecutor, RoleAuditor, RoleCreative, RoleAnalyst, RoleCoder}

// Status is a Subtask's lifecycle state.
type Status string

const (
	StatusPending    Status = "pending"
	StatusAssigned   Status = "assigned"
	StatusInProgress Status = "in_progress"
	StatusPeerReview Status = "peer_review"
	StatusCorrected  Status = "corrected"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Review is one worker's evaluation of another worker's subtask result.
type Review struct {
	ReviewerWorkerID  string
	NeedsCorrection   bool
	AccuracyScore     float64
	CompletenessScore float64
	QualityScore      float64
	Confidence        float64
	Issues            []string
	Improvements      []string
	Timestamp         time.Time
}

// Subtask is one unit of work inside a Task's dependency DAG.
type Subtask struct {
	ID             string
	Description    string
	Role           Role
	Status         Status
	AssignedWorker string
	Result         string
	Error          string
	PeerReviews    []Review
	Dependencies   []string
	IterationCount int
	MaxIterations  int
	CreatedAt      time.Time
	CompletedAt    time.Time
}

// DependsOn reports whether id appears in s.Dependencies.
func (s *Subtask) DependsOn(id string) bool {
	for _, d := range s.Dependencies {
		if d == id {
			return true
		}
	}
	return false
}

// Task is the unit of work submitted by a caller through ExecuteGoal.
type Task struct {
	ID          string
	Goal        string
	Subtasks    []*Subtask
	Context     map[string]any
	CreatedAt   time.Time
	CompletedAt time.Time
	FinalResult *FinalResult
	Metadata    map[string]any
}

// FinalResult is the Manager's compiled synthesis of a Task's subtasks.
type FinalResult struct {
	Summary          string
	DetailedResults  string
	KeyFindings      []string
	Recommendations  []string
	ConfidenceScore  float64
	MechanicalFallback bool
}

// SubtaskByID returns the subtask with the given id, or nil.
func (t *Task) SubtaskByID(id string) *Subtask {
	for _, st := range t.Subtasks {
		if st.ID == id {
			return st
		}
	}
	return nil
}

// WorkerMode selects how a Worker executes a subtask.
type WorkerMode string

const (
	ModeChainOfThought WorkerMode = "chain_of_thought"
	ModeSpecialized    WorkerMode = "specialized"
)

// WorkerStatus is the coarse execution state of a Worker.
type WorkerStatus string

const (
	WorkerIdle      WorkerStatus = "idle"
	WorkerExecuting WorkerStatus = "executing"
	WorkerError     WorkerStatus = "error"
)

// WorkerInfo is the read-only snapshot returned by Orchestrator.Workers().
type WorkerInfo struct {
	ID     string
	Role   Role
	Load   int
	Status WorkerStatus
}
