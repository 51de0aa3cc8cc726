// Package roundid generates the short, deterministic-shape identifiers the
// Orchestrator and Manager hand out for tasks and subtasks.
package roundid

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// Task builds a 12-hex-character task id from the goal text and a
// caller-supplied timestamp (never time.Now directly, so callers stay
// deterministic in tests).
func Task(goal string, at time.Time) string {
	sum := sha256.Sum256([]byte(goal + "|" + at.Format(time.RFC3339Nano)))
	return hex.EncodeToString(sum[:])[:12]
}

// Subtask builds the "<taskId>_sub_<nnn>" id the spec mandates for the nth
// (zero-based) subtask of taskID.
func Subtask(taskID string, index int) string {
	return fmt.Sprintf("%s_sub_%03d", taskID, index)
}
