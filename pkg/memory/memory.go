// Package memory implements the cross-task decomposition cache described in
// SPEC_FULL.md §4.2: the Manager consults it before calling an LLM to
// decompose a goal it has seen something similar to before.
package memory

import (
	"context"
	"time"
)

// Record is one stored goal -> decomposition outcome.
type Record struct {
	TaskID       string
	Goal         string
	Subtasks     []string // subtask descriptions, in execution order
	Summary      string
	Successful   bool
	CreatedAt    time.Time
}

// Sink is the persistence boundary Manager depends on. NullSink and
// SQLiteSink are the two implementations; both are safe for concurrent use.
type Sink interface {
	StoreTask(ctx context.Context, rec Record) error
	FindSimilarDecomposition(ctx context.Context, goal string) (*Record, error)
	Close() error
}

// NullSink discards everything. It is the default when memory.driver is
// "null" in configuration, and the correct choice for tests that must not
// touch disk.
type NullSink struct{}

func (NullSink) StoreTask(ctx context.Context, rec Record) error { return nil }

func (NullSink) FindSimilarDecomposition(ctx context.Context, goal string) (*Record, error) {
	return nil, nil
}

func (NullSink) Close() error { return nil }
