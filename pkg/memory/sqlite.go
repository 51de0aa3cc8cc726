package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

var _ Sink = (*SQLiteSink)(nil)
var _ Sink = NullSink{}

const schema = `
CREATE TABLE IF NOT EXISTS task_memory (
	task_id     TEXT PRIMARY KEY,
	goal        TEXT NOT NULL,
	subtasks    TEXT NOT NULL,
	summary     TEXT NOT NULL,
	successful  INTEGER NOT NULL,
	created_at  TEXT NOT NULL
);
`

// SQLiteSink persists decomposition records with modernc.org/sqlite (pure
// Go, no cgo) and finds similar prior goals with a keyword-overlap scan —
// deliberately not a vector index, since Hive never generates embeddings
// (that's out of scope per SPEC_FULL.md's Non-goals).
type SQLiteSink struct {
	db *sql.DB
}

// NewSQLiteSink opens (and migrates) the database at path.
func NewSQLiteSink(path string) (*SQLiteSink, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite memory db: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate memory schema: %w", err)
	}

	return &SQLiteSink{db: db}, nil
}

func (s *SQLiteSink) StoreTask(ctx context.Context, rec Record) error {
	subtasks, err := json.Marshal(rec.Subtasks)
	if err != nil {
		return fmt.Errorf("marshal subtasks: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO task_memory (task_id, goal, subtasks, summary, successful, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(task_id) DO UPDATE SET
			goal=excluded.goal, subtasks=excluded.subtasks,
			summary=excluded.summary, successful=excluded.successful`,
		rec.TaskID, rec.Goal, string(subtasks), rec.Summary, boolToInt(rec.Successful),
		rec.CreatedAt.UTC().Format(time.RFC3339))
	return err
}

// FindSimilarDecomposition scans stored goals for keyword overlap with goal
// and returns the best-scoring successful match, or nil if nothing clears
// the overlap threshold.
func (s *SQLiteSink) FindSimilarDecomposition(ctx context.Context, goal string) (*Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT task_id, goal, subtasks, summary, successful, created_at
		FROM task_memory WHERE successful = 1`)
	if err != nil {
		return nil, fmt.Errorf("query memory: %w", err)
	}
	defer rows.Close()

	needle := tokenize(goal)
	type scored struct {
		rec   Record
		score float64
	}
	var candidates []scored

	for rows.Next() {
		var taskID, g, subtasksJSON, summary, createdAt string
		var successfulInt int
		if err := rows.Scan(&taskID, &g, &subtasksJSON, &summary, &successfulInt, &createdAt); err != nil {
			return nil, fmt.Errorf("scan memory row: %w", err)
		}
		score := overlapScore(needle, tokenize(g))
		if score <= 0 {
			continue
		}
		var subtasks []string
		_ = json.Unmarshal([]byte(subtasksJSON), &subtasks)
		createdTime, _ := time.Parse(time.RFC3339, createdAt)
		candidates = append(candidates, scored{
			rec: Record{
				TaskID:     taskID,
				Goal:       g,
				Subtasks:   subtasks,
				Summary:    summary,
				Successful: successfulInt != 0,
				CreatedAt:  createdTime,
			},
			score: score,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })
	const minOverlap = 0.4
	if candidates[0].score < minOverlap {
		return nil, nil
	}
	return &candidates[0].rec, nil
}

func (s *SQLiteSink) Close() error {
	return s.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func tokenize(s string) map[string]struct{} {
	words := strings.Fields(strings.ToLower(s))
	out := make(map[string]struct{}, len(words))
	for _, w := range words {
		w = strings.Trim(w, ".,!?;:\"'()")
		if len(w) > 2 {
			out[w] = struct{}{}
		}
	}
	return out
}

// overlapScore is |intersection| / |union| (Jaccard similarity) over the two
// token sets.
func overlapScore(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	intersect := 0
	for w := range a {
		if _, ok := b[w]; ok {
			intersect++
		}
	}
	union := len(a) + len(b) - intersect
	if union == 0 {
		return 0
	}
	return float64(intersect) / float64(union)
}
