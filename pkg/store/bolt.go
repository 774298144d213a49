package store

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"github.com/cuemby/asaengine/pkg/llm"
	"github.com/cuemby/asaengine/pkg/types"
)

var (
	bucketTasks             = []byte("tasks")
	bucketStateContexts     = []byte("state_contexts") // key: taskID, value: JSON []types.StateContext
	bucketUsage             = []byte("usage_records")
	bucketPrompts           = []byte("prompt_versions") // key: purpose:version
	bucketFeedback          = []byte("feedback")
	bucketEvaluationCases   = []byte("evaluation_cases")
	bucketEvaluationResults = []byte("evaluation_results")
)

// BoltStore implements Store on an embedded go.etcd.io/bbolt database: one
// bucket per entity, JSON-encoded values keyed by ID, db.Update/db.View
// transactions. Suited to single-binary or local-dev deployments that do
// not want an external PostgreSQL dependency.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (creating if absent) an asaengine.db file under dataDir
// and ensures every bucket exists.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "asaengine.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("store: open bbolt database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			bucketTasks, bucketStateContexts, bucketUsage, bucketPrompts,
			bucketFeedback, bucketEvaluationCases, bucketEvaluationResults,
		}
		for _, b := range buckets {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("create bucket %s: %w", b, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Close() error { return s.db.Close() }

// Ping verifies the embedded database file is still open and readable.
func (s *BoltStore) Ping(ctx context.Context) error {
	return s.db.View(func(tx *bolt.Tx) error { return nil })
}

// --- Tasks ---

func (s *BoltStore) CreateTask(ctx context.Context, task *types.Task) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(task)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketTasks).Put([]byte(task.ID), data)
	})
}

func (s *BoltStore) LoadTask(ctx context.Context, taskID string) (*types.Task, error) {
	var task *types.Task
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketTasks).Get([]byte(taskID))
		if data == nil {
			return nil
		}
		var t types.Task
		if err := json.Unmarshal(data, &t); err != nil {
			return err
		}
		task = &t
		return nil
	})
	return task, err
}

func (s *BoltStore) UpdateTask(ctx context.Context, task *types.Task) error {
	return s.CreateTask(ctx, task)
}

func (s *BoltStore) ListTasksByPrincipal(ctx context.Context, principal string, limit int) ([]*types.Task, error) {
	var tasks []*types.Task
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTasks).ForEach(func(k, v []byte) error {
			var t types.Task
			if err := json.Unmarshal(v, &t); err != nil {
				return err
			}
			if t.Principal == principal {
				tasks = append(tasks, &t)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(tasks) > limit {
		tasks = tasks[:limit]
	}
	return tasks, nil
}

// --- State history ---

func (s *BoltStore) AppendStateContext(ctx context.Context, taskID string, sc types.StateContext) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketStateContexts)
		history, err := decodeStateContexts(b.Get([]byte(taskID)))
		if err != nil {
			return err
		}
		history = append(history, sc)
		data, err := json.Marshal(history)
		if err != nil {
			return err
		}
		return b.Put([]byte(taskID), data)
	})
}

func (s *BoltStore) ListStateContext(ctx context.Context, taskID string) ([]types.StateContext, error) {
	var history []types.StateContext
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		history, err = decodeStateContexts(tx.Bucket(bucketStateContexts).Get([]byte(taskID)))
		return err
	})
	return history, err
}

func decodeStateContexts(data []byte) ([]types.StateContext, error) {
	if data == nil {
		return nil, nil
	}
	var history []types.StateContext
	if err := json.Unmarshal(data, &history); err != nil {
		return nil, err
	}
	return history, nil
}

// --- LLM usage and budgets ---

func (s *BoltStore) RecordUsage(ctx context.Context, rec llm.UsageRecordInput) error {
	status := types.UsageSuccess
	if !rec.Success {
		status = types.UsageError
	}
	row := types.UsageRecord{
		ID:               uuid.NewString(),
		TaskID:           rec.TaskID,
		Principal:        rec.Principal,
		Purpose:          rec.Purpose,
		Model:            rec.Model,
		PromptTokens:     rec.PromptTokens,
		CompletionTokens: rec.CompletionTokens,
		TotalTokens:      rec.PromptTokens + rec.CompletionTokens,
		CostUSD:          rec.CostUSD,
		LatencyMS:        rec.LatencyMS,
		Status:           status,
		ErrorText:        rec.ErrorText,
		CreatedAt:        time.Now(),
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(row)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketUsage).Put([]byte(row.ID), data)
	})
}

func (s *BoltStore) forEachUsage(f func(types.UsageRecord) error) error {
	return s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketUsage).ForEach(func(k, v []byte) error {
			var rec types.UsageRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			return f(rec)
		})
	})
}

func (s *BoltStore) SumTokensForTask(ctx context.Context, taskID string) (int, error) {
	sum := 0
	err := s.forEachUsage(func(rec types.UsageRecord) error {
		if rec.TaskID == taskID {
			sum += rec.TotalTokens
		}
		return nil
	})
	return sum, err
}

func (s *BoltStore) SumCostForTask(ctx context.Context, taskID string) (float64, error) {
	sum := 0.0
	err := s.forEachUsage(func(rec types.UsageRecord) error {
		if rec.TaskID == taskID {
			sum += rec.CostUSD
		}
		return nil
	})
	return sum, err
}

func (s *BoltStore) SumCostForPrincipalSince(ctx context.Context, principal string, since time.Time) (float64, error) {
	sum := 0.0
	err := s.forEachUsage(func(rec types.UsageRecord) error {
		if rec.Principal == principal && !rec.CreatedAt.Before(since) {
			sum += rec.CostUSD
		}
		return nil
	})
	return sum, err
}

// --- Prompts ---

func promptKey(purpose types.Purpose, version string) []byte {
	return []byte(string(purpose) + ":" + version)
}

func (s *BoltStore) LoadPromptVersion(ctx context.Context, purpose types.Purpose, version string) (*types.PromptVersion, error) {
	var pv *types.PromptVersion
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketPrompts).Get(promptKey(purpose, version))
		if data == nil {
			return nil
		}
		var v types.PromptVersion
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		pv = &v
		return nil
	})
	return pv, err
}

func (s *BoltStore) SavePromptVersion(ctx context.Context, pv types.PromptVersion) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPrompts)
		if b.Get(promptKey(pv.Purpose, pv.SemanticVersion)) != nil {
			return nil
		}
		data, err := json.Marshal(pv)
		if err != nil {
			return err
		}
		return b.Put(promptKey(pv.Purpose, pv.SemanticVersion), data)
	})
}

// --- Feedback ---

func (s *BoltStore) CreateFeedback(ctx context.Context, fb *types.Feedback) error {
	if fb.ID == "" {
		fb.ID = uuid.NewString()
	}
	if fb.CreatedAt.IsZero() {
		fb.CreatedAt = time.Now()
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(fb)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketFeedback).Put([]byte(fb.ID), data)
	})
}

func (s *BoltStore) ListFeedbackForTask(ctx context.Context, taskID string) ([]types.Feedback, error) {
	var out []types.Feedback
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketFeedback).ForEach(func(k, v []byte) error {
			var fb types.Feedback
			if err := json.Unmarshal(v, &fb); err != nil {
				return err
			}
			if fb.TaskID == taskID {
				out = append(out, fb)
			}
			return nil
		})
	})
	return out, err
}

// --- Evaluation ---

func (s *BoltStore) CreateEvaluationCase(ctx context.Context, c *types.EvaluationCase) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(c)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketEvaluationCases).Put([]byte(c.ID), data)
	})
}

func (s *BoltStore) GetEvaluationCase(ctx context.Context, id string) (*types.EvaluationCase, error) {
	var out *types.EvaluationCase
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketEvaluationCases).Get([]byte(id))
		if data == nil {
			return nil
		}
		var c types.EvaluationCase
		if err := json.Unmarshal(data, &c); err != nil {
			return err
		}
		out = &c
		return nil
	})
	return out, err
}

func (s *BoltStore) ListEvaluationCases(ctx context.Context) ([]*types.EvaluationCase, error) {
	var out []*types.EvaluationCase
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketEvaluationCases).ForEach(func(k, v []byte) error {
			var c types.EvaluationCase
			if err := json.Unmarshal(v, &c); err != nil {
				return err
			}
			out = append(out, &c)
			return nil
		})
	})
	return out, err
}

func (s *BoltStore) CreateEvaluationResult(ctx context.Context, r *types.EvaluationResult) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(r)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketEvaluationResults).Put([]byte(r.ID), data)
	})
}

func (s *BoltStore) ListEvaluationResultsForCase(ctx context.Context, caseID string) ([]*types.EvaluationResult, error) {
	var out []*types.EvaluationResult
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketEvaluationResults).ForEach(func(k, v []byte) error {
			var r types.EvaluationResult
			if err := json.Unmarshal(v, &r); err != nil {
				return err
			}
			if r.CaseID == caseID {
				out = append(out, &r)
			}
			return nil
		})
	})
	return out, err
}
