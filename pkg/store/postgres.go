package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver with database/sql
	"github.com/jmoiron/sqlx"

	"github.com/cuemby/asaengine/pkg/llm"
	"github.com/cuemby/asaengine/pkg/types"
)

// PostgresStore implements Store against PostgreSQL via sqlx, using the
// pgx stdlib driver. Schema lives under pkg/store/migrations and is applied
// with goose before the store is used.
type PostgresStore struct {
	db *sqlx.DB
}

// NewPostgresStore opens a pgx-backed sqlx.DB for dsn and verifies
// connectivity with a ping.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sqlx.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Close() error { return s.db.Close() }

// Ping verifies the database connection is reachable.
func (s *PostgresStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// --- Tasks ---

type taskRow struct {
	ID                 string    `db:"id"`
	RepoURL            string    `db:"repo_url"`
	BugDescription     string    `db:"bug_description"`
	TestCommand        string    `db:"test_command"`
	Principal          string    `db:"principal"`
	Status             string    `db:"status"`
	WorkspacePath      string    `db:"workspace_path"`
	BranchName         string    `db:"branch_name"`
	PRURL              string    `db:"pr_url"`
	Log                string    `db:"log"`
	LastTestOutput     string    `db:"last_test_output"`
	BehavioralTestPath string    `db:"behavioral_test_path"`
	JobHandleID        string    `db:"job_handle_id"`
	CreatedAt          time.Time `db:"created_at"`
	UpdatedAt          time.Time `db:"updated_at"`
}

func (r taskRow) toTask() *types.Task {
	return &types.Task{
		ID: r.ID, RepoURL: r.RepoURL, BugDescription: r.BugDescription,
		TestCommand: r.TestCommand, Principal: r.Principal, Status: types.State(r.Status),
		WorkspacePath: r.WorkspacePath, BranchName: r.BranchName, PRURL: r.PRURL,
		Log: r.Log, LastTestOutput: r.LastTestOutput, BehavioralTestPath: r.BehavioralTestPath,
		JobHandleID: r.JobHandleID, CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt,
	}
}

func fromTask(t *types.Task) taskRow {
	return taskRow{
		ID: t.ID, RepoURL: t.RepoURL, BugDescription: t.BugDescription,
		TestCommand: t.TestCommand, Principal: t.Principal, Status: string(t.Status),
		WorkspacePath: t.WorkspacePath, BranchName: t.BranchName, PRURL: t.PRURL,
		Log: t.Log, LastTestOutput: t.LastTestOutput, BehavioralTestPath: t.BehavioralTestPath,
		JobHandleID: t.JobHandleID, CreatedAt: t.CreatedAt, UpdatedAt: t.UpdatedAt,
	}
}

const upsertTaskSQL = `
INSERT INTO tasks (id, repo_url, bug_description, test_command, principal, status,
	workspace_path, branch_name, pr_url, log, last_test_output, behavioral_test_path,
	job_handle_id, created_at, updated_at)
VALUES (:id, :repo_url, :bug_description, :test_command, :principal, :status,
	:workspace_path, :branch_name, :pr_url, :log, :last_test_output, :behavioral_test_path,
	:job_handle_id, :created_at, :updated_at)
ON CONFLICT (id) DO UPDATE SET
	status = EXCLUDED.status, workspace_path = EXCLUDED.workspace_path,
	branch_name = EXCLUDED.branch_name, pr_url = EXCLUDED.pr_url, log = EXCLUDED.log,
	last_test_output = EXCLUDED.last_test_output,
	behavioral_test_path = EXCLUDED.behavioral_test_path,
	job_handle_id = EXCLUDED.job_handle_id, updated_at = EXCLUDED.updated_at`

func (s *PostgresStore) CreateTask(ctx context.Context, task *types.Task) error {
	_, err := s.db.NamedExecContext(ctx, upsertTaskSQL, fromTask(task))
	return err
}

func (s *PostgresStore) UpdateTask(ctx context.Context, task *types.Task) error {
	_, err := s.db.NamedExecContext(ctx, upsertTaskSQL, fromTask(task))
	return err
}

func (s *PostgresStore) LoadTask(ctx context.Context, taskID string) (*types.Task, error) {
	var row taskRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM tasks WHERE id = $1`, taskID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return row.toTask(), nil
}

func (s *PostgresStore) ListTasksByPrincipal(ctx context.Context, principal string, limit int) ([]*types.Task, error) {
	var rows []taskRow
	query := `SELECT * FROM tasks WHERE principal = $1 ORDER BY created_at DESC`
	if limit > 0 {
		query += ` LIMIT $2`
		if err := s.db.SelectContext(ctx, &rows, query, principal, limit); err != nil {
			return nil, err
		}
	} else if err := s.db.SelectContext(ctx, &rows, query, principal); err != nil {
		return nil, err
	}
	out := make([]*types.Task, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toTask())
	}
	return out, nil
}

// --- State history ---

func (s *PostgresStore) AppendStateContext(ctx context.Context, taskID string, sc types.StateContext) error {
	metadata, err := json.Marshal(sc.Metadata)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO task_state_contexts
			(id, task_id, state, entered_at, exited_at, outcome, error, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		uuid.NewString(), taskID, string(sc.State), sc.EnteredAt, sc.ExitedAt,
		string(sc.Outcome), sc.Error, metadata)
	return err
}

func (s *PostgresStore) ListStateContext(ctx context.Context, taskID string) ([]types.StateContext, error) {
	rows, err := s.db.QueryxContext(ctx, `
		SELECT state, entered_at, exited_at, outcome, error, metadata
		FROM task_state_contexts WHERE task_id = $1 ORDER BY entered_at ASC`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.StateContext
	for rows.Next() {
		var state, outcome, errText string
		var enteredAt, exitedAt time.Time
		var metadata []byte
		if err := rows.Scan(&state, &enteredAt, &exitedAt, &outcome, &errText, &metadata); err != nil {
			return nil, err
		}
		sc := types.StateContext{
			State: types.State(state), EnteredAt: enteredAt, ExitedAt: exitedAt,
			Outcome: types.Signal(outcome), Error: errText,
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &sc.Metadata); err != nil {
				return nil, err
			}
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

// --- LLM usage and budgets ---

func (s *PostgresStore) RecordUsage(ctx context.Context, rec llm.UsageRecordInput) error {
	status := types.UsageSuccess
	if !rec.Success {
		status = types.UsageError
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO usage_records
			(id, task_id, principal, purpose, model, prompt_tokens, completion_tokens,
			 total_tokens, cost_usd, latency_ms, status, error_text, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		uuid.NewString(), rec.TaskID, rec.Principal, string(rec.Purpose), rec.Model,
		rec.PromptTokens, rec.CompletionTokens, rec.PromptTokens+rec.CompletionTokens,
		rec.CostUSD, rec.LatencyMS, string(status), rec.ErrorText, time.Now())
	return err
}

func (s *PostgresStore) SumTokensForTask(ctx context.Context, taskID string) (int, error) {
	var sum sql.NullInt64
	err := s.db.GetContext(ctx, &sum,
		`SELECT SUM(total_tokens) FROM usage_records WHERE task_id = $1`, taskID)
	return int(sum.Int64), err
}

func (s *PostgresStore) SumCostForTask(ctx context.Context, taskID string) (float64, error) {
	var sum sql.NullFloat64
	err := s.db.GetContext(ctx, &sum,
		`SELECT SUM(cost_usd) FROM usage_records WHERE task_id = $1`, taskID)
	return sum.Float64, err
}

func (s *PostgresStore) SumCostForPrincipalSince(ctx context.Context, principal string, since time.Time) (float64, error) {
	var sum sql.NullFloat64
	err := s.db.GetContext(ctx, &sum,
		`SELECT SUM(cost_usd) FROM usage_records WHERE principal = $1 AND created_at >= $2`,
		principal, since)
	return sum.Float64, err
}

// --- Prompts ---

func (s *PostgresStore) LoadPromptVersion(ctx context.Context, purpose types.Purpose, version string) (*types.PromptVersion, error) {
	var row struct {
		Purpose            string `db:"purpose"`
		SemanticVersion    string `db:"semantic_version"`
		SchemaVersion      string `db:"schema_version"`
		Checksum           string `db:"checksum"`
		SystemPrompt       string `db:"system_prompt"`
		UserPromptTemplate string `db:"user_prompt_template"`
		OutputSchema       string `db:"output_schema"`
		ModelOverride      []byte `db:"model_config_override"`
	}
	err := s.db.GetContext(ctx, &row, `
		SELECT purpose, semantic_version, schema_version, checksum, system_prompt,
		       user_prompt_template, output_schema, model_config_override
		FROM prompt_versions WHERE purpose = $1 AND semantic_version = $2`, string(purpose), version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	pv := &types.PromptVersion{
		Purpose: types.Purpose(row.Purpose), SemanticVersion: row.SemanticVersion,
		SchemaVersion: row.SchemaVersion, Checksum: row.Checksum,
		SystemPrompt: row.SystemPrompt, UserPromptTemplate: row.UserPromptTemplate,
		OutputSchema: row.OutputSchema,
	}
	if len(row.ModelOverride) > 0 {
		var mc types.ModelConfig
		if err := json.Unmarshal(row.ModelOverride, &mc); err != nil {
			return nil, err
		}
		pv.ModelConfigOverride = &mc
	}
	return pv, nil
}

func (s *PostgresStore) SavePromptVersion(ctx context.Context, pv types.PromptVersion) error {
	var override []byte
	if pv.ModelConfigOverride != nil {
		var err error
		override, err = json.Marshal(pv.ModelConfigOverride)
		if err != nil {
			return err
		}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO prompt_versions
			(purpose, semantic_version, schema_version, checksum, system_prompt,
			 user_prompt_template, output_schema, model_config_override)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (purpose, semantic_version) DO NOTHING`,
		string(pv.Purpose), pv.SemanticVersion, pv.SchemaVersion, pv.Checksum,
		pv.SystemPrompt, pv.UserPromptTemplate, pv.OutputSchema, override)
	return err
}

// --- Feedback ---

func (s *PostgresStore) CreateFeedback(ctx context.Context, fb *types.Feedback) error {
	if fb.ID == "" {
		fb.ID = uuid.NewString()
	}
	if fb.CreatedAt.IsZero() {
		fb.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO feedback (id, task_id, principal, rating, comment, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		fb.ID, fb.TaskID, fb.Principal, string(fb.Rating), fb.Comment, fb.CreatedAt)
	return err
}

func (s *PostgresStore) ListFeedbackForTask(ctx context.Context, taskID string) ([]types.Feedback, error) {
	rows, err := s.db.QueryxContext(ctx, `
		SELECT id, task_id, principal, rating, comment, created_at
		FROM feedback WHERE task_id = $1 ORDER BY created_at ASC`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.Feedback
	for rows.Next() {
		var fb types.Feedback
		var rating string
		if err := rows.Scan(&fb.ID, &fb.TaskID, &fb.Principal, &rating, &fb.Comment, &fb.CreatedAt); err != nil {
			return nil, err
		}
		fb.Rating = types.FeedbackRating(rating)
		out = append(out, fb)
	}
	return out, rows.Err()
}

// --- Evaluation ---

func (s *PostgresStore) CreateEvaluationCase(ctx context.Context, c *types.EvaluationCase) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO evaluation_cases
			(id, name, repo_url, bug_description, test_command, expect_terminal, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		c.ID, c.Name, c.RepoURL, c.BugDescription, c.TestCommand, string(c.ExpectTerminal), c.CreatedAt)
	return err
}

func (s *PostgresStore) GetEvaluationCase(ctx context.Context, id string) (*types.EvaluationCase, error) {
	var row struct {
		ID             string    `db:"id"`
		Name           string    `db:"name"`
		RepoURL        string    `db:"repo_url"`
		BugDescription string    `db:"bug_description"`
		TestCommand    string    `db:"test_command"`
		ExpectTerminal string    `db:"expect_terminal"`
		CreatedAt      time.Time `db:"created_at"`
	}
	err := s.db.GetContext(ctx, &row, `SELECT * FROM evaluation_cases WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &types.EvaluationCase{
		ID: row.ID, Name: row.Name, RepoURL: row.RepoURL, BugDescription: row.BugDescription,
		TestCommand: row.TestCommand, ExpectTerminal: types.State(row.ExpectTerminal),
		CreatedAt: row.CreatedAt,
	}, nil
}

func (s *PostgresStore) ListEvaluationCases(ctx context.Context) ([]*types.EvaluationCase, error) {
	var rows []struct {
		ID             string    `db:"id"`
		Name           string    `db:"name"`
		RepoURL        string    `db:"repo_url"`
		BugDescription string    `db:"bug_description"`
		TestCommand    string    `db:"test_command"`
		ExpectTerminal string    `db:"expect_terminal"`
		CreatedAt      time.Time `db:"created_at"`
	}
	if err := s.db.SelectContext(ctx, &rows, `SELECT * FROM evaluation_cases ORDER BY created_at ASC`); err != nil {
		return nil, err
	}
	out := make([]*types.EvaluationCase, 0, len(rows))
	for _, r := range rows {
		out = append(out, &types.EvaluationCase{
			ID: r.ID, Name: r.Name, RepoURL: r.RepoURL, BugDescription: r.BugDescription,
			TestCommand: r.TestCommand, ExpectTerminal: types.State(r.ExpectTerminal),
			CreatedAt: r.CreatedAt,
		})
	}
	return out, nil
}

func (s *PostgresStore) CreateEvaluationResult(ctx context.Context, r *types.EvaluationResult) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO evaluation_results
			(id, case_id, task_id, actual_terminal, passed, duration_ms, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		r.ID, r.CaseID, r.TaskID, string(r.ActualTerminal), r.Passed, r.DurationMS, r.CreatedAt)
	return err
}

func (s *PostgresStore) ListEvaluationResultsForCase(ctx context.Context, caseID string) ([]*types.EvaluationResult, error) {
	var rows []struct {
		ID             string    `db:"id"`
		CaseID         string    `db:"case_id"`
		TaskID         string    `db:"task_id"`
		ActualTerminal string    `db:"actual_terminal"`
		Passed         bool      `db:"passed"`
		DurationMS     int64     `db:"duration_ms"`
		CreatedAt      time.Time `db:"created_at"`
	}
	err := s.db.SelectContext(ctx, &rows,
		`SELECT * FROM evaluation_results WHERE case_id = $1 ORDER BY created_at ASC`, caseID)
	if err != nil {
		return nil, err
	}
	out := make([]*types.EvaluationResult, 0, len(rows))
	for _, r := range rows {
		out = append(out, &types.EvaluationResult{
			ID: r.ID, CaseID: r.CaseID, TaskID: r.TaskID,
			ActualTerminal: types.State(r.ActualTerminal), Passed: r.Passed,
			DurationMS: r.DurationMS, CreatedAt: r.CreatedAt,
		})
	}
	return out, nil
}
