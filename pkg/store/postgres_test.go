package store

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/asaengine/pkg/llm"
	"github.com/cuemby/asaengine/pkg/types"
)

func newMockPostgresStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return &PostgresStore{db: sqlx.NewDb(db, "sqlmock")}, mock
}

func TestPostgresCreateTaskExecutesUpsert(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	mock.ExpectExec("INSERT INTO tasks").WillReturnResult(sqlmock.NewResult(0, 1))

	task := &types.Task{ID: "t1", RepoURL: "https://example.com/r.git", CreatedAt: time.Now(), UpdatedAt: time.Now()}
	require.NoError(t, s.CreateTask(context.Background(), task))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresLoadTaskFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	cols := []string{"id", "repo_url", "bug_description", "test_command", "principal", "status",
		"workspace_path", "branch_name", "pr_url", "log", "last_test_output",
		"behavioral_test_path", "job_handle_id", "created_at", "updated_at"}
	now := time.Now()
	rows := sqlmock.NewRows(cols).AddRow("t1", "https://example.com/r.git", "bug", "go test",
		"alice", "COMPLETED", "/tmp/ws", "fix/t1", "", "", "", "", "", now, now)
	mock.ExpectQuery("SELECT \\* FROM tasks WHERE id = \\$1").WithArgs("t1").WillReturnRows(rows)

	got, err := s.LoadTask(context.Background(), "t1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, types.StateCompleted, got.Status)
	assert.Equal(t, "alice", got.Principal)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresLoadTaskNotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	mock.ExpectQuery("SELECT \\* FROM tasks WHERE id = \\$1").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	got, err := s.LoadTask(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRecordUsageExecutesInsert(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	mock.ExpectExec("INSERT INTO usage_records").WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.RecordUsage(context.Background(), llm.UsageRecordInput{
		TaskID: "t1", Principal: "alice", Purpose: types.PurposeFixGeneration,
		Model: "claude", PromptTokens: 10, CompletionTokens: 5, CostUSD: 0.01, Success: true,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSumTokensForTaskHandlesNull(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	mock.ExpectQuery("SELECT SUM\\(total_tokens\\)").WithArgs("t1").
		WillReturnRows(sqlmock.NewRows([]string{"sum"}).AddRow(nil))

	sum, err := s.SumTokensForTask(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, 0, sum)
	require.NoError(t, mock.ExpectationsWereMet())
}
