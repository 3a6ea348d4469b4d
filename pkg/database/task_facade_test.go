package database

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/formy-ai/formy/pkg/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarkProcessing(t *testing.T) {
	gdb, mock := newMockDB(t)
	facade := NewTaskFacade().WithDB(gdb)
	ctx := context.Background()

	// The claim stamps the step alongside status and progress.
	mock.ExpectExec(`UPDATE "tasks" SET`).
		WithArgs("claimed", 0, "processing", sqlmock.AnyArg(), "task_1", "pending").
		WillReturnResult(sqlmock.NewResult(0, 1))
	ok, err := facade.MarkProcessing(ctx, "task_1")
	require.NoError(t, err)
	assert.True(t, ok)

	// Already claimed or cancelled: the pending guard matches nothing.
	mock.ExpectExec(`UPDATE "tasks" SET`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	ok, err = facade.MarkProcessing(ctx, "task_1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateProgressClamps(t *testing.T) {
	gdb, mock := newMockDB(t)
	facade := NewTaskFacade().WithDB(gdb)

	mock.ExpectExec(`UPDATE "tasks" SET`).
		WithArgs("generate", 100, sqlmock.AnyArg(),
			"task_1", "done", "failed", "cancelled").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := facade.UpdateProgress(context.Background(), "task_1", 150, "generate")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCompleteTerminalGuard(t *testing.T) {
	gdb, mock := newMockDB(t)
	facade := NewTaskFacade().WithDB(gdb)
	ctx := context.Background()
	result := json.RawMessage(`{"output_image":"/files/results/task_1.png"}`)

	mock.ExpectExec(`UPDATE "tasks" SET`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	ok, err := facade.Complete(ctx, "task_1", result, 12.5)
	require.NoError(t, err)
	assert.True(t, ok)

	// A cancelled task absorbs: the late result write is dropped.
	mock.ExpectExec(`UPDATE "tasks" SET`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	ok, err = facade.Complete(ctx, "task_1", result, 12.5)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFailTerminalGuard(t *testing.T) {
	gdb, mock := newMockDB(t)
	facade := NewTaskFacade().WithDB(gdb)
	taskErr := json.RawMessage(`{"code":"ENGINE_FAILED","message":"workflow failed"}`)

	mock.ExpectExec(`UPDATE "tasks" SET`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	ok, err := facade.Fail(context.Background(), "task_1", taskErr)
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCancel(t *testing.T) {
	gdb, mock := newMockDB(t)
	facade := NewTaskFacade().WithDB(gdb)
	ctx := context.Background()

	mock.ExpectExec(`UPDATE "tasks" SET`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	ok, err := facade.Cancel(ctx, "task_1")
	require.NoError(t, err)
	assert.True(t, ok)

	// Done and failed tasks cannot be cancelled.
	mock.ExpectExec(`UPDATE "tasks" SET`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	ok, err = facade.Cancel(ctx, "task_1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListRequiresUserID(t *testing.T) {
	gdb, _ := newMockDB(t)
	facade := NewTaskFacade().WithDB(gdb)
	ctx := context.Background()

	_, err := facade.List(ctx, &TaskFilter{})
	assert.Error(t, err)
	_, err = facade.List(ctx, nil)
	assert.Error(t, err)
	_, err = facade.Count(ctx, &TaskFilter{})
	assert.Error(t, err)
}

func TestListFilters(t *testing.T) {
	gdb, mock := newMockDB(t)
	facade := NewTaskFacade().WithDB(gdb)

	status := model.TaskStatusDone
	rows := sqlmock.NewRows([]string{"task_id", "user_id", "mode", "status", "progress"}).
		AddRow("task_2", "usr_1", "HEAD_SWAP", "done", 100).
		AddRow("task_1", "usr_1", "HEAD_SWAP", "done", 100)
	mock.ExpectQuery(`SELECT \* FROM "tasks" WHERE user_id = \$1 AND status = \$2`).
		WithArgs("usr_1", "done", 10).
		WillReturnRows(rows)

	tasks, err := facade.List(context.Background(), &TaskFilter{
		UserID: "usr_1",
		Status: &status,
		Limit:  10,
	})
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, "task_2", tasks[0].TaskID)
	assert.Equal(t, model.TaskStatusDone, tasks[0].Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCount(t *testing.T) {
	gdb, mock := newMockDB(t)
	facade := NewTaskFacade().WithDB(gdb)

	mock.ExpectQuery(`SELECT count\(\*\) FROM "tasks"`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(7))

	n, err := facade.Count(context.Background(), &TaskFilter{UserID: "usr_1"})
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClampProgress(t *testing.T) {
	assert.Equal(t, 0, clampProgress(-5))
	assert.Equal(t, 0, clampProgress(0))
	assert.Equal(t, 55, clampProgress(55))
	assert.Equal(t, 100, clampProgress(100))
	assert.Equal(t, 100, clampProgress(250))
}
