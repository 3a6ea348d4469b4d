package tasks

import (
	"context"
	"errors"
	"testing"

	"github.com/formy-ai/formy/pkg/billing"
	"github.com/formy-ai/formy/pkg/database"
	formyerrors "github.com/formy-ai/formy/pkg/errors"
	"github.com/formy-ai/formy/pkg/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	svc   *Service
	users *memUserFacade
	tasks *memTaskFacade
	queue *memQueue
}

func newFixture(credits int) *fixture {
	tasks := newMemTaskFacade()
	users := newMemUserFacade(tasks)
	users.users["usr_1"] = &model.User{UserID: "usr_1", Email: "a@example.com", CurrentCredits: credits}
	facade := &database.Facade{User: users, Task: tasks}
	q := newMemQueue()
	return &fixture{
		svc:   NewService(facade, q, billing.NewService(facade)),
		users: users,
		tasks: tasks,
		queue: q,
	}
}

func TestCreateTask(t *testing.T) {
	fx := newFixture(100)
	ctx := context.Background()

	info, err := fx.svc.Create(ctx, "usr_1", &CreateTaskRequest{
		Mode:        "HEAD_SWAP",
		SourceImage: "uploads/src.png",
		Config:      map[string]interface{}{"reference_image": "uploads/ref.png"},
	})
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusPending, info.Status)
	assert.Equal(t, 48, info.CreditsUsed)

	// The resolved reference is stored on the row so listings carry both
	// input handles.
	assert.Equal(t, "uploads/src.png", info.SourceImage)
	assert.Equal(t, "uploads/ref.png", info.ReferenceImage)

	// The debit happened and the id reached the queue.
	assert.Equal(t, 52, fx.users.users["usr_1"].CurrentCredits)
	require.Len(t, fx.queue.pending, 1)
	assert.Equal(t, info.TaskID, fx.queue.pending[0])

	// Aux routing data rides along in the transient hash.
	assert.Equal(t, "usr_1", fx.queue.data[info.TaskID]["user_id"])
	assert.Equal(t, "HEAD_SWAP", fx.queue.data[info.TaskID]["mode"])
}

func TestCreateTaskInvalidMode(t *testing.T) {
	fx := newFixture(100)

	_, err := fx.svc.Create(context.Background(), "usr_1", &CreateTaskRequest{
		Mode:        "FACE_PAINT",
		SourceImage: "uploads/src.png",
	})
	require.Error(t, err)
	assert.Equal(t, formyerrors.KindInvalidMode, formyerrors.Kind(err))
	assert.Equal(t, 100, fx.users.users["usr_1"].CurrentCredits)
}

func TestCreateTaskInsufficientCredits(t *testing.T) {
	fx := newFixture(10)

	_, err := fx.svc.Create(context.Background(), "usr_1", &CreateTaskRequest{
		Mode:        "HEAD_SWAP",
		SourceImage: "uploads/src.png",
	})
	require.Error(t, err)
	assert.Equal(t, formyerrors.KindCreditNotEnough, formyerrors.Kind(err))

	var formyErr *formyerrors.Error
	require.ErrorAs(t, err, &formyErr)
	assert.Equal(t, 48, formyErr.Details["required"])
	assert.Equal(t, 10, formyErr.Details["current"])
	assert.Equal(t, 38, formyErr.Details["deficit"])

	// Nothing was debited and nothing was enqueued.
	assert.Equal(t, 10, fx.users.users["usr_1"].CurrentCredits)
	assert.Empty(t, fx.queue.pending)
}

func TestCreateTaskEnqueueFailureRefunds(t *testing.T) {
	fx := newFixture(100)
	fx.queue.pushErr = errors.New("redis down")

	_, err := fx.svc.Create(context.Background(), "usr_1", &CreateTaskRequest{
		Mode:        "HEAD_SWAP",
		SourceImage: "uploads/src.png",
	})
	require.Error(t, err)

	// The orphaned row is failed and the debit returned.
	assert.Equal(t, 100, fx.users.users["usr_1"].CurrentCredits)
	for _, task := range fx.tasks.tasks {
		assert.Equal(t, model.TaskStatusFailed, task.Status)
		assert.True(t, task.Refunded)
	}
}

func TestCreateTaskInsertFailureReversesDebit(t *testing.T) {
	fx := newFixture(100)
	fx.tasks.createErr = errors.New("insert failed")

	_, err := fx.svc.Create(context.Background(), "usr_1", &CreateTaskRequest{
		Mode:        "HEAD_SWAP",
		SourceImage: "uploads/src.png",
	})
	require.Error(t, err)
	assert.Equal(t, 100, fx.users.users["usr_1"].CurrentCredits)
}

func TestGetTaskOwnership(t *testing.T) {
	fx := newFixture(100)
	ctx := context.Background()

	info, err := fx.svc.Create(ctx, "usr_1", &CreateTaskRequest{
		Mode:        "HEAD_SWAP",
		SourceImage: "uploads/src.png",
	})
	require.NoError(t, err)

	got, err := fx.svc.Get(ctx, "usr_1", info.TaskID)
	require.NoError(t, err)
	assert.Equal(t, info.TaskID, got.TaskID)

	_, err = fx.svc.Get(ctx, "usr_2", info.TaskID)
	require.Error(t, err)
	assert.Equal(t, formyerrors.KindForbidden, formyerrors.Kind(err))

	_, err = fx.svc.Get(ctx, "usr_1", "task_missing")
	require.Error(t, err)
	assert.Equal(t, formyerrors.KindTaskDataNotFound, formyerrors.Kind(err))
}

func TestCancelRefundsOnce(t *testing.T) {
	fx := newFixture(100)
	ctx := context.Background()

	info, err := fx.svc.Create(ctx, "usr_1", &CreateTaskRequest{
		Mode:        "HEAD_SWAP",
		SourceImage: "uploads/src.png",
	})
	require.NoError(t, err)
	require.Equal(t, 52, fx.users.users["usr_1"].CurrentCredits)

	cancelled, err := fx.svc.Cancel(ctx, "usr_1", info.TaskID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusCancelled, cancelled.Status)
	assert.Equal(t, 100, fx.users.users["usr_1"].CurrentCredits)
	assert.Empty(t, fx.queue.pending)

	// A second cancel is rejected and cannot refund again.
	_, err = fx.svc.Cancel(ctx, "usr_1", info.TaskID)
	require.Error(t, err)
	assert.Equal(t, formyerrors.KindInvalidRequest, formyerrors.Kind(err))
	assert.Equal(t, 100, fx.users.users["usr_1"].CurrentCredits)
}

func TestCancelForbiddenForOtherUser(t *testing.T) {
	fx := newFixture(100)
	ctx := context.Background()

	info, err := fx.svc.Create(ctx, "usr_1", &CreateTaskRequest{
		Mode:        "HEAD_SWAP",
		SourceImage: "uploads/src.png",
	})
	require.NoError(t, err)

	_, err = fx.svc.Cancel(ctx, "usr_2", info.TaskID)
	require.Error(t, err)
	assert.Equal(t, formyerrors.KindForbidden, formyerrors.Kind(err))
}

func TestListAndHistory(t *testing.T) {
	fx := newFixture(1000)
	ctx := context.Background()

	first, err := fx.svc.Create(ctx, "usr_1", &CreateTaskRequest{
		Mode:        "HEAD_SWAP",
		SourceImage: "uploads/src.png",
	})
	require.NoError(t, err)
	_, err = fx.svc.Create(ctx, "usr_1", &CreateTaskRequest{
		Mode:        "POSE_CHANGE",
		SourceImage: "uploads/src.png",
	})
	require.NoError(t, err)

	// Finish the first task so it shows up in history.
	_, err = fx.tasks.Complete(ctx, first.TaskID, nil, 3.0)
	require.NoError(t, err)

	all, err := fx.svc.List(ctx, "usr_1", ListOptions{})
	require.NoError(t, err)
	assert.Len(t, all.Tasks, 2)
	assert.Equal(t, int64(2), all.Pagination.TotalCount)
	assert.Equal(t, 20, all.Pagination.PageSize)

	byMode, err := fx.svc.List(ctx, "usr_1", ListOptions{Mode: "POSE_CHANGE"})
	require.NoError(t, err)
	require.Len(t, byMode.Tasks, 1)
	assert.Equal(t, model.ModePoseChange, byMode.Tasks[0].Mode)

	history, err := fx.svc.History(ctx, "usr_1", ListOptions{})
	require.NoError(t, err)
	require.Len(t, history.Tasks, 1)
	assert.Equal(t, first.TaskID, history.Tasks[0].TaskID)

	_, err = fx.svc.List(ctx, "usr_1", ListOptions{Status: "sleeping"})
	require.Error(t, err)
	assert.Equal(t, formyerrors.KindInvalidRequest, formyerrors.Kind(err))
}

func TestStats(t *testing.T) {
	fx := newFixture(1000)
	ctx := context.Background()

	_, err := fx.svc.Create(ctx, "usr_1", &CreateTaskRequest{
		Mode:        "HEAD_SWAP",
		SourceImage: "uploads/src.png",
	})
	require.NoError(t, err)

	stats, err := fx.svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Pending)
	assert.Equal(t, int64(0), stats.Processing)
}
