package database

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/formy-ai/formy/pkg/model"
	"gorm.io/gorm"
)

// ErrTaskNotFound is returned when a task update matches no row.
var ErrTaskNotFound = errors.New("task not found")

var terminalStatuses = []model.TaskStatus{
	model.TaskStatusDone,
	model.TaskStatusFailed,
	model.TaskStatusCancelled,
}

// TaskFacadeInterface defines the database operations for tasks. Terminal
// states are absorbing: every mutation carries a status guard in its WHERE
// clause, so a finished task cannot be rewritten.
type TaskFacadeInterface interface {
	// Create inserts a new pending task
	Create(ctx context.Context, task *model.Task) error

	// Get retrieves a task by ID, nil when missing
	Get(ctx context.Context, taskID string) (*model.Task, error)

	// MarkProcessing transitions pending -> processing. Returns false when
	// the task is no longer pending.
	MarkProcessing(ctx context.Context, taskID string) (bool, error)

	// UpdateProgress writes progress and step on a non-terminal task.
	// Progress is clamped to [0, 100].
	UpdateProgress(ctx context.Context, taskID string, progress int, step string) error

	// Complete writes the result and transitions to done. Returns false when
	// the task already reached a terminal state.
	Complete(ctx context.Context, taskID string, result json.RawMessage, processingTime float64) (bool, error)

	// Fail writes the error and transitions to failed. Returns false when
	// the task already reached a terminal state.
	Fail(ctx context.Context, taskID string, taskErr json.RawMessage) (bool, error)

	// Cancel transitions a pending or processing task to cancelled
	Cancel(ctx context.Context, taskID string) (bool, error)

	// List lists tasks matching the filter, newest first
	List(ctx context.Context, filter *TaskFilter) ([]*model.Task, error)

	// Count counts tasks matching the filter
	Count(ctx context.Context, filter *TaskFilter) (int64, error)

	// ListStale returns processing tasks not touched since the cutoff
	ListStale(ctx context.Context, cutoff time.Time) ([]*model.Task, error)

	// DeleteOld removes terminal tasks finished before the cutoff
	DeleteOld(ctx context.Context, cutoff time.Time) (int, error)

	// WithDB binds the facade to a specific connection, used by tests
	WithDB(db *gorm.DB) TaskFacadeInterface
}

// TaskFilter defines filter conditions for querying tasks. UserID is
// mandatory for listings: rows without an owner are never returned.
type TaskFilter struct {
	UserID   string
	Status   *model.TaskStatus
	Statuses []model.TaskStatus
	Mode     *model.EditMode
	Limit    int
	Offset   int
}

// TaskFacade implements TaskFacadeInterface
type TaskFacade struct {
	BaseFacade
}

// NewTaskFacade creates a new TaskFacade instance
func NewTaskFacade() TaskFacadeInterface {
	return &TaskFacade{}
}

func (f *TaskFacade) WithDB(db *gorm.DB) TaskFacadeInterface {
	return &TaskFacade{BaseFacade: f.withDB(db)}
}

func (f *TaskFacade) Create(ctx context.Context, task *model.Task) error {
	if task.Status == "" {
		task.Status = model.TaskStatusPending
	}
	return f.getDB().WithContext(ctx).Create(task).Error
}

func (f *TaskFacade) Get(ctx context.Context, taskID string) (*model.Task, error) {
	var task model.Task
	err := f.getDB().WithContext(ctx).Where("task_id = ?", taskID).First(&task).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &task, nil
}

func (f *TaskFacade) MarkProcessing(ctx context.Context, taskID string) (bool, error) {
	result := f.getDB().WithContext(ctx).Model(&model.Task{}).
		Where("task_id = ? AND status = ?", taskID, model.TaskStatusPending).
		Updates(map[string]interface{}{
			"status":       model.TaskStatusProcessing,
			"progress":     0,
			"current_step": "claimed",
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func clampProgress(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

func (f *TaskFacade) UpdateProgress(ctx context.Context, taskID string, progress int, step string) error {
	updates := map[string]interface{}{
		"progress": clampProgress(progress),
	}
	if step != "" {
		updates["current_step"] = step
	}
	return f.getDB().WithContext(ctx).Model(&model.Task{}).
		Where("task_id = ? AND status NOT IN ?", taskID, terminalStatuses).
		Updates(updates).Error
}

func (f *TaskFacade) Complete(ctx context.Context, taskID string, result json.RawMessage, processingTime float64) (bool, error) {
	now := time.Now()
	res := f.getDB().WithContext(ctx).Model(&model.Task{}).
		Where("task_id = ? AND status NOT IN ?", taskID, terminalStatuses).
		Updates(map[string]interface{}{
			"status":          model.TaskStatusDone,
			"progress":        100,
			"result":          result,
			"completed_at":    now,
			"processing_time": processingTime,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (f *TaskFacade) Fail(ctx context.Context, taskID string, taskErr json.RawMessage) (bool, error) {
	now := time.Now()
	res := f.getDB().WithContext(ctx).Model(&model.Task{}).
		Where("task_id = ? AND status NOT IN ?", taskID, terminalStatuses).
		Updates(map[string]interface{}{
			"status":    model.TaskStatusFailed,
			"error":     taskErr,
			"failed_at": now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (f *TaskFacade) Cancel(ctx context.Context, taskID string) (bool, error) {
	res := f.getDB().WithContext(ctx).Model(&model.Task{}).
		Where("task_id = ? AND status IN ?", taskID,
			[]model.TaskStatus{model.TaskStatusPending, model.TaskStatusProcessing}).
		Update("status", model.TaskStatusCancelled)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (f *TaskFacade) applyFilter(query *gorm.DB, filter *TaskFilter) *gorm.DB {
	// Ownerless rows predate account scoping and are never listed.
	query = query.Where("user_id = ?", filter.UserID)
	if filter.Status != nil {
		query = query.Where("status = ?", *filter.Status)
	}
	if len(filter.Statuses) > 0 {
		query = query.Where("status IN ?", filter.Statuses)
	}
	if filter.Mode != nil {
		query = query.Where("mode = ?", *filter.Mode)
	}
	return query
}

func (f *TaskFacade) List(ctx context.Context, filter *TaskFilter) ([]*model.Task, error) {
	if filter == nil || filter.UserID == "" {
		return nil, errors.New("task listing requires a user id")
	}
	query := f.applyFilter(f.getDB().WithContext(ctx).Model(&model.Task{}), filter)
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit).Offset(filter.Offset)
	}

	var tasks []model.Task
	if err := query.Order("created_at DESC").Find(&tasks).Error; err != nil {
		return nil, err
	}
	result := make([]*model.Task, len(tasks))
	for i := range tasks {
		result[i] = &tasks[i]
	}
	return result, nil
}

func (f *TaskFacade) Count(ctx context.Context, filter *TaskFilter) (int64, error) {
	if filter == nil || filter.UserID == "" {
		return 0, errors.New("task counting requires a user id")
	}
	var count int64
	err := f.applyFilter(f.getDB().WithContext(ctx).Model(&model.Task{}), filter).
		Count(&count).Error
	return count, err
}

func (f *TaskFacade) ListStale(ctx context.Context, cutoff time.Time) ([]*model.Task, error) {
	var tasks []model.Task
	err := f.getDB().WithContext(ctx).
		Where("status = ? AND updated_at < ?", model.TaskStatusProcessing, cutoff).
		Find(&tasks).Error
	if err != nil {
		return nil, err
	}
	result := make([]*model.Task, len(tasks))
	for i := range tasks {
		result[i] = &tasks[i]
	}
	return result, nil
}

func (f *TaskFacade) DeleteOld(ctx context.Context, cutoff time.Time) (int, error) {
	res := f.getDB().WithContext(ctx).
		Where("status IN ? AND updated_at < ?", terminalStatuses, cutoff).
		Delete(&model.Task{})
	return int(res.RowsAffected), res.Error
}
