package tasks

import (
	"context"
	"encoding/json"
	"time"

	"github.com/formy-ai/formy/pkg/billing"
	"github.com/formy-ai/formy/pkg/database"
	"github.com/formy-ai/formy/pkg/errors"
	"github.com/formy-ai/formy/pkg/logger/log"
	"github.com/formy-ai/formy/pkg/model"
	"github.com/formy-ai/formy/pkg/pipeline"
	"github.com/formy-ai/formy/pkg/queue"
)

// CreateTaskRequest is the payload for submitting an edit task.
type CreateTaskRequest struct {
	Mode        string                 `json:"mode" binding:"required"`
	SourceImage string                 `json:"source_image" binding:"required"`
	Config      map[string]interface{} `json:"config"`
}

// ListOptions narrows and pages a task listing.
type ListOptions struct {
	Status   string
	Mode     string
	Page     int
	PageSize int
}

// QueueStats is the dispatch backlog snapshot.
type QueueStats struct {
	Pending    int64 `json:"pending"`
	Processing int64 `json:"processing"`
}

// Service owns the task lifecycle on the API side: pricing and pre-charge,
// durable insert, enqueue, and the read paths. Terminal transitions from
// the worker side live in the worker package.
type Service struct {
	facade  database.FacadeInterface
	queue   queue.Queue
	billing *billing.Service
}

// NewService creates the task service.
func NewService(facade database.FacadeInterface, q queue.Queue, b *billing.Service) *Service {
	return &Service{facade: facade, queue: q, billing: b}
}

// Create prices the task, debits the credits up front, inserts the durable
// row and enqueues the id. A failure after the debit refunds it.
func (s *Service) Create(ctx context.Context, userID string, req *CreateTaskRequest) (*model.TaskInfo, error) {
	mode, ok := model.ParseEditMode(req.Mode)
	if !ok {
		return nil, errors.NewError().WithKind(errors.KindInvalidMode).
			WithMessagef("unknown mode %q", req.Mode)
	}
	if req.SourceImage == "" {
		return nil, errors.NewError().WithKind(errors.KindInvalidSourceImage).
			WithMessage("source_image is required")
	}
	if req.Config == nil {
		req.Config = map[string]interface{}{}
	}

	cost := billing.CostFromConfig(mode, req.Config)
	if err := s.billing.CheckAndDebit(ctx, userID, cost); err != nil {
		return nil, err
	}

	configJSON, err := json.Marshal(req.Config)
	if err != nil {
		_ = s.billing.AddCredits(ctx, userID, cost)
		return nil, errors.Wrap(err, errors.KindInvalidRequest, "config not serializable")
	}

	task := &model.Task{
		TaskID:         model.NewTaskID(),
		UserID:         userID,
		Mode:           mode,
		Status:         model.TaskStatusPending,
		SourceImage:    req.SourceImage,
		ReferenceImage: pipeline.ResolveReference(mode, req.Config),
		Config:         configJSON,
		CreditsUsed:    cost,
	}
	if err := s.facade.GetTask().Create(ctx, task); err != nil {
		// No row exists yet, so the refund marker cannot gate this; the
		// debit is reversed directly.
		if rerr := s.billing.AddCredits(ctx, userID, cost); rerr != nil {
			log.WithError(rerr).Errorf("failed to reverse debit for user %s after insert failure", userID)
		}
		return nil, errors.Wrap(err, errors.KindInternalError, "task insert failed")
	}

	if err := s.queue.Push(ctx, task.TaskID); err != nil {
		s.failUnqueued(ctx, task, err)
		return nil, errors.Wrap(err, errors.KindInternalError, "task enqueue failed")
	}

	if err := s.queue.SetTaskData(ctx, task.TaskID, map[string]interface{}{
		"user_id":    userID,
		"mode":       string(mode),
		"created_at": time.Now().Format(time.RFC3339),
	}); err != nil {
		log.WithError(err).Warnf("failed to write aux data for task %s", task.TaskID)
	}

	log.Infof("task %s created: user=%s mode=%s cost=%d", task.TaskID, userID, mode, cost)
	return task.ToInfo(), nil
}

// failUnqueued marks a task that never reached the queue as failed and
// refunds its credits.
func (s *Service) failUnqueued(ctx context.Context, task *model.Task, cause error) {
	taskErr, _ := json.Marshal(model.TaskError{
		Code:    errors.KindInternalError,
		Message: "task could not be enqueued",
		Details: cause.Error(),
	})
	if _, err := s.facade.GetTask().Fail(ctx, task.TaskID, taskErr); err != nil {
		log.WithError(err).Errorf("failed to mark unqueued task %s failed", task.TaskID)
	}
	if _, err := s.billing.RefundTask(ctx, task); err != nil {
		log.WithError(err).Errorf("failed to refund unqueued task %s", task.TaskID)
	}
}

// Get returns a task, enforcing ownership.
func (s *Service) Get(ctx context.Context, userID, taskID string) (*model.TaskInfo, error) {
	task, err := s.facade.GetTask().Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, errors.NewError().WithKind(errors.KindTaskDataNotFound).
			WithMessagef("task %s not found", taskID)
	}
	if task.UserID != userID {
		return nil, errors.NewError().WithKind(errors.KindForbidden).
			WithMessage("task belongs to another user")
	}
	return task.ToInfo(), nil
}

func (s *Service) buildFilter(userID string, opts ListOptions) (*database.TaskFilter, error) {
	filter := &database.TaskFilter{UserID: userID}
	if opts.Status != "" {
		status := model.TaskStatus(opts.Status)
		switch status {
		case model.TaskStatusPending, model.TaskStatusProcessing,
			model.TaskStatusDone, model.TaskStatusFailed, model.TaskStatusCancelled:
			filter.Status = &status
		default:
			return nil, errors.NewError().WithKind(errors.KindInvalidRequest).
				WithMessagef("unknown status %q", opts.Status)
		}
	}
	if opts.Mode != "" {
		mode, ok := model.ParseEditMode(opts.Mode)
		if !ok {
			return nil, errors.NewError().WithKind(errors.KindInvalidMode).
				WithMessagef("unknown mode %q", opts.Mode)
		}
		filter.Mode = &mode
	}
	return filter, nil
}

func (s *Service) page(ctx context.Context, filter *database.TaskFilter, opts ListOptions) (*model.TaskListResponse, error) {
	page := opts.Page
	if page < 1 {
		page = 1
	}
	pageSize := opts.PageSize
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	filter.Limit = pageSize
	filter.Offset = (page - 1) * pageSize

	total, err := s.facade.GetTask().Count(ctx, filter)
	if err != nil {
		return nil, err
	}
	rows, err := s.facade.GetTask().List(ctx, filter)
	if err != nil {
		return nil, err
	}

	infos := make([]*model.TaskInfo, len(rows))
	for i, row := range rows {
		infos[i] = row.ToInfo()
	}
	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	return &model.TaskListResponse{
		Tasks: infos,
		Pagination: model.Pagination{
			Page:       page,
			PageSize:   pageSize,
			TotalCount: total,
			TotalPages: totalPages,
		},
	}, nil
}

// List pages the caller's tasks, optionally narrowed by status and mode.
func (s *Service) List(ctx context.Context, userID string, opts ListOptions) (*model.TaskListResponse, error) {
	filter, err := s.buildFilter(userID, opts)
	if err != nil {
		return nil, err
	}
	return s.page(ctx, filter, opts)
}

// History pages the caller's finished tasks (done, failed, cancelled).
func (s *Service) History(ctx context.Context, userID string, opts ListOptions) (*model.TaskListResponse, error) {
	opts.Status = ""
	filter, err := s.buildFilter(userID, opts)
	if err != nil {
		return nil, err
	}
	filter.Statuses = []model.TaskStatus{
		model.TaskStatusDone, model.TaskStatusFailed, model.TaskStatusCancelled,
	}
	return s.page(ctx, filter, opts)
}

// Cancel sets a pending or processing task to cancelled and refunds its
// credits. A worker that is mid-flight consults the durable status before
// its terminal write, so the cancel wins.
func (s *Service) Cancel(ctx context.Context, userID, taskID string) (*model.TaskInfo, error) {
	task, err := s.facade.GetTask().Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, errors.NewError().WithKind(errors.KindTaskDataNotFound).
			WithMessagef("task %s not found", taskID)
	}
	if task.UserID != userID {
		return nil, errors.NewError().WithKind(errors.KindForbidden).
			WithMessage("task belongs to another user")
	}

	cancelled, err := s.facade.GetTask().Cancel(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if !cancelled {
		return nil, errors.NewError().WithKind(errors.KindInvalidRequest).
			WithMessagef("task %s is already %s", taskID, task.Status)
	}

	if err := s.queue.Remove(ctx, taskID); err != nil {
		log.WithError(err).Warnf("failed to drop cancelled task %s from queue", taskID)
	}
	if _, err := s.billing.RefundTask(ctx, task); err != nil {
		log.WithError(err).Errorf("failed to refund cancelled task %s", taskID)
	}

	log.Infof("task %s cancelled by user %s", taskID, userID)
	task.Status = model.TaskStatusCancelled
	return task.ToInfo(), nil
}

// Stats reports the dispatch backlog.
func (s *Service) Stats(ctx context.Context) (*QueueStats, error) {
	pending, err := s.queue.Length(ctx)
	if err != nil {
		return nil, err
	}
	processing, err := s.queue.ProcessingCount(ctx)
	if err != nil {
		return nil, err
	}
	return &QueueStats{Pending: pending, Processing: processing}, nil
}
