package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/formy-ai/formy/pkg/database"
	"github.com/formy-ai/formy/pkg/model"
	"gorm.io/gorm"
)

// memUserFacade is an in-memory credit ledger honoring the same conditional
// update semantics as the real facade.
type memUserFacade struct {
	mu    sync.Mutex
	users map[string]*model.User
	tasks *memTaskFacade
}

func newMemUserFacade(tasks *memTaskFacade) *memUserFacade {
	return &memUserFacade{users: map[string]*model.User{}, tasks: tasks}
}

func (f *memUserFacade) Create(_ context.Context, user *model.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[user.UserID] = user
	return nil
}

func (f *memUserFacade) GetByID(_ context.Context, userID string) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u, ok := f.users[userID]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, nil
}

func (f *memUserFacade) GetByEmail(_ context.Context, email string) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *memUserFacade) UpdateLastLogin(context.Context, string) error { return nil }

func (f *memUserFacade) SetPassword(_ context.Context, userID, hash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[userID]
	if !ok {
		return database.ErrUserNotFound
	}
	u.PasswordHash = hash
	u.HasPassword = true
	return nil
}

func (f *memUserFacade) CheckAndDebit(_ context.Context, userID string, amount int) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[userID]
	if !ok || u.CurrentCredits < amount {
		return false, nil
	}
	u.CurrentCredits -= amount
	u.TotalCreditsUsed += amount
	return true, nil
}

func (f *memUserFacade) AddCredits(_ context.Context, userID string, amount int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[userID]
	if !ok {
		return database.ErrUserNotFound
	}
	u.CurrentCredits += amount
	return nil
}

func (f *memUserFacade) RefundTask(_ context.Context, userID, taskID string, amount int) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	task, ok := f.tasks.tasks[taskID]
	if !ok || task.Refunded {
		return false, nil
	}
	task.Refunded = true
	u, ok := f.users[userID]
	if !ok {
		return false, database.ErrUserNotFound
	}
	u.CurrentCredits += amount
	u.TotalCreditsUsed -= amount
	if u.TotalCreditsUsed < 0 {
		u.TotalCreditsUsed = 0
	}
	return true, nil
}

func (f *memUserFacade) RenewPlanIfDue(_ context.Context, userID string, allowance int, nextRenewAt time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[userID]
	if !ok || u.PlanRenewAt == nil || u.PlanRenewAt.After(time.Now()) {
		return false, nil
	}
	u.CurrentCredits = allowance
	u.PlanRenewAt = &nextRenewAt
	return true, nil
}

func (f *memUserFacade) GrantSignupBonus(_ context.Context, userID string, amount int) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[userID]
	if !ok || u.SignupBonusGranted {
		return false, nil
	}
	u.SignupBonusGranted = true
	u.CurrentCredits += amount
	return true, nil
}

func (f *memUserFacade) ApplyWhitelistFloor(_ context.Context, userID string, floor int) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[userID]
	if !ok || u.SignupBonusGranted {
		return false, nil
	}
	u.SignupBonusGranted = true
	if u.CurrentCredits < floor {
		u.CurrentCredits = floor
	}
	return true, nil
}

func (f *memUserFacade) SetPlan(_ context.Context, userID, planID string, renewAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[userID]
	if !ok {
		return database.ErrUserNotFound
	}
	u.CurrentPlanID = planID
	u.PlanRenewAt = &renewAt
	return nil
}

func (f *memUserFacade) WithDB(*gorm.DB) database.UserFacadeInterface { return f }

// memTaskFacade is an in-memory task store with absorbing terminal states.
type memTaskFacade struct {
	mu        sync.Mutex
	tasks     map[string]*model.Task
	createErr error
}

func newMemTaskFacade() *memTaskFacade {
	return &memTaskFacade{tasks: map[string]*model.Task{}}
}

func (f *memTaskFacade) Create(_ context.Context, task *model.Task) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	if task.Status == "" {
		task.Status = model.TaskStatusPending
	}
	task.CreatedAt = time.Now()
	cp := *task
	f.tasks[task.TaskID] = &cp
	return nil
}

func (f *memTaskFacade) Get(_ context.Context, taskID string) (*model.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if t, ok := f.tasks[taskID]; ok {
		cp := *t
		return &cp, nil
	}
	return nil, nil
}

func (f *memTaskFacade) MarkProcessing(_ context.Context, taskID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[taskID]
	if !ok || t.Status != model.TaskStatusPending {
		return false, nil
	}
	t.Status = model.TaskStatusProcessing
	t.Progress = 0
	return true, nil
}

func (f *memTaskFacade) UpdateProgress(_ context.Context, taskID string, progress int, step string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[taskID]
	if !ok || t.Status.IsTerminal() {
		return nil
	}
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}
	t.Progress = progress
	if step != "" {
		t.CurrentStep = step
	}
	return nil
}

func (f *memTaskFacade) Complete(_ context.Context, taskID string, result json.RawMessage, processingTime float64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[taskID]
	if !ok || t.Status.IsTerminal() {
		return false, nil
	}
	now := time.Now()
	t.Status = model.TaskStatusDone
	t.Progress = 100
	t.Result = result
	t.CompletedAt = &now
	t.ProcessingTime = processingTime
	return true, nil
}

func (f *memTaskFacade) Fail(_ context.Context, taskID string, taskErr json.RawMessage) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[taskID]
	if !ok || t.Status.IsTerminal() {
		return false, nil
	}
	now := time.Now()
	t.Status = model.TaskStatusFailed
	t.Error = taskErr
	t.FailedAt = &now
	return true, nil
}

func (f *memTaskFacade) Cancel(_ context.Context, taskID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[taskID]
	if !ok || t.Status.IsTerminal() {
		return false, nil
	}
	t.Status = model.TaskStatusCancelled
	return true, nil
}

func (f *memTaskFacade) match(t *model.Task, filter *database.TaskFilter) bool {
	if t.UserID != filter.UserID {
		return false
	}
	if filter.Status != nil && t.Status != *filter.Status {
		return false
	}
	if len(filter.Statuses) > 0 {
		found := false
		for _, s := range filter.Statuses {
			if t.Status == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if filter.Mode != nil && t.Mode != *filter.Mode {
		return false
	}
	return true
}

func (f *memTaskFacade) List(_ context.Context, filter *database.TaskFilter) ([]*model.Task, error) {
	if filter == nil || filter.UserID == "" {
		return nil, errors.New("task listing requires a user id")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.Task
	for _, t := range f.tasks {
		if f.match(t, filter) {
			cp := *t
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return nil, nil
		}
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (f *memTaskFacade) Count(_ context.Context, filter *database.TaskFilter) (int64, error) {
	if filter == nil || filter.UserID == "" {
		return 0, errors.New("task counting requires a user id")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, t := range f.tasks {
		if f.match(t, filter) {
			n++
		}
	}
	return n, nil
}

func (f *memTaskFacade) ListStale(_ context.Context, cutoff time.Time) ([]*model.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.Task
	for _, t := range f.tasks {
		if t.Status == model.TaskStatusProcessing && t.UpdatedAt.Before(cutoff) {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *memTaskFacade) DeleteOld(_ context.Context, cutoff time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for id, t := range f.tasks {
		if t.Status.IsTerminal() && t.UpdatedAt.Before(cutoff) {
			delete(f.tasks, id)
			n++
		}
	}
	return n, nil
}

func (f *memTaskFacade) WithDB(*gorm.DB) database.TaskFacadeInterface { return f }

// memQueue is an in-memory Queue with optional push failure injection.
type memQueue struct {
	mu         sync.Mutex
	pending    []string
	processing map[string]bool
	data       map[string]map[string]string
	pushErr    error
}

func newMemQueue() *memQueue {
	return &memQueue{processing: map[string]bool{}, data: map[string]map[string]string{}}
}

func (q *memQueue) Push(_ context.Context, taskID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.pushErr != nil {
		return q.pushErr
	}
	q.pending = append(q.pending, taskID)
	return nil
}

func (q *memQueue) Pop(_ context.Context, _ time.Duration) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return "", nil
	}
	id := q.pending[0]
	q.pending = q.pending[1:]
	q.processing[id] = true
	return id, nil
}

func (q *memQueue) MarkComplete(_ context.Context, taskID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.processing, taskID)
	return nil
}

func (q *memQueue) Remove(_ context.Context, taskID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, id := range q.pending {
		if id == taskID {
			q.pending = append(q.pending[:i], q.pending[i+1:]...)
			break
		}
	}
	return nil
}

func (q *memQueue) Requeue(_ context.Context, taskID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.processing, taskID)
	q.pending = append(q.pending, taskID)
	return nil
}

func (q *memQueue) Length(context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.pending)), nil
}

func (q *memQueue) ProcessingCount(context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.processing)), nil
}

func (q *memQueue) SetTaskData(_ context.Context, taskID string, fields map[string]interface{}) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	m := map[string]string{}
	for k, v := range fields {
		if s, ok := v.(string); ok {
			m[k] = s
		}
	}
	q.data[taskID] = m
	return nil
}

func (q *memQueue) GetTaskData(_ context.Context, taskID string) (map[string]string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.data[taskID], nil
}

func (q *memQueue) DeleteTaskData(_ context.Context, taskID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.data, taskID)
	return nil
}
