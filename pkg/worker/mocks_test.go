package worker

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/formy-ai/formy/pkg/database"
	"github.com/formy-ai/formy/pkg/model"
	"github.com/formy-ai/formy/pkg/storage"
	"gorm.io/gorm"
)

// memFacade backs both sub-facades with maps, keeping the conditional update
// semantics the worker relies on: absorbing terminal states and the one-shot
// refund marker.
type memFacade struct {
	mu    sync.Mutex
	users map[string]*model.User
	tasks map[string]*model.Task

	completeErrs int // inject N failures before Complete succeeds
	failErrs     int
}

func newMemFacade() *memFacade {
	return &memFacade{users: map[string]*model.User{}, tasks: map[string]*model.Task{}}
}

func (f *memFacade) GetUser() database.UserFacadeInterface { return (*memUserFacade)(f) }
func (f *memFacade) GetTask() database.TaskFacadeInterface { return (*memTaskFacade)(f) }

type memUserFacade memFacade

func (f *memUserFacade) Create(_ context.Context, u *model.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[u.UserID] = u
	return nil
}

func (f *memUserFacade) GetByID(_ context.Context, id string) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u, ok := f.users[id]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, nil
}

func (f *memUserFacade) GetByEmail(context.Context, string) (*model.User, error) { return nil, nil }
func (f *memUserFacade) UpdateLastLogin(context.Context, string) error           { return nil }
func (f *memUserFacade) SetPassword(context.Context, string, string) error       { return nil }

func (f *memUserFacade) CheckAndDebit(_ context.Context, id string, amount int) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok || u.CurrentCredits < amount {
		return false, nil
	}
	u.CurrentCredits -= amount
	u.TotalCreditsUsed += amount
	return true, nil
}

func (f *memUserFacade) AddCredits(_ context.Context, id string, amount int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return database.ErrUserNotFound
	}
	u.CurrentCredits += amount
	return nil
}

func (f *memUserFacade) RefundTask(_ context.Context, userID, taskID string, amount int) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[taskID]
	if !ok || t.Refunded {
		return false, nil
	}
	t.Refunded = true
	if u, ok := f.users[userID]; ok {
		u.CurrentCredits += amount
	}
	return true, nil
}

func (f *memUserFacade) RenewPlanIfDue(context.Context, string, int, time.Time) (bool, error) {
	return false, nil
}
func (f *memUserFacade) GrantSignupBonus(context.Context, string, int) (bool, error) {
	return false, nil
}
func (f *memUserFacade) ApplyWhitelistFloor(context.Context, string, int) (bool, error) {
	return false, nil
}
func (f *memUserFacade) SetPlan(context.Context, string, string, time.Time) error { return nil }
func (f *memUserFacade) WithDB(*gorm.DB) database.UserFacadeInterface             { return f }

type memTaskFacade memFacade

func (f *memTaskFacade) Create(_ context.Context, t *model.Task) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if t.Status == "" {
		t.Status = model.TaskStatusPending
	}
	cp := *t
	f.tasks[t.TaskID] = &cp
	return nil
}

func (f *memTaskFacade) Get(_ context.Context, id string) (*model.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if t, ok := f.tasks[id]; ok {
		cp := *t
		return &cp, nil
	}
	return nil, nil
}

func (f *memTaskFacade) MarkProcessing(_ context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[id]
	if !ok || t.Status != model.TaskStatusPending {
		return false, nil
	}
	t.Status = model.TaskStatusProcessing
	t.CurrentStep = "claimed"
	t.UpdatedAt = time.Now()
	return true, nil
}

func (f *memTaskFacade) UpdateProgress(_ context.Context, id string, progress int, step string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[id]
	if !ok || t.Status.IsTerminal() {
		return nil
	}
	t.Progress = progress
	if step != "" {
		t.CurrentStep = step
	}
	t.UpdatedAt = time.Now()
	return nil
}

func (f *memTaskFacade) Complete(_ context.Context, id string, result json.RawMessage, elapsed float64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.completeErrs > 0 {
		f.completeErrs--
		return false, errors.New("transient write failure")
	}
	t, ok := f.tasks[id]
	if !ok || t.Status.IsTerminal() {
		return false, nil
	}
	now := time.Now()
	t.Status = model.TaskStatusDone
	t.Progress = 100
	t.Result = result
	t.CompletedAt = &now
	t.ProcessingTime = elapsed
	return true, nil
}

func (f *memTaskFacade) Fail(_ context.Context, id string, taskErr json.RawMessage) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failErrs > 0 {
		f.failErrs--
		return false, errors.New("transient write failure")
	}
	t, ok := f.tasks[id]
	if !ok || t.Status.IsTerminal() {
		return false, nil
	}
	now := time.Now()
	t.Status = model.TaskStatusFailed
	t.Error = taskErr
	t.FailedAt = &now
	return true, nil
}

func (f *memTaskFacade) Cancel(_ context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[id]
	if !ok || t.Status.IsTerminal() {
		return false, nil
	}
	t.Status = model.TaskStatusCancelled
	return true, nil
}

func (f *memTaskFacade) List(context.Context, *database.TaskFilter) ([]*model.Task, error) {
	return nil, nil
}
func (f *memTaskFacade) Count(context.Context, *database.TaskFilter) (int64, error) { return 0, nil }

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

// memQueue tracks pending ids, the processing set and the transient hash.
type memQueue struct {
	mu         sync.Mutex
	pending    []string
	processing map[string]bool
	data       map[string]map[string]string
}

func newMemQueue() *memQueue {
	return &memQueue{processing: map[string]bool{}, data: map[string]map[string]string{}}
}

func (q *memQueue) Push(_ context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = append(q.pending, id)
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

func (q *memQueue) MarkComplete(_ context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.processing, id)
	return nil
}

func (q *memQueue) Remove(context.Context, string) error { return nil }

func (q *memQueue) Requeue(_ context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.processing, id)
	q.pending = append(q.pending, id)
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

func (q *memQueue) SetTaskData(_ context.Context, id string, fields map[string]interface{}) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	m := map[string]string{}
	for k, v := range fields {
		if s, ok := v.(string); ok {
			m[k] = s
		}
	}
	q.data[id] = m
	return nil
}

func (q *memQueue) GetTaskData(_ context.Context, id string) (map[string]string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.data[id], nil
}

func (q *memQueue) DeleteTaskData(_ context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.data, id)
	return nil
}

// memStore keeps artifacts in a map.
type memStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	swept   int
}

func newMemStore() *memStore {
	return &memStore{objects: map[string][]byte{}}
}

func (s *memStore) Save(_ context.Context, category storage.Category, name string, r io.Reader, _ int64, _ string) (*storage.StoredObject, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	key := string(category) + "/" + name
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = data
	return &storage.StoredObject{Key: key, URL: "/files/" + key, Size: int64(len(data))}, nil
}

func (s *memStore) Load(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[key]
	if !ok {
		return nil, errors.New("no such object")
	}
	return data, nil
}

func (s *memStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	return nil
}

func (s *memStore) Sweep(context.Context, time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.swept++
	return 0, nil
}
