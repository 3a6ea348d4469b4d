package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/formy-ai/formy/pkg/billing"
	"github.com/formy-ai/formy/pkg/config"
	"github.com/formy-ai/formy/pkg/database"
	"github.com/formy-ai/formy/pkg/errors"
	"github.com/formy-ai/formy/pkg/logger/log"
	"github.com/formy-ai/formy/pkg/model"
	"github.com/formy-ai/formy/pkg/pipeline"
	"github.com/formy-ai/formy/pkg/queue"
)

// terminalWriteDelays spaces retries of terminal status writes. A write that
// keeps failing after these leaves the task to the janitor.
var terminalWriteDelays = []time.Duration{2 * time.Second, 4 * time.Second, 6 * time.Second}

// Worker pops task ids off the queue and drives them through their
// pipeline. It never exits because a task failed; only Stop ends the loop.
type Worker struct {
	facade    database.FacadeInterface
	queue     queue.Queue
	billing   *billing.Service
	pipelines *pipeline.Factory
	conf      config.WorkerConfig

	stopCh chan struct{}
	doneCh chan struct{}
}

// New creates a worker.
func New(facade database.FacadeInterface, q queue.Queue, b *billing.Service, factory *pipeline.Factory, conf config.WorkerConfig) *Worker {
	if conf.PopTimeout <= 0 {
		conf.PopTimeout = 5 * time.Second
	}
	return &Worker{
		facade:    facade,
		queue:     q,
		billing:   b,
		pipelines: factory,
		conf:      conf,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// Start launches the pop loop.
func (w *Worker) Start() {
	go w.run()
	log.Info("worker started")
}

// Stop ends the loop after the in-flight task finishes.
func (w *Worker) Stop() {
	close(w.stopCh)
	<-w.doneCh
	log.Info("worker stopped")
}

func (w *Worker) run() {
	defer close(w.doneCh)
	ctx := context.Background()
	for {
		select {
		case <-w.stopCh:
			return
		default:
		}

		taskID, err := w.queue.Pop(ctx, w.conf.PopTimeout)
		if err != nil {
			log.WithError(err).Error("queue pop failed")
			time.Sleep(time.Second)
			continue
		}
		if taskID == "" {
			// Idle wait expired, not an error.
			continue
		}
		w.handle(ctx, taskID)
	}
}

// handle processes one claimed task with panic isolation.
func (w *Worker) handle(ctx context.Context, taskID string) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("panic while processing task %s: %v", taskID, r)
			w.failTask(ctx, taskID, errors.NewError().WithKind(errors.KindInternalError).
				WithMessagef("worker panic: %v", r))
		}
		if err := w.queue.MarkComplete(ctx, taskID); err != nil {
			log.WithError(err).Warnf("failed to release task %s from processing set", taskID)
		}
	}()

	task, err := w.facade.GetTask().Get(ctx, taskID)
	if err != nil {
		log.WithError(err).Errorf("task %s lookup failed", taskID)
		return
	}
	if task == nil {
		log.Warnf("task %s popped but has no durable row", taskID)
		return
	}
	if task.Status.IsTerminal() {
		// Cancelled (or otherwise finished) while queued.
		log.Infof("task %s already %s, skipping", taskID, task.Status)
		return
	}

	claimed, err := w.facade.GetTask().MarkProcessing(ctx, taskID)
	if err != nil {
		log.WithError(err).Errorf("task %s claim failed", taskID)
		return
	}
	if !claimed && task.Status != model.TaskStatusProcessing {
		log.Infof("task %s no longer pending, skipping", taskID)
		return
	}

	pipe, err := w.pipelines.For(task.Mode)
	if err != nil {
		w.failTaskRow(ctx, task, err)
		return
	}

	start := time.Now()
	progress := func(p int, step string) {
		if err := w.facade.GetTask().UpdateProgress(ctx, taskID, p, step); err != nil {
			log.WithError(err).Warnf("progress update failed for task %s", taskID)
		}
	}

	result, err := pipe.Run(ctx, task, progress)
	if err != nil {
		log.WithError(err).Errorf("task %s failed", taskID)
		w.failTaskRow(ctx, task, err)
		return
	}
	w.completeTask(ctx, task, result, time.Since(start).Seconds())
}

// withTerminalRetry retries a terminal status write with fixed spacing so a
// transient connection error does not strand a finished task.
func (w *Worker) withTerminalRetry(fn func() (bool, error)) (bool, error) {
	var (
		applied bool
		err     error
	)
	for attempt := 0; ; attempt++ {
		applied, err = fn()
		if err == nil || attempt >= len(terminalWriteDelays) {
			return applied, err
		}
		log.WithError(err).Warnf("terminal write failed, retrying in %s", terminalWriteDelays[attempt])
		time.Sleep(terminalWriteDelays[attempt])
	}
}

// completeTask commits the done state. The store's terminal guard makes a
// concurrent cancel win: an unapplied write means the task finished some
// other way and the result is dropped.
func (w *Worker) completeTask(ctx context.Context, task *model.Task, result *model.TaskResult, elapsed float64) {
	payload, err := json.Marshal(result)
	if err != nil {
		w.failTaskRow(ctx, task, errors.Wrap(err, errors.KindResultSaveFailed, "result not serializable"))
		return
	}

	applied, err := w.withTerminalRetry(func() (bool, error) {
		return w.facade.GetTask().Complete(ctx, task.TaskID, payload, elapsed)
	})
	if err != nil {
		log.WithError(err).Errorf("task %s done-write failed permanently", task.TaskID)
		return
	}
	if !applied {
		log.Infof("task %s reached a terminal state concurrently, result dropped", task.TaskID)
		return
	}
	if err := w.queue.DeleteTaskData(ctx, task.TaskID); err != nil {
		log.WithError(err).Warnf("aux data cleanup failed for task %s", task.TaskID)
	}
	log.Infof("task %s completed in %.1fs", task.TaskID, elapsed)
}

// failTaskRow commits the failed state and refunds the pre-charge.
func (w *Worker) failTaskRow(ctx context.Context, task *model.Task, cause error) {
	kind := errors.Kind(cause)
	taskErr, _ := json.Marshal(model.TaskError{
		Code:    kind,
		Message: cause.Error(),
	})

	applied, err := w.withTerminalRetry(func() (bool, error) {
		return w.facade.GetTask().Fail(ctx, task.TaskID, taskErr)
	})
	if err != nil {
		log.WithError(err).Errorf("task %s fail-write failed permanently", task.TaskID)
		return
	}
	if !applied {
		log.Infof("task %s reached a terminal state concurrently", task.TaskID)
		return
	}
	if _, err := w.billing.RefundTask(ctx, task); err != nil {
		log.WithError(err).Errorf("refund failed for task %s", task.TaskID)
	}
}

// failTask is the panic path: it has only the id, so it re-reads the row.
func (w *Worker) failTask(ctx context.Context, taskID string, cause error) {
	task, err := w.facade.GetTask().Get(ctx, taskID)
	if err != nil || task == nil {
		return
	}
	w.failTaskRow(ctx, task, cause)
}
