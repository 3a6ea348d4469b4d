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
	"github.com/formy-ai/formy/pkg/queue"
	"github.com/formy-ai/formy/pkg/storage"
)

// retentionSweepInterval spaces the artifact and row retention sweeps.
const retentionSweepInterval = time.Hour

// Janitor fails tasks whose worker died mid-flight and sweeps expired
// artifacts. Stale means processing with no progress write for longer than
// the threshold, which must exceed the engine poll deadline.
type Janitor struct {
	facade  database.FacadeInterface
	queue   queue.Queue
	billing *billing.Service
	store   storage.ObjectStore
	conf    config.WorkerConfig

	retention time.Duration
	lastSweep time.Time

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewJanitor creates the janitor.
func NewJanitor(facade database.FacadeInterface, q queue.Queue, b *billing.Service, store storage.ObjectStore, conf config.WorkerConfig, retentionDays int) *Janitor {
	if conf.JanitorPeriod <= 0 {
		conf.JanitorPeriod = time.Minute
	}
	if conf.StaleThreshold <= 0 {
		conf.StaleThreshold = 10 * time.Minute
	}
	retention := time.Duration(retentionDays) * 24 * time.Hour
	if retention <= 0 {
		retention = 7 * 24 * time.Hour
	}
	return &Janitor{
		facade:    facade,
		queue:     q,
		billing:   b,
		store:     store,
		conf:      conf,
		retention: retention,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// Start launches the background loop.
func (j *Janitor) Start() {
	go j.run()
	log.Infof("janitor started: stale threshold %s, period %s", j.conf.StaleThreshold, j.conf.JanitorPeriod)
}

// Stop ends the loop.
func (j *Janitor) Stop() {
	close(j.stopCh)
	<-j.doneCh
	log.Info("janitor stopped")
}

func (j *Janitor) run() {
	defer close(j.doneCh)
	ticker := time.NewTicker(j.conf.JanitorPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-j.stopCh:
			return
		case <-ticker.C:
			ctx := context.Background()
			j.reapStale(ctx)
			if time.Since(j.lastSweep) >= retentionSweepInterval {
				j.sweep(ctx)
				j.lastSweep = time.Now()
			}
		}
	}
}

// reapStale fails processing tasks that outlived the threshold and refunds
// them. The terminal guard keeps this harmless when the worker is merely
// slow and finishes later.
func (j *Janitor) reapStale(ctx context.Context) {
	cutoff := time.Now().Add(-j.conf.StaleThreshold)
	stale, err := j.facade.GetTask().ListStale(ctx, cutoff)
	if err != nil {
		log.WithError(err).Error("stale task scan failed")
		return
	}
	for _, task := range stale {
		taskErr, _ := json.Marshal(model.TaskError{
			Code:    errors.KindEngineTimeout,
			Message: "task abandoned by its worker",
		})
		applied, err := j.facade.GetTask().Fail(ctx, task.TaskID, taskErr)
		if err != nil {
			log.WithError(err).Errorf("failed to reap stale task %s", task.TaskID)
			continue
		}
		if !applied {
			continue
		}
		if _, err := j.billing.RefundTask(ctx, task); err != nil {
			log.WithError(err).Errorf("refund failed for stale task %s", task.TaskID)
		}
		if err := j.queue.MarkComplete(ctx, task.TaskID); err != nil {
			log.WithError(err).Warnf("failed to release stale task %s from processing set", task.TaskID)
		}
		log.Warnf("reaped stale task %s (last update before %s)", task.TaskID, cutoff.Format(time.RFC3339))
	}
}

// sweep removes expired artifacts and terminal rows past retention.
func (j *Janitor) sweep(ctx context.Context) {
	if j.store != nil {
		if removed, err := j.store.Sweep(ctx, j.retention); err != nil {
			log.WithError(err).Warn("artifact retention sweep failed")
		} else if removed > 0 {
			log.Infof("retention sweep removed %d artifacts", removed)
		}
	}
	cutoff := time.Now().Add(-j.retention)
	if removed, err := j.facade.GetTask().DeleteOld(ctx, cutoff); err != nil {
		log.WithError(err).Warn("task retention sweep failed")
	} else if removed > 0 {
		log.Infof("retention sweep removed %d task rows", removed)
	}
}
