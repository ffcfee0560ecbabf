package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-status-api/internal/dto"
	"github.com/noah-isme/sma-status-api/pkg/jobs"
)

const cascadeJobType = "status.cascade"

// CascadeHandler re-applies a cascade described by task.
type CascadeHandler func(ctx context.Context, task dto.CascadeTask) error

// ReconcilerConfig configures the retry queue for incomplete cascades.
type ReconcilerConfig struct {
	Workers    int
	MaxRetries int
	RetryDelay time.Duration
}

// CascadeReconciler retries cascades that failed after their trigger committed.
type CascadeReconciler struct {
	cfg     ReconcilerConfig
	logger  *zap.Logger
	metrics *MetricsService
	queue   *jobs.Queue
}

// NewCascadeReconciler constructs an idle reconciler; call Start to begin processing.
func NewCascadeReconciler(cfg ReconcilerConfig, metrics *MetricsService, logger *zap.Logger) *CascadeReconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CascadeReconciler{cfg: cfg, logger: logger, metrics: metrics}
}

// Start launches the workers with the given handler.
func (r *CascadeReconciler) Start(ctx context.Context, handler CascadeHandler) {
	r.queue = jobs.NewQueue("status-cascade", func(ctx context.Context, job jobs.Job) error {
		task, ok := job.Payload.(dto.CascadeTask)
		if !ok {
			return fmt.Errorf("unexpected cascade payload %T", job.Payload)
		}
		err := handler(ctx, task)
		r.metrics.RecordReconciliation(err == nil)
		if err == nil {
			r.logger.Info("cascade reconciled",
				zap.String("subject_id", task.Transition.SubjectID),
				zap.String("trigger_id", task.Transition.TriggerID),
				zap.Int("attempt", job.Attempt+1))
		}
		return err
	}, jobs.QueueConfig{
		Workers:    r.cfg.Workers,
		MaxRetries: r.cfg.MaxRetries,
		RetryDelay: r.cfg.RetryDelay,
		Logger:     r.logger,
		DeadLetter: func(job jobs.Job, err error) {
			r.logger.Error("cascade abandoned after retries", zap.String("job_id", job.ID), zap.Any("task", job.Payload), zap.Error(err))
		},
	})
	r.queue.Start(ctx)
}

// Stop drains the workers.
func (r *CascadeReconciler) Stop() {
	if r.queue != nil {
		r.queue.Stop()
	}
}

// Enqueue schedules task. A task for the same trigger and direction already waiting is coalesced.
func (r *CascadeReconciler) Enqueue(task dto.CascadeTask) error {
	if r.queue == nil {
		return fmt.Errorf("cascade reconciler not started")
	}
	key := fmt.Sprintf("%s:%s:%s", task.Transition.SubjectID, task.Transition.TriggerID, task.Transition.Direction())
	return r.queue.Enqueue(jobs.Job{
		ID:      uuid.NewString(),
		Key:     key,
		Type:    cascadeJobType,
		Payload: task,
	})
}

// Pending reports how many cascades await reconciliation.
func (r *CascadeReconciler) Pending() int {
	if r.queue == nil {
		return 0
	}
	return r.queue.Pending()
}
