package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

const (
	TypeReconcileMilestone = "reconcile:milestone"
	QueueReconcile         = "reconcile"
)

// reconcileDelay gives the escrow indexer time to observe the transaction
// that triggered the task.
const reconcileDelay = 5 * time.Second

type ReconcilePayload struct {
	DealID     uuid.UUID `json:"deal_id"`
	ContractID string    `json:"contract_id"`
	Index      int       `json:"index"`
}

// TaskID keys a reconciliation by contract and milestone so that at most one
// task per milestone is waiting at a time.
func TaskID(contractID string, index int) string {
	return fmt.Sprintf("reconcile:%s:%d", contractID, index)
}

// FollowUpTaskID keys the single extra task queued while the milestone's
// task is already running.
func FollowUpTaskID(contractID string, index int) string {
	return TaskID(contractID, index) + ":next"
}

// NewReconcileTask builds the task under TaskID; opts may override it.
func NewReconcileTask(p ReconcilePayload, maxRetry int, opts ...asynq.Option) (*asynq.Task, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	base := []asynq.Option{
		asynq.TaskID(TaskID(p.ContractID, p.Index)),
		asynq.MaxRetry(maxRetry),
		asynq.Queue(QueueReconcile),
		asynq.ProcessIn(reconcileDelay),
	}
	return asynq.NewTask(TypeReconcileMilestone, data, append(base, opts...)...), nil
}

// RetryDelay backs off exponentially from 5s, capped at 10 minutes.
func RetryDelay(n int, _ error, _ *asynq.Task) time.Duration {
	if n > 7 {
		return 10 * time.Minute
	}
	d := 5 * time.Second << n
	if d > 10*time.Minute {
		return 10 * time.Minute
	}
	return d
}

type Enqueuer struct {
	client    *asynq.Client
	inspector *asynq.Inspector
	maxRetry  int
	log       *zap.Logger
}

func NewEnqueuer(client *asynq.Client, inspector *asynq.Inspector, maxRetry int, log *zap.Logger) *Enqueuer {
	return &Enqueuer{client: client, inspector: inspector, maxRetry: maxRetry, log: log}
}

// EnqueueReconcile schedules a repair of one milestone. A task still waiting
// for the same milestone is enough: it reads the mirror when it runs. An
// archived task is replaced, and a running one gets a follow-up so that a
// divergence seen mid-run is still repaired.
func (e *Enqueuer) EnqueueReconcile(ctx context.Context, dealID uuid.UUID, contractID string, index int) error {
	p := ReconcilePayload{DealID: dealID, ContractID: contractID, Index: index}
	running, err := e.enqueue(ctx, p, TaskID(contractID, index))
	if err != nil || !running {
		return err
	}
	_, err = e.enqueue(ctx, p, FollowUpTaskID(contractID, index))
	return err
}

// enqueue adds the task under id. When the id is taken it reports whether
// the holder is running, replacing it first if it is archived or completed.
func (e *Enqueuer) enqueue(ctx context.Context, p ReconcilePayload, id string) (bool, error) {
	task, err := NewReconcileTask(p, e.maxRetry, asynq.TaskID(id))
	if err != nil {
		return false, err
	}
	info, err := e.client.EnqueueContext(ctx, task)
	if err == nil {
		e.log.Debug("reconcile queued", zap.String("task_id", info.ID), zap.String("queue", info.Queue))
		return false, nil
	}
	if !errors.Is(err, asynq.ErrTaskIDConflict) {
		return false, fmt.Errorf("enqueue reconcile: %w", err)
	}

	held, err := e.inspector.GetTaskInfo(QueueReconcile, id)
	switch {
	case errors.Is(err, asynq.ErrTaskNotFound):
		// finished between the two calls
	case err != nil:
		return false, fmt.Errorf("inspect reconcile task: %w", err)
	case held.State == asynq.TaskStateArchived || held.State == asynq.TaskStateCompleted:
		if err := e.inspector.DeleteTask(QueueReconcile, id); err != nil && !errors.Is(err, asynq.ErrTaskNotFound) {
			return false, fmt.Errorf("drop %s reconcile task: %w", held.State, err)
		}
	default:
		e.log.Debug("reconcile already queued", zap.String("task_id", id), zap.String("state", held.State.String()))
		return held.State == asynq.TaskStateActive, nil
	}

	if _, err := e.client.EnqueueContext(ctx, task); err != nil {
		return false, fmt.Errorf("requeue reconcile: %w", err)
	}
	e.log.Info("reconcile requeued", zap.String("task_id", id))
	return false, nil
}

// MilestoneReconciler is implemented by services.Reconciler.
type MilestoneReconciler interface {
	ReconcileMilestone(ctx context.Context, dealID uuid.UUID, index int) (string, error)
}

type Handler struct {
	reconciler MilestoneReconciler
	log        *zap.Logger
}

func NewHandler(reconciler MilestoneReconciler, log *zap.Logger) *Handler {
	return &Handler{reconciler: reconciler, log: log}
}

func (h *Handler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var p ReconcilePayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("decode payload: %v: %w", err, asynq.SkipRetry)
	}

	result, err := h.reconciler.ReconcileMilestone(ctx, p.DealID, p.Index)
	if err != nil {
		h.log.Warn("reconcile failed, will retry",
			zap.String("deal_id", p.DealID.String()),
			zap.Int("index", p.Index),
			zap.Error(err),
		)
		return err
	}
	h.log.Info("reconcile done",
		zap.String("deal_id", p.DealID.String()),
		zap.Int("index", p.Index),
		zap.String("result", result),
	)
	return nil
}

func NewServeMux(h *Handler) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.Handle(TypeReconcileMilestone, h)
	return mux
}

func NewServer(redisOpt asynq.RedisConnOpt, concurrency int, log *zap.Logger) *asynq.Server {
	if concurrency <= 0 {
		concurrency = 5
	}
	return asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			QueueReconcile: 1,
		},
		RetryDelayFunc: RetryDelay,
		Logger:         log.Sugar(),
	})
}
