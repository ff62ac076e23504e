package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewReconcileTask(t *testing.T) {
	p := ReconcilePayload{DealID: uuid.New(), ContractID: "CESCROW", Index: 2}
	task, err := NewReconcileTask(p, 3)
	require.NoError(t, err)

	assert.Equal(t, TypeReconcileMilestone, task.Type())
	var got ReconcilePayload
	require.NoError(t, json.Unmarshal(task.Payload(), &got))
	assert.Equal(t, p, got)
	assert.Equal(t, "reconcile:CESCROW:2", TaskID(p.ContractID, p.Index))
	assert.Equal(t, "reconcile:CESCROW:2:next", FollowUpTaskID(p.ContractID, p.Index))
}

func TestRetryDelay(t *testing.T) {
	assert.Equal(t, 5*time.Second, RetryDelay(0, nil, nil))
	assert.Equal(t, 40*time.Second, RetryDelay(3, nil, nil))
	assert.Equal(t, 10*time.Minute, RetryDelay(7, nil, nil))
	assert.Equal(t, 10*time.Minute, RetryDelay(30, nil, nil))
}

type fakeReconciler struct {
	result string
	err    error
	calls  int
}

func (f *fakeReconciler) ReconcileMilestone(_ context.Context, _ uuid.UUID, _ int) (string, error) {
	f.calls++
	return f.result, f.err
}

func TestHandlerProcessTask(t *testing.T) {
	task, err := NewReconcileTask(ReconcilePayload{DealID: uuid.New(), ContractID: "C", Index: 0}, 3)
	require.NoError(t, err)

	ok := &fakeReconciler{result: "repaired"}
	assert.NoError(t, NewHandler(ok, zap.NewNop()).ProcessTask(context.Background(), task))
	assert.Equal(t, 1, ok.calls)

	failing := &fakeReconciler{err: errors.New("mirror unavailable")}
	err = NewHandler(failing, zap.NewNop()).ProcessTask(context.Background(), task)
	assert.Error(t, err)
	assert.False(t, errors.Is(err, asynq.SkipRetry), "transient failures must be retried")

	bad := asynq.NewTask(TypeReconcileMilestone, []byte("{not json"))
	err = NewHandler(ok, zap.NewNop()).ProcessTask(context.Background(), bad)
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

func newTestEnqueuer(t *testing.T) (*Enqueuer, *asynq.Client, *asynq.Inspector) {
	t.Helper()
	mr := miniredis.RunT(t)
	opt := asynq.RedisClientOpt{Addr: mr.Addr()}
	client := asynq.NewClient(opt)
	inspector := asynq.NewInspector(opt)
	t.Cleanup(func() {
		_ = inspector.Close()
		_ = client.Close()
	})
	return NewEnqueuer(client, inspector, 5, zap.NewNop()), client, inspector
}

func TestEnqueueDeduplicatesByMilestone(t *testing.T) {
	e, client, _ := newTestEnqueuer(t)
	dealID := uuid.New()
	ctx := context.Background()

	require.NoError(t, e.EnqueueReconcile(ctx, dealID, "CESCROW", 1))
	// same milestone again: the waiting task covers it
	require.NoError(t, e.EnqueueReconcile(ctx, dealID, "CESCROW", 1))
	// another milestone is its own task
	require.NoError(t, e.EnqueueReconcile(ctx, dealID, "CESCROW", 2))

	task, _ := NewReconcileTask(ReconcilePayload{DealID: dealID, ContractID: "CESCROW", Index: 1}, 5)
	_, err := client.Enqueue(task)
	assert.ErrorIs(t, err, asynq.ErrTaskIDConflict)
}

func TestEnqueueReplacesArchivedTask(t *testing.T) {
	e, _, inspector := newTestEnqueuer(t)
	dealID := uuid.New()
	ctx := context.Background()
	id := TaskID("CESCROW", 1)

	require.NoError(t, e.EnqueueReconcile(ctx, dealID, "CESCROW", 1))
	require.NoError(t, inspector.ArchiveTask(QueueReconcile, id))
	info, err := inspector.GetTaskInfo(QueueReconcile, id)
	require.NoError(t, err)
	require.Equal(t, asynq.TaskStateArchived, info.State)

	require.NoError(t, e.EnqueueReconcile(ctx, dealID, "CESCROW", 1))

	info, err = inspector.GetTaskInfo(QueueReconcile, id)
	require.NoError(t, err)
	assert.Equal(t, asynq.TaskStateScheduled, info.State)

	_, err = inspector.GetTaskInfo(QueueReconcile, FollowUpTaskID("CESCROW", 1))
	assert.ErrorIs(t, err, asynq.ErrTaskNotFound, "a replaced task needs no follow-up")
}
