package coordinator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/taskmesh/taskmesh/coordinator/handoff"
	"github.com/taskmesh/taskmesh/coordinator/persistence"
	"github.com/taskmesh/taskmesh/types"
	"go.uber.org/zap"
)

func newTestCoordinator(t *testing.T, opts ...Option) *Coordinator {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Scheduler.TickInterval = 10 * time.Millisecond
	c := New(cfg, zap.NewNop(), opts...)
	ctx, cancel := context.WithCancel(context.Background())
	c.Start(ctx)
	t.Cleanup(func() {
		c.Stop()
		cancel()
	})
	return c
}

func waitForStatus(t *testing.T, c *Coordinator, taskID string, want TaskStatus) TaskView {
	t.Helper()
	require.Eventually(t, func() bool {
		view, err := c.GetTaskStatus(taskID)
		return err == nil && view.Status == want
	}, 3*time.Second, 10*time.Millisecond)
	view, err := c.GetTaskStatus(taskID)
	require.NoError(t, err)
	return view
}

func TestCoordinator_EndToEnd(t *testing.T) {
	c := newTestCoordinator(t)
	c.RegisterWorker(newMockWorker("coder-1", "coding", "code_generation", "refactoring"))

	id, err := c.SubmitTask([]string{"code_generation"},
		&TaskContext{Description: "implement feature"}, PriorityHigh, nil)
	require.NoError(t, err)

	view := waitForStatus(t, c, id, TaskCompleted)
	assert.Equal(t, "coder-1", view.AssignedWorker)
	require.NotNil(t, view.Result)
	assert.True(t, view.Result.Success)

	workers := c.GetWorkerStatus()
	require.Len(t, workers, 1)
	assert.Equal(t, 1, workers[0].Performance.TasksCompleted)
	assert.Equal(t, 1, c.GetQueueStatus()[TaskCompleted])
}

func TestCoordinator_GetTaskStatusUnknown(t *testing.T) {
	c := newTestCoordinator(t)
	_, err := c.GetTaskStatus("nope")
	require.Error(t, err)
	assert.Equal(t, types.ErrTaskNotFound, types.GetErrorCode(err))
}

func TestCoordinator_UnregisterRequeuesInflight(t *testing.T) {
	c := newTestCoordinator(t)

	started := make(chan struct{})
	release := make(chan struct{})
	defer close(release)
	slow := newMockWorker("slow", "coding")
	slow.ExecuteFunc = func(ctx context.Context, tctx *TaskContext) (*TaskResult, error) {
		close(started)
		<-release
		return &TaskResult{Success: true}, nil
	}
	c.RegisterWorker(slow)

	id, err := c.SubmitTask(nil, &TaskContext{Description: "long job"}, PriorityHigh, nil)
	require.NoError(t, err)
	<-started

	require.NoError(t, c.UnregisterWorker("slow"))
	assert.Empty(t, c.GetWorkerStatus())

	// Another worker picks up the requeued task.
	c.RegisterWorker(newMockWorker("fresh", "coding"))
	view := waitForStatus(t, c, id, TaskCompleted)
	assert.Equal(t, "fresh", view.AssignedWorker)

	err = c.UnregisterWorker("slow")
	assert.Equal(t, types.ErrWorkerNotFound, types.GetErrorCode(err))
}

func TestCoordinator_NotifyStatus(t *testing.T) {
	c := newTestCoordinator(t)
	c.RegisterWorker(newMockWorker("w1", "coding"))

	require.NoError(t, c.NotifyStatus("w1", SignalBusy))
	err := c.NotifyStatus("ghost", SignalIdle)
	assert.Equal(t, types.ErrWorkerNotFound, types.GetErrorCode(err))
}

func TestCoordinator_ExplicitHandoff(t *testing.T) {
	c := newTestCoordinator(t)

	started := make(chan struct{})
	release := make(chan struct{})
	coder := newMockWorker("coder", "coding", "code_generation")
	coder.ExecuteFunc = func(ctx context.Context, tctx *TaskContext) (*TaskResult, error) {
		select {
		case <-started:
		default:
			close(started)
		}
		<-release
		return &TaskResult{Success: true}, nil
	}
	c.RegisterWorker(coder)

	tester := newMockWorker("tester", "testing", "test_execution")
	c.RegisterWorker(tester)

	tctx := &TaskContext{
		Description: "build then verify",
		Conversation: []ConversationEntry{
			{Role: "user", Content: "step 1"},
			{Role: "assistant", Content: "step 2"},
		},
	}
	id, err := c.SubmitTask([]string{"code_generation"}, tctx, PriorityHigh, nil)
	require.NoError(t, err)
	<-started

	err = c.RequestHandoff(HandoffRequest{
		TaskID:               id,
		FromWorker:           "coder",
		Reason:               "needs test coverage",
		RequiredCapabilities: []string{"test_execution"},
		Urgency:              "high",
	})
	require.NoError(t, err)
	close(release)

	view := waitForStatus(t, c, id, TaskCompleted)
	assert.Equal(t, "tester", view.AssignedWorker)
	require.Len(t, view.HandoffHistory, 1)
	ev := view.HandoffHistory[0]
	assert.Equal(t, "coder", ev.FromWorker)
	assert.Equal(t, "tester", ev.ToWorker)
	assert.Equal(t, "explicit", ev.Reason.Type)
	assert.Equal(t, "needs test coverage", ev.Reason.Description)
	assert.True(t, ev.Success)
	assert.Greater(t, ev.ContextSizeBytes, 0)
	assert.EqualValues(t, 1, tester.executions.Load())
}

func TestCoordinator_HandoffRejections(t *testing.T) {
	c := newTestCoordinator(t)

	err := c.RequestHandoff(HandoffRequest{TaskID: "missing"})
	assert.Equal(t, types.ErrTaskNotFound, types.GetErrorCode(err))

	started := make(chan struct{})
	release := make(chan struct{})
	defer close(release)
	w := newMockWorker("only", "coding")
	w.ExecuteFunc = func(ctx context.Context, tctx *TaskContext) (*TaskResult, error) {
		close(started)
		<-release
		return &TaskResult{Success: true}, nil
	}
	c.RegisterWorker(w)

	id, err := c.SubmitTask(nil, &TaskContext{Description: "solo"}, PriorityHigh, nil)
	require.NoError(t, err)
	<-started

	// Claimed source does not match the actual assignment.
	err = c.RequestHandoff(HandoffRequest{TaskID: id, FromWorker: "impostor"})
	assert.Equal(t, types.ErrHandoffNotAssigned, types.GetErrorCode(err))

	// No other worker is available to take the task.
	err = c.RequestHandoff(HandoffRequest{TaskID: id, FromWorker: "only"})
	assert.Equal(t, types.ErrHandoffTargetNotFound, types.GetErrorCode(err))
}

func TestCoordinator_HandoffOnPendingTask(t *testing.T) {
	c := newTestCoordinator(t)

	id, err := c.SubmitTask(nil, &TaskContext{Description: "nobody home"}, PriorityHigh, nil)
	require.NoError(t, err)

	err = c.RequestHandoff(HandoffRequest{TaskID: id})
	assert.Equal(t, types.ErrHandoffNotAssigned, types.GetErrorCode(err))
}

func TestCoordinator_RuleDrivenRedirect(t *testing.T) {
	c := newTestCoordinator(t)

	require.NoError(t, c.AddHandoffRule(handoff.Rule{
		ID:              "tests-to-tester",
		FromTypePattern: "coding",
		ToTypePattern:   "testing",
		Triggers: []handoff.Trigger{
			{Condition: "keyword", Operator: "contains", Threshold: "test"},
		},
		Priority: 1,
		Enabled:  true,
	}))

	// The coder scores higher on capability, but the rule re-routes.
	c.RegisterWorker(newMockWorker("coder", "coding", "verify"))
	c.RegisterWorker(newMockWorker("tester", "testing", "verify"))

	id, err := c.SubmitTask([]string{"verify"},
		&TaskContext{Description: "run the test suite"}, PriorityHigh, nil)
	require.NoError(t, err)

	view := waitForStatus(t, c, id, TaskCompleted)
	if view.AssignedWorker == "tester" {
		require.Len(t, view.HandoffHistory, 1)
		assert.Equal(t, "rule", view.HandoffHistory[0].Reason.Type)
		assert.Equal(t, "coder", view.HandoffHistory[0].FromWorker)
	} else {
		// The selector may have picked the tester outright; no rule fires
		// for a testing-type origin.
		assert.Empty(t, view.HandoffHistory)
	}
}

func TestCoordinator_ArchiveOnSettlement(t *testing.T) {
	store := persistence.NewMemoryStore()
	c := newTestCoordinator(t, WithArchive(store))
	c.RegisterWorker(newMockWorker("w1", "coding", "code_generation"))

	id, err := c.SubmitTask([]string{"code_generation"},
		&TaskContext{Description: "archive me"}, PriorityHigh, nil)
	require.NoError(t, err)
	waitForStatus(t, c, id, TaskCompleted)

	require.Eventually(t, func() bool {
		rec, err := store.GetTask(context.Background(), id)
		return err == nil && rec.Status == string(TaskCompleted)
	}, 2*time.Second, 10*time.Millisecond)

	rec, err := store.GetTask(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "w1", rec.AssignedWorker)
	assert.True(t, rec.Success)
	assert.Equal(t, string(PriorityHigh), rec.Priority)
}
