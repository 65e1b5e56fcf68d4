package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"StoryboardVideo-server/config"
	"StoryboardVideo-server/logger"
)

// newTestQueue points at a port nothing listens on; the handler is
// exercised directly and Enqueue is expected to fail.
func newTestQueue(t *testing.T) *QueueScheduler {
	t.Helper()
	cfg := config.Default()
	cfg.Redis.Addr = "127.0.0.1:1"
	cfg.Queue.Concurrency = 1
	return NewQueueScheduler(cfg, logger.Discard())
}

func beginRun(t *testing.T, scenes ...string) *GenerationRun {
	t.Helper()
	g := NewGenerator(&fakeClient{scenes: scenes}, logger.Discard())
	run, err := g.Begin(newSession("idea"), nil)
	require.NoError(t, err)
	return run
}

func generateTask(t *testing.T, sessionID, runID string) *asynq.Task {
	t.Helper()
	payload, err := json.Marshal(generatePayload{SessionID: sessionID, RunID: runID})
	require.NoError(t, err)
	return asynq.NewTask(TypeGenerateRun, payload)
}

func TestQueueHandlerExecutesTrackedRun(t *testing.T) {
	q := newTestQueue(t)
	run := beginRun(t, "a", "b")
	q.track(run)
	require.Equal(t, 1, q.Pending())

	err := q.HandleGenerateRun(context.Background(), generateTask(t, run.SessionID(), run.ID))
	require.NoError(t, err)
	assert.Equal(t, 0, q.Pending())

	snap := run.session.Snapshot()
	assert.Equal(t, []string{"img-a", "img-b"}, snap.Images)
	assert.False(t, snap.Generation.Active)
	assert.Equal(t, "Done!", snap.Generation.Message)
}

func TestQueueHandlerFailedRunIsNotRetried(t *testing.T) {
	q := newTestQueue(t)
	run := beginRun(t)
	q.track(run)

	// an empty storyboard fails the run; the task itself succeeds
	err := q.HandleGenerateRun(context.Background(), generateTask(t, run.SessionID(), run.ID))
	require.NoError(t, err)
	assert.Contains(t, run.session.Snapshot().Error, "The AI failed to create a storyboard.")
}

func TestQueueHandlerSkipsRetry(t *testing.T) {
	q := newTestQueue(t)
	run := beginRun(t, "a")
	q.track(run)

	// order matters: the session mismatch consumes the tracked run
	cases := []struct {
		name string
		task *asynq.Task
	}{
		{"bad payload", asynq.NewTask(TypeGenerateRun, []byte("{"))},
		{"unknown run", generateTask(t, run.SessionID(), "other-run")},
		{"wrong session", generateTask(t, "other-session", run.ID)},
		{"already taken", generateTask(t, run.SessionID(), run.ID)},
	}
	for _, tc := range cases {
		err := q.HandleGenerateRun(context.Background(), tc.task)
		assert.True(t, errors.Is(err, asynq.SkipRetry), tc.name)
	}

	snap := run.session.Snapshot()
	assert.False(t, snap.Generation.Active)
	assert.NotEmpty(t, snap.Error)
}

func TestQueueScheduleFailureLeavesRunWithCaller(t *testing.T) {
	q := newTestQueue(t)
	defer q.Shutdown()
	run := beginRun(t, "a")

	err := q.Schedule(run)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "enqueue failed")
	assert.Equal(t, 0, q.Pending())
	assert.True(t, run.session.Snapshot().Generation.Active)

	run.Abort(err)
	snap := run.session.Snapshot()
	assert.False(t, snap.Generation.Active)
	assert.Contains(t, snap.Error, "Generation failed: enqueue failed")
}

func TestQueueShutdownFailsPendingRuns(t *testing.T) {
	q := newTestQueue(t)
	run := beginRun(t, "a")
	q.track(run)

	q.Shutdown()
	assert.Equal(t, 0, q.Pending())
	snap := run.session.Snapshot()
	assert.False(t, snap.Generation.Active)
	assert.Equal(t, "Generation failed: generation queue shut down", snap.Error)
}

func TestLocalSchedulerRunsInBackground(t *testing.T) {
	l := NewLocalScheduler(context.Background())
	run := beginRun(t, "a", "b", "c")

	require.NoError(t, l.Schedule(run))
	l.Shutdown()

	snap := run.session.Snapshot()
	assert.Len(t, snap.Images, 3)
	assert.False(t, snap.Generation.Active)
}
