package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/backoffice/jobs"
)

type fakeEnqueuer struct {
	tasks []*asynq.Task
}

func (f *fakeEnqueuer) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	f.tasks = append(f.tasks, task)
	return &asynq.TaskInfo{ID: "task-1", Type: task.Type(), Queue: jobs.QueueDefault}, nil
}

func (f *fakeEnqueuer) Close() error { return nil }

type fakeInspector struct {
	info      *asynq.QueueInfo
	scheduled []*asynq.TaskInfo
	err       error
}

func (f fakeInspector) GetQueueInfo(string) (*asynq.QueueInfo, error) { return f.info, f.err }

func (f fakeInspector) ListScheduledTasks(string, ...asynq.ListOption) ([]*asynq.TaskInfo, error) {
	return f.scheduled, nil
}

func (f fakeInspector) Close() error { return nil }

func newCommand(enq *fakeEnqueuer, insp fakeInspector) (Command, *bytes.Buffer, *bytes.Buffer) {
	stdout, stderr := new(bytes.Buffer), new(bytes.Buffer)
	return Command{
		Stdout: stdout,
		Stderr: stderr,
		NewJobs: func(string) *JobsCLI {
			return &JobsCLI{client: enq, inspector: insp}
		},
	}, stdout, stderr
}

func TestTriggerRecompute(t *testing.T) {
	enq := &fakeEnqueuer{}
	cmd, stdout, _ := newCommand(enq, fakeInspector{})
	id := uuid.New()

	code := cmd.Run(context.Background(), []string{"jobs", "trigger", jobs.TaskInventoryRecompute, "--product", id.String(), "--limit", "7"})
	require.Equal(t, 0, code)
	require.Contains(t, stdout.String(), "enqueued inventory:recompute id=task-1")
	require.Len(t, enq.tasks, 1)

	var payload jobs.RecomputePayload
	require.NoError(t, json.Unmarshal(enq.tasks[0].Payload(), &payload))
	require.Equal(t, id, *payload.ProductID)
	require.Equal(t, 7, payload.Limit)
}

func TestTriggerRejectsBadInput(t *testing.T) {
	enq := &fakeEnqueuer{}
	cmd, _, stderr := newCommand(enq, fakeInspector{})

	require.Equal(t, 1, cmd.Run(context.Background(), []string{"jobs", "trigger", "mail:send"}))
	require.Contains(t, stderr.String(), "unsupported job")
	require.Equal(t, 2, cmd.Run(context.Background(), []string{"jobs", "trigger", jobs.TaskInventoryRecompute, "--product", "nope"}))
	require.Equal(t, 2, cmd.Run(context.Background(), []string{"jobs", "trigger"}))
	require.Empty(t, enq.tasks)
}

func TestInspectJSON(t *testing.T) {
	next := time.Date(2024, 1, 16, 2, 0, 0, 0, time.UTC)
	cmd, stdout, _ := newCommand(&fakeEnqueuer{}, fakeInspector{
		info:      &asynq.QueueInfo{Queue: jobs.QueueDefault, Pending: 3, Retry: 1},
		scheduled: []*asynq.TaskInfo{{ID: "s1", Type: jobs.TaskInventoryRecompute, NextProcessAt: next}},
	})

	require.Equal(t, 0, cmd.Run(context.Background(), []string{"jobs", "inspect", "--json", "--scheduled", "5"}))
	var out inspectOutput
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &out))
	require.Equal(t, 3, out.Pending)
	require.Equal(t, 1, out.Retry)
	require.Len(t, out.Tasks, 1)
	require.True(t, next.Equal(out.Tasks[0].NextRunAt))
}

func TestInspectReportsRedisFailure(t *testing.T) {
	cmd, _, stderr := newCommand(&fakeEnqueuer{}, fakeInspector{err: errors.New("dial tcp")})
	require.Equal(t, 1, cmd.Run(context.Background(), []string{"jobs", "inspect"}))
	require.Contains(t, stderr.String(), "dial tcp")
}

func TestMigrateCommand(t *testing.T) {
	var gotDSN string
	stdout := new(bytes.Buffer)
	cmd := Command{DSN: "postgres://x", Stdout: stdout, Stderr: new(bytes.Buffer), Migrate: func(dsn string, _ *slog.Logger) error {
		gotDSN = dsn
		return nil
	}}
	require.Equal(t, 0, cmd.Run(context.Background(), []string{"migrate"}))
	require.Equal(t, "postgres://x", gotDSN)

	cmd.Migrate = func(string, *slog.Logger) error { return errors.New("dirty database") }
	require.Equal(t, 1, cmd.Run(context.Background(), []string{"migrate"}))
}

func TestUnknownCommand(t *testing.T) {
	cmd, _, stderr := newCommand(&fakeEnqueuer{}, fakeInspector{})
	require.Equal(t, 2, cmd.Run(context.Background(), []string{"serve-all"}))
	require.Contains(t, stderr.String(), "usage: backoffice")
	require.True(t, IsCommand("migrate"))
	require.False(t, IsCommand("serve-all"))
}
