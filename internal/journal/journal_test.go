package journal

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/foreman/pkg/events"
	"github.com/tombee/foreman/pkg/task"
)

func openTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(Config{Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	return j
}

func sampleResult(taskID string) *task.Result {
	return &task.Result{
		TaskID:             taskID,
		WorkflowInstanceID: "wf-1",
		WorkerID:           "host-1",
		Status:             task.StatusCompleted,
		OutputData:         map[string]any{"url": "s3://out/1"},
	}
}

func TestJournal_AppendListDelete(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()

	require.NoError(t, j.Append(ctx, Entry{
		TaskID:   "t-1",
		TaskType: "resize_image",
		Server:   "primary",
		Reason:   "connection refused",
		Result:   sampleResult("t-1"),
	}))
	require.NoError(t, j.Append(ctx, Entry{
		TaskID:   "t-2",
		TaskType: "resize_image",
		Server:   "primary",
		Result:   sampleResult("t-2"),
	}))

	entries, err := j.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "t-2", entries[0].TaskID, "newest first")
	assert.Equal(t, task.StatusCompleted, entries[0].Result.Status)
	assert.Equal(t, "s3://out/1", entries[1].Result.OutputData["url"])
	assert.False(t, entries[0].LostAt.IsZero())

	one, err := j.List(ctx, 1)
	require.NoError(t, err)
	require.Len(t, one, 1)

	require.NoError(t, j.Delete(ctx, entries[0].ID))
	entries, err = j.List(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	assert.Error(t, j.Delete(ctx, 9999))
}

func TestJournal_ListenerCapturesLostResults(t *testing.T) {
	j := openTestJournal(t)

	d := events.NewDispatcher(nil)
	d.Subscribe(j.Listener())

	d.Emit(events.Event{
		Type:       events.TypeUpdateFailure,
		TaskType:   "resize_image",
		Server:     "primary",
		TaskID:     "t-9",
		WorkflowID: "wf-9",
		Err:        errors.New("503 from server"),
		Result:     sampleResult("t-9"),
	})
	// Non-failure events and failures without a result are ignored.
	d.Emit(events.Event{Type: events.TypeExecutionCompleted, TaskID: "t-10"})
	d.Emit(events.Event{Type: events.TypeUpdateFailure, TaskID: "t-11"})

	entries, err := j.List(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "t-9", entries[0].TaskID)
	assert.Equal(t, "wf-9", entries[0].WorkflowID)
	assert.Contains(t, entries[0].Reason, "503")
}
