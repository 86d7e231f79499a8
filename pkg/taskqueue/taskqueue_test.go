package taskqueue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pioreactor/cluster-core/pkg/apierror"
	"github.com/pioreactor/cluster-core/pkg/types"
)

func waitForState(t *testing.T, q *Queue, id string, want types.TaskState) *types.Task {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		task, err := q.Get(id)
		require.NoError(t, err)
		if task.State == want {
			return task
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("task %s did not reach state %s", id, want)
	return nil
}

func TestSubmitCompletesSuccessfully(t *testing.T) {
	q := New(2, time.Minute)
	defer q.Stop()

	task := q.Submit("test", "", func(ctx context.Context) (any, error) {
		return "ok", nil
	})

	done := waitForState(t, q, task.ID, types.TaskStateComplete)
	assert.Equal(t, "ok", done.Result)
}

func TestSubmitFailurePopulatesError(t *testing.T) {
	q := New(2, time.Minute)
	defer q.Stop()

	task := q.Submit("test", "", func(ctx context.Context) (any, error) {
		return nil, errors.New("boom")
	})

	done := waitForState(t, q, task.ID, types.TaskStateFailed)
	assert.Equal(t, "boom", done.Error)
}

func TestGetUnknownIDReturnsNotFound(t *testing.T) {
	q := New(1, time.Minute)
	defer q.Stop()

	_, err := q.Get("nonexistent")
	require.Error(t, err)
	var apiErr *apierror.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, apierror.KindNotFound, apiErr.Kind)
}

func TestNamedLockSerializesSecondTaskUntilFirstCompletes(t *testing.T) {
	q := New(2, time.Minute)
	defer q.Stop()

	release := make(chan struct{})
	first := q.Submit("test", "power-lock", func(ctx context.Context) (any, error) {
		<-release
		return "first", nil
	})

	second := q.Submit("test", "power-lock", func(ctx context.Context) (any, error) {
		return "second", nil
	})

	time.Sleep(20 * time.Millisecond)
	task, err := q.Get(second.ID)
	require.NoError(t, err)
	assert.Equal(t, types.TaskStateLocked, task.State)

	close(release)
	waitForState(t, q, first.ID, types.TaskStateComplete)
	waitForState(t, q, second.ID, types.TaskStateComplete)
}
