package taskqueue

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/pioreactor/cluster-core/pkg/types"
)

func TestEnvelopeComplete(t *testing.T) {
	env, status := Envelope(&types.Task{ID: "t1", State: types.TaskStateComplete, Result: 42}, "/unit_api/task_results")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "complete", env.Status)
	assert.Equal(t, 42, env.Result)
	assert.Equal(t, "/unit_api/task_results/t1", env.ResultURLPath)
}

func TestEnvelopeFailed(t *testing.T) {
	env, status := Envelope(&types.Task{ID: "t1", State: types.TaskStateFailed, Error: "boom"}, "/api/tasks")
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "failed", env.Status)
	assert.Equal(t, "boom", env.Error)
}

func TestEnvelopeLockedReportsInProgressWithLock(t *testing.T) {
	env, status := Envelope(&types.Task{ID: "t1", State: types.TaskStateLocked, LockName: "update-lock"}, "/unit_api/task_results")
	assert.Equal(t, http.StatusAccepted, status)
	assert.Equal(t, "in_progress", env.Status)
	assert.Equal(t, "update-lock", env.Lock)
}

func TestEnvelopeUnknownStateIsPendingOrNotPresent(t *testing.T) {
	env, status := Envelope(&types.Task{ID: "t1"}, "/api/tasks")
	assert.Equal(t, http.StatusAccepted, status)
	assert.Equal(t, "pending or not present", env.Status)
}
