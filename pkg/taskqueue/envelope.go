package taskqueue

import (
	"net/http"

	"github.com/pioreactor/cluster-core/pkg/types"
)

// ResultEnvelope is the JSON body every async endpoint and every task
// polling endpoint returns.
type ResultEnvelope struct {
	TaskID        string `json:"task_id"`
	ResultURLPath string `json:"result_url_path"`
	Status        string `json:"status"`
	Lock          string `json:"lock,omitempty"`
	Result        any    `json:"result,omitempty"`
	Error         string `json:"error,omitempty"`
}

// Envelope renders task into the wire envelope, with resultBasePath the
// polling route prefix (e.g. "/unit_api/task_results"). It also returns
// the HTTP status the caller should write: 202 while the task has not
// finished, 200 on complete, 500 on failed. A locked task reports
// in_progress with its lock name, per the state→status table.
func Envelope(task *types.Task, resultBasePath string) (ResultEnvelope, int) {
	env := ResultEnvelope{
		TaskID:        task.ID,
		ResultURLPath: resultBasePath + "/" + task.ID,
	}
	switch task.State {
	case types.TaskStateComplete:
		env.Status = "complete"
		env.Result = task.Result
		return env, http.StatusOK
	case types.TaskStateFailed:
		env.Status = "failed"
		env.Error = task.Error
		return env, http.StatusInternalServerError
	case types.TaskStateInProgress:
		env.Status = "in_progress"
		return env, http.StatusAccepted
	case types.TaskStateLocked:
		env.Status = "in_progress"
		env.Lock = task.LockName
		return env, http.StatusAccepted
	default:
		env.Status = "pending or not present"
		return env, http.StatusAccepted
	}
}
