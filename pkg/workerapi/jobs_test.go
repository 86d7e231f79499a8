package workerapi

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pioreactor/cluster-core/pkg/apierror"
	"github.com/pioreactor/cluster-core/pkg/types"
)

func TestCheckAndMarkRateLimitRejectsSecondCallWithin1s(t *testing.T) {
	r := NewJobRegistry()
	require.NoError(t, r.CheckAndMarkRateLimit("stirring"))

	err := r.CheckAndMarkRateLimit("stirring")
	require.Error(t, err)

	var apiErr *apierror.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, apierror.KindRateLimited, apiErr.Kind)
	assert.Equal(t, 429, apiErr.Status())
}

func TestCheckAndMarkRateLimitAllowsDifferentJobNames(t *testing.T) {
	r := NewJobRegistry()
	require.NoError(t, r.CheckAndMarkRateLimit("stirring"))
	require.NoError(t, r.CheckAndMarkRateLimit("heating"))
}

func TestRegisterAndTransition(t *testing.T) {
	r := NewJobRegistry()
	job := r.Register("stirring", "exp1", true)
	assert.Equal(t, types.JobStateInit, job.State)

	r.Transition("stirring", "exp1", types.JobStateReady)
	got := r.Get(job.JobID)
	require.NotNil(t, got)
	assert.Equal(t, types.JobStateReady, got.State)
	assert.True(t, got.IsRunning)

	r.Transition("stirring", "exp1", types.JobStateDisconnected)
	got = r.Get(job.JobID)
	assert.Equal(t, types.JobStateDisconnected, got.State)
	assert.False(t, got.IsRunning)
}

func TestStopMatchingFiltersByJobNameExperimentAndID(t *testing.T) {
	r := NewJobRegistry()
	a := r.Register("stirring", "exp1", true)
	r.Register("heating", "exp1", true)
	r.Register("stirring", "exp2", true)

	stopped := r.StopMatching("stirring", "exp1", "")
	assert.Equal(t, 1, stopped)

	running := r.RunningByExperiment("exp1")
	require.Len(t, running, 1)
	assert.Equal(t, "heating", running[0].JobName)

	got := r.Get(a.JobID)
	assert.False(t, got.IsRunning)
}

func TestStopAllStopsEveryRunningJob(t *testing.T) {
	r := NewJobRegistry()
	r.Register("stirring", "exp1", true)
	r.Register("heating", "exp1", true)

	stopped := r.StopAll()
	assert.Equal(t, 2, stopped)
	assert.Empty(t, r.Running())
}

func TestMarkLostSetsLostState(t *testing.T) {
	r := NewJobRegistry()
	job := r.Register("stirring", "exp1", true)
	r.MarkLost(job.JobID)

	got := r.Get(job.JobID)
	require.NotNil(t, got)
	assert.Equal(t, types.JobStateLost, got.State)
	assert.False(t, got.IsRunning)
}

func TestRunDebounceIsOneSecond(t *testing.T) {
	assert.Equal(t, time.Second, RunDebounce)
}
