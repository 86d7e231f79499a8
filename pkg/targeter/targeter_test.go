package targeter

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pioreactor/cluster-core/pkg/apierror"
	"github.com/pioreactor/cluster-core/pkg/types"
)

type fakeInventory struct {
	all             []*types.Worker
	active          []*types.Worker
	expActiveUnits  map[string][]string
}

func (f *fakeInventory) ListWorkers(ctx context.Context) ([]*types.Worker, error) { return f.all, nil }
func (f *fakeInventory) ListActiveWorkers(ctx context.Context) ([]*types.Worker, error) {
	return f.active, nil
}
func (f *fakeInventory) ActiveWorkersInExperiment(ctx context.Context, experiment string) ([]string, error) {
	return f.expActiveUnits[experiment], nil
}

func worker(unit string, active bool) *types.Worker {
	return &types.Worker{PioreactorUnit: unit, IsActive: active}
}

func TestResolveBroadcastToAllActiveWorkers(t *testing.T) {
	inv := &fakeInventory{active: []*types.Worker{worker("u1", true), worker("u2", true)}}
	tg := New(inv)

	units, err := tg.Resolve(context.Background(), types.TargetingOptions{
		Units:      []string{types.BroadcastUnit},
		ActiveOnly: true,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"u1", "u2"}, units)
}

func TestResolveEmptyUnitsAndExperimentsActiveOnlyMeansAllActive(t *testing.T) {
	inv := &fakeInventory{active: []*types.Worker{worker("u1", true), worker("u2", true)}}
	tg := New(inv)

	units, err := tg.Resolve(context.Background(), types.TargetingOptions{ActiveOnly: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"u1", "u2"}, units)
}

func TestResolveEmptyActiveOnlyWithNoActiveWorkersIs400(t *testing.T) {
	inv := &fakeInventory{active: nil}
	tg := New(inv)

	_, err := tg.Resolve(context.Background(), types.TargetingOptions{ActiveOnly: true})
	require.Error(t, err)
	var apiErr *apierror.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, apierror.KindValidation, apiErr.Kind)
}

func TestResolveExperimentExpansionEmptyIs400(t *testing.T) {
	inv := &fakeInventory{expActiveUnits: map[string][]string{}}
	tg := New(inv)

	_, err := tg.Resolve(context.Background(), types.TargetingOptions{Experiments: []string{"exp1"}})
	require.Error(t, err)
	var apiErr *apierror.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, apierror.KindValidation, apiErr.Kind)
}

func TestResolveIntersectionPrecedence(t *testing.T) {
	inv := &fakeInventory{
		all:            []*types.Worker{worker("u1", true), worker("u2", true), worker("u3", true)},
		expActiveUnits: map[string][]string{"exp1": {"u1", "u2"}},
	}
	tg := New(inv)

	units, err := tg.Resolve(context.Background(), types.TargetingOptions{
		Units:       []string{"u2", "u3"},
		Experiments: []string{"exp1"},
		Precedence:  types.PrecedenceIntersection,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"u2"}, units)
}

func TestResolveExperimentsPrecedenceIgnoresUnits(t *testing.T) {
	inv := &fakeInventory{expActiveUnits: map[string][]string{"exp1": {"u1", "u2"}}}
	tg := New(inv)

	units, err := tg.Resolve(context.Background(), types.TargetingOptions{
		Units:       []string{"u3"},
		Experiments: []string{"exp1"},
		Precedence:  types.PrecedenceExperiments,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"u1", "u2"}, units)
}

func TestResolveUnitsPrecedenceIgnoresExperiments(t *testing.T) {
	inv := &fakeInventory{
		all:            []*types.Worker{worker("u3", true)},
		expActiveUnits: map[string][]string{"exp1": {"u1", "u2"}},
	}
	tg := New(inv)

	units, err := tg.Resolve(context.Background(), types.TargetingOptions{
		Units:       []string{"u3"},
		Experiments: []string{"exp1"},
		Precedence:  types.PrecedenceUnits,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"u3"}, units)
}

func TestResolveIncludeLeaderTrueAddsLeader(t *testing.T) {
	inv := &fakeInventory{active: []*types.Worker{worker("u1", true)}}
	tg := New(inv)
	includeLeader := true

	units, err := tg.Resolve(context.Background(), types.TargetingOptions{
		ActiveOnly:    true,
		IncludeLeader: &includeLeader,
	})
	require.NoError(t, err)
	assert.Contains(t, units, LeaderUnit)
	assert.Contains(t, units, "u1")
}

func TestResolveEmptyResultIs400(t *testing.T) {
	inv := &fakeInventory{all: []*types.Worker{worker("u1", true)}}
	tg := New(inv)

	_, err := tg.Resolve(context.Background(), types.TargetingOptions{
		Units:            []string{"u2"},
		FilterNonWorkers: true,
	})
	require.Error(t, err)
	var apiErr *apierror.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, apierror.KindValidation, apiErr.Kind)
}

func TestValidateRunTargetingRejectsBroadcastWithUniversalExperiment(t *testing.T) {
	err := ValidateRunTargeting(types.BroadcastUnit, types.UniversalExperiment)
	require.Error(t, err)
}

func TestValidateRunTargetingAllowsBroadcastWithConcreteExperiment(t *testing.T) {
	err := ValidateRunTargeting(types.BroadcastUnit, "exp1")
	assert.NoError(t, err)
}
