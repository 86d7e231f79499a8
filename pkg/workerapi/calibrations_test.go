package workerapi

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pioreactor/cluster-core/pkg/localstore"
	"github.com/pioreactor/cluster-core/pkg/types"
)

func openTestLocalStore(t *testing.T) *localstore.Store {
	t.Helper()
	s, err := localstore.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCalibrationPutGetRoundTrip(t *testing.T) {
	local := openTestLocalStore(t)
	store := NewCalibrationStore(t.TempDir(), local)

	doc := NewCalibrationDoc("od", "my-cal", map[string]any{"slope": 1.2})
	require.NoError(t, store.Put("od", "my-cal", doc))

	var got types.CalibrationDoc
	require.NoError(t, store.Get("od", "my-cal", &got))
	assert.Equal(t, "my-cal", got.Name)
	assert.Equal(t, "od", got.Device)
}

func TestCalibrationGetMissingReturnsNotFound(t *testing.T) {
	local := openTestLocalStore(t)
	store := NewCalibrationStore(t.TempDir(), local)

	var got types.CalibrationDoc
	err := store.Get("od", "nope", &got)
	require.Error(t, err)
}

func TestCalibrationListAndDevices(t *testing.T) {
	local := openTestLocalStore(t)
	store := NewCalibrationStore(t.TempDir(), local)

	require.NoError(t, store.Put("od", "cal-a", NewCalibrationDoc("od", "cal-a", nil)))
	require.NoError(t, store.Put("od", "cal-b", NewCalibrationDoc("od", "cal-b", nil)))
	require.NoError(t, store.Put("pump", "cal-c", NewCalibrationDoc("pump", "cal-c", nil)))

	devices, err := store.Devices()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"od", "pump"}, devices)

	names, err := store.List("od")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"cal-a", "cal-b"}, names)
}

func TestCalibrationSetActiveAndClear(t *testing.T) {
	local := openTestLocalStore(t)
	store := NewCalibrationStore(t.TempDir(), local)
	require.NoError(t, store.Put("od", "cal-a", NewCalibrationDoc("od", "cal-a", nil)))

	require.NoError(t, store.SetActive("od", "cal-a"))

	var got types.CalibrationDoc
	name, err := store.Active("od", &got)
	require.NoError(t, err)
	assert.Equal(t, "cal-a", name)

	require.NoError(t, store.ClearActive("od"))
	_, err = store.Active("od", &got)
	require.Error(t, err)
}

func TestCalibrationSetActiveUnknownNameFails(t *testing.T) {
	local := openTestLocalStore(t)
	store := NewCalibrationStore(t.TempDir(), local)
	err := store.SetActive("od", "does-not-exist")
	require.Error(t, err)
}

func TestCalibrationDeleteClearsActiveMarker(t *testing.T) {
	local := openTestLocalStore(t)
	store := NewCalibrationStore(t.TempDir(), local)
	require.NoError(t, store.Put("od", "cal-a", NewCalibrationDoc("od", "cal-a", nil)))
	require.NoError(t, store.SetActive("od", "cal-a"))

	require.NoError(t, store.Delete("od", "cal-a"))

	var got types.CalibrationDoc
	_, err := store.Active("od", &got)
	require.Error(t, err)
}

func TestCalibrationRejectsPathTraversalInName(t *testing.T) {
	local := openTestLocalStore(t)
	store := NewCalibrationStore(t.TempDir(), local)

	err := store.Put("od", "../escape", NewCalibrationDoc("od", "../escape", nil))
	require.Error(t, err)
}

func TestEstimatorStoreIsIndependentOfCalibrations(t *testing.T) {
	local := openTestLocalStore(t)
	dataDir := t.TempDir()
	calStore := NewCalibrationStore(dataDir, local)
	estStore := NewEstimatorStore(dataDir, local)

	require.NoError(t, calStore.Put("od", "shared-name", NewCalibrationDoc("od", "shared-name", nil)))

	// A calibration document by this name exists, but no estimator
	// document does: estimator SetActive must still fail.
	err := estStore.SetActive("od", "shared-name")
	require.Error(t, err)

	require.NoError(t, estStore.Put("od", "shared-name", NewEstimatorDoc("od", "shared-name", nil)))
	require.NoError(t, estStore.SetActive("od", "shared-name"))
}
