package leaderapi

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pioreactor/cluster-core/pkg/types"
)

func makePoints(unit string, n int, value float64) []*types.TimeSeriesPoint {
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	out := make([]*types.TimeSeriesPoint, n)
	for i := range out {
		out[i] = &types.TimeSeriesPoint{
			Experiment:     "exp1",
			PioreactorUnit: unit,
			Timestamp:      base.Add(time.Duration(i) * time.Second),
			Value:          value,
		}
	}
	return out
}

func TestDecimateKeepsEverythingUnderBudget(t *testing.T) {
	points := makePoints("u1", 100, 1.0)
	resp := decimate(points, 720, 5)
	require.Equal(t, []string{"u1"}, resp.Series)
	assert.Len(t, resp.Data[0], 100)
}

func TestDecimateStridesDownToBudget(t *testing.T) {
	points := append(makePoints("u1", 5000, 1.0), makePoints("u2", 5000, 1.0)...)
	resp := decimate(points, 720, 5)

	total := 0
	for _, series := range resp.Data {
		assert.NotEmpty(t, series)
		total += len(series)
	}
	assert.LessOrEqual(t, total, int(720*1.1))
	assert.Greater(t, total, 0)
}

func TestDecimateNeverDropsASmallSeriesEntirely(t *testing.T) {
	// One huge series plus one with a single point: the stride must not
	// eliminate the small one.
	points := append(makePoints("u1", 10000, 1.0), makePoints("u2", 1, 1.0)...)
	resp := decimate(points, 100, 5)
	require.Len(t, resp.Series, 2)
	for _, series := range resp.Data {
		assert.NotEmpty(t, series)
	}
}

func TestDecimateRoundsPerMetricContract(t *testing.T) {
	points := makePoints("u1", 1, 0.123456789)

	growth := decimate(points, 720, decimalsFor("growth_rates"))
	assert.Equal(t, 0.12346, growth.Data[0][0].Y)

	temp := decimate(points, 720, decimalsFor("temperature_readings"))
	assert.Equal(t, 0.12, temp.Data[0][0].Y)

	od := decimate(points, 720, decimalsFor("od_readings"))
	assert.Equal(t, 0.1234568, od.Data[0][0].Y)
}

func TestDecimateSplitsSeriesByChannel(t *testing.T) {
	points := makePoints("u1", 2, 1.0)
	points[1].Channel = "2"
	resp := decimate(points, 720, 5)
	assert.Equal(t, []string{"u1", "u1-2"}, resp.Series)
}

func TestDecimateEmptyInput(t *testing.T) {
	resp := decimate(nil, 720, 5)
	assert.Empty(t, resp.Series)
	assert.Empty(t, resp.Data)
}
