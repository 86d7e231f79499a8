package workerapi

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalibrationSessionAdvanceThroughAllSteps(t *testing.T) {
	reg := NewSessionRegistry()
	s := reg.Start("od", "my-cal", []string{"blank", "standard_1", "standard_2"})
	assert.Equal(t, "blank", s.NextPrompt())

	s, err := reg.Advance(s.ID, map[string]any{"voltage": 0.1})
	require.NoError(t, err)
	assert.False(t, s.Done)
	assert.Equal(t, "standard_1", s.NextPrompt())

	s, err = reg.Advance(s.ID, map[string]any{"voltage": 0.5})
	require.NoError(t, err)
	assert.False(t, s.Done)

	s, err = reg.Advance(s.ID, map[string]any{"voltage": 0.9})
	require.NoError(t, err)
	assert.True(t, s.Done)
	assert.Equal(t, "", s.NextPrompt())

	doc := s.Document()
	assert.Len(t, doc, 3)
	assert.Contains(t, doc, "standard_2")
}

func TestCalibrationSessionAdvanceAfterDoneFails(t *testing.T) {
	reg := NewSessionRegistry()
	s := reg.Start("od", "my-cal", []string{"only_step"})

	s, err := reg.Advance(s.ID, map[string]any{"voltage": 0.1})
	require.NoError(t, err)
	require.True(t, s.Done)

	_, err = reg.Advance(s.ID, map[string]any{"voltage": 0.2})
	require.Error(t, err)
}

func TestCalibrationSessionAbortPreventsFurtherAdvance(t *testing.T) {
	reg := NewSessionRegistry()
	s := reg.Start("od", "my-cal", []string{"a", "b"})
	require.NoError(t, reg.Abort(s.ID))

	_, err := reg.Advance(s.ID, map[string]any{})
	require.Error(t, err)
}

func TestCalibrationSessionGetUnknownIDFails(t *testing.T) {
	reg := NewSessionRegistry()
	_, err := reg.Get("does-not-exist")
	require.Error(t, err)
}
