package leaderapi

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseProfileAcceptsWellFormedDocument(t *testing.T) {
	raw := `
experiment_profile_name: overnight growth
metadata:
  author: lab
stages:
  - name: spin up
    actions:
      - type: start
        job: stirring
        options:
          target_rpm: 400
  - delay_seconds: 60
    actions:
      - type: update
        job: stirring
        settings:
          target_rpm: "500"
      - type: stop
        job: stirring
`
	p, err := parseProfile([]byte(raw))
	require.NoError(t, err)
	assert.Equal(t, "overnight growth", p.ExperimentProfileName)
	require.Len(t, p.Stages, 2)
	assert.Equal(t, "start", p.Stages[0].Actions[0].Type)
	assert.Equal(t, float64(60), p.Stages[1].DelaySeconds)
}

func TestParseProfileRejectsMissingName(t *testing.T) {
	_, err := parseProfile([]byte("stages: []\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "experiment_profile_name")
}

func TestParseProfileRejectsUnknownActionType(t *testing.T) {
	raw := "experiment_profile_name: x\nstages:\n  - actions:\n      - type: explode\n        job: stirring\n"
	_, err := parseProfile([]byte(raw))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid type")
}

func TestParseProfileRejectsActionWithoutJob(t *testing.T) {
	raw := "experiment_profile_name: x\nstages:\n  - actions:\n      - type: start\n"
	_, err := parseProfile([]byte(raw))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing job")
}

func TestValidatePortableFilename(t *testing.T) {
	valid := []string{"a.yaml", "profile_1.yml", "my profile.yaml", "A-b_c.0.yaml"}
	for _, name := range valid {
		assert.NoError(t, validatePortableFilename(name), name)
	}

	invalid := []string{"", ".", "..", ".hidden", "-dash", "two  spaces", "semi;colon", "slash/name", strings.Repeat("x", 256)}
	for _, name := range invalid {
		assert.Error(t, validatePortableFilename(name), name)
	}
}
