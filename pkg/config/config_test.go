package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validDoc = `
[cluster.topology]
leader_hostname = leader
leader_address = 192.168.1.10

[mqtt]
broker_address = 192.168.1.10
`

func TestValidateAcceptsWellFormedDoc(t *testing.T) {
	out, err := Validate(validDoc)
	require.NoError(t, err)
	assert.Contains(t, out, "leader_hostname")
}

func TestValidateRejectsMissingMQTTSection(t *testing.T) {
	doc := `
[cluster.topology]
leader_hostname = leader
leader_address = 192.168.1.10
`
	_, err := Validate(doc)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mqtt")
}

func TestValidateRejectsURLAddress(t *testing.T) {
	doc := `
[cluster.topology]
leader_hostname = leader
leader_address = https://192.168.1.10

[mqtt]
broker_address = 192.168.1.10
`
	_, err := Validate(doc)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "URL")
}

func TestValidateRejectsDuplicateSection(t *testing.T) {
	doc := validDoc + "\n[mqtt]\nbroker_address = 10.0.0.1\n"
	_, err := Validate(doc)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate section")
}

func TestValidateNormalizesUnicodeDashes(t *testing.T) {
	doc := `
[cluster.topology]
leader_hostname = leader–unit
leader_address = 192.168.1.10

[mqtt]
broker_address = 192.168.1.10
`
	out, err := Validate(doc)
	require.NoError(t, err)
	assert.Contains(t, out, "leader-unit")
	assert.NotContains(t, out, "–")
}
