package log

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pioreactor/cluster-core/pkg/types"
)

func captureJSON(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	return out
}

func TestLevelParsing(t *testing.T) {
	cases := []struct {
		in   Level
		want zerolog.Level
	}{
		{DebugLevel, zerolog.DebugLevel},
		{InfoLevel, zerolog.InfoLevel},
		{WarnLevel, zerolog.WarnLevel},
		{ErrorLevel, zerolog.ErrorLevel},
		{"WARN", zerolog.WarnLevel},
		{"nonsense", zerolog.InfoLevel},
		{"", zerolog.InfoLevel},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, tc.in.zerolog(), string(tc.in))
	}
}

func TestWithHelpersCarryStoreFieldNames(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: DebugLevel, JSONOutput: true, Output: &buf})

	WithUnit("pio-01").Info().Msg("hello")
	line := captureJSON(t, &buf)
	assert.Equal(t, "pio-01", line["pioreactor_unit"])

	buf.Reset()
	WithExperiment("exp1").Info().Msg("hello")
	line = captureJSON(t, &buf)
	assert.Equal(t, "exp1", line["experiment"])

	buf.Reset()
	WithComponent("orchestrator").Info().Msg("hello")
	line = captureJSON(t, &buf)
	assert.Equal(t, "orchestrator", line["component"])
}

func TestClusterEventMapsVocabulary(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: DebugLevel, JSONOutput: true, Output: &buf})

	cases := []struct {
		in   types.LogLevel
		want string
	}{
		{types.LogLevelDebug, "debug"},
		{types.LogLevelInfo, "info"},
		{types.LogLevelNotice, "info"},
		{types.LogLevelWarning, "warn"},
		{types.LogLevelError, "error"},
		{types.LogLevel("MYSTERY"), "info"},
	}
	for _, tc := range cases {
		buf.Reset()
		ClusterEvent(Logger, tc.in).Msg("x")
		line := captureJSON(t, &buf)
		assert.Equal(t, tc.want, line["level"], string(tc.in))
	}
}
