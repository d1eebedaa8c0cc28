package logger

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogger_ComponentAndFields(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(&bytes.Buffer{})

	SetLevel(DEBUG)
	defer SetLevel(INFO)

	InfoCF("topology", "agent joined", map[string]any{"agent_id": "a1"})

	out := buf.String()
	assert.Contains(t, out, `"component":"topology"`)
	assert.Contains(t, out, `"agent_id":"a1"`)
	assert.Contains(t, out, `"message":"agent joined"`)
}

func TestLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(&bytes.Buffer{})

	SetLevel(WARN)
	defer SetLevel(INFO)

	InfoC("health", "should be dropped")
	assert.Empty(t, buf.String())

	WarnC("health", "kept")
	assert.Contains(t, buf.String(), "kept")
	assert.Equal(t, WARN, GetLevel())
}

func TestParseLevel(t *testing.T) {
	lvl, err := ParseLevel("debug")
	require.NoError(t, err)
	assert.Equal(t, DEBUG, lvl)

	lvl, err = ParseLevel("ERROR")
	require.NoError(t, err)
	assert.Equal(t, ERROR, lvl)

	_, err = ParseLevel("loud")
	assert.Error(t, err)
}
