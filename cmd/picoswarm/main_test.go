// PicoClaw - Ultra-lightweight personal AI agent
// License: MIT
//
// Copyright (c) 2026 PicoClaw contributors

package main

import (
	"bytes"
	"path/filepath"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sipeed/picoswarm/pkg/config"
)

func TestNewPicoswarmCommand(t *testing.T) {
	cmd := NewPicoswarmCommand()

	require.NotNil(t, cmd)
	assert.Equal(t, "picoswarm", cmd.Use)
	assert.True(t, cmd.SilenceUsage)

	var names []string
	for _, sub := range cmd.Commands() {
		names = append(names, sub.Name())
	}
	slices.Sort(names)
	assert.Equal(t, []string{"analytics", "cleanup", "config", "report", "vacuum", "version"}, names)
}

func TestVacuumThroughRoot(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(config.EnvPicoSwarmConfig, filepath.Join(dir, "config.json"))
	t.Setenv("PICOSWARM_METRICS_DB_PATH", filepath.Join(dir, "metrics.db"))

	cmd := NewPicoswarmCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"vacuum"})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "Vacuumed")
}
