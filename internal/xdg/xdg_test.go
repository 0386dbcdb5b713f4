// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 EventDock Contributors

package xdg

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigDir(t *testing.T) {
	tests := []struct {
		name    string
		xdgHome string
		home    string
		want    string
	}{
		{name: "env var", xdgHome: "/custom/config", home: "/home/testuser", want: "/custom/config/eventdock"},
		{name: "default", xdgHome: "", home: "/home/testuser", want: "/home/testuser/.config/eventdock"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("XDG_CONFIG_HOME", tt.xdgHome)
			t.Setenv("HOME", tt.home)

			got, err := ConfigDir()
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDefaultConfigFile_Missing(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	got, err := DefaultConfigFile()
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestDefaultConfigFile_Present(t *testing.T) {
	base := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", base)
	dir := filepath.Join(base, "eventdock")
	require.NoError(t, os.MkdirAll(dir, 0o700))
	path := filepath.Join(dir, ConfigFileName)
	require.NoError(t, os.WriteFile(path, []byte("log-format: text\n"), 0o600))

	got, err := DefaultConfigFile()
	require.NoError(t, err)
	assert.Equal(t, path, got)
}

func TestDefaultConfigFile_Directory(t *testing.T) {
	base := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", base)
	require.NoError(t, os.MkdirAll(filepath.Join(base, "eventdock", ConfigFileName), 0o700))

	_, err := DefaultConfigFile()
	require.Error(t, err)
}
