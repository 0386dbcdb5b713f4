// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 EventDock Contributors

// Package xdg resolves XDG Base Directory paths for EventDock.
package xdg

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/samber/oops"
)

const (
	appName = "eventdock"

	// ConfigFileName is the config file looked up in ConfigDir.
	ConfigFileName = "config.yaml"
)

// ConfigDir returns the XDG config directory for eventdock.
// Checks XDG_CONFIG_HOME first, falls back to ~/.config.
func ConfigDir() (string, error) {
	if base := os.Getenv("XDG_CONFIG_HOME"); base != "" {
		return filepath.Join(base, appName), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", oops.In("xdg").Code("HOME_UNRESOLVED").Wrapf(err, "resolve home directory")
	}
	return filepath.Join(home, ".config", appName), nil
}

// DefaultConfigFile returns ConfigDir/config.yaml when that file exists,
// and "" when it does not.
func DefaultConfigFile() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, ConfigFileName)
	info, err := os.Stat(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return "", nil
	case err != nil:
		return "", oops.In("xdg").With("path", path).Wrapf(err, "stat config file")
	case info.IsDir():
		return "", oops.In("xdg").Code("CONFIG_LOAD_FAILED").With("path", path).Errorf("%s is a directory", path)
	}
	return path, nil
}
