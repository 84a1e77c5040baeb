// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"os"
	"path/filepath"
)

// RuntimeDir returns the directory holding all engine state: session maps,
// run documents, event logs, and side-channel outputs.
//
// Resolution order:
//  1. BATON_RUNTIME_DIR environment variable
//  2. $XDG_STATE_HOME/baton
//  3. ~/.local/state/baton
//
// The directory is created if it doesn't exist.
func RuntimeDir() (string, error) {
	var dir string

	if override := os.Getenv("BATON_RUNTIME_DIR"); override != "" {
		dir = override
	} else if xdg := os.Getenv("XDG_STATE_HOME"); xdg != "" {
		dir = filepath.Join(xdg, "baton")
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		dir = filepath.Join(home, ".local", "state", "baton")
	}

	// Create directory if it doesn't exist
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", err
	}

	return dir, nil
}

// ConfigPath returns the full path to the optional config file inside the
// runtime directory.
func ConfigPath(runtimeDir string) string {
	return filepath.Join(runtimeDir, "config.yaml")
}
