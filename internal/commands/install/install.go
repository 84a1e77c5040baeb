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

// Package install registers the hook commands in a project's Claude
// settings file. The write merges: settings keys and hook groups owned
// by other tools are preserved, stale registrations for this binary are
// replaced.
package install

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/tombee/baton/internal/hookio"
)

// hookTimeoutSeconds is the per-invocation timeout the host enforces on
// the registered command. Kept above the engine's own budget so the
// engine always answers first.
const hookTimeoutSeconds = 10

// NewCommand creates the install command
func NewCommand() *cobra.Command {
	var dir string
	var binary string

	cmd := &cobra.Command{
		Use:   "install",
		Short: "Register the hooks in a project's Claude settings",
		Long: `Write hook registrations for every phase into the project's
.claude/settings.local.json, creating the file when missing. Settings
and hook groups owned by other tools are preserved; registrations that
already point at this binary are replaced.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInstall(cmd, dir, binary)
		},
	}

	cmd.Flags().StringVar(&dir, "dir", ".", "Project directory containing .claude/")
	cmd.Flags().StringVar(&binary, "binary", "", "Hook command path (default: this executable)")

	return cmd
}

func runInstall(cmd *cobra.Command, dir, binary string) error {
	if binary == "" {
		exe, err := os.Executable()
		if err != nil {
			return fmt.Errorf("resolving executable path: %w", err)
		}
		binary = exe
	}

	path := filepath.Join(dir, ".claude", "settings.local.json")
	if err := Install(path, binary); err != nil {
		return err
	}

	cmd.Printf("Registered %d hooks in %s\n", len(hookio.Phases), path)
	return nil
}

// Install merges hook registrations for every phase into the settings
// file at path.
func Install(path, binary string) error {
	settings, err := readSettings(path)
	if err != nil {
		return err
	}

	hooks, _ := settings["hooks"].(map[string]any)
	if hooks == nil {
		hooks = map[string]any{}
	}

	for _, phase := range hookio.Phases {
		command := fmt.Sprintf("%s hook %s", binary, phase)
		name := phase.HookEventName()
		hooks[name] = mergeGroups(hooks[name], command)
	}
	settings["hooks"] = hooks

	return writeSettings(path, settings)
}

func readSettings(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return map[string]any{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	var settings map[string]any
	if err := json.Unmarshal(data, &settings); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return settings, nil
}

// mergeGroups rebuilds one event's hook groups: groups owned by other
// tools survive, ours is replaced with the current registration.
func mergeGroups(existing any, command string) []any {
	groups, _ := existing.([]any)
	merged := make([]any, 0, len(groups)+1)
	for _, g := range groups {
		if ownsGroup(g) {
			continue
		}
		merged = append(merged, g)
	}

	return append(merged, map[string]any{
		"hooks": []any{
			map[string]any{
				"type":    "command",
				"command": command,
				"timeout": hookTimeoutSeconds,
			},
		},
	})
}

// ownsGroup reports whether a hook group invokes this tool. Matching on
// the binary basename rather than the full path keeps reinstalls from a
// moved binary from stacking duplicate registrations.
func ownsGroup(group any) bool {
	m, ok := group.(map[string]any)
	if !ok {
		return false
	}
	entries, _ := m["hooks"].([]any)
	for _, entry := range entries {
		em, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		command, _ := em["command"].(string)
		fields := strings.Fields(command)
		if len(fields) >= 2 && fields[1] == "hook" && strings.Contains(filepath.Base(fields[0]), "baton") {
			return true
		}
	}
	return false
}

func writeSettings(path string, settings map[string]any) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}

	data, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling settings: %w", err)
	}
	data = append(data, '\n')

	tmp, err := os.CreateTemp(dir, ".settings-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp settings file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing settings: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing settings file: %w", err)
	}
	if err := os.Chmod(tmpPath, 0644); err != nil {
		return fmt.Errorf("setting permissions: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("replacing %s: %w", path, err)
	}
	return nil
}
