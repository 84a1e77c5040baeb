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

// Package hook implements the subcommand hook registrations invoke once
// per host event. It resolves the runtime directory and configuration,
// then hands the invocation to the engine.
package hook

import (
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/tombee/baton/internal/commands/shared"
	"github.com/tombee/baton/internal/config"
	"github.com/tombee/baton/internal/engine"
	"github.com/tombee/baton/internal/hookio"
	"github.com/tombee/baton/internal/log"
)

// NewCommand creates the hook command
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hook <phase>",
		Short: "Process one hook invocation from stdin",
		Long: `Read a hook payload from stdin, fold it into the run state under the
runtime directory, and answer on stdout with the response the host
expects. Invoked by the registrations 'baton install' writes, not by
hand.

Phases: pre-tool-use, post-tool-use, subagent-start, subagent-stop,
session-start, stop.`,
		Args: cobra.ExactArgs(1),
		RunE: runHook,
	}

	return cmd
}

func runHook(cmd *cobra.Command, args []string) error {
	phase, err := hookio.ParsePhase(args[0])
	if err != nil {
		return shared.NewUsageError("invalid hook phase", err)
	}

	root, err := resolveRuntimeDir()
	if err != nil {
		// Nowhere to keep state. Still answer so the session never stalls.
		return hookio.WriteResponse(os.Stdout, phase)
	}

	cfgPath := shared.GetConfigPath()
	if cfgPath == "" {
		cfgPath = config.ConfigPath(root)
	}
	cfg, cfgErr := config.Load(cfgPath)

	logger, closeLog := newLogger(root, cfg)
	defer closeLog()
	if cfgErr != nil {
		logger.Warn("config file ignored", log.Error(cfgErr))
	}

	return engine.New(root, cfg, logger).Run(phase)
}

// resolveRuntimeDir prefers the --runtime-dir flag over the environment
// and XDG resolution chain.
func resolveRuntimeDir() (string, error) {
	if dir := shared.GetRuntimeDir(); dir != "" {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return "", err
		}
		return dir, nil
	}
	return config.RuntimeDir()
}

// newLogger returns a file logger on debug.log when debug logging is on,
// and a silent logger otherwise. Stdout carries the protocol response and
// stderr is surfaced to the host, so a file is the only safe sink.
// BATON_DEBUG is folded into the config level during Load.
func newLogger(root string, cfg *config.Config) (*slog.Logger, func() error) {
	level := cfg.Log.Level
	if shared.GetVerbose() {
		level = "debug"
	}
	if level != "debug" && level != "trace" {
		return log.Silent(), func() error { return nil }
	}
	return log.NewFileLogger(filepath.Join(root, "debug.log"), level)
}
