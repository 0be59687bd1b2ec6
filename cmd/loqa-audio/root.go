/*
 * This file is part of Loqa (https://github.com/loqalabs/loqa).
 * Copyright (C) 2025 Loqa Labs
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program. If not, see <https://www.gnu.org/licenses/>.
 */

package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/loqalabs/loqa-audio-go/internal/audio"
	"github.com/loqalabs/loqa-audio-go/internal/config"
	"github.com/loqalabs/loqa-audio-go/internal/observe"
)

type rootFlags struct {
	configPath string
	backend    string
	device     string
	logLevel   string
}

// app is the state shared by every subcommand after the root pre-run
type app struct {
	cfg     *config.Config
	logFile *os.File
}

func newRootCmd() *cobra.Command {
	var flags rootFlags
	a := &app{}

	cmd := &cobra.Command{
		Use:     "loqa-audio",
		Short:   "Real-time audio capture and playback",
		Version: version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(flags.configPath)
			if err != nil {
				return err
			}
			flags.apply(cmd, cfg)
			a.cfg = cfg

			a.logFile, err = observe.ConfigureLogger(cfg.Log.Level, cfg.Log.File)
			return err
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if a.logFile != nil {
				return a.logFile.Close()
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	cmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "Path to a config file (yaml, toml or json)")
	cmd.PersistentFlags().StringVar(&flags.backend, "backend", "", "Audio backend (overrides config)")
	cmd.PersistentFlags().StringVar(&flags.device, "device", "", "Device name (overrides config)")
	cmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "Log level: none, error, warn, info, debug")

	cmd.AddCommand(newCaptureCmd(a))
	cmd.AddCommand(newPlayCmd(a))
	cmd.AddCommand(newServeCmd(a))
	cmd.AddCommand(newBackendsCmd())

	return cmd
}

// apply lets explicitly set flags win over the file and environment
func (f *rootFlags) apply(cmd *cobra.Command, cfg *config.Config) {
	if cmd.Flags().Changed("backend") {
		cfg.Backend = f.backend
	}
	if cmd.Flags().Changed("device") {
		cfg.Device = f.device
	}
	if cmd.Flags().Changed("log-level") {
		cfg.Log.Level = f.logLevel
	}
}

// openHandle initializes the configured backend and opens an endpoint on it.
// The returned cleanup closes both.
func (a *app) openHandle(opts ...audio.HandleOption) (*audio.Handle, func(), error) {
	backend, err := audio.NewBackend(a.cfg.Backend)
	if err != nil {
		return nil, nil, err
	}
	if err := backend.Initialize(); err != nil {
		return nil, nil, fmt.Errorf("initialize %s backend: %w", backend.Name(), err)
	}

	opts = append(a.cfg.HandleOptions(), opts...)
	h, err := audio.NewHandle(backend, opts...)
	if err == nil {
		err = a.cfg.Apply(h)
	}
	if err != nil {
		_ = backend.Terminate()
		return nil, nil, err
	}

	cleanup := func() {
		if err := h.Close(); err != nil {
			slog.Warn("failed to close audio handle", "error", err)
		}
		if err := backend.Terminate(); err != nil {
			slog.Warn("failed to terminate audio backend", "backend", backend.Name(), "error", err)
		}
	}
	return h, cleanup, nil
}

func newBackendsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "backends",
		Short: "List the audio backends built into this binary",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, name := range audio.BackendNames() {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		},
	}
}
