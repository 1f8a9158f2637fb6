// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianClosure/pkg/logging"
	"github.com/AleutianAI/AleutianClosure/pkg/ux"
	"github.com/AleutianAI/AleutianClosure/services/closure/config"
)

// rootOptions holds the persistent flags shared by every subcommand.
type rootOptions struct {
	configPath string
	dataset    string
	storage    string
	logLevel   string
	output     string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "closure",
		Short: "Compute graph fixpoints over partitioned edge files",
		Long: `closure loads two partitions of a graph at a time, runs a kernel over
the resident vertices until no new edges appear, and persists the result
before moving on to the next pair.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	flags := cmd.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "YAML config file")
	flags.StringVar(&opts.dataset, "dataset", "", "dataset base path (overrides dataset.base)")
	flags.StringVar(&opts.storage, "storage", "", "badger directory (overrides storage.path)")
	flags.StringVar(&opts.logLevel, "log-level", "", "debug, info, warn or error (overrides logging.level)")
	flags.StringVar(&opts.output, "output", "", "rich, minimal or machine (default: detect)")

	cmd.AddCommand(
		newRunCmd(opts),
		newScheduleCmd(opts),
		newInspectCmd(opts),
		newGenerateCmd(opts),
		newQueryCmd(opts),
	)
	return cmd
}

// loadConfig resolves the config for cmd, with the persistent flags and
// extra applied last.
func (o *rootOptions) loadConfig(cmd *cobra.Command, extra ...config.Override) (*config.Config, error) {
	overrides := []config.Override{func(c *config.Config) {
		if o.dataset != "" {
			c.Dataset.Base = o.dataset
		}
		if o.storage != "" {
			c.Storage.Path = o.storage
			c.Storage.InMemory = false
		}
		if o.logLevel != "" {
			c.Logging.Level = o.logLevel
		}
	}}
	cfg, err := config.Load(o.configPath, append(overrides, extra...)...)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// newLogger builds the process logger and installs it as the slog default.
func newLogger(cfg *config.Config, cmd *cobra.Command) *logging.Logger {
	lc := cfg.LoggingConfig("closure")
	lc.Output = cmd.ErrOrStderr()
	logger := logging.New(lc)
	slog.SetDefault(logger.Slog())
	return logger
}

// printer returns a ux printer for the command's stdout.
func (o *rootOptions) printer(cmd *cobra.Command) *ux.Printer {
	out := cmd.OutOrStdout()
	level := ux.DetectLevel(out)
	if o.output != "" {
		level = ux.ParseLevel(o.output)
	}
	return ux.NewPrinter(out, level)
}
