// Copyright (c) 2024 Behnam Momeni
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package command provides the root and sub-commands for the
// schemadeployd process. Commands are organized using the cobra
// library. The root command starts the status/admin HTTP server,
// which spawns a project's DeploymentWorker the first time that
// project is referenced; the "db" sub-command provisions a new
// project before its first worker runs, and the "schedule" command
// submits a migration directly against the core use case layer,
// without going through the HTTP surface.
//
//	./schemadeployd [-c /path/of/config.yaml]
//	./schemadeployd db bootstrap <project-id> <schema.json>
//	./schemadeployd schedule <project-id> <next-schema.json> <steps.json>
package command

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:   "schemadeployd",
	Short: "Per-project database schema migration worker",
	Long: `schemadeployd spawns one DeploymentWorker per project on
first reference, each serializing admission of schema migrations,
applying their steps forward against a client database, and rolling
back automatically on the first failure. A status/admin HTTP surface
exposes migration submission and polling; the db and schedule
sub-commands provide the same capabilities from the command line for
provisioning and scripting.`,
	RunE: startServer,
	Args: cobra.NoArgs,
}

func startServer(_ *cobra.Command, _ []string) error {
	ctx := context.Background()
	w, err := newWiring(ctx, cfgPath)
	if err != nil {
		return err
	}
	defer w.Close()
	return serve(ctx, w)
}

// Execute runs the rootCmd which in turn parses CLI arguments and
// flags and runs the most specific cobra command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(fixConfigPath)
	rootCmd.PersistentFlags().StringVarP(
		&cfgPath, "config", "c", "", "config file path",
	)
}

// fixConfigPath ensures that cfgPath is set respectively by either the
// CLI args, the CONFIG_FILE environment variable, or its default
// value.
func fixConfigPath() {
	if cfgPath != "" {
		return
	}
	var found bool
	if cfgPath, found = os.LookupEnv("CONFIG_FILE"); !found {
		cfgPath = "configs/sample-config.yaml"
	}
}
