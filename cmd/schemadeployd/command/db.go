// Copyright (c) 2024 Behnam Momeni
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package command

import "github.com/spf13/cobra"

var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Database provisioning actions",
	Long: `Database provisioning actions can be chosen by sub-commands.
Currently, bootstrap is the only one: it provisions a new project's
schema and role before that project's first DeploymentWorker starts.`,
}

func init() {
	rootCmd.AddCommand(dbCmd)
}
