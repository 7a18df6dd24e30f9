// Copyright (c) 2024 Behnam Momeni
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package command

import (
	"context"
	"fmt"
	"os"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/arqdb/schemadeploy/pkg/adapter/config"
	"github.com/arqdb/schemadeploy/pkg/adapter/db/postgres/clientdb"
	"github.com/arqdb/schemadeploy/pkg/adapter/db/postgres/migrationrp"
	"github.com/arqdb/schemadeploy/pkg/adapter/stepmapper"
	"github.com/arqdb/schemadeploy/pkg/core/model"
	"github.com/arqdb/schemadeploy/pkg/core/repo"
	"github.com/arqdb/schemadeploy/pkg/core/usecase/deploymentuc"
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule <project-id> <next-schema.json> <steps.json>",
	Short: "Submit and run a migration for a project synchronously",
	Long: `Schedule reads the target schema and ordered steps from the
given JSON files, admits and persists a Migration for the named
project exactly like the HTTP surface's schedule endpoint, then runs
the MigrationEngine over it to completion before returning.

Unlike the long-running server, this command does not go through a
DeploymentWorker's mailbox: a one-shot CLI invocation has no concurrent
callers of its own to serialize against, so it drives the persistence,
engine, and client database layers directly. The database's partial
unique index on (project_id) WHERE status = 'pending' still protects
against a race with a server process running against the same
database.`,
	RunE: schedule,
	Args: cobra.ExactArgs(3),
}

func schedule(_ *cobra.Command, args []string) error {
	projectID, schemaPath, stepsPath := args[0], args[1], args[2]
	ctx := context.Background()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("config.Load(%q): %w", cfgPath, err)
	}
	nextSchema, err := loadSchemaFile(schemaPath)
	if err != nil {
		return fmt.Errorf("loading %q: %w", schemaPath, err)
	}
	steps, err := loadStepsFile(stepsPath)
	if err != nil {
		return fmt.Errorf("loading %q: %w", stepsPath, err)
	}

	pool, err := cfg.Database.ConnectionPool(ctx, repo.NormalRole)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer pool.Close()
	migrations := migrationrp.New(pool)

	last, err := migrations.GetLastMigration(ctx, projectID)
	if err != nil {
		return fmt.Errorf("loading last migration: %w", err)
	}
	if last == nil {
		return fmt.Errorf(
			"project %q has no migration; run 'db bootstrap' first", projectID)
	}
	if pending, err := migrations.GetNextMigration(ctx, projectID); err != nil {
		return fmt.Errorf("checking admission: %w", err)
	} else if pending != nil {
		return fmt.Errorf(
			"project %q already has a pending migration at revision %d",
			projectID, pending.Revision)
	}

	created, err := migrations.Create(ctx, model.Migration{
		ProjectID: projectID,
		Schema:    nextSchema,
		Steps:     steps,
		Status:    model.Pending,
	})
	if err != nil {
		return fmt.Errorf("persisting migration: %w", err)
	}

	applier := deploymentuc.NewStepApplier(stepmapper.New(), clientdb.New(pool))
	engine := deploymentuc.NewMigrationEngine(applier)
	result := engine.Apply(ctx, last.Schema, created)
	status := model.Success
	if !result.Succeeded {
		status = model.RollbackFailure
	}
	if err := migrations.UpdateMigrationStatus(ctx, created, status); err != nil {
		return fmt.Errorf("persisting terminal status: %w", err)
	}
	fmt.Printf("revision %d for project %q finished with status %s\n",
		created.Revision, projectID, status)
	return nil
}

func loadStepsFile(path string) ([]model.MigrationStep, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var steps []model.MigrationStep
	if err := json.Unmarshal(b, &steps); err != nil {
		return nil, err
	}
	return steps, nil
}

func init() {
	rootCmd.AddCommand(scheduleCmd)
}
