// Copyright (c) 2024 Behnam Momeni
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package command

import (
	"context"
	"fmt"

	"github.com/arqdb/schemadeploy/pkg/adapter/config"
	"github.com/arqdb/schemadeploy/pkg/adapter/db/postgres"
	"github.com/arqdb/schemadeploy/pkg/adapter/db/postgres/clientdb"
	"github.com/arqdb/schemadeploy/pkg/adapter/db/postgres/migrationrp"
	"github.com/arqdb/schemadeploy/pkg/adapter/stepmapper"
	"github.com/arqdb/schemadeploy/pkg/core/repo"
	"github.com/arqdb/schemadeploy/pkg/core/supervisor"
	"github.com/arqdb/schemadeploy/pkg/core/usecase/deploymentuc"
)

// wiring bundles every component the serve command's HTTP surface
// needs to drive a Supervisor, so construction doesn't spill across
// serve.go.
type wiring struct {
	cfg        *config.Config
	pool       *postgres.Pool
	migrations *migrationrp.Repo
	supervisor *supervisor.Supervisor
}

// newWiring loads the config at cfgPath, opens a connection pool as
// the normal (unprivileged) role, and assembles the migration
// persistence, step mapper, client database, and supervisor layers
// around it. The same pool backs both the migration metadata tables
// and the client database statements this reference deployment runs
// DDL through; a multi-schema deployment would instead hand each
// project's worker a pool connected as that project's own
// bootstrapped role, keyed by the schema schemarp provisioned for it.
//
// The supervisor is given the configured stash buffer size as a
// default WorkerOption, so every worker it spawns picks it up no
// matter which request first references that worker's project.
func newWiring(ctx context.Context, cfgPath string) (*wiring, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("config.Load(%q): %w", cfgPath, err)
	}
	pool, err := cfg.Database.ConnectionPool(ctx, repo.NormalRole)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	migrations := migrationrp.New(pool)
	client := clientdb.New(pool)
	mapper := stepmapper.New()
	newEngine := func() *deploymentuc.MigrationEngine {
		applier := deploymentuc.NewStepApplier(mapper, client)
		return deploymentuc.NewMigrationEngine(applier)
	}
	sv := supervisor.New(ctx, migrations, newEngine,
		deploymentuc.WithStashBufferSize(cfg.Worker.StashBufferSize))
	return &wiring{
		cfg:        cfg,
		pool:       pool,
		migrations: migrations,
		supervisor: sv,
	}, nil
}

func (w *wiring) Close() error {
	return w.pool.Close()
}
