// Copyright (c) 2024 Behnam Momeni
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package migrationrp provides the PostgreSQL-backed implementation
// of repo.MigrationPersistence, storing each Migration as one row in
// the migrations table and its ordered steps as rows in
// migration_steps. A partial unique index on migrations(project_id)
// WHERE status = 'pending' enforces the at-most-one-pending invariant
// at the database level, independent of the worker's own pre-check.
package migrationrp

import (
	"context"
	"errors"
	"fmt"

	"github.com/arqdb/schemadeploy/pkg/adapter/db/postgres"
	"github.com/arqdb/schemadeploy/pkg/core/model"
	"github.com/arqdb/schemadeploy/pkg/core/repo"
	"gorm.io/gorm"
)

// Repo is a repo.MigrationPersistence implementation backed by a
// *postgres.Pool.
type Repo struct {
	pool *postgres.Pool
}

// New builds a Repo over pool.
func New(pool *postgres.Pool) *Repo {
	return &Repo{pool: pool}
}

// GetLastMigration returns the highest-revision Migration for
// projectID regardless of status.
func (r *Repo) GetLastMigration(
	ctx context.Context, projectID string,
) (result *model.Migration, err error) {
	err = r.pool.Conn(ctx, func(ctx context.Context, c repo.Conn) error {
		result, err = getLastMigration(ctx, c.(*postgres.Conn), projectID)
		return err
	})
	return result, err
}

// GetNextMigration returns the unique Pending Migration for
// projectID, or nil if none exists.
func (r *Repo) GetNextMigration(
	ctx context.Context, projectID string,
) (result *model.Migration, err error) {
	err = r.pool.Conn(ctx, func(ctx context.Context, c repo.Conn) error {
		result, err = getNextMigration(ctx, c.(*postgres.Conn), projectID)
		return err
	})
	return result, err
}

// GetByRevision returns the Migration at the given revision for
// projectID, or nil if none exists. It is an adapter-only extension
// used by the status HTTP surface; it is not part of
// repo.MigrationPersistence, since the core deployment worker never
// needs to look up an arbitrary past revision.
func (r *Repo) GetByRevision(
	ctx context.Context, projectID string, revision uint64,
) (result *model.Migration, err error) {
	err = r.pool.Conn(ctx, func(ctx context.Context, c repo.Conn) error {
		result, err = getByRevision(ctx, c.(*postgres.Conn), projectID, revision)
		return err
	})
	return result, err
}

// CreateInitial persists the zeroth Migration for projectID: an
// already-Success record carrying the project's starting schema, with
// no steps. It is used by the bootstrapper only, once per project,
// before any DeploymentWorker for that project is started.
func (r *Repo) CreateInitial(
	ctx context.Context, projectID string, schema model.Schema,
) (result model.Migration, err error) {
	err = r.pool.Conn(ctx, func(ctx context.Context, c repo.Conn) error {
		return c.Tx(ctx, func(ctx context.Context, tx repo.Tx) error {
			created, err := createInitialMigration(ctx, tx.(*postgres.Tx), projectID, schema)
			if err != nil {
				return err
			}
			result = created
			return nil
		})
	})
	return result, err
}

// Create persists migration with status Pending inside one
// transaction (the migration row plus every step row), returning the
// stored record with its assigned Revision.
func (r *Repo) Create(
	ctx context.Context, migration model.Migration,
) (result model.Migration, err error) {
	err = r.pool.Conn(ctx, func(ctx context.Context, c repo.Conn) error {
		return c.Tx(ctx, func(ctx context.Context, tx repo.Tx) error {
			created, err := createMigration(ctx, tx.(*postgres.Tx), migration)
			if err != nil {
				return err
			}
			result = created
			return nil
		})
	})
	if err != nil && isUniqueViolation(err) {
		return model.Migration{}, fmt.Errorf(
			"migrationrp: a pending migration already exists for project %q: %w",
			migration.ProjectID, err)
	}
	return result, err
}

// UpdateMigrationStatus moves migration to a terminal status. It is
// idempotent: updating a migration that already has the given status
// succeeds without error.
func (r *Repo) UpdateMigrationStatus(
	ctx context.Context, migration model.Migration, status model.MigrationStatus,
) error {
	return r.pool.Conn(ctx, func(ctx context.Context, c repo.Conn) error {
		return updateMigrationStatus(ctx, c.(*postgres.Conn), migration, status)
	})
}

func isUniqueViolation(err error) bool {
	var pgErr interface{ SQLState() string }
	if errors.As(err, &pgErr) {
		return pgErr.SQLState() == "23505"
	}
	return errors.Is(err, gorm.ErrDuplicatedKey)
}
