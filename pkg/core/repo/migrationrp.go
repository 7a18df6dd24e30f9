// Copyright (c) 2024 Behnam Momeni
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package repo

import (
	"context"

	"github.com/arqdb/schemadeploy/pkg/core/model"
)

// MigrationPersistence is the durable, linearizable-per-project store
// of Migration records consumed by the deployment use case. It is
// assumed to survive worker restarts and to be the single source of
// truth for which migration (if any) is currently Pending for a
// project.
type MigrationPersistence interface {
	// GetLastMigration returns the highest-revision Migration for
	// projectID regardless of status, or a nil Migration and a nil
	// error if the project has no migration at all.
	GetLastMigration(
		ctx context.Context, projectID string,
	) (*model.Migration, error)

	// GetNextMigration returns the unique Migration with status
	// Pending for projectID, or a nil Migration and a nil error if
	// none exists.
	GetNextMigration(
		ctx context.Context, projectID string,
	) (*model.Migration, error)

	// Create persists migration with status Pending and returns the
	// stored record, including its assigned Revision. It fails if a
	// Pending migration already exists for migration.ProjectID: this
	// invariant must be enforced by the persistence layer itself
	// (e.g., a partial unique index), not only by the worker's
	// pre-check, since the two are not atomic with each other.
	Create(
		ctx context.Context, migration model.Migration,
	) (model.Migration, error)

	// UpdateMigrationStatus moves migration to a terminal status.
	// It is idempotent for equal transitions: calling it twice with
	// the same status is not an error.
	UpdateMigrationStatus(
		ctx context.Context,
		migration model.Migration,
		status model.MigrationStatus,
	) error
}
