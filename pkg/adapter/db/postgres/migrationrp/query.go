// Copyright (c) 2024 Behnam Momeni
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package migrationrp

import (
	"context"
	"errors"
	"fmt"

	"github.com/arqdb/schemadeploy/pkg/adapter/db/postgres"
	"github.com/arqdb/schemadeploy/pkg/core/model"
	"github.com/goccy/go-json"
	"gorm.io/gorm"
)

// Queryer is the set of postgres adapter types this package's
// generic functions can run against: either type provides a GORM
// session bound to a context, in addition to the plain repo.Queryer
// methods used elsewhere in the adapter layer.
type Queryer interface {
	*postgres.Conn | *postgres.Tx
	GORM(context.Context) *gorm.DB
}

// migrationRow is the gorm row mapping for the migrations table.
type migrationRow struct {
	ID        uint64 `gorm:"column:id;primaryKey"`
	ProjectID string `gorm:"column:project_id"`
	Revision  uint64 `gorm:"column:revision"`
	Schema    []byte `gorm:"column:schema"`
	Status    string `gorm:"column:status"`
}

func (migrationRow) TableName() string { return "migrations" }

// migrationStepRow is the gorm row mapping for the migration_steps
// table. Position preserves step order within a migration.
type migrationStepRow struct {
	ID          uint64 `gorm:"column:id;primaryKey"`
	MigrationID uint64 `gorm:"column:migration_id"`
	Position    int    `gorm:"column:position"`
	Kind        string `gorm:"column:kind"`
	ModelName   string `gorm:"column:model_name"`
	FieldName   string `gorm:"column:field_name"`
	Field       []byte `gorm:"column:field"`
	Annotation  string `gorm:"column:annotation"`
}

func (migrationStepRow) TableName() string { return "migration_steps" }

func getLastMigration[Q Queryer](
	ctx context.Context, q Q, projectID string,
) (*model.Migration, error) {
	var row migrationRow
	err := q.GORM(ctx).
		Where("project_id = ?", projectID).
		Order("revision DESC").
		Limit(1).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("migrationrp: loading last migration: %w", err)
	}
	migration, err := hydrate(ctx, q, row)
	if err != nil {
		return nil, err
	}
	return &migration, nil
}

func getNextMigration[Q Queryer](
	ctx context.Context, q Q, projectID string,
) (*model.Migration, error) {
	var row migrationRow
	err := q.GORM(ctx).
		Where("project_id = ? AND status = ?", projectID, model.Pending.String()).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("migrationrp: loading next migration: %w", err)
	}
	migration, err := hydrate(ctx, q, row)
	if err != nil {
		return nil, err
	}
	return &migration, nil
}

func getByRevision[Q Queryer](
	ctx context.Context, q Q, projectID string, revision uint64,
) (*model.Migration, error) {
	var row migrationRow
	err := q.GORM(ctx).
		Where("project_id = ? AND revision = ?", projectID, revision).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("migrationrp: loading migration by revision: %w", err)
	}
	migration, err := hydrate(ctx, q, row)
	if err != nil {
		return nil, err
	}
	return &migration, nil
}

// createInitialMigration persists the zeroth Migration for projectID:
// revision 0, no steps, already in a terminal Success status. A
// worker's startup sequence (GetLastMigration) expects to find this
// row before it ever runs; it is written once by the bootstrapper,
// never by the worker or by createMigration's Pending-revision path.
func createInitialMigration[Q Queryer](
	ctx context.Context, q Q, projectID string, schema model.Schema,
) (model.Migration, error) {
	schemaJSON, err := json.Marshal(schema)
	if err != nil {
		return model.Migration{}, fmt.Errorf(
			"migrationrp: marshaling schema: %w", err)
	}
	row := migrationRow{
		ProjectID: projectID,
		Revision:  0,
		Schema:    schemaJSON,
		Status:    model.Success.String(),
	}
	if err := q.GORM(ctx).Create(&row).Error; err != nil {
		return model.Migration{}, fmt.Errorf(
			"migrationrp: inserting initial migration: %w", err)
	}
	return model.Migration{
		ProjectID: projectID,
		Schema:    schema,
		Revision:  0,
		Status:    model.Success,
	}, nil
}

func createMigration[Q Queryer](
	ctx context.Context, q Q, migration model.Migration,
) (model.Migration, error) {
	schemaJSON, err := json.Marshal(migration.Schema)
	if err != nil {
		return model.Migration{}, fmt.Errorf(
			"migrationrp: marshaling schema: %w", err)
	}

	var lastRevision uint64
	err = q.GORM(ctx).
		Model(&migrationRow{}).
		Where("project_id = ?", migration.ProjectID).
		Select("COALESCE(MAX(revision), 0)").
		Scan(&lastRevision).Error
	if err != nil {
		return model.Migration{}, fmt.Errorf(
			"migrationrp: computing next revision: %w", err)
	}

	row := migrationRow{
		ProjectID: migration.ProjectID,
		Revision:  lastRevision + 1,
		Schema:    schemaJSON,
		Status:    model.Pending.String(),
	}
	if err := q.GORM(ctx).Create(&row).Error; err != nil {
		return model.Migration{}, fmt.Errorf(
			"migrationrp: inserting migration: %w", err)
	}

	stepRows := make([]migrationStepRow, 0, len(migration.Steps))
	for i, step := range migration.Steps {
		fieldJSON, err := json.Marshal(step.Field)
		if err != nil {
			return model.Migration{}, fmt.Errorf(
				"migrationrp: marshaling step field: %w", err)
		}
		stepRows = append(stepRows, migrationStepRow{
			MigrationID: row.ID,
			Position:    i,
			Kind:        step.Kind.String(),
			ModelName:   step.ModelName,
			FieldName:   step.FieldName,
			Field:       fieldJSON,
			Annotation:  step.Annotation,
		})
	}
	if len(stepRows) > 0 {
		if err := q.GORM(ctx).Create(&stepRows).Error; err != nil {
			return model.Migration{}, fmt.Errorf(
				"migrationrp: inserting migration steps: %w", err)
		}
	}

	migration.Revision = row.Revision
	migration.Status = model.Pending
	return migration, nil
}

func updateMigrationStatus[Q Queryer](
	ctx context.Context, q Q, migration model.Migration, status model.MigrationStatus,
) error {
	err := q.GORM(ctx).
		Model(&migrationRow{}).
		Where("project_id = ? AND revision = ?", migration.ProjectID, migration.Revision).
		Update("status", status.String()).Error
	if err != nil {
		return fmt.Errorf("migrationrp: updating migration status: %w", err)
	}
	return nil
}

// hydrate loads row's steps and assembles the full model.Migration.
func hydrate[Q Queryer](
	ctx context.Context, q Q, row migrationRow,
) (model.Migration, error) {
	var schema model.Schema
	if err := json.Unmarshal(row.Schema, &schema); err != nil {
		return model.Migration{}, fmt.Errorf(
			"migrationrp: unmarshaling schema: %w", err)
	}

	var stepRows []migrationStepRow
	err := q.GORM(ctx).
		Where("migration_id = ?", row.ID).
		Order("position ASC").
		Find(&stepRows).Error
	if err != nil {
		return model.Migration{}, fmt.Errorf(
			"migrationrp: loading migration steps: %w", err)
	}

	steps := make([]model.MigrationStep, 0, len(stepRows))
	for _, sr := range stepRows {
		kind, err := model.ParseStepKind(sr.Kind)
		if err != nil {
			return model.Migration{}, fmt.Errorf(
				"migrationrp: parsing step kind: %w", err)
		}
		var field model.FieldDef
		if len(sr.Field) > 0 {
			if err := json.Unmarshal(sr.Field, &field); err != nil {
				return model.Migration{}, fmt.Errorf(
					"migrationrp: unmarshaling step field: %w", err)
			}
		}
		steps = append(steps, model.MigrationStep{
			Kind:       kind,
			ModelName:  sr.ModelName,
			FieldName:  sr.FieldName,
			Field:      field,
			Annotation: sr.Annotation,
		})
	}

	status, err := model.ParseMigrationStatus(row.Status)
	if err != nil {
		return model.Migration{}, fmt.Errorf(
			"migrationrp: parsing migration status: %w", err)
	}

	return model.Migration{
		ProjectID: row.ProjectID,
		Schema:    schema,
		Steps:     steps,
		Revision:  row.Revision,
		Status:    status,
	}, nil
}
