// Copyright (c) 2024 Behnam Momeni
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package deploymentuc

import (
	"context"
	"errors"
	"log/slog"

	"github.com/arqdb/schemadeploy/pkg/core/log"
	"github.com/arqdb/schemadeploy/pkg/core/model"
)

// MigrationEngine orchestrates a single forward-then-maybe-rollback
// run over a Migration's steps, driving a StepApplier.
//
// Apply is iterative rather than recursive in this implementation: a
// loop over MigrationProgress plays the role that mutual tail
// recursion (recurseForward / recurseForRollback) would in a
// tail-call-optimizing language. MigrationProgress remains an
// immutable value copied on every step, which keeps the loop body
// easy to reason about and to test in isolation.
type MigrationEngine struct {
	applier *StepApplier
}

// NewMigrationEngine builds a MigrationEngine over applier.
func NewMigrationEngine(applier *StepApplier) *MigrationEngine {
	return &MigrationEngine{applier: applier}
}

// Apply runs migration's steps forward against previousSchema and
// migration.Schema. On the first step failure it switches to rollback
// mode and reverse-applies every step considered applied so far,
// including the one that failed, swallowing (and logging) any error
// encountered while reversing. It returns once the progress is
// exhausted in whichever mode it ends up in.
//
// The loop strictly shrinks PendingSteps (forward mode) or
// AppliedSteps (rollback mode) on every iteration, so for a migration
// with n steps it terminates after at most 2n step operations.
func (e *MigrationEngine) Apply(
	ctx context.Context, previousSchema model.Schema, migration model.Migration,
) model.MigrationApplierResult {
	progress := model.NewMigrationProgress(migration.Steps)
	for {
		if !progress.IsRollingBack {
			if !progress.HasPending() {
				return model.MigrationApplierResult{Succeeded: true}
			}
			progress = e.stepForward(ctx, previousSchema, migration, progress)
			continue
		}
		if !progress.HasApplied() {
			return model.MigrationApplierResult{Succeeded: false}
		}
		progress = e.stepRollback(ctx, previousSchema, migration, progress)
	}
}

func (e *MigrationEngine) stepForward(
	ctx context.Context,
	previousSchema model.Schema,
	migration model.Migration,
	progress model.MigrationProgress,
) model.MigrationProgress {
	step, next := progress.PopPending()
	err := e.applier.ApplyStep(ctx, previousSchema, migration.Schema, step)
	if err == nil {
		return next
	}
	log.Warn(ctx, "forward step failed, switching to rollback",
		slog.String("project-id", migration.ProjectID),
		slog.Uint64("revision", migration.Revision),
		slog.String("step-kind", step.Kind.String()),
		log.Err("error", err),
	)
	return next.MarkForRollback()
}

func (e *MigrationEngine) stepRollback(
	ctx context.Context,
	previousSchema model.Schema,
	migration model.Migration,
	progress model.MigrationProgress,
) model.MigrationProgress {
	step, next := progress.PopApplied()
	err := e.applier.UnapplyStep(ctx, previousSchema, migration.Schema, step)
	switch {
	case err == nil:
	case errors.Is(err, ErrMissingRollbackMutation):
		// A missing rollback mutation is a programming error in the
		// step mapper, not a transient rollback failure; it still
		// does not halt the loop (progress must keep shrinking), but
		// it is logged at error level rather than swallowed quietly.
		log.Error(ctx, "rollback step has no reverse mutation",
			slog.String("project-id", migration.ProjectID),
			slog.Uint64("revision", migration.Revision),
			slog.String("step-kind", step.Kind.String()),
			log.Err("error", err),
		)
	default:
		log.Warn(ctx, "reverse step failed, continuing rollback",
			slog.String("project-id", migration.ProjectID),
			slog.Uint64("revision", migration.Revision),
			slog.String("step-kind", step.Kind.String()),
			log.Err("error", err),
		)
	}
	return next
}
