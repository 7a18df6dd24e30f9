// Copyright (c) 2024 Behnam Momeni
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package deploymentuc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/arqdb/schemadeploy/pkg/core/log"
	"github.com/arqdb/schemadeploy/pkg/core/model"
	"github.com/arqdb/schemadeploy/pkg/core/repo"
)

// ErrMissingRollbackMutation is returned by UnapplyStep when the step
// mapper produced a forward mutation for a step but no reverse
// counterpart. It indicates a programming error in the step mapper
// (every reversible forward mutation must carry its reverse), not a
// runtime rollback failure. The engine's rollback loop logs it at
// error level rather than warning level, then continues reversing the
// remaining steps; it does not stop the rollback or return the error
// from MigrationEngine.Apply.
var ErrMissingRollbackMutation = errors.New(
	"deploymentuc: step mapper returned no rollback mutation",
)

// StepApplierOption configures a StepApplier built with NewStepApplier.
type StepApplierOption func(*StepApplier)

// StepApplier applies or reverses one MigrationStep at a time against
// a client database, using a StepMapper to translate the step plus
// its before/after schemas into zero or one database mutation.
type StepApplier struct {
	mapper        repo.StepMapper
	client        repo.ClientDatabase
	logStatements bool
}

// NewStepApplier builds a StepApplier over mapper and client.
func NewStepApplier(
	mapper repo.StepMapper,
	client repo.ClientDatabase,
	opts ...StepApplierOption,
) *StepApplier {
	a := &StepApplier{mapper: mapper, client: client}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// WithStatementLogging enables a debug-level log record naming every
// statement batch the StepApplier submits to the client database.
// It is off by default to keep per-step logging out of quiet runs.
func WithStatementLogging() StepApplierOption {
	return func(a *StepApplier) {
		a.logStatements = true
	}
}

func (a *StepApplier) maybeLog(
	ctx context.Context, verb string, step model.MigrationStep, stmts repo.Statements,
) {
	if !a.logStatements {
		return
	}
	log.Debug(ctx, "submitting client database statements",
		slog.String("verb", verb),
		slog.String("step-kind", step.Kind.String()),
		slog.String("model", step.ModelName),
		slog.Int("statement-count", len(stmts.SQL)),
	)
}

// ApplyStep maps step against (prev, next) and, if the mapper returned
// a mutation, submits its forward statements to the client database.
// It is a no-op when the mapper returns no mutation for step (e.g.,
// a metadata-only annotation step).
func (a *StepApplier) ApplyStep(
	ctx context.Context,
	prev, next model.Schema,
	step model.MigrationStep,
) error {
	mutaction, ok := a.mapper.MutactionFor(prev, next, step)
	if !ok {
		return nil
	}
	stmts := mutaction.Execute()
	if stmts.Empty() {
		return nil
	}
	a.maybeLog(ctx, "apply", step, stmts)
	if err := a.client.Run(ctx, stmts); err != nil {
		return fmt.Errorf("applying step %s/%s: %w",
			step.Kind, step.ModelName, err)
	}
	return nil
}

// UnapplyStep maps step against (prev, next) and, if the mapper
// returned a mutation, submits its rollback statements to the client
// database. It is a no-op when the mapper returns no mutation for
// step. It returns ErrMissingRollbackMutation if a mutation exists
// but carries no reverse counterpart.
func (a *StepApplier) UnapplyStep(
	ctx context.Context,
	prev, next model.Schema,
	step model.MigrationStep,
) error {
	mutaction, ok := a.mapper.MutactionFor(prev, next, step)
	if !ok {
		return nil
	}
	stmts, hasReverse := mutaction.Rollback()
	if !hasReverse {
		return fmt.Errorf("%w: step %s/%s",
			ErrMissingRollbackMutation, step.Kind, step.ModelName)
	}
	if stmts.Empty() {
		return nil
	}
	a.maybeLog(ctx, "unapply", step, stmts)
	if err := a.client.Run(ctx, stmts); err != nil {
		return fmt.Errorf("reversing step %s/%s: %w",
			step.Kind, step.ModelName, err)
	}
	return nil
}
