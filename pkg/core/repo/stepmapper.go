// Copyright (c) 2024 Behnam Momeni
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package repo

import (
	"github.com/arqdb/schemadeploy/pkg/core/model"
)

// ClientSqlMutaction is the concrete database operation produced by
// mapping a MigrationStep against its before/after schemas. It may
// carry a reverse counterpart for use during rollback.
type ClientSqlMutaction interface {
	// Execute returns the statements to run for a forward application
	// of the step that produced this mutaction.
	Execute() Statements

	// Rollback returns the statements to run for a reverse
	// application, and whether a reverse counterpart exists at all.
	// Reverse must exist whenever Execute is non-empty; its absence
	// during an actual rollback is a programming error, not a runtime
	// failure, and is surfaced as MissingRollbackMutation.
	Rollback() (Statements, bool)
}

// StepMapper is a pure function (no I/O, no context) translating a
// logical MigrationStep plus its before/after schemas into zero or
// one database mutation. Some steps (e.g., metadata-only annotations)
// have no database effect and the mapper returns ok == false for
// them.
type StepMapper interface {
	MutactionFor(
		prev, next model.Schema,
		step model.MigrationStep,
	) (mutaction ClientSqlMutaction, ok bool)
}
