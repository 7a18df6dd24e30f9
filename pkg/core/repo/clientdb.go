// Copyright (c) 2024 Behnam Momeni
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package repo

import "context"

// Statements wraps a DB-runnable payload as a single executable unit.
// A single Statements value may contain more than one SQL statement;
// ClientDatabase.Run is responsible for submitting them atomically.
type Statements struct {
	SQL []string
}

// Empty reports whether s carries no statements at all, in which case
// ClientDatabase.Run should treat it as a no-op.
func (s Statements) Empty() bool {
	return len(s.SQL) == 0
}

// ClientDatabase is the target SQL backend against which migration
// mutations are executed. Implementations run each Statements value
// as one unit (e.g., one transaction) and report the first error
// encountered, if any.
type ClientDatabase interface {
	Run(ctx context.Context, stmts Statements) error
}
