// Copyright (c) 2024 Behnam Momeni
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package clientdb provides the PostgreSQL-backed implementation of
// repo.ClientDatabase: the target backend against which a
// DeploymentWorker's step statements are actually executed.
package clientdb

import (
	"context"
	"fmt"

	"github.com/arqdb/schemadeploy/pkg/adapter/db/postgres"
	"github.com/arqdb/schemadeploy/pkg/core/repo"
)

// DB runs migration statement batches against a *postgres.Pool, each
// batch as one transaction, so a multi-statement mutation either
// fully applies or has no effect.
type DB struct {
	pool *postgres.Pool
}

// New builds a DB over pool.
func New(pool *postgres.Pool) *DB {
	return &DB{pool: pool}
}

// Run executes stmts.SQL in order inside one transaction. An empty
// stmts is a no-op.
func (d *DB) Run(ctx context.Context, stmts repo.Statements) error {
	if stmts.Empty() {
		return nil
	}
	return d.pool.Conn(ctx, func(ctx context.Context, c repo.Conn) error {
		return c.Tx(ctx, func(ctx context.Context, tx repo.Tx) error {
			for _, sql := range stmts.SQL {
				if _, err := tx.Exec(ctx, sql); err != nil {
					return fmt.Errorf("clientdb: executing statement: %w", err)
				}
			}
			return nil
		})
	})
}
