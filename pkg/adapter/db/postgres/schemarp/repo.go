// Copyright (c) 2024 Behnam Momeni
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package schemarp provides a reification of the repo.Schema
// interface, creating or dropping project schema and managing the
// database roles a DeploymentWorker connects as. It is used by the
// bootstrapper only, never by a running worker.
package schemarp

import (
	"context"

	"github.com/arqdb/schemadeploy/pkg/adapter/db/postgres"
	"github.com/arqdb/schemadeploy/pkg/core/repo"
	"github.com/arqdb/schemadeploy/pkg/core/scram"
)

// Repo represents a schema management repository. roleSuffix, when
// non-empty, is appended to every repo.Role name this Repo manages,
// so multiple environments (e.g., per developer, per test run) can
// share one PostgreSQL cluster without role name collisions.
type Repo struct {
	roleSuffix repo.Role
	hasher     scram.Hasher
}

// New instantiates a schema management Repo. hasher is used by
// ChangePasswords to turn plaintext passwords into SCRAM-formatted
// hashes before they are sent in any DDL statement.
func New(roleSuffix repo.Role, hasher scram.Hasher) *Repo {
	return &Repo{roleSuffix: roleSuffix, hasher: hasher}
}

type connQueryer struct {
	*postgres.Conn
	roleSuffix repo.Role
}

// Conn unwraps the given repo.Conn instance, expecting to find an
// instance of *postgres.Conn as created by this adapter layer.
// Otherwise, it will panic. Unwrapped connection will be wrapped and
// returned as an instance of repo.SchemaConnQueryer interface, so
// it can be used in the use cases layer without requiring to type
// assert again and again.
func (schema *Repo) Conn(c repo.Conn) repo.SchemaConnQueryer {
	cc := c.(*postgres.Conn)
	return connQueryer{Conn: cc, roleSuffix: schema.roleSuffix}
}

// DropIfExists drops the `schema` schema without cascading if it
// exists.
func (cq connQueryer) DropIfExists(
	ctx context.Context, schema string,
) error {
	return DropIfExists(ctx, cq.Conn, schema)
}

// DropCascade drops `schema` schema with cascading, dropping all
// dependent objects recursively.
func (cq connQueryer) DropCascade(
	ctx context.Context, schema string,
) error {
	return DropCascade(ctx, cq.Conn, schema)
}

// CreateSchema tries to create the `schema` schema.
func (cq connQueryer) CreateSchema(
	ctx context.Context, schema string,
) error {
	return CreateSchema(ctx, cq.Conn, schema)
}

// CreateRoleIfNotExists creates the `role` role if it does not
// exist right now, suffixed per this queryer's roleSuffix.
func (cq connQueryer) CreateRoleIfNotExists(
	ctx context.Context, role repo.Role,
) error {
	return CreateRoleIfNotExists(ctx, cq.Conn, cq.roleSuffix, role)
}

// GrantPrivileges grants ALL privileges on the `schema` schema
// to the `role` role.
func (cq connQueryer) GrantPrivileges(
	ctx context.Context, schema string, role repo.Role,
) error {
	return GrantPrivileges(ctx, cq.Conn, cq.roleSuffix, schema, role)
}

// SetSearchPath alters the given database role and sets its default
// search_path to the given schema name alone.
func (cq connQueryer) SetSearchPath(
	ctx context.Context, schema string, role repo.Role,
) error {
	return SetSearchPath(ctx, cq.Conn, cq.roleSuffix, schema, role)
}

type txQueryer struct {
	*postgres.Tx
	roleSuffix repo.Role
	hasher     scram.Hasher
}

// Tx unwraps the given repo.Tx instance, expecting to find an instance
// of *postgres.Tx as created by this adapter layer. Otherwise, it will
// panic. Unwrapped transaction will be wrapped and returned as an
// instance of repo.SchemaTxQueryer interface, so it can be used in
// the use cases layer without requiring to type assert again and
// again.
func (schema *Repo) Tx(tx repo.Tx) repo.SchemaTxQueryer {
	tt := tx.(*postgres.Tx)
	return txQueryer{Tx: tt, roleSuffix: schema.roleSuffix, hasher: schema.hasher}
}

// DropIfExists drops the `schema` schema without cascading if it
// exists.
func (tq txQueryer) DropIfExists(
	ctx context.Context, schema string,
) error {
	return DropIfExists(ctx, tq.Tx, schema)
}

// DropCascade drops `schema` schema with cascading, dropping all
// dependent objects recursively.
func (tq txQueryer) DropCascade(
	ctx context.Context, schema string,
) error {
	return DropCascade(ctx, tq.Tx, schema)
}

// CreateSchema tries to create the `schema` schema.
func (tq txQueryer) CreateSchema(
	ctx context.Context, schema string,
) error {
	return CreateSchema(ctx, tq.Tx, schema)
}

// CreateRoleIfNotExists creates the `role` role if it does not
// exist right now, suffixed per this queryer's roleSuffix.
func (tq txQueryer) CreateRoleIfNotExists(
	ctx context.Context, role repo.Role,
) error {
	return CreateRoleIfNotExists(ctx, tq.Tx, tq.roleSuffix, role)
}

// GrantPrivileges grants ALL privileges on the `schema` schema
// to the `role` role.
func (tq txQueryer) GrantPrivileges(
	ctx context.Context, schema string, role repo.Role,
) error {
	return GrantPrivileges(ctx, tq.Tx, tq.roleSuffix, schema, role)
}

// SetSearchPath alters the given database role and sets its default
// search_path to the given schema name alone.
func (tq txQueryer) SetSearchPath(
	ctx context.Context, schema string, role repo.Role,
) error {
	return SetSearchPath(ctx, tq.Tx, tq.roleSuffix, schema, role)
}

// ChangePasswords updates the passwords of the given roles in the
// current transaction, hashing each one with this Repo's scram.Hasher
// before it reaches any SQL statement.
func (tq txQueryer) ChangePasswords(
	ctx context.Context, roles []repo.Role, passwords []string,
) error {
	return ChangePasswords(ctx, tq.Tx, tq.roleSuffix, tq.hasher, roles, passwords)
}
