// Copyright (c) 2024 Behnam Momeni
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package schemarp

import (
	"context"
	"fmt"
	"regexp"

	"github.com/arqdb/schemadeploy/pkg/adapter/db/postgres"
	"github.com/arqdb/schemadeploy/pkg/core/repo"
	"github.com/arqdb/schemadeploy/pkg/core/scram"
)

// identPattern restricts schema and role name fragments accepted by
// this package to a conservative safe subset, since PostgreSQL does
// not support parameter placeholders for identifiers in DDL
// statements. Callers are documented as responsible for passing
// trusted names; this is a defense-in-depth backstop, not the only
// line of defense.
var identPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func quoteIdent(name string) (string, error) {
	if !identPattern.MatchString(name) {
		return "", fmt.Errorf("schemarp: %q is not a valid identifier", name)
	}
	return `"` + name + `"`, nil
}

func roleName(roleSuffix, role repo.Role) (string, error) {
	name := string(role)
	if roleSuffix != "" {
		name = name + "_" + string(roleSuffix)
	}
	return quoteIdent(name)
}

// DropIfExists drops the `schema` schema without cascading if it
// exists.
func DropIfExists[Q postgres.Queryer](
	ctx context.Context, q Q, schema string,
) error {
	ident, err := quoteIdent(schema)
	if err != nil {
		return err
	}
	_, err = q.Exec(ctx, fmt.Sprintf("DROP SCHEMA IF EXISTS %s", ident))
	return err
}

// DropCascade drops `schema` schema with cascading, dropping all
// dependent objects recursively. The `schema` must exist, otherwise,
// an error will be returned.
func DropCascade[Q postgres.Queryer](
	ctx context.Context, q Q, schema string,
) error {
	ident, err := quoteIdent(schema)
	if err != nil {
		return err
	}
	_, err = q.Exec(ctx, fmt.Sprintf("DROP SCHEMA %s CASCADE", ident))
	return err
}

// CreateSchema tries to create the `schema` schema. There must be no
// other schema with the `schema` name, otherwise, this operation will
// fail.
func CreateSchema[Q postgres.Queryer](
	ctx context.Context, q Q, schema string,
) error {
	ident, err := quoteIdent(schema)
	if err != nil {
		return err
	}
	_, err = q.Exec(ctx, fmt.Sprintf("CREATE SCHEMA %s", ident))
	return err
}

// CreateRoleIfNotExists creates the `role` role (suffixed by
// roleSuffix if non-empty) if it does not exist right now. The
// login option is enabled, but no password is set.
func CreateRoleIfNotExists[Q postgres.Queryer](
	ctx context.Context, q Q, roleSuffix repo.Role, role repo.Role,
) error {
	ident, err := roleName(roleSuffix, role)
	if err != nil {
		return err
	}
	_, err = q.Exec(ctx, fmt.Sprintf(`
		DO $$
		BEGIN
			IF NOT EXISTS (
				SELECT FROM pg_catalog.pg_roles WHERE rolname = %s
			) THEN
				CREATE ROLE %s LOGIN;
			END IF;
		END
		$$;`, pgQuoteLiteral(trimQuotes(ident)), ident))
	return err
}

// GrantPrivileges grants ALL privileges on the `schema` schema to the
// `role` role (suffixed by roleSuffix if non-empty).
func GrantPrivileges[Q postgres.Queryer](
	ctx context.Context,
	q Q,
	roleSuffix repo.Role,
	schema string,
	role repo.Role,
) error {
	schemaIdent, err := quoteIdent(schema)
	if err != nil {
		return err
	}
	roleIdent, err := roleName(roleSuffix, role)
	if err != nil {
		return err
	}
	_, err = q.Exec(ctx, fmt.Sprintf(
		"GRANT ALL PRIVILEGES ON SCHEMA %s TO %s", schemaIdent, roleIdent))
	return err
}

// SetSearchPath alters the given database role (suffixed by
// roleSuffix if non-empty) and sets its default search_path to the
// given schema name alone.
func SetSearchPath[Q postgres.Queryer](
	ctx context.Context,
	q Q,
	roleSuffix repo.Role,
	schema string,
	role repo.Role,
) error {
	schemaIdent, err := quoteIdent(schema)
	if err != nil {
		return err
	}
	roleIdent, err := roleName(roleSuffix, role)
	if err != nil {
		return err
	}
	_, err = q.Exec(ctx, fmt.Sprintf(
		"ALTER ROLE %s SET search_path = %s", roleIdent, schemaIdent))
	return err
}

// ChangePasswords updates the passwords of the given roles (each
// suffixed by roleSuffix if non-empty) in the current transaction.
// The roles and passwords slices must have the same number of
// entries. hasher turns each plaintext password into a SCRAM-hashed
// string before it is embedded in the ALTER ROLE statement, so the
// plaintext password is never sent to the DBMS.
func ChangePasswords(
	ctx context.Context,
	tx *postgres.Tx,
	roleSuffix repo.Role,
	hasher scram.Hasher,
	roles []repo.Role,
	passwords []string,
) error {
	if len(roles) != len(passwords) {
		return fmt.Errorf(
			"schemarp: %d roles but %d passwords", len(roles), len(passwords))
	}
	for i, role := range roles {
		ident, err := roleName(roleSuffix, role)
		if err != nil {
			return err
		}
		hashed, err := hasher.Hash(passwords[i], "", 15000)
		if err != nil {
			return fmt.Errorf("hashing password for role %s: %w", ident, err)
		}
		_, err = tx.Exec(ctx, fmt.Sprintf(
			"ALTER ROLE %s PASSWORD %s", ident, pgQuoteLiteral(hashed)))
		if err != nil {
			return fmt.Errorf("changing password for role %s: %w", ident, err)
		}
	}
	return nil
}

// pgQuoteLiteral quotes s as a PostgreSQL string literal. It is only
// used for values this package itself produced (hashed passwords,
// already-validated identifiers), never for arbitrary caller input.
func pgQuoteLiteral(s string) string {
	escaped := ""
	for _, r := range s {
		if r == '\'' {
			escaped += "''"
			continue
		}
		escaped += string(r)
	}
	return "'" + escaped + "'"
}

func trimQuotes(ident string) string {
	if len(ident) >= 2 && ident[0] == '"' && ident[len(ident)-1] == '"' {
		return ident[1 : len(ident)-1]
	}
	return ident
}
