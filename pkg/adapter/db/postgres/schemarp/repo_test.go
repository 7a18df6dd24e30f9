// Copyright (c) 2024 Behnam Momeni
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package schemarp_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arqdb/schemadeploy/internal/test/dbcontainer"
	"github.com/arqdb/schemadeploy/pkg/adapter/db/postgres/schemarp"
	"github.com/arqdb/schemadeploy/pkg/adapter/hash/scram"
	"github.com/arqdb/schemadeploy/pkg/core/repo"
)

func TestSchemaRepoProvisionsProjectSchemaAndRole(t *testing.T) {
	ctx := context.Background()
	_, pool, dfrs, ok := dbcontainer.New(ctx, 60*time.Second, t)
	for _, f := range dfrs {
		defer f()
	}
	if !ok {
		return // errors are already logged
	}

	sr := schemarp.New("it", scram.SHA256())

	err := pool.Conn(ctx, func(ctx context.Context, c repo.Conn) error {
		cq := sr.Conn(c)
		if err := cq.DropIfExists(ctx, "proj_it"); err != nil {
			return err
		}
		if err := cq.CreateSchema(ctx, "proj_it"); err != nil {
			return err
		}
		if err := cq.CreateRoleIfNotExists(ctx, repo.NormalRole); err != nil {
			return err
		}
		if err := cq.GrantPrivileges(ctx, "proj_it", repo.NormalRole); err != nil {
			return err
		}
		return cq.SetSearchPath(ctx, "proj_it", repo.NormalRole)
	})
	require.NoError(t, err)

	// Re-creating the role must be a no-op, not an error, since another
	// bootstrap run for a different project may share this role name.
	err = pool.Conn(ctx, func(ctx context.Context, c repo.Conn) error {
		return sr.Conn(c).CreateRoleIfNotExists(ctx, repo.NormalRole)
	})
	assert.NoError(t, err)

	err = pool.Conn(ctx, func(ctx context.Context, c repo.Conn) error {
		return c.Tx(ctx, func(ctx context.Context, tx repo.Tx) error {
			return sr.Tx(tx).ChangePasswords(
				ctx, []repo.Role{repo.NormalRole}, []string{"s3cr3t"},
			)
		})
	})
	require.NoError(t, err)

	err = pool.Conn(ctx, func(ctx context.Context, c repo.Conn) error {
		return sr.Conn(c).DropCascade(ctx, "proj_it")
	})
	require.NoError(t, err)
}

func TestSchemaRepoRejectsUntrustedIdentifiers(t *testing.T) {
	ctx := context.Background()
	_, pool, dfrs, ok := dbcontainer.New(ctx, 60*time.Second, t)
	for _, f := range dfrs {
		defer f()
	}
	if !ok {
		return // errors are already logged
	}

	sr := schemarp.New("", scram.SHA256())
	err := pool.Conn(ctx, func(ctx context.Context, c repo.Conn) error {
		return sr.Conn(c).CreateSchema(ctx, `"; DROP SCHEMA public CASCADE; --`)
	})
	assert.Error(t, err)
}
