// Copyright (c) 2024 Behnam Momeni
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package command

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/arqdb/schemadeploy/pkg/adapter/config"
	"github.com/arqdb/schemadeploy/pkg/adapter/db/postgres/migrationrp"
	"github.com/arqdb/schemadeploy/pkg/core/model"
	"github.com/arqdb/schemadeploy/pkg/core/repo"
)

var bootstrapCmd = &cobra.Command{
	Use:   "bootstrap <project-id> <schema.json>",
	Short: "Provision a project's schema and role, then persist its zeroth migration",
	Long: `Bootstrap connects as the admin role and, for the given
project id, creates a dedicated schema and role, grants the role
every privilege on that schema, points the role's default search_path
at it, and generates a fresh password for it (appended to the
.pgpass file in the configured pass-dir). It then persists the
project's starting schema (read from the given JSON file) as the
zeroth, already-successful Migration, which every DeploymentWorker's
startup sequence requires before it can run.

The project's schema and role must not already exist.`,
	RunE: bootstrap,
	Args: cobra.ExactArgs(2),
}

func bootstrap(_ *cobra.Command, args []string) error {
	projectID, schemaPath := args[0], args[1]
	ctx := context.Background()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("config.Load(%q): %w", cfgPath, err)
	}
	schema, err := loadSchemaFile(schemaPath)
	if err != nil {
		return fmt.Errorf("loading %q: %w", schemaPath, err)
	}

	role, err := provisionProject(ctx, cfg, projectID)
	if err != nil {
		return fmt.Errorf("provisioning project %q: %w", projectID, err)
	}
	fmt.Printf("provisioned role %q for project %q\n", role, projectID)

	pool, err := cfg.Database.ConnectionPool(ctx, repo.NormalRole)
	if err != nil {
		return fmt.Errorf("connecting to persist zeroth migration: %w", err)
	}
	defer pool.Close()
	migrations := migrationrp.New(pool)
	if _, err := migrations.CreateInitial(ctx, projectID, schema); err != nil {
		return fmt.Errorf("persisting zeroth migration: %w", err)
	}
	fmt.Printf("project %q bootstrapped with %d models\n", projectID, len(schema.Models))
	return nil
}

// provisionProject creates projectID's schema and role (named
// "project_<projectID>") and a fresh password for that role, returning
// the role name that was provisioned.
func provisionProject(
	ctx context.Context, cfg *config.Config, projectID string,
) (repo.Role, error) {
	role := repo.Role("project_" + projectID)
	schemaName := "project_" + projectID

	adminPool, err := cfg.Database.ConnectionPool(ctx, repo.AdminRole)
	if err != nil {
		return "", fmt.Errorf("connecting as admin: %w", err)
	}
	defer adminPool.Close()

	schemaRepo := cfg.Database.NewSchemaRepo()
	var password string
	err = adminPool.Conn(ctx, func(ctx context.Context, c repo.Conn) error {
		sq := schemaRepo.Conn(c)
		if err := sq.CreateSchema(ctx, schemaName); err != nil {
			return fmt.Errorf("creating schema: %w", err)
		}
		if err := sq.CreateRoleIfNotExists(ctx, role); err != nil {
			return fmt.Errorf("creating role: %w", err)
		}
		if err := sq.GrantPrivileges(ctx, schemaName, role); err != nil {
			return fmt.Errorf("granting privileges: %w", err)
		}
		if err := sq.SetSearchPath(ctx, schemaName, role); err != nil {
			return fmt.Errorf("setting search_path: %w", err)
		}
		return c.Tx(ctx, func(ctx context.Context, tx repo.Tx) error {
			pw, err := generatePassword()
			if err != nil {
				return fmt.Errorf("generating password: %w", err)
			}
			password = pw
			tq := schemaRepo.Tx(tx)
			return tq.ChangePasswords(ctx, []repo.Role{role}, []string{pw})
		})
	})
	if err != nil {
		return "", err
	}
	if err := appendPgpassLine(cfg.Database, role, password); err != nil {
		return "", fmt.Errorf("recording password: %w", err)
	}
	return role, nil
}

// generatePassword returns a random 128-bit password, base64-encoded.
func generatePassword() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawStdEncoding.EncodeToString(b), nil
}

// appendPgpassLine records role's password in the .pgpass file inside
// d.PassDir, in the host:port:dbname:role:password format that
// config.Database.ConnectionURL reads back. role is suffixed by
// d.RoleSuffix first, matching how ConnectionURL looks up the line.
func appendPgpassLine(d config.Database, role repo.Role, password string) error {
	path := filepath.Join(d.PassDir, ".pgpass")
	r := role + repo.Role(d.RoleSuffix)
	line := fmt.Sprintf("%s:%d:%s:%s:%s\n", d.Host, d.Port, d.Name, r, password)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteString(line)
	return err
}

func loadSchemaFile(path string) (model.Schema, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return model.Schema{}, err
	}
	var schema model.Schema
	if err := json.Unmarshal(b, &schema); err != nil {
		return model.Schema{}, err
	}
	return schema, nil
}

func init() {
	dbCmd.AddCommand(bootstrapCmd)
}
