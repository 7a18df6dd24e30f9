// Copyright (c) 2024 Behnam Momeni
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package config loads and validates the schemadeployd process
// configuration from a single YAML file. Unlike the multi-version
// configuration machinery this package replaces, there is exactly one
// schema for this file: the deployment worker's external interfaces
// (persistence, client database, HTTP surface) are stable enough that
// migrating the config format itself is out of scope here.
package config

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/arqdb/schemadeploy/pkg/adapter/db/postgres"
	"github.com/arqdb/schemadeploy/pkg/adapter/db/postgres/schemarp"
	hashscram "github.com/arqdb/schemadeploy/pkg/adapter/hash/scram"
	"github.com/arqdb/schemadeploy/pkg/core/repo"
	"github.com/arqdb/schemadeploy/pkg/core/scram"
)

// Config is the root of the schemadeployd configuration file.
type Config struct {
	Database Database `yaml:"database" validate:"required"`
	Worker   Worker   `yaml:"worker"`
	Gin      Gin      `yaml:"gin"`
}

// Database describes how to reach the PostgreSQL cluster hosting
// every project's schema and the migration-metadata tables.
type Database struct {
	Host       string `yaml:"host" validate:"required"`
	Port       int    `yaml:"port" validate:"required,min=1,max=65535"`
	Name       string `yaml:"name" validate:"required"`
	PassDir    string `yaml:"pass-dir" validate:"required"`
	RoleSuffix string `yaml:"role-suffix"`
	AuthMethod string `yaml:"auth-method" validate:"required,oneof=scram-sha-256 scram-sha-1"`

	hasher scram.Hasher `yaml:"-"`
}

// Worker tunes the behavior shared by every project's
// DeploymentWorker.
type Worker struct {
	// StashBufferSize pre-allocates the capacity of a worker's stash
	// slice. It is a performance hint only; the stash still grows
	// past this size under a burst of concurrent callers.
	StashBufferSize int `yaml:"stash-buffer-size"`
}

// Gin configures the status/admin HTTP surface.
type Gin struct {
	Addr string `yaml:"addr" validate:"required"`
}

// Load reads and validates the YAML configuration file at path.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	if cfg.Worker.StashBufferSize == 0 {
		cfg.Worker.StashBufferSize = 16
	}
	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("config: validating %s: %w", path, err)
	}
	switch cfg.Database.AuthMethod {
	case "scram-sha-1":
		cfg.Database.hasher = hashscram.SHA1()
	case "scram-sha-256":
		cfg.Database.hasher = hashscram.SHA256()
	}
	return &cfg, nil
}

// ConnectionPool opens a *postgres.Pool connecting as role r, reading
// the role's password from the .pgpass-formatted file in
// d.PassDir, exactly as the bootstrapper and a worker's persistence
// layer both need to.
func (d Database) ConnectionPool(
	ctx context.Context, r repo.Role,
) (*postgres.Pool, error) {
	path := filepath.Join(d.PassDir, ".pgpass")
	u, err := d.ConnectionURL(r, path)
	if err != nil {
		return nil, fmt.Errorf("using %q pass-file: %w", path, err)
	}
	p, err := postgres.NewPool(ctx, u)
	if err != nil {
		return nil, fmt.Errorf("connecting as %q: %w", r, err)
	}
	return p, nil
}

// ConnectionURL returns the postgresql:// URL for connecting as role
// r, with the password read from the pgpass-formatted file at path.
// d.RoleSuffix is appended to r before it is looked up or embedded in
// the URL, so multiple environments can share one cluster without
// role name collisions.
func (d Database) ConnectionURL(r repo.Role, path string) (string, error) {
	passLines, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading pass-file: %w", err)
	}
	r = r + repo.Role(d.RoleSuffix)
	prefix := fmt.Sprintf("%s:%d:%s:%s:", d.Host, d.Port, d.Name, r)
	var pass string
	for _, line := range strings.Split(string(passLines), "\n") {
		if line == "" || line[0] == '#' {
			continue
		}
		if strings.HasPrefix(line, prefix) {
			pass = line[len(prefix):]
			break
		}
	}
	if pass == "" {
		return "", fmt.Errorf("no matching password line for role %q", r)
	}
	u := url.URL{
		Scheme: "postgresql",
		User:   url.UserPassword(string(r), pass),
		Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:   d.Name,
	}
	return u.String(), nil
}

// NewSchemaRepo instantiates a schemarp.Repo using this Database's
// role suffix and password-hashing mechanism.
func (d Database) NewSchemaRepo() repo.Schema {
	return schemarp.New(repo.Role(d.RoleSuffix), d.hasher)
}
