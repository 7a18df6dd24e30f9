// Copyright (c) 2024 Behnam Momeni
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package stepmapper_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arqdb/schemadeploy/pkg/adapter/stepmapper"
	"github.com/arqdb/schemadeploy/pkg/core/model"
)

func schemaWithUser() model.Schema {
	s := model.NewSchema()
	s.Models["user"] = model.ModelDef{
		Name: "user",
		Fields: map[string]model.FieldDef{
			"id": {Name: "id", Type: "uuid"},
		},
	}
	return s
}

func TestMutactionForCreateModel(t *testing.T) {
	m := stepmapper.New()
	next := schemaWithUser()
	step := model.MigrationStep{Kind: model.CreateModel, ModelName: "user"}

	mu, ok := m.MutactionFor(model.NewSchema(), next, step)
	require.True(t, ok)
	fwd := mu.Execute()
	require.Len(t, fwd.SQL, 1)
	assert.Contains(t, fwd.SQL[0], `CREATE TABLE "user"`)
	assert.Contains(t, fwd.SQL[0], `"id" uuid NOT NULL`)

	rev, hasReverse := mu.Rollback()
	require.True(t, hasReverse)
	assert.Equal(t, []string{`DROP TABLE "user"`}, rev.SQL)
}

func TestMutactionForDropModelReversesToCreate(t *testing.T) {
	m := stepmapper.New()
	prev := schemaWithUser()
	step := model.MigrationStep{Kind: model.DropModel, ModelName: "user"}

	mu, ok := m.MutactionFor(prev, model.NewSchema(), step)
	require.True(t, ok)
	assert.Equal(t, []string{`DROP TABLE "user"`}, mu.Execute().SQL)

	rev, hasReverse := mu.Rollback()
	require.True(t, hasReverse)
	require.Len(t, rev.SQL, 1)
	assert.Contains(t, rev.SQL[0], `CREATE TABLE "user"`)
}

func TestMutactionForCreateAndDropField(t *testing.T) {
	m := stepmapper.New()
	prev := schemaWithUser()
	next := schemaWithUser()
	next.Models["user"].Fields["name"] = model.FieldDef{
		Name: "name", Type: "text", Nullable: true,
	}
	step := model.MigrationStep{Kind: model.CreateField, ModelName: "user", FieldName: "name"}

	mu, ok := m.MutactionFor(prev, next, step)
	require.True(t, ok)
	assert.Equal(t,
		[]string{`ALTER TABLE "user" ADD COLUMN "name" text`},
		mu.Execute().SQL)
	rev, hasReverse := mu.Rollback()
	require.True(t, hasReverse)
	assert.Equal(t,
		[]string{`ALTER TABLE "user" DROP COLUMN "name"`},
		rev.SQL)

	dropStep := model.MigrationStep{Kind: model.DropField, ModelName: "user", FieldName: "name"}
	mu, ok = m.MutactionFor(next, prev, dropStep)
	require.True(t, ok)
	assert.Equal(t,
		[]string{`ALTER TABLE "user" DROP COLUMN "name"`},
		mu.Execute().SQL)
}

func TestMutactionForAnnotateModelHasNoEffect(t *testing.T) {
	m := stepmapper.New()
	step := model.MigrationStep{Kind: model.AnnotateModel, ModelName: "user", Annotation: "demo"}
	mu, ok := m.MutactionFor(schemaWithUser(), schemaWithUser(), step)
	assert.False(t, ok)
	assert.Nil(t, mu)
}

func TestMutactionForUnknownModelPanics(t *testing.T) {
	m := stepmapper.New()
	step := model.MigrationStep{Kind: model.CreateModel, ModelName: "ghost"}
	assert.Panics(t, func() {
		m.MutactionFor(model.NewSchema(), model.NewSchema(), step)
	})
}

func TestMutactionForUnknownStepKindPanics(t *testing.T) {
	m := stepmapper.New()
	step := model.MigrationStep{Kind: model.StepKind(99), ModelName: "user"}
	assert.Panics(t, func() {
		m.MutactionFor(schemaWithUser(), schemaWithUser(), step)
	})
}
