// Copyright (c) 2024 Behnam Momeni
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package deploymentuc_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arqdb/schemadeploy/pkg/core/model"
	"github.com/arqdb/schemadeploy/pkg/core/repo"
	"github.com/arqdb/schemadeploy/pkg/core/usecase/deploymentuc"
)

// fakeMutaction is a minimal repo.ClientSqlMutaction for engine tests;
// it is produced by fakeMapper below rather than the real stepmapper,
// so an engine test can fail a single named step deterministically.
type fakeMutaction struct {
	forward, reverse string
	hasReverse       bool
}

func (m fakeMutaction) Execute() repo.Statements {
	return repo.Statements{SQL: []string{m.forward}}
}

func (m fakeMutaction) Rollback() (repo.Statements, bool) {
	return repo.Statements{SQL: []string{m.reverse}}, m.hasReverse
}

// fakeMapper maps every step to a mutaction named after step.ModelName,
// so test cases can fail or omit a reverse for one named step without
// needing a real schema.
type fakeMapper struct {
	noReverseFor string
}

func (m fakeMapper) MutactionFor(
	_, _ model.Schema, step model.MigrationStep,
) (repo.ClientSqlMutaction, bool) {
	if step.Kind == model.AnnotateModel {
		return nil, false
	}
	return fakeMutaction{
		forward:    "apply:" + step.ModelName,
		reverse:    "unapply:" + step.ModelName,
		hasReverse: step.ModelName != m.noReverseFor,
	}, true
}

// fakeClient runs statements against an in-memory log and fails any
// statement whose text is in failOn.
type fakeClient struct {
	ran    []string
	failOn map[string]bool
}

func newFakeClient(failOn ...string) *fakeClient {
	set := make(map[string]bool, len(failOn))
	for _, s := range failOn {
		set[s] = true
	}
	return &fakeClient{failOn: set}
}

func (c *fakeClient) Run(_ context.Context, stmts repo.Statements) error {
	for _, s := range stmts.SQL {
		if c.failOn[s] {
			return errors.New("fakeClient: statement failed: " + s)
		}
		c.ran = append(c.ran, s)
	}
	return nil
}

func migrationWithSteps(modelNames ...string) model.Migration {
	steps := make([]model.MigrationStep, len(modelNames))
	for i, n := range modelNames {
		steps[i] = model.MigrationStep{Kind: model.CreateModel, ModelName: n}
	}
	return model.Migration{ProjectID: "p1", Steps: steps}
}

func TestMigrationEngineApplyAllSucceed(t *testing.T) {
	client := newFakeClient()
	applier := deploymentuc.NewStepApplier(fakeMapper{}, client)
	engine := deploymentuc.NewMigrationEngine(applier)

	result := engine.Apply(context.Background(), model.Schema{}, migrationWithSteps("a", "b", "c"))

	assert.True(t, result.Succeeded)
	assert.Equal(t, []string{"apply:a", "apply:b", "apply:c"}, client.ran)
}

func TestMigrationEngineApplyRollsBackOnFailure(t *testing.T) {
	client := newFakeClient("apply:b")
	applier := deploymentuc.NewStepApplier(fakeMapper{}, client)
	engine := deploymentuc.NewMigrationEngine(applier)

	result := engine.Apply(context.Background(), model.Schema{}, migrationWithSteps("a", "b", "c"))

	require.False(t, result.Succeeded)
	// "a" was applied forward and "b" failed; the failing step counts as
	// applied for rollback purposes, so "b" then "a" are reversed, in
	// that order. "c" was never reached.
	assert.Equal(t, []string{"apply:a", "unapply:b", "unapply:a"}, client.ran)
}

func TestMigrationEngineApplySwallowsReverseStepFailure(t *testing.T) {
	client := newFakeClient("apply:b", "unapply:a")
	applier := deploymentuc.NewStepApplier(fakeMapper{}, client)
	engine := deploymentuc.NewMigrationEngine(applier)

	result := engine.Apply(context.Background(), model.Schema{}, migrationWithSteps("a", "b"))

	assert.False(t, result.Succeeded, "a failed rollback step must not report Succeeded")
}

func TestMigrationEngineApplyContinuesPastMissingRollbackMutation(t *testing.T) {
	client := newFakeClient("apply:b")
	applier := deploymentuc.NewStepApplier(fakeMapper{noReverseFor: "a"}, client)
	engine := deploymentuc.NewMigrationEngine(applier)

	result := engine.Apply(context.Background(), model.Schema{}, migrationWithSteps("a", "b"))

	assert.False(t, result.Succeeded)
	assert.NotContains(t, client.ran, "unapply:a",
		"a missing reverse mutation must not be submitted to the client database")
}

func TestMigrationEngineApplyAnnotateModelHasNoEffect(t *testing.T) {
	client := newFakeClient()
	applier := deploymentuc.NewStepApplier(fakeMapper{}, client)
	engine := deploymentuc.NewMigrationEngine(applier)

	migration := model.Migration{
		ProjectID: "p1",
		Steps: []model.MigrationStep{
			{Kind: model.AnnotateModel, ModelName: "a", Annotation: "note"},
		},
	}
	result := engine.Apply(context.Background(), model.Schema{}, migration)

	assert.True(t, result.Succeeded)
	assert.Empty(t, client.ran)
}

func TestMigrationEngineApplyEmptyMigrationSucceeds(t *testing.T) {
	client := newFakeClient()
	applier := deploymentuc.NewStepApplier(fakeMapper{}, client)
	engine := deploymentuc.NewMigrationEngine(applier)

	result := engine.Apply(context.Background(), model.Schema{}, migrationWithSteps())

	assert.True(t, result.Succeeded)
}
