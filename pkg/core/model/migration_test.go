// Copyright (c) 2024 Behnam Momeni
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package model_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arqdb/schemadeploy/pkg/core/model"
)

func TestMigrationStatusRoundTrip(t *testing.T) {
	for _, st := range []model.MigrationStatus{
		model.Pending, model.Success, model.RollbackSuccess, model.RollbackFailure,
	} {
		require.NoError(t, st.Validate())
		parsed, err := model.ParseMigrationStatus(st.String())
		require.NoError(t, err)
		assert.Equal(t, st, parsed)
	}
}

func TestMigrationStatusIsTerminal(t *testing.T) {
	assert.False(t, model.Pending.IsTerminal())
	assert.True(t, model.Success.IsTerminal())
	assert.True(t, model.RollbackSuccess.IsTerminal())
	assert.True(t, model.RollbackFailure.IsTerminal())
}

func TestParseMigrationStatusUnknown(t *testing.T) {
	_, err := model.ParseMigrationStatus("bogus")
	assert.Error(t, err)
}

func steps(kinds ...model.StepKind) []model.MigrationStep {
	out := make([]model.MigrationStep, len(kinds))
	for i, k := range kinds {
		out[i] = model.MigrationStep{Kind: k, ModelName: "m"}
	}
	return out
}

func TestMigrationProgressForwardDrain(t *testing.T) {
	s := steps(model.CreateModel, model.CreateField, model.DropField)
	p := model.NewMigrationProgress(s)
	require.True(t, p.HasPending())
	require.False(t, p.HasApplied())

	var popped []model.MigrationStep
	for p.HasPending() {
		var step model.MigrationStep
		step, p = p.PopPending()
		popped = append(popped, step)
	}
	assert.Equal(t, s, popped)
	assert.False(t, p.HasPending())
	assert.True(t, p.HasApplied())
	assert.False(t, p.IsRollingBack)
}

func TestMigrationProgressAppendInvariant(t *testing.T) {
	s := steps(model.CreateModel, model.DropModel, model.CreateField)
	p := model.NewMigrationProgress(s)
	for i := 0; i < 2; i++ {
		_, p = p.PopPending()
	}
	combined := append(append([]model.MigrationStep{}, p.AppliedSteps...), p.PendingSteps...)
	assert.Equal(t, s, combined)
}

func TestMigrationProgressMarkForRollbackIsMonotonic(t *testing.T) {
	p := model.NewMigrationProgress(steps(model.CreateModel))
	p = p.MarkForRollback()
	assert.True(t, p.IsRollingBack)
	p = p.MarkForRollback()
	assert.True(t, p.IsRollingBack)
}

func TestMigrationProgressRollbackUnwindsInReverseOrder(t *testing.T) {
	s := steps(model.CreateModel, model.CreateField, model.DropField)
	p := model.NewMigrationProgress(s)
	for p.HasPending() {
		_, p = p.PopPending()
	}
	p = p.MarkForRollback()

	var unwound []model.MigrationStep
	for p.HasApplied() {
		var step model.MigrationStep
		step, p = p.PopApplied()
		unwound = append(unwound, step)
	}
	assert.Equal(t, []model.MigrationStep{s[2], s[1], s[0]}, unwound)
	assert.False(t, p.HasApplied())
}

func TestMigrationProgressPopPendingPanicsWhenEmpty(t *testing.T) {
	p := model.NewMigrationProgress(nil)
	assert.Panics(t, func() { p.PopPending() })
}

func TestMigrationProgressPopAppliedPanicsWhenEmpty(t *testing.T) {
	p := model.NewMigrationProgress(nil)
	assert.Panics(t, func() { p.PopApplied() })
}
