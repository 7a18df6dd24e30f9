// Copyright (c) 2024 Behnam Momeni
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package deployrs

import (
	"github.com/arqdb/schemadeploy/pkg/core/model"
	"github.com/arqdb/schemadeploy/pkg/core/usecase/deploymentuc"
)

// ScheduleRequest is the JSON body of POST .../schedule.
type ScheduleRequest struct {
	NextSchema model.Schema          `json:"nextSchema" binding:"required"`
	Steps      []model.MigrationStep `json:"steps" binding:"required"`
}

// Migration is the JSON representation of a model.Migration, with the
// int-backed StepKind/MigrationStatus enums rendered as their
// canonical strings.
type Migration struct {
	ProjectID string    `json:"projectId"`
	Schema    model.Schema `json:"schema"`
	Steps     []Step    `json:"steps"`
	Revision  uint64    `json:"revision"`
	Status    string    `json:"status"`
}

// Step is the JSON representation of a model.MigrationStep.
type Step struct {
	Kind       string         `json:"kind"`
	ModelName  string         `json:"modelName"`
	FieldName  string         `json:"fieldName,omitempty"`
	Field      model.FieldDef `json:"field,omitempty"`
	Annotation string         `json:"annotation,omitempty"`
}

// MigrationFromModel converts m into its JSON representation.
func MigrationFromModel(m model.Migration) Migration {
	steps := make([]Step, 0, len(m.Steps))
	for _, s := range m.Steps {
		steps = append(steps, Step{
			Kind:       s.Kind.String(),
			ModelName:  s.ModelName,
			FieldName:  s.FieldName,
			Field:      s.Field,
			Annotation: s.Annotation,
		})
	}
	return Migration{
		ProjectID: m.ProjectID,
		Schema:    m.Schema,
		Steps:     steps,
		Revision:  m.Revision,
		Status:    m.Status.String(),
	}
}

// WorkerSnapshot is the JSON representation of deploymentuc.Snapshot.
type WorkerSnapshot struct {
	ProjectID    string       `json:"projectId"`
	Mode         string       `json:"mode"`
	ActiveSchema model.Schema `json:"activeSchema"`
}

// WorkerSnapshotFromModel converts s into its JSON representation.
func WorkerSnapshotFromModel(s deploymentuc.Snapshot) WorkerSnapshot {
	return WorkerSnapshot{
		ProjectID:    s.ProjectID,
		Mode:         s.Mode,
		ActiveSchema: s.ActiveSchema,
	}
}
