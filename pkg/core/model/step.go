// Copyright (c) 2024 Behnam Momeni
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package model

import "fmt"

// StepKind identifies the logical effect of a MigrationStep. It is an
// int-backed enum following the same Validate/String/Parse shape used
// throughout this codebase for small closed value sets.
type StepKind int

const (
	// CreateModel introduces a new model (table) into the schema.
	CreateModel StepKind = iota

	// DropModel removes an existing model from the schema.
	DropModel

	// CreateField adds a new field to an existing model.
	CreateField

	// DropField removes an existing field from a model.
	DropField

	// AnnotateModel records metadata about a model (e.g., a comment
	// or a display label) with no corresponding database mutation.
	AnnotateModel
)

// Validate reports whether k is one of the predefined StepKind
// constants.
func (k StepKind) Validate() error {
	switch k {
	case CreateModel, DropModel, CreateField, DropField, AnnotateModel:
		return nil
	default:
		return fmt.Errorf("invalid step kind: %d", int(k))
	}
}

// String returns the canonical textual representation of k.
// It panics if k is not a valid StepKind, mirroring the enum idiom
// used elsewhere in this codebase: callers that may hold an
// unvalidated value should call Validate first.
func (k StepKind) String() string {
	switch k {
	case CreateModel:
		return "create-model"
	case DropModel:
		return "drop-model"
	case CreateField:
		return "create-field"
	case DropField:
		return "drop-field"
	case AnnotateModel:
		return "annotate-model"
	default:
		panic(fmt.Sprintf("invalid step kind: %d", int(k)))
	}
}

// ParseStepKind parses s (as returned by StepKind.String) back into
// a StepKind value.
func ParseStepKind(s string) (StepKind, error) {
	switch s {
	case "create-model":
		return CreateModel, nil
	case "drop-model":
		return DropModel, nil
	case "create-field":
		return CreateField, nil
	case "drop-field":
		return DropField, nil
	case "annotate-model":
		return AnnotateModel, nil
	default:
		return 0, fmt.Errorf("unknown step kind: %q", s)
	}
}

// MigrationStep describes one atomic logical change within a
// Migration. Order within a Migration's Steps slice is significant:
// it is the order in which steps are submitted to the client database
// during a forward run.
type MigrationStep struct {
	Kind StepKind `json:"kind"`

	// ModelName is the model this step acts upon.
	ModelName string `json:"modelName"`

	// FieldName is set for CreateField and DropField steps.
	FieldName string `json:"fieldName,omitempty"`

	// Field carries the full field definition for CreateField steps.
	Field FieldDef `json:"field,omitempty"`

	// Annotation carries free-form metadata for AnnotateModel steps.
	// It has no database effect; the step mapper returns no mutation
	// for it.
	Annotation string `json:"annotation,omitempty"`
}
