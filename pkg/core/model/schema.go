// Copyright (c) 2024 Behnam Momeni
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package model defines the value types shared by the migration core:
// the logical Schema snapshot, the ordered Migration and its steps,
// and the MigrationProgress bookkeeping type used while a migration
// is being applied or rolled back.
package model

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"

	"github.com/goccy/go-json"
)

// Schema is an opaque, structurally-comparable snapshot of a logical
// database schema: a set of named models, each with a set of named
// fields. The core never mutates a Schema; it is produced and
// consumed by the step mapper alone, and is otherwise carried around
// by value (as a map it must be copied with Clone before any mutation
// a caller wishes to keep local).
type Schema struct {
	Models map[string]ModelDef `json:"models"`
}

// ModelDef describes one logical model (akin to a database table)
// within a Schema.
type ModelDef struct {
	Name   string              `json:"name"`
	Fields map[string]FieldDef `json:"fields"`
}

// FieldDef describes one field of a ModelDef.
type FieldDef struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Nullable bool   `json:"nullable"`
}

// NewSchema returns an empty Schema ready to be populated by
// successive steps.
func NewSchema() Schema {
	return Schema{Models: make(map[string]ModelDef)}
}

// Clone returns a deep copy of s, so the caller may hand it to a step
// mapper that returns a derived "next" schema without aliasing maps
// with the "prev" schema.
func (s Schema) Clone() Schema {
	models := make(map[string]ModelDef, len(s.Models))
	for name, m := range s.Models {
		fields := make(map[string]FieldDef, len(m.Fields))
		for fname, f := range m.Fields {
			fields[fname] = f
		}
		models[name] = ModelDef{Name: m.Name, Fields: fields}
	}
	return Schema{Models: models}
}

// Equal reports whether s and other describe the same set of models
// and fields, regardless of map iteration order.
func (s Schema) Equal(other Schema) bool {
	if len(s.Models) != len(other.Models) {
		return false
	}
	for name, m := range s.Models {
		om, ok := other.Models[name]
		if !ok || !m.equal(om) {
			return false
		}
	}
	return true
}

func (m ModelDef) equal(other ModelDef) bool {
	if m.Name != other.Name || len(m.Fields) != len(other.Fields) {
		return false
	}
	for name, f := range m.Fields {
		of, ok := other.Fields[name]
		if !ok || f != of {
			return false
		}
	}
	return true
}

// Fingerprint returns a stable content hash of s, suitable for
// detecting whether two Schema values represent the same logical
// snapshot without comparing the full structure field by field.
// Map keys are sorted before serialization so the result does not
// depend on Go's randomized map iteration order.
func (s Schema) Fingerprint() string {
	type sortedField struct {
		Key   string   `json:"key"`
		Field FieldDef `json:"field"`
	}
	type sortedModel struct {
		Key    string        `json:"key"`
		Name   string        `json:"name"`
		Fields []sortedField `json:"fields"`
	}
	modelNames := make([]string, 0, len(s.Models))
	for name := range s.Models {
		modelNames = append(modelNames, name)
	}
	sort.Strings(modelNames)
	sortedModels := make([]sortedModel, 0, len(modelNames))
	for _, name := range modelNames {
		m := s.Models[name]
		fieldNames := make([]string, 0, len(m.Fields))
		for fname := range m.Fields {
			fieldNames = append(fieldNames, fname)
		}
		sort.Strings(fieldNames)
		fields := make([]sortedField, 0, len(fieldNames))
		for _, fname := range fieldNames {
			fields = append(fields, sortedField{Key: fname, Field: m.Fields[fname]})
		}
		sortedModels = append(sortedModels, sortedModel{
			Key: name, Name: m.Name, Fields: fields,
		})
	}
	// json.Marshal errors are only possible for unsupported types
	// (channels, funcs); Schema never holds any, so the error is
	// deliberately discarded here.
	b, _ := json.Marshal(sortedModels)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
