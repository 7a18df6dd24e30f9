// Copyright (c) 2024 Behnam Momeni
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package model_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/arqdb/schemadeploy/pkg/core/model"
)

func sampleSchema() model.Schema {
	s := model.NewSchema()
	s.Models["user"] = model.ModelDef{
		Name: "user",
		Fields: map[string]model.FieldDef{
			"id":   {Name: "id", Type: "uuid"},
			"name": {Name: "name", Type: "text", Nullable: true},
		},
	}
	return s
}

func TestSchemaCloneIsIndependent(t *testing.T) {
	s := sampleSchema()
	c := s.Clone()
	assert.True(t, s.Equal(c))

	c.Models["user"].Fields["name"] = model.FieldDef{Name: "name", Type: "varchar"}
	assert.True(t, s.Equal(sampleSchema()), "cloning must not mutate the original")
	assert.False(t, s.Equal(c))
}

func TestSchemaEqualIgnoresMapOrder(t *testing.T) {
	a := sampleSchema()
	b := sampleSchema()
	assert.True(t, a.Equal(b))

	delete(b.Models, "user")
	assert.False(t, a.Equal(b))
}

func TestSchemaFingerprintIsStableAndOrderIndependent(t *testing.T) {
	a := sampleSchema()
	b := sampleSchema()
	assert.Equal(t, a.Fingerprint(), b.Fingerprint())

	b.Models["user"] = model.ModelDef{
		Name: "user",
		Fields: map[string]model.FieldDef{
			"name": {Name: "name", Type: "text", Nullable: true},
			"id":   {Name: "id", Type: "uuid"},
		},
	}
	assert.Equal(t, a.Fingerprint(), b.Fingerprint(),
		"map iteration order must not affect the fingerprint")
}

func TestSchemaFingerprintDetectsChange(t *testing.T) {
	a := sampleSchema()
	b := sampleSchema()
	b.Models["user"].Fields["id"] = model.FieldDef{Name: "id", Type: "bigint"}
	assert.NotEqual(t, a.Fingerprint(), b.Fingerprint())
}
