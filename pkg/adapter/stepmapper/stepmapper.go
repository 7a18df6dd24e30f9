// Copyright (c) 2024 Behnam Momeni
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package stepmapper provides the concrete, pure repo.StepMapper
// implementation: translating a logical MigrationStep plus its
// before/after schemas into the DDL needed to apply it (and to
// reverse it) against the client database.
package stepmapper

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/arqdb/schemadeploy/pkg/core/model"
	"github.com/arqdb/schemadeploy/pkg/core/repo"
)

var identPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func quoteIdent(name string) string {
	if !identPattern.MatchString(name) {
		panic(fmt.Sprintf("stepmapper: %q is not a valid identifier", name))
	}
	return `"` + name + `"`
}

// Mapper is a pure, stateless repo.StepMapper. It holds no fields; a
// single instance may be shared across every DeploymentWorker.
type Mapper struct{}

// New builds a Mapper.
func New() *Mapper {
	return &Mapper{}
}

// mutaction is the concrete repo.ClientSqlMutaction this package
// produces.
type mutaction struct {
	forward    repo.Statements
	reverse    repo.Statements
	hasReverse bool
}

func (m mutaction) Execute() repo.Statements { return m.forward }

func (m mutaction) Rollback() (repo.Statements, bool) {
	return m.reverse, m.hasReverse
}

func oneStatement(forward, reverse string) mutaction {
	return mutaction{
		forward:    repo.Statements{SQL: []string{forward}},
		reverse:    repo.Statements{SQL: []string{reverse}},
		hasReverse: true,
	}
}

// MutactionFor maps step against prev and next. AnnotateModel steps
// carry no database effect and return ok == false. Every other step
// kind looks up the model/field it names in whichever of prev or next
// actually holds the information needed to build its SQL (next for
// creations, prev for drops), and panics if that lookup fails: a step
// referencing a model or field absent from its schema is a
// programming error in whatever produced the Migration, not a
// reachable runtime condition this pure function can recover from.
func (m *Mapper) MutactionFor(
	prev, next model.Schema, step model.MigrationStep,
) (repo.ClientSqlMutaction, bool) {
	switch step.Kind {
	case model.CreateModel:
		return m.createModel(next, step), true
	case model.DropModel:
		return m.dropModel(prev, step), true
	case model.CreateField:
		return m.createField(next, step), true
	case model.DropField:
		return m.dropField(prev, step), true
	case model.AnnotateModel:
		return nil, false
	default:
		panic(fmt.Sprintf("stepmapper: unknown step kind %d", int(step.Kind)))
	}
}

func (m *Mapper) createModel(next model.Schema, step model.MigrationStep) mutaction {
	md, ok := next.Models[step.ModelName]
	if !ok {
		panic(fmt.Sprintf(
			"stepmapper: create-model step references unknown model %q",
			step.ModelName))
	}
	table := quoteIdent(md.Name)
	cols := make([]string, 0, len(md.Fields))
	for _, f := range md.Fields {
		cols = append(cols, columnDefinition(f))
	}
	forward := fmt.Sprintf("CREATE TABLE %s (%s)", table, strings.Join(cols, ", "))
	reverse := fmt.Sprintf("DROP TABLE %s", table)
	return oneStatement(forward, reverse)
}

func (m *Mapper) dropModel(prev model.Schema, step model.MigrationStep) mutaction {
	md, ok := prev.Models[step.ModelName]
	if !ok {
		panic(fmt.Sprintf(
			"stepmapper: drop-model step references unknown model %q",
			step.ModelName))
	}
	table := quoteIdent(md.Name)
	cols := make([]string, 0, len(md.Fields))
	for _, f := range md.Fields {
		cols = append(cols, columnDefinition(f))
	}
	forward := fmt.Sprintf("DROP TABLE %s", table)
	reverse := fmt.Sprintf("CREATE TABLE %s (%s)", table, strings.Join(cols, ", "))
	return oneStatement(forward, reverse)
}

func (m *Mapper) createField(next model.Schema, step model.MigrationStep) mutaction {
	md, ok := next.Models[step.ModelName]
	if !ok {
		panic(fmt.Sprintf(
			"stepmapper: create-field step references unknown model %q",
			step.ModelName))
	}
	field, ok := md.Fields[step.FieldName]
	if !ok {
		panic(fmt.Sprintf(
			"stepmapper: create-field step references unknown field %q on model %q",
			step.FieldName, step.ModelName))
	}
	table := quoteIdent(md.Name)
	forward := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s",
		table, columnDefinition(field))
	reverse := fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s",
		table, quoteIdent(field.Name))
	return oneStatement(forward, reverse)
}

func (m *Mapper) dropField(prev model.Schema, step model.MigrationStep) mutaction {
	md, ok := prev.Models[step.ModelName]
	if !ok {
		panic(fmt.Sprintf(
			"stepmapper: drop-field step references unknown model %q",
			step.ModelName))
	}
	field, ok := md.Fields[step.FieldName]
	if !ok {
		panic(fmt.Sprintf(
			"stepmapper: drop-field step references unknown field %q on model %q",
			step.FieldName, step.ModelName))
	}
	table := quoteIdent(md.Name)
	forward := fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s",
		table, quoteIdent(field.Name))
	reverse := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s",
		table, columnDefinition(field))
	return oneStatement(forward, reverse)
}

func columnDefinition(f model.FieldDef) string {
	def := fmt.Sprintf("%s %s", quoteIdent(f.Name), f.Type)
	if !f.Nullable {
		def += " NOT NULL"
	}
	return def
}
