// Copyright (c) 2024 Behnam Momeni
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package routes wires every HTTP resource onto a gin engine under
// its versioned path prefix.
package routes

import (
	"github.com/gin-gonic/gin"

	"github.com/arqdb/schemadeploy/pkg/adapter/db/postgres/migrationrp"
	"github.com/arqdb/schemadeploy/pkg/adapter/restful/gin/deployrs"
	"github.com/arqdb/schemadeploy/pkg/core/supervisor"
)

// Register mounts the schemadeploy v1 API under e.
func Register(
	e *gin.Engine, sv *supervisor.Supervisor, migrations *migrationrp.Repo,
) {
	v1 := e.Group("/api/schemadeploy/v1")
	deployrs.New(sv, migrations).Register(v1)
}
