// Copyright (c) 2024 Behnam Momeni
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package deployrs exposes the deployment worker's status and
// scheduling surface over HTTP. It is a thin outer adapter: the core
// deploymentuc/supervisor packages have no awareness of gin or of
// HTTP status codes at all, per this system's external interfaces
// boundary. Request logging and packaging live further out still, in
// cmd/schemadeployd; these routes apply no authentication.
package deployrs

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"

	"github.com/arqdb/schemadeploy/pkg/adapter/db/postgres/migrationrp"
	"github.com/arqdb/schemadeploy/pkg/adapter/restful/gin/serdser"
	"github.com/arqdb/schemadeploy/pkg/core/supervisor"
)

// Resource binds the deployment HTTP endpoints to a Supervisor and a
// read-only migration lookup.
type Resource struct {
	supervisor *supervisor.Supervisor
	migrations *migrationrp.Repo
}

// New builds a Resource.
func New(sv *supervisor.Supervisor, migrations *migrationrp.Repo) *Resource {
	return &Resource{supervisor: sv, migrations: migrations}
}

// Register mounts this Resource's routes under r.
func (res *Resource) Register(r *gin.RouterGroup) {
	projects := r.Group("/projects/:projectId")
	projects.POST("/schedule", res.schedule)
	projects.GET("/migrations/:revision", res.getMigration)
	projects.GET("/worker", res.getWorker)
}

func (res *Resource) schedule(c *gin.Context) {
	var req ScheduleRequest
	if !serdser.Bind(c, &req, binding.JSON) {
		return
	}
	projectID := c.Param("projectId")
	worker := res.supervisor.Worker(projectID)
	migration, err := worker.Schedule(c.Request.Context(), req.NextSchema, req.Steps)
	if err != nil {
		serdser.SerErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, MigrationFromModel(migration))
}

func (res *Resource) getMigration(c *gin.Context) {
	projectID := c.Param("projectId")
	revision, err := strconv.ParseUint(c.Param("revision"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "revision must be a non-negative integer"})
		return
	}
	migration, err := res.migrations.GetByRevision(c.Request.Context(), projectID, revision)
	if err != nil {
		serdser.SerErr(c, err)
		return
	}
	if migration == nil {
		c.JSON(http.StatusNotFound, gin.H{"detail": "migration not found"})
		return
	}
	c.JSON(http.StatusOK, MigrationFromModel(*migration))
}

func (res *Resource) getWorker(c *gin.Context) {
	projectID := c.Param("projectId")
	snap, err := res.supervisor.Snapshot(projectID)
	if err != nil {
		serdser.SerErr(c, err)
		return
	}
	c.JSON(http.StatusOK, WorkerSnapshotFromModel(snap))
}
