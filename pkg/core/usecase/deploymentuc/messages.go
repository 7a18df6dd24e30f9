// Copyright (c) 2024 Behnam Momeni
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package deploymentuc implements the per-project deployment worker:
// a small state machine that serializes, applies, and rolls back
// schema migrations for one project, and the forward/rollback engine
// it drives.
package deploymentuc

import (
	"github.com/google/uuid"

	"github.com/arqdb/schemadeploy/pkg/core/model"
)

// message is the marker interface implemented by every value that may
// flow through a Worker's mailbox.
type message interface {
	isMessage()
}

// scheduleMessage asks the worker to admit and persist a new
// migration moving the project from its current activeSchema to
// nextSchema via steps. The worker replies on reply exactly once.
// requestID correlates this call's log lines across the admission
// check and the asynchronous deployment it may kick off; it carries
// no persisted meaning and is never compared for deduplication.
type scheduleMessage struct {
	nextSchema model.Schema
	steps      []model.MigrationStep
	reply      chan scheduleResult
	requestID  uuid.UUID
}

func (scheduleMessage) isMessage() {}

// scheduleResult is the reply payload for a scheduleMessage: either
// the persisted Migration, or err set to the DeploymentInProgress
// error or a persistence failure.
type scheduleResult struct {
	migration model.Migration
	err       error
}

// deployMessage kicks the worker to run the engine over the current
// Pending migration, if any. It is idempotent: if no Pending
// migration exists when it is handled, it is a logged no-op.
type deployMessage struct{}

func (deployMessage) isMessage() {}

// readyMessage is posted by the asynchronous initialization routine
// once it has determined the project's activeSchema and whether a
// Pending migration exists. It is never sent by any external caller.
type readyMessage struct {
	activeSchema model.Schema
	pending      *model.Migration
	initErr      error
}

func (readyMessage) isMessage() {}

// resumeMessage is posted by the asynchronous Schedule-persistence or
// Deploy-engine continuation once its work has completed, returning
// the worker to Ready and causing the stash to drain. Migration and
// advanceActiveSchema are only meaningful when a deployment actually
// ran to a terminal status; zero-valued otherwise.
type resumeMessage struct {
	migration           model.Migration
	advanceActiveSchema bool
}

func (resumeMessage) isMessage() {}
