// Copyright (c) 2024 Behnam Momeni
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package supervisor keeps track of the one DeploymentWorker allowed
// to run per project, spawning workers on first use and serving
// every subsequent request for that project to the same worker.
package supervisor

import (
	"context"
	"fmt"
	"sync"

	"github.com/arqdb/schemadeploy/pkg/core/cerr"
	"github.com/arqdb/schemadeploy/pkg/core/repo"
	"github.com/arqdb/schemadeploy/pkg/core/usecase/deploymentuc"
)

// EngineFactory builds the MigrationEngine a newly spawned worker
// should use. It is supplied once when constructing a Supervisor so
// that every worker shares the same StepMapper/ClientDatabase wiring
// without the supervisor needing to know about either.
type EngineFactory func() *deploymentuc.MigrationEngine

// Supervisor owns the registry of running DeploymentWorkers, one per
// project, guarded by a single RWMutex. Readers (Worker lookups) take
// the read lock; only the first request for a never-seen project
// takes the write lock to spawn and register a new worker.
//
// The RWMutex is kept private to the type, with all field access
// mediated by methods so callers never need to reason about the lock
// themselves.
type Supervisor struct {
	mu          sync.RWMutex
	workers     map[string]*deploymentuc.Worker
	persistence repo.MigrationPersistence
	newEngine   EngineFactory
	runCtx      context.Context
	defaultOpts []deploymentuc.WorkerOption
}

// New builds a Supervisor. runCtx is the context passed to every
// worker's Run call; cancelling it shuts every worker down. persistence
// and newEngine are shared by every worker the Supervisor spawns.
// defaultOpts are applied to every worker this Supervisor spawns,
// before any call-site opts passed to Worker, so a process-wide
// setting (such as the configured stash buffer size) reaches every
// caller uniformly whether a worker is first referenced from the HTTP
// surface or from a CLI command.
func New(
	runCtx context.Context,
	persistence repo.MigrationPersistence,
	newEngine EngineFactory,
	defaultOpts ...deploymentuc.WorkerOption,
) *Supervisor {
	return &Supervisor{
		workers:     make(map[string]*deploymentuc.Worker),
		persistence: persistence,
		newEngine:   newEngine,
		runCtx:      runCtx,
		defaultOpts: defaultOpts,
	}
}

// Worker returns the running DeploymentWorker for projectID, spawning
// one (and starting its Run goroutine) on first request. Every
// subsequent call for the same projectID returns the same instance.
func (s *Supervisor) Worker(
	projectID string, opts ...deploymentuc.WorkerOption,
) *deploymentuc.Worker {
	s.mu.RLock()
	w, ok := s.workers[projectID]
	s.mu.RUnlock()
	if ok {
		return w
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if w, ok := s.workers[projectID]; ok {
		return w
	}
	allOpts := append(append([]deploymentuc.WorkerOption{}, s.defaultOpts...), opts...)
	w = deploymentuc.NewWorker(projectID, s.persistence, s.newEngine(), allOpts...)
	s.workers[projectID] = w
	go w.Run(s.runCtx)
	return w
}

// Snapshot returns the current status of the worker for projectID, or
// a *cerr.Error with a 404 status if no worker has been spawned for
// it yet. Unlike Worker, Snapshot never spawns a worker as a side
// effect: an unknown project is a lookup failure, not an invitation
// to start one without a bootstrapped schema.
func (s *Supervisor) Snapshot(projectID string) (deploymentuc.Snapshot, error) {
	s.mu.RLock()
	w, ok := s.workers[projectID]
	s.mu.RUnlock()
	if !ok {
		return deploymentuc.Snapshot{}, cerr.NotFound(
			fmt.Errorf("no worker running for project %q", projectID))
	}
	return w.Snapshot(), nil
}
