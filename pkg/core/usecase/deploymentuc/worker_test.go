// Copyright (c) 2024 Behnam Momeni
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package deploymentuc_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arqdb/schemadeploy/pkg/core/cerr"
	"github.com/arqdb/schemadeploy/pkg/core/model"
	"github.com/arqdb/schemadeploy/pkg/core/repo"
	"github.com/arqdb/schemadeploy/pkg/core/usecase/deploymentuc"
)

// fakePersistence is an in-memory repo.MigrationPersistence, enforcing
// the same "at most one Pending migration per project" invariant a
// real implementation's partial unique index would.
type fakePersistence struct {
	mu        sync.Mutex
	byProject map[string][]model.Migration
}

func newFakePersistence() *fakePersistence {
	return &fakePersistence{byProject: make(map[string][]model.Migration)}
}

func (p *fakePersistence) seed(m model.Migration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	m.Revision = uint64(len(p.byProject[m.ProjectID]))
	p.byProject[m.ProjectID] = append(p.byProject[m.ProjectID], m)
}

func (p *fakePersistence) GetLastMigration(
	_ context.Context, projectID string,
) (*model.Migration, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ms := p.byProject[projectID]
	if len(ms) == 0 {
		return nil, nil
	}
	last := ms[len(ms)-1]
	return &last, nil
}

func (p *fakePersistence) GetNextMigration(
	_ context.Context, projectID string,
) (*model.Migration, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, m := range p.byProject[projectID] {
		if m.Status == model.Pending {
			m := m
			return &m, nil
		}
	}
	return nil, nil
}

func (p *fakePersistence) Create(
	_ context.Context, migration model.Migration,
) (model.Migration, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, m := range p.byProject[migration.ProjectID] {
		if m.Status == model.Pending {
			return model.Migration{}, errors.New("fakePersistence: a pending migration already exists")
		}
	}
	migration.Revision = uint64(len(p.byProject[migration.ProjectID]))
	p.byProject[migration.ProjectID] = append(p.byProject[migration.ProjectID], migration)
	return migration, nil
}

func (p *fakePersistence) UpdateMigrationStatus(
	_ context.Context, migration model.Migration, status model.MigrationStatus,
) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	ms := p.byProject[migration.ProjectID]
	for i, m := range ms {
		if m.Revision == migration.Revision {
			ms[i].Status = status
			return nil
		}
	}
	return fmt.Errorf("fakePersistence: no migration at revision %d", migration.Revision)
}

func (p *fakePersistence) statusOf(projectID string, revision uint64) (model.MigrationStatus, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, m := range p.byProject[projectID] {
		if m.Revision == revision {
			return m.Status, true
		}
	}
	return 0, false
}

func seededEngine(t *testing.T) *deploymentuc.MigrationEngine {
	t.Helper()
	applier := deploymentuc.NewStepApplier(fakeMapper{}, newFakeClient())
	return deploymentuc.NewMigrationEngine(applier)
}

func startWorker(
	t *testing.T, persistence *fakePersistence, engine *deploymentuc.MigrationEngine,
) (*deploymentuc.Worker, context.CancelFunc) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	w := deploymentuc.NewWorker("p1", persistence, engine)
	go w.Run(ctx)
	return w, cancel
}

func TestWorkerBecomesReadyAfterBootstrappedInit(t *testing.T) {
	persistence := newFakePersistence()
	persistence.seed(model.Migration{ProjectID: "p1", Status: model.Success, Schema: model.NewSchema()})

	w, cancel := startWorker(t, persistence, seededEngine(t))
	defer cancel()

	require.Eventually(t, func() bool {
		return w.Snapshot().Mode == "ready"
	}, time.Second, time.Millisecond)
}

func TestWorkerScheduleSucceedsAndPersistsTerminalStatus(t *testing.T) {
	persistence := newFakePersistence()
	persistence.seed(model.Migration{ProjectID: "p1", Status: model.Success, Schema: model.NewSchema()})

	w, cancel := startWorker(t, persistence, seededEngine(t))
	defer cancel()

	require.Eventually(t, func() bool {
		return w.Snapshot().Mode == "ready"
	}, time.Second, time.Millisecond)

	steps := []model.MigrationStep{{Kind: model.CreateModel, ModelName: "user"}}
	created, err := w.Schedule(context.Background(), model.NewSchema(), steps)
	require.NoError(t, err)
	assert.Equal(t, model.Pending, created.Status)
	assert.Equal(t, uint64(1), created.Revision)

	require.Eventually(t, func() bool {
		status, ok := persistence.statusOf("p1", 1)
		return ok && status.IsTerminal()
	}, time.Second, time.Millisecond)

	status, ok := persistence.statusOf("p1", 1)
	require.True(t, ok)
	assert.Equal(t, model.Success, status)

	require.Eventually(t, func() bool {
		return w.Snapshot().Mode == "ready"
	}, time.Second, time.Millisecond)
}

func TestWorkerScheduleRejectsWhenPersistenceAlreadyHasAPending(t *testing.T) {
	persistence := newFakePersistence()
	persistence.seed(model.Migration{ProjectID: "p1", Status: model.Success, Schema: model.NewSchema()})

	w, cancel := startWorker(t, persistence, seededEngine(t))
	defer cancel()

	require.Eventually(t, func() bool {
		return w.Snapshot().Mode == "ready"
	}, time.Second, time.Millisecond)

	// Simulate a Pending row inserted by a concurrent writer outside
	// this worker (e.g. another process sharing the same database).
	// onSchedule's own GetNextMigration admission check, not just the
	// worker's in-memory mode, must catch this.
	persistence.seed(model.Migration{ProjectID: "p1", Status: model.Pending, Schema: model.NewSchema()})

	_, err := w.Schedule(context.Background(), model.NewSchema(), nil)
	require.Error(t, err)
	var ce *cerr.Error
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, 409, ce.HTTPStatusCode)
}

func TestWorkerScheduleRejectsWhileBusy(t *testing.T) {
	persistence := newFakePersistence()
	persistence.seed(model.Migration{ProjectID: "p1", Status: model.Success, Schema: model.NewSchema()})

	gate := make(chan struct{})
	client := newGatedClient(gate)
	applier := deploymentuc.NewStepApplier(fakeMapper{}, client)
	engine := deploymentuc.NewMigrationEngine(applier)

	w, cancel := startWorker(t, persistence, engine)
	defer cancel()

	require.Eventually(t, func() bool {
		return w.Snapshot().Mode == "ready"
	}, time.Second, time.Millisecond)

	steps := []model.MigrationStep{{Kind: model.CreateModel, ModelName: "user"}}
	go func() {
		_, _ = w.Schedule(context.Background(), model.NewSchema(), steps)
	}()

	require.Eventually(t, func() bool {
		return w.Snapshot().Mode == "busy"
	}, time.Second, time.Millisecond)

	_, err := w.Schedule(context.Background(), model.NewSchema(), steps)
	require.Error(t, err)
	var ce *cerr.Error
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, 409, ce.HTTPStatusCode)

	close(gate)
	require.Eventually(t, func() bool {
		return w.Snapshot().Mode == "ready"
	}, time.Second, time.Millisecond)
}

func TestWorkerResumesPendingMigrationLeftByAPreviousRun(t *testing.T) {
	persistence := newFakePersistence()
	persistence.seed(model.Migration{ProjectID: "p1", Status: model.Success, Schema: model.NewSchema()})
	persistence.seed(model.Migration{
		ProjectID: "p1",
		Status:    model.Pending,
		Schema:    model.NewSchema(),
		Steps:     []model.MigrationStep{{Kind: model.CreateModel, ModelName: "user"}},
	})

	w, cancel := startWorker(t, persistence, seededEngine(t))
	defer cancel()

	require.Eventually(t, func() bool {
		status, ok := persistence.statusOf("p1", 1)
		return ok && status.IsTerminal()
	}, time.Second, time.Millisecond, "a pending migration found at startup must be applied without any Schedule call")

	status, ok := persistence.statusOf("p1", 1)
	require.True(t, ok)
	assert.Equal(t, model.Success, status)

	require.Eventually(t, func() bool {
		return w.Snapshot().Mode == "ready"
	}, time.Second, time.Millisecond)
}

func TestWorkerScheduleFailurePersistsRollbackFailureWithoutAdvancingActiveSchema(t *testing.T) {
	persistence := newFakePersistence()
	original := model.NewSchema()
	persistence.seed(model.Migration{ProjectID: "p1", Status: model.Success, Schema: original})

	client := newFakeClient("apply:broken")
	applier := deploymentuc.NewStepApplier(fakeMapper{}, client)
	engine := deploymentuc.NewMigrationEngine(applier)

	w, cancel := startWorker(t, persistence, engine)
	defer cancel()

	require.Eventually(t, func() bool {
		return w.Snapshot().Mode == "ready"
	}, time.Second, time.Millisecond)

	next := model.NewSchema()
	next.Models["user"] = model.ModelDef{Name: "user"}
	steps := []model.MigrationStep{{Kind: model.CreateModel, ModelName: "broken"}}
	_, err := w.Schedule(context.Background(), next, steps)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		status, ok := persistence.statusOf("p1", 1)
		return ok && status.IsTerminal()
	}, time.Second, time.Millisecond)

	status, ok := persistence.statusOf("p1", 1)
	require.True(t, ok)
	assert.Equal(t, model.RollbackFailure, status)
	assert.True(t, original.Equal(w.Snapshot().ActiveSchema),
		"a failed migration must never advance activeSchema")
}

func TestWorkerShutsDownWithoutBootstrappedMigration(t *testing.T) {
	persistence := newFakePersistence()
	w, cancel := startWorker(t, persistence, seededEngine(t))
	defer cancel()

	require.Eventually(t, func() bool {
		return w.Snapshot().Mode == "initializing"
	}, time.Second, time.Millisecond)
	// The worker logs a fatal init error and returns from Run without
	// ever reaching Ready; checking again after a short wait confirms
	// it has not transitioned out of "initializing" on its own.
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, "initializing", w.Snapshot().Mode)
}

// gatedClient blocks every Run call until gate is closed, so a test
// can hold the worker in Busy mode deterministically.
type gatedClient struct {
	gate chan struct{}
}

func newGatedClient(gate chan struct{}) *gatedClient {
	return &gatedClient{gate: gate}
}

func (c *gatedClient) Run(ctx context.Context, _ repo.Statements) error {
	select {
	case <-c.gate:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
