// Copyright (c) 2024 Behnam Momeni
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package deploymentuc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/arqdb/schemadeploy/pkg/core/cerr"
	"github.com/arqdb/schemadeploy/pkg/core/log"
	"github.com/arqdb/schemadeploy/pkg/core/model"
	"github.com/arqdb/schemadeploy/pkg/core/repo"
)

// errDeploymentInProgress is the error Schedule reports when a
// migration is already Pending for the project. It is wrapped as a *cerr.Error
// with a 409 Conflict status so the outer HTTP adapter can translate
// it without inspecting the use case package.
var errDeploymentInProgress = errors.New(
	"deploymentuc: a migration is already pending for this project",
)

// DeploymentInProgress builds the *cerr.Error reported by Schedule
// when admission is refused. errors.Is(err, errDeploymentInProgress)
// can be used to detect it regardless of the cerr wrapper.
func DeploymentInProgress() *cerr.Error {
	return cerr.Conflict(errDeploymentInProgress)
}

// workerMode is the DeploymentWorker's own state, distinct from
// MigrationProgress (which exists only for the lifetime of one
// Apply run).
type workerMode int

const (
	modeInitializing workerMode = iota
	modeReady
	modeBusy
)

func (m workerMode) String() string {
	switch m {
	case modeInitializing:
		return "initializing"
	case modeReady:
		return "ready"
	case modeBusy:
		return "busy"
	default:
		return "unknown"
	}
}

// Snapshot is a point-in-time, concurrency-safe view of a Worker's
// externally visible state, served by the status HTTP endpoint and by
// the supervisor.
type Snapshot struct {
	ProjectID    string
	Mode         string
	ActiveSchema model.Schema
}

// WorkerOption configures a Worker built with NewWorker.
type WorkerOption func(*Worker)

// WithStashBufferSize pre-allocates the worker's stash slice with the
// given capacity. The stash still grows past this size if needed — it
// is unbounded by contract — this only avoids reallocations for the
// common case.
func WithStashBufferSize(n int) WorkerOption {
	return func(w *Worker) {
		w.stash = make([]message, 0, n)
	}
}

// Worker is the per-project deployment state machine described by
// the state table in this package's design: it serializes admission
// of new migrations, drives a MigrationEngine over the current
// Pending migration, and is the sole writer of its own activeSchema.
//
// All of Worker's mode, stash, and activeSchema fields are touched
// only from the goroutine running Run; asynchronous continuations
// (persistence calls, engine runs) communicate results back through
// the mailbox instead of mutating Worker state directly, so a single
// goroutine is ever responsible for this worker's decisions.
type Worker struct {
	projectID   string
	persistence repo.MigrationPersistence
	engine      *MigrationEngine

	mailbox *mailbox
	stash   []message

	mode         workerMode
	activeSchema model.Schema

	snapshot atomic.Pointer[Snapshot]
}

// NewWorker builds a Worker for projectID. Call Run in its own
// goroutine to start the worker's initialization sequence.
func NewWorker(
	projectID string,
	persistence repo.MigrationPersistence,
	engine *MigrationEngine,
	opts ...WorkerOption,
) *Worker {
	w := &Worker{
		projectID:   projectID,
		persistence: persistence,
		engine:      engine,
		mailbox:     newMailbox(),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.publishSnapshot()
	return w
}

// Run executes the worker's message loop until ctx is cancelled. It
// begins by launching the asynchronous initialization sequence, then
// processes messages one at a time, FIFO, from the mailbox. Run
// returns once ctx is done or initialization fails fatally.
func (w *Worker) Run(ctx context.Context) {
	go w.runInit(ctx)
	for {
		msg, ok := w.mailbox.pop(ctx)
		if !ok {
			return
		}
		if shutdown := w.handle(ctx, msg); shutdown {
			return
		}
	}
}

// Schedule asks the worker to admit and persist a migration moving
// the project to nextSchema via steps. It blocks until the worker
// replies or ctx is done. Each call is tagged with a fresh request id
// so its admission decision and any deployment it kicks off can be
// correlated in the logs, even across concurrent callers of the same
// project's worker.
func (w *Worker) Schedule(
	ctx context.Context, nextSchema model.Schema, steps []model.MigrationStep,
) (model.Migration, error) {
	requestID := uuid.New()
	log.Info(ctx, "deploymentuc: schedule requested",
		slog.String("project-id", w.projectID),
		slog.String("request-id", requestID.String()),
	)
	reply := make(chan scheduleResult, 1)
	w.mailbox.push(scheduleMessage{
		nextSchema: nextSchema,
		steps:      steps,
		reply:      reply,
		requestID:  requestID,
	})
	select {
	case <-ctx.Done():
		return model.Migration{}, ctx.Err()
	case res := <-reply:
		return res.migration, res.err
	}
}

// Kick posts a Deploy message to the worker's own mailbox. It is safe
// to call from any goroutine; if no migration is Pending when the
// worker handles it, the worker logs a warning and stays Ready.
func (w *Worker) Kick() {
	w.mailbox.push(deployMessage{})
}

// Snapshot returns the worker's current externally-visible state.
// It is safe to call concurrently with Run.
func (w *Worker) Snapshot() Snapshot {
	if s := w.snapshot.Load(); s != nil {
		return *s
	}
	return Snapshot{ProjectID: w.projectID, Mode: modeInitializing.String()}
}

func (w *Worker) publishSnapshot() {
	w.snapshot.Store(&Snapshot{
		ProjectID:    w.projectID,
		Mode:         w.mode.String(),
		ActiveSchema: w.activeSchema,
	})
}

// handle dispatches one message according to the current mode. It
// reports whether the worker must shut down as a result (true only
// when initialization fails fatally). handle is called both from Run
// and recursively from drainStash, always from the single goroutine
// that owns this worker's state.
func (w *Worker) handle(ctx context.Context, msg message) (shutdown bool) {
	switch w.mode {
	case modeInitializing:
		rm, ok := msg.(readyMessage)
		if !ok {
			w.stash = append(w.stash, msg)
			return false
		}
		return w.onReady(ctx, rm)
	case modeReady:
		switch m := msg.(type) {
		case scheduleMessage:
			w.onSchedule(ctx, m)
		case deployMessage:
			w.onDeploy(ctx)
		default:
			log.Warn(ctx, "deploymentuc: ignoring unexpected message while ready",
				slog.String("project-id", w.projectID),
				slog.String("type", fmt.Sprintf("%T", msg)),
			)
		}
	case modeBusy:
		switch m := msg.(type) {
		case scheduleMessage:
			m.reply <- scheduleResult{err: DeploymentInProgress()}
		case resumeMessage:
			w.onResume(ctx, m)
		default:
			w.stash = append(w.stash, msg)
		}
	}
	return false
}

func (w *Worker) onReady(ctx context.Context, m readyMessage) (shutdown bool) {
	if m.initErr != nil {
		log.Error(ctx, "deploymentuc: initialization failed, worker shutting down",
			slog.String("project-id", w.projectID),
			log.Err("error", m.initErr),
		)
		return true
	}
	w.activeSchema = m.activeSchema
	w.mode = modeReady
	w.publishSnapshot()
	if m.pending != nil {
		prevSchema := w.activeSchema
		pending := *m.pending
		w.mode = modeBusy
		w.publishSnapshot()
		go w.runDeployment(ctx, prevSchema, pending)
	}
	w.drainStash(ctx)
	return false
}

func (w *Worker) onSchedule(ctx context.Context, m scheduleMessage) {
	prevSchema := w.activeSchema
	w.mode = modeBusy
	w.publishSnapshot()
	projectID := w.projectID
	go func() {
		existing, err := w.persistence.GetNextMigration(ctx, projectID)
		if err != nil {
			m.reply <- scheduleResult{err: cerr.Internal(
				fmt.Errorf("checking admission: %w", err))}
			w.mailbox.push(resumeMessage{})
			return
		}
		if existing != nil {
			log.Warn(ctx, "deploymentuc: schedule rejected, a migration is already pending",
				slog.String("project-id", projectID),
				slog.String("request-id", m.requestID.String()),
			)
			m.reply <- scheduleResult{err: DeploymentInProgress()}
			w.mailbox.push(resumeMessage{})
			return
		}
		migration := model.Migration{
			ProjectID: projectID,
			Schema:    m.nextSchema,
			Steps:     m.steps,
			Status:    model.Pending,
		}
		created, err := w.persistence.Create(ctx, migration)
		if err != nil {
			m.reply <- scheduleResult{err: cerr.Internal(
				fmt.Errorf("persisting migration: %w", err))}
			w.mailbox.push(resumeMessage{})
			return
		}
		log.Info(ctx, "deploymentuc: schedule admitted",
			slog.String("project-id", projectID),
			slog.String("request-id", m.requestID.String()),
			slog.Uint64("revision", created.Revision),
		)
		m.reply <- scheduleResult{migration: created}
		w.runDeployment(ctx, prevSchema, created)
	}()
}

func (w *Worker) onDeploy(ctx context.Context) {
	prevSchema := w.activeSchema
	w.mode = modeBusy
	w.publishSnapshot()
	projectID := w.projectID
	go func() {
		next, err := w.persistence.GetNextMigration(ctx, projectID)
		if err != nil {
			log.Error(ctx, "deploymentuc: deploy failed to look up pending migration",
				slog.String("project-id", projectID),
				log.Err("error", err),
			)
			w.mailbox.push(resumeMessage{})
			return
		}
		if next == nil {
			log.Warn(ctx, "deploymentuc: deploy requested with no pending migration",
				slog.String("project-id", projectID),
			)
			w.mailbox.push(resumeMessage{})
			return
		}
		w.runDeployment(ctx, prevSchema, *next)
	}()
}

// runDeployment runs the engine over migration and persists its
// terminal status. It executes on a goroutine spawned by onReady,
// onSchedule, or onDeploy — never on the worker's own Run goroutine —
// and communicates its outcome back exclusively through a
// resumeMessage, so Worker's mode/activeSchema/stash fields are never
// written outside of Run's goroutine.
func (w *Worker) runDeployment(
	ctx context.Context, prevSchema model.Schema, migration model.Migration,
) {
	result := w.engine.Apply(ctx, prevSchema, migration)
	status := model.Success
	if !result.Succeeded {
		// The source writes RollbackFailure unconditionally on any
		// forward failure, without distinguishing a clean rollback
		// from one with swallowed reverse errors. That behavior is
		// preserved here; see the design notes for the rationale.
		status = model.RollbackFailure
	}
	if err := w.persistence.UpdateMigrationStatus(ctx, migration, status); err != nil {
		log.Error(ctx, "deploymentuc: failed to persist terminal migration status",
			slog.String("project-id", migration.ProjectID),
			slog.Uint64("revision", migration.Revision),
			log.Err("error", err),
		)
		w.mailbox.push(resumeMessage{})
		return
	}
	migration.Status = status
	w.mailbox.push(resumeMessage{
		migration:           migration,
		advanceActiveSchema: status == model.Success,
	})
}

func (w *Worker) onResume(ctx context.Context, m resumeMessage) {
	if m.advanceActiveSchema {
		w.activeSchema = m.migration.Schema
	}
	w.mode = modeReady
	w.publishSnapshot()
	w.drainStash(ctx)
}

// drainStash redelivers every stashed message, in arrival order, to
// handle. It snapshots and clears the stash first so that messages
// re-stashed during draining (because an earlier one in the batch
// flipped the worker back to Busy) start a fresh batch rather than
// looping forever over the same slice.
func (w *Worker) drainStash(ctx context.Context) {
	pending := w.stash
	w.stash = nil
	for _, msg := range pending {
		w.handle(ctx, msg)
	}
}

func (w *Worker) runInit(ctx context.Context) {
	last, err := w.persistence.GetLastMigration(ctx, w.projectID)
	if err != nil {
		w.mailbox.push(readyMessage{
			initErr: fmt.Errorf("loading last migration: %w", err),
		})
		return
	}
	if last == nil {
		w.mailbox.push(readyMessage{initErr: fmt.Errorf(
			"project %q has no migration; it must be bootstrapped "+
				"before a worker is started", w.projectID)})
		return
	}
	next, err := w.persistence.GetNextMigration(ctx, w.projectID)
	if err != nil {
		w.mailbox.push(readyMessage{
			initErr: fmt.Errorf("loading next migration: %w", err),
		})
		return
	}
	w.mailbox.push(readyMessage{activeSchema: last.Schema, pending: next})
}

// mailbox is an unbounded FIFO queue of messages. The stash is
// explicitly unbounded by contract, and the mailbox backs it, so a
// fixed-capacity channel would silently violate that contract under
// load; a slice guarded by a condition variable has no such ceiling.
type mailbox struct {
	mu    sync.Mutex
	cond  *sync.Cond
	items []message
}

func newMailbox() *mailbox {
	mb := &mailbox{}
	mb.cond = sync.NewCond(&mb.mu)
	return mb
}

func (mb *mailbox) push(msg message) {
	mb.mu.Lock()
	mb.items = append(mb.items, msg)
	mb.mu.Unlock()
	mb.cond.Signal()
}

// pop blocks until a message is available or ctx is done. A watcher
// goroutine is started per call to translate ctx cancellation into a
// condition-variable broadcast; this worker receives few enough
// messages that a goroutine per pop is not a concern.
func (mb *mailbox) pop(ctx context.Context) (message, bool) {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			mb.cond.Broadcast()
		case <-stop:
		}
	}()

	mb.mu.Lock()
	defer mb.mu.Unlock()
	for len(mb.items) == 0 {
		if ctx.Err() != nil {
			return nil, false
		}
		mb.cond.Wait()
	}
	msg := mb.items[0]
	mb.items = mb.items[1:]
	return msg, true
}
