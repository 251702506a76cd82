// Package runtime hosts agent executions. It owns the registry of active
// sessions and exposes the trigger API the webhook server and scheduler
// call into: primary triggers start an owning session, async triggers
// attach guest executions to it.
package runtime

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/hivehq/hive/internal/observability"
	"github.com/hivehq/hive/internal/tracing"
	"github.com/hivehq/hive/pkg/dispatch"
	"github.com/hivehq/hive/pkg/engine"
	"github.com/hivehq/hive/pkg/graph"
	"github.com/hivehq/hive/pkg/session"
)

// activeSession is a registered session: the owner execution plus the live
// memory map guests share with it.
type activeSession struct {
	sessionID string
	owner     *engine.OwnerStream
	// memory is touched only on the session's executor: the owner's node
	// loop mutates it there, and guest tasks snapshot and merge it there.
	memory map[string]any
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	guests sync.WaitGroup
}

// Runtime hosts one agent definition: a validated graph plus everything
// needed to execute it.
type Runtime struct {
	graph  *graph.Graph
	deps   engine.Deps
	store  session.Store
	router *dispatch.Router
	logger zerolog.Logger

	mu      sync.Mutex
	primary *activeSession
}

// New creates a runtime over a validated graph.
func New(g *graph.Graph, deps engine.Deps, store session.Store, router *dispatch.Router, logger zerolog.Logger) (*Runtime, error) {
	if err := g.Validate(); err != nil {
		return nil, fmt.Errorf("invalid agent graph: %w", err)
	}
	observability.EnsureRegistered()
	return &Runtime{
		graph:  g,
		deps:   deps,
		store:  store,
		router: router,
		logger: logger,
	}, nil
}

// Trigger fires an entry point. For the primary entry point it starts a
// new owning session and returns its ID; for async entry points it
// attaches a guest execution to the registered primary session and returns
// the shared session's ID. Execution happens on the session's executor;
// Trigger returns as soon as the work is enqueued.
func (r *Runtime) Trigger(ctx context.Context, entryPointID string, payload map[string]any) (string, error) {
	entry, ok := r.graph.EntryPoint(entryPointID)
	if !ok {
		observability.RecordTrigger(entryPointID, false)
		return "", fmt.Errorf("unknown entry point %q", entryPointID)
	}

	var (
		sessionID string
		err       error
	)
	if entry.Kind == graph.EntryPrimary {
		sessionID, err = r.triggerPrimary(ctx, entry, payload)
	} else {
		sessionID, err = r.triggerAsync(ctx, entry, payload)
	}
	observability.RecordTrigger(entryPointID, err == nil)
	return sessionID, err
}

func (r *Runtime) triggerPrimary(ctx context.Context, entry graph.EntryPoint, payload map[string]any) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.primary != nil {
		return "", &PrimaryActiveError{SessionID: r.primary.sessionID}
	}

	owner, err := engine.NewOwnerStream(r.deps, r.graph, r.store, entry.ID, engine.SessionState{
		Memory: payload,
	})
	if err != nil {
		return "", err
	}

	sessCtx, cancel := context.WithCancel(context.Background())
	sess := &activeSession{
		sessionID: owner.SessionID(),
		owner:     owner,
		memory:    owner.Memory(),
		ctx:       sessCtx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	r.primary = sess
	observability.SetActiveSessions(1)

	err = r.router.Dispatch(ctx, sess.sessionID, func(execCtx context.Context) {
		runCtx := dispatch.WithExecutor(sess.ctx, dispatch.ExecutorFrom(execCtx))
		runCtx = tracing.NewRunContext(tracing.NewTriggerContext(runCtx), entry.ID)
		runCtx = tracing.WithSessionID(runCtx, sess.sessionID)
		if _, runErr := owner.Run(runCtx); runErr != nil {
			r.logger.Error().
				Str("session_id", sess.sessionID).
				Err(runErr).
				Msg("Primary session ended with error")
		}
		r.retire(sess)
	})
	if err != nil {
		cancel()
		r.primary = nil
		observability.SetActiveSessions(0)
		return "", err
	}

	r.logger.Info().
		Str("session_id", sess.sessionID).
		Str("entry_point", entry.ID).
		Msg("Primary session started")
	return sess.sessionID, nil
}

func (r *Runtime) triggerAsync(ctx context.Context, entry graph.EntryPoint, payload map[string]any) (string, error) {
	r.mu.Lock()
	sess := r.primary
	r.mu.Unlock()

	if sess == nil {
		return "", &NoPrimarySessionError{EntryPoint: entry.ID}
	}

	// Everything that reads or writes the shared memory map happens
	// inside the dispatched task, on the session's executor, serialized
	// with the owner's own set_memory writes.
	sess.guests.Add(1)
	err := r.router.Dispatch(ctx, sess.sessionID, func(execCtx context.Context) {
		defer sess.guests.Done()
		r.runGuest(execCtx, sess, entry, payload)
	})
	if err != nil {
		sess.guests.Done()
		return "", err
	}

	r.logger.Info().
		Str("session_id", sess.sessionID).
		Str("entry_point", entry.ID).
		Msg("Guest execution attached")
	return sess.sessionID, nil
}

// runGuest builds and runs a guest execution on the session's executor.
// The guest sees the primary's memory filtered to the entry point's
// declared input keys, with the trigger payload layered on top. After
// each accepted iteration its writes are merged back into the shared map
// and persisted through the owner, the only holder of the state record.
func (r *Runtime) runGuest(execCtx context.Context, sess *activeSession, entry graph.EntryPoint, payload map[string]any) {
	shared := filterMemory(sess.memory, entry.InputKeys)
	for k, v := range payload {
		shared[k] = v
	}

	guest, err := engine.NewGuestStream(r.deps, r.graph, entry.ID, engine.SessionState{
		ResumeSessionID: sess.sessionID,
		Memory:          shared,
	}, shared)
	if err != nil {
		r.logger.Error().
			Str("session_id", sess.sessionID).
			Str("entry_point", entry.ID).
			Err(err).
			Msg("Guest construction failed")
		return
	}

	runCtx := dispatch.WithExecutor(sess.ctx, dispatch.ExecutorFrom(execCtx))
	runCtx = tracing.PropagateToGuest(tracing.WithSessionID(runCtx, sess.sessionID), entry.ID)
	_, runErr := guest.Run(runCtx, func() {
		for k, v := range shared {
			sess.memory[k] = v
		}
		if perr := sess.owner.PersistMemory(); perr != nil {
			r.logger.Warn().
				Str("session_id", sess.sessionID).
				Err(perr).
				Msg("Guest memory write failed to persist")
		}
	})
	if runErr != nil {
		r.logger.Error().
			Str("session_id", sess.sessionID).
			Str("entry_point", entry.ID).
			Err(runErr).
			Msg("Guest execution ended with error")
	}
}

// PrimarySessionID returns the registered primary session, if any.
func (r *Runtime) PrimarySessionID() (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.primary == nil {
		return "", false
	}
	return r.primary.sessionID, true
}

// Cancel requests cooperative cancellation of the active session.
func (r *Runtime) Cancel() {
	r.mu.Lock()
	sess := r.primary
	r.mu.Unlock()
	if sess != nil {
		sess.cancel()
	}
}

// Wait blocks until the active session, if any, reaches a terminal state
// and its attached guest executions have drained.
func (r *Runtime) Wait() {
	r.mu.Lock()
	sess := r.primary
	r.mu.Unlock()
	if sess != nil {
		<-sess.done
		sess.guests.Wait()
	}
}

// Shutdown cancels the active session and waits for it to finish, bounded
// by ctx.
func (r *Runtime) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	sess := r.primary
	r.mu.Unlock()
	if sess == nil {
		return nil
	}

	sess.cancel()
	drained := make(chan struct{})
	go func() {
		<-sess.done
		sess.guests.Wait()
		close(drained)
	}()
	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// retire removes a terminal session from the registry.
func (r *Runtime) retire(sess *activeSession) {
	r.mu.Lock()
	if r.primary == sess {
		r.primary = nil
	}
	r.mu.Unlock()

	// The session context stays live: guests enqueued before the owner
	// finished still get to run.
	close(sess.done)
	r.router.Retire(sess.sessionID)
	observability.SetActiveSessions(0)
	r.logger.Info().
		Str("session_id", sess.sessionID).
		Str("status", string(sess.owner.Status())).
		Msg("Session retired")
}

func filterMemory(memory map[string]any, inputKeys []string) map[string]any {
	filtered := make(map[string]any, len(inputKeys))
	for _, key := range inputKeys {
		if value, ok := memory[key]; ok {
			filtered[key] = value
		}
	}
	return filtered
}
