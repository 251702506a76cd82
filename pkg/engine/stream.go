package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/hivehq/hive/internal/observability"
	"github.com/hivehq/hive/pkg/convo"
	"github.com/hivehq/hive/pkg/graph"
	"github.com/hivehq/hive/pkg/provider"
	"github.com/hivehq/hive/pkg/session"
)

// Result is what an execution stream produced: the final node's structured
// outputs and the memory map as it stood at the end of the run.
type Result struct {
	Outputs map[string]any
	Memory  map[string]any
}

// Deps bundles the collaborators an execution stream needs.
type Deps struct {
	Client provider.Client
	Log    *convo.Log
	Judge  Judge
	Model  ModelConfig
	// Backoff governs the outer connectivity retry loop around each
	// node. Zero values fall back to the provider defaults.
	Backoff provider.RetryConfig
	// MaxNodeIterations is the judge-loop ceiling for nodes that do not
	// declare their own.
	MaxNodeIterations int
	Logger            zerolog.Logger
}

// streamCore is the execution machinery shared by owner and guest
// streams: graph traversal, per-node loops, and connectivity backoff. It
// deliberately knows nothing about state records.
type streamCore struct {
	graph     *graph.Graph
	node      *LoopNode
	backoff   provider.RetryConfig
	entryID   string
	sessionID string
	memory    map[string]any
	fresh     bool
	logger    zerolog.Logger
}

func newStreamCore(deps Deps, g *graph.Graph, entryID, sessionID string, memory map[string]any, fresh bool) (*streamCore, error) {
	materialized, err := g.Materialize(entryID)
	if err != nil {
		return nil, err
	}
	logger := deps.Logger.With().
		Str("session_id", sessionID).
		Str("entry_point", entryID).
		Logger()

	return &streamCore{
		graph:     materialized,
		node:      NewLoopNode(deps.Client, deps.Log, deps.Judge, deps.Model, deps.MaxNodeIterations, logger),
		backoff:   deps.Backoff,
		entryID:   entryID,
		sessionID: sessionID,
		memory:    memory,
		fresh:     fresh,
		logger:    logger,
	}, nil
}

// run walks the materialized graph from the entry node, executing each
// node to acceptance before following its first successor. A connectivity
// failure re-runs the current node after a backoff delay; the judge budget
// is untouched because the node never produced anything to judge.
func (s *streamCore) run(ctx context.Context, onProgress func()) (Result, error) {
	entry, ok := s.graph.EntryPoint(s.entryID)
	if !ok {
		return Result{}, fmt.Errorf("entry point %q not in materialized graph", s.entryID)
	}
	current, ok := s.graph.Node(entry.ID)
	if !ok {
		return Result{}, fmt.Errorf("entry node %q not in materialized graph", entry.ID)
	}

	fresh := s.fresh
	var acc convo.Accumulator

	for {
		run := NodeRun{
			SessionID:    s.sessionID,
			Node:         current,
			Metadata:     s.graph.Metadata(),
			Memory:       s.memory,
			Fresh:        fresh,
			EntryPointID: s.entryID,
			OnProgress:   onProgress,
		}
		// The fresh-trigger reset applies once, at the first node.
		fresh = false

		var err error
		acc, err = s.runWithBackoff(ctx, run)
		if err != nil {
			return Result{Outputs: acc.Outputs, Memory: s.memory}, err
		}

		next := s.graph.Successors(current.ID)
		if len(next) == 0 {
			return Result{Outputs: acc.Outputs, Memory: s.memory}, nil
		}
		current, ok = s.graph.Node(next[0])
		if !ok {
			return Result{Outputs: acc.Outputs, Memory: s.memory}, fmt.Errorf("successor %q not in materialized graph", next[0])
		}
	}
}

func (s *streamCore) runWithBackoff(ctx context.Context, run NodeRun) (convo.Accumulator, error) {
	attempts := s.backoff.MaxAttempts
	if attempts <= 0 {
		attempts = provider.DefaultRetryConfig.MaxAttempts
	}

	started := time.Now()
	for attempt := 0; ; attempt++ {
		acc, err := s.node.Run(ctx, run)
		if err == nil {
			observability.RecordNodeRun(run.Node.ID, time.Since(started), true)
			return acc, nil
		}
		if !errors.Is(err, ErrConnectivity) || attempt == attempts-1 {
			observability.RecordNodeRun(run.Node.ID, time.Since(started), false)
			return acc, err
		}

		sleep := s.backoff.BackoffFor(attempt)
		s.logger.Warn().
			Str("node", run.Node.ID).
			Int("attempt", attempt+1).
			Dur("backoff", sleep).
			Err(err).
			Msg("Connectivity failure, backing off before re-running node")

		select {
		case <-ctx.Done():
			observability.RecordNodeRun(run.Node.ID, time.Since(started), false)
			return acc, ctx.Err()
		case <-time.After(sleep):
		}
		// The reset-and-marker init already ran; re-runs resume normally.
		run.Fresh = false
	}
}

// OwnerStream is the single execution permitted to write the session's
// state record. It owns the record's full lifecycle: the running write at
// start, a memory snapshot on every node transition, and the terminal
// write at completion, error, or cancellation.
type OwnerStream struct {
	core   *streamCore
	store  session.Store
	record *session.StateRecord
	logger zerolog.Logger
}

// NewOwnerStream creates the owner execution for a brand-new session.
// Attaching to an existing session is guest territory; a state that names
// one is a caller bug.
func NewOwnerStream(deps Deps, g *graph.Graph, store session.Store, entryID string, state SessionState) (*OwnerStream, error) {
	if state.ResumeSessionID != "" {
		return nil, fmt.Errorf("owner stream cannot attach to existing session %q", state.ResumeSessionID)
	}
	if store == nil {
		return nil, fmt.Errorf("owner stream requires a state store")
	}

	record := session.NewRecord(session.NewSessionID())
	for k, v := range state.Memory {
		record.Memory[k] = v
	}

	core, err := newStreamCore(deps, g, entryID, record.SessionID, record.Memory, false)
	if err != nil {
		return nil, err
	}
	return &OwnerStream{
		core:   core,
		store:  store,
		record: record,
		logger: core.logger,
	}, nil
}

// SessionID returns the owned session's identifier.
func (o *OwnerStream) SessionID() string {
	return o.record.SessionID
}

// Memory returns the session's live memory map. Guest executions attached
// to this session share it.
func (o *OwnerStream) Memory() map[string]any {
	return o.record.Memory
}

// Run executes the stream's graph, persisting the state record at every
// lifecycle edge. The returned record reflects the terminal status.
func (o *OwnerStream) Run(ctx context.Context) (Result, error) {
	if err := o.persist(session.StatusRunning); err != nil {
		return Result{}, err
	}
	observability.RecordSessionAudit(ctx, "session_started", o.record.SessionID, "success", nil)

	result, err := o.core.run(ctx, func() {
		// Progress write on every node transition; best effort, the
		// terminal write is the one that matters.
		if perr := o.persist(session.StatusRunning); perr != nil {
			o.logger.Warn().Err(perr).Msg("Progress write failed")
		}
	})

	switch {
	case err == nil:
		if perr := o.persist(session.StatusCompleted); perr != nil {
			return result, perr
		}
		observability.RecordSessionAudit(ctx, "session_completed", o.record.SessionID, "success", nil)
		return result, nil
	case errors.Is(err, context.Canceled):
		if perr := o.persist(session.StatusCancelled); perr != nil {
			o.logger.Error().Err(perr).Msg("Failed to persist cancelled state")
		}
		observability.RecordSessionAudit(ctx, "session_cancelled", o.record.SessionID, "success", nil)
		return result, err
	default:
		if perr := o.persist(session.StatusErrored); perr != nil {
			o.logger.Error().Err(perr).Msg("Failed to persist errored state")
		}
		observability.RecordSessionAudit(ctx, "session_errored", o.record.SessionID, "failure", map[string]interface{}{
			"error": err.Error(),
		})
		return result, err
	}
}

// Status returns the record's current status.
func (o *OwnerStream) Status() session.Status {
	return o.record.Status
}

// PersistMemory re-writes the state record under its current status,
// capturing whatever the live memory map holds. Guests have no store
// reference, so this is the only path by which their memory updates
// become durable: the runtime merges guest writes into the shared map on
// the session's executor and then calls this.
func (o *OwnerStream) PersistMemory() error {
	return o.persist(o.record.Status)
}

func (o *OwnerStream) persist(status session.Status) error {
	o.record.Status = status
	o.record.UpdatedAt = time.Now().UTC()
	if err := o.store.Save(o.record); err != nil {
		return fmt.Errorf("failed to persist state record: %w", err)
	}
	return nil
}

// GuestStream is an execution attached to another execution's session. It
// shares the session's conversation log and memory map but carries no
// store reference, so it cannot touch the persisted state record.
type GuestStream struct {
	core  *streamCore
	fresh bool
}

// NewGuestStream creates a guest execution over an existing session.
// memory is the owning session's live memory map, already filtered to the
// entry point's declared input keys by the runtime; mutations flow back to
// the owner through the shared map.
func NewGuestStream(deps Deps, g *graph.Graph, entryID string, state SessionState, memory map[string]any) (*GuestStream, error) {
	if state.ResumeSessionID == "" {
		return nil, fmt.Errorf("guest stream requires a session to attach to")
	}

	fresh := state.FreshSharedTrigger()
	core, err := newStreamCore(deps, g, entryID, state.ResumeSessionID, memory, fresh)
	if err != nil {
		return nil, err
	}
	return &GuestStream{core: core, fresh: fresh}, nil
}

// SessionID returns the shared session's identifier.
func (s *GuestStream) SessionID() string {
	return s.core.sessionID
}

// Fresh reports whether this guest is a fresh trigger rather than a
// resume.
func (s *GuestStream) Fresh() bool {
	return s.fresh
}

// Run executes the guest's entry subgraph. The guest itself writes no
// state record; onProgress fires after every accepted iteration so the
// owner side can merge the shared map and persist it. nil is fine when
// nothing needs to observe progress.
func (s *GuestStream) Run(ctx context.Context, onProgress func()) (Result, error) {
	observability.RecordTriggerAudit(ctx, s.core.entryID, s.core.sessionID, "pending", nil)
	result, err := s.core.run(ctx, onProgress)
	status := "success"
	if err != nil {
		status = "failure"
	}
	observability.RecordTriggerAudit(ctx, s.core.entryID, s.core.sessionID, status, nil)
	return result, err
}
