// Package schedule fires graph entry points on timers: one-shot, interval,
// and cron schedules backed by a persisted job store.
package schedule

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hivehq/hive/pkg/runtime"
)

// Triggerer fires graph entry points; *runtime.Runtime implements it.
type Triggerer interface {
	Trigger(ctx context.Context, entryPointID string, payload map[string]any) (string, error)
}

// ServiceOptions configures the scheduler.
type ServiceOptions struct {
	StorePath      string        // path to jobs.json
	TriggerTimeout time.Duration // per-trigger timeout (default: 30s)
}

// Service schedules and executes jobs.
type Service struct {
	jobs      map[string]*Job
	timers    map[string]*time.Timer
	options   ServiceOptions
	triggerer Triggerer
	logger    zerolog.Logger
	mu        sync.RWMutex
	stopped   bool
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewService creates a scheduler over the given runtime. Persisted jobs
// are loaded and enabled ones scheduled immediately.
func NewService(opts ServiceOptions, triggerer Triggerer, logger zerolog.Logger) (*Service, error) {
	if opts.StorePath == "" {
		return nil, fmt.Errorf("store path is required")
	}
	if triggerer == nil {
		return nil, fmt.Errorf("triggerer is required")
	}
	if opts.TriggerTimeout == 0 {
		opts.TriggerTimeout = 30 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())

	s := &Service{
		jobs:      make(map[string]*Job),
		timers:    make(map[string]*time.Timer),
		options:   opts,
		triggerer: triggerer,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
	}

	if err := s.loadJobs(); err != nil {
		logger.Warn().Err(err).Msg("Failed to load jobs, starting with empty registry")
	}

	s.scheduleAll()

	logger.Info().Int("jobCount", len(s.jobs)).Msg("Scheduler initialized")

	return s, nil
}

// AddJob creates a new scheduled job.
func (s *Service) AddJob(params AddParams) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return nil, fmt.Errorf("scheduler is stopped")
	}
	if params.Name == "" {
		return nil, fmt.Errorf("job name is required")
	}
	if params.EntryPoint == "" {
		return nil, fmt.Errorf("job entry point is required")
	}

	nextRunAtMs, err := NextRun(params.Schedule)
	if err != nil {
		return nil, fmt.Errorf("invalid schedule: %w", err)
	}

	now := Now()
	job := &Job{
		ID:             uuid.New().String(),
		Name:           params.Name,
		Description:    params.Description,
		Enabled:        params.Enabled,
		DeleteAfterRun: params.DeleteAfterRun,
		CreatedAtMs:    now,
		UpdatedAtMs:    now,
		Schedule:       params.Schedule,
		EntryPoint:     params.EntryPoint,
		Payload:        params.Payload,
		State: JobState{
			NextRunAtMs: Int64Ptr(nextRunAtMs),
		},
	}

	s.jobs[job.ID] = job
	if job.Enabled {
		s.scheduleJobLocked(job)
	}

	if err := s.persist(); err != nil {
		s.logger.Error().Err(err).Msg("Failed to persist jobs")
	}

	s.logger.Info().
		Str("jobId", job.ID).
		Str("name", job.Name).
		Str("entry_point", job.EntryPoint).
		Msg("Job added")

	return job, nil
}

// RemoveJob deletes a job and cancels its timer.
func (s *Service) RemoveJob(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[id]; !exists {
		return fmt.Errorf("job not found: %s", id)
	}

	s.cancelJobLocked(id)
	delete(s.jobs, id)

	if err := s.persist(); err != nil {
		s.logger.Error().Err(err).Msg("Failed to persist jobs")
	}

	s.logger.Info().Str("jobId", id).Msg("Job removed")
	return nil
}

// SetEnabled flips a job's enabled flag, scheduling or cancelling as
// needed.
func (s *Service) SetEnabled(id string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, exists := s.jobs[id]
	if !exists {
		return fmt.Errorf("job not found: %s", id)
	}
	if job.Enabled == enabled {
		return nil
	}

	job.Enabled = enabled
	job.UpdatedAtMs = Now()

	if enabled {
		if nextRunAtMs, err := NextRun(job.Schedule); err == nil {
			job.State.NextRunAtMs = Int64Ptr(nextRunAtMs)
		}
		s.scheduleJobLocked(job)
	} else {
		s.cancelJobLocked(id)
	}

	if err := s.persist(); err != nil {
		s.logger.Error().Err(err).Msg("Failed to persist jobs")
	}
	return nil
}

// ListJobs returns all jobs.
func (s *Service) ListJobs() []*Job {
	s.mu.RLock()
	defer s.mu.RUnlock()

	jobs := make([]*Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		copied := *job
		jobs = append(jobs, &copied)
	}
	return jobs
}

// GetJob returns a job by ID, or nil.
func (s *Service) GetJob(id string) *Job {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, exists := s.jobs[id]
	if !exists {
		return nil
	}
	copied := *job
	return &copied
}

// Stop cancels all timers and persists final state.
func (s *Service) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return nil
	}
	s.stopped = true
	s.cancel()

	for id := range s.timers {
		s.cancelJobLocked(id)
	}

	if err := s.persist(); err != nil {
		s.logger.Error().Err(err).Msg("Failed to persist jobs on shutdown")
		return err
	}

	s.logger.Info().Msg("Scheduler stopped")
	return nil
}

func (s *Service) scheduleAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, job := range s.jobs {
		if job.Enabled {
			s.scheduleJobLocked(job)
		}
	}
}

func (s *Service) scheduleJobLocked(job *Job) {
	if job.State.NextRunAtMs == nil {
		s.logger.Warn().Str("jobId", job.ID).Msg("Cannot schedule job without next run time")
		return
	}

	delay := *job.State.NextRunAtMs - Now()
	if delay < 0 {
		delay = 0
	}

	id := job.ID
	timer := time.AfterFunc(time.Duration(delay)*time.Millisecond, func() {
		s.executeJob(id)
	})
	s.timers[id] = timer

	s.logger.Debug().
		Str("jobId", id).
		Int64("delayMs", delay).
		Msg("Job scheduled")
}

func (s *Service) cancelJobLocked(id string) {
	if timer, exists := s.timers[id]; exists {
		timer.Stop()
		delete(s.timers, id)
	}
}

func (s *Service) executeJob(id string) {
	s.mu.Lock()
	job, exists := s.jobs[id]
	if !exists || s.stopped {
		s.mu.Unlock()
		return
	}
	entryPoint := job.EntryPoint
	payload := job.Payload
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(s.ctx, s.options.TriggerTimeout)
	sessionID, err := s.triggerer.Trigger(ctx, entryPoint, payload)
	cancel()

	status := "ok"
	errMsg := ""
	switch {
	case err == nil:
		s.logger.Info().
			Str("jobId", id).
			Str("entry_point", entryPoint).
			Str("session_id", sessionID).
			Msg("Scheduled trigger fired")
	case isConflict(err):
		// No session to attach to right now. Not a job failure; try
		// again at the next scheduled time.
		status = "skipped"
		errMsg = err.Error()
		s.logger.Info().
			Str("jobId", id).
			Str("entry_point", entryPoint).
			Err(err).
			Msg("Scheduled trigger skipped")
	default:
		status = "error"
		errMsg = err.Error()
		s.logger.Error().
			Str("jobId", id).
			Str("entry_point", entryPoint).
			Err(err).
			Msg("Scheduled trigger failed")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	job, exists = s.jobs[id]
	if !exists {
		return
	}

	job.State.LastRunAtMs = Int64Ptr(Now())
	job.State.LastStatus = status
	job.State.LastError = errMsg
	if status == "error" {
		job.State.ConsecutiveErrors++
	} else {
		job.State.ConsecutiveErrors = 0
	}

	if job.DeleteAfterRun && status == "ok" {
		s.cancelJobLocked(id)
		delete(s.jobs, id)
	} else if job.Enabled && job.Schedule.Kind != ScheduleKindAt {
		if nextRunAtMs, nerr := NextRun(job.Schedule); nerr == nil {
			job.State.NextRunAtMs = Int64Ptr(nextRunAtMs)
			s.scheduleJobLocked(job)
		}
	} else {
		// One-shot schedules do not reschedule.
		job.State.NextRunAtMs = nil
		s.cancelJobLocked(id)
	}

	if perr := s.persist(); perr != nil {
		s.logger.Error().Err(perr).Msg("Failed to persist jobs")
	}
}

func isConflict(err error) bool {
	var noPrimary *runtime.NoPrimarySessionError
	var active *runtime.PrimaryActiveError
	return errors.As(err, &noPrimary) || errors.As(err, &active)
}

func (s *Service) loadJobs() error {
	data, err := os.ReadFile(s.options.StorePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read job store: %w", err)
	}

	var jobs []*Job
	if err := json.Unmarshal(data, &jobs); err != nil {
		return fmt.Errorf("failed to parse job store: %w", err)
	}

	for _, job := range jobs {
		s.jobs[job.ID] = job
	}
	return nil
}

// persist writes the job store atomically. Callers hold the lock.
func (s *Service) persist() error {
	jobs := make([]*Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		jobs = append(jobs, job)
	}

	data, err := json.MarshalIndent(jobs, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal jobs: %w", err)
	}

	dir := filepath.Dir(s.options.StorePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create job store directory: %w", err)
	}

	tempFile := s.options.StorePath + ".tmp"
	if err := os.WriteFile(tempFile, data, 0644); err != nil {
		return fmt.Errorf("failed to write job store: %w", err)
	}
	if err := os.Rename(tempFile, s.options.StorePath); err != nil {
		return fmt.Errorf("failed to rename job store: %w", err)
	}

	return nil
}
