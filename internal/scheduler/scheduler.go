package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Kind identifies what a scheduled job does when it fires
type Kind string

const (
	KindReminder24h Kind = "reminder_24h"
	KindReminder12h Kind = "reminder_12h"
	KindReminder1h  Kind = "reminder_1h"
	KindCleanup     Kind = "cleanup"
)

// Job is a durable unit of delayed work. DateSnapshot records the
// event date at scheduling time for display and logging only; the
// handler must reload authoritative state before acting.
type Job struct {
	ID           string
	EventID      string
	UserID       string // empty for cleanup jobs
	Kind         Kind
	FireAt       time.Time
	DateSnapshot time.Time
	CreatedAt    time.Time
}

// JobID builds the diagnosable job identifier from its parts
func JobID(eventID, userID string, kind Kind) string {
	return fmt.Sprintf("%s:%s:%s", eventID, userID, kind)
}

// Store is the persistence contract for scheduled jobs
type Store interface {
	InsertJob(ctx context.Context, job *Job) error
	DeleteJob(ctx context.Context, id string) error
	DueJobs(ctx context.Context, now time.Time) ([]*Job, error)
	JobsByEvent(ctx context.Context, eventID string) ([]*Job, error)
	DeleteJobsByEvent(ctx context.Context, eventID string) (int64, error)
	DeleteJobsByParticipant(ctx context.Context, eventID, userID string) (int64, error)
}

// Handler consumes a fired job
type Handler func(ctx context.Context, job *Job)

// Scheduler is a durable delayed-job queue. Jobs live in storage, so
// anything pending at process exit still fires after a restart.
type Scheduler struct {
	store    Store
	handler  Handler
	interval time.Duration
	now      func() time.Time

	stopChan chan struct{}
	wg       sync.WaitGroup
}

// New creates a Scheduler draining due jobs every intervalSeconds
func New(store Store, intervalSeconds int) *Scheduler {
	return &Scheduler{
		store:    store,
		interval: time.Duration(intervalSeconds) * time.Second,
		now:      time.Now,
		stopChan: make(chan struct{}),
	}
}

// SetHandler sets the consumer invoked for every fired job. Must be
// called before Start.
func (s *Scheduler) SetHandler(h Handler) {
	s.handler = h
}

// Enqueue persists a job. The job id encodes event, participant and
// kind, so re-enqueueing the same triple replaces the pending job.
func (s *Scheduler) Enqueue(ctx context.Context, job *Job) error {
	job.ID = JobID(job.EventID, job.UserID, job.Kind)
	job.CreatedAt = s.now()
	if err := s.store.InsertJob(ctx, job); err != nil {
		return fmt.Errorf("enqueue job %s: %w", job.ID, err)
	}
	return nil
}

// CancelEvent removes every pending job for an event, returning how
// many were removed
func (s *Scheduler) CancelEvent(ctx context.Context, eventID string) (int64, error) {
	n, err := s.store.DeleteJobsByEvent(ctx, eventID)
	if err != nil {
		return 0, fmt.Errorf("cancel jobs for event %s: %w", eventID, err)
	}
	return n, nil
}

// CancelParticipant removes every pending job targeting one
// participant of an event
func (s *Scheduler) CancelParticipant(ctx context.Context, eventID, userID string) (int64, error) {
	n, err := s.store.DeleteJobsByParticipant(ctx, eventID, userID)
	if err != nil {
		return 0, fmt.Errorf("cancel jobs for event %s user %s: %w", eventID, userID, err)
	}
	return n, nil
}

// Pending lists the jobs still queued for an event
func (s *Scheduler) Pending(ctx context.Context, eventID string) ([]*Job, error) {
	return s.store.JobsByEvent(ctx, eventID)
}

// Start begins the consumer loop
func (s *Scheduler) Start(ctx context.Context) {
	slog.Info("Starting job scheduler", "interval", s.interval)

	s.wg.Add(1)
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// Initial drain picks up jobs that came due while the process
	// was down
	s.drain(ctx)

	for {
		select {
		case <-ctx.Done():
			slog.Info("Job scheduler stopped (context cancelled)")
			return
		case <-s.stopChan:
			slog.Info("Job scheduler stopped")
			return
		case <-ticker.C:
			s.drain(ctx)
		}
	}
}

// Stop signals the consumer loop to stop and waits for it
func (s *Scheduler) Stop() {
	close(s.stopChan)
	s.wg.Wait()
}

// drain fires every job whose time has come. Each job row is deleted
// before its handler runs: jobs are single-use, and a handler crash
// must not wedge the queue on the same job forever.
func (s *Scheduler) drain(ctx context.Context) {
	due, err := s.store.DueJobs(ctx, s.now())
	if err != nil {
		slog.Error("Failed to load due jobs", "error", err)
		return
	}

	if len(due) == 0 {
		return
	}

	slog.Debug("Draining due jobs", "count", len(due))

	for _, job := range due {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := s.store.DeleteJob(ctx, job.ID); err != nil {
			slog.Error("Failed to delete fired job", "job", job.ID, "error", err)
			continue
		}

		if s.handler == nil {
			slog.Warn("No handler registered, dropping job", "job", job.ID)
			continue
		}
		s.handler(ctx, job)
	}
}
