package reminder

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Tihlyn/Cappuccino/internal/event"
	"github.com/Tihlyn/Cappuccino/internal/notify"
	"github.com/Tihlyn/Cappuccino/internal/scheduler"
)

// cleanupDelay is how long after the event time the record lingers
// before the cleanup job finalizes it
const cleanupDelay = 5 * time.Minute

// reminderOffsets lists the fixed lead times for participant
// reminders. Offsets whose fire time is already past at scheduling
// time are skipped, never backfilled.
var reminderOffsets = []struct {
	kind   scheduler.Kind
	offset time.Duration
	label  string
}{
	{scheduler.KindReminder24h, 24 * time.Hour, "24 hours"},
	{scheduler.KindReminder12h, 12 * time.Hour, "12 hours"},
	{scheduler.KindReminder1h, time.Hour, "1 hour"},
}

// EventStore is the authoritative-state surface the orchestrator
// reloads from before acting on a fired job
type EventStore interface {
	GetEvent(ctx context.Context, id string) (*event.Event, error)
	DeleteEvent(ctx context.Context, id string) error
}

// JobQueue is the scheduling surface
type JobQueue interface {
	Enqueue(ctx context.Context, job *scheduler.Job) error
	CancelEvent(ctx context.Context, eventID string) (int64, error)
	CancelParticipant(ctx context.Context, eventID, userID string) (int64, error)
}

// Notifier sends and retracts direct notifications
type Notifier interface {
	Send(ctx context.Context, eventID, userID string, purpose notify.Purpose, content string) error
	Retract(ctx context.Context, eventID string) error
}

// Announcer removes the rendered announcement surface at cleanup
type Announcer interface {
	Remove(messageID string) error
}

// Orchestrator translates event dates and rosters into delayed jobs,
// and reacts to jobs firing. It never trusts a job payload beyond
// identifiers: current state is reloaded before every dispatch, which
// is what makes stale jobs safe.
type Orchestrator struct {
	store     EventStore
	queue     JobQueue
	notifier  Notifier
	announcer Announcer
	now       func() time.Time
}

// New creates an Orchestrator
func New(store EventStore, queue JobQueue, notifier Notifier, announcer Announcer) *Orchestrator {
	return &Orchestrator{
		store:     store,
		queue:     queue,
		notifier:  notifier,
		announcer: announcer,
		now:       time.Now,
	}
}

// ScheduleParticipant enqueues the reminder jobs for one participant
// of an event. Enqueue failures are logged and do not abort the rest
// of the batch.
func (o *Orchestrator) ScheduleParticipant(ctx context.Context, ev *event.Event, userID string) {
	now := o.now()
	for _, r := range reminderOffsets {
		fireAt := ev.Date.Add(-r.offset)
		if !fireAt.After(now) {
			continue
		}
		job := &scheduler.Job{
			EventID:      ev.ID,
			UserID:       userID,
			Kind:         r.kind,
			FireAt:       fireAt,
			DateSnapshot: ev.Date,
		}
		if err := o.queue.Enqueue(ctx, job); err != nil {
			slog.Error("Failed to schedule reminder", "event", ev.ID, "user", userID,
				"kind", r.kind, "error", err)
		}
	}
}

// ScheduleAll enqueues reminder jobs for every current participant
func (o *Orchestrator) ScheduleAll(ctx context.Context, ev *event.Event) {
	for _, p := range ev.Participants {
		o.ScheduleParticipant(ctx, ev, p.UserID)
	}
}

// ScheduleCleanup enqueues the single cleanup job for an event
func (o *Orchestrator) ScheduleCleanup(ctx context.Context, ev *event.Event) {
	job := &scheduler.Job{
		EventID:      ev.ID,
		Kind:         scheduler.KindCleanup,
		FireAt:       ev.Date.Add(cleanupDelay),
		DateSnapshot: ev.Date,
	}
	if err := o.queue.Enqueue(ctx, job); err != nil {
		slog.Error("Failed to schedule cleanup", "event", ev.ID, "error", err)
	}
}

// RescheduleAll drops every pending job for the event and recomputes
// the full set against its current date and roster. Cancel-all then
// recompute-all avoids partial-update drift; job volume per event is
// small enough not to care.
func (o *Orchestrator) RescheduleAll(ctx context.Context, ev *event.Event) {
	if _, err := o.queue.CancelEvent(ctx, ev.ID); err != nil {
		// A failed cancellation leaves stale jobs that no-op at fire
		// time after the reload check
		slog.Error("Failed to cancel jobs before reschedule", "event", ev.ID, "error", err)
	}
	o.ScheduleAll(ctx, ev)
	o.ScheduleCleanup(ctx, ev)
}

// CancelAll removes every pending job for an event, returning the
// count for organizer-visible summaries
func (o *Orchestrator) CancelAll(ctx context.Context, eventID string) int64 {
	n, err := o.queue.CancelEvent(ctx, eventID)
	if err != nil {
		slog.Error("Failed to cancel event jobs", "event", eventID, "error", err)
		return 0
	}
	return n
}

// CancelParticipant removes one participant's pending reminder jobs
func (o *Orchestrator) CancelParticipant(ctx context.Context, eventID, userID string) {
	if _, err := o.queue.CancelParticipant(ctx, eventID, userID); err != nil {
		slog.Error("Failed to cancel participant jobs", "event", eventID, "user", userID, "error", err)
	}
}

// HandleJob consumes a fired job from the scheduler
func (o *Orchestrator) HandleJob(ctx context.Context, job *scheduler.Job) {
	switch job.Kind {
	case scheduler.KindCleanup:
		o.handleCleanup(ctx, job)
	case scheduler.KindReminder24h, scheduler.KindReminder12h, scheduler.KindReminder1h:
		o.handleReminder(ctx, job)
	default:
		slog.Warn("Unknown job kind", "job", job.ID, "kind", job.Kind)
	}
}

// handleReminder re-validates state and sends the reminder DM. A
// missing event or participant means the job went stale; that is a
// no-op, not an error.
func (o *Orchestrator) handleReminder(ctx context.Context, job *scheduler.Job) {
	ev, err := o.store.GetEvent(ctx, job.EventID)
	if err != nil {
		slog.Error("Failed to reload event for reminder", "event", job.EventID, "error", err)
		return
	}
	if ev == nil {
		slog.Debug("Reminder fired for deleted event", "event", job.EventID)
		return
	}
	if _, ok := ev.Participant(job.UserID); !ok {
		slog.Debug("Reminder fired for withdrawn participant", "event", job.EventID, "user", job.UserID)
		return
	}

	label := string(job.Kind)
	for _, r := range reminderOffsets {
		if r.kind == job.Kind {
			label = r.label
		}
	}

	// The DM renders the authoritative date, not the snapshot
	content := fmt.Sprintf("Reminder: **%s** starts in about %s, at %s.",
		ev.Type.Display(), label, event.FormatInZones(ev.Date))
	if err := o.notifier.Send(ctx, ev.ID, job.UserID, notify.PurposeReminder, content); err != nil {
		slog.Warn("Failed to send reminder DM", "event", ev.ID, "user", job.UserID, "error", err)
	}
}

// handleCleanup finalizes a passed event: retract transient DMs, pull
// the announcement, delete the record
func (o *Orchestrator) handleCleanup(ctx context.Context, job *scheduler.Job) {
	ev, err := o.store.GetEvent(ctx, job.EventID)
	if err != nil {
		slog.Error("Failed to reload event for cleanup", "event", job.EventID, "error", err)
		return
	}
	if ev == nil {
		slog.Debug("Cleanup fired for deleted event", "event", job.EventID)
		return
	}
	if ev.Date.After(o.now()) {
		// The event was rescheduled into the future after this job
		// was enqueued; a fresh cleanup job is already pending
		slog.Warn("Cleanup fired for future event, skipping", "event", ev.ID, "date", ev.Date)
		return
	}

	if err := o.notifier.Retract(ctx, ev.ID); err != nil {
		slog.Error("Failed to retract DMs at cleanup", "event", ev.ID, "error", err)
	}
	if ev.MessageID != "" {
		if err := o.announcer.Remove(ev.MessageID); err != nil {
			slog.Warn("Failed to remove announcement", "event", ev.ID, "error", err)
		}
	}
	if err := o.store.DeleteEvent(ctx, ev.ID); err != nil {
		slog.Error("Failed to delete event at cleanup", "event", ev.ID, "error", err)
		return
	}
	slog.Info("Event cleaned up", "event", ev.ID)
}
