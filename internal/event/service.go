package event

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Tihlyn/Cappuccino/internal/notify"
)

// Store is the persistence contract for events
type Store interface {
	SaveEvent(ctx context.Context, ev *Event) error
	GetEvent(ctx context.Context, id string) (*Event, error)
	DeleteEvent(ctx context.Context, id string) error
	ListEventIDs(ctx context.Context) ([]string, error)
}

// Notifier sends purpose-tagged DMs and drops their tracking records
type Notifier interface {
	Send(ctx context.Context, eventID, userID string, purpose notify.Purpose, content string) error
	Forget(ctx context.Context, eventID string) error
}

// Jobs is the reminder/cleanup scheduling surface the state machine
// drives after each mutation
type Jobs interface {
	ScheduleParticipant(ctx context.Context, ev *Event, userID string)
	ScheduleCleanup(ctx context.Context, ev *Event)
	RescheduleAll(ctx context.Context, ev *Event)
	CancelAll(ctx context.Context, eventID string) int64
	CancelParticipant(ctx context.Context, eventID, userID string)
}

// Announcer renders the announcement surface for an event
type Announcer interface {
	Announce(ev *Event) (messageID string, err error)
	Update(ev *Event) error
	Remove(messageID string) error
}

// Service validates and applies every mutation to an event. It is the
// single source of truth for whether a transition may happen.
// Operations on the same event id are serialized through a per-id
// mutex, so an overlapping join and role change cannot lose writes.
type Service struct {
	store         Store
	jobs          Jobs
	notifier      Notifier
	announcer     Announcer
	managerRoleID string
	now           func() time.Time

	lockMu sync.Mutex
	locks  map[string]*sync.Mutex
}

// NewService creates a Service. managerRoleID names the guild role
// whose holders may manage events they did not organize.
func NewService(store Store, jobs Jobs, notifier Notifier, announcer Announcer, managerRoleID string) *Service {
	return &Service{
		store:         store,
		jobs:          jobs,
		notifier:      notifier,
		announcer:     announcer,
		managerRoleID: managerRoleID,
		now:           time.Now,
		locks:         make(map[string]*sync.Mutex),
	}
}

// lock serializes operations per event id
func (s *Service) lock(eventID string) func() {
	s.lockMu.Lock()
	mu, ok := s.locks[eventID]
	if !ok {
		mu = &sync.Mutex{}
		s.locks[eventID] = mu
	}
	s.lockMu.Unlock()

	mu.Lock()
	return mu.Unlock
}

// CreateParams carries the user input for event creation
type CreateParams struct {
	Type        ActivityType
	DateStr     string // YYYY-MM-DD
	TimeStr     string // HH:MM, 24h
	Timezone    string // ET, CT or PT
	OrganizerID string
	Description string
	GroupType   GroupType
}

// Create validates the input, persists a new event with an empty
// roster, posts its announcement and schedules cleanup
func (s *Service) Create(ctx context.Context, p CreateParams) (*Event, error) {
	if !p.Type.Valid() {
		return nil, &ValidationError{Field: "type", Reason: fmt.Sprintf("unknown activity type %q", p.Type)}
	}
	if !p.GroupType.Valid() {
		return nil, &ValidationError{Field: "group", Reason: fmt.Sprintf("unknown group type %q", p.GroupType)}
	}

	date, err := ParseEventTime(p.DateStr, p.TimeStr, p.Timezone)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if !date.After(now) {
		return nil, &ValidationError{Field: "date", Reason: "the event time must be in the future"}
	}

	ev := &Event{
		ID:          NewID(now),
		Type:        p.Type,
		Date:        date,
		OrganizerID: p.OrganizerID,
		Description: p.Description,
		GroupType:   p.GroupType,
		CreatedAt:   now,
	}

	if err := s.store.SaveEvent(ctx, ev); err != nil {
		return nil, fmt.Errorf("save event: %w", err)
	}

	// Bind the announcement message so later mutations can update it
	// in place. A failed post is logged, not fatal.
	messageID, err := s.announcer.Announce(ev)
	if err != nil {
		slog.Error("Failed to post announcement", "event", ev.ID, "error", err)
	} else {
		ev.MessageID = messageID
		if err := s.store.SaveEvent(ctx, ev); err != nil {
			slog.Error("Failed to bind announcement message", "event", ev.ID, "error", err)
		}
	}

	s.jobs.ScheduleCleanup(ctx, ev)

	slog.Info("Event created", "event", ev.ID, "type", ev.Type, "date", ev.Date,
		"organizer", ev.OrganizerID)
	return ev, nil
}

// Join appends a participant to the roster
func (s *Service) Join(ctx context.Context, eventID, userID string, role Role, class string) (*Event, error) {
	if !role.Valid() {
		return nil, ErrInvalidRole
	}
	if !ValidClass(role, class) {
		return nil, ErrInvalidClass
	}

	unlock := s.lock(eventID)
	defer unlock()

	ev, err := s.load(ctx, eventID)
	if err != nil {
		return nil, err
	}

	if _, ok := ev.Participant(userID); ok {
		return nil, ErrAlreadyParticipating
	}
	// Capacity before role quota: a full event rejects joins
	// regardless of role availability
	if len(ev.Participants) >= ev.GroupType.Capacity() {
		return nil, ErrEventFull
	}
	if err := s.checkQuota(ev, role, ""); err != nil {
		return nil, err
	}

	ev.Participants = append(ev.Participants, Participant{
		UserID:   userID,
		Role:     role,
		Class:    class,
		JoinedAt: s.now(),
	})

	if err := s.store.SaveEvent(ctx, ev); err != nil {
		return nil, fmt.Errorf("save event: %w", err)
	}

	s.jobs.ScheduleParticipant(ctx, ev, userID)
	s.sendDM(ctx, ev.ID, userID, notify.PurposeRegistration,
		fmt.Sprintf("You are signed up for **%s** on %s as %s.",
			ev.Type.Display(), FormatInZones(ev.Date), role.Display()))
	s.updateAnnouncement(ev)

	return ev, nil
}

// ChangeRole switches a participant's role or class in place,
// preserving their join order. Changing class within the same role is
// always allowed; switching roles re-checks the quota with the
// requester's own slot excluded so they can swap into a slot they are
// about to vacate.
func (s *Service) ChangeRole(ctx context.Context, eventID, userID string, newRole Role, newClass string) (*Event, error) {
	if !newRole.Valid() {
		return nil, ErrInvalidRole
	}
	if !ValidClass(newRole, newClass) {
		return nil, ErrInvalidClass
	}

	unlock := s.lock(eventID)
	defer unlock()

	ev, err := s.load(ctx, eventID)
	if err != nil {
		return nil, err
	}

	p, ok := ev.Participant(userID)
	if !ok {
		return nil, ErrNotParticipating
	}

	if newRole != p.Role {
		if err := s.checkQuota(ev, newRole, userID); err != nil {
			return nil, err
		}
	}

	p.Role = newRole
	p.Class = newClass

	if err := s.store.SaveEvent(ctx, ev); err != nil {
		return nil, fmt.Errorf("save event: %w", err)
	}

	// Role-change notices survive cleanup retraction, so the roster
	// history stays visible after the event
	s.sendDM(ctx, ev.ID, userID, notify.PurposeRoleChange,
		fmt.Sprintf("Your role for **%s** on %s is now %s.",
			ev.Type.Display(), FormatInZones(ev.Date), newRole.Display()))
	s.updateAnnouncement(ev)

	return ev, nil
}

// Withdraw removes a participant from the roster and cancels their
// pending reminders
func (s *Service) Withdraw(ctx context.Context, eventID, userID string) (*Event, error) {
	unlock := s.lock(eventID)
	defer unlock()

	ev, err := s.load(ctx, eventID)
	if err != nil {
		return nil, err
	}

	found := false
	kept := ev.Participants[:0]
	for _, p := range ev.Participants {
		if p.UserID == userID {
			found = true
			continue
		}
		kept = append(kept, p)
	}
	if !found {
		return nil, ErrNotParticipating
	}
	ev.Participants = kept

	if err := s.store.SaveEvent(ctx, ev); err != nil {
		return nil, fmt.Errorf("save event: %w", err)
	}

	s.jobs.CancelParticipant(ctx, ev.ID, userID)
	s.sendDM(ctx, ev.ID, userID, notify.PurposeWithdrawal,
		fmt.Sprintf("You withdrew from **%s** on %s.",
			ev.Type.Display(), FormatInZones(ev.Date)))
	s.updateAnnouncement(ev)

	return ev, nil
}

// ChangeTime moves the event to a new date, invalidating every
// previously scheduled job and notifying the roster. Only the
// organizer or an event manager may call it.
func (s *Service) ChangeTime(ctx context.Context, eventID, requesterID string, requesterRoles []string, dateStr, timeStr, tz string) (*Event, error) {
	newDate, err := ParseEventTime(dateStr, timeStr, tz)
	if err != nil {
		return nil, err
	}
	if !newDate.After(s.now()) {
		return nil, &ValidationError{Field: "date", Reason: "the new event time must be in the future"}
	}

	unlock := s.lock(eventID)
	defer unlock()

	ev, err := s.load(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if !s.authorized(ev, requesterID, requesterRoles) {
		return nil, ErrForbidden
	}

	oldDate := ev.Date
	ev.Date = newDate

	if err := s.store.SaveEvent(ctx, ev); err != nil {
		return nil, fmt.Errorf("save event: %w", err)
	}

	s.jobs.RescheduleAll(ctx, ev)

	content := fmt.Sprintf("**%s** moved from %s to %s.",
		ev.Type.Display(), FormatInZones(oldDate), FormatInZones(newDate))
	s.fanOutDMs(ctx, ev, notify.PurposeTimeChange, content)
	s.updateAnnouncement(ev)

	slog.Info("Event time changed", "event", ev.ID, "from", oldDate, "to", newDate,
		"by", requesterID)
	return ev, nil
}

// Delete cancels the event outright: jobs cancelled, roster notified,
// record and DM tracking removed, announcement pulled
func (s *Service) Delete(ctx context.Context, eventID, requesterID string, requesterRoles []string) error {
	unlock := s.lock(eventID)
	defer unlock()

	ev, err := s.load(ctx, eventID)
	if err != nil {
		return err
	}
	if !s.authorized(ev, requesterID, requesterRoles) {
		return ErrForbidden
	}

	cancelled := s.jobs.CancelAll(ctx, ev.ID)

	content := fmt.Sprintf("**%s** on %s has been cancelled.",
		ev.Type.Display(), FormatInZones(ev.Date))
	s.fanOutDMs(ctx, ev, notify.PurposeCancellation, content)

	if err := s.notifier.Forget(ctx, ev.ID); err != nil {
		slog.Error("Failed to drop DM records", "event", ev.ID, "error", err)
	}
	if err := s.store.DeleteEvent(ctx, ev.ID); err != nil {
		return fmt.Errorf("delete event: %w", err)
	}
	if ev.MessageID != "" {
		if err := s.announcer.Remove(ev.MessageID); err != nil {
			slog.Warn("Failed to remove announcement", "event", ev.ID, "error", err)
		}
	}

	slog.Info("Event deleted", "event", ev.ID, "by", requesterID, "jobsCancelled", cancelled)
	return nil
}

// Get returns one event
func (s *Service) Get(ctx context.Context, eventID string) (*Event, error) {
	return s.load(ctx, eventID)
}

// List returns every stored event, soonest first
func (s *Service) List(ctx context.Context) ([]*Event, error) {
	ids, err := s.store.ListEventIDs(ctx)
	if err != nil {
		return nil, err
	}
	events := make([]*Event, 0, len(ids))
	for _, id := range ids {
		ev, err := s.store.GetEvent(ctx, id)
		if err != nil {
			return nil, err
		}
		if ev != nil {
			events = append(events, ev)
		}
	}
	return events, nil
}

// load maps a missing record to ErrNotFound
func (s *Service) load(ctx context.Context, eventID string) (*Event, error) {
	ev, err := s.store.GetEvent(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("load event: %w", err)
	}
	if ev == nil {
		return nil, ErrNotFound
	}
	return ev, nil
}

// checkQuota enforces the standard-party role caps. Blue mages carry
// no quota; only total capacity bounds them.
func (s *Service) checkQuota(ev *Event, role Role, excludeUserID string) error {
	if ev.GroupType != GroupStandard {
		return nil
	}
	quota, capped := standardQuota[role]
	if !capped {
		return nil
	}
	if ev.roleCount(role, excludeUserID) >= quota {
		return &RoleFullError{Role: role}
	}
	return nil
}

// authorized reports whether the requester may run organizer-only
// operations on ev
func (s *Service) authorized(ev *Event, requesterID string, requesterRoles []string) bool {
	if requesterID == ev.OrganizerID {
		return true
	}
	if s.managerRoleID == "" {
		return false
	}
	for _, role := range requesterRoles {
		if role == s.managerRoleID {
			return true
		}
	}
	return false
}

// sendDM delivers one notification; failure never aborts the state
// transition that triggered it
func (s *Service) sendDM(ctx context.Context, eventID, userID string, purpose notify.Purpose, content string) {
	if err := s.notifier.Send(ctx, eventID, userID, purpose, content); err != nil {
		slog.Warn("Failed to send DM", "event", eventID, "user", userID,
			"purpose", purpose, "error", err)
	}
}

// fanOutDMs notifies every non-organizer participant concurrently.
// Per-recipient failures are isolated; one unreachable user does not
// stop the batch.
func (s *Service) fanOutDMs(ctx context.Context, ev *Event, purpose notify.Purpose, content string) {
	var wg sync.WaitGroup
	for _, p := range ev.Participants {
		if p.UserID == ev.OrganizerID {
			continue
		}
		wg.Add(1)
		go func(userID string) {
			defer wg.Done()
			s.sendDM(ctx, ev.ID, userID, purpose, content)
		}(p.UserID)
	}
	wg.Wait()
}

// updateAnnouncement re-renders the announcement surface in place
func (s *Service) updateAnnouncement(ev *Event) {
	if ev.MessageID == "" {
		return
	}
	if err := s.announcer.Update(ev); err != nil {
		slog.Warn("Failed to update announcement", "event", ev.ID, "error", err)
	}
}
