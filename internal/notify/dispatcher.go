package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Purpose tags why a DM was sent, so cleanup can retract selectively
type Purpose string

const (
	PurposeRegistration Purpose = "registration"
	PurposeWithdrawal   Purpose = "withdrawal"
	PurposeRoleChange   Purpose = "role_change"
	PurposeCancellation Purpose = "cancellation"
	PurposeReminder     Purpose = "reminder"
	PurposeTimeChange   Purpose = "time_change"
)

// TrackedDM links a sent direct message to the event and purpose it
// was sent for
type TrackedDM struct {
	ID        int64
	EventID   string
	UserID    string
	ChannelID string
	MessageID string
	Purpose   Purpose
	CreatedAt time.Time
}

// Messenger is the minimal chat-platform surface the dispatcher needs
type Messenger interface {
	UserChannelCreate(userID string) (channelID string, err error)
	ChannelMessageSend(channelID, content string) (messageID string, err error)
	ChannelMessageDelete(channelID, messageID string) error
}

// Store is the persistence contract for DM tracking records
type Store interface {
	InsertTrackedDM(ctx context.Context, dm *TrackedDM) error
	TrackedDMsByEvent(ctx context.Context, eventID string) ([]*TrackedDM, error)
	DeleteTrackedDMsByEvent(ctx context.Context, eventID string) error
}

// Dispatcher sends direct notifications and records them for later
// retraction. Delivery failure is never fatal to the caller.
type Dispatcher struct {
	messenger Messenger
	store     Store
	now       func() time.Time
}

// New creates a Dispatcher
func New(messenger Messenger, store Store) *Dispatcher {
	return &Dispatcher{
		messenger: messenger,
		store:     store,
		now:       time.Now,
	}
}

// Send delivers a DM to userID and records it under (event, purpose).
// The returned error is for logging; state transitions that triggered
// the notification must not be rolled back on failure.
func (d *Dispatcher) Send(ctx context.Context, eventID, userID string, purpose Purpose, content string) error {
	channelID, err := d.messenger.UserChannelCreate(userID)
	if err != nil {
		return fmt.Errorf("open DM channel for %s: %w", userID, err)
	}

	messageID, err := d.messenger.ChannelMessageSend(channelID, content)
	if err != nil {
		return fmt.Errorf("send DM to %s: %w", userID, err)
	}

	dm := &TrackedDM{
		EventID:   eventID,
		UserID:    userID,
		ChannelID: channelID,
		MessageID: messageID,
		Purpose:   purpose,
		CreatedAt: d.now(),
	}
	if err := d.store.InsertTrackedDM(ctx, dm); err != nil {
		// The message is out; a lost tracking row only means it
		// escapes retraction later
		return fmt.Errorf("record DM for %s: %w", userID, err)
	}

	return nil
}

// Retract deletes the DMs sent for an event, except role-change
// notices, which stay visible after the fact. All tracking records
// are removed either way. Invoked at cleanup time only.
func (d *Dispatcher) Retract(ctx context.Context, eventID string) error {
	dms, err := d.store.TrackedDMsByEvent(ctx, eventID)
	if err != nil {
		return fmt.Errorf("load tracked DMs for event %s: %w", eventID, err)
	}

	for _, dm := range dms {
		if dm.Purpose == PurposeRoleChange {
			continue
		}
		if err := d.messenger.ChannelMessageDelete(dm.ChannelID, dm.MessageID); err != nil {
			slog.Warn("Failed to delete DM", "event", eventID, "user", dm.UserID,
				"purpose", dm.Purpose, "error", err)
		}
	}

	return d.store.DeleteTrackedDMsByEvent(ctx, eventID)
}

// Forget drops the tracking records for an event without touching the
// sent messages. Used when an event is deleted outright.
func (d *Dispatcher) Forget(ctx context.Context, eventID string) error {
	return d.store.DeleteTrackedDMsByEvent(ctx, eventID)
}
