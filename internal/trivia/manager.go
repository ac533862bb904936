package trivia

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Session is an active trivia round bound to one channel
type Session struct {
	ChannelID string
	HostID    string
	Category  string
	StartedAt time.Time
}

var (
	// ErrSessionActive means the channel already has a running session
	ErrSessionActive = errors.New("a trivia session is already running in this channel")
	// ErrNoSession means there is nothing to stop in the channel
	ErrNoSession = errors.New("no trivia session is running in this channel")
)

// Store is the persistence contract for trivia sessions
type Store interface {
	InsertTriviaSession(ctx context.Context, s *Session) error
	GetTriviaSession(ctx context.Context, channelID string) (*Session, error)
	DeleteTriviaSession(ctx context.Context, channelID string) error
}

// Manager owns trivia session lifecycle. The one-session-per-channel
// guard is a query against durable state, so it holds even if the
// process restarts mid-session or another instance shares the store.
type Manager struct {
	store Store
	now   func() time.Time
}

// NewManager creates a Manager
func NewManager(store Store) *Manager {
	return &Manager{store: store, now: time.Now}
}

// Start begins a session in channelID, rejecting double-booking
func (m *Manager) Start(ctx context.Context, channelID, hostID, category string) (*Session, error) {
	existing, err := m.store.GetTriviaSession(ctx, channelID)
	if err != nil {
		return nil, fmt.Errorf("check active session: %w", err)
	}
	if existing != nil {
		return nil, ErrSessionActive
	}

	session := &Session{
		ChannelID: channelID,
		HostID:    hostID,
		Category:  category,
		StartedAt: m.now(),
	}
	if err := m.store.InsertTriviaSession(ctx, session); err != nil {
		return nil, fmt.Errorf("start session: %w", err)
	}
	return session, nil
}

// Stop ends the session running in channelID
func (m *Manager) Stop(ctx context.Context, channelID string) error {
	existing, err := m.store.GetTriviaSession(ctx, channelID)
	if err != nil {
		return fmt.Errorf("check active session: %w", err)
	}
	if existing == nil {
		return ErrNoSession
	}
	return m.store.DeleteTriviaSession(ctx, channelID)
}

// Active returns the running session for channelID, nil when idle
func (m *Manager) Active(ctx context.Context, channelID string) (*Session, error) {
	return m.store.GetTriviaSession(ctx, channelID)
}
