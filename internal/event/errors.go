package event

import (
	"errors"
	"fmt"
)

// Business-rule rejections. Surfaced to the initiating user; no state
// change happens when any of these is returned.
var (
	ErrAlreadyParticipating = errors.New("you are already signed up for this event")
	ErrEventFull            = errors.New("this event is full")
	ErrNotParticipating     = errors.New("you are not signed up for this event")
	ErrInvalidRole          = errors.New("unknown role")
	ErrInvalidClass         = errors.New("that class does not match the chosen role")
	ErrForbidden            = errors.New("only the organizer or an event manager can do that")
	ErrNotFound             = errors.New("event not found")
)

// RoleFullError reports that the per-role quota for a standard party
// is exhausted.
type RoleFullError struct {
	Role Role
}

func (e *RoleFullError) Error() string {
	return fmt.Sprintf("all %s slots are filled", e.Role.Display())
}

// ValidationError reports malformed user input. Operations abort
// before any persistence when returning one.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}
