package domain

import (
	"errors"
	"fmt"
)

// Error kinds. Every error returned by the session engine wraps exactly one of these.
var (
	ErrValidation   = errors.New("validation failed")
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrCapacity     = errors.New("capacity reached")
	ErrUnauthorized = errors.New("not authorized")
)

var (
	// ErrRoomNotFound is returned when no active room carries the requested code.
	ErrRoomNotFound = fmt.Errorf("%w: room not found", ErrNotFound)
	// ErrQuizNotFound indicates the quiz is missing, inactive or has no active questions.
	ErrQuizNotFound = fmt.Errorf("%w: quiz not found", ErrNotFound)
	// ErrRoomStarted is returned when a lobby-only action targets a started room.
	ErrRoomStarted = fmt.Errorf("%w: room has already started", ErrConflict)
	// ErrRoomEnded is returned once EndedAt is set.
	ErrRoomEnded = fmt.Errorf("%w: room has ended", ErrConflict)
	// ErrRoomNotStarted is returned when a question is requested before start.
	ErrRoomNotStarted = fmt.Errorf("%w: room has not started", ErrConflict)
	// ErrNoActiveQuestion is returned when the room index is -1.
	ErrNoActiveQuestion = fmt.Errorf("%w: no active question", ErrConflict)
	// ErrQuizExhausted is returned when the current index ran past the question list.
	ErrQuizExhausted = fmt.Errorf("%w: no more questions", ErrConflict)
	// ErrStaleQuestion is returned for submissions that target a question other than the active one.
	ErrStaleQuestion = fmt.Errorf("%w: question is not active", ErrConflict)
	// ErrDuplicateAnswer is returned when (room, user, question) already has an answer.
	ErrDuplicateAnswer = fmt.Errorf("%w: answer already submitted", ErrConflict)
	// ErrActiveMembershipExists is raised by stores when a user already holds an active membership.
	ErrActiveMembershipExists = fmt.Errorf("%w: user already has an active membership", ErrConflict)
	// ErrRoomCodeTaken is raised by stores when the generated code collides with an existing room.
	ErrRoomCodeTaken = fmt.Errorf("%w: room code already in use", ErrConflict)
	// ErrRoomFull is returned when the active player count reached MaxPlayers.
	ErrRoomFull = fmt.Errorf("%w: room is full", ErrCapacity)
	// ErrNotHost is returned when a non-host attempts a host-only action.
	ErrNotHost = fmt.Errorf("%w: only the host can do this", ErrUnauthorized)
	// ErrNotMember is returned when the caller has no active membership in the room.
	ErrNotMember = fmt.Errorf("%w: not a member of this room", ErrUnauthorized)
	// ErrNotEnoughPlayers is returned by StartRoom when fewer than two players are active.
	ErrNotEnoughPlayers = fmt.Errorf("%w: at least 2 players are required", ErrValidation)
)

// ValidationError describes a rejected input field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// Invalid builds a ValidationError.
func Invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}
