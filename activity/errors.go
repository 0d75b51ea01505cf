package activity

import (
	"errors"
	"fmt"
)

var (
	// ErrActivityTerminal matches activities that ended in a non-success status.
	ErrActivityTerminal = errors.New("activity reached a non-success terminal status")

	// ErrActivityTimeout matches activities still pending after the retry budget.
	ErrActivityTimeout = errors.New("activity still pending after retry budget")

	// ErrMalformedResponse is returned when a response carries no activity or
	// no result for the expected field.
	ErrMalformedResponse = errors.New("malformed activity response")

	// ErrUnknownMethod is returned when a method table has no entry for a name.
	ErrUnknownMethod = errors.New("unknown method")
)

// TerminalError carries the full activity that ended in a non-success status.
type TerminalError struct {
	Activity *Activity
}

func (e *TerminalError) Error() string {
	msg := fmt.Sprintf("activity %s ended with status %s", e.Activity.ID, e.Activity.Status)
	if e.Activity.Failure != nil && e.Activity.Failure.Message != "" {
		msg += ": " + e.Activity.Failure.Message
	}
	return msg
}

func (e *TerminalError) Is(target error) bool {
	return target == ErrActivityTerminal
}

// TimeoutError is returned when an activity is still pending after every
// allowed poll.
type TimeoutError struct {
	ActivityID string
	Attempts   int
	Activity   *Activity
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("activity %s still pending after %d attempts", e.ActivityID, e.Attempts)
}

func (e *TimeoutError) Is(target error) bool {
	return target == ErrActivityTimeout
}
