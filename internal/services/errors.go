package services

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors
var (
	ErrNoTask            = errors.New("message does not describe a reminder task")
	ErrInvalidIdentifier = errors.New("invalid reminder id")
	ErrNotFound          = errors.New("reminder not found")
	ErrDeliveryDropped   = errors.New("delivery dropped: transport disconnected")
	ErrDeliveryFailed    = errors.New("delivery failed")
	ErrDuplicateID       = errors.New("duplicate reminder id")
)

// Extraction failure reasons
const (
	ReasonOracleError  = "oracle_error"
	ReasonInvalidJSON  = "invalid_json"
	ReasonInvalidShape = "invalid_shape"
	ReasonNoCandidates = "no_candidates"
)

// ExtractionError reports that the completion oracle could not produce usable candidates.
type ExtractionError struct {
	Reason string
	Err    error
}

func (e *ExtractionError) Error() string {
	switch e.Reason {
	case ReasonInvalidShape:
		return "Invalid AI response format. Expected a list."
	case ReasonNoCandidates:
		return "No valid tasks found in your message."
	}
	if e.Err != nil {
		return fmt.Sprintf("AI extraction failed: %v", e.Err)
	}
	return "AI extraction failed: " + e.Reason
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}

// TimeResolutionRejected is returned when a candidate resolves to an instant that is not
// strictly after the reference time.
type TimeResolutionRejected struct {
	Task       string
	Descriptor string
	Resolved   time.Time
	Reference  time.Time
}

func (e *TimeResolutionRejected) Error() string {
	return fmt.Sprintf("Time calculation error for task '%s': reminder time %s is not in the future",
		e.Task, e.Resolved.Format(time.RFC3339))
}

// PersistenceError wraps a storage failure.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("Database error: %v", e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

func persistenceError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &PersistenceError{Op: op, Err: err}
}

// UserMessage renders err as the text sent to a client in an error message.
func UserMessage(err error) string {
	switch {
	case errors.Is(err, ErrNoTask):
		return "Please provide a task to be reminded about."
	case errors.Is(err, ErrInvalidIdentifier):
		return "Invalid reminder ID"
	case errors.Is(err, ErrNotFound):
		return "Reminder not found"
	}
	return err.Error()
}
