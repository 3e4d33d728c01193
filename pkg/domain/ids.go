package domain

import (
	"regexp"

	"github.com/google/uuid"

	dErrors "portal/pkg/domain-errors"
)

// SubjectID identifies the citizen (or other applicant) a flow document
// belongs to. Invariant: never the nil UUID once parsed.
type SubjectID uuid.UUID

// EventID identifies one audit trail entry.
type EventID uuid.UUID

// ParseSubjectID constructs a SubjectID from external input.
//
// Errors: returns CodeInvalidInput for empty, malformed, or nil UUIDs.
func ParseSubjectID(s string) (SubjectID, error) {
	u, err := parseUUID(s, "subject_id")
	if err != nil {
		return SubjectID{}, err
	}
	return SubjectID(u), nil
}

// ParseEventID constructs an EventID from external input.
func ParseEventID(s string) (EventID, error) {
	u, err := parseUUID(s, "event_id")
	if err != nil {
		return EventID{}, err
	}
	return EventID(u), nil
}

// NewEventID returns a fresh random event ID.
func NewEventID() EventID {
	return EventID(uuid.New())
}

func (id SubjectID) String() string { return uuid.UUID(id).String() }
func (id SubjectID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }
func (id EventID) String() string   { return uuid.UUID(id).String() }
func (id EventID) IsNil() bool      { return uuid.UUID(id) == uuid.Nil }

// Text marshalling keeps IDs as canonical UUID strings in JSON payloads.
func (id SubjectID) MarshalText() ([]byte, error) { return uuid.UUID(id).MarshalText() }
func (id EventID) MarshalText() ([]byte, error)   { return uuid.UUID(id).MarshalText() }

func (id *SubjectID) UnmarshalText(b []byte) error {
	return (*uuid.UUID)(id).UnmarshalText(b)
}

func (id *EventID) UnmarshalText(b []byte) error {
	return (*uuid.UUID)(id).UnmarshalText(b)
}

func parseUUID(s, field string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, field+" cannot be empty")
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "invalid "+field)
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, field+" cannot be nil")
	}
	return u, nil
}

// FlowKey names one flow type (e.g. renew-driving-licence).
type FlowKey string

// StepKey names one wizard step a citizen can be routed to. The empty key
// means "no outstanding step".
type StepKey string

// StageKey names one approval checkpoint in a review pipeline.
type StageKey string

// NoStep is the "none" step key returned when a chain is exhausted.
const NoStep StepKey = ""

var keyPattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_-]{0,63}$`)

// ParseFlowKey validates a flow key from external input.
func ParseFlowKey(s string) (FlowKey, error) {
	if !keyPattern.MatchString(s) {
		return "", dErrors.New(dErrors.CodeInvalidInput, "invalid flow key")
	}
	return FlowKey(s), nil
}

// ParseStepKey validates a step key from configuration.
func ParseStepKey(s string) (StepKey, error) {
	if !keyPattern.MatchString(s) {
		return NoStep, dErrors.New(dErrors.CodeInvalidInput, "invalid step key")
	}
	return StepKey(s), nil
}

// ParseStageKey validates a stage key from external input or configuration.
func ParseStageKey(s string) (StageKey, error) {
	if !keyPattern.MatchString(s) {
		return "", dErrors.New(dErrors.CodeInvalidInput, "invalid stage key")
	}
	return StageKey(s), nil
}

func (k FlowKey) String() string  { return string(k) }
func (k StepKey) String() string  { return string(k) }
func (k StageKey) String() string { return string(k) }

// IsNone reports whether the key is the "no outstanding step" marker.
func (k StepKey) IsNone() bool { return k == NoStep }
