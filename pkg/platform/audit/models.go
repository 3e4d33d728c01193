// Package audit records who did what to which application, and when.
// Events are append-only: stores insert and list, never update or delete.
package audit

import (
	"context"
	"time"

	"portal/pkg/domain"
)

// EventCategory classifies events for retention and routing.
type EventCategory string

const (
	// CategoryCompliance covers review decisions, which carry legal weight
	// and need long retention.
	CategoryCompliance EventCategory = "compliance"
	// CategoryOperations covers routine citizen activity.
	CategoryOperations EventCategory = "operations"
)

// Action names one auditable portal action.
type Action string

const (
	ActionFlowStepSubmitted Action = "flow_step_submitted"
	ActionStageApproved     Action = "stage_approved"
	ActionStageRejected     Action = "stage_rejected"
	ActionFlowApproved      Action = "flow_approved"
	ActionFlowRejected      Action = "flow_rejected"
)

var actionCategories = map[Action]EventCategory{
	ActionFlowStepSubmitted: CategoryOperations,
	ActionStageApproved:     CategoryCompliance,
	ActionStageRejected:     CategoryCompliance,
	ActionFlowApproved:      CategoryCompliance,
	ActionFlowRejected:      CategoryCompliance,
}

// Category returns the category of a. Unknown actions are operational.
func (a Action) Category() EventCategory {
	if cat, ok := actionCategories[a]; ok {
		return cat
	}
	return CategoryOperations
}

// Event is emitted by the flow service after a successful write. It stays
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	ID        domain.EventID   `json:"id"`
	Category  EventCategory    `json:"category"`
	Timestamp time.Time        `json:"timestamp"`
	SubjectID domain.SubjectID `json:"subject_id"`
	FlowKey   domain.FlowKey   `json:"flow_key"`
	Action    Action           `json:"action"`
	StageKey  domain.StageKey  `json:"stage_key,omitempty"`
	Decision  string           `json:"decision,omitempty"`
	Reason    string           `json:"reason,omitempty"`
	// Fields lists the top-level keys a submission wrote. Values are never
	// audited since they may hold personal data.
	Fields    []string `json:"fields,omitempty"`
	ActorID   string   `json:"actor_id,omitempty"`
	RequestID string   `json:"request_id,omitempty"`
}

// Store persists events. Append must be idempotent on Event.ID.
type Store interface {
	Append(ctx context.Context, event Event) error
	ListBySubject(ctx context.Context, subject domain.SubjectID) ([]Event, error)
}

// Sink receives a copy of every persisted event, e.g. a message broker.
type Sink interface {
	Publish(ctx context.Context, event Event) error
}
