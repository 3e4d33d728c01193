// Package approval implements the sequential multi-stage review pipeline.
//
// The pipeline state lives in the flow document: an append-only list of
// stage records under approvalStages plus terminal markers. Every function
// here is pure; persistence belongs to the caller.
package approval

import (
	"fmt"
	"strings"
	"time"

	"portal/internal/flow/document"
	"portal/pkg/domain"
	dErrors "portal/pkg/domain-errors"
)

// Decision is the outcome a reviewer records for one stage.
type Decision string

const (
	DecisionApproved Decision = "approved"
	DecisionRejected Decision = "rejected"
)

// ParseDecision validates a decision from external input.
func ParseDecision(s string) (Decision, error) {
	d := Decision(strings.TrimSpace(s))
	if !d.IsValid() {
		return "", dErrors.New(dErrors.CodeValidation, "decision must be approved or rejected")
	}
	return d, nil
}

func (d Decision) IsValid() bool {
	return d == DecisionApproved || d == DecisionRejected
}

// Status is the pipeline's overall state.
type Status string

const (
	StatusPending  Status = "pending"
	StatusInReview Status = "in_review"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// IsTerminal reports whether no further decision can be recorded.
func (s Status) IsTerminal() bool {
	return s == StatusApproved || s == StatusRejected
}

// Record is one immutable entry of the approval history.
type Record struct {
	StageNumber  int             `json:"stageNumber"`
	StageKey     domain.StageKey `json:"stageKey"`
	Status       Decision        `json:"status"`
	Reviewer     string          `json:"reviewer"`
	Timestamp    time.Time       `json:"timestamp"`
	RejectReason string          `json:"rejectReason,omitempty"`
}

// DecisionRequest is one reviewer action against the pending stage.
type DecisionRequest struct {
	StageKey domain.StageKey
	Decision Decision
	Reviewer string
	Reason   string
}

// Summary is the review console's view of a pipeline.
type Summary struct {
	Status  Status
	Pending domain.StageKey
	Records []Record
	Total   int
}

// Stages decodes the approval history of doc. An absent history is empty;
// an undecodable one means the document is corrupted.
func Stages(doc document.Document) ([]Record, error) {
	var records []Record
	if err := doc.Decode(document.FieldApprovalStages, &records); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "approval history is corrupted")
	}
	return records, nil
}

func hasRejection(records []Record) bool {
	for _, r := range records {
		if r.Status == DecisionRejected {
			return true
		}
	}
	return false
}

// NextPendingStage returns the first configured stage without a record.
// It returns false once a rejection exists or every stage is recorded.
func (c StageConfig) NextPendingStage(doc document.Document) (domain.StageKey, bool, error) {
	records, err := Stages(doc)
	if err != nil {
		return "", false, err
	}
	key, ok := c.nextPending(records)
	return key, ok, nil
}

func (c StageConfig) nextPending(records []Record) (domain.StageKey, bool) {
	if hasRejection(records) || len(records) >= len(c.stages) {
		return "", false
	}
	recorded := make(map[domain.StageKey]bool, len(records))
	for _, r := range records {
		recorded[r.StageKey] = true
	}
	for _, s := range c.stages {
		if !recorded[s.Key] {
			return s.Key, true
		}
	}
	return "", false
}

// StatusOf derives the pipeline status from the history.
func (c StageConfig) StatusOf(doc document.Document) (Status, error) {
	records, err := Stages(doc)
	if err != nil {
		return "", err
	}
	return c.status(records), nil
}

func (c StageConfig) status(records []Record) Status {
	switch {
	case hasRejection(records):
		return StatusRejected
	case len(records) >= len(c.stages):
		return StatusApproved
	case len(records) == 0:
		return StatusPending
	default:
		return StatusInReview
	}
}

// Summarize collects status, pending stage, and history in one decode.
func (c StageConfig) Summarize(doc document.Document) (Summary, error) {
	records, err := Stages(doc)
	if err != nil {
		return Summary{}, err
	}
	pending, _ := c.nextPending(records)
	return Summary{
		Status:  c.status(records),
		Pending: pending,
		Records: records,
		Total:   len(c.stages),
	}, nil
}

// RecordDecision appends one record for the pending stage and returns the
// updated document; doc itself is not modified.
//
// Errors: CodeConflict when the pipeline is already terminal or req names a
// stage other than the pending one (a stale read); CodeValidation for a
// missing reviewer, unknown decision, or rejection without a reason.
func (c StageConfig) RecordDecision(doc document.Document, req DecisionRequest, now time.Time) (document.Document, error) {
	records, err := Stages(doc)
	if err != nil {
		return nil, err
	}
	switch c.status(records) {
	case StatusRejected:
		return nil, dErrors.New(dErrors.CodeConflict, "review already rejected; no further decisions can be recorded")
	case StatusApproved:
		return nil, dErrors.New(dErrors.CodeConflict, "review already approved; no further decisions can be recorded")
	}
	pending, _ := c.nextPending(records)
	if req.StageKey != pending {
		return nil, dErrors.New(dErrors.CodeConflict,
			fmt.Sprintf("stage %q is not the pending stage (pending: %q)", req.StageKey, pending))
	}

	reviewer := strings.TrimSpace(req.Reviewer)
	if reviewer == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "reviewer is required")
	}
	if !req.Decision.IsValid() {
		return nil, dErrors.New(dErrors.CodeValidation, "decision must be approved or rejected")
	}
	reason := strings.TrimSpace(req.Reason)
	if req.Decision == DecisionRejected && reason == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "reject reason is required")
	}

	now = now.UTC()
	record := Record{
		StageNumber: len(records) + 1,
		StageKey:    req.StageKey,
		Status:      req.Decision,
		Reviewer:    reviewer,
		Timestamp:   now,
	}
	if req.Decision == DecisionRejected {
		record.RejectReason = reason
	}

	history := make([]Record, 0, len(records)+1)
	history = append(history, records...)
	history = append(history, record)

	out := doc.Clone()
	out[document.FieldApprovalStages] = history
	stamp := now.Format(time.RFC3339Nano)
	switch {
	case req.Decision == DecisionRejected:
		out[document.FieldRejectedAt] = stamp
		out[document.FieldRejectReason] = reason
	case len(history) == len(c.stages):
		out[document.FieldSuccessfulAt] = stamp
	}
	return out, nil
}

// Patch extracts the pipeline-owned fields of an updated document, which is
// exactly what a decision needs to merge into the stored document.
func Patch(updated document.Document) document.Document {
	patch := document.New()
	for _, f := range []string{
		document.FieldApprovalStages,
		document.FieldRejectedAt,
		document.FieldRejectReason,
		document.FieldSuccessfulAt,
	} {
		if v, ok := updated[f]; ok {
			patch[f] = v
		}
	}
	return patch
}
