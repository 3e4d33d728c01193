package handler

import (
	"strings"

	"portal/internal/flow/approval"
	"portal/internal/flow/document"
	"portal/pkg/domain"
	dErrors "portal/pkg/domain-errors"
)

// SubmitRequest is the body of a step submission: a partial document.
type SubmitRequest struct {
	Data document.Document `json:"data"`
}

// Validate implements httputil.Validatable.
func (r *SubmitRequest) Validate() error {
	if r == nil || r.Data == nil {
		return dErrors.New(dErrors.CodeValidation, "data is required")
	}
	return nil
}

// DecisionRequest is the body of a reviewer decision.
type DecisionRequest struct {
	StageKey string `json:"stage_key"`
	Decision string `json:"decision"`
	Reason   string `json:"reason,omitempty"`

	parsedStage    domain.StageKey
	parsedDecision approval.Decision
}

// Validate implements httputil.Validatable.
func (r *DecisionRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	r.StageKey = strings.TrimSpace(r.StageKey)
	r.Decision = strings.TrimSpace(r.Decision)
	r.Reason = strings.TrimSpace(r.Reason)

	if r.StageKey == "" {
		return dErrors.New(dErrors.CodeValidation, "stage_key is required")
	}
	stage, err := domain.ParseStageKey(r.StageKey)
	if err != nil {
		return err
	}
	decision, err := approval.ParseDecision(r.Decision)
	if err != nil {
		return err
	}
	if len(r.Reason) > 2000 {
		return dErrors.New(dErrors.CodeValidation, "reason must be at most 2000 characters")
	}
	r.parsedStage = stage
	r.parsedDecision = decision
	return nil
}

func (r *DecisionRequest) toDomain() approval.DecisionRequest {
	return approval.DecisionRequest{
		StageKey: r.parsedStage,
		Decision: r.parsedDecision,
		Reason:   r.Reason,
	}
}
