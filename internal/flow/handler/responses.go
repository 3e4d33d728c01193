package handler

import (
	"time"

	"portal/internal/flow/approval"
	"portal/internal/flow/document"
	"portal/internal/flow/service"
	"portal/pkg/domain"
	audit "portal/pkg/platform/audit"
)

// StateResponse is a subject's position in one flow.
type StateResponse struct {
	FlowKey     string            `json:"flow_key"`
	Title       string            `json:"title"`
	SubjectID   string            `json:"subject_id"`
	NextStep    string            `json:"next_step,omitempty"`
	IsStepValid bool              `json:"is_step_valid"`
	Done        bool              `json:"done"`
	Started     bool              `json:"started"`
	Data        document.Document `json:"data"`
}

// RecordResponse is one recorded reviewer decision.
type RecordResponse struct {
	StageNumber  int       `json:"stage_number"`
	StageKey     string    `json:"stage_key"`
	Decision     string    `json:"decision"`
	Reviewer     string    `json:"reviewer"`
	Timestamp    time.Time `json:"timestamp"`
	RejectReason string    `json:"reject_reason,omitempty"`
}

// StageResponse is one configured stage with its record, if any.
type StageResponse struct {
	Key    string          `json:"key"`
	Title  string          `json:"title,omitempty"`
	Record *RecordResponse `json:"record,omitempty"`
}

// ReviewResponse is the review console's view of one application.
type ReviewResponse struct {
	StateResponse
	Status       string          `json:"status"`
	Submitted    bool            `json:"submitted"`
	PendingStage string          `json:"pending_stage,omitempty"`
	Stages       []StageResponse `json:"stages"`
}

// FlowSummaryResponse is one row of the subject overview.
type FlowSummaryResponse struct {
	FlowKey   string     `json:"flow_key"`
	Title     string     `json:"title"`
	Category  string     `json:"category"`
	Started   bool       `json:"started"`
	NextStep  string     `json:"next_step,omitempty"`
	Done      bool       `json:"done"`
	Status    string     `json:"status,omitempty"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

// OverviewResponse lists every flow for a subject plus its audit trail.
type OverviewResponse struct {
	SubjectID string                `json:"subject_id"`
	Flows     []FlowSummaryResponse `json:"flows"`
	Events    []audit.Event         `json:"events"`
}

func toStateResponse(subject domain.SubjectID, state *service.State) *StateResponse {
	data := state.Document
	if data == nil {
		data = document.New()
	}
	return &StateResponse{
		FlowKey:     state.Flow.Key.String(),
		Title:       state.Flow.Title,
		SubjectID:   subject.String(),
		NextStep:    state.Resolution.Key.String(),
		IsStepValid: state.Resolution.IsStepValid,
		Done:        state.Resolution.Done(),
		Started:     state.Started,
		Data:        data,
	}
}

func toRecordResponse(rec approval.Record) *RecordResponse {
	return &RecordResponse{
		StageNumber:  rec.StageNumber,
		StageKey:     rec.StageKey.String(),
		Decision:     string(rec.Status),
		Reviewer:     rec.Reviewer,
		Timestamp:    rec.Timestamp,
		RejectReason: rec.RejectReason,
	}
}

func toReviewResponse(subject domain.SubjectID, state *service.ReviewState) *ReviewResponse {
	byStage := make(map[domain.StageKey]approval.Record, len(state.Summary.Records))
	for _, rec := range state.Summary.Records {
		byStage[rec.StageKey] = rec
	}
	stages := make([]StageResponse, 0, len(state.Stages))
	for _, st := range state.Stages {
		resp := StageResponse{Key: st.Key.String(), Title: st.Title}
		if rec, ok := byStage[st.Key]; ok {
			resp.Record = toRecordResponse(rec)
		}
		stages = append(stages, resp)
	}
	return &ReviewResponse{
		StateResponse: *toStateResponse(subject, &state.State),
		Status:        string(state.Summary.Status),
		Submitted:     state.Submitted,
		PendingStage:  state.Summary.Pending.String(),
		Stages:        stages,
	}
}

func toOverviewResponse(subject domain.SubjectID, summaries []service.Summary, events []audit.Event) *OverviewResponse {
	flows := make([]FlowSummaryResponse, 0, len(summaries))
	for _, sum := range summaries {
		row := FlowSummaryResponse{
			FlowKey:  sum.Flow.Key.String(),
			Title:    sum.Flow.Title,
			Category: sum.Flow.Category,
			Started:  sum.Started,
			NextStep: sum.Resolution.Key.String(),
			Done:     sum.Resolution.Done(),
			Status:   string(sum.Status),
		}
		if !sum.UpdatedAt.IsZero() {
			updated := sum.UpdatedAt
			row.UpdatedAt = &updated
		}
		flows = append(flows, row)
	}
	if events == nil {
		events = []audit.Event{}
	}
	return &OverviewResponse{SubjectID: subject.String(), Flows: flows, Events: events}
}
