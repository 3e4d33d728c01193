// Package service runs the page-handler and server-action cycle: read the
// flow document, resolve the next step, merge submissions, and record
// review decisions through the guarded append.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"portal/internal/flow/approval"
	"portal/internal/flow/catalog"
	"portal/internal/flow/document"
	"portal/internal/flow/metrics"
	"portal/internal/flow/steps"
	"portal/internal/flow/store"
	"portal/pkg/domain"
	dErrors "portal/pkg/domain-errors"
	audit "portal/pkg/platform/audit"
	"portal/pkg/platform/sentinel"
	"portal/pkg/requestcontext"
)

// Store is the flow document persistence port.
type Store interface {
	Read(ctx context.Context, subject domain.SubjectID, flow domain.FlowKey) (document.Document, error)
	MergeUpsert(ctx context.Context, subject domain.SubjectID, flow domain.FlowKey, patch document.Document, category string) error
	AppendStage(ctx context.Context, subject domain.SubjectID, flow domain.FlowKey, expectedCount int, patch document.Document) error
	ListBySubject(ctx context.Context, subject domain.SubjectID) ([]store.Entry, error)
}

// Catalog resolves flow definitions.
type Catalog interface {
	Get(key domain.FlowKey) (*catalog.Definition, error)
	All() []*catalog.Definition
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
	List(ctx context.Context, subject domain.SubjectID) ([]audit.Event, error)
}

// Service orchestrates flows. It holds no per-request state.
type Service struct {
	store          Store
	catalog        Catalog
	logger         *slog.Logger
	metrics        *metrics.Metrics
	auditPublisher AuditPublisher
	tracer         trace.Tracer
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(s *Service) {
		s.auditPublisher = publisher
	}
}

func New(store Store, cat Catalog, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("flow store is required")
	}
	if cat == nil {
		return nil, errors.New("flow catalog is required")
	}
	s := &Service{
		store:   store,
		catalog: cat,
		tracer:  otel.Tracer("portal/internal/flow/service"),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.New(slog.DiscardHandler)
	}
	return s, nil
}

// State is one subject's position in one flow.
type State struct {
	Flow       *catalog.Definition
	Document   document.Document
	Resolution steps.Resolution
	// Started is false until the first submission creates the document.
	Started bool
}

// ReviewState is the admin console's view of one application.
type ReviewState struct {
	State
	Summary   approval.Summary
	Stages    []approval.Stage
	Submitted bool
}

// Route reads the document (absent reads as empty) and resolves the step
// the citizen must complete next.
func (s *Service) Route(ctx context.Context, subject domain.SubjectID, flow domain.FlowKey) (_ *State, err error) {
	ctx, span := s.startSpan(ctx, "flow.Route", subject, flow)
	defer func() { endSpan(span, err) }()

	def, err := s.catalog.Get(flow)
	if err != nil {
		return nil, err
	}
	return s.route(ctx, subject, def)
}

func (s *Service) route(ctx context.Context, subject domain.SubjectID, def *catalog.Definition) (*State, error) {
	doc, started, err := s.read(ctx, subject, def.Key)
	if err != nil {
		return nil, err
	}
	res := steps.Resolve(def.Chain, doc)
	s.metrics.IncrementResolution(string(def.Key), string(res.Key))
	return &State{Flow: def, Document: doc, Resolution: res, Started: started}, nil
}

// Submit validates patch against the flow schema, merges it into the
// stored document, and re-resolves from the stored result. Completed
// applications refuse submissions, and the completion marker is only
// accepted once every earlier step is answered.
func (s *Service) Submit(ctx context.Context, subject domain.SubjectID, flow domain.FlowKey, patch document.Document) (_ *State, err error) {
	ctx, span := s.startSpan(ctx, "flow.Submit", subject, flow)
	defer func() { endSpan(span, err) }()

	def, err := s.catalog.Get(flow)
	if err != nil {
		return nil, err
	}
	if err := def.Schema.Validate(patch); err != nil {
		s.metrics.IncrementSubmission(string(flow), "invalid")
		return nil, err
	}
	if def.CompletionField != "" {
		if err := s.checkCompletion(ctx, subject, def, patch); err != nil {
			return nil, err
		}
	}

	start := time.Now()
	err = s.store.MergeUpsert(ctx, subject, flow, patch, def.Category)
	s.metrics.ObserveStoreLatency("merge_upsert", time.Since(start))
	if err != nil {
		s.metrics.IncrementSubmission(string(flow), "error")
		s.logger.ErrorContext(ctx, "flow submission failed",
			"error", err,
			"subject_id", subject.String(),
			"flow_key", string(flow),
			"request_id", requestcontext.RequestID(ctx),
		)
		return nil, storeError(err)
	}
	s.metrics.IncrementSubmission(string(flow), "ok")

	state, err := s.route(ctx, subject, def)
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "flow step submitted",
		"subject_id", subject.String(),
		"flow_key", string(flow),
		"fields", patch.Keys(),
		"next_step", string(state.Resolution.Key),
		"request_id", requestcontext.RequestID(ctx),
	)
	s.emit(ctx, audit.Event{
		SubjectID: subject,
		FlowKey:   flow,
		Action:    audit.ActionFlowStepSubmitted,
		Fields:    patch.Keys(),
		ActorID:   subject.String(),
	})
	return state, nil
}

// checkCompletion refuses patches to completed applications and patches
// that confirm an application with steps still unanswered.
func (s *Service) checkCompletion(ctx context.Context, subject domain.SubjectID, def *catalog.Definition, patch document.Document) error {
	current, _, err := s.read(ctx, subject, def.Key)
	if err != nil {
		return err
	}
	if def.Completed(current) {
		s.metrics.IncrementSubmission(string(def.Key), "locked")
		if def.Reviewed() {
			return dErrors.New(dErrors.CodeConflict, "application has already been submitted for review")
		}
		return dErrors.New(dErrors.CodeConflict, "application has already been completed")
	}
	if patch.Has(def.CompletionField) && !def.ReadyToComplete(document.Merge(current, patch)) {
		s.metrics.IncrementSubmission(string(def.Key), "incomplete")
		return dErrors.New(dErrors.CodePreconditionFailed, "answer every step before confirming the application")
	}
	return nil
}

// Review loads an application with its approval history and pending stage.
func (s *Service) Review(ctx context.Context, subject domain.SubjectID, flow domain.FlowKey) (_ *ReviewState, err error) {
	ctx, span := s.startSpan(ctx, "flow.Review", subject, flow)
	defer func() { endSpan(span, err) }()

	def, err := s.reviewedFlow(flow)
	if err != nil {
		return nil, err
	}
	return s.review(ctx, subject, def)
}

func (s *Service) review(ctx context.Context, subject domain.SubjectID, def *catalog.Definition) (*ReviewState, error) {
	state, err := s.route(ctx, subject, def)
	if err != nil {
		return nil, err
	}
	if !state.Started {
		return nil, dErrors.New(dErrors.CodeNotFound, "application not found")
	}
	summary, err := def.Stages.Summarize(state.Document)
	if err != nil {
		return nil, err
	}
	return &ReviewState{
		State:     *state,
		Summary:   summary,
		Stages:    def.Stages.Stages(),
		Submitted: state.Document.Has(def.SubmittedField),
	}, nil
}

// Decide records one reviewer decision. The pending-stage check runs on
// the read document and again inside the store's guarded append, so a
// concurrent reviewer who got there first turns this call into a conflict.
func (s *Service) Decide(ctx context.Context, subject domain.SubjectID, flow domain.FlowKey, req approval.DecisionRequest) (_ *ReviewState, err error) {
	ctx, span := s.startSpan(ctx, "flow.Decide", subject, flow)
	defer func() { endSpan(span, err) }()
	span.SetAttributes(attribute.String("flow.stage", string(req.StageKey)))

	def, err := s.reviewedFlow(flow)
	if err != nil {
		return nil, err
	}
	if req.Reviewer == "" {
		req.Reviewer = requestcontext.ActorID(ctx)
	}
	doc, started, err := s.read(ctx, subject, flow)
	if err != nil {
		return nil, err
	}
	if !started {
		return nil, dErrors.New(dErrors.CodeNotFound, "application not found")
	}
	if !doc.Has(def.SubmittedField) {
		return nil, dErrors.New(dErrors.CodePreconditionFailed, "application has not been submitted for review")
	}
	if !def.ReadyToComplete(doc) {
		return nil, dErrors.New(dErrors.CodePreconditionFailed, "application is missing answers required before review")
	}

	before, err := approval.Stages(doc)
	if err != nil {
		return nil, err
	}
	updated, err := def.Stages.RecordDecision(doc, req, requestcontext.Now(ctx))
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeConflict) {
			s.metrics.IncrementDecisionConflict(string(flow))
		}
		return nil, err
	}

	start := time.Now()
	err = s.store.AppendStage(ctx, subject, flow, len(before), approval.Patch(updated))
	s.metrics.ObserveStoreLatency("append_stage", time.Since(start))
	if err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			s.metrics.IncrementDecisionConflict(string(flow))
			s.logger.WarnContext(ctx, "review decision lost race",
				"subject_id", subject.String(),
				"flow_key", string(flow),
				"stage_key", string(req.StageKey),
				"reviewer", req.Reviewer,
			)
			return nil, dErrors.Wrap(err, dErrors.CodeConflict, "this action can no longer be performed")
		}
		return nil, storeError(err)
	}

	s.metrics.IncrementDecision(string(flow), string(req.StageKey), string(req.Decision))
	s.logger.InfoContext(ctx, "review decision recorded",
		"subject_id", subject.String(),
		"flow_key", string(flow),
		"stage_key", string(req.StageKey),
		"decision", string(req.Decision),
		"reviewer", req.Reviewer,
		"request_id", requestcontext.RequestID(ctx),
	)
	s.emitDecision(ctx, def, subject, req, before, updated)

	return s.review(ctx, subject, def)
}

func (s *Service) emitDecision(ctx context.Context, def *catalog.Definition, subject domain.SubjectID, req approval.DecisionRequest, before []approval.Record, updated document.Document) {
	base := audit.Event{
		SubjectID: subject,
		FlowKey:   def.Key,
		StageKey:  req.StageKey,
		Decision:  string(req.Decision),
		ActorID:   req.Reviewer,
	}
	stage := base
	switch req.Decision {
	case approval.DecisionRejected:
		stage.Action = audit.ActionStageRejected
		stage.Reason = updated.String(document.FieldRejectReason)
	default:
		stage.Action = audit.ActionStageApproved
	}
	s.emit(ctx, stage)

	switch {
	case req.Decision == approval.DecisionRejected:
		final := base
		final.Action = audit.ActionFlowRejected
		final.Reason = stage.Reason
		s.emit(ctx, final)
	case len(before)+1 == def.Stages.Len():
		final := base
		final.Action = audit.ActionFlowApproved
		s.emit(ctx, final)
	}
}

// Summary is one row of a subject's overview.
type Summary struct {
	Flow       *catalog.Definition
	Started    bool
	Resolution steps.Resolution
	// Status is set only for reviewed flows that have been started.
	Status    approval.Status
	UpdatedAt time.Time
}

// Overview lists every catalog flow for subject with its routing state,
// plus the subject's audit trail. Documents and trail load concurrently.
func (s *Service) Overview(ctx context.Context, subject domain.SubjectID) (_ []Summary, _ []audit.Event, err error) {
	ctx, span := s.tracer.Start(ctx, "flow.Overview", trace.WithAttributes(
		attribute.String("subject.id", subject.String()),
	))
	defer func() { endSpan(span, err) }()

	var (
		entries []store.Entry
		trail   []audit.Event
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		start := time.Now()
		var err error
		entries, err = s.store.ListBySubject(gctx, subject)
		s.metrics.ObserveStoreLatency("list_by_subject", time.Since(start))
		if err != nil {
			return storeError(err)
		}
		return nil
	})
	if s.auditPublisher != nil {
		g.Go(func() error {
			var err error
			trail, err = s.auditPublisher.List(gctx, subject)
			if err != nil {
				return dErrors.Wrap(err, dErrors.CodeUnavailable, "audit trail unavailable")
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	stored := make(map[domain.FlowKey]store.Entry, len(entries))
	for _, e := range entries {
		stored[e.FlowKey] = e
	}
	var summaries []Summary
	for _, def := range s.catalog.All() {
		entry, started := stored[def.Key]
		doc := entry.Document
		if doc == nil {
			doc = document.New()
		}
		sum := Summary{
			Flow:       def,
			Started:    started,
			Resolution: steps.Resolve(def.Chain, doc),
			UpdatedAt:  entry.UpdatedAt,
		}
		if started && def.Reviewed() {
			status, err := def.Stages.StatusOf(doc)
			if err != nil {
				return nil, nil, err
			}
			sum.Status = status
		}
		summaries = append(summaries, sum)
		delete(stored, def.Key)
	}
	for key := range stored {
		s.logger.WarnContext(ctx, "stored document for unknown flow",
			"subject_id", subject.String(),
			"flow_key", string(key),
		)
	}
	return summaries, trail, nil
}

func (s *Service) reviewedFlow(flow domain.FlowKey) (*catalog.Definition, error) {
	def, err := s.catalog.Get(flow)
	if err != nil {
		return nil, err
	}
	if !def.Reviewed() {
		return nil, dErrors.New(dErrors.CodeBadRequest, fmt.Sprintf("flow %q has no review stages", flow))
	}
	return def, nil
}

// read returns the stored document, or an empty one with started=false.
func (s *Service) read(ctx context.Context, subject domain.SubjectID, flow domain.FlowKey) (document.Document, bool, error) {
	start := time.Now()
	doc, err := s.store.Read(ctx, subject, flow)
	s.metrics.ObserveStoreLatency("read", time.Since(start))
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return document.New(), false, nil
		}
		s.logger.ErrorContext(ctx, "flow document read failed",
			"error", err,
			"subject_id", subject.String(),
			"flow_key", string(flow),
		)
		return nil, false, storeError(err)
	}
	return doc, true, nil
}

// emit records an audit event. Failures are logged: the write it describes
// has already committed.
func (s *Service) emit(ctx context.Context, event audit.Event) {
	if s.auditPublisher == nil {
		return
	}
	event.Timestamp = requestcontext.Now(ctx)
	event.RequestID = requestcontext.RequestID(ctx)
	if err := s.auditPublisher.Emit(ctx, event); err != nil {
		s.logger.ErrorContext(ctx, "failed to emit audit event",
			"error", err,
			"action", string(event.Action),
			"subject_id", event.SubjectID.String(),
			"flow_key", string(event.FlowKey),
		)
	}
}

// storeError keeps the cause reachable through errors.Is.
func storeError(err error) error {
	var de *dErrors.Error
	if errors.As(err, &de) {
		return err
	}
	return dErrors.Wrap(err, dErrors.CodeUnavailable, "flow store unavailable")
}

func (s *Service) startSpan(ctx context.Context, name string, subject domain.SubjectID, flow domain.FlowKey) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("subject.id", subject.String()),
		attribute.String("flow.key", string(flow)),
	))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(dErrors.CodeOf(err)))
	}
	span.End()
}
