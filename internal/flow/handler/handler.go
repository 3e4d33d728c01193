package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"portal/internal/flow/approval"
	"portal/internal/flow/document"
	"portal/internal/flow/service"
	"portal/pkg/domain"
	audit "portal/pkg/platform/audit"
	"portal/pkg/platform/httputil"
	"portal/pkg/requestcontext"
)

// Service defines the flow operations exposed over HTTP.
type Service interface {
	Route(ctx context.Context, subject domain.SubjectID, flow domain.FlowKey) (*service.State, error)
	Submit(ctx context.Context, subject domain.SubjectID, flow domain.FlowKey, patch document.Document) (*service.State, error)
	Review(ctx context.Context, subject domain.SubjectID, flow domain.FlowKey) (*service.ReviewState, error)
	Decide(ctx context.Context, subject domain.SubjectID, flow domain.FlowKey, req approval.DecisionRequest) (*service.ReviewState, error)
	Overview(ctx context.Context, subject domain.SubjectID) ([]service.Summary, []audit.Event, error)
}

// Handler wires the citizen and review console endpoints to the flow service.
type Handler struct {
	service Service
	logger  *slog.Logger
	admin   func(http.Handler) http.Handler
}

// Option configures a Handler.
type Option func(*Handler)

// WithAdminGuard protects the review console routes with mw.
func WithAdminGuard(mw func(http.Handler) http.Handler) Option {
	return func(h *Handler) {
		h.admin = mw
	}
}

// New constructs a flow handler.
func New(svc Service, logger *slog.Logger, opts ...Option) *Handler {
	h := &Handler{service: svc, logger: logger}
	for _, opt := range opts {
		opt(h)
	}
	if h.logger == nil {
		h.logger = slog.New(slog.DiscardHandler)
	}
	return h
}

// Register mounts the flow endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Get("/flows/{flowKey}/subjects/{subjectID}", h.HandleRoute)
	r.Post("/flows/{flowKey}/subjects/{subjectID}", h.HandleSubmit)
	r.Get("/subjects/{subjectID}/flows", h.HandleOverview)

	r.Group(func(r chi.Router) {
		if h.admin != nil {
			r.Use(h.admin)
		}
		r.Get("/admin/flows/{flowKey}/subjects/{subjectID}/review", h.HandleReview)
		r.Post("/admin/flows/{flowKey}/subjects/{subjectID}/decisions", h.HandleDecide)
	})
}

// HandleRoute handles GET /flows/{flowKey}/subjects/{subjectID}.
func (h *Handler) HandleRoute(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	subject, flow, ok := h.pathParams(w, r)
	if !ok {
		return
	}

	state, err := h.service.Route(ctx, subject, flow)
	if err != nil {
		h.fail(ctx, w, "route lookup failed", err, subject, flow)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toStateResponse(subject, state))
}

// HandleSubmit handles POST /flows/{flowKey}/subjects/{subjectID}.
func (h *Handler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	start := time.Now()
	subject, flow, ok := h.pathParams(w, r)
	if !ok {
		return
	}

	req, ok := httputil.DecodeAndPrepare[SubmitRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	state, err := h.service.Submit(ctx, subject, flow, req.Data)
	if err != nil {
		h.fail(ctx, w, "submission failed", err, subject, flow)
		return
	}

	h.logger.InfoContext(ctx, "step submitted",
		"request_id", requestID,
		"subject_id", subject.String(),
		"flow", flow.String(),
		"next_step", state.Resolution.Key.String(),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	httputil.WriteJSON(w, http.StatusOK, toStateResponse(subject, state))
}

// HandleOverview handles GET /subjects/{subjectID}/flows.
func (h *Handler) HandleOverview(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	subject, err := domain.ParseSubjectID(chi.URLParam(r, "subjectID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	summaries, events, err := h.service.Overview(ctx, subject)
	if err != nil {
		h.fail(ctx, w, "overview failed", err, subject, "")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toOverviewResponse(subject, summaries, events))
}

// HandleReview handles GET /admin/flows/{flowKey}/subjects/{subjectID}/review.
func (h *Handler) HandleReview(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	subject, flow, ok := h.pathParams(w, r)
	if !ok {
		return
	}

	state, err := h.service.Review(ctx, subject, flow)
	if err != nil {
		h.fail(ctx, w, "review lookup failed", err, subject, flow)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toReviewResponse(subject, state))
}

// HandleDecide handles POST /admin/flows/{flowKey}/subjects/{subjectID}/decisions.
// The reviewer is the actor the metadata middleware put on the context.
func (h *Handler) HandleDecide(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	subject, flow, ok := h.pathParams(w, r)
	if !ok {
		return
	}

	req, ok := httputil.DecodeAndPrepare[DecisionRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	state, err := h.service.Decide(ctx, subject, flow, req.toDomain())
	if err != nil {
		h.fail(ctx, w, "decision failed", err, subject, flow)
		return
	}

	h.logger.InfoContext(ctx, "decision recorded",
		"request_id", requestID,
		"subject_id", subject.String(),
		"flow", flow.String(),
		"stage", req.StageKey,
		"decision", req.Decision,
		"status", string(state.Summary.Status),
	)
	httputil.WriteJSON(w, http.StatusOK, toReviewResponse(subject, state))
}

func (h *Handler) pathParams(w http.ResponseWriter, r *http.Request) (domain.SubjectID, domain.FlowKey, bool) {
	flow, err := domain.ParseFlowKey(chi.URLParam(r, "flowKey"))
	if err != nil {
		httputil.WriteError(w, err)
		return domain.SubjectID{}, "", false
	}
	subject, err := domain.ParseSubjectID(chi.URLParam(r, "subjectID"))
	if err != nil {
		httputil.WriteError(w, err)
		return domain.SubjectID{}, "", false
	}
	return subject, flow, true
}

func (h *Handler) fail(ctx context.Context, w http.ResponseWriter, msg string, err error, subject domain.SubjectID, flow domain.FlowKey) {
	h.logger.WarnContext(ctx, msg,
		"request_id", requestcontext.RequestID(ctx),
		"subject_id", subject.String(),
		"flow", flow.String(),
		"error", err,
	)
	httputil.WriteError(w, err)
}
