package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"portal/internal/flow/approval"
	"portal/internal/flow/catalog"
	"portal/internal/flow/document"
	"portal/internal/flow/store"
	"portal/pkg/domain"
	dErrors "portal/pkg/domain-errors"
	audit "portal/pkg/platform/audit"
	"portal/pkg/platform/audit/publisher"
	auditmemory "portal/pkg/platform/audit/store/memory"
	"portal/pkg/testutil"
)

func newScenarioService(t *testing.T) (*Service, *publisher.Publisher) {
	t.Helper()
	cat, err := catalog.Default()
	require.NoError(t, err)
	pub := publisher.NewPublisher(auditmemory.NewInMemoryStore())
	t.Cleanup(pub.Close)
	svc, err := New(store.NewInMemoryStore(), cat, WithAuditPublisher(pub))
	require.NoError(t, err)
	return svc, pub
}

func reviewer(name string) context.Context {
	ctx := testutil.At(context.Background(), time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC))
	return testutil.AsActor(ctx, name)
}

func TestWalletOnboardingEndToEnd(t *testing.T) {
	svc, pub := newScenarioService(t)
	ctx := context.Background()
	subject := domain.SubjectID(uuid.New())
	flow := domain.FlowKey("digital-wallet-onboarding")

	testutil.Given(t, "a citizen completes every step", func(t *testing.T) {
		submissions := []document.Document{
			{"fullName": "Ada Lovelace", "dateOfBirth": "1990-01-10", "nationalInsuranceNumber": "QQ123456C"},
			{"identityDocument": map[string]any{"type": "passport", "number": "123456789"}},
			{"consentGiven": true},
			{"submittedAt": "2026-10-14T10:00:00Z"},
		}
		wantNext := []domain.StepKey{"identity-document", "consent", "check-answers", "in-review"}
		for i, patch := range submissions {
			state, err := svc.Submit(ctx, subject, flow, patch)
			require.NoError(t, err)
			assert.Equal(t, wantNext[i], state.Resolution.Key, "after submission %d", i+1)
		}

		testutil.When(t, "both reviewers approve in order", func(t *testing.T) {
			state, err := svc.Decide(reviewer("alice"), subject, flow, approval.DecisionRequest{
				StageKey: "review1", Decision: approval.DecisionApproved,
			})
			require.NoError(t, err)
			assert.Equal(t, domain.StageKey("review2"), state.Summary.Pending)

			_, err = svc.Decide(reviewer("alice"), subject, flow, approval.DecisionRequest{
				StageKey: "review1", Decision: approval.DecisionApproved,
			})
			assert.True(t, dErrors.HasCode(err, dErrors.CodeConflict), "review1 is no longer pending")

			state, err = svc.Decide(reviewer("bob"), subject, flow, approval.DecisionRequest{
				StageKey: "review2", Decision: approval.DecisionApproved,
			})
			require.NoError(t, err)

			testutil.Then(t, "the application is approved and routes to approved", func(t *testing.T) {
				assert.Equal(t, approval.StatusApproved, state.Summary.Status)
				assert.Equal(t, domain.StepKey("approved"), state.Resolution.Key)
				assert.True(t, state.Document.Has(document.FieldSuccessfulAt))
				require.Len(t, state.Summary.Records, 2)
				assert.Equal(t, "alice", state.Summary.Records[0].Reviewer)
				assert.Equal(t, "bob", state.Summary.Records[1].Reviewer)
			})

			testutil.Then(t, "the audit trail tells the story", func(t *testing.T) {
				events, err := pub.List(ctx, subject)
				require.NoError(t, err)
				var actions []audit.Action
				for _, e := range events {
					actions = append(actions, e.Action)
				}
				assert.Equal(t, []audit.Action{
					audit.ActionFlowStepSubmitted,
					audit.ActionFlowStepSubmitted,
					audit.ActionFlowStepSubmitted,
					audit.ActionFlowStepSubmitted,
					audit.ActionStageApproved,
					audit.ActionStageApproved,
					audit.ActionFlowApproved,
				}, actions)
			})
		})
	})
}

func TestRejectionFreezesTheApplication(t *testing.T) {
	svc, _ := newScenarioService(t)
	ctx := context.Background()
	subject := domain.SubjectID(uuid.New())
	flow := domain.FlowKey("notify-death")

	_, err := svc.Submit(ctx, subject, flow, document.Document{
		"deceasedFullName":       "Charles Babbage",
		"deceasedDateOfBirth":    "1791-12-26",
		"dateOfDeath":            "1871-10-18",
		"informantName":          "Ada Lovelace",
		"informantRelationship":  "colleague",
		"deathCertificateNumber": "DC-1871-42",
		"submittedAt":            "2026-10-14T10:00:00Z",
	})
	require.NoError(t, err)

	_, err = svc.Decide(reviewer("registrar"), subject, flow, approval.DecisionRequest{
		StageKey: "registrar-review", Decision: approval.DecisionRejected,
	})
	assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation), "reason is mandatory")

	state, err := svc.Decide(reviewer("registrar"), subject, flow, approval.DecisionRequest{
		StageKey: "registrar-review", Decision: approval.DecisionRejected, Reason: "certificate number does not match",
	})
	require.NoError(t, err)
	assert.Equal(t, approval.StatusRejected, state.Summary.Status)
	assert.Equal(t, domain.StepKey("rejected"), state.Resolution.Key)

	_, err = svc.Decide(reviewer("registrar"), subject, flow, approval.DecisionRequest{
		StageKey: "registrar-review", Decision: approval.DecisionApproved,
	})
	assert.True(t, dErrors.HasCode(err, dErrors.CodeConflict))

	route, err := svc.Route(ctx, subject, flow)
	require.NoError(t, err)
	assert.Equal(t, domain.StepKey("rejected"), route.Resolution.Key)
}

func TestConfirmationRequiresEveryStep(t *testing.T) {
	cat, err := catalog.Default()
	require.NoError(t, err)
	st := store.NewInMemoryStore()
	svc, err := New(st, cat)
	require.NoError(t, err)
	ctx := context.Background()
	flow := domain.FlowKey("digital-wallet-onboarding")

	testutil.Given(t, "a citizen skips straight to confirmation", func(t *testing.T) {
		subject := domain.SubjectID(uuid.New())
		_, err := svc.Submit(ctx, subject, flow, document.Document{"submittedAt": "2026-10-14T10:00:00Z"})

		testutil.Then(t, "the confirmation is refused and nothing is stored", func(t *testing.T) {
			assert.True(t, dErrors.HasCode(err, dErrors.CodePreconditionFailed), "got %v", err)
			route, err := svc.Route(ctx, subject, flow)
			require.NoError(t, err)
			assert.False(t, route.Started)
			assert.Equal(t, domain.StepKey("personal-details"), route.Resolution.Key)
		})

		testutil.And(t, "reviewers cannot act on it", func(t *testing.T) {
			_, err := svc.Decide(reviewer("alice"), subject, flow, approval.DecisionRequest{
				StageKey: "review1", Decision: approval.DecisionApproved,
			})
			assert.True(t, dErrors.HasCode(err, dErrors.CodeNotFound), "got %v", err)
		})
	})

	testutil.Given(t, "a stored application marked submitted with steps unanswered", func(t *testing.T) {
		subject := domain.SubjectID(uuid.New())
		require.NoError(t, st.MergeUpsert(ctx, subject, flow, document.Document{
			"fullName":    "Ada Lovelace",
			"submittedAt": "2026-10-14T10:00:00Z",
		}, "wallet"))

		testutil.Then(t, "no stage can be decided", func(t *testing.T) {
			for _, stage := range []domain.StageKey{"review1", "review2"} {
				_, err := svc.Decide(reviewer("alice"), subject, flow, approval.DecisionRequest{
					StageKey: stage, Decision: approval.DecisionApproved,
				})
				assert.True(t, dErrors.HasCode(err, dErrors.CodePreconditionFailed), "%s: got %v", stage, err)
			}
			review, err := svc.Review(ctx, subject, flow)
			require.NoError(t, err)
			assert.Empty(t, review.Summary.Records)
			assert.NotEqual(t, approval.StatusApproved, review.Summary.Status)
		})
	})
}

func TestCompletedFlowAcceptsNoChanges(t *testing.T) {
	svc, _ := newScenarioService(t)
	ctx := context.Background()
	subject := domain.SubjectID(uuid.New())
	flow := domain.FlowKey("renew-driving-licence")

	state, err := svc.Submit(ctx, subject, flow, document.Document{
		"fullName":         "Grace Hopper",
		"dateOfBirth":      "1980-12-09",
		"applicationDate":  "2026-10-14",
		"licenceNumber":    "HOPPE812090G99AB",
		"address":          map[string]any{"line1": "1 Navy Way", "postcode": "AB1 2CD"},
		"photoUploaded":    true,
		"paymentReference": "PAY-42",
		"confirmedAt":      "2026-10-14T10:00:00Z",
	})
	require.NoError(t, err)
	require.Equal(t, domain.StepKey("success"), state.Resolution.Key)

	_, err = svc.Submit(ctx, subject, flow, document.Document{"fullName": "Changed after success"})
	assert.True(t, dErrors.HasCode(err, dErrors.CodeConflict), "got %v", err)

	route, err := svc.Route(ctx, subject, flow)
	require.NoError(t, err)
	assert.Equal(t, "Grace Hopper", route.Document.String("fullName"))
	assert.Equal(t, domain.StepKey("success"), route.Resolution.Key)
}

// Concurrent reviewers on the same pending stage: the store guard lets
// exactly one decision through.
func TestConcurrentReviewersOneWins(t *testing.T) {
	svc, _ := newScenarioService(t)
	subject := domain.SubjectID(uuid.New())
	flow := domain.FlowKey("digital-wallet-onboarding")
	_, err := svc.Submit(context.Background(), subject, flow, document.Document{
		"fullName":                "Ada Lovelace",
		"dateOfBirth":             "1990-01-10",
		"nationalInsuranceNumber": "QQ123456C",
		"identityDocument":        map[string]any{"type": "passport"},
		"consentGiven":            true,
		"submittedAt":             "2026-10-14T10:00:00Z",
	})
	require.NoError(t, err)

	const reviewers = 8
	var wg sync.WaitGroup
	errs := make(chan error, reviewers)
	for i := 0; i < reviewers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.Decide(reviewer("officer"), subject, flow, approval.DecisionRequest{
				StageKey: "review1", Decision: approval.DecisionApproved,
			})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)

	var ok int
	for err := range errs {
		if err == nil {
			ok++
			continue
		}
		assert.True(t, dErrors.HasCode(err, dErrors.CodeConflict), "unexpected error: %v", err)
	}
	assert.Equal(t, 1, ok)

	state, err := svc.Review(context.Background(), subject, flow)
	require.NoError(t, err)
	assert.Len(t, state.Summary.Records, 1)
}
