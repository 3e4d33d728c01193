package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/stretchr/testify/suite"

	"portal/internal/flow/document"
	"portal/pkg/domain"
	"portal/pkg/platform/sentinel"
	"portal/pkg/requestcontext"
)

type flowStore interface {
	Read(ctx context.Context, subject domain.SubjectID, flow domain.FlowKey) (document.Document, error)
	MergeUpsert(ctx context.Context, subject domain.SubjectID, flow domain.FlowKey, patch document.Document, category string) error
	AppendStage(ctx context.Context, subject domain.SubjectID, flow domain.FlowKey, expectedCount int, patch document.Document) error
	ListBySubject(ctx context.Context, subject domain.SubjectID) ([]Entry, error)
}

// ContractSuite holds the behaviour every store implementation must share.
// Backend suites embed it and set newStore.
type ContractSuite struct {
	suite.Suite
	newStore func() flowStore
	store    flowStore
	ctx      context.Context
	subject  domain.SubjectID
}

func (s *ContractSuite) SetupTest() {
	s.store = s.newStore()
	s.ctx = requestcontext.WithTime(context.Background(), time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC))
	s.subject = domain.SubjectID(mustUUID())
}

func stageEntry(n int, status string) map[string]any {
	return map[string]any{
		"stageNumber": n,
		"stageKey":    fmt.Sprintf("review%d", n),
		"status":      status,
		"reviewer":    "officer",
	}
}

func (s *ContractSuite) TestReadMissing() {
	_, err := s.store.Read(s.ctx, s.subject, "renew-driving-licence")
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *ContractSuite) TestMergeUpsertCreatesThenMerges() {
	flow := domain.FlowKey("renew-driving-licence")
	s.Require().NoError(s.store.MergeUpsert(s.ctx, s.subject, flow, document.Document{"a": 1, "b": "x"}, "licences"))
	s.Require().NoError(s.store.MergeUpsert(s.ctx, s.subject, flow, document.Document{"b": "y", "c": true}, "licences"))

	doc, err := s.store.Read(s.ctx, s.subject, flow)
	s.Require().NoError(err)
	s.Equal(document.Document{"a": float64(1), "b": "y", "c": true}, doc)
}

// Values written by one merge must read back unchanged after later merges
// touch other fields.
func (s *ContractSuite) TestMergeUpsertKeepsLargeNumbersExact() {
	flow := domain.FlowKey("order-birth-certificate")
	s.Require().NoError(s.store.MergeUpsert(s.ctx, s.subject, flow, document.Document{"n": int64(1234567890123456)}, "certificates"))
	s.Require().NoError(s.store.MergeUpsert(s.ctx, s.subject, flow, document.Document{"b": 2}, "certificates"))

	doc, err := s.store.Read(s.ctx, s.subject, flow)
	s.Require().NoError(err)
	s.Equal(float64(1234567890123456), doc["n"])
	s.Equal(float64(2), doc["b"])

	first := document.Document{document.FieldApprovalStages: []any{stageEntry(1, "approved")}}
	s.Require().NoError(s.store.AppendStage(s.ctx, s.subject, flow, 0, first))
	doc, err = s.store.Read(s.ctx, s.subject, flow)
	s.Require().NoError(err)
	s.Equal(float64(1234567890123456), doc["n"])
}

func (s *ContractSuite) TestMergeUpsertEmptyPatchCreatesEmptyDocument() {
	flow := domain.FlowKey("notify-death")
	s.Require().NoError(s.store.MergeUpsert(s.ctx, s.subject, flow, document.New(), "bereavement"))

	doc, err := s.store.Read(s.ctx, s.subject, flow)
	s.Require().NoError(err)
	s.Empty(doc)
}

func (s *ContractSuite) TestReadIsIsolatedFromCaller() {
	flow := domain.FlowKey("order-birth-certificate")
	s.Require().NoError(s.store.MergeUpsert(s.ctx, s.subject, flow, document.Document{"a": "1"}, ""))

	doc, err := s.store.Read(s.ctx, s.subject, flow)
	s.Require().NoError(err)
	doc["a"] = "mutated"

	again, err := s.store.Read(s.ctx, s.subject, flow)
	s.Require().NoError(err)
	s.Equal("1", again["a"])
}

// Concurrent submissions to disjoint fields must all survive.
func (s *ContractSuite) TestConcurrentMergesKeepEveryField() {
	flow := domain.FlowKey("digital-wallet-onboarding")
	const writers = 20

	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- s.store.MergeUpsert(s.ctx, s.subject, flow, document.Document{fmt.Sprintf("field%d", i): i}, "wallet")
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		s.Require().NoError(err)
	}

	doc, err := s.store.Read(s.ctx, s.subject, flow)
	s.Require().NoError(err)
	s.Len(doc, writers)
}

func (s *ContractSuite) TestAppendStageGuards() {
	flow := domain.FlowKey("digital-wallet-onboarding")

	s.ErrorIs(s.store.AppendStage(s.ctx, s.subject, flow, 0, document.Document{}), sentinel.ErrNotFound)

	s.Require().NoError(s.store.MergeUpsert(s.ctx, s.subject, flow, document.Document{"consentGiven": true}, "wallet"))

	first := document.Document{document.FieldApprovalStages: []any{stageEntry(1, "approved")}}
	s.Require().NoError(s.store.AppendStage(s.ctx, s.subject, flow, 0, first))

	s.ErrorIs(s.store.AppendStage(s.ctx, s.subject, flow, 0, first), sentinel.ErrConflict, "stale expected count")

	rejected := document.Document{
		document.FieldApprovalStages: []any{stageEntry(1, "approved"), stageEntry(2, "rejected")},
		document.FieldRejectedAt:     "2026-05-01T12:00:00Z",
		document.FieldRejectReason:   "address mismatch",
	}
	s.Require().NoError(s.store.AppendStage(s.ctx, s.subject, flow, 1, rejected))
	s.ErrorIs(s.store.AppendStage(s.ctx, s.subject, flow, 2, document.Document{"x": 1}), sentinel.ErrConflict, "rejected is terminal")

	doc, err := s.store.Read(s.ctx, s.subject, flow)
	s.Require().NoError(err)
	s.Equal(true, doc["consentGiven"])
	s.Len(doc[document.FieldApprovalStages], 2)
	s.NotContains(doc, "x")
}

// Two reviewers racing on the same pending stage: exactly one wins.
func (s *ContractSuite) TestConcurrentAppendExactlyOneWins() {
	flow := domain.FlowKey("notify-death")
	s.Require().NoError(s.store.MergeUpsert(s.ctx, s.subject, flow, document.Document{"declared": true}, ""))

	const reviewers = 10
	var wg sync.WaitGroup
	results := make(chan error, reviewers)
	for i := 0; i < reviewers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- s.store.AppendStage(s.ctx, s.subject, flow, 0, document.Document{
				document.FieldApprovalStages: []any{stageEntry(1, "approved")},
			})
		}()
	}
	wg.Wait()
	close(results)

	var ok, conflicts int
	for err := range results {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, sentinel.ErrConflict):
			conflicts++
		default:
			s.Failf("unexpected error", "%v", err)
		}
	}
	s.Equal(1, ok)
	s.Equal(reviewers-1, conflicts)
}

func (s *ContractSuite) TestListBySubject() {
	other := domain.SubjectID(mustUUID())
	s.Require().NoError(s.store.MergeUpsert(s.ctx, s.subject, "order-birth-certificate", document.Document{"a": 1}, "certificates"))
	s.Require().NoError(s.store.MergeUpsert(s.ctx, s.subject, "notify-death", document.Document{"b": 2}, "bereavement"))
	s.Require().NoError(s.store.MergeUpsert(s.ctx, other, "notify-death", document.Document{"c": 3}, "bereavement"))

	entries, err := s.store.ListBySubject(s.ctx, s.subject)
	s.Require().NoError(err)
	s.Require().Len(entries, 2)
	s.Equal(domain.FlowKey("notify-death"), entries[0].FlowKey)
	s.Equal("bereavement", entries[0].Category)
	s.Equal(domain.FlowKey("order-birth-certificate"), entries[1].FlowKey)
	s.Equal(float64(1), entries[1].Document["a"])

	none, err := s.store.ListBySubject(s.ctx, domain.SubjectID(mustUUID()))
	s.Require().NoError(err)
	s.Empty(none)
}
