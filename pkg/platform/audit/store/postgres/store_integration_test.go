//go:build integration

package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"portal/pkg/domain"
	audit "portal/pkg/platform/audit"
	"portal/pkg/testutil/containers"
)

type AuditPostgresSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *Store
}

func TestAuditPostgresSuite(t *testing.T) {
	suite.Run(t, new(AuditPostgresSuite))
}

func (s *AuditPostgresSuite) SetupSuite() {
	s.postgres = containers.GetManager().Postgres(s.T())
	db, err := Open(s.postgres.DSN)
	s.Require().NoError(err)
	s.store = New(db)
	s.Require().NoError(s.store.Migrate(context.Background()))
}

func (s *AuditPostgresSuite) SetupTest() {
	s.Require().NoError(s.postgres.TruncateTables(context.Background(), "audit_events"))
}

func (s *AuditPostgresSuite) TestAppendAndList() {
	ctx := context.Background()
	subject := domain.SubjectID(uuid.New())
	base := time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC)

	submitted := audit.Event{
		ID: domain.NewEventID(), Category: audit.CategoryOperations, Timestamp: base,
		SubjectID: subject, FlowKey: "notify-death", Action: audit.ActionFlowStepSubmitted,
		Fields: []string{"informantName"}, RequestID: "req-1",
	}
	rejected := audit.Event{
		ID: domain.NewEventID(), Category: audit.CategoryCompliance, Timestamp: base.Add(time.Hour),
		SubjectID: subject, FlowKey: "notify-death", Action: audit.ActionStageRejected,
		StageKey: "registrar-review", Decision: "rejected", Reason: "certificate mismatch", ActorID: "officer-7",
	}
	s.Require().NoError(s.store.Append(ctx, submitted))
	s.Require().NoError(s.store.Append(ctx, rejected))
	s.Require().NoError(s.store.Append(ctx, rejected), "replay is ignored")

	events, err := s.store.ListBySubject(ctx, subject)
	s.Require().NoError(err)
	s.Require().Len(events, 2)
	s.Equal(audit.ActionFlowStepSubmitted, events[0].Action)
	s.Equal([]string{"informantName"}, events[0].Fields)
	s.Equal(domain.StageKey("registrar-review"), events[1].StageKey)
	s.Equal("certificate mismatch", events[1].Reason)
	s.Equal("officer-7", events[1].ActorID)
	s.True(events[1].Timestamp.Equal(rejected.Timestamp))
}
