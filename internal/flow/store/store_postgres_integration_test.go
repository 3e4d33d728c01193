//go:build integration

package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/suite"

	"portal/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	ContractSuite
	postgres *containers.PostgresContainer
}

func TestPostgresStoreSuite(t *testing.T) {
	s := new(PostgresStoreSuite)
	s.postgres = containers.GetManager().Postgres(t)
	pg := NewPostgres(s.postgres.Pool)
	if err := pg.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	s.newStore = func() flowStore { return pg }
	suite.Run(t, s)
}

func (s *PostgresStoreSuite) SetupTest() {
	s.Require().NoError(s.postgres.TruncateTables(context.Background(), "flow_documents"))
	s.ContractSuite.SetupTest()
}

func (s *PostgresStoreSuite) TestMigrateIsIdempotent() {
	s.NoError(NewPostgres(s.postgres.Pool).Migrate(context.Background()))
}
