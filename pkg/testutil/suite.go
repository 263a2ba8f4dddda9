package testutil

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/jmoiron/sqlx"

	"github.com/luizmoretti/erp-backend/pkg/database"
	"github.com/luizmoretti/erp-backend/pkg/logger"
)

var (
	// Shared across all integration tests of one package
	globalContainer *PostgresContainer
	globalDB        *sqlx.DB
	containerOnce   sync.Once
	containerErr    error
)

// IntegrationSuite provides a real PostgreSQL with the service schema applied
type IntegrationSuite struct {
	Container *PostgresContainer
	RawDB     *sqlx.DB
	DB        *database.DB
	Fixtures  *FixtureFactory
	Logger    *logger.Logger
	tables    []string
}

// NewIntegrationSuite starts (or reuses) the container and applies schema.
// tables lists the tables Reset truncates between tests.
//
// Usage:
//
//	var suite *testutil.IntegrationSuite
//
//	func TestMain(m *testing.M) {
//	    ctx := context.Background()
//	    s, err := testutil.NewIntegrationSuite(ctx, repository.Schema, repository.Tables...)
//	    if err != nil {
//	        log.Printf("integration tests disabled: %v", err)
//	    }
//	    suite = s
//	    code := m.Run()
//	    testutil.TerminateContainer(ctx)
//	    os.Exit(code)
//	}
func NewIntegrationSuite(ctx context.Context, schema string, tables ...string) (*IntegrationSuite, error) {
	container, db, err := getOrCreateContainer(ctx)
	if err != nil {
		return nil, err
	}

	log := logger.Nop()
	wrapped := database.Wrap(db, log)
	if err := wrapped.Migrate(ctx, schema); err != nil {
		return nil, err
	}

	return &IntegrationSuite{
		Container: container,
		RawDB:     db,
		DB:        wrapped,
		Fixtures:  NewFixtureFactory(db),
		Logger:    log,
		tables:    tables,
	}, nil
}

func getOrCreateContainer(ctx context.Context) (*PostgresContainer, *sqlx.DB, error) {
	containerOnce.Do(func() {
		globalContainer, containerErr = NewPostgresContainer(ctx, DefaultPostgresConfig())
		if containerErr != nil {
			return
		}
		globalDB, containerErr = globalContainer.Connect(ctx)
	})

	return globalContainer, globalDB, containerErr
}

// Require skips the test when the suite could not start (no Docker, -short).
func Require(t *testing.T, s *IntegrationSuite) *IntegrationSuite {
	t.Helper()
	SkipIfShort(t)
	if s == nil {
		t.Skip("integration suite unavailable")
	}
	return s
}

// Reset truncates every registered table.
func (s *IntegrationSuite) Reset(t *testing.T) {
	t.Helper()
	if len(s.tables) == 0 {
		return
	}
	query := fmt.Sprintf("TRUNCATE %s CASCADE", strings.Join(s.tables, ", "))
	if _, err := s.RawDB.Exec(query); err != nil {
		t.Fatalf("failed to reset tables: %v", err)
	}
}

// TerminateContainer terminates the shared container.
// Only call this in TestMain after all tests have completed.
func TerminateContainer(ctx context.Context) {
	if globalContainer != nil {
		globalContainer.Terminate(ctx)
	}
}
