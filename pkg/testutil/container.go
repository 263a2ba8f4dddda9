// Package testutil provides testing utilities for the ERP backend services:
// a PostgreSQL testcontainer, sqlmock helpers, HTTP helpers and fixtures.
package testutil

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// ImageEnv overrides the PostgreSQL image used by integration tests
const ImageEnv = "ERP_TEST_POSTGRES_IMAGE"

const defaultImage = "postgres:15-alpine"

// PostgresContainer is a running PostgreSQL testcontainer and its DSN
type PostgresContainer struct {
	*postgres.PostgresContainer
	DSN string
}

// PostgresContainerConfig configures the test PostgreSQL container. Empty
// fields take the defaults.
type PostgresContainerConfig struct {
	Database string
	Username string
	Password string
	Image    string
	Startup  time.Duration
}

// DefaultPostgresConfig returns the settings used by integration tests
func DefaultPostgresConfig() PostgresContainerConfig {
	image := os.Getenv(ImageEnv)
	if image == "" {
		image = defaultImage
	}
	return PostgresContainerConfig{
		Database: "erp_attendance_test",
		Username: "test",
		Password: "test",
		Image:    image,
		Startup:  60 * time.Second,
	}
}

func (c PostgresContainerConfig) withDefaults() PostgresContainerConfig {
	def := DefaultPostgresConfig()
	for _, f := range []struct {
		dst *string
		def string
	}{
		{&c.Database, def.Database},
		{&c.Username, def.Username},
		{&c.Password, def.Password},
		{&c.Image, def.Image},
	} {
		if *f.dst == "" {
			*f.dst = f.def
		}
	}
	if c.Startup <= 0 {
		c.Startup = def.Startup
	}
	return c
}

// NewPostgresContainer starts PostgreSQL and waits until it accepts
// connections. Postgres logs readiness twice, once for the init run.
func NewPostgresContainer(ctx context.Context, cfg PostgresContainerConfig) (*PostgresContainer, error) {
	cfg = cfg.withDefaults()

	container, err := postgres.RunContainer(ctx,
		testcontainers.WithImage(cfg.Image),
		postgres.WithDatabase(cfg.Database),
		postgres.WithUsername(cfg.Username),
		postgres.WithPassword(cfg.Password),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(cfg.Startup),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start postgres container %s: %w", cfg.Image, err)
	}

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("failed to get connection string: %w", err)
	}

	return &PostgresContainer{PostgresContainer: container, DSN: dsn}, nil
}

// Connect opens a pool on the container
func (c *PostgresContainer) Connect(ctx context.Context) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", c.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to test database: %w", err)
	}
	return db, nil
}
