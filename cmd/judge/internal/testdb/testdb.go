// Package testdb starts a throwaway postgres with the judge schema for store-backed test suites.
package testdb

import (
	"context"
	"time"

	sloggorm "github.com/imdatngo/slog-gorm/v2"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	gormpg "gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/sistem/judge/cmd/judge/internal/migrations"
)

type Database struct {
	Container *postgres.PostgresContainer
	DB        *gorm.DB
}

func Start(ctx context.Context) (*Database, error) {
	ct, err := postgres.Run(ctx,
		"postgres:16.4-alpine",
		postgres.WithDatabase("judge"),
		postgres.WithUsername("judge"),
		postgres.WithPassword("judge"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		return nil, err
	}

	connStr, err := ct.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = testcontainers.TerminateContainer(ct)
		return nil, err
	}

	db, err := gorm.Open(gormpg.Open(connStr), &gorm.Config{
		Logger: sloggorm.New(),
	})
	if err != nil {
		_ = testcontainers.TerminateContainer(ct)
		return nil, err
	}

	if err := migrations.Up(ctx, db); err != nil {
		_ = testcontainers.TerminateContainer(ct)
		return nil, err
	}

	return &Database{Container: ct, DB: db}, nil
}

func (d *Database) Terminate() error {
	return testcontainers.TerminateContainer(d.Container)
}
