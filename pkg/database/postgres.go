package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

const (
	maxOpenConns    = 4
	connMaxIdleTime = 5 * time.Minute
)

// Postgres holds the connection pool backing the postgres storage driver
type Postgres struct {
	DB *sql.DB
}

// NewPostgres opens a small pool and checks the server answers before ctx expires
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxOpenConns)
	db.SetConnMaxIdleTime(connMaxIdleTime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Postgres{DB: db}, nil
}

func (p *Postgres) Close() error {
	return p.DB.Close()
}

// Ping is used by the health check
func (p *Postgres) Ping(ctx context.Context) error {
	return p.DB.PingContext(ctx)
}
