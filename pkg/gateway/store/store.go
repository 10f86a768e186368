// Package store reads agent configuration from and writes call records to
// Postgres.
package store

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
)

// DefaultKnowledgeLimit bounds how many knowledge excerpts a call loads.
const DefaultKnowledgeLimit = 8

type Options struct {
	KnowledgeLimit int
	Logger         *slog.Logger
}

// Store is safe for concurrent use by every session in the process.
type Store struct {
	pool           *pgxpool.Pool
	logger         *slog.Logger
	knowledgeLimit int
}

func New(pool *pgxpool.Pool, opts Options) *Store {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.KnowledgeLimit <= 0 {
		opts.KnowledgeLimit = DefaultKnowledgeLimit
	}
	return &Store{
		pool:           pool,
		logger:         opts.Logger,
		knowledgeLimit: opts.KnowledgeLimit,
	}
}

// Open connects a pool and verifies the database answers.
func Open(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}
