package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx driver

	"omr-grader/internal/logger"
)

const schema = `
create table if not exists grading_results (
  id                  bigserial primary key,
  created_at          timestamptz not null default now(),
  request_id          text not null,
  kind                text not null,
  source              text not null default '',
  engine              text not null default '',
  score               text not null,
  correct             integer not null,
  total               integer not null,
  mismatch_percentage double precision,
  answers             jsonb not null default '[]'::jsonb
)`

type PostgresRecorder struct{ DB *sql.DB }

// OpenPostgres connects, pings and makes sure the results table exists.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresRecorder, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql.Open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(time.Hour)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("db.Ping: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating results table: %w", err)
	}
	logger.DebugLog("[store]: postgres ledger ready")
	return &PostgresRecorder{DB: db}, nil
}

func (r *PostgresRecorder) Record(ctx context.Context, rec Record) error {
	answers := rec.Answers
	if answers == nil {
		answers = []string{}
	}
	js, err := json.Marshal(answers)
	if err != nil {
		return fmt.Errorf("encoding answers: %w", err)
	}

	const q = `
insert into grading_results (
  created_at, request_id, kind, source, engine, score, correct, total, mismatch_percentage, answers
) values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`
	_, err = r.DB.ExecContext(ctx, q,
		rec.CreatedAt, rec.RequestID, rec.Kind, rec.Source, rec.Engine,
		rec.Score, rec.Correct, rec.Total, rec.MismatchPercentage, string(js),
	)
	if err != nil {
		return fmt.Errorf("inserting result %s: %w", rec.RequestID, err)
	}
	return nil
}

// CountByRequest returns how many rows carry the request id.
func (r *PostgresRecorder) CountByRequest(ctx context.Context, requestID string) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `select count(*) from grading_results where request_id = $1`, requestID).Scan(&n)
	return n, err
}

func (r *PostgresRecorder) Close() error {
	return r.DB.Close()
}
