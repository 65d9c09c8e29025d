package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/KevinKickass/OpenMotionCore/internal/config"
)

type PostgresClient struct {
	pool *pgxpool.Pool
}

func NewPostgresClient(ctx context.Context, cfg config.DatabaseConfig) (*PostgresClient, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to parse pool config: %w", err)
	}

	if cfg.MaxConnections > 0 {
		poolConfig.MaxConns = int32(cfg.MaxConnections)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresClient{pool: pool}, nil
}

func (p *PostgresClient) Close() {
	p.pool.Close()
}

func (p *PostgresClient) Pool() *pgxpool.Pool {
	return p.pool
}

const schema = `
CREATE TABLE IF NOT EXISTS alarm_events (
	id          UUID PRIMARY KEY,
	code        SMALLINT NOT NULL,
	name        TEXT NOT NULL,
	fatal       BOOLEAN NOT NULL,
	state       TEXT NOT NULL,
	occurred_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS homing_runs (
	id          UUID PRIMARY KEY,
	axes        TEXT NOT NULL,
	started_at  TIMESTAMPTZ NOT NULL,
	duration_ms BIGINT NOT NULL,
	alarm       SMALLINT,
	error       TEXT
);`

// Migrate creates the journal tables.
func (p *PostgresClient) Migrate(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to migrate journal: %w", err)
	}
	return nil
}

func (p *PostgresClient) InsertAlarm(ctx context.Context, e *AlarmEvent) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO alarm_events (id, code, name, fatal, state, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, e.ID, int16(e.Code), e.Name, e.Fatal, e.State, e.OccurredAt)
	if err != nil {
		return fmt.Errorf("failed to insert alarm: %w", err)
	}
	return nil
}

func (p *PostgresClient) InsertHomingRun(ctx context.Context, r *HomingRun) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO homing_runs (id, axes, started_at, duration_ms, alarm, error)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, r.ID, r.Axes, r.StartedAt, r.Duration.Milliseconds(), r.Alarm, r.Error)
	if err != nil {
		return fmt.Errorf("failed to insert homing run: %w", err)
	}
	return nil
}

// RecentAlarms returns the newest alarms first.
func (p *PostgresClient) RecentAlarms(ctx context.Context, limit int) ([]AlarmEvent, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, code, name, fatal, state, occurred_at
		FROM alarm_events
		ORDER BY occurred_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query alarms: %w", err)
	}
	defer rows.Close()

	var events []AlarmEvent
	for rows.Next() {
		var e AlarmEvent
		var code int16
		if err := rows.Scan(&e.ID, &code, &e.Name, &e.Fatal, &e.State, &e.OccurredAt); err != nil {
			return nil, fmt.Errorf("failed to scan alarm: %w", err)
		}
		e.Code = uint8(code)
		events = append(events, e)
	}
	return events, rows.Err()
}

// RecentHomingRuns returns the newest homing runs first.
func (p *PostgresClient) RecentHomingRuns(ctx context.Context, limit int) ([]HomingRun, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, axes, started_at, duration_ms, alarm, error
		FROM homing_runs
		ORDER BY started_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query homing runs: %w", err)
	}
	defer rows.Close()

	var runs []HomingRun
	for rows.Next() {
		var r HomingRun
		var ms int64
		if err := rows.Scan(&r.ID, &r.Axes, &r.StartedAt, &ms, &r.Alarm, &r.Error); err != nil {
			return nil, fmt.Errorf("failed to scan homing run: %w", err)
		}
		r.Duration = time.Duration(ms) * time.Millisecond
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
