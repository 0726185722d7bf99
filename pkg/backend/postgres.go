package backend

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres is a backend storing keys in the pagecache_kv table. Versions are
// drawn from a sequence and serve as CAS tokens. Expired rows are deleted when
// read and by a background sweep.
type Postgres struct {
	pool    *pgxpool.Pool
	now     func() time.Time
	sweeper *sweeper
}

// NewPostgres connects to dsn and makes sure the schema exists.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	return newPostgres(ctx, dsn, sqlSweepInterval)
}

func newPostgres(ctx context.Context, dsn string, sweepEvery time.Duration) (*Postgres, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres DSN is required")
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}

	p := &Postgres{pool: pool, now: time.Now}

	if err := p.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	if err := p.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	p.sweeper = startSweeper(sweepEvery, p.Sweep)
	return p, nil
}

func (p *Postgres) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE SEQUENCE IF NOT EXISTS pagecache_kv_version`,
		`CREATE TABLE IF NOT EXISTS pagecache_kv (
			key TEXT PRIMARY KEY,
			value BYTEA NOT NULL,
			version BIGINT NOT NULL,
			expires_at BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_pagecache_kv_expires ON pagecache_kv (expires_at)`,
	}
	for _, stmt := range stmts {
		if _, err := p.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

func (p *Postgres) expiresAt(ttl time.Duration) int64 {
	if ttl <= 0 {
		return 0
	}
	return p.now().Add(ttl).UnixMilli()
}

func (p *Postgres) get(ctx context.Context, key string) ([]byte, int64, error) {
	var (
		value   []byte
		version int64
	)
	err := p.pool.QueryRow(ctx,
		`SELECT value, version FROM pagecache_kv
		WHERE key = $1 AND (expires_at = 0 OR expires_at > $2)`,
		key, p.now().UnixMilli(),
	).Scan(&value, &version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, 0, ErrNotFound
		}
		return nil, 0, fmt.Errorf("postgres get: %w", err)
	}
	return value, version, nil
}

func (p *Postgres) Get(ctx context.Context, key string) ([]byte, error) {
	var (
		value     []byte
		expiresAt int64
	)
	err := p.pool.QueryRow(ctx, `SELECT value, expires_at FROM pagecache_kv WHERE key = $1`, key).
		Scan(&value, &expiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("postgres get: %w", err)
	}

	now := p.now().UnixMilli()
	if expiresAt != 0 && expiresAt <= now {
		if _, err := p.pool.Exec(ctx,
			`DELETE FROM pagecache_kv WHERE key = $1 AND expires_at <> 0 AND expires_at <= $2`, key, now,
		); err != nil {
			return nil, fmt.Errorf("postgres delete expired: %w", err)
		}
		return nil, ErrNotFound
	}
	return value, nil
}

func (p *Postgres) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO pagecache_kv (key, value, version, expires_at)
		VALUES ($1, $2, nextval('pagecache_kv_version'), $3)
		ON CONFLICT (key) DO UPDATE SET
			value = EXCLUDED.value,
			version = EXCLUDED.version,
			expires_at = EXCLUDED.expires_at`,
		key, value, p.expiresAt(ttl),
	)
	if err != nil {
		return fmt.Errorf("postgres set: %w", err)
	}
	return nil
}

func (p *Postgres) Delete(ctx context.Context, key string) error {
	if _, err := p.pool.Exec(ctx, `DELETE FROM pagecache_kv WHERE key = $1`, key); err != nil {
		return fmt.Errorf("postgres delete: %w", err)
	}
	return nil
}

func (p *Postgres) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	var n int64
	err := p.pool.QueryRow(ctx,
		`INSERT INTO pagecache_kv AS kv (key, value, version, expires_at)
		VALUES ($1, convert_to('1', 'UTF8'), nextval('pagecache_kv_version'), $2)
		ON CONFLICT (key) DO UPDATE SET
			value = CASE
				WHEN kv.expires_at <> 0 AND kv.expires_at <= $3 THEN convert_to('1', 'UTF8')
				ELSE convert_to((convert_from(kv.value, 'UTF8')::bigint + 1)::text, 'UTF8')
			END,
			version = EXCLUDED.version,
			expires_at = CASE
				WHEN kv.expires_at <> 0 AND kv.expires_at <= $3 THEN EXCLUDED.expires_at
				ELSE kv.expires_at
			END
		RETURNING convert_from(value, 'UTF8')::bigint`,
		key, p.expiresAt(ttl), p.now().UnixMilli(),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("postgres incr: %w", err)
	}
	return n, nil
}

func (p *Postgres) Gets(ctx context.Context, key string) ([]byte, Token, error) {
	value, version, err := p.get(ctx, key)
	if err != nil {
		return nil, Token{}, err
	}
	return value, Token{v: version}, nil
}

func (p *Postgres) CompareAndSwap(ctx context.Context, key string, value []byte, token Token, ttl time.Duration) (bool, error) {
	want, ok := token.v.(int64)
	if !ok {
		return false, nil
	}
	tag, err := p.pool.Exec(ctx,
		`UPDATE pagecache_kv
		SET value = $1, version = nextval('pagecache_kv_version'), expires_at = $2
		WHERE key = $3 AND version = $4 AND (expires_at = 0 OR expires_at > $5)`,
		value, p.expiresAt(ttl), key, want, p.now().UnixMilli(),
	)
	if err != nil {
		return false, fmt.Errorf("postgres cas: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (p *Postgres) Add(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	tag, err := p.pool.Exec(ctx,
		`INSERT INTO pagecache_kv AS kv (key, value, version, expires_at)
		VALUES ($1, $2, nextval('pagecache_kv_version'), $3)
		ON CONFLICT (key) DO UPDATE SET
			value = EXCLUDED.value,
			version = EXCLUDED.version,
			expires_at = EXCLUDED.expires_at
		WHERE kv.expires_at <> 0 AND kv.expires_at <= $4`,
		key, value, p.expiresAt(ttl), p.now().UnixMilli(),
	)
	if err != nil {
		return false, fmt.Errorf("postgres add: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Sweep deletes expired rows and returns how many were removed.
func (p *Postgres) Sweep(ctx context.Context) (int64, error) {
	tag, err := p.pool.Exec(ctx,
		`DELETE FROM pagecache_kv WHERE expires_at <> 0 AND expires_at <= $1`, p.now().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("postgres sweep: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (p *Postgres) Ping(ctx context.Context) error {
	if p.pool == nil {
		return fmt.Errorf("postgres not initialized")
	}
	return p.pool.Ping(ctx)
}

// Close stops the sweep and closes the pool.
func (p *Postgres) Close() error {
	if p.sweeper != nil {
		p.sweeper.Stop()
	}
	if p.pool != nil {
		p.pool.Close()
	}
	return nil
}
