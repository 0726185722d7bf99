package backend

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/glebarez/go-sqlite"
)

// SQLite is a backend storing keys in a single table. Each write stamps a new
// version, which serves as the CAS token. Expired rows are deleted when read
// and by a background sweep.
type SQLite struct {
	db         *sql.DB
	writeMutex *sync.Mutex
	version    atomic.Int64
	now        func() time.Time
	sweeper    *sweeper
}

// NewSQLite opens (or creates) the database at path.
// An empty path opens a private in-memory database.
func NewSQLite(ctx context.Context, path string) (*SQLite, error) {
	return newSQLite(ctx, path, sqlSweepInterval)
}

func newSQLite(ctx context.Context, path string, sweepEvery time.Duration) (*SQLite, error) {
	memory := path == ""
	if memory {
		path = ":memory:"
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if memory {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS kv (
			key TEXT PRIMARY KEY,
			value BLOB NOT NULL,
			version INTEGER NOT NULL,
			expires_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS kv_expires_idx ON kv (expires_at)`,
	}
	if !memory {
		stmts = append(stmts, `PRAGMA journal_mode=WAL`)
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("init sqlite schema: %w", err)
		}
	}

	s := &SQLite{db: db, writeMutex: &sync.Mutex{}, now: time.Now}
	s.version.Store(time.Now().UnixNano())
	s.sweeper = startSweeper(sweepEvery, s.Sweep)
	return s, nil
}

func (s *SQLite) expiresAt(ttl time.Duration) int64 {
	if ttl <= 0 {
		return 0
	}
	return s.now().Add(ttl).UnixMilli()
}

// get returns value and version of a live row.
func (s *SQLite) get(ctx context.Context, key string) ([]byte, int64, error) {
	var (
		value   []byte
		version int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT value, version FROM kv WHERE key = ? AND (expires_at = 0 OR expires_at > ?)`,
		key, s.now().UnixMilli(),
	).Scan(&value, &version)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, 0, ErrNotFound
		}
		return nil, 0, fmt.Errorf("sqlite get: %w", err)
	}
	return value, version, nil
}

func (s *SQLite) Get(ctx context.Context, key string) ([]byte, error) {
	var (
		value     []byte
		expiresAt int64
	)
	err := s.db.QueryRowContext(ctx, `SELECT value, expires_at FROM kv WHERE key = ?`, key).
		Scan(&value, &expiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("sqlite get: %w", err)
	}

	now := s.now().UnixMilli()
	if expiresAt != 0 && expiresAt <= now {
		s.writeMutex.Lock()
		defer s.writeMutex.Unlock()
		// the row may have been rewritten since the read
		if _, err := s.db.ExecContext(ctx,
			`DELETE FROM kv WHERE key = ? AND expires_at > 0 AND expires_at <= ?`, key, now,
		); err != nil {
			return nil, fmt.Errorf("sqlite delete expired: %w", err)
		}
		return nil, ErrNotFound
	}
	return value, nil
}

func (s *SQLite) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO kv (key, value, version, expires_at) VALUES (?, ?, ?, ?)`,
		key, value, s.version.Add(1), s.expiresAt(ttl),
	)
	if err != nil {
		return fmt.Errorf("sqlite set: %w", err)
	}
	return nil
}

func (s *SQLite) Delete(ctx context.Context, key string) error {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key); err != nil {
		return fmt.Errorf("sqlite delete: %w", err)
	}
	return nil
}

func (s *SQLite) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()

	value, _, err := s.get(ctx, key)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return 0, err
	}

	var n int64
	if err == nil {
		n, err = strconv.ParseInt(string(value), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("sqlite incr: %w", err)
		}
		n++
		_, err = s.db.ExecContext(ctx,
			`UPDATE kv SET value = ?, version = ? WHERE key = ?`,
			[]byte(strconv.FormatInt(n, 10)), s.version.Add(1), key,
		)
	} else {
		n = 1
		_, err = s.db.ExecContext(ctx,
			`INSERT OR REPLACE INTO kv (key, value, version, expires_at) VALUES (?, ?, ?, ?)`,
			key, []byte("1"), s.version.Add(1), s.expiresAt(ttl),
		)
	}
	if err != nil {
		return 0, fmt.Errorf("sqlite incr: %w", err)
	}
	return n, nil
}

func (s *SQLite) Gets(ctx context.Context, key string) ([]byte, Token, error) {
	value, version, err := s.get(ctx, key)
	if err != nil {
		return nil, Token{}, err
	}
	return value, Token{v: version}, nil
}

func (s *SQLite) CompareAndSwap(ctx context.Context, key string, value []byte, token Token, ttl time.Duration) (bool, error) {
	want, ok := token.v.(int64)
	if !ok {
		return false, nil
	}
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	res, err := s.db.ExecContext(ctx,
		`UPDATE kv SET value = ?, version = ?, expires_at = ?
		WHERE key = ? AND version = ? AND (expires_at = 0 OR expires_at > ?)`,
		value, s.version.Add(1), s.expiresAt(ttl), key, want, s.now().UnixMilli(),
	)
	if err != nil {
		return false, fmt.Errorf("sqlite cas: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("sqlite cas: %w", err)
	}
	return n == 1, nil
}

func (s *SQLite) Add(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	// An expired row does not count as present.
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM kv WHERE key = ? AND expires_at > 0 AND expires_at <= ?`,
		key, s.now().UnixMilli(),
	); err != nil {
		return false, fmt.Errorf("sqlite add: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO kv (key, value, version, expires_at) VALUES (?, ?, ?, ?)`,
		key, value, s.version.Add(1), s.expiresAt(ttl),
	)
	if err != nil {
		return false, fmt.Errorf("sqlite add: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("sqlite add: %w", err)
	}
	return n == 1, nil
}

// Sweep deletes expired rows and returns how many were removed.
func (s *SQLite) Sweep(ctx context.Context) (int64, error) {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM kv WHERE expires_at > 0 AND expires_at <= ?`, s.now().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("sqlite sweep: %w", err)
	}
	return res.RowsAffected()
}

func (s *SQLite) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close stops the sweep and closes the database.
func (s *SQLite) Close() error {
	s.sweeper.Stop()
	return s.db.Close()
}
