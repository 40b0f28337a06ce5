package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// SQLStore keeps entries in a cache_entries table on sqlite or postgres.
type SQLStore struct {
	sql      *sql.DB
	postgres bool
	now      func() time.Time
}

const schema = `
CREATE TABLE IF NOT EXISTS cache_entries (
  cache_key   TEXT PRIMARY KEY,
  data        TEXT NOT NULL,
  cached_at   BIGINT NOT NULL,
  expires_at  BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_cache_expires ON cache_entries(expires_at);
`

// OpenSQL opens (and if needed creates) the cache table. backend is
// BackendSQLite, where dsn is a file path, or BackendPostgres, where dsn is
// a connection string.
func OpenSQL(ctx context.Context, backend, dsn string) (*SQLStore, error) {
	var (
		db  *sql.DB
		err error
	)
	switch backend {
	case BackendSQLite:
		db, err = sql.Open("sqlite", "file:"+dsn+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	case BackendPostgres:
		db, err = sql.Open("pgx", dsn)
		if err == nil {
			db.SetMaxOpenConns(10)
			db.SetMaxIdleConns(5)
			db.SetConnMaxLifetime(time.Hour)
		}
	default:
		return nil, fmt.Errorf("unknown sql backend %q", backend)
	}
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	// One statement per Exec: postgres' extended protocol rejects batches.
	for _, stmt := range strings.Split(schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, err
		}
	}
	return &SQLStore{sql: db, postgres: backend == BackendPostgres, now: time.Now}, nil
}

func (s *SQLStore) Close() error {
	if s == nil || s.sql == nil {
		return nil
	}
	return s.sql.Close()
}

// rebind turns ? placeholders into $1, $2... for postgres.
func rebind(postgres bool, query string) string {
	if !postgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQLStore) Get(ctx context.Context, key string) ([]byte, error) {
	var (
		data      string
		expiresAt int64
	)
	err := s.sql.QueryRowContext(ctx, rebind(s.postgres, "SELECT data, expires_at FROM cache_entries WHERE cache_key = ?"), key).Scan(&data, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, err
	}
	if s.now().UnixMilli() >= expiresAt {
		return nil, ErrMiss
	}
	return []byte(data), nil
}

func (s *SQLStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	now := s.now()
	_, err := s.sql.ExecContext(ctx, rebind(s.postgres, `INSERT INTO cache_entries(cache_key, data, cached_at, expires_at) VALUES(?,?,?,?)
ON CONFLICT(cache_key) DO UPDATE SET data = excluded.data, cached_at = excluded.cached_at, expires_at = excluded.expires_at`),
		key, string(value), now.UnixMilli(), now.Add(ttl).UnixMilli())
	return err
}

func (s *SQLStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	tx, err := s.sql.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	for _, k := range keys {
		if _, err = tx.ExecContext(ctx, rebind(s.postgres, "DELETE FROM cache_entries WHERE cache_key = ?"), k); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Prune removes expired rows and reports how many were dropped.
func (s *SQLStore) Prune(ctx context.Context) (int64, error) {
	res, err := s.sql.ExecContext(ctx, rebind(s.postgres, "DELETE FROM cache_entries WHERE expires_at <= ?"), s.now().UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
