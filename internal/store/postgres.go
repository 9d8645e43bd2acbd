package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"go.uber.org/zap"

	"github.com/FairForge/warden/internal/config"
)

// Postgres implements Store against a PostgreSQL database. Counters use
// a single upsert so increment-and-expire-if-absent is atomic; lapsed
// keys are invisible to reads and reclaimed by DeleteExpired.
type Postgres struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewPostgres opens a connection pool and ensures the tables exist.
func NewPostgres(cfg config.DatabaseConfig, logger *zap.Logger) (*Postgres, error) {
	if cfg.SSLMode == "" {
		cfg.SSLMode = "disable"
	}

	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	p := &Postgres{db: db, logger: logger}
	if err := p.createTables(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return p, nil
}

func (p *Postgres) createTables(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS warden_kv (
			key VARCHAR(512) PRIMARY KEY,
			value TEXT NOT NULL,
			expires_at TIMESTAMPTZ
		)`,
		`CREATE INDEX IF NOT EXISTS idx_warden_kv_expires
			ON warden_kv(expires_at) WHERE expires_at IS NOT NULL`,
		`CREATE TABLE IF NOT EXISTS warden_sets (
			key VARCHAR(512) NOT NULL,
			member VARCHAR(512) NOT NULL,
			expires_at TIMESTAMPTZ,
			PRIMARY KEY (key, member)
		)`,
	}

	for _, query := range queries {
		if _, err := p.db.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}

	return nil
}

func (p *Postgres) Get(ctx context.Context, key string) (string, error) {
	query := `SELECT value FROM warden_kv
		WHERE key = $1 AND (expires_at IS NULL OR expires_at > now())`

	var value string
	err := p.db.QueryRowContext(ctx, query, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get key: %w", err)
	}
	return value, nil
}

func (p *Postgres) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	query := `INSERT INTO warden_kv (key, value, expires_at)
		VALUES ($1, $2, CASE WHEN $3 > 0 THEN now() + make_interval(secs => $3) END)
		ON CONFLICT (key) DO UPDATE SET
			value = EXCLUDED.value,
			expires_at = EXCLUDED.expires_at`

	if _, err := p.db.ExecContext(ctx, query, key, value, ttl.Seconds()); err != nil {
		return fmt.Errorf("set key: %w", err)
	}
	return nil
}

func (p *Postgres) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	// Single statement, so concurrent first requests cannot each reset
	// the window.
	query := `INSERT INTO warden_kv (key, value, expires_at)
		VALUES ($1, '1', CASE WHEN $2 > 0 THEN now() + make_interval(secs => $2) END)
		ON CONFLICT (key) DO UPDATE SET
			value = CASE
				WHEN warden_kv.expires_at IS NOT NULL AND warden_kv.expires_at <= now()
				THEN '1'
				ELSE (warden_kv.value::bigint + 1)::text
			END,
			expires_at = CASE
				WHEN warden_kv.expires_at IS NOT NULL AND warden_kv.expires_at <= now()
				THEN CASE WHEN $2 > 0 THEN now() + make_interval(secs => $2) END
				ELSE warden_kv.expires_at
			END
		RETURNING value::bigint`

	var value int64
	if err := p.db.QueryRowContext(ctx, query, key, ttl.Seconds()).Scan(&value); err != nil {
		return 0, fmt.Errorf("increment key: %w", err)
	}
	return value, nil
}

func (p *Postgres) Delete(ctx context.Context, key string) error {
	if _, err := p.db.ExecContext(ctx, `DELETE FROM warden_kv WHERE key = $1`, key); err != nil {
		return fmt.Errorf("delete key: %w", err)
	}
	return nil
}

func (p *Postgres) Exists(ctx context.Context, key string) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM warden_kv
		WHERE key = $1 AND (expires_at IS NULL OR expires_at > now()))`

	var exists bool
	if err := p.db.QueryRowContext(ctx, query, key).Scan(&exists); err != nil {
		return false, fmt.Errorf("check key: %w", err)
	}
	return exists, nil
}

func (p *Postgres) TTL(ctx context.Context, key string) (time.Duration, error) {
	query := `SELECT COALESCE(EXTRACT(EPOCH FROM expires_at - now()), 0)
		FROM warden_kv
		WHERE key = $1 AND (expires_at IS NULL OR expires_at > now())`

	var secs float64
	err := p.db.QueryRowContext(ctx, query, key).Scan(&secs)
	if err == sql.ErrNoRows {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("ttl for key: %w", err)
	}
	return time.Duration(secs * float64(time.Second)), nil
}

func (p *Postgres) AddToSet(ctx context.Context, key, member string, ttl time.Duration) error {
	query := `INSERT INTO warden_sets (key, member, expires_at)
		VALUES ($1, $2, CASE WHEN $3 > 0 THEN now() + make_interval(secs => $3) END)
		ON CONFLICT (key, member) DO UPDATE SET expires_at = EXCLUDED.expires_at`

	if _, err := p.db.ExecContext(ctx, query, key, member, ttl.Seconds()); err != nil {
		return fmt.Errorf("add to set: %w", err)
	}
	return nil
}

func (p *Postgres) SetSize(ctx context.Context, key string) (int64, error) {
	query := `SELECT COUNT(*) FROM warden_sets
		WHERE key = $1 AND (expires_at IS NULL OR expires_at > now())`

	var n int64
	if err := p.db.QueryRowContext(ctx, query, key).Scan(&n); err != nil {
		return 0, fmt.Errorf("set size: %w", err)
	}
	return n, nil
}

func (p *Postgres) SetMembers(ctx context.Context, key string) ([]string, error) {
	query := `SELECT member FROM warden_sets
		WHERE key = $1 AND (expires_at IS NULL OR expires_at > now())
		ORDER BY member`

	rows, err := p.db.QueryContext(ctx, query, key)
	if err != nil {
		return nil, fmt.Errorf("set members: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var members []string
	for rows.Next() {
		var m string
		if err := rows.Scan(&m); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

func (p *Postgres) DeleteExpired(ctx context.Context, prefix string) (int64, error) {
	pattern := prefix + "%"

	result, err := p.db.ExecContext(ctx,
		`DELETE FROM warden_kv WHERE key LIKE $1 AND expires_at IS NOT NULL AND expires_at <= now()`,
		pattern)
	if err != nil {
		return 0, fmt.Errorf("delete expired keys: %w", err)
	}
	kvDeleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}

	result, err = p.db.ExecContext(ctx,
		`DELETE FROM warden_sets WHERE key LIKE $1 AND expires_at IS NOT NULL AND expires_at <= now()`,
		pattern)
	if err != nil {
		return kvDeleted, fmt.Errorf("delete expired members: %w", err)
	}
	setDeleted, err := result.RowsAffected()
	if err != nil {
		return kvDeleted, fmt.Errorf("rows affected: %w", err)
	}

	return kvDeleted + setDeleted, nil
}

func (p *Postgres) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

func (p *Postgres) Close() error {
	return p.db.Close()
}
