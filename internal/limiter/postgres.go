package limiter

import (
	"context"
	"crypto/sha256"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// PG is a PostgreSQL-backed limiter with a fixed-size sliding window.
type PG struct {
	pool     pgxQuerier
	window   time.Duration
	maxCalls int
}

type pgxQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// NewPG constructs a PostgreSQL-backed limiter.
func NewPG(pool pgxQuerier, window time.Duration, maxCalls int) *PG {
	return &PG{pool: pool, window: window, maxCalls: maxCalls}
}

// HashIP returns a stable hash for an IP string to avoid storing raw addresses.
func HashIP(ip string) []byte {
	h := sha256.Sum256([]byte(ip))
	return h[:]
}

// Allow reports whether a metered call is currently allowed.
func (l *PG) Allow(ctx context.Context, ipHash []byte) (bool, time.Duration, error) {
	const q = `SELECT call_count, window_start FROM match_limiter WHERE ip_hash=$1`
	var (
		count       int
		windowStart time.Time
	)
	err := l.pool.QueryRow(ctx, q, ipHash).Scan(&count, &windowStart)
	switch err {
	case nil:
		windowEnd := windowStart.Add(l.window)
		if time.Now().After(windowEnd) {
			return true, 0, nil
		}
		if count < l.maxCalls {
			return true, 0, nil
		}
		return false, time.Until(windowEnd), nil
	case pgx.ErrNoRows:
		return true, 0, nil
	default:
		return false, 0, err
	}
}

// Record counts one served call, rolling the window when it has elapsed.
func (l *PG) Record(ctx context.Context, ipHash []byte) error {
	const q = `
INSERT INTO match_limiter (ip_hash, call_count, window_start)
VALUES ($1, 1, now())
ON CONFLICT (ip_hash) DO UPDATE
SET
  call_count   = CASE WHEN now() - match_limiter.window_start > $2::interval THEN 1 ELSE match_limiter.call_count + 1 END,
  window_start = CASE WHEN now() - match_limiter.window_start > $2::interval THEN now() ELSE match_limiter.window_start END`
	_, err := l.pool.Exec(ctx, q, ipHash, l.window)
	return err
}
