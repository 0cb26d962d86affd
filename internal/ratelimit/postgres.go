package ratelimit

import (
	"context"
	"database/sql"
	"strconv"
	"strings"
	"time"
)

// PostgresStore keeps the attempt log in rate_limit_attempts.
type PostgresStore struct {
	db      *sql.DB
	timeout time.Duration
}

// NewPostgresStore returns a PostgresStore. Each call is bounded by timeout.
func NewPostgresStore(db *sql.DB, timeout time.Duration) *PostgresStore {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &PostgresStore{db: db, timeout: timeout}
}

func (s *PostgresStore) Window(ctx context.Context, hashedKey string, endpoint Endpoint, since time.Time, n int) (Window, error) {
	if n < 1 {
		n = 1
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	var (
		w   Window
		nth sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `WITH recent AS (
			SELECT created_at FROM rate_limit_attempts
			WHERE hashed_key = $1 AND endpoint = $2 AND created_at > $3
		)
		SELECT (SELECT count(*) FROM recent),
			(SELECT created_at FROM recent ORDER BY created_at DESC OFFSET $4 LIMIT 1)`,
		hashedKey, string(endpoint), since, n-1).
		Scan(&w.Count, &nth)
	if err != nil {
		return Window{}, err
	}
	if nth.Valid {
		w.Nth = nth.Time
	}
	return w, nil
}

// Record appends all attempts in one statement.
func (s *PostgresStore) Record(ctx context.Context, attempts ...Attempt) error {
	if len(attempts) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var b strings.Builder
	b.WriteString(`INSERT INTO rate_limit_attempts (hashed_key, endpoint, realm, created_at) VALUES `)
	args := make([]any, 0, len(attempts)*4)
	for i, a := range attempts {
		if i > 0 {
			b.WriteString(", ")
		}
		n := i * 4
		b.WriteString("($" + strconv.Itoa(n+1) + ", $" + strconv.Itoa(n+2) + ", $" + strconv.Itoa(n+3) + ", $" + strconv.Itoa(n+4) + ")")
		args = append(args, a.HashedKey, string(a.Endpoint), a.Realm.String(), a.CreatedAt)
	}
	_, err := s.db.ExecContext(ctx, b.String(), args...)
	return err
}

// Prune deletes attempts older than before. It runs from the worker under the migration owner role,
// since the application role has no DELETE grant on the log.
func (s *PostgresStore) Prune(ctx context.Context, before time.Time) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	res, err := s.db.ExecContext(ctx, `DELETE FROM rate_limit_attempts WHERE created_at < $1`, before)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
