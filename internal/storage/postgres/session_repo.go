package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"trackhub/internal/hub"
)

// SessionRepo persists device session audit rows using pgx and plain SQL.
// One row per connection: started on attach, ended on close. Positions are
// never written here; only presence is.
//
// Expected schema:
//
//	CREATE TABLE device_sessions (
//	    id            UUID PRIMARY KEY DEFAULT gen_random_uuid(),
//	    device_id     TEXT        NOT NULL,
//	    connection_id TEXT        NOT NULL,
//	    started_at    TIMESTAMPTZ NOT NULL,
//	    ended_at      TIMESTAMPTZ
//	);
type SessionRepo struct {
	pool *pgxpool.Pool
}

var _ hub.SessionJournal = (*SessionRepo)(nil)

// NewSessionRepo constructs a SessionRepo on the given pool.
func NewSessionRepo(pool *pgxpool.Pool) *SessionRepo {
	return &SessionRepo{pool: pool}
}

// SessionStarted inserts a session row and returns its generated ID.
func (repo *SessionRepo) SessionStarted(ctx context.Context, deviceID, connID string) (string, error) {
	var sessionID string
	err := repo.pool.QueryRow(ctx, `
		INSERT INTO device_sessions (device_id, connection_id, started_at)
		VALUES ($1, $2, $3)
		RETURNING id
	`, deviceID, connID, time.Now().UTC()).Scan(&sessionID)
	if err != nil {
		return "", err
	}

	return sessionID, nil
}

// SessionEnded marks a session row as ended.
func (repo *SessionRepo) SessionEnded(ctx context.Context, sessionID string) error {
	_, err := repo.pool.Exec(ctx, `
		UPDATE device_sessions
		SET ended_at = $1
		WHERE id = $2
	`, time.Now().UTC(), sessionID)

	return err
}

// ActiveSessionCount reports how many sessions have not ended yet.
func (repo *SessionRepo) ActiveSessionCount(ctx context.Context) (int, error) {
	var n int
	err := repo.pool.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM device_sessions
		WHERE ended_at IS NULL
	`).Scan(&n)

	return n, err
}
