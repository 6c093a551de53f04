package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"courier/internal/types"
)

const createStatusTableSQL = `CREATE TABLE IF NOT EXISTS notification_status (
	notification_id TEXT PRIMARY KEY,
	status          TEXT NOT NULL,
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

// StatusRepository persists the latest status of each notification in the
// notification_status table. Writes are last-write-wins upserts.
type StatusRepository struct {
	db DBTX
}

// NewStatusRepository creates a StatusRepository backed by the given pool or
// transaction.
func NewStatusRepository(db DBTX) *StatusRepository {
	return &StatusRepository{db: db}
}

// EnsureSchema creates the status table if it does not exist.
func (r *StatusRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, createStatusTableSQL); err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create notification_status table", err)
	}
	return nil
}

// Read returns the stored status token. found is false when no row exists.
func (r *StatusRepository) Read(ctx context.Context, notificationID string) (string, bool, error) {
	var raw string
	err := r.db.QueryRow(ctx,
		`SELECT status FROM notification_status WHERE notification_id = $1`,
		notificationID,
	).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, types.NewAppError(types.ErrCodeInternalDB, "failed to read notification status", err)
	}
	return raw, true, nil
}

// Write upserts the status.
func (r *StatusRepository) Write(ctx context.Context, notificationID string, st types.NotificationStatus) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO notification_status (notification_id, status, updated_at)
		 VALUES ($1, $2, NOW())
		 ON CONFLICT (notification_id)
		 DO UPDATE SET status = EXCLUDED.status, updated_at = EXCLUDED.updated_at`,
		notificationID,
		string(st),
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to write notification status", err)
	}
	return nil
}

// CountByStatus returns the number of notifications in each status.
func (r *StatusRepository) CountByStatus(ctx context.Context) (map[types.NotificationStatus]int64, error) {
	rows, err := r.db.Query(ctx,
		`SELECT status, COUNT(*) FROM notification_status GROUP BY status`)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to count notification statuses", err)
	}
	defer rows.Close()

	counts := make(map[types.NotificationStatus]int64)
	for rows.Next() {
		var (
			raw   string
			count int64
		)
		if err := rows.Scan(&raw, &count); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan status count", err)
		}
		counts[types.NotificationStatus(raw)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to iterate status counts", err)
	}
	return counts, nil
}

// Ping verifies connectivity when the underlying handle supports it.
func (r *StatusRepository) Ping(ctx context.Context) error {
	if p, ok := r.db.(interface{ Ping(context.Context) error }); ok {
		return p.Ping(ctx)
	}
	return nil
}
