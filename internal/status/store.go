// Package status records the latest delivery status of each notification and
// answers the idempotency question "has this notification already reached a
// state that must not be repeated?".
//
// Store holds the status semantics. Backends only persist tokens: Redis is the
// default, PostgreSQL is available for deployments that already run a
// database, and the in-memory backend serves local runs and tests.
package status

import (
	"context"
	"fmt"

	"courier/internal/types"
)

// Backend persists raw status tokens keyed by notification id. Writes are
// last-write-wins.
type Backend interface {
	Read(ctx context.Context, notificationID string) (raw string, found bool, err error)
	Write(ctx context.Context, notificationID string, status types.NotificationStatus) error
}

// Store is safe for concurrent use when its Backend is.
type Store struct {
	backend Backend
}

// NewStore wraps a backend.
func NewStore(backend Backend) *Store {
	return &Store{backend: backend}
}

// Get returns the current status. found is false for unknown ids and for
// stored values that are not one of the four status tokens.
func (s *Store) Get(ctx context.Context, notificationID string) (types.NotificationStatus, bool, error) {
	raw, found, err := s.backend.Read(ctx, notificationID)
	if err != nil {
		return "", false, storeError("read", notificationID, err)
	}
	if !found {
		return "", false, nil
	}
	st, ok := types.ParseNotificationStatus(raw)
	if !ok {
		return "", false, nil
	}
	return st, true, nil
}

// Set overwrites the status of a notification.
func (s *Store) Set(ctx context.Context, notificationID string, st types.NotificationStatus) error {
	if _, ok := types.ParseNotificationStatus(string(st)); !ok {
		return types.NewAppError(types.ErrCodeValidationInvalidStatus,
			fmt.Sprintf("refusing to store unknown status %q", st), nil)
	}
	if err := s.backend.Write(ctx, notificationID, st); err != nil {
		return storeError("write", notificationID, err)
	}
	return nil
}

// IsDuplicate reports whether the notification is already DELIVERED or
// SKIPPED. FAILED and PENDING do not suppress reprocessing.
func (s *Store) IsDuplicate(ctx context.Context, notificationID string) (bool, error) {
	st, found, err := s.Get(ctx, notificationID)
	if err != nil {
		return false, err
	}
	return found && st.IsTerminalForDedup(), nil
}

// Lookup returns the stored token as-is for the status query surface, or
// "unknown" when nothing is stored.
func (s *Store) Lookup(ctx context.Context, notificationID string) (string, error) {
	raw, found, err := s.backend.Read(ctx, notificationID)
	if err != nil {
		return "", storeError("read", notificationID, err)
	}
	if !found || raw == "" {
		return types.StatusUnknown, nil
	}
	return raw, nil
}

// Ping checks the backend when it supports health probing.
func (s *Store) Ping(ctx context.Context) error {
	if p, ok := s.backend.(types.Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

// Close releases the backend when it owns a connection.
func (s *Store) Close() error {
	if c, ok := s.backend.(types.Closer); ok {
		return c.Close()
	}
	return nil
}

func storeError(op, notificationID string, err error) error {
	return types.NewAppErrorWithDetails(
		types.ErrCodeInternalStore,
		fmt.Sprintf("status store %s failed", op),
		err,
		map[string]any{"notification_id": notificationID},
	)
}
