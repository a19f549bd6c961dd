package store

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// AcquireLease takes the per-document processing lease for owner until ttl
// elapses. It succeeds when no lease exists, when the existing lease has
// expired, or when owner already holds it (which renews it). acquired is
// false when another owner holds a live lease.
func (s *SQLiteStore) AcquireLease(ctx context.Context, docID int64, owner string, ttl time.Duration) (acquired bool, err error) {
	if owner == "" {
		return false, errors.New("store: acquire lease: owner is required")
	}
	now := s.now()
	res, err := s.db.ExecContext(ctx, `
INSERT INTO doc_leases (doc_id, owner, expires_at) VALUES (?, ?, ?)
ON CONFLICT(doc_id) DO UPDATE SET
    owner      = excluded.owner,
    expires_at = excluded.expires_at
WHERE doc_leases.expires_at <= ? OR doc_leases.owner = excluded.owner`,
		docID, owner, millis(now.Add(ttl)), millis(now),
	)
	if err != nil {
		return false, fmt.Errorf("store: acquire lease on doc %d: %w", docID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("store: acquire lease on doc %d: %w", docID, err)
	}
	return n == 1, nil
}

// ReleaseLease drops the lease on docID if owner holds it. Releasing a lease
// held by someone else, or none at all, is a no-op.
func (s *SQLiteStore) ReleaseLease(ctx context.Context, docID int64, owner string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM doc_leases WHERE doc_id = ? AND owner = ?`, docID, owner,
	); err != nil {
		return fmt.Errorf("store: release lease on doc %d: %w", docID, err)
	}
	return nil
}
