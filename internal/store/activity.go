package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// RecordActivity appends a lifecycle entry.
func (s *SQLiteStore) RecordActivity(ctx context.Context, action, docID, userID string) error {
	stmt, err := s.db.PrepareContext(ctx, "INSERT INTO activities (id, action, doc_id, user_id, created_at) VALUES (?, ?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("failed to prepare activity insert: %w", err)
	}
	defer stmt.Close()

	if _, err := stmt.ExecContext(ctx, uuid.NewString(), action, docID, userID, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to execute activity insert: %w", err)
	}
	return nil
}

// ListActivity returns the newest limit entries, only userID's when it is set.
func (s *SQLiteStore) ListActivity(ctx context.Context, userID string, limit int) ([]ActivityEntry, error) {
	query := `
        SELECT a.id, a.action, a.doc_id, a.user_id, a.created_at,
               COALESCE(u.name, ''), COALESCE(u.email, ''), COALESCE(d.title, '')
        FROM activities a
        LEFT JOIN users u ON u.id = a.user_id
        LEFT JOIN documents d ON d.id = a.doc_id
        WHERE (? = '' OR a.user_id = ?)
        ORDER BY a.created_at DESC, a.rowid DESC
        LIMIT ?
    `
	rows, err := s.db.QueryContext(ctx, query, userID, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query activities: %w", err)
	}
	defer rows.Close()

	entries := []ActivityEntry{}
	for rows.Next() {
		var e ActivityEntry
		if err := rows.Scan(&e.ID, &e.Action, &e.DocID, &e.UserID, &e.CreatedAt, &e.UserName, &e.UserEmail, &e.DocTitle); err != nil {
			return nil, fmt.Errorf("failed to scan activity row: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate activities: %w", err)
	}
	return entries, nil
}
