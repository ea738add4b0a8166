package storage

import (
	"fmt"
	"time"
)

// SaveGeneration appends one entry to the generation log.
func (s *Store) SaveGeneration(g Generation) error {
	createdAt := g.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := s.db.Exec(`
		INSERT INTO generations (id, record_id, kind, intent, model, status, error, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		g.ID, g.RecordID, g.Kind, g.Intent, g.Model, g.Status, g.Error, g.DurationMs,
		createdAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("saving generation %s: %w", g.ID, err)
	}
	return nil
}

// ListGenerations returns logged generations newest first.
func (s *Store) ListGenerations(limit, offset int) ([]Generation, error) {
	rows, err := s.db.Query(`
		SELECT id, record_id, kind, intent, model, status, error, duration_ms, created_at
		FROM generations ORDER BY created_at DESC LIMIT ? OFFSET ?`, limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Generation
	for rows.Next() {
		var g Generation
		var createdAt string
		if err := rows.Scan(&g.ID, &g.RecordID, &g.Kind, &g.Intent, &g.Model, &g.Status, &g.Error, &g.DurationMs, &createdAt); err != nil {
			return nil, err
		}
		t, err := time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		g.CreatedAt = t
		results = append(results, g)
	}
	return results, rows.Err()
}

// DeleteGenerationsFor drops the log entries of one record.
func (s *Store) DeleteGenerationsFor(recordID string) error {
	_, err := s.db.Exec(`DELETE FROM generations WHERE record_id = ?`, recordID)
	return err
}
