package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/dukerupert/feedcal/internal/model"
)

// RunLogStore is the append-only execution log consumed by operators for
// auditing and troubleshooting.
type RunLogStore struct {
	db *sql.DB
}

func NewRunLogStore(db *sql.DB) *RunLogStore {
	return &RunLogStore{db: db}
}

func (s *RunLogStore) Record(functionKey, status, message string, created, deleted int) (*model.RunRecord, error) {
	result, err := s.db.Exec(
		`INSERT INTO run_records (function_key, status, message, events_created, events_deleted)
		 VALUES (?, ?, ?, ?, ?)`,
		functionKey, status, message, created, deleted,
	)
	if err != nil {
		return nil, fmt.Errorf("insert run record: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.getByID(id)
}

func (s *RunLogStore) getByID(id int64) (*model.RunRecord, error) {
	var r model.RunRecord
	err := s.db.QueryRow(
		`SELECT id, function_key, status, message, events_created, events_deleted, created_at
		 FROM run_records WHERE id = ?`,
		id,
	).Scan(&r.ID, &r.FunctionKey, &r.Status, &r.Message, &r.EventsCreated, &r.EventsDeleted, &r.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query run record: %w", err)
	}
	return &r, nil
}

// Recent returns the most recent limit records for a function, newest first.
func (s *RunLogStore) Recent(functionKey string, limit int) ([]model.RunRecord, error) {
	rows, err := s.db.Query(
		`SELECT id, function_key, status, message, events_created, events_deleted, created_at
		 FROM run_records
		 WHERE function_key = ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT ?`,
		functionKey, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query run records: %w", err)
	}
	defer rows.Close()

	var records []model.RunRecord
	for rows.Next() {
		var r model.RunRecord
		if err := rows.Scan(&r.ID, &r.FunctionKey, &r.Status, &r.Message, &r.EventsCreated, &r.EventsDeleted, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan run record: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// PurgeOlderThan deletes records older than the given number of days and
// returns how many were removed.
func (s *RunLogStore) PurgeOlderThan(days int) (int64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -days)
	result, err := s.db.Exec(`DELETE FROM run_records WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge run records: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}
