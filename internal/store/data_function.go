package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/dukerupert/feedcal/internal/model"
)

type DataFunctionStore struct {
	db *sql.DB
}

func NewDataFunctionStore(db *sql.DB) *DataFunctionStore {
	return &DataFunctionStore{db: db}
}

const dataFunctionCols = `id, key, name, calendar_id, cron_expr, enabled, last_run_at, created_at, updated_at`

func scanDataFunction(scanner interface{ Scan(...any) error }) (*model.DataFunction, error) {
	var f model.DataFunction
	var enabledInt int
	var lastRun sql.NullTime

	err := scanner.Scan(&f.ID, &f.Key, &f.Name, &f.CalendarID, &f.CronExpr, &enabledInt, &lastRun, &f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		return nil, err
	}

	f.Enabled = enabledInt != 0
	if lastRun.Valid {
		t := lastRun.Time
		f.LastRunAt = &t
	}
	return &f, nil
}

func (s *DataFunctionStore) Create(key, name, calendarID, cronExpr string, enabled bool) (*model.DataFunction, error) {
	var enabledInt int
	if enabled {
		enabledInt = 1
	}

	_, err := s.db.Exec(
		`INSERT INTO data_functions (key, name, calendar_id, cron_expr, enabled)
		 VALUES (?, ?, ?, ?, ?)`,
		key, name, calendarID, cronExpr, enabledInt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert data function: %w", err)
	}

	return s.GetByKey(key)
}

func (s *DataFunctionStore) GetByKey(key string) (*model.DataFunction, error) {
	row := s.db.QueryRow(`SELECT `+dataFunctionCols+` FROM data_functions WHERE key = ?`, key)
	f, err := scanDataFunction(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get data function: %w", err)
	}
	return f, nil
}

func (s *DataFunctionStore) List() ([]model.DataFunction, error) {
	return s.list(`SELECT ` + dataFunctionCols + ` FROM data_functions ORDER BY key`)
}

func (s *DataFunctionStore) ListEnabled() ([]model.DataFunction, error) {
	return s.list(`SELECT ` + dataFunctionCols + ` FROM data_functions WHERE enabled = 1 ORDER BY key`)
}

func (s *DataFunctionStore) list(query string) ([]model.DataFunction, error) {
	rows, err := s.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("query data functions: %w", err)
	}
	defer rows.Close()

	var functions []model.DataFunction
	for rows.Next() {
		f, err := scanDataFunction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan data function: %w", err)
		}
		functions = append(functions, *f)
	}
	return functions, rows.Err()
}

func (s *DataFunctionStore) Update(key, name, calendarID, cronExpr string, enabled bool) (*model.DataFunction, error) {
	var enabledInt int
	if enabled {
		enabledInt = 1
	}

	_, err := s.db.Exec(
		`UPDATE data_functions
		 SET name = ?, calendar_id = ?, cron_expr = ?, enabled = ?
		 WHERE key = ?`,
		name, calendarID, cronExpr, enabledInt, key,
	)
	if err != nil {
		return nil, fmt.Errorf("update data function: %w", err)
	}

	return s.GetByKey(key)
}

// TouchLastRun stamps the advisory last-run timestamp. Concurrent runs of
// the same function can race on this field; last writer wins.
func (s *DataFunctionStore) TouchLastRun(key string, at time.Time) error {
	_, err := s.db.Exec(`UPDATE data_functions SET last_run_at = ? WHERE key = ?`, at.UTC(), key)
	if err != nil {
		return fmt.Errorf("touch last run: %w", err)
	}
	return nil
}

func (s *DataFunctionStore) Delete(key string) error {
	_, err := s.db.Exec(`DELETE FROM data_functions WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("delete data function: %w", err)
	}
	return nil
}
