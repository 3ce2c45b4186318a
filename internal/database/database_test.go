package database

import (
	"testing"
)

func TestOpenRunsMigrations(t *testing.T) {
	db, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	for _, table := range []string{"users", "data_functions", "run_records"} {
		var name string
		err := db.QueryRow(`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&name)
		if err != nil {
			t.Errorf("table %q missing after migration: %v", table, err)
		}
	}
}

func TestUpdatedAtTriggers(t *testing.T) {
	db, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if _, err := db.Exec(
		`INSERT INTO data_functions (key, name, cron_expr) VALUES ('school-lunch', 'Lunch', '0 6 * * 1-5')`,
	); err != nil {
		t.Fatalf("insert: %v", err)
	}

	// Force a distinct updated_at, then confirm the trigger stamps it.
	if _, err := db.Exec(
		`UPDATE data_functions SET updated_at = '2000-01-01 00:00:00' WHERE key = 'school-lunch'`,
	); err != nil {
		t.Fatalf("backdate: %v", err)
	}
	if _, err := db.Exec(
		`UPDATE data_functions SET name = 'Lunch Menu' WHERE key = 'school-lunch'`,
	); err != nil {
		t.Fatalf("update: %v", err)
	}

	var createdAt, updatedAt string
	err = db.QueryRow(
		`SELECT created_at, updated_at FROM data_functions WHERE key = 'school-lunch'`,
	).Scan(&createdAt, &updatedAt)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if updatedAt == "2000-01-01 00:00:00" {
		t.Error("updated_at trigger did not fire on update")
	}
}
