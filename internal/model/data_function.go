package model

import "time"

// DataFunction describes one schedulable external data source: where its
// events land and when it runs. The scheduler holds only a live trigger
// keyed by Key; this record is the durable configuration.
type DataFunction struct {
	ID         int64      `json:"id"`
	Key        string     `json:"key"`
	Name       string     `json:"name"`
	CalendarID string     `json:"calendar_id"`
	CronExpr   string     `json:"cron_expr"`
	Enabled    bool       `json:"enabled"`
	LastRunAt  *time.Time `json:"last_run_at"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}
