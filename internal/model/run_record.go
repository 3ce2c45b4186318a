package model

import "time"

// Run statuses recorded in the execution log.
const (
	RunStatusSuccess = "success"
	RunStatusError   = "error"
)

// RunRecord is one append-only execution log entry for a data function run.
type RunRecord struct {
	ID            int64     `json:"id"`
	FunctionKey   string    `json:"function_key"`
	Status        string    `json:"status"`
	Message       string    `json:"message"`
	EventsCreated int       `json:"events_created"`
	EventsDeleted int       `json:"events_deleted"`
	CreatedAt     time.Time `json:"created_at"`
}
