// Package syncer runs one data function end to end: fetch, parse, derive
// the reconciliation window, delete the function's previously-created
// events, and create the fresh ones.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/dukerupert/feedcal/internal/feed"
	"github.com/dukerupert/feedcal/internal/gcal"
	"github.com/dukerupert/feedcal/internal/model"
	"github.com/dukerupert/feedcal/internal/store"
)

// Backoff delays between retry attempts. Attempt N sleeps defaultBackoff[N-1]
// before retrying; the table's length bounds the retry count.
var defaultBackoff = []time.Duration{5 * time.Minute, 15 * time.Minute, 30 * time.Minute}

// ConfigError means the function cannot run at all: unknown key, disabled,
// or no registered source. It is never retried.
type ConfigError struct {
	Key    string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("data function %q: %s", e.Key, e.Reason)
}

// Gateway is the slice of the calendar gateway the executor needs.
type Gateway interface {
	ListEvents(ctx context.Context, user *model.User, calendarID string, start, end time.Time) ([]gcal.RemoteEvent, error)
	CreateEvent(ctx context.Context, user *model.User, calendarID string, draft feed.EventDraft) (string, error)
	DeleteEvent(ctx context.Context, user *model.User, calendarID, eventID string) error
}

// Notifier receives run outcomes for live dashboards. May be nil.
type Notifier interface {
	BroadcastRun(rec model.RunRecord)
}

// Result is what a completed (or exhausted) run reports to its caller.
type Result struct {
	Success       bool   `json:"success"`
	EventsCreated int    `json:"events_created"`
	EventsDeleted int    `json:"events_deleted"`
	Message       string `json:"message"`
}

// Executor orchestrates runs of registered data functions.
type Executor struct {
	functions *store.DataFunctionStore
	runs      *store.RunLogStore
	registry  *feed.Registry
	gateway   Gateway
	notifier  Notifier
	logger    *slog.Logger
	backoff   []time.Duration
}

func NewExecutor(functions *store.DataFunctionStore, runs *store.RunLogStore, registry *feed.Registry, gateway Gateway, notifier Notifier, logger *slog.Logger) *Executor {
	return &Executor{
		functions: functions,
		runs:      runs,
		registry:  registry,
		gateway:   gateway,
		notifier:  notifier,
		logger:    logger,
		backoff:   defaultBackoff,
	}
}

// Run executes one full run of the function as the given user, retrying
// failed attempts per the backoff table. Exactly one run record is written:
// by the successful attempt, or here after retries are exhausted.
// ConfigError and CredentialError short-circuit the retries.
func (e *Executor) Run(ctx context.Context, key string, user *model.User) (*Result, error) {
	var res *Result

	attemptErr := retry.Do(ctx, &delayTable{delays: e.backoff}, func(ctx context.Context) error {
		r, err := e.attempt(ctx, key, user)
		if err != nil {
			var cfgErr *ConfigError
			var credErr *gcal.CredentialError
			if errors.As(err, &cfgErr) || errors.As(err, &credErr) {
				return err
			}
			e.logger.Warn("sync attempt failed, will retry", "function", key, "error", err)
			return retry.RetryableError(err)
		}
		res = r
		return nil
	})
	if attemptErr != nil {
		msg := attemptErr.Error()
		e.logger.Error("sync run failed", "function", key, "error", attemptErr)
		var cfgErr *ConfigError
		if !errors.As(attemptErr, &cfgErr) {
			// Misconfigured keys get no log entry; there is no function to log against.
			e.record(key, model.RunStatusError, msg, 0, 0)
		}
		return &Result{Success: false, Message: msg}, attemptErr
	}
	return res, nil
}

// attempt is one pass of the sync algorithm.
func (e *Executor) attempt(ctx context.Context, key string, user *model.User) (*Result, error) {
	cfg, err := e.functions.GetByKey(key)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		return nil, &ConfigError{Key: key, Reason: "not found"}
	}
	if !cfg.Enabled {
		return nil, &ConfigError{Key: key, Reason: "disabled"}
	}

	src := e.registry.Get(key)
	if src == nil {
		return nil, &ConfigError{Key: key, Reason: "no registered source"}
	}

	raw, err := src.Fetch(ctx)
	if err != nil {
		return nil, err
	}

	drafts, err := src.Parse(raw)
	if err != nil {
		// The run proceeds with whatever drafts came through; an empty
		// result is a successful no-op, not a failure.
		e.logger.Warn("parse reported errors", "function", key, "drafts", len(drafts), "error", err)
	}

	now := time.Now()
	if len(drafts) == 0 {
		msg := "no events parsed from source"
		e.finishRun(cfg, now)
		e.record(key, model.RunStatusSuccess, msg, 0, 0)
		return &Result{Success: true, Message: msg}, nil
	}

	windowStart, windowEnd := deriveWindow(drafts, now)

	existing, err := e.gateway.ListEvents(ctx, user, cfg.CalendarID, windowStart, windowEnd)
	if err != nil {
		return nil, err
	}

	deleted := e.deleteOwned(ctx, user, cfg.CalendarID, existing, ownedPrefixes(drafts))

	created := 0
	for _, draft := range drafts {
		if _, err := e.gateway.CreateEvent(ctx, user, cfg.CalendarID, draft); err != nil {
			e.logger.Warn("create event failed, skipping", "function", key, "summary", draft.Summary, "error", err)
			continue
		}
		created++
	}

	e.finishRun(cfg, now)
	msg := fmt.Sprintf("created %d events, deleted %d", created, deleted)
	e.record(key, model.RunStatusSuccess, msg, created, deleted)
	return &Result{Success: true, EventsCreated: created, EventsDeleted: deleted, Message: msg}, nil
}

// deleteOwned removes every existing event whose summary carries one of this
// run's ownership prefixes. Individual failures are logged and skipped.
func (e *Executor) deleteOwned(ctx context.Context, user *model.User, calendarID string, existing []gcal.RemoteEvent, prefixes []string) int {
	deleted := 0
	for _, ev := range existing {
		if !hasAnyPrefix(ev.Summary, prefixes) {
			continue
		}
		if err := e.gateway.DeleteEvent(ctx, user, calendarID, ev.ID); err != nil {
			e.logger.Warn("delete event failed, skipping", "event_id", ev.ID, "summary", ev.Summary, "error", err)
			continue
		}
		deleted++
	}
	return deleted
}

func (e *Executor) finishRun(cfg *model.DataFunction, at time.Time) {
	if err := e.functions.TouchLastRun(cfg.Key, at); err != nil {
		e.logger.Error("update last run timestamp", "function", cfg.Key, "error", err)
	}
}

func (e *Executor) record(key, status, message string, created, deleted int) {
	rec, err := e.runs.Record(key, status, message, created, deleted)
	if err != nil {
		e.logger.Error("write run record", "function", key, "error", err)
		return
	}
	if e.notifier != nil {
		e.notifier.BroadcastRun(*rec)
	}
}

// ownedPrefixes collects the distinct non-empty ownership prefixes among
// this run's drafts.
func ownedPrefixes(drafts []feed.EventDraft) []string {
	seen := make(map[string]struct{})
	var prefixes []string
	for _, d := range drafts {
		if d.Prefix == "" {
			continue
		}
		if _, ok := seen[d.Prefix]; ok {
			continue
		}
		seen[d.Prefix] = struct{}{}
		prefixes = append(prefixes, d.Prefix)
	}
	return prefixes
}

func hasAnyPrefix(summary string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(summary, p) {
			return true
		}
	}
	return false
}

// deriveWindow computes the fetch window from draft start dates: the
// earliest and latest start, padded to full UTC day boundaries so an
// all-day event near midnight is never missed. With no dated drafts the
// window defaults to now through seven days out.
func deriveWindow(drafts []feed.EventDraft, now time.Time) (time.Time, time.Time) {
	var min, max time.Time
	for _, d := range drafts {
		if d.Start.IsZero() {
			continue
		}
		if min.IsZero() || d.Start.Before(min) {
			min = d.Start
		}
		if max.IsZero() || d.Start.After(max) {
			max = d.Start
		}
	}

	if min.IsZero() {
		start := now.UTC()
		return start, start.AddDate(0, 0, 7)
	}

	min = min.UTC()
	max = max.UTC()
	start := time.Date(min.Year(), min.Month(), min.Day(), 0, 0, 0, 0, time.UTC)
	end := time.Date(max.Year(), max.Month(), max.Day(), 23, 59, 59, 0, time.UTC)
	return start, end
}
