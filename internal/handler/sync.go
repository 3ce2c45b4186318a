package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/dukerupert/feedcal/internal/gcal"
	"github.com/dukerupert/feedcal/internal/model"
	"github.com/dukerupert/feedcal/internal/store"
	"github.com/dukerupert/feedcal/internal/syncer"
)

const (
	defaultLogLimit = 20
	maxLogLimit     = 200
)

// Runner executes one retried sync run on behalf of a manual trigger.
type Runner interface {
	Run(ctx context.Context, key string, user *model.User) (*syncer.Result, error)
}

// CalendarLister exposes the calendar picker for the admin UI.
type CalendarLister interface {
	ListCalendars(ctx context.Context, user *model.User) ([]gcal.CalendarInfo, error)
}

type SyncHandler struct {
	runner    Runner
	runs      *store.RunLogStore
	users     *store.UserStore
	calendars CalendarLister
	logger    *slog.Logger
}

func NewSyncHandler(runner Runner, runs *store.RunLogStore, users *store.UserStore, calendars CalendarLister, logger *slog.Logger) *SyncHandler {
	return &SyncHandler{runner: runner, runs: runs, users: users, calendars: calendars, logger: logger}
}

// Trigger runs one data function synchronously and reports the outcome.
// The response can take minutes when the run goes through retry backoff;
// impatient callers need their own client-side timeout.
func (h *SyncHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")

	admin, err := h.users.FirstAdmin()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to resolve admin user"})
		return
	}
	if admin == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "no admin user exists to run syncs as"})
		return
	}

	res, err := h.runner.Run(r.Context(), key, admin)
	if err != nil {
		var cfgErr *syncer.ConfigError
		if errors.As(err, &cfgErr) {
			writeJSON(w, http.StatusNotFound, map[string]any{"success": false, "message": cfgErr.Error()})
			return
		}
		h.logger.Error("manual trigger failed", "function", key, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"success": false, "message": res.Message})
		return
	}

	writeJSON(w, http.StatusOK, res)
}

// Logs returns the most recent run records for a function, newest first.
func (h *SyncHandler) Logs(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")

	limit := defaultLogLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a positive integer"})
			return
		}
		limit = min(n, maxLogLimit)
	}

	records, err := h.runs.Recent(key, limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to list run records"})
		return
	}
	if records == nil {
		records = []model.RunRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

// PurgeLogs deletes run records older than the requested number of days.
func (h *SyncHandler) PurgeLogs(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Days int `json:"days"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	if req.Days < 1 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "days must be at least 1"})
		return
	}

	removed, err := h.runs.PurgeOlderThan(req.Days)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to purge run records"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"removed": removed})
}

// Calendars lists the calendars visible to the admin's Google account, for
// the target-calendar picker.
func (h *SyncHandler) Calendars(w http.ResponseWriter, r *http.Request) {
	admin, err := h.users.FirstAdmin()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to resolve admin user"})
		return
	}
	if admin == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "no admin user exists"})
		return
	}

	calendars, err := h.calendars.ListCalendars(r.Context(), admin)
	if err != nil {
		var credErr *gcal.CredentialError
		if errors.As(err, &credErr) {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": credErr.Error()})
			return
		}
		h.logger.Error("list calendars", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to list calendars"})
		return
	}
	writeJSON(w, http.StatusOK, calendars)
}
