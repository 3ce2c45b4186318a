package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/robfig/cron/v3"

	"github.com/dukerupert/feedcal/internal/store"
)

// ScheduleNotifier lets the handler tell the scheduler that a function's
// cron entry needs to change.
type ScheduleNotifier interface {
	UpdateSchedule(key string) error
	Remove(key string)
}

type FunctionHandler struct {
	functions *store.DataFunctionStore
	scheduler ScheduleNotifier
	logger    *slog.Logger
}

func NewFunctionHandler(functions *store.DataFunctionStore, scheduler ScheduleNotifier, logger *slog.Logger) *FunctionHandler {
	return &FunctionHandler{functions: functions, scheduler: scheduler, logger: logger}
}

type functionRequest struct {
	Key        string `json:"key"`
	Name       string `json:"name"`
	CalendarID string `json:"calendar_id"`
	CronExpr   string `json:"cron_expr"`
	Enabled    bool   `json:"enabled"`
}

func (req *functionRequest) validate() string {
	if strings.TrimSpace(req.Name) == "" {
		return "name is required"
	}
	if req.CalendarID == "" {
		req.CalendarID = "primary"
	}
	if _, err := cron.ParseStandard(req.CronExpr); err != nil {
		return "invalid cron expression: " + err.Error()
	}
	return ""
}

func (h *FunctionHandler) List(w http.ResponseWriter, r *http.Request) {
	functions, err := h.functions.List()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to list data functions"})
		return
	}
	writeJSON(w, http.StatusOK, functions)
}

func (h *FunctionHandler) Get(w http.ResponseWriter, r *http.Request) {
	fn, err := h.functions.GetByKey(r.PathValue("key"))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to load data function"})
		return
	}
	if fn == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "data function not found"})
		return
	}
	writeJSON(w, http.StatusOK, fn)
}

func (h *FunctionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req functionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	if strings.TrimSpace(req.Key) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "key is required"})
		return
	}
	if msg := req.validate(); msg != "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": msg})
		return
	}

	existing, err := h.functions.GetByKey(req.Key)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to check existing function"})
		return
	}
	if existing != nil {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "a data function with this key already exists"})
		return
	}

	fn, err := h.functions.Create(req.Key, req.Name, req.CalendarID, req.CronExpr, req.Enabled)
	if err != nil {
		h.logger.Error("create data function", "key", req.Key, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to create data function"})
		return
	}

	if err := h.scheduler.UpdateSchedule(fn.Key); err != nil {
		h.logger.Error("schedule new function", "key", fn.Key, "error", err)
	}

	writeJSON(w, http.StatusCreated, fn)
}

func (h *FunctionHandler) Update(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")

	existing, err := h.functions.GetByKey(key)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to load data function"})
		return
	}
	if existing == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "data function not found"})
		return
	}

	var req functionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	if msg := req.validate(); msg != "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": msg})
		return
	}

	fn, err := h.functions.Update(key, req.Name, req.CalendarID, req.CronExpr, req.Enabled)
	if err != nil {
		h.logger.Error("update data function", "key", key, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to update data function"})
		return
	}

	if err := h.scheduler.UpdateSchedule(key); err != nil {
		h.logger.Error("reschedule function", "key", key, "error", err)
	}

	writeJSON(w, http.StatusOK, fn)
}

func (h *FunctionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")

	existing, err := h.functions.GetByKey(key)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to load data function"})
		return
	}
	if existing == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "data function not found"})
		return
	}

	if err := h.functions.Delete(key); err != nil {
		h.logger.Error("delete data function", "key", key, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to delete data function"})
		return
	}

	h.scheduler.Remove(key)
	w.WriteHeader(http.StatusNoContent)
}
