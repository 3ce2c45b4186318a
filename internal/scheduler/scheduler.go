// Package scheduler maintains one live cron trigger per enabled data
// function and fires the sync executor as the designated admin identity.
package scheduler

import (
	"context"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/dukerupert/feedcal/internal/model"
	"github.com/dukerupert/feedcal/internal/store"
	"github.com/dukerupert/feedcal/internal/syncer"
)

// Runner executes one retried sync run.
type Runner interface {
	Run(ctx context.Context, key string, user *model.User) (*syncer.Result, error)
}

// Scheduler maps data function keys to active cron entries. Each fire runs
// on its own goroutine, so a run stuck in retry backoff never blocks other
// functions' triggers.
type Scheduler struct {
	mu        sync.Mutex
	cron      *cron.Cron
	entries   map[string]cron.EntryID
	functions *store.DataFunctionStore
	users     *store.UserStore
	runner    Runner
	logger    *slog.Logger
	runAs     *model.User
	baseCtx   context.Context
}

func New(functions *store.DataFunctionStore, users *store.UserStore, runner Runner, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		cron:      cron.New(),
		entries:   make(map[string]cron.EntryID),
		functions: functions,
		users:     users,
		runner:    runner,
		logger:    logger,
		baseCtx:   context.Background(),
	}
}

// Initialize resolves the admin identity scheduled runs execute as, loads
// every enabled function, and starts the cron loop. With no admin on file
// nothing is scheduled; functions stay reachable through manual triggers
// and get scheduled once UpdateSchedule is called after an admin exists.
func (s *Scheduler) Initialize(ctx context.Context) error {
	s.mu.Lock()
	s.baseCtx = ctx
	s.mu.Unlock()

	admin, err := s.users.FirstAdmin()
	if err != nil {
		return err
	}
	if admin == nil {
		s.logger.Warn("no admin user exists; scheduled syncs disabled until one is created")
		s.cron.Start()
		return nil
	}

	s.mu.Lock()
	s.runAs = admin
	s.mu.Unlock()

	functions, err := s.functions.ListEnabled()
	if err != nil {
		return err
	}
	for i := range functions {
		s.Schedule(&functions[i])
	}

	s.cron.Start()
	s.logger.Info("scheduler started", "scheduled", len(s.entries), "run_as", admin.Email)
	return nil
}

// Schedule registers (or replaces) the trigger for one function. An invalid
// cron expression is logged and skipped, never fatal.
func (s *Scheduler) Schedule(fn *model.DataFunction) {
	if _, err := cron.ParseStandard(fn.CronExpr); err != nil {
		s.logger.Error("invalid cron expression, skipping schedule", "function", fn.Key, "cron", fn.CronExpr, "error", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.entries[fn.Key]; ok {
		s.cron.Remove(id)
		delete(s.entries, fn.Key)
	}

	key := fn.Key
	id, err := s.cron.AddFunc(fn.CronExpr, func() { s.fire(key) })
	if err != nil {
		s.logger.Error("add cron entry", "function", key, "error", err)
		return
	}
	s.entries[key] = id
	s.logger.Info("scheduled data function", "function", key, "cron", fn.CronExpr)
}

func (s *Scheduler) fire(key string) {
	s.mu.Lock()
	user := s.runAs
	ctx := s.baseCtx
	s.mu.Unlock()

	if user == nil {
		// An admin may have appeared since startup.
		admin, err := s.users.FirstAdmin()
		if err != nil || admin == nil {
			s.logger.Warn("skipping scheduled run, no admin user", "function", key, "error", err)
			return
		}
		s.mu.Lock()
		s.runAs = admin
		s.mu.Unlock()
		user = admin
	}

	s.logger.Info("cron trigger fired", "function", key)
	res, err := s.runner.Run(ctx, key, user)
	if err != nil {
		s.logger.Error("scheduled run failed", "function", key, "error", err)
		return
	}
	s.logger.Info("scheduled run finished", "function", key,
		"created", res.EventsCreated, "deleted", res.EventsDeleted)
}

// UpdateSchedule reloads one function's config and reschedules or removes
// its trigger accordingly. Called after any config edit.
func (s *Scheduler) UpdateSchedule(key string) error {
	fn, err := s.functions.GetByKey(key)
	if err != nil {
		return err
	}
	if fn == nil || !fn.Enabled {
		s.Remove(key)
		return nil
	}
	s.Schedule(fn)
	return nil
}

// Remove stops and discards the trigger for key. No-op if absent.
func (s *Scheduler) Remove(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.entries[key]; ok {
		s.cron.Remove(id)
		delete(s.entries, key)
		s.logger.Info("unscheduled data function", "function", key)
	}
}

// StopAll stops the cron loop and waits for in-flight jobs to return.
func (s *Scheduler) StopAll() {
	<-s.cron.Stop().Done()
}

// ScheduledKeys returns the keys with an active trigger, for status surfaces.
func (s *Scheduler) ScheduledKeys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make([]string, 0, len(s.entries))
	for k := range s.entries {
		keys = append(keys, k)
	}
	return keys
}
