package server

import (
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"github.com/dukerupert/feedcal/internal/feed"
	"github.com/dukerupert/feedcal/internal/gcal"
	"github.com/dukerupert/feedcal/internal/handler"
	"github.com/dukerupert/feedcal/internal/middleware"
	"github.com/dukerupert/feedcal/internal/scheduler"
	"github.com/dukerupert/feedcal/internal/store"
	"github.com/dukerupert/feedcal/internal/syncer"
	ws "github.com/dukerupert/feedcal/internal/websocket"
)

type Server struct {
	db          *sql.DB
	hub         *ws.Hub
	syncH       *handler.SyncHandler
	functionH   *handler.FunctionHandler
	scheduler   *scheduler.Scheduler
	executor    *syncer.Executor
	rateLimiter *middleware.RateLimiter
	logger      *slog.Logger
}

func New(db *sql.DB, registry *feed.Registry, oauthCfg *oauth2.Config, logger *slog.Logger) *Server {
	hub := ws.NewHub(logger.With("component", "websocket"))

	userStore := store.NewUserStore(db)
	functionStore := store.NewDataFunctionStore(db)
	runStore := store.NewRunLogStore(db)

	gateway := gcal.NewGateway(oauthCfg, userStore, logger.With("component", "gcal"))
	executor := syncer.NewExecutor(functionStore, runStore, registry, gateway, hub, logger.With("component", "syncer"))
	sched := scheduler.New(functionStore, userStore, executor, logger.With("component", "scheduler"))

	return &Server{
		db:          db,
		hub:         hub,
		syncH:       handler.NewSyncHandler(executor, runStore, userStore, gateway, logger.With("component", "sync_handler")),
		functionH:   handler.NewFunctionHandler(functionStore, sched, logger.With("component", "function_handler")),
		scheduler:   sched,
		executor:    executor,
		rateLimiter: middleware.NewRateLimiter(),
		logger:      logger,
	}
}

// Scheduler returns the cron scheduler so main can start and stop it.
func (s *Server) Scheduler() *scheduler.Scheduler {
	return s.scheduler
}

// RateLimiter returns the rate limiter for cleanup tasks.
func (s *Server) RateLimiter() *middleware.RateLimiter {
	return s.rateLimiter
}

func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.healthHandler)

	// Manual triggers are rate limited; a stuck upstream plus an impatient
	// operator should not pile up concurrent retry loops.
	mux.HandleFunc("POST /api/functions/{key}/trigger", s.rateLimitedHandler(s.syncH.Trigger))
	mux.HandleFunc("GET /api/functions/{key}/logs", s.syncH.Logs)
	mux.HandleFunc("POST /api/logs/purge", s.syncH.PurgeLogs)
	mux.HandleFunc("GET /api/calendars", s.syncH.Calendars)

	mux.HandleFunc("GET /api/functions", s.functionH.List)
	mux.HandleFunc("POST /api/functions", s.functionH.Create)
	mux.HandleFunc("GET /api/functions/{key}", s.functionH.Get)
	mux.HandleFunc("PUT /api/functions/{key}", s.functionH.Update)
	mux.HandleFunc("DELETE /api/functions/{key}", s.functionH.Delete)

	mux.HandleFunc("GET /ws", ws.HandleWebSocket(s.hub))

	return middleware.RequestLogger(s.logger.With("component", "http"))(mux)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) rateLimitedHandler(h http.HandlerFunc) http.HandlerFunc {
	keyFunc := func(r *http.Request) string {
		return middleware.RealIP(r)
	}
	rl := middleware.RateLimit(s.rateLimiter, keyFunc, 10, time.Minute)
	return func(w http.ResponseWriter, r *http.Request) {
		rl(http.HandlerFunc(h)).ServeHTTP(w, r)
	}
}
