package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"

	"github.com/dukerupert/feedcal/internal/database"
	"github.com/dukerupert/feedcal/internal/feed"
	"github.com/dukerupert/feedcal/internal/logging"
	"github.com/dukerupert/feedcal/internal/server"
	"github.com/dukerupert/feedcal/internal/store"
)

func main() {
	port := os.Getenv("FEEDCAL_PORT")
	if port == "" {
		port = "8080"
	}

	dbPath := os.Getenv("FEEDCAL_DB_PATH")
	if dbPath == "" {
		dbPath = "feedcal.db"
	}

	logger := logging.Setup(os.Getenv("FEEDCAL_LOG_LEVEL"))

	db, err := database.Open(dbPath)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	registry := buildRegistry(logger)

	oauthCfg := &oauth2.Config{
		ClientID:     os.Getenv("FEEDCAL_GOOGLE_CLIENT_ID"),
		ClientSecret: os.Getenv("FEEDCAL_GOOGLE_CLIENT_SECRET"),
		Endpoint:     google.Endpoint,
		RedirectURL:  os.Getenv("FEEDCAL_GOOGLE_REDIRECT_URL"),
		Scopes:       []string{calendar.CalendarScope},
	}

	if err := seedFunctions(db, registry, logger); err != nil {
		log.Fatalf("failed to seed data functions: %v", err)
	}

	srv := server.New(db, registry, oauthCfg, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := srv.Scheduler().Initialize(ctx); err != nil {
		log.Fatalf("failed to start scheduler: %v", err)
	}

	httpServer := &http.Server{
		Addr:        ":" + port,
		Handler:     srv.Router(),
		ReadTimeout: 5 * time.Second,
		// No write timeout: a manual trigger holds its response open
		// through retry backoff.
		IdleTimeout: 120 * time.Second,
	}

	go func() {
		fmt.Printf("Feedcal running at http://localhost:%s\n", port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	fmt.Println("\nShutting down...")
	srv.Scheduler().StopAll()
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("shutdown error: %v", err)
	}
}

func buildRegistry(logger *slog.Logger) *feed.Registry {
	lunchCfg := feed.LunchConfig{
		BaseURL:  os.Getenv("FEEDCAL_LUNCH_API_URL"),
		SchoolID: os.Getenv("FEEDCAL_LUNCH_SCHOOL_ID"),
	}
	noticeCfg := feed.NoticeConfig{
		FeedURL: os.Getenv("FEEDCAL_NOTICE_FEED_URL"),
	}

	return feed.NewRegistry(
		feed.NewLunchMenuSource(lunchCfg, logger.With("component", "lunch_source")),
		feed.NewNoticeSource(noticeCfg, logger.With("component", "notice_source")),
	)
}

// seedFunctions inserts a config row for any registered source that has
// none yet, using the source's declared defaults. Existing rows are left
// alone so operator edits survive restarts.
func seedFunctions(db *sql.DB, registry *feed.Registry, logger *slog.Logger) error {
	functions := store.NewDataFunctionStore(db)

	for _, key := range registry.Keys() {
		existing, err := functions.GetByKey(key)
		if err != nil {
			return err
		}
		if existing != nil {
			continue
		}

		meta := registry.Get(key).Meta()
		if _, err := functions.Create(meta.Key, meta.Name, meta.CalendarID, meta.CronExpr, meta.Enabled); err != nil {
			return err
		}
		logger.Info("seeded data function", "function", meta.Key, "cron", meta.CronExpr)
	}
	return nil
}
