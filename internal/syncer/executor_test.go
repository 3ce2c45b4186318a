package syncer

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/dukerupert/feedcal/internal/database"
	"github.com/dukerupert/feedcal/internal/feed"
	"github.com/dukerupert/feedcal/internal/gcal"
	"github.com/dukerupert/feedcal/internal/model"
	"github.com/dukerupert/feedcal/internal/store"
)

type stubSource struct {
	key      string
	drafts   []feed.EventDraft
	fetchErr error
	parseErr error
	fetches  int
}

func (s *stubSource) Fetch(ctx context.Context) ([]byte, error) {
	s.fetches++
	if s.fetchErr != nil {
		return nil, s.fetchErr
	}
	return []byte(`{}`), nil
}

func (s *stubSource) Parse(raw []byte) ([]feed.EventDraft, error) {
	return s.drafts, s.parseErr
}

func (s *stubSource) Meta() feed.Meta {
	return feed.Meta{Key: s.key, Name: s.key, CalendarID: "primary", CronExpr: "0 6 * * *", Enabled: true}
}

type fakeGateway struct {
	existing  []gcal.RemoteEvent
	listErr   error
	listCalls int
	created   []feed.EventDraft
	deleted   []string
	createErr error
	deleteErr map[string]error
}

func (g *fakeGateway) ListEvents(ctx context.Context, user *model.User, calendarID string, start, end time.Time) ([]gcal.RemoteEvent, error) {
	g.listCalls++
	if g.listErr != nil {
		return nil, g.listErr
	}
	return g.existing, nil
}

func (g *fakeGateway) CreateEvent(ctx context.Context, user *model.User, calendarID string, draft feed.EventDraft) (string, error) {
	if g.createErr != nil {
		return "", g.createErr
	}
	g.created = append(g.created, draft)
	return "created-id", nil
}

func (g *fakeGateway) DeleteEvent(ctx context.Context, user *model.User, calendarID, eventID string) error {
	if err := g.deleteErr[eventID]; err != nil {
		return err
	}
	g.deleted = append(g.deleted, eventID)
	return nil
}

type fakeNotifier struct {
	records []model.RunRecord
}

func (n *fakeNotifier) BroadcastRun(rec model.RunRecord) {
	n.records = append(n.records, rec)
}

type executorFixture struct {
	executor  *Executor
	functions *store.DataFunctionStore
	runs      *store.RunLogStore
	gateway   *fakeGateway
	notifier  *fakeNotifier
	source    *stubSource
	user      *model.User
}

// setupExecutor wires an executor over an in-memory database with a zeroed
// backoff table so retry tests finish instantly.
func setupExecutor(t *testing.T, src *stubSource) *executorFixture {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	functions := store.NewDataFunctionStore(db)
	runs := store.NewRunLogStore(db)
	gateway := &fakeGateway{}
	notifier := &fakeNotifier{}

	ex := NewExecutor(functions, runs, feed.NewRegistry(src), gateway, notifier, slog.Default())
	ex.backoff = []time.Duration{0, 0, 0}

	return &executorFixture{
		executor:  ex,
		functions: functions,
		runs:      runs,
		gateway:   gateway,
		notifier:  notifier,
		source:    src,
		user:      &model.User{ID: 1, Email: "admin@example.com", GoogleAccessToken: "tok"},
	}
}

func lunchDraft(date time.Time, summary string) feed.EventDraft {
	return feed.EventDraft{
		Summary: "🍴 " + summary,
		Start:   date,
		End:     date.AddDate(0, 0, 1),
		Prefix:  "🍴 ",
	}
}

func TestRunSuccess(t *testing.T) {
	monday := time.Date(2026, 2, 2, 0, 0, 0, 0, time.UTC)
	src := &stubSource{
		key: "school-lunch",
		drafts: []feed.EventDraft{
			lunchDraft(monday, "School Lunch"),
			lunchDraft(monday.AddDate(0, 0, 1), "School Lunch"),
		},
	}
	f := setupExecutor(t, src)
	f.functions.Create("school-lunch", "Lunch", "primary", "0 6 * * 1-5", true)

	// One stale lunch event to replace; an unprefixed event and another
	// function's prefixed event must both survive.
	f.gateway.existing = []gcal.RemoteEvent{
		{ID: "stale", Summary: "🍴 School Lunch", Start: monday},
		{ID: "dentist", Summary: "Dentist Appointment", Start: monday},
		{ID: "notice", Summary: "📣 Early Dismissal", Start: monday},
	}

	res, err := f.executor.Run(context.Background(), "school-lunch", f.user)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !res.Success {
		t.Fatalf("expected success, got %+v", res)
	}
	if res.EventsCreated != 2 || res.EventsDeleted != 1 {
		t.Errorf("counts = %d/%d, want 2/1", res.EventsCreated, res.EventsDeleted)
	}

	if len(f.gateway.deleted) != 1 || f.gateway.deleted[0] != "stale" {
		t.Errorf("deleted = %v, want only the stale lunch event", f.gateway.deleted)
	}
	if len(f.gateway.created) != 2 {
		t.Errorf("created %d events, want 2", len(f.gateway.created))
	}

	fn, _ := f.functions.GetByKey("school-lunch")
	if fn.LastRunAt == nil {
		t.Error("expected last_run_at to be stamped")
	}

	records, _ := f.runs.Recent("school-lunch", 10)
	if len(records) != 1 {
		t.Fatalf("expected 1 run record, got %d", len(records))
	}
	if records[0].Status != model.RunStatusSuccess {
		t.Errorf("status = %q, want success", records[0].Status)
	}
	if len(f.notifier.records) != 1 {
		t.Errorf("expected 1 broadcast, got %d", len(f.notifier.records))
	}
}

func TestRunRetriesUntilExhausted(t *testing.T) {
	src := &stubSource{
		key:      "school-lunch",
		fetchErr: &feed.FetchError{Source: "school-lunch", Kind: feed.FetchKindStatus, Status: 503},
	}
	f := setupExecutor(t, src)
	f.functions.Create("school-lunch", "Lunch", "primary", "0 6 * * 1-5", true)

	res, err := f.executor.Run(context.Background(), "school-lunch", f.user)
	if err == nil {
		t.Fatal("expected error after exhausted retries")
	}
	if res.Success {
		t.Error("expected failure result")
	}

	// Initial attempt plus one retry per backoff slot.
	if src.fetches != 4 {
		t.Errorf("fetch attempts = %d, want 4", src.fetches)
	}

	records, _ := f.runs.Recent("school-lunch", 10)
	if len(records) != 1 {
		t.Fatalf("expected exactly 1 run record, got %d", len(records))
	}
	if records[0].Status != model.RunStatusError {
		t.Errorf("status = %q, want error", records[0].Status)
	}
}

func TestRunUnknownFunction(t *testing.T) {
	src := &stubSource{key: "school-lunch"}
	f := setupExecutor(t, src)

	_, err := f.executor.Run(context.Background(), "nope", f.user)
	if err == nil {
		t.Fatal("expected error for unknown key")
	}
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigError, got %T", err)
	}

	// Config errors neither retry nor log a run.
	if src.fetches != 0 {
		t.Errorf("fetch attempts = %d, want 0", src.fetches)
	}
	records, _ := f.runs.Recent("nope", 10)
	if len(records) != 0 {
		t.Errorf("expected no run records, got %d", len(records))
	}
}

func TestRunDisabledFunction(t *testing.T) {
	src := &stubSource{key: "school-lunch"}
	f := setupExecutor(t, src)
	f.functions.Create("school-lunch", "Lunch", "primary", "0 6 * * 1-5", false)

	_, err := f.executor.Run(context.Background(), "school-lunch", f.user)
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigError for disabled function, got %v", err)
	}
	if src.fetches != 0 {
		t.Errorf("fetch attempts = %d, want 0", src.fetches)
	}
}

func TestRunCredentialErrorNotRetried(t *testing.T) {
	monday := time.Date(2026, 2, 2, 0, 0, 0, 0, time.UTC)
	src := &stubSource{key: "school-lunch", drafts: []feed.EventDraft{lunchDraft(monday, "School Lunch")}}
	f := setupExecutor(t, src)
	f.functions.Create("school-lunch", "Lunch", "primary", "0 6 * * 1-5", true)
	f.gateway.listErr = &gcal.CredentialError{UserID: 1, Reason: "no access token"}

	_, err := f.executor.Run(context.Background(), "school-lunch", f.user)
	if err == nil {
		t.Fatal("expected credential error")
	}
	var credErr *gcal.CredentialError
	if !errors.As(err, &credErr) {
		t.Fatalf("expected CredentialError, got %T", err)
	}
	if src.fetches != 1 {
		t.Errorf("fetch attempts = %d, want 1", src.fetches)
	}

	records, _ := f.runs.Recent("school-lunch", 10)
	if len(records) != 1 || records[0].Status != model.RunStatusError {
		t.Errorf("expected one error record, got %v", records)
	}
}

func TestRunEmptyParseIsNoOp(t *testing.T) {
	src := &stubSource{key: "school-lunch", drafts: nil}
	f := setupExecutor(t, src)
	f.functions.Create("school-lunch", "Lunch", "primary", "0 6 * * 1-5", true)

	res, err := f.executor.Run(context.Background(), "school-lunch", f.user)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !res.Success {
		t.Error("expected success no-op")
	}
	if f.gateway.listCalls != 0 || len(f.gateway.created) != 0 || len(f.gateway.deleted) != 0 {
		t.Error("expected no calendar calls for an empty parse")
	}

	fn, _ := f.functions.GetByKey("school-lunch")
	if fn.LastRunAt == nil {
		t.Error("expected last_run_at stamped even on no-op")
	}
}

func TestRunProceedsOnPartialParse(t *testing.T) {
	monday := time.Date(2026, 2, 2, 0, 0, 0, 0, time.UTC)
	src := &stubSource{
		key:      "school-lunch",
		drafts:   []feed.EventDraft{lunchDraft(monday, "School Lunch")},
		parseErr: &feed.ParseError{Source: "school-lunch", Err: errors.New("trailing garbage")},
	}
	f := setupExecutor(t, src)
	f.functions.Create("school-lunch", "Lunch", "primary", "0 6 * * 1-5", true)

	res, err := f.executor.Run(context.Background(), "school-lunch", f.user)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !res.Success {
		t.Fatalf("expected success with the drafts that parsed, got %+v", res)
	}
	if res.EventsCreated != 1 {
		t.Errorf("created = %d, want 1", res.EventsCreated)
	}
	if src.fetches != 1 {
		t.Errorf("fetch attempts = %d, want 1 (parse trouble is not retried)", src.fetches)
	}
}

func TestRunSkipsFailingDeletes(t *testing.T) {
	monday := time.Date(2026, 2, 2, 0, 0, 0, 0, time.UTC)
	src := &stubSource{key: "school-lunch", drafts: []feed.EventDraft{lunchDraft(monday, "School Lunch")}}
	f := setupExecutor(t, src)
	f.functions.Create("school-lunch", "Lunch", "primary", "0 6 * * 1-5", true)

	f.gateway.existing = []gcal.RemoteEvent{
		{ID: "sticky", Summary: "🍴 School Lunch", Start: monday},
		{ID: "stale", Summary: "🍴 School Lunch", Start: monday},
	}
	f.gateway.deleteErr = map[string]error{"sticky": errors.New("gone already")}

	res, err := f.executor.Run(context.Background(), "school-lunch", f.user)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.EventsDeleted != 1 {
		t.Errorf("deleted = %d, want 1 (failing delete skipped)", res.EventsDeleted)
	}
	if res.EventsCreated != 1 {
		t.Errorf("created = %d, want 1", res.EventsCreated)
	}
}

func TestDeriveWindow(t *testing.T) {
	now := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)

	drafts := []feed.EventDraft{
		{Start: time.Date(2025, 11, 5, 0, 0, 0, 0, time.UTC)},
		{Start: time.Date(2025, 11, 3, 0, 0, 0, 0, time.UTC)},
		{Start: time.Date(2025, 11, 7, 0, 0, 0, 0, time.UTC)},
	}

	start, end := deriveWindow(drafts, now)
	wantStart := time.Date(2025, 11, 3, 0, 0, 0, 0, time.UTC)
	wantEnd := time.Date(2025, 11, 7, 23, 59, 59, 0, time.UTC)
	if !start.Equal(wantStart) {
		t.Errorf("start = %v, want %v", start, wantStart)
	}
	if !end.Equal(wantEnd) {
		t.Errorf("end = %v, want %v", end, wantEnd)
	}
}

func TestDeriveWindowNoDates(t *testing.T) {
	now := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)

	start, end := deriveWindow(nil, now)
	if !start.Equal(now) {
		t.Errorf("start = %v, want now", start)
	}
	if !end.Equal(now.AddDate(0, 0, 7)) {
		t.Errorf("end = %v, want now+7d", end)
	}
}

func TestRunIdempotent(t *testing.T) {
	monday := time.Date(2026, 2, 2, 0, 0, 0, 0, time.UTC)
	src := &stubSource{key: "school-lunch", drafts: []feed.EventDraft{lunchDraft(monday, "School Lunch")}}
	f := setupExecutor(t, src)
	f.functions.Create("school-lunch", "Lunch", "primary", "0 6 * * 1-5", true)

	if _, err := f.executor.Run(context.Background(), "school-lunch", f.user); err != nil {
		t.Fatalf("first run: %v", err)
	}

	// Second run sees the first run's output as existing state.
	f.gateway.existing = []gcal.RemoteEvent{
		{ID: "from-first-run", Summary: f.gateway.created[0].Summary, Start: monday},
	}
	f.gateway.created = nil
	f.gateway.deleted = nil

	res, err := f.executor.Run(context.Background(), "school-lunch", f.user)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if res.EventsDeleted != 1 || res.EventsCreated != 1 {
		t.Errorf("counts = %d/%d, want 1/1 (replace own output)", res.EventsCreated, res.EventsDeleted)
	}
}
