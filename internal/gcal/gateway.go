// Package gcal wraps all Google Calendar I/O: authenticated clients built
// from stored OAuth credentials, event reads in a time window across one or
// many calendars, and per-event writes.
package gcal

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/oauth2"

	"github.com/dukerupert/feedcal/internal/feed"
	"github.com/dukerupert/feedcal/internal/model"
)

// RemoteEvent is an event as it exists on the remote calendar service,
// tagged with its source calendar.
type RemoteEvent struct {
	ID            string    `json:"id"`
	Summary       string    `json:"summary"`
	Description   string    `json:"description"`
	Start         time.Time `json:"start"`
	End           time.Time `json:"end"`
	AllDay        bool      `json:"all_day"`
	Location      string    `json:"location"`
	HTMLLink      string    `json:"html_link"`
	CalendarID    string    `json:"calendar_id"`
	CalendarName  string    `json:"calendar_name"`
	CalendarColor string    `json:"calendar_color"`
}

// CalendarInfo describes one calendar visible to the principal.
type CalendarInfo struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Color      string `json:"color"`
	Primary    bool   `json:"primary"`
	Accessible bool   `json:"accessible"`
}

// MultiResult aggregates a concurrent multi-calendar fetch. A calendar that
// failed appears in Errors and as Accessible=false in Calendars; its
// failure never hides the other calendars' events.
type MultiResult struct {
	Events    []RemoteEvent     `json:"events"`
	Calendars []CalendarInfo    `json:"calendars"`
	Errors    map[string]string `json:"errors,omitempty"`
}

// CredentialError means the principal has no usable OAuth credential.
// Retrying cannot fix it; the user must reauthenticate with Google.
type CredentialError struct {
	UserID int64
	Reason string
}

func (e *CredentialError) Error() string {
	return fmt.Sprintf("google credential for user %d: %s", e.UserID, e.Reason)
}

// RemoteWriteError is a single failed create/update/delete call.
type RemoteWriteError struct {
	Op         string
	CalendarID string
	EventID    string
	Err        error
}

func (e *RemoteWriteError) Error() string {
	return fmt.Sprintf("%s event %q on calendar %q: %v", e.Op, e.EventID, e.CalendarID, e.Err)
}

func (e *RemoteWriteError) Unwrap() error { return e.Err }

// TokenStore persists refreshed OAuth credentials.
type TokenStore interface {
	UpdateGoogleTokens(id int64, accessToken, refreshToken string, expiry time.Time) error
}

// calendarAPI is the slice of the Google Calendar API the gateway uses.
// Tests substitute a fake.
type calendarAPI interface {
	listCalendars(ctx context.Context) ([]CalendarInfo, error)
	listEvents(ctx context.Context, calendarID string, start, end time.Time) ([]RemoteEvent, error)
	insertEvent(ctx context.Context, calendarID string, draft feed.EventDraft) (string, error)
	updateEvent(ctx context.Context, calendarID, eventID string, draft feed.EventDraft) error
	deleteEvent(ctx context.Context, calendarID, eventID string) error
}

// Gateway owns remote calendar access for all principals.
type Gateway struct {
	oauth  *oauth2.Config
	tokens TokenStore
	logger *slog.Logger
	newAPI func(ctx context.Context, ts oauth2.TokenSource) (calendarAPI, error)
}

func NewGateway(oauthCfg *oauth2.Config, tokens TokenStore, logger *slog.Logger) *Gateway {
	return &Gateway{
		oauth:  oauthCfg,
		tokens: tokens,
		logger: logger,
		newAPI: newGoogleAPI,
	}
}

type client struct {
	api    calendarAPI
	user   *model.User
	source oauth2.TokenSource
	gw     *Gateway
}

func (g *Gateway) clientFor(ctx context.Context, user *model.User) (*client, error) {
	if !user.HasGoogleCredential() {
		return nil, &CredentialError{UserID: user.ID, Reason: "no access token; reauthentication required"}
	}
	if user.GoogleRefreshToken == "" && user.GoogleTokenExpiry != nil && !user.GoogleTokenExpiry.After(time.Now()) {
		return nil, &CredentialError{UserID: user.ID, Reason: "access token expired with no refresh token; reauthentication required"}
	}

	tok := &oauth2.Token{
		AccessToken:  user.GoogleAccessToken,
		RefreshToken: user.GoogleRefreshToken,
	}
	if user.GoogleTokenExpiry != nil {
		tok.Expiry = *user.GoogleTokenExpiry
	}

	source := g.oauth.TokenSource(ctx, tok)
	api, err := g.newAPI(ctx, source)
	if err != nil {
		return nil, fmt.Errorf("create calendar client: %w", err)
	}

	return &client{api: api, user: user, source: source, gw: g}, nil
}

// persistTokens writes back any token the oauth transport refreshed during
// this client's calls. The store never overwrites a stored refresh token
// with an empty one.
func (c *client) persistTokens() {
	tok, err := c.source.Token()
	if err != nil {
		return
	}
	if tok.AccessToken == c.user.GoogleAccessToken && tok.RefreshToken == c.user.GoogleRefreshToken {
		return
	}
	if err := c.gw.tokens.UpdateGoogleTokens(c.user.ID, tok.AccessToken, tok.RefreshToken, tok.Expiry); err != nil {
		c.gw.logger.Error("persist refreshed google tokens", "user_id", c.user.ID, "error", err)
	}
}

// ListCalendars returns the calendars visible to the user.
func (g *Gateway) ListCalendars(ctx context.Context, user *model.User) ([]CalendarInfo, error) {
	c, err := g.clientFor(ctx, user)
	if err != nil {
		return nil, err
	}
	defer c.persistTokens()

	return c.api.listCalendars(ctx)
}

// ListEvents returns the events on one calendar inside [start, end],
// ascending by start time.
func (g *Gateway) ListEvents(ctx context.Context, user *model.User, calendarID string, start, end time.Time) ([]RemoteEvent, error) {
	c, err := g.clientFor(ctx, user)
	if err != nil {
		return nil, err
	}
	defer c.persistTokens()

	events, err := c.api.listEvents(ctx, calendarID, start, end)
	if err != nil {
		return nil, fmt.Errorf("list events on %q: %w", calendarID, err)
	}
	return events, nil
}

// ListEventsMulti fetches every requested calendar concurrently, tags events
// with their source calendar, then merges, sorts, and deduplicates. One
// failing calendar is reported in the result, not returned as an error.
func (g *Gateway) ListEventsMulti(ctx context.Context, user *model.User, calendarIDs []string, start, end time.Time) (*MultiResult, error) {
	c, err := g.clientFor(ctx, user)
	if err != nil {
		return nil, err
	}
	defer c.persistTokens()

	info := make(map[string]CalendarInfo)
	if calendars, err := c.api.listCalendars(ctx); err == nil {
		for _, cal := range calendars {
			info[cal.ID] = cal
		}
	} else {
		g.logger.Warn("list calendars for metadata", "error", err)
	}

	type branch struct {
		events []RemoteEvent
		err    error
	}
	branches := make([]branch, len(calendarIDs))

	var wg sync.WaitGroup
	for i, id := range calendarIDs {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			events, err := c.api.listEvents(ctx, id, start, end)
			branches[i] = branch{events: events, err: err}
		}(i, id)
	}
	wg.Wait()

	result := &MultiResult{Errors: make(map[string]string)}
	var failures []error

	for i, id := range calendarIDs {
		cal := info[id]
		cal.ID = id
		if cal.Name == "" {
			cal.Name = id
		}

		if branches[i].err != nil {
			cal.Accessible = false
			result.Errors[id] = branches[i].err.Error()
			failures = append(failures, fmt.Errorf("calendar %q: %w", id, branches[i].err))
			result.Calendars = append(result.Calendars, cal)
			continue
		}

		cal.Accessible = true
		result.Calendars = append(result.Calendars, cal)

		for _, ev := range branches[i].events {
			ev.CalendarID = id
			ev.CalendarName = cal.Name
			ev.CalendarColor = cal.Color
			result.Events = append(result.Events, ev)
		}
	}

	if combined := multierr.Combine(failures...); combined != nil {
		g.logger.Warn("some calendars failed to fetch", "error", combined)
	}

	result.Events = dedupEvents(result.Events)
	sort.SliceStable(result.Events, func(i, j int) bool {
		return result.Events[i].Start.Before(result.Events[j].Start)
	})
	if len(result.Errors) == 0 {
		result.Errors = nil
	}
	return result, nil
}

type dedupKey struct {
	id      string
	summary string
	start   time.Time
	end     time.Time
}

// dedupEvents drops later duplicates of an event visible through more than
// one calendar view. First occurrence wins.
func dedupEvents(events []RemoteEvent) []RemoteEvent {
	seen := make(map[dedupKey]struct{}, len(events))
	out := events[:0]
	for _, ev := range events {
		key := dedupKey{id: ev.ID, summary: ev.Summary, start: ev.Start, end: ev.End}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, ev)
	}
	return out
}

// CreateEvent materializes a draft on the calendar and returns the new
// event's id.
func (g *Gateway) CreateEvent(ctx context.Context, user *model.User, calendarID string, draft feed.EventDraft) (string, error) {
	c, err := g.clientFor(ctx, user)
	if err != nil {
		return "", err
	}
	defer c.persistTokens()

	id, err := c.api.insertEvent(ctx, calendarID, draft)
	if err != nil {
		return "", &RemoteWriteError{Op: "insert", CalendarID: calendarID, Err: err}
	}
	return id, nil
}

// UpdateEvent replaces an existing event's content with the draft's.
func (g *Gateway) UpdateEvent(ctx context.Context, user *model.User, calendarID, eventID string, draft feed.EventDraft) error {
	c, err := g.clientFor(ctx, user)
	if err != nil {
		return err
	}
	defer c.persistTokens()

	if err := c.api.updateEvent(ctx, calendarID, eventID, draft); err != nil {
		return &RemoteWriteError{Op: "update", CalendarID: calendarID, EventID: eventID, Err: err}
	}
	return nil
}

// DeleteEvent removes one event. Callers must not assume atomicity across a
// batch of deletes.
func (g *Gateway) DeleteEvent(ctx context.Context, user *model.User, calendarID, eventID string) error {
	c, err := g.clientFor(ctx, user)
	if err != nil {
		return err
	}
	defer c.persistTokens()

	if err := c.api.deleteEvent(ctx, calendarID, eventID); err != nil {
		return &RemoteWriteError{Op: "delete", CalendarID: calendarID, EventID: eventID, Err: err}
	}
	return nil
}
