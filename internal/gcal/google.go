package gcal

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"github.com/dukerupert/feedcal/internal/feed"
)

// maxEventResults caps a single window query, matching the remote API's
// documented page size.
const maxEventResults = 250

const dateOnly = "2006-01-02"

// googleAPI implements calendarAPI over the real Google Calendar service.
type googleAPI struct {
	svc *calendar.Service
}

func newGoogleAPI(ctx context.Context, ts oauth2.TokenSource) (calendarAPI, error) {
	svc, err := calendar.NewService(ctx, option.WithTokenSource(ts))
	if err != nil {
		return nil, fmt.Errorf("create calendar service: %w", err)
	}
	return &googleAPI{svc: svc}, nil
}

func (g *googleAPI) listCalendars(ctx context.Context) ([]CalendarInfo, error) {
	resp, err := g.svc.CalendarList.List().Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("calendar list: %w", err)
	}

	calendars := make([]CalendarInfo, 0, len(resp.Items))
	for _, item := range resp.Items {
		calendars = append(calendars, CalendarInfo{
			ID:         item.Id,
			Name:       item.Summary,
			Color:      item.BackgroundColor,
			Primary:    item.Primary,
			Accessible: true,
		})
	}
	return calendars, nil
}

func (g *googleAPI) listEvents(ctx context.Context, calendarID string, start, end time.Time) ([]RemoteEvent, error) {
	resp, err := g.svc.Events.List(calendarID).
		SingleEvents(true).
		OrderBy("startTime").
		TimeMin(start.Format(time.RFC3339)).
		TimeMax(end.Format(time.RFC3339)).
		MaxResults(maxEventResults).
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("events list: %w", err)
	}

	events := make([]RemoteEvent, 0, len(resp.Items))
	for _, item := range resp.Items {
		ev, err := fromGoogleEvent(item)
		if err != nil {
			// A single unparseable event should not hide the window.
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

func (g *googleAPI) insertEvent(ctx context.Context, calendarID string, draft feed.EventDraft) (string, error) {
	created, err := g.svc.Events.Insert(calendarID, toGoogleEvent(draft)).Context(ctx).Do()
	if err != nil {
		return "", err
	}
	return created.Id, nil
}

func (g *googleAPI) updateEvent(ctx context.Context, calendarID, eventID string, draft feed.EventDraft) error {
	_, err := g.svc.Events.Update(calendarID, eventID, toGoogleEvent(draft)).Context(ctx).Do()
	return err
}

func (g *googleAPI) deleteEvent(ctx context.Context, calendarID, eventID string) error {
	return g.svc.Events.Delete(calendarID, eventID).Context(ctx).Do()
}

// isAllDay reports whether a draft spans whole days (midnight to midnight).
func isAllDay(draft feed.EventDraft) bool {
	h, m, s := draft.Start.Clock()
	if h != 0 || m != 0 || s != 0 {
		return false
	}
	h, m, s = draft.End.Clock()
	return h == 0 && m == 0 && s == 0
}

func toGoogleEvent(draft feed.EventDraft) *calendar.Event {
	ev := &calendar.Event{
		Summary:     draft.Summary,
		Description: draft.Description,
	}
	if isAllDay(draft) {
		ev.Start = &calendar.EventDateTime{Date: draft.Start.Format(dateOnly)}
		ev.End = &calendar.EventDateTime{Date: draft.End.Format(dateOnly)}
	} else {
		ev.Start = &calendar.EventDateTime{DateTime: draft.Start.Format(time.RFC3339)}
		ev.End = &calendar.EventDateTime{DateTime: draft.End.Format(time.RFC3339)}
	}
	return ev
}

func fromGoogleEvent(item *calendar.Event) (RemoteEvent, error) {
	ev := RemoteEvent{
		ID:          item.Id,
		Summary:     item.Summary,
		Description: item.Description,
		Location:    item.Location,
		HTMLLink:    item.HtmlLink,
	}

	start, allDay, err := parseEventTime(item.Start)
	if err != nil {
		return RemoteEvent{}, fmt.Errorf("event %s start: %w", item.Id, err)
	}
	end, _, err := parseEventTime(item.End)
	if err != nil {
		return RemoteEvent{}, fmt.Errorf("event %s end: %w", item.Id, err)
	}

	ev.Start = start
	ev.End = end
	ev.AllDay = allDay
	return ev, nil
}

func parseEventTime(edt *calendar.EventDateTime) (time.Time, bool, error) {
	if edt == nil {
		return time.Time{}, false, fmt.Errorf("missing time")
	}
	if edt.Date != "" {
		t, err := time.ParseInLocation(dateOnly, edt.Date, time.UTC)
		return t, true, err
	}
	t, err := time.Parse(time.RFC3339, edt.DateTime)
	return t, false, err
}
