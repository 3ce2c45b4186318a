package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// LunchPrefix marks lunch menu events on the target calendar.
const LunchPrefix = "🍴 "

// LunchConfig holds the school lunch API settings.
type LunchConfig struct {
	BaseURL  string
	SchoolID string
}

// LunchMenuSource pulls the school lunch menu API and produces one all-day
// event per menu day.
type LunchMenuSource struct {
	config LunchConfig
	client *http.Client
	logger *slog.Logger
}

func NewLunchMenuSource(cfg LunchConfig, logger *slog.Logger) *LunchMenuSource {
	return &LunchMenuSource{
		config: cfg,
		client: &http.Client{Timeout: fetchTimeout},
		logger: logger,
	}
}

func (s *LunchMenuSource) Meta() Meta {
	return Meta{
		Key:        "school-lunch",
		Name:       "School Lunch Menu",
		CalendarID: "primary",
		CronExpr:   "0 6 * * 1-5",
		Enabled:    true,
	}
}

func (s *LunchMenuSource) Fetch(ctx context.Context) ([]byte, error) {
	url := fmt.Sprintf("%s/api/menus?school=%s", s.config.BaseURL, s.config.SchoolID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &FetchError{Source: s.Meta().Key, Kind: FetchKindConnect, Err: err}
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, classifyFetchError(s.Meta().Key, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &FetchError{Source: s.Meta().Key, Kind: FetchKindStatus, Status: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classifyFetchError(s.Meta().Key, err)
	}
	return body, nil
}

type lunchResponse struct {
	Menu struct {
		Days []struct {
			Date  string `json:"date"`
			Items []struct {
				Name     string `json:"name"`
				Category string `json:"category"`
			} `json:"items"`
		} `json:"days"`
	} `json:"menu"`
}

// Parse converts the menu payload into one draft per day. A malformed day
// is skipped with a warning; the rest of the menu still syncs.
func (s *LunchMenuSource) Parse(raw []byte) ([]EventDraft, error) {
	var resp lunchResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, &ParseError{Source: s.Meta().Key, Err: err}
	}

	var drafts []EventDraft
	for _, day := range resp.Menu.Days {
		date, err := time.ParseInLocation("2006-01-02", day.Date, time.UTC)
		if err != nil {
			s.logger.Warn("skipping menu day with bad date", "date", day.Date, "error", err)
			continue
		}
		if len(day.Items) == 0 {
			s.logger.Warn("skipping menu day with no items", "date", day.Date)
			continue
		}

		names := make([]string, 0, len(day.Items))
		for _, item := range day.Items {
			if item.Name == "" {
				continue
			}
			names = append(names, item.Name)
		}
		if len(names) == 0 {
			s.logger.Warn("skipping menu day with empty item names", "date", day.Date)
			continue
		}

		drafts = append(drafts, EventDraft{
			Summary:     LunchPrefix + "School Lunch",
			Description: strings.Join(names, "\n"),
			Start:       date,
			End:         date.AddDate(0, 0, 1),
			Prefix:      LunchPrefix,
		})
	}
	return drafts, nil
}
