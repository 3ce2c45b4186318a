package feed

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// NoticePrefix marks district notice events on the target calendar.
const NoticePrefix = "📣 "

// NoticeConfig holds the district notice feed settings.
type NoticeConfig struct {
	FeedURL string
}

// NoticeSource pulls the school district's notice feed (closures, early
// dismissals, special events) and produces one all-day event per notice.
type NoticeSource struct {
	config NoticeConfig
	client *http.Client
	logger *slog.Logger
}

func NewNoticeSource(cfg NoticeConfig, logger *slog.Logger) *NoticeSource {
	return &NoticeSource{
		config: cfg,
		client: &http.Client{Timeout: fetchTimeout},
		logger: logger,
	}
}

func (s *NoticeSource) Meta() Meta {
	return Meta{
		Key:        "district-notices",
		Name:       "District Notices",
		CalendarID: "primary",
		CronExpr:   "30 6 * * *",
		Enabled:    true,
	}
}

func (s *NoticeSource) Fetch(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.config.FeedURL, nil)
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

type noticeResponse struct {
	Notices []struct {
		Title string `json:"title"`
		Body  string `json:"body"`
		Date  string `json:"date"`
	} `json:"notices"`
}

func (s *NoticeSource) Parse(raw []byte) ([]EventDraft, error) {
	var resp noticeResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, &ParseError{Source: s.Meta().Key, Err: err}
	}

	var drafts []EventDraft
	for _, n := range resp.Notices {
		if n.Title == "" {
			s.logger.Warn("skipping notice without title", "date", n.Date)
			continue
		}
		date, err := time.ParseInLocation("2006-01-02", n.Date, time.UTC)
		if err != nil {
			s.logger.Warn("skipping notice with bad date", "title", n.Title, "date", n.Date, "error", err)
			continue
		}

		drafts = append(drafts, EventDraft{
			Summary:     NoticePrefix + n.Title,
			Description: n.Body,
			Start:       date,
			End:         date.AddDate(0, 0, 1),
			Prefix:      NoticePrefix,
		})
	}
	return drafts, nil
}
