// Package google implements calendar.Remote on the Google Calendar v3 API.
package google

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"github.com/ptssworkshopschedule/workshopbot/internal/calendar"
	"github.com/ptssworkshopschedule/workshopbot/pkg/errors"
	"github.com/ptssworkshopschedule/workshopbot/pkg/logger"
	"github.com/ptssworkshopschedule/workshopbot/pkg/metrics"
)

// Client talks to Google Calendar. A fresh API service is built per call
// from the caller's token, so the client itself holds no credential.
type Client struct {
	endpoint   string
	httpClient *http.Client
	timeout    time.Duration
	logger     *logger.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithEndpoint overrides the API base URL.
func WithEndpoint(endpoint string) Option {
	return func(c *Client) { c.endpoint = endpoint }
}

// WithHTTPClient sets the transport underneath the OAuth layer.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout bounds each API call. Zero disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New creates a Google Calendar client.
func New(opts ...Option) *Client {
	c := &Client{
		httpClient: http.DefaultClient,
		timeout:    30 * time.Second,
		logger:     logger.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) service(ctx context.Context, tok *oauth2.Token) (*gcal.Service, error) {
	if tok == nil {
		return nil, errors.ErrAuthUnavailable.WithContext(map[string]interface{}{
			"reason": "nil token",
		})
	}

	// oauth2.NewClient picks the base transport out of the context.
	baseCtx := context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	hc := oauth2.NewClient(baseCtx, oauth2.StaticTokenSource(tok))

	opts := []option.ClientOption{option.WithHTTPClient(hc)}
	if c.endpoint != "" {
		opts = append(opts, option.WithEndpoint(c.endpoint))
	}

	svc, err := gcal.NewService(ctx, opts...)
	if err != nil {
		return nil, errors.ErrCalendarRemote.WithError(err)
	}
	return svc, nil
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}

// ListEvents returns every event matching q, following pagination.
func (c *Client) ListEvents(ctx context.Context, tok *oauth2.Token, q calendar.Query) ([]calendar.Event, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	svc, err := c.service(ctx, tok)
	if err != nil {
		return nil, err
	}

	call := svc.Events.List(q.CalendarID).
		TimeMin(q.TimeMin.Format(calendar.BoundLayout)).
		TimeMax(q.TimeMax.Format(calendar.BoundLayout)).
		SingleEvents(q.SingleEvents)
	if q.TimeZone != "" {
		call = call.TimeZone(q.TimeZone)
	}
	if q.OrderBy != "" {
		call = call.OrderBy(q.OrderBy)
	}

	started := time.Now()
	var events []calendar.Event
	err = call.Pages(ctx, func(page *gcal.Events) error {
		for _, item := range page.Items {
			ev, convErr := fromAPI(item)
			if convErr != nil {
				c.logger.Warn("Skipping event with unreadable times",
					logger.String("event_id", item.Id),
					logger.Error(convErr))
				continue
			}
			events = append(events, ev)
		}
		return nil
	})
	elapsed := time.Since(started).Seconds()

	if err != nil {
		metrics.RecordCalendarRequest("list", "error", elapsed)
		return nil, errors.ErrCalendarRemote.WithError(err).WithContext(map[string]interface{}{
			"operation":   "list",
			"calendar_id": q.CalendarID,
		})
	}

	metrics.RecordCalendarRequest("list", "success", elapsed)
	c.logger.Debug("Listed calendar events",
		logger.String("calendar_id", q.CalendarID),
		logger.Int("count", len(events)))
	return events, nil
}

// InsertEvent creates ev and returns it as stored remotely.
func (c *Client) InsertEvent(ctx context.Context, tok *oauth2.Token, calendarID string, ev calendar.Event) (calendar.Event, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	svc, err := c.service(ctx, tok)
	if err != nil {
		return calendar.Event{}, err
	}

	started := time.Now()
	created, err := svc.Events.Insert(calendarID, toAPI(ev)).Context(ctx).Do()
	elapsed := time.Since(started).Seconds()
	if err != nil {
		metrics.RecordCalendarRequest("insert", "error", elapsed)
		return calendar.Event{}, errors.ErrCalendarRemote.WithError(err).WithContext(map[string]interface{}{
			"operation":   "insert",
			"calendar_id": calendarID,
		})
	}
	metrics.RecordCalendarRequest("insert", "success", elapsed)

	out, err := fromAPI(created)
	if err != nil {
		// The event exists remotely; keep what we sent.
		out = ev
		out.ID = created.Id
		out.HTMLLink = created.HtmlLink
	}
	return out, nil
}

func toAPI(ev calendar.Event) *gcal.Event {
	return &gcal.Event{
		Summary:     ev.Summary,
		Location:    ev.Location,
		Description: ev.Description,
		ColorId:     ev.ColorID,
		Start: &gcal.EventDateTime{
			DateTime: ev.Start.Format(calendar.DateTimeLayout),
			TimeZone: ev.TimeZone,
		},
		End: &gcal.EventDateTime{
			DateTime: ev.End.Format(calendar.DateTimeLayout),
			TimeZone: ev.TimeZone,
		},
	}
}

func fromAPI(item *gcal.Event) (calendar.Event, error) {
	ev := calendar.Event{
		ID:          item.Id,
		Summary:     item.Summary,
		Location:    item.Location,
		Description: item.Description,
		ColorID:     item.ColorId,
		HTMLLink:    item.HtmlLink,
	}

	if item.Start == nil || item.End == nil {
		return ev, fmt.Errorf("event %s has no start or end", item.Id)
	}
	if item.Start.TimeZone != "" {
		ev.TimeZone = item.Start.TimeZone
	}

	if item.Start.DateTime != "" {
		start, err := time.Parse(time.RFC3339, item.Start.DateTime)
		if err != nil {
			return ev, fmt.Errorf("parse start: %w", err)
		}
		end, err := time.Parse(time.RFC3339, item.End.DateTime)
		if err != nil {
			return ev, fmt.Errorf("parse end: %w", err)
		}
		ev.Start, ev.End, ev.StartRaw = start, end, item.Start.DateTime
		return ev, nil
	}

	start, err := time.Parse(calendar.DateLayout, item.Start.Date)
	if err != nil {
		return ev, fmt.Errorf("parse start date: %w", err)
	}
	end, err := time.Parse(calendar.DateLayout, item.End.Date)
	if err != nil {
		return ev, fmt.Errorf("parse end date: %w", err)
	}
	ev.Start, ev.End, ev.StartRaw, ev.AllDay = start, end, item.Start.Date, true
	return ev, nil
}
