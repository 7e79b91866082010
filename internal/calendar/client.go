// Package calendar talks to the external calendar service that holds lesson events.
package calendar

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// ErrNotFound is returned when the calendar has no event with the requested id.
var ErrNotFound = errors.New("calendar event not found")

// Event is a calendar entry. Notes carry the student's phone, name and lesson type as labeled lines.
type Event struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	Notes      string    `json:"notes"`
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
	TeacherRef string    `json:"teacherRef,omitempty"`
}

// Client calls the calendar service.
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

// New creates a calendar client. Listing a quarter of events can be slow, hence the generous timeout.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		HTTP:    &http.Client{Timeout: 30 * time.Second},
	}
}

// ListEvents returns events starting in [from, to).
func (c *Client) ListEvents(ctx context.Context, from, to time.Time) ([]Event, error) {
	q := url.Values{}
	q.Set("from", from.UTC().Format(time.RFC3339))
	q.Set("to", to.UTC().Format(time.RFC3339))

	var out struct {
		Events []Event `json:"events"`
	}
	if err := c.do(ctx, http.MethodGet, "/events?"+q.Encode(), nil, &out); err != nil {
		return nil, err
	}
	return out.Events, nil
}

// Get returns a single event.
func (c *Client) Get(ctx context.Context, id string) (Event, error) {
	var evt Event
	err := c.do(ctx, http.MethodGet, "/events/"+url.PathEscape(id), nil, &evt)
	return evt, err
}

// Create adds an event and returns it with its assigned id.
func (c *Client) Create(ctx context.Context, evt Event) (Event, error) {
	var out Event
	err := c.do(ctx, http.MethodPost, "/events", evt, &out)
	return out, err
}

// Update replaces an event.
func (c *Client) Update(ctx context.Context, evt Event) (Event, error) {
	if evt.ID == "" {
		return Event{}, fmt.Errorf("event id required")
	}
	var out Event
	err := c.do(ctx, http.MethodPut, "/events/"+url.PathEscape(evt.ID), evt, &out)
	return out, err
}

// Delete removes an event.
func (c *Client) Delete(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/events/"+url.PathEscape(id), nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, result any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode calendar request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("calendar request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("calendar error %s: %s", resp.Status, string(respBody))
	}
	if result == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("decode calendar response: %w", err)
	}
	return nil
}
