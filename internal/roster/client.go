package roster

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Member is an expected attendee of a group as known to the roster service.
type Member struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

// Client calls the roster service for group membership.
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

// New creates a roster client with a short timeout; the call sits on the stream open path.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		HTTP:    &http.Client{Timeout: 10 * time.Second},
	}
}

// ListMembers returns the members of a group.
func (c *Client) ListMembers(ctx context.Context, groupRef string) ([]Member, error) {
	if groupRef == "" {
		return nil, fmt.Errorf("group ref required")
	}
	endpoint := c.BaseURL + "/groups/" + url.PathEscape(groupRef) + "/members"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("roster request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("roster service error %s: %s", resp.Status, string(body))
	}

	var out struct {
		Members []Member `json:"members"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode roster response: %w", err)
	}
	return out.Members, nil
}
