// Package messaging sends text messages through the outbound messaging gateway.
package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"
)

// Client calls the messaging gateway. It sends one message per call; pacing is the caller's job.
type Client struct {
	BaseURL string
	Token   string
	HTTP    *http.Client
	// DryRun logs messages instead of sending them.
	DryRun bool
}

// New creates a messaging client.
func New(baseURL, token string, dryRun bool) *Client {
	return &Client{
		BaseURL: baseURL,
		Token:   token,
		DryRun:  dryRun,
		HTTP:    &http.Client{Timeout: 15 * time.Second},
	}
}

// Send delivers text to phone.
func (c *Client) Send(ctx context.Context, phone, text string) error {
	if phone == "" {
		return fmt.Errorf("phone required")
	}
	if c.DryRun {
		log.Printf("dry-run message to %s: %q", phone, text)
		return nil
	}

	body, _ := json.Marshal(map[string]string{"phone": phone, "text": text})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("messaging request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("messaging error %s: %s", resp.Status, string(respBody))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
