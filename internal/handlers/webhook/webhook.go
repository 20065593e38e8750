package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"docqueue/internal/domain"
)

// Webhook POSTs every delivery as JSON to URL. Any non-2xx answer fails the
// message so it is leased again later.
type Webhook struct {
	URL     string
	Headers map[string]string
	Client  *http.Client
}

func New(url string, timeout time.Duration) Webhook {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return Webhook{URL: url, Client: &http.Client{Timeout: timeout}}
}

func (h Webhook) Handle(ctx context.Context, d domain.Delivery) error {
	if h.URL == "" {
		return fmt.Errorf("URL is required")
	}
	body, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("encode delivery: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Docqueue-Message-Id", d.ID)
	for key, value := range h.Headers {
		req.Header.Set(key, value)
	}

	client := h.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("HTTP %d error: %s", resp.StatusCode, string(respBody))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
