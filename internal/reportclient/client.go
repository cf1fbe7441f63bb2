package reportclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strings"
	"time"

	"hordegraphy/internal/stats"
)

// Client calls the report generation service.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	Skip    bool
}

// New creates a client with configurable timeout.
func New(baseURL string, skip bool) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Skip:    skip,
		HTTP: &http.Client{
			Timeout: 60 * time.Second, // text generation is slow
		},
	}
}

type request struct {
	Month   string              `json:"month,omitempty"`
	Members []stats.MemberTotal `json:"members"`
}

// Generate asks the service for a free-text report on the given totals.
// With Skip set it returns a local ranking instead.
func (c *Client) Generate(ctx context.Context, month string, totals []stats.MemberTotal) (string, error) {
	if len(totals) == 0 {
		return "", fmt.Errorf("no members to report on")
	}
	if c.Skip {
		return localReport(month, totals), nil
	}

	body, _ := json.Marshal(request{Month: month, Members: totals})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/report", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return "", fmt.Errorf("report service request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("report service error %s: %s", resp.Status, string(bodyBytes))
	}

	var out struct {
		Report string `json:"report"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	if strings.TrimSpace(out.Report) == "" {
		return "", fmt.Errorf("report service returned an empty report")
	}
	return out.Report, nil
}

func localReport(month string, totals []stats.MemberTotal) string {
	ranked := slices.Clone(totals)
	slices.SortStableFunc(ranked, func(a, b stats.MemberTotal) int { return b.Count - a.Count })

	var b strings.Builder
	title := "전체"
	if month != "" {
		title = month
	}
	fmt.Fprintf(&b, "# %s 출석 리포트\n\n", title)
	for i, t := range ranked {
		fmt.Fprintf(&b, "%d. %s: %d회\n", i+1, t.Name, t.Count)
	}
	return b.String()
}

// Health checks if the report service is available.
func (c *Client) Health(ctx context.Context) error {
	if c.Skip {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/health", nil)
	if err != nil {
		return err
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("report service unavailable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("report service unhealthy: %s", resp.Status)
	}
	return nil
}
