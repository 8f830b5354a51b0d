// Package upstream performs the outbound call to the third-party lookup
// provider and normalizes its responses. The provider's identity is
// deliberately confined to this package: its host, credential and raw errors
// appear in server-side logs only and never in anything returned to callers.
package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"numgate/internal/config"
)

// ErrUnavailable is the only error Lookup returns. Callers translate it into
// a generic "temporarily unavailable" response.
var ErrUnavailable = errors.New("lookup provider unavailable")

// RetryAfterSeconds is the fixed retry hint surfaced with provider failures.
const RetryAfterSeconds = 60

// Placeholder substitutes for fields the provider omits.
const Placeholder = "N/A"

// maxResponseBytes caps how much of a provider response is read.
const maxResponseBytes = 1 << 20

// Result is one normalized lookup entry. Every field is always populated,
// with Placeholder standing in for anything the provider left out.
type Result struct {
	Name    string `json:"name"`
	FName   string `json:"fname"`
	Mobile  string `json:"mobile"`
	Alt     string `json:"alt"`
	Address string `json:"address"`
	Circle  string `json:"circle"`
	ID      string `json:"id"`
}

// HTTPClient defines the interface for making HTTP requests.
// This allows for mocking in tests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client calls the provider with a bounded timeout.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient HTTPClient
	logger     *slog.Logger
}

// NewClient creates a provider client from configuration.
func NewClient(cfg config.UpstreamConfig, logger *slog.Logger) *Client {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: cfg.URL,
		apiKey:  cfg.APIKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger.With("component", "upstream"),
	}
}

// providerResponse is the shape the provider is expected to return: an object
// carrying a list of record entries. Anything else is treated as a failure,
// not a partial success.
type providerResponse struct {
	Data []map[string]any `json:"data"`
}

// Lookup queries the provider for a subject. On any failure (timeout, non-2xx
// status, malformed body) it logs the detail server-side and returns
// ErrUnavailable; no provider detail crosses this boundary.
func (c *Client) Lookup(ctx context.Context, subject string) ([]Result, error) {
	reqURL := fmt.Sprintf("%s?key=%s&number=%s", c.baseURL, url.QueryEscape(c.apiKey), url.QueryEscape(subject))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		c.logger.Error("Failed to build provider request", "error", err)
		return nil, ErrUnavailable
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("Provider request failed", "error", err)
		return nil, ErrUnavailable
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		c.logger.Error("Failed to read provider response", "error", err)
		return nil, ErrUnavailable
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Error("Provider returned non-success status", "status", resp.StatusCode)
		return nil, ErrUnavailable
	}

	var payload providerResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		c.logger.Error("Provider returned malformed body", "error", err)
		return nil, ErrUnavailable
	}
	if payload.Data == nil {
		c.logger.Error("Provider response missing record list")
		return nil, ErrUnavailable
	}

	results := make([]Result, len(payload.Data))
	for i, entry := range payload.Data {
		results[i] = normalize(entry, subject)
	}
	return results, nil
}

// normalize projects one provider entry onto the fixed field set. Missing
// fields become Placeholder; a missing mobile echoes the queried subject.
func normalize(entry map[string]any, subject string) Result {
	r := Result{
		Name:    fieldOr(entry, "name", Placeholder),
		FName:   fieldOr(entry, "fname", Placeholder),
		Mobile:  fieldOr(entry, "mobile", subject),
		Alt:     fieldOr(entry, "alt", Placeholder),
		Address: fieldOr(entry, "address", Placeholder),
		Circle:  fieldOr(entry, "circle", Placeholder),
		ID:      fieldOr(entry, "id", Placeholder),
	}
	return r
}

func fieldOr(entry map[string]any, field, fallback string) string {
	v, ok := entry[field]
	if !ok || v == nil {
		return fallback
	}
	switch s := v.(type) {
	case string:
		if s == "" {
			return fallback
		}
		return s
	case float64:
		// JSON numbers arrive as float64; ids are integral in practice.
		return fmt.Sprintf("%.0f", s)
	default:
		return fmt.Sprintf("%v", s)
	}
}
