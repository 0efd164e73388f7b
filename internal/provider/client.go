package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// maxErrorBody caps how much of a failed response is kept as the message.
const maxErrorBody = 64 << 10

// Client pages through provider collection endpoints using a user's bearer
// token.
type Client struct {
	http   *http.Client
	logger zerolog.Logger
}

// NewClient creates a provider client. A non-positive timeout falls back to 10s.
func NewClient(timeout time.Duration, logger zerolog.Logger) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		http:   &http.Client{Timeout: timeout},
		logger: logger.With().Str("component", "provider_client").Logger(),
	}
}

// NewClientWithHTTP is used when the caller owns the transport (tests, proxies).
func NewClientWithHTTP(hc *http.Client, logger zerolog.Logger) *Client {
	return &Client{http: hc, logger: logger.With().Str("component", "provider_client").Logger()}
}

// FetchPage issues one authenticated GET. On success the returned page holds
// the decoded results and next link. Errors are *TransportError,
// *ProviderError or *DecodeError.
func (c *Client) FetchPage(ctx context.Context, url, token string) (*Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &TransportError{URL: url, Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &TransportError{URL: url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		msg := string(body)
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		if msg == "" {
			msg = fmt.Sprintf("status %d", resp.StatusCode)
		}
		return nil, &ProviderError{URL: url, StatusCode: resp.StatusCode, Message: msg}
	}

	var page Page
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, &DecodeError{URL: url, Err: err}
	}
	return &page, nil
}

// FetchAll follows next links from startURL until the provider returns a null
// next, points back at a page already requested, or fails. Records gathered
// before a failure are returned together with the error.
func (c *Client) FetchAll(ctx context.Context, startURL, token string) ([]Record, error) {
	var records []Record
	visited := make(map[string]bool)

	next := startURL
	for next != "" {
		visited[next] = true

		page, err := c.FetchPage(ctx, next, token)
		if err != nil {
			c.logFetchError(next, err)
			return records, err
		}
		records = append(records, page.Results...)

		if page.Next == nil || *page.Next == "" {
			break
		}
		if visited[*page.Next] {
			c.logger.Warn().Str("url", next).Str("next", *page.Next).Msg("provider pagination loops back, stopping")
			break
		}
		next = *page.Next
	}

	return records, nil
}

func (c *Client) logFetchError(url string, err error) {
	switch e := err.(type) {
	case *TransportError:
		c.logger.Warn().Err(e.Err).Str("url", url).Msg("issues with connection to data provider")
	case *ProviderError:
		c.logger.Info().Int("status", e.StatusCode).Str("url", url).Str("message", e.Message).Msg("provider returned an error")
	default:
		c.logger.Warn().Err(err).Str("url", url).Msg("unreadable provider response")
	}
}
