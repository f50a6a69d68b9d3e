package aster

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

type RESTClient struct {
	baseURL    string
	httpClient *http.Client
}

func NewRESTClient(baseURL string, timeout time.Duration) *RESTClient {
	return &RESTClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *RESTClient) HTTPClient() *http.Client {
	return c.httpClient
}

// GetBookTicker fetches the current best bid/ask for symbol.
func (c *RESTClient) GetBookTicker(ctx context.Context, symbol string) (*BookTicker, error) {
	q := url.Values{}
	q.Set("symbol", symbol)

	var out BookTicker
	if err := c.get(ctx, "/fapi/v1/ticker/bookTicker", q, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetAggTrades fetches the most recent aggregate trades for symbol, oldest first.
func (c *RESTClient) GetAggTrades(ctx context.Context, symbol string, limit int) ([]AggTrade, error) {
	q := url.Values{}
	q.Set("symbol", symbol)
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}

	var out []AggTrade
	if err := c.get(ctx, "/fapi/v1/aggTrades", q, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *RESTClient) get(ctx context.Context, path string, query url.Values, out any) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	// Construct the GET request with context for timeout/cancel support
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("making request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		apiErr := &APIError{Status: resp.StatusCode}
		if jsonErr := json.Unmarshal(body, apiErr); jsonErr != nil || apiErr.Msg == "" {
			apiErr.Msg = string(body)
		}
		return apiErr
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
