package pricefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"

	"github.com/daniele-boerio/calcolatore-spese-BE/internal/cache"
	"github.com/daniele-boerio/calcolatore-spese-BE/internal/services"
)

const (
	defaultBaseURL = "https://query1.finance.yahoo.com"
	quoteCacheSize = 256
	quoteCacheTTL  = 15 * time.Minute
	requestTimeout = 10 * time.Second
)

// Client fetches last-known market prices from a Yahoo-style chart
// endpoint. Quotes are cached briefly so investments sharing a symbol
// do not repeat the lookup within one refresh batch.
type Client struct {
	baseURL string
	http    *http.Client
	quotes  *cache.LRU[decimal.Decimal]
}

// NewClient creates a price feed client. An empty baseURL selects the
// public Yahoo endpoint.
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: requestTimeout},
		quotes:  cache.NewLRU[decimal.Decimal](quoteCacheSize, quoteCacheTTL),
	}
}

// Quote implements services.QuoteFetcher. The ticker is tried first
// since the feed resolves it more reliably; the ISIN is the fallback.
func (c *Client) Quote(ctx context.Context, ticker, isin string) (decimal.Decimal, error) {
	symbol := ticker
	if symbol == "" {
		symbol = isin
	}
	if symbol == "" {
		return decimal.Zero, fmt.Errorf("no ticker or isin: %w", services.ErrQuoteUnavailable)
	}

	price, err := c.fetch(ctx, symbol)
	if err == nil {
		return price, nil
	}

	// Last attempt with the ISIN when the ticker failed.
	if ticker != "" && isin != "" {
		if price, isinErr := c.fetch(ctx, isin); isinErr == nil {
			return price, nil
		}
	}
	return decimal.Zero, err
}

type chartResponse struct {
	Chart struct {
		Result []struct {
			Meta struct {
				RegularMarketPrice float64 `json:"regularMarketPrice"`
			} `json:"meta"`
		} `json:"result"`
	} `json:"chart"`
}

func (c *Client) fetch(ctx context.Context, symbol string) (decimal.Decimal, error) {
	if price, ok := c.quotes.Get(symbol); ok {
		return price, nil
	}

	endpoint := fmt.Sprintf("%s/v8/finance/chart/%s", c.baseURL, url.PathEscape(symbol))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("build request for %s: %w", symbol, err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("fetch quote for %s: %w", symbol, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return decimal.Zero, fmt.Errorf("symbol %s: %w", symbol, services.ErrQuoteUnavailable)
	}
	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, fmt.Errorf("fetch quote for %s: unexpected status %d", symbol, resp.StatusCode)
	}

	var parsed chartResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return decimal.Zero, fmt.Errorf("decode quote for %s: %w", symbol, err)
	}
	if len(parsed.Chart.Result) == 0 || parsed.Chart.Result[0].Meta.RegularMarketPrice <= 0 {
		return decimal.Zero, fmt.Errorf("symbol %s: %w", symbol, services.ErrQuoteUnavailable)
	}

	price := decimal.NewFromFloat(parsed.Chart.Result[0].Meta.RegularMarketPrice)
	c.quotes.Set(symbol, price)
	return price, nil
}
