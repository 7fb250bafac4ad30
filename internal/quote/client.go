package quote

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"finance_system/internal/domain"

	"github.com/andybalholm/brotli"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// Config configures the Alpha Vantage client
type Config struct {
	APIURL  string        // Base URL, e.g. https://www.alphavantage.co
	APIKey  string        // Sent as the apikey query parameter
	Timeout time.Duration // Per-request timeout
}

// Client is an Alpha Vantage backed Provider
type Client struct {
	client *http.Client // HTTP client with the API key transport
	config Config       // Client settings
}

// NewClient returns a client for cfg, defaulting the timeout to 10s
func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	cfg.APIURL = strings.TrimRight(cfg.APIURL, "/")
	return &Client{
		client: &http.Client{
			Transport: &apiKeyTransport{APIKey: cfg.APIKey, Base: http.DefaultTransport},
			Timeout:   cfg.Timeout,
		},
		config: cfg,
	}
}

// apiKeyTransport adds the API key to every request
type apiKeyTransport struct {
	APIKey string
	Base   http.RoundTripper
}

// RoundTrip sets the API key and the accepted encodings on a copy of req
func (t *apiKeyTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	q := req.URL.Query()
	q.Set("apikey", t.APIKey)
	req.URL.RawQuery = q.Encode()
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Accept-Encoding", "br")
	return t.Base.RoundTrip(req)
}

// Lookup fetches the price and the company name of symbol concurrently. The
// name is best effort: without a search match the symbol stands in for it.
func (c *Client) Lookup(ctx context.Context, symbol string) (domain.Quote, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return domain.Quote{}, ErrNotFound
	}

	g, ctx := errgroup.WithContext(ctx)
	var price decimal.Decimal
	name := symbol

	g.Go(func() error {
		var err error
		price, err = c.fetchPrice(ctx, symbol)
		return err
	})
	g.Go(func() error {
		if found, err := c.fetchName(ctx, symbol); err == nil && found != "" {
			name = found
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return domain.Quote{}, err
	}
	return domain.Quote{Symbol: symbol, Name: name, Price: price}, nil
}

// fetchPrice reads the latest price from GLOBAL_QUOTE
func (c *Client) fetchPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	var result globalQuoteResponse
	if err := c.get(ctx, map[string]string{"function": "GLOBAL_QUOTE", "symbol": symbol}, &result); err != nil {
		return decimal.Zero, err
	}
	if result.Note != "" || result.Information != "" {
		return decimal.Zero, fmt.Errorf("%w: %s%s", ErrUnavailable, result.Note, result.Information)
	}
	if result.Error != "" || result.GlobalQuote.Price == "" {
		return decimal.Zero, ErrNotFound
	}
	price, err := decimal.NewFromString(result.GlobalQuote.Price)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: bad price %q", ErrUnavailable, result.GlobalQuote.Price)
	}
	if !price.IsPositive() {
		return decimal.Zero, ErrNotFound
	}
	return price, nil
}

// fetchName finds the company name of an exact SYMBOL_SEARCH match
func (c *Client) fetchName(ctx context.Context, symbol string) (string, error) {
	var result symbolSearchResponse
	if err := c.get(ctx, map[string]string{"function": "SYMBOL_SEARCH", "keywords": symbol}, &result); err != nil {
		return "", err
	}
	for _, m := range result.BestMatches {
		if strings.EqualFold(m.Symbol, symbol) {
			return m.Name, nil
		}
	}
	return "", nil
}

// get runs one API function and decodes the JSON answer into dest
func (c *Client) get(ctx context.Context, params map[string]string, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.APIURL+"/query", nil)
	if err != nil {
		return err
	}
	q := req.URL.Query()
	for k, v := range params {
		q.Add(k, v)
	}
	req.URL.RawQuery = q.Encode()

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if resp.Header.Get("Content-Encoding") == "br" {
		resp.Body = &readCloserWrapper{Reader: brotli.NewReader(resp.Body), Closer: resp.Body}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: unexpected status code: %d, body: %s", ErrUnavailable, resp.StatusCode, string(body))
	}
	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// readCloserWrapper closes the raw body under a decoding reader
type readCloserWrapper struct {
	io.Reader
	io.Closer
}
