package market

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
)

const (
	defaultHTTPTimeout = 5 * time.Second
	maxQuoteBody       = 1 << 20
)

// HTTPFeed reads quotes from a chart-style JSON endpoint:
//
//	GET {base}/v8/finance/chart/{symbol}?interval=1d&range=1d
//
// The price is taken from chart.result.0.meta.regularMarketPrice.
type HTTPFeed struct {
	client  *http.Client
	baseURL string
}

func NewHTTPFeed(client *http.Client, baseURL string) (*HTTPFeed, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("market base url: %w", err)
	}
	if client == nil {
		client = &http.Client{Timeout: defaultHTTPTimeout}
	}
	return &HTTPFeed{client: client, baseURL: baseURL}, nil
}

func (f *HTTPFeed) FetchCurrentPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	symbol = NormalizeSymbol(symbol)
	if symbol == "" {
		return decimal.Zero, unavailable(symbol, "empty symbol")
	}
	endpoint := fmt.Sprintf("%s/v8/finance/chart/%s?interval=1d&range=1d", f.baseURL, url.PathEscape(symbol))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("build quote request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return decimal.Zero, &FetchError{Symbol: symbol, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxQuoteBody))
	if err != nil {
		return decimal.Zero, &FetchError{Symbol: symbol, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, &FetchError{Symbol: symbol, Code: resp.StatusCode}
	}
	return parseQuote(symbol, body)
}

func parseQuote(symbol string, body []byte) (decimal.Decimal, error) {
	if !gjson.ValidBytes(body) {
		return decimal.Zero, unavailable(symbol, "malformed quote response")
	}
	doc := gjson.ParseBytes(body)
	if msg := doc.Get("chart.error.description"); msg.Exists() && msg.String() != "" {
		return decimal.Zero, unavailable(symbol, msg.String())
	}
	raw := doc.Get("chart.result.0.meta.regularMarketPrice")
	if !raw.Exists() {
		return decimal.Zero, unavailable(symbol, "no price in response")
	}
	// Raw keeps the number as sent, so no float rounding creeps in.
	price, err := decimal.NewFromString(raw.Raw)
	if err != nil {
		return decimal.Zero, unavailable(symbol, "price is not a number")
	}
	if !price.IsPositive() {
		return decimal.Zero, unavailable(symbol, "non-positive price")
	}
	return price, nil
}

// FetchError is a failed round trip to the quote endpoint: a transport
// error (Code 0) or a non-200 status. It matches ErrPriceUnavailable.
type FetchError struct {
	Symbol string
	Code   int
	Err    error
}

func (e *FetchError) Error() string {
	if e.Code == 0 {
		return fmt.Sprintf("%v: %s: %v", ErrPriceUnavailable, e.Symbol, e.Err)
	}
	return fmt.Sprintf("%v: %s: quote endpoint returned %d", ErrPriceUnavailable, e.Symbol, e.Code)
}

func (e *FetchError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrPriceUnavailable}
	}
	return []error{ErrPriceUnavailable, e.Err}
}

// Temporary reports whether asking again may succeed: transport failures,
// throttling and server errors.
func (e *FetchError) Temporary() bool {
	return e.Code == 0 || e.Code == http.StatusTooManyRequests || e.Code >= 500
}
