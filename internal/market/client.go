// Package market fetches item prices from the Steam community market priceoverview endpoint.
package market

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rewired-gh/casewatch/internal/clock"
	"github.com/rewired-gh/casewatch/internal/logger"
	"github.com/rewired-gh/casewatch/internal/models"
)

var (
	// ErrRateLimited is returned for a single 429 reply.
	ErrRateLimited = errors.New("rate limited")
	// ErrAttemptsExhausted means every attempt for an item was rate limited.
	ErrAttemptsExhausted = errors.New("rate limit attempts exhausted")
)

// StatusError is a non-200, non-429 reply.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status: %d", e.Code)
}

// missingPrice is what an absent lowest_price field is read as.
const missingPrice = "$0.00"

// ClientConfig holds tuning for the price client.
// MaxBackoffShift bounds the backoff exponent; with the largest allowed base delay
// the wait stays near three hours.
const MaxBackoffShift = 10

type ClientConfig struct {
	PriceURL    string
	AppID       int
	Currency    int
	Timeout     time.Duration
	BaseDelay   time.Duration
	MaxAttempts int
}

// Client provides rate-limit aware access to the price endpoint.
type Client struct {
	priceURL    string
	appID       int
	currency    int
	baseDelay   time.Duration
	maxAttempts int
	httpClient  *http.Client
	clock       clock.Clock
}

// Attempt is the per-item retry state of one FetchPrice call.
type Attempt struct {
	Item        string
	Requests    int // HTTP requests issued, retries included
	RateLimited int // 429 replies seen
	Fetched     bool
}

type priceOverview struct {
	Success     bool    `json:"success"`
	LowestPrice *string `json:"lowest_price"`
	Volume      string  `json:"volume"`
	MedianPrice string  `json:"median_price"`
}

// NewClient creates a new price client. clk drives backoff sleeps and observation timestamps.
func NewClient(cfg ClientConfig, clk clock.Clock) *Client {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if clk == nil {
		clk = clock.Real{}
	}
	return &Client{
		priceURL:    cfg.PriceURL,
		appID:       cfg.AppID,
		currency:    cfg.Currency,
		baseDelay:   cfg.BaseDelay,
		maxAttempts: cfg.MaxAttempts,
		httpClient:  newHTTPClient(cfg.Timeout),
		clock:       clk,
	}
}

func newHTTPClient(timeout time.Duration) *http.Client {
	t := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 5 * time.Second,
	}
	return &http.Client{Timeout: timeout, Transport: t}
}

// Backoff returns the wait after the n-th rate limited reply: base * 2^n.
// The exponent is clamped to [0, MaxBackoffShift] so the wait never overflows.
func (c *Client) Backoff(n int) time.Duration {
	n = min(max(n, 0), MaxBackoffShift)
	return c.baseDelay * time.Duration(1<<uint(n))
}

// FetchPrice looks up the lowest listed price for item.
// 429 replies are retried with exponential backoff up to MaxAttempts requests;
// any other failure abandons the item immediately.
func (c *Client) FetchPrice(ctx context.Context, item string) (models.Observation, Attempt, error) {
	att := Attempt{Item: item}
	for {
		att.Requests++
		price, err := c.fetchOnce(ctx, item)
		if err == nil {
			att.Fetched = true
			return models.Observation{Item: item, Price: price, ObservedAt: c.clock.Now()}, att, nil
		}
		if !errors.Is(err, ErrRateLimited) {
			return models.Observation{}, att, fmt.Errorf("failed to fetch %s: %w", item, err)
		}

		att.RateLimited++
		if att.RateLimited >= c.maxAttempts {
			return models.Observation{}, att, fmt.Errorf("%s after %d attempts: %w", item, att.Requests, ErrAttemptsExhausted)
		}

		wait := c.Backoff(att.RateLimited)
		logger.Warn("Rate limit hit for %s, retrying in %v (attempt %d/%d)", item, wait, att.RateLimited, c.maxAttempts)
		if err := c.clock.Sleep(ctx, wait); err != nil {
			return models.Observation{}, att, fmt.Errorf("backoff for %s interrupted: %w", item, err)
		}
	}
}

func (c *Client) requestURL(item string) (string, error) {
	u, err := url.Parse(c.priceURL)
	if err != nil {
		return "", fmt.Errorf("failed to parse URL: %w", err)
	}
	q := u.Query()
	q.Set("appid", strconv.Itoa(c.appID))
	q.Set("currency", strconv.Itoa(c.currency))
	q.Set("market_hash_name", item)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *Client) fetchOnce(ctx context.Context, item string) (decimal.Decimal, error) {
	urlStr, err := c.requestURL(item)
	if err != nil {
		return decimal.Zero, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
	if err != nil {
		return decimal.Zero, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return decimal.Zero, err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			logger.Debug("Failed to close response body: %v", err)
		}
	}()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return decimal.Zero, ErrRateLimited
	case resp.StatusCode != http.StatusOK:
		return decimal.Zero, &StatusError{Code: resp.StatusCode}
	}

	var body priceOverview
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return decimal.Zero, fmt.Errorf("failed to decode price overview: %w", err)
	}

	raw := missingPrice
	if body.LowestPrice != nil && strings.TrimSpace(*body.LowestPrice) != "" {
		raw = *body.LowestPrice
	}
	return ParsePrice(raw)
}

// ParsePrice reads a currency formatted price such as "$1,234.56".
// Every character other than digits and '.' is discarded before parsing.
func ParsePrice(s string) (decimal.Decimal, error) {
	cleaned := strings.Map(func(r rune) rune {
		if (r >= '0' && r <= '9') || r == '.' {
			return r
		}
		return -1
	}, s)
	if cleaned == "" {
		return decimal.Zero, fmt.Errorf("no numeric price in %q", s)
	}
	price, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to parse price %q: %w", s, err)
	}
	return price, nil
}
