package portfolio

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	domsvc "CapTrack/internal/domain/service"
	"CapTrack/pkg/config"
	xhttp "CapTrack/pkg/http"
)

// securityState mirrors the host system's per-security document.
type securityState struct {
	Delisted            bool            `json:"delisted"`
	Invested            bool            `json:"invested"`
	Leverage            decimal.Decimal `json:"leverage"`
	ReservedBuyingPower decimal.Decimal `json:"reserved_buying_power"`
}

type stateResponse struct {
	TotalPortfolioValue decimal.Decimal          `json:"total_portfolio_value"`
	Securities          map[string]securityState `json:"securities"`
}

// HTTPClient reads portfolio valuation and per-security state from the
// host trading system over HTTP. The last fetched document is cached
// so the view methods stay synchronous for the capacity engine;
// Refresh is called by the collector loop between steps while the view
// methods run on whichever goroutine drives the recorder, so the
// cached document is guarded by its own lock.
type HTTPClient struct {
	baseURL string
	client  *xhttp.Client

	mu    sync.RWMutex
	state stateResponse
}

// NewHTTPClient builds a client with base URL and timeout from config.
func NewHTTPClient(cfg *config.Config) *HTTPClient {
	timeout := cfg.Portfolio.Timeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &HTTPClient{
		baseURL: cfg.Portfolio.ServiceURL,
		client:  xhttp.NewClient(xhttp.WithTimeout(timeout)),
	}
}

// Refresh fetches the current portfolio document, retrying transient
// failures up to attempts times. The previous document is kept on
// failure.
func (c *HTTPClient) Refresh(ctx context.Context, attempts int) error {
	if c.client == nil || c.baseURL == "" {
		return fmt.Errorf("portfolio http client not initialized")
	}
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for i := 1; i <= attempts; i++ {
		var resp stateResponse
		err = c.client.SendAndParse(ctx, &xhttp.RequestOptions{
			Method: xhttp.MethodGet,
			URL:    c.baseURL + "/portfolio/state",
		}, &resp)
		if err == nil {
			c.mu.Lock()
			c.state = resp
			c.mu.Unlock()
			return nil
		}
		select {
		case <-time.After(time.Duration(i) * 50 * time.Millisecond):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("refresh portfolio state: %w", err)
}

func (c *HTTPClient) TotalPortfolioValue() decimal.Decimal {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.TotalPortfolioValue
}

func (c *HTTPClient) IsDelisted(symbol string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.Securities[symbol].Delisted
}

func (c *HTTPClient) IsInvested(symbol string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.Securities[symbol].Invested
}

func (c *HTTPClient) Leverage(symbol string) decimal.Decimal {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if s, ok := c.state.Securities[symbol]; ok && s.Leverage.IsPositive() {
		return s.Leverage
	}
	return decimal.NewFromInt(1)
}

func (c *HTTPClient) ReservedBuyingPower(symbol string) decimal.Decimal {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.Securities[symbol].ReservedBuyingPower.Abs()
}

var (
	_ domsvc.PortfolioView = (*HTTPClient)(nil)
	_ domsvc.SecurityView  = (*HTTPClient)(nil)
)
