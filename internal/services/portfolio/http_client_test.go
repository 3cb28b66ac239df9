package portfolio

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"CapTrack/pkg/config"
)

const stateDoc = `{
	"total_portfolio_value": "250000",
	"securities": {
		"AAPL": {"delisted": false, "invested": true, "leverage": "2", "reserved_buying_power": "5000"},
		"GME":  {"delisted": true, "invested": false, "leverage": "1", "reserved_buying_power": "0"}
	}
}`

func newStateServer(t *testing.T, hits *int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/portfolio/state" {
			http.NotFound(w, r)
			return
		}
		*hits++
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(stateDoc))
	}))
}

func newHTTPClientFor(url string) *HTTPClient {
	cfg := &config.Config{}
	cfg.Portfolio.Mode = "http"
	cfg.Portfolio.ServiceURL = url
	return NewHTTPClient(cfg)
}

func TestRefreshPopulatesViews(t *testing.T) {
	var hits int
	srv := newStateServer(t, &hits)
	defer srv.Close()

	c := newHTTPClientFor(srv.URL)
	if err := c.Refresh(context.Background(), 1); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if hits != 1 {
		t.Fatalf("hits = %d, want 1", hits)
	}

	if !c.TotalPortfolioValue().Equal(decimal.NewFromInt(250000)) {
		t.Fatalf("tpv = %s, want 250000", c.TotalPortfolioValue())
	}
	if !c.IsInvested("AAPL") {
		t.Fatal("AAPL should be invested")
	}
	if !c.IsDelisted("GME") {
		t.Fatal("GME should be delisted")
	}
	if !c.Leverage("AAPL").Equal(decimal.NewFromInt(2)) {
		t.Fatalf("leverage = %s, want 2", c.Leverage("AAPL"))
	}
	if !c.ReservedBuyingPower("AAPL").Equal(decimal.NewFromInt(5000)) {
		t.Fatalf("reserved bp = %s, want 5000", c.ReservedBuyingPower("AAPL"))
	}
}

func TestUnknownSymbolDefaults(t *testing.T) {
	var hits int
	srv := newStateServer(t, &hits)
	defer srv.Close()

	c := newHTTPClientFor(srv.URL)
	if err := c.Refresh(context.Background(), 1); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	if c.IsInvested("ZZZ") || c.IsDelisted("ZZZ") {
		t.Fatal("unknown symbol should be neither invested nor delisted")
	}
	if !c.Leverage("ZZZ").Equal(decimal.NewFromInt(1)) {
		t.Fatalf("default leverage = %s, want 1", c.Leverage("ZZZ"))
	}
	if !c.ReservedBuyingPower("ZZZ").IsZero() {
		t.Fatalf("default reserved bp = %s, want 0", c.ReservedBuyingPower("ZZZ"))
	}
}

func TestRefreshConcurrentWithViews(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(stateDoc))
	}))
	defer srv.Close()

	c := newHTTPClientFor(srv.URL)
	if err := c.Refresh(context.Background(), 1); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	// The collector refreshes between steps while the recorder reads
	// the views from other goroutines.
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			_ = c.TotalPortfolioValue()
			_ = c.IsInvested("AAPL")
			_ = c.IsDelisted("GME")
			_ = c.Leverage("AAPL")
			_ = c.ReservedBuyingPower("AAPL")
		}
	}()
	for i := 0; i < 10; i++ {
		if err := c.Refresh(context.Background(), 1); err != nil {
			t.Fatalf("Refresh %d: %v", i, err)
		}
	}
	wg.Wait()

	if !c.TotalPortfolioValue().Equal(decimal.NewFromInt(250000)) {
		t.Fatalf("tpv = %s, want 250000", c.TotalPortfolioValue())
	}
}

func TestRefreshKeepsStateOnFailure(t *testing.T) {
	var hits int
	srv := newStateServer(t, &hits)

	c := newHTTPClientFor(srv.URL)
	if err := c.Refresh(context.Background(), 1); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	srv.Close()

	if err := c.Refresh(context.Background(), 2); err == nil {
		t.Fatal("expected error after server closed")
	}
	// Previous document is still served.
	if !c.TotalPortfolioValue().Equal(decimal.NewFromInt(250000)) {
		t.Fatalf("tpv after failure = %s, want 250000", c.TotalPortfolioValue())
	}
}
